package driverelay

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationUploadQueueFIFOAndCapacity(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	queue, err := NewPostgresUploadQueue(dsn, 2)
	if err != nil {
		t.Fatalf("new postgres upload queue: %v", err)
	}
	pg, ok := queue.(*PostgresUploadQueue)
	if !ok {
		t.Fatalf("expected *PostgresUploadQueue, got %T", queue)
	}
	pg.core.tableName = postgresIntegrationTableName("driverelay_uploadq_it")
	pg.core.queueKey = postgresIntegrationTableName("qk")
	t.Cleanup(func() {
		_ = queue.Close()
		postgresIntegrationDropTable(t, dsn, pg.core.tableName)
	})

	taskA := UploadTask{TaskID: "task_a", RequesterID: "req_1", SourceRef: "src_a", SizeBytes: 1}
	taskB := UploadTask{TaskID: "task_b", RequesterID: "req_1", SourceRef: "src_b", SizeBytes: 2}
	taskC := UploadTask{TaskID: "task_c", RequesterID: "req_1", SourceRef: "src_c", SizeBytes: 3}

	if !queue.TryEnqueue(taskA) {
		t.Fatalf("expected enqueue task_a to succeed")
	}
	if !queue.TryEnqueue(taskB) {
		t.Fatalf("expected enqueue task_b to succeed")
	}
	if queue.TryEnqueue(taskC) {
		t.Fatalf("expected enqueue task_c to fail at capacity")
	}
	if got := queue.Depth(); got != 2 {
		t.Fatalf("expected depth 2, got %d", got)
	}

	snapshot := pg.SnapshotTasks()
	if len(snapshot) != 2 || snapshot[0].TaskID != "task_a" || snapshot[1].TaskID != "task_b" {
		t.Fatalf("unexpected snapshot order/content: %+v", snapshot)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	first, ok := queue.Dequeue(ctx)
	if !ok || first.TaskID != "task_a" {
		t.Fatalf("expected first dequeue task_a, got ok=%v task=%+v", ok, first)
	}
	second, ok := queue.Dequeue(ctx)
	if !ok || second.TaskID != "task_b" {
		t.Fatalf("expected second dequeue task_b, got ok=%v task=%+v", ok, second)
	}

	emptyCtx, emptyCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer emptyCancel()
	if _, ok := queue.Dequeue(emptyCtx); ok {
		t.Fatalf("expected empty dequeue to return false")
	}
}

func TestPostgresIntegrationUploadQueueRestartPersistence(t *testing.T) {
	dsn := postgresIntegrationDSN(t)
	tableName := postgresIntegrationTableName("driverelay_uploadq_restart_it")
	queueKey := postgresIntegrationTableName("qk")

	queue, err := NewPostgresUploadQueue(dsn, 4)
	if err != nil {
		t.Fatalf("new postgres upload queue: %v", err)
	}
	firstQueue := queue.(*PostgresUploadQueue)
	firstQueue.core.tableName = tableName
	firstQueue.core.queueKey = queueKey
	t.Cleanup(func() {
		postgresIntegrationDropTable(t, dsn, tableName)
	})

	if !queue.TryEnqueue(UploadTask{TaskID: "task_restart", RequesterID: "req_1", SourceRef: "src", SizeBytes: 1}) {
		t.Fatalf("expected enqueue to succeed")
	}
	if err := queue.Close(); err != nil {
		t.Fatalf("close first queue failed: %v", err)
	}

	reopenedRaw, err := NewPostgresUploadQueue(dsn, 4)
	if err != nil {
		t.Fatalf("reopen postgres upload queue: %v", err)
	}
	reopened := reopenedRaw.(*PostgresUploadQueue)
	reopened.core.tableName = tableName
	reopened.core.queueKey = queueKey
	t.Cleanup(func() {
		_ = reopenedRaw.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task, ok := reopenedRaw.Dequeue(ctx)
	if !ok || task.TaskID != "task_restart" {
		t.Fatalf("expected persisted task after reopen, got ok=%v task=%+v", ok, task)
	}
}

func TestPostgresIntegrationUploadQueueCapacityUnderConcurrentEnqueue(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	queue, err := NewPostgresUploadQueue(dsn, 1)
	if err != nil {
		t.Fatalf("new postgres upload queue: %v", err)
	}
	pg := queue.(*PostgresUploadQueue)
	pg.core.tableName = postgresIntegrationTableName("driverelay_uploadq_race_it")
	pg.core.queueKey = postgresIntegrationTableName("qk")
	t.Cleanup(func() {
		_ = queue.Close()
		postgresIntegrationDropTable(t, dsn, pg.core.tableName)
	})

	const producers = 16
	var successCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if queue.TryEnqueue(UploadTask{TaskID: fmt.Sprintf("task_%d", n), RequesterID: "req_1", SourceRef: "src", SizeBytes: 1}) {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := successCount.Load(); got != 1 {
		t.Fatalf("expected exactly 1 successful enqueue at capacity=1, got %d", got)
	}
	if depth := queue.Depth(); depth != 1 {
		t.Fatalf("expected queue depth 1 after concurrent enqueue, got %d", depth)
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("DRIVERELAY_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set DRIVERELAY_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	if strings.TrimSpace(dsn) == "" || strings.TrimSpace(tableName) == "" {
		return
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	query := fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(tableName))
	if _, err := db.ExecContext(ctx, query); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
