package driverelay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildUploadQueueFromDSNEmptyReturnsNil(t *testing.T) {
	queue, err := BuildUploadQueueFromDSN("   ", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queue != nil {
		t.Fatalf("expected nil queue for empty dsn")
	}
}

func TestBuildUploadQueueFromDSNMemory(t *testing.T) {
	queue, err := BuildUploadQueueFromDSN("memory://", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queue == nil {
		t.Fatalf("expected memory queue")
	}
	if !queue.TryEnqueue(UploadTask{TaskID: "task_1"}) {
		t.Fatalf("expected enqueue to succeed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	task, ok := queue.Dequeue(ctx)
	if !ok || task.TaskID != "task_1" {
		t.Fatalf("unexpected dequeue result: %+v (ok=%v)", task, ok)
	}
}

func TestBuildUploadQueueFromDSNFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	queue, err := BuildUploadQueueFromDSN("file://"+path, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if queue == nil {
		t.Fatalf("expected file queue")
	}
	if !queue.TryEnqueue(UploadTask{TaskID: "task_1"}) {
		t.Fatalf("expected enqueue to succeed")
	}
}

func TestBuildUploadQueueFromDSNNotImplementedSchemes(t *testing.T) {
	for _, dsn := range []string{"redis://localhost:6379", "nats://localhost:4222", "sqs://queue", "kafka://broker"} {
		if _, err := BuildUploadQueueFromDSN(dsn, 4); !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("expected ErrNotImplemented for %s, got %v", dsn, err)
		}
	}
}

func TestBuildUploadQueueFromDSNUnsupportedScheme(t *testing.T) {
	if _, err := BuildUploadQueueFromDSN("bogus://thing", 4); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
