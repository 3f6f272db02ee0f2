package driverelay

import (
	"context"
	"strings"
	"sync"
)

// UploadQueue is the ordered single-consumer sequence of pending tasks.
// Enqueue must be safe to call while the worker is blocked in Dequeue.
type UploadQueue interface {
	TryEnqueue(task UploadTask) bool
	Enqueue(ctx context.Context, task UploadTask) bool
	Dequeue(ctx context.Context) (UploadTask, bool)
	Depth() int
	Capacity() int
	Close() error
}

type uploadQueueSnapshotter interface {
	SnapshotTasks() []UploadTask
}

type inMemoryUploadQueue struct {
	ch    chan UploadTask
	items map[string]UploadTask
	mu    sync.Mutex
}

func NewInMemoryUploadQueue(capacity int) UploadQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &inMemoryUploadQueue{
		ch:    make(chan UploadTask, capacity),
		items: make(map[string]UploadTask),
	}
}

func (q *inMemoryUploadQueue) TryEnqueue(task UploadTask) bool {
	if q == nil || strings.TrimSpace(task.TaskID) == "" {
		return false
	}
	select {
	case q.ch <- task:
		q.mu.Lock()
		q.items[task.TaskID] = task
		q.mu.Unlock()
		return true
	default:
		return false
	}
}

func (q *inMemoryUploadQueue) Enqueue(ctx context.Context, task UploadTask) bool {
	if q == nil || strings.TrimSpace(task.TaskID) == "" {
		return false
	}
	select {
	case q.ch <- task:
		q.mu.Lock()
		q.items[task.TaskID] = task
		q.mu.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *inMemoryUploadQueue) Dequeue(ctx context.Context) (UploadTask, bool) {
	if q == nil {
		return UploadTask{}, false
	}
	select {
	case task := <-q.ch:
		q.mu.Lock()
		delete(q.items, task.TaskID)
		q.mu.Unlock()
		return task, true
	case <-ctx.Done():
		return UploadTask{}, false
	}
}

func (q *inMemoryUploadQueue) SnapshotTasks() []UploadTask {
	if q == nil {
		return []UploadTask{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]UploadTask, 0, len(q.items))
	for _, item := range q.items {
		result = append(result, item)
	}
	return result
}

func (q *inMemoryUploadQueue) Depth() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *inMemoryUploadQueue) Capacity() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}

func (q *inMemoryUploadQueue) Close() error {
	return nil
}
