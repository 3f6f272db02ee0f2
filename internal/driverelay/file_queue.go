package driverelay

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// fileUploadQueue persists pending tasks to a JSON file so queued uploads
// survive a restart. Every mutation rewrites the file via tmp+rename.
type fileUploadQueue struct {
	path         string
	capacity     int
	pollInterval time.Duration
	mu           sync.Mutex
	items        []UploadTask
}

type fileUploadQueueState struct {
	Items []UploadTask `json:"items"`
}

func NewFileUploadQueue(path string, capacity int) (UploadQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = 1024
	}
	q := &fileUploadQueue{
		path:         path,
		capacity:     capacity,
		pollInterval: 10 * time.Millisecond,
		items:        []UploadTask{},
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *fileUploadQueue) TryEnqueue(task UploadTask) bool {
	if strings.TrimSpace(task.TaskID) == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, task)
	if err := q.saveLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return false
	}
	return true
}

func (q *fileUploadQueue) Enqueue(ctx context.Context, task UploadTask) bool {
	for {
		if q.TryEnqueue(task) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *fileUploadQueue) Dequeue(ctx context.Context) (UploadTask, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			if err := q.saveLocked(); err != nil {
				q.items = append([]UploadTask{item}, q.items...)
				q.mu.Unlock()
				select {
				case <-ctx.Done():
					return UploadTask{}, false
				case <-time.After(q.pollInterval):
					continue
				}
			}
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return UploadTask{}, false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *fileUploadQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fileUploadQueue) Capacity() int {
	return q.capacity
}

func (q *fileUploadQueue) SnapshotTasks() []UploadTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]UploadTask(nil), q.items...)
}

func (q *fileUploadQueue) Close() error {
	return nil
}

func (q *fileUploadQueue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileUploadQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if len(snapshot.Items) > q.capacity {
		q.items = append([]UploadTask(nil), snapshot.Items[len(snapshot.Items)-q.capacity:]...)
		return q.saveLocked()
	}
	q.items = append([]UploadTask(nil), snapshot.Items...)
	return nil
}

func (q *fileUploadQueue) saveLocked() error {
	snapshot := fileUploadQueueState{
		Items: append([]UploadTask(nil), q.items...),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
