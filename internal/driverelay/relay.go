package driverelay

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultMaxFileSize      = int64(2) << 30
	defaultChunkThreshold   = int64(20) << 20
	defaultProgressInterval = 20 * time.Second
	defaultPollInterval     = time.Second
	defaultStagingDir       = "uploads"
	defaultMaxTrackedTasks  = 1000
	defaultMaxTrackedEvents = 1000
	renderTimeout           = 10 * time.Second
)

// CredentialResolver returns a usable, non-expired credential for a requester
// or an error. It must never block on user interaction; refresh-on-expiry is
// attempted at most once behind this boundary.
type CredentialResolver interface {
	Resolve(ctx context.Context, requesterID string) (*oauth2.Token, error)
}

type RelayOptions struct {
	Queue            UploadQueue
	QueueSize        int
	StagingDir       string
	MaxFileSizeBytes int64
	ChunkThreshold   int64
	ProgressInterval time.Duration
	PollInterval     time.Duration
	RateLimitMax     int
	RateLimitWindow  time.Duration
	MaxTrackedTasks  int
	Fetcher          SourceFetcher
	Notifier         Notifier
	Credentials      CredentialResolver
	Provider         ProviderClient
	DisableWorker    bool
}

type RelayCounters struct {
	AdmittedTotal    uint64 `json:"admittedTotal"`
	RejectedTotal    uint64 `json:"rejectedTotal"`
	RateLimitedTotal uint64 `json:"rateLimitedTotal"`
	CompletedTotal   uint64 `json:"completedTotal"`
	FailedTotal      uint64 `json:"failedTotal"`
}

type QueueStatus struct {
	QueueDepth    int           `json:"queueDepth"`
	QueueCapacity int           `json:"queueCapacity"`
	ActiveTaskID  string        `json:"activeTaskId,omitempty"`
	Counters      RelayCounters `json:"counters"`
}

// Relay owns the upload queue, the task table, and the single worker that
// drives each task from admission to a terminal state.
type Relay struct {
	queue            UploadQueue
	fetcher          SourceFetcher
	notifier         Notifier
	credentials      CredentialResolver
	provider         ProviderClient
	stagingDir       string
	maxFileSize      int64
	chunkThreshold   int64
	progressInterval time.Duration
	pollInterval     time.Duration
	maxTrackedTasks  int
	limiter          *rateLimiter

	mu                 sync.RWMutex
	tasks              map[string]*UploadTask
	order              []string
	activeByRequester  map[string]string
	lastProgressRender map[string]time.Time
	events             []TaskEvent
	counters           RelayCounters
	taskCounter        uint64
	eventCounter       uint64

	closed      chan struct{}
	queueCtx    context.Context
	queueCancel context.CancelFunc
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

func NewRelay(fetcher SourceFetcher, notifier Notifier, credentials CredentialResolver, provider ProviderClient) *Relay {
	return NewRelayWithOptions(RelayOptions{
		Fetcher:     fetcher,
		Notifier:    notifier,
		Credentials: credentials,
		Provider:    provider,
	})
}

func NewRelayWithOptions(opts RelayOptions) *Relay {
	maxFileSize := opts.MaxFileSizeBytes
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxFileSize
	}
	chunkThreshold := opts.ChunkThreshold
	if chunkThreshold <= 0 {
		chunkThreshold = defaultChunkThreshold
	}
	progressInterval := opts.ProgressInterval
	if progressInterval <= 0 {
		progressInterval = defaultProgressInterval
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	stagingDir := strings.TrimSpace(opts.StagingDir)
	if stagingDir == "" {
		stagingDir = defaultStagingDir
	}
	maxTrackedTasks := opts.MaxTrackedTasks
	if maxTrackedTasks <= 0 {
		maxTrackedTasks = defaultMaxTrackedTasks
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	queue := opts.Queue
	if queue == nil {
		queue = NewInMemoryUploadQueue(queueSize)
	}
	var limiter *rateLimiter
	if opts.RateLimitMax > 0 {
		window := opts.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		limiter = &rateLimiter{
			window:  window,
			max:     opts.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	queueCtx, queueCancel := context.WithCancel(context.Background())

	r := &Relay{
		queue:              queue,
		fetcher:            opts.Fetcher,
		notifier:           opts.Notifier,
		credentials:        opts.Credentials,
		provider:           opts.Provider,
		stagingDir:         stagingDir,
		maxFileSize:        maxFileSize,
		chunkThreshold:     chunkThreshold,
		progressInterval:   progressInterval,
		pollInterval:       pollInterval,
		maxTrackedTasks:    maxTrackedTasks,
		limiter:            limiter,
		tasks:              map[string]*UploadTask{},
		activeByRequester:  map[string]string{},
		lastProgressRender: map[string]time.Time{},
		events:             []TaskEvent{},
		closed:             make(chan struct{}),
		queueCtx:           queueCtx,
		queueCancel:        queueCancel,
	}
	r.seedTasksFromQueue()
	if !opts.DisableWorker {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.worker()
		}()
	}
	return r
}

// seedTasksFromQueue re-registers tasks left behind by a previous process in
// a durable queue so status lookups see them before the worker claims them.
func (r *Relay) seedTasksFromQueue() {
	snapshotter, ok := r.queue.(uploadQueueSnapshotter)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, task := range snapshotter.SnapshotTasks() {
		if strings.TrimSpace(task.TaskID) == "" {
			continue
		}
		if _, exists := r.tasks[task.TaskID]; exists {
			continue
		}
		stored := task
		r.tasks[task.TaskID] = &stored
		r.order = append(r.order, task.TaskID)
	}
}

func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		if r.queueCancel != nil {
			r.queueCancel()
		}
		if r.queue != nil {
			_ = r.queue.Close()
		}
		r.wg.Wait()
	})
}

// HandleFileEvent admits one inbound file attachment. Validation failures are
// surfaced synchronously and never become queued tasks.
func (r *Relay) HandleFileEvent(ev FileEvent) (UploadTask, error) {
	requester := strings.TrimSpace(ev.RequesterID)
	sourceRef := strings.TrimSpace(ev.SourceRef)
	if requester == "" || sourceRef == "" || ev.SizeBytes <= 0 {
		return UploadTask{}, ErrInvalidInput
	}
	select {
	case <-r.closed:
		return UploadTask{}, ErrInvalidInput
	default:
	}
	if r.limiter != nil && !r.limiter.allow(requester, time.Now().UTC()) {
		r.mu.Lock()
		r.counters.RateLimitedTotal++
		r.mu.Unlock()
		return UploadTask{}, ErrRateLimited
	}
	displayName := defaultDisplayName(ev.DisplayName)
	if ev.SizeBytes > r.maxFileSize {
		r.mu.Lock()
		r.counters.RejectedTotal++
		r.mu.Unlock()
		r.render(ev.NotificationRef, StatusUpdate{
			State:         TaskFailed,
			DisplayName:   displayName,
			FailureReason: fmt.Sprintf("%s: %d bytes exceeds the %d byte maximum", ErrFileTooLarge, ev.SizeBytes, r.maxFileSize),
		})
		return UploadTask{}, ErrFileTooLarge
	}

	r.mu.Lock()
	r.taskCounter++
	task := UploadTask{
		TaskID:          fmt.Sprintf("task_%d", r.taskCounter),
		RequesterID:     requester,
		SourceRef:       sourceRef,
		DisplayName:     displayName,
		SizeBytes:       ev.SizeBytes,
		NotificationRef: strings.TrimSpace(ev.NotificationRef),
		State:           TaskQueued,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339Nano),
	}
	stored := task
	r.tasks[task.TaskID] = &stored
	r.order = append(r.order, task.TaskID)
	r.pruneTasksLocked()
	r.mu.Unlock()

	if !r.queue.TryEnqueue(task) {
		r.mu.Lock()
		delete(r.tasks, task.TaskID)
		r.counters.RejectedTotal++
		r.mu.Unlock()
		return UploadTask{}, ErrQueueFull
	}

	r.mu.Lock()
	r.counters.AdmittedTotal++
	r.appendEventLocked(task.TaskID, requester, "admitted", TaskQueued, "")
	r.mu.Unlock()
	r.render(task.NotificationRef, StatusUpdate{
		TaskID:      task.TaskID,
		State:       TaskQueued,
		DisplayName: displayName,
	})
	return task, nil
}

func (r *Relay) worker() {
	for {
		task, ok := r.queue.Dequeue(r.queueCtx)
		if !ok {
			return
		}
		r.runTask(task)
	}
}

// runTask drives one task end to end. One bad task must never halt the loop,
// so panics are converted into a terminal failure before the next dequeue.
func (r *Relay) runTask(task UploadTask) {
	defer func() {
		if rec := recover(); rec != nil {
			r.finishTask(task, "", fmt.Sprintf("internal error: %v", rec))
			_ = sleepContext(r.queueCtx, r.pollInterval)
		}
	}()

	r.trackDequeued(task)
	if !r.transition(task, TaskDownloading) {
		return
	}

	staging := filepath.Join(r.stagingDir, task.TaskID+"_"+sanitizeName(task.DisplayName))
	defer os.Remove(staging)

	if err := r.downloadToStaging(task, staging); err != nil {
		r.finishTask(task, "", FailureDownload)
		return
	}
	if !r.transition(task, TaskUploading) {
		return
	}

	cred, err := r.resolveCredential(task.RequesterID)
	if err != nil || cred == nil {
		r.finishTask(task, "", FailureAuthentication)
		return
	}

	var remoteID string
	var uploadErr error
	if task.SizeBytes >= r.chunkThreshold {
		remoteID, uploadErr = r.provider.UploadChunked(r.queueCtx, cred, staging, task.DisplayName, func(percent int) {
			r.recordProgress(task, percent)
		})
	} else {
		remoteID, uploadErr = r.provider.UploadSingle(r.queueCtx, cred, staging, task.DisplayName)
	}
	if uploadErr != nil {
		r.finishTask(task, "", uploadErr.Error())
		return
	}
	r.finishTask(task, remoteID, "")
}

func (r *Relay) resolveCredential(requesterID string) (*oauth2.Token, error) {
	if r.credentials == nil {
		return nil, fmt.Errorf("credential resolver is not configured")
	}
	return r.credentials.Resolve(r.queueCtx, requesterID)
}

func (r *Relay) downloadToStaging(task UploadTask, stagingPath string) error {
	if r.fetcher == nil {
		return fmt.Errorf("source fetcher is not configured")
	}
	body, err := r.fetcher.FetchSource(r.queueCtx, task.SourceRef)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := os.MkdirAll(filepath.Dir(stagingPath), 0o755); err != nil {
		return err
	}
	file, err := os.Create(stagingPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (r *Relay) trackDequeued(task UploadTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.TaskID]; !exists {
		stored := task
		r.tasks[task.TaskID] = &stored
		r.order = append(r.order, task.TaskID)
		r.pruneTasksLocked()
	}
	r.activeByRequester[task.RequesterID] = task.TaskID
}

// transition advances a non-terminal task and emits one status render.
func (r *Relay) transition(task UploadTask, state TaskState) bool {
	r.mu.Lock()
	stored, ok := r.tasks[task.TaskID]
	if !ok || stored.State.Terminal() {
		r.mu.Unlock()
		return false
	}
	stored.State = state
	update := StatusUpdate{
		TaskID:      stored.TaskID,
		State:       state,
		DisplayName: stored.DisplayName,
	}
	notificationRef := stored.NotificationRef
	r.appendEventLocked(stored.TaskID, stored.RequesterID, "state_changed", state, "")
	r.mu.Unlock()
	r.render(notificationRef, update)
	return true
}

// recordProgress copies the provider's reported percent into the task, keeps
// it monotonic, and re-renders at most once per progress interval.
func (r *Relay) recordProgress(task UploadTask, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	r.mu.Lock()
	stored, ok := r.tasks[task.TaskID]
	if !ok || stored.State != TaskUploading || percent < stored.ProgressPercent {
		r.mu.Unlock()
		return
	}
	stored.ProgressPercent = percent
	now := time.Now()
	shouldRender := now.Sub(r.lastProgressRender[task.TaskID]) >= r.progressInterval
	var update StatusUpdate
	var notificationRef string
	if shouldRender {
		r.lastProgressRender[task.TaskID] = now
		update = StatusUpdate{
			TaskID:          stored.TaskID,
			State:           TaskUploading,
			DisplayName:     stored.DisplayName,
			ProgressPercent: percent,
		}
		notificationRef = stored.NotificationRef
	}
	r.mu.Unlock()
	if shouldRender {
		r.render(notificationRef, update)
	}
}

// finishTask records the terminal state and emits exactly one final render.
// An observed cancel request suppresses the success render and nothing else.
func (r *Relay) finishTask(task UploadTask, remoteFileID, failureReason string) {
	r.mu.Lock()
	stored, ok := r.tasks[task.TaskID]
	if !ok || stored.State.Terminal() {
		r.mu.Unlock()
		return
	}
	if failureReason == "" {
		stored.State = TaskCompleted
		stored.ProgressPercent = 100
		stored.RemoteFileID = remoteFileID
		r.counters.CompletedTotal++
	} else {
		stored.State = TaskFailed
		stored.FailureReason = failureReason
		r.counters.FailedTotal++
	}
	if r.activeByRequester[stored.RequesterID] == stored.TaskID {
		delete(r.activeByRequester, stored.RequesterID)
	}
	delete(r.lastProgressRender, stored.TaskID)
	suppress := stored.CancelRequested && stored.State == TaskCompleted
	update := StatusUpdate{
		TaskID:          stored.TaskID,
		State:           stored.State,
		DisplayName:     stored.DisplayName,
		ProgressPercent: stored.ProgressPercent,
		RemoteFileID:    stored.RemoteFileID,
		FailureReason:   stored.FailureReason,
	}
	notificationRef := stored.NotificationRef
	r.appendEventLocked(stored.TaskID, stored.RequesterID, "finished", stored.State, stored.FailureReason)
	r.mu.Unlock()
	if !suppress {
		r.render(notificationRef, update)
	}
}

func (r *Relay) render(notificationRef string, update StatusUpdate) {
	if r.notifier == nil || strings.TrimSpace(notificationRef) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), renderTimeout)
	defer cancel()
	// Failed renders are not retried here; the gateway client already retries
	// transient failures and a dropped render never blocks the pipeline.
	_ = r.notifier.RenderStatus(ctx, notificationRef, update)
}

func (r *Relay) appendEventLocked(taskID, requesterID, eventType string, state TaskState, detail string) {
	r.eventCounter++
	r.events = append(r.events, TaskEvent{
		EventID:     fmt.Sprintf("evt_%d", r.eventCounter),
		TaskID:      taskID,
		RequesterID: requesterID,
		Type:        eventType,
		State:       state,
		Detail:      detail,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if len(r.events) > defaultMaxTrackedEvents {
		r.events = append([]TaskEvent(nil), r.events[len(r.events)-defaultMaxTrackedEvents:]...)
	}
}

// pruneTasksLocked drops the oldest terminal tasks once the table exceeds its
// bound; in-flight and queued tasks are never evicted.
func (r *Relay) pruneTasksLocked() {
	if len(r.order) <= r.maxTrackedTasks {
		return
	}
	kept := make([]string, 0, len(r.order))
	excess := len(r.order) - r.maxTrackedTasks
	for _, taskID := range r.order {
		task, ok := r.tasks[taskID]
		if !ok {
			continue
		}
		if excess > 0 && task.State.Terminal() {
			delete(r.tasks, taskID)
			excess--
			continue
		}
		kept = append(kept, taskID)
	}
	r.order = kept
}

func (r *Relay) GetTask(taskID string) (UploadTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[strings.TrimSpace(taskID)]
	if !ok {
		return UploadTask{}, ErrNotFound
	}
	return *task, nil
}

// ListTasks returns the requester's tracked tasks, newest first.
func (r *Relay) ListTasks(requesterID string) []UploadTask {
	requesterID = strings.TrimSpace(requesterID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]UploadTask, 0)
	for i := len(r.order) - 1; i >= 0; i-- {
		task, ok := r.tasks[r.order[i]]
		if !ok {
			continue
		}
		if requesterID != "" && task.RequesterID != requesterID {
			continue
		}
		result = append(result, *task)
	}
	return result
}

func (r *Relay) ActiveTask(requesterID string) (UploadTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	taskID, ok := r.activeByRequester[strings.TrimSpace(requesterID)]
	if !ok {
		return UploadTask{}, false
	}
	task, ok := r.tasks[taskID]
	if !ok {
		return UploadTask{}, false
	}
	return *task, true
}

// RequestCancel marks a task as cancel-requested. Cancellation is advisory:
// an in-flight transfer is not aborted, only the final success render is
// suppressed once the task completes.
func (r *Relay) RequestCancel(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[strings.TrimSpace(taskID)]
	if !ok {
		return ErrNotFound
	}
	if task.State.Terminal() {
		return ErrInvalidInput
	}
	task.CancelRequested = true
	return nil
}

func (r *Relay) QueueStatus() QueueStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := QueueStatus{Counters: r.counters}
	if r.queue != nil {
		status.QueueDepth = r.queue.Depth()
		status.QueueCapacity = r.queue.Capacity()
	}
	for _, taskID := range r.activeByRequester {
		status.ActiveTaskID = taskID
	}
	return status
}

func (r *Relay) Events(limit int) []TaskEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.events) {
		limit = len(r.events)
	}
	return append([]TaskEvent(nil), r.events[len(r.events)-limit:]...)
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(l.window),
		}
		return true
	}
	if entry.count >= l.max {
		return false
	}
	entry.count++
	l.entries[key] = entry
	return true
}
