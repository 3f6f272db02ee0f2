package driverelay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type memoryFetcher struct {
	mu      sync.Mutex
	content []byte
	err     error
	calls   int
}

func (f *memoryFetcher) FetchSource(ctx context.Context, sourceRef string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

type recordedRender struct {
	NotificationRef string
	Update          StatusUpdate
}

type recordingNotifier struct {
	mu       sync.Mutex
	renders  []recordedRender
	messages []string
}

func (n *recordingNotifier) RenderStatus(ctx context.Context, notificationRef string, update StatusUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.renders = append(n.renders, recordedRender{NotificationRef: notificationRef, Update: update})
	return nil
}

func (n *recordingNotifier) RenderMessage(ctx context.Context, notificationRef string, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

func (n *recordingNotifier) snapshot() []recordedRender {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedRender(nil), n.renders...)
}

func (n *recordingNotifier) rendersInState(state TaskState) []recordedRender {
	result := []recordedRender{}
	for _, render := range n.snapshot() {
		if render.Update.State == state {
			result = append(result, render)
		}
	}
	return result
}

type staticCredentials struct {
	token *oauth2.Token
	err   error
}

func (c *staticCredentials) Resolve(ctx context.Context, requesterID string) (*oauth2.Token, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.token, nil
}

type fakeProvider struct {
	mu             sync.Mutex
	singleNames    []string
	chunkedNames   []string
	progressTicks  []int
	uploadErr      error
	panicOnUpload  bool
	pathsExisted   []bool
	listResult     []FileMeta
	listErr        error
	renameErr      error
	deleteErr      error
	renamedTo      string
	deletedFileID  string
	quota          QuotaInfo
	quotaErr       error
	fileIDSequence int
}

func (p *fakeProvider) nextFileID() string {
	p.fileIDSequence++
	return fmt.Sprintf("remote_%d", p.fileIDSequence)
}

func (p *fakeProvider) recordPath(localPath string) {
	_, err := os.Stat(localPath)
	p.pathsExisted = append(p.pathsExisted, err == nil)
}

func (p *fakeProvider) UploadSingle(ctx context.Context, cred *oauth2.Token, localPath, displayName string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicOnUpload {
		panic("provider wiring broken")
	}
	p.recordPath(localPath)
	p.singleNames = append(p.singleNames, displayName)
	if p.uploadErr != nil {
		return "", p.uploadErr
	}
	return p.nextFileID(), nil
}

func (p *fakeProvider) UploadChunked(ctx context.Context, cred *oauth2.Token, localPath, displayName string, onProgress func(percent int)) (string, error) {
	p.mu.Lock()
	if p.panicOnUpload {
		p.mu.Unlock()
		panic("provider wiring broken")
	}
	p.recordPath(localPath)
	p.chunkedNames = append(p.chunkedNames, displayName)
	ticks := append([]int(nil), p.progressTicks...)
	uploadErr := p.uploadErr
	p.mu.Unlock()

	for _, percent := range ticks {
		if onProgress != nil {
			onProgress(percent)
		}
	}
	if uploadErr != nil {
		return "", uploadErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextFileID(), nil
}

func (p *fakeProvider) ListRecent(ctx context.Context, cred *oauth2.Token, limit int) ([]FileMeta, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.listResult, nil
}

func (p *fakeProvider) Rename(ctx context.Context, cred *oauth2.Token, fileID, newName string) error {
	if p.renameErr != nil {
		return p.renameErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renamedTo = newName
	return nil
}

func (p *fakeProvider) Delete(ctx context.Context, cred *oauth2.Token, fileID string) error {
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletedFileID = fileID
	return nil
}

func (p *fakeProvider) StorageQuota(ctx context.Context, cred *oauth2.Token) (QuotaInfo, error) {
	if p.quotaErr != nil {
		return QuotaInfo{}, p.quotaErr
	}
	return p.quota, nil
}

type relayFixture struct {
	relay      *Relay
	fetcher    *memoryFetcher
	notifier   *recordingNotifier
	provider   *fakeProvider
	stagingDir string
}

func newRelayFixture(t *testing.T, opts RelayOptions) *relayFixture {
	t.Helper()
	fixture := &relayFixture{
		fetcher:    &memoryFetcher{content: []byte("payload")},
		notifier:   &recordingNotifier{},
		provider:   &fakeProvider{progressTicks: []int{30, 60, 100}},
		stagingDir: filepath.Join(t.TempDir(), "staging"),
	}
	if opts.Fetcher == nil {
		opts.Fetcher = fixture.fetcher
	}
	if opts.Notifier == nil {
		opts.Notifier = fixture.notifier
	}
	if opts.Credentials == nil {
		opts.Credentials = &staticCredentials{token: &oauth2.Token{AccessToken: "tok"}}
	}
	if opts.Provider == nil {
		opts.Provider = fixture.provider
	}
	if opts.StagingDir == "" {
		opts.StagingDir = fixture.stagingDir
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	fixture.relay = NewRelayWithOptions(opts)
	t.Cleanup(fixture.relay.Close)
	return fixture
}

func (f *relayFixture) runOne(t *testing.T, ev FileEvent) UploadTask {
	t.Helper()
	task, err := f.relay.HandleFileEvent(ev)
	if err != nil {
		t.Fatalf("handle file event failed: %v", err)
	}
	queued, ok := f.relay.queue.Dequeue(context.Background())
	if !ok {
		t.Fatalf("expected queued task")
	}
	f.relay.runTask(queued)
	final, err := f.relay.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	return final
}

func (f *relayFixture) stagingEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.stagingDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		t.Fatalf("read staging dir failed: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestSmallUploadUsesDirectPath(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true})
	final := fixture.runOne(t, FileEvent{
		RequesterID:     "req_1",
		SourceRef:       "src_1",
		DisplayName:     "photo.jpg",
		SizeBytes:       500 * 1024,
		NotificationRef: "notif_1",
	})

	if final.State != TaskCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.State, final.FailureReason)
	}
	if final.RemoteFileID == "" {
		t.Fatalf("expected remote file id on completed task")
	}
	if final.ProgressPercent != 100 {
		t.Fatalf("expected final progress 100, got %d", final.ProgressPercent)
	}
	if len(fixture.provider.singleNames) != 1 || len(fixture.provider.chunkedNames) != 0 {
		t.Fatalf("expected one direct upload, got single=%d chunked=%d", len(fixture.provider.singleNames), len(fixture.provider.chunkedNames))
	}
	if len(fixture.provider.pathsExisted) != 1 || !fixture.provider.pathsExisted[0] {
		t.Fatalf("expected staging file to exist during upload")
	}
	if remaining := fixture.stagingEntries(t); len(remaining) != 0 {
		t.Fatalf("expected staging cleanup, found %v", remaining)
	}
	if completed := fixture.notifier.rendersInState(TaskCompleted); len(completed) != 1 {
		t.Fatalf("expected exactly one completed render, got %d", len(completed))
	}
}

func TestLargeUploadUsesChunkedPathWithIntermediateProgress(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{
		DisableWorker:    true,
		ChunkThreshold:   1024,
		ProgressInterval: time.Nanosecond,
	})
	final := fixture.runOne(t, FileEvent{
		RequesterID:     "req_1",
		SourceRef:       "src_large",
		DisplayName:     "backup.tar",
		SizeBytes:       50 << 20,
		NotificationRef: "notif_large",
	})

	if final.State != TaskCompleted {
		t.Fatalf("expected completed, got %s (%s)", final.State, final.FailureReason)
	}
	if len(fixture.provider.chunkedNames) != 1 || len(fixture.provider.singleNames) != 0 {
		t.Fatalf("expected one chunked upload, got chunked=%d single=%d", len(fixture.provider.chunkedNames), len(fixture.provider.singleNames))
	}
	intermediate := 0
	for _, render := range fixture.notifier.rendersInState(TaskUploading) {
		if render.Update.ProgressPercent > 0 && render.Update.ProgressPercent < 100 {
			intermediate++
		}
	}
	if intermediate == 0 {
		t.Fatalf("expected at least one intermediate progress render")
	}
}

func TestUploadExactlyAtThresholdUsesChunkedPath(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true, ChunkThreshold: 4096})
	final := fixture.runOne(t, FileEvent{
		RequesterID: "req_1",
		SourceRef:   "src_edge",
		DisplayName: "edge.bin",
		SizeBytes:   4096,
	})
	if final.State != TaskCompleted {
		t.Fatalf("expected completed, got %s", final.State)
	}
	if len(fixture.provider.chunkedNames) != 1 {
		t.Fatalf("expected chunked upload at threshold boundary")
	}
}

func TestOversizeEventRejectedBeforeQueue(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true, MaxFileSizeBytes: 100})
	_, err := fixture.relay.HandleFileEvent(FileEvent{
		RequesterID:     "req_1",
		SourceRef:       "src_big",
		DisplayName:     "huge.iso",
		SizeBytes:       3 << 30,
		NotificationRef: "notif_big",
	})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if depth := fixture.relay.queue.Depth(); depth != 0 {
		t.Fatalf("expected empty queue, depth %d", depth)
	}
	if fixture.fetcher.calls != 0 {
		t.Fatalf("expected no source fetch for rejected event")
	}
	if remaining := fixture.stagingEntries(t); len(remaining) != 0 {
		t.Fatalf("expected no staging file for rejected event, found %v", remaining)
	}
	failed := fixture.notifier.rendersInState(TaskFailed)
	if len(failed) != 1 || !strings.Contains(failed[0].Update.FailureReason, "file too large") {
		t.Fatalf("expected one rejection render mentioning size, got %+v", failed)
	}
	if got := fixture.relay.QueueStatus().Counters.RejectedTotal; got != 1 {
		t.Fatalf("expected rejected counter 1, got %d", got)
	}
}

func TestMissingCredentialFailsWithoutProviderCall(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{
		DisableWorker: true,
		Credentials:   &staticCredentials{err: errors.New("no stored token")},
	})
	final := fixture.runOne(t, FileEvent{
		RequesterID:     "req_1",
		SourceRef:       "src_1",
		DisplayName:     "doc.pdf",
		SizeBytes:       2048,
		NotificationRef: "notif_auth",
	})

	if final.State != TaskFailed {
		t.Fatalf("expected failed, got %s", final.State)
	}
	if final.FailureReason != FailureAuthentication {
		t.Fatalf("expected %q, got %q", FailureAuthentication, final.FailureReason)
	}
	if len(fixture.provider.singleNames) != 0 || len(fixture.provider.chunkedNames) != 0 {
		t.Fatalf("expected no provider calls without credential")
	}
	if remaining := fixture.stagingEntries(t); len(remaining) != 0 {
		t.Fatalf("expected staging cleanup on auth failure, found %v", remaining)
	}
}

func TestDownloadFailureUsesFixedReason(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true})
	fixture.fetcher.err = errors.New("gateway timeout")
	final := fixture.runOne(t, FileEvent{
		RequesterID: "req_1",
		SourceRef:   "src_broken",
		SizeBytes:   2048,
	})

	if final.State != TaskFailed || final.FailureReason != FailureDownload {
		t.Fatalf("expected failed with %q, got %s %q", FailureDownload, final.State, final.FailureReason)
	}
	if len(fixture.provider.singleNames) != 0 {
		t.Fatalf("expected no provider call after download failure")
	}
}

func TestProviderErrorTextPreservedVerbatim(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true})
	fixture.provider.uploadErr = errors.New("storage quota exceeded for user")
	final := fixture.runOne(t, FileEvent{
		RequesterID:     "req_1",
		SourceRef:       "src_1",
		DisplayName:     "big.bin",
		SizeBytes:       2048,
		NotificationRef: "notif_err",
	})

	if final.State != TaskFailed {
		t.Fatalf("expected failed, got %s", final.State)
	}
	if final.FailureReason != "storage quota exceeded for user" {
		t.Fatalf("expected verbatim provider error, got %q", final.FailureReason)
	}
	if remaining := fixture.stagingEntries(t); len(remaining) != 0 {
		t.Fatalf("expected staging cleanup on provider failure, found %v", remaining)
	}
	if failed := fixture.notifier.rendersInState(TaskFailed); len(failed) != 1 {
		t.Fatalf("expected exactly one failure render, got %d", len(failed))
	}
}

func TestProgressIsMonotonicAndDebounced(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{
		DisableWorker:    true,
		ChunkThreshold:   1024,
		ProgressInterval: time.Hour,
	})
	fixture.provider.progressTicks = []int{10, 5, 50}
	final := fixture.runOne(t, FileEvent{
		RequesterID:     "req_1",
		SourceRef:       "src_1",
		DisplayName:     "video.mov",
		SizeBytes:       4096,
		NotificationRef: "notif_prog",
	})

	if final.State != TaskCompleted || final.ProgressPercent != 100 {
		t.Fatalf("expected completed at 100, got %s %d", final.State, final.ProgressPercent)
	}
	uploading := fixture.notifier.rendersInState(TaskUploading)
	progressRenders := []recordedRender{}
	for _, render := range uploading {
		if render.Update.ProgressPercent > 0 {
			progressRenders = append(progressRenders, render)
		}
	}
	// With an hour-long debounce window only the first tick renders, and the
	// regressed tick must never surface anywhere.
	if len(progressRenders) != 1 || progressRenders[0].Update.ProgressPercent != 10 {
		t.Fatalf("expected single debounced progress render at 10, got %+v", progressRenders)
	}
	last := 0
	for _, render := range progressRenders {
		if render.Update.ProgressPercent < last {
			t.Fatalf("progress regressed: %+v", progressRenders)
		}
		last = render.Update.ProgressPercent
	}
}

func TestCancelSuppressesOnlySuccessRender(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true})
	task, err := fixture.relay.HandleFileEvent(FileEvent{
		RequesterID:     "req_1",
		SourceRef:       "src_1",
		DisplayName:     "notes.txt",
		SizeBytes:       512,
		NotificationRef: "notif_cancel",
	})
	if err != nil {
		t.Fatalf("handle file event failed: %v", err)
	}
	if err := fixture.relay.RequestCancel(task.TaskID); err != nil {
		t.Fatalf("request cancel failed: %v", err)
	}

	queued, ok := fixture.relay.queue.Dequeue(context.Background())
	if !ok {
		t.Fatalf("expected queued task")
	}
	fixture.relay.runTask(queued)

	final, err := fixture.relay.GetTask(task.TaskID)
	if err != nil {
		t.Fatalf("get task failed: %v", err)
	}
	if final.State != TaskCompleted {
		t.Fatalf("advisory cancel must not abort the transfer, got %s", final.State)
	}
	if len(fixture.provider.singleNames) != 1 {
		t.Fatalf("expected upload to run despite cancel")
	}
	if completed := fixture.notifier.rendersInState(TaskCompleted); len(completed) != 0 {
		t.Fatalf("expected success render to be suppressed, got %+v", completed)
	}
	if queuedRenders := fixture.notifier.rendersInState(TaskQueued); len(queuedRenders) != 1 {
		t.Fatalf("expected non-terminal renders to survive cancel")
	}
}

func TestCancelDoesNotSuppressFailureRender(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true})
	fixture.provider.uploadErr = errors.New("remote rejected upload")
	task, err := fixture.relay.HandleFileEvent(FileEvent{
		RequesterID:     "req_1",
		SourceRef:       "src_1",
		SizeBytes:       512,
		NotificationRef: "notif_cancel_fail",
	})
	if err != nil {
		t.Fatalf("handle file event failed: %v", err)
	}
	if err := fixture.relay.RequestCancel(task.TaskID); err != nil {
		t.Fatalf("request cancel failed: %v", err)
	}
	queued, _ := fixture.relay.queue.Dequeue(context.Background())
	fixture.relay.runTask(queued)

	if failed := fixture.notifier.rendersInState(TaskFailed); len(failed) != 1 {
		t.Fatalf("expected failure render despite cancel, got %d", len(failed))
	}
}

func TestWorkerProcessesTasksInAdmissionOrder(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{})
	for i := 1; i <= 3; i++ {
		_, err := fixture.relay.HandleFileEvent(FileEvent{
			RequesterID: "req_1",
			SourceRef:   fmt.Sprintf("src_%d", i),
			DisplayName: fmt.Sprintf("file_%d.txt", i),
			SizeBytes:   128,
		})
		if err != nil {
			t.Fatalf("handle file event %d failed: %v", i, err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		fixture.provider.mu.Lock()
		done := len(fixture.provider.singleNames) == 3
		fixture.provider.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	fixture.provider.mu.Lock()
	defer fixture.provider.mu.Unlock()
	want := []string{"file_1.txt", "file_2.txt", "file_3.txt"}
	if len(fixture.provider.singleNames) != len(want) {
		t.Fatalf("expected %d uploads, got %d", len(want), len(fixture.provider.singleNames))
	}
	for i, name := range want {
		if fixture.provider.singleNames[i] != name {
			t.Fatalf("expected upload order %v, got %v", want, fixture.provider.singleNames)
		}
	}
}

func TestAdmissionRateLimit(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{
		DisableWorker:   true,
		RateLimitMax:    1,
		RateLimitWindow: time.Hour,
	})
	if _, err := fixture.relay.HandleFileEvent(FileEvent{RequesterID: "req_1", SourceRef: "src_1", SizeBytes: 1}); err != nil {
		t.Fatalf("first event should be admitted: %v", err)
	}
	if _, err := fixture.relay.HandleFileEvent(FileEvent{RequesterID: "req_1", SourceRef: "src_2", SizeBytes: 1}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := fixture.relay.HandleFileEvent(FileEvent{RequesterID: "req_2", SourceRef: "src_3", SizeBytes: 1}); err != nil {
		t.Fatalf("other requesters should not share the limit: %v", err)
	}
}

func TestQueueFullRejectsSynchronously(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true, QueueSize: 1})
	if _, err := fixture.relay.HandleFileEvent(FileEvent{RequesterID: "req_1", SourceRef: "src_1", SizeBytes: 1}); err != nil {
		t.Fatalf("first event should be admitted: %v", err)
	}
	_, err := fixture.relay.HandleFileEvent(FileEvent{RequesterID: "req_1", SourceRef: "src_2", SizeBytes: 1})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPanicDuringUploadBecomesFailedTask(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true})
	fixture.provider.panicOnUpload = true
	final := fixture.runOne(t, FileEvent{
		RequesterID: "req_1",
		SourceRef:   "src_1",
		SizeBytes:   512,
	})
	if final.State != TaskFailed {
		t.Fatalf("expected failed after panic, got %s", final.State)
	}
	if !strings.HasPrefix(final.FailureReason, "internal error:") {
		t.Fatalf("expected internal error reason, got %q", final.FailureReason)
	}
}

func TestInvalidEventsRejected(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true})
	cases := []FileEvent{
		{SourceRef: "src", SizeBytes: 1},
		{RequesterID: "req_1", SizeBytes: 1},
		{RequesterID: "req_1", SourceRef: "src", SizeBytes: 0},
	}
	for i, ev := range cases {
		if _, err := fixture.relay.HandleFileEvent(ev); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestCancelUnknownOrTerminalTask(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true})
	if err := fixture.relay.RequestCancel("task_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	final := fixture.runOne(t, FileEvent{RequesterID: "req_1", SourceRef: "src_1", SizeBytes: 1})
	if err := fixture.relay.RequestCancel(final.TaskID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for terminal task, got %v", err)
	}
}

func TestListTasksNewestFirstAndEvents(t *testing.T) {
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true})
	fixture.runOne(t, FileEvent{RequesterID: "req_1", SourceRef: "src_1", DisplayName: "a.txt", SizeBytes: 1})
	fixture.runOne(t, FileEvent{RequesterID: "req_1", SourceRef: "src_2", DisplayName: "b.txt", SizeBytes: 1})

	tasks := fixture.relay.ListTasks("req_1")
	if len(tasks) != 2 || tasks[0].DisplayName != "b.txt" || tasks[1].DisplayName != "a.txt" {
		t.Fatalf("expected newest-first listing, got %+v", tasks)
	}
	if len(fixture.relay.ListTasks("req_other")) != 0 {
		t.Fatalf("expected no tasks for other requester")
	}
	events := fixture.relay.Events(0)
	if len(events) == 0 {
		t.Fatalf("expected lifecycle events")
	}
	if events[0].Type != "admitted" {
		t.Fatalf("expected first event admitted, got %s", events[0].Type)
	}
}

func TestDurableQueueTasksSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload-queue.json")
	queue, err := NewFileUploadQueue(path, 4)
	if err != nil {
		t.Fatalf("new file queue failed: %v", err)
	}
	if !queue.TryEnqueue(UploadTask{TaskID: "task_restart", RequesterID: "req_1", SourceRef: "src", SizeBytes: 1, State: TaskQueued}) {
		t.Fatalf("expected enqueue to succeed")
	}

	reopened, err := NewFileUploadQueue(path, 4)
	if err != nil {
		t.Fatalf("reopen queue failed: %v", err)
	}
	fixture := newRelayFixture(t, RelayOptions{DisableWorker: true, Queue: reopened})
	task, err := fixture.relay.GetTask("task_restart")
	if err != nil {
		t.Fatalf("expected seeded task to be visible: %v", err)
	}
	if task.State != TaskQueued {
		t.Fatalf("expected seeded task queued, got %s", task.State)
	}
}
