package driverelay

import "strings"

type TaskState string

const (
	TaskQueued      TaskState = "queued"
	TaskDownloading TaskState = "downloading"
	TaskUploading   TaskState = "uploading"
	TaskCompleted   TaskState = "completed"
	TaskFailed      TaskState = "failed"
)

func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// UploadTask is one file transfer request and its lifecycle state. Tasks are
// value objects: the relay hands out copies and keeps the mutable original
// under its own lock.
type UploadTask struct {
	TaskID          string    `json:"taskId"`
	RequesterID     string    `json:"requesterId"`
	SourceRef       string    `json:"sourceRef"`
	DisplayName     string    `json:"displayName"`
	SizeBytes       int64     `json:"sizeBytes"`
	NotificationRef string    `json:"notificationRef,omitempty"`
	State           TaskState `json:"state"`
	ProgressPercent int       `json:"progressPercent"`
	RemoteFileID    string    `json:"remoteFileId,omitempty"`
	FailureReason   string    `json:"failureReason,omitempty"`
	CancelRequested bool      `json:"cancelRequested,omitempty"`
	CreatedAt       string    `json:"createdAt"`
}

// FileEvent is an inbound file attachment delivered by the messaging gateway.
type FileEvent struct {
	RequesterID     string `json:"requesterId"`
	SourceRef       string `json:"sourceRef"`
	DisplayName     string `json:"displayName,omitempty"`
	SizeBytes       int64  `json:"sizeBytes"`
	NotificationRef string `json:"notificationRef,omitempty"`
}

// StatusUpdate is the payload of one outbound status render. Renders are
// idempotent on the gateway side, so re-sending the same update is harmless.
type StatusUpdate struct {
	TaskID          string    `json:"taskId,omitempty"`
	State           TaskState `json:"state"`
	DisplayName     string    `json:"displayName,omitempty"`
	ProgressPercent int       `json:"progressPercent,omitempty"`
	RemoteFileID    string    `json:"remoteFileId,omitempty"`
	FailureReason   string    `json:"failureReason,omitempty"`
}

type FileMeta struct {
	FileID     string `json:"fileId"`
	Name       string `json:"name"`
	SizeBytes  int64  `json:"sizeBytes"`
	ModifiedAt string `json:"modifiedAt,omitempty"`
}

type QuotaInfo struct {
	TotalBytes int64 `json:"totalBytes"`
	UsedBytes  int64 `json:"usedBytes"`
}

// TaskEvent is one entry in the relay's lifecycle trail.
type TaskEvent struct {
	EventID     string    `json:"eventId"`
	TaskID      string    `json:"taskId"`
	RequesterID string    `json:"requesterId"`
	Type        string    `json:"type"`
	State       TaskState `json:"state,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   string    `json:"timestamp"`
}

func defaultDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "untitled"
	}
	return name
}

// sanitizeName keeps staging file names flat: path separators and parent
// references in a requester-supplied name must not escape the staging dir.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", "\x00", "_")
	name = replacer.Replace(name)
	if name == "" {
		return "untitled"
	}
	return name
}
