package driverelay

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrFileTooLarge   = errors.New("file too large")
	ErrRateLimited    = errors.New("rate limited")
	ErrQueueFull      = errors.New("queue full")
	ErrNotImplemented = errors.New("not implemented")
)

// Terminal failure reasons surfaced to the requester. Provider failures carry
// the provider's own error text instead of a fixed reason.
const (
	FailureDownload       = "download failed"
	FailureAuthentication = "authentication required"
)
