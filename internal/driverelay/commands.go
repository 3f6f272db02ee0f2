package driverelay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/oauth2"
)

// Command operations: requester-initiated provider actions that reply through
// the notifier. Each resolves the requester's credential first; an
// unauthenticated requester gets the same reply as a failed upload would.

func (r *Relay) StorageStatus(ctx context.Context, requesterID, notificationRef string) (QuotaInfo, error) {
	cred, err := r.commandCredential(ctx, requesterID, notificationRef)
	if err != nil {
		return QuotaInfo{}, err
	}
	quota, err := r.provider.StorageQuota(ctx, cred)
	if err != nil {
		r.reply(ctx, notificationRef, fmt.Sprintf("storage status unavailable: %v", err))
		return QuotaInfo{}, err
	}
	if quota.TotalBytes > 0 {
		r.reply(ctx, notificationRef, fmt.Sprintf("storage used: %s of %s",
			humanize.IBytes(uint64(quota.UsedBytes)), humanize.IBytes(uint64(quota.TotalBytes))))
	} else {
		r.reply(ctx, notificationRef, fmt.Sprintf("storage used: %s", humanize.IBytes(uint64(quota.UsedBytes))))
	}
	return quota, nil
}

func (r *Relay) ListRecentFiles(ctx context.Context, requesterID, notificationRef string, limit int) ([]FileMeta, error) {
	cred, err := r.commandCredential(ctx, requesterID, notificationRef)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	files, err := r.provider.ListRecent(ctx, cred, limit)
	if err != nil {
		r.reply(ctx, notificationRef, fmt.Sprintf("file listing failed: %v", err))
		return nil, err
	}
	if len(files) == 0 {
		r.reply(ctx, notificationRef, "no files found")
		return files, nil
	}
	var b strings.Builder
	b.WriteString("recent files:\n")
	for _, f := range files {
		fmt.Fprintf(&b, "%s (%s)\n", f.Name, humanize.IBytes(uint64(f.SizeBytes)))
	}
	r.reply(ctx, notificationRef, strings.TrimRight(b.String(), "\n"))
	return files, nil
}

func (r *Relay) RenameFile(ctx context.Context, requesterID, notificationRef, fileID, newName string) error {
	newName = strings.TrimSpace(newName)
	if strings.TrimSpace(fileID) == "" || newName == "" {
		return ErrInvalidInput
	}
	cred, err := r.commandCredential(ctx, requesterID, notificationRef)
	if err != nil {
		return err
	}
	if err := r.provider.Rename(ctx, cred, fileID, newName); err != nil {
		r.reply(ctx, notificationRef, fmt.Sprintf("rename failed: %v", err))
		return err
	}
	r.reply(ctx, notificationRef, fmt.Sprintf("renamed to %s", newName))
	return nil
}

func (r *Relay) RemoveFile(ctx context.Context, requesterID, notificationRef, fileID string) error {
	if strings.TrimSpace(fileID) == "" {
		return ErrInvalidInput
	}
	cred, err := r.commandCredential(ctx, requesterID, notificationRef)
	if err != nil {
		return err
	}
	if err := r.provider.Delete(ctx, cred, fileID); err != nil {
		r.reply(ctx, notificationRef, fmt.Sprintf("delete failed: %v", err))
		return err
	}
	r.reply(ctx, notificationRef, "file deleted")
	return nil
}

func (r *Relay) commandCredential(ctx context.Context, requesterID, notificationRef string) (*oauth2.Token, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, ErrInvalidInput
	}
	if r.credentials == nil || r.provider == nil {
		return nil, fmt.Errorf("provider commands are not configured")
	}
	cred, err := r.credentials.Resolve(ctx, requesterID)
	if err != nil || cred == nil {
		r.reply(ctx, notificationRef, FailureAuthentication)
		if err == nil {
			err = errors.New(FailureAuthentication)
		}
		return nil, err
	}
	return cred, nil
}

func (r *Relay) reply(ctx context.Context, notificationRef, text string) {
	if r.notifier == nil || strings.TrimSpace(notificationRef) == "" {
		return
	}
	_ = r.notifier.RenderMessage(ctx, notificationRef, text)
}
