package driverelay

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// ProviderClient is the storage backend boundary. The chunked path drives the
// transfer internally and reports a monotonic percent stream through
// onProgress; callers must not assume any particular chunk size or count.
type ProviderClient interface {
	UploadSingle(ctx context.Context, cred *oauth2.Token, localPath, displayName string) (string, error)
	UploadChunked(ctx context.Context, cred *oauth2.Token, localPath, displayName string, onProgress func(percent int)) (string, error)
	ListRecent(ctx context.Context, cred *oauth2.Token, limit int) ([]FileMeta, error)
	Rename(ctx context.Context, cred *oauth2.Token, fileID, newName string) error
	Delete(ctx context.Context, cred *oauth2.Token, fileID string) error
	StorageQuota(ctx context.Context, cred *oauth2.Token) (QuotaInfo, error)
}

// BuildProviderClientFromDSN selects a storage backend by scheme:
//
//	drive://api.example.com/base?chunkSize=1048576
//	s3://bucket?region=us-east-1&endpoint=...&accessKey=...&secretKey=...&quotaBytes=...
func BuildProviderClientFromDSN(dsn string) (ProviderClient, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupProviderFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "drive", "drives":
		baseURL := "https://" + parsed.Host + strings.TrimRight(parsed.Path, "/")
		if scheme == "drive" && parsed.Query().Get("insecure") == "true" {
			baseURL = "http://" + parsed.Host + strings.TrimRight(parsed.Path, "/")
		}
		return NewDriveClient(DriveClientOptions{
			BaseURL:   baseURL,
			ChunkSize: queryInt64(parsed, "chunkSize", 0),
		}), nil
	case "s3":
		bucket := strings.TrimSpace(parsed.Host)
		if bucket == "" {
			return nil, ErrInvalidInput
		}
		return NewS3Provider(S3ProviderOptions{
			Bucket:     bucket,
			Region:     parsed.Query().Get("region"),
			Endpoint:   parsed.Query().Get("endpoint"),
			AccessKey:  parsed.Query().Get("accessKey"),
			SecretKey:  parsed.Query().Get("secretKey"),
			Prefix:     parsed.Query().Get("prefix"),
			QuotaBytes: queryInt64(parsed, "quotaBytes", 0),
		})
	case "gcs", "azblob":
		return nil, fmt.Errorf("%w: storage provider %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported storage provider scheme: %s", scheme)
	}
}

func queryInt64(parsed *url.URL, key string, fallback int64) int64 {
	raw := strings.TrimSpace(parsed.Query().Get(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}
