package driverelay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/oauth2"
)

// S3 requires parts of at least 5 MiB (except the last).
const s3MinPartSize = 5 << 20

const s3AbortTimeout = 5 * time.Second

type S3ProviderOptions struct {
	Bucket     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Prefix     string
	PartSize   int64
	QuotaBytes int64
}

// S3Provider stores relayed files in one bucket. Access is bucket-scoped and
// configured at construction, so the per-requester oauth token is not used
// for authorization here; it still gates admission upstream.
type S3Provider struct {
	client     *s3.Client
	bucket     string
	prefix     string
	partSize   int64
	quotaBytes int64
}

func NewS3Provider(opts S3ProviderOptions) (*S3Provider, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, ErrInvalidInput
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}
	partSize := opts.PartSize
	if partSize < s3MinPartSize {
		partSize = 8 << 20
	}

	ctx := context.Background()
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if strings.TrimSpace(opts.AccessKey) != "" && strings.TrimSpace(opts.SecretKey) != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO
		}
	})
	return &S3Provider{
		client:     client,
		bucket:     bucket,
		prefix:     strings.Trim(strings.TrimSpace(opts.Prefix), "/"),
		partSize:   partSize,
		quotaBytes: opts.QuotaBytes,
	}, nil
}

func (p *S3Provider) UploadSingle(ctx context.Context, cred *oauth2.Token, localPath, displayName string) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("s3 provider is nil")
	}
	file, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	key := p.objectKey(displayName)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to s3: %w", err)
	}
	return key, nil
}

func (p *S3Provider) UploadChunked(ctx context.Context, cred *oauth2.Token, localPath, displayName string, onProgress func(percent int)) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("s3 provider is nil")
	}
	file, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	total := info.Size()
	if total <= 0 {
		return "", fmt.Errorf("s3 multipart upload requires a non-empty file")
	}

	key := p.objectKey(displayName)
	created, err := p.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to initiate multipart upload: %w", err)
	}
	uploadID := aws.ToString(created.UploadId)

	completedParts := make([]types.CompletedPart, 0)
	buf := make([]byte, p.partSize)
	var sent int64
	partNumber := int32(1)
	for sent < total {
		n, readErr := io.ReadFull(file, buf)
		if readErr == io.ErrUnexpectedEOF || readErr == io.EOF {
			readErr = nil
		}
		if readErr != nil {
			p.abortMultipart(key, uploadID)
			return "", readErr
		}
		if n == 0 {
			p.abortMultipart(key, uploadID)
			return "", fmt.Errorf("s3 multipart upload truncated at %d of %d bytes", sent, total)
		}
		part, partErr := p.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(p.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(buf[:n]),
		})
		if partErr != nil {
			p.abortMultipart(key, uploadID)
			return "", fmt.Errorf("failed to upload part %d: %w", partNumber, partErr)
		}
		completedParts = append(completedParts, types.CompletedPart{
			PartNumber: aws.Int32(partNumber),
			ETag:       part.ETag,
		})
		sent += int64(n)
		partNumber++
		if onProgress != nil {
			onProgress(int(sent * 100 / total))
		}
	}

	sort.Slice(completedParts, func(i, j int) bool {
		return aws.ToInt32(completedParts[i].PartNumber) < aws.ToInt32(completedParts[j].PartNumber)
	})
	_, err = p.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completedParts,
		},
	})
	if err != nil {
		p.abortMultipart(key, uploadID)
		return "", fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return key, nil
}

func (p *S3Provider) abortMultipart(key, uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s3AbortTimeout)
	defer cancel()
	_, _ = p.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
}

func (p *S3Provider) ListRecent(ctx context.Context, cred *oauth2.Token, limit int) ([]FileMeta, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("s3 provider is nil")
	}
	if limit <= 0 {
		limit = 10
	}
	items := make([]FileMeta, 0)
	var continuation *string
	for {
		page, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.bucket),
			Prefix:            p.listPrefix(),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list s3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			meta := FileMeta{
				FileID:    aws.ToString(obj.Key),
				Name:      strings.TrimPrefix(aws.ToString(obj.Key), p.keyPrefix()),
				SizeBytes: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				meta.ModifiedAt = obj.LastModified.UTC().Format("2006-01-02T15:04:05Z07:00")
			}
			items = append(items, meta)
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		continuation = page.NextContinuationToken
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ModifiedAt > items[j].ModifiedAt
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (p *S3Provider) Rename(ctx context.Context, cred *oauth2.Token, fileID, newName string) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("s3 provider is nil")
	}
	newName = strings.TrimSpace(newName)
	if strings.TrimSpace(fileID) == "" || newName == "" {
		return ErrInvalidInput
	}
	newKey := p.objectKey(newName)
	_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		CopySource: aws.String(p.bucket + "/" + fileID),
		Key:        aws.String(newKey),
	})
	if err != nil {
		return fmt.Errorf("failed to rename s3 object: %w", err)
	}
	_, err = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return fmt.Errorf("failed to remove renamed s3 object: %w", err)
	}
	return nil
}

func (p *S3Provider) Delete(ctx context.Context, cred *oauth2.Token, fileID string) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("s3 provider is nil")
	}
	if strings.TrimSpace(fileID) == "" {
		return ErrInvalidInput
	}
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from s3: %w", err)
	}
	return nil
}

func (p *S3Provider) StorageQuota(ctx context.Context, cred *oauth2.Token) (QuotaInfo, error) {
	if p == nil || p.client == nil {
		return QuotaInfo{}, fmt.Errorf("s3 provider is nil")
	}
	var used int64
	var continuation *string
	for {
		page, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.bucket),
			Prefix:            p.listPrefix(),
			ContinuationToken: continuation,
		})
		if err != nil {
			return QuotaInfo{}, fmt.Errorf("failed to compute s3 usage: %w", err)
		}
		for _, obj := range page.Contents {
			used += aws.ToInt64(obj.Size)
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		continuation = page.NextContinuationToken
	}
	return QuotaInfo{TotalBytes: p.quotaBytes, UsedBytes: used}, nil
}

func (p *S3Provider) objectKey(displayName string) string {
	name := sanitizeName(displayName)
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

func (p *S3Provider) keyPrefix() string {
	if p.prefix == "" {
		return ""
	}
	return p.prefix + "/"
}

func (p *S3Provider) listPrefix() *string {
	if p.prefix == "" {
		return nil
	}
	return aws.String(p.keyPrefix())
}

var _ ProviderClient = (*S3Provider)(nil)
