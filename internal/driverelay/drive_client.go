package driverelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

const defaultDriveChunkSize = 1 << 20

type DriveClientOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	ChunkSize  int64
	UserAgent  string
}

// DriveClient uploads to a cloud-drive HTTP API. Small files go up in one
// request; large files use a resumable session: one session-init call, then
// sequential chunk PUTs acknowledged with 308 until the final chunk returns
// the stored file.
type DriveClient struct {
	baseURL    string
	httpClient *http.Client
	chunkSize  int64
	userAgent  string
}

func NewDriveClient(opts DriveClientOptions) *DriveClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultDriveChunkSize
	}
	return &DriveClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		chunkSize:  chunkSize,
		userAgent:  strings.TrimSpace(opts.UserAgent),
	}
}

type driveFileResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *DriveClient) UploadSingle(ctx context.Context, cred *oauth2.Token, localPath, displayName string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("drive client is nil")
	}
	if cred == nil {
		return "", fmt.Errorf("drive credential is required")
	}
	file, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	uploadURL := c.baseURL + "/upload/v1/files?uploadType=media&name=" + url.QueryEscape(displayName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, file)
	if err != nil {
		return "", err
	}
	c.setHeaders(req, cred)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", driveError("upload", resp)
	}
	var stored driveFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return "", err
	}
	if strings.TrimSpace(stored.ID) == "" {
		return "", fmt.Errorf("drive upload succeeded but returned no file id")
	}
	return stored.ID, nil
}

func (c *DriveClient) UploadChunked(ctx context.Context, cred *oauth2.Token, localPath, displayName string, onProgress func(percent int)) (string, error) {
	if c == nil {
		return "", fmt.Errorf("drive client is nil")
	}
	if cred == nil {
		return "", fmt.Errorf("drive credential is required")
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
		return "", fmt.Errorf("drive chunked upload requires a non-empty file")
	}

	sessionURL, err := c.initSession(ctx, cred, displayName, total)
	if err != nil {
		return "", err
	}

	buf := make([]byte, c.chunkSize)
	var sent int64
	for sent < total {
		n, readErr := io.ReadFull(file, buf)
		if readErr == io.ErrUnexpectedEOF || readErr == io.EOF {
			readErr = nil
		}
		if readErr != nil {
			return "", readErr
		}
		if n == 0 {
			return "", fmt.Errorf("drive chunked upload truncated at %d of %d bytes", sent, total)
		}
		chunk := buf[:n]
		fileID, committed, putErr := c.putChunk(ctx, cred, sessionURL, chunk, sent, total)
		if putErr != nil {
			return "", putErr
		}
		sent += int64(n)
		if onProgress != nil {
			onProgress(int(sent * 100 / total))
		}
		if fileID != "" {
			return fileID, nil
		}
		// On 308 the server reports the committed range; trust it over our
		// own accounting in case a chunk was partially applied.
		if committed >= 0 && committed != sent {
			if _, seekErr := file.Seek(committed, io.SeekStart); seekErr != nil {
				return "", seekErr
			}
			sent = committed
		}
	}
	return "", fmt.Errorf("drive chunked upload ended without a stored file id")
}

func (c *DriveClient) initSession(ctx context.Context, cred *oauth2.Token, displayName string, total int64) (string, error) {
	payload, err := json.Marshal(map[string]any{"name": displayName, "sizeBytes": total})
	if err != nil {
		return "", err
	}
	initURL := c.baseURL + "/upload/v1/files?uploadType=resumable"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, initURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	c.setHeaders(req, cred)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", driveError("session init", resp)
	}
	sessionURL := strings.TrimSpace(resp.Header.Get("Location"))
	if sessionURL == "" {
		return "", fmt.Errorf("drive session init returned no session location")
	}
	if strings.HasPrefix(sessionURL, "/") {
		sessionURL = c.baseURL + sessionURL
	}
	return sessionURL, nil
}

// putChunk returns the stored file id on completion, or the server's
// committed byte offset (-1 if unreported) while the session is open.
func (c *DriveClient) putChunk(ctx context.Context, cred *oauth2.Token, sessionURL string, chunk []byte, offset, total int64) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
	if err != nil {
		return "", -1, err
	}
	c.setHeaders(req, cred)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", -1, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPermanentRedirect:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", parseCommittedRange(resp.Header.Get("Range")), nil
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		var stored driveFileResponse
		if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
			return "", -1, err
		}
		if strings.TrimSpace(stored.ID) == "" {
			return "", -1, fmt.Errorf("drive upload completed but returned no file id")
		}
		return stored.ID, -1, nil
	default:
		return "", -1, driveError("chunk upload", resp)
	}
}

func (c *DriveClient) ListRecent(ctx context.Context, cred *oauth2.Token, limit int) ([]FileMeta, error) {
	if limit <= 0 {
		limit = 10
	}
	listURL := c.baseURL + "/v1/files?orderBy=modifiedAt+desc&limit=" + strconv.Itoa(limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, cred)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, driveError("list", resp)
	}
	var parsed struct {
		Files []FileMeta `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed.Files, nil
}

func (c *DriveClient) Rename(ctx context.Context, cred *oauth2.Token, fileID, newName string) error {
	newName = strings.TrimSpace(newName)
	if strings.TrimSpace(fileID) == "" || newName == "" {
		return ErrInvalidInput
	}
	payload, err := json.Marshal(map[string]string{"name": newName})
	if err != nil {
		return err
	}
	renameURL := c.baseURL + "/v1/files/" + url.PathEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, renameURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.setHeaders(req, cred)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return driveError("rename", resp)
	}
	return nil
}

func (c *DriveClient) Delete(ctx context.Context, cred *oauth2.Token, fileID string) error {
	if strings.TrimSpace(fileID) == "" {
		return ErrInvalidInput
	}
	deleteURL := c.baseURL + "/v1/files/" + url.PathEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req, cred)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return driveError("delete", resp)
	}
	return nil
}

func (c *DriveClient) StorageQuota(ctx context.Context, cred *oauth2.Token) (QuotaInfo, error) {
	aboutURL := c.baseURL + "/v1/about"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, aboutURL, nil)
	if err != nil {
		return QuotaInfo{}, err
	}
	c.setHeaders(req, cred)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return QuotaInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return QuotaInfo{}, driveError("quota", resp)
	}
	var parsed struct {
		Limit int64 `json:"limit"`
		Usage int64 `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return QuotaInfo{}, err
	}
	return QuotaInfo{TotalBytes: parsed.Limit, UsedBytes: parsed.Usage}, nil
}

func (c *DriveClient) setHeaders(req *http.Request, cred *oauth2.Token) {
	if cred != nil {
		cred.SetAuthHeader(req)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func driveError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(body))
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		if m, ok := parsed["message"].(string); ok && strings.TrimSpace(m) != "" {
			message = m
		}
	}
	return fmt.Errorf("drive %s failed: status=%d message=%s", op, resp.StatusCode, message)
}

// parseCommittedRange reads a "bytes=0-1048575" continuation header and
// returns the next byte offset, or -1 if unparseable.
func parseCommittedRange(header string) int64 {
	header = strings.TrimSpace(header)
	if header == "" {
		return -1
	}
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return -1
	}
	end, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || end < 0 {
		return -1
	}
	return end + 1
}

var _ ProviderClient = (*DriveClient)(nil)
