package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxImageBytes bounds what we are willing to copy from a provider.
const maxImageBytes = 32 << 20

type ObjectUploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Archiver copies short-lived provider images into durable storage.
type Archiver struct {
	uploader   ObjectUploader
	httpClient *http.Client
	log        *slog.Logger
	now        func() time.Time
}

func NewArchiver(uploader ObjectUploader, httpClient *http.Client, log *slog.Logger) *Archiver {
	return &Archiver{
		uploader:   uploader,
		httpClient: httpClient,
		log:        log,
		now:        time.Now,
	}
}

// Archive downloads sourceURL (http(s) or data: URL) and uploads it under
// {owner}/{unix millis}.png, returning the durable public URL.
func (a *Archiver) Archive(ctx context.Context, owner, sourceURL string) (string, error) {
	if a == nil || a.uploader == nil {
		return "", fmt.Errorf("archival storage not configured")
	}
	if owner == "" {
		return "", fmt.Errorf("archive owner is required")
	}

	data, contentType, err := a.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("source is %s, not an image", contentType)
	}

	key := fmt.Sprintf("%s/%d.png", url.PathEscape(owner), a.now().UnixMilli())
	publicURL, err := a.uploader.Upload(ctx, key, data, contentType)
	if err != nil {
		return "", err
	}
	if a.log != nil {
		a.log.Info("generation archived", "key", key, "bytes", len(data))
	}
	return publicURL, nil
}

func (a *Archiver) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	if strings.HasPrefix(sourceURL, "data:") {
		return decodeDataURL(sourceURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("downloaded image is empty")
	}
	return data, http.DetectContentType(data), nil
}

func decodeDataURL(dataURL string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(dataURL, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data url")
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, "", fmt.Errorf("data url is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("data url is empty")
	}
	contentType := strings.TrimSuffix(header, ";base64")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
