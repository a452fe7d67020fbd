package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxContentBytes caps input content read into memory for fingerprinting.
const maxContentBytes = 256 << 20

// ContentFetcher resolves content references: http(s) URLs are fetched
// directly, anything else is treated as an object key in storage.
type ContentFetcher struct {
	httpClient *http.Client
	storage    StorageClient
}

// NewContentFetcher creates a fetcher; storage may be nil.
func NewContentFetcher(storage StorageClient, timeout time.Duration) *ContentFetcher {
	return &ContentFetcher{
		httpClient: &http.Client{Timeout: timeout},
		storage:    storage,
	}
}

// Open streams the referenced content.
func (f *ContentFetcher) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, Permanent("BAD_REFERENCE", "invalid content URL "+ref, err)
		}
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return nil, Transient("NETWORK", "failed to fetch "+ref, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			msg := fmt.Sprintf("fetching %s returned status %d", ref, resp.StatusCode)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return nil, Transient("FETCH_FAILED", msg, nil)
			}
			return nil, Permanent("FETCH_FAILED", msg, nil)
		}
		return resp.Body, nil
	}

	if f.storage == nil {
		return nil, Permanent("BAD_REFERENCE", "cannot resolve "+ref+" without object storage", nil)
	}
	body, err := f.storage.Download(ctx, ref)
	if err != nil {
		return nil, Transient("STORAGE", "failed to read "+ref, err)
	}
	return body, nil
}

// Fetch reads the referenced content fully.
func (f *ContentFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	body, err := f.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxContentBytes+1))
	if err != nil {
		return nil, Transient("NETWORK", "failed to read "+ref, err)
	}
	if len(data) > maxContentBytes {
		return nil, Permanent("TOO_LARGE", ref+" exceeds the input size limit", nil)
	}
	return data, nil
}
