// Package uploader drives a recording from draft to the ingestion API. It
// requests an upload ticket, sends the bytes to whichever target the ticket
// names, and finalizes the video row. The draft is never touched: on success
// the caller deletes it, on failure or cancellation it stays for retry.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Progress reports bytes sent out of total at ≥1 Hz while a transfer runs.
type Progress struct {
	BytesSent  int64
	TotalBytes int64
}

// ProgressFunc receives transfer progress samples.
type ProgressFunc func(Progress)

// progressInterval is how often progress is reported.
const progressInterval = time.Second

// maxAttempts bounds retries of retryable failures per HTTP call.
const maxAttempts = 3

// retryDelay is the base backoff between attempts.
const retryDelay = 2 * time.Second

// ErrUploadFailed marks a terminal upload failure after retries.
var ErrUploadFailed = errors.New("uploader: upload failed")

// UploadRequest carries one recording to ingest.
type UploadRequest struct {
	LessonRef   string
	Filename    string
	ContentType string
	Blob        []byte
	OnProgress  ProgressFunc
}

// Result reports the video row created for the upload.
type Result struct {
	VideoRef  string `json:"id"`
	LessonRef string `json:"lesson_id"`
	Status    string `json:"status"`
	SizeBytes int64  `json:"size_bytes"`
}

// Client talks to the video ingestion API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// New builds a client for the API at baseURL. token is sent as a bearer
// token when non-empty.
func New(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Minute},
		log:     log.With().Str("component", "uploader").Logger(),
	}
}

type ticket struct {
	Target     string `json:"target"`
	UploadURL  string `json:"upload_url"`
	UploadID   string `json:"upload_id"`
	StorageKey string `json:"storage_key"`
	ExpiresIn  int    `json:"expires_in"`
}

// Upload sends one recording. The target is chosen by the server:
// provider-direct is preferred, store-direct next, server-proxied last.
// Cancelling the context aborts the in-flight request; the caller's draft
// is left intact either way.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (*Result, error) {
	t, err := c.requestTicket(ctx, req)
	if err != nil {
		return nil, err
	}

	switch t.Target {
	case "provider":
		if err := c.putBlob(ctx, t.UploadURL, req); err != nil {
			return nil, err
		}
		// The provider path's video row was created at ticket issuance;
		// processing is driven by the provider's webhooks from here.
		return &Result{LessonRef: req.LessonRef, Status: "uploading", SizeBytes: int64(len(req.Blob))}, nil

	case "store":
		if err := c.putBlob(ctx, t.UploadURL, req); err != nil {
			return nil, err
		}
		return c.completeUpload(ctx, req, t)

	default:
		return c.proxyUpload(ctx, req)
	}
}

func (c *Client) requestTicket(ctx context.Context, req UploadRequest) (*ticket, error) {
	body, err := json.Marshal(map[string]any{
		"lesson_ref":   req.LessonRef,
		"filename":     req.Filename,
		"content_type": req.ContentType,
		"size_bytes":   len(req.Blob),
	})
	if err != nil {
		return nil, err
	}

	var t ticket
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/videos/direct-upload", "application/json", func() io.Reader {
		return bytes.NewReader(body)
	}, &t); err != nil {
		return nil, fmt.Errorf("uploader: request ticket: %w", err)
	}
	return &t, nil
}

// putBlob PUTs the payload to a presigned or provider URL with progress
// reporting.
func (c *Client) putBlob(ctx context.Context, url string, req UploadRequest) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt-1)):
			}
		}

		reader := newProgressReader(bytes.NewReader(req.Blob), int64(len(req.Blob)), req.OnProgress)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, reader)
		if err != nil {
			return err
		}
		httpReq.ContentLength = int64(len(req.Blob))
		if req.ContentType != "" {
			httpReq.Header.Set("Content-Type", req.ContentType)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("blob PUT failed, retrying")
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 300 {
			reader.finish()
			return nil
		}
		lastErr = fmt.Errorf("status %d", resp.StatusCode)
		if resp.StatusCode < 500 {
			break
		}
		c.log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("blob PUT rejected, retrying")
	}
	return fmt.Errorf("%w: %v", ErrUploadFailed, lastErr)
}

func (c *Client) completeUpload(ctx context.Context, req UploadRequest, t *ticket) (*Result, error) {
	body, err := json.Marshal(map[string]any{
		"lesson_ref":  req.LessonRef,
		"target":      t.Target,
		"storage_key": t.StorageKey,
		"size_bytes":  len(req.Blob),
	})
	if err != nil {
		return nil, err
	}

	var result Result
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/videos/direct-upload/complete", "application/json", func() io.Reader {
		return bytes.NewReader(body)
	}, &result); err != nil {
		return nil, fmt.Errorf("uploader: finalize: %w", err)
	}
	return &result, nil
}

// proxyUpload streams the payload through the API as multipart form data.
func (c *Client) proxyUpload(ctx context.Context, req UploadRequest) (*Result, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("lesson_ref", req.LessonRef); err != nil {
		return nil, err
	}
	part, err := w.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Blob); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	payload := buf.Bytes()
	buildBody := func() io.Reader {
		return newProgressReader(bytes.NewReader(payload), int64(len(payload)), req.OnProgress)
	}

	var result Result
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/videos/upload", w.FormDataContentType(), buildBody, &result); err != nil {
		return nil, fmt.Errorf("uploader: proxied upload: %w", err)
	}
	return &result, nil
}

// doJSON performs a request with retry on transient failures, decoding a
// JSON response into out. bodyFn rebuilds the body per attempt.
func (c *Client) doJSON(ctx context.Context, method, url, contentType string, bodyFn func() io.Reader, out any) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt-1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyFn())
		if err != nil {
			return err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, raw)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		return err
	}
	return fmt.Errorf("%w: %v", ErrUploadFailed, lastErr)
}

// progressReader wraps a reader and reports progress once per interval.
type progressReader struct {
	inner    io.Reader
	total    int64
	sent     atomic.Int64
	onChange ProgressFunc
	lastTick atomic.Int64
}

func newProgressReader(inner io.Reader, total int64, fn ProgressFunc) *progressReader {
	return &progressReader{inner: inner, total: total, onChange: fn}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.inner.Read(buf)
	if n > 0 {
		sent := p.sent.Add(int64(n))
		now := time.Now().UnixNano()
		last := p.lastTick.Load()
		if now-last >= int64(progressInterval) && p.lastTick.CompareAndSwap(last, now) {
			p.report(sent)
		}
	}
	return n, err
}

func (p *progressReader) finish() {
	p.report(p.sent.Load())
}

func (p *progressReader) report(sent int64) {
	if p.onChange != nil {
		p.onChange(Progress{BytesSent: sent, TotalBytes: p.total})
	}
}
