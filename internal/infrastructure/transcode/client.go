package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lms-server/internal/config"
)

// ErrProviderUnavailable marks transient provider failures. Calls are retried
// a bounded number of times before the error surfaces to the caller.
var ErrProviderUnavailable = errors.New("transcoding provider unavailable")

// Transient failures get two more tries with doubling backoff. Rejections
// (4xx) are terminal.
const (
	maxAttempts   = 3
	retryBaseWait = 500 * time.Millisecond
)

// ErrProviderDisabled is returned when no provider is configured.
var ErrProviderDisabled = errors.New("transcoding provider is not configured; set PROVIDER_* to enable")

// DirectUpload is a provider-issued, time-limited upload target.
type DirectUpload struct {
	UploadID  string `json:"upload_id"`
	UploadURL string `json:"upload_url"`
	ExpiresIn int    `json:"expires_in"`
}

// Client talks to the external transcoding provider's REST API.
type Client struct {
	baseURL    string
	tokenID    string
	tokenKey   string
	httpClient *http.Client
	log        zerolog.Logger
	disabled   bool
}

func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	c := &Client{
		baseURL:  strings.TrimSuffix(strings.TrimSpace(cfg.ProviderBaseURL), "/"),
		tokenID:  cfg.ProviderTokenID,
		tokenKey: cfg.ProviderTokenSecret,
		httpClient: &http.Client{
			Timeout: cfg.ProviderTimeout,
		},
		log: log.With().Str("component", "transcode-client").Logger(),
	}
	if !cfg.ProviderEnabled || c.baseURL == "" {
		c.disabled = true
	}
	return c
}

// Enabled reports whether direct-to-provider uploads are available.
func (c *Client) Enabled() bool {
	return !c.disabled
}

// CreateDirectUpload asks the provider for a one-shot upload URL. The client
// PUTs the blob there; asset creation is announced later via webhook.
func (c *Client) CreateDirectUpload(ctx context.Context) (*DirectUpload, error) {
	if c.disabled {
		return nil, ErrProviderDisabled
	}

	body := map[string]any{
		"new_asset_settings": map[string]any{"playback_policy": []string{"signed"}},
		"cors_origin":        "*",
	}
	var out struct {
		Data struct {
			ID      string `json:"id"`
			URL     string `json:"url"`
			Timeout int    `json:"timeout"`
			Status  string `json:"status"`
			AssetID string `json:"asset_id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/video/v1/uploads", body, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" || out.Data.URL == "" {
		return nil, fmt.Errorf("%w: empty upload response", ErrProviderUnavailable)
	}
	return &DirectUpload{
		UploadID:  out.Data.ID,
		UploadURL: out.Data.URL,
		ExpiresIn: out.Data.Timeout,
	}, nil
}

// Submit creates an asset from an object already in the store and returns the
// provider asset id. The ready/failed outcome arrives via webhook.
func (c *Client) Submit(ctx context.Context, sourceURL string) (string, error) {
	if c.disabled {
		return "", ErrProviderDisabled
	}

	body := map[string]any{
		"input":           []map[string]string{{"url": sourceURL}},
		"playback_policy": []string{"signed"},
	}
	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/video/v1/assets", body, &out); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("%w: empty asset response", ErrProviderUnavailable)
	}
	return out.Data.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(retryBaseWait << (attempt - 2))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			c.log.Warn().Str("path", path).Int("attempt", attempt).Msg("retrying provider call")
		}

		err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errors.Is(err, ErrProviderUnavailable) {
			return err
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokenID != "" {
		req.SetBasicAuth(c.tokenID, c.tokenKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s", ErrProviderUnavailable, resp.Status)
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider rejected %s %s: %s: %s", method, path, resp.Status, string(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProviderUnavailable, err)
	}
	return nil
}
