// Package engine talks to the speech synthesis engine over HTTP.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

const (
	apiSynthesize = "/v1/synthesize"
	apiHealth     = "/health"

	contentTypeJSON = "application/json"
	contentTypeMP3  = "audio/mpeg"

	// maxErrorBody caps how much of a failed response is kept for logging.
	maxErrorBody = 4 << 10
)

var (
	ErrEmptyText  = errors.New("text cannot be empty")
	ErrEmptyVoice = errors.New("voice cannot be empty")
	ErrEmptyAudio = errors.New("engine returned empty audio")
)

// Request is the JSON body of a synthesis call.
type Request struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// ErrorResponse is the structured error body returned by the engine.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// StatusError is returned when the engine answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Detail     string
	ErrorCode  string
}

func (e *StatusError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("engine returned %d: %s (code: %s)", e.StatusCode, e.Detail, e.ErrorCode)
	}
	return fmt.Sprintf("engine returned %d: %s", e.StatusCode, e.Detail)
}

// Client is an HTTP client for the synthesis engine.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Client for baseURL (e.g. "http://127.0.0.1:5002").
// timeout bounds every request; zero means no client-side limit.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Synthesize renders text with the given engine voice code and returns MP3 bytes.
func (c *Client) Synthesize(ctx context.Context, text, voiceCode string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if voiceCode == "" {
		return nil, ErrEmptyVoice
	}

	body, err := json.Marshal(Request{Text: text, Voice: voiceCode})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiSynthesize, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeMP3)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach engine at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseErrorResponse(resp)
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != contentTypeMP3 {
		return nil, fmt.Errorf("unexpected content type: expected %s, got %q", contentTypeMP3, resp.Header.Get("Content-Type"))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}

// HealthCheck returns nil when the engine reports healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for engine at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}
	return nil
}

// parseErrorResponse decodes the engine's JSON error body, falling back to the raw text.
func parseErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	statusErr := &StatusError{StatusCode: resp.StatusCode}
	var errorResp ErrorResponse
	if err := json.Unmarshal(raw, &errorResp); err == nil && errorResp.Detail != "" {
		statusErr.Detail = errorResp.Detail
		statusErr.ErrorCode = errorResp.ErrorCode
		return statusErr
	}

	statusErr.Detail = strings.TrimSpace(string(raw))
	if statusErr.Detail == "" {
		statusErr.Detail = http.StatusText(resp.StatusCode)
	}
	return statusErr
}
