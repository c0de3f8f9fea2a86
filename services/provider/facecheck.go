package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	defaultBaseURL      = "https://facecheck.id/api"
	defaultPollInterval = 2 * time.Second
)

// Client talks to the FaceCheck HTTP API: one upload call followed by a
// status poll until the job reports completion.
type Client struct {
	baseURL      string
	apiKey       string
	httpc        *http.Client
	pollInterval time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client used for all calls.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithPollInterval overrides the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// NewClient creates a FaceCheck client authenticated with apiKey.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}

	c := &Client{
		baseURL:      defaultBaseURL,
		apiKey:       apiKey,
		httpc:        &http.Client{},
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// UploadImage submits image bytes and returns the provider-assigned search id.
func (c *Client) UploadImage(ctx context.Context, image []byte, filename string) (string, error) {
	if filename == "" {
		filename = "photo.jpg"
	}

	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("images", filename)
	if err != nil {
		return "", &UploadError{Reason: "build form", Err: err}
	}
	if _, err := part.Write(image); err != nil {
		return "", &UploadError{Reason: "write image", Err: err}
	}
	if err := form.Close(); err != nil {
		return "", &UploadError{Reason: "close form", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload_pic", body)
	if err != nil {
		return "", &UploadError{Reason: "build request", Err: err}
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &UploadError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &UploadError{Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var payload struct {
		IDSearch string `json:"id_search"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", &UploadError{Reason: "decode response", Err: err}
	}
	if payload.IDSearch == "" {
		return "", &UploadError{Reason: "no search id in response"}
	}

	return payload.IDSearch, nil
}

// Search polls the status endpoint until the job completes or the provider
// reports an error. The loop is deliberately unbounded with a fixed interval
// and no backoff; a caller-supplied context deadline is the only way to bail
// out early. onProgress is invoked on every progress change; a panicking
// callback does not abort the poll.
func (c *Client) Search(ctx context.Context, idSearch string, demo bool, onProgress ProgressFunc) (*SearchResult, error) {
	if idSearch == "" {
		return nil, errors.New("search id is required")
	}

	reqBody, err := json.Marshal(map[string]any{
		"id_search":     idSearch,
		"with_progress": true,
		"status_only":   false,
		"demo":          demo,
	})
	if err != nil {
		return nil, err
	}

	lastProgress := -1
	for {
		result, err := c.pollOnce(ctx, reqBody)
		if err != nil {
			return nil, err
		}

		if result.Error != "" {
			return nil, &SearchError{Message: result.Error}
		}

		if result.Progress != lastProgress {
			lastProgress = result.Progress
			notifyProgress(onProgress, result.Progress)
		}

		if result.Progress >= 100 {
			final := result.SearchResult
			final.IDSearch = idSearch
			return &final, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// SubmitAndWait runs the full pipeline: upload the image, then poll the
// search to completion.
func (c *Client) SubmitAndWait(ctx context.Context, image []byte, demo bool, onProgress ProgressFunc) (*SearchResult, error) {
	idSearch, err := c.UploadImage(ctx, image, "photo.jpg")
	if err != nil {
		return nil, err
	}
	return c.Search(ctx, idSearch, demo, onProgress)
}

type pollResponse struct {
	SearchResult
	Error string `json:"error"`
}

func (c *Client) pollOnce(ctx context.Context, body []byte) (*pollResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &SearchError{Message: fmt.Sprintf("search status %d", resp.StatusCode)}
	}

	var result pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func notifyProgress(fn ProgressFunc, progress int) {
	if fn == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	fn(progress)
}
