package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const defaultS4FURL = "https://search4faces.com/api/json-rpc/v1"

// S4FClient talks to the search4faces JSON-RPC API, the secondary provider
// used for VK-sourced lookups.
type S4FClient struct {
	apiURL string
	apiKey string
	httpc  *http.Client
}

// NewS4FClient creates a search4faces client authenticated with apiKey.
func NewS4FClient(apiKey string) (*S4FClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return &S4FClient{
		apiURL: defaultS4FURL,
		apiKey: apiKey,
		httpc:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// SetAPIURL overrides the JSON-RPC endpoint, primarily for tests.
func (c *S4FClient) SetAPIURL(u string) { c.apiURL = u }

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *S4FClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-authorization-token", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search4faces call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpc rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return nil, fmt.Errorf("search4faces decode %s: %w", method, err)
	}
	if rpc.Error != nil {
		return nil, &SearchError{Message: rpc.Error.Message}
	}
	return rpc.Result, nil
}

// RateLimit reports API key status and remaining requests.
func (c *S4FClient) RateLimit(ctx context.Context) (map[string]any, error) {
	raw, err := c.call(ctx, "rateLimit", map[string]any{})
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// DetectResult carries the detectFaces response: an opaque image reference
// and the faces found in it.
type DetectResult struct {
	Image string            `json:"image"`
	Faces []json.RawMessage `json:"faces"`
}

// DetectFaces submits image bytes and returns the detected faces.
func (c *S4FClient) DetectFaces(ctx context.Context, image []byte) (*DetectResult, error) {
	raw, err := c.call(ctx, "detectFaces", map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, err
	}
	var result DetectResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Profile is one VK profile match.
type Profile struct {
	URL       string  `json:"url"`
	Score     float64 `json:"score"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
}

// SearchVK runs the two-step pipeline: detect faces, then search the chosen
// source with the first detected face. Progress hints are emitted at fixed
// checkpoints since the API itself reports none.
func (c *S4FClient) SearchVK(ctx context.Context, image []byte, source string, resultsCount int, onProgress ProgressFunc) ([]Profile, error) {
	if source == "" {
		source = "vk_wall"
	}
	if resultsCount <= 0 {
		resultsCount = 10
	}

	notifyProgress(onProgress, 10)

	detect, err := c.DetectFaces(ctx, image)
	if err != nil {
		return nil, err
	}
	if len(detect.Faces) == 0 {
		return nil, &SearchError{Message: "No faces found in image"}
	}

	notifyProgress(onProgress, 30)

	raw, err := c.call(ctx, "searchFace", map[string]any{
		"image":   detect.Image,
		"face":    detect.Faces[0],
		"source":  source,
		"results": resultsCount,
	})
	if err != nil {
		return nil, err
	}

	notifyProgress(onProgress, 100)

	var result struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return result.Profiles, nil
}

// SubmitAndWait runs the detect-then-search pipeline and shapes the profiles
// into the common result payload, so the orchestrator can run on either
// provider. search4faces has no demo mode; the flag is ignored.
func (c *S4FClient) SubmitAndWait(ctx context.Context, image []byte, _ bool, onProgress ProgressFunc) (*SearchResult, error) {
	profiles, err := c.SearchVK(ctx, image, "", 0, onProgress)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(profiles))
	for _, p := range profiles {
		items = append(items, Item{Score: int(p.Score), URL: p.URL})
	}
	return &SearchResult{Progress: 100, Output: Output{Items: items}}, nil
}
