package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoImage is returned when a result item carries no usable image source.
var ErrNoImage = errors.New("result item has no image source")

const maxImageBytes = 10 << 20

// ResolveImage returns the image bytes for a result item by trying each
// source in order: inline base64 data, then image_url, then thumb_url.
func ResolveImage(ctx context.Context, httpc *http.Client, item Item) ([]byte, error) {
	if item.Base64 != "" {
		data := item.Base64
		// Inline images may arrive as a data URI.
		if idx := strings.Index(data, ","); idx >= 0 && strings.HasPrefix(data, "data:") {
			data = data[idx+1:]
		}
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err == nil {
			return decoded, nil
		}
	}

	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}

	for _, u := range []string{item.ImageURL, item.ThumbURL} {
		if u == "" {
			continue
		}
		data, err := fetchImage(ctx, httpc, u)
		if err == nil {
			return data, nil
		}
	}

	return nil, ErrNoImage
}

func fetchImage(ctx context.Context, httpc *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}
