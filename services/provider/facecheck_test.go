package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient("test-key",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithPollInterval(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, srv
}

func TestUploadImage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload_pic" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("Authorization = %q, want test-key", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, ok := r.MultipartForm.File["images"]; !ok {
			t.Error("missing images form field")
		}
		json.NewEncoder(w).Encode(map[string]string{"id_search": "abc123"})
	}))

	id, err := client.UploadImage(context.Background(), []byte("jpegdata"), "photo.jpg")
	if err != nil {
		t.Fatalf("UploadImage() error = %v", err)
	}
	if id != "abc123" {
		t.Fatalf("UploadImage() = %q, want abc123", id)
	}
}

func TestUploadImageFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
		},
		{
			name: "missing search id",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, tt.handler)

			_, err := client.UploadImage(context.Background(), []byte("x"), "")
			var uploadErr *UploadError
			if !errors.As(err, &uploadErr) {
				t.Fatalf("UploadImage() error = %v, want *UploadError", err)
			}
		})
	}
}

func TestSearchPollsUntilComplete(t *testing.T) {
	var polls int
	var progressSeen []int

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode poll request: %v", err)
		}
		if req["id_search"] != "abc123" {
			t.Errorf("id_search = %v, want abc123", req["id_search"])
		}

		polls++
		if polls < 2 {
			json.NewEncoder(w).Encode(map[string]any{"progress": 50})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"progress": 100,
			"output": map[string]any{
				"items": []map[string]any{
					{"score": 91, "url": "https://example.com/a"},
					{"score": 72, "url": "https://example.com/b"},
				},
				"searchedFaces": 2,
			},
		})
	}))

	result, err := client.Search(context.Background(), "abc123", true, func(p int) {
		progressSeen = append(progressSeen, p)
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if polls != 2 {
		t.Errorf("polls = %d, want 2", polls)
	}
	if !reflect.DeepEqual(progressSeen, []int{50, 100}) {
		t.Errorf("progress seen = %v, want [50 100]", progressSeen)
	}
	if len(result.Output.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(result.Output.Items))
	}
	if result.Output.Items[0].Score != 91 {
		t.Errorf("first score = %d, want 91", result.Output.Items[0].Score)
	}
}

func TestSearchProviderError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"error": "face not detected"})
	}))

	_, err := client.Search(context.Background(), "abc123", true, nil)
	var searchErr *SearchError
	if !errors.As(err, &searchErr) {
		t.Fatalf("Search() error = %v, want *SearchError", err)
	}
	if searchErr.Message != "face not detected" {
		t.Errorf("message = %q, want provider message verbatim", searchErr.Message)
	}
}

func TestSearchPanickingCallbackDoesNotAbort(t *testing.T) {
	var polls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls < 2 {
			json.NewEncoder(w).Encode(map[string]any{"progress": 10})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"progress": 100})
	}))

	result, err := client.Search(context.Background(), "abc123", false, func(p int) {
		panic("status surface unavailable")
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if result.Progress != 100 {
		t.Errorf("progress = %d, want 100", result.Progress)
	}
}

func TestSearchContextCancellation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"progress": 10})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Search(ctx, "abc123", true, nil)
	if err == nil {
		t.Fatal("Search() expected error after context cancellation")
	}
}
