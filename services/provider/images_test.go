package provider

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveImageInline(t *testing.T) {
	want := []byte("jpeg-bytes")
	item := Item{Base64: base64.StdEncoding.EncodeToString(want)}

	got, err := ResolveImage(context.Background(), nil, item)
	if err != nil {
		t.Fatalf("ResolveImage() error = %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("ResolveImage() = %q, want %q", got, want)
	}
}

func TestResolveImageFallsBackToThumb(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/full.jpg":
			w.WriteHeader(http.StatusNotFound)
		case "/thumb.jpg":
			w.Write([]byte("thumb-bytes"))
		}
	}))
	defer srv.Close()

	item := Item{
		ImageURL: srv.URL + "/full.jpg",
		ThumbURL: srv.URL + "/thumb.jpg",
	}

	got, err := ResolveImage(context.Background(), srv.Client(), item)
	if err != nil {
		t.Fatalf("ResolveImage() error = %v", err)
	}
	if string(got) != "thumb-bytes" {
		t.Fatalf("ResolveImage() = %q, want thumb-bytes", got)
	}
}

func TestResolveImageNoSource(t *testing.T) {
	_, err := ResolveImage(context.Background(), nil, Item{})
	if err != ErrNoImage {
		t.Fatalf("ResolveImage() error = %v, want ErrNoImage", err)
	}
}
