package kingfisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/any-hub/imagehub/internal/bitmap"
)

func TestResourceDefaultsCacheKeyToURL(t *testing.T) {
	u, _ := url.Parse("https://img.example.com/a.png?x=1")
	res := NewResource(u, "")
	if res.CacheKey() != "https://img.example.com/a.png?x=1" {
		t.Fatalf("unexpected key %q", res.CacheKey())
	}

	got := res.DownloadURL()
	got.Host = "evil.example.com"
	if res.DownloadURL().Host != "img.example.com" {
		t.Fatalf("resource must not expose its url for mutation")
	}

	custom := NewResource(u, "avatar-1")
	if custom.CacheKey() != "avatar-1" || custom.Equal(res) {
		t.Fatalf("custom key should produce a distinct identity")
	}
	if !res.Equal(NewResource(u, "")) {
		t.Fatalf("same url and key should be equal")
	}
	if !NewResource(nil, "x").IsZero() {
		t.Fatalf("nil url should produce the zero resource")
	}
}

func TestParseResource(t *testing.T) {
	if _, err := ParseResource("ftp://example.com/a.png", ""); err == nil {
		t.Fatalf("ftp scheme should be rejected")
	}
	if _, err := ParseResource("https:///a.png", ""); err == nil {
		t.Fatalf("missing host should be rejected")
	}
	res, err := ParseResource(" https://example.com/a.png ", "")
	if err != nil || res.CacheKey() != "https://example.com/a.png" {
		t.Fatalf("unexpected parse result %v %v", res, err)
	}
}

func TestErrorsMatchByCode(t *testing.T) {
	err := NewInvalidStatusCodeError(http.StatusNotFound)
	if !errors.Is(err, ErrInvalidStatusCode) {
		t.Fatalf("status error should match sentinel")
	}
	if errors.Is(err, ErrBadData) {
		t.Fatalf("status error must not match bad data")
	}
	wrapped := fmt.Errorf("retrieve: %w", WrapBadData(errors.New("boom")))
	if !errors.Is(wrapped, ErrBadData) || CodeOf(wrapped) != CodeBadData {
		t.Fatalf("wrapped bad data lost its code")
	}
	if !errors.Is(ErrCancelled, context.Canceled) {
		t.Fatalf("cancel error should unwrap to context.Canceled")
	}
	var e *Error
	if !errors.As(err, &e) || e.StatusCode != http.StatusNotFound {
		t.Fatalf("status code not carried: %v", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	var opts Options
	if opts.ProcessorIdentifier() != "" {
		t.Fatalf("default processor identifier should be empty")
	}
	if opts.DecodeOptions().Scale != 1 {
		t.Fatalf("default scale should be 1")
	}
	if _, ok := opts.SerializerOrDefault().(bitmap.DefaultSerializer); !ok {
		t.Fatalf("default serializer expected")
	}
	opts.Processor = bitmap.BlurProcessor{Radius: 1}
	if opts.ProcessorIdentifier() == "" {
		t.Fatalf("configured processor ignored")
	}
}
