package translate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	perr "gitrank/internal/platform/errors"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
	puts int
}

func (f *fakeCache) key(target, text string) string { return target + "\x00" + text }

func (f *fakeCache) Get(_ context.Context, target, text string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out, ok := f.data[f.key(target, text)]
	return out, ok, nil
}

func (f *fakeCache) Put(_ context.Context, target, text, out string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = map[string]string{}
	}
	f.data[f.key(target, text)] = out
	f.puts++
	return nil
}

func TestTranslate_CacheMissHitsNetworkOnce(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if got := r.URL.Query().Get("target"); got != "fr" {
			t.Errorf("target = %q", got)
		}
		_, _ = w.Write([]byte(`{"data": {"translations": [{"translatedText": "Allemagne"}]}}`))
	}))
	defer srv.Close()

	cache := &fakeCache{}
	c := NewClient(Options{BaseURL: srv.URL}, cache)

	for i := 0; i < 3; i++ {
		out, err := c.Translate(context.Background(), "Germany", "fr")
		if err != nil {
			t.Fatalf("Translate: %v", err)
		}
		if out != "Allemagne" {
			t.Fatalf("out = %q", out)
		}
	}
	if hits != 1 {
		t.Errorf("network hits = %d, want 1", hits)
	}
	if cache.puts != 1 {
		t.Errorf("cache puts = %d, want 1", cache.puts)
	}
}

func TestTranslate_EmptyTextShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("network should not be consulted")
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL}, nil)
	out, err := c.Translate(context.Background(), "", "fr")
	if err != nil || out != "" {
		t.Fatalf("got %q, %v", out, err)
	}
}

func TestTranslate_QuotaStatusSurfacesQuotaCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL}, nil)
	_, err := c.Translate(context.Background(), "Germany", "fr")
	if !perr.IsCode(err, perr.ErrorCodeQuota) {
		t.Fatalf("expected quota code, got %v", err)
	}
}

func TestTranslate_NilCacheStillWorks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"translations": [{"translatedText": "Alemania"}]}}`))
	}))
	defer srv.Close()

	c := NewClient(Options{BaseURL: srv.URL}, nil)
	out, err := c.Translate(context.Background(), "Germany", "es")
	if err != nil || out != "Alemania" {
		t.Fatalf("got %q, %v", out, err)
	}
}
