package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func gzBytes(t *testing.T, raw string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(raw)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestFetcher_DownloadsAndCaches(t *testing.T) {
	ref := SliceRef{Year: 2013, Month: 2, Day: 1, Hour: 5}
	payload := gzBytes(t, event("alice")+"\n")

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/2013-02-01-5.json.gz" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), time.Second, WithBaseURL(srv.URL))

	path, ok, err := f.Fetch(context.Background(), ref)
	if err != nil || !ok {
		t.Fatalf("Fetch = (%q, %v, %v), want ok", path, ok, err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("artifact bytes differ from upstream payload")
	}

	// second fetch must be a local no-network hit
	if _, ok, err := f.Fetch(context.Background(), ref); err != nil || !ok {
		t.Fatalf("cached Fetch = (%v, %v)", ok, err)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("upstream hits = %d, want 1", n)
	}
}

func TestFetcher_MissingSliceIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), time.Second, WithBaseURL(srv.URL))
	_, ok, err := f.Fetch(context.Background(), SliceRef{Year: 2013, Month: 1, Day: 1, Hour: 0})
	if err != nil {
		t.Fatalf("Fetch on 404 err = %v, want nil", err)
	}
	if ok {
		t.Fatal("Fetch on 404 ok = true, want false")
	}
}

func TestFetcher_TransportFailureIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	f := NewFetcher(t.TempDir(), 250*time.Millisecond, WithBaseURL(srv.URL))
	_, ok, err := f.Fetch(context.Background(), SliceRef{Year: 2013, Month: 1, Day: 1, Hour: 0})
	if err != nil {
		t.Fatalf("Fetch on refused conn err = %v, want nil", err)
	}
	if ok {
		t.Fatal("Fetch on refused conn ok = true, want false")
	}
}

func TestFetcher_NoPartialArtifactVisible(t *testing.T) {
	dir := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(gzBytes(t, event("a")))
	}))
	defer srv.Close()

	f := NewFetcher(dir, time.Second, WithBaseURL(srv.URL))
	if _, ok, err := f.Fetch(context.Background(), SliceRef{Year: 2013, Month: 3, Day: 4, Hour: 12}); err != nil || !ok {
		t.Fatalf("Fetch = (%v, %v)", ok, err)
	}

	// nothing but the finished artifact may remain in the cache dir
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "2013-03-04-12.json.gz" {
		t.Fatalf("cache dir entries = %v, want only the artifact", entries)
	}
}

func TestSliceRef_Fields(t *testing.T) {
	ref := SliceRef{Year: 2013, Month: 2, Day: 3, Hour: 7} // a Sunday
	if got := ref.String(); got != "2013-02-03-7" {
		t.Fatalf("String = %q", got)
	}
	if got := ref.Weekday(); got != "0" {
		t.Fatalf("Weekday = %q, want 0 (Sunday)", got)
	}
	if got := ref.YearMonth(); got != "2013-02" {
		t.Fatalf("YearMonth = %q", got)
	}
	if got := ref.Next(); got != (SliceRef{Year: 2013, Month: 2, Day: 3, Hour: 8}) {
		t.Fatalf("Next = %v", got)
	}
}
