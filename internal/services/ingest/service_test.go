package ingest

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"gitrank/internal/adapters/archive"
	"gitrank/internal/core/keys"
	"gitrank/internal/core/tally"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/metrics"
)

type fakeFetcher struct {
	path    string
	ok      bool
	fetches int
}

func (f *fakeFetcher) Fetch(context.Context, archive.SliceRef) (string, bool, error) {
	f.fetches++
	return f.path, f.ok, nil
}

type fakeTracker struct {
	slices  map[string]bool
	batches map[string]bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{slices: map[string]bool{}, batches: map[string]bool{}}
}

func (t *fakeTracker) key(fn, slice string, idx int) string {
	return fmt.Sprintf("%s/%s-%d", fn, slice, idx)
}

func (t *fakeTracker) SliceDone(_ context.Context, fn, slice string) (bool, error) {
	return t.slices[fn+"/"+slice], nil
}

func (t *fakeTracker) MarkSlice(_ context.Context, fn, slice string) error {
	t.slices[fn+"/"+slice] = true
	return nil
}

func (t *fakeTracker) BatchDone(_ context.Context, fn, slice string, idx int) (bool, error) {
	return t.batches[t.key(fn, slice, idx)], nil
}

func (t *fakeTracker) MarkBatch(_ context.Context, fn, slice string, idx int) error {
	t.batches[t.key(fn, slice, idx)] = true
	return nil
}

func (t *fakeTracker) ClearBatches(_ context.Context, fn, slice string) error {
	for k := range t.batches {
		delete(t.batches, k)
	}
	return nil
}

type fakeSink struct {
	flushed []*tally.Batch
}

func (s *fakeSink) Flush(_ context.Context, b *tally.Batch) error {
	s.flushed = append(s.flushed, b)
	return nil
}

func (s *fakeSink) total(ring keys.Ring) int64 {
	var n int64
	for _, b := range s.flushed {
		n += b.Counters[ring.Total()]
	}
	return n
}

// writeSlice materializes n push events as a gzipped archive file
func writeSlice(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slice.json.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	for i := 0; i < n; i++ {
		ev := archive.Event{
			Actor:      fmt.Sprintf("user%d", i),
			ActorAttrs: archive.ActorAttrs{Type: "User"},
			Type:       "PushEvent",
			Repository: archive.Repository{Owner: "o", Name: "r", Language: "Go"},
		}
		if err := enc.Encode(ev); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func newService(f Fetcher, tr Slices, sink Sink, batchSize int) (*Service, keys.Ring) {
	ring := keys.New("")
	return New(f, tr, sink, ring, Config{BatchSize: batchSize}), ring
}

var ref = archive.SliceRef{Year: 2013, Month: 2, Day: 3, Hour: 7}

func TestProcessSlice_AppliesAndMarks(t *testing.T) {
	fetch := &fakeFetcher{path: writeSlice(t, 5), ok: true}
	tracker := newFakeTracker()
	sink := &fakeSink{}
	svc, ring := newService(fetch, tracker, sink, 2)

	if err := svc.ProcessSlice(context.Background(), ref); err != nil {
		t.Fatalf("ProcessSlice: %v", err)
	}
	// 5 events at batch size 2 means 3 flushes
	if len(sink.flushed) != 3 {
		t.Fatalf("flushes = %d, want 3", len(sink.flushed))
	}
	if got := sink.total(ring); got != 5 {
		t.Errorf("total applied = %d, want 5", got)
	}
	done, _ := tracker.SliceDone(context.Background(), FnEvents, ref.String())
	if !done {
		t.Error("slice not marked done")
	}
	if len(tracker.batches) != 0 {
		t.Errorf("batch markers not cleared: %v", tracker.batches)
	}
}

func TestProcessSlice_DoneSliceShortCircuits(t *testing.T) {
	fetch := &fakeFetcher{}
	tracker := newFakeTracker()
	_ = tracker.MarkSlice(context.Background(), FnEvents, ref.String())
	sink := &fakeSink{}
	svc, _ := newService(fetch, tracker, sink, 2)

	if err := svc.ProcessSlice(context.Background(), ref); err != nil {
		t.Fatalf("ProcessSlice: %v", err)
	}
	if fetch.fetches != 0 {
		t.Error("done slice must not be fetched")
	}
	if len(sink.flushed) != 0 {
		t.Error("done slice must not be flushed")
	}
}

func TestProcessSlice_AbsentSliceIsNotAnError(t *testing.T) {
	fetch := &fakeFetcher{ok: false}
	tracker := newFakeTracker()
	sink := &fakeSink{}
	svc, _ := newService(fetch, tracker, sink, 2)

	if err := svc.ProcessSlice(context.Background(), ref); err != nil {
		t.Fatalf("ProcessSlice: %v", err)
	}
	if done, _ := tracker.SliceDone(context.Background(), FnEvents, ref.String()); done {
		t.Error("absent slice must stay unmarked so a later pass retries it")
	}
}

func TestProcessSlice_ResumeSkipsAppliedBatches(t *testing.T) {
	fetch := &fakeFetcher{path: writeSlice(t, 5), ok: true}
	tracker := newFakeTracker()
	// a previous run applied batches 0 and 1, then crashed
	_ = tracker.MarkBatch(context.Background(), FnEvents, ref.String(), 0)
	_ = tracker.MarkBatch(context.Background(), FnEvents, ref.String(), 1)
	sink := &fakeSink{}
	svc, ring := newService(fetch, tracker, sink, 2)

	before := testutil.ToFloat64(metrics.EventsTotal)
	if err := svc.ProcessSlice(context.Background(), ref); err != nil {
		t.Fatalf("ProcessSlice: %v", err)
	}
	// only the final batch of 1 event is applied again
	if got := sink.total(ring); got != 1 {
		t.Errorf("total applied = %d, want 1", got)
	}
	// skipped replays of batches 0 and 1 must not inflate the counter
	if delta := testutil.ToFloat64(metrics.EventsTotal) - before; delta != 1 {
		t.Errorf("events counter delta = %v, want 1", delta)
	}
	done, _ := tracker.SliceDone(context.Background(), FnEvents, ref.String())
	if !done {
		t.Error("slice not marked done after resume")
	}
}

// truncate cuts the artifact down to a fraction of its bytes, simulating a
// download that died mid-transfer after the cache rename
func truncate(t *testing.T, path string, frac float64) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, int64(float64(info.Size())*frac)); err != nil {
		t.Fatal(err)
	}
}

func TestProcessSlice_TruncatedArtifactSurfacesAndStaysUnmarked(t *testing.T) {
	path := writeSlice(t, 500)
	truncate(t, path, 0.6)
	fetch := &fakeFetcher{path: path, ok: true}
	tracker := newFakeTracker()
	sink := &fakeSink{}
	svc, _ := newService(fetch, tracker, sink, 100)

	err := svc.ProcessSlice(context.Background(), ref)
	if err == nil {
		t.Fatal("a stream that died mid-file must surface an error")
	}
	if !perr.IsRetryable(err) {
		t.Errorf("decode failure should classify retryable, got %v", err)
	}
	if done, _ := tracker.SliceDone(context.Background(), FnEvents, ref.String()); done {
		t.Error("partially-applied slice must stay unmarked so a later pass retries it")
	}
}

func TestProcessSlice_SecondRunIsNoOp(t *testing.T) {
	fetch := &fakeFetcher{path: writeSlice(t, 3), ok: true}
	tracker := newFakeTracker()
	sink := &fakeSink{}
	svc, ring := newService(fetch, tracker, sink, 2)

	for i := 0; i < 2; i++ {
		if err := svc.ProcessSlice(context.Background(), ref); err != nil {
			t.Fatalf("ProcessSlice run %d: %v", i, err)
		}
	}
	if got := sink.total(ring); got != 3 {
		t.Errorf("total applied across runs = %d, want 3", got)
	}
}
