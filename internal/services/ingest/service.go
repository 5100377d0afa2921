// Package ingest drives one hour slice from archive file to applied counters:
// fetch, decode, fan out, flush in tracked batches. Reprocessing a slice or
// replaying a crashed run double-counts nothing
package ingest

import (
	"context"
	"errors"
	"io"

	"gitrank/internal/adapters/archive"
	"gitrank/internal/core/keys"
	"gitrank/internal/core/tally"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
	"gitrank/internal/platform/metrics"
)

// DefaultBatchSize is the flush granularity in events
const DefaultBatchSize = 1000

// Fetcher materializes one hour slice as a local file
type Fetcher interface {
	Fetch(ctx context.Context, ref archive.SliceRef) (path string, ok bool, err error)
}

// Slices is the idempotency ledger for slices and their in-flight batches
type Slices interface {
	SliceDone(ctx context.Context, fn, slice string) (bool, error)
	MarkSlice(ctx context.Context, fn, slice string) error
	BatchDone(ctx context.Context, fn, slice string, idx int) (bool, error)
	MarkBatch(ctx context.Context, fn, slice string, idx int) error
	ClearBatches(ctx context.Context, fn, slice string) error
}

// Sink applies one accumulated batch to the stores
type Sink interface {
	Flush(ctx context.Context, b *tally.Batch) error
}

// Config for the ingest service
type Config struct {
	BatchSize int
}

// Service processes hour slices end to end
type Service struct {
	fetch   Fetcher
	tracker Slices
	sink    Sink
	ring    keys.Ring
	cfg     Config
	log     logger.Logger
}

// New constructs the ingest service
func New(fetch Fetcher, tracker Slices, sink Sink, ring keys.Ring, cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Service{
		fetch:   fetch,
		tracker: tracker,
		sink:    sink,
		ring:    ring,
		cfg:     cfg,
		log:     *logger.Named("ingest"),
	}
}

// ProcessSlice runs one hour slice. A slice already marked done, or one the
// archive does not carry, is a successful no-op
func (s *Service) ProcessSlice(ctx context.Context, ref archive.SliceRef) error {
	slice := ref.String()

	done, err := s.tracker.SliceDone(ctx, FnEvents, slice)
	if err != nil {
		return err
	}
	if done {
		s.log.Debug().Str("slice", slice).Msg("slice already applied")
		metrics.SlicesTotal.WithLabelValues("cached").Inc()
		return nil
	}

	path, ok, err := s.fetch.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Info().Str("slice", slice).Msg("slice not published yet")
		metrics.SlicesTotal.WithLabelValues("absent").Inc()
		return nil
	}

	dec, err := archive.Open(path)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnknown, "open slice %s", slice)
	}
	defer func() { _ = dec.Close() }()

	if err := s.applyAll(ctx, ref, dec); err != nil {
		metrics.SlicesTotal.WithLabelValues("failed").Inc()
		return err
	}

	if err := s.tracker.MarkSlice(ctx, FnEvents, slice); err != nil {
		return err
	}
	if err := s.tracker.ClearBatches(ctx, FnEvents, slice); err != nil {
		s.log.Warn().Err(err).Str("slice", slice).Msg("batch marker cleanup failed")
	}
	parsed, skipped := dec.Stats()
	metrics.EventsSkippedTotal.WithLabelValues("malformed").Add(float64(skipped))
	s.log.Info().Str("slice", slice).Int("parsed", parsed).Int("skipped", skipped).Msg("slice applied")
	metrics.SlicesTotal.WithLabelValues("applied").Inc()
	return nil
}

// applyAll walks the decoded stream in fixed-size batches. Batches whose
// marker is already set are decoded but not re-flushed, which is what makes
// a crashed run resumable
func (s *Service) applyAll(ctx context.Context, ref archive.SliceRef, dec *archive.Decoder) error {
	slice := ref.String()
	idx := 0
	batch := tally.NewBatch(s.ring, ref)

	flush := func() error {
		defer func() {
			idx++
			batch = tally.NewBatch(s.ring, ref)
		}()
		done, err := s.tracker.BatchDone(ctx, FnEvents, slice, idx)
		if err != nil {
			return err
		}
		if done {
			s.log.Debug().Str("slice", slice).Int("batch", idx).Msg("batch already applied")
			return nil
		}
		if err := s.sink.Flush(ctx, batch); err != nil {
			return err
		}
		if err := s.tracker.MarkBatch(ctx, FnEvents, slice, idx); err != nil {
			return err
		}
		metrics.EventsTotal.Add(float64(batch.Counted))
		metrics.EventsSkippedTotal.WithLabelValues("filtered").Add(float64(batch.Skipped))
		metrics.BatchesTotal.Inc()
		return nil
	}

	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// a stream that died mid-file must not look like a finished
			// slice: surface it so the pass retries the whole slice later
			return perr.Wrapf(err, perr.ErrorCodeUnavailable, "decode slice %s", slice)
		}
		batch.Add(ev)
		if batch.Len()+batch.Skipped >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if !batch.Empty() || batch.Skipped > 0 {
		if err := flush(); err != nil {
			return err
		}
	}
	return nil
}
