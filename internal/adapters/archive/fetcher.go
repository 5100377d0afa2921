package archive

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gitrank/internal/platform/logger"
)

const (
	baseURLDefault = "https://data.gharchive.org"
	defaultHTTPTO  = 60 * time.Second
)

// Fetcher retrieves one hour slice of the archive to local storage.
// A slice already on disk is returned without any network call; a missing
// upstream slice is an expected, retryable condition, not an error
type Fetcher struct {
	dir     string
	baseURL string
	client  *http.Client
	log     logger.Logger
}

// FetcherOption configures the Fetcher
type FetcherOption func(*Fetcher)

// WithBaseURL overrides the archive URL template root (used in tests)
func WithBaseURL(u string) FetcherOption {
	return func(f *Fetcher) { f.baseURL = u }
}

// WithHTTPClient overrides the transport client
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// NewFetcher builds a Fetcher caching into dir; the dir is created if needed
func NewFetcher(dir string, timeout time.Duration, opts ...FetcherOption) *Fetcher {
	_ = os.MkdirAll(dir, 0o755)
	if timeout <= 0 {
		timeout = defaultHTTPTO
	}
	f := &Fetcher{
		dir:     dir,
		baseURL: baseURLDefault,
		client:  &http.Client{Timeout: timeout},
		log:     *logger.Named("archive"),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Path returns the local artifact path for a slice
func (f *Fetcher) Path(ref SliceRef) string {
	return filepath.Join(f.dir, ref.String()+".json.gz")
}

// Fetch returns the local artifact path for ref, downloading it if absent.
// ok is false when the slice is unavailable upstream (404, transport failure,
// expired timeout); err is reserved for context cancellation and local I/O
// failures. The payload lands via temp file + atomic rename so a partially
// written artifact is never observed
func (f *Fetcher) Fetch(ctx context.Context, ref SliceRef) (path string, ok bool, err error) {
	path = f.Path(ref)
	if fi, serr := os.Stat(path); serr == nil && fi.Mode().IsRegular() {
		return path, true, nil
	}

	url := f.baseURL + "/" + ref.String() + ".json.gz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		f.log.Warn().Err(err).Str("slice", ref.String()).Msg("archive fetch transport failure")
		return "", false, nil
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if resp.StatusCode != http.StatusOK {
		f.log.Debug().Int("status", resp.StatusCode).Str("slice", ref.String()).Msg("archive slice unavailable")
		return "", false, nil
	}

	tmp, err := os.CreateTemp(f.dir, "."+ref.String()+".part-*")
	if err != nil {
		return "", false, err
	}
	tmpName := tmp.Name()
	if _, err = io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		f.log.Warn().Err(err).Str("slice", ref.String()).Msg("archive fetch read failure")
		return "", false, nil
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", false, err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", false, err
	}
	if err = os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", false, err
	}

	f.log.Info().Str("slice", ref.String()).Msg("archive slice fetched")
	return path, true, nil
}
