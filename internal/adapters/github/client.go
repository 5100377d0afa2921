// Package github provides a minimal client for the per-entity profile API
// with conditional fetch support and rate limit classification
package github

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
)

const (
	baseURLDefault = "https://api.github.com"
	defaultTimeout = 10 * time.Second
	defaultUA      = "gitrank-crawler"
)

// Outcome classifies one profile fetch
type Outcome int

const (
	// OutcomeFetched means a fresh profile blob was returned
	OutcomeFetched Outcome = iota

	// OutcomeNotModified means the stored validator still matches upstream
	OutcomeNotModified

	// OutcomeRateLimited means the shared API quota is exhausted for now
	OutcomeRateLimited

	// OutcomeNotFound means the entity does not exist upstream
	OutcomeNotFound

	// OutcomeError means a transient or unclassified failure
	OutcomeError
)

// String returns the metrics label form of an Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeFetched:
		return "fetched"
	case OutcomeNotModified:
		return "not_modified"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// Profile is one fetched profile blob plus the validator for the next fetch
type Profile struct {
	// Info is the raw profile document as returned upstream
	Info map[string]any

	// ETag is the conditional-fetch validator returned with this blob
	ETag string
}

// Location returns the free-text location string from the blob, if any
func (p Profile) Location() string {
	if v, ok := p.Info["location"].(string); ok {
		return v
	}
	return ""
}

// Options configures the Client
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// Comma separated tokens; empty means tokenless (very low quota)
	TokensCSV string

	// Client-side pacing of request starts; zero disables
	RatePerSec float64
	Burst      int
}

// Client fetches profiles with ETag conditional requests. The client is
// single-shot by design: retry and cooldown policy belongs to the crawler
type Client struct {
	http    *http.Client
	opts    Options
	tokens  []string
	cur     atomic.Int32
	limiter *rate.Limiter
	log     logger.Logger
}

// NewClient creates a new Client with sane defaults
func NewClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = baseURLDefault
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	var toks []string
	for _, t := range strings.Split(o.TokensCSV, ",") {
		if t = strings.TrimSpace(t); t != "" {
			toks = append(toks, t)
		}
	}
	var lim *rate.Limiter
	if o.RatePerSec > 0 {
		burst := o.Burst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(o.RatePerSec), burst)
	}
	return &Client{
		http:    &http.Client{Timeout: o.Timeout},
		opts:    o,
		tokens:  toks,
		limiter: lim,
		log:     *logger.Named("github"),
	}
}

// getToken returns the next token in a round robin rotation
func (c *Client) getToken() string {
	if len(c.tokens) == 0 {
		return ""
	}
	n := int(c.cur.Add(1))
	return c.tokens[n%len(c.tokens)]
}

// FetchProfile issues one conditional GET for username.
// etagIn adds If-None-Match when non-empty so an unchanged upstream profile
// costs a cheap not-modified round trip
func (c *Client) FetchProfile(ctx context.Context, username, etagIn string) (Profile, Outcome, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Profile{}, OutcomeError, err
		}
	}

	url := c.opts.BaseURL + "/users/" + username
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Profile{}, OutcomeError, perr.Wrapf(err, perr.ErrorCodeUnknown, "profile new request failed")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if etagIn != "" {
		req.Header.Set("If-None-Match", etagIn)
	}
	if tok := c.getToken(); tok != "" {
		req.Header.Set("Authorization", "token "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Profile{}, OutcomeError, ctx.Err()
		}
		return Profile{}, OutcomeError, perr.Wrapf(err, perr.ErrorCodeUnavailable, "profile fetch failed")
	}
	defer func() { _ = drainAndClose(resp.Body) }()

	c.log.Debug().
		Str("user", username).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("profile response")

	switch resp.StatusCode {
	case http.StatusOK:
		var info map[string]any
		if derr := json.NewDecoder(resp.Body).Decode(&info); derr != nil {
			return Profile{}, OutcomeError, perr.Wrapf(derr, perr.ErrorCodeJSON, "profile decode failed")
		}
		return Profile{Info: info, ETag: strings.TrimSpace(resp.Header.Get("ETag"))}, OutcomeFetched, nil

	case http.StatusNotModified:
		return Profile{}, OutcomeNotModified, nil

	case http.StatusForbidden, http.StatusTooManyRequests:
		return Profile{}, OutcomeRateLimited, perr.RateLimitedf("profile source rate limited")

	case http.StatusNotFound:
		return Profile{}, OutcomeNotFound, perr.NotFoundf("profile %s not found", username)

	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Profile{}, OutcomeError, perr.Unavailablef("profile source transient error %d", resp.StatusCode)

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Profile{}, OutcomeError,
			perr.Newf(perr.ErrorCodeUnknown, "profile unexpected status %d body %s", resp.StatusCode, string(body))
	}
}

// drainAndClose consumes the remaining body so the connection can be reused
func drainAndClose(rc io.ReadCloser) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 64*1024))
	return rc.Close()
}
