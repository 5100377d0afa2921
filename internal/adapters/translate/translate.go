// Package translate renders place names into a target language, memoizing
// results so repeated rollups never re-pay the network call
package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"gitrank/internal/core/keys"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
)

const defaultTimeout = 10 * time.Second

// Cache memoizes translations by (target, text)
type Cache interface {
	Get(ctx context.Context, target, text string) (string, bool, error)
	Put(ctx context.Context, target, text, out string) error
}

// RedisCache keeps one hash per target language
type RedisCache struct {
	rds  *redis.Client
	ring keys.Ring
}

// NewRedisCache builds a cache over an open client
func NewRedisCache(rds *redis.Client, ring keys.Ring) *RedisCache {
	return &RedisCache{rds: rds, ring: ring}
}

func (c *RedisCache) Get(ctx context.Context, target, text string) (string, bool, error) {
	out, err := c.rds.HGet(ctx, c.ring.TransCache(target), text).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, perr.Wrapf(err, perr.ErrorCodeStore, "translation cache read failed")
	}
	return out, true, nil
}

func (c *RedisCache) Put(ctx context.Context, target, text, out string) error {
	if err := c.rds.HSet(ctx, c.ring.TransCache(target), text, out).Err(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "translation cache write failed")
	}
	return nil
}

// Options configures the Client
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client translates via an external HTTP endpoint, consulting the cache first
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	cache   Cache
	log     logger.Logger
}

// NewClient creates a Client; cache may be nil, which disables memoization
func NewClient(o Options, cache Cache) *Client {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return &Client{
		http:    &http.Client{Timeout: o.Timeout},
		baseURL: o.BaseURL,
		apiKey:  o.APIKey,
		cache:   cache,
		log:     *logger.Named("translate"),
	}
}

type translateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

// Translate returns text rendered in the target language.
// Cache misses hit the network and backfill the cache; cache errors degrade
// to a plain lookup rather than failing the caller
func (c *Client) Translate(ctx context.Context, text, target string) (string, error) {
	if text == "" {
		return "", nil
	}
	if c.cache != nil {
		if out, ok, err := c.cache.Get(ctx, target, text); err != nil {
			c.log.Warn().Err(err).Msg("translation cache get failed")
		} else if ok {
			return out, nil
		}
	}

	out, err := c.fetch(ctx, text, target)
	if err != nil {
		return "", err
	}
	if c.cache != nil {
		if err := c.cache.Put(ctx, target, text, out); err != nil {
			c.log.Warn().Err(err).Msg("translation cache put failed")
		}
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, text, target string) (string, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("target", target)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeUnavailable, "translate request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return "", perr.Newf(perr.ErrorCodeQuota, "translate over quota: status %d", resp.StatusCode)
	default:
		return "", perr.Unavailablef("translate status %d", resp.StatusCode)
	}

	var body translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", perr.Wrapf(err, perr.ErrorCodeJSON, "translate decode failed")
	}
	if len(body.Data.Translations) == 0 {
		return "", perr.Newf(perr.ErrorCodeUnknown, "translate returned no candidates")
	}
	return body.Data.Translations[0].TranslatedText, nil
}
