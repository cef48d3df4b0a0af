// Package catalog caches the execution service's language list for a fixed
// freshness window so execution requests do not refetch it every time.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seantiz/coderun/pkg/model"
)

// DefaultTTL is how long a fetched language list stays fresh.
const DefaultTTL = 24 * time.Hour

// DefaultFetchTimeout bounds one shared fetch, independent of any caller.
const DefaultFetchTimeout = 30 * time.Second

const fetchKey = "languages"

// Fetcher retrieves the full language list from the service.
type Fetcher interface {
	ListLanguages(ctx context.Context) ([]model.Language, error)
}

// snapshot is an immutable cached list. It is replaced whole, never edited.
type snapshot struct {
	languages []model.Language
	fetchedAt time.Time
}

// Catalog is a lazily populated, time-bounded cache of supported languages.
// One instance is meant to be shared process-wide. Readers never block on
// each other; concurrent refreshes collapse into a single fetch and the last
// completed fetch wins.
type Catalog struct {
	fetcher      Fetcher
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time

	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

// Option customizes a Catalog.
type Option func(*Catalog)

// WithTTL overrides the freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithFetchTimeout overrides how long a single fetch may run.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Catalog) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		c.now = now
	}
}

// New creates an empty catalog backed by f.
func New(f Fetcher, opts ...Option) *Catalog {
	c := &Catalog{
		fetcher:      f,
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Languages returns the cached list when it is younger than the TTL and
// forceRefresh is false; otherwise it fetches and replaces the cache.
//
// If a non-forced refresh of a stale cache fails, the stale list is returned
// instead of the error. The returned slice is shared; callers must not modify it.
func (c *Catalog) Languages(ctx context.Context, forceRefresh bool) ([]model.Language, error) {
	snap := c.current.Load()
	if !forceRefresh && snap != nil && c.now().Sub(snap.fetchedAt) < c.ttl {
		return snap.languages, nil
	}

	langs, err := c.refresh(ctx, forceRefresh)
	if err != nil {
		if !forceRefresh && snap != nil {
			c.logger.Warn("language catalog refresh failed, serving stale list",
				"age", c.now().Sub(snap.fetchedAt).String(),
				"error", err,
			)
			return snap.languages, nil
		}
		return nil, err
	}
	return langs, nil
}

// refresh joins the fetch in flight, or starts one. A forced refresh always
// starts a new fetch. The fetch itself runs detached from every caller and is
// bounded by fetchTimeout; each caller stops waiting when its own ctx ends.
func (c *Catalog) refresh(ctx context.Context, force bool) ([]model.Language, error) {
	if force {
		c.group.Forget(fetchKey)
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fetchKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(fetchCtx, c.fetchTimeout)
		defer cancel()

		langs, err := c.fetcher.ListLanguages(fctx)
		if err != nil {
			fetchesTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("fetch languages: %w", err)
		}
		if langs == nil {
			langs = []model.Language{}
		}
		c.current.Store(&snapshot{languages: langs, fetchedAt: c.now()})
		fetchesTotal.WithLabelValues("ok").Inc()
		c.logger.Debug("language catalog refreshed", "count", len(langs))
		return langs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]model.Language), nil
	}
}

// FetchedAt reports when the cache was last filled, or the zero time.
func (c *Catalog) FetchedAt() time.Time {
	if snap := c.current.Load(); snap != nil {
		return snap.fetchedAt
	}
	return time.Time{}
}

// IDs returns the language identifiers.
func (c *Catalog) IDs(ctx context.Context) ([]string, error) {
	langs, err := c.Languages(ctx, false)
	if err != nil {
		return nil, err
	}
	return IDs(langs), nil
}

// Count returns the number of supported languages.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	langs, err := c.Languages(ctx, false)
	if err != nil {
		return 0, err
	}
	return len(langs), nil
}

// Formatted returns the language IDs joined by sep.
func (c *Catalog) Formatted(ctx context.Context, sep string) (string, error) {
	langs, err := c.Languages(ctx, false)
	if err != nil {
		return "", err
	}
	return Join(langs, sep), nil
}

// Supports reports whether id (case-insensitive) is in the catalog.
func (c *Catalog) Supports(ctx context.Context, id string) (bool, error) {
	langs, err := c.Languages(ctx, false)
	if err != nil {
		return false, err
	}
	return Find(langs, id) != nil, nil
}

// IDs projects a language list onto its identifiers.
func IDs(langs []model.Language) []string {
	ids := make([]string, len(langs))
	for i, l := range langs {
		ids[i] = l.ID
	}
	return ids
}

// Join returns the identifiers of langs joined by sep.
func Join(langs []model.Language, sep string) string {
	return strings.Join(IDs(langs), sep)
}

// Find returns the language whose ID matches id case-insensitively, or nil.
func Find(langs []model.Language, id string) *model.Language {
	for i := range langs {
		if strings.EqualFold(langs[i].ID, id) {
			return &langs[i]
		}
	}
	return nil
}
