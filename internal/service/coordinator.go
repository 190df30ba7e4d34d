package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"bullionwatch/internal/baseline"
	"bullionwatch/internal/cache"
	"bullionwatch/internal/feed"
	"bullionwatch/internal/fetcher"
	"bullionwatch/internal/metrics"
	"bullionwatch/internal/rates"
	"bullionwatch/internal/tracker"
)

const (
	refreshKey      = "refresh"
	defaultCacheTTL = time.Minute
	cycleTimeout    = 30 * time.Second
)

// BaselineResolver derives the comparison values for a fresh quote.
type BaselineResolver interface {
	Resolve(ctx context.Context, gold, silver string, asOf time.Time) rates.Baseline
}

// CoordinatorOptions parameterise the refresh pipeline.
type CoordinatorOptions struct {
	FeedURL    string
	Format     feed.Format
	Addressing feed.Addressing
	CacheTTL   time.Duration
	Clock      func() time.Time
}

// Coordinator runs fetch → parse → baseline → cache. Concurrent misses share
// one upstream cycle.
type Coordinator struct {
	opts     CoordinatorOptions
	source   fetcher.Source
	resolver BaselineResolver
	cache    *cache.Cache
	tracker  *tracker.Tracker
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	group singleflight.Group
}

// NewCoordinator wires the pipeline. tracker and m may be nil.
func NewCoordinator(opts CoordinatorOptions, source fetcher.Source, resolver BaselineResolver, c *cache.Cache, tr *tracker.Tracker, m *metrics.Metrics, logger zerolog.Logger) *Coordinator {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if c == nil {
		c = cache.New(cache.WithClock(opts.Clock))
	}
	return &Coordinator{
		opts:     opts,
		source:   source,
		resolver: resolver,
		cache:    c,
		tracker:  tr,
		metrics:  m,
		logger:   logger.With().Str("component", "coordinator").Logger(),
	}
}

// Refresh returns the current snapshot, fetching only when the cache is cold.
// A PartialData error is returned together with a usable snapshot.
func (c *Coordinator) Refresh(ctx context.Context) (rates.Snapshot, error) {
	if entry, ok := c.cache.Get(); ok {
		c.metrics.RecordCache(true)
		c.logger.Debug().Dur("age", entry.Age(c.opts.Clock())).Msg("cache hit")
		return entry.Snapshot, partialError(entry.Snapshot, nil)
	}
	c.metrics.RecordCache(false)

	// the shared cycle must outlive any single caller
	cycleCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.cycle(cycleCtx)
	})

	select {
	case <-ctx.Done():
		return rates.Snapshot{}, ctx.Err()
	case res := <-ch:
		snap, _ := res.Val.(rates.Snapshot)
		return snap, res.Err
	}
}

// Latest exposes the last cached entry regardless of freshness.
func (c *Coordinator) Latest() (cache.Entry, bool) {
	return c.cache.Latest()
}

func (c *Coordinator) cycle(ctx context.Context) (rates.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	// another flight may have filled the cache while this one was queued
	if entry, ok := c.cache.Get(); ok {
		return entry.Snapshot, partialError(entry.Snapshot, nil)
	}

	start := time.Now()
	body, err := c.source.Fetch(ctx, c.opts.FeedURL)
	c.metrics.ObserveFetch(time.Since(start), err)
	if err != nil {
		c.metrics.RecordRefresh("unavailable")
		c.logger.Warn().Err(err).Msg("rate source unavailable")
		return rates.Snapshot{}, &Error{Kind: KindUpstreamUnavailable, Err: err}
	}

	quote, cellErr := c.extract(body)
	if quote.Gold == "" && quote.Silver == "" {
		c.metrics.RecordRefresh("unavailable")
		c.logger.Warn().Err(cellErr).Str("format", string(c.opts.Format)).Msg("feed format mismatch, upstream may have changed")
		return rates.Snapshot{}, &Error{Kind: KindUpstreamUnavailable, Err: cellErr}
	}

	asOf := c.opts.Clock()
	base := c.resolver.Resolve(ctx, quote.Gold, quote.Silver, asOf)
	snap := rates.NewSnapshot(quote, base, asOf)

	c.track(snap)
	c.cache.Put(snap, c.opts.CacheTTL)
	c.metrics.RecordSnapshot(asOf, numericRates(snap))

	if perr := partialError(snap, cellErr); perr != nil {
		c.metrics.RecordRefresh("partial")
		c.logger.Warn().Err(perr).Msg("snapshot is missing a metal")
		return snap, perr
	}

	c.metrics.RecordRefresh("ok")
	c.logger.Info().
		Str("gold", snap.GoldRate).
		Str("silver", snap.SilverRate).
		Str("gold_delta", snap.GoldDelta.String()).
		Str("silver_delta", snap.SilverDelta.String()).
		Bool("estimate", snap.SourceIsEstimate).
		Msg("snapshot refreshed")
	return snap, nil
}

// extract reads both cells. The returned error describes every cell that
// could not be read; the quote holds whatever was found.
func (c *Coordinator) extract(body []byte) (rates.Quote, error) {
	table, err := feed.Decode(body, c.opts.Format)
	if err != nil {
		return rates.Quote{}, err
	}

	var (
		quote rates.Quote
		errs  []error
	)
	if v, err := table.Cell(c.opts.Addressing.Gold); err == nil {
		quote.Gold = v
	} else {
		errs = append(errs, fmt.Errorf("gold: %w", err))
	}
	if v, err := table.Cell(c.opts.Addressing.Silver); err == nil {
		quote.Silver = v
	} else {
		errs = append(errs, fmt.Errorf("silver: %w", err))
	}
	return quote, errors.Join(errs...)
}

func (c *Coordinator) track(snap rates.Snapshot) {
	if c.tracker == nil {
		return
	}
	for _, m := range rates.Metals {
		value := snap.Rate(m)
		if value == "" {
			continue
		}
		change := c.tracker.RecordAndDiff(string(m), value)
		if change.Direction != tracker.None {
			c.logger.Debug().
				Str("metal", string(m)).
				Str("direction", change.Direction.String()).
				Float64("amount", change.Amount).
				Msg("rate moved since last cycle")
		}
	}
}

func partialError(snap rates.Snapshot, cause error) error {
	missing := snap.Missing()
	if len(missing) == 0 {
		return nil
	}
	return &Error{Kind: KindPartialData, Missing: missing, Err: cause}
}

func numericRates(snap rates.Snapshot) map[string]float64 {
	out := make(map[string]float64, len(rates.Metals))
	for _, m := range rates.Metals {
		if d, err := baseline.ParseAmount(snap.Rate(m)); err == nil {
			out[string(m)] = d.InexactFloat64()
		}
	}
	return out
}
