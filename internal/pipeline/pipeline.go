// Package pipeline keeps the merged crisis map fresh: it reads crisis rows from
// the warehouse, merges them onto country boundaries and optionally publishes
// the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/crisis-data-service/internal/domain"
	"github.com/couchcryptid/crisis-data-service/internal/observability"
	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second

	// pausedRecheck is how often a paused loop checks whether it may run.
	pausedRecheck = 5 * time.Second
)

// Executor runs a SQL statement and returns its rows.
type Executor interface {
	Execute(ctx context.Context, statement string) (domain.RecordSet, error)
}

// BoundarySource provides the country boundary collection.
type BoundarySource interface {
	Load(ctx context.Context) (domain.FeatureCollection, error)
}

// Publisher writes a merged map downstream and returns how many features it
// wrote.
type Publisher interface {
	Publish(ctx context.Context, runID string, fc domain.FeatureCollection) (int, error)
}

// Snapshot is one merged crisis map.
type Snapshot struct {
	RunID       string
	GeneratedAt time.Time
	Map         domain.FeatureCollection
	Stats       domain.MergeStats
}

// Options tunes a Pipeline.
type Options struct {
	// Statement returns the crisis query. It is called on every refresh so a
	// config reload can point it at another table.
	Statement func() string
	// Interval between successful refreshes. Zero stops after the first
	// successful refresh.
	Interval time.Duration
	// Enabled reports whether the crisis source is usable. While it returns
	// false the loop is paused instead of failing. Nil means always enabled.
	Enabled func() bool
	Clock   clockwork.Clock
}

// Pipeline orchestrates the map refresh loop.
type Pipeline struct {
	executor   Executor
	boundaries BoundarySource
	publisher  Publisher
	statement  func() string
	enabled    func() bool
	interval   time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	refreshMu sync.Mutex
	boundary  *domain.FeatureCollection

	snapshot atomic.Pointer[Snapshot]
}

// New creates a Pipeline. Pass a nil publisher to disable publishing.
func New(e Executor, b BoundarySource, p Publisher, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		executor:   e,
		boundaries: b,
		publisher:  p,
		statement:  opts.Statement,
		enabled:    opts.Enabled,
		interval:   opts.Interval,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once a map snapshot exists, or while the loop is
// paused because the crisis source is not configured.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if p.snapshot.Load() == nil && p.isEnabled() {
		return errors.New("crisis map has not been built yet")
	}
	return nil
}

// Snapshot returns the latest merged map, or nil before the first refresh.
func (p *Pipeline) Snapshot() *Snapshot {
	return p.snapshot.Load()
}

func (p *Pipeline) isEnabled() bool {
	return p.enabled == nil || p.enabled()
}

// Run refreshes the map until the context is cancelled. Failed refreshes are
// retried with exponential backoff. While Options.Enabled reports false the
// loop idles and resumes on its own once it reports true.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("map refresh started", "interval", p.interval, "publish", p.publisher != nil)
	p.metrics.MapRefreshRunning.Set(1)
	defer p.metrics.MapRefreshRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := initialBackoff
	paused := false

	for {
		if ctx.Err() != nil {
			p.logger.Info("map refresh stopping", "reason", ctx.Err())
			return nil
		}

		if !p.isEnabled() {
			if !paused {
				p.logger.Info("map refresh paused: crisis source not configured")
				paused = true
			}
			if !sleepWithContext(ctx, p.clock, pausedRecheck) {
				return nil
			}
			continue
		}
		if paused {
			p.logger.Info("map refresh resumed")
			paused = false
		}

		if _, err := p.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("map refresh failed", "error", err, "retry_in", backoff)
			if !sleepWithContext(ctx, p.clock, backoff) {
				return nil
			}
			backoff = sharedretry.NextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = initialBackoff

		if p.interval <= 0 {
			p.logger.Info("map refresh interval disabled, stopping after first build")
			return nil
		}
		if !sleepWithContext(ctx, p.clock, p.interval) {
			p.logger.Info("map refresh stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// Refresh builds one snapshot and stores it. The new snapshot is served even
// when publishing it fails.
func (p *Pipeline) Refresh(ctx context.Context) (*Snapshot, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	start := p.clock.Now()
	snap, err := p.build(ctx)
	if err != nil {
		p.metrics.MapRefreshes.WithLabelValues("error").Inc()
		return nil, err
	}
	p.snapshot.Store(snap)

	for _, b := range domain.Buckets {
		p.metrics.MergedFeatures.WithLabelValues(string(b)).Set(float64(snap.Stats.ByBucket[b]))
	}
	p.logger.Info("crisis map built",
		"run_id", snap.RunID,
		"features", snap.Stats.Output(),
		"matched", snap.Stats.Matched,
		"unmatched", snap.Stats.Unmatched,
		"dropped", snap.Stats.Dropped,
	)

	if p.publisher != nil {
		n, err := p.publisher.Publish(ctx, snap.RunID, snap.Map)
		p.metrics.FeaturesPublished.Add(float64(n))
		if err != nil {
			p.metrics.MapRefreshes.WithLabelValues("error").Inc()
			return snap, fmt.Errorf("publish crisis map %s: %w", snap.RunID, err)
		}
		p.logger.Info("crisis map published", "run_id", snap.RunID, "features", n)
	}

	p.metrics.MapRefreshes.WithLabelValues("success").Inc()
	p.metrics.MapRefreshDuration.Observe(p.clock.Since(start).Seconds())
	return snap, nil
}

func (p *Pipeline) build(ctx context.Context) (*Snapshot, error) {
	fc, err := p.loadBoundaries(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := p.executor.Execute(ctx, p.statement())
	if err != nil {
		return nil, fmt.Errorf("query crises: %w", err)
	}

	merged, stats := domain.Merge(domain.CrisesFromRecordSet(rows), fc)
	return &Snapshot{
		RunID:       uuid.NewString(),
		GeneratedAt: p.clock.Now().UTC(),
		Map:         merged,
		Stats:       stats,
	}, nil
}

// loadBoundaries parses the boundary collection once; a failed load is
// retried on the next refresh. Callers hold refreshMu.
func (p *Pipeline) loadBoundaries(ctx context.Context) (domain.FeatureCollection, error) {
	if p.boundary != nil {
		return *p.boundary, nil
	}
	fc, err := p.boundaries.Load(ctx)
	if err != nil {
		return domain.FeatureCollection{}, fmt.Errorf("load boundaries: %w", err)
	}
	p.boundary = &fc
	p.logger.Info("boundaries loaded", "features", len(fc.Features))
	return fc, nil
}

// sleepWithContext mirrors sharedretry.SleepWithContext on an injectable clock.
func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
