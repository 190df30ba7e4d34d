package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bullionwatch/internal/notify"
	"bullionwatch/internal/rates"
	"bullionwatch/internal/storage"
)

const dispatchTimeout = 15 * time.Second

// MonitorOptions configures alert rules.
type MonitorOptions struct {
	GoldThreshold   int64
	SilverThreshold int64
	// FailureStreak is the number of consecutive failed refreshes that
	// raises an alert. Zero disables the rule.
	FailureStreak int
	Cooldown      time.Duration
	Channels      []string
	Clock         func() time.Time
}

// Monitor watches refresh outcomes and raises alerts on large moves and
// repeated failures.
type Monitor struct {
	opts     MonitorOptions
	notifier Notifier
	store    storage.AlertStore
	logger   zerolog.Logger

	mu       sync.Mutex
	streak   int
	lastSent map[string]time.Time
}

// NewMonitor builds an alert monitor. store may be nil.
func NewMonitor(opts MonitorOptions, notifier Notifier, store storage.AlertStore, logger zerolog.Logger) *Monitor {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Monitor{
		opts:     opts,
		notifier: notifier,
		store:    store,
		logger:   logger.With().Str("component", "alert_monitor").Logger(),
		lastSent: make(map[string]time.Time),
	}
}

func (m *Monitor) threshold(metal rates.Metal) int64 {
	if metal == rates.Silver {
		return m.opts.SilverThreshold
	}
	return m.opts.GoldThreshold
}

// Evaluate returns the move alerts a snapshot would raise, ignoring cooldown.
func (m *Monitor) Evaluate(s rates.Snapshot) []Notification {
	var notes []Notification
	for _, metal := range rates.Metals {
		limit := m.threshold(metal)
		delta := s.DeltaFor(metal)
		if limit <= 0 || !delta.Present || s.Rate(metal) == "" {
			continue
		}
		if abs(delta.Amount) < limit {
			continue
		}
		notes = append(notes, Notification{
			Kind:      KindLargeMove,
			Metal:     metal,
			AsOf:      s.AsOf,
			Rate:      s.Rate(metal),
			Baseline:  s.BaselineFor(metal),
			Delta:     delta,
			Threshold: limit,
			Estimate:  s.SourceIsEstimate,
			Channels:  m.opts.Channels,
		})
	}
	return notes
}

// Check evaluates a snapshot and dispatches every alert outside its cooldown.
func (m *Monitor) Check(ctx context.Context, s rates.Snapshot) error {
	m.mu.Lock()
	m.streak = 0
	m.mu.Unlock()

	var errs []error
	for _, note := range m.Evaluate(s) {
		if !m.admit(note.Kind + ":" + string(note.Metal)) {
			m.logger.Debug().Str("metal", string(note.Metal)).Msg("move alert suppressed by cooldown")
			continue
		}
		id := s.ID
		if err := m.dispatch(ctx, note, &id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Failure counts a failed refresh and alerts once the streak threshold is met.
func (m *Monitor) Failure(ctx context.Context, cause error) error {
	m.mu.Lock()
	m.streak++
	streak := m.streak
	m.mu.Unlock()

	if m.opts.FailureStreak <= 0 || streak < m.opts.FailureStreak {
		return nil
	}
	if !m.admit(KindFailureStreak) {
		return nil
	}

	note := Notification{
		Kind:     KindFailureStreak,
		AsOf:     m.opts.Clock(),
		Streak:   streak,
		Channels: m.opts.Channels,
	}
	if cause != nil {
		note.LastError = cause.Error()
	}
	return m.dispatch(ctx, note, nil)
}

// Streak returns the current count of consecutive failures.
func (m *Monitor) Streak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streak
}

func (m *Monitor) OnSnapshotReady(s rates.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := m.Check(ctx, s); err != nil {
		m.logger.Error().Err(err).Msg("failed to dispatch move alert")
	}
}

func (m *Monitor) OnRefreshFailed(err error) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if derr := m.Failure(ctx, err); derr != nil {
		m.logger.Error().Err(derr).Msg("failed to dispatch failure alert")
	}
}

func (m *Monitor) admit(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Clock()
	if last, ok := m.lastSent[key]; ok && m.opts.Cooldown > 0 && now.Sub(last) < m.opts.Cooldown {
		return false
	}
	m.lastSent[key] = now
	return true
}

func (m *Monitor) dispatch(ctx context.Context, note Notification, snapshotID *uuid.UUID) error {
	if m.store != nil {
		record := storage.AlertRecord{
			SnapshotID: snapshotID,
			Kind:       note.Kind,
			Metal:      string(note.Metal),
			Message:    Render(note),
		}
		if note.Kind == KindLargeMove {
			delta, limit := note.Delta.Amount, note.Threshold
			record.Delta = &delta
			record.Threshold = &limit
		}
		if _, err := m.store.InsertAlert(ctx, record); err != nil {
			m.logger.Error().Err(err).Str("kind", note.Kind).Msg("failed to persist alert record")
		}
	}
	if m.notifier == nil {
		m.logger.Warn().Str("kind", note.Kind).Str("metal", string(note.Metal)).Msg("alert raised but no channel configured")
		return nil
	}
	return m.notifier.Notify(ctx, note)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

var _ notify.Listener = (*Monitor)(nil)
