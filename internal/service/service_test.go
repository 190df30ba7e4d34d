package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bullionwatch/internal/rates"
	"bullionwatch/internal/scheduler"
)

type stubRefresher struct {
	mu    sync.Mutex
	calls int
	snap  rates.Snapshot
	err   error
}

func (s *stubRefresher) Refresh(context.Context) (rates.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.snap, s.err
}

type capturePublisher struct {
	mu        sync.Mutex
	snapshots []rates.Snapshot
	failures  []error
	signal    chan struct{}
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{signal: make(chan struct{}, 8)}
}

func (c *capturePublisher) SnapshotReady(s rates.Snapshot) {
	c.mu.Lock()
	c.snapshots = append(c.snapshots, s)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func (c *capturePublisher) RefreshFailed(err error) {
	c.mu.Lock()
	c.failures = append(c.failures, err)
	c.mu.Unlock()
	c.signal <- struct{}{}
}

func TestTriggerPublishesSnapshot(t *testing.T) {
	snap := rates.NewSnapshot(rates.Quote{Gold: "1", Silver: "2"}, rates.Baseline{}, time.Now())
	pub := newCapturePublisher()
	svc := New(&stubRefresher{snap: snap}, nil, pub, zerolog.Nop())

	require.NoError(t, svc.Trigger(context.Background(), scheduler.TriggerTimer))
	require.Len(t, pub.snapshots, 1)
	assert.Equal(t, snap.ID, pub.snapshots[0].ID)
}

func TestTriggerPublishesFailure(t *testing.T) {
	cause := &Error{Kind: KindUpstreamUnavailable, Err: errors.New("timeout")}
	pub := newCapturePublisher()
	svc := New(&stubRefresher{err: cause}, nil, pub, zerolog.Nop())

	err := svc.Trigger(context.Background(), scheduler.TriggerAlarm)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	require.Len(t, pub.failures, 1)
	assert.Empty(t, pub.snapshots)
}

func TestTriggerPartialIsDeliveredAsSnapshot(t *testing.T) {
	snap := rates.NewSnapshot(rates.Quote{Silver: "700.00"}, rates.Baseline{}, time.Now())
	pub := newCapturePublisher()
	svc := New(&stubRefresher{snap: snap, err: &Error{Kind: KindPartialData, Missing: []rates.Metal{rates.Gold}}}, nil, pub, zerolog.Nop())

	require.NoError(t, svc.Trigger(context.Background(), scheduler.TriggerTimer))
	require.Len(t, pub.snapshots, 1)
	assert.Empty(t, pub.failures)
}

func TestOnRefreshRequested(t *testing.T) {
	snap := rates.NewSnapshot(rates.Quote{Gold: "1", Silver: "2"}, rates.Baseline{}, time.Now())
	refresher := &stubRefresher{snap: snap}
	pub := newCapturePublisher()
	sched := scheduler.New(scheduler.Options{AutoRefreshDefault: false}, scheduler.NewMemoryStore(), zerolog.Nop())
	svc := New(refresher, sched, pub, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	svc.OnRefreshRequested()
	select {
	case <-pub.signal:
	case <-time.After(time.Second):
		t.Fatal("manual refresh was not served")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestOnRefreshRequestedCoalesces(t *testing.T) {
	svc := New(&stubRefresher{}, nil, nil, zerolog.Nop())
	svc.OnRefreshRequested()
	svc.OnRefreshRequested()
	svc.OnRefreshRequested()
	assert.Len(t, svc.requests, 1)
}

func TestOnAutoRefreshToggled(t *testing.T) {
	store := scheduler.NewMemoryStore()
	sched := scheduler.New(scheduler.Options{AutoRefreshDefault: true}, store, zerolog.Nop())
	svc := New(&stubRefresher{}, sched, nil, zerolog.Nop())
	ctx := context.Background()

	enabled, err := svc.AutoRefreshEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	require.NoError(t, svc.OnAutoRefreshToggled(ctx, false))
	enabled, err = svc.AutoRefreshEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, svc.OnAutoRefreshToggled(ctx, true))
	st, err := store.LoadSchedule(ctx)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
}

func TestRunWithoutScheduler(t *testing.T) {
	svc := New(&stubRefresher{}, nil, nil, zerolog.Nop())
	assert.Error(t, svc.Run(context.Background()))
}
