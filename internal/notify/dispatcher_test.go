package notify

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
)

type captureListener struct {
	mu        sync.Mutex
	snapshots []rates.Snapshot
	failures  []error
	done      chan struct{}
}

func newCapture() *captureListener {
	return &captureListener{done: make(chan struct{}, 16)}
}

func (c *captureListener) OnSnapshotReady(s rates.Snapshot) {
	c.mu.Lock()
	c.snapshots = append(c.snapshots, s)
	c.mu.Unlock()
	c.done <- struct{}{}
}

func (c *captureListener) OnRefreshFailed(err error) {
	c.mu.Lock()
	c.failures = append(c.failures, err)
	c.mu.Unlock()
	c.done <- struct{}{}
}

type panicListener struct{}

func (panicListener) OnSnapshotReady(rates.Snapshot) { panic("boom") }
func (panicListener) OnRefreshFailed(error)          { panic("boom") }

func waitN(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d events delivered", i, n)
		}
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	capture := newCapture()
	d := NewDispatcher(4, nil, zerolog.Nop(), panicListener{}, capture)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	snap := rates.NewSnapshot(rates.Quote{Gold: "58,400.00", Silver: "700.00"}, rates.Baseline{}, time.Now())
	d.SnapshotReady(snap)
	d.RefreshFailed(errors.New("timeout"))

	waitN(t, capture.done, 2)
	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.snapshots, 1)
	assert.Equal(t, snap.ID, capture.snapshots[0].ID)
	require.Len(t, capture.failures, 1)
	assert.EqualError(t, capture.failures[0], "timeout")
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	capture := newCapture()
	d := NewDispatcher(1, nil, zerolog.Nop(), capture)

	d.RefreshFailed(errors.New("first"))
	d.RefreshFailed(errors.New("second"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Run(ctx), context.Canceled)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.failures, 1)
	assert.EqualError(t, capture.failures[0], "first")
}

func TestSnapshotMessageOmitsMissingMetal(t *testing.T) {
	snap := rates.NewSnapshot(rates.Quote{Gold: "58,400.00"}, rates.Baseline{
		Gold:      rates.MetalBaseline{Baseline: "58,108.00", Delta: rates.NewDelta(292)},
		Estimated: true,
	}, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))

	msg := SnapshotMessage(snap)
	assert.Equal(t, TypeSnapshot, msg.Type)
	require.NotNil(t, msg.Gold)
	assert.Equal(t, "+292", msg.Gold.Delta)
	assert.Equal(t, "58,108.00", msg.Gold.Baseline)
	assert.Nil(t, msg.Silver)
	assert.True(t, msg.Estimate)
}
