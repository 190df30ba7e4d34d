package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bullionwatch/internal/rates"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestGetEmpty(t *testing.T) {
	c := New()
	_, ok := c.Get()
	assert.False(t, ok)
	_, ok = c.Latest()
	assert.False(t, ok)
}

func TestPutThenGetWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	c := New(WithClock(clock.Now))
	snap := rates.NewSnapshot(rates.Quote{Gold: "58,400.00", Silver: "700.00"}, rates.Baseline{}, clock.Now())

	c.Put(snap, time.Minute)
	clock.Advance(59 * time.Second)

	got, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, snap, got.Snapshot)
}

func TestGetMissAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	c := New(WithClock(clock.Now))
	snap := rates.NewSnapshot(rates.Quote{Gold: "1", Silver: "2"}, rates.Baseline{}, clock.Now())
	c.Put(snap, time.Minute)

	clock.Advance(time.Minute)
	_, ok := c.Get()
	assert.False(t, ok, "expired exactly at ttl")

	clock.Advance(time.Millisecond)
	_, ok = c.Get()
	assert.False(t, ok)

	latest, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, snap.ID, latest.Snapshot.ID)
	assert.Equal(t, time.Minute+time.Millisecond, latest.Age(clock.Now()))
}

func TestLastWriteWins(t *testing.T) {
	c := New()
	first := rates.NewSnapshot(rates.Quote{Gold: "1", Silver: "1"}, rates.Baseline{}, time.Now())
	second := rates.NewSnapshot(rates.Quote{Gold: "2", Silver: "2"}, rates.Baseline{}, time.Now())

	c.Put(first, time.Hour)
	c.Put(second, time.Hour)

	got, ok := c.Get()
	require.True(t, ok)
	assert.Equal(t, second.ID, got.Snapshot.ID)
}

func TestConcurrentPutGet(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Put(rates.NewSnapshot(rates.Quote{Gold: "1", Silver: "1"}, rates.Baseline{}, time.Now()), time.Hour)
		}()
		go func() {
			defer wg.Done()
			if e, ok := c.Get(); ok {
				assert.Equal(t, "1", e.Snapshot.GoldRate)
				assert.Equal(t, "1", e.Snapshot.SilverRate)
			}
		}()
	}
	wg.Wait()
}
