package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bullionwatch/internal/rates"
	"bullionwatch/internal/storage"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notes)
}

type memoryAlertStore struct {
	records []storage.AlertRecord
}

func (m *memoryAlertStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	alert.ID = int64(len(m.records) + 1)
	m.records = append(m.records, alert)
	return alert, nil
}

func (m *memoryAlertStore) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return m.records, nil
}

func (m *memoryAlertStore) DeleteAlertsBefore(context.Context, time.Time) error { return nil }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func snapshotWith(gold, silver int64) rates.Snapshot {
	return rates.NewSnapshot(
		rates.Quote{Gold: "58,400.00", Silver: "700.00"},
		rates.Baseline{
			Gold:   rates.MetalBaseline{Baseline: "57,800.00", Delta: rates.NewDelta(gold)},
			Silver: rates.MetalBaseline{Baseline: "690.00", Delta: rates.NewDelta(silver)},
		},
		time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	)
}

func TestMonitorMoveAlert(t *testing.T) {
	notifier := &recordingNotifier{}
	store := &memoryAlertStore{}
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	mon := NewMonitor(MonitorOptions{GoldThreshold: 500, SilverThreshold: 20, Cooldown: time.Hour, Clock: clock.Now}, notifier, store, testLogger())

	if err := mon.Check(context.Background(), snapshotWith(600, 5)); err != nil {
		t.Fatalf("Check 应成功: %v", err)
	}
	if notifier.count() != 1 {
		t.Fatalf("应只触发黄金告警, 实际 %d", notifier.count())
	}
	if notifier.notes[0].Metal != rates.Gold {
		t.Fatalf("告警金属应为 gold, 实际 %s", notifier.notes[0].Metal)
	}
	if len(store.records) != 1 || store.records[0].SnapshotID == nil || *store.records[0].Delta != 600 {
		t.Fatalf("告警记录不正确: %+v", store.records)
	}

	// inside the cooldown window
	clock.now = clock.now.Add(10 * time.Minute)
	_ = mon.Check(context.Background(), snapshotWith(-700, 5))
	if notifier.count() != 1 {
		t.Fatalf("冷却期内不应重复告警, 实际 %d", notifier.count())
	}

	clock.now = clock.now.Add(time.Hour)
	_ = mon.Check(context.Background(), snapshotWith(-700, -25))
	if notifier.count() != 3 {
		t.Fatalf("冷却期后应同时告警黄金与白银, 实际 %d", notifier.count())
	}
}

func TestMonitorIgnoresAbsentDelta(t *testing.T) {
	mon := NewMonitor(MonitorOptions{GoldThreshold: 1, SilverThreshold: 1}, nil, nil, testLogger())
	snap := rates.NewSnapshot(rates.Quote{Gold: "58,400.00"}, rates.Baseline{}, time.Now())
	if notes := mon.Evaluate(snap); len(notes) != 0 {
		t.Fatalf("缺失数据不应触发告警: %+v", notes)
	}
}

func TestMonitorFailureStreak(t *testing.T) {
	notifier := &recordingNotifier{}
	clock := &fakeClock{now: time.Now()}
	mon := NewMonitor(MonitorOptions{FailureStreak: 3, Cooldown: time.Hour, Clock: clock.Now}, notifier, nil, testLogger())

	cause := errors.New("connection refused")
	for i := 0; i < 2; i++ {
		mon.OnRefreshFailed(cause)
	}
	if notifier.count() != 0 {
		t.Fatalf("未达到阈值不应告警, 实际 %d", notifier.count())
	}
	mon.OnRefreshFailed(cause)
	if notifier.count() != 1 {
		t.Fatalf("第三次失败应告警, 实际 %d", notifier.count())
	}
	if notifier.notes[0].Streak != 3 || notifier.notes[0].LastError != "connection refused" {
		t.Fatalf("失败告警内容不正确: %+v", notifier.notes[0])
	}

	mon.OnRefreshFailed(cause)
	if notifier.count() != 1 {
		t.Fatalf("冷却期内不应重复告警, 实际 %d", notifier.count())
	}

	mon.OnSnapshotReady(snapshotWith(0, 0))
	if mon.Streak() != 0 {
		t.Fatalf("成功刷新后计数应清零, 实际 %d", mon.Streak())
	}
}
