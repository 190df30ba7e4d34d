package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bullionwatch/internal/rates"
)

// Snapshot sources.
const (
	SourceLive     = "live"
	SourceBackfill = "backfill"
)

// SnapshotRecord is a persisted rates.Snapshot plus numeric columns for
// charting.
type SnapshotRecord struct {
	ID             uuid.UUID
	AsOf           time.Time
	Source         string
	GoldRate       *string
	SilverRate     *string
	GoldValue      *decimal.Decimal
	SilverValue    *decimal.Decimal
	GoldBaseline   *string
	SilverBaseline *string
	GoldDelta      *int64
	SilverDelta    *int64
	IsEstimate     bool
	CreatedAt      time.Time
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID         int64
	SnapshotID *uuid.UUID
	Kind       string
	Metal      string
	Delta      *int64
	Threshold  *int64
	Message    string
	CreatedAt  time.Time
}

// RecordFromSnapshot maps a snapshot to its row form.
func RecordFromSnapshot(s rates.Snapshot, source string) SnapshotRecord {
	rec := SnapshotRecord{
		ID:             s.ID,
		AsOf:           s.AsOf.UTC(),
		Source:         source,
		GoldRate:       optString(s.GoldRate),
		SilverRate:     optString(s.SilverRate),
		GoldValue:      optDecimal(s.GoldRate),
		SilverValue:    optDecimal(s.SilverRate),
		GoldBaseline:   optString(s.GoldBaseline),
		SilverBaseline: optString(s.SilverBaseline),
		GoldDelta:      optDelta(s.GoldDelta),
		SilverDelta:    optDelta(s.SilverDelta),
		IsEstimate:     s.SourceIsEstimate,
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return rec
}

// Snapshot rebuilds the domain value.
func (r SnapshotRecord) Snapshot() rates.Snapshot {
	s := rates.Snapshot{
		ID:               r.ID,
		AsOf:             r.AsOf,
		GoldRate:         deref(r.GoldRate),
		SilverRate:       deref(r.SilverRate),
		GoldBaseline:     deref(r.GoldBaseline),
		SilverBaseline:   deref(r.SilverBaseline),
		SourceIsEstimate: r.IsEstimate,
	}
	if r.GoldDelta != nil {
		s.GoldDelta = rates.NewDelta(*r.GoldDelta)
	}
	if r.SilverDelta != nil {
		s.SilverDelta = rates.NewDelta(*r.SilverDelta)
	}
	return s
}

func optString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func optDecimal(v string) *decimal.Decimal {
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(stripGrouping(v))
	if err != nil {
		return nil
	}
	return &d
}

func optDelta(d rates.Delta) *int64 {
	if !d.Present {
		return nil
	}
	v := d.Amount
	return &v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
