package rates

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Metal identifies a rate series.
type Metal string

const (
	Gold   Metal = "gold"
	Silver Metal = "silver"
)

// Metals lists the tracked series in display order.
var Metals = []Metal{Gold, Silver}

// Quote holds the raw literals read from a feed. An empty field means the
// metal could not be located.
type Quote struct {
	Gold   string
	Silver string
}

// Get returns the literal for the given metal.
func (q Quote) Get(m Metal) string {
	if m == Silver {
		return q.Silver
	}
	return q.Gold
}

// Delta is a whole-currency-unit change. Present is false when no
// comparison could be made.
type Delta struct {
	Amount  int64
	Present bool
}

// NewDelta wraps an amount as a present delta.
func NewDelta(amount int64) Delta {
	return Delta{Amount: amount, Present: true}
}

// String renders "+N" for gains, "-N" for losses and "0" otherwise.
func (d Delta) String() string {
	switch {
	case !d.Present || d.Amount == 0:
		return "0"
	case d.Amount > 0:
		return "+" + strconv.FormatInt(d.Amount, 10)
	default:
		return strconv.FormatInt(d.Amount, 10)
	}
}

// MetalBaseline is the comparison value for one metal.
type MetalBaseline struct {
	Baseline string
	Delta    Delta
}

// Baseline pairs both metals' comparison values.
type Baseline struct {
	Gold      MetalBaseline
	Silver    MetalBaseline
	Estimated bool
}

// Snapshot is one fully-resolved observation. It is built once per
// successful refresh cycle and never mutated afterwards.
type Snapshot struct {
	ID               uuid.UUID
	GoldRate         string
	SilverRate       string
	AsOf             time.Time
	GoldBaseline     string
	SilverBaseline   string
	GoldDelta        Delta
	SilverDelta      Delta
	SourceIsEstimate bool
}

// NewSnapshot composes a snapshot from a quote and its resolved baseline.
func NewSnapshot(q Quote, b Baseline, asOf time.Time) Snapshot {
	return Snapshot{
		ID:               uuid.New(),
		GoldRate:         q.Gold,
		SilverRate:       q.Silver,
		AsOf:             asOf,
		GoldBaseline:     b.Gold.Baseline,
		SilverBaseline:   b.Silver.Baseline,
		GoldDelta:        b.Gold.Delta,
		SilverDelta:      b.Silver.Delta,
		SourceIsEstimate: b.Estimated,
	}
}

// Rate returns the rate literal for a metal.
func (s Snapshot) Rate(m Metal) string {
	if m == Silver {
		return s.SilverRate
	}
	return s.GoldRate
}

// DeltaFor returns the delta for a metal.
func (s Snapshot) DeltaFor(m Metal) Delta {
	if m == Silver {
		return s.SilverDelta
	}
	return s.GoldDelta
}

// BaselineFor returns the baseline literal for a metal.
func (s Snapshot) BaselineFor(m Metal) string {
	if m == Silver {
		return s.SilverBaseline
	}
	return s.GoldBaseline
}

// Missing lists metals whose rate is absent.
func (s Snapshot) Missing() []Metal {
	var missing []Metal
	for _, m := range Metals {
		if s.Rate(m) == "" {
			missing = append(missing, m)
		}
	}
	return missing
}

// Partial reports whether one of the metals is absent.
func (s Snapshot) Partial() bool {
	return len(s.Missing()) > 0
}

// IsZero reports whether s is the zero snapshot.
func (s Snapshot) IsZero() bool {
	return s.ID == uuid.Nil && s.GoldRate == "" && s.SilverRate == ""
}
