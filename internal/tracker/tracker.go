package tracker

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Direction of a change between consecutive observations.
type Direction int

const (
	None Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "none"
	}
}

// Change is the difference between the previous and the current observation.
type Change struct {
	Amount    float64
	Direction Direction
}

// Tracker remembers the last raw value per key. It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	previous map[string]string
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{previous: make(map[string]string)}
}

// RecordAndDiff stores value under key and returns the change from the value
// stored before. The first observation, or any unparsable side, yields a zero
// change.
func (t *Tracker) RecordAndDiff(key, value string) Change {
	t.mu.Lock()
	prev, seen := t.previous[key]
	t.previous[key] = value
	t.mu.Unlock()

	if !seen {
		return Change{}
	}

	current, err := parse(value)
	if err != nil {
		return Change{}
	}
	before, err := parse(prev)
	if err != nil {
		return Change{}
	}

	diff := current.Sub(before)
	amount, _ := diff.Float64()
	switch diff.Sign() {
	case 1:
		return Change{Amount: amount, Direction: Up}
	case -1:
		return Change{Amount: amount, Direction: Down}
	default:
		return Change{}
	}
}

// Previous returns the stored value for key.
func (t *Tracker) Previous(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.previous[key]
	return v, ok
}

func parse(raw string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""))
}
