package rates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeltaString(t *testing.T) {
	tests := []struct {
		name  string
		delta Delta
		want  string
	}{
		{"absent", Delta{}, "0"},
		{"zero", NewDelta(0), "0"},
		{"gain", NewDelta(292), "+292"},
		{"loss", NewDelta(-45), "-45"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.delta.String())
		})
	}
}

func TestSnapshotMissing(t *testing.T) {
	snap := NewSnapshot(Quote{Gold: "58,400.00"}, Baseline{}, time.Now())

	assert.True(t, snap.Partial())
	assert.Equal(t, []Metal{Silver}, snap.Missing())
	assert.Equal(t, "58,400.00", snap.Rate(Gold))
	assert.False(t, snap.IsZero())
}
