package notify

import (
	"github.com/rs/zerolog"

	"bullionwatch/internal/rates"
)

// LogListener writes every outcome to the log.
type LogListener struct {
	logger zerolog.Logger
}

// NewLogListener returns a listener that logs through logger.
func NewLogListener(logger zerolog.Logger) *LogListener {
	return &LogListener{logger: logger.With().Str("component", "display").Logger()}
}

func (l *LogListener) OnSnapshotReady(s rates.Snapshot) {
	l.logger.Info().
		Str("gold", s.GoldRate).
		Str("gold_delta", s.GoldDelta.String()).
		Str("silver", s.SilverRate).
		Str("silver_delta", s.SilverDelta.String()).
		Bool("estimate", s.SourceIsEstimate).
		Time("as_of", s.AsOf).
		Msg("rates updated")
}

func (l *LogListener) OnRefreshFailed(err error) {
	l.logger.Warn().Err(err).Msg("rates unavailable, check connection")
}

var _ Listener = (*LogListener)(nil)
