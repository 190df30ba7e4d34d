package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bullionwatch/internal/rates"
)

const recordTimeout = 5 * time.Second

// Recorder persists every delivered snapshot as live history. When a locker
// and key are set, only the instance holding the advisory lock writes.
type Recorder struct {
	store   SnapshotStore
	locker  AdvisoryLocker
	lockKey int64
	logger  zerolog.Logger
}

// NewRecorder builds a history recorder. locker may be nil.
func NewRecorder(store SnapshotStore, locker AdvisoryLocker, lockKey int64, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:   store,
		locker:  locker,
		lockKey: lockKey,
		logger:  logger.With().Str("component", "history_recorder").Logger(),
	}
}

func (r *Recorder) OnSnapshotReady(s rates.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to acquire advisory lock")
		return
	}
	if !proceed {
		r.logger.Debug().Msg("skip snapshot because advisory lock held elsewhere")
		return
	}
	if unlock != nil {
		defer unlock()
	}

	inserted, err := r.store.InsertSnapshot(ctx, RecordFromSnapshot(s, SourceLive))
	if err != nil {
		r.logger.Error().Err(err).Str("id", s.ID.String()).Msg("failed to persist snapshot")
		return
	}
	if inserted {
		r.logger.Debug().Str("id", s.ID.String()).Time("as_of", s.AsOf).Msg("snapshot recorded")
	}
}

// OnRefreshFailed is a no-op; failures are not part of the history.
func (r *Recorder) OnRefreshFailed(error) {}

func (r *Recorder) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.lockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	return r.locker.TryAdvisoryLock(ctx, r.lockKey)
}
