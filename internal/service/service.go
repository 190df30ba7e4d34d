package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"bullionwatch/internal/rates"
	"bullionwatch/internal/scheduler"
)

// Publisher receives the outcome of every triggered refresh.
type Publisher interface {
	SnapshotReady(snapshot rates.Snapshot)
	RefreshFailed(err error)
}

// Refresher is satisfied by *Coordinator.
type Refresher interface {
	Refresh(ctx context.Context) (rates.Snapshot, error)
}

// Service connects the scheduling layers and inbound requests to the
// coordinator, and reports every outcome to the publisher.
type Service struct {
	refresher Refresher
	scheduler *scheduler.Scheduler
	publisher Publisher
	logger    zerolog.Logger

	requests chan struct{}
}

// New constructs the refresh service.
func New(refresher Refresher, sched *scheduler.Scheduler, publisher Publisher, logger zerolog.Logger) *Service {
	return &Service{
		refresher: refresher,
		scheduler: sched,
		publisher: publisher,
		logger:    logger.With().Str("component", "service").Logger(),
		requests:  make(chan struct{}, 1),
	}
}

// Run serves manual refresh requests and drives the scheduler until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.serveRequests(ctx)
	}()

	err := s.scheduler.Run(ctx, s.Trigger)
	<-done
	return err
}

// Trigger performs one refresh and publishes its outcome. PartialData is
// published as a snapshot and not reported as a failure.
func (s *Service) Trigger(ctx context.Context, trigger scheduler.Trigger) error {
	snap, err := s.refresher.Refresh(ctx)
	switch {
	case err == nil:
		s.publishSnapshot(snap)
		return nil
	case IsPartial(err):
		s.logger.Warn().Err(err).Str("trigger", string(trigger)).Msg("publishing partial snapshot")
		s.publishSnapshot(snap)
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	default:
		if s.publisher != nil {
			s.publisher.RefreshFailed(err)
		}
		return fmt.Errorf("refresh (%s): %w", trigger, err)
	}
}

// OnRefreshRequested asks for an immediate refresh. Requests arriving while
// one is pending are coalesced.
func (s *Service) OnRefreshRequested() {
	select {
	case s.requests <- struct{}{}:
	default:
		s.logger.Debug().Msg("refresh already pending")
	}
}

// OnAutoRefreshToggled persists the flag and starts or stops the layers.
func (s *Service) OnAutoRefreshToggled(ctx context.Context, enabled bool) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if enabled {
		if err := s.scheduler.Enable(ctx); err != nil {
			return fmt.Errorf("enable auto refresh: %w", err)
		}
		s.logger.Info().Msg("auto refresh enabled")
		return nil
	}
	if err := s.scheduler.Disable(ctx); err != nil {
		return fmt.Errorf("disable auto refresh: %w", err)
	}
	s.logger.Info().Msg("auto refresh disabled")
	return nil
}

// AutoRefreshEnabled reports the persisted flag.
func (s *Service) AutoRefreshEnabled(ctx context.Context) (bool, error) {
	if s.scheduler == nil {
		return false, fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Enabled(ctx)
}

func (s *Service) serveRequests(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.requests:
			if err := s.Trigger(ctx, scheduler.TriggerManual); err != nil {
				s.logger.Error().Err(err).Msg("manual refresh failed")
			}
		}
	}
}

func (s *Service) publishSnapshot(snap rates.Snapshot) {
	if s.publisher != nil {
		s.publisher.SnapshotReady(snap)
	}
}
