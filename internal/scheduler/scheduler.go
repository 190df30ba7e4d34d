package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Trigger names the layer that caused a refresh.
type Trigger string

const (
	TriggerTimer    Trigger = "timer"
	TriggerDeferred Trigger = "deferred_job"
	TriggerAlarm    Trigger = "alarm"
	TriggerCatchUp  Trigger = "catch_up"
	TriggerManual   Trigger = "manual"
)

// TickFunc is invoked by every layer.
type TickFunc func(ctx context.Context, trigger Trigger) error

// TimerOptions configure the in-process periodic layer.
type TimerOptions struct {
	Enabled  bool
	Interval time.Duration
}

// DeferredOptions configure the persisted one-shot job that re-arms itself.
type DeferredOptions struct {
	Enabled    bool
	MinLatency time.Duration
	Deadline   time.Duration
}

// AlarmOptions configure the calendar layer.
type AlarmOptions struct {
	Enabled bool
	Spec    string
}

// Options tune scheduler behaviour.
type Options struct {
	Timer    TimerOptions
	Deferred DeferredOptions
	Alarm    AlarmOptions

	// CatchUpAfter fires once on start when the last fire is older than this.
	CatchUpAfter time.Duration
	StartupDelay time.Duration
	// AutoRefreshDefault applies while nothing has been persisted.
	AutoRefreshDefault bool

	Clock  func() time.Time
	OnFire func(Trigger)
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSpec checks an alarm schedule expression.
func ValidateSpec(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

// Scheduler keeps up to three independent refresh layers running. Start and
// Stop are idempotent.
type Scheduler struct {
	opts   Options
	store  StateStore
	logger zerolog.Logger

	lifecycle sync.Mutex

	mu       sync.Mutex
	running  bool
	gen      uint64
	runCtx   context.Context
	cancel   context.CancelFunc
	tick     TickFunc
	deferred *time.Timer
	alarm    *cron.Cron
	wg       sync.WaitGroup

	baseCtx  context.Context
	baseTick TickFunc

	persistMu sync.Mutex
}

// New constructs a Scheduler. A nil store keeps state in memory.
func New(opts Options, store StateStore, logger zerolog.Logger) *Scheduler {
	if opts.Timer.Enabled && opts.Timer.Interval <= 0 {
		panic("scheduler timer interval must be positive")
	}
	if opts.Deferred.Enabled {
		if opts.Deferred.MinLatency <= 0 {
			panic("scheduler deferred min latency must be positive")
		}
		if opts.Deferred.Deadline < opts.Deferred.MinLatency {
			opts.Deferred.Deadline = opts.Deferred.MinLatency
		}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Scheduler{opts: opts, store: store, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks until ctx is cancelled. The layers run only while auto refresh
// is enabled; Enable and Disable may toggle them at any time.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if tick == nil {
		return errors.New("scheduler tick func is nil")
	}

	s.lifecycle.Lock()
	s.baseCtx = ctx
	s.baseTick = tick
	s.lifecycle.Unlock()

	defer func() {
		s.Stop()
		s.lifecycle.Lock()
		s.baseCtx, s.baseTick = nil, nil
		s.lifecycle.Unlock()
	}()

	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	enabled, err := s.Enabled(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read auto refresh flag, using default")
	}
	if enabled {
		if err := s.Start(ctx, tick); err != nil {
			return err
		}
	} else {
		s.logger.Info().Msg("auto refresh disabled, waiting for enable")
	}

	<-ctx.Done()
	return ctx.Err()
}

// Start arms every enabled layer. Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context, tick TickFunc) error {
	if tick == nil {
		return errors.New("scheduler tick func is nil")
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	state, err := s.load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load schedule state")
	}

	var alarm *cron.Cron
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.running = true
	s.runCtx = runCtx
	s.cancel = cancel
	s.tick = tick
	s.mu.Unlock()

	if s.opts.Alarm.Enabled {
		alarm = cron.New(cron.WithParser(cronParser))
		if _, err := alarm.AddFunc(s.opts.Alarm.Spec, func() { s.fire(gen, TriggerAlarm) }); err != nil {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			cancel()
			return fmt.Errorf("schedule alarm %q: %w", s.opts.Alarm.Spec, err)
		}
	}

	if s.opts.Timer.Enabled {
		s.wg.Add(1)
		go s.runTimer(runCtx, gen)
	}
	if s.opts.Deferred.Enabled {
		s.armDeferred(runCtx, gen, state.NextDeadline)
	}
	if alarm != nil {
		s.mu.Lock()
		s.alarm = alarm
		s.mu.Unlock()
		alarm.Start()
	}

	if s.needsCatchUp(state) {
		go s.fire(gen, TriggerCatchUp)
	}

	s.logger.Info().
		Bool("timer", s.opts.Timer.Enabled).
		Bool("deferred", s.opts.Deferred.Enabled).
		Bool("alarm", s.opts.Alarm.Enabled).
		Msg("scheduler started")
	return nil
}

// Stop cancels every layer and waits for the timer goroutine, including a
// tick it is running. Deferred and alarm callbacks already in flight are not
// waited for, but a deferred re-arm racing Stop persists no new deadline.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	deferred := s.deferred
	alarm := s.alarm
	s.cancel, s.deferred, s.alarm, s.tick = nil, nil, nil, nil
	s.mu.Unlock()

	cancel()
	if deferred != nil {
		deferred.Stop()
	}
	if alarm != nil {
		alarm.Stop()
	}
	s.wg.Wait()

	s.logger.Info().Msg("scheduler stopped")
}

// Running reports whether the layers are armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Enable persists the auto refresh flag and starts the layers when Run is
// active.
func (s *Scheduler) Enable(ctx context.Context) error {
	if err := s.update(ctx, func(st *State) bool { st.Enabled = true; return true }); err != nil {
		return err
	}

	s.lifecycle.Lock()
	base, tick := s.baseCtx, s.baseTick
	s.lifecycle.Unlock()
	if base == nil || tick == nil {
		return nil
	}
	return s.Start(base, tick)
}

// Disable persists the flag and cancels every layer, including the durable
// deadline.
func (s *Scheduler) Disable(ctx context.Context) error {
	s.Stop()
	return s.update(ctx, func(st *State) bool {
		st.Enabled = false
		st.NextDeadline = nil
		return true
	})
}

// Enabled returns the persisted auto refresh flag.
func (s *Scheduler) Enabled(ctx context.Context) (bool, error) {
	st, err := s.load(ctx)
	if err != nil {
		return s.opts.AutoRefreshDefault, err
	}
	return st.Enabled, nil
}

// State returns the persisted schedule state.
func (s *Scheduler) State(ctx context.Context) (State, error) {
	return s.load(ctx)
}

func (s *Scheduler) runTimer(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Timer.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(gen, TriggerTimer)
		}
	}
}

// armDeferred schedules the durable job. A persisted deadline that has
// already passed fires immediately.
func (s *Scheduler) armDeferred(ctx context.Context, gen uint64, persisted *time.Time) {
	if ctx.Err() != nil {
		return
	}
	now := s.opts.Clock()
	slack := s.opts.Deferred.Deadline - s.opts.Deferred.MinLatency

	var delay time.Duration
	if persisted != nil {
		if !persisted.After(now) {
			delay = 0
			s.logger.Info().Time("deadline", *persisted).Msg("deferred job overdue, firing now")
		} else {
			delay = max(0, persisted.Add(-slack).Sub(now))
		}
	} else {
		delay = s.opts.Deferred.MinLatency
		deadline := now.Add(s.opts.Deferred.Deadline)
		err := s.update(ctx, func(st *State) bool {
			if !s.live(gen) {
				return false
			}
			st.NextDeadline = &deadline
			return true
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to persist deferred deadline")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.gen != gen {
		return
	}
	s.deferred = time.AfterFunc(delay, func() { s.runDeferred(ctx, gen) })
}

func (s *Scheduler) runDeferred(ctx context.Context, gen uint64) {
	s.fire(gen, TriggerDeferred)
	// re-arm from now, as a fresh job
	s.armDeferred(ctx, gen, nil)
}

func (s *Scheduler) fire(gen uint64, trigger Trigger) {
	s.mu.Lock()
	if !s.running || s.gen != gen {
		s.mu.Unlock()
		return
	}
	ctx, tick := s.runCtx, s.tick
	s.mu.Unlock()

	if s.opts.OnFire != nil {
		s.opts.OnFire(trigger)
	}
	s.logger.Debug().Str("trigger", string(trigger)).Msg("executing scheduled tick")

	if err := tick(ctx, trigger); err != nil {
		s.logger.Error().Err(err).Str("trigger", string(trigger)).Msg("tick execution failed")
	}

	firedAt := s.opts.Clock()
	if err := s.update(ctx, func(st *State) bool { st.LastFiredAt = &firedAt; return true }); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("failed to persist fire watermark")
	}
}

func (s *Scheduler) needsCatchUp(st State) bool {
	if s.opts.CatchUpAfter <= 0 {
		return false
	}
	if st.LastFiredAt == nil {
		return true
	}
	return s.opts.Clock().Sub(*st.LastFiredAt) >= s.opts.CatchUpAfter
}

// live reports whether gen is the current running generation.
func (s *Scheduler) live(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && s.gen == gen
}

// load reads the persisted state, falling back to the default flag when
// nothing usable is stored.
func (s *Scheduler) load(ctx context.Context) (State, error) {
	st, err := s.store.LoadSchedule(ctx)
	if errors.Is(err, ErrNoState) {
		if err != ErrNoState {
			s.logger.Warn().Err(err).Msg("persisted schedule state unreadable, using defaults")
		}
		return State{Enabled: s.opts.AutoRefreshDefault}, nil
	}
	return st, err
}

// update applies fn to the persisted state. Nothing is written when fn
// returns false.
func (s *Scheduler) update(ctx context.Context, fn func(*State) bool) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	st, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("load schedule state: %w", err)
	}
	if !fn(&st) {
		return nil
	}
	if err := s.store.SaveSchedule(ctx, st); err != nil {
		return fmt.Errorf("save schedule state: %w", err)
	}
	return nil
}
