package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bullionwatch/internal/alerting"
	"bullionwatch/internal/baseline"
	"bullionwatch/internal/cache"
	"bullionwatch/internal/config"
	"bullionwatch/internal/fetcher"
	"bullionwatch/internal/metrics"
	"bullionwatch/internal/notify"
	"bullionwatch/internal/prefs"
	"bullionwatch/internal/scheduler"
	"bullionwatch/internal/server"
	"bullionwatch/internal/service"
	"bullionwatch/internal/storage"
	"bullionwatch/internal/tracker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// engine is the refresh pipeline shared by every command.
type engine struct {
	source      *fetcher.HTTPSource
	history     *baseline.HistoryClient
	resolver    *baseline.Resolver
	cache       *cache.Cache
	tracker     *tracker.Tracker
	coordinator *service.Coordinator
}

func (a *App) newSource() *fetcher.HTTPSource {
	return fetcher.NewHTTPSource(fetcher.SourceOptions{
		ConnectTimeout: a.Config.Feed.ConnectTimeout,
		ReadTimeout:    a.Config.Feed.ReadTimeout,
		UserAgent:      a.Config.Feed.UserAgent,
	}, a.Logger)
}

func (a *App) newHistoryClient(source fetcher.Source) *baseline.HistoryClient {
	return baseline.NewHistoryClient(baseline.HistoryOptions{
		URL:        a.Config.History.URL,
		Addressing: a.Config.History.Addressing,
	}, source, a.Logger)
}

// newEngine wires fetch, baseline, cache and tracking. m may be nil.
func (a *App) newEngine(m *metrics.Metrics) *engine {
	source := a.newSource()

	var history baseline.DayFetcher
	var client *baseline.HistoryClient
	if a.Config.History.Enabled {
		client = a.newHistoryClient(source)
		history = client
	}

	resolver := baseline.NewResolver(baseline.Options{
		EstimatePct: a.Config.History.EstimatePct,
		Observe:     m.RecordBaseline,
	}, history, a.Logger)

	c := cache.New()
	tr := tracker.New()
	coordinator := service.NewCoordinator(service.CoordinatorOptions{
		FeedURL:    a.Config.Feed.URL,
		Format:     a.Config.FeedFormat(),
		Addressing: a.Config.Feed.Addressing,
		CacheTTL:   a.Config.Cache.TTL,
	}, source, resolver, c, tr, m, a.Logger)

	return &engine{
		source:      source,
		history:     client,
		resolver:    resolver,
		cache:       c,
		tracker:     tr,
		coordinator: coordinator,
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newMonitor(store storage.AlertStore) *alerting.Monitor {
	cfg := a.Config.Alerting
	return alerting.NewMonitor(alerting.MonitorOptions{
		GoldThreshold:   cfg.GoldThreshold,
		SilverThreshold: cfg.SilverThreshold,
		FailureStreak:   cfg.FailureStreak,
		Cooldown:        cfg.Cooldown,
		Channels:        cfg.Channels,
	}, a.newNotifier(), store, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	if a.Config.Database.AutoMigrate {
		if err := storage.Migrate(a.Config.Database.DSN, a.Logger); err != nil {
			return nil, nil, err
		}
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newStateStore picks where the schedule state lives. store may be nil.
func (a *App) newStateStore(store *storage.Store) (scheduler.StateStore, error) {
	switch a.Config.State.Backend {
	case config.StateBackendPostgres:
		if store == nil {
			return nil, errors.New("state.backend=postgres requires database.dsn")
		}
		return store, nil
	case config.StateBackendMemory:
		return scheduler.NewMemoryStore(), nil
	default:
		fs, err := prefs.NewFileStore(a.Config.State.Path)
		if err != nil {
			return nil, err
		}
		a.Logger.Debug().Str("path", fs.Path()).Msg("using file state store")
		return fs, nil
	}
}

func (a *App) newScheduler(store scheduler.StateStore, m *metrics.Metrics) *scheduler.Scheduler {
	cfg := a.Config.Scheduler
	return scheduler.New(scheduler.Options{
		Timer: scheduler.TimerOptions{
			Enabled:  cfg.Timer.Enabled,
			Interval: cfg.Timer.Interval,
		},
		Deferred: scheduler.DeferredOptions{
			Enabled:    cfg.Deferred.Enabled,
			MinLatency: cfg.Deferred.MinLatency,
			Deadline:   cfg.Deferred.Deadline,
		},
		Alarm: scheduler.AlarmOptions{
			Enabled: cfg.Alarm.Enabled,
			Spec:    cfg.Alarm.Spec,
		},
		CatchUpAfter:       cfg.CatchUpAfter,
		StartupDelay:       cfg.StartupDelay,
		AutoRefreshDefault: cfg.AutoRefreshDefault,
		OnFire: func(t scheduler.Trigger) {
			m.RecordFire(string(t))
		},
	}, store, a.Logger)
}

// Run executes the long-running refresh service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; history persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	stateStore, err := a.newStateStore(store)
	if err != nil {
		return err
	}
	sched := a.newScheduler(stateStore, m)
	eng := a.newEngine(m)

	dispatcher := notify.NewDispatcher(a.Config.Notify.QueueSize, m, a.Logger, notify.NewLogListener(a.Logger))
	if store != nil {
		dispatcher.Add(storage.NewRecorder(store, store, a.Config.Scheduler.AdvisoryLockKey, a.Logger))
	}
	if a.Config.Alerting.Enabled {
		var alertStore storage.AlertStore
		if store != nil {
			alertStore = store
		}
		dispatcher.Add(a.newMonitor(alertStore))
	}
	if a.Config.Kafka.Enabled {
		publisher, err := notify.NewKafkaPublisher(notify.KafkaOptions{
			Brokers:  a.Config.Kafka.Brokers,
			Topic:    a.Config.Kafka.Topic,
			Encoding: a.Config.Kafka.Encoding,
		}, a.Logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		dispatcher.Add(publisher)
	}

	svc := service.New(eng.coordinator, sched, dispatcher, a.Logger)

	var srv *server.Server
	if a.Config.Server.Enabled {
		hub := server.NewHub(a.Config.Server.AllowedOrigins, a.Logger, server.WithFreshness(a.Config.Cache.TTL, nil))
		dispatcher.Add(hub)
		srv = server.New(server.Options{
			Addr:           a.Config.Server.Addr,
			ReadTimeout:    a.Config.Server.ReadTimeout,
			WriteTimeout:   a.Config.Server.WriteTimeout,
			AllowedOrigins: a.Config.Server.AllowedOrigins,
			Gatherer:       reg,
		}, eng.coordinator, svc, hub, a.Logger)
	}

	a.Logger.Info().Str("feed", a.Config.Feed.URL).Msg("starting rate service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return svc.Run(gctx) })
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("rate service stopped")
	return nil
}

// SetAutoRefresh persists the auto refresh flag for the next run.
func (a *App) SetAutoRefresh(ctx context.Context, enabled bool) error {
	store, closeStore, err := a.openStoreForState(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	stateStore, err := a.newStateStore(store)
	if err != nil {
		return err
	}
	svc := service.New(nil, a.newScheduler(stateStore, nil), nil, a.Logger)
	return svc.OnAutoRefreshToggled(ctx, enabled)
}

// AutoRefreshStatus reports the persisted schedule state.
func (a *App) AutoRefreshStatus(ctx context.Context) (scheduler.State, error) {
	store, closeStore, err := a.openStoreForState(ctx)
	if err != nil {
		return scheduler.State{}, err
	}
	if closeStore != nil {
		defer closeStore()
	}

	stateStore, err := a.newStateStore(store)
	if err != nil {
		return scheduler.State{}, err
	}
	return a.newScheduler(stateStore, nil).State(ctx)
}

func (a *App) openStoreForState(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.State.Backend != config.StateBackendPostgres {
		return nil, nil, nil
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open state store: %w", err)
	}
	return store, closeStore, nil
}

// ExportOptions hold parameters for exporting stored snapshots.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
