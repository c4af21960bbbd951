// Package app wires configuration, storage, the publisher registry and
// the dispatch/reconcile services into one runnable unit.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"crosspost/internal/config"
	"crosspost/internal/dispatch"
	"crosspost/internal/eventbus"
	"crosspost/internal/imaging"
	"crosspost/internal/publisher"
	"crosspost/internal/reconcile"
	"crosspost/internal/runtime/supervisor"
	"crosspost/internal/schedule"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

const defaultReconcileSchedule = "@hourly"

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	images  *imaging.Service
	builder *publisher.Builder
	holder  *publisher.Holder
	deps    publisher.Deps

	sched *schedule.Service
	bus   eventbus.Bus

	dispatcher *dispatch.Dispatcher
	reconciler *reconcile.Reconciler
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := config.ParseDurationOrDefault("images.fetch_timeout", cfg.Images.FetchTimeout, 20*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	images := imaging.New(imaging.Config{
		UploadRoot:   cfg.Images.UploadRoot,
		OutputDir:    cfg.Images.OutputDir,
		FetchTimeout: fetchTimeout,
	}, log.With(logx.String("comp", "imaging")))

	bus := eventbus.New()
	builder := publisher.NewBuilder(log.With(logx.String("comp", "registry")))
	deps := publisher.Deps{
		Log:    log,
		HTTP:   &http.Client{Timeout: 30 * time.Second},
		Images: images,
	}

	sched := schedule.New(schedule.Config{
		Workers: 2,
	}, log.With(logx.String("comp", "scheduler")))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		images:  images,
		builder: builder,
		holder:  publisher.NewHolder(nil),
		deps:    deps,
		sched:   sched,
		bus:     bus,
	}
	return a, nil
}

// Publishers exposes the factory builder so main can register target
// adapters before Start.
func (a *App) Publishers() *publisher.Builder { return a.builder }

// Dispatcher is available after Start.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Reconciler is available after Start.
func (a *App) Reconciler() *reconcile.Reconciler { return a.reconciler }

// Registry returns the holder for the current publisher registry.
func (a *App) Registry() *publisher.Holder { return a.holder }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Reject bad hot-reloads before they are committed or published.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return Validate(cfg)
	})

	cfg := a.cfgm.Get()

	// First registry build.
	reg := a.builder.Build(config.NewTargetStore(cfg), a.deps)
	a.holder.Swap(reg)
	a.log.Info("publisher registry built", logx.Int("targets", reg.Len()))

	a.sched.Start(a.sup.Context())

	retryDelay, _ := config.ParseDurationOrDefault("dispatcher.retry_delay", cfg.Dispatcher.RetryDelay, 3*time.Second)
	a.dispatcher = dispatch.New(a.store, a.holder, a.sched, a.bus,
		a.log.With(logx.String("comp", "dispatch")),
		dispatch.Options{
			MaxRetries:    cfg.Dispatcher.Retries(2),
			RetryDelay:    retryDelay,
			SnapshotChars: cfg.Dispatcher.SnapshotChars,
		})

	a.reconciler = reconcile.New(a.store, a.holder, a.bus,
		a.log.With(logx.String("comp", "reconcile")))

	if cfg.Reconciler.Enabled {
		if err := a.armReconcileSweep(cfg); err != nil {
			return err
		}
	}

	// Config hot reload: watch the file and fan changes out.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(time.Second, time.Minute))

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	events, unsub := a.bus.Subscribe(32)
	a.sup.Go0("events.audit", func(c context.Context) {
		defer unsub()
		a.auditLoop(c, events)
	})

	notifyReady(a.log)
	a.armWatchdog()

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.sched.Stop()
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) armReconcileSweep(cfg *config.Config) error {
	spec := strings.TrimSpace(cfg.Reconciler.Schedule)
	if spec == "" {
		spec = defaultReconcileSchedule
	}
	window, err := config.ParseDurationOrDefault("reconciler.window", cfg.Reconciler.Window, 0)
	if err != nil {
		return err
	}
	return a.sched.AddCron("reconcile.sweep", spec, 10*time.Minute, func(c context.Context) error {
		_, err := a.reconciler.Sweep(c, window)
		return err
	})
}

func notifyReady(log logx.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify ready sent")
	}
}

func (a *App) armWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

// Validate is the shared config validator: it runs on startup loads and
// on every hot reload before commit.
func Validate(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if cfg.Dispatcher.MaxRetries != nil && *cfg.Dispatcher.MaxRetries < 0 {
		return fmt.Errorf("dispatcher.max_retries must be >= 0")
	}
	if _, err := config.ParseDurationOrDefault("dispatcher.retry_delay", cfg.Dispatcher.RetryDelay, 0); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("images.fetch_timeout", cfg.Images.FetchTimeout, 0); err != nil {
		return err
	}
	if _, err := config.ParseDurationOrDefault("reconciler.window", cfg.Reconciler.Window, 0); err != nil {
		return err
	}
	for id := range cfg.Targets {
		switch publisher.Target(id) {
		case publisher.TargetTelegram, publisher.TargetDevto, publisher.TargetWordPress, publisher.TargetMedium:
		default:
			return fmt.Errorf("targets.%s: unknown target", id)
		}
	}
	return nil
}
