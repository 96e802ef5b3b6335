// Package app wires configuration, storage and the publishing services into
// one process with hot config reload and systemd integration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"threadcast/internal/analytics"
	"threadcast/internal/config"
	"threadcast/internal/normalize"
	"threadcast/internal/platform"
	"threadcast/internal/ratelimit"
	"threadcast/internal/scheduler"
	"threadcast/internal/storage"
	"threadcast/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	logs *logx.Service
	log  logx.Logger

	store     storage.Store
	client    platform.Client
	limiter   *ratelimit.Limiter
	collector *analytics.Service
	sched     *scheduler.Service
}

// New loads the config and builds every component. The platform client is
// injected so the same wiring serves production and dry-run binaries.
func New(cfgPath string, client platform.Client) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.BuildLogging())
	log = log.With(logx.String("comp", "app"))

	storeCfg, err := cfg.BuildStorage()
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	if store == nil {
		// No persistence configured; run fully in memory.
		store = storage.NewMemory()
	}

	limiter := ratelimit.New(cfg.BuildRateLimit(), store, log.With(logx.String("comp", "ratelimit")))
	norm := normalize.New(cfg.BuildNormalize())

	anCfg, err := cfg.BuildAnalytics()
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	collector := analytics.New(anCfg, store, client, log.With(logx.String("comp", "analytics")))

	schedCfg, err := cfg.BuildScheduler()
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, scheduler.Deps{
		Store:      store,
		Client:     client,
		Normalizer: norm,
		Limiter:    limiter,
		Analytics:  collector,
	}, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		logs:      logSvc,
		log:       log,
		store:     store,
		client:    client,
		limiter:   limiter,
		collector: collector,
		sched:     sched,
	}, nil
}

// Scheduler exposes the publishing API (schedule, cancel, list, status).
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Store exposes the persistence layer (read paths for tooling).
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		// Storage driver/path swaps need a restart; reject them so the
		// running store and the config never disagree.
		cur := a.cfgm.Get()
		if cur != nil && (cur.Storage.Driver != cfg.Storage.Driver || cur.Storage.Path != cfg.Storage.Path) {
			return fmt.Errorf("storage driver/path cannot change at runtime")
		}
		return nil
	})

	a.collector.Start(a.sup.Context())
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.apply(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.notifySystemd()

	a.log.Info("app started")
	return nil
}

// apply pushes a validated config into the running components.
func (a *App) apply(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(cfg.BuildLogging())
	a.limiter.Apply(cfg.BuildRateLimit())

	if anCfg, err := cfg.BuildAnalytics(); err == nil {
		a.collector.Apply(anCfg)
	}

	schedCfg, err := cfg.BuildScheduler()
	if err != nil {
		// The validator runs before publish, so this is unreachable in
		// practice; keep the old scheduler config if it ever happens.
		a.log.Warn("scheduler config rejected on apply", logx.Err(err))
		a.log.Info("config reloaded (partial)")
		return
	}
	prevEnabled := a.sched.Enabled()
	a.sched.Apply(schedCfg)

	if prevEnabled && !schedCfg.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	} else if !prevEnabled && schedCfg.Enabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(a.sup.Context())
	}

	a.log.Info("config reloaded")
}

// notifySystemd sends READY and, when a watchdog is configured, starts the
// keepalive loop. Both calls are no-ops outside systemd.
func (a *App) notifySystemd() {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

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

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("analytics", 2*time.Second, func(c context.Context) error { a.collector.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}
