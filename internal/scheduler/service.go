package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"threadcast/internal/analytics"
	"threadcast/internal/normalize"
	"threadcast/internal/platform"
	"threadcast/internal/ratelimit"
	"threadcast/internal/storage"
	"threadcast/internal/thread"
	"threadcast/pkg/logx"
)

// Deps are the collaborators the scheduler drives. Store and Client are
// required; the rest get sane defaults when nil.
type Deps struct {
	Store      storage.Store
	Client     platform.Client
	Normalizer *normalize.Normalizer
	Limiter    *ratelimit.Limiter
	Analytics  *analytics.Service
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger

	store     storage.Store
	client    platform.Client
	norm      *normalize.Normalizer
	limiter   *ratelimit.Limiter
	collector *analytics.Service

	queue     chan storage.Task
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	c *cron.Cron

	// one-time publish timers, keyed by task id
	tmu    sync.Mutex
	timers map[string]*time.Timer
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(normalize.Config{})
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(ratelimit.Config{}, deps.Store, log)
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		store:     deps.Store,
		client:    deps.Client,
		norm:      deps.Normalizer,
		limiter:   deps.Limiter,
		collector: deps.Analytics,
		timers:    map[string]*time.Timer{},
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	// Note: live pool resizing is out of scope; pacing/policy changes take
	// effect on the next thread.
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.Workers
	// Fresh queue per run to avoid executing stale items after a stop/start toggle.
	s.queue = make(chan storage.Task, 256)

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in scheduler worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.log.Debug("worker started", logx.Int("worker", idx))
			s.worker(runCtx, stopCh, queue)
			s.log.Debug("worker stopped", logx.Int("worker", idx))
		}()
	}

	s.c = cron.New()
	_, _ = s.c.AddFunc(fmt.Sprintf("@every %s", s.cfg.SweepInterval), func() {
		if err := s.Sweep(runCtx); err != nil {
			s.log.Warn("publish sweep failed", logx.Err(err))
		}
	})
	// Expired rate windows never block (absence-on-read); the sweep just
	// bounds memory growth.
	_, _ = s.c.AddFunc("@hourly", func() {
		removed := s.limiter.Sweep(time.Now())
		if removed > 0 {
			s.log.Debug("rate windows swept", logx.Int("removed", removed))
		}
	})
	s.c.Start()

	// Recover state a previous process left behind.
	if err := s.recoverInterrupted(runCtx); err != nil {
		s.log.Warn("interrupted-thread recovery failed", logx.Err(err))
	}
	if err := s.Sweep(runCtx); err != nil {
		s.log.Warn("startup publish sweep failed", logx.Err(err))
	}

	s.log.Info("service started", logx.Int("workers", workers), logx.Duration("pacing", s.cfg.PacingInterval), logx.Duration("sweep", s.cfg.SweepInterval))
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	s.stopCh = nil
	s.runCtx = nil
	s.runCancel = nil
	s.queue = nil
	s.c = nil
	s.mu.Unlock()

	close(stopCh)
	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}

	// Stop runtime timers; task rows stay in storage so pending publishes
	// resume on the next Start().
	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// stop continues in background
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan storage.Task) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t := <-queue:
			s.runPublish(ctx, t)
		}
	}
}

func publishTaskID(threadID string) string { return storage.TaskPublish + ":" + threadID }

// Sweep re-arms every stored publish task that has no live timer. Overdue
// tasks fire immediately. This is the crash-safety net: in-process timers are
// an optimization, the task rows are the source of truth.
func (s *Service) Sweep(ctx context.Context) error {
	tasks, err := s.store.PendingTasks(ctx, storage.TaskPublish)
	if err != nil {
		return err
	}
	armed := 0
	for _, t := range tasks {
		if s.arm(t) {
			armed++
		}
	}
	if armed > 0 {
		s.log.Debug("publish tasks re-armed", logx.Int("armed", armed))
	}
	return nil
}

// recoverInterrupted marks threads a previous process left in posting as
// failed. Publishing cannot be resumed safely: the platform may or may not
// have accepted the in-flight post. Acquired remote ids are preserved.
func (s *Service) recoverInterrupted(ctx context.Context) error {
	stuck, err := s.store.ListThreads(ctx, thread.StatusPosting)
	if err != nil {
		return err
	}
	for _, th := range stuck {
		pos := len(th.Posts)
		for i := range th.Posts {
			if th.Posts[i].RemoteID == "" {
				pos = th.Posts[i].Position
				break
			}
		}
		th.Status = thread.StatusFailed
		th.FailedPosition = pos
		th.LastError = "publication interrupted by restart"
		if err := s.store.SaveThread(ctx, th); err != nil {
			return err
		}
		_ = s.store.DeleteTask(ctx, publishTaskID(th.ID))
		s.log.Warn("thread marked failed (interrupted)", logx.String("thread", th.ID), logx.Int("position", pos))
	}
	return nil
}

// arm installs a one-shot timer that enqueues the publish task when due.
func (s *Service) arm(t storage.Task) bool {
	s.mu.Lock()
	stopCh := s.stopCh
	queue := s.queue
	s.mu.Unlock()
	if stopCh == nil {
		return false // not started; the startup sweep will pick it up
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if _, ok := s.timers[t.ID]; ok {
		return false
	}
	delay := time.Until(t.DueAt)
	if delay < 0 {
		delay = 0
	}
	task := t
	s.timers[t.ID] = time.AfterFunc(delay, func() {
		select {
		case <-stopCh:
			return
		default:
		}
		select {
		case queue <- task:
		case <-stopCh:
		}
	})
	return true
}

// disarm drops a pending timer (cancellation path).
func (s *Service) disarm(taskID string) {
	s.tmu.Lock()
	if t, ok := s.timers[taskID]; ok {
		_ = t.Stop()
		delete(s.timers, taskID)
	}
	s.tmu.Unlock()
}
