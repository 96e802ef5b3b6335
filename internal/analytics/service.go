package analytics

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"threadcast/internal/platform"
	"threadcast/internal/storage"
	"threadcast/internal/thread"
	"threadcast/pkg/logx"
)

// Service owns the deferred collection tasks. It is independent of the
// publication engine's lifecycle: once ScheduleCollection has persisted the
// tasks, the engine is out of the picture.
type Service struct {
	mu  sync.Mutex
	cfg Config

	log     logx.Logger
	store   storage.Store
	client  platform.Client
	limiter *rate.Limiter

	c         *cron.Cron
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	collectWG sync.WaitGroup

	// one-time timers, keyed by task id
	tmu    sync.Mutex
	timers map[string]*time.Timer
}

func New(cfg Config, store storage.Store, client platform.Client, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		log:     log,
		store:   store,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.FetchRatePerSec), cfg.FetchRatePerSec),
		timers:  map[string]*time.Timer{},
	}
}

// Apply swaps offsets and the enabled flag. Already-persisted tasks keep
// their due times; the fetch pacing rate changes on the next restart.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func taskID(threadID, label string) string {
	return storage.TaskAnalytics + ":" + threadID + ":" + label
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	// Recovery sweep: re-arm or execute whatever a restart left behind.
	runCtx := s.runCtx
	s.c = cron.New()
	_, _ = s.c.AddFunc(fmt.Sprintf("@every %s", s.cfg.SweepInterval), func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in analytics sweep", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		if err := s.Sweep(runCtx); err != nil {
			s.log.Warn("analytics sweep failed", logx.Err(err))
		}
	})
	s.c.Start()

	if err := s.Sweep(runCtx); err != nil {
		s.log.Warn("analytics startup sweep failed", logx.Err(err))
	}
	s.log.Info("service started", logx.Int("offsets", len(s.cfg.Offsets)), logx.Duration("sweep", s.cfg.SweepInterval))
}

func (s *Service) Stop(ctx context.Context) {
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
	s.c = nil
	s.mu.Unlock()

	close(stopCh)
	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}

	// Stop runtime timers; task rows stay in storage so collections resume
	// on the next Start().
	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.collectWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// ScheduleCollection registers the deferred collection tasks for a published
// thread. Call it once, on transition to published; task ids are
// deterministic, so a repeat call is an upsert, not a duplicate.
func (s *Service) ScheduleCollection(ctx context.Context, th *thread.Thread) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return nil
	}

	base := th.CompletedAt
	if base.IsZero() {
		base = time.Now()
	}
	for _, off := range cfg.Offsets {
		t := storage.Task{
			ID:       taskID(th.ID, off.Label),
			Kind:     storage.TaskAnalytics,
			DueAt:    base.Add(off.After),
			ThreadID: th.ID,
			Label:    off.Label,
		}
		if err := s.store.PutTask(ctx, t); err != nil {
			return fmt.Errorf("persist analytics task %s: %w", t.ID, err)
		}
		s.arm(t)
	}
	s.log.Debug("collection scheduled", logx.String("thread", th.ID), logx.Int("offsets", len(cfg.Offsets)))
	return nil
}

// Cancel drops every pending collection for a thread (used when the owning
// thread record is deleted).
func (s *Service) Cancel(ctx context.Context, threadID string) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	s.tmu.Lock()
	for _, off := range cfg.Offsets {
		id := taskID(threadID, off.Label)
		if t, ok := s.timers[id]; ok {
			_ = t.Stop()
			delete(s.timers, id)
		}
	}
	s.tmu.Unlock()

	return s.store.DeleteThreadTasks(ctx, threadID)
}

// Sweep re-arms every stored analytics task that has no live timer. Overdue
// tasks fire immediately.
func (s *Service) Sweep(ctx context.Context) error {
	tasks, err := s.store.PendingTasks(ctx, storage.TaskAnalytics)
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
		s.log.Debug("analytics tasks re-armed", logx.Int("armed", armed))
	}
	return nil
}

// arm installs a one-shot timer for the task unless one is already running.
func (s *Service) arm(t storage.Task) bool {
	s.mu.Lock()
	stopCh := s.stopCh
	runCtx := s.runCtx
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
		s.collectWG.Add(1)
		defer s.collectWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in analytics collection", logx.String("task", task.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.runCollection(runCtx, task)
	})
	return true
}
