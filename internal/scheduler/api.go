package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"threadcast/internal/planner"
	"threadcast/internal/ratelimit"
	"threadcast/internal/storage"
	"threadcast/internal/thread"
	"threadcast/pkg/logx"
)

// ScheduleThread normalizes the drafts, picks a publish time and persists the
// thread in scheduled state with a durable publish task. A normalization
// failure is reported before scheduling; nothing is persisted in that case.
func (s *Service) ScheduleThread(ctx context.Context, req ScheduleRequest) (*thread.Thread, error) {
	s.mu.Lock()
	cfg := s.cfg
	stopped := s.stopCh == nil
	s.mu.Unlock()

	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if stopped {
		return nil, ErrStopped
	}

	posts, err := s.norm.Normalize(req.Drafts)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	now := time.Now()
	var at time.Time
	switch {
	case req.Now:
		at = now
	case !req.PreferredTime.IsZero():
		at = req.PreferredTime
	default:
		at = planner.NextEligibleTime(now, cfg.Policy)
	}

	th := &thread.Thread{
		ID:            uuid.NewString(),
		Posts:         posts,
		ScheduledTime: at,
		Status:        thread.StatusScheduled,
		Metadata:      req.Metadata,
		CreatedAt:     now,
	}
	if err := th.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.SaveThread(ctx, th); err != nil {
		return nil, fmt.Errorf("persist thread: %w", err)
	}
	task := storage.Task{
		ID:       publishTaskID(th.ID),
		Kind:     storage.TaskPublish,
		DueAt:    at,
		ThreadID: th.ID,
	}
	if err := s.store.PutTask(ctx, task); err != nil {
		return nil, fmt.Errorf("persist publish task: %w", err)
	}
	s.arm(task)

	s.log.Info("thread scheduled",
		logx.String("thread", th.ID),
		logx.Int("posts", len(th.Posts)),
		logx.Time("at", at))
	return th.Clone(), nil
}

// CancelThread cancels a pending thread. It reports false when the thread
// does not exist or is past the point of cancellation (posting and beyond:
// in-flight network side effects make cancellation unsafe).
func (s *Service) CancelThread(ctx context.Context, threadID string) (bool, error) {
	th, ok, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		return false, err
	}
	if !ok || !th.Status.CanCancel() {
		return false, nil
	}

	s.disarm(publishTaskID(threadID))
	if err := s.store.DeleteThreadTasks(ctx, threadID); err != nil {
		return false, err
	}
	if s.collector != nil {
		if err := s.collector.Cancel(ctx, threadID); err != nil {
			s.log.Warn("analytics cancel failed", logx.String("thread", threadID), logx.Err(err))
		}
	}
	if err := s.store.DeleteThread(ctx, threadID); err != nil {
		return false, err
	}
	s.log.Info("thread cancelled", logx.String("thread", threadID))
	return true, nil
}

// ListScheduledThreads returns threads waiting for their publish time,
// ordered by scheduled time.
func (s *Service) ListScheduledThreads(ctx context.Context) ([]*thread.Thread, error) {
	return s.store.ListThreads(ctx, thread.StatusScheduled)
}

// GetThread exposes a single thread's current state.
func (s *Service) GetThread(ctx context.Context, threadID string) (*thread.Thread, bool, error) {
	return s.store.GetThread(ctx, threadID)
}

// GetRateLimitStatus reports current publish budget and ceilings.
func (s *Service) GetRateLimitStatus() ratelimit.Status {
	return s.limiter.Status(time.Now())
}
