package scheduler

import (
	"context"
	"errors"
	"time"

	"threadcast/internal/platform"
	"threadcast/internal/storage"
	"threadcast/internal/thread"
	"threadcast/pkg/logx"
)

// runPublish executes one due publish task on a worker.
func (s *Service) runPublish(ctx context.Context, task storage.Task) {
	// Delete the task row before the timer entry: the sweep only re-arms
	// tasks that still have a row and no timer, so this order leaves no
	// window for a duplicate run.
	cleanup := func() {
		_ = s.store.DeleteTask(ctx, task.ID)
		s.tmu.Lock()
		delete(s.timers, task.ID)
		s.tmu.Unlock()
	}

	th, ok, err := s.store.GetThread(ctx, task.ThreadID)
	if err != nil {
		// Keep the task; the next sweep retries the load.
		s.log.Warn("publish load failed; will retry on next sweep", logx.String("task", task.ID), logx.Err(err))
		s.tmu.Lock()
		delete(s.timers, task.ID)
		s.tmu.Unlock()
		return
	}
	if !ok || th.Status != thread.StatusScheduled {
		// Cancelled or already handled.
		cleanup()
		return
	}

	if err := s.executeThread(ctx, th); err != nil {
		var pe *PublishError
		if errors.As(err, &pe) {
			s.log.Error("thread failed",
				logx.String("thread", pe.ThreadID),
				logx.Int("position", pe.Position),
				logx.Err(pe.Err))
		} else {
			s.log.Error("thread failed", logx.String("thread", th.ID), logx.Err(err))
		}
	}
	cleanup()
}

// executeThread is the publication engine: it walks the thread's posts in
// order, chains each post to the previous one's remote id, paces between
// posts, and halts at the first failure. Already-published posts are never
// rolled back.
func (s *Service) executeThread(ctx context.Context, th *thread.Thread) error {
	s.mu.Lock()
	pacing := s.cfg.PacingInterval
	s.mu.Unlock()

	th.Status = thread.StatusPosting
	if err := s.store.SaveThread(ctx, th); err != nil {
		// Could not record the transition; leave the thread scheduled so the
		// sweep can retry, rather than publishing untracked.
		th.Status = thread.StatusScheduled
		return err
	}

	parent := ""
	for i := range th.Posts {
		p := &th.Posts[i]

		if i > 0 {
			// Platform courtesy delay between posts, not before the first.
			if err := s.pace(ctx, pacing); err != nil {
				return s.fail(ctx, th, p.Position, err)
			}
		}

		// Atomic check-then-increment: concurrent threads cannot both pass a
		// ceiling only one can satisfy.
		if !s.limiter.Acquire(time.Now()) {
			return s.fail(ctx, th, p.Position, ErrRateLimited)
		}

		p.ParentRemoteID = parent
		res, err := s.client.Publish(ctx, platform.PublishRequest{
			Content:        p.Content,
			ParentRemoteID: parent,
			MediaRefs:      p.MediaRefs,
		})
		if err != nil {
			return s.fail(ctx, th, p.Position, err)
		}

		p.RemoteID = res.RemoteID
		parent = res.RemoteID

		// Persist progress after every post so a crash mid-thread keeps the
		// remote ids already acquired.
		if err := s.store.SaveThread(ctx, th); err != nil {
			s.log.Warn("thread progress persist failed", logx.String("thread", th.ID), logx.Err(err))
		}
		s.log.Info("post published",
			logx.String("thread", th.ID),
			logx.Int("position", p.Position),
			logx.String("remote_id", p.RemoteID))
	}

	th.Status = thread.StatusPublished
	th.CompletedAt = time.Now()
	if err := s.store.SaveThread(ctx, th); err != nil {
		s.log.Warn("thread completion persist failed", logx.String("thread", th.ID), logx.Err(err))
	}
	s.log.Info("thread published", logx.String("thread", th.ID), logx.Int("posts", len(th.Posts)))

	if s.collector != nil {
		if err := s.collector.ScheduleCollection(ctx, th); err != nil {
			// Analytics never fails a published thread.
			s.log.Warn("analytics scheduling failed", logx.String("thread", th.ID), logx.Err(err))
		}
	}
	return nil
}

// fail transitions the thread to failed at the given position. No rollback:
// posts published before the failure keep their remote ids so the caller can
// decide whether to continue, retract or restart manually.
func (s *Service) fail(ctx context.Context, th *thread.Thread, position int, cause error) error {
	th.Status = thread.StatusFailed
	th.FailedPosition = position
	th.LastError = cause.Error()
	if err := s.store.SaveThread(ctx, th); err != nil {
		s.log.Warn("thread failure persist failed", logx.String("thread", th.ID), logx.Err(err))
	}
	return &PublishError{ThreadID: th.ID, Position: position, Err: cause}
}

// pace sleeps for the inter-post interval; it aborts only on process
// shutdown (a posting thread is otherwise non-cancellable).
func (s *Service) pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
