package analytics

import (
	"context"
	"time"

	"threadcast/internal/storage"
	"threadcast/pkg/logx"
)

// runCollection executes one due task: fetch metrics for every published post
// of the thread and upsert one sample per (remote id, offset label).
// Partial failure is expected here and never escalates.
func (s *Service) runCollection(ctx context.Context, task storage.Task) {
	defer func() {
		s.tmu.Lock()
		delete(s.timers, task.ID)
		s.tmu.Unlock()
	}()

	th, ok, err := s.store.GetThread(ctx, task.ThreadID)
	if err != nil {
		s.log.Warn("collection load failed; will retry on next sweep",
			logx.String("task", task.ID), logx.Err(err))
		return
	}
	if !ok {
		// Thread was deleted; the task is orphaned.
		s.log.Debug("collection dropped (thread gone)", logx.String("task", task.ID))
		_ = s.store.DeleteTask(ctx, task.ID)
		return
	}

	collected := 0
	failed := 0
	for i := range th.Posts {
		p := &th.Posts[i]
		if p.RemoteID == "" {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.log.Warn("collection aborted", logx.String("task", task.ID), logx.Err(err))
			return
		}
		m, err := s.client.FetchMetrics(ctx, p.RemoteID)
		if err != nil {
			failed++
			s.log.Warn("metrics fetch failed",
				logx.String("thread", th.ID),
				logx.String("remote_id", p.RemoteID),
				logx.String("offset", task.Label),
				logx.Err(err))
			continue
		}
		sample := storage.Sample{
			ThreadID:    th.ID,
			RemoteID:    p.RemoteID,
			Label:       task.Label,
			Metrics:     m,
			CollectedAt: time.Now(),
		}
		if err := s.store.UpsertSample(ctx, sample); err != nil {
			failed++
			s.log.Warn("sample upsert failed",
				logx.String("thread", th.ID),
				logx.String("remote_id", p.RemoteID),
				logx.String("offset", task.Label),
				logx.Err(err))
			continue
		}
		collected++
	}

	if err := s.store.DeleteTask(ctx, task.ID); err != nil {
		s.log.Warn("collection task cleanup failed", logx.String("task", task.ID), logx.Err(err))
	}
	s.log.Info("collection finished",
		logx.String("thread", th.ID),
		logx.String("offset", task.Label),
		logx.Int("collected", collected),
		logx.Int("failed", failed))
}
