package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"threadcast/internal/thread"
)

// Memory is a map-backed Store guarded by a single mutex.
//
// It backs the test suite and embedders that handle durability themselves.
// Threads are deep-copied on the way in and out so callers never share
// mutable state with the store.
type Memory struct {
	mu      sync.Mutex
	threads map[string]*thread.Thread
	tasks   map[string]Task
	samples map[string]Sample // key: remoteID + "\x00" + label
	windows map[string]RateWindow
}

func NewMemory() *Memory {
	return &Memory{
		threads: map[string]*thread.Thread{},
		tasks:   map[string]Task{},
		samples: map[string]Sample{},
		windows: map[string]RateWindow{},
	}
}

func (m *Memory) SaveThread(_ context.Context, t *thread.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[t.ID] = t.Clone()
	return nil
}

func (m *Memory) GetThread(_ context.Context, id string) (*thread.Thread, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

func (m *Memory) DeleteThread(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, id)
	return nil
}

func (m *Memory) ListThreads(_ context.Context, statuses ...thread.Status) ([]*thread.Thread, error) {
	want := map[thread.Status]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	m.mu.Lock()
	out := make([]*thread.Thread, 0, len(m.threads))
	for _, t := range m.threads {
		if len(want) > 0 && !want[t.Status] {
			continue
		}
		out = append(out, t.Clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out, nil
}

func (m *Memory) PutTask(_ context.Context, t Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *Memory) DeleteThreadTasks(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		if t.ThreadID == threadID {
			delete(m.tasks, id)
		}
	}
	return nil
}

func (m *Memory) PendingTasks(_ context.Context, kind string) ([]Task, error) {
	m.mu.Lock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if kind != "" && t.Kind != kind {
			continue
		}
		out = append(out, t)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (m *Memory) UpsertSample(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[s.RemoteID+"\x00"+s.Label] = s
	return nil
}

func (m *Memory) ListSamples(_ context.Context, threadID string) ([]Sample, error) {
	m.mu.Lock()
	out := make([]Sample, 0, 8)
	for _, s := range m.samples {
		if s.ThreadID == threadID {
			out = append(out, s)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RemoteID != out[j].RemoteID {
			return out[i].RemoteID < out[j].RemoteID
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (m *Memory) PutRateWindow(_ context.Context, w RateWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows[w.Bucket] = w
	return nil
}

func (m *Memory) ListRateWindows(_ context.Context, now time.Time) ([]RateWindow, error) {
	m.mu.Lock()
	out := make([]RateWindow, 0, len(m.windows))
	for _, w := range m.windows {
		if now.Before(w.ResetAt) {
			out = append(out, w)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })
	return out, nil
}

func (m *Memory) PruneRateWindows(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, w := range m.windows {
		if !now.Before(w.ResetAt) {
			delete(m.windows, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }
