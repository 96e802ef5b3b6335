package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"threadcast/internal/platform"
	"threadcast/internal/storage"
	"threadcast/internal/thread"
	"threadcast/pkg/logx"
)

// fakeMetrics serves canned metrics and can fail specific remote ids.
type fakeMetrics struct {
	mu      sync.Mutex
	fail    map[string]bool
	fetches int
}

func (f *fakeMetrics) Publish(context.Context, platform.PublishRequest) (platform.PublishResult, error) {
	return platform.PublishResult{}, errors.New("not a publisher")
}

func (f *fakeMetrics) FetchMetrics(_ context.Context, remoteID string) (platform.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fail[remoteID] {
		return platform.Metrics{}, errors.New("metrics unavailable")
	}
	return platform.Metrics{Impressions: 100, Engagements: 10, Likes: 5}, nil
}

func publishedThread(id string, completed time.Time) *thread.Thread {
	return &thread.Thread{
		ID: id,
		Posts: []thread.Post{
			{Content: "one", Position: 1, RemoteID: "r1"},
			{Content: "two", Position: 2, RemoteID: "r2", ParentRemoteID: "r1"},
		},
		ScheduledTime: completed.Add(-time.Minute),
		Status:        thread.StatusPublished,
		CreatedAt:     completed.Add(-time.Hour),
		CompletedAt:   completed,
	}
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Offsets:       []Offset{{Label: "1_hour", After: 10 * time.Millisecond}},
		SweepInterval: 50 * time.Millisecond,
	}
}

func waitSamples(t *testing.T, st storage.Store, threadID string, want int) []storage.Sample {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := st.ListSamples(context.Background(), threadID)
		if err != nil {
			t.Fatalf("ListSamples error: %v", err)
		}
		if len(got) >= want {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := st.ListSamples(context.Background(), threadID)
	t.Fatalf("samples = %d, want %d", len(got), want)
	return nil
}

func waitNoTasks(t *testing.T, st storage.Store) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		tasks, err := st.PendingTasks(context.Background(), storage.TaskAnalytics)
		if err != nil {
			t.Fatalf("PendingTasks error: %v", err)
		}
		if len(tasks) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tasks, _ := st.PendingTasks(context.Background(), storage.TaskAnalytics)
	t.Fatalf("tasks never drained: %+v", tasks)
}

func TestScheduleCollectionPersistsTasks(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	cfg := Config{
		Enabled: true,
		Offsets: []Offset{
			{Label: "1_hour", After: time.Hour},
			{Label: "24_hours", After: 24 * time.Hour},
		},
	}
	svc := New(cfg, st, &fakeMetrics{}, logx.Nop())

	completed := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	th := publishedThread("th-1", completed)
	if err := svc.ScheduleCollection(context.Background(), th); err != nil {
		t.Fatalf("ScheduleCollection error: %v", err)
	}

	tasks, err := st.PendingTasks(context.Background(), storage.TaskAnalytics)
	if err != nil {
		t.Fatalf("PendingTasks error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	if tasks[0].Label != "1_hour" || !tasks[0].DueAt.Equal(completed.Add(time.Hour)) {
		t.Fatalf("first task wrong: %+v", tasks[0])
	}
	if tasks[1].Label != "24_hours" || !tasks[1].DueAt.Equal(completed.Add(24*time.Hour)) {
		t.Fatalf("second task wrong: %+v", tasks[1])
	}

	// Re-scheduling is an upsert on deterministic ids, never a duplicate.
	if err := svc.ScheduleCollection(context.Background(), th); err != nil {
		t.Fatal(err)
	}
	tasks, _ = st.PendingTasks(context.Background(), storage.TaskAnalytics)
	if len(tasks) != 2 {
		t.Fatalf("re-schedule duplicated tasks: %d", len(tasks))
	}
}

func TestScheduleCollectionDisabled(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	svc := New(Config{Enabled: false}, st, &fakeMetrics{}, logx.Nop())

	th := publishedThread("th-1", time.Now())
	if err := svc.ScheduleCollection(context.Background(), th); err != nil {
		t.Fatalf("ScheduleCollection error: %v", err)
	}
	tasks, _ := st.PendingTasks(context.Background(), storage.TaskAnalytics)
	if len(tasks) != 0 {
		t.Fatalf("disabled collector persisted tasks: %+v", tasks)
	}
}

func TestCollectionUpsertsSamplePerPost(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	svc := New(testConfig(), st, &fakeMetrics{}, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})

	th := publishedThread("th-1", time.Now())
	if err := st.SaveThread(context.Background(), th); err != nil {
		t.Fatal(err)
	}
	if err := svc.ScheduleCollection(context.Background(), th); err != nil {
		t.Fatal(err)
	}

	got := waitSamples(t, st, "th-1", 2)
	for _, s := range got {
		if s.Label != "1_hour" {
			t.Fatalf("label = %q, want 1_hour", s.Label)
		}
		if s.Metrics.Impressions != 100 {
			t.Fatalf("metrics lost: %+v", s.Metrics)
		}
		if s.CollectedAt.IsZero() {
			t.Fatal("CollectedAt not set")
		}
	}
	waitNoTasks(t, st)
}

func TestCollectionToleratesPartialFailure(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	client := &fakeMetrics{fail: map[string]bool{"r1": true}}
	svc := New(testConfig(), st, client, logx.Nop())
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})

	th := publishedThread("th-1", time.Now())
	if err := st.SaveThread(context.Background(), th); err != nil {
		t.Fatal(err)
	}
	if err := svc.ScheduleCollection(context.Background(), th); err != nil {
		t.Fatal(err)
	}

	got := waitSamples(t, st, "th-1", 1)
	if got[0].RemoteID != "r2" {
		t.Fatalf("sample for wrong post: %+v", got[0])
	}
	// A failed fetch never blocks task completion.
	waitNoTasks(t, st)
}

func TestSweepExecutesPersistedTask(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	ctx := context.Background()

	// A previous process persisted the task; this one only has the row.
	th := publishedThread("th-1", time.Now().Add(-2*time.Hour))
	if err := st.SaveThread(ctx, th); err != nil {
		t.Fatal(err)
	}
	if err := st.PutTask(ctx, storage.Task{
		ID:       "analytics:th-1:1_hour",
		Kind:     storage.TaskAnalytics,
		DueAt:    th.CompletedAt.Add(time.Hour),
		ThreadID: "th-1",
		Label:    "1_hour",
	}); err != nil {
		t.Fatal(err)
	}

	svc := New(testConfig(), st, &fakeMetrics{}, logx.Nop())
	svc.Start(ctx)
	t.Cleanup(func() {
		c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(c)
	})

	waitSamples(t, st, "th-1", 2)
	waitNoTasks(t, st)
}

func TestOrphanedTaskIsDropped(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	ctx := context.Background()

	if err := st.PutTask(ctx, storage.Task{
		ID:       "analytics:gone:1_hour",
		Kind:     storage.TaskAnalytics,
		DueAt:    time.Now().Add(-time.Minute),
		ThreadID: "gone",
		Label:    "1_hour",
	}); err != nil {
		t.Fatal(err)
	}

	svc := New(testConfig(), st, &fakeMetrics{}, logx.Nop())
	svc.Start(ctx)
	t.Cleanup(func() {
		c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(c)
	})

	waitNoTasks(t, st)
	if got, _ := st.ListSamples(ctx, "gone"); len(got) != 0 {
		t.Fatalf("orphan produced samples: %+v", got)
	}
}

func TestCancelDropsPendingTasks(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	svc := New(Config{
		Enabled: true,
		Offsets: []Offset{{Label: "1_hour", After: time.Hour}},
	}, st, &fakeMetrics{}, logx.Nop())
	ctx := context.Background()

	th := publishedThread("th-1", time.Now())
	if err := svc.ScheduleCollection(ctx, th); err != nil {
		t.Fatal(err)
	}
	if err := svc.Cancel(ctx, "th-1"); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	tasks, _ := st.PendingTasks(ctx, storage.TaskAnalytics)
	if len(tasks) != 0 {
		t.Fatalf("cancel left tasks: %+v", tasks)
	}
}

func TestDefaultOffsets(t *testing.T) {
	t.Parallel()
	offs := DefaultOffsets()
	if len(offs) != 3 {
		t.Fatalf("offsets = %d, want 3", len(offs))
	}
	want := map[string]time.Duration{
		"1_hour":   time.Hour,
		"24_hours": 24 * time.Hour,
		"7_days":   7 * 24 * time.Hour,
	}
	for _, o := range offs {
		if want[o.Label] != o.After {
			t.Fatalf("offset %s = %v, want %v", o.Label, o.After, want[o.Label])
		}
	}
}
