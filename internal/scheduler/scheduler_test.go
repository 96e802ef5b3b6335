package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"threadcast/internal/platform"
	"threadcast/internal/ratelimit"
	"threadcast/internal/storage"
	"threadcast/internal/thread"
	"threadcast/pkg/logx"
)

// fakeClient counts publishes and can be told to fail the n-th call.
type fakeClient struct {
	mu     sync.Mutex
	failAt int // 1-based call number to fail on; 0 = never
	calls  int
	reqs   []platform.PublishRequest
}

func (f *fakeClient) Publish(_ context.Context, req platform.PublishRequest) (platform.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return platform.PublishResult{}, errors.New("platform rejected post")
	}
	f.reqs = append(f.reqs, req)
	return platform.PublishResult{RemoteID: fmt.Sprintf("remote-%d", f.calls)}, nil
}

func (f *fakeClient) FetchMetrics(context.Context, string) (platform.Metrics, error) {
	return platform.Metrics{}, nil
}

func newTestService(t *testing.T, client platform.Client, limiter *ratelimit.Limiter) (*Service, *storage.Memory) {
	t.Helper()
	st := storage.NewMemory()
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{MaxPerHour: 1000, MaxPerDay: 1000}, nil, logx.Nop())
	}
	svc := New(Config{
		Enabled:        true,
		Workers:        2,
		PacingInterval: time.Millisecond,
		SweepInterval:  50 * time.Millisecond,
	}, Deps{Store: st, Client: client, Limiter: limiter}, logx.Nop())
	return svc, st
}

func startService(t *testing.T, svc *Service) {
	t.Helper()
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
}

func waitForStatus(t *testing.T, st storage.Store, id string, want thread.Status) *thread.Thread {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		th, ok, err := st.GetThread(context.Background(), id)
		if err != nil {
			t.Fatalf("GetThread error: %v", err)
		}
		if ok && th.Status == want {
			return th
		}
		time.Sleep(5 * time.Millisecond)
	}
	th, ok, _ := st.GetThread(context.Background(), id)
	t.Fatalf("thread %s never reached %s (found=%v, state=%+v)", id, want, ok, th)
	return nil
}

func drafts(n int) []thread.Draft {
	out := make([]thread.Draft, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, thread.Draft{Content: fmt.Sprintf("item number %d", i+1)})
	}
	return out
}

func TestScheduleThreadPersistsScheduledState(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t, &fakeClient{}, nil)
	startService(t, svc)

	at := time.Now().Add(time.Hour)
	th, err := svc.ScheduleThread(context.Background(), ScheduleRequest{
		Drafts:        drafts(2),
		Metadata:      map[string]string{"campaign": "launch"},
		PreferredTime: at,
	})
	if err != nil {
		t.Fatalf("ScheduleThread error: %v", err)
	}
	if th.Status != thread.StatusScheduled {
		t.Fatalf("Status = %s, want scheduled", th.Status)
	}
	if !th.ScheduledTime.Equal(at) {
		t.Fatalf("ScheduledTime = %v, want %v", th.ScheduledTime, at)
	}

	stored, ok, err := st.GetThread(context.Background(), th.ID)
	if err != nil || !ok {
		t.Fatalf("thread not persisted: (%v, %v)", ok, err)
	}
	if len(stored.Posts) != 2 || stored.Posts[0].Position != 1 {
		t.Fatalf("posts wrong: %+v", stored.Posts)
	}

	tasks, err := st.PendingTasks(context.Background(), storage.TaskPublish)
	if err != nil {
		t.Fatalf("PendingTasks error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ThreadID != th.ID || !tasks[0].DueAt.Equal(at) {
		t.Fatalf("publish task wrong: %+v", tasks)
	}

	listed, err := svc.ListScheduledThreads(context.Background())
	if err != nil || len(listed) != 1 || listed[0].ID != th.ID {
		t.Fatalf("ListScheduledThreads = (%v, %v)", listed, err)
	}
}

func TestPublishChainsParentIDs(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	svc, st := newTestService(t, client, nil)
	startService(t, svc)

	th, err := svc.ScheduleThread(context.Background(), ScheduleRequest{Drafts: drafts(3), Now: true})
	if err != nil {
		t.Fatalf("ScheduleThread error: %v", err)
	}

	done := waitForStatus(t, st, th.ID, thread.StatusPublished)
	if done.CompletedAt.IsZero() {
		t.Fatal("CompletedAt not set")
	}
	if done.Posts[0].ParentRemoteID != "" {
		t.Fatalf("first post has a parent: %q", done.Posts[0].ParentRemoteID)
	}
	for i := 1; i < len(done.Posts); i++ {
		if done.Posts[i].ParentRemoteID != done.Posts[i-1].RemoteID {
			t.Fatalf("post %d parent = %q, want %q", i+1, done.Posts[i].ParentRemoteID, done.Posts[i-1].RemoteID)
		}
	}

	// The publish task row is removed shortly after completion.
	deadline := time.Now().Add(2 * time.Second)
	for {
		tasks, _ := st.PendingTasks(context.Background(), storage.TaskPublish)
		if len(tasks) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("publish task not cleaned up: %+v", tasks)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishHaltsAtFirstFailure(t *testing.T) {
	t.Parallel()
	client := &fakeClient{failAt: 2}
	svc, st := newTestService(t, client, nil)
	startService(t, svc)

	th, err := svc.ScheduleThread(context.Background(), ScheduleRequest{Drafts: drafts(3), Now: true})
	if err != nil {
		t.Fatalf("ScheduleThread error: %v", err)
	}

	failed := waitForStatus(t, st, th.ID, thread.StatusFailed)
	if failed.FailedPosition != 2 {
		t.Fatalf("FailedPosition = %d, want 2", failed.FailedPosition)
	}
	if failed.LastError == "" {
		t.Fatal("LastError not recorded")
	}
	// The first post keeps its remote id; nothing after the failure ran.
	if failed.Posts[0].RemoteID == "" {
		t.Fatal("published post lost its remote id")
	}
	if failed.Posts[1].RemoteID != "" || failed.Posts[2].RemoteID != "" {
		t.Fatalf("posts after the failure have remote ids: %+v", failed.Posts)
	}
	client.mu.Lock()
	calls := client.calls
	client.mu.Unlock()
	if calls != 2 {
		t.Fatalf("publish calls = %d, want 2 (halt, no retries)", calls)
	}
}

func TestPublishFailsWhenRateLimited(t *testing.T) {
	t.Parallel()
	limiter := ratelimit.New(ratelimit.Config{MaxPerHour: 1, MaxPerDay: 10}, nil, logx.Nop())
	svc, st := newTestService(t, &fakeClient{}, limiter)
	startService(t, svc)

	th, err := svc.ScheduleThread(context.Background(), ScheduleRequest{Drafts: drafts(2), Now: true})
	if err != nil {
		t.Fatalf("ScheduleThread error: %v", err)
	}

	failed := waitForStatus(t, st, th.ID, thread.StatusFailed)
	if failed.FailedPosition != 2 {
		t.Fatalf("FailedPosition = %d, want 2", failed.FailedPosition)
	}
	if failed.LastError != ErrRateLimited.Error() {
		t.Fatalf("LastError = %q, want %q", failed.LastError, ErrRateLimited.Error())
	}
}

func TestCancelThread(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t, &fakeClient{}, nil)
	startService(t, svc)
	ctx := context.Background()

	th, err := svc.ScheduleThread(ctx, ScheduleRequest{
		Drafts:        drafts(2),
		PreferredTime: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("ScheduleThread error: %v", err)
	}

	ok, err := svc.CancelThread(ctx, th.ID)
	if err != nil || !ok {
		t.Fatalf("CancelThread = (%v, %v), want (true, nil)", ok, err)
	}
	if _, found, _ := st.GetThread(ctx, th.ID); found {
		t.Fatal("cancelled thread still stored")
	}
	tasks, _ := st.PendingTasks(ctx, "")
	if len(tasks) != 0 {
		t.Fatalf("cancelled thread left tasks: %+v", tasks)
	}

	// Unknown and already-published threads are not cancellable.
	if ok, err := svc.CancelThread(ctx, "missing"); err != nil || ok {
		t.Fatalf("cancel missing = (%v, %v), want (false, nil)", ok, err)
	}
	pub, err := svc.ScheduleThread(ctx, ScheduleRequest{Drafts: drafts(1), Now: true})
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, st, pub.ID, thread.StatusPublished)
	if ok, err := svc.CancelThread(ctx, pub.ID); err != nil || ok {
		t.Fatalf("cancel published = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestScheduleThreadRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t, &fakeClient{}, nil)
	startService(t, svc)

	if _, err := svc.ScheduleThread(context.Background(), ScheduleRequest{}); err == nil {
		t.Fatal("expected error for empty drafts")
	}
	// A normalization failure must leave nothing behind.
	if _, err := svc.ScheduleThread(context.Background(), ScheduleRequest{
		Drafts: []thread.Draft{{Content: "   "}},
	}); err == nil {
		t.Fatal("expected error for blank content")
	}
	all, _ := st.ListThreads(context.Background())
	if len(all) != 0 {
		t.Fatalf("failed schedule persisted threads: %v", len(all))
	}
	tasks, _ := st.PendingTasks(context.Background(), "")
	if len(tasks) != 0 {
		t.Fatalf("failed schedule persisted tasks: %+v", tasks)
	}
}

func TestScheduleThreadDisabledAndStopped(t *testing.T) {
	t.Parallel()

	disabled := New(Config{Enabled: false}, Deps{Store: storage.NewMemory(), Client: &fakeClient{}}, logx.Nop())
	if _, err := disabled.ScheduleThread(context.Background(), ScheduleRequest{Drafts: drafts(1)}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}

	stopped := New(Config{Enabled: true}, Deps{Store: storage.NewMemory(), Client: &fakeClient{}}, logx.Nop())
	if _, err := stopped.ScheduleThread(context.Background(), ScheduleRequest{Drafts: drafts(1)}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestStartupSweepPublishesPersistedTask(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	svc, st := newTestService(t, client, nil)
	ctx := context.Background()

	// Simulate a previous process: scheduled thread + overdue task rows exist,
	// but no in-memory timer.
	th := &thread.Thread{
		ID:            "restart-1",
		Posts:         []thread.Post{{Content: "carried over", Position: 1}},
		ScheduledTime: time.Now().Add(-time.Minute),
		Status:        thread.StatusScheduled,
		CreatedAt:     time.Now().Add(-time.Hour),
	}
	if err := st.SaveThread(ctx, th); err != nil {
		t.Fatal(err)
	}
	if err := st.PutTask(ctx, storage.Task{
		ID:       "publish:restart-1",
		Kind:     storage.TaskPublish,
		DueAt:    th.ScheduledTime,
		ThreadID: th.ID,
	}); err != nil {
		t.Fatal(err)
	}

	startService(t, svc)
	waitForStatus(t, st, "restart-1", thread.StatusPublished)
}

func TestStartupMarksInterruptedThreadsFailed(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t, &fakeClient{}, nil)
	ctx := context.Background()

	th := &thread.Thread{
		ID: "stuck-1",
		Posts: []thread.Post{
			{Content: "made it out", Position: 1, RemoteID: "r1"},
			{Content: "never sent", Position: 2},
		},
		ScheduledTime: time.Now().Add(-time.Hour),
		Status:        thread.StatusPosting,
		CreatedAt:     time.Now().Add(-2 * time.Hour),
	}
	if err := st.SaveThread(ctx, th); err != nil {
		t.Fatal(err)
	}

	startService(t, svc)

	failed := waitForStatus(t, st, "stuck-1", thread.StatusFailed)
	if failed.FailedPosition != 2 {
		t.Fatalf("FailedPosition = %d, want 2", failed.FailedPosition)
	}
	if failed.Posts[0].RemoteID != "r1" {
		t.Fatal("acquired remote id lost during recovery")
	}
	if failed.LastError == "" {
		t.Fatal("LastError not set")
	}
}

func TestGetRateLimitStatus(t *testing.T) {
	t.Parallel()
	limiter := ratelimit.New(ratelimit.Config{MaxPerHour: 7, MaxPerDay: 70}, nil, logx.Nop())
	svc, _ := newTestService(t, &fakeClient{}, limiter)

	st := svc.GetRateLimitStatus()
	if st.MaxPerHour != 7 || st.MaxPerDay != 70 {
		t.Fatalf("ceilings = %d/%d, want 7/70", st.MaxPerHour, st.MaxPerDay)
	}
}
