package thread

import (
	"testing"
	"time"
)

func TestStatusCanCancel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusDraft, true},
		{StatusScheduled, true},
		{StatusPosting, false},
		{StatusPublished, false},
		{StatusFailed, false},
	}
	for _, tt := range tests {
		if got := tt.status.CanCancel(); got != tt.want {
			t.Fatalf("%s.CanCancel() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()
	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusScheduled},
		{StatusScheduled, StatusPosting},
		{StatusPosting, StatusPublished},
		{StatusPosting, StatusFailed},
	}
	for _, tr := range allowed {
		if !tr.from.CanTransition(tr.to) {
			t.Fatalf("%s -> %s must be allowed", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusDraft, StatusPosting},
		{StatusScheduled, StatusPublished},
		{StatusPublished, StatusScheduled},
		{StatusFailed, StatusPosting},
		{StatusPosting, StatusScheduled},
	}
	for _, tr := range forbidden {
		if tr.from.CanTransition(tr.to) {
			t.Fatalf("%s -> %s must be forbidden", tr.from, tr.to)
		}
	}
}

func TestValidatePositions(t *testing.T) {
	t.Parallel()
	th := &Thread{ID: "t", Posts: []Post{{Position: 1}, {Position: 2}}}
	if err := th.Validate(); err != nil {
		t.Fatalf("valid thread rejected: %v", err)
	}

	if err := (&Thread{ID: "t"}).Validate(); err == nil {
		t.Fatal("empty thread must be invalid")
	}
	bad := &Thread{ID: "t", Posts: []Post{{Position: 1}, {Position: 3}}}
	if err := bad.Validate(); err == nil {
		t.Fatal("gap in positions must be invalid")
	}
	zero := &Thread{ID: "t", Posts: []Post{{Position: 0}}}
	if err := zero.Validate(); err == nil {
		t.Fatal("positions must be 1-based")
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	orig := &Thread{
		ID: "t",
		Posts: []Post{
			{Content: "a", Tags: []string{"#x"}, MediaRefs: []string{"m1"}, Position: 1},
		},
		ScheduledTime: time.Now(),
		Status:        StatusScheduled,
		Metadata:      map[string]string{"k": "v"},
	}

	cp := orig.Clone()
	cp.Posts[0].Tags[0] = "#changed"
	cp.Posts[0].RemoteID = "r1"
	cp.Metadata["k"] = "changed"

	if orig.Posts[0].Tags[0] != "#x" {
		t.Fatal("tags shared between clone and original")
	}
	if orig.Posts[0].RemoteID != "" {
		t.Fatal("posts shared between clone and original")
	}
	if orig.Metadata["k"] != "v" {
		t.Fatal("metadata shared between clone and original")
	}

	var nilThread *Thread
	if nilThread.Clone() != nil {
		t.Fatal("nil clone must stay nil")
	}
}
