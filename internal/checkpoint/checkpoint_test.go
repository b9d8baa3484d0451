package checkpoint

import (
	"context"
	"testing"
	"time"
)

func TestRequestBlocksUntilApproved(t *testing.T) {
	created := make(chan Checkpoint, 1)
	s := New("sess-1", 3, time.Minute, func(cp Checkpoint) { created <- cp }, nil, nil)

	type result struct {
		res Resolution
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := s.Request(context.Background(), "script", map[string]string{"title": "draft"})
		done <- result{res, err}
	}()

	var cp Checkpoint
	select {
	case cp = <-created:
	case <-time.After(time.Second):
		t.Fatal("checkpoint never surfaced")
	}
	if cp.Phase != "script" || cp.Status != StatusPending {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}

	edits := map[string]string{"title": "final"}
	if err := s.Approve(cp.ID, edits); err != nil {
		t.Fatalf("approve: %v", err)
	}

	r := <-done
	if r.err != nil {
		t.Fatalf("request: %v", r.err)
	}
	if !r.res.Approved {
		t.Fatal("expected approval")
	}
	if r.res.Edits == nil {
		t.Fatal("expected edits to flow through")
	}
}

func TestRequestRejectedCarriesChangeRequest(t *testing.T) {
	created := make(chan Checkpoint, 1)
	s := New("sess-2", 1, time.Minute, func(cp Checkpoint) { created <- cp }, nil, nil)

	done := make(chan Resolution, 1)
	go func() {
		res, _ := s.Request(context.Background(), "visuals", nil)
		done <- res
	}()

	cp := <-created
	if err := s.Reject(cp.ID, "make it darker"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	res := <-done
	if res.Approved {
		t.Fatal("expected rejection")
	}
	if res.ChangeRequest != "make it darker" {
		t.Fatalf("change request %q", res.ChangeRequest)
	}
}

func TestBudgetExhaustionPassesThrough(t *testing.T) {
	var surfaced int
	s := New("sess-3", 1, time.Minute, func(Checkpoint) { surfaced++ }, nil, nil)

	done := make(chan Resolution, 1)
	go func() {
		res, _ := s.Request(context.Background(), "script", nil)
		done <- res
	}()
	// wait for the first gate to register
	deadline := time.Now().Add(time.Second)
	for s.Used() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first gate never registered")
		}
		time.Sleep(time.Millisecond)
	}
	pending := s.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}

	// second gate is beyond the budget: resolves instantly without surfacing
	res, err := s.Request(context.Background(), "audio", nil)
	if err != nil {
		t.Fatalf("passthrough request: %v", err)
	}
	if !res.Approved {
		t.Fatal("passthrough must approve")
	}
	if surfaced != 1 {
		t.Fatalf("expected 1 surfaced checkpoint, got %d", surfaced)
	}

	s.Approve(pending[0].ID, nil)
	<-done
}

func TestZeroBudgetNeverSurfaces(t *testing.T) {
	s := New("sess-4", 0, time.Minute, func(Checkpoint) {
		t.Error("checkpoint surfaced with zero budget")
	}, nil, nil)
	res, err := s.Request(context.Background(), "script", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !res.Approved {
		t.Fatal("expected silent approval")
	}
}

func TestTimeoutAutoApproves(t *testing.T) {
	s := New("sess-5", 1, 20*time.Millisecond, nil, nil, nil)
	res, err := s.Request(context.Background(), "script", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !res.Approved || !res.TimedOut {
		t.Fatalf("expected timed-out approval, got %+v", res)
	}
}

func TestResolveIsExactlyOnce(t *testing.T) {
	created := make(chan Checkpoint, 1)
	s := New("sess-6", 1, time.Minute, func(cp Checkpoint) { created <- cp }, nil, nil)
	done := make(chan Resolution, 1)
	go func() {
		res, _ := s.Request(context.Background(), "script", nil)
		done <- res
	}()
	cp := <-created
	if err := s.Approve(cp.ID, nil); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if err := s.Reject(cp.ID, "too late"); err == nil {
		t.Fatal("second resolution must fail")
	}
	res := <-done
	if !res.Approved {
		t.Fatal("first resolution must win")
	}
}

func TestUpdatePatchesPendingPayload(t *testing.T) {
	created := make(chan Checkpoint, 2)
	s := New("sess-9", 1, time.Minute, func(cp Checkpoint) { created <- cp }, nil, nil)

	done := make(chan Resolution, 1)
	go func() {
		res, _ := s.Request(context.Background(), "script", map[string]string{"title": "draft"})
		done <- res
	}()
	cp := <-created

	if err := s.Update(cp.ID, map[string]string{"title": "amended"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	// the amended record surfaces again
	patched := <-created
	if patched.ID != cp.ID {
		t.Fatalf("re-surfaced a different checkpoint: %s", patched.ID)
	}
	data, ok := patched.Data.(map[string]string)
	if !ok || data["title"] != "amended" {
		t.Fatalf("payload not patched: %+v", patched.Data)
	}
	if got, _ := s.Get(cp.ID); got.Status != StatusPending {
		t.Fatalf("update changed status to %q", got.Status)
	}

	if err := s.Approve(cp.ID, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	<-done
	if err := s.Update(cp.ID, nil); err == nil {
		t.Fatal("updating a resolved checkpoint must fail")
	}
}

func TestListReturnsResolvedAndPending(t *testing.T) {
	created := make(chan Checkpoint, 2)
	s := New("sess-8", 2, time.Minute, func(cp Checkpoint) { created <- cp }, nil, nil)

	go s.Request(context.Background(), "script", nil)
	first := <-created
	if err := s.Approve(first.ID, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}

	go s.Request(context.Background(), "assembly", nil)
	second := <-created

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 records, got %d", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("list out of order: %s, %s", list[0].ID, list[1].ID)
	}
	if list[0].Status != StatusApproved {
		t.Fatalf("first record status %q", list[0].Status)
	}
	if list[1].Status != StatusPending {
		t.Fatalf("second record status %q", list[1].Status)
	}
	s.Dispose()
}

func TestDisposeApprovesPending(t *testing.T) {
	created := make(chan Checkpoint, 1)
	s := New("sess-7", 2, time.Minute, func(cp Checkpoint) { created <- cp }, nil, nil)
	done := make(chan Resolution, 1)
	go func() {
		res, _ := s.Request(context.Background(), "assembly", nil)
		done <- res
	}()
	<-created
	s.Dispose()
	res := <-done
	if !res.Approved {
		t.Fatal("dispose must approve pending gates")
	}
	// after dispose, new gates pass through silently
	res, _ = s.Request(context.Background(), "script", nil)
	if !res.Approved {
		t.Fatal("post-dispose gate must approve")
	}
}
