package approval

import (
	"context"
	"testing"
	"time"
)

func TestSubmitResolvesWait(t *testing.T) {
	m := NewManager(nil)
	requestID := m.Create("session1", "bash", `{"script":"false"}`, "elevated", true)

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Submit(requestID, true, true, false)
	}()

	resp := m.Wait(context.Background(), requestID, 2*time.Second)
	if resp == nil {
		t.Fatal("Wait returned nil despite submitted response")
	}
	if !resp.Approved || !resp.UseSandbox || resp.RememberForSession {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestWaitTimesOut(t *testing.T) {
	m := NewManager(nil)
	requestID := m.Create("session1", "exec", "{}", "elevated", false)

	start := time.Now()
	resp := m.Wait(context.Background(), requestID, 50*time.Millisecond)
	if resp != nil {
		t.Fatalf("Wait = %+v, want nil on timeout", resp)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Error("Wait returned before the timeout")
	}
	if m.PendingCount() != 0 {
		t.Errorf("pending count after timeout = %d, want 0", m.PendingCount())
	}
}

func TestSubmitIsAtMostOnce(t *testing.T) {
	m := NewManager(nil)
	requestID := m.Create("session1", "bash", "{}", "elevated", true)

	m.Submit(requestID, true, false, false)
	// A second, contradictory submission must be ignored.
	m.Submit(requestID, false, false, false)

	resp := m.Wait(context.Background(), requestID, time.Second)
	if resp == nil || !resp.Approved {
		t.Fatalf("first response not preserved: %+v", resp)
	}
}

func TestSubmitUnknownRequestIsIgnored(t *testing.T) {
	m := NewManager(nil)
	m.Submit("no-such-request", true, false, false)
	if m.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", m.PendingCount())
	}
}

func TestClearSessionDropsPending(t *testing.T) {
	m := NewManager(nil)
	id1 := m.Create("session1", "bash", "{}", "elevated", true)
	id2 := m.Create("session1", "exec", "{}", "elevated", true)
	other := m.Create("session2", "bash", "{}", "elevated", true)

	m.ClearSession("session1")

	if _, ok := m.Get(id1); ok {
		t.Error("request 1 survived ClearSession")
	}
	if _, ok := m.Get(id2); ok {
		t.Error("request 2 survived ClearSession")
	}
	if _, ok := m.Get(other); !ok {
		t.Error("other session's request was cleared")
	}

	// Waiters on cleared requests observe a timeout, not a decision.
	if resp := m.Wait(context.Background(), id1, 20*time.Millisecond); resp != nil {
		t.Errorf("cleared request resolved: %+v", resp)
	}
}

func TestWaitHonoursContextCancel(t *testing.T) {
	m := NewManager(nil)
	requestID := m.Create("session1", "bash", "{}", "elevated", true)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	resp := m.Wait(ctx, requestID, 5*time.Second)
	if resp != nil {
		t.Fatalf("Wait = %+v, want nil on cancel", resp)
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not return promptly on cancel")
	}
}

func TestListSession(t *testing.T) {
	m := NewManager(nil)
	m.Create("session1", "bash", "{}", "elevated", true)
	m.Create("session1", "exec", "{}", "elevated", false)

	pending := m.ListSession("session1")
	if len(pending) != 2 {
		t.Fatalf("ListSession = %d entries, want 2", len(pending))
	}
	for _, p := range pending {
		if p.SessionID != "session1" || p.RequestID == "" {
			t.Errorf("malformed pending entry %+v", p)
		}
	}
}
