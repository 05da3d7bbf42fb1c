package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/monti/contactcore/internal/clock"
	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

func newPool() (*AgentPool, *clock.Fake) {
	fc := clock.NewFake(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	return NewAgentPool(fc, 6*time.Second), fc
}

func register(p *AgentPool, id string, max int) {
	p.RegisterAgent(&types.AgentRegister{AgentID: id, State: types.StateAvailable, MaxConcurrent: max})
}

func TestRegisterDefaults(t *testing.T) {
	p, _ := newPool()
	p.RegisterAgent(&types.AgentRegister{AgentID: "agent-1"})

	a, ok := p.Get("agent-1")
	if !ok {
		t.Fatal("expected agent-1 to be registered")
	}
	if a.State != types.StateAvailable {
		t.Errorf("expected available, got %s", a.State)
	}
	if a.MaxConcurrent != 1 {
		t.Errorf("expected max concurrent 1, got %d", a.MaxConcurrent)
	}
	if a.ConnectionStatus != types.StatusConnected {
		t.Errorf("expected connected, got %s", a.ConnectionStatus)
	}
}

func TestRosterSkillsSurviveRegister(t *testing.T) {
	p, _ := newPool()
	skills := []types.AgentSkill{{AgentID: "agent-1", SkillName: "billing", ProficiencyLevel: 4, IsActive: true}}
	p.RegisterOfflineAgent("agent-1", []string{"billing"}, skills, 2)

	if got := p.Eligible(""); len(got) != 0 {
		t.Fatalf("offline roster agents must not be eligible, got %d", len(got))
	}

	p.RegisterAgent(&types.AgentRegister{AgentID: "agent-1", State: types.StateAvailable})
	a, _ := p.Get("agent-1")
	if len(a.Skills) != 1 || a.Skills[0].SkillName != "billing" {
		t.Errorf("expected roster skills to be kept, got %+v", a.Skills)
	}
	if len(a.Queues) != 1 {
		t.Errorf("expected roster queues to be kept, got %v", a.Queues)
	}
}

func TestTryAssignExactlyOnce(t *testing.T) {
	p, _ := newPool()
	register(p, "agent-1", 1)

	if !p.TryAssign("agent-1", "i-1") {
		t.Fatal("expected first assignment to succeed")
	}
	if p.TryAssign("agent-1", "i-2") {
		t.Error("agent at capacity must not take a second interaction")
	}

	a, _ := p.Get("agent-1")
	if a.State != types.StateOnCall {
		t.Errorf("expected on_call, got %s", a.State)
	}

	if !p.Release("agent-1", "i-1", false) {
		t.Fatal("expected release to succeed")
	}
	a, _ = p.Get("agent-1")
	if a.State != types.StateAvailable || a.ActiveCount() != 0 {
		t.Errorf("expected idle available agent, got %s with %d", a.State, a.ActiveCount())
	}
	if p.Release("agent-1", "i-1", false) {
		t.Error("double release must fail")
	}
}

func TestConcurrentTryAssignNeverDoubleBooks(t *testing.T) {
	p, _ := newPool()
	for i := 0; i < 5; i++ {
		register(p, fmt.Sprintf("agent-%d", i), 1)
	}

	var mu sync.Mutex
	perAgent := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for a := 0; a < 5; a++ {
				id := fmt.Sprintf("agent-%d", a)
				if p.TryAssign(id, fmt.Sprintf("i-%d", n)) {
					mu.Lock()
					perAgent[id]++
					mu.Unlock()
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if len(perAgent) != 5 {
		t.Errorf("expected all 5 agents used, got %d", len(perAgent))
	}
	for id, n := range perAgent {
		if n != 1 {
			t.Errorf("%s assigned %d times", id, n)
		}
	}
}

func TestMultiConcurrentAgent(t *testing.T) {
	p, _ := newPool()
	register(p, "chat-1", 2)

	if !p.TryAssign("chat-1", "c-1") || !p.TryAssign("chat-1", "c-2") {
		t.Fatal("expected two chats to fit")
	}
	if p.TryAssign("chat-1", "c-3") {
		t.Error("third chat must not fit")
	}
	p.Release("chat-1", "c-1", false)
	if len(p.Eligible("")) != 1 {
		t.Error("agent with spare capacity should be eligible")
	}
}

func TestStaleAgentIsUnavailable(t *testing.T) {
	p, fc := newPool()
	register(p, "agent-1", 1)

	fc.Advance(7 * time.Second)
	if len(p.Eligible("")) != 0 {
		t.Error("agent past the staleness window must not be eligible")
	}
	if p.TryAssign("agent-1", "i-1") {
		t.Error("stale agent must not be assigned")
	}
	if n := p.CheckStaleAgents(); n != 1 {
		t.Errorf("expected 1 agent marked stale, got %d", n)
	}

	p.UpdateFromHeartbeat(&types.AgentHeartbeat{AgentID: "agent-1"})
	if len(p.Eligible("")) != 1 {
		t.Error("heartbeat should make the agent eligible again")
	}
}

func TestReservationBlocksOtherWork(t *testing.T) {
	p, _ := newPool()
	register(p, "agent-1", 1)

	if !p.Reserve("agent-1", "dial-1") {
		t.Fatal("expected reservation to succeed")
	}
	if p.Reserve("agent-1", "dial-2") {
		t.Error("second reservation must fail")
	}
	if p.TryAssign("agent-1", "i-1") {
		t.Error("reserved agent must not be assigned other work")
	}
	if len(p.Eligible("")) != 0 {
		t.Error("reserved agent must not be eligible for others")
	}
	if len(p.Eligible("dial-1")) != 1 {
		t.Error("reserved agent must be eligible for its own token")
	}
	if p.ClaimReservation("agent-1", "wrong", "call-1") {
		t.Error("claim with the wrong token must fail")
	}
	if !p.ClaimReservation("agent-1", "dial-1", "call-1") {
		t.Fatal("expected claim to succeed")
	}
	a, _ := p.Get("agent-1")
	if a.ReservedFor != "" || a.ActiveCount() != 1 {
		t.Errorf("expected reservation converted into assignment, got %+v", a)
	}
}

func TestReserveLongestIdle(t *testing.T) {
	p, fc := newPool()
	register(p, "agent-1", 1)
	fc.Advance(time.Second)
	register(p, "agent-2", 1)

	if got := p.ReserveLongestIdle([]string{"agent-2", "agent-1"}, "t1"); got != "agent-1" {
		t.Errorf("expected agent-1 (longest idle), got %q", got)
	}
	if got := p.ReserveLongestIdle([]string{"agent-1", "agent-2"}, "t2"); got != "agent-2" {
		t.Errorf("expected agent-2, got %q", got)
	}
	if got := p.ReserveLongestIdle([]string{"agent-1", "agent-2"}, "t3"); got != "" {
		t.Errorf("expected no agent, got %q", got)
	}

	p.CancelReservation("agent-1", "t1")
	if got := p.ReserveLongestIdle([]string{"agent-1"}, "t4"); got != "agent-1" {
		t.Errorf("expected agent-1 after cancel, got %q", got)
	}
}

func TestExpireReservations(t *testing.T) {
	p, fc := newPool()
	register(p, "agent-1", 1)
	p.Reserve("agent-1", "t1")

	fc.Advance(5 * time.Second)
	p.UpdateFromHeartbeat(&types.AgentHeartbeat{AgentID: "agent-1"})
	if n := p.ExpireReservations(30 * time.Second); n != 0 {
		t.Errorf("expected no expiry yet, got %d", n)
	}
	fc.Advance(30 * time.Second)
	if n := p.ExpireReservations(30 * time.Second); n != 1 {
		t.Errorf("expected 1 expired reservation, got %d", n)
	}
}

func TestStateChangeDropsReservation(t *testing.T) {
	p, _ := newPool()
	register(p, "agent-1", 1)
	p.Reserve("agent-1", "t1")

	p.UpdateFromStateChange(&types.AgentStateChange{AgentID: "agent-1", State: types.StateBreak})
	a, _ := p.Get("agent-1")
	if a.ReservedFor != "" {
		t.Error("going on break must drop the reservation")
	}
	if p.TryAssign("agent-1", "i-1") {
		t.Error("agent on break must not be assigned")
	}
}

func TestLogoutReturnsHeldWork(t *testing.T) {
	p, _ := newPool()
	register(p, "agent-1", 2)
	p.TryAssign("agent-1", "i-1")

	held := p.Logout("agent-1")
	if len(held) != 1 || held[0] != "i-1" {
		t.Errorf("expected [i-1], got %v", held)
	}
	if len(p.LoggedIn()) != 0 {
		t.Error("logged out agent must not be listed")
	}
}

func TestRemoveDisconnected(t *testing.T) {
	p, fc := newPool()
	register(p, "agent-1", 1)
	register(p, "agent-2", 1)
	p.SetDisconnected("agent-1")

	fc.Advance(time.Minute)
	if n := p.RemoveDisconnected(30 * time.Second); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	if p.Count() != 1 {
		t.Errorf("expected 1 agent left, got %d", p.Count())
	}
}

func TestConnectionAndStateCounts(t *testing.T) {
	p, _ := newPool()
	register(p, "agent-1", 1)
	register(p, "agent-2", 1)
	p.SetDisconnected("agent-2")
	p.TryAssign("agent-1", "i-1")

	connected, stale, disconnected := p.GetConnectionStats()
	if connected != 1 || stale != 0 || disconnected != 1 {
		t.Errorf("unexpected stats %d/%d/%d", connected, stale, disconnected)
	}
	counts := p.StateCounts()
	if counts[types.StateOnCall] != 1 || counts[types.StateAvailable] != 1 {
		t.Errorf("unexpected state counts %v", counts)
	}
}

func TestEventCache(t *testing.T) {
	c := NewEventCache()
	c.Add(types.AgentStateChange{AgentID: "agent-1", State: types.StateBreak})
	c.Add(types.AgentStateChange{AgentID: "agent-2", State: types.StateAvailable})
	if c.Size() != 2 {
		t.Fatalf("expected 2 events, got %d", c.Size())
	}
	got, dropped := c.Drain()
	if len(got) != 2 || dropped != 0 {
		t.Errorf("expected 2 drained events and none dropped, got %d/%d", len(got), dropped)
	}
	if c.Size() != 0 {
		t.Error("expected empty cache after drain")
	}
}

func TestEventCacheDropsOldest(t *testing.T) {
	c := NewEventCacheSize(2)
	for _, id := range []string{"a", "b", "c"} {
		c.Add(types.AgentStateChange{AgentID: id})
	}
	got, dropped := c.Drain()
	if dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}
	if len(got) != 2 || got[0].AgentID != "b" || got[1].AgentID != "c" {
		t.Errorf("expected newest two changes in order, got %+v", got)
	}
}
