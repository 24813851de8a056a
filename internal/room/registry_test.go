package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestJoin_ExistingExcludesJoiner(t *testing.T) {
	g := NewRegistry(nil)

	res, err := g.Join("alpha", "p1", 4)
	if err != nil {
		t.Fatalf("Join p1: %v", err)
	}
	if !res.Created || len(res.Existing) != 0 || res.Count != 1 {
		t.Fatalf("unexpected first join: %#v", res)
	}

	res, err = g.Join("alpha", "p2", 4)
	if err != nil {
		t.Fatalf("Join p2: %v", err)
	}
	if res.Created || res.Count != 2 || len(res.Existing) != 1 || res.Existing[0] != "p1" {
		t.Fatalf("unexpected second join: %#v", res)
	}
}

func TestJoin_CapacityAndRejoin(t *testing.T) {
	g := NewRegistry(nil)
	for _, id := range []string{"p1", "p2"} {
		if _, err := g.Join("r", id, 2); err != nil {
			t.Fatalf("Join %s: %v", id, err)
		}
	}

	if _, err := g.Join("r", "p3", 2); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("err=%v, want ErrRoomFull", err)
	}
	if got := g.Members("r"); len(got) != 2 {
		t.Fatalf("members=%v, want 2 entries", got)
	}

	res, err := g.Join("r", "p1", 2)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !res.Rejoined || res.Count != 2 {
		t.Fatalf("unexpected rejoin result: %#v", res)
	}
}

func TestJoin_UnlimitedWhenMaxSizeNotPositive(t *testing.T) {
	g := NewRegistry(nil)
	for i := 0; i < 20; i++ {
		if _, err := g.Join("big", fmt.Sprintf("p%d", i), 0); err != nil {
			t.Fatalf("Join %d: %v", i, err)
		}
	}
	if got := len(g.Members("big")); got != 20 {
		t.Fatalf("members=%d, want 20", got)
	}
}

func TestLeave_Idempotent(t *testing.T) {
	g := NewRegistry(nil)
	if _, ok := g.Leave("missing", "p1"); ok {
		t.Fatalf("leave of missing room reported ok")
	}
	_, _ = g.Join("r", "p1", 4)
	_, _ = g.Join("r", "p2", 4)

	res, ok := g.Leave("r", "p1")
	if !ok || res.Deleted || len(res.Remaining) != 1 || res.Remaining[0] != "p2" {
		t.Fatalf("unexpected leave: %#v ok=%v", res, ok)
	}
	if _, ok := g.Leave("r", "p1"); ok {
		t.Fatalf("second leave reported ok")
	}
}

func TestLifecycle_LastLeaveDeletesAndRecreateResetsCreation(t *testing.T) {
	clk := &stepClock{now: time.Unix(1000, 0)}
	g := NewRegistry(clk.Now)

	_, _ = g.Join("r", "p1", 4)
	first, ok := g.Get("r")
	if !ok {
		t.Fatalf("room missing after join")
	}

	res, ok := g.Leave("r", "p1")
	if !ok || !res.Deleted {
		t.Fatalf("expected room deletion, got %#v", res)
	}
	if _, ok := g.Get("r"); ok || g.Len() != 0 {
		t.Fatalf("room still present after last leave")
	}

	clk.Advance(time.Minute)
	res2, err := g.Join("r", "p1", 4)
	if err != nil || !res2.Created {
		t.Fatalf("expected fresh room, got %#v err=%v", res2, err)
	}
	second, _ := g.Get("r")
	if !second.CreatedAt.After(first.CreatedAt) {
		t.Fatalf("CreatedAt=%v, want after %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestSweep_EvictsExpiredRoomsWithMembers(t *testing.T) {
	clk := &stepClock{now: time.Unix(0, 0)}
	g := NewRegistry(clk.Now)

	_, _ = g.Join("old", "p1", 4)
	_, _ = g.Join("old", "p2", 4)
	clk.Advance(1500 * time.Millisecond)
	_, _ = g.Join("young", "p3", 4)
	clk.Advance(500 * time.Millisecond)

	evicted := g.Sweep(clk.Now(), 1000*time.Millisecond)
	if len(evicted) != 1 || evicted[0].RoomID != "old" {
		t.Fatalf("evicted=%#v, want only old", evicted)
	}
	if evicted[0].Age != 2000*time.Millisecond || len(evicted[0].Members) != 2 {
		t.Fatalf("unexpected eviction record: %#v", evicted[0])
	}
	if _, ok := g.Get("old"); ok {
		t.Fatalf("old room survived sweep")
	}
	if _, ok := g.Get("young"); !ok {
		t.Fatalf("young room was evicted")
	}
	if _, ok := g.Leave("old", "p1"); ok {
		t.Fatalf("leave of evicted room reported ok")
	}
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	g := NewRegistry(nil)
	const peers = 32

	var wg sync.WaitGroup
	for i := 0; i < peers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			for j := 0; j < 200; j++ {
				room := fmt.Sprintf("r%d", j%3)
				if _, err := g.Join(room, id, 0); err != nil {
					t.Errorf("Join: %v", err)
					return
				}
				if _, ok := g.Leave(room, id); !ok {
					t.Errorf("Leave %s %s: not a member", room, id)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if n := g.Len(); n != 0 {
		t.Fatalf("rooms left after all peers departed: %d", n)
	}
}

func TestReaper_RunEvictsAndStops(t *testing.T) {
	clk := &stepClock{now: time.Unix(0, 0)}
	g := NewRegistry(clk.Now)
	_, _ = g.Join("r", "p1", 4)
	clk.Advance(time.Hour)

	evictedCh := make(chan Evicted, 1)
	reaper := &Reaper{
		Rooms:    g,
		Timeout:  time.Minute,
		Interval: 5 * time.Millisecond,
		Now:      clk.Now,
		OnEvict:  func(e Evicted) { evictedCh <- e },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reaper.Run(ctx) }()

	select {
	case e := <-evictedCh:
		if e.RoomID != "r" || len(e.Members) != 1 {
			t.Fatalf("unexpected eviction: %#v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for eviction")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("reaper did not stop")
	}
}

func TestIsMember(t *testing.T) {
	g := NewRegistry(nil)
	if g.IsMember("alpha", "p1") {
		t.Fatalf("member of a missing room")
	}
	if _, err := g.Join("alpha", "p1", 0); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !g.IsMember("alpha", "p1") || g.IsMember("alpha", "p2") {
		t.Fatalf("IsMember mismatch after join")
	}
	g.Sweep(time.Now().Add(time.Hour), time.Second)
	if g.IsMember("alpha", "p1") {
		t.Fatalf("member of a swept room")
	}
}
