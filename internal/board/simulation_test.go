package board

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestSimulation(store *memStore, cfg Config) (*Simulation, *recordingSink) {
	sink := &recordingSink{}
	cfg.Logger = quiet
	if cfg.RehomeBackoff == 0 {
		cfg.RehomeBackoff = time.Millisecond
	}
	s := NewSimulation(store, sink, cfg)
	if _, err := s.Load(context.Background()); err != nil {
		panic(err)
	}
	s.Tick(0)
	return s, sink
}

func recv(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	default:
		t.Fatal("command was not applied")
		return nil
	}
}

// settle ticks until the table stops and completes the turn-end flush.
func settle(t *testing.T, s *Simulation) {
	t.Helper()
	for i := 0; i < 2000 && !s.engine.AllStopped(); i++ {
		s.Tick(1.0 / 60)
	}
	s.WaitRehomes()
	s.Tick(0)
	s.batcher.flushTurnEnd(context.Background())
	s.Tick(0)
}

func TestLoadBuildsBodies(t *testing.T) {
	store := newMemStore(
		article("A", "alice", -10, 0),
		article("B", "bob", 10, 0),
		comment("c1", "A", "001", "bob"),
	)
	s, _ := newTestSimulation(store, DefaultConfig())

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 render balls, got %d", len(snap))
	}
	for _, rb := range snap {
		if rb.IsNewlyCreated {
			t.Errorf("loaded ball %s marked new", rb.Ball.ID)
		}
		if rb.Ball.ID == "A" && rb.Radius != DefaultArticleRadius+CommentRadiusGrowth {
			t.Errorf("A radius = %.2f", rb.Radius)
		}
	}
}

func TestStrikeLocksTableUntilSettled(t *testing.T) {
	store := newMemStore(
		article("A", "alice", -10, 0),
		article("B", "bob", 10, 10),
	)
	s, sink := newTestSimulation(store, DefaultConfig())

	begin := s.BeginAim("alice", "A", NewVec2(-10, 0))
	s.Tick(1.0 / 60)
	if err := recv(t, begin); err != nil {
		t.Fatalf("begin: %v", err)
	}

	release := s.ReleaseAim("alice", NewVec2(-14, 0))
	s.Tick(1.0 / 60)
	if err := recv(t, release); err != nil {
		t.Fatalf("release: %v", err)
	}

	if !s.State().Locked {
		t.Error("table not locked after strike")
	}
	if h := s.State().TurnHolder; h != "alice" {
		t.Errorf("turn holder = %q", h)
	}
	bd, _ := s.registry.Get("A")
	if bd.Velocity.X <= 0 {
		t.Errorf("A should move right, v=%v", bd.Velocity)
	}

	blocked := s.BeginAim("bob", "B", NewVec2(10, 10))
	s.Tick(1.0 / 60)
	if err := recv(t, blocked); !errors.Is(err, ErrTableLocked) {
		t.Errorf("strike during motion: %v", err)
	}

	settle(t, s)

	if s.State().Locked {
		t.Error("table still locked after turn end")
	}
	if h := s.State().TurnHolder; h != "" {
		t.Errorf("turn holder %q kept after turn end", h)
	}
	if sink.turns != 1 {
		t.Errorf("expected 1 turn end, got %d", sink.turns)
	}
	if len(store.updates) == 0 {
		t.Error("turn end did not flush positions")
	}

	again := s.BeginAim("bob", "B", NewVec2(10, 10))
	s.Tick(1.0 / 60)
	if err := recv(t, again); err != nil {
		t.Errorf("strike after settle: %v", err)
	}
}

func TestZeroDragReleaseLeavesBallAtRest(t *testing.T) {
	store := newMemStore(article("A", "alice", 0, 0))
	s, _ := newTestSimulation(store, DefaultConfig())

	s.BeginAim("alice", "A", NewVec2(0, 0))
	s.Tick(1.0 / 60)
	release := s.ReleaseAim("alice", NewVec2(0, 0))
	s.Tick(1.0 / 60)

	if err := recv(t, release); !errors.Is(err, ErrBelowDeadzone) {
		t.Errorf("expected ErrBelowDeadzone, got %v", err)
	}
	bd, _ := s.registry.Get("A")
	if !bd.Velocity.IsZero() || bd.Position != NewVec2(0, 0) {
		t.Errorf("ball moved: pos=%v vel=%v", bd.Position, bd.Velocity)
	}
	if s.State().Locked {
		t.Error("failed strike locked the table")
	}
}

func TestPocketRehomesUnderAttributor(t *testing.T) {
	table := NewStandardTable()
	pocket := table.Pockets[5]
	store := newMemStore(
		article("X", "p1", pocket.Position.X-0.5, pocket.Position.Y-3),
		article("P2", "p2", 0, 0),
		comment("x1", "X", "001", "u1"),
		comment("x2", "X", "001.001", "u2"),
	)
	s, sink := newTestSimulation(store, DefaultConfig())

	bd, _ := s.registry.Get("X")
	bd.Position = NewVec2(pocket.Position.X-0.5, pocket.Position.Y)
	bd.LastHitBy = "P2"

	res := s.Tick(1.0 / 60)
	if len(res.Pocketed) != 1 {
		t.Fatalf("expected a pocket event, got %d", len(res.Pocketed))
	}
	s.WaitRehomes()
	s.Tick(0)

	for _, id := range []string{"X", "x1", "x2"} {
		if _, ok := s.registry.Ball(id); ok {
			t.Errorf("original %s still live", id)
		}
	}
	moved := s.registry.Comments("P2")
	if len(moved) != 2 || moved[0].Depth != 0 || moved[1].Depth != 1 {
		t.Fatalf("rehomed comments = %+v", moved)
	}
	if moved[0].OwnerID != "p2" {
		t.Errorf("rehomed comment owner = %s, want p2", moved[0].OwnerID)
	}

	p2, _ := s.registry.Get("P2")
	if want := DefaultArticleRadius + CommentRadiusGrowth; p2.Radius != want {
		t.Errorf("P2 radius = %.2f, want %.2f", p2.Radius, want)
	}
	if len(sink.created) != 2 || len(sink.removed) != 3 {
		t.Errorf("events: created=%d removed=%d", len(sink.created), len(sink.removed))
	}
}

func TestPocketWithoutAttributorBounce(t *testing.T) {
	table := NewStandardTable()
	pocket := table.Pockets[0]
	store := newMemStore(
		article("X", "p1", 0, 0),
		comment("x1", "X", "001", "u1"),
	)
	cfg := DefaultConfig()
	cfg.Policy = PolicyBounce
	s, sink := newTestSimulation(store, cfg)

	bd, _ := s.registry.Get("X")
	bd.Position = pocket.Position

	res := s.Tick(1.0 / 60)
	if len(res.Pocketed) != 1 {
		t.Fatalf("expected pocket event, got %d", len(res.Pocketed))
	}

	bd, ok := s.registry.Get("X")
	if !ok {
		t.Fatal("bounced ball missing")
	}
	if _, in := table.PocketAt(bd.Position); in {
		t.Errorf("bounced ball still in pocket at %v", bd.Position)
	}
	if !bd.Velocity.IsZero() {
		t.Errorf("bounced ball moving: %v", bd.Velocity)
	}
	if !store.has("x1") || len(sink.removed) != 0 {
		t.Error("bounce must not touch content")
	}
}

func TestPocketWithoutAttributorDrop(t *testing.T) {
	table := NewStandardTable()
	store := newMemStore(
		article("X", "p1", 0, 0),
		comment("x1", "X", "001", "u1"),
	)
	s, sink := newTestSimulation(store, DefaultConfig())

	bd, _ := s.registry.Get("X")
	bd.Position = table.Pockets[2].Position

	s.Tick(1.0 / 60)
	s.WaitRehomes()
	s.Tick(0)

	if store.has("X") || store.has("x1") {
		t.Error("dropped content still stored")
	}
	if len(sink.created) != 0 || len(sink.removed) != 2 {
		t.Errorf("events: created=%d removed=%d", len(sink.created), len(sink.removed))
	}
}

func TestFailedRehomeRestoresArticle(t *testing.T) {
	table := NewStandardTable()
	store := newMemStore(
		article("X", "p1", 0, 5),
		article("P2", "p2", 0, -5),
		comment("x1", "X", "001", "u1"),
	)
	store.failCreate = func(int) bool { return true }
	cfg := DefaultConfig()
	cfg.RehomeRetries = 1
	s, sink := newTestSimulation(store, cfg)

	bd, _ := s.registry.Get("X")
	bd.Position = table.Pockets[1].Position
	bd.LastHitBy = "P2"

	s.Tick(1.0 / 60)
	s.WaitRehomes()
	s.Tick(0)

	if _, ok := s.registry.Get("X"); !ok {
		t.Error("article not restored after failed rehome")
	}
	if !store.has("X") || !store.has("x1") {
		t.Error("originals deleted despite failure")
	}
	if len(sink.removed) != 0 {
		t.Errorf("removal announced for failed rehome: %v", sink.removed)
	}
}

func TestNewBallHighlightExpires(t *testing.T) {
	store := newMemStore()
	s, sink := newTestSimulation(store, DefaultConfig())

	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	s.AddBall(article("N", "alice", 5, 5))
	s.Tick(0)

	snap := s.Snapshot()
	if len(snap) != 1 || !snap[0].IsNewlyCreated {
		t.Fatalf("new ball not highlighted: %+v", snap)
	}
	if len(sink.created) != 1 {
		t.Errorf("BallCreated not emitted")
	}

	now = now.Add(NewBallHighlight)
	s.Tick(0)
	if s.Snapshot()[0].IsNewlyCreated {
		t.Error("highlight outlived its window")
	}
}

func TestRemoteMergeAndRemoval(t *testing.T) {
	store := newMemStore(article("A", "alice", 0, 0))
	s, sink := newTestSimulation(store, DefaultConfig())

	s.MergeRemoteBall(comment("c1", "A", "001", "bob"))
	s.ApplyRemotePosition("A", NewVec2(3, 4))
	s.Tick(0)

	bd, _ := s.registry.Get("A")
	if bd.Position != NewVec2(3, 4) {
		t.Errorf("remote position not applied: %v", bd.Position)
	}
	if bd.Radius != DefaultArticleRadius+CommentRadiusGrowth {
		t.Errorf("remote comment did not grow article: %.2f", bd.Radius)
	}
	if len(sink.created) != 0 {
		t.Error("remote merge must not be re-announced")
	}

	s.MergeRemoteRemoval("A")
	s.Tick(0)
	if _, ok := s.registry.Get("A"); ok {
		t.Error("remote removal ignored")
	}
	if _, ok := s.registry.Ball("c1"); ok {
		t.Error("comments of removed article kept")
	}
}

func TestCommandQueueLimitPerActor(t *testing.T) {
	store := newMemStore(article("A", "alice", 0, 0))
	cfg := DefaultConfig()
	cfg.MaxCommandsPerActor = 2
	s, _ := newTestSimulation(store, cfg)

	s.UpdateAim("alice", Vec2{})
	s.UpdateAim("alice", Vec2{})
	third := s.UpdateAim("alice", Vec2{})

	if err := recv(t, third); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}

	s.Tick(0)
	if err := s.Enqueue(Command{Type: CommandCancelAim, ActorID: "alice"}); err != nil {
		t.Errorf("limit not reset after drain: %v", err)
	}
}

func TestPocketOfRehomeTargetWaitsForCopies(t *testing.T) {
	table := NewStandardTable()
	store := newMemStore(
		article("A", "pa", 30, 15),
		article("B", "pb", 0, 0),
		article("C", "pc", -20, 5),
		comment("a1", "A", "001", "u1"),
		comment("b1", "B", "001", "u2"),
	)
	s, _ := newTestSimulation(store, DefaultConfig())
	gate := make(chan struct{})
	store.deleteGate = gate

	a, _ := s.registry.Get("A")
	a.Position = table.Pockets[5].Position
	a.LastHitBy = "B"
	s.Tick(1.0 / 60)

	// B goes down while A's copies are still being written under it
	b, _ := s.registry.Get("B")
	b.Position = table.Pockets[0].Position
	b.LastHitBy = "C"
	if res := s.Tick(1.0 / 60); len(res.Pocketed) != 1 {
		t.Fatalf("expected B pocketed, got %d events", len(res.Pocketed))
	}
	if len(s.deferred) != 1 {
		t.Fatalf("B's pocket should wait for A's rehome, deferred=%d", len(s.deferred))
	}

	close(gate)
	s.WaitRehomes()
	s.Tick(0)
	s.WaitRehomes()
	s.Tick(0)

	if store.has("A") || store.has("B") {
		t.Error("pocketed articles still stored")
	}
	if orphans := store.orphans(); len(orphans) != 0 {
		t.Errorf("comments left without an article: %v", orphans)
	}
	counts := store.contentCount("C")
	if counts["reply a1"] != 1 || counts["reply b1"] != 1 {
		t.Errorf("C comments = %v, want both replies once", counts)
	}
	if got := len(s.registry.Comments("C")); got != 2 {
		t.Errorf("registry has %d comments under C", got)
	}
}

func TestRepocketAfterFailedRehomeCopiesOnce(t *testing.T) {
	table := NewStandardTable()
	store := newMemStore(
		article("X", "p1", 0, 5),
		article("P2", "p2", 0, -5),
		comment("x1", "X", "001", "u1"),
		comment("x2", "X", "001.001", "u2"),
	)
	failing := true
	store.failCreate = func(n int) bool { return failing && n >= 2 }
	cfg := DefaultConfig()
	cfg.RehomeRetries = 0
	s, _ := newTestSimulation(store, cfg)

	pocketX := func() {
		bd, ok := s.registry.Get("X")
		if !ok {
			t.Fatal("X not on the table")
		}
		bd.Position = table.Pockets[1].Position
		bd.LastHitBy = "P2"
		s.Tick(1.0 / 60)
		s.WaitRehomes()
		s.Tick(0)
	}

	pocketX()
	if got := len(store.commentsOf("P2")); got != 0 {
		t.Fatalf("P2 has %d copies after failed rehome", got)
	}

	failing = false
	pocketX()

	counts := store.contentCount("P2")
	for _, content := range []string{"reply x1", "reply x2"} {
		if counts[content] != 1 {
			t.Errorf("%q re-homed %d times", content, counts[content])
		}
	}
	if store.has("X") {
		t.Error("X still stored after successful rehome")
	}
}

func TestTurnEndFlushUsesSettledPositions(t *testing.T) {
	store := newMemStore(article("A", "alice", 0, 0))
	s, _ := newTestSimulation(store, DefaultConfig())

	bd, _ := s.registry.Get("A")
	bd.Velocity = NewVec2(3, 0)
	s.locked = true
	for i := 0; i < 2000 && !s.engine.AllStopped(); i++ {
		s.Tick(1.0 / 60)
	}
	rest := bd.Position

	// whatever is published later must not leak into this turn's flush
	s.stateMu.Lock()
	s.positions = nil
	s.stateMu.Unlock()
	s.batcher.flushTurnEnd(context.Background())

	if len(store.updates) == 0 {
		t.Fatal("turn end wrote nothing")
	}
	var got *PositionUpdate
	for _, u := range store.updates[len(store.updates)-1] {
		if u.ID == "A" {
			u := u
			got = &u
		}
	}
	if got == nil || got.Position != rest {
		t.Errorf("flushed %+v, want A at rest position %v", got, rest)
	}
}
