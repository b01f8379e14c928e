package board

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
)

var quiet = log.New(io.Discard, "", 0)

// Helper: article X (owned by p1) with a small comment tree, pocketed after being
// hit by article P2 (owned by p2), which already has one comment.
func setupPocket() (*memStore, PocketJob) {
	x := article("X", "p1", 37.5, 22)
	p2 := article("P2", "p2", 0, 0)
	tree := []Ball{
		comment("x1", "X", "001", "u1"),
		comment("x2", "X", "001.001", "u2"),
		comment("x3", "X", "001.001.001", "u3"),
		comment("x4", "X", "002", "u4"),
	}
	store := newMemStore(append([]Ball{x, p2, comment("p2c", "P2", "001", "u9")}, tree...)...)

	reg := NewRegistry()
	for _, b := range store.balls {
		reg.Upsert(b)
	}

	bd, _ := reg.Get("X")
	bd.LastHitBy = "P2"
	attributor, _ := reg.Ball("P2")

	job := PocketJob{
		EventID:    "ev1",
		Event:      PocketEvent{Body: *bd, PocketID: 5},
		Attributor: &attributor,
		Subtree:    reg.Subtree(x),
	}
	return store, job
}

func TestTransformRehomesSubtreeUnderAttributor(t *testing.T) {
	store, job := setupPocket()
	tr := NewTransformer(store, 0, 0, quiet)

	res := tr.Transform(context.Background(), job)
	if res.Err != nil {
		t.Fatalf("transform failed: %v", res.Err)
	}

	if len(res.Created) != len(job.Subtree) {
		t.Fatalf("created %d comments, want %d", len(res.Created), len(job.Subtree))
	}
	for i, c := range res.Created {
		orig := job.Subtree[i]
		if c.ArticleID != "P2" {
			t.Errorf("%s rehomed under %s, want P2", orig.ID, c.ArticleID)
		}
		if c.OwnerID != "p2" {
			t.Errorf("%s attributed to %s, want p2", orig.ID, c.OwnerID)
		}
		if c.Content != orig.Content {
			t.Errorf("content changed: %q -> %q", orig.Content, c.Content)
		}
		if c.Depth != orig.Depth {
			t.Errorf("%s depth %d, want %d", orig.ID, c.Depth, orig.Depth)
		}
	}

	// P2 already had "001": the top-level roots follow it
	wantPaths := []string{"002", "002.001", "002.001.001", "003"}
	if got := pathsOf(res.Created); !equalStrings(got, wantPaths) {
		t.Errorf("new paths = %v, want %v", got, wantPaths)
	}

	for _, id := range []string{"X", "x1", "x2", "x3", "x4"} {
		if store.has(id) {
			t.Errorf("original %s not deleted", id)
		}
	}
	if len(res.Removed) != 5 {
		t.Errorf("removed %v", res.Removed)
	}
	if got := len(store.commentsOf("P2")); got != 5 {
		t.Errorf("P2 has %d comments, want 5", got)
	}
}

func TestTransformCommentSubtreeKeepsRelativeDepth(t *testing.T) {
	store := newMemStore(article("T", "p9", 0, 0))
	tr := NewTransformer(store, 0, 0, quiet)

	root := comment("r", "X", "003.002", "u1")
	job := PocketJob{
		EventID: "ev2",
		Event:   PocketEvent{Body: PhysicsBody{Ball: root}},
		Attributor: &Ball{
			ID: "tc", Kind: KindComment, ArticleID: "T", OwnerID: "p9", Path: "001",
		},
		Subtree: []Ball{
			root,
			comment("r1", "X", "003.002.001", "u2"),
			comment("r2", "X", "003.002.001.001", "u3"),
			comment("r3", "X", "003.002.002", "u4"),
		},
	}

	res := tr.Transform(context.Background(), job)
	if res.Err != nil {
		t.Fatalf("transform failed: %v", res.Err)
	}

	want := []int{0, 1, 2, 1}
	for i, c := range res.Created {
		if c.ArticleID != "T" {
			t.Errorf("comment attributor should target its article, got %s", c.ArticleID)
		}
		if c.Depth != want[i] {
			t.Errorf("node %d depth=%d want %d", i, c.Depth, want[i])
		}
	}
	if len(res.Removed) != 4 {
		t.Errorf("pocketed comment counted twice: %v", res.Removed)
	}
}

func TestTransformFailureKeepsOriginals(t *testing.T) {
	store, job := setupPocket()
	store.failCreate = func(n int) bool { return n >= 2 }
	tr := NewTransformer(store, 2, 0, quiet)

	res := tr.Transform(context.Background(), job)

	var rerr *RehomeError
	if !errors.As(res.Err, &rerr) {
		t.Fatalf("expected RehomeError, got %v", res.Err)
	}
	if rerr.Stage != "create" || rerr.Failed.ID != "x2" {
		t.Errorf("unexpected failure point: stage=%s failed=%s", rerr.Stage, rerr.Failed.ID)
	}
	if len(rerr.Created) != 1 {
		t.Errorf("expected 1 created before failure, got %d", len(rerr.Created))
	}
	if !rerr.RolledBack || len(res.Created) != 0 {
		t.Errorf("copy not rolled back: rolledBack=%v left=%d", rerr.RolledBack, len(res.Created))
	}
	if !errors.Is(res.Err, errStoreDown) {
		t.Error("cause not wrapped")
	}
	for _, id := range []string{"X", "x1", "x2", "x3", "x4"} {
		if !store.has(id) {
			t.Errorf("original %s deleted after failed create", id)
		}
	}
	if got := len(store.commentsOf("P2")); got != 1 {
		t.Errorf("P2 has %d comments after rollback, want 1", got)
	}
	if store.creates != 4 {
		t.Errorf("expected 1 + 3 attempts, got %d", store.creates)
	}
}

func TestRepeatedPocketAfterFailureDoesNotDuplicate(t *testing.T) {
	for _, tt := range []struct {
		name         string
		rollbackFail int
	}{
		{"rolled back", 0},
		{"rollback failed", 1},
	} {
		t.Run(tt.name, func(t *testing.T) {
			store, job := setupPocket()
			store.failCreate = func(n int) bool { return n == 2 }
			tr := NewTransformer(store, 0, 0, quiet)

			store.failDelete = tt.rollbackFail
			first := tr.Transform(context.Background(), job)
			if first.Err == nil {
				t.Fatal("first pocketing should fail")
			}
			if got := len(first.Created); got != tt.rollbackFail {
				t.Errorf("copies left after first attempt: %d", got)
			}

			store.failCreate = nil
			job.EventID = "ev-again"
			second := tr.Transform(context.Background(), job)
			if second.Err != nil {
				t.Fatalf("second pocketing: %v", second.Err)
			}

			counts := store.contentCount("P2")
			for _, c := range job.Subtree {
				if counts[c.Content] != 1 {
					t.Errorf("%q rehomed %d times", c.Content, counts[c.Content])
				}
			}
		})
	}
}

func TestTransformRefusesUnmigratedComments(t *testing.T) {
	store, job := setupPocket()
	// committed after the subtree was captured
	store.balls["x5"] = comment("x5", "X", "003", "u5")
	tr := NewTransformer(store, 2, 0, quiet)

	res := tr.Transform(context.Background(), job)

	var rerr *RehomeError
	if !errors.As(res.Err, &rerr) || rerr.Stage != "delete" {
		t.Fatalf("expected delete-stage RehomeError, got %v", res.Err)
	}
	if !errors.Is(res.Err, ErrUnmigratedComments) {
		t.Errorf("cause = %v", rerr.Err)
	}
	if !rerr.RolledBack || len(res.Created) != 0 {
		t.Error("copies kept after refused delete")
	}
	if !store.has("X") || !store.has("x5") || !store.has("x1") {
		t.Error("originals touched by refused delete")
	}
	if got := len(store.commentsOf("P2")); got != 1 {
		t.Errorf("P2 has %d comments, want only its own", got)
	}
}

func TestTransformRetryDoesNotDuplicate(t *testing.T) {
	store, job := setupPocket()
	store.failCreate = func(n int) bool { return n == 2 }
	tr := NewTransformer(store, 1, 0, quiet)

	res := tr.Transform(context.Background(), job)
	if res.Err != nil {
		t.Fatalf("retry should have recovered: %v", res.Err)
	}
	if got := len(store.commentsOf("P2")); got != 5 {
		t.Errorf("P2 has %d comments, want 5", got)
	}

	// replaying the whole job hits the rehome keys
	again := tr.Transform(context.Background(), job)
	if again.Err != nil {
		t.Fatalf("replay failed: %v", again.Err)
	}
	if got := len(store.commentsOf("P2")); got != 5 {
		t.Errorf("replay duplicated comments: %d", got)
	}
}

func TestTransformWithoutAttributorDrops(t *testing.T) {
	store, job := setupPocket()
	job.Attributor = nil
	tr := NewTransformer(store, 0, 0, quiet)

	res := tr.Transform(context.Background(), job)
	if res.Err != nil {
		t.Fatalf("drop failed: %v", res.Err)
	}
	if len(res.Created) != 0 || store.creates != 0 {
		t.Error("content created without attributor")
	}
	if store.has("X") || store.has("x1") {
		t.Error("dropped content still stored")
	}
}

func TestTransformDeleteFailure(t *testing.T) {
	store, job := setupPocket()
	store.failDelete = 5
	tr := NewTransformer(store, 1, 0, quiet)

	res := tr.Transform(context.Background(), job)

	var rerr *RehomeError
	if !errors.As(res.Err, &rerr) || rerr.Stage != "delete" {
		t.Fatalf("expected delete-stage RehomeError, got %v", res.Err)
	}
	if len(rerr.Created) != 4 {
		t.Errorf("created copies not reported: %d", len(rerr.Created))
	}
	if rerr.RolledBack || len(res.Created) != 4 {
		t.Errorf("rollback cannot succeed while deletes fail: rolledBack=%v left=%d", rerr.RolledBack, len(res.Created))
	}
	if !store.has("X") {
		t.Error("original vanished despite failed delete")
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("Bounce"); err != nil || p != PolicyBounce {
		t.Errorf("ParsePolicy(Bounce) = %v, %v", p, err)
	}
	if p, err := ParsePolicy(""); err != nil || p != PolicyDrop {
		t.Errorf("ParsePolicy(\"\") = %v, %v", p, err)
	}
	if _, err := ParsePolicy("explode"); err == nil {
		t.Error("unknown policy accepted")
	}
}
