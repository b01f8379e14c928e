package board

import (
	"math"
	"testing"
)

func TestGeneratePath(t *testing.T) {
	tests := []struct {
		parent   string
		siblings int
		want     string
		depth    int
	}{
		{"", 0, "001", 0},
		{"", 11, "012", 0},
		{"001", 0, "001.001", 1},
		{"001.002", 4, "001.002.005", 2},
	}
	for _, tt := range tests {
		got := GeneratePath(tt.parent, tt.siblings)
		if got != tt.want {
			t.Errorf("GeneratePath(%q, %d) = %q, want %q", tt.parent, tt.siblings, got, tt.want)
		}
		if d := DepthFromPath(got); d != tt.depth {
			t.Errorf("DepthFromPath(%q) = %d, want %d", got, d, tt.depth)
		}
		if p := ParentPath(got); p != tt.parent {
			t.Errorf("ParentPath(%q) = %q, want %q", got, p, tt.parent)
		}
	}
}

func TestSiblingCountSkipsGaps(t *testing.T) {
	if n := SiblingCount(nil); n != 0 {
		t.Errorf("no children: %d", n)
	}
	if n := SiblingCount([]string{"001", "002"}); n != 2 {
		t.Errorf("dense children: %d", n)
	}
	// "002" was hard-deleted: the next child must not reuse "003"
	if got := GeneratePath("004", SiblingCount([]string{"004.001", "004.003"})); got != "004.004" {
		t.Errorf("next path after gap = %q", got)
	}
}

func TestIsInSubtree(t *testing.T) {
	if !IsInSubtree("001", "001") || !IsInSubtree("001", "001.003.002") {
		t.Error("descendants not matched")
	}
	if IsInSubtree("001", "0010") || IsInSubtree("001", "002.001") {
		t.Error("prefix without separator must not match")
	}
	if !IsDirectChild("", "004") || IsDirectChild("", "004.001") || !IsDirectChild("004", "004.001") {
		t.Error("direct child detection wrong")
	}
}

func TestComparePaths(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"001", "001", 0},
		{"001", "002", -1},
		{"001", "001.001", -1},
		{"001.002", "002", -1},
		{"999", "1000", -1},
		{"001.1000", "001.999", 1},
	}
	for _, tt := range tests {
		if got := ComparePaths(tt.a, tt.b); got != tt.want {
			t.Errorf("ComparePaths(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}

	balls := []Ball{{ID: "c", Path: "1000"}, {ID: "b", Path: "999.001"}, {ID: "a", Path: "999"}}
	sortByPath(balls)
	if balls[0].ID != "a" || balls[1].ID != "b" || balls[2].ID != "c" {
		t.Errorf("sorted = %v %v %v", balls[0].Path, balls[1].Path, balls[2].Path)
	}
}

func TestUpsertKeepsVelocity(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(article("A", "p", 0, 0))

	bd, ok := reg.Get("A")
	if !ok {
		t.Fatal("article has no body")
	}
	if !bd.Velocity.IsZero() {
		t.Errorf("new body should start at rest, got %v", bd.Velocity)
	}
	bd.Velocity = NewVec2(3, 4)

	moved := article("A", "p", 5, 5)
	moved.Content = "edited"
	reg.Upsert(moved)

	bd, _ = reg.Get("A")
	if bd.Velocity != NewVec2(3, 4) {
		t.Errorf("velocity reset on refresh: %v", bd.Velocity)
	}
	if bd.Position != NewVec2(5, 5) || bd.Ball.Content != "edited" {
		t.Errorf("refresh did not update body: %+v", bd)
	}
	if reg.Len() != 1 {
		t.Errorf("expected 1 body, got %d", reg.Len())
	}
}

func TestCommentsNeverGetBodies(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(article("A", "p", 0, 0))
	reg.Upsert(comment("c1", "A", "001", "p"))

	if _, ok := reg.Get("c1"); ok {
		t.Error("comment received a physics body")
	}
	if _, ok := reg.Ball("c1"); !ok {
		t.Error("comment missing from the backing set")
	}
	if reg.Len() != 1 {
		t.Errorf("expected 1 body, got %d", reg.Len())
	}
}

func TestEffectiveRadiusTracksTopLevelComments(t *testing.T) {
	reg := NewRegistry()
	base := article("A", "p", 0, 0)

	// comments may arrive before their article
	reg.Upsert(comment("c1", "A", "001", "p"))
	reg.Upsert(base)
	reg.Upsert(comment("c2", "A", "002", "p"))
	reg.Upsert(comment("c3", "A", "002.001", "p"))

	check := func(label string, want int) {
		t.Helper()
		bd, _ := reg.Get("A")
		expected := base.Radius + float64(want)*CommentRadiusGrowth
		if math.Abs(bd.Radius-expected) > 1e-12 {
			t.Errorf("%s: radius=%.2f want %.2f", label, bd.Radius, expected)
		}
		if got := reg.CommentCount("A"); got != want {
			t.Errorf("%s: count=%d want %d", label, got, want)
		}
	}

	check("after creates", 2)

	reg.Remove("c1")
	check("after remove", 1)

	deleted := comment("c2", "A", "002", "p")
	deleted.IsDeleted = true
	reg.Upsert(deleted)
	check("after soft delete", 0)

	reg.Upsert(comment("c4", "A", "003", "p"))
	reg.Upsert(comment("c4", "A", "003", "p"))
	check("after duplicate upsert", 1)
}

func TestRemoveAndOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(article("A", "p", 0, 0))
	reg.Upsert(article("B", "p", 5, 0))
	reg.Upsert(article("C", "p", 10, 0))

	reg.Remove("B")
	reg.Remove("missing")

	all := reg.All()
	if len(all) != 2 || all[0].ID() != "A" || all[1].ID() != "C" {
		t.Errorf("unexpected bodies after remove: %v", ids(all))
	}
	if _, ok := reg.Ball("B"); ok {
		t.Error("removed ball still in backing set")
	}
}

func TestSubtree(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(article("A", "p", 0, 0))
	for _, c := range []Ball{
		comment("c3", "A", "002", "p"),
		comment("c1", "A", "001", "p"),
		comment("c2", "A", "001.001", "p"),
		comment("c4", "A", "002.001", "p"),
		comment("c5", "A", "002.001.001", "p"),
		comment("x1", "B", "002.001", "p"),
	} {
		reg.Upsert(c)
	}

	a, _ := reg.Ball("A")
	if got := pathsOf(reg.Subtree(a)); !equalStrings(got, []string{"001", "001.001", "002", "002.001", "002.001.001"}) {
		t.Errorf("article subtree = %v", got)
	}

	c4, _ := reg.Ball("c4")
	if got := pathsOf(reg.Subtree(c4)); !equalStrings(got, []string{"002.001", "002.001.001"}) {
		t.Errorf("comment subtree = %v", got)
	}
}

func TestSetPositionStopsBody(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(article("A", "p", 0, 0))
	bd, _ := reg.Get("A")
	bd.Velocity = NewVec2(1, 1)

	if !reg.SetPosition("A", NewVec2(7, -3)) {
		t.Fatal("SetPosition failed")
	}
	if !bd.Velocity.IsZero() || bd.Position != NewVec2(7, -3) {
		t.Errorf("body not moved and stopped: %+v", bd)
	}
	if b, _ := reg.Ball("A"); b.Position != NewVec2(7, -3) {
		t.Errorf("backing ball not synced: %v", b.Position)
	}
	if reg.SetPosition("nope", Vec2{}) {
		t.Error("SetPosition on unknown id should fail")
	}
}

func ids(bodies []*PhysicsBody) []string {
	out := make([]string, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, b.ID())
	}
	return out
}

func pathsOf(balls []Ball) []string {
	out := make([]string, 0, len(balls))
	for _, b := range balls {
		out = append(out, b.Path)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
