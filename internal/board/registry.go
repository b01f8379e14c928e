package board

import "sort"

// Registry maps ball ids to simulation state. It also keeps the backing ball set
// (articles and comments) because article radii and pocket subtrees derive from it.
//
// A Registry is not safe for concurrent use; it belongs to the simulation loop.
type Registry struct {
	bodies map[string]*PhysicsBody
	order  []string
	balls  map[string]Ball
	// live top-level comment count per article id
	commentCounts map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bodies:        make(map[string]*PhysicsBody),
		balls:         make(map[string]Ball),
		commentCounts: make(map[string]int),
	}
}

// Upsert inserts or refreshes a ball. Articles get a body; an existing body keeps
// its velocity. Comments only update the backing set and the article radius.
// Soft-deleted balls are treated as removals.
func (r *Registry) Upsert(ball Ball) {
	if ball.IsDeleted {
		r.Remove(ball.ID)
		return
	}

	if prev, ok := r.balls[ball.ID]; ok && prev.IsComment() {
		r.untrackComment(prev)
	}
	r.balls[ball.ID] = ball

	if ball.IsComment() {
		r.trackComment(ball)
		return
	}

	radius := r.effectiveRadius(ball)
	if body, ok := r.bodies[ball.ID]; ok {
		body.Ball = ball
		body.Radius = radius
		body.Position = ball.Position
		return
	}

	r.bodies[ball.ID] = &PhysicsBody{
		Position: ball.Position,
		Radius:   radius,
		Ball:     ball,
	}
	r.order = append(r.order, ball.ID)
}

// Remove drops a ball and its body, if any. Removing a comment shrinks its article.
func (r *Registry) Remove(id string) {
	ball, ok := r.balls[id]
	if ok {
		delete(r.balls, id)
		if ball.IsComment() {
			r.untrackComment(ball)
		}
	}

	if _, ok := r.bodies[id]; !ok {
		return
	}
	delete(r.bodies, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the body for id.
func (r *Registry) Get(id string) (*PhysicsBody, bool) {
	b, ok := r.bodies[id]
	return b, ok
}

// All returns the live bodies. The slice is fresh; the bodies are shared.
func (r *Registry) All() []*PhysicsBody {
	out := make([]*PhysicsBody, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.bodies[id])
	}
	return out
}

// Len returns the number of simulated bodies.
func (r *Registry) Len() int {
	return len(r.order)
}

// Ball returns a ball from the backing set.
func (r *Registry) Ball(id string) (Ball, bool) {
	b, ok := r.balls[id]
	return b, ok
}

// Balls returns every known ball, articles first, then comments by article and path.
func (r *Registry) Balls() []Ball {
	out := make([]Ball, 0, len(r.balls))
	for _, b := range r.balls {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.IsArticle()
		}
		if a.ArticleID != b.ArticleID {
			return a.ArticleID < b.ArticleID
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.ID < b.ID
	})
	return out
}

// Comments returns the comments of an article ordered by path.
func (r *Registry) Comments(articleID string) []Ball {
	var out []Ball
	for _, b := range r.balls {
		if b.IsComment() && b.ArticleID == articleID {
			out = append(out, b)
		}
	}
	sortByPath(out)
	return out
}

// Subtree returns the comments rooted at root, ordered by path: every comment of
// an article, or a comment together with its descendants.
func (r *Registry) Subtree(root Ball) []Ball {
	if root.IsArticle() {
		return r.Comments(root.ID)
	}
	if root.Path == "" {
		return []Ball{root}
	}
	var out []Ball
	for _, b := range r.balls {
		if b.IsComment() && b.ArticleID == root.ArticleID && IsInSubtree(root.Path, b.Path) {
			out = append(out, b)
		}
	}
	sortByPath(out)
	return out
}

// CommentCount returns the number of live top-level comments of an article.
func (r *Registry) CommentCount(articleID string) int {
	return r.commentCounts[articleID]
}

// SetPosition moves a body and stops it. Used for position updates coming from
// another observer.
func (r *Registry) SetPosition(id string, p Vec2) bool {
	body, ok := r.bodies[id]
	if !ok {
		return false
	}
	body.Position = p
	body.Velocity = Vec2{}
	body.Ball.Position = p
	if ball, ok := r.balls[id]; ok {
		ball.Position = p
		r.balls[id] = ball
	}
	return true
}

// SyncBallPosition copies a body's position into the backing ball.
func (r *Registry) SyncBallPosition(body *PhysicsBody) {
	body.Ball.Position = body.Position
	if ball, ok := r.balls[body.ID()]; ok {
		ball.Position = body.Position
		r.balls[body.ID()] = ball
	}
}

func (r *Registry) effectiveRadius(article Ball) float64 {
	return article.Radius + float64(r.commentCounts[article.ID])*CommentRadiusGrowth
}

// Only top-level comments grow their article.
func countsTowardRadius(c Ball) bool {
	return c.ArticleID != "" && DepthFromPath(c.Path) == 0
}

func (r *Registry) trackComment(c Ball) {
	if !countsTowardRadius(c) {
		return
	}
	r.commentCounts[c.ArticleID]++
	r.refreshRadius(c.ArticleID)
}

func (r *Registry) untrackComment(c Ball) {
	if !countsTowardRadius(c) {
		return
	}
	if n := r.commentCounts[c.ArticleID]; n > 1 {
		r.commentCounts[c.ArticleID] = n - 1
	} else {
		delete(r.commentCounts, c.ArticleID)
	}
	r.refreshRadius(c.ArticleID)
}

func (r *Registry) refreshRadius(articleID string) {
	if body, ok := r.bodies[articleID]; ok {
		body.Radius = r.effectiveRadius(body.Ball)
	}
}

func sortByPath(balls []Ball) {
	sort.Slice(balls, func(i, j int) bool {
		if c := ComparePaths(balls[i].Path, balls[j].Path); c != 0 {
			return c < 0
		}
		return balls[i].ID < balls[j].ID
	})
}
