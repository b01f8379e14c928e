package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errStoreDown = errors.New("store down")

// memStore is an in-memory Store used across the board tests.
type memStore struct {
	mu      sync.Mutex
	balls   map[string]Ball
	nextID  int
	creates int

	// failCreate returns an error for the nth create call (1-based) when set.
	failCreate func(n int) bool
	failDelete int
	failUpdate int
	// deleteGate, when set, holds every DeleteBalls call until it is closed.
	deleteGate chan struct{}

	rehomeKeys map[string]string
	deleted    []string
	updates    [][]PositionUpdate
}

func newMemStore(balls ...Ball) *memStore {
	ms := &memStore{
		balls:      make(map[string]Ball),
		rehomeKeys: make(map[string]string),
	}
	for _, b := range balls {
		ms.balls[b.ID] = b
	}
	return ms
}

func (ms *memStore) ListLiveBalls(ctx context.Context) ([]Ball, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]Ball, 0, len(ms.balls))
	for _, b := range ms.balls {
		if !b.IsDeleted {
			out = append(out, b)
		}
	}
	return out, nil
}

func (ms *memStore) CreateComment(ctx context.Context, c NewComment) (Ball, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.creates++
	if ms.failCreate != nil && ms.failCreate(ms.creates) {
		return Ball{}, errStoreDown
	}
	if c.RehomeKey != "" {
		if id, ok := ms.rehomeKeys[c.RehomeKey]; ok {
			return ms.balls[id], nil
		}
	}

	var siblings []string
	for _, b := range ms.balls {
		if b.IsComment() && b.ArticleID == c.ArticleID && IsDirectChild(c.ParentPath, b.Path) {
			siblings = append(siblings, b.Path)
		}
	}
	path := GeneratePath(c.ParentPath, SiblingCount(siblings))

	ms.nextID++
	ball := Ball{
		ID:        fmt.Sprintf("c%d", ms.nextID),
		Kind:      KindComment,
		Content:   c.Content,
		Position:  c.Position,
		Radius:    c.Radius,
		OwnerID:   c.OwnerID,
		CreatedAt: time.Unix(1700000000, 0),
		ArticleID: c.ArticleID,
		Path:      path,
		Depth:     DepthFromPath(path),
	}
	ms.balls[ball.ID] = ball
	if c.RehomeKey != "" {
		ms.rehomeKeys[c.RehomeKey] = ball.ID
	}
	return ball, nil
}

func (ms *memStore) DeleteBalls(ctx context.Context, ids []string) error {
	if ms.deleteGate != nil {
		<-ms.deleteGate
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.failDelete > 0 {
		ms.failDelete--
		return errStoreDown
	}

	listed := make(map[string]bool, len(ids))
	for _, id := range ids {
		listed[id] = true
	}
	for _, id := range ids {
		if b, ok := ms.balls[id]; ok && b.IsArticle() {
			for _, c := range ms.balls {
				if c.IsComment() && c.ArticleID == id && !c.IsDeleted && !listed[c.ID] {
					return fmt.Errorf("delete %s: %w", id, ErrUnmigratedComments)
				}
			}
		}
	}

	for _, id := range ids {
		delete(ms.balls, id)
	}
	for key, id := range ms.rehomeKeys {
		if listed[id] {
			delete(ms.rehomeKeys, key)
		}
	}
	ms.deleted = append(ms.deleted, ids...)
	return nil
}

func (ms *memStore) BatchUpdatePositions(ctx context.Context, updates []PositionUpdate) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.failUpdate > 0 {
		ms.failUpdate--
		return errStoreDown
	}
	ms.updates = append(ms.updates, append([]PositionUpdate(nil), updates...))
	for _, u := range updates {
		if b, ok := ms.balls[u.ID]; ok {
			b.Position = u.Position
			ms.balls[u.ID] = b
		}
	}
	return nil
}

func (ms *memStore) commentsOf(articleID string) []Ball {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []Ball
	for _, b := range ms.balls {
		if b.IsComment() && b.ArticleID == articleID {
			out = append(out, b)
		}
	}
	sortByPath(out)
	return out
}

// contentCount counts the comments under articleID per content string.
func (ms *memStore) contentCount(articleID string) map[string]int {
	out := make(map[string]int)
	for _, c := range ms.commentsOf(articleID) {
		out[c.Content]++
	}
	return out
}

// orphans returns comments whose article is gone.
func (ms *memStore) orphans() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []string
	for _, b := range ms.balls {
		if b.IsComment() {
			if _, ok := ms.balls[b.ArticleID]; !ok {
				out = append(out, b.ID)
			}
		}
	}
	return out
}

func (ms *memStore) has(id string) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	_, ok := ms.balls[id]
	return ok
}

// recordingSink collects events.
type recordingSink struct {
	mu        sync.Mutex
	created   []Ball
	removed   []string
	positions [][]PositionUpdate
	turns     int
	rosters   [][]Player
}

func (rs *recordingSink) BallCreated(b Ball) {
	rs.mu.Lock()
	rs.created = append(rs.created, b)
	rs.mu.Unlock()
}

func (rs *recordingSink) BallRemoved(id string) {
	rs.mu.Lock()
	rs.removed = append(rs.removed, id)
	rs.mu.Unlock()
}

func (rs *recordingSink) PositionsUpdated(u []PositionUpdate) {
	rs.mu.Lock()
	rs.positions = append(rs.positions, u)
	rs.mu.Unlock()
}

func (rs *recordingSink) TurnEnded() {
	rs.mu.Lock()
	rs.turns++
	rs.mu.Unlock()
}

func (rs *recordingSink) PlayersChanged(local []string, all []Player) {
	rs.mu.Lock()
	rs.rosters = append(rs.rosters, all)
	rs.mu.Unlock()
}

func article(id, owner string, x, y float64) Ball {
	return Ball{
		ID:       id,
		Kind:     KindArticle,
		Content:  "post " + id,
		Position: NewVec2(x, y),
		Radius:   DefaultArticleRadius,
		OwnerID:  owner,
	}
}

func comment(id, articleID, path, owner string) Ball {
	return Ball{
		ID:        id,
		Kind:      KindComment,
		Content:   "reply " + id,
		Radius:    DefaultCommentRadius,
		OwnerID:   owner,
		ArticleID: articleID,
		Path:      path,
		Depth:     DepthFromPath(path),
	}
}
