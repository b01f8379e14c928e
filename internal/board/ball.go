package board

import "time"

// Kind distinguishes top-level posts from replies.
type Kind string

const (
	KindArticle Kind = "article"
	KindComment Kind = "comment"
)

// Ball is a content-bearing circle on the table: an article or one of its comments.
type Ball struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"type"`
	Content   string     `json:"content"`
	Position  Vec2       `json:"position"`
	Radius    float64    `json:"radius"`
	OwnerID   string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// Comment-only fields.
	ArticleID string `json:"article_id,omitempty"`
	Path      string `json:"path,omitempty"`
	Depth     int    `json:"depth"`
}

func (b Ball) IsArticle() bool { return b.Kind == KindArticle }
func (b Ball) IsComment() bool { return b.Kind == KindComment }

// TargetArticleID is the article a ball belongs to: itself for articles, the parent post for comments.
func (b Ball) TargetArticleID() string {
	if b.Kind == KindArticle || b.ArticleID == "" {
		return b.ID
	}
	return b.ArticleID
}

// PhysicsBody is the in-memory simulation state of an article ball. Never persisted.
type PhysicsBody struct {
	Position  Vec2
	Velocity  Vec2
	Radius    float64
	Ball      Ball
	LastHitBy string
}

// ID returns the backing ball id.
func (b *PhysicsBody) ID() string { return b.Ball.ID }

// Moving reports whether the body is above the lock threshold.
func (b *PhysicsBody) Moving() bool {
	return b.Velocity.MagnitudeSquared() > LockSpeedSquared
}

// RenderBall is one entry of the snapshot handed to the presentation layer.
type RenderBall struct {
	Ball           Ball    `json:"ball"`
	Position       Vec2    `json:"position"`
	Radius         float64 `json:"radius"`
	IsNewlyCreated bool    `json:"is_new"`
}

// PositionUpdate is one row of a batched position write.
type PositionUpdate struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"type"`
	Position Vec2   `json:"position"`
}

// NewComment is the input of Store.CreateComment.
type NewComment struct {
	Content    string
	ArticleID  string
	ParentPath string
	Position   Vec2
	Radius     float64
	OwnerID    string
	// RehomeKey makes a re-homing write idempotent; empty for ordinary replies.
	RehomeKey string
}
