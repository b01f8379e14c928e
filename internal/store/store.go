package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/cuetable/backend/internal/board"
	"github.com/cuetable/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound       = errors.New("ball not found")
	ErrParentNotFound = errors.New("parent comment not found")
	ErrForbidden      = errors.New("ball belongs to another user")
)

// PostgresStore implements board.Store plus the CRUD the HTTP layer needs.
// Table positions map to the x and z columns; y is the height axis and stays 0.
type PostgresStore struct {
	db    *sqlx.DB
	newID func() string
}

func New(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, newID: uuid.NewString}
}

const articleColumns = `id, content, user_id, position_x, position_y, position_z, radius, is_deleted, deleted_at, created_at, updated_at`
const commentColumns = `id, article_id, content, user_id, path, depth, position_x, position_y, position_z, radius, rehome_key, is_deleted, deleted_at, created_at, updated_at`

// ListLiveBalls returns every live article and every live comment of a live article.
func (s *PostgresStore) ListLiveBalls(ctx context.Context) ([]board.Ball, error) {
	var articles []models.Article
	if err := s.db.SelectContext(ctx, &articles, `SELECT `+articleColumns+` FROM articles WHERE is_deleted = FALSE ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	var comments []models.Comment
	err := s.db.SelectContext(ctx, &comments, `
		SELECT c.id, c.article_id, c.content, c.user_id, c.path, c.depth, c.position_x, c.position_y, c.position_z,
		       c.radius, c.rehome_key, c.is_deleted, c.deleted_at, c.created_at, c.updated_at
		FROM comments c
		JOIN articles a ON a.id = c.article_id
		WHERE c.is_deleted = FALSE AND a.is_deleted = FALSE
		ORDER BY c.article_id, c.path`)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	balls := make([]board.Ball, 0, len(articles)+len(comments))
	for _, a := range articles {
		balls = append(balls, ArticleBall(a))
	}
	for _, c := range comments {
		balls = append(balls, CommentBall(c))
	}
	return balls, nil
}

// CreateComment inserts a comment under in.ParentPath. The article row is locked
// so concurrent replies get distinct paths. A repeated RehomeKey returns the
// comment created the first time.
func (s *PostgresStore) CreateComment(ctx context.Context, in board.NewComment) (board.Ball, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return board.Ball{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if in.RehomeKey != "" {
		existing, err := commentByRehomeKey(ctx, tx, in.RehomeKey)
		if err == nil {
			return CommentBall(existing), nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return board.Ball{}, fmt.Errorf("lookup rehome key: %w", err)
		}
	}

	var articleID string
	err = tx.GetContext(ctx, &articleID, `SELECT id FROM articles WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`, in.ArticleID)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Ball{}, ErrNotFound
	}
	if err != nil {
		return board.Ball{}, fmt.Errorf("lock article: %w", err)
	}

	if in.ParentPath != "" {
		var exists bool
		err = tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM comments WHERE article_id = $1 AND path = $2 AND is_deleted = FALSE)`, in.ArticleID, in.ParentPath)
		if err != nil {
			return board.Ball{}, fmt.Errorf("check parent: %w", err)
		}
		if !exists {
			return board.Ball{}, ErrParentNotFound
		}
	}

	// Soft-deleted siblings still own their segment.
	var siblings []string
	depth := board.DepthFromPath(in.ParentPath)
	if in.ParentPath == "" {
		err = tx.SelectContext(ctx, &siblings, `SELECT path FROM comments WHERE article_id = $1 AND depth = 0`, in.ArticleID)
	} else {
		err = tx.SelectContext(ctx, &siblings, `SELECT path FROM comments WHERE article_id = $1 AND depth = $2 AND path LIKE $3`,
			in.ArticleID, depth+1, in.ParentPath+".%")
	}
	if err != nil {
		return board.Ball{}, fmt.Errorf("count siblings: %w", err)
	}

	path := board.GeneratePath(in.ParentPath, board.SiblingCount(siblings))
	radius := in.Radius
	if radius <= 0 {
		radius = board.DefaultCommentRadius
	}
	ownerID := in.OwnerID
	if ownerID == "" {
		ownerID = "system"
	}

	row := models.Comment{
		ID:        s.newID(),
		ArticleID: in.ArticleID,
		Content:   in.Content,
		UserID:    ownerID,
		Path:      path,
		Depth:     board.DepthFromPath(path),
		PositionX: in.Position.X,
		PositionZ: in.Position.Y,
		Radius:    radius,
		RehomeKey: sql.NullString{String: in.RehomeKey, Valid: in.RehomeKey != ""},
	}

	rows, err := tx.NamedQuery(`
		INSERT INTO comments (id, article_id, content, user_id, path, depth, position_x, position_y, position_z, radius, rehome_key, created_at, updated_at)
		VALUES (:id, :article_id, :content, :user_id, :path, :depth, :position_x, :position_y, :position_z, :radius, :rehome_key, NOW(), NOW())
		ON CONFLICT (rehome_key) WHERE rehome_key IS NOT NULL DO NOTHING
		RETURNING created_at, updated_at`, row)
	if err != nil {
		return board.Ball{}, fmt.Errorf("insert comment: %w", err)
	}
	inserted := false
	if rows.Next() {
		if err := rows.Scan(&row.CreatedAt, &row.UpdatedAt); err != nil {
			rows.Close()
			return board.Ball{}, fmt.Errorf("scan comment: %w", err)
		}
		inserted = true
	}
	rows.Close()

	if !inserted {
		// lost a race on the same rehome key
		existing, err := commentByRehomeKey(ctx, tx, in.RehomeKey)
		if err != nil {
			return board.Ball{}, fmt.Errorf("load rehomed comment: %w", err)
		}
		row = existing
	}

	if err := tx.Commit(); err != nil {
		return board.Ball{}, fmt.Errorf("commit comment: %w", err)
	}
	return CommentBall(row), nil
}

// DeleteBalls hard-deletes comments and articles by id. Articles are locked
// first, so no comment can be added meanwhile, and an article that still has
// live comments outside ids is refused with board.ErrUnmigratedComments.
func (s *PostgresStore) DeleteBalls(ctx context.Context, ids []string) error {
	ids = validIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var articles []string
	if err := tx.SelectContext(ctx, &articles, `SELECT id FROM articles WHERE id = ANY($1) FOR UPDATE`, pq.Array(ids)); err != nil {
		return fmt.Errorf("lock articles: %w", err)
	}
	if len(articles) > 0 {
		var left []string
		err := tx.SelectContext(ctx, &left,
			`SELECT id FROM comments WHERE article_id = ANY($1) AND is_deleted = FALSE AND NOT (id = ANY($2))`,
			pq.Array(articles), pq.Array(ids))
		if err != nil {
			return fmt.Errorf("check comments: %w", err)
		}
		if len(left) > 0 {
			log.Printf("[STORE] refusing to delete %v: %d comments not migrated", articles, len(left))
			return fmt.Errorf("delete articles: %w", board.ErrUnmigratedComments)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete comments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete articles: %w", err)
	}
	return tx.Commit()
}

// BatchUpdatePositions writes all positions in one transaction. Unknown ids
// update nothing.
func (s *PostgresStore) BatchUpdatePositions(ctx context.Context, updates []board.PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, u := range updates {
		if _, err := uuid.Parse(u.ID); err != nil {
			continue
		}
		table := "articles"
		if u.Kind == board.KindComment {
			table = "comments"
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE `+table+` SET position_x = $1, position_z = $2, updated_at = NOW() WHERE id = $3`,
			u.Position.X, u.Position.Y, u.ID)
		if err != nil {
			return fmt.Errorf("update %s position: %w", u.ID, err)
		}
	}
	return tx.Commit()
}

// CreateArticle inserts a new article at the given table position.
func (s *PostgresStore) CreateArticle(ctx context.Context, content, userID string, pos board.Vec2, radius float64) (board.Ball, error) {
	if radius <= 0 {
		radius = board.DefaultArticleRadius
	}
	row := models.Article{
		ID:        s.newID(),
		Content:   content,
		UserID:    userID,
		PositionX: pos.X,
		PositionZ: pos.Y,
		Radius:    radius,
	}

	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO articles (id, content, user_id, position_x, position_y, position_z, radius, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at`,
		row.ID, row.Content, row.UserID, row.PositionX, row.PositionZ, row.Radius,
	).Scan(&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return board.Ball{}, fmt.Errorf("insert article: %w", err)
	}
	return ArticleBall(row), nil
}

// GetBall loads a live article or comment.
func (s *PostgresStore) GetBall(ctx context.Context, id string) (board.Ball, error) {
	if _, err := uuid.Parse(id); err != nil {
		return board.Ball{}, ErrNotFound
	}

	var a models.Article
	err := s.db.GetContext(ctx, &a, `SELECT `+articleColumns+` FROM articles WHERE id = $1 AND is_deleted = FALSE`, id)
	if err == nil {
		return ArticleBall(a), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return board.Ball{}, fmt.Errorf("get article: %w", err)
	}

	var c models.Comment
	err = s.db.GetContext(ctx, &c, `SELECT `+commentColumns+` FROM comments WHERE id = $1 AND is_deleted = FALSE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Ball{}, ErrNotFound
	}
	if err != nil {
		return board.Ball{}, fmt.Errorf("get comment: %w", err)
	}
	return CommentBall(c), nil
}

// Thread returns a live article with its live comments in path order.
func (s *PostgresStore) Thread(ctx context.Context, articleID string) (board.Ball, []board.Ball, error) {
	article, err := s.GetBall(ctx, articleID)
	if err != nil {
		return board.Ball{}, nil, err
	}
	if !article.IsArticle() {
		return board.Ball{}, nil, ErrNotFound
	}

	var rows []models.Comment
	err = s.db.SelectContext(ctx, &rows, `SELECT `+commentColumns+` FROM comments WHERE article_id = $1 AND is_deleted = FALSE ORDER BY path`, articleID)
	if err != nil {
		return board.Ball{}, nil, fmt.Errorf("list thread: %w", err)
	}

	comments := make([]board.Ball, 0, len(rows))
	for _, c := range rows {
		comments = append(comments, CommentBall(c))
	}
	// text order breaks once a level passes 999 siblings
	sort.SliceStable(comments, func(i, j int) bool {
		return board.ComparePaths(comments[i].Path, comments[j].Path) < 0
	})
	return article, comments, nil
}

// SoftDelete marks an article with all its comments, or a comment with its
// descendants, as deleted. Only the owner may delete. It returns the ids that
// left the live set.
func (s *PostgresStore) SoftDelete(ctx context.Context, id, userID string) ([]string, error) {
	ball, err := s.GetBall(ctx, id)
	if err != nil {
		return nil, err
	}
	if ball.OwnerID != userID {
		return nil, ErrForbidden
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var removed []string
	if ball.IsArticle() {
		if _, err := tx.ExecContext(ctx, `UPDATE articles SET is_deleted = TRUE, deleted_at = NOW() WHERE id = $1`, id); err != nil {
			return nil, fmt.Errorf("soft delete article: %w", err)
		}
		removed = append(removed, id)
		var ids []string
		err = tx.SelectContext(ctx, &ids, `
			UPDATE comments SET is_deleted = TRUE, deleted_at = NOW()
			WHERE article_id = $1 AND is_deleted = FALSE
			RETURNING id`, id)
		if err != nil {
			return nil, fmt.Errorf("soft delete comments: %w", err)
		}
		removed = append(removed, ids...)
	} else {
		err = tx.SelectContext(ctx, &removed, `
			UPDATE comments SET is_deleted = TRUE, deleted_at = NOW()
			WHERE article_id = $1 AND is_deleted = FALSE AND (path = $2 OR path LIKE $3)
			RETURNING id`, ball.ArticleID, ball.Path, ball.Path+".%")
		if err != nil {
			return nil, fmt.Errorf("soft delete subtree: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit soft delete: %w", err)
	}
	return removed, nil
}

// Prune hard-deletes soft-deleted rows older than cutoff that no live row
// depends on: articles without live comments, comments without live descendants.
func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM comments c
		WHERE c.is_deleted = TRUE AND c.deleted_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM comments d
			WHERE d.article_id = c.article_id AND d.is_deleted = FALSE AND d.path LIKE c.path || '.%'
		  )`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune comments: %w", err)
	}
	comments, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `
		DELETE FROM articles a
		WHERE a.is_deleted = TRUE AND a.deleted_at < $1
		  AND NOT EXISTS (SELECT 1 FROM comments c WHERE c.article_id = a.id AND c.is_deleted = FALSE)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune articles: %w", err)
	}
	articles, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}

	n := int(comments + articles)
	if n > 0 {
		log.Printf("[PRUNE] removed %d comments and %d articles", comments, articles)
	}
	return n, nil
}

func commentByRehomeKey(ctx context.Context, tx *sqlx.Tx, key string) (models.Comment, error) {
	var c models.Comment
	err := tx.GetContext(ctx, &c, `SELECT `+commentColumns+` FROM comments WHERE rehome_key = $1`, key)
	return c, err
}

// validIDs drops anything that is not a uuid; postgres would reject the whole
// statement otherwise.
func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(strings.TrimSpace(id)); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// ArticleBall converts a row to a board ball.
func ArticleBall(a models.Article) board.Ball {
	b := board.Ball{
		ID:        a.ID,
		Kind:      board.KindArticle,
		Content:   a.Content,
		Position:  board.NewVec2(a.PositionX, a.PositionZ),
		Radius:    a.Radius,
		OwnerID:   a.UserID,
		CreatedAt: a.CreatedAt,
		IsDeleted: a.IsDeleted,
	}
	if a.DeletedAt.Valid {
		t := a.DeletedAt.Time
		b.DeletedAt = &t
	}
	return b
}

// CommentBall converts a row to a board ball.
func CommentBall(c models.Comment) board.Ball {
	b := board.Ball{
		ID:        c.ID,
		Kind:      board.KindComment,
		Content:   c.Content,
		Position:  board.NewVec2(c.PositionX, c.PositionZ),
		Radius:    c.Radius,
		OwnerID:   c.UserID,
		CreatedAt: c.CreatedAt,
		IsDeleted: c.IsDeleted,
		ArticleID: c.ArticleID,
		Path:      c.Path,
		Depth:     c.Depth,
	}
	if c.DeletedAt.Valid {
		t := c.DeletedAt.Time
		b.DeletedAt = &t
	}
	return b
}
