package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// VoteSummary counts the votes on one article.
type VoteSummary struct {
	Up   int `json:"up" db:"up"`
	Down int `json:"down" db:"down"`
}

// Vote records a user's vote on a live article, replacing any earlier vote by
// the same user, and returns the new totals.
func (s *PostgresStore) Vote(ctx context.Context, articleID, userID string, up bool) (VoteSummary, error) {
	if _, err := uuid.Parse(articleID); err != nil {
		return VoteSummary{}, ErrNotFound
	}
	value := "down"
	if up {
		value = "up"
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return VoteSummary{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.GetContext(ctx, &id, `SELECT id FROM articles WHERE id = $1 AND is_deleted = FALSE`, articleID)
	if errors.Is(err, sql.ErrNoRows) {
		return VoteSummary{}, ErrNotFound
	}
	if err != nil {
		return VoteSummary{}, fmt.Errorf("lookup article: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO article_votes (article_id, user_id, value) VALUES ($1, $2, $3)
		ON CONFLICT (article_id, user_id) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		articleID, userID, value)
	if err != nil {
		return VoteSummary{}, fmt.Errorf("upsert vote: %w", err)
	}

	var sum VoteSummary
	err = tx.GetContext(ctx, &sum, `
		SELECT COUNT(*) FILTER (WHERE value = 'up') AS up,
		       COUNT(*) FILTER (WHERE value = 'down') AS down
		FROM article_votes WHERE article_id = $1`, articleID)
	if err != nil {
		return VoteSummary{}, fmt.Errorf("count votes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return VoteSummary{}, fmt.Errorf("commit vote: %w", err)
	}
	return sum, nil
}
