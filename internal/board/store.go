package board

import (
	"context"
	"errors"
)

// ErrUnmigratedComments is returned by DeleteBalls when an article still has
// live comments that were not part of the delete.
var ErrUnmigratedComments = errors.New("article has comments that were not migrated")

// Store is the narrow persistence contract the board depends on.
type Store interface {
	// ListLiveBalls returns every non-deleted article and comment.
	ListLiveBalls(ctx context.Context) ([]Ball, error)
	// CreateComment persists a comment; the store assigns id, path and depth.
	CreateComment(ctx context.Context, c NewComment) (Ball, error)
	// DeleteBalls hard-deletes the given ids. It must refuse with
	// ErrUnmigratedComments to delete an article whose live comments are not
	// all listed.
	DeleteBalls(ctx context.Context, ids []string) error
	// BatchUpdatePositions writes positions only. Unknown ids are ignored.
	BatchUpdatePositions(ctx context.Context, updates []PositionUpdate) error
}

// EventSink receives board events for real-time fan-out. Calls are made from the
// simulation goroutine and must not block.
type EventSink interface {
	BallCreated(ball Ball)
	BallRemoved(id string)
	PositionsUpdated(updates []PositionUpdate)
	TurnEnded()
	// PlayersChanged carries this instance's own players and the merged roster.
	PlayersChanged(local []string, all []Player)
}

type nopSink struct{}

func (nopSink) BallCreated(Ball)                  {}
func (nopSink) BallRemoved(string)                {}
func (nopSink) PositionsUpdated([]PositionUpdate) {}
func (nopSink) TurnEnded()                        {}
func (nopSink) PlayersChanged([]string, []Player) {}
