package board

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// MissingAttributorPolicy decides what happens to a pocketed ball nobody struck.
type MissingAttributorPolicy int

const (
	// PolicyDrop removes the ball and its comments without re-homing anything.
	PolicyDrop MissingAttributorPolicy = iota
	// PolicyBounce cancels the pocketing and puts the ball back on the table.
	PolicyBounce
)

func (p MissingAttributorPolicy) String() string {
	switch p {
	case PolicyBounce:
		return "bounce"
	default:
		return "drop"
	}
}

// ParsePolicy accepts "drop" or "bounce".
func ParsePolicy(s string) (MissingAttributorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "drop":
		return PolicyDrop, nil
	case "bounce":
		return PolicyBounce, nil
	}
	return PolicyDrop, fmt.Errorf("unknown missing attributor policy %q", s)
}

var ErrRehomeAborted = errors.New("rehome aborted")

// RehomeError reports a failed pocket transformation. Created holds the copies
// that were persisted before the failure. When RolledBack is set they were
// deleted again and the store is back to its state before the pocket.
type RehomeError struct {
	PocketedID string
	Stage      string // "create" or "delete"
	Failed     Ball
	Created    []Ball
	RolledBack bool
	Err        error
}

func (e *RehomeError) Error() string {
	state := "kept"
	if e.RolledBack {
		state = "rolled back"
	}
	if e.Stage == "delete" {
		return fmt.Sprintf("rehome %s: delete originals after %d creates (%s): %v", e.PocketedID, len(e.Created), state, e.Err)
	}
	return fmt.Sprintf("rehome %s: create copy of %s after %d creates (%s): %v", e.PocketedID, e.Failed.ID, len(e.Created), state, e.Err)
}

func (e *RehomeError) Unwrap() error { return e.Err }

// PocketJob is everything the transformer needs, captured on the simulation
// goroutine at pocket time.
type PocketJob struct {
	EventID    string
	Event      PocketEvent
	Attributor *Ball
	Subtree    []Ball
}

// TransformResult is handed back to the simulation loop. Created lists the
// copies that exist in the store, also after a failure that could not be
// rolled back.
type TransformResult struct {
	Job     PocketJob
	Created []Ball
	Removed []string
	Err     error
}

// RehomeKey identifies the copy of node made under target. It is the same for
// every attempt, so a repeated migration finds the copies of an earlier one.
func RehomeKey(target, nodeID string) string {
	return target + ":" + nodeID
}

// Transformer re-homes pocketed content through the store.
type Transformer struct {
	store   Store
	retries int
	backoff time.Duration
	logger  *log.Logger
}

// NewTransformer creates a transformer. retries < 0 is treated as 0.
func NewTransformer(store Store, retries int, backoff time.Duration, logger *log.Logger) *Transformer {
	if retries < 0 {
		retries = 0
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Transformer{
		store:   store,
		retries: retries,
		backoff: backoff,
		logger:  logger,
	}
}

// TargetArticle resolves the article that receives re-homed comments.
func TargetArticle(attributor Ball) string {
	return attributor.TargetArticleID()
}

// Transform runs the pipeline for one pocket event. Comments are created in path
// order so every parent exists before its children; originals are deleted only
// once every copy is persisted. On failure the copies are deleted again. A nil
// attributor drops the content.
func (t *Transformer) Transform(ctx context.Context, job PocketJob) TransformResult {
	pocketed := job.Event.Body.Ball
	result := TransformResult{Job: job}

	originals := make([]string, 0, len(job.Subtree)+1)
	for _, c := range job.Subtree {
		originals = append(originals, c.ID)
	}
	if pocketed.IsArticle() || !containsID(job.Subtree, pocketed.ID) {
		originals = append(originals, pocketed.ID)
	}

	if job.Attributor != nil {
		created, err := t.rehome(ctx, job)
		result.Created = created
		if err != nil {
			result.Created = t.rollback(ctx, err, created)
			result.Err = err
			return result
		}
	} else {
		t.logger.Printf("[POCKET] %s pocketed with no attributor, dropping %d comments", pocketed.ID, len(job.Subtree))
	}

	err := t.withRetry(ctx, func() error {
		return t.store.DeleteBalls(ctx, originals)
	})
	if err != nil {
		rerr := &RehomeError{
			PocketedID: pocketed.ID,
			Stage:      "delete",
			Created:    result.Created,
			Err:        err,
		}
		result.Created = t.rollback(ctx, rerr, result.Created)
		result.Err = rerr
		return result
	}

	result.Removed = originals
	return result
}

// rollback deletes the copies of a failed migration and returns the ones still
// stored.
func (t *Transformer) rollback(ctx context.Context, err error, created []Ball) []Ball {
	var rerr *RehomeError
	errors.As(err, &rerr)
	if len(created) == 0 {
		if rerr != nil {
			rerr.RolledBack = true
		}
		return nil
	}

	ids := make([]string, len(created))
	for i, c := range created {
		ids[i] = c.ID
	}
	if derr := t.withRetry(ctx, func() error {
		return t.store.DeleteBalls(ctx, ids)
	}); derr != nil {
		t.logger.Printf("[POCKET] could not roll back %d copies: %v", len(ids), derr)
		return created
	}
	if rerr != nil {
		rerr.RolledBack = true
	}
	return nil
}

func (t *Transformer) rehome(ctx context.Context, job PocketJob) ([]Ball, error) {
	pocketed := job.Event.Body.Ball
	attributor := *job.Attributor
	target := TargetArticle(attributor)

	// old path -> new path, filled as ancestors are created
	pathMap := make(map[string]string, len(job.Subtree))
	created := make([]Ball, 0, len(job.Subtree))

	for _, node := range job.Subtree {
		parent := ""
		if !(pocketed.IsComment() && node.ID == pocketed.ID) {
			if np, ok := pathMap[ParentPath(node.Path)]; ok {
				parent = np
			}
		}

		in := NewComment{
			Content:    node.Content,
			ArticleID:  target,
			ParentPath: parent,
			Position:   node.Position,
			Radius:     node.Radius,
			OwnerID:    attributor.OwnerID,
			RehomeKey:  RehomeKey(target, node.ID),
		}

		var out Ball
		err := t.withRetry(ctx, func() error {
			var err error
			out, err = t.store.CreateComment(ctx, in)
			return err
		})
		if err != nil {
			return created, &RehomeError{
				PocketedID: pocketed.ID,
				Stage:      "create",
				Failed:     node,
				Created:    created,
				Err:        err,
			}
		}

		if node.Path != "" {
			pathMap[node.Path] = out.Path
		}
		created = append(created, out)
	}

	return created, nil
}

func (t *Transformer) withRetry(ctx context.Context, fn func() error) error {
	var err error
	wait := t.backoff
	for attempt := 0; attempt <= t.retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == t.retries || errors.Is(err, ErrUnmigratedComments) {
			break
		}
		t.logger.Printf("[POCKET] attempt %d failed: %v", attempt+1, err)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrRehomeAborted, err)
			case <-time.After(wait):
			}
			wait *= 2
		}
	}
	return err
}

func containsID(balls []Ball, id string) bool {
	for _, b := range balls {
		if b.ID == id {
			return true
		}
	}
	return false
}
