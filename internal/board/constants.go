package board

import "time"

// Physics and table constants for the board.
// Units are table units; the default table is 80 x 48.

const (
	DefaultTableWidth   = 80.0
	DefaultTableDepth   = 48.0
	DefaultPocketRadius = 1.8
	PocketInset         = 2.0

	// Damping is the per-reference-tick velocity multiplier.
	Damping        = 0.985
	ReferenceDelta = 1.0 / 60.0

	// MaxStepDelta bounds a single step so a stalled loop can't tunnel bodies through each other.
	MaxStepDelta = 0.1

	CushionRestitution = 0.7

	// VelocityFloor is the speed below which a body is snapped to rest.
	VelocityFloor = 0.05

	// CommentRadiusGrowth is added to an article's radius per live comment.
	CommentRadiusGrowth  = 0.2
	DefaultArticleRadius = 1.0
	DefaultCommentRadius = 0.5

	AimDeadzone     = 0.05
	DefaultMaxPull  = 18.0
	DefaultMaxForce = 16.0

	// PersistEpsilon is the minimum displacement that makes a settled body worth saving.
	PersistEpsilon = 0.05

	// LockSpeedSquared is the squared speed above which an article keeps the table locked.
	LockSpeedSquared = 0.0005

	DefaultTickRate            = 60
	DefaultSettleFlushInterval = 1200 * time.Millisecond
	DefaultFullFlushInterval   = 3 * time.Second
	NewBallHighlight           = 3 * time.Second

	DefaultRehomeRetries = 3
	MaxContentLength     = 500
)
