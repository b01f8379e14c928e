package board

import "math"

// CollisionEvent records one resolved overlap.
type CollisionEvent struct {
	BallID   string  `json:"ball_id"`
	TargetID string  `json:"target_id"`
	Speed    float64 `json:"speed"` // closing speed along the normal
}

// PocketEvent is emitted when a body's centre enters a pocket zone. Body is a copy
// taken at pocket time; the live body has already left the registry.
type PocketEvent struct {
	Body     PhysicsBody
	PocketID int
}

// StepResult is everything a single step observed.
type StepResult struct {
	Collisions []CollisionEvent
	Pocketed   []PocketEvent
	// Settled lists bodies that came to rest during this step.
	Settled []string
}

// PhysicsEngine advances the bodies of a registry on a table.
type PhysicsEngine struct {
	Table    *Table
	Registry *Registry
}

// NewPhysicsEngine creates an engine over a table and registry.
func NewPhysicsEngine(table *Table, registry *Registry) *PhysicsEngine {
	return &PhysicsEngine{
		Table:    table,
		Registry: registry,
	}
}

// Step advances the simulation by delta seconds: collisions for every pair first,
// then integration, cushions, the velocity floor and pockets for each body.
func (pe *PhysicsEngine) Step(delta float64) StepResult {
	if delta < 0 || math.IsNaN(delta) {
		delta = 0
	}
	if delta > MaxStepDelta {
		delta = MaxStepDelta
	}

	bodies := pe.Registry.All()
	result := StepResult{
		Collisions: pe.resolveCollisions(bodies),
	}

	damping := math.Pow(Damping, delta/ReferenceDelta)

	for _, body := range bodies {
		wasMoving := !body.Velocity.IsZero()

		pe.integrate(body, delta, damping)
		pe.reflect(body)
		applyVelocityFloor(body)

		if pocket, ok := pe.Table.PocketAt(body.Position); ok {
			result.Pocketed = append(result.Pocketed, PocketEvent{
				Body:     *body,
				PocketID: pocket.ID,
			})
			pe.Registry.Remove(body.ID())
			continue
		}

		pe.Registry.SyncBallPosition(body)
		if wasMoving && body.Velocity.IsZero() {
			result.Settled = append(result.Settled, body.ID())
		}
	}

	return result
}

// resolveCollisions separates every overlapping pair and exchanges the normal
// component of their relative velocity. All bodies have mass 1.
func (pe *PhysicsEngine) resolveCollisions(bodies []*PhysicsBody) []CollisionEvent {
	var events []CollisionEvent

	for i := 0; i < len(bodies); i++ {
		for j := i + 1; j < len(bodies); j++ {
			a, b := bodies[i], bodies[j]
			if ev, ok := resolvePair(a, b); ok {
				events = append(events, ev)
			}
		}
	}

	return events
}

// resolvePair handles a single pair. Coincident centres (d == 0) have no normal and
// are left alone.
func resolvePair(a, b *PhysicsBody) (CollisionEvent, bool) {
	delta := a.Position.Minus(b.Position)
	dist := delta.Magnitude()
	minDist := a.Radius + b.Radius

	if dist <= 0 || dist >= minDist {
		return CollisionEvent{}, false
	}

	n := delta.Times(1 / dist)
	overlap := minDist - dist
	push := n.Times(overlap / 2)
	a.Position = a.Position.Plus(push)
	b.Position = b.Position.Minus(push)

	speed := a.Velocity.Minus(b.Velocity).Dot(n)
	if speed < 0 {
		// equal masses: impulse 2*speed/2
		impulse := n.Times(speed)
		a.Velocity = a.Velocity.Minus(impulse)
		b.Velocity = b.Velocity.Plus(impulse)
	}

	a.LastHitBy = b.ID()
	b.LastHitBy = a.ID()

	return CollisionEvent{
		BallID:   a.ID(),
		TargetID: b.ID(),
		Speed:    math.Abs(speed),
	}, true
}

func (pe *PhysicsEngine) integrate(body *PhysicsBody, delta, damping float64) {
	if body.Velocity.IsZero() {
		return
	}
	body.Position = body.Position.Plus(body.Velocity.Times(delta))
	body.Velocity = body.Velocity.Times(damping)
}

// reflect clamps a body inside the cushions and bounces the offending axis.
func (pe *PhysicsEngine) reflect(body *PhysicsBody) {
	lx, ly := pe.Table.Limits(body.Radius)

	if body.Position.X > lx {
		body.Position.X = lx
		body.Velocity.X *= -CushionRestitution
	} else if body.Position.X < -lx {
		body.Position.X = -lx
		body.Velocity.X *= -CushionRestitution
	}

	if body.Position.Y > ly {
		body.Position.Y = ly
		body.Velocity.Y *= -CushionRestitution
	} else if body.Position.Y < -ly {
		body.Position.Y = -ly
		body.Velocity.Y *= -CushionRestitution
	}
}

func applyVelocityFloor(body *PhysicsBody) {
	if body.Velocity.Magnitude() < VelocityFloor {
		body.Velocity = Vec2{}
	}
}

// AllStopped returns true if no body is above the table lock threshold.
func (pe *PhysicsEngine) AllStopped() bool {
	for _, b := range pe.Registry.All() {
		if b.Moving() {
			return false
		}
	}
	return true
}
