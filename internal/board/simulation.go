package board

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CommandType names an input consumed by the simulation loop.
type CommandType string

const (
	CommandBeginAim       CommandType = "begin_aim"
	CommandUpdateAim      CommandType = "update_aim"
	CommandReleaseAim     CommandType = "release_aim"
	CommandCancelAim      CommandType = "cancel_aim"
	CommandUpsertBall     CommandType = "upsert_ball"
	CommandRemoveBall     CommandType = "remove_ball"
	CommandRemotePosition CommandType = "remote_position"
	CommandPlayerJoined   CommandType = "player_joined"
	CommandPlayerLeft     CommandType = "player_left"
	CommandRemotePlayers  CommandType = "remote_players"

	commandRehomeDone  CommandType = "rehome_done"
	commandTurnFlushed CommandType = "turn_flushed"
)

// Command is queued from any goroutine and applied at the start of the next tick.
type Command struct {
	Type    CommandType
	ActorID string
	BallID  string
	Pointer Vec2
	Ball    Ball
	// Announce emits BallCreated/BallRemoved for the change.
	Announce bool
	// Highlight marks a merged ball as newly created.
	Highlight bool
	// Origin and Players carry another instance's roster.
	Origin  string
	Players []string
	Reply   chan<- error

	rehome *TransformResult
}

// Config configures a Simulation.
type Config struct {
	Table               *Table
	TickRate            int
	BroadcastEvery      int // ticks between position broadcasts while moving
	Aim                 AimConfig
	Policy              MissingAttributorPolicy
	RehomeRetries       int
	RehomeBackoff       time.Duration
	SettleFlushInterval time.Duration
	FullFlushInterval   time.Duration
	MaxCommandsPerActor int
	PresenceTTL         time.Duration
	Logger              *log.Logger
}

// DefaultConfig returns the standard board settings.
func DefaultConfig() Config {
	return Config{
		Table:               NewStandardTable(),
		TickRate:            DefaultTickRate,
		BroadcastEvery:      3,
		Aim:                 DefaultAimConfig(),
		Policy:              PolicyDrop,
		RehomeRetries:       DefaultRehomeRetries,
		RehomeBackoff:       200 * time.Millisecond,
		SettleFlushInterval: DefaultSettleFlushInterval,
		FullFlushInterval:   DefaultFullFlushInterval,
		MaxCommandsPerActor: 32,
		PresenceTTL:         DefaultPresenceTTL,
	}
}

// BoardState is the read-only view published after every tick.
type BoardState struct {
	Tick    uint64       `json:"tick"`
	Locked  bool         `json:"locked"`
	Balls   []RenderBall `json:"balls"`
	Aims    []AimState   `json:"aims"`
	Players []Player     `json:"players"`
	// TurnHolder struck the shot that holds the lock on this instance.
	TurnHolder string `json:"turn_holder,omitempty"`
}

// Simulation owns the registry and runs every mutation of it on one goroutine.
// Other goroutines talk to it through Enqueue and read it through Snapshot.
type Simulation struct {
	cfg         Config
	table       *Table
	registry    *Registry
	engine      *PhysicsEngine
	aim         *AimController
	transformer *Transformer
	batcher     *Batcher
	store       Store
	sink        EventSink
	logger      *log.Logger
	now         func() time.Time

	commandsMu sync.Mutex
	commands   []Command
	perActor   map[string]int

	stateMu   sync.RWMutex
	state     BoardState
	positions []PositionUpdate

	// loop-owned
	ctx        context.Context
	tick       uint64
	locked     bool
	flushing   bool
	wasMoving  bool
	turnHolder string
	roster     *Roster
	newBalls   map[string]time.Time
	rehomes    sync.WaitGroup
	// articles receiving copies from a running re-home, and pockets of those
	// articles waiting for it to land
	rehomeTargets map[string]int
	deferred      []deferredPocket
}

type deferredPocket struct {
	event      PocketEvent
	attributor *Ball
}

// NewSimulation wires a board over a store. sink may be nil.
func NewSimulation(store Store, sink EventSink, cfg Config) *Simulation {
	def := DefaultConfig()
	if cfg.Table == nil {
		cfg.Table = def.Table
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = def.TickRate
	}
	if cfg.BroadcastEvery <= 0 {
		cfg.BroadcastEvery = 1
	}
	if cfg.MaxCommandsPerActor <= 0 {
		cfg.MaxCommandsPerActor = def.MaxCommandsPerActor
	}
	if sink == nil {
		sink = nopSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	registry := NewRegistry()
	s := &Simulation{
		cfg:      cfg,
		table:    cfg.Table,
		registry: registry,
		engine:   NewPhysicsEngine(cfg.Table, registry),
		aim:      NewAimController(cfg.Aim),
		store:    store,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		perActor: make(map[string]int),
		ctx:      context.Background(),
		newBalls: make(map[string]time.Time),
		roster:   NewRoster(cfg.PresenceTTL),

		rehomeTargets: make(map[string]int),
	}
	s.transformer = NewTransformer(store, cfg.RehomeRetries, cfg.RehomeBackoff, logger)
	s.batcher = NewBatcher(store, s.articlePositions, BatcherConfig{
		SettleFlushInterval: cfg.SettleFlushInterval,
		FullFlushInterval:   cfg.FullFlushInterval,
		Logger:              logger,
	})
	return s
}

// Table returns the board geometry.
func (s *Simulation) Table() *Table { return s.table }

// Load reads the live balls from the store and queues them for the next tick.
func (s *Simulation) Load(ctx context.Context) (int, error) {
	balls, err := s.store.ListLiveBalls(ctx)
	if err != nil {
		return 0, fmt.Errorf("load balls: %w", err)
	}
	for _, b := range balls {
		s.enqueueInternal(Command{Type: CommandUpsertBall, Ball: b})
	}
	s.logger.Printf("[BOARD] loaded %d balls", len(balls))
	return len(balls), nil
}

// Run drives the fixed-rate tick loop and the batcher until ctx is cancelled.
func (s *Simulation) Run(ctx context.Context) {
	s.ctx = ctx

	batcherDone := make(chan struct{})
	go func() {
		defer close(batcherDone)
		s.batcher.Run(ctx)
	}()

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.TickRate))
	defer ticker.Stop()

	budget := 1.0 / float64(s.cfg.TickRate)
	last := s.now()
	s.logger.Printf("[BOARD] simulation running at %d Hz", s.cfg.TickRate)

	for {
		select {
		case <-ctx.Done():
			s.rehomes.Wait()
			<-batcherDone
			s.logger.Println("[BOARD] simulation stopped")
			return
		case <-ticker.C:
			current := s.now()
			dt := current.Sub(last).Seconds()
			if dt <= 0 {
				dt = budget
			}
			last = current
			s.Tick(dt)
		}
	}
}

// Tick applies queued commands, advances physics by delta seconds, dispatches
// pocket events and publishes the new state.
func (s *Simulation) Tick(delta float64) StepResult {
	s.tick++

	for _, cmd := range s.drainCommands() {
		s.apply(cmd)
	}

	res := s.engine.Step(delta)

	for _, ev := range res.Pocketed {
		s.handlePocket(ev)
	}

	for _, id := range res.Settled {
		if body, ok := s.registry.Get(id); ok {
			s.batcher.Settled(positionOf(body))
		}
	}

	moving := !s.engine.AllStopped()
	if moving {
		s.locked = true
	}
	s.publish(moving)
	if !moving {
		s.endTurn()
	}
	s.wasMoving = moving

	return res
}

// Enqueue adds a command for the next tick. Commands carrying an actor id are
// limited per tick.
func (s *Simulation) Enqueue(cmd Command) error {
	s.commandsMu.Lock()
	defer s.commandsMu.Unlock()

	if cmd.ActorID != "" {
		if s.perActor[cmd.ActorID] >= s.cfg.MaxCommandsPerActor {
			return ErrQueueFull
		}
		s.perActor[cmd.ActorID]++
	}
	s.commands = append(s.commands, cmd)
	return nil
}

func (s *Simulation) enqueueInternal(cmd Command) {
	s.commandsMu.Lock()
	s.commands = append(s.commands, cmd)
	s.commandsMu.Unlock()
}

func (s *Simulation) drainCommands() []Command {
	s.commandsMu.Lock()
	cmds := s.commands
	s.commands = nil
	if len(s.perActor) > 0 {
		s.perActor = make(map[string]int)
	}
	s.commandsMu.Unlock()
	return cmds
}

func (s *Simulation) submit(cmd Command) <-chan error {
	reply := make(chan error, 1)
	cmd.Reply = reply
	if err := s.Enqueue(cmd); err != nil {
		reply <- err
	}
	return reply
}

// BeginAim starts a gesture on ballID. The channel yields the outcome once the
// command ran.
func (s *Simulation) BeginAim(playerID, ballID string, origin Vec2) <-chan error {
	return s.submit(Command{Type: CommandBeginAim, ActorID: playerID, BallID: ballID, Pointer: origin})
}

func (s *Simulation) UpdateAim(playerID string, pointer Vec2) <-chan error {
	return s.submit(Command{Type: CommandUpdateAim, ActorID: playerID, Pointer: pointer})
}

func (s *Simulation) ReleaseAim(playerID string, pointer Vec2) <-chan error {
	return s.submit(Command{Type: CommandReleaseAim, ActorID: playerID, Pointer: pointer})
}

func (s *Simulation) CancelAim(playerID string) <-chan error {
	return s.submit(Command{Type: CommandCancelAim, ActorID: playerID})
}

// AddBall merges a ball created on this instance and announces it.
func (s *Simulation) AddBall(ball Ball) {
	s.enqueueInternal(Command{Type: CommandUpsertBall, Ball: ball, Announce: true, Highlight: true})
}

// RemoveBall drops a ball deleted on this instance and announces it.
func (s *Simulation) RemoveBall(id string) {
	s.enqueueInternal(Command{Type: CommandRemoveBall, BallID: id, Announce: true})
}

// MergeRemoteBall merges a ball another instance already announced.
func (s *Simulation) MergeRemoteBall(ball Ball) {
	s.enqueueInternal(Command{Type: CommandUpsertBall, Ball: ball, Highlight: true})
}

// MergeRemoteRemoval drops a ball another instance removed.
func (s *Simulation) MergeRemoteRemoval(id string) {
	s.enqueueInternal(Command{Type: CommandRemoveBall, BallID: id})
}

// ApplyRemotePosition moves a body to a position observed elsewhere and stops it.
func (s *Simulation) ApplyRemotePosition(id string, p Vec2) {
	s.enqueueInternal(Command{Type: CommandRemotePosition, BallID: id, Pointer: p})
}

// PlayerJoined adds a signed-in player connected to this instance.
func (s *Simulation) PlayerJoined(playerID string) {
	s.enqueueInternal(Command{Type: CommandPlayerJoined, ActorID: playerID})
}

func (s *Simulation) PlayerLeft(playerID string) {
	s.enqueueInternal(Command{Type: CommandPlayerLeft, ActorID: playerID})
}

// MergeRemotePlayers replaces the roster heard from another instance.
func (s *Simulation) MergeRemotePlayers(origin string, playerIDs []string) {
	s.enqueueInternal(Command{Type: CommandRemotePlayers, Origin: origin, Players: playerIDs})
}

// Snapshot returns the render list published by the last tick.
func (s *Simulation) Snapshot() []RenderBall {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make([]RenderBall, len(s.state.Balls))
	copy(out, s.state.Balls)
	return out
}

// State returns the full published view.
func (s *Simulation) State() BoardState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	st := s.state
	st.Balls = append([]RenderBall(nil), s.state.Balls...)
	st.Aims = append([]AimState(nil), s.state.Aims...)
	st.Players = append([]Player(nil), s.state.Players...)
	return st
}

// WaitRehomes blocks until every started pocket transformation has reported back.
func (s *Simulation) WaitRehomes() {
	s.rehomes.Wait()
}

func (s *Simulation) apply(cmd Command) {
	var err error

	switch cmd.Type {
	case CommandBeginAim:
		err = s.aim.Begin(s.registry, s.locked, cmd.ActorID, cmd.BallID, cmd.Pointer)
	case CommandUpdateAim:
		err = s.aim.Update(s.registry, cmd.ActorID, cmd.Pointer)
	case CommandReleaseAim:
		var impulse Vec2
		impulse, err = s.aim.Release(s.registry, s.locked, cmd.ActorID, cmd.Pointer)
		if err == nil {
			s.locked = true
			s.turnHolder = cmd.ActorID
			s.aim.CancelAll()
			s.logger.Printf("[BOARD] %s struck with impulse (%.2f, %.2f)", cmd.ActorID, impulse.X, impulse.Y)
		}
	case CommandCancelAim:
		if !s.aim.Cancel(cmd.ActorID) {
			err = ErrNoAim
		}
	case CommandUpsertBall:
		s.upsert(cmd.Ball, cmd.Announce, cmd.Highlight)
	case CommandRemoveBall:
		s.removeBall(cmd.BallID, cmd.Announce)
	case CommandRemotePosition:
		if s.registry.SetPosition(cmd.BallID, cmd.Pointer) {
			s.batcher.Remember(cmd.BallID, cmd.Pointer)
		}
	case CommandPlayerJoined:
		if s.roster.Join(cmd.ActorID) {
			s.playersChanged()
		}
	case CommandPlayerLeft:
		if s.roster.Leave(cmd.ActorID) {
			s.playersChanged()
		}
	case CommandRemotePlayers:
		if s.roster.Merge(cmd.Origin, cmd.Players, s.now()) {
			s.playersChanged()
		}
	case commandRehomeDone:
		s.applyRehome(cmd.rehome)
	case commandTurnFlushed:
		s.flushing = false
		s.locked = false
		s.turnHolder = ""
		s.sink.TurnEnded()
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}

	if cmd.Reply != nil {
		select {
		case cmd.Reply <- err:
		default:
		}
	}
}

func (s *Simulation) playersChanged() {
	s.sink.PlayersChanged(s.roster.Local(), s.roster.Players())
}

func (s *Simulation) upsert(ball Ball, announce, highlight bool) {
	if ball.IsDeleted {
		s.removeBall(ball.ID, announce)
		return
	}
	s.registry.Upsert(ball)
	if ball.IsArticle() {
		s.batcher.Remember(ball.ID, ball.Position)
	}
	if highlight {
		s.newBalls[ball.ID] = s.now()
	}
	if announce {
		s.sink.BallCreated(ball)
	}
}

func (s *Simulation) removeBall(id string, announce bool) {
	if ball, ok := s.registry.Ball(id); ok && ball.IsArticle() {
		for _, c := range s.registry.Comments(id) {
			s.registry.Remove(c.ID)
			delete(s.newBalls, c.ID)
		}
	}
	s.registry.Remove(id)
	s.aim.DropBall(id)
	s.batcher.Forget(id)
	delete(s.newBalls, id)
	if announce {
		s.sink.BallRemoved(id)
	}
}

// handlePocket captures what the transformer needs and starts it on its own
// goroutine. The pocketed body is already out of the registry.
func (s *Simulation) handlePocket(ev PocketEvent) {
	ball := ev.Body.Ball
	s.aim.DropBall(ball.ID)
	delete(s.newBalls, ball.ID)

	var attributor *Ball
	if ev.Body.LastHitBy != "" {
		if b, ok := s.registry.Ball(ev.Body.LastHitBy); ok {
			attributor = &b
		}
	}

	if attributor == nil && s.cfg.Policy == PolicyBounce {
		s.restore(ev)
		s.logger.Printf("[POCKET] %s pocketed with no attributor, bounced back", ball.ID)
		return
	}

	// Copies still on their way into this article would be missed by its subtree.
	if s.rehomeTargets[ball.ID] > 0 {
		s.deferred = append(s.deferred, deferredPocket{event: ev, attributor: attributor})
		s.logger.Printf("[POCKET] %s pocketed while receiving a rehome, deferred", ball.ID)
		return
	}

	s.startRehome(ev, attributor)
}

func (s *Simulation) startRehome(ev PocketEvent, attributor *Ball) {
	ball := ev.Body.Ball
	job := PocketJob{
		EventID:    uuid.NewString(),
		Event:      ev,
		Attributor: attributor,
		Subtree:    s.registry.Subtree(ball),
	}
	if attributor != nil {
		s.rehomeTargets[TargetArticle(*attributor)]++
	}

	s.logger.Printf("[POCKET] %s entered pocket %d (event %s, hit by %q, %d comments)", ball.ID, ev.PocketID, job.EventID, ev.Body.LastHitBy, len(job.Subtree))

	// Not cancellable once started.
	ctx := context.WithoutCancel(s.ctx)
	s.rehomes.Add(1)
	go s.runTransform(ctx, job)
}

// resumeDeferred starts the pockets whose article no longer receives copies.
func (s *Simulation) resumeDeferred() {
	if len(s.deferred) == 0 {
		return
	}
	waiting := s.deferred[:0]
	var ready []deferredPocket
	for _, d := range s.deferred {
		if s.rehomeTargets[d.event.Body.ID()] > 0 {
			waiting = append(waiting, d)
		} else {
			ready = append(ready, d)
		}
	}
	s.deferred = waiting
	for _, d := range ready {
		s.startRehome(d.event, d.attributor)
	}
}

func (s *Simulation) runTransform(ctx context.Context, job PocketJob) {
	defer s.rehomes.Done()

	res := TransformResult{Job: job}
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("rehome %s panicked: %v", job.Event.Body.ID(), r)
		}
		s.enqueueInternal(Command{Type: commandRehomeDone, rehome: &res})
	}()

	res = s.transformer.Transform(ctx, job)
}

func (s *Simulation) applyRehome(res *TransformResult) {
	if res == nil {
		return
	}
	pocketed := res.Job.Event.Body.Ball
	if res.Job.Attributor != nil {
		target := TargetArticle(*res.Job.Attributor)
		if n := s.rehomeTargets[target]; n > 1 {
			s.rehomeTargets[target] = n - 1
		} else {
			delete(s.rehomeTargets, target)
		}
	}
	defer s.resumeDeferred()

	// Copies that survived a failed rollback exist in the store.
	for _, c := range res.Created {
		s.upsert(c, true, true)
	}

	if res.Err != nil {
		s.logger.Printf("[POCKET] rehome of %s failed: %v", pocketed.ID, res.Err)
		if pocketed.IsArticle() {
			s.restore(res.Job.Event)
		}
		return
	}

	for _, id := range res.Removed {
		s.removeBall(id, true)
	}

	target := "-"
	if res.Job.Attributor != nil {
		target = TargetArticle(*res.Job.Attributor)
	}
	s.logger.Printf("[POCKET] %s rehomed: %d created under %s, %d removed", pocketed.ID, len(res.Created), target, len(res.Removed))
}

// restore puts a pocketed article back just outside its pocket, at rest.
func (s *Simulation) restore(ev PocketEvent) {
	ball := ev.Body.Ball
	pocket := Pocket{Position: ev.Body.Position}
	if ev.PocketID >= 0 && ev.PocketID < len(s.table.Pockets) {
		pocket = s.table.Pockets[ev.PocketID]
	}
	ball.Position = s.table.EscapePocket(pocket, ev.Body.Radius)
	s.registry.Upsert(ball)
}

// endTurn runs once the table is still. A locked table requests a flush of the
// positions just published; the lock is released once it completes.
func (s *Simulation) endTurn() {
	if !s.locked || s.flushing {
		return
	}
	s.flushing = true
	s.batcher.TurnEnded(s.articlePositions(), func() {
		s.enqueueInternal(Command{Type: commandTurnFlushed})
	})
}

func (s *Simulation) publish(moving bool) {
	now := s.now()
	for id, at := range s.newBalls {
		if now.Sub(at) >= NewBallHighlight {
			delete(s.newBalls, id)
		}
	}
	if s.roster.Expire(now) {
		s.playersChanged()
	}

	bodies := s.registry.All()
	balls := make([]RenderBall, 0, len(bodies))
	positions := make([]PositionUpdate, 0, len(bodies))
	var changed []PositionUpdate

	for _, body := range bodies {
		_, isNew := s.newBalls[body.ID()]
		balls = append(balls, RenderBall{
			Ball:           body.Ball,
			Position:       body.Position,
			Radius:         body.Radius,
			IsNewlyCreated: isNew,
		})
		u := positionOf(body)
		positions = append(positions, u)
		if !body.Velocity.IsZero() {
			changed = append(changed, u)
		}
	}

	s.stateMu.Lock()
	s.state = BoardState{
		Tick:       s.tick,
		Locked:     s.locked,
		Balls:      balls,
		Aims:       s.aim.Aims(s.registry),
		Players:    s.roster.Players(),
		TurnHolder: s.turnHolder,
	}
	s.positions = positions
	s.stateMu.Unlock()

	switch {
	case moving && s.tick%uint64(s.cfg.BroadcastEvery) == 0 && len(changed) > 0:
		s.sink.PositionsUpdated(changed)
	case !moving && s.wasMoving:
		s.sink.PositionsUpdated(positions)
	}
}

// articlePositions feeds the batcher's full flush from the published state.
func (s *Simulation) articlePositions() []PositionUpdate {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return append([]PositionUpdate(nil), s.positions...)
}

func positionOf(body *PhysicsBody) PositionUpdate {
	return PositionUpdate{
		ID:       body.ID(),
		Kind:     body.Ball.Kind,
		Position: body.Position,
	}
}
