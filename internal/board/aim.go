package board

import "errors"

var (
	ErrTableLocked    = errors.New("table is not settled")
	ErrNotYourBall    = errors.New("ball belongs to another player")
	ErrUnknownBall    = errors.New("ball not on the table")
	ErrNotStrikeable  = errors.New("only articles can be struck")
	ErrAimInProgress  = errors.New("aim already in progress")
	ErrNoAim          = errors.New("no aim in progress")
	ErrBelowDeadzone  = errors.New("drag too short")
	ErrQueueFull      = errors.New("too many pending commands")
	ErrSimulationDown = errors.New("simulation stopped")
)

// AimPhase is the state of one player's gesture.
type AimPhase int

const (
	AimIdle AimPhase = iota
	AimAiming
	AimCharging
)

func (p AimPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p AimPhase) String() string {
	switch p {
	case AimAiming:
		return "aiming"
	case AimCharging:
		return "charging"
	default:
		return "idle"
	}
}

// AimState is a gesture between begin and release. Never persisted.
type AimState struct {
	BallID   string   `json:"ball_id"`
	PlayerID string   `json:"player_id"`
	Origin   Vec2     `json:"origin"`
	Pointer  Vec2     `json:"pointer"`
	Phase    AimPhase `json:"phase"`
	Power    float64  `json:"power"`
}

// AimConfig tunes the cue.
type AimConfig struct {
	MaxPull          float64
	MaxForce         float64
	Deadzone         float64
	EnforceOwnership bool
}

// DefaultAimConfig matches the standard board.
func DefaultAimConfig() AimConfig {
	return AimConfig{
		MaxPull:          DefaultMaxPull,
		MaxForce:         DefaultMaxForce,
		Deadzone:         AimDeadzone,
		EnforceOwnership: true,
	}
}

// AimController tracks one aim per player. It is owned by the simulation loop.
type AimController struct {
	cfg  AimConfig
	aims map[string]*AimState
}

func NewAimController(cfg AimConfig) *AimController {
	if cfg.MaxPull <= 0 {
		cfg.MaxPull = DefaultMaxPull
	}
	if cfg.MaxForce <= 0 {
		cfg.MaxForce = DefaultMaxForce
	}
	if cfg.Deadzone < 0 {
		cfg.Deadzone = AimDeadzone
	}
	return &AimController{
		cfg:  cfg,
		aims: make(map[string]*AimState),
	}
}

// StrikeImpulse converts a drag into an impulse. The second result is false when
// the drag is inside the deadzone.
func (ac *AimController) StrikeImpulse(bodyPos, pointer Vec2) (Vec2, bool) {
	drag := bodyPos.Minus(pointer)
	length := drag.Magnitude()
	if length <= ac.cfg.Deadzone {
		return Vec2{}, false
	}
	strength := ac.pull(length) * ac.cfg.MaxForce
	return drag.Times(1 / length).Times(strength), true
}

// pull returns the drag as a fraction of MaxPull, capped at 1.
func (ac *AimController) pull(length float64) float64 {
	if length > ac.cfg.MaxPull {
		length = ac.cfg.MaxPull
	}
	return length / ac.cfg.MaxPull
}

// Begin starts aiming at ballID.
func (ac *AimController) Begin(reg *Registry, locked bool, playerID, ballID string, origin Vec2) error {
	if locked {
		return ErrTableLocked
	}
	if _, ok := ac.aims[playerID]; ok {
		return ErrAimInProgress
	}
	body, err := ac.strikeable(reg, playerID, ballID)
	if err != nil {
		return err
	}
	ac.aims[playerID] = &AimState{
		BallID:   body.ID(),
		PlayerID: playerID,
		Origin:   origin,
		Pointer:  origin,
		Phase:    AimAiming,
	}
	return nil
}

// Update tracks the pointer. The aim starts charging once the drag leaves the deadzone.
func (ac *AimController) Update(reg *Registry, playerID string, pointer Vec2) error {
	aim, ok := ac.aims[playerID]
	if !ok {
		return ErrNoAim
	}
	body, ok := reg.Get(aim.BallID)
	if !ok {
		delete(ac.aims, playerID)
		return ErrUnknownBall
	}
	aim.Pointer = pointer
	if body.Position.Distance(pointer) > ac.cfg.Deadzone {
		aim.Phase = AimCharging
	} else {
		aim.Phase = AimAiming
	}
	return nil
}

// Release ends the gesture and applies the impulse to the body. The aim is
// cleared whatever the outcome.
func (ac *AimController) Release(reg *Registry, locked bool, playerID string, pointer Vec2) (Vec2, error) {
	aim, ok := ac.aims[playerID]
	if !ok {
		return Vec2{}, ErrNoAim
	}
	delete(ac.aims, playerID)

	if locked {
		return Vec2{}, ErrTableLocked
	}
	body, err := ac.strikeable(reg, playerID, aim.BallID)
	if err != nil {
		return Vec2{}, err
	}

	impulse, ok := ac.StrikeImpulse(body.Position, pointer)
	if !ok {
		return Vec2{}, ErrBelowDeadzone
	}
	body.Velocity = body.Velocity.Plus(impulse)
	return impulse, nil
}

// Cancel drops the player's aim with no side effect.
func (ac *AimController) Cancel(playerID string) bool {
	if _, ok := ac.aims[playerID]; !ok {
		return false
	}
	delete(ac.aims, playerID)
	return true
}

// CancelAll clears every aim, used when a strike locks the table.
func (ac *AimController) CancelAll() {
	for id := range ac.aims {
		delete(ac.aims, id)
	}
}

// DropBall cancels aims at a ball that left the table.
func (ac *AimController) DropBall(ballID string) {
	for pid, aim := range ac.aims {
		if aim.BallID == ballID {
			delete(ac.aims, pid)
		}
	}
}

// State returns a copy of the player's aim.
func (ac *AimController) State(playerID string) (AimState, bool) {
	aim, ok := ac.aims[playerID]
	if !ok {
		return AimState{}, false
	}
	return *aim, true
}

// Power returns the current pull of the player's aim in [0, 1].
func (ac *AimController) Power(reg *Registry, playerID string) float64 {
	aim, ok := ac.aims[playerID]
	if !ok {
		return 0
	}
	body, ok := reg.Get(aim.BallID)
	if !ok {
		return 0
	}
	length := body.Position.Distance(aim.Pointer)
	if length <= ac.cfg.Deadzone {
		return 0
	}
	return ac.pull(length)
}

// Aims returns copies of every active aim with their current power.
func (ac *AimController) Aims(reg *Registry) []AimState {
	out := make([]AimState, 0, len(ac.aims))
	for pid, a := range ac.aims {
		st := *a
		st.Power = ac.Power(reg, pid)
		out = append(out, st)
	}
	return out
}

func (ac *AimController) strikeable(reg *Registry, playerID, ballID string) (*PhysicsBody, error) {
	body, ok := reg.Get(ballID)
	if !ok {
		return nil, ErrUnknownBall
	}
	if !body.Ball.IsArticle() {
		return nil, ErrNotStrikeable
	}
	if ac.cfg.EnforceOwnership && body.Ball.OwnerID != playerID {
		return nil, ErrNotYourBall
	}
	return body, nil
}
