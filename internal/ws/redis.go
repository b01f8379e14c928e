package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/cuetable/backend/internal/board"
	"github.com/redis/go-redis/v9"
)

// Merger applies changes observed on other instances to the local board.
type Merger interface {
	MergeRemoteBall(ball board.Ball)
	MergeRemoteRemoval(id string)
	ApplyRemotePosition(id string, p board.Vec2)
	MergeRemotePlayers(origin string, playerIDs []string)
}

// Event is the payload exchanged between instances over redis pub/sub.
type Event struct {
	Origin  string                 `json:"origin"`
	Type    string                 `json:"type"`
	Ball    *board.Ball            `json:"ball,omitempty"`
	ID      string                 `json:"id,omitempty"`
	Updates []board.PositionUpdate `json:"updates,omitempty"`
	Players []string               `json:"players,omitempty"`
}

const (
	eventBallCreated = "ball_created"
	eventBallRemoved = "ball_removed"
	eventPositions   = "positions"
	eventTurnEnded   = "turn_ended"
	eventPlayers     = "players"
)

// presenceHeartbeat resends this instance's roster so peers can expire it
// when the instance dies.
const presenceHeartbeat = 5 * time.Second

// Relay is the board's EventSink: it fans events out to local sockets and, when
// redis is configured, to the other instances.
type Relay struct {
	hub        *Hub
	rdb        *redis.Client
	channel    string
	instanceID string
	out        chan Event
	heartbeat  time.Duration

	mu    sync.Mutex
	local []string // roster last published
}

func NewRelay(hub *Hub, rdb *redis.Client, channel, instanceID string) *Relay {
	return &Relay{
		hub:        hub,
		rdb:        rdb,
		channel:    channel,
		instanceID: instanceID,
		out:        make(chan Event, 512),
		heartbeat:  presenceHeartbeat,
	}
}

func (r *Relay) BallCreated(ball board.Ball) {
	r.hub.Broadcast(clientMessage(Event{Type: eventBallCreated, Ball: &ball}))
	r.publish(Event{Type: eventBallCreated, Ball: &ball})
}

func (r *Relay) BallRemoved(id string) {
	r.hub.Broadcast(clientMessage(Event{Type: eventBallRemoved, ID: id}))
	r.publish(Event{Type: eventBallRemoved, ID: id})
}

func (r *Relay) PositionsUpdated(updates []board.PositionUpdate) {
	r.hub.Broadcast(clientMessage(Event{Type: eventPositions, Updates: updates}))
	r.publish(Event{Type: eventPositions, Updates: updates})
}

// TurnEnded stays local: every instance runs its own turn lock.
func (r *Relay) TurnEnded() {
	r.hub.Broadcast(clientMessage(Event{Type: eventTurnEnded}))
}

// PlayersChanged shows the merged roster locally and tells peers about this
// instance's own players when they changed.
func (r *Relay) PlayersChanged(local []string, all []board.Player) {
	if all == nil {
		all = []board.Player{}
	}
	r.hub.Broadcast(playersMessage(all))

	r.mu.Lock()
	same := equalIDs(r.local, local)
	r.local = append([]string(nil), local...)
	r.mu.Unlock()
	if !same {
		r.publish(Event{Type: eventPlayers, Players: local})
	}
}

func (r *Relay) localPlayers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.local...)
}

// publish never blocks the simulation goroutine; a full queue drops the event.
func (r *Relay) publish(ev Event) {
	if r.rdb == nil {
		return
	}
	ev.Origin = r.instanceID
	select {
	case r.out <- ev:
	default:
		log.Printf("[RELAY] publish queue full, dropping %s event", ev.Type)
	}
}

// Start runs the publisher and the subscriber until ctx is done.
func (r *Relay) Start(ctx context.Context, m Merger) {
	if r.rdb == nil {
		log.Println("[RELAY] Redis client not set; running single-instance")
		return
	}

	go func() {
		ticker := time.NewTicker(r.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-r.out:
				r.send(ctx, ev)
			case <-ticker.C:
				if players := r.localPlayers(); len(players) > 0 {
					r.send(ctx, Event{Origin: r.instanceID, Type: eventPlayers, Players: players})
				}
			}
		}
	}()

	pubsub := r.rdb.Subscribe(ctx, r.channel)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		log.Printf("[RELAY] %s subscriber started (instance=%s)", r.channel, r.instanceID)
		for {
			select {
			case <-ctx.Done():
				log.Println("[RELAY] subscriber stopping")
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.handleRemote(m, []byte(msg.Payload))
			}
		}
	}()
}

func (r *Relay) send(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		log.Printf("[RELAY] publish %s failed: %v", ev.Type, err)
	}
}

func (r *Relay) handleRemote(m Merger, payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("[RELAY] invalid event payload: %v", err)
		return
	}
	if ev.Origin == r.instanceID {
		return
	}

	switch ev.Type {
	case eventBallCreated:
		if ev.Ball == nil {
			return
		}
		m.MergeRemoteBall(*ev.Ball)
	case eventBallRemoved:
		if ev.ID == "" {
			return
		}
		m.MergeRemoteRemoval(ev.ID)
	case eventPositions:
		for _, u := range ev.Updates {
			if u.Position.IsFinite() {
				m.ApplyRemotePosition(u.ID, u.Position)
			}
		}
	case eventPlayers:
		// the board announces the merged roster itself
		if ev.Origin != "" {
			m.MergeRemotePlayers(ev.Origin, ev.Players)
		}
		return
	default:
		log.Printf("[RELAY] unknown event type: %s", ev.Type)
		return
	}

	r.hub.Broadcast(clientMessage(ev))
}

func playersMessage(players []board.Player) map[string]interface{} {
	return map[string]interface{}{"type": eventPlayers, "players": players}
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clientMessage(ev Event) map[string]interface{} {
	msg := map[string]interface{}{"type": ev.Type}
	switch ev.Type {
	case eventBallCreated:
		msg["ball"] = ev.Ball
	case eventBallRemoved:
		msg["id"] = ev.ID
	case eventPositions:
		msg["updates"] = ev.Updates
	}
	return msg
}
