package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/cuetable/backend/internal/board"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Board is the part of the simulation the socket layer drives.
type Board interface {
	BeginAim(playerID, ballID string, origin board.Vec2) <-chan error
	UpdateAim(playerID string, pointer board.Vec2) <-chan error
	ReleaseAim(playerID string, pointer board.Vec2) <-chan error
	CancelAim(playerID string) <-chan error
	PlayerJoined(playerID string)
	PlayerLeft(playerID string)
	State() board.BoardState
}

// PointerData carries a table-space pointer position.
type PointerData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BeginAimData starts a gesture on a ball.
type BeginAimData struct {
	BallID string  `json:"ball_id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Handler serves the board socket.
type Handler struct {
	hub          *Hub
	board        Board
	replyTimeout time.Duration
}

// NewHandler wires hub join/leave to the board. Run the hub before serving.
func NewHandler(hub *Hub, b Board, replyTimeout time.Duration) *Handler {
	if replyTimeout <= 0 {
		replyTimeout = 2 * time.Second
	}
	h := &Handler{hub: hub, board: b, replyTimeout: replyTimeout}
	hub.onJoin = func(c *Client) {
		if !c.spectator {
			b.PlayerJoined(c.playerID)
		}
		c.reply(stateMessage(b.State()))
	}
	hub.onLeave = func(c *Client) {
		if !c.spectator {
			b.CancelAim(c.playerID)
			b.PlayerLeft(c.playerID)
		}
	}
	return h
}

// ServeWS upgrades the request. An empty playerID joins as a spectator that
// can watch but not aim.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request, playerID string) {
	spectator := playerID == ""
	if spectator {
		playerID = "guest:" + uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	client := &Client{
		conn:      conn,
		playerID:  playerID,
		spectator: spectator,
		send:      make(chan []byte, 256),
		hub:       h.hub,
	}
	if !h.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		h.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] unexpected close for player %s: %v", c.playerID, err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "Invalid message")
			continue
		}
		h.handleMessage(c, msg)
	}
}

func (h *Handler) handleMessage(c *Client, msg WSMessage) {
	switch msg.Type {
	case "get_state":
		c.reply(stateMessage(h.board.State()))
		return
	case "request_players":
		players := h.board.State().Players
		if players == nil {
			players = []board.Player{}
		}
		h.hub.SendToPlayer(c.playerID, playersMessage(players))
		return
	case "begin_aim", "update_aim", "release_aim", "cancel_aim":
	default:
		c.sendError(msg.Type, "Unknown message type")
		return
	}

	if c.spectator {
		c.sendError(msg.Type, "Sign in to take a shot")
		return
	}

	switch msg.Type {
	case "begin_aim":
		var data BeginAimData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.BallID == "" {
			c.sendError(msg.Type, "Invalid aim data")
			return
		}
		origin := board.NewVec2(data.X, data.Y)
		if !origin.IsFinite() {
			c.sendError(msg.Type, "Invalid aim data")
			return
		}
		if h.await(c, msg.Type, h.board.BeginAim(c.playerID, data.BallID, origin)) {
			h.hub.Broadcast(map[string]interface{}{
				"type":      "aim_started",
				"player_id": c.playerID,
				"ball_id":   data.BallID,
			})
		}

	case "update_aim", "release_aim":
		var data PointerData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.Type, "Invalid pointer data")
			return
		}
		pointer := board.NewVec2(data.X, data.Y)
		if !pointer.IsFinite() {
			c.sendError(msg.Type, "Invalid pointer data")
			return
		}

		if msg.Type == "update_aim" {
			h.await(c, msg.Type, h.board.UpdateAim(c.playerID, pointer))
			return
		}
		if h.await(c, msg.Type, h.board.ReleaseAim(c.playerID, pointer)) {
			h.hub.Broadcast(map[string]interface{}{
				"type":      "shot_taken",
				"player_id": c.playerID,
			})
		}

	case "cancel_aim":
		if h.await(c, msg.Type, h.board.CancelAim(c.playerID)) {
			h.hub.Broadcast(map[string]interface{}{
				"type":      "aim_cancelled",
				"player_id": c.playerID,
			})
		}
	}
}

// await waits for the simulation to apply a command and acks or reports the
// outcome. It returns true on success.
func (h *Handler) await(c *Client, request string, reply <-chan error) bool {
	var err error
	select {
	case err = <-reply:
	case <-time.After(h.replyTimeout):
		err = board.ErrSimulationDown
	}

	if err != nil {
		c.sendError(request, errorText(err))
		return false
	}
	c.reply(map[string]interface{}{"type": "ack", "request": request})
	return true
}

func errorText(err error) string {
	switch {
	case errors.Is(err, board.ErrTableLocked):
		return "Balls are still moving"
	case errors.Is(err, board.ErrNotYourBall):
		return "You can only strike your own posts"
	case errors.Is(err, board.ErrQueueFull):
		return "Too many inputs, slow down"
	case errors.Is(err, board.ErrSimulationDown):
		return "Board is not responding"
	default:
		return err.Error()
	}
}

func stateMessage(st board.BoardState) map[string]interface{} {
	return map[string]interface{}{
		"type": "board_state",
		"data": st,
	}
}

// Count returns the sockets connected to this instance.
func (h *Handler) Count() int {
	return h.hub.Count()
}
