package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

const version = "1.0.0"

// ClientCounter reports how many sockets are connected to this instance.
type ClientCounter interface {
	Count() int
}

// HealthCheck reports the board loop alongside the usual liveness fields. The
// board counts as stalled when its tick has not moved for stallAfter.
func HealthCheck(sim BoardView, clients ClientCounter, stallAfter time.Duration) gin.HandlerFunc {
	var (
		mu         sync.Mutex
		lastTick   uint64
		lastChange = time.Now()
	)

	return func(c *gin.Context) {
		st := sim.State()
		now := time.Now()

		mu.Lock()
		if st.Tick != lastTick {
			lastTick = st.Tick
			lastChange = now
		}
		stalled := now.Sub(lastChange) > stallAfter
		mu.Unlock()

		status, code := "ok", http.StatusOK
		if stalled {
			status, code = "stalled", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":  status,
			"service": "cuetable-api",
			"version": version,
			"uptime":  time.Since(startTime).String(),
			"board": gin.H{
				"tick":        st.Tick,
				"balls":       len(st.Balls),
				"locked":      st.Locked,
				"turn_holder": st.TurnHolder,
				"players":     len(st.Players),
			},
			"clients": clients.Count(),
		})
	}
}
