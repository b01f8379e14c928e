package board

import (
	"hash/fnv"
	"sort"
	"time"
)

// DefaultPresenceTTL is how long a remote instance's roster is trusted without
// a heartbeat.
const DefaultPresenceTTL = 15 * time.Second

var playerPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
	"#bcf60c", "#fabebe", "#008080", "#e6beff",
}

// Player is a signed-in participant connected to some instance.
type Player struct {
	ID    string `json:"id"`
	Color string `json:"color"`
}

// PlayerColor picks a stable palette color for a player id.
func PlayerColor(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	return playerPalette[h.Sum32()%uint32(len(playerPalette))]
}

type remoteRoster struct {
	ids  []string
	seen time.Time
}

// Roster tracks who is at the table: local joins in arrival order plus the
// last roster heard from each other instance. Owned by the simulation loop.
type Roster struct {
	ttl    time.Duration
	local  []string
	remote map[string]remoteRoster
}

func NewRoster(ttl time.Duration) *Roster {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &Roster{ttl: ttl, remote: make(map[string]remoteRoster)}
}

// Join reports whether id was not already present locally.
func (r *Roster) Join(id string) bool {
	if id == "" {
		return false
	}
	for _, p := range r.local {
		if p == id {
			return false
		}
	}
	r.local = append(r.local, id)
	return true
}

func (r *Roster) Leave(id string) bool {
	for i, p := range r.local {
		if p == id {
			r.local = append(r.local[:i], r.local[i+1:]...)
			return true
		}
	}
	return false
}

// Merge replaces the roster of one remote instance. An empty list drops it.
// It reports whether the visible roster changed.
func (r *Roster) Merge(origin string, ids []string, now time.Time) bool {
	prev, had := r.remote[origin]
	if len(ids) == 0 {
		delete(r.remote, origin)
		return had && len(prev.ids) > 0
	}
	r.remote[origin] = remoteRoster{ids: append([]string(nil), ids...), seen: now}
	return !had || !sameIDs(prev.ids, ids)
}

// Expire drops instances that stopped sending heartbeats.
func (r *Roster) Expire(now time.Time) bool {
	changed := false
	for origin, rr := range r.remote {
		if now.Sub(rr.seen) > r.ttl {
			delete(r.remote, origin)
			changed = true
		}
	}
	return changed
}

// Local returns the ids joined on this instance.
func (r *Roster) Local() []string {
	return append([]string(nil), r.local...)
}

// Players returns everyone once: local players first, then remote ones by
// instance.
func (r *Roster) Players() []Player {
	seen := make(map[string]bool)
	out := make([]Player, 0, len(r.local))
	add := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		out = append(out, Player{ID: id, Color: PlayerColor(id)})
	}
	for _, id := range r.local {
		add(id)
	}

	origins := make([]string, 0, len(r.remote))
	for origin := range r.remote {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	for _, origin := range origins {
		for _, id := range r.remote[origin].ids {
			add(id)
		}
	}
	return out
}

func sameIDs(a, b []string) bool {
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
