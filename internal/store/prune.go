package store

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const pruneLockKey = "board:prune_lock"

// Pruner is the part of PostgresStore the prune worker needs.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// PruneOnce takes the cluster-wide prune lock and prunes rows soft-deleted
// before now-retention. It returns false when another instance holds the lock.
// A nil rdb skips locking.
func PruneOnce(ctx context.Context, p Pruner, rdb *redis.Client, owner string, retention, lockTTL time.Duration) (int, bool, error) {
	if rdb != nil {
		ok, err := rdb.SetNX(ctx, pruneLockKey, owner, lockTTL).Result()
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
	}
	n, err := p.Prune(ctx, time.Now().Add(-retention))
	return n, true, err
}

// StartPruneWorker prunes soft-deleted rows every interval until ctx is done.
func StartPruneWorker(ctx context.Context, p Pruner, rdb *redis.Client, owner string, interval, retention time.Duration) {
	if p == nil || interval <= 0 {
		log.Println("[PRUNE] Store missing or interval disabled; prune worker not started")
		return
	}

	log.Printf("[PRUNE] Prune worker started (every %s)", interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[PRUNE] Prune worker stopping")
				return
			case <-ticker.C:
				// hold the lock for most of an interval so one instance prunes per round
				n, ran, err := PruneOnce(ctx, p, rdb, owner, retention, interval*9/10)
				if err != nil {
					log.Printf("[PRUNE] prune failed: %v", err)
					continue
				}
				if !ran {
					log.Println("[PRUNE] another instance holds the prune lock; skipping")
					continue
				}
				if n > 0 {
					log.Printf("[PRUNE] pruned %d rows", n)
				}
			}
		}
	}()
}
