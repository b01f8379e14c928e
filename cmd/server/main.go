package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuetable/backend/internal/api"
	"github.com/cuetable/backend/internal/board"
	"github.com/cuetable/backend/internal/config"
	"github.com/cuetable/backend/internal/database"
	"github.com/cuetable/backend/internal/migrations"
	"github.com/cuetable/backend/internal/redis"
	"github.com/cuetable/backend/internal/store"
	"github.com/cuetable/backend/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	instanceID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		log.Println("Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Redis is optional: without it the board runs single-instance.
	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		rdb, err = redis.Connect(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
	}

	st := store.New(db)

	hub := ws.NewHub()
	go hub.Run(ctx)
	relay := ws.NewRelay(hub, rdb, cfg.RedisChannel, instanceID)

	policy, err := board.ParsePolicy(cfg.MissingAttributorPolicy)
	if err != nil {
		log.Fatalf("Invalid MISSING_ATTRIBUTOR_POLICY: %v", err)
	}

	sim := board.NewSimulation(st, relay, board.Config{
		Table:          board.NewTable(cfg.TableWidth, cfg.TableDepth, cfg.PocketRadius),
		TickRate:       cfg.TickRate,
		BroadcastEvery: cfg.BroadcastEveryTicks,
		Aim: board.AimConfig{
			MaxPull:          cfg.MaxPull,
			MaxForce:         cfg.MaxForce,
			Deadzone:         board.AimDeadzone,
			EnforceOwnership: cfg.EnforceOwnership,
		},
		Policy:              policy,
		RehomeRetries:       cfg.RehomeRetries,
		RehomeBackoff:       cfg.RehomeBackoff,
		SettleFlushInterval: cfg.SettleFlushInterval,
		FullFlushInterval:   cfg.FullFlushInterval,
		MaxCommandsPerActor: cfg.MaxCommandsPerActor,
	})

	n, err := sim.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load board: %v", err)
	}
	log.Printf("[BOARD] loaded %d balls (instance=%s)", n, instanceID)

	simDone := make(chan struct{})
	go func() {
		sim.Run(ctx)
		close(simDone)
	}()

	relay.Start(ctx, sim)
	store.StartPruneWorker(ctx, st, rdb, instanceID, cfg.PruneInterval, cfg.PruneRetention)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, db, st, sim, ws.NewHandler(hub, sim, cfg.WSReplyTimeout), cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting cuetable server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	// the simulation flushes every position before returning
	select {
	case <-simDone:
	case <-shutdownCtx.Done():
		log.Println("[BOARD] final flush did not finish in time")
	}
}
