package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/wineops/stocksync/internal/adapter/handler"
	"github.com/wineops/stocksync/internal/adapter/storage"
	"github.com/wineops/stocksync/internal/clockx"
	"github.com/wineops/stocksync/internal/config"
	"github.com/wineops/stocksync/internal/core/service"
)

// drainPoll is how often connectivity is probed while operations wait in
// the offline queue.
const drainPoll = 15 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.ServiceName).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open mysql")
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("ping mysql")
	}
	log.Info().Msg("connected to mysql")

	// Redis (push feed)
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("ping redis")
	}
	log.Info().Msg("connected to redis")

	// Durable queue storage
	ops, err := storage.OpenBadgerStore(cfg.QueueDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open queue store")
	}

	feed := storage.NewRedisFeed(rdb, log)
	store := storage.NewMySQLAdapter(db, feed)

	engine := service.NewEngine(store, store, ops, feed, clockx.System(), log)

	// realtime channel
	go engine.Run(ctx)

	// drain the offline queue whenever connectivity looks healthy
	go func() {
		t := time.NewTicker(drainPoll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := db.PingContext(ctx); err != nil {
					continue
				}
				if err := engine.Drain(ctx); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Msg("queue drain failed")
				}
			}
		}
	}()

	// change notes, logged for visibility (the UI consumes these as toasts)
	go func() {
		for note := range engine.Notes() {
			log.Info().
				Str("item_id", note.ItemID).
				Int("quantity", note.Quantity).
				Int("version", note.Version).
				Str("source", string(note.Source)).
				Bool("deleted", note.Deleted).
				Msg("external change")
		}
	}()

	mux := http.NewServeMux()
	handler.NewHTTPHandler(engine).Register(mux)

	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info().Msg("HTTP server stopped")

	cancel()
	feed.Close()
	rdb.Close()
	db.Close()
	if err := ops.Close(); err != nil {
		log.Error().Err(err).Msg("close queue store")
	}
	log.Info().Msg("connections closed")
}
