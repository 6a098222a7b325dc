package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"collabtext/config"
	"collabtext/observability"
	"collabtext/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	sc := cfg.Server
	logger := observability.NewStandardLogger("server").WithLevel(observability.ParseLevel(sc.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Connect to Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: sc.RedisAddr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Could not connect to Redis: %v", err)
	}
	defer rdb.Close()
	logger.Info("Connected to Redis successfully", map[string]interface{}{"addr": sc.RedisAddr})

	// --- Connect to PostgreSQL ---
	opLog := openLog(ctx, sc.DatabaseURL, logger)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("collabtext_relay", reg)

	r := mux.NewRouter()
	relay.NewServer(relay.NewRedisBroker(rdb), opLog, logger, metrics).Routes(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: sc.ListenAddress, Handler: r}
	go func() {
		logger.Info("CollabText sync server starting", map[string]interface{}{"addr": sc.ListenAddress})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", map[string]interface{}{"error": err})
	}
}

// openLog returns the Postgres op log, or an in-memory one when the
// database is unreachable. Late joiners then only see ops relayed since
// this process started.
func openLog(ctx context.Context, url string, logger observability.Logger) relay.Log {
	pool, err := pgxpool.New(ctx, url)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err == nil {
		var l *relay.PostgresLog
		if l, err = relay.NewPostgresLog(ctx, pool); err == nil {
			logger.Info("Connected to PostgreSQL successfully", nil)
			return l
		}
	}
	if pool != nil {
		pool.Close()
	}
	logger.Warn("op log kept in memory", map[string]interface{}{"error": err})
	return relay.NewMemoryLog()
}
