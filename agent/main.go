package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"collabtext/config"
	"collabtext/observability"
	"collabtext/transport"
	"collabtext/versions"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	ac := cfg.Agent
	logger := observability.NewStandardLogger("agent").WithLevel(observability.ParseLevel(ac.LogLevel))

	store, closeStore, err := openStore(context.Background(), ac)
	if err != nil {
		log.Fatalf("Failed to open version store: %v", err)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("collabtext_agent", reg)
	agent := NewAgent(ac, uuid.NewString(), store, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		agent.Run(runCtx)
	}()

	if ac.Discovery {
		go func() {
			if err := startDiscovery(ctx, logger.WithPrefix("discovery"), ac.Room, listenPort(ac.ListenAddress)); err != nil {
				logger.Warn("discovery disabled", map[string]interface{}{"error": err})
			}
		}()
	}

	r := mux.NewRouter()
	agent.Routes(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(ac.UIDir)))
	srv := &http.Server{Addr: ac.ListenAddress, Handler: r}
	go func() {
		logger.Info("CollabText agent is running", map[string]interface{}{"addr": ac.ListenAddress, "room": ac.Room})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
	if err := agent.loop.Do(shutdownCtx, agent.Close); err != nil {
		logger.Warn("session close timed out", map[string]interface{}{"error": err})
	}
	cancel()
	<-loopDone
}

// openStore opens the snapshot store for the configured room: Postgres when
// a versions URL is set, the local bbolt file otherwise.
func openStore(ctx context.Context, ac config.AgentConfig) (versions.Store, func(), error) {
	room := transport.Channel(ac.Room, ac.Password)
	if ac.VersionsURL == "" {
		store, err := versions.OpenBolt(ac.DBPath, room)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	pool, err := pgxpool.New(ctx, ac.VersionsURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect versions database")
	}
	store, err := versions.NewPostgresStore(ctx, pool, room)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 8080
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 8080
	}
	return port
}
