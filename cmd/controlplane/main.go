// Command controlplane runs the control-plane HTTP+WebSocket server: the
// Policy Hook Dispatcher, the persisted conversation store, and §6.1/§6.2's
// external interfaces. Grounded on the teacher's cmd/server/main.go for its
// overall shape (load config, build services, serve, wait for a signal,
// shut down with a bounded timeout) though none of that file's handlers or
// services survive here — this binary serves a different domain entirely.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luthienresearch/luthien-proxy/internal/config"
	"github.com/luthienresearch/luthien-proxy/internal/dispatcher"
	"github.com/luthienresearch/luthien-proxy/internal/events"
	"github.com/luthienresearch/luthien-proxy/internal/httpapi"
	"github.com/luthienresearch/luthien-proxy/internal/logger"
	"github.com/luthienresearch/luthien-proxy/internal/policy"
	"github.com/luthienresearch/luthien-proxy/internal/pubsub"
	"github.com/luthienresearch/luthien-proxy/internal/ratelimit"
	"github.com/luthienresearch/luthien-proxy/internal/storage/pg"
	"github.com/luthienresearch/luthien-proxy/internal/svcauth"
	"github.com/luthienresearch/luthien-proxy/internal/taskqueue"
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	gin.SetMode(cfg.GinMode)

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.DB.Close()

	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = nats.Connect(cfg.NatsURL)
		if err != nil {
			log.Warn("failed to connect to NATS, cross-instance pub/sub disabled", slog.Any("error", err))
		} else {
			defer nc.Close()
		}
	}
	publisher := pubsub.New(nc, log)

	redeliver, err := taskqueue.NewRedeliverer(cfg.TemporalEndpoint, cfg.TemporalNamespace, cfg.TemporalAPIKey, "luthien-taskqueue-redeliver", log)
	if err != nil {
		log.Warn("temporal redeliverer unavailable, falling back to log-and-drop", slog.Any("error", err))
		redeliver = nil
	}
	if redeliver != nil {
		if w, err := redeliver.StartWorker(); err != nil {
			log.Warn("temporal worker failed to start", slog.Any("error", err))
			redeliver = nil
		} else {
			defer w.Stop()
		}
	}

	queues := taskqueue.NewRegistry(cfg.TaskQueueBufferSize, log, redeliver)
	defer queues.Shutdown()

	indices := events.NewChunkIndexStore()
	builder := events.NewBuilder(indices)

	manifest, err := policy.LoadManifest(cfg.PolicyManifestPath)
	if err != nil {
		log.Error("failed to load policy manifest", slog.String("path", cfg.PolicyManifestPath), slog.Any("error", err))
		os.Exit(1)
	}
	if !manifest.Allows(cfg.PolicyLoaderRef) {
		log.Error("policy ref not permitted by manifest", slog.String("ref", cfg.PolicyLoaderRef))
		os.Exit(1)
	}

	pol, err := policy.Load(cfg.PolicyLoaderRef)
	if err != nil {
		log.Error("failed to load policy", slog.String("ref", cfg.PolicyLoaderRef), slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("policy loaded", slog.String("ref", cfg.PolicyLoaderRef))

	var verifier svcauth.Verifier
	if cfg.ServiceAuthSecret != "" {
		verifier = svcauth.NewHMACVerifier(cfg.ServiceAuthSecret)
	}

	disp := dispatcher.New(pol, queues, builder, store, log, store, publisher)
	streamDisp := dispatcher.NewStreamDispatcher(disp)

	limiter := ratelimit.New(cfg.RateLimitMaxEvents, cfg.RateLimitWindow)

	router := httpapi.NewRouter(&httpapi.Deps{
		Dispatcher:   disp,
		Streams:      streamDisp,
		Store:        store,
		Publisher:    publisher,
		ChunkIndices: indices,
		RateLimiter:  limiter,
		Log:          log,
		CORSOrigins:  splitOrigins(cfg.CORSAllowedOrigins),
		AuthVerifier: verifier,
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	go func() {
		log.Info("control plane listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down control plane")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", slog.Any("error", err))
	}
	log.Info("control plane exited")
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
