package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"relay/internal/acl"
	"relay/internal/admission"
	"relay/internal/auth"
	"relay/internal/broker"
	"relay/internal/config"
	"relay/internal/dispatch"
	"relay/internal/fanout"
	"relay/internal/observability/logging"
	"relay/internal/observability/metrics"
	"relay/internal/outbox"
	"relay/internal/prekey"
	"relay/internal/presence"
	"relay/internal/room"
	"relay/internal/session"
	"relay/internal/store"
	httptransport "relay/internal/transport/http"
	"relay/internal/typing"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: "relay",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	metrics.MustRegister("relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("gorm open: %v", err)
	}

	st := store.New(db)
	if err := st.AutoMigrate(ctx); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup, degrading to store-backed checks", "addr", cfg.RedisAddr, "error", err)
	}

	nc, err := broker.ConnectNATS(cfg.NatsURL)
	if err != nil {
		log.Fatalf("nats connect: %v", err)
	}
	defer nc.Close()

	verifier := auth.NewVerifier(cfg.TokenSecret, cfg.TokenIssuer)

	limits := admission.Limits{
		IPPerWindow:   cfg.AdmissionIPLimit,
		UserPerWindow: cfg.AdmissionUserLimit,
		Window:        cfg.AdmissionWindow,
	}
	var limiter admission.Limiter
	if cfg.AdmissionBackend == "redis" {
		limiter = admission.NewRedisLimiter(redisClient, limits)
	} else {
		local := admission.NewLocalLimiter(limits)
		go local.Run(ctx, cfg.AdmissionWindow)
		limiter = local
	}

	access := acl.NewCache(redisClient, st.Rooms(), cfg.ACLCacheTTL, logger)

	dispatcher := dispatch.New(ctx, dispatch.Options{
		Workers:       cfg.RoomWorkers,
		QueueCapacity: cfg.RoomQueueCapacity,
		IdleAfter:     cfg.RoomIdleAfter,
	}, logger)
	go dispatcher.Run(ctx, cfg.SweepInterval)

	sessions := session.NewRegistry(logger)
	pres := presence.NewRegistry(cfg.HeartbeatInterval, logger)
	go pres.Run(ctx, cfg.SweepInterval)
	typ := typing.NewRegistry(cfg.TypingTTL, logger)
	go typ.Run(ctx, cfg.SweepInterval)

	rooms := room.New(st, dispatcher, access, logger)
	prekeys := prekey.New(st)

	monitor := prekey.NewMonitor(st, int64(cfg.PreKeyMinStock), cfg.PreKeyStockInterval, logger)
	go monitor.Run(ctx)

	publisher := outbox.NewPublisher(st, nc, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger)
	go publisher.Run(ctx)

	deliveries := fanout.New(nc, st, sessions, logger)
	if err := deliveries.Start(); err != nil {
		log.Fatalf("fanout subscribe: %v", err)
	}

	corsOrigins := strings.Split(os.Getenv("CORS_ORIGINS"), ",")

	handlers := httptransport.NewHandlers(httptransport.Options{
		Verifier:    verifier,
		Limiter:     limiter,
		Sessions:    sessions,
		Presence:    pres,
		Typing:      typ,
		Rooms:       rooms,
		PreKeys:     prekeys,
		Heartbeat:   cfg.HeartbeatInterval,
		CORSOrigins: corsOrigins,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httptransport.NewRouter(handlers, corsOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("relay listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	_ = redisClient.Close()
}
