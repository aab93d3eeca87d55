package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcenter-platform/internal/agents"
	"callcenter-platform/internal/aisession"
	"callcenter-platform/internal/auth"
	"callcenter-platform/internal/bridge"
	"callcenter-platform/internal/calllog"
	"callcenter-platform/internal/campaigns"
	"callcenter-platform/internal/config"
	"callcenter-platform/internal/dialer"
	"callcenter-platform/internal/functions"
	"callcenter-platform/internal/httpapi"
	"callcenter-platform/internal/leads"
	"callcenter-platform/internal/reporting"
	"callcenter-platform/internal/telephony"
	"callcenter-platform/internal/usage"
	"callcenter-platform/pkg/logger"
	"callcenter-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	twilio, err := telephony.NewTwilioDialer(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
	})
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}

	leadStore := leads.NewSQLStore(db)
	campaignStore := campaigns.NewSQLStore(db)
	agentStore := agents.NewSQLStore(db)
	associations := agents.NewRedisAssociations(rdb)
	callLog := calllog.NewService(calllog.NewSQLRepo(db))
	usageSvc := usage.NewService(db)
	reports := reporting.NewService(reporting.NewSQLRepo(db))

	var globalCap dialer.GlobalCap
	if cfg.Dialer.GlobalMaxConcurrentCalls > 0 {
		globalCap = &redisCap{rdb: rdb, limit: cfg.Dialer.GlobalMaxConcurrentCalls}
	}

	registry := dialer.NewRegistry(dialer.Config{
		TickInterval: cfg.Dialer.TickInterval,
		DrainTimeout: cfg.Dialer.DrainTimeout,
	}, dialer.Deps{
		Leads:             leadStore,
		Campaigns:         campaignStore,
		Dialer:            twilio,
		StreamURL:         cfg.StreamURL(),
		StatusCallbackURL: cfg.StatusCallbackURL(),
		GlobalCap:         globalCap,
	})

	connector := &aisession.GeminiConnector{
		APIKey:       cfg.AI.GeminiAPIKey,
		DefaultModel: cfg.AI.Model,
		DefaultVoice: cfg.AI.Voice,
		Logger:       log,
	}

	var dispatcher functions.Dispatcher = functions.NewRegistry(log)
	if cfg.AI.FunctionWebhookURL != "" {
		dispatcher = &functions.WebhookDispatcher{URL: cfg.AI.FunctionWebhookURL}
	}

	mediaBridge := bridge.NewServer(bridge.Deps{
		Connector: connector,
		Resolver: &agents.Resolver{
			Store:        agentStore,
			Associations: associations,
			Logger:       log,
		},
		Leads:     leadStore,
		Functions: dispatcher,
		Reporter:  registry,
		Usage:     usageSvc,
		CallLog:   callLog,
		Ender:     twilio,
		Logger:    log,
	})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:          cfg,
		auth:         authManager,
		registry:     registry,
		bridge:       mediaBridge,
		associations: associations,
		handlers: httpapi.Handlers{
			Auth:      authManager,
			Dialer:    registry,
			Usage:     usageSvc,
			CallLog:   callLog,
			Reporting: reports,
			Leads:     leadStore,
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// No read/write timeouts: the media stream websocket lives on
		// this server for the duration of a call.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Campaigns drain first so in-flight calls settle before the HTTP
	// listener (and with it the status webhook) goes away.
	registry.StopAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// redisCap enforces the account-wide concurrent call ceiling across
// processes.
type redisCap struct {
	rdb   *redis.Client
	limit int
}

const globalCapKey = "dialer:global:active"

func (c *redisCap) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, c.rdb, globalCapKey, c.limit, 10*time.Minute)
}

func (c *redisCap) Release(ctx context.Context) error {
	return utils.ReleaseConcurrencyCap(ctx, c.rdb, globalCapKey)
}
