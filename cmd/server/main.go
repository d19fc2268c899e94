package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"waternity/internal/client/ledger"
	"waternity/internal/client/mirror"
	"waternity/internal/client/transfer"
	"waternity/internal/config"
	cronrunner "waternity/internal/cron"
	"waternity/internal/db"
	"waternity/internal/handler"
	"waternity/internal/idempotency"
	"waternity/internal/ingest"
	"waternity/internal/logger"
	gormrepository "waternity/internal/repository/gorm"
	"waternity/internal/settlement"
)

func main() {
	cfgPath := os.Getenv("WTN_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("WTN_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	mirrorHTTP := &http.Client{Timeout: cfg.Mirror.Timeout}
	mirrorClient := mirror.NewClient(mirrorHTTP, cfg.Mirror.BaseURL)
	treasuryHTTP := &http.Client{Timeout: cfg.Treasury.Timeout}
	treasuryClient := transfer.NewClient(treasuryHTTP, cfg.Treasury.BaseURL)
	relayHTTP := &http.Client{Timeout: cfg.Relay.Timeout}
	relayClient := ledger.NewRelayClient(relayHTTP, cfg.Relay.BaseURL)

	store := gormrepository.New(dbConn.Gorm)
	coordinator := &idempotency.Coordinator{
		Store:           store,
		Logger:          logger,
		ProcessingLease: cfg.Idem.ProcessingLease,
	}
	pipeline := &ingest.Pipeline{
		Store:    store,
		Source:   mirrorClient,
		Logger:   logger,
		MaxPages: cfg.Ingest.MaxPages,
	}
	workflow := &settlement.Workflow{
		Store:     store,
		Idem:      coordinator,
		Transfers: treasuryClient,
		Publisher: relayClient,
		Logger:    logger,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn}
	healthHandler.Register(engine)
	wellHandler := &handler.WellHandler{Repo: store}
	wellHandler.Register(engine)
	settlementHandler := &handler.SettlementHandler{Repo: store, Workflow: workflow}
	settlementHandler.Register(engine)
	syncHandler := &handler.SyncHandler{Repo: store, Pipeline: pipeline}
	syncHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err := cronRunner.AddSerialized(cfg.Cron.TopicSync, func(ctx context.Context) {
			wells, err := store.ListActiveWellTopics(ctx)
			if err != nil {
				logger.Warn("cron topic list failed", zap.Error(err))
				return
			}
			for _, well := range wells {
				result, err := pipeline.SyncTopic(ctx, well.TopicID, cfg.Ingest.PageLimit)
				if err != nil {
					logger.Warn("cron topic sync failed",
						zap.String("well_code", well.Code),
						zap.String("topic_id", well.TopicID),
						zap.Error(err))
					continue
				}
				if result.NewCount > 0 {
					logger.Info("cron topic sync ok",
						zap.String("well_code", well.Code),
						zap.String("topic_id", well.TopicID),
						zap.Int("pages", result.Pages),
						zap.Int("fetched", result.Fetched),
						zap.Int64("new_count", result.NewCount))
				}
			}
		})
		if err != nil {
			logger.Warn("cron register topic sync failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,Idempotency-Key")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
