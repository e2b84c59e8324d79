package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/agency-billing-api/api/swagger"
	"github.com/noah-isme/agency-billing-api/internal/handler"
	"github.com/noah-isme/agency-billing-api/internal/middleware"
	"github.com/noah-isme/agency-billing-api/internal/repository"
	"github.com/noah-isme/agency-billing-api/internal/service"
	"github.com/noah-isme/agency-billing-api/pkg/cache"
	"github.com/noah-isme/agency-billing-api/pkg/config"
	"github.com/noah-isme/agency-billing-api/pkg/database"
	"github.com/noah-isme/agency-billing-api/pkg/jobs"
	"github.com/noah-isme/agency-billing-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/agency-billing-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/agency-billing-api/pkg/middleware/requestid"
	"github.com/noah-isme/agency-billing-api/pkg/storage"
)

// @title Agency Billing API
// @version 1.0.0
// @description Lesson settlement and invoicing engine for tutoring agencies
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	var runLock *cache.RunLock
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, settlement runs proceed without distributed lock", zap.Error(err))
	} else {
		runLock = cache.NewRunLock(redisClient, cfg.Settlement.RunLockTTL)
		defer redisClient.Close() //nolint:errcheck
	}

	lessonRepo := repository.NewLessonRepository(db)
	contractRepo := repository.NewContractRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)

	metricsSvc := service.NewMetricsService()
	aggregator := service.NewAggregator(lessonRepo, logr)
	feePolicy := service.NewFeePolicy()
	settlementSvc := service.NewSettlementService(
		lessonRepo,
		aggregator,
		feePolicy,
		contractRepo,
		invoiceRepo,
		runLock,
		metricsSvc,
		nil,
		logr,
	)
	invoiceSvc := service.NewInvoiceService(invoiceRepo, logr)

	exportStore, err := storage.NewExportStore(cfg.Export.Dir)
	if err != nil {
		logr.Fatal("failed to prepare export directory", zap.Error(err))
	}
	exportSecret := cfg.Export.URLSecret
	if exportSecret == "" {
		// Generated secrets invalidate download links on restart.
		exportSecret = uuid.NewString()
		logr.Warn("EXPORT_URL_SECRET not set, using a generated secret")
	}
	exportSigner := storage.NewURLSigner(exportSecret, cfg.Export.URLTTL)
	exportSvc := service.NewExportService(invoiceRepo, exportStore, exportSigner, logr)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if deleted, err := exportStore.Sweep(cfg.Export.URLTTL); err != nil {
				logr.Warn("export sweep failed", zap.Error(err))
			} else if deleted > 0 {
				logr.Info("expired exports removed", zap.Int("deleted", deleted))
			}
		}
	}()

	queue := jobs.NewQueue("settlement-runs", func(ctx context.Context, job jobs.Job) error {
		req, ok := job.Payload.(service.RunSettlementRequest)
		if !ok {
			return fmt.Errorf("unexpected job payload %T", job.Payload)
		}
		req.Async = false
		_, err := settlementSvc.Run(ctx, req)
		return err
	}, jobs.QueueConfig{
		Workers:    cfg.Settlement.AsyncWorkers,
		MaxRetries: cfg.Settlement.AsyncRetries,
		Logger:     logr,
	})
	queue.Start(context.Background())
	defer queue.Stop()

	settlementHandler := handler.NewSettlementHandler(settlementSvc, invoiceSvc, queue)
	invoiceHandler := handler.NewInvoiceHandler(invoiceSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/settlements/run", settlementHandler.Run)
		api.POST("/settlements/reconcile", settlementHandler.Reconcile)
		api.GET("/invoices", invoiceHandler.List)
		api.GET("/invoices/:id", invoiceHandler.Get)
		api.PATCH("/invoices/:id/status", invoiceHandler.UpdateStatus)
		api.POST("/invoices/export", exportHandler.Export)
		api.GET("/exports/:token", exportHandler.Download)
	}

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
