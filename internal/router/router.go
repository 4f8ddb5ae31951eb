package router

import (
	"time"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Compulink-Dev/fiscal-api/internal/config"
	"github.com/Compulink-Dev/fiscal-api/internal/handler"
	"github.com/Compulink-Dev/fiscal-api/internal/infra"
	"github.com/Compulink-Dev/fiscal-api/internal/middleware"
	"github.com/Compulink-Dev/fiscal-api/internal/repository"
	"github.com/Compulink-Dev/fiscal-api/internal/service"
	"github.com/Compulink-Dev/fiscal-api/internal/worker"
)

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, cb *infra.CircuitBreaker) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RateLimiter(1000, time.Minute)) // 1000 req/min per IP

	// ── Infrastructure ───────────────────────────────────────────────────────
	fdms := infra.NewFDMSClient(cfg.FDMSApiURL, cfg.FDMSTimeout)
	locker := infra.NewRedisDeviceLocker(rdb, cfg.DeviceLockTTL)

	// ── Repositories ─────────────────────────────────────────────────────────
	companyRepo := repository.NewCompanyRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	dayRepo := repository.NewFiscalDayRepository(db)
	receiptRepo := repository.NewReceiptRepository(db)

	// ── Services ─────────────────────────────────────────────────────────────
	// Worker dispatcher — injected into services that enqueue async jobs
	dispatcher := worker.NewDispatcher(rdb)
	sequencer := service.NewSequencer(dayRepo, receiptRepo)

	deviceSvc := service.NewDeviceService(deviceRepo, companyRepo, fdms)
	receiptSvc := service.NewReceiptService(receiptRepo, deviceRepo, sequencer, locker, dispatcher, cfg.QRBaseURL, cfg.PDFStoragePath)
	daySvc := service.NewFiscalDayService(dayRepo, deviceRepo, receiptRepo, fdms, locker, cfg.TaxpayerDayMaxHrs)
	offlineSvc := service.NewOfflineService(receiptRepo, dayRepo, deviceRepo, fdms, locker)

	// ── Handlers ─────────────────────────────────────────────────────────────
	devicesH := handler.NewDevicesHandler(deviceSvc)
	receiptsH := handler.NewReceiptsHandler(receiptSvc, deviceSvc)
	daysH := handler.NewFiscalDaysHandler(daySvc, offlineSvc, deviceSvc)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(db, rdb, cb))

	// Protected routes
	jwtMW := middleware.JWTAuth(cfg.JWTSecret)
	v1 := r.Group("/v1", jwtMW)
	{
		// Roles: operator, admin — registration is admin-only
		v1.POST("/devices",
			middleware.RequireRole("admin"),
			middleware.RegistrationRateLimiter(),
			devicesH.Register)

		devices := v1.Group("/devices/:id", middleware.RequireRole("operator", "admin"))
		{
			devices.GET("", devicesH.Get)
			devices.POST("/ping", devicesH.Ping)
			devices.GET("/config", devicesH.GetConfig)

			devices.GET("/fiscalday", daysH.Status)
			devices.POST("/fiscalday/open", daysH.Open)
			devices.POST("/fiscalday/close", daysH.Close)
			devices.POST("/fiscalday/close/retry", daysH.RetryClose)

			devices.POST("/receipts", receiptsH.Create)
			devices.GET("/receipts", receiptsH.List)
			devices.GET("/receipts/:globalNo", receiptsH.Get)
			devices.GET("/receipts/:globalNo/verify", receiptsH.Verify)
			devices.GET("/receipts/:globalNo/pdf", receiptsH.PDF)

			devices.POST("/offline/batch", daysH.SubmitBatch)
			devices.POST("/offline/reconcile", daysH.Reconcile)
		}
	}

	// Swagger UI — only enabled outside production
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
