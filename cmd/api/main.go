package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"salonhub-backend/internal/admin"
	"salonhub-backend/internal/auth"
	"salonhub-backend/internal/billing"
	"salonhub-backend/internal/bootstrap"
	"salonhub-backend/internal/cache"
	"salonhub-backend/internal/clock"
	"salonhub-backend/internal/config"
	"salonhub-backend/internal/database"
	"salonhub-backend/internal/health"
	"salonhub-backend/internal/ledger"
	"salonhub-backend/internal/lifecycle"
	"salonhub-backend/internal/locations"
	"salonhub-backend/internal/metrics"
	"salonhub-backend/internal/middleware"
	"salonhub-backend/internal/models"
	"salonhub-backend/internal/notifications"
	"salonhub-backend/internal/scheduler"
	"salonhub-backend/internal/settings"
)

func main() {
	log.Println("🚀 Starting SalonHub API Server")

	// Initialize Sentry before other subsystems so we capture initialization errors
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		env := os.Getenv("SENTRY_ENVIRONMENT")
		release := os.Getenv("SENTRY_RELEASE")
		if release == "" {
			release = os.Getenv("GIT_COMMIT")
		}
		host, _ := os.Hostname()

		opts := sentry.ClientOptions{
			Dsn:         dsn,
			Environment: env,
			Release:     release,
		}
		if host != "" {
			opts.ServerName = host
		}

		if err := sentry.Init(opts); err != nil {
			log.Printf("Sentry initialization failed: %v", err)
		} else {
			sentry.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("service", "salonhub-backend")
			})
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Initialize database
	if err := database.InitDatabase(); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if err := database.RunMigrations(models.All()...); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	bootstrap.Run(database.DB)

	// Initialize auth components
	auth.InitJWT()

	// Optional redis read-model cache
	if err := cache.InitManager(); err != nil {
		log.Printf("⚠️  Redis cache unavailable, continuing without it: %v", err)
	}

	// Core billing services
	clk := clock.System()
	settingsProvider := settings.NewProvider(database.DB)
	dispatcher := notifications.NewStoreDispatcher(database.DB)
	lifecycleService := lifecycle.NewService(database.DB, clk, settingsProvider, dispatcher)
	invoiceLedger := ledger.New(database.DB, clk, settingsProvider, lifecycleService, dispatcher)

	// Scheduler owns the nightly lifecycle sweep, invoice generation, and
	// overdue reminders
	maxRun := time.Duration(config.GetEnvInt("JOB_MAX_RUN_MINUTES", 30)) * time.Minute
	jobScheduler := scheduler.New(database.DB, clk, maxRun)
	scheduler.RegisterBillingJobs(jobScheduler, scheduler.JobDeps{
		DB:        database.DB,
		Clock:     clk,
		Lifecycle: lifecycleService,
		Ledger:    invoiceLedger,
	})
	jobScheduler.Start()
	defer jobScheduler.Stop()

	billing.Init(lifecycleService, invoiceLedger, settingsProvider)
	admin.Init(jobScheduler)

	// Set up router
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	}))
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS - MUST be first to handle OPTIONS requests
	router.Use(cors.New(middleware.SecureCORSConfig()))
	router.Use(middleware.GeneralRateLimit())

	// Health check endpoints
	router.GET("/health", health.HandleHealth)
	router.GET("/ready", health.HandleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		// Public routes
		api.POST("/auth/login", middleware.LoginRateLimit(), auth.HandleLogin)
		api.POST("/register", billing.HandleRegister)

		// Protected tenant routes
		protected := api.Group("")
		protected.Use(auth.Middleware(database.DB))
		{
			protected.GET("/me", auth.HandleMe)

			protected.GET("/subscription", billing.HandleGetSubscription)
			protected.POST("/subscription/trust-activation", billing.HandleActivateTrust)
			protected.GET("/invoices", billing.HandleGetInvoices)
			protected.GET("/invoices/:id", billing.HandleGetInvoice)

			protected.GET("/locations", locations.HandleGetLocations)
			protected.POST("/locations", locations.HandleCreateLocation)
			protected.DELETE("/locations/:id", locations.HandleDeactivateLocation)

			protected.GET("/notifications", notifications.HandleListNotifications)
			protected.GET("/notifications/stats", notifications.HandleGetNotificationStats)

			// Admin routes
			adminRoutes := protected.Group("/admin")
			adminRoutes.Use(auth.AdminMiddleware())
			{
				adminRoutes.GET("/metrics", metrics.HandleGetMetrics)

				adminRoutes.GET("/settings", billing.HandleGetSettings)
				adminRoutes.PUT("/settings", billing.HandleUpdateSettings)

				adminRoutes.POST("/invoices/:id/verify", billing.HandleVerifyPayment)
				adminRoutes.POST("/invoices/:id/reject", billing.HandleRejectPayment)
				adminRoutes.POST("/invoices/:id/refund", billing.HandleRefundInvoice)
				adminRoutes.POST("/invoices/:id/cancel", billing.HandleCancelInvoice)

				adminRoutes.POST("/tenants/:id/block", billing.HandleBlockTenant)
				adminRoutes.POST("/tenants/:id/unblock", billing.HandleUnblockTenant)
				adminRoutes.POST("/tenants/:id/cancel", billing.HandleCancelTenant)

				adminRoutes.GET("/jobs", admin.HandleGetJobs)
				adminRoutes.POST("/jobs/:id/run", admin.HandleRunJob)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("✅ Server starting on port %s", port)

	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
