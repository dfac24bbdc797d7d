package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"medication-adherence-server/internal/config"
	"medication-adherence-server/internal/handlers"
	"medication-adherence-server/internal/middleware"
	"medication-adherence-server/internal/models"
	"medication-adherence-server/internal/services"
)

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config, svc *services.Services, log *zap.Logger) {
	// Initialize handlers
	authHandler := handlers.NewAuthHandler(db, cfg, log)
	medicationHandler := handlers.NewMedicationHandler(svc, log)
	scheduleHandler := handlers.NewScheduleHandler(svc, log)
	reminderHandler := handlers.NewReminderHandler(svc, log)
	adherenceHandler := handlers.NewAdherenceHandler(svc, log)

	// Public routes (no authentication required)
	public := router.Group("/api/v1")
	{
		authRoutes := public.Group("/auth")
		{
			authRoutes.POST("/register", authHandler.Register)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/refresh-token", authHandler.RefreshToken)
		}
	}

	// Authenticated routes
	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(cfg))
	{
		authRoutesPrivate := private.Group("/auth")
		{
			authRoutesPrivate.POST("/logout", authHandler.Logout)
			authRoutesPrivate.GET("/profile", authHandler.GetProfile)
		}

		medicationRoutes := private.Group("/medications")
		{
			medicationRoutes.GET("", medicationHandler.GetMedications)
			medicationRoutes.GET("/low-stock", medicationHandler.GetLowStock)
			medicationRoutes.POST("", medicationHandler.CreateMedication)
			medicationRoutes.GET("/:id", medicationHandler.GetMedication)
			medicationRoutes.PUT("/:id", medicationHandler.UpdateMedication)
			medicationRoutes.DELETE("/:id", medicationHandler.DeleteMedication)
			medicationRoutes.PATCH("/:id/inventory", medicationHandler.AdjustInventory)
			medicationRoutes.POST("/:id/refill", medicationHandler.RecordRefill)

			medicationRoutes.GET("/:id/schedules", scheduleHandler.GetSchedules)
			medicationRoutes.POST("/:id/schedules", scheduleHandler.CreateSchedule)
		}

		scheduleRoutes := private.Group("/schedules")
		{
			scheduleRoutes.PUT("/:id", scheduleHandler.UpdateSchedule)
			scheduleRoutes.DELETE("/:id", scheduleHandler.DeleteSchedule)
		}

		reminderRoutes := private.Group("/reminders")
		{
			reminderRoutes.GET("", reminderHandler.GetReminders)
			reminderRoutes.POST("", reminderHandler.CreateReminder)
			// Materializes reminders from the caller's schedules; triggered by clients or cron
			reminderRoutes.POST("/generate", reminderHandler.GenerateReminders)
			reminderRoutes.GET("/:id", reminderHandler.GetReminder)
			reminderRoutes.DELETE("/:id", reminderHandler.DeleteReminder)
			reminderRoutes.PUT("/:id/medication/:medId", reminderHandler.UpdateMedicationStatus)
		}

		private.GET("/history", adherenceHandler.GetHistory)
		private.GET("/adherence", adherenceHandler.GetAdherence)
	}

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		version, err := models.CurrentSchemaVersion(db.WithContext(c.Request.Context()))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "UP", "schemaVersion": version})
	})
}

// NewRouter builds a gin engine with logging, recovery, CORS and every route.
func NewRouter(db *gorm.DB, cfg *config.Config, svc *services.Services, log *zap.Logger, extra ...gin.HandlerFunc) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(log), middleware.Recovery(log))
	router.Use(extra...)
	SetupRoutes(router, db, cfg, svc, log)
	return router
}
