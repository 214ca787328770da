package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"salonhub-backend/internal/database"
)

var startedAt = time.Now()

// HandleHealth is a liveness probe
func HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(startedAt).Round(time.Second).String(),
	})
}

// HandleReady reports readiness, including database connectivity
func HandleReady(c *gin.Context) {
	sqlDB, err := database.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database handle unavailable"})
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database ping failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
