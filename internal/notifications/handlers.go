package notifications

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"salonhub-backend/internal/database"
	"salonhub-backend/internal/models"
)

// HandleListNotifications returns recent notifications for the tenant
func HandleListNotifications(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}

	var rows []models.Notification
	if err := database.DB.Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": rows,
		"total":         len(rows),
		"limit":         limit,
	})
}

// HandleGetNotificationStats returns notification statistics for the tenant
func HandleGetNotificationStats(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")

	var totalCount, sentCount, failedCount int64
	database.DB.Model(&models.Notification{}).Where("tenant_id = ?", tenantID).Count(&totalCount)
	database.DB.Model(&models.Notification{}).Where("tenant_id = ? AND status = ?", tenantID, models.NotificationStatusSent).Count(&sentCount)
	database.DB.Model(&models.Notification{}).Where("tenant_id = ? AND status = ?", tenantID, models.NotificationStatusFailed).Count(&failedCount)

	c.JSON(http.StatusOK, gin.H{
		"total":  totalCount,
		"sent":   sentCount,
		"failed": failedCount,
	})
}
