package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"salonhub-backend/internal/database"
	"salonhub-backend/internal/models"
)

// HandleGetMetrics returns platform counters for the admin dashboard
func HandleGetMetrics(c *gin.Context) {
	var (
		tenantsByStatus  []statusCount
		invoicesByStatus []statusCount
		totalDebt        int64
		openTrustWindows int64
	)

	if err := database.DB.Model(&models.Tenant{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&tenantsByStatus).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute metrics"})
		return
	}

	if err := database.DB.Model(&models.Invoice{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&invoicesByStatus).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute metrics"})
		return
	}

	database.DB.Model(&models.Tenant{}).
		Select("COALESCE(SUM(current_debt), 0)").
		Scan(&totalDebt)

	database.DB.Model(&models.Tenant{}).
		Where("status = ? AND trust_activated_at IS NOT NULL", models.TenantStatusSuspended).
		Count(&openTrustWindows)

	c.JSON(http.StatusOK, gin.H{
		"tenants_by_status":  toMap(tenantsByStatus),
		"invoices_by_status": toMap(invoicesByStatus),
		"total_debt":         totalDebt,
		"open_trust_windows": openTrustWindows,
	})
}

type statusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

func toMap(rows []statusCount) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out
}
