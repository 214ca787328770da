package locations

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"salonhub-backend/internal/cache"
	"salonhub-backend/internal/database"
	"salonhub-backend/internal/models"
)

// HandleGetLocations lists the tenant's locations
func HandleGetLocations(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")

	var locations []models.Location
	if err := database.DB.Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&locations).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch locations"})
		return
	}

	active := 0
	for _, loc := range locations {
		if loc.Active {
			active++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"locations": locations,
		"total":     len(locations),
		"active":    active,
	})
}

// HandleCreateLocation adds a location. New locations are billed from the
// next invoice period onward.
func HandleCreateLocation(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")

	var req struct {
		Name    string `json:"name" binding:"required"`
		Address string `json:"address"`
		City    string `json:"city"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	location := models.Location{
		TenantID: tenantID,
		Name:     req.Name,
		Address:  req.Address,
		City:     req.City,
		Active:   true,
	}
	if err := database.DB.Create(&location).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create location"})
		return
	}

	cache.GlobalManager.Invalidate(c.Request.Context(), cache.SubscriptionInfoKey(tenantID))
	c.JSON(http.StatusCreated, gin.H{"location": location})
}

// HandleDeactivateLocation marks a location inactive so it stops counting
// toward the monthly price
func HandleDeactivateLocation(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")
	id := c.Param("id")

	var location models.Location
	if err := database.DB.Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&location).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Location not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch location"})
		}
		return
	}

	location.Active = false
	if err := database.DB.Save(&location).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update location"})
		return
	}

	cache.GlobalManager.Invalidate(c.Request.Context(), cache.SubscriptionInfoKey(tenantID))
	c.JSON(http.StatusOK, gin.H{"location": location})
}
