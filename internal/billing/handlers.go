package billing

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"salonhub-backend/internal/auth"
	"salonhub-backend/internal/cache"
	"salonhub-backend/internal/database"
	"salonhub-backend/internal/ledger"
	"salonhub-backend/internal/lifecycle"
	"salonhub-backend/internal/models"
	"salonhub-backend/internal/settings"
	"salonhub-backend/pkg/utils"
)

// Package-level services, wired at startup.
var (
	Lifecycle *lifecycle.Service
	Ledger    *ledger.Ledger
	Settings  *settings.Provider
)

// Init wires the handler dependencies.
func Init(lc *lifecycle.Service, lg *ledger.Ledger, sp *settings.Provider) {
	Lifecycle = lc
	Ledger = lg
	Settings = sp
}

// HandleRegister creates a salon tenant on trial together with its owner
// account
func HandleRegister(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Slug     string `json:"slug" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=8"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var existing int64
	database.DB.Model(&models.User{}).Where("email = ?", req.Email).Count(&existing)
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	tenant, err := Lifecycle.Register(c.Request.Context(), req.Name, req.Slug, req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create tenant"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}

	user := models.User{
		Email:    req.Email,
		Password: hash,
		Name:     req.Name,
		Role:     "tenant",
		TenantID: &tenant.ID,
		Active:   true,
	}
	if err := database.DB.Create(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"tenant": tenant,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
		},
	})
}

// HandleGetSubscription returns the derived subscription view for the
// authenticated tenant
func HandleGetSubscription(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")
	if tenantID == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No tenant for this account"})
		return
	}

	key := cache.SubscriptionInfoKey(tenantID)
	var cached lifecycle.SubscriptionInfo
	if cache.GlobalManager.Get(c.Request.Context(), key, &cached) {
		c.JSON(http.StatusOK, gin.H{"subscription": cached})
		return
	}

	info, err := Lifecycle.GetSubscriptionInfo(c.Request.Context(), tenantID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch subscription"})
		return
	}

	cache.GlobalManager.Set(c.Request.Context(), key, info)
	c.JSON(http.StatusOK, gin.H{"subscription": info})
}

// HandleActivateTrust opens the 48-hour "na reč" window for the
// authenticated tenant
func HandleActivateTrust(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")
	if tenantID == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No tenant for this account"})
		return
	}

	if err := Lifecycle.ActivateTrust(c.Request.Context(), tenantID); err != nil {
		utils.RespondWithError(c, err)
		return
	}

	cache.GlobalManager.Invalidate(c.Request.Context(), cache.SubscriptionInfoKey(tenantID))
	c.JSON(http.StatusOK, gin.H{"message": "Trust access activated for 48 hours"})
}

// HandleGetInvoices returns the tenant's invoices, newest first
func HandleGetInvoices(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")

	var invoices []models.Invoice
	if err := database.DB.Preload("Items").
		Where("tenant_id = ?", tenantID).
		Order("period_start DESC").
		Find(&invoices).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch invoices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoices": invoices, "total": len(invoices)})
}

// HandleGetInvoice returns one invoice scoped to the tenant
func HandleGetInvoice(c *gin.Context) {
	tenantID := c.GetUint("tenant_id")
	id := c.Param("id")

	var invoice models.Invoice
	if err := database.DB.Preload("Items").
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&invoice).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch invoice"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoice": invoice})
}

// HandleVerifyPayment is the admin confirmation of a bank transfer
func HandleVerifyPayment(c *gin.Context) {
	adminID := c.GetUint("user_id")
	invoiceID, ok := parseID(c)
	if !ok {
		return
	}

	if err := Ledger.VerifyPayment(c.Request.Context(), invoiceID, adminID); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
			return
		}
		utils.RespondWithError(c, err)
		return
	}

	invalidateTenantForInvoice(c, invoiceID)
	c.JSON(http.StatusOK, gin.H{"message": "Payment verified"})
}

// HandleRejectPayment records a rejected payment proof without touching the
// invoice status
func HandleRejectPayment(c *gin.Context) {
	adminID := c.GetUint("user_id")
	invoiceID, ok := parseID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "payment proof rejected"
	}

	if err := Ledger.RejectPayment(c.Request.Context(), invoiceID, adminID, req.Reason); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
			return
		}
		utils.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Payment rejected"})
}

// HandleRefundInvoice refunds a paid invoice
func HandleRefundInvoice(c *gin.Context) {
	adminID := c.GetUint("user_id")
	invoiceID, ok := parseID(c)
	if !ok {
		return
	}

	if err := Ledger.Refund(c.Request.Context(), invoiceID, adminID); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
			return
		}
		utils.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Invoice refunded"})
}

// HandleCancelInvoice voids an unpaid invoice
func HandleCancelInvoice(c *gin.Context) {
	adminID := c.GetUint("user_id")
	invoiceID, ok := parseID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := Ledger.Cancel(c.Request.Context(), invoiceID, adminID, req.Reason); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invoice not found"})
			return
		}
		utils.RespondWithError(c, err)
		return
	}

	invalidateTenantForInvoice(c, invoiceID)
	c.JSON(http.StatusOK, gin.H{"message": "Invoice cancelled"})
}

// HandleBlockTenant is the manual admin suspension override
func HandleBlockTenant(c *gin.Context) {
	tenantID, ok := parseID(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := Lifecycle.Block(c.Request.Context(), tenantID, req.Reason); err != nil {
		utils.RespondWithError(c, err)
		return
	}

	recordAudit(c, "block_tenant", tenantID, req.Reason)
	cache.GlobalManager.Invalidate(c.Request.Context(), cache.SubscriptionInfoKey(tenantID))
	c.JSON(http.StatusOK, gin.H{"message": "Tenant blocked"})
}

// HandleUnblockTenant lifts a suspension back to active
func HandleUnblockTenant(c *gin.Context) {
	tenantID, ok := parseID(c)
	if !ok {
		return
	}

	if err := Lifecycle.Unblock(c.Request.Context(), tenantID); err != nil {
		utils.RespondWithError(c, err)
		return
	}

	recordAudit(c, "unblock_tenant", tenantID, "")
	cache.GlobalManager.Invalidate(c.Request.Context(), cache.SubscriptionInfoKey(tenantID))
	c.JSON(http.StatusOK, gin.H{"message": "Tenant unblocked"})
}

// HandleCancelTenant moves a tenant to the terminal cancelled state
func HandleCancelTenant(c *gin.Context) {
	tenantID, ok := parseID(c)
	if !ok {
		return
	}

	if err := Lifecycle.Cancel(c.Request.Context(), tenantID); err != nil {
		utils.RespondWithError(c, err)
		return
	}

	recordAudit(c, "cancel_tenant", tenantID, "")
	cache.GlobalManager.Invalidate(c.Request.Context(), cache.SubscriptionInfoKey(tenantID))
	c.JSON(http.StatusOK, gin.H{"message": "Tenant cancelled"})
}

// HandleGetSettings returns the platform pricing/timing configuration
func HandleGetSettings(c *gin.Context) {
	cfg, err := Settings.Get()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": cfg})
}

// HandleUpdateSettings mutates the configuration singleton (admin only)
func HandleUpdateSettings(c *gin.Context) {
	var req struct {
		BasePrice       *int64  `json:"base_price"`
		LocationPrice   *int64  `json:"location_price"`
		TrialDays       *int    `json:"trial_days"`
		GracePeriodDays *int    `json:"grace_period_days"`
		PaymentDueDays  *int    `json:"payment_due_days"`
		Currency        *string `json:"currency"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var cfg models.PlatformSettings
	if err := database.DB.First(&cfg).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch settings"})
		return
	}

	if req.BasePrice != nil {
		cfg.BasePrice = *req.BasePrice
	}
	if req.LocationPrice != nil {
		cfg.LocationPrice = *req.LocationPrice
	}
	if req.TrialDays != nil {
		cfg.TrialDays = *req.TrialDays
	}
	if req.GracePeriodDays != nil {
		cfg.GracePeriodDays = *req.GracePeriodDays
	}
	if req.PaymentDueDays != nil {
		cfg.PaymentDueDays = *req.PaymentDueDays
	}
	if req.Currency != nil {
		cfg.Currency = *req.Currency
	}

	if err := database.DB.Save(&cfg).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update settings"})
		return
	}

	Settings.Invalidate()
	recordAudit(c, "update_settings", cfg.ID, "")
	c.JSON(http.StatusOK, gin.H{"settings": cfg, "message": "Settings updated"})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

func invalidateTenantForInvoice(c *gin.Context, invoiceID uint) {
	var invoice models.Invoice
	if err := database.DB.Select("tenant_id").First(&invoice, invoiceID).Error; err != nil {
		return
	}
	cache.GlobalManager.Invalidate(c.Request.Context(), cache.SubscriptionInfoKey(invoice.TenantID))
}

func recordAudit(c *gin.Context, action string, resourceID uint, details string) {
	entry := models.AuditLog{
		UserID:     c.GetUint("user_id"),
		Action:     action,
		Resource:   "tenant",
		ResourceID: resourceID,
		Details:    details,
		IPAddress:  c.ClientIP(),
		Timestamp:  database.DB.NowFunc(),
	}
	if err := database.DB.Create(&entry).Error; err != nil {
		utils.HandleError(err, "billing.recordAudit")
	}
}
