package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salonhub-backend/internal/clock"
	"salonhub-backend/internal/database"
	apperrors "salonhub-backend/internal/errors"
	"salonhub-backend/internal/models"
	"salonhub-backend/internal/notifications"
	"salonhub-backend/internal/pricing"
	"salonhub-backend/internal/settings"
	"salonhub-backend/internal/trust"
)

// Service is the authoritative state machine for tenant subscription
// status. Every transition runs in its own transaction under a row lock on
// the tenant, so a scheduled sweep and a concurrent payment verification
// serialize instead of interleaving.
type Service struct {
	db         *gorm.DB
	clk        clock.Clock
	settings   *settings.Provider
	dispatcher notifications.Dispatcher
	log        *logrus.Entry
}

// NewService wires the lifecycle engine.
func NewService(db *gorm.DB, clk clock.Clock, provider *settings.Provider, dispatcher notifications.Dispatcher) *Service {
	return &Service{
		db:         db,
		clk:        clk,
		settings:   provider,
		dispatcher: dispatcher,
		log:        logrus.WithField("component", "lifecycle"),
	}
}

// Register creates a tenant in trial.
func (s *Service) Register(ctx context.Context, name, slug, email string) (*models.Tenant, error) {
	cfg, err := s.settings.Get()
	if err != nil {
		return nil, fmt.Errorf("load platform settings: %w", err)
	}

	now := s.clk.Now()
	trialEnd := now.AddDate(0, 0, cfg.TrialDays)
	tenant := &models.Tenant{
		Name:        name,
		Slug:        slug,
		Email:       email,
		Status:      models.TenantStatusTrial,
		TrialEndsAt: &trialEnd,
		TrustScore:  50,
	}

	if err := s.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":     tenant.ID,
		"trial_ends_at": trialEnd,
	}).Info("tenant registered")
	return tenant, nil
}

// ReceivePayment applies a verified payment to a tenant: the tenant becomes
// active, the subscription extends through periodEnd, debt shrinks and the
// trust score is credited or debited based on lateness relative to dueDate.
func (s *Service) ReceivePayment(ctx context.Context, tenantID uint, amount int64, dueDate, periodEnd time.Time) error {
	err := s.withTenant(ctx, tenantID, func(tx *gorm.DB, tenant *models.Tenant) error {
		return s.ApplyPayment(tenant, amount, dueDate, periodEnd)
	})
	if err != nil {
		return err
	}
	s.notify(ctx, tenantID, models.NotificationCategoryBilling, "normal",
		"Payment received", "Your subscription payment was verified.", nil)
	return nil
}

// ApplyPayment mutates an already-locked tenant inside the caller's
// transaction. The invoice ledger uses it so that invoice and tenant change
// in one atomic unit.
func (s *Service) ApplyPayment(tenant *models.Tenant, amount int64, dueDate, periodEnd time.Time) error {
	if tenant.IsTerminal() {
		return apperrors.InvalidTransition(tenant.Slug, tenant.Status, "receive payment")
	}

	now := s.clk.Now()

	// Payment facts are evaluated before expiry facts: an open trust window
	// resolves as paid even when the payment lands after the 48h mark but
	// before the expiry sweep has run.
	if tenant.TrustActivatedAt != nil {
		tenant.TrustScore = trust.Apply(tenant.TrustScore, trust.EventTrustUsedPaid)
		tenant.TrustActivatedAt = nil
		s.log.WithField("tenant_id", tenant.ID).Info("trust window resolved by payment")
	}

	daysLate := daysBetween(dueDate, now)
	event := trust.LatenessEvent(daysLate)
	tenant.TrustScore = trust.Apply(tenant.TrustScore, event)
	if event == trust.EventPaymentOnTime {
		tenant.ConsecutiveOnTimePayments++
		if tenant.ConsecutiveOnTimePayments >= 2 {
			tenant.TrustScore = trust.Apply(tenant.TrustScore, trust.EventConsecutiveBonus)
		}
	} else {
		tenant.ConsecutiveOnTimePayments = 0
	}

	tenant.Status = models.TenantStatusActive
	tenant.BlockedAt = nil
	tenant.BlockReason = ""
	tenant.DaysOverdue = 0

	if tenant.SubscriptionEndsAt == nil || tenant.SubscriptionEndsAt.Before(periodEnd) {
		end := periodEnd
		tenant.SubscriptionEndsAt = &end
	}

	tenant.CurrentDebt -= amount
	if tenant.CurrentDebt < 0 {
		tenant.CurrentDebt = 0
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":   tenant.ID,
		"amount":      amount,
		"days_late":   daysLate,
		"trust_score": tenant.TrustScore,
	}).Info("payment applied")
	return nil
}

// EvaluateExpiry moves a trial or active tenant whose end date has passed to
// expired. Calling it again with the same now is a no-op.
func (s *Service) EvaluateExpiry(ctx context.Context, tenantID uint) error {
	var expired bool
	err := s.withTenant(ctx, tenantID, func(tx *gorm.DB, tenant *models.Tenant) error {
		now := s.clk.Now()
		end := subscriptionEnd(tenant)
		if end == nil || !end.Before(now) {
			return nil
		}
		switch tenant.Status {
		case models.TenantStatusTrial, models.TenantStatusActive:
			tenant.Status = models.TenantStatusExpired
			tenant.DaysOverdue = 0
			expired = true
			s.log.WithFields(logrus.Fields{
				"tenant_id": tenant.ID,
				"ended_at":  end,
			}).Info("tenant expired")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if expired {
		s.notify(ctx, tenantID, models.NotificationCategoryBilling, "high",
			"Subscription expired", "Your subscription has expired. Please renew to keep full access.", nil)
	}
	return nil
}

// EvaluateGraceExpiry suspends a tenant that has sat expired beyond the
// grace period.
func (s *Service) EvaluateGraceExpiry(ctx context.Context, tenantID uint) error {
	cfg, err := s.settings.Get()
	if err != nil {
		return fmt.Errorf("load platform settings: %w", err)
	}

	var suspended bool
	err = s.withTenant(ctx, tenantID, func(tx *gorm.DB, tenant *models.Tenant) error {
		if tenant.Status != models.TenantStatusExpired {
			return nil
		}
		now := s.clk.Now()
		end := subscriptionEnd(tenant)
		if end == nil {
			return nil
		}
		deadline := end.AddDate(0, 0, cfg.GracePeriodDays)
		if !deadline.Before(now) {
			return nil
		}

		blockedAt := now
		tenant.Status = models.TenantStatusSuspended
		tenant.BlockedAt = &blockedAt
		tenant.BlockReason = "subscription expired beyond grace period"
		suspended = true
		s.log.WithFields(logrus.Fields{
			"tenant_id": tenant.ID,
			"grace_end": deadline,
		}).Warn("tenant suspended after grace period")
		return nil
	})
	if err != nil {
		return err
	}
	if suspended {
		s.notify(ctx, tenantID, models.NotificationCategoryAccount, "high",
			"Account suspended", "Your account was suspended after the payment grace period ran out.", nil)
	}
	return nil
}

// ActivateTrust opens the 48-hour "na reč" window for a suspended tenant.
// Only one activation is allowed per calendar month.
func (s *Service) ActivateTrust(ctx context.Context, tenantID uint) error {
	var activatedAt time.Time
	err := s.withTenant(ctx, tenantID, func(tx *gorm.DB, tenant *models.Tenant) error {
		now := s.clk.Now()
		if tenant.Status != models.TenantStatusSuspended {
			return apperrors.InvalidTransition(tenant.Slug, tenant.Status, "activate trust")
		}
		if tenant.TrustActivatedAt != nil {
			return apperrors.InvalidTransition(tenant.Slug, "trust already active", "activate trust")
		}
		if tenant.LastTrustActivationPeriod == clock.PeriodToken(now) {
			return apperrors.InvalidTransition(tenant.Slug, "trust already used this month", "activate trust")
		}

		activatedAt = now
		tenant.TrustActivatedAt = &activatedAt
		tenant.TrustActivationCount++
		tenant.LastTrustActivationPeriod = clock.PeriodToken(now)
		tenant.TrustScore = trust.Apply(tenant.TrustScore, trust.EventTrustActivationUsed)

		s.log.WithFields(logrus.Fields{
			"tenant_id":        tenant.ID,
			"activation_count": tenant.TrustActivationCount,
			"trust_score":      tenant.TrustScore,
		}).Info("trust window activated")
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, tenantID, models.NotificationCategoryTrust, "normal",
		"Access granted na reč", "You have 48 hours of access. Please settle your payment within the window.", nil)
	return nil
}

// EvaluateTrustExpiry closes a trust window that ran past 48 hours without a
// qualifying payment.
func (s *Service) EvaluateTrustExpiry(ctx context.Context, tenantID uint) error {
	var closed bool
	err := s.withTenant(ctx, tenantID, func(tx *gorm.DB, tenant *models.Tenant) error {
		if tenant.Status != models.TenantStatusSuspended {
			return nil
		}
		if !trust.Expired(tenant, s.clk.Now()) {
			return nil
		}
		tenant.TrustActivatedAt = nil
		tenant.TrustScore = trust.Apply(tenant.TrustScore, trust.EventTrustExpiredUnpaid)
		closed = true
		s.log.WithFields(logrus.Fields{
			"tenant_id":   tenant.ID,
			"trust_score": tenant.TrustScore,
		}).Warn("trust window expired unpaid")
		return nil
	})
	if err != nil {
		return err
	}
	if closed {
		s.notify(ctx, tenantID, models.NotificationCategoryTrust, "high",
			"Trust window expired", "Your 48-hour access window closed without payment.", nil)
	}
	return nil
}

// Cancel moves a tenant to the terminal cancelled state. The record is kept
// for audit.
func (s *Service) Cancel(ctx context.Context, tenantID uint) error {
	return s.withTenant(ctx, tenantID, func(tx *gorm.DB, tenant *models.Tenant) error {
		if tenant.IsTerminal() {
			return apperrors.InvalidTransition(tenant.Slug, tenant.Status, "cancel")
		}
		tenant.Status = models.TenantStatusCancelled
		tenant.TrustActivatedAt = nil
		s.log.WithField("tenant_id", tenant.ID).Info("tenant cancelled")
		return nil
	})
}

// Block is the administrative override to suspended, legal from any
// non-terminal state. It is logged as a manual action so it can be told
// apart from the timer-driven suspension path.
func (s *Service) Block(ctx context.Context, tenantID uint, reason string) error {
	return s.withTenant(ctx, tenantID, func(tx *gorm.DB, tenant *models.Tenant) error {
		if tenant.IsTerminal() {
			return apperrors.InvalidTransition(tenant.Slug, tenant.Status, "block")
		}
		now := s.clk.Now()
		tenant.Status = models.TenantStatusSuspended
		tenant.BlockedAt = &now
		if reason == "" {
			reason = "blocked by administrator"
		}
		tenant.BlockReason = reason
		s.log.WithFields(logrus.Fields{
			"tenant_id": tenant.ID,
			"reason":    reason,
			"manual":    true,
		}).Warn("tenant blocked by admin")
		return nil
	})
}

// Unblock is the administrative override back to active, legal only from
// suspended. An open trust window resolves as paid.
func (s *Service) Unblock(ctx context.Context, tenantID uint) error {
	return s.withTenant(ctx, tenantID, func(tx *gorm.DB, tenant *models.Tenant) error {
		if tenant.Status != models.TenantStatusSuspended {
			return apperrors.InvalidTransition(tenant.Slug, tenant.Status, "unblock")
		}
		if tenant.TrustActivatedAt != nil {
			tenant.TrustScore = trust.Apply(tenant.TrustScore, trust.EventTrustUsedPaid)
			tenant.TrustActivatedAt = nil
		}
		tenant.Status = models.TenantStatusActive
		tenant.BlockedAt = nil
		tenant.BlockReason = ""
		s.log.WithFields(logrus.Fields{
			"tenant_id": tenant.ID,
			"manual":    true,
		}).Info("tenant unblocked by admin")
		return nil
	})
}

// CreditActiveMonth applies the rolling +1 for a tenant active a full month.
// The monthly invoice job calls it once per generated period.
func (s *Service) CreditActiveMonth(ctx context.Context, tenantID uint) error {
	return s.withTenant(ctx, tenantID, func(tx *gorm.DB, tenant *models.Tenant) error {
		if tenant.Status != models.TenantStatusActive {
			return nil
		}
		tenant.TrustScore = trust.Apply(tenant.TrustScore, trust.EventActiveMonth)
		return nil
	})
}

// SubscriptionInfo is the derived read model for the web layer; nothing in
// it is stored independently.
type SubscriptionInfo struct {
	Status              string `json:"status"`
	DaysRemaining       int    `json:"days_remaining"`
	HasDebt             bool   `json:"has_debt"`
	IsBlocked           bool   `json:"is_blocked"`
	TrustScore          int    `json:"trust_score"`
	TrustLevel          string `json:"trust_level"`
	CanActivateTrust    bool   `json:"can_activate_trust"`
	IsTrustActive       bool   `json:"is_trust_active"`
	TrustHoursRemaining int    `json:"trust_hours_remaining"`
	MonthlyTotal        int64  `json:"monthly_total"`
	Currency            string `json:"currency"`
}

// GetSubscriptionInfo derives the read model for one tenant.
func (s *Service) GetSubscriptionInfo(ctx context.Context, tenantID uint) (*SubscriptionInfo, error) {
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, tenantID).Error; err != nil {
		return nil, err
	}

	cfg, err := s.settings.Get()
	if err != nil {
		return nil, fmt.Errorf("load platform settings: %w", err)
	}

	var locationCount int64
	if err := s.db.WithContext(ctx).Model(&models.Location{}).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Count(&locationCount).Error; err != nil {
		return nil, err
	}

	now := s.clk.Now()
	daysRemaining := 0
	if end := subscriptionEnd(&tenant); end != nil && end.After(now) {
		daysRemaining = daysBetween(now, *end)
	}

	return &SubscriptionInfo{
		Status:              tenant.Status,
		DaysRemaining:       daysRemaining,
		HasDebt:             tenant.CurrentDebt > 0,
		IsBlocked:           tenant.Status == models.TenantStatusSuspended,
		TrustScore:          tenant.TrustScore,
		TrustLevel:          trust.Level(tenant.TrustScore),
		CanActivateTrust:    trust.CanActivate(&tenant, now),
		IsTrustActive:       tenant.IsTrustActive(),
		TrustHoursRemaining: trust.HoursRemaining(&tenant, now),
		MonthlyTotal:        pricing.MonthlyTotal(&tenant, cfg, int(locationCount), now),
		Currency:            cfg.Currency,
	}, nil
}

// withTenant runs fn against a row-locked tenant and persists the result.
// Conflicting transactions are retried a bounded number of times before the
// conflict surfaces.
func (s *Service) withTenant(ctx context.Context, tenantID uint, fn func(tx *gorm.DB, tenant *models.Tenant) error) error {
	return database.WithRetry(ctx, s.db, func(tx *gorm.DB) error {
		var tenant models.Tenant
		if err := database.ForUpdate(tx).First(&tenant, tenantID).Error; err != nil {
			return err
		}
		if err := fn(tx, &tenant); err != nil {
			return err
		}
		return tx.Save(&tenant).Error
	})
}

// notify is fire-and-forget: dispatch failures are logged and never roll
// back into billing state.
func (s *Service) notify(ctx context.Context, tenantID uint, category, priority, title, body string, invoiceID *uint) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Send(ctx, notifications.Message{
		TenantID:         tenantID,
		Category:         category,
		Priority:         priority,
		Title:            title,
		Body:             body,
		RelatedInvoiceID: invoiceID,
	}); err != nil {
		s.log.WithError(err).WithField("tenant_id", tenantID).Error("notification dispatch failed")
	}
}

// subscriptionEnd is the date the tenant's current entitlement runs out:
// the subscription end when set, otherwise the trial end.
func subscriptionEnd(tenant *models.Tenant) *time.Time {
	if tenant.SubscriptionEndsAt != nil {
		return tenant.SubscriptionEndsAt
	}
	return tenant.TrialEndsAt
}

func daysBetween(from, to time.Time) int {
	d := int(to.Sub(from).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
