package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"salonhub-backend/internal/clock"
	"salonhub-backend/internal/config"
	"salonhub-backend/internal/ledger"
	"salonhub-backend/internal/lifecycle"
	"salonhub-backend/internal/models"
)

// Canonical job ids
const (
	JobBillingDaily     = "billing_daily"
	JobGenerateInvoices = "generate_invoices"
	JobSendReminders    = "send_reminders"
)

// JobDeps are the collaborators the billing jobs sweep over.
type JobDeps struct {
	DB        *gorm.DB
	Clock     clock.Clock
	Lifecycle *lifecycle.Service
	Ledger    *ledger.Ledger
}

// RegisterBillingJobs wires the three canonical jobs. Trigger times are
// env-overridable (HH:MM), defaulting to 03:00 daily for the billing sweep,
// 02:00 on the 1st for invoice generation and 09:00 daily for reminders.
func RegisterBillingJobs(s *Scheduler, deps JobDeps) {
	dailyHour, dailyMin := parseTriggerTime(config.GetEnv("BILLING_DAILY_AT", "03:00"), 3, 0)
	invoiceHour, invoiceMin := parseTriggerTime(config.GetEnv("GENERATE_INVOICES_AT", "02:00"), 2, 0)
	reminderHour, reminderMin := parseTriggerTime(config.GetEnv("SEND_REMINDERS_AT", "09:00"), 9, 0)

	s.Register(Job{
		ID:       JobBillingDaily,
		Schedule: Schedule{Hour: dailyHour, Minute: dailyMin},
		Handler:  deps.billingDaily,
	})
	s.Register(Job{
		ID:       JobGenerateInvoices,
		Schedule: Schedule{Monthly: true, Day: 1, Hour: invoiceHour, Minute: invoiceMin},
		Handler:  deps.generateInvoices,
	})
	s.Register(Job{
		ID:       JobSendReminders,
		Schedule: Schedule{Hour: reminderHour, Minute: reminderMin},
		Handler:  deps.sendReminders,
	})
}

// billingDaily sweeps every non-cancelled tenant through the timer-driven
// transitions, payment facts first within each tenant, then flips overdue
// invoices. Per-tenant failures are logged and skipped; the sweep catches
// up on the next cadence.
func (d JobDeps) billingDaily(ctx context.Context) (string, error) {
	var ids []uint
	if err := d.DB.WithContext(ctx).Model(&models.Tenant{}).
		Where("status <> ?", models.TenantStatusCancelled).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return "", err
	}

	failures := 0
	for _, id := range ids {
		if err := d.Lifecycle.EvaluateExpiry(ctx, id); err != nil {
			failures++
			continue
		}
		if err := d.Lifecycle.EvaluateGraceExpiry(ctx, id); err != nil {
			failures++
			continue
		}
		if err := d.Lifecycle.EvaluateTrustExpiry(ctx, id); err != nil {
			failures++
		}
	}

	marked, err := d.Ledger.MarkOverdue(ctx)
	if err != nil {
		return "", fmt.Errorf("mark overdue: %w", err)
	}

	summary := fmt.Sprintf("tenants=%d overdue_marked=%d failures=%d", len(ids), marked, failures)
	if failures > 0 {
		return summary, fmt.Errorf("billing sweep had %d tenant failures", failures)
	}
	return summary, nil
}

// generateInvoices creates the next-period invoice for every trial or
// active tenant whose current entitlement has elapsed. Generation is
// idempotent, so rerunning after a partial failure only fills the gaps; the
// active-month trust credit is tied to the invoice actually being created.
func (d JobDeps) generateInvoices(ctx context.Context) (string, error) {
	now := d.Clock.Now()

	var tenants []models.Tenant
	if err := d.DB.WithContext(ctx).
		Where("status IN ?", []string{models.TenantStatusTrial, models.TenantStatusActive}).
		Order("id").
		Find(&tenants).Error; err != nil {
		return "", err
	}

	generated, failures := 0, 0
	for _, tenant := range tenants {
		end := entitlementEnd(&tenant)
		if end == nil || end.After(now) {
			continue
		}
		_, created, err := d.Ledger.GenerateInvoice(ctx, tenant.ID, *end)
		if err != nil {
			failures++
			continue
		}
		if !created {
			continue
		}
		generated++
		if tenant.Status == models.TenantStatusActive {
			if err := d.Lifecycle.CreditActiveMonth(ctx, tenant.ID); err != nil {
				failures++
			}
		}
	}

	summary := fmt.Sprintf("candidates=%d generated=%d failures=%d", len(tenants), generated, failures)
	if failures > 0 {
		return summary, fmt.Errorf("invoice generation had %d failures", failures)
	}
	return summary, nil
}

// sendReminders dispatches overdue notices at the day thresholds. It never
// mutates billing state.
func (d JobDeps) sendReminders(ctx context.Context) (string, error) {
	sent, err := d.Ledger.SendOverdueReminders(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reminders_sent=%d", sent), nil
}

func entitlementEnd(tenant *models.Tenant) *time.Time {
	if tenant.SubscriptionEndsAt != nil {
		return tenant.SubscriptionEndsAt
	}
	return tenant.TrialEndsAt
}

func parseTriggerTime(value string, defaultHour, defaultMinute int) (int, int) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return defaultHour, defaultMinute
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return defaultHour, defaultMinute
	}
	return hour, minute
}
