package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"salonhub-backend/internal/clock"
	"salonhub-backend/internal/database"
	apperrors "salonhub-backend/internal/errors"
	"salonhub-backend/internal/lifecycle"
	"salonhub-backend/internal/models"
	"salonhub-backend/internal/notifications"
	"salonhub-backend/internal/pricing"
	"salonhub-backend/internal/settings"
)

// Ledger creates, numbers and transitions invoices. Numbering and status
// changes for one invoice always happen inside a single transaction so a
// payment verification cannot overlap the nightly overdue sweep.
type Ledger struct {
	db         *gorm.DB
	clk        clock.Clock
	settings   *settings.Provider
	lifecycle  *lifecycle.Service
	dispatcher notifications.Dispatcher
	log        *logrus.Entry
}

// New wires the invoice ledger.
func New(db *gorm.DB, clk clock.Clock, provider *settings.Provider, lc *lifecycle.Service, dispatcher notifications.Dispatcher) *Ledger {
	return &Ledger{
		db:         db,
		clk:        clk,
		settings:   provider,
		lifecycle:  lc,
		dispatcher: dispatcher,
		log:        logrus.WithField("component", "ledger"),
	}
}

// GenerateInvoice creates the invoice for (tenant, period). It is
// idempotent: an existing invoice for the period is returned unchanged with
// created false, so callers can tie side effects to the actual creation. A
// new invoice's total is added to the tenant's debt in the same
// transaction.
func (l *Ledger) GenerateInvoice(ctx context.Context, tenantID uint, periodStart time.Time) (*models.Invoice, bool, error) {
	cfg, err := l.settings.Get()
	if err != nil {
		return nil, false, fmt.Errorf("load platform settings: %w", err)
	}

	now := l.clk.Now()
	periodEnd := periodStart.AddDate(0, 1, 0)
	dueDate := periodStart.AddDate(0, 0, cfg.PaymentDueDays)

	var invoice models.Invoice
	var created bool
	err = database.WithRetry(ctx, l.db, func(tx *gorm.DB) error {
		// Idempotency check first: one invoice per (tenant, period)
		err := tx.Preload("Items").
			Where("tenant_id = ? AND period_start = ?", tenantID, periodStart).
			First(&invoice).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var tenant models.Tenant
		if err := database.ForUpdate(tx).First(&tenant, tenantID).Error; err != nil {
			return err
		}

		var locationCount int64
		if err := tx.Model(&models.Location{}).
			Where("tenant_id = ? AND active = ?", tenantID, true).
			Count(&locationCount).Error; err != nil {
			return err
		}

		items := pricing.LineItems(&tenant, cfg, int(locationCount), now)

		var subtotal, discount, itemSum int64
		for _, item := range items {
			itemSum += item.Amount
			if item.Kind == models.InvoiceItemDiscount {
				discount += -item.Amount
			} else {
				subtotal += item.Amount
			}
		}
		total := subtotal - discount
		if total != itemSum {
			return apperrors.IntegrityViolation(fmt.Sprintf(
				"invoice total %d does not match line items %d for tenant %d", total, itemSum, tenantID))
		}

		number, err := l.nextInvoiceNumber(tx, periodStart.Year())
		if err != nil {
			return err
		}

		invoice = models.Invoice{
			InvoiceNumber:  number,
			TenantID:       tenantID,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			DueDate:        dueDate,
			Items:          items,
			Subtotal:       subtotal,
			DiscountAmount: discount,
			TotalAmount:    total,
			Status:         models.InvoiceStatusPending,
		}
		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}

		tenant.CurrentDebt += total
		if err := tx.Save(&tenant).Error; err != nil {
			return err
		}

		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		l.log.WithFields(logrus.Fields{
			"invoice_number": invoice.InvoiceNumber,
			"tenant_id":      tenantID,
			"total":          invoice.TotalAmount,
		}).Info("invoice generated")
		l.notify(ctx, tenantID, "normal", "New invoice",
			fmt.Sprintf("Invoice %s for %d %s is due by %s.",
				invoice.InvoiceNumber, invoice.TotalAmount, cfg.Currency, dueDate.Format("02.01.2006")),
			&invoice.ID)
	}
	return &invoice, created, nil
}

// nextInvoiceNumber allocates the next sequence for the invoice's year. The
// counter row is locked so concurrent generation cannot hand out duplicate
// numbers; sequences are never reused.
func (l *Ledger) nextInvoiceNumber(tx *gorm.DB, year int) (string, error) {
	var counter models.InvoiceCounter
	err := database.ForUpdate(tx).
		Where("year = ?", year).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = models.InvoiceCounter{Year: year}
		if err := tx.Create(&counter).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	counter.LastSequence++
	if err := tx.Save(&counter).Error; err != nil {
		return "", err
	}

	return fmt.Sprintf("SH-%d-%05d", year, counter.LastSequence), nil
}

// MarkOverdue flips pending invoices past their due date to overdue and
// recomputes the owing tenant's days_overdue. Returns how many invoices
// transitioned.
func (l *Ledger) MarkOverdue(ctx context.Context) (int, error) {
	now := l.clk.Now()

	var ids []uint
	if err := l.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("status = ? AND due_date < ?", models.InvoiceStatusPending, now).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	marked := 0
	for _, id := range ids {
		if err := l.markInvoiceOverdue(ctx, id, now); err != nil {
			l.log.WithError(err).WithField("invoice_id", id).Error("failed to mark invoice overdue")
			continue
		}
		marked++
	}
	return marked, nil
}

func (l *Ledger) markInvoiceOverdue(ctx context.Context, invoiceID uint, now time.Time) error {
	return database.WithRetry(ctx, l.db, func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := database.ForUpdate(tx).First(&invoice, invoiceID).Error; err != nil {
			return err
		}
		// Re-check under lock: a concurrent verification may have paid it
		if invoice.Status != models.InvoiceStatusPending || !invoice.DueDate.Before(now) {
			return nil
		}

		invoice.Status = models.InvoiceStatusOverdue
		if err := tx.Save(&invoice).Error; err != nil {
			return err
		}

		var tenant models.Tenant
		if err := database.ForUpdate(tx).First(&tenant, invoice.TenantID).Error; err != nil {
			return err
		}
		days := int(now.Sub(invoice.DueDate).Hours() / 24)
		if days > tenant.DaysOverdue {
			tenant.DaysOverdue = days
		}
		return tx.Save(&tenant).Error
	})
}

// VerifyPayment is the admin action confirming a bank transfer: the invoice
// becomes paid and the payment feeds the tenant lifecycle in the same
// transaction.
func (l *Ledger) VerifyPayment(ctx context.Context, invoiceID, adminID uint) error {
	now := l.clk.Now()
	var tenantID uint

	err := database.WithRetry(ctx, l.db, func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := database.ForUpdate(tx).First(&invoice, invoiceID).Error; err != nil {
			return err
		}
		if invoice.Status != models.InvoiceStatusPending && invoice.Status != models.InvoiceStatusOverdue {
			return apperrors.InvalidTransition(invoice.InvoiceNumber, invoice.Status, "verify payment")
		}

		invoice.Status = models.InvoiceStatusPaid
		invoice.PaidAt = &now
		invoice.VerifiedBy = &adminID
		invoice.VerifiedAt = &now
		if err := tx.Save(&invoice).Error; err != nil {
			return err
		}

		var tenant models.Tenant
		if err := database.ForUpdate(tx).First(&tenant, invoice.TenantID).Error; err != nil {
			return err
		}
		if err := l.lifecycle.ApplyPayment(&tenant, invoice.TotalAmount, invoice.DueDate, invoice.PeriodEnd); err != nil {
			return err
		}
		if err := tx.Save(&tenant).Error; err != nil {
			return err
		}

		tenantID = invoice.TenantID
		return tx.Create(&models.AuditLog{
			UserID:     adminID,
			Action:     "verify_payment",
			Resource:   "invoice",
			ResourceID: invoice.ID,
			Details:    fmt.Sprintf("invoice %s marked paid", invoice.InvoiceNumber),
			Timestamp:  now,
		}).Error
	})
	if err != nil {
		return err
	}

	l.log.WithFields(logrus.Fields{
		"invoice_id": invoiceID,
		"admin_id":   adminID,
	}).Info("payment verified")
	l.notify(ctx, tenantID, "normal", "Payment received",
		"Your payment was verified and your subscription is active.", &invoiceID)
	return nil
}

// RejectPayment leaves the invoice status untouched and records the
// rejection for audit; any pending proof-of-payment marker is an external
// concern cleared by the admin surface.
func (l *Ledger) RejectPayment(ctx context.Context, invoiceID, adminID uint, reason string) error {
	now := l.clk.Now()
	var invoice models.Invoice
	if err := l.db.WithContext(ctx).First(&invoice, invoiceID).Error; err != nil {
		return err
	}

	if err := l.db.WithContext(ctx).Create(&models.AuditLog{
		UserID:     adminID,
		Action:     "reject_payment",
		Resource:   "invoice",
		ResourceID: invoice.ID,
		Details:    reason,
		Timestamp:  now,
	}).Error; err != nil {
		return err
	}

	l.log.WithFields(logrus.Fields{
		"invoice_id": invoiceID,
		"admin_id":   adminID,
	}).Info("payment rejected")
	l.notify(ctx, invoice.TenantID, "high", "Payment rejected",
		"Your submitted payment could not be verified. Please contact support.", &invoiceID)
	return nil
}

// Refund moves a paid invoice to refunded; any other source state is
// rejected. Refunded invoices are never mutated again.
func (l *Ledger) Refund(ctx context.Context, invoiceID, adminID uint) error {
	now := l.clk.Now()
	return database.WithRetry(ctx, l.db, func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := database.ForUpdate(tx).First(&invoice, invoiceID).Error; err != nil {
			return err
		}
		if invoice.Status != models.InvoiceStatusPaid {
			return apperrors.InvalidTransition(invoice.InvoiceNumber, invoice.Status, "refund")
		}

		invoice.Status = models.InvoiceStatusRefunded
		if err := tx.Save(&invoice).Error; err != nil {
			return err
		}

		return tx.Create(&models.AuditLog{
			UserID:     adminID,
			Action:     "refund_invoice",
			Resource:   "invoice",
			ResourceID: invoice.ID,
			Details:    fmt.Sprintf("invoice %s refunded", invoice.InvoiceNumber),
			Timestamp:  now,
		}).Error
	})
}

// Cancel voids an unpaid invoice: pending or overdue becomes cancelled and
// the outstanding amount comes back off the tenant's debt. Paid, refunded
// and already-cancelled invoices are rejected. Cancelled invoices are never
// mutated again and their sequence number is not reused.
func (l *Ledger) Cancel(ctx context.Context, invoiceID, adminID uint, reason string) error {
	now := l.clk.Now()
	var tenantID uint

	err := database.WithRetry(ctx, l.db, func(tx *gorm.DB) error {
		var invoice models.Invoice
		if err := database.ForUpdate(tx).First(&invoice, invoiceID).Error; err != nil {
			return err
		}
		if invoice.Status != models.InvoiceStatusPending && invoice.Status != models.InvoiceStatusOverdue {
			return apperrors.InvalidTransition(invoice.InvoiceNumber, invoice.Status, "cancel")
		}

		invoice.Status = models.InvoiceStatusCancelled
		if err := tx.Save(&invoice).Error; err != nil {
			return err
		}

		var tenant models.Tenant
		if err := database.ForUpdate(tx).First(&tenant, invoice.TenantID).Error; err != nil {
			return err
		}
		tenant.CurrentDebt -= invoice.TotalAmount
		if tenant.CurrentDebt < 0 {
			tenant.CurrentDebt = 0
		}
		if err := tx.Save(&tenant).Error; err != nil {
			return err
		}

		if reason == "" {
			reason = fmt.Sprintf("invoice %s cancelled", invoice.InvoiceNumber)
		}
		tenantID = invoice.TenantID
		return tx.Create(&models.AuditLog{
			UserID:     adminID,
			Action:     "cancel_invoice",
			Resource:   "invoice",
			ResourceID: invoice.ID,
			Details:    reason,
			Timestamp:  now,
		}).Error
	})
	if err != nil {
		return err
	}

	l.log.WithFields(logrus.Fields{
		"invoice_id": invoiceID,
		"admin_id":   adminID,
	}).Info("invoice cancelled")
	l.notify(ctx, tenantID, "normal", "Invoice cancelled",
		"An invoice on your account was cancelled and is no longer due.", &invoiceID)
	return nil
}

// OverdueReminderThresholds are the days-overdue marks at which the
// reminder job dispatches a notification.
var OverdueReminderThresholds = []int{3, 7, 14}

// SendOverdueReminders dispatches reminders for overdue invoices sitting
// exactly at a threshold. It never mutates billing state.
func (l *Ledger) SendOverdueReminders(ctx context.Context) (int, error) {
	now := l.clk.Now()

	var invoices []models.Invoice
	if err := l.db.WithContext(ctx).
		Where("status = ?", models.InvoiceStatusOverdue).
		Find(&invoices).Error; err != nil {
		return 0, err
	}

	sent := 0
	for _, invoice := range invoices {
		days := int(now.Sub(invoice.DueDate).Hours() / 24)
		if !atThreshold(days) {
			continue
		}
		l.notify(ctx, invoice.TenantID, "high", "Payment reminder",
			fmt.Sprintf("Invoice %s is %d days overdue.", invoice.InvoiceNumber, days), &invoice.ID)
		sent++
	}
	return sent, nil
}

func atThreshold(days int) bool {
	for _, t := range OverdueReminderThresholds {
		if days == t {
			return true
		}
	}
	return false
}

func (l *Ledger) notify(ctx context.Context, tenantID uint, priority, title, body string, invoiceID *uint) {
	if l.dispatcher == nil {
		return
	}
	if err := l.dispatcher.Send(ctx, notifications.Message{
		TenantID:         tenantID,
		Category:         models.NotificationCategoryBilling,
		Priority:         priority,
		Title:            title,
		Body:             body,
		RelatedInvoiceID: invoiceID,
	}); err != nil {
		l.log.WithError(err).WithField("tenant_id", tenantID).Error("notification dispatch failed")
	}
}
