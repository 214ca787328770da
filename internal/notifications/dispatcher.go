package notifications

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	apperrors "salonhub-backend/internal/errors"
	"salonhub-backend/internal/models"
)

// Message is one outbound notification request from the billing core.
type Message struct {
	TenantID         uint
	Category         string
	Priority         string
	Title            string
	Body             string
	RelatedInvoiceID *uint
}

// Dispatcher accepts send requests from the billing engines. A failure is
// reported back for logging but callers must treat it as non-fatal.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// StoreDispatcher persists notifications for the web/admin layer to read.
// Actual transport (email, SMS) is handled by external delivery workers that
// consume these rows.
type StoreDispatcher struct {
	db  *gorm.DB
	log *logrus.Entry
}

// NewStoreDispatcher creates a dispatcher writing to db.
func NewStoreDispatcher(db *gorm.DB) *StoreDispatcher {
	return &StoreDispatcher{
		db:  db,
		log: logrus.WithField("component", "notifications"),
	}
}

// Send records the notification. It runs outside billing transactions so a
// storage failure can never roll back billing state.
func (d *StoreDispatcher) Send(ctx context.Context, msg Message) error {
	if msg.Priority == "" {
		msg.Priority = "normal"
	}

	row := models.Notification{
		TenantID:         msg.TenantID,
		Category:         msg.Category,
		Priority:         msg.Priority,
		Title:            msg.Title,
		Body:             msg.Body,
		RelatedInvoiceID: msg.RelatedInvoiceID,
		Status:           models.NotificationStatusSent,
	}
	now := d.db.NowFunc()
	row.SentAt = &now

	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"tenant_id": msg.TenantID,
			"category":  msg.Category,
		}).Error("failed to record notification")
		return apperrors.DispatchFailed(err)
	}

	d.log.WithFields(logrus.Fields{
		"tenant_id": msg.TenantID,
		"category":  msg.Category,
		"title":     msg.Title,
	}).Debug("notification recorded")
	return nil
}
