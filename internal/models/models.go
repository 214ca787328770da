package models

import (
	"time"
)

// Tenant subscription statuses
const (
	TenantStatusTrial     = "trial"
	TenantStatusActive    = "active"
	TenantStatusExpired   = "expired"
	TenantStatusSuspended = "suspended"
	TenantStatusCancelled = "cancelled"
)

// Invoice statuses
const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusOverdue   = "overdue"
	InvoiceStatusCancelled = "cancelled"
	InvoiceStatusRefunded  = "refunded"
)

// JobRun outcomes
const (
	JobOutcomeRunning = "running"
	JobOutcomeSuccess = "success"
	JobOutcomeFailed  = "failed"
)

// JobRun triggers
const (
	JobTriggerCron   = "cron"
	JobTriggerManual = "manual"
)

// Tenant is one subscribing salon business. Status only changes through
// the lifecycle transition functions; it is never written directly by
// handlers.
type Tenant struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Name   string `json:"name"`
	Slug   string `json:"slug" gorm:"uniqueIndex"`
	Email  string `json:"email" gorm:"index"`
	Status string `json:"status" gorm:"default:'trial';index"`

	TrialEndsAt        *time.Time `json:"trial_ends_at"`
	SubscriptionEndsAt *time.Time `json:"subscription_ends_at"`

	CurrentDebt int64 `json:"current_debt"` // amount in RSD
	DaysOverdue int   `json:"days_overdue" gorm:"default:0"`

	// Set only while suspended
	BlockedAt   *time.Time `json:"blocked_at"`
	BlockReason string     `json:"block_reason"`

	// Trust ("na reč") fields
	TrustScore                int        `json:"trust_score" gorm:"default:50"`
	TrustActivatedAt          *time.Time `json:"trust_activated_at"`
	TrustActivationCount      int        `json:"trust_activation_count" gorm:"default:0"`
	LastTrustActivationPeriod string     `json:"last_trust_activation_period"` // year-month token, e.g. "2026-08"
	ConsecutiveOnTimePayments int        `json:"consecutive_on_time_payments" gorm:"default:0"`

	// Nullable pricing overrides, resolved against PlatformSettings
	CustomBasePrice      *int64     `json:"custom_base_price"`
	CustomLocationPrice  *int64     `json:"custom_location_price"`
	CustomPriceValidFrom *time.Time `json:"custom_price_valid_from"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTrustActive reports whether the 48h unsecured-credit window is open.
func (t *Tenant) IsTrustActive() bool {
	return t.Status == TenantStatusSuspended && t.TrustActivatedAt != nil
}

// IsTerminal reports whether the tenant reached its terminal state.
func (t *Tenant) IsTerminal() bool {
	return t.Status == TenantStatusCancelled
}

// Location is a physical salon location; the active count feeds pricing.
type Location struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TenantID  uint      `json:"tenant_id" gorm:"index"`
	Tenant    Tenant    `json:"-" gorm:"foreignKey:TenantID"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	City      string    `json:"city"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Invoice is one billing-period charge for a tenant. Exactly one invoice
// exists per (tenant, period start); generation is idempotent.
type Invoice struct {
	ID            uint   `json:"id" gorm:"primaryKey"`
	InvoiceNumber string `json:"invoice_number" gorm:"uniqueIndex"` // SH-{year}-{sequence}
	TenantID      uint   `json:"tenant_id" gorm:"uniqueIndex:ux_invoices_tenant_period,priority:1"`
	Tenant        Tenant `json:"-" gorm:"foreignKey:TenantID"`

	PeriodStart time.Time `json:"period_start" gorm:"uniqueIndex:ux_invoices_tenant_period,priority:2"`
	PeriodEnd   time.Time `json:"period_end"`
	DueDate     time.Time `json:"due_date"`

	Items          []InvoiceItem `json:"items" gorm:"foreignKey:InvoiceID"`
	Subtotal       int64         `json:"subtotal"`        // amount in RSD
	DiscountAmount int64         `json:"discount_amount"` // amount in RSD
	TotalAmount    int64         `json:"total_amount"`    // amount in RSD

	Status     string     `json:"status" gorm:"default:'pending';index"`
	PaidAt     *time.Time `json:"paid_at"`
	VerifiedBy *uint      `json:"verified_by"`
	VerifiedAt *time.Time `json:"verified_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Invoice item kinds
const (
	InvoiceItemBase     = "base"
	InvoiceItemLocation = "location"
	InvoiceItemDiscount = "discount"
)

// InvoiceItem is one line on an invoice.
type InvoiceItem struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	InvoiceID   uint   `json:"invoice_id" gorm:"index"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"` // amount in RSD, negative for discounts
}

// InvoiceCounter allocates strictly increasing invoice sequence numbers per
// calendar year. The row is locked during allocation; sequence numbers are
// never reused even when an invoice is later cancelled.
type InvoiceCounter struct {
	Year         int   `json:"year" gorm:"primaryKey"`
	LastSequence int64 `json:"last_sequence"`
}

// JobRun is one attempted execution of a scheduled job. A partial unique
// index allows at most one row per job_id with the running outcome; that
// row is the scheduler's concurrency gate.
type JobRun struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	JobID      string     `json:"job_id" gorm:"index:idx_job_runs_job_outcome,priority:1;uniqueIndex:ux_job_runs_running,where:outcome = 'running'"`
	RunID      string     `json:"run_id" gorm:"uniqueIndex"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Outcome    string     `json:"outcome" gorm:"index:idx_job_runs_job_outcome,priority:2"`
	Trigger    string     `json:"trigger"`
	Detail     string     `json:"detail"`
	CreatedAt  time.Time  `json:"created_at"`
}

// PlatformSettings is the platform-wide pricing/timing singleton. It is
// mutated only by administrative configuration, never by the engines.
type PlatformSettings struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	BasePrice       int64     `json:"base_price"`     // amount in RSD
	LocationPrice   int64     `json:"location_price"` // amount in RSD, per location beyond the first
	TrialDays       int       `json:"trial_days"`
	GracePeriodDays int       `json:"grace_period_days"`
	PaymentDueDays  int       `json:"payment_due_days"`
	Currency        string    `json:"currency" gorm:"default:'RSD'"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Notification categories
const (
	NotificationCategoryBilling = "billing"
	NotificationCategoryTrust   = "trust"
	NotificationCategoryAccount = "account"
)

// Notification statuses
const (
	NotificationStatusSent   = "sent"
	NotificationStatusFailed = "failed"
)

// Notification is a persisted outbound message to a tenant. Delivery is
// best-effort; a failed row never blocks billing state.
type Notification struct {
	ID               uint       `json:"id" gorm:"primaryKey"`
	TenantID         uint       `json:"tenant_id" gorm:"index"`
	Category         string     `json:"category" gorm:"index"`
	Priority         string     `json:"priority" gorm:"default:'normal'"`
	Title            string     `json:"title"`
	Body             string     `json:"body"`
	RelatedInvoiceID *uint      `json:"related_invoice_id"`
	Status           string     `json:"status" gorm:"default:'sent';index"`
	Error            string     `json:"error,omitempty"`
	SentAt           *time.Time `json:"sent_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// AuditLog records administrative actions against billing records.
type AuditLog struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UserID     uint      `json:"user_id"`
	User       User      `json:"user" gorm:"foreignKey:UserID"`
	Action     string    `json:"action"`
	Resource   string    `json:"resource"`
	ResourceID uint      `json:"resource_id"`
	Details    string    `json:"details"`
	IPAddress  string    `json:"ip_address"`
	Timestamp  time.Time `json:"timestamp"`
	CreatedAt  time.Time `json:"created_at"`
}

// User is a platform account: platform admins and tenant owners.
type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex"`
	Password  string    `json:"-"`
	Name      string    `json:"name"`
	Role      string    `json:"role" gorm:"default:'tenant'"` // admin, tenant
	TenantID  *uint     `json:"tenant_id" gorm:"index"`
	Active    bool      `json:"active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All returns every model for migration.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Tenant{},
		&Location{},
		&Invoice{},
		&InvoiceItem{},
		&InvoiceCounter{},
		&JobRun{},
		&PlatformSettings{},
		&Notification{},
		&AuditLog{},
	}
}
