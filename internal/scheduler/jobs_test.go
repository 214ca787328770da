package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"salonhub-backend/internal/clock"
	"salonhub-backend/internal/ledger"
	"salonhub-backend/internal/lifecycle"
	"salonhub-backend/internal/models"
	"salonhub-backend/internal/notifications"
	"salonhub-backend/internal/settings"
	"salonhub-backend/internal/testutil"
)

type jobFixture struct {
	db   *gorm.DB
	clk  *clock.Mock
	s    *Scheduler
	deps JobDeps
}

func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()

	db := testutil.OpenDB(t)
	require.NoError(t, db.Create(&models.PlatformSettings{
		BasePrice:       3600,
		LocationPrice:   1800,
		TrialDays:       60,
		GracePeriodDays: 7,
		PaymentDueDays:  14,
		Currency:        "RSD",
	}).Error)

	clk := clock.NewMock(time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC))
	provider := settings.NewProvider(db)
	dispatcher := notifications.NewStoreDispatcher(db)
	lc := lifecycle.NewService(db, clk, provider, dispatcher)
	lg := ledger.New(db, clk, provider, lc, dispatcher)

	s := New(db, clk, 30*time.Minute)
	deps := JobDeps{DB: db, Clock: clk, Lifecycle: lc, Ledger: lg}
	RegisterBillingJobs(s, deps)
	return &jobFixture{db: db, clk: clk, s: s, deps: deps}
}

func TestRegisterBillingJobs(t *testing.T) {
	f := newJobFixture(t)

	for _, id := range []string{JobBillingDaily, JobGenerateInvoices, JobSendReminders} {
		assert.True(t, f.s.Known(id), id)
	}
	assert.False(t, f.s.Known("other"))
}

func TestBillingDailySweep(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()

	// One tenant past its subscription end, one healthy, one cancelled.
	past := f.clk.Now().AddDate(0, 0, -1)
	future := f.clk.Now().AddDate(0, 0, 20)

	expired := models.Tenant{Slug: "expired", Status: models.TenantStatusActive, SubscriptionEndsAt: &past, TrustScore: 50}
	healthy := models.Tenant{Slug: "healthy", Status: models.TenantStatusActive, SubscriptionEndsAt: &future, TrustScore: 50}
	cancelled := models.Tenant{Slug: "gone", Status: models.TenantStatusCancelled, TrustScore: 50}
	require.NoError(t, f.db.Create(&expired).Error)
	require.NoError(t, f.db.Create(&healthy).Error)
	require.NoError(t, f.db.Create(&cancelled).Error)

	require.NoError(t, f.s.RunJob(ctx, JobBillingDaily, models.JobTriggerCron))

	var got models.Tenant
	require.NoError(t, f.db.First(&got, expired.ID).Error)
	assert.Equal(t, models.TenantStatusExpired, got.Status)

	require.NoError(t, f.db.First(&got, healthy.ID).Error)
	assert.Equal(t, models.TenantStatusActive, got.Status)

	require.NoError(t, f.db.First(&got, cancelled.ID).Error)
	assert.Equal(t, models.TenantStatusCancelled, got.Status, "cancelled tenants are never swept")

	var run models.JobRun
	require.NoError(t, f.db.Where("job_id = ?", JobBillingDaily).First(&run).Error)
	assert.Equal(t, models.JobOutcomeSuccess, run.Outcome)
	assert.Contains(t, run.Detail, "tenants=2")
}

func TestGenerateInvoicesJob(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()

	due := f.clk.Now().AddDate(0, 0, -1)
	notYet := f.clk.Now().AddDate(0, 0, 10)

	renewing := models.Tenant{Slug: "renewing", Status: models.TenantStatusActive, SubscriptionEndsAt: &due, TrustScore: 50}
	early := models.Tenant{Slug: "early", Status: models.TenantStatusActive, SubscriptionEndsAt: &notYet, TrustScore: 50}
	require.NoError(t, f.db.Create(&renewing).Error)
	require.NoError(t, f.db.Create(&early).Error)
	require.NoError(t, f.db.Create(&models.Location{TenantID: renewing.ID, Name: "Centar", Active: true}).Error)

	require.NoError(t, f.s.RunJob(ctx, JobGenerateInvoices, models.JobTriggerCron))

	var invoices []models.Invoice
	require.NoError(t, f.db.Find(&invoices).Error)
	require.Len(t, invoices, 1, "only the elapsed entitlement is invoiced")
	assert.Equal(t, renewing.ID, invoices[0].TenantID)
	assert.Equal(t, due.Unix(), invoices[0].PeriodStart.Unix())

	var got models.Tenant
	require.NoError(t, f.db.First(&got, renewing.ID).Error)
	assert.Equal(t, 51, got.TrustScore, "active month credit applied")

	// Re-running generates nothing new and does not re-credit the month.
	require.NoError(t, f.s.RunJob(ctx, JobGenerateInvoices, models.JobTriggerManual))
	require.NoError(t, f.db.Find(&invoices).Error)
	assert.Len(t, invoices, 1)

	require.NoError(t, f.db.First(&got, renewing.ID).Error)
	assert.Equal(t, 51, got.TrustScore, "trust credit is tied to invoice creation")
}

func TestSendRemindersJob(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()

	tenant := models.Tenant{Slug: "late", Status: models.TenantStatusActive, TrustScore: 50}
	require.NoError(t, f.db.Create(&tenant).Error)

	invoice, _, err := f.deps.Ledger.GenerateInvoice(ctx, tenant.ID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	f.clk.Set(invoice.DueDate.AddDate(0, 0, 7))
	require.NoError(t, f.s.RunJob(ctx, JobBillingDaily, models.JobTriggerCron))

	before := countNotifications(f.db, tenant.ID)
	require.NoError(t, f.s.RunJob(ctx, JobSendReminders, models.JobTriggerCron))
	assert.Equal(t, before+1, countNotifications(f.db, tenant.ID), "day 7 threshold reminder")

	var run models.JobRun
	require.NoError(t, f.db.Where("job_id = ?", JobSendReminders).Order("started_at DESC").First(&run).Error)
	assert.Contains(t, run.Detail, "reminders_sent=1")
}

func countNotifications(db *gorm.DB, tenantID uint) int64 {
	var count int64
	db.Model(&models.Notification{}).Where("tenant_id = ?", tenantID).Count(&count)
	return count
}
