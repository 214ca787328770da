package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"salonhub-backend/internal/clock"
	apperrors "salonhub-backend/internal/errors"
	"salonhub-backend/internal/models"
	"salonhub-backend/internal/notifications"
	"salonhub-backend/internal/settings"
	"salonhub-backend/internal/testutil"
)

type fixture struct {
	db  *gorm.DB
	clk *clock.Mock
	svc *Service
}

func newFixture(t *testing.T) *fixture {
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

	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(db, clk, settings.NewProvider(db), notifications.NewStoreDispatcher(db))
	return &fixture{db: db, clk: clk, svc: svc}
}

func (f *fixture) createTenant(t *testing.T, tenant models.Tenant) uint {
	t.Helper()
	if tenant.Slug == "" {
		tenant.Slug = "studio-lela"
	}
	if tenant.TrustScore == 0 {
		tenant.TrustScore = 50
	}
	require.NoError(t, f.db.Create(&tenant).Error)
	return tenant.ID
}

func (f *fixture) reload(t *testing.T, id uint) models.Tenant {
	t.Helper()
	var tenant models.Tenant
	require.NoError(t, f.db.First(&tenant, id).Error)
	return tenant
}

func TestRegisterStartsTrial(t *testing.T) {
	f := newFixture(t)

	tenant, err := f.svc.Register(context.Background(), "Studio Lela", "studio-lela", "lela@example.rs")
	require.NoError(t, err)

	assert.Equal(t, models.TenantStatusTrial, tenant.Status)
	assert.Equal(t, 50, tenant.TrustScore)
	require.NotNil(t, tenant.TrialEndsAt)
	assert.Equal(t, f.clk.Now().AddDate(0, 0, 60), *tenant.TrialEndsAt)
}

// A tenant that misses payment walks through expired, then suspended after
// the grace period, and a late payment brings it back to active with a
// reduced trust score.
func TestExpiryGraceAndLatePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	end := f.clk.Now().AddDate(0, 0, -1)
	id := f.createTenant(t, models.Tenant{
		Status:             models.TenantStatusActive,
		SubscriptionEndsAt: &end,
		TrustScore:         60,
	})

	require.NoError(t, f.svc.EvaluateExpiry(ctx, id))
	assert.Equal(t, models.TenantStatusExpired, f.reload(t, id).Status)

	// Still inside grace: no suspension yet.
	require.NoError(t, f.svc.EvaluateGraceExpiry(ctx, id))
	assert.Equal(t, models.TenantStatusExpired, f.reload(t, id).Status)

	f.clk.Advance(8 * 24 * time.Hour)
	require.NoError(t, f.svc.EvaluateGraceExpiry(ctx, id))
	got := f.reload(t, id)
	assert.Equal(t, models.TenantStatusSuspended, got.Status)
	assert.NotNil(t, got.BlockedAt)
	assert.NotEmpty(t, got.BlockReason)

	// Late payment: due date was 9 days ago, so the 8-14 band applies.
	due := f.clk.Now().AddDate(0, 0, -9)
	periodEnd := f.clk.Now().AddDate(0, 1, 0)
	require.NoError(t, f.svc.ReceivePayment(ctx, id, 3600, due, periodEnd))

	got = f.reload(t, id)
	assert.Equal(t, models.TenantStatusActive, got.Status)
	assert.Nil(t, got.BlockedAt)
	assert.Empty(t, got.BlockReason)
	assert.Equal(t, 50, got.TrustScore, "60 - 10 for paying 8-14 days late")
	assert.Equal(t, 0, got.ConsecutiveOnTimePayments)
	require.NotNil(t, got.SubscriptionEndsAt)
	assert.Equal(t, periodEnd.Unix(), got.SubscriptionEndsAt.Unix())
}

func TestTrialExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tenant, err := f.svc.Register(ctx, "Studio Lela", "studio-lela", "lela@example.rs")
	require.NoError(t, err)

	// One day short of the trial end: nothing happens.
	f.clk.Set(tenant.TrialEndsAt.Add(-24 * time.Hour))
	require.NoError(t, f.svc.EvaluateExpiry(ctx, tenant.ID))
	assert.Equal(t, models.TenantStatusTrial, f.reload(t, tenant.ID).Status)

	f.clk.Set(tenant.TrialEndsAt.Add(24 * time.Hour))
	require.NoError(t, f.svc.EvaluateExpiry(ctx, tenant.ID))
	got := f.reload(t, tenant.ID)
	assert.Equal(t, models.TenantStatusExpired, got.Status)
	assert.Equal(t, 0, got.DaysOverdue)
}

func TestEvaluateExpiryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	end := f.clk.Now().AddDate(0, 0, -1)
	id := f.createTenant(t, models.Tenant{
		Status:             models.TenantStatusActive,
		SubscriptionEndsAt: &end,
	})

	require.NoError(t, f.svc.EvaluateExpiry(ctx, id))
	first := f.reload(t, id)
	require.NoError(t, f.svc.EvaluateExpiry(ctx, id))
	second := f.reload(t, id)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.TrustScore, second.TrustScore)

	// Expiry never touches a suspended or cancelled tenant.
	require.NoError(t, f.svc.EvaluateGraceExpiry(ctx, id))
	require.NoError(t, f.svc.EvaluateExpiry(ctx, id))
}

func TestConsecutiveOnTimeBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.createTenant(t, models.Tenant{
		Status:     models.TenantStatusActive,
		TrustScore: 50,
	})

	due := f.clk.Now().AddDate(0, 0, 5)
	periodEnd := f.clk.Now().AddDate(0, 1, 0)

	// First on-time payment: +5, no bonus yet.
	require.NoError(t, f.svc.ReceivePayment(ctx, id, 3600, due, periodEnd))
	assert.Equal(t, 55, f.reload(t, id).TrustScore)

	// Second consecutive: +5 +2 bonus.
	f.clk.Advance(24 * time.Hour)
	require.NoError(t, f.svc.ReceivePayment(ctx, id, 3600, due.AddDate(0, 1, 0), periodEnd.AddDate(0, 1, 0)))
	got := f.reload(t, id)
	assert.Equal(t, 62, got.TrustScore)
	assert.Equal(t, 2, got.ConsecutiveOnTimePayments)
}

// Scenario: suspended tenant activates the 48h window; payment inside the
// window resolves it as paid.
func TestTrustWindowResolvedByPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.createTenant(t, models.Tenant{
		Status:     models.TenantStatusSuspended,
		TrustScore: 50,
	})

	require.NoError(t, f.svc.ActivateTrust(ctx, id))
	got := f.reload(t, id)
	require.NotNil(t, got.TrustActivatedAt)
	assert.Equal(t, 35, got.TrustScore, "50 - 15 activation cost")
	assert.Equal(t, 1, got.TrustActivationCount)

	// Pay 30 hours in, on time relative to the due date.
	f.clk.Advance(30 * time.Hour)
	due := f.clk.Now().AddDate(0, 0, 3)
	require.NoError(t, f.svc.ReceivePayment(ctx, id, 3600, due, f.clk.Now().AddDate(0, 1, 0)))

	got = f.reload(t, id)
	assert.Nil(t, got.TrustActivatedAt)
	assert.Equal(t, models.TenantStatusActive, got.Status)
	assert.Equal(t, 35, got.TrustScore, "35 - 5 trust-used + 5 on-time")
}

func TestTrustWindowExpiresUnpaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.createTenant(t, models.Tenant{
		Status:     models.TenantStatusSuspended,
		TrustScore: 50,
	})

	require.NoError(t, f.svc.ActivateTrust(ctx, id))

	// Inside the window nothing happens.
	f.clk.Advance(47 * time.Hour)
	require.NoError(t, f.svc.EvaluateTrustExpiry(ctx, id))
	assert.NotNil(t, f.reload(t, id).TrustActivatedAt)

	f.clk.Advance(2 * time.Hour)
	require.NoError(t, f.svc.EvaluateTrustExpiry(ctx, id))
	got := f.reload(t, id)
	assert.Nil(t, got.TrustActivatedAt)
	assert.Equal(t, 10, got.TrustScore, "35 - 25 expired unpaid")
	assert.Equal(t, models.TenantStatusSuspended, got.Status)
}

// Payment facts win over expiry facts: a payment landing after the 48h mark
// but before the sweep still resolves the window as paid.
func TestPaymentAfterWindowBeforeSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.createTenant(t, models.Tenant{
		Status:     models.TenantStatusSuspended,
		TrustScore: 50,
	})
	require.NoError(t, f.svc.ActivateTrust(ctx, id))

	f.clk.Advance(50 * time.Hour)
	due := f.clk.Now().AddDate(0, 0, 1)
	require.NoError(t, f.svc.ReceivePayment(ctx, id, 3600, due, f.clk.Now().AddDate(0, 1, 0)))

	got := f.reload(t, id)
	assert.Nil(t, got.TrustActivatedAt)
	assert.Equal(t, 35, got.TrustScore, "resolved as paid, not expired")

	// The sweep afterwards is a no-op.
	require.NoError(t, f.svc.EvaluateTrustExpiry(ctx, id))
	assert.Equal(t, 35, f.reload(t, id).TrustScore)
}

func TestActivateTrustOncePerMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.createTenant(t, models.Tenant{
		Status:     models.TenantStatusSuspended,
		TrustScore: 80,
	})

	require.NoError(t, f.svc.ActivateTrust(ctx, id))

	// Second activation with the window still open.
	err := f.svc.ActivateTrust(ctx, id)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))

	// Window expires; same calendar month still refuses.
	f.clk.Advance(49 * time.Hour)
	require.NoError(t, f.svc.EvaluateTrustExpiry(ctx, id))
	err = f.svc.ActivateTrust(ctx, id)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))

	// Next calendar month it works again.
	f.clk.Set(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, f.svc.ActivateTrust(ctx, id))
}

func TestActivateTrustRequiresSuspended(t *testing.T) {
	f := newFixture(t)

	id := f.createTenant(t, models.Tenant{Status: models.TenantStatusActive})
	err := f.svc.ActivateTrust(context.Background(), id)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
}

func TestCancelIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.createTenant(t, models.Tenant{Status: models.TenantStatusActive})
	require.NoError(t, f.svc.Cancel(ctx, id))
	assert.Equal(t, models.TenantStatusCancelled, f.reload(t, id).Status)

	err := f.svc.Cancel(ctx, id)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))

	err = f.svc.ReceivePayment(ctx, id, 3600, f.clk.Now(), f.clk.Now().AddDate(0, 1, 0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
}

func TestBlockAndUnblock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.createTenant(t, models.Tenant{Status: models.TenantStatusTrial})

	require.NoError(t, f.svc.Block(ctx, id, "payment dispute"))
	got := f.reload(t, id)
	assert.Equal(t, models.TenantStatusSuspended, got.Status)
	assert.Equal(t, "payment dispute", got.BlockReason)

	require.NoError(t, f.svc.Unblock(ctx, id))
	got = f.reload(t, id)
	assert.Equal(t, models.TenantStatusActive, got.Status)
	assert.Nil(t, got.BlockedAt)

	// Unblock is only legal from suspended.
	err := f.svc.Unblock(ctx, id)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidTransition))
}

func TestGetSubscriptionInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	end := f.clk.Now().AddDate(0, 0, 10)
	id := f.createTenant(t, models.Tenant{
		Status:             models.TenantStatusActive,
		SubscriptionEndsAt: &end,
		TrustScore:         72,
		CurrentDebt:        1200,
	})
	require.NoError(t, f.db.Create(&models.Location{TenantID: id, Name: "Centar", Active: true}).Error)
	require.NoError(t, f.db.Create(&models.Location{TenantID: id, Name: "Novi Beograd", Active: true}).Error)
	require.NoError(t, f.db.Create(&models.Location{TenantID: id, Name: "Zemun", Active: false}).Error)

	info, err := f.svc.GetSubscriptionInfo(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, models.TenantStatusActive, info.Status)
	assert.Equal(t, 10, info.DaysRemaining)
	assert.True(t, info.HasDebt)
	assert.False(t, info.IsBlocked)
	assert.Equal(t, 72, info.TrustScore)
	assert.Equal(t, "good", info.TrustLevel)
	assert.False(t, info.CanActivateTrust)
	assert.Equal(t, int64(3600+1800), info.MonthlyTotal, "inactive location is not billed")
	assert.Equal(t, "RSD", info.Currency)
}

func TestNotificationsAreRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	end := f.clk.Now().AddDate(0, 0, -1)
	id := f.createTenant(t, models.Tenant{
		Status:             models.TenantStatusActive,
		SubscriptionEndsAt: &end,
	})

	require.NoError(t, f.svc.EvaluateExpiry(ctx, id))

	var count int64
	f.db.Model(&models.Notification{}).Where("tenant_id = ?", id).Count(&count)
	assert.Equal(t, int64(1), count)
}
