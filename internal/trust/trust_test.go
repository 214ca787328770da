package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"salonhub-backend/internal/models"
)

func TestApplyClampsScore(t *testing.T) {
	assert.Equal(t, 0, Apply(10, EventTrustExpiredUnpaid), "score never drops below 0")
	assert.Equal(t, 100, Apply(98, EventPaymentOnTime), "score never exceeds 100")
	assert.Equal(t, 55, Apply(50, EventPaymentOnTime))
	assert.Equal(t, 35, Apply(50, EventTrustActivationUsed))
}

func TestLevel(t *testing.T) {
	tests := []struct {
		score int
		want  string
	}{
		{100, LevelExcellent},
		{80, LevelExcellent},
		{79, LevelGood},
		{60, LevelGood},
		{59, LevelWarning},
		{40, LevelWarning},
		{39, LevelRisky},
		{20, LevelRisky},
		{19, LevelCritical},
		{0, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Level(tt.score), "score %d", tt.score)
	}
}

func TestLatenessEvent(t *testing.T) {
	assert.Equal(t, EventPaymentOnTime, LatenessEvent(0))
	assert.Equal(t, EventPaymentOnTime, LatenessEvent(-3))
	assert.Equal(t, EventLate1To7, LatenessEvent(1))
	assert.Equal(t, EventLate1To7, LatenessEvent(7))
	assert.Equal(t, EventLate8To14, LatenessEvent(8))
	assert.Equal(t, EventLate8To14, LatenessEvent(14))
	assert.Equal(t, EventLate15To30, LatenessEvent(15))
	assert.Equal(t, EventLate15To30, LatenessEvent(30))
	assert.Equal(t, EventLate15To30, LatenessEvent(90), "beyond 30 days scores as the worst band")
}

func TestCanActivate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	open := now.Add(-1 * time.Hour)

	t.Run("suspended tenant without prior activation", func(t *testing.T) {
		tenant := models.Tenant{Status: models.TenantStatusSuspended}
		assert.True(t, CanActivate(&tenant, now))
	})

	t.Run("active tenant cannot activate", func(t *testing.T) {
		tenant := models.Tenant{Status: models.TenantStatusActive}
		assert.False(t, CanActivate(&tenant, now))
	})

	t.Run("open window blocks a second activation", func(t *testing.T) {
		tenant := models.Tenant{
			Status:           models.TenantStatusSuspended,
			TrustActivatedAt: &open,
		}
		assert.False(t, CanActivate(&tenant, now))
	})

	t.Run("one activation per calendar month", func(t *testing.T) {
		tenant := models.Tenant{
			Status:                    models.TenantStatusSuspended,
			LastTrustActivationPeriod: "2026-03",
		}
		assert.False(t, CanActivate(&tenant, now))

		tenant.LastTrustActivationPeriod = "2026-02"
		assert.True(t, CanActivate(&tenant, now), "last month's activation does not block this month")
	})
}

func TestWindowExpiry(t *testing.T) {
	activated := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tenant := models.Tenant{TrustActivatedAt: &activated}

	assert.False(t, Expired(&tenant, activated.Add(47*time.Hour)))
	assert.False(t, Expired(&tenant, activated.Add(Window)), "exactly 48h is still inside the window")
	assert.True(t, Expired(&tenant, activated.Add(Window+time.Minute)))

	assert.Equal(t, 24, HoursRemaining(&tenant, activated.Add(24*time.Hour)))
	assert.Equal(t, 0, HoursRemaining(&tenant, activated.Add(72*time.Hour)))
	assert.Equal(t, 0, HoursRemaining(&models.Tenant{}, activated), "no open window means zero hours")
}
