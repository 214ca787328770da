package trust

import (
	"time"

	"salonhub-backend/internal/clock"
	"salonhub-backend/internal/models"
)

// Event is a discrete scoring event applied to a tenant's trust score.
type Event string

const (
	EventPaymentOnTime       Event = "payment_on_time"       // paid before due date
	EventConsecutiveBonus    Event = "consecutive_bonus"     // Nth consecutive on-time payment, N >= 2
	EventActiveMonth         Event = "active_month"          // tenant active for a rolling month
	EventLate1To7            Event = "late_1_7"              // paid 1-7 days late
	EventLate8To14           Event = "late_8_14"             // paid 8-14 days late
	EventLate15To30          Event = "late_15_30"            // paid 15-30 days late
	EventTrustUsedPaid       Event = "trust_used_paid"       // activation resolved by payment
	EventTrustExpiredUnpaid  Event = "trust_expired_unpaid"  // activation window elapsed unpaid
	EventTrustActivationUsed Event = "trust_activation_used" // activation granted
)

// Window is how long an activated trust grant stays open.
const Window = 48 * time.Hour

// Trust levels derived from the score; never stored.
const (
	LevelExcellent = "excellent" // 80-100
	LevelGood      = "good"      // 60-79
	LevelWarning   = "warning"   // 40-59
	LevelRisky     = "risky"     // 20-39
	LevelCritical  = "critical"  // 0-19
)

var deltas = map[Event]int{
	EventPaymentOnTime:       +5,
	EventConsecutiveBonus:    +2,
	EventActiveMonth:         +1,
	EventLate1To7:            -5,
	EventLate8To14:           -10,
	EventLate15To30:          -20,
	EventTrustUsedPaid:       -5,
	EventTrustExpiredUnpaid:  -25,
	EventTrustActivationUsed: -15,
}

// Delta returns the score change for an event.
func Delta(e Event) int {
	return deltas[e]
}

// Apply returns the score after an event, clamped to [0, 100].
func Apply(score int, e Event) int {
	return Clamp(score + deltas[e])
}

// Clamp bounds a score to [0, 100].
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Level maps a score to its display level.
func Level(score int) string {
	switch {
	case score >= 80:
		return LevelExcellent
	case score >= 60:
		return LevelGood
	case score >= 40:
		return LevelWarning
	case score >= 20:
		return LevelRisky
	default:
		return LevelCritical
	}
}

// LatenessEvent maps days-late at payment time to the matching scoring
// event. On-time payments (daysLate <= 0) map to EventPaymentOnTime;
// anything beyond 30 days scores the same as the 15-30 band.
func LatenessEvent(daysLate int) Event {
	switch {
	case daysLate <= 0:
		return EventPaymentOnTime
	case daysLate <= 7:
		return EventLate1To7
	case daysLate <= 14:
		return EventLate8To14
	default:
		return EventLate15To30
	}
}

// CanActivate reports whether a tenant may open a trust window now:
// suspended, no window already open, and no activation yet this calendar
// month.
func CanActivate(tenant *models.Tenant, now time.Time) bool {
	if tenant.Status != models.TenantStatusSuspended {
		return false
	}
	if tenant.TrustActivatedAt != nil {
		return false
	}
	return tenant.LastTrustActivationPeriod != clock.PeriodToken(now)
}

// HoursRemaining returns how many whole hours remain of an open trust
// window, or 0 when no window is active.
func HoursRemaining(tenant *models.Tenant, now time.Time) int {
	if tenant.TrustActivatedAt == nil {
		return 0
	}
	remaining := Window - now.Sub(*tenant.TrustActivatedAt)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours())
}

// Expired reports whether an open trust window has run past its 48 hours.
func Expired(tenant *models.Tenant, now time.Time) bool {
	return tenant.TrustActivatedAt != nil && now.Sub(*tenant.TrustActivatedAt) > Window
}
