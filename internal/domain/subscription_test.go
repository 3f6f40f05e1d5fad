package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    SubscriptionStatus
		to      SubscriptionStatus
		allowed bool
	}{
		{"pending to active", SubscriptionStatusPending, SubscriptionStatusActive, true},
		{"pending to cancelled", SubscriptionStatusPending, SubscriptionStatusCancelled, true},
		{"pending to failed", SubscriptionStatusPending, SubscriptionStatusFailed, true},
		{"pending to expired", SubscriptionStatusPending, SubscriptionStatusExpired, false},
		{"pending to suspended", SubscriptionStatusPending, SubscriptionStatusSuspended, false},
		{"active to active renewal", SubscriptionStatusActive, SubscriptionStatusActive, true},
		{"active to cancelled", SubscriptionStatusActive, SubscriptionStatusCancelled, true},
		{"active to expired", SubscriptionStatusActive, SubscriptionStatusExpired, true},
		{"active to suspended", SubscriptionStatusActive, SubscriptionStatusSuspended, true},
		{"active to pending", SubscriptionStatusActive, SubscriptionStatusPending, false},
		{"active to failed", SubscriptionStatusActive, SubscriptionStatusFailed, false},
		{"suspended to active", SubscriptionStatusSuspended, SubscriptionStatusActive, true},
		{"suspended to cancelled", SubscriptionStatusSuspended, SubscriptionStatusCancelled, true},
		{"suspended to expired", SubscriptionStatusSuspended, SubscriptionStatusExpired, true},
		{"cancelled to active", SubscriptionStatusCancelled, SubscriptionStatusActive, true},
		{"cancelled to expired", SubscriptionStatusCancelled, SubscriptionStatusExpired, false},
		{"expired to active", SubscriptionStatusExpired, SubscriptionStatusActive, true},
		{"expired to cancelled", SubscriptionStatusExpired, SubscriptionStatusCancelled, false},
		{"failed is terminal", SubscriptionStatusFailed, SubscriptionStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestNextAnchor_Days(t *testing.T) {
	anchor := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	next := NextAnchor(anchor, BillingPeriod{Count: 10, Unit: PeriodUnitDay})
	assert.Equal(t, time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC), next)
}

func TestNextAnchor_Weeks(t *testing.T) {
	anchor := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	next := NextAnchor(anchor, BillingPeriod{Count: 2, Unit: PeriodUnitWeek})
	assert.Equal(t, time.Date(2024, 3, 24, 12, 0, 0, 0, time.UTC), next)
}

func TestNextAnchor_MonthClampsToLeapFebruary(t *testing.T) {
	// 31 января + 1 месяц в високосный год = 29 февраля
	anchor := time.Date(2024, 1, 31, 9, 30, 0, 0, time.UTC)
	next := NextAnchor(anchor, BillingPeriod{Count: 1, Unit: PeriodUnitMonth})
	assert.Equal(t, time.Date(2024, 2, 29, 9, 30, 0, 0, time.UTC), next)
}

func TestNextAnchor_MonthClampsToRegularFebruary(t *testing.T) {
	anchor := time.Date(2025, 1, 31, 9, 30, 0, 0, time.UTC)
	next := NextAnchor(anchor, BillingPeriod{Count: 1, Unit: PeriodUnitMonth})
	assert.Equal(t, time.Date(2025, 2, 28, 9, 30, 0, 0, time.UTC), next)
}

func TestNextAnchor_MonthWithoutClamping(t *testing.T) {
	anchor := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	next := NextAnchor(anchor, BillingPeriod{Count: 3, Unit: PeriodUnitMonth})
	assert.Equal(t, time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), next)
}

func TestNextAnchor_YearOverLeapDay(t *testing.T) {
	// 29 февраля + 1 год = 28 февраля невисокосного года
	anchor := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	next := NextAnchor(anchor, BillingPeriod{Count: 1, Unit: PeriodUnitYear})
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), next)
}

func TestNextAnchor_ZeroCountDefaultsToOne(t *testing.T) {
	anchor := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	next := NextAnchor(anchor, BillingPeriod{Count: 0, Unit: PeriodUnitMonth})
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), next)
}

func TestIsLifetime(t *testing.T) {
	expires := time.Now()
	assert.True(t, (&Subscription{}).IsLifetime())
	assert.False(t, (&Subscription{ExpiresAt: &expires}).IsLifetime())
}
