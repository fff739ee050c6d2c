package amortization

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/mcclellann/coopLoan/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var startDate = time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC)

func sumPrincipal(schedule []models.Installment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range schedule {
		total = total.Add(inst.Principal)
	}
	return total
}

func TestGenerateSchedule_ConcreteLoan(t *testing.T) {
	schedule, err := GenerateSchedule(decimal.NewFromInt(5_000_000), decimal.NewFromFloat(0.015), 12, startDate)
	require.NoError(t, err)
	require.Len(t, schedule, 12)

	first := schedule[0]
	assert.Equal(t, time.Date(2024, 8, 5, 0, 0, 0, 0, time.UTC), first.DueDate)
	assert.Equal(t, "75000.00", first.Interest.StringFixed(2))
	assert.Equal(t, "383399.96", first.Principal.StringFixed(2))
	assert.Equal(t, "458399.96", first.Total.StringFixed(2))
	assert.Equal(t, models.InstallmentStatusUpcoming, first.Status)

	last := schedule[11]
	assert.Equal(t, time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC), last.DueDate)
	assert.Equal(t, "451625.64", last.Principal.StringFixed(2))
	assert.Equal(t, "458400.02", last.Total.StringFixed(2), "last installment absorbs rounding")

	for i, inst := range schedule[:11] {
		assert.True(t, inst.Total.Equal(first.Total), "installment %d total %s", i, inst.Total)
	}
	for _, inst := range schedule {
		assert.True(t, inst.Total.Equal(inst.Principal.Add(inst.Interest)))
	}

	assert.True(t, sumPrincipal(schedule).Equal(decimal.NewFromInt(5_000_000)))
	assert.Equal(t, "458399.96", SchedulePayment(schedule).StringFixed(2))
}

func TestGenerateSchedule_PrincipalSumsExactly(t *testing.T) {
	tests := []struct {
		principal int64
		rate      float64
		term      int
	}{
		{500_000, 0.015, 3},
		{2_000_000, 0.015, 8},
		{10_000_000, 0.015, 24},
		{50_000_000, 0.015, 36},
		{100_000, 0.004166, 360},
		{750_000, 0, 7},
		{1_000_000, 0.05, 1},
	}
	for _, tt := range tests {
		principal := decimal.NewFromInt(tt.principal)
		schedule, err := GenerateSchedule(principal, decimal.NewFromFloat(tt.rate), tt.term, startDate)
		require.NoError(t, err)
		require.Len(t, schedule, tt.term)

		assert.True(t, sumPrincipal(schedule).Equal(principal),
			"principal=%d rate=%v term=%d: sum %s", tt.principal, tt.rate, tt.term, sumPrincipal(schedule))
	}
}

func TestGenerateSchedule_Monotonic(t *testing.T) {
	tests := []struct {
		principal int64
		rate      float64
		term      int
	}{
		{5_000_000, 0.015, 12},
		{500_000, 0.015, 3},
		{10_000_000, 0.015, 24},
		{750_000, 0.015, 36},
		{100_000, 0.004166, 360},
	}
	for _, tt := range tests {
		schedule, err := GenerateSchedule(decimal.NewFromInt(tt.principal), decimal.NewFromFloat(tt.rate), tt.term, startDate)
		require.NoError(t, err)

		for i := 1; i < len(schedule); i++ {
			prev, cur := schedule[i-1], schedule[i]
			assert.True(t, cur.Interest.LessThanOrEqual(prev.Interest),
				"term=%d period %d: interest %s after %s", tt.term, i, cur.Interest, prev.Interest)
			assert.True(t, cur.Principal.GreaterThanOrEqual(prev.Principal),
				"term=%d period %d: principal %s after %s", tt.term, i, cur.Principal, prev.Principal)
		}
	}
}

func assertWellFormed(t *testing.T, schedule []models.Installment, principal decimal.Decimal, label string) {
	t.Helper()
	for i, inst := range schedule {
		require.True(t, inst.Total.IsPositive(), "%s: installment %d is zero", label, i)
		require.True(t, inst.Total.Equal(inst.Principal.Add(inst.Interest)), "%s: installment %d", label, i)
		if i == 0 {
			continue
		}
		prev := schedule[i-1]
		require.True(t, inst.Principal.GreaterThanOrEqual(prev.Principal),
			"%s: period %d principal %s after %s", label, i, inst.Principal, prev.Principal)
		require.True(t, inst.Interest.LessThanOrEqual(prev.Interest),
			"%s: period %d interest %s after %s", label, i, inst.Interest, prev.Interest)
	}
	require.True(t, sumPrincipal(schedule).Equal(principal), "%s: principal sum %s", label, sumPrincipal(schedule))
}

func TestGenerateSchedule_LongHighRateLoanHasNoZeroTail(t *testing.T) {
	principal := decimal.RequireFromString("399375.50")
	schedule, err := GenerateSchedule(principal, decimal.RequireFromString("0.0473"), 305, startDate)
	require.NoError(t, err)
	require.Len(t, schedule, 305)

	assertWellFormed(t, schedule, principal, "399375.50@0.0473x305")
	for _, inst := range schedule[300:] {
		assert.True(t, inst.Principal.IsPositive())
	}
}

func TestGenerateSchedule_RandomLoansStayWellFormed(t *testing.T) {
	rng := rand.New(rand.NewSource(20240705))
	for i := 0; i < 2000; i++ {
		term := 1 + rng.Intn(360)
		rate := decimal.New(int64(1+rng.Intn(500)), -4)
		principal := decimal.New(int64(term)+rng.Int63n(1_000_000_000), -2)
		label := fmt.Sprintf("%s@%s x%d", principal, rate, term)

		schedule, err := GenerateSchedule(principal, rate, term, startDate)
		require.NoError(t, err, label)
		require.Len(t, schedule, term, label)
		assertWellFormed(t, schedule, principal, label)
	}
}

func TestGenerateSchedule_RejectsPrincipalBelowOneUnitPerInstallment(t *testing.T) {
	_, err := GenerateSchedule(decimal.RequireFromString("0.05"), decimal.NewFromFloat(0.015), 36, startDate)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = GenerateSchedule(decimal.RequireFromString("0.05"), decimal.Zero, 36, startDate)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	schedule, err := GenerateSchedule(decimal.RequireFromString("0.36"), decimal.NewFromFloat(0.015), 36, startDate)
	require.NoError(t, err)
	assertWellFormed(t, schedule, decimal.RequireFromString("0.36"), "0.36@0.015x36")
}

func TestGenerateSchedule_ZeroRate(t *testing.T) {
	principal := decimal.NewFromInt(1_000_000)
	schedule, err := GenerateSchedule(principal, decimal.Zero, 36, startDate)
	require.NoError(t, err)
	require.Len(t, schedule, 36)

	exact := principal.Div(decimal.NewFromInt(36))
	for i, inst := range schedule {
		assert.True(t, inst.Interest.IsZero(), "installment %d", i)
		assert.True(t, inst.Principal.Sub(exact).Abs().LessThanOrEqual(minorUnit),
			"installment %d principal %s too far from %s", i, inst.Principal, exact)
		if i > 0 {
			assert.True(t, inst.Principal.GreaterThanOrEqual(schedule[i-1].Principal))
		}
	}
	assert.True(t, sumPrincipal(schedule).Equal(principal))
}

func TestGenerateSchedule_FallbackHasNoInterest(t *testing.T) {
	principal := decimal.NewFromInt(1200)
	schedule, err := GenerateSchedule(principal, decimal.New(1, -20), 12, startDate)
	require.NoError(t, err)

	for _, inst := range schedule {
		assert.True(t, inst.Interest.IsZero())
		assert.Equal(t, "100.00", inst.Principal.StringFixed(2))
	}
}

func TestGenerateSchedule_RejectsSubMinorUnitPrincipal(t *testing.T) {
	_, err := GenerateSchedule(decimal.RequireFromString("1000.005"), decimal.NewFromFloat(0.015), 12, startDate)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGenerateSchedule_PropagatesValidation(t *testing.T) {
	_, err := GenerateSchedule(decimal.NewFromInt(1000), decimal.NewFromFloat(0.015), 0, startDate)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		months int
		want   time.Time
	}{
		{"plain", time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 8, 5, 0, 0, 0, 0, time.UTC)},
		{"year rollover", time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC), 3, time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC)},
		{"clamp to february", time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"clamp to leap february", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"no drift after clamp", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 2, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)},
		{"clamp to 30 day month", time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddMonths(tt.start, tt.months))
		})
	}
}

func TestGenerateSchedule_EndOfMonthDueDates(t *testing.T) {
	schedule, err := GenerateSchedule(decimal.NewFromInt(3_000_000), decimal.NewFromFloat(0.015), 3,
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), schedule[0].DueDate)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), schedule[1].DueDate)
	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), schedule[2].DueDate)
}
