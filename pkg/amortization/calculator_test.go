package amortization

import (
	"testing"

	"github.com/mcclellann/coopLoan/pkg/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthlyPayment_Annuity(t *testing.T) {
	p, err := MonthlyPayment(decimal.NewFromInt(5_000_000), decimal.NewFromFloat(0.015), 12)
	require.NoError(t, err)

	assert.False(t, p.StraightLine)
	assert.Equal(t, "458399.96", p.Amount.Round(CurrencyScale).StringFixed(2))
}

func TestMonthlyPayment_ZeroRate(t *testing.T) {
	p, err := MonthlyPayment(decimal.NewFromInt(1200), decimal.Zero, 12)
	require.NoError(t, err)

	assert.True(t, p.StraightLine)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(100)), "got %s", p.Amount)
}

func TestMonthlyPayment_NonFiniteFallsBackToStraightLine(t *testing.T) {
	tests := []struct {
		name  string
		rate  decimal.Decimal
		term  int
		total decimal.Decimal
	}{
		// (1.015)^1e6 overflows float64, the formula becomes Inf/Inf.
		{"huge term", decimal.NewFromFloat(0.015), 1_000_000, decimal.NewFromInt(5_000_000)},
		// 1+r rounds to 1 in float64 and the denominator is zero.
		{"vanishing rate", decimal.New(1, -20), 12, decimal.NewFromInt(1200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := MonthlyPayment(tt.total, tt.rate, tt.term)
			require.NoError(t, err)

			assert.True(t, p.StraightLine)
			expected := tt.total.Div(decimal.NewFromInt(int64(tt.term)))
			assert.True(t, p.Amount.Equal(expected), "expected %s, got %s", expected, p.Amount)

			interest, err := TotalInterest(p.Amount, tt.term, tt.total)
			require.NoError(t, err)
			assert.True(t, interest.IsZero(), "fallback must record no interest, got %s", interest)
		})
	}
}

func TestMonthlyPayment_InvalidInputs(t *testing.T) {
	tests := []struct {
		name      string
		principal decimal.Decimal
		rate      decimal.Decimal
		term      int
		field     string
	}{
		{"zero principal", decimal.Zero, decimal.NewFromFloat(0.015), 12, "principal"},
		{"negative principal", decimal.NewFromInt(-1), decimal.NewFromFloat(0.015), 12, "principal"},
		{"zero term", decimal.NewFromInt(1000), decimal.NewFromFloat(0.015), 0, "term_months"},
		{"negative rate", decimal.NewFromInt(1000), decimal.NewFromFloat(-0.01), 12, "monthly_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MonthlyPayment(tt.principal, tt.rate, tt.term)
			require.ErrorIs(t, err, apperr.ErrValidation)

			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestMonthlyPayment_FinitePositiveAcrossRange(t *testing.T) {
	principals := []int64{500_000, 5_000_000, 50_000_000}
	rates := []float64{0, 0.001, 0.015, 0.05}
	for _, principal := range principals {
		for _, rate := range rates {
			for term := 1; term <= 360; term += 37 {
				p, err := MonthlyPayment(decimal.NewFromInt(principal), decimal.NewFromFloat(rate), term)
				require.NoError(t, err)
				assert.True(t, p.Amount.IsPositive(), "principal=%d rate=%v term=%d", principal, rate, term)
			}
		}
	}
}

func TestTotalInterest(t *testing.T) {
	interest, err := TotalInterest(decimal.NewFromInt(110), 10, decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "100.00", interest.StringFixed(2))

	_, err = TotalInterest(decimal.NewFromInt(90), 10, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, apperr.ErrCalculation)
}

func TestNewQuote(t *testing.T) {
	q, err := NewQuote(decimal.NewFromInt(5_000_000), decimal.NewFromFloat(0.015), 12)
	require.NoError(t, err)

	assert.Equal(t, "458399.96", q.MonthlyPayment.StringFixed(2))
	assert.Equal(t, "500799.57", q.TotalInterest.StringFixed(2))
	assert.Equal(t, "5500799.57", q.TotalPayment.StringFixed(2))
	assert.False(t, q.StraightLine)
}

func TestNewQuote_ZeroRateHasNoInterest(t *testing.T) {
	q, err := NewQuote(decimal.NewFromInt(100), decimal.Zero, 3)
	require.NoError(t, err)

	assert.True(t, q.TotalInterest.IsZero())
	assert.Equal(t, "33.33", q.MonthlyPayment.StringFixed(2))
	assert.True(t, q.StraightLine)
}
