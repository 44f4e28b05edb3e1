package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyInterval(t *testing.T) {
	tests := []struct {
		gap         float64
		want        Interval
		wantMatched bool
	}{
		{7, IntervalWeekly, true},
		{5, IntervalWeekly, true},
		{9, IntervalWeekly, true},
		{30, IntervalMonthly, true},
		{25, IntervalMonthly, true},
		{35, IntervalMonthly, true},
		{90, IntervalQuarterly, true},
		{95, IntervalQuarterly, true},
		{365, IntervalYearly, true},
		{350, IntervalYearly, true},
		{380, IntervalYearly, true},
		{45, IntervalMonthly, false},
		{14, IntervalMonthly, false},
		{100, IntervalMonthly, false},
		{0, IntervalMonthly, false},
	}

	for _, tt := range tests {
		got, matched := ClassifyInterval(tt.gap)
		assert.Equal(t, tt.want, got, "gap %v", tt.gap)
		assert.Equal(t, tt.wantMatched, matched, "gap %v", tt.gap)
	}
}

func TestBandsOrder(t *testing.T) {
	order := make([]Interval, 0, len(Bands))
	for _, b := range Bands {
		order = append(order, b.Interval)
	}
	assert.Equal(t, []Interval{IntervalYearly, IntervalMonthly, IntervalWeekly, IntervalQuarterly}, order)
}

func TestIntervalConfidence(t *testing.T) {
	assert.Equal(t, 100, IntervalConfidence(0, 30))
	assert.Equal(t, 95, IntervalConfidence(1.5, 29.5))
	assert.Equal(t, 0, IntervalConfidence(60, 30))
	assert.Equal(t, 0, IntervalConfidence(0, 0))
}

func TestAmountConsistency(t *testing.T) {
	assert.InDelta(t, 100.0, AmountConsistency(9.99, 9.99, 9.99), 1e-9)
	assert.InDelta(t, 95.12, AmountConsistency(10, 10.5, 10.25), 0.01)
	assert.Equal(t, 0.0, AmountConsistency(0, 0, 0))
}

func TestTransactionFrequency(t *testing.T) {
	assert.Equal(t, 40, TransactionFrequency(2))
	assert.Equal(t, 80, TransactionFrequency(4))
	assert.Equal(t, 100, TransactionFrequency(5))
	assert.Equal(t, 100, TransactionFrequency(12))
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 86, Confidence(95, 100, 60))
	assert.Equal(t, 100, Confidence(100, 100, 100))
	assert.Equal(t, 39, Confidence(0, 90, 40))
	assert.Equal(t, 40, Confidence(0, 93.4, 40))
}

func TestMeanAndStdDev(t *testing.T) {
	mean, sd := meanAndStdDev([]float64{31, 28})
	assert.InDelta(t, 29.5, mean, 1e-9)
	assert.InDelta(t, 1.5, sd, 1e-9)

	mean, sd = meanAndStdDev(nil)
	assert.Zero(t, mean)
	assert.Zero(t, sd)
}
