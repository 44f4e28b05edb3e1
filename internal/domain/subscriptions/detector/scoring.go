package detector

import "math"

// Interval is a billing cadence.
type Interval string

const (
	IntervalWeekly    Interval = "weekly"
	IntervalMonthly   Interval = "monthly"
	IntervalQuarterly Interval = "quarterly"
	IntervalYearly    Interval = "yearly"
)

// Band is an inclusive range of mean gaps (in days) mapped to an interval.
type Band struct {
	Interval Interval
	MinDays  float64
	MaxDays  float64
}

// Bands are checked in order; the first containing the mean gap wins.
var Bands = []Band{
	{Interval: IntervalYearly, MinDays: 350, MaxDays: 380},
	{Interval: IntervalMonthly, MinDays: 25, MaxDays: 35},
	{Interval: IntervalWeekly, MinDays: 5, MaxDays: 9},
	{Interval: IntervalQuarterly, MinDays: 85, MaxDays: 95},
}

// FallbackInterval is used when no band contains the mean gap.
const FallbackInterval = IntervalMonthly

// Confidence weights.
const (
	IntervalWeight    = 0.4
	AmountWeight      = 0.3
	FrequencyWeight   = 0.3
	pointsPerCharge   = 20
	maxFrequencyScore = 100
)

// ClassifyInterval maps a mean gap to an interval. matched is false when the
// fallback was used.
func ClassifyInterval(avgGapDays float64) (interval Interval, matched bool) {
	for _, b := range Bands {
		if avgGapDays >= b.MinDays && avgGapDays <= b.MaxDays {
			return b.Interval, true
		}
	}
	return FallbackInterval, false
}

// IntervalConfidence scores gap regularity: 100 minus the coefficient of
// variation in percent, floored at 0.
func IntervalConfidence(stdDev, avgGap float64) int {
	if avgGap <= 0 {
		return 0
	}
	score := math.Round(100 - stdDev/avgGap*100)
	if score < 0 {
		return 0
	}
	return int(score)
}

// AmountConsistency scores price stability: 100 minus the min-max spread as
// a percentage of the mean.
func AmountConsistency(minAmount, maxAmount, avgAmount float64) float64 {
	if avgAmount <= 0 {
		return 0
	}
	return 100 - (maxAmount-minAmount)/avgAmount*100
}

// TransactionFrequency rewards longer series, 20 points per charge up to 100.
func TransactionFrequency(n int) int {
	return min(maxFrequencyScore, n*pointsPerCharge)
}

// Confidence combines the component scores into 0..100.
func Confidence(intervalConfidence int, amountConsistency float64, frequency int) int {
	return int(math.Round(
		IntervalWeight*float64(intervalConfidence) +
			AmountWeight*amountConsistency +
			FrequencyWeight*float64(frequency),
	))
}

// meanAndStdDev returns the mean and population standard deviation.
func meanAndStdDev(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
