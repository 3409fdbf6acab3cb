// Package risk implements heuristic transaction risk scoring.
//
// Every transaction is evaluated against 4 weighted signals: large amount,
// unusual country, off-hours timestamp and blacklisted merchant. Each signal
// contributes weight * scale; the sum is clamped to [0, scale] and rounded.
// Scores are an indicator of suspiciousness, not a calibrated probability.
package risk

import "math"

// Scale selects the output range of an Estimator.
type Scale string

const (
	// ScalePercent scores in [0, 100] with 2 decimal places. This is the default.
	ScalePercent Scale = "percent"
	// ScaleUnit scores in [0, 1] with 3 decimal places.
	ScaleUnit Scale = "unit"
)

// Valid reports whether s is a known scale.
func (s Scale) Valid() bool {
	return s == ScalePercent || s == ScaleUnit
}

// Max returns the upper bound of the scale.
func (s Scale) Max() float64 {
	if s == ScaleUnit {
		return 1
	}
	return 100
}

func (s Scale) decimals() int {
	if s == ScaleUnit {
		return 3
	}
	return 2
}

// Level buckets a score for display.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Level thresholds as a fraction of the scale maximum.
const (
	HighFraction   = 0.7
	MediumFraction = 0.4
)

// Signal names used as keys in Assessment.Factors.
const (
	SignalLargeAmount    = "large_amount"
	SignalUnusualCountry = "unusual_country"
	SignalOffHours       = "off_hours"
	SignalBlacklist      = "blacklist"
)

// signals fixes the summation order so scores are bit-for-bit repeatable.
var signals = []string{SignalLargeAmount, SignalUnusualCountry, SignalOffHours, SignalBlacklist}

// Input carries the transaction attributes the estimator looks at.
// Zero values are safe: they contribute nothing.
type Input struct {
	Amount    float64
	Country   string
	Merchant  string
	Timestamp string
}

// Assessment is a score together with its per-signal breakdown.
type Assessment struct {
	Score   float64            `json:"risk_score"`
	Level   Level              `json:"level"`
	Factors map[string]float64 `json:"factors"`
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
