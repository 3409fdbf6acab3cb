package risk

import (
	"math"
	"strings"
	"time"
)

// Estimator scores transactions. It holds no mutable state and is safe for
// concurrent use.
type Estimator struct {
	scale     Scale
	weights   Weights
	allowed   map[string]struct{}
	blacklist map[string]struct{}
	loc       *time.Location
	offStart  int
	offEnd    int
}

// New builds an Estimator from cfg.
func New(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, err
		}
		loc = l
	}
	return &Estimator{
		scale:     cfg.Scale,
		weights:   cfg.Weights,
		allowed:   lowerSet(cfg.AllowedCountries),
		blacklist: lowerSet(cfg.Blacklist),
		loc:       loc,
		offStart:  cfg.OffHoursStart,
		offEnd:    cfg.OffHoursEnd,
	}, nil
}

// NewDefault returns an Estimator using DefaultConfig.
func NewDefault() *Estimator {
	e, err := New(DefaultConfig())
	if err != nil {
		panic("risk: default config invalid: " + err.Error())
	}
	return e
}

// Scale returns the estimator's output scale.
func (e *Estimator) Scale() Scale {
	return e.scale
}

// Score returns the risk score for in. It never fails: malformed or missing
// attributes contribute nothing.
func (e *Estimator) Score(in Input) float64 {
	return e.Assess(in).Score
}

// Assess scores in and reports the contribution of every signal.
func (e *Estimator) Assess(in Input) Assessment {
	factors := map[string]float64{
		SignalLargeAmount:    e.largeAmount(in.Amount),
		SignalUnusualCountry: e.unusualCountry(in.Country),
		SignalOffHours:       e.offHours(in.Timestamp),
		SignalBlacklist:      e.blacklisted(in.Merchant),
	}

	var sum float64
	for _, name := range signals {
		sum += factors[name]
	}

	limit := e.scale.Max()
	if sum > limit {
		sum = limit
	}
	if sum < 0 || math.IsNaN(sum) {
		sum = 0
	}
	score := round(sum, e.scale.decimals())

	return Assessment{
		Score:   score,
		Level:   e.Level(score),
		Factors: factors,
	}
}

// Level buckets a score produced by this estimator.
func (e *Estimator) Level(score float64) Level {
	limit := e.scale.Max()
	switch {
	case score >= HighFraction*limit:
		return LevelHigh
	case score >= MediumFraction*limit:
		return LevelMedium
	default:
		return LevelLow
	}
}

// largeAmount grows logarithmically past the threshold and saturates at the
// full weight once ln(amount/threshold + 1) reaches 1.
func (e *Estimator) largeAmount(amount float64) float64 {
	threshold := e.weights.LargeAmountThreshold
	if threshold <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) || amount < threshold {
		return 0
	}
	f := math.Min(1, math.Log(amount/threshold+1))
	return f * e.weights.LargeAmount * e.scale.Max()
}

func (e *Estimator) unusualCountry(country string) float64 {
	c := strings.ToLower(strings.TrimSpace(country))
	if c == "" {
		return 0
	}
	if _, ok := e.allowed[c]; ok {
		return 0
	}
	return e.weights.UnusualCountry * e.scale.Max()
}

func (e *Estimator) offHours(timestamp string) float64 {
	t, ok := ParseTimestamp(timestamp)
	if !ok {
		return 0
	}
	h := t.In(e.loc).Hour()
	if h >= e.offStart && h < e.offEnd {
		return e.weights.OffHours * e.scale.Max()
	}
	return 0
}

func (e *Estimator) blacklisted(merchant string) float64 {
	m := strings.ToLower(merchant)
	if m == "" {
		return 0
	}
	if _, ok := e.blacklist[m]; ok {
		return e.weights.Blacklist * e.scale.Max()
	}
	return 0
}
