package fraud

import (
	"github.com/shopspring/decimal"

	"github.com/dmtorres-dev/vpnpay-backend/pkg/config"
)

// Signal names recorded with each score for audit.
const (
	SignalVelocity     = "velocity"
	SignalMagnitude    = "magnitude_anomaly"
	SignalIPReputation = "ip_reputation"
)

// Input carries the request metadata plus the caller-supplied aggregates.
// The detector never reaches into storage itself so it stays a pure function.
type Input struct {
	Amount                  decimal.Decimal
	RecentTransactionCount  int
	HistoricalAverageAmount decimal.Decimal
	IPHasReputationSignal   bool
}

// Result is the additive score clamped to [0,1] and the signals that fired.
type Result struct {
	Score   float64
	Signals []string
}

// Detector scores a payment request against configured heuristics.
type Detector struct {
	cfg config.FraudConfig
}

func NewDetector(cfg config.FraudConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Score applies each heuristic additively and caps the result at 1.0.
func (d *Detector) Score(in Input) Result {
	res := Result{}

	if in.RecentTransactionCount >= d.cfg.VelocityMaxCount {
		res.Score += d.cfg.VelocityWeight
		res.Signals = append(res.Signals, SignalVelocity)
	}

	if in.HistoricalAverageAmount.IsPositive() {
		limit := in.HistoricalAverageAmount.Mul(decimal.NewFromFloat(d.cfg.MagnitudeMultiplier))
		if in.Amount.GreaterThan(limit) {
			res.Score += d.cfg.MagnitudeWeight
			res.Signals = append(res.Signals, SignalMagnitude)
		}
	}

	if in.IPHasReputationSignal {
		res.Score += d.cfg.IPReputationWeight
		res.Signals = append(res.Signals, SignalIPReputation)
	}

	if res.Score > 1.0 {
		res.Score = 1.0
	}
	return res
}

// Suspect reports whether the score meets the configured rejection threshold.
func (d *Detector) Suspect(res Result) bool {
	return res.Score >= d.cfg.Threshold
}
