package reporting

import (
	"math"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

// RiskScorer ranks attack paths by severity weight and mapping confidence.
type RiskScorer struct {
	severityWeights map[models.Severity]float64
}

func NewRiskScorer() *RiskScorer {
	return NewRiskScorerWithWeights(nil)
}

func NewRiskScorerWithWeights(override map[models.Severity]float64) *RiskScorer {
	base := map[models.Severity]float64{
		models.SeverityCritical: 10.0,
		models.SeverityHigh:     7.5,
		models.SeverityMedium:   5.0,
		models.SeverityLow:      2.5,
	}
	for k, v := range override {
		base[k] = v
	}
	return &RiskScorer{severityWeights: base}
}

func (rs *RiskScorer) Score(sev models.Severity, confidence int) float64 {
	base := rs.severityWeights[sev]
	if base == 0 {
		base = 1.0
	}
	conf := 1.0
	switch {
	case confidence < 80:
		conf = 0.7
	case confidence > 95:
		conf = 1.2
	}
	return math.Round(base*conf*100) / 100
}

// Overall averages the per-vulnerability assessments.
func (rs *RiskScorer) Overall(risks []models.RiskAssessment) models.RiskAssessment {
	if len(risks) == 0 {
		return models.RiskAssessment{}
	}
	var out models.RiskAssessment
	for _, r := range risks {
		out.Likelihood += r.Likelihood
		out.Impact += r.Impact
		out.Overall += r.Overall
	}
	n := float64(len(risks))
	return models.RiskAssessment{
		Likelihood: round2(out.Likelihood / n),
		Impact:     round2(out.Impact / n),
		Overall:    round2(out.Overall / n),
	}
}

// RiskLevel buckets a 0-100 scan risk score.
func RiskLevel(score *int) string {
	if score == nil {
		return "unknown"
	}
	switch s := *score; {
	case s >= 80:
		return "critical"
	case s >= 60:
		return "high"
	case s >= 30:
		return "medium"
	default:
		return "low"
	}
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
