package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/internal/inference"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

// Analyzer runs the vulnerability inference stage. It has no fallback: any
// provider or decoding failure is returned to the caller.
type Analyzer struct {
	provider inference.Provider
	timeout  time.Duration
	logger   *logrus.Logger
}

func NewAnalyzer(provider inference.Provider, timeout time.Duration, logger *logrus.Logger) *Analyzer {
	if logger == nil {
		logger = logrus.New()
	}
	if provider == nil {
		provider = inference.Unavailable()
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Analyzer{provider: provider, timeout: timeout, logger: logger}
}

func (a *Analyzer) Assess(ctx context.Context, target string, agg models.ReconAggregate) (*models.VulnerabilityAssessment, error) {
	prompt, err := assessmentPrompt(target, agg)
	if err != nil {
		return nil, err
	}

	ictx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.provider.Infer(ictx, prompt, VulnerabilityAssessmentSchema)
	if err != nil {
		return nil, fmt.Errorf("vulnerability inference: %w", err)
	}

	var out models.VulnerabilityAssessment
	if err := inference.Decode(raw, VulnerabilityAssessmentSchema, &out); err != nil {
		return nil, fmt.Errorf("vulnerability inference: %w", err)
	}
	if err := normalizeAssessment(&out); err != nil {
		return nil, fmt.Errorf("vulnerability inference: %w: %v", inference.ErrMalformedOutput, err)
	}

	a.logger.WithFields(logrus.Fields{
		"target":          target,
		"risk_score":      out.RiskScore,
		"vulnerabilities": len(out.Vulnerabilities),
	}).Debug("vulnerability assessment decoded")
	return &out, nil
}

func normalizeAssessment(a *models.VulnerabilityAssessment) error {
	if a.RiskScore < 0 || a.RiskScore > 100 {
		return fmt.Errorf("risk score %v out of range", a.RiskScore)
	}
	a.RiskLevel = strings.ToLower(strings.TrimSpace(a.RiskLevel))
	for i := range a.Vulnerabilities {
		v := &a.Vulnerabilities[i]
		sev, err := models.ParseSeverity(v.Severity)
		if err != nil {
			return fmt.Errorf("vulnerability %d: %w", i, err)
		}
		v.Severity = string(sev)
		v.Type = strings.TrimSpace(v.Type)
		if v.Type == "" {
			return fmt.Errorf("vulnerability %d: empty type", i)
		}
	}
	if a.Recommendations == nil {
		a.Recommendations = []string{}
	}
	if a.Vulnerabilities == nil {
		a.Vulnerabilities = []models.AssessedVulnerability{}
	}
	return nil
}
