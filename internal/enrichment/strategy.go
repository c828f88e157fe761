package enrichment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bl4ck0w1/threatlynx/internal/catalog"
	"github.com/bl4ck0w1/threatlynx/internal/inference"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

var ErrNoMappings = errors.New("no usable technique mappings")

// Strategy maps one vulnerability to catalog techniques.
type Strategy interface {
	Name() models.MappingSource
	Map(ctx context.Context, v models.Vulnerability) (models.MappingResult, error)
}

type RemoteStrategy struct {
	provider inference.Provider
	catalog  *catalog.Catalog
	timeout  time.Duration
}

func NewRemoteStrategy(provider inference.Provider, cat *catalog.Catalog, timeout time.Duration) *RemoteStrategy {
	if provider == nil {
		provider = inference.Unavailable()
	}
	if cat == nil {
		cat = catalog.Default()
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &RemoteStrategy{provider: provider, catalog: cat, timeout: timeout}
}

func (s *RemoteStrategy) Name() models.MappingSource { return models.SourceInference }

type remoteMapping struct {
	TechniqueID string  `json:"techniqueId"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

type remoteResult struct {
	Mappings       []remoteMapping       `json:"mappings"`
	AttackPath     []string              `json:"attackPath"`
	RiskAssessment models.RiskAssessment `json:"riskAssessment"`
}

// Map drops techniques the catalog does not know. A response with no usable
// mapping counts as schema-invalid.
func (s *RemoteStrategy) Map(ctx context.Context, v models.Vulnerability) (models.MappingResult, error) {
	prompt, err := mappingPrompt(v, s.catalog.Summary())
	if err != nil {
		return models.MappingResult{}, err
	}

	ictx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.provider.Infer(ictx, prompt, TechniqueMappingSchema)
	if err != nil {
		return models.MappingResult{}, err
	}

	var rr remoteResult
	if err := inference.Decode(raw, TechniqueMappingSchema, &rr); err != nil {
		return models.MappingResult{}, err
	}

	result := models.MappingResult{
		VulnerabilityID: v.ID,
		Mappings:        make([]models.TechniqueMapping, 0, len(rr.Mappings)),
		AttackPath:      make([]string, 0, len(rr.AttackPath)),
		RiskAssessment:  rr.RiskAssessment,
		Source:          models.SourceInference,
	}
	for _, m := range rr.Mappings {
		id := strings.TrimSpace(m.TechniqueID)
		if !s.catalog.Has(id) {
			continue
		}
		result.Mappings = append(result.Mappings, models.TechniqueMapping{
			ScanID:          v.ScanID,
			VulnerabilityID: v.ID,
			TechniqueID:     id,
			Confidence:      utils.ClampInt(int(math.Round(m.Confidence)), 0, 100),
			Reasoning:       strings.TrimSpace(m.Reasoning),
			Source:          models.SourceInference,
		})
	}
	if len(result.Mappings) == 0 {
		return models.MappingResult{}, fmt.Errorf("%w: %w", inference.ErrMalformedOutput, ErrNoMappings)
	}

	for _, id := range utils.RemoveDuplicates(rr.AttackPath) {
		if s.catalog.Has(id) {
			result.AttackPath = append(result.AttackPath, id)
		}
	}
	if len(result.AttackPath) == 0 {
		for _, m := range result.Mappings {
			result.AttackPath = append(result.AttackPath, m.TechniqueID)
		}
		result.AttackPath = utils.RemoveDuplicates(result.AttackPath)
	}
	return result, nil
}

type keywordRule struct {
	keywords    []string
	techniqueID string
	confidence  int
	reasoning   string
}

var keywordRules = []keywordRule{
	{
		keywords:    []string{"sql injection", "xss", "rce"},
		techniqueID: "T1190",
		confidence:  85,
		reasoning:   "Injection or remote code execution flaws in an exposed application enable exploitation of a public-facing application.",
	},
	{
		keywords:    []string{"privilege escalation"},
		techniqueID: "T1068",
		confidence:  80,
		reasoning:   "The weakness allows an attacker to elevate privileges by exploiting vulnerable software.",
	},
	{
		keywords:    []string{"service", "port"},
		techniqueID: "T1021",
		confidence:  70,
		reasoning:   "An exposed network service can be used to access the host remotely.",
	},
}

var severityScores = map[models.Severity]float64{
	models.SeverityCritical: 95,
	models.SeverityHigh:     80,
	models.SeverityMedium:   60,
	models.SeverityLow:      30,
}

const defaultSeverityScore = 50

// KeywordStrategy is the deterministic local mapping. Every matching rule
// contributes one mapping, in rule order.
type KeywordStrategy struct{}

func NewKeywordStrategy() KeywordStrategy { return KeywordStrategy{} }

func (KeywordStrategy) Name() models.MappingSource { return models.SourceFallback }

func (KeywordStrategy) Map(_ context.Context, v models.Vulnerability) (models.MappingResult, error) {
	typ := strings.ToLower(v.Type)

	result := models.MappingResult{
		VulnerabilityID: v.ID,
		Mappings:        []models.TechniqueMapping{},
		AttackPath:      []string{},
		RiskAssessment:  SeverityRisk(v.Severity),
		Source:          models.SourceFallback,
	}
	for _, rule := range keywordRules {
		if !containsAny(typ, rule.keywords) {
			continue
		}
		result.Mappings = append(result.Mappings, models.TechniqueMapping{
			ScanID:          v.ScanID,
			VulnerabilityID: v.ID,
			TechniqueID:     rule.techniqueID,
			Confidence:      rule.confidence,
			Reasoning:       rule.reasoning,
			Source:          models.SourceFallback,
		})
		result.AttackPath = append(result.AttackPath, rule.techniqueID)
	}
	return result, nil
}

// SeverityRisk keeps the fixed 0.8 and 0.9 multipliers on the severity score.
func SeverityRisk(sev models.Severity) models.RiskAssessment {
	score, ok := severityScores[models.Severity(strings.ToLower(string(sev)))]
	if !ok {
		score = defaultSeverityScore
	}
	return models.RiskAssessment{
		Likelihood: score * 0.8,
		Impact:     score,
		Overall:    score * 0.9,
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
