package reporting

import (
	"sort"
	"time"

	"github.com/bl4ck0w1/threatlynx/internal/catalog"
	"github.com/bl4ck0w1/threatlynx/internal/enrichment"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

type AttackReport struct {
	Metadata        ReportMetadata            `json:"metadata" yaml:"metadata"`
	Assessment      *models.AssessmentSummary `json:"assessment,omitempty" yaml:"assessment,omitempty"`
	Summary         ReportSummary             `json:"summary" yaml:"summary"`
	Tactics         []TacticGroup             `json:"tactics" yaml:"tactics"`
	AttackPaths     []AttackPath              `json:"attackPaths" yaml:"attack_paths"`
	OverallRisk     models.RiskAssessment     `json:"overallRisk" yaml:"overall_risk"`
	Vulnerabilities []VulnerabilityEntry      `json:"vulnerabilities" yaml:"vulnerabilities"`
}

type ReportMetadata struct {
	ScanID      string            `json:"scanId" yaml:"scan_id"`
	Target      string            `json:"target" yaml:"target"`
	ScanType    models.ScanKind   `json:"scanType" yaml:"scan_type"`
	Status      models.ScanStatus `json:"status" yaml:"status"`
	RiskScore   *int              `json:"riskScore,omitempty" yaml:"risk_score,omitempty"`
	RiskLevel   string            `json:"riskLevel" yaml:"risk_level"`
	GeneratedAt time.Time         `json:"generatedAt" yaml:"generated_at"`
}

type ReportSummary struct {
	TotalVulnerabilities int            `json:"totalVulnerabilities" yaml:"total_vulnerabilities"`
	BySeverity           map[string]int `json:"bySeverity" yaml:"by_severity"`
	TotalMappings        int            `json:"totalMappings" yaml:"total_mappings"`
	FallbackMappings     int            `json:"fallbackMappings" yaml:"fallback_mappings"`
	Techniques           int            `json:"techniques" yaml:"techniques"`
	Tactics              int            `json:"tactics" yaml:"tactics"`
}

type TacticGroup struct {
	Tactic     string           `json:"tactic" yaml:"tactic"`
	Techniques []TechniqueGroup `json:"techniques" yaml:"techniques"`
}

type TechniqueGroup struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	MaxConfidence   int      `json:"maxConfidence" yaml:"max_confidence"`
	Vulnerabilities []string `json:"vulnerabilities" yaml:"vulnerabilities"`
}

type AttackPath struct {
	VulnerabilityID string                `json:"vulnerabilityId" yaml:"vulnerability_id"`
	Type            string                `json:"type" yaml:"type"`
	Severity        models.Severity       `json:"severity" yaml:"severity"`
	Score           float64               `json:"score" yaml:"score"`
	Source          models.MappingSource  `json:"source,omitempty" yaml:"source,omitempty"`
	Risk            models.RiskAssessment `json:"risk" yaml:"risk"`
	Steps           []PathStep            `json:"steps" yaml:"steps"`
}

type PathStep struct {
	TechniqueID string `json:"techniqueId" yaml:"technique_id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Tactic      string `json:"tactic,omitempty" yaml:"tactic,omitempty"`
}

type VulnerabilityEntry struct {
	ID          string          `json:"id" yaml:"id"`
	Severity    models.Severity `json:"severity" yaml:"severity"`
	Type        string          `json:"type" yaml:"type"`
	Description string          `json:"description" yaml:"description"`
	Remediation string          `json:"remediation,omitempty" yaml:"remediation,omitempty"`
	Techniques  []string        `json:"techniques" yaml:"techniques"`
}

const unknownTactic = "unknown"

// BuildAttackReport groups the mapping results of one scan by tactic and by
// attack path. Results are matched to vulnerabilities by id.
func BuildAttackReport(scan models.ScanRecord, vulns []models.Vulnerability, results []models.MappingResult, cat *catalog.Catalog) *AttackReport {
	if cat == nil {
		cat = catalog.Default()
	}
	scorer := NewRiskScorer()

	report := &AttackReport{
		Metadata: ReportMetadata{
			ScanID:      scan.ID,
			Target:      scan.Target,
			ScanType:    scan.Kind,
			Status:      scan.Status,
			RiskScore:   scan.RiskScore,
			RiskLevel:   RiskLevel(scan.RiskScore),
			GeneratedAt: time.Now().UTC(),
		},
		Summary: ReportSummary{
			TotalVulnerabilities: len(vulns),
			BySeverity:           map[string]int{},
		},
		Tactics:         []TacticGroup{},
		AttackPaths:     []AttackPath{},
		Vulnerabilities: make([]VulnerabilityEntry, 0, len(vulns)),
	}
	for _, sev := range models.Severities {
		report.Summary.BySeverity[string(sev)] = 0
	}

	byVuln := make(map[string]models.MappingResult, len(results))
	for _, r := range results {
		byVuln[r.VulnerabilityID] = r
	}

	tactics := map[string]map[string]*TechniqueGroup{}
	techniquesSeen := map[string]bool{}
	var risks []models.RiskAssessment

	for _, v := range vulns {
		report.Summary.BySeverity[string(v.Severity)]++
		res, mapped := byVuln[v.ID]

		entry := VulnerabilityEntry{
			ID:          v.ID,
			Severity:    v.Severity,
			Type:        v.Type,
			Description: v.Description,
			Remediation: v.Remediation,
			Techniques:  []string{},
		}
		maxConf := 0
		for _, m := range res.Mappings {
			report.Summary.TotalMappings++
			if m.Source == models.SourceFallback {
				report.Summary.FallbackMappings++
			}
			if m.Confidence > maxConf {
				maxConf = m.Confidence
			}
			entry.Techniques = append(entry.Techniques, m.TechniqueID)
			techniquesSeen[m.TechniqueID] = true

			tactic := unknownTactic
			name := ""
			if e, ok := cat.Get(m.TechniqueID); ok {
				tactic, name = e.Tactic, e.Name
			}
			if tactics[tactic] == nil {
				tactics[tactic] = map[string]*TechniqueGroup{}
			}
			g := tactics[tactic][m.TechniqueID]
			if g == nil {
				g = &TechniqueGroup{ID: m.TechniqueID, Name: name, Vulnerabilities: []string{}}
				tactics[tactic][m.TechniqueID] = g
			}
			if m.Confidence > g.MaxConfidence {
				g.MaxConfidence = m.Confidence
			}
			if !contains(g.Vulnerabilities, v.ID) {
				g.Vulnerabilities = append(g.Vulnerabilities, v.ID)
			}
		}
		report.Vulnerabilities = append(report.Vulnerabilities, entry)

		if !mapped || len(res.AttackPath) == 0 {
			continue
		}
		path := AttackPath{
			VulnerabilityID: v.ID,
			Type:            v.Type,
			Severity:        v.Severity,
			Score:           scorer.Score(v.Severity, maxConf),
			Source:          res.Source,
			Risk:            res.RiskAssessment,
			Steps:           make([]PathStep, 0, len(res.AttackPath)),
		}
		for _, id := range res.AttackPath {
			step := PathStep{TechniqueID: id}
			if e, ok := cat.Get(id); ok {
				step.Name, step.Tactic = e.Name, e.Tactic
			}
			path.Steps = append(path.Steps, step)
		}
		report.AttackPaths = append(report.AttackPaths, path)
		risks = append(risks, res.RiskAssessment)
	}

	tacticNames := make([]string, 0, len(tactics))
	for t := range tactics {
		tacticNames = append(tacticNames, t)
	}
	sort.Strings(tacticNames)
	for _, t := range tacticNames {
		group := TacticGroup{Tactic: t}
		for _, g := range tactics[t] {
			group.Techniques = append(group.Techniques, *g)
		}
		sort.Slice(group.Techniques, func(i, j int) bool {
			if group.Techniques[i].MaxConfidence != group.Techniques[j].MaxConfidence {
				return group.Techniques[i].MaxConfidence > group.Techniques[j].MaxConfidence
			}
			return group.Techniques[i].ID < group.Techniques[j].ID
		})
		report.Tactics = append(report.Tactics, group)
	}

	sort.SliceStable(report.AttackPaths, func(i, j int) bool {
		return report.AttackPaths[i].Score > report.AttackPaths[j].Score
	})

	report.Summary.Techniques = len(techniquesSeen)
	report.Summary.Tactics = len(report.Tactics)
	report.OverallRisk = scorer.Overall(risks)
	return report
}

// BuildScanReport builds the report of a stored scan from its rows and its
// results document.
func BuildScanReport(scan models.ScanRecord, vulns []models.Vulnerability, mappings []models.TechniqueMapping, cat *catalog.Catalog) (*AttackReport, error) {
	doc, err := scan.DecodeResults()
	if err != nil {
		return nil, err
	}
	results := ResultsFromMappings(vulns, mappings, doc.Analyses, enrichment.SeverityRisk)
	report := BuildAttackReport(scan, vulns, results, cat)
	report.Assessment = doc.Assessment
	return report, nil
}

// ResultsFromMappings rebuilds per-vulnerability mapping results from stored
// mapping rows. A stored analysis supplies the attack path, risk and source.
// Without one the attack path follows row order and risk comes from the
// severity.
func ResultsFromMappings(vulns []models.Vulnerability, mappings []models.TechniqueMapping, analyses map[string]models.VulnerabilityAnalysis, risk func(models.Severity) models.RiskAssessment) []models.MappingResult {
	grouped := map[string][]models.TechniqueMapping{}
	for _, m := range mappings {
		grouped[m.VulnerabilityID] = append(grouped[m.VulnerabilityID], m)
	}

	results := make([]models.MappingResult, 0, len(vulns))
	for _, v := range vulns {
		ms := grouped[v.ID]
		res := models.MappingResult{
			VulnerabilityID: v.ID,
			Mappings:        ms,
			AttackPath:      []string{},
		}
		if res.Mappings == nil {
			res.Mappings = []models.TechniqueMapping{}
		}

		if a, ok := analyses[v.ID]; ok {
			res.AttackPath = append(res.AttackPath, a.AttackPath...)
			res.RiskAssessment = a.RiskAssessment
			res.Source = a.Source
			results = append(results, res)
			continue
		}

		for _, m := range ms {
			if !contains(res.AttackPath, m.TechniqueID) {
				res.AttackPath = append(res.AttackPath, m.TechniqueID)
			}
			res.Source = m.Source
		}
		if risk != nil {
			res.RiskAssessment = risk(v.Severity)
		}
		results = append(results, res)
	}
	return results
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
