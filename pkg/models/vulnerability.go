package models

import (
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return sev, nil
	default:
		return "", fmt.Errorf("invalid severity: %q", s)
	}
}

type Vulnerability struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	ScanID      string    `json:"scanId" gorm:"index;size:36"`
	Severity    Severity  `json:"severity" gorm:"size:16"`
	Type        string    `json:"type" gorm:"size:255"`
	Description string    `json:"description" gorm:"type:text"`
	CVSS        string    `json:"cvss,omitempty" gorm:"size:64"`
	Remediation string    `json:"remediation,omitempty" gorm:"type:text"`
	CreatedAt   time.Time `json:"createdAt"`
}

// VulnerabilityAssessment is the decoded output of the vulnerability inference stage.
type VulnerabilityAssessment struct {
	RiskScore       float64                 `json:"riskScore"`
	RiskLevel       string                  `json:"riskLevel"`
	Summary         string                  `json:"summary"`
	Recommendations []string                `json:"recommendations"`
	Vulnerabilities []AssessedVulnerability `json:"vulnerabilities"`
}

// AssessmentSummary is the scan-level part of an assessment.
type AssessmentSummary struct {
	RiskScore       float64  `json:"riskScore" yaml:"risk_score"`
	RiskLevel       string   `json:"riskLevel" yaml:"risk_level"`
	Summary         string   `json:"summary" yaml:"summary"`
	Recommendations []string `json:"recommendations" yaml:"recommendations"`
}

func (a VulnerabilityAssessment) ScanSummary() AssessmentSummary {
	recs := a.Recommendations
	if recs == nil {
		recs = []string{}
	}
	return AssessmentSummary{
		RiskScore:       a.RiskScore,
		RiskLevel:       a.RiskLevel,
		Summary:         a.Summary,
		Recommendations: recs,
	}
}

type AssessedVulnerability struct {
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	Description string `json:"description"`
	CVSS        string `json:"cvss,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}
