package models

import "time"

type TechniqueCatalogEntry struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Tactic      string   `json:"tactic" yaml:"tactic"`
	Platforms   []string `json:"platforms" yaml:"platforms"`
	Detection   string   `json:"detection" yaml:"detection"`
	Mitigation  string   `json:"mitigation" yaml:"mitigation"`
}

type TechniqueSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tactic string `json:"tactic"`
}

type MappingSource string

const (
	SourceInference MappingSource = "inference"
	SourceFallback  MappingSource = "fallback"
)

type TechniqueMapping struct {
	ID              uint          `json:"id" gorm:"primaryKey"`
	ScanID          string        `json:"scanId" gorm:"index;size:36"`
	VulnerabilityID string        `json:"vulnerabilityId" gorm:"index;size:36"`
	TechniqueID     string        `json:"techniqueId" gorm:"size:16"`
	Confidence      int           `json:"confidence"`
	Reasoning       string        `json:"reasoning" gorm:"type:text"`
	Source          MappingSource `json:"source" gorm:"size:16"`
	CreatedAt       time.Time     `json:"createdAt"`
}

type RiskAssessment struct {
	Likelihood float64 `json:"likelihood"`
	Impact     float64 `json:"impact"`
	Overall    float64 `json:"overall"`
}

// VulnerabilityAnalysis keeps the parts of a MappingResult that are not
// mapping rows.
type VulnerabilityAnalysis struct {
	AttackPath     []string       `json:"attackPath"`
	RiskAssessment RiskAssessment `json:"riskAssessment"`
	Source         MappingSource  `json:"source"`
}

// MappingResult is what a mapping strategy produces for one vulnerability.
type MappingResult struct {
	VulnerabilityID string             `json:"vulnerabilityId"`
	Mappings        []TechniqueMapping `json:"mappings"`
	AttackPath      []string           `json:"attackPath"`
	RiskAssessment  RiskAssessment     `json:"riskAssessment"`
	Source          MappingSource      `json:"source"`
}

func (r MappingResult) Analysis() VulnerabilityAnalysis {
	path := append([]string{}, r.AttackPath...)
	return VulnerabilityAnalysis{AttackPath: path, RiskAssessment: r.RiskAssessment, Source: r.Source}
}
