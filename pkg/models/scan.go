package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
)

func (s ScanStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func CanTransition(from, to ScanStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

type ScanKind string

const (
	KindRecon ScanKind = "recon"
	KindFull  ScanKind = "full"
)

func ParseScanKind(s string) (ScanKind, error) {
	switch ScanKind(s) {
	case "":
		return KindFull, nil
	case KindRecon, KindFull:
		return ScanKind(s), nil
	default:
		return "", fmt.Errorf("unknown scan type %q", s)
	}
}

type ScanRecord struct {
	ID          string          `json:"id" gorm:"primaryKey;size:36"`
	Target      string          `json:"target" gorm:"index;size:253"`
	Kind        ScanKind        `json:"scanType" gorm:"size:16"`
	Status      ScanStatus      `json:"status" gorm:"index;size:16"`
	Progress    int             `json:"progress"`
	RiskScore   *int            `json:"riskScore,omitempty"`
	Results     json.RawMessage `json:"results,omitempty" gorm:"type:longblob"`
	Error       string          `json:"error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// DecodeResults returns the stored results document. A scan that has not
// finished recon yet yields the zero value.
func (r ScanRecord) DecodeResults() (ScanResults, error) {
	var out ScanResults
	if len(r.Results) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(r.Results, &out); err != nil {
		return ScanResults{}, fmt.Errorf("decode results of scan %s: %w", r.ID, err)
	}
	return out, nil
}

// ScanResults is the document kept in ScanRecord.Results. Each stage adds
// its part and the whole document is rewritten.
type ScanResults struct {
	Aggregate  *ReconAggregate                  `json:"aggregate,omitempty"`
	Assessment *AssessmentSummary               `json:"assessment,omitempty"`
	Analyses   map[string]VulnerabilityAnalysis `json:"analyses,omitempty"`
}

// ScanUpdate carries the fields to change; nil fields are left untouched.
type ScanUpdate struct {
	Status      *ScanStatus
	Progress    *int
	RiskScore   *int
	Results     []byte
	Error       *string
	CompletedAt *time.Time
}

func (u ScanUpdate) Apply(r *ScanRecord) {
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.Progress != nil {
		r.Progress = *u.Progress
	}
	if u.RiskScore != nil {
		v := *u.RiskScore
		r.RiskScore = &v
	}
	if u.Results != nil {
		r.Results = append([]byte(nil), u.Results...)
	}
	if u.Error != nil {
		r.Error = *u.Error
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		r.CompletedAt = &t
	}
}

type Subdomain struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ScanID    string    `json:"scanId" gorm:"index;size:36"`
	Hostname  string    `json:"subdomain" gorm:"size:253"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

type Technology struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ScanID    string    `json:"scanId" gorm:"index;size:36"`
	Name      string    `json:"name" gorm:"size:128"`
	Version   string    `json:"version,omitempty" gorm:"size:64"`
	Category  string    `json:"category" gorm:"size:64"`
	CreatedAt time.Time `json:"createdAt"`
}

type ProgressEvent struct {
	ScanID    string     `json:"scanId"`
	Status    ScanStatus `json:"status"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message,omitempty"`
	RiskScore *int       `json:"riskScore,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
