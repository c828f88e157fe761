package enrichment

import "github.com/bl4ck0w1/threatlynx/internal/inference"

var VulnerabilityAssessmentSchema = inference.Schema{
	"type":     "object",
	"required": []string{"riskScore", "riskLevel", "summary", "recommendations", "vulnerabilities"},
	"properties": map[string]any{
		"riskScore": map[string]any{"type": "number", "minimum": 0, "maximum": 100},
		"riskLevel": map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
		"summary":   map[string]any{"type": "string"},
		"recommendations": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"vulnerabilities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"severity", "type", "description"},
				"properties": map[string]any{
					"severity":    map[string]any{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
					"type":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"cvss":        map[string]any{"type": "string"},
					"remediation": map[string]any{"type": "string"},
				},
			},
		},
	},
}

var TechniqueMappingSchema = inference.Schema{
	"type":     "object",
	"required": []string{"mappings", "attackPath", "riskAssessment"},
	"properties": map[string]any{
		"mappings": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []string{"techniqueId", "confidence", "reasoning"},
				"properties": map[string]any{
					"techniqueId": map[string]any{"type": "string"},
					"confidence":  map[string]any{"type": "number", "minimum": 0, "maximum": 100},
					"reasoning":   map[string]any{"type": "string"},
				},
			},
		},
		"attackPath": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"riskAssessment": map[string]any{
			"type":     "object",
			"required": []string{"likelihood", "impact", "overall"},
			"properties": map[string]any{
				"likelihood": map[string]any{"type": "number"},
				"impact":     map[string]any{"type": "number"},
				"overall":    map[string]any{"type": "number"},
			},
		},
	},
}
