package reporting

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const SummaryTemplate = "summary"

const summaryText = `
Scan Summary
═══════════════════════════════════════════════════════════════
Target:            {{ .Metadata.Target }}
Scan ID:           {{ .Metadata.ScanID }}
Status:            {{ title (print .Metadata.Status) }}
Risk Score:        {{ if .Metadata.RiskScore }}{{ deref .Metadata.RiskScore }}/100 ({{ title .Metadata.RiskLevel }}){{ else }}n/a{{ end }}
Vulnerabilities:   {{ .Summary.TotalVulnerabilities }} (Critical: {{ index .Summary.BySeverity "critical" }}, High: {{ index .Summary.BySeverity "high" }}, Medium: {{ index .Summary.BySeverity "medium" }}, Low: {{ index .Summary.BySeverity "low" }})
Technique Mapping: {{ .Summary.TotalMappings }} mappings, {{ .Summary.Techniques }} techniques, {{ .Summary.FallbackMappings }} from keyword fallback
{{- with .Assessment }}
Assessment:        {{ .Summary }}
{{- range .Recommendations }}
  - {{ . }}
{{- end }}
{{- end }}
{{- range .Tactics }}
  {{ .Tactic }}
  {{- range .Techniques }}
    {{ pad .ID 10 }} {{ .Name }} (confidence {{ .MaxConfidence }})
  {{- end }}
{{- end }}
═══════════════════════════════════════════════════════════════
`

type TemplateManager struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

// NewTemplateManager returns a manager with the console summary registered.
func NewTemplateManager() *TemplateManager {
	tm := &TemplateManager{templates: make(map[string]*template.Template)}
	if err := tm.Register(SummaryTemplate, summaryText, nil); err != nil {
		panic(err)
	}
	return tm
}

func defaultFuncs() template.FuncMap {
	title := cases.Title(language.English)
	return template.FuncMap{
		"title": func(s string) string { return title.String(s) },
		"deref": func(p *int) int { return *p },
		"pad": func(s string, n int) string {
			if len(s) >= n {
				return s
			}
			return s + strings.Repeat(" ", n-len(s))
		},
	}
}

func (tm *TemplateManager) Register(name, tpl string, funcs template.FuncMap) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	t := template.New(name).Funcs(defaultFuncs())
	if funcs != nil {
		t = t.Funcs(funcs)
	}
	parsed, err := t.Parse(tpl)
	if err != nil {
		return fmt.Errorf("parse %q: %w", name, err)
	}
	tm.templates[name] = parsed
	return nil
}

func (tm *TemplateManager) Get(name string) (*template.Template, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.templates[name]
	return t, ok
}

func (tm *TemplateManager) Render(name string, data interface{}) (string, error) {
	t, ok := tm.Get(name)
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %q: %w", name, err)
	}
	return buf.String(), nil
}
