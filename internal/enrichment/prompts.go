package enrichment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

func assessmentPrompt(target string, agg models.ReconAggregate) (string, error) {
	data, err := json.MarshalIndent(agg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode aggregate: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a security analyst. Assess the externally visible attack surface of %s.\n", target)
	b.WriteString("Reconnaissance results:\n")
	b.Write(data)
	b.WriteString("\n\nReturn a risk score between 0 and 100, a risk level, a short summary, ")
	b.WriteString("recommendations and the list of likely vulnerabilities with severity, type, description, ")
	b.WriteString("CVSS vector when known and remediation.\n")
	return b.String(), nil
}

func mappingPrompt(v models.Vulnerability, summary []models.TechniqueSummary) (string, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("encode catalog: %w", err)
	}

	var b strings.Builder
	b.WriteString("Map the following vulnerability to attack techniques from the catalog.\n")
	fmt.Fprintf(&b, "Severity: %s\nType: %s\nDescription: %s\n", v.Severity, v.Type, v.Description)
	if v.CVSS != "" {
		fmt.Fprintf(&b, "CVSS: %s\n", v.CVSS)
	}
	b.WriteString("Catalog (id, name, tactic):\n")
	b.Write(data)
	b.WriteString("\n\nUse only technique ids from the catalog. Give each mapping a confidence from 0 to 100 ")
	b.WriteString("and a reasoning, the ordered attack path as technique ids and a risk assessment.\n")
	return b.String(), nil
}
