package recon

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

type signatureRule struct {
	header   string
	patterns []string
	name     string
	category string
}

var signatureTable = []signatureRule{
	{header: "Server", patterns: []string{"nginx"}, name: "Nginx", category: "Web Server"},
	{header: "Server", patterns: []string{"apache"}, name: "Apache", category: "Web Server"},
	{header: "Server", patterns: []string{"microsoft-iis", "iis"}, name: "IIS", category: "Web Server"},
	{header: "Server", patterns: []string{"cloudflare"}, name: "Cloudflare", category: "CDN"},
	{header: "Server", patterns: []string{"litespeed"}, name: "LiteSpeed", category: "Web Server"},
	{header: "X-Powered-By", patterns: []string{"php"}, name: "PHP", category: "Programming Language"},
	{header: "X-Powered-By", patterns: []string{"asp.net"}, name: "ASP.NET", category: "Web Framework"},
	{header: "X-Powered-By", patterns: []string{"express"}, name: "Express", category: "Web Framework"},
	{header: "X-Powered-By", patterns: []string{"next.js"}, name: "Next.js", category: "Web Framework"},
	{header: "X-Generator", patterns: []string{"wordpress"}, name: "WordPress", category: "CMS"},
	{header: "X-Generator", patterns: []string{"drupal"}, name: "Drupal", category: "CMS"},
}

var versionPattern = regexp.MustCompile(`[/ ]v?(\d+(?:\.\d+)*)\b`)

// MatchSignatures applies the rule table in order, one technology per
// matching rule.
func MatchSignatures(headers map[string]string) []models.DetectedTechnology {
	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}

	techs := make([]models.DetectedTechnology, 0)
	for _, rule := range signatureTable {
		value, ok := lowered[strings.ToLower(rule.header)]
		if !ok || value == "" {
			continue
		}
		lv := strings.ToLower(value)
		for _, p := range rule.patterns {
			if strings.Contains(lv, p) {
				techs = append(techs, models.DetectedTechnology{
					Name:     rule.name,
					Version:  extractVersion(value),
					Category: rule.category,
				})
				break
			}
		}
	}
	return techs
}

// extractVersion returns the first candidate that parses as a semantic
// version, as written in the header. Without one the first candidate is used.
func extractVersion(value string) string {
	matches := versionPattern.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return ""
	}
	for _, m := range matches {
		if v, err := semver.NewVersion(m[1]); err == nil {
			return v.Original()
		}
	}
	return matches[0][1]
}
