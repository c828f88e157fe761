// Package catalog holds the read-only table of attack techniques used for
// mapping vulnerabilities.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

//go:embed techniques.yaml
var techniquesYAML []byte

type document struct {
	Techniques []models.TechniqueCatalogEntry `yaml:"techniques"`
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	entries []models.TechniqueCatalogEntry
	byID    map[string]int
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the process-wide catalog parsed from the embedded document.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Parse(techniquesYAML)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("embedded technique catalog: %v", defaultErr))
	}
	return defaultCatalog
}

func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(doc.Techniques)
}

func New(entries []models.TechniqueCatalogEntry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]models.TechniqueCatalogEntry, 0, len(entries)),
		byID:    make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.ID == "" || e.Name == "" || e.Tactic == "" {
			return nil, fmt.Errorf("catalog entry %q: id, name and tactic are required", e.ID)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate id", e.ID)
		}
		e.Platforms = append([]string(nil), e.Platforms...)
		c.byID[e.ID] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

func (c *Catalog) All() []models.TechniqueCatalogEntry {
	out := make([]models.TechniqueCatalogEntry, len(c.entries))
	for i, e := range c.entries {
		e.Platforms = append([]string(nil), e.Platforms...)
		out[i] = e
	}
	return out
}

func (c *Catalog) Get(id string) (models.TechniqueCatalogEntry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.TechniqueCatalogEntry{}, false
	}
	e := c.entries[i]
	e.Platforms = append([]string(nil), e.Platforms...)
	return e, true
}

func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

func (c *Catalog) Len() int { return len(c.entries) }

func (c *Catalog) Summary() []models.TechniqueSummary {
	out := make([]models.TechniqueSummary, len(c.entries))
	for i, e := range c.entries {
		out[i] = models.TechniqueSummary{ID: e.ID, Name: e.Name, Tactic: e.Tactic}
	}
	return out
}

// Tactics lists distinct tactics in alphabetical order.
func (c *Catalog) Tactics() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range c.entries {
		if _, ok := seen[e.Tactic]; !ok {
			seen[e.Tactic] = struct{}{}
			out = append(out, e.Tactic)
		}
	}
	sort.Strings(out)
	return out
}
