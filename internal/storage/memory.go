package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

type MemoryStore struct {
	mu           sync.RWMutex
	scans        map[string]*models.ScanRecord
	subdomains   map[string][]models.Subdomain
	technologies map[string][]models.Technology
	vulns        map[string][]models.Vulnerability
	mappings     map[string][]models.TechniqueMapping
	nextID       uint
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scans:        make(map[string]*models.ScanRecord),
		subdomains:   make(map[string][]models.Subdomain),
		technologies: make(map[string][]models.Technology),
		vulns:        make(map[string][]models.Vulnerability),
		mappings:     make(map[string][]models.TechniqueMapping),
		now:          time.Now,
	}
}

func (m *MemoryStore) CreateScan(_ context.Context, scan *models.ScanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.scans[scan.ID]; exists {
		return fmt.Errorf("scan %s already exists", scan.ID)
	}
	if scan.CreatedAt.IsZero() {
		scan.CreatedAt = m.now()
	}
	m.scans[scan.ID] = copyScan(scan)
	return nil
}

func (m *MemoryStore) GetScan(_ context.Context, id string) (*models.ScanRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scans[id]
	if !ok {
		return nil, fmt.Errorf("scan %s: %w", id, ErrNotFound)
	}
	return copyScan(s), nil
}

// ListScans returns the newest scans first.
func (m *MemoryStore) ListScans(_ context.Context, limit int) ([]models.ScanRecord, error) {
	m.mu.RLock()
	out := make([]models.ScanRecord, 0, len(m.scans))
	for _, s := range m.scans {
		out = append(out, *copyScan(s))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateScan(_ context.Context, id string, update models.ScanUpdate) (*models.ScanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return nil, fmt.Errorf("scan %s: %w", id, ErrNotFound)
	}
	update.Apply(s)
	return copyScan(s), nil
}

func (m *MemoryStore) CreateSubdomains(_ context.Context, subs []models.Subdomain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range subs {
		if _, ok := m.scans[s.ScanID]; !ok {
			return fmt.Errorf("subdomain %s: scan %s: %w", s.Hostname, s.ScanID, ErrNotFound)
		}
	}
	for _, s := range subs {
		m.nextID++
		s.ID = m.nextID
		if s.CreatedAt.IsZero() {
			s.CreatedAt = m.now()
		}
		m.subdomains[s.ScanID] = append(m.subdomains[s.ScanID], s)
	}
	return nil
}

func (m *MemoryStore) ListSubdomains(_ context.Context, scanID string) ([]models.Subdomain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Subdomain{}, m.subdomains[scanID]...), nil
}

func (m *MemoryStore) CreateTechnologies(_ context.Context, techs []models.Technology) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range techs {
		if _, ok := m.scans[t.ScanID]; !ok {
			return fmt.Errorf("technology %s: scan %s: %w", t.Name, t.ScanID, ErrNotFound)
		}
	}
	for _, t := range techs {
		m.nextID++
		t.ID = m.nextID
		if t.CreatedAt.IsZero() {
			t.CreatedAt = m.now()
		}
		m.technologies[t.ScanID] = append(m.technologies[t.ScanID], t)
	}
	return nil
}

func (m *MemoryStore) ListTechnologies(_ context.Context, scanID string) ([]models.Technology, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Technology{}, m.technologies[scanID]...), nil
}

func (m *MemoryStore) CreateVulnerability(_ context.Context, v *models.Vulnerability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scans[v.ScanID]; !ok {
		return fmt.Errorf("vulnerability %s: scan %s: %w", v.ID, v.ScanID, ErrNotFound)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = m.now()
	}
	m.vulns[v.ScanID] = append(m.vulns[v.ScanID], *v)
	return nil
}

func (m *MemoryStore) ListVulnerabilities(_ context.Context, scanID string) ([]models.Vulnerability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Vulnerability{}, m.vulns[scanID]...), nil
}

func (m *MemoryStore) CreateMappings(_ context.Context, mappings []models.TechniqueMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range mappings {
		if _, ok := m.scans[mp.ScanID]; !ok {
			return fmt.Errorf("mapping %s: scan %s: %w", mp.TechniqueID, mp.ScanID, ErrNotFound)
		}
	}
	for _, mp := range mappings {
		m.nextID++
		mp.ID = m.nextID
		if mp.CreatedAt.IsZero() {
			mp.CreatedAt = m.now()
		}
		m.mappings[mp.ScanID] = append(m.mappings[mp.ScanID], mp)
	}
	return nil
}

func (m *MemoryStore) ListMappings(_ context.Context, scanID string) ([]models.TechniqueMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.TechniqueMapping{}, m.mappings[scanID]...), nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[models.ScanStatus]int{}
	for _, s := range m.scans {
		counts[s.Status]++
	}
	return map[string]interface{}{
		"scans":     len(m.scans),
		"by_status": counts,
	}
}

func copyScan(s *models.ScanRecord) *models.ScanRecord {
	c := *s
	if s.RiskScore != nil {
		v := *s.RiskScore
		c.RiskScore = &v
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.Results != nil {
		c.Results = append([]byte(nil), s.Results...)
	}
	return &c
}
