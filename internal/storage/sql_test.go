package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

func newSQLTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "scans.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	s, err := NewSQLStore(db, utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStoreScanLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newSQLTestStore(t)

	require.NoError(t, s.CreateScan(ctx, newScan("a")))
	assert.Error(t, s.CreateScan(ctx, newScan("a")))

	status := models.StatusRunning
	progress := 50
	updated, err := s.UpdateScan(ctx, "a", models.ScanUpdate{Status: &status, Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, updated.Status)
	assert.Equal(t, 50, updated.Progress)
	assert.Equal(t, "example.com", updated.Target)
	assert.Nil(t, updated.RiskScore)
	assert.Empty(t, updated.Results)

	results := json.RawMessage(`{"assessment":{"riskScore":72,"riskLevel":"high","summary":"s","recommendations":[]}}`)
	score := 73
	completed := models.StatusCompleted
	done := 100
	now := time.Now().UTC().Truncate(time.Second)
	updated, err = s.UpdateScan(ctx, "a", models.ScanUpdate{Results: results})
	require.NoError(t, err)
	assert.Equal(t, 50, updated.Progress)
	assert.JSONEq(t, string(results), string(updated.Results))

	updated, err = s.UpdateScan(ctx, "a", models.ScanUpdate{Status: &completed, Progress: &done, RiskScore: &score, CompletedAt: &now})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)
	require.NotNil(t, updated.RiskScore)
	assert.Equal(t, 73, *updated.RiskScore)
	require.NotNil(t, updated.CompletedAt)
	assert.True(t, updated.CompletedAt.Equal(now))
	assert.JSONEq(t, string(results), string(updated.Results))

	doc, err := updated.DecodeResults()
	require.NoError(t, err)
	require.NotNil(t, doc.Assessment)
	assert.Equal(t, "high", doc.Assessment.RiskLevel)

	_, err = s.GetScan(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UpdateScan(ctx, "missing", models.ScanUpdate{Progress: &progress})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreListScansNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newSQLTestStore(t)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	older := newScan("old")
	older.CreatedAt = base
	older.Results = json.RawMessage(`{}`)
	newer := newScan("new")
	newer.CreatedAt = base.Add(time.Minute)
	require.NoError(t, s.CreateScan(ctx, older))
	require.NoError(t, s.CreateScan(ctx, newer))

	scans, err := s.ListScans(ctx, 0)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, "new", scans[0].ID)
	assert.Equal(t, "old", scans[1].ID)
	assert.Empty(t, scans[1].Results)

	scans, err = s.ListScans(ctx, 1)
	require.NoError(t, err)
	require.Len(t, scans, 1)
	assert.Equal(t, "new", scans[0].ID)
}

func TestSQLStoreChildRecords(t *testing.T) {
	ctx := context.Background()
	s := newSQLTestStore(t)
	require.NoError(t, s.CreateScan(ctx, newScan("a")))
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateSubdomains(ctx, nil))
	require.NoError(t, s.CreateSubdomains(ctx, []models.Subdomain{
		{ScanID: "a", Hostname: "www.example.com", IsActive: true},
		{ScanID: "a", Hostname: "api.example.com", IsActive: true},
	}))
	require.NoError(t, s.CreateTechnologies(ctx, []models.Technology{{ScanID: "a", Name: "Nginx", Version: "1.25", Category: "Web Server"}}))
	require.NoError(t, s.CreateVulnerability(ctx, &models.Vulnerability{ID: "v2", ScanID: "a", Severity: models.SeverityMedium, Type: "Exposed SSH service", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.CreateVulnerability(ctx, &models.Vulnerability{ID: "v1", ScanID: "a", Severity: models.SeverityHigh, Type: "SQL Injection", CreatedAt: base}))
	require.NoError(t, s.CreateMappings(ctx, nil))
	require.NoError(t, s.CreateMappings(ctx, []models.TechniqueMapping{
		{ScanID: "a", VulnerabilityID: "v1", TechniqueID: "T1190", Confidence: 85, Source: models.SourceFallback},
		{ScanID: "a", VulnerabilityID: "v2", TechniqueID: "T1021", Confidence: 70, Source: models.SourceFallback},
	}))

	subs, err := s.ListSubdomains(ctx, "a")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "www.example.com", subs[0].Hostname)
	assert.NotZero(t, subs[0].ID)
	assert.Less(t, subs[0].ID, subs[1].ID)

	techs, err := s.ListTechnologies(ctx, "a")
	require.NoError(t, err)
	require.Len(t, techs, 1)
	assert.Equal(t, "1.25", techs[0].Version)

	vulns, err := s.ListVulnerabilities(ctx, "a")
	require.NoError(t, err)
	require.Len(t, vulns, 2)
	assert.Equal(t, "v1", vulns[0].ID)
	assert.Equal(t, "v2", vulns[1].ID)

	maps, err := s.ListMappings(ctx, "a")
	require.NoError(t, err)
	require.Len(t, maps, 2)
	assert.Equal(t, "T1190", maps[0].TechniqueID)
	assert.Equal(t, models.SourceFallback, maps[1].Source)

	empty, err := s.ListMappings(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
