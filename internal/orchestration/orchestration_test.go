package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/threatlynx/internal/broadcast"
	"github.com/bl4ck0w1/threatlynx/internal/catalog"
	"github.com/bl4ck0w1/threatlynx/internal/enrichment"
	"github.com/bl4ck0w1/threatlynx/internal/inference"
	"github.com/bl4ck0w1/threatlynx/internal/reporting"
	"github.com/bl4ck0w1/threatlynx/internal/storage"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

type fakeRecon struct {
	agg     models.ReconAggregate
	started chan struct{}
	release chan struct{}
}

func (f *fakeRecon) Run(ctx context.Context, target models.ScanTarget) models.ReconAggregate {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	agg := f.agg
	agg.Target = target.String()
	return agg
}

type fakeAssessor struct {
	out *models.VulnerabilityAssessment
	err error
}

func (f fakeAssessor) Assess(context.Context, string, models.ReconAggregate) (*models.VulnerabilityAssessment, error) {
	return f.out, f.err
}

type recorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *recorder) Publish(_ string, ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ProgressEvent(nil), r.events...)
}

type fakeArchive struct {
	mu      sync.Mutex
	bundles []*storage.ScanBundle
}

func (f *fakeArchive) Save(b *storage.ScanBundle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bundles = append(f.bundles, b)
	return "/dev/null", nil
}

func sampleAggregate() models.ReconAggregate {
	return models.ReconAggregate{
		Subdomains:   []string{"www.example.com", "api.example.com"},
		OpenPorts:    []int{22, 443},
		DNSRecords:   []models.DNSRecord{},
		Technologies: []models.DetectedTechnology{{Name: "Nginx", Version: "1.25.3", Category: "Web Server"}},
		Headers:      map[string]string{"Server": "nginx/1.25.3"},
		Whois:        map[string]string{},
	}
}

func sampleAssessment() *models.VulnerabilityAssessment {
	return &models.VulnerabilityAssessment{
		RiskScore: 72.6,
		RiskLevel: "high",
		Summary:   "exposed services",
		Vulnerabilities: []models.AssessedVulnerability{
			{Severity: "high", Type: "SQL Injection in Login Form", Description: "unsanitised parameter"},
			{Severity: "medium", Type: "Exposed SSH service", Description: "port 22 reachable"},
		},
	}
}

func newTestSequencer(store storage.Store, assessor Assessor, events Publisher, opts ...SequencerOption) *Sequencer {
	mapper := enrichment.NewMapper(nil, nil, 2, utils.NewNopLogger(), nil)
	return NewSequencer(store, &fakeRecon{agg: sampleAggregate()}, assessor, mapper, events, utils.NewNopLogger(), opts...)
}

func createPending(t *testing.T, store storage.Store, id string) *models.ScanRecord {
	t.Helper()
	rec := &models.ScanRecord{ID: id, Target: "example.com", Kind: models.KindFull, Status: models.StatusPending}
	require.NoError(t, store.CreateScan(context.Background(), rec))
	return rec
}

func TestExecuteSuccessReportsEveryCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	events := &recorder{}
	archive := &fakeArchive{}
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	seq := newTestSequencer(store, fakeAssessor{out: sampleAssessment()}, events,
		WithArchive(archive), WithClock(func() time.Time { return fixed }))

	rec := createPending(t, store, "scan-1")
	require.NoError(t, seq.Execute(ctx, rec))

	got := events.snapshot()
	require.Len(t, got, len(Checkpoints))
	for i, ev := range got {
		assert.Equal(t, Checkpoints[i].Progress, ev.Progress)
		assert.Equal(t, Checkpoints[i].Message, ev.Message)
		if i > 0 {
			assert.GreaterOrEqual(t, ev.Progress, got[i-1].Progress)
		}
	}
	last := got[len(got)-1]
	assert.Equal(t, models.StatusCompleted, last.Status)
	require.NotNil(t, last.RiskScore)
	assert.Equal(t, 73, *last.RiskScore)
	assert.True(t, last.Timestamp.Equal(fixed))
	for _, ev := range got[:len(got)-1] {
		assert.Equal(t, models.StatusRunning, ev.Status)
	}

	stored, err := store.GetScan(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.RiskScore)
	assert.Equal(t, 73, *stored.RiskScore)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.CompletedAt.Equal(fixed))
	assert.NotEmpty(t, stored.Results)

	subs, _ := store.ListSubdomains(ctx, "scan-1")
	assert.Len(t, subs, 2)
	techs, _ := store.ListTechnologies(ctx, "scan-1")
	require.Len(t, techs, 1)
	assert.Equal(t, "1.25.3", techs[0].Version)

	vulns, _ := store.ListVulnerabilities(ctx, "scan-1")
	require.Len(t, vulns, 2)
	assert.Equal(t, models.SeverityHigh, vulns[0].Severity)

	mappings, _ := store.ListMappings(ctx, "scan-1")
	ids := map[string]bool{}
	for _, m := range mappings {
		ids[m.TechniqueID] = true
		assert.Equal(t, "scan-1", m.ScanID)
		assert.Equal(t, models.SourceFallback, m.Source)
	}
	assert.True(t, ids["T1190"])
	assert.True(t, ids["T1021"])

	require.Len(t, archive.bundles, 1)
	assert.Equal(t, models.StatusCompleted, archive.bundles[0].Scan.Status)
	assert.Len(t, archive.bundles[0].Vulnerabilities, 2)
}

func TestExecuteAssessmentFailureKeepsLastCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	events := &recorder{}
	seq := newTestSequencer(store, fakeAssessor{err: errors.New("provider down")}, events)

	rec := createPending(t, store, "scan-2")
	err := seq.Execute(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")

	stored, err := store.GetScan(ctx, "scan-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, CheckpointTechnologies.Progress, stored.Progress)
	assert.Contains(t, stored.Error, "provider down")
	assert.NotNil(t, stored.CompletedAt)
	assert.Nil(t, stored.RiskScore)

	got := events.snapshot()
	terminal := 0
	for _, ev := range got {
		if ev.Status.Terminal() {
			terminal++
		}
	}
	assert.Equal(t, 1, terminal)
	last := got[len(got)-1]
	assert.Equal(t, models.StatusFailed, last.Status)
	assert.Equal(t, 65, last.Progress)
	assert.Contains(t, last.Message, "provider down")

	vulns, _ := store.ListVulnerabilities(ctx, "scan-2")
	assert.Empty(t, vulns)
}

func TestExecuteResultsReachReport(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	provider := inference.ProviderFunc(func(context.Context, string, inference.Schema) (json.RawMessage, error) {
		return json.RawMessage(`{
			"mappings": [
				{"techniqueId": "T1190", "confidence": 91, "reasoning": "public login form"},
				{"techniqueId": "T1595", "confidence": 64, "reasoning": "found by scanning"}
			],
			"attackPath": ["T1595", "T1190"],
			"riskAssessment": {"likelihood": 7.5, "impact": 9, "overall": 8.3}
		}`), nil
	})
	mapper := enrichment.NewMapper(
		enrichment.NewRemoteStrategy(provider, catalog.Default(), time.Second),
		enrichment.NewKeywordStrategy(), 2, utils.NewNopLogger(), nil)
	assessment := sampleAssessment()
	assessment.Recommendations = []string{"parameterise login queries", "restrict port 22"}
	seq := NewSequencer(store, &fakeRecon{agg: sampleAggregate()}, fakeAssessor{out: assessment}, mapper, &recorder{}, utils.NewNopLogger())

	rec := createPending(t, store, "scan-report")
	require.NoError(t, seq.Execute(ctx, rec))

	stored, err := store.GetScan(ctx, "scan-report")
	require.NoError(t, err)
	vulns, err := store.ListVulnerabilities(ctx, "scan-report")
	require.NoError(t, err)
	mappings, err := store.ListMappings(ctx, "scan-report")
	require.NoError(t, err)
	require.Equal(t, "T1190", mappings[0].TechniqueID)

	report, err := reporting.BuildScanReport(*stored, vulns, mappings, catalog.Default())
	require.NoError(t, err)

	require.NotNil(t, report.Assessment)
	assert.Equal(t, "exposed services", report.Assessment.Summary)
	assert.Equal(t, "high", report.Assessment.RiskLevel)
	assert.Equal(t, []string{"parameterise login queries", "restrict port 22"}, report.Assessment.Recommendations)

	require.Len(t, report.AttackPaths, 2)
	for _, path := range report.AttackPaths {
		require.Len(t, path.Steps, 2)
		assert.Equal(t, "T1595", path.Steps[0].TechniqueID)
		assert.Equal(t, "T1190", path.Steps[1].TechniqueID)
		assert.Equal(t, models.RiskAssessment{Likelihood: 7.5, Impact: 9, Overall: 8.3}, path.Risk)
		assert.Equal(t, models.SourceInference, path.Source)
	}
}

type failingMappingStore struct {
	*storage.MemoryStore
}

func (failingMappingStore) CreateMappings(context.Context, []models.TechniqueMapping) error {
	return errors.New("disk full")
}

func TestExecuteMappingFailureLeavesNoRiskScore(t *testing.T) {
	ctx := context.Background()
	store := failingMappingStore{storage.NewMemoryStore()}
	events := &recorder{}
	seq := newTestSequencer(store, fakeAssessor{out: sampleAssessment()}, events)

	rec := createPending(t, store, "scan-nomap")
	err := seq.Execute(ctx, rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stored, err := store.GetScan(ctx, "scan-nomap")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, CheckpointAssessment.Progress, stored.Progress)
	assert.Nil(t, stored.RiskScore)

	doc, err := stored.DecodeResults()
	require.NoError(t, err)
	require.NotNil(t, doc.Assessment)
	assert.Empty(t, doc.Analyses)

	for _, ev := range events.snapshot() {
		assert.Nil(t, ev.RiskScore, "progress %d", ev.Progress)
	}
}

func TestExecuteRejectsScanThatIsNotPending(t *testing.T) {
	store := storage.NewMemoryStore()
	events := &recorder{}
	seq := newTestSequencer(store, fakeAssessor{out: sampleAssessment()}, events)

	rec := createPending(t, store, "scan-3")
	rec.Status = models.StatusCompleted

	err := seq.Execute(context.Background(), rec)
	require.Error(t, err)
	assert.Empty(t, events.snapshot())
}

func TestExecuteExpiredContextFailsScan(t *testing.T) {
	store := storage.NewMemoryStore()
	events := &recorder{}
	seq := newTestSequencer(store, fakeAssessor{out: sampleAssessment()}, events)
	rec := createPending(t, store, "scan-4")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, seq.Execute(ctx, rec))

	stored, err := store.GetScan(context.Background(), "scan-4")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
}

func TestExecuteThroughHubDeliversInOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	hub := broadcast.NewHub(16, utils.NewNopLogger(), nil)
	defer hub.Close()
	obs := hub.RegisterScan("scan-5")

	seq := newTestSequencer(store, fakeAssessor{out: sampleAssessment()}, hub)
	rec := createPending(t, store, "scan-5")
	require.NoError(t, seq.Execute(context.Background(), rec))

	var progress []int
	for len(progress) < len(Checkpoints) {
		select {
		case data := <-obs.Events():
			var ev models.ProgressEvent
			require.NoError(t, json.Unmarshal(data, &ev))
			progress = append(progress, ev.Progress)
		case <-time.After(time.Second):
			t.Fatalf("only received %v", progress)
		}
	}
	assert.Equal(t, []int{0, 50, 65, 80, 90, 100}, progress)
}

func TestSubmitValidatesBeforeCreating(t *testing.T) {
	store := storage.NewMemoryStore()
	seq := newTestSequencer(store, fakeAssessor{out: sampleAssessment()}, &recorder{})
	svc := NewService(store, seq, 2, time.Minute, utils.NewNopLogger())

	_, err := svc.Submit(context.Background(), "256.1.1.1", models.KindFull)
	require.ErrorIs(t, err, models.ErrInvalidTarget)
	scans, _ := store.ListScans(context.Background(), 0)
	assert.Empty(t, scans)

	id, err := svc.Submit(context.Background(), "a.example.com", models.KindRecon)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	svc.Wait(id)

	stored, err := store.GetScan(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "a.example.com", stored.Target)
	assert.Equal(t, models.KindRecon, stored.Kind)
	assert.Equal(t, models.StatusCompleted, stored.Status)
}

func TestServiceCapsConcurrentScans(t *testing.T) {
	store := storage.NewMemoryStore()
	recon := &fakeRecon{agg: sampleAggregate(), started: make(chan struct{}, 4), release: make(chan struct{})}
	mapper := enrichment.NewMapper(nil, nil, 1, utils.NewNopLogger(), nil)
	seq := NewSequencer(store, recon, fakeAssessor{out: sampleAssessment()}, mapper, &recorder{}, utils.NewNopLogger())
	svc := NewService(store, seq, 1, time.Minute, utils.NewNopLogger())

	first, err := svc.Submit(context.Background(), "one.example.com", "")
	require.NoError(t, err)
	<-recon.started

	second, err := svc.Submit(context.Background(), "two.example.com", "")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	rec, err := store.GetScan(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, 2, svc.Active())

	close(recon.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.WaitAll(ctx))

	for _, id := range []string{first, second} {
		rec, err := store.GetScan(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, rec.Status)
		assert.Equal(t, models.KindFull, rec.Kind)
	}
}
