package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/internal/storage"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

type Recon interface {
	Run(ctx context.Context, target models.ScanTarget) models.ReconAggregate
}

type Assessor interface {
	Assess(ctx context.Context, target string, agg models.ReconAggregate) (*models.VulnerabilityAssessment, error)
}

type TechniqueMapper interface {
	MapAll(ctx context.Context, vulns []models.Vulnerability) []models.MappingResult
}

type Publisher interface {
	Publish(scanID string, event models.ProgressEvent)
}

type Archiver interface {
	Save(bundle *storage.ScanBundle) (string, error)
}

// Sequencer drives one scan through its stages. A stage's records are
// persisted, then the scan row is updated, then one event is published,
// before the next stage starts.
type Sequencer struct {
	store    storage.Store
	recon    Recon
	assessor Assessor
	mapper   TechniqueMapper
	events   Publisher
	archive  Archiver
	logger   *logrus.Logger
	metrics  *utils.MetricsCollector
	now      func() time.Time
}

type SequencerOption func(*Sequencer)

func WithArchive(a Archiver) SequencerOption {
	return func(s *Sequencer) { s.archive = a }
}

func WithMetrics(m *utils.MetricsCollector) SequencerOption {
	return func(s *Sequencer) { s.metrics = m }
}

func WithClock(now func() time.Time) SequencerOption {
	return func(s *Sequencer) { s.now = now }
}

func NewSequencer(store storage.Store, recon Recon, assessor Assessor, mapper TechniqueMapper, events Publisher, logger *logrus.Logger, opts ...SequencerOption) *Sequencer {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Sequencer{
		store:    store,
		recon:    recon,
		assessor: assessor,
		mapper:   mapper,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run tracks the state of one execution.
type run struct {
	scanID  string
	target  string
	status  models.ScanStatus
	last    Checkpoint
	agg     *models.ReconAggregate
	results models.ScanResults
	score   *int
	vulns   []models.Vulnerability
	maps    []models.TechniqueMapping
}

// resultsUpdate encodes the results document gathered so far.
func (r *run) resultsUpdate() (models.ScanUpdate, error) {
	data, err := json.Marshal(r.results)
	if err != nil {
		return models.ScanUpdate{}, fmt.Errorf("encode results: %w", err)
	}
	return models.ScanUpdate{Results: data}, nil
}

func (r *run) allowed(to models.ScanStatus) error {
	if !models.CanTransition(r.status, to) {
		return fmt.Errorf("scan %s: illegal transition %s -> %s", r.scanID, r.status, to)
	}
	return nil
}

func (r *run) transition(to models.ScanStatus) error {
	if err := r.allowed(to); err != nil {
		return err
	}
	r.status = to
	return nil
}

// Execute runs every stage for a pending scan. The returned error is the
// cause of a failed scan; the failure itself is already recorded and
// published when Execute returns.
func (s *Sequencer) Execute(ctx context.Context, record *models.ScanRecord) error {
	r := &run{scanID: record.ID, target: record.Target, status: record.Status}
	log := s.logger.WithFields(logrus.Fields{"scan_id": r.scanID, "target": r.target})

	if err := r.transition(models.StatusRunning); err != nil {
		return err
	}
	running := models.StatusRunning
	progress := CheckpointStart.Progress
	if err := s.checkpoint(ctx, r, CheckpointStart, models.ScanUpdate{Status: &running, Progress: &progress}); err != nil {
		return s.fail(r, err)
	}
	log.Info("Scan started")

	target, err := models.NewScanTarget(r.target)
	if err != nil {
		return s.fail(r, err)
	}

	stages := []struct {
		name string
		cp   Checkpoint
		fn   func(context.Context, *run) (models.ScanUpdate, error)
	}{
		{"recon", CheckpointRecon, func(ctx context.Context, r *run) (models.ScanUpdate, error) {
			return s.reconStage(ctx, r, target)
		}},
		{"technologies", CheckpointTechnologies, s.technologyStage},
		{"assessment", CheckpointAssessment, s.assessmentStage},
		{"mapping", CheckpointMapping, s.mappingStage},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return s.fail(r, fmt.Errorf("%s stage not started: %w", st.name, err))
		}
		update, err := st.fn(ctx, r)
		if err != nil {
			return s.fail(r, fmt.Errorf("%s stage: %w", st.name, err))
		}
		p := st.cp.Progress
		update.Progress = &p
		if err := s.checkpoint(ctx, r, st.cp, update); err != nil {
			return s.fail(r, err)
		}
		log.WithField("progress", p).Infof("Stage %s complete", st.name)
	}

	if err := r.allowed(models.StatusCompleted); err != nil {
		return s.fail(r, err)
	}
	riskScore := r.score
	completed := models.StatusCompleted
	done := CheckpointDone.Progress
	now := s.now()
	final := models.ScanUpdate{Status: &completed, Progress: &done, CompletedAt: &now, RiskScore: riskScore}
	if _, err := s.store.UpdateScan(context.WithoutCancel(ctx), r.scanID, final); err != nil {
		return s.fail(r, fmt.Errorf("finalize: %w", err))
	}
	r.status = models.StatusCompleted
	r.last = CheckpointDone
	s.publish(r, CheckpointDone.Message, riskScore)
	s.metrics.IncCounter(utils.MetricScans, prometheus.Labels{"status": string(models.StatusCompleted)})

	fields := logrus.Fields{"vulnerabilities": len(r.vulns), "mappings": len(r.maps)}
	if riskScore != nil {
		fields["risk_score"] = *riskScore
	}
	log.WithFields(fields).Info("Scan completed")

	s.archiveRun(ctx, r)
	return nil
}

func (s *Sequencer) checkpoint(ctx context.Context, r *run, cp Checkpoint, update models.ScanUpdate) error {
	if _, err := s.store.UpdateScan(ctx, r.scanID, update); err != nil {
		return fmt.Errorf("record progress %d: %w", cp.Progress, err)
	}
	r.last = cp
	s.publish(r, cp.Message, nil)
	return nil
}

func (s *Sequencer) publish(r *run, message string, riskScore *int) {
	if s.events == nil {
		return
	}
	s.events.Publish(r.scanID, models.ProgressEvent{
		ScanID:    r.scanID,
		Status:    r.status,
		Progress:  r.last.Progress,
		Message:   message,
		RiskScore: riskScore,
		Timestamp: s.now().UTC(),
	})
}

// fail records the terminal failure, keeping the last reached checkpoint as
// the progress value.
func (s *Sequencer) fail(r *run, cause error) error {
	log := s.logger.WithFields(logrus.Fields{"scan_id": r.scanID, "target": r.target, "progress": r.last.Progress})
	if err := r.transition(models.StatusFailed); err != nil {
		log.WithError(err).Error("Scan could not be marked failed")
		return cause
	}

	failed := models.StatusFailed
	progress := r.last.Progress
	msg := cause.Error()
	now := s.now()
	// The scan deadline may already have passed; the failure is still recorded.
	if _, err := s.store.UpdateScan(context.Background(), r.scanID, models.ScanUpdate{
		Status:      &failed,
		Progress:    &progress,
		Error:       &msg,
		CompletedAt: &now,
	}); err != nil {
		log.WithError(err).Error("Failed to record scan failure")
	}
	s.publish(r, msg, nil)
	s.metrics.IncCounter(utils.MetricScans, prometheus.Labels{"status": string(models.StatusFailed)})
	log.WithError(cause).Error("Scan failed")

	s.archiveRun(context.Background(), r)
	return cause
}

func (s *Sequencer) reconStage(ctx context.Context, r *run, target models.ScanTarget) (models.ScanUpdate, error) {
	agg := s.recon.Run(ctx, target)
	r.agg = &agg
	r.results.Aggregate = &agg
	return r.resultsUpdate()
}

func (s *Sequencer) technologyStage(ctx context.Context, r *run) (models.ScanUpdate, error) {
	subs := make([]models.Subdomain, 0, len(r.agg.Subdomains))
	for _, host := range r.agg.Subdomains {
		subs = append(subs, models.Subdomain{ScanID: r.scanID, Hostname: host, IsActive: true})
	}
	if err := s.store.CreateSubdomains(ctx, subs); err != nil {
		return models.ScanUpdate{}, err
	}

	techs := make([]models.Technology, 0, len(r.agg.Technologies))
	for _, t := range r.agg.Technologies {
		techs = append(techs, models.Technology{ScanID: r.scanID, Name: t.Name, Version: t.Version, Category: t.Category})
	}
	if err := s.store.CreateTechnologies(ctx, techs); err != nil {
		return models.ScanUpdate{}, err
	}
	return models.ScanUpdate{}, nil
}

func (s *Sequencer) assessmentStage(ctx context.Context, r *run) (models.ScanUpdate, error) {
	assessment, err := s.assessor.Assess(ctx, r.target, *r.agg)
	if err != nil {
		return models.ScanUpdate{}, err
	}

	r.vulns = make([]models.Vulnerability, 0, len(assessment.Vulnerabilities))
	for _, av := range assessment.Vulnerabilities {
		sev, err := models.ParseSeverity(av.Severity)
		if err != nil {
			return models.ScanUpdate{}, err
		}
		v := models.Vulnerability{
			ID:          uuid.NewString(),
			ScanID:      r.scanID,
			Severity:    sev,
			Type:        av.Type,
			Description: av.Description,
			CVSS:        av.CVSS,
			Remediation: av.Remediation,
			CreatedAt:   s.now(),
		}
		if err := s.store.CreateVulnerability(ctx, &v); err != nil {
			return models.ScanUpdate{}, err
		}
		r.vulns = append(r.vulns, v)
	}

	// The score is only written with the completed status.
	score := int(math.Round(assessment.RiskScore))
	r.score = &score
	summary := assessment.ScanSummary()
	r.results.Assessment = &summary
	return r.resultsUpdate()
}

func (s *Sequencer) mappingStage(ctx context.Context, r *run) (models.ScanUpdate, error) {
	results := s.mapper.MapAll(ctx, r.vulns)
	analyses := make(map[string]models.VulnerabilityAnalysis, len(results))
	for _, res := range results {
		if res.VulnerabilityID != "" && res.Source != "" {
			analyses[res.VulnerabilityID] = res.Analysis()
		}
		for _, m := range res.Mappings {
			m.ScanID = r.scanID
			if m.VulnerabilityID == "" {
				m.VulnerabilityID = res.VulnerabilityID
			}
			if m.Source == "" {
				m.Source = res.Source
			}
			r.maps = append(r.maps, m)
		}
	}
	if err := s.store.CreateMappings(ctx, r.maps); err != nil {
		return models.ScanUpdate{}, err
	}
	r.results.Analyses = analyses
	return r.resultsUpdate()
}

func (s *Sequencer) archiveRun(ctx context.Context, r *run) {
	if s.archive == nil {
		return
	}
	rec, err := s.store.GetScan(context.WithoutCancel(ctx), r.scanID)
	if err != nil {
		s.logger.WithError(err).WithField("scan_id", r.scanID).Warn("Archive skipped")
		return
	}
	bundle := &storage.ScanBundle{
		Scan:            *rec,
		Aggregate:       r.agg,
		Vulnerabilities: r.vulns,
		Mappings:        r.maps,
	}
	if bundle.Vulnerabilities == nil {
		bundle.Vulnerabilities = []models.Vulnerability{}
	}
	if bundle.Mappings == nil {
		bundle.Mappings = []models.TechniqueMapping{}
	}
	if _, err := s.archive.Save(bundle); err != nil {
		s.logger.WithError(err).WithField("scan_id", r.scanID).Warn("Failed to archive scan")
	}
}
