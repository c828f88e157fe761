package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/bl4ck0w1/threatlynx/internal/storage"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

// Service is the submission boundary. Targets are validated before any
// record exists; accepted scans run in the background under their own
// deadline, at most maxConcurrent at a time.
type Service struct {
	store     storage.Store
	sequencer *Sequencer
	sem       *semaphore.Weighted
	limit     int64
	timeout   time.Duration
	logger    *logrus.Logger

	mu      sync.Mutex
	running map[string]chan struct{}
	wg      sync.WaitGroup
	newID   func() string
}

func NewService(store storage.Store, sequencer *Sequencer, maxConcurrent int, timeout time.Duration, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Service{
		store:     store,
		sequencer: sequencer,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		limit:     int64(maxConcurrent),
		timeout:   timeout,
		logger:    logger,
		running:   make(map[string]chan struct{}),
		newID:     uuid.NewString,
	}
}

func (s *Service) Submit(ctx context.Context, rawTarget string, kind models.ScanKind) (string, error) {
	target, err := models.NewScanTarget(rawTarget)
	if err != nil {
		return "", err
	}
	if kind == "" {
		kind = models.KindFull
	}

	record := &models.ScanRecord{
		ID:        s.newID(),
		Target:    target.String(),
		Kind:      kind,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateScan(ctx, record); err != nil {
		return "", fmt.Errorf("create scan: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.running[record.ID] = done
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(record, done)

	s.logger.WithFields(logrus.Fields{
		"scan_id":   record.ID,
		"target":    record.Target,
		"scan_type": record.Kind,
	}).Info("Scan submitted")
	return record.ID, nil
}

func (s *Service) execute(record *models.ScanRecord, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		delete(s.running, record.ID)
		s.mu.Unlock()
		close(done)
		s.wg.Done()
	}()

	// Queued scans stay pending until a slot frees up.
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		s.logger.WithError(err).WithField("scan_id", record.ID).Error("Failed to acquire scan slot")
		return
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_ = s.sequencer.Execute(ctx, record)
}

// Wait blocks until the given scan's background run has ended. It returns
// immediately for unknown or already finished scans.
func (s *Service) Wait(scanID string) {
	s.mu.Lock()
	done, ok := s.running[scanID]
	s.mu.Unlock()
	if ok {
		<-done
	}
}

// WaitAll blocks until every submitted scan has ended or ctx is done.
func (s *Service) WaitAll(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Service) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"active_scans":         s.Active(),
		"max_concurrent_scans": s.limit,
		"scan_timeout":         s.timeout.String(),
	}
}
