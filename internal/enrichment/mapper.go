package enrichment

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

// Mapper tries the primary strategy and switches to the fallback only when
// that attempt fails.
type Mapper struct {
	primary     Strategy
	fallback    Strategy
	concurrency int
	logger      *logrus.Logger
	metrics     *utils.MetricsCollector
}

func NewMapper(primary, fallback Strategy, concurrency int, logger *logrus.Logger, metrics *utils.MetricsCollector) *Mapper {
	if logger == nil {
		logger = logrus.New()
	}
	if fallback == nil {
		fallback = NewKeywordStrategy()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Mapper{
		primary:     primary,
		fallback:    fallback,
		concurrency: concurrency,
		logger:      logger,
		metrics:     metrics,
	}
}

func (m *Mapper) Map(ctx context.Context, v models.Vulnerability) (models.MappingResult, error) {
	var primaryErr error
	if m.primary != nil {
		res, err := m.primary.Map(ctx, v)
		if err == nil {
			return res, nil
		}
		primaryErr = err
		m.logger.WithFields(logrus.Fields{
			"vulnerability_id": v.ID,
			"strategy":         m.primary.Name(),
			"error":            err,
		}).Debug("primary technique mapping failed, using fallback")
	}

	res, err := m.fallback.Map(ctx, v)
	if err != nil {
		return models.MappingResult{}, fmt.Errorf("technique mapping for %s: primary: %v; fallback: %w", v.ID, primaryErr, err)
	}
	m.metrics.IncCounter(utils.MetricMappingFallbacks, nil)
	return res, nil
}

// MapAll maps every vulnerability independently. Results are in input order;
// a vulnerability whose mapping fails entirely gets an empty result.
func (m *Mapper) MapAll(ctx context.Context, vulns []models.Vulnerability) []models.MappingResult {
	results := make([]models.MappingResult, len(vulns))
	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)

	for i, v := range vulns {
		g.Go(func() error {
			res, err := m.Map(ctx, v)
			if err != nil {
				m.logger.WithFields(logrus.Fields{
					"scan_id":          v.ScanID,
					"vulnerability_id": v.ID,
					"error":            err,
				}).Warn("technique mapping failed")
				res = models.MappingResult{
					VulnerabilityID: v.ID,
					Mappings:        []models.TechniqueMapping{},
					AttackPath:      []string{},
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Mapper) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"fallback":    m.fallback.Name(),
		"concurrency": m.concurrency,
	}
	if m.primary != nil {
		stats["primary"] = m.primary.Name()
	}
	return stats
}
