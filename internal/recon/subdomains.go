package recon

import (
	"context"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

type SubdomainSweep struct {
	resolver    RecordResolver
	labels      []string
	timeout     time.Duration
	concurrency int
	logger      *logrus.Logger
}

func NewSubdomainSweep(resolver RecordResolver, labels []string, timeout time.Duration, concurrency int, logger *logrus.Logger) *SubdomainSweep {
	if logger == nil {
		logger = logrus.New()
	}
	if len(labels) == 0 {
		labels = models.DefaultSubdomainLabels
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	return &SubdomainSweep{
		resolver:    resolver,
		labels:      append([]string(nil), labels...),
		timeout:     timeout,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run returns the active label.target hostnames in candidate order. A
// candidate that fails to resolve is excluded; the sweep itself never fails.
func (s *SubdomainSweep) Run(ctx context.Context, target models.ScanTarget) ([]string, error) {
	if target.IsIP() {
		return []string{}, nil
	}

	active := make([]bool, len(s.labels))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for i, label := range s.labels {
		host := label + "." + target.String()
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			recs, err := s.resolver.Lookup(lctx, host, mdns.TypeA)
			if err != nil {
				s.logger.WithFields(logrus.Fields{"host": host, "error": err}).Trace("subdomain candidate not resolved")
				return nil
			}
			active[i] = len(recs) > 0
			return nil
		})
	}
	_ = g.Wait()

	found := make([]string, 0, len(s.labels))
	for i, label := range s.labels {
		if active[i] {
			found = append(found, label+"."+target.String())
		}
	}
	return found, nil
}
