package recon

import (
	"context"
	"errors"
	"fmt"

	mdns "github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

var collectedKinds = []uint16{mdns.TypeA, mdns.TypeAAAA, mdns.TypeMX, mdns.TypeTXT, mdns.TypeNS}

type DNSCollector struct {
	resolver RecordResolver
	logger   *logrus.Logger
}

func NewDNSCollector(resolver RecordResolver, logger *logrus.Logger) *DNSCollector {
	if logger == nil {
		logger = logrus.New()
	}
	return &DNSCollector{resolver: resolver, logger: logger}
}

// Collect issues one query per record kind. A failing kind is skipped; only
// when every kind fails does Collect report an error.
func (c *DNSCollector) Collect(ctx context.Context, target models.ScanTarget) ([]models.DNSRecord, error) {
	if target.IsIP() {
		return []models.DNSRecord{}, nil
	}

	slots := make([][]models.DNSRecord, len(collectedKinds))
	errs := make([]error, len(collectedKinds))
	g := new(errgroup.Group)

	for i, kind := range collectedKinds {
		g.Go(func() error {
			recs, err := c.resolver.Lookup(ctx, target.String(), kind)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", mdns.TypeToString[kind], err)
				c.logger.WithFields(logrus.Fields{
					"target": target.String(),
					"kind":   mdns.TypeToString[kind],
					"error":  err,
				}).Debug("dns record lookup failed")
				return nil
			}
			slots[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	records := make([]models.DNSRecord, 0)
	failed := 0
	for i := range collectedKinds {
		if errs[i] != nil {
			failed++
			continue
		}
		records = append(records, slots[i]...)
	}
	if failed == len(collectedKinds) {
		return nil, errors.Join(errs...)
	}
	return records, nil
}
