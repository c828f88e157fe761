package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

// Contribution writes one probe's result into the aggregate. It is applied
// only after every probe has settled.
type Contribution func(agg *models.ReconAggregate)

type Probe interface {
	Name() string
	Run(ctx context.Context, target models.ScanTarget) (Contribution, error)
}

type probeFunc struct {
	name string
	fn   func(ctx context.Context, target models.ScanTarget) (Contribution, error)
}

func (p probeFunc) Name() string { return p.name }
func (p probeFunc) Run(ctx context.Context, target models.ScanTarget) (Contribution, error) {
	return p.fn(ctx, target)
}

func NewProbe(name string, fn func(ctx context.Context, target models.ScanTarget) (Contribution, error)) Probe {
	return probeFunc{name: name, fn: fn}
}

type ProbeOutcome struct {
	Probe   string        `json:"probe"`
	Err     error         `json:"-"`
	Elapsed time.Duration `json:"elapsed"`
}

func (o ProbeOutcome) Failed() bool { return o.Err != nil }

type Coordinator struct {
	probes        []Probe
	probeDeadline time.Duration
	logger        *logrus.Logger
	metrics       *utils.MetricsCollector
}

// NewCoordinator runs the given probes. probeDeadline bounds a probe that
// ignores its own timeout; zero disables the guard.
func NewCoordinator(probes []Probe, probeDeadline time.Duration, logger *logrus.Logger, metrics *utils.MetricsCollector) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		probes:        probes,
		probeDeadline: probeDeadline,
		logger:        logger,
		metrics:       metrics,
	}
}

func NewDefaultCoordinator(cfg models.ReconConfig, logger *logrus.Logger, metrics *utils.MetricsCollector) *Coordinator {
	resolver := NewResolver(cfg.DNS.Nameservers, cfg.DNS.Timeout, cfg.DNS.RetryAttempts, logger)
	probes := []Probe{
		NewSubdomainSweep(resolver, cfg.SubdomainLabels, cfg.SubdomainTimeout, cfg.Concurrency, logger).Probe(),
		NewPortSweep(cfg.Ports, cfg.PortTimeout).Probe(),
		NewDNSCollector(resolver, logger).Probe(),
		NewWebFingerprinter(cfg.HTTP.Timeout, cfg.HTTP.MaxRedirects, cfg.HTTP.UserAgent, logger).Probe(),
		NewRegistryLookup(cfg.Whois.Command, cfg.Whois.Timeout, nil, logger).Probe(),
	}

	deadline := cfg.HTTP.Timeout*2 + cfg.Whois.Timeout
	if d := cfg.SubdomainTimeout * time.Duration(len(cfg.SubdomainLabels)); d > deadline {
		deadline = d
	}
	return NewCoordinator(probes, deadline, logger, metrics)
}

func (c *Coordinator) Run(ctx context.Context, target models.ScanTarget) models.ReconAggregate {
	agg, _ := c.RunWithDiagnostics(ctx, target)
	return agg
}

// RunWithDiagnostics waits for every probe to settle. Probe errors never reach
// the aggregate; they are reported only through the outcome list, which is
// in probe order.
func (c *Coordinator) RunWithDiagnostics(ctx context.Context, target models.ScanTarget) (models.ReconAggregate, []ProbeOutcome) {
	contributions := make([]Contribution, len(c.probes))
	outcomes := make([]ProbeOutcome, len(c.probes))

	g := new(errgroup.Group)
	for i, p := range c.probes {
		g.Go(func() error {
			start := time.Now()
			contrib, err := c.runProbe(ctx, p, target)
			outcomes[i] = ProbeOutcome{Probe: p.Name(), Err: err, Elapsed: time.Since(start)}

			c.metrics.ObserveSince(utils.MetricProbeDuration, start, prometheus.Labels{"probe": p.Name()})
			if err != nil {
				c.metrics.IncCounter(utils.MetricProbeFailures, prometheus.Labels{"probe": p.Name()})
				c.logger.WithFields(logrus.Fields{
					"probe":  p.Name(),
					"target": target.String(),
					"error":  err,
				}).Debug("probe failed")
				return nil
			}
			contributions[i] = contrib
			return nil
		})
	}
	_ = g.Wait()

	agg := emptyAggregate(target)
	for _, contrib := range contributions {
		if contrib != nil {
			contrib(&agg)
		}
	}
	return agg, outcomes
}

type probeResult struct {
	contrib Contribution
	err     error
}

func (c *Coordinator) runProbe(ctx context.Context, p Probe, target models.ScanTarget) (Contribution, error) {
	if c.probeDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.probeDeadline)
		defer cancel()
	}

	done := make(chan probeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeResult{err: fmt.Errorf("probe %s panicked: %v", p.Name(), r)}
			}
		}()
		contrib, err := p.Run(ctx, target)
		done <- probeResult{contrib: contrib, err: err}
	}()

	select {
	case res := <-done:
		return res.contrib, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("probe %s: %w", p.Name(), ctx.Err())
	}
}

func emptyAggregate(target models.ScanTarget) models.ReconAggregate {
	return models.ReconAggregate{
		Target:       target.String(),
		Subdomains:   []string{},
		OpenPorts:    []int{},
		DNSRecords:   []models.DNSRecord{},
		Technologies: []models.DetectedTechnology{},
		Headers:      map[string]string{},
		Whois:        map[string]string{},
	}
}

func (s *SubdomainSweep) Probe() Probe {
	return NewProbe("subdomains", func(ctx context.Context, target models.ScanTarget) (Contribution, error) {
		found, err := s.Run(ctx, target)
		if err != nil {
			return nil, err
		}
		return func(agg *models.ReconAggregate) { agg.Subdomains = found }, nil
	})
}

func (p *PortSweep) Probe() Probe {
	return NewProbe("ports", func(ctx context.Context, target models.ScanTarget) (Contribution, error) {
		open, err := p.Run(ctx, target)
		if err != nil {
			return nil, err
		}
		return func(agg *models.ReconAggregate) { agg.OpenPorts = open }, nil
	})
}

func (c *DNSCollector) Probe() Probe {
	return NewProbe("dns", func(ctx context.Context, target models.ScanTarget) (Contribution, error) {
		records, err := c.Collect(ctx, target)
		if err != nil {
			return nil, err
		}
		return func(agg *models.ReconAggregate) { agg.DNSRecords = records }, nil
	})
}

func (w *WebFingerprinter) Probe() Probe {
	return NewProbe("web", func(ctx context.Context, target models.ScanTarget) (Contribution, error) {
		res, err := w.Fingerprint(ctx, target.String())
		if err != nil {
			return nil, err
		}
		return func(agg *models.ReconAggregate) {
			status := res.StatusCode
			agg.Headers = res.Headers
			agg.StatusCode = &status
			agg.Certificate = res.Certificate
			agg.Technologies = res.Technologies
		}, nil
	})
}

func (r *RegistryLookup) Probe() Probe {
	return NewProbe("whois", func(ctx context.Context, target models.ScanTarget) (Contribution, error) {
		fields, err := r.Lookup(ctx, target)
		if err != nil {
			return nil, err
		}
		return func(agg *models.ReconAggregate) { agg.Whois = fields }, nil
	})
}
