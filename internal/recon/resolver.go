package recon

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

// RecordResolver answers a single question for one record type.
type RecordResolver interface {
	Lookup(ctx context.Context, host string, qtype uint16) ([]models.DNSRecord, error)
}

type Resolver struct {
	servers     []string
	timeout     time.Duration
	maxRetries  int
	udpClient   *mdns.Client
	tcpClient   *mdns.Client
	logger      *logrus.Logger
	mu          sync.Mutex
	rotateIndex int
}

func NewResolver(servers []string, timeout time.Duration, maxRetries int, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	if len(servers) == 0 {
		servers = getSystemResolvers()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Resolver{
		servers:    servers,
		timeout:    timeout,
		maxRetries: maxRetries,
		udpClient: &mdns.Client{
			Net:     "udp",
			Timeout: timeout,
			UDPSize: 1232,
		},
		tcpClient: &mdns.Client{
			Net:     "tcp",
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (r *Resolver) Lookup(ctx context.Context, host string, qtype uint16) ([]models.DNSRecord, error) {
	retry := NewRetryHandler(r.maxRetries, 250*time.Millisecond, r.logger)

	var records []models.DNSRecord
	err := retry.DoWithRetry(ctx, func() error {
		recs, err := r.exchange(ctx, host, qtype)
		if err != nil {
			return err
		}
		records = recs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *Resolver) exchange(ctx context.Context, host string, qtype uint16) ([]models.DNSRecord, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(host), qtype)
	msg.RecursionDesired = true
	msg.SetEdns0(1232, false)

	server := r.selectServer()
	resp, _, err := r.udpClient.ExchangeContext(ctx, msg, server)
	if err != nil || (resp != nil && resp.Truncated) {
		resp, _, err = r.tcpClient.ExchangeContext(ctx, msg, server)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s %s via %s: %w", host, mdns.TypeToString[qtype], server, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("query %s %s: nil response", host, mdns.TypeToString[qtype])
	}
	if resp.Rcode != mdns.RcodeSuccess {
		return nil, fmt.Errorf("query %s %s: %s", host, mdns.TypeToString[qtype], mdns.RcodeToString[resp.Rcode])
	}

	return r.parseAnswers(resp.Answer, qtype), nil
}

// parseAnswers keeps only answers of the requested type, so CNAME chains in
// an A response do not leak into the record list.
func (r *Resolver) parseAnswers(rrs []mdns.RR, qtype uint16) []models.DNSRecord {
	out := make([]models.DNSRecord, 0, len(rrs))
	for _, rr := range rrs {
		if rr == nil || rr.Header().Rrtype != qtype {
			continue
		}
		if rec, ok := formatRecord(rr); ok {
			out = append(out, rec)
		}
	}
	return out
}

func formatRecord(rr mdns.RR) (models.DNSRecord, bool) {
	trimDot := func(s string) string { return strings.TrimSuffix(s, ".") }

	rec := models.DNSRecord{Type: mdns.TypeToString[rr.Header().Rrtype]}
	switch rr := rr.(type) {
	case *mdns.A:
		rec.Value = rr.A.String()
	case *mdns.AAAA:
		rec.Value = rr.AAAA.String()
	case *mdns.CNAME:
		rec.Value = trimDot(rr.Target)
	case *mdns.MX:
		rec.Value = fmt.Sprintf("%d %s", rr.Preference, trimDot(rr.Mx))
	case *mdns.TXT:
		rec.Value = strings.Join(rr.Txt, " ")
	case *mdns.NS:
		rec.Value = trimDot(rr.Ns)
	default:
		return rec, false
	}
	return rec, true
}

func (r *Resolver) selectServer() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	server := r.servers[r.rotateIndex%len(r.servers)]
	r.rotateIndex = (r.rotateIndex + 1) % len(r.servers)

	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return server
}

func getSystemResolvers() []string {
	cfg, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || cfg == nil || len(cfg.Servers) == 0 {
		return []string{"1.1.1.1:53", "8.8.8.8:53", "9.9.9.9:53"}
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers
}
