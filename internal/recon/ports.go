package recon

import (
	"context"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type PortSweep struct {
	ports   []int
	timeout time.Duration
	dial    DialFunc
}

func NewPortSweep(ports []int, timeout time.Duration) *PortSweep {
	if len(ports) == 0 {
		ports = models.DefaultPorts
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := &net.Dialer{}
	return &PortSweep{
		ports:   append([]int(nil), ports...),
		timeout: timeout,
		dial:    d.DialContext,
	}
}

func (p *PortSweep) WithDialer(dial DialFunc) *PortSweep {
	p.dial = dial
	return p
}

// Run probes every candidate port concurrently and returns the open ones in
// candidate order. Refusals and timeouts are closed ports, not errors.
func (p *PortSweep) Run(ctx context.Context, target models.ScanTarget) ([]int, error) {
	open := make([]bool, len(p.ports))
	g := new(errgroup.Group)

	for i, port := range p.ports {
		addr := net.JoinHostPort(target.String(), strconv.Itoa(port))
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			conn, err := p.dial(pctx, "tcp", addr)
			if err != nil {
				return nil
			}
			_ = conn.Close()
			open[i] = true
			return nil
		})
	}
	_ = g.Wait()

	result := make([]int, 0, len(p.ports))
	for i, port := range p.ports {
		if open[i] {
			result = append(result, port)
		}
	}
	return result, nil
}
