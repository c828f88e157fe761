package recon

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

// certCapture performs TLS handshakes through utls and remembers the leaf
// certificate of the most recent one. http.Response.TLS is nil for non
// crypto/tls connections, so this is the only place the peer chain is visible.
type certCapture struct {
	helloID utls.ClientHelloID
	dialer  *net.Dialer
	mu      sync.Mutex
	leaf    *x509.Certificate
}

func newCertCapture(timeout time.Duration) *certCapture {
	return &certCapture{
		helloID: utls.HelloGolang,
		dialer:  &net.Dialer{Timeout: timeout},
	}
}

func (c *certCapture) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("split %q: %w", addr, err)
	}

	rawConn, err := c.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	cfg := &utls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"http/1.1"},
	}
	if net.ParseIP(host) == nil {
		cfg.ServerName = host
	}

	uconn := utls.UClient(rawConn, cfg, c.helloID)
	if err := uconn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, fmt.Errorf("utls handshake failed: %w", err)
	}

	if certs := uconn.ConnectionState().PeerCertificates; len(certs) > 0 {
		c.mu.Lock()
		c.leaf = certs[0]
		c.mu.Unlock()
	}
	return uconn, nil
}

func (c *certCapture) Certificate() *models.CertificateInfo {
	c.mu.Lock()
	leaf := c.leaf
	c.mu.Unlock()
	if leaf == nil {
		return nil
	}
	return &models.CertificateInfo{
		Subject:      leaf.Subject.CommonName,
		Issuer:       leaf.Issuer.CommonName,
		SerialNumber: leaf.SerialNumber.Text(16),
		NotBefore:    leaf.NotBefore.UTC(),
		NotAfter:     leaf.NotAfter.UTC(),
		DNSNames:     append([]string(nil), leaf.DNSNames...),
	}
}
