package recon

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

type WebResult struct {
	URL          string
	Headers      map[string]string
	StatusCode   int
	Certificate  *models.CertificateInfo
	Technologies []models.DetectedTechnology
}

type WebFingerprinter struct {
	timeout      time.Duration
	maxRedirects int
	userAgent    string
	logger       *logrus.Logger
}

func NewWebFingerprinter(timeout time.Duration, maxRedirects int, userAgent string, logger *logrus.Logger) *WebFingerprinter {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRedirects < 0 {
		maxRedirects = 0
	}
	return &WebFingerprinter{
		timeout:      timeout,
		maxRedirects: maxRedirects,
		userAgent:    userAgent,
		logger:       logger,
	}
}

// Fingerprint requests https://host/ and falls back to http://host/ once when
// the encrypted attempt fails at the transport level. Any HTTP status counts
// as a response.
func (w *WebFingerprinter) Fingerprint(ctx context.Context, host string) (*WebResult, error) {
	res, httpsErr := w.fetch(ctx, "https://"+host+"/")
	if httpsErr == nil {
		return res, nil
	}
	w.logger.WithFields(logrus.Fields{"target": host, "error": httpsErr}).Debug("https fingerprint failed, retrying over http")

	res, err := w.fetch(ctx, "http://"+host+"/")
	if err != nil {
		return nil, fmt.Errorf("web fingerprint %s: https: %v; http: %w", host, httpsErr, err)
	}
	return res, nil
}

func (w *WebFingerprinter) fetch(ctx context.Context, url string) (*WebResult, error) {
	capture := newCertCapture(w.timeout)
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   w.timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		DialTLSContext:        capture.DialTLSContext,
		TLSHandshakeTimeout:   w.timeout,
		ResponseHeaderTimeout: w.timeout,
		DisableKeepAlives:     true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   w.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= w.maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return &WebResult{
		URL:          url,
		Headers:      headers,
		StatusCode:   resp.StatusCode,
		Certificate:  capture.Certificate(),
		Technologies: MatchSignatures(headers),
	}, nil
}
