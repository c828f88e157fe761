package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

// HTTPProvider talks to an Ollama compatible /api/generate endpoint with
// structured output enabled.
type HTTPProvider struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *logrus.Logger
	metrics  *utils.MetricsCollector
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format Schema `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func NewHTTPProvider(endpoint, model string, timeout time.Duration, logger *logrus.Logger, metrics *utils.MetricsCollector) *HTTPProvider {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &HTTPProvider{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
		logger:  logger,
		metrics: metrics,
	}
}

func (p *HTTPProvider) Infer(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
	raw, err := p.generate(ctx, prompt, schema)
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrMalformedOutput):
		outcome = "malformed"
	default:
		outcome = "error"
	}
	p.metrics.IncCounter(utils.MetricInferenceRequests, prometheus.Labels{"outcome": outcome})
	if err != nil {
		p.logger.WithFields(logrus.Fields{"model": p.model, "error": err}).Debug("inference call failed")
	}
	return raw, err
}

func (p *HTTPProvider) generate(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
	body, err := json.Marshal(generateRequest{Model: p.model, Prompt: prompt, Format: schema, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, truncate(string(data), 200))
	}

	var gen generateResponse
	if err := json.Unmarshal(data, &gen); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrMalformedOutput, err)
	}
	if gen.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, gen.Error)
	}
	return ExtractJSON(gen.Response)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
