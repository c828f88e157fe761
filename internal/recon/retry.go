package recon

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type RetryHandler struct {
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitterFactor float64
	logger       *logrus.Logger
}

func NewRetryHandler(maxRetries int, baseDelay time.Duration, logger *logrus.Logger) *RetryHandler {
	if logger == nil {
		logger = logrus.New()
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryHandler{
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		maxDelay:     baseDelay * 8,
		jitterFactor: 0.3,
		logger:       logger,
	}
}

// DoWithRetry stops early on answers that will not change on retry.
func (r *RetryHandler) DoWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if IsPermanentDNSError(lastErr) || attempt == r.maxRetries {
			break
		}

		backoff := r.backoff(attempt + 1)
		r.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"backoff": backoff,
			"error":   lastErr,
		}).Debug("dns query failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (r *RetryHandler) backoff(attempt int) time.Duration {
	d := r.baseDelay * time.Duration(1<<(attempt-1))
	if d > r.maxDelay {
		d = r.maxDelay
	}
	scale := 1 + r.jitterFactor*(2*rand.Float64()-1)
	return time.Duration(float64(d) * scale)
}

func IsPermanentDNSError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, tok := range []string{"NXDOMAIN", "REFUSED", "NOTZONE", "NOTAUTH", "FORMERR"} {
		if strings.Contains(msg, tok) {
			return true
		}
	}
	return false
}
