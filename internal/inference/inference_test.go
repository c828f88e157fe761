package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

var testSchema = Schema{"type": "object"}

func TestHTTPProviderRoundTrip(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(generateResponse{
			Model:    got.Model,
			Response: "```json\n{\"riskScore\": 42.6}\n```",
			Done:     true,
		})
	}))
	defer srv.Close()

	metrics := utils.NewScanMetrics(false)
	p := NewHTTPProvider(srv.URL+"/", "llama3.1", time.Second, utils.NewNopLogger(), metrics)
	raw, err := p.Infer(context.Background(), "assess example.com", testSchema)
	require.NoError(t, err)
	assert.JSONEq(t, `{"riskScore":42.6}`, string(raw))

	assert.Equal(t, "llama3.1", got.Model)
	assert.Equal(t, "assess example.com", got.Prompt)
	assert.False(t, got.Stream)
	assert.Equal(t, "object", got.Format["type"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Counter(utils.MetricInferenceRequests).WithLabelValues("success")))
}

func TestHTTPProviderNon2xxIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, "m", time.Second, utils.NewNopLogger(), nil).Infer(context.Background(), "p", testSchema)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestHTTPProviderMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "I cannot help with that."})
	}))
	defer srv.Close()

	metrics := utils.NewScanMetrics(false)
	_, err := NewHTTPProvider(srv.URL, "m", time.Second, utils.NewNopLogger(), metrics).Infer(context.Background(), "p", testSchema)
	assert.ErrorIs(t, err, ErrMalformedOutput)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Counter(utils.MetricInferenceRequests).WithLabelValues("malformed")))
}

func TestHTTPProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, "m", 100*time.Millisecond, utils.NewNopLogger(), nil).Infer(context.Background(), "p", testSchema)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable().Infer(context.Background(), "p", testSchema)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestExtractJSON(t *testing.T) {
	raw, err := ExtractJSON("Here you go:\n{\"a\": [1, 2]}\nThanks")
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2]}`, string(raw))

	_, err = ExtractJSON("{\"a\": ")
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestDecodeChecksRequiredKeysOnly(t *testing.T) {
	schema := Schema{"type": "object", "required": []string{"a"}}
	var v struct {
		A int `json:"a"`
	}
	require.NoError(t, Decode(json.RawMessage(`{"a":1}`), schema, &v))
	assert.Equal(t, 1, v.A)

	v.A = 0
	require.NoError(t, Decode(json.RawMessage(`{"a":2,"b":{"nested":true}}`), schema, &v))
	assert.Equal(t, 2, v.A)

	assert.ErrorIs(t, Decode(json.RawMessage(`{"b":2}`), schema, &v), ErrMalformedOutput)
	assert.ErrorIs(t, Decode(json.RawMessage(`{"a":"one"}`), schema, &v), ErrMalformedOutput)
	assert.ErrorIs(t, Decode(json.RawMessage(`[1,2]`), schema, &v), ErrMalformedOutput)
}

func TestCachedMemoisesSuccessOnly(t *testing.T) {
	var calls atomic.Int32
	fail := true
	next := ProviderFunc(func(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
		calls.Add(1)
		if fail {
			return nil, errors.New("boom")
		}
		return json.RawMessage(`{"ok":true}`), nil
	})
	c := NewCached(next, time.Minute, 8)

	_, err := c.Infer(context.Background(), "p", testSchema)
	require.Error(t, err)
	fail = false

	for i := 0; i < 3; i++ {
		raw, err := c.Infer(context.Background(), "p", testSchema)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(raw))
	}
	assert.EqualValues(t, 2, calls.Load())

	_, err = c.Infer(context.Background(), "p", Schema{"type": "array"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCachedExpires(t *testing.T) {
	var calls atomic.Int32
	next := ProviderFunc(func(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
		calls.Add(1)
		return json.RawMessage(`{}`), nil
	})
	c := NewCached(next, time.Minute, 8)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, _ = c.Infer(context.Background(), "p", testSchema)
	now = now.Add(2 * time.Minute)
	_, _ = c.Infer(context.Background(), "p", testSchema)
	assert.EqualValues(t, 2, calls.Load())
}

func TestLimitedHonoursContext(t *testing.T) {
	next := ProviderFunc(func(ctx context.Context, prompt string, schema Schema) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	l := NewLimited(next, 0.001, 1)

	_, err := l.Infer(context.Background(), "p", testSchema)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Infer(ctx, "p", testSchema)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.EqualValues(t, 1, l.GetStats()["blocked"])
}
