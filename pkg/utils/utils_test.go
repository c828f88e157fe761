package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.json")
	require.NoError(t, SafeWriteFile(path, []byte(`{"ok":true}`), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRemoveDuplicatesKeepsOrder(t *testing.T) {
	assert.Equal(t, []string{"T1190", "T1068"}, RemoveDuplicates([]string{"T1190", "T1068", "T1190"}))
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 0, ClampInt(-4, 0, 100))
	assert.Equal(t, 100, ClampInt(140, 0, 100))
	assert.Equal(t, 42, ClampInt(42, 0, 100))
}

func TestHumanizeDuration(t *testing.T) {
	assert.Equal(t, "1.50s", HumanizeDuration(1500*time.Millisecond))
	assert.Equal(t, "2m 5s", HumanizeDuration(2*time.Minute+5*time.Second))
	assert.Equal(t, "512 B", HumanizeBytes(512))
	assert.Equal(t, "1.50 KB", HumanizeBytes(1536))
	assert.Equal(t, "2.00 MB", HumanizeBytes(2<<20))
}

func TestScanMetrics(t *testing.T) {
	m := NewScanMetrics(false)
	m.IncCounter(MetricProbeFailures, prometheus.Labels{"probe": "ports"})
	m.IncCounter(MetricProbeFailures, prometheus.Labels{"probe": "ports"})
	m.IncCounter(MetricMappingFallbacks, nil)
	m.SetGauge(MetricObservers, 3, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Counter(MetricProbeFailures).WithLabelValues("ports")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Counter(MetricMappingFallbacks).WithLabelValues()))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Gauge(MetricObservers).WithLabelValues()))
}

func TestNilMetricsCollectorIsSafe(t *testing.T) {
	var m *MetricsCollector
	assert.NotPanics(t, func() {
		m.IncCounter(MetricScans, prometheus.Labels{"status": "completed"})
		m.SetGauge(MetricObservers, 1, nil)
		m.ObserveSince(MetricProbeDuration, time.Now(), prometheus.Labels{"probe": "dns"})
	})
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "threatlynx.log")
	l, err := NewLogger(LogConfig{Level: "debug", Format: "json", Output: "file", FileLocation: path}, "threatlynx", "test")
	require.NoError(t, err)
	defer l.Close()

	l.WithField("scan_id", "abc").Info("stage complete")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"stage complete"`)
	assert.Contains(t, string(data), `"service":"threatlynx"`)
	assert.Contains(t, string(data), `"scan_id":"abc"`)

	require.NoError(t, l.Rotate())
	l.Info("after rotation")
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "rotated backup plus fresh file")
}

func TestCopyTo(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: "warn", Format: "text"}, "threatlynx", "test")
	require.NoError(t, err)

	dst := logrus.New()
	l.CopyTo(dst)
	assert.Equal(t, logrus.WarnLevel, dst.Level)
	assert.NotEmpty(t, dst.Hooks[logrus.InfoLevel])
}
