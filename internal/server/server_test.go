package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl4ck0w1/threatlynx/internal/broadcast"
	"github.com/bl4ck0w1/threatlynx/internal/catalog"
	"github.com/bl4ck0w1/threatlynx/internal/storage"
	"github.com/bl4ck0w1/threatlynx/pkg/models"
	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSubmitter struct {
	store storage.Store
	next  int
}

func (f *fakeSubmitter) Submit(ctx context.Context, raw string, kind models.ScanKind) (string, error) {
	target, err := models.NewScanTarget(raw)
	if err != nil {
		return "", err
	}
	f.next++
	id := fmt.Sprintf("scan-%d", f.next)
	return id, f.store.CreateScan(ctx, &models.ScanRecord{ID: id, Target: target.String(), Kind: kind, Status: models.StatusPending})
}

type fixture struct {
	srv   *Server
	store *storage.MemoryStore
	hub   *broadcast.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	hub := broadcast.NewHub(8, utils.NewNopLogger(), nil)
	t.Cleanup(hub.Close)
	srv := New(models.ServerConfig{Host: "127.0.0.1", Port: 0}, &fakeSubmitter{store: store}, store, hub,
		catalog.Default(), utils.NewScanMetrics(false), utils.NewNopLogger())
	return &fixture{srv: srv, store: store, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) seedCompletedScan(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	score := 81
	results := json.RawMessage(`{"assessment":{"riskScore":81,"riskLevel":"critical","summary":"login form exposed","recommendations":["rate limit /login"]}}`)
	require.NoError(t, f.store.CreateScan(ctx, &models.ScanRecord{ID: "done", Target: "example.com", Kind: models.KindFull, Status: models.StatusCompleted, Progress: 100, RiskScore: &score, Results: results}))
	require.NoError(t, f.store.CreateSubdomains(ctx, []models.Subdomain{{ScanID: "done", Hostname: "www.example.com", IsActive: true}}))
	require.NoError(t, f.store.CreateTechnologies(ctx, []models.Technology{{ScanID: "done", Name: "Nginx", Category: "Web Server"}}))
	require.NoError(t, f.store.CreateVulnerability(ctx, &models.Vulnerability{ID: "v1", ScanID: "done", Severity: models.SeverityHigh, Type: "SQL Injection"}))
	require.NoError(t, f.store.CreateMappings(ctx, []models.TechniqueMapping{{ScanID: "done", VulnerabilityID: "v1", TechniqueID: "T1190", Confidence: 85, Source: models.SourceFallback}}))
	return "done"
}

func TestCreateScan(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/scans", `{"target":"a.example.com","scanType":"recon"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["scanId"])

	rec, err := f.store.GetScan(context.Background(), resp["scanId"])
	require.NoError(t, err)
	assert.Equal(t, models.KindRecon, rec.Kind)
}

func TestCreateScanRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"invalid ip":     `{"target":"256.1.1.1"}`,
		"missing target": `{}`,
		"unknown type":   `{"target":"example.com","scanType":"deep"}`,
		"malformed json": `{"target":`,
		"single label":   `{"target":"localhost"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/scans", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	scans, _ := f.store.ListScans(context.Background(), 0)
	assert.Empty(t, scans)
}

func TestScanReadEndpoints(t *testing.T) {
	f := newFixture(t)
	id := f.seedCompletedScan(t)

	w := f.do(t, http.MethodGet, "/api/scans/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	var scan models.ScanRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scan))
	assert.Equal(t, models.StatusCompleted, scan.Status)
	require.NotNil(t, scan.RiskScore)
	assert.Equal(t, 81, *scan.RiskScore)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	doc, ok := raw["results"].(map[string]interface{})
	require.True(t, ok, "results served as %T", raw["results"])
	assert.Equal(t, "login form exposed", doc["assessment"].(map[string]interface{})["summary"])

	for _, sub := range []string{"subdomains", "technologies", "vulnerabilities", "mappings"} {
		w := f.do(t, http.MethodGet, "/api/scans/"+id+"/"+sub, "")
		assert.Equal(t, http.StatusOK, w.Code, sub)
		var items []map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items), sub)
		assert.Len(t, items, 1, sub)
	}

	w = f.do(t, http.MethodGet, "/api/scans", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.ScanRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/scans?limit=x", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/scans/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/scans/missing/vulnerabilities", "").Code)
}

func TestReportEndpoint(t *testing.T) {
	f := newFixture(t)
	id := f.seedCompletedScan(t)

	w := f.do(t, http.MethodGet, "/api/scans/"+id+"/report", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	tactics := report["tactics"].([]interface{})
	require.Len(t, tactics, 1)
	assert.Equal(t, "Initial Access", tactics[0].(map[string]interface{})["tactic"])
	paths := report["attackPaths"].([]interface{})
	require.Len(t, paths, 1)
	assessment := report["assessment"].(map[string]interface{})
	assert.Equal(t, []interface{}{"rate limit /login"}, assessment["recommendations"])

	w = f.do(t, http.MethodGet, "/api/scans/"+id+"/report?format=yaml", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "attack_paths:")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/scans/"+id+"/report?format=pdf", "").Code)
}

func TestTechniqueEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/techniques", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all []models.TechniqueCatalogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, catalog.Default().Len())

	w = f.do(t, http.MethodGet, "/api/techniques?tactic=initial%20access", "")
	require.Equal(t, http.StatusOK, w.Code)
	var filtered []models.TechniqueCatalogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &filtered))
	require.NotEmpty(t, filtered)
	for _, e := range filtered {
		assert.Equal(t, "Initial Access", e.Tactic)
	}

	w = f.do(t, http.MethodGet, "/api/techniques/T1068", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Privilege Escalation")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/techniques/T0000", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "threatlynx_observers")
}

func TestEventStreamDeliversFilteredProgress(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events?scan=wanted", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return f.hub.Count() == 1 }, time.Second, 10*time.Millisecond)
	f.hub.Publish("other", models.ProgressEvent{ScanID: "other", Status: models.StatusRunning, Progress: 50})
	f.hub.Publish("wanted", models.ProgressEvent{ScanID: "wanted", Status: models.StatusRunning, Progress: 65, Message: "Technologies and subdomains stored"})

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var ev models.ProgressEvent
			require.NoError(t, json.Unmarshal([]byte(payload), &ev))
			assert.Equal(t, "wanted", ev.ScanID)
			assert.Equal(t, 65, ev.Progress)
			cancel()
			require.Eventually(t, func() bool { return f.hub.Count() == 0 }, time.Second, 10*time.Millisecond)
			return
		case <-deadline:
			t.Fatal("no progress event received")
		}
	}
}
