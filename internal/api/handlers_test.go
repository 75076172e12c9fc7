package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/1broseidon/beacon/internal/config"
	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/internal/metrics"
	"github.com/1broseidon/beacon/internal/monitors"
	"github.com/1broseidon/beacon/internal/probe"
	"github.com/1broseidon/beacon/internal/scheduler"
	"github.com/1broseidon/beacon/internal/storage"
	"github.com/1broseidon/beacon/pkg/models"
)

type stubProber struct {
	status models.Status
}

func (p stubProber) Probe(ctx context.Context, req probe.Request) (probe.Outcome, error) {
	return probe.Outcome{Status: p.status, LatencyMS: models.Milliseconds(12 * time.Millisecond)}, nil
}

type testEnv struct {
	server *Server
	store  *storage.MemoryStore
	sched  *scheduler.Scheduler
}

func createTestServer(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port: "7878",
			Host: "127.0.0.1",
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Notifications: config.NotificationConfig{
			Email: config.EmailConfig{Host: "smtp.example.com", Password: "hunter2"},
		},
	}

	reg := prometheus.NewRegistry()
	met := metrics.NewMetrics(reg)
	logger := logging.Nop()
	store := storage.NewMemoryStore()

	sched := scheduler.New(store, stubProber{status: models.StatusUp}, nil, logger, met, scheduler.Options{
		MinInterval:  5 * time.Second,
		ProbeTimeout: time.Second,
	})
	t.Cleanup(func() { _ = sched.Stop() })

	server := NewServer(cfg, Deps{
		Logger:    logger,
		Metrics:   met,
		Gatherer:  reg,
		Manager:   monitors.NewManager(store, sched, logger, 5*time.Second),
		Scheduler: sched,
		Store:     store,
	})
	t.Cleanup(func() { _ = server.app.Shutdown() })

	return &testEnv{server: server, store: store, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.server.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp.StatusCode, out
}

func decode(t *testing.T, raw []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("invalid json %q: %v", raw, err)
	}
}

func (e *testEnv) createMonitor(t *testing.T, name string) MonitorView {
	t.Helper()
	status, body := e.do(t, "POST", "/api/v1/monitors", map[string]interface{}{
		"owner_id":         1,
		"name":             name,
		"kind":             "http",
		"target":           "example.com",
		"interval_seconds": 30,
		"enabled":          true,
	})
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	var view MonitorView
	decode(t, body, &view)
	return view
}

func TestHealthHandler(t *testing.T) {
	env := createTestServer(t)

	status, body := env.do(t, "GET", "/health", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected status 200, got %d", status)
	}
	if !strings.Contains(string(body), `"healthy"`) || !strings.Contains(string(body), `"beacon"`) {
		t.Fatalf("response missing expected fields: %s", body)
	}
}

func TestReadyHandler(t *testing.T) {
	env := createTestServer(t)

	if status, _ := env.do(t, "GET", "/ready", nil); status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503 before scheduler start, got %d", status)
	}

	if err := env.sched.Start(context.Background()); err != nil {
		t.Fatalf("failed to start scheduler: %v", err)
	}
	if status, body := env.do(t, "GET", "/ready", nil); status != fiber.StatusOK {
		t.Fatalf("expected 200 once running, got %d: %s", status, body)
	}
}

func TestMetricsHandler(t *testing.T) {
	env := createTestServer(t)
	env.do(t, "GET", "/health", nil)

	status, body := env.do(t, "GET", "/metrics", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected status 200, got %d", status)
	}
	if !strings.Contains(string(body), "beacon_http_requests_total") {
		t.Fatalf("expected request metrics in output, got %s", body)
	}
}

func TestCreateAndGetMonitor(t *testing.T) {
	env := createTestServer(t)
	created := env.createMonitor(t, "api")

	if created.ID == 0 || created.Job == nil {
		t.Fatalf("expected a scheduled monitor, got %+v", created)
	}
	if created.Status != models.StatusUnknown {
		t.Fatalf("expected unknown status for unchecked monitor, got %s", created.Status)
	}

	status, body := env.do(t, "GET", "/api/v1/monitors/1", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var got MonitorView
	decode(t, body, &got)
	if got.Name != "api" {
		t.Fatalf("unexpected monitor %+v", got)
	}

	status, body = env.do(t, "GET", "/api/v1/monitors?owner=1", nil)
	if status != fiber.StatusOK || !strings.Contains(string(body), `"total":1`) {
		t.Fatalf("unexpected list response %d: %s", status, body)
	}
	status, body = env.do(t, "GET", "/api/v1/monitors?owner=2", nil)
	if status != fiber.StatusOK || !strings.Contains(string(body), `"total":0`) {
		t.Fatalf("expected other owner to see nothing, got %d: %s", status, body)
	}
}

func TestCreateMonitorEnabledByDefault(t *testing.T) {
	env := createTestServer(t)

	status, body := env.do(t, "POST", "/api/v1/monitors", map[string]interface{}{
		"name":             "api",
		"kind":             "http",
		"target":           "example.com",
		"interval_seconds": 30,
	})
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	var created MonitorView
	decode(t, body, &created)
	if !created.Enabled || !env.sched.HasJob(created.ID) {
		t.Fatalf("expected monitor without enabled field to be enabled and scheduled, got %+v", created.Monitor)
	}

	status, body = env.do(t, "POST", "/api/v1/monitors", map[string]interface{}{
		"name":             "batch",
		"kind":             "http",
		"target":           "example.com",
		"interval_seconds": 30,
		"enabled":          false,
	})
	if status != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", status, body)
	}
	decode(t, body, &created)
	if created.Enabled || env.sched.HasJob(created.ID) {
		t.Fatalf("expected explicit enabled=false to be kept, got %+v", created.Monitor)
	}
}

func TestCreateMonitorValidation(t *testing.T) {
	env := createTestServer(t)

	status, body := env.do(t, "POST", "/api/v1/monitors", map[string]interface{}{
		"name":             "db",
		"kind":             "tcp",
		"target":           "db.internal",
		"interval_seconds": 30,
		"enabled":          true,
	})
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for tcp without port, got %d", status)
	}
	if !strings.Contains(string(body), "port") {
		t.Fatalf("expected error to name the port field, got %s", body)
	}

	status, _ = env.do(t, "POST", "/api/v1/monitors", map[string]interface{}{
		"name":             "fast",
		"kind":             "ping",
		"target":           "10.0.0.1",
		"interval_seconds": 1,
		"enabled":          true,
	})
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for interval below minimum, got %d", status)
	}
}

func TestMonitorNotFoundAndBadID(t *testing.T) {
	env := createTestServer(t)

	if status, _ := env.do(t, "GET", "/api/v1/monitors/42", nil); status != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if status, _ := env.do(t, "GET", "/api/v1/monitors/abc", nil); status != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
	if status, _ := env.do(t, "POST", "/api/v1/monitors/42/trigger", nil); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 on trigger, got %d", status)
	}
}

func TestUpdateMonitor(t *testing.T) {
	env := createTestServer(t)
	created := env.createMonitor(t, "api")

	status, body := env.do(t, "PUT", "/api/v1/monitors/1", map[string]interface{}{
		"owner_id":         1,
		"name":             "api",
		"kind":             "http",
		"target":           "example.com",
		"interval_seconds": 120,
		"enabled":          true,
	})
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var resp struct {
		Monitor MonitorView `json:"monitor"`
		Job     string      `json:"job"`
	}
	decode(t, body, &resp)
	if resp.Job != "rescheduled" {
		t.Fatalf("expected rescheduled job, got %q", resp.Job)
	}
	if resp.Monitor.ID != created.ID || resp.Monitor.IntervalSeconds != 120 {
		t.Fatalf("unexpected monitor %+v", resp.Monitor)
	}
}

func TestDeleteMonitor(t *testing.T) {
	env := createTestServer(t)
	env.createMonitor(t, "api")

	status, body := env.do(t, "DELETE", "/api/v1/monitors/1", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if !strings.Contains(string(body), `"job":"cancelled"`) {
		t.Fatalf("expected cancelled job in response, got %s", body)
	}
	if env.sched.HasJob(1) {
		t.Fatal("expected job cancelled")
	}
	if status, _ := env.do(t, "DELETE", "/api/v1/monitors/1", nil); status != fiber.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", status)
	}
}

func TestTriggerHistoryRecentUptime(t *testing.T) {
	env := createTestServer(t)
	env.createMonitor(t, "api")

	status, body := env.do(t, "POST", "/api/v1/monitors/1/trigger", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var result models.CheckResult
	decode(t, body, &result)
	if result.Status != models.StatusUp || result.LatencyMS == nil || result.ID == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	status, body = env.do(t, "GET", "/api/v1/monitors/1/history", nil)
	if status != fiber.StatusOK || !strings.Contains(string(body), `"total":1`) {
		t.Fatalf("unexpected history response %d: %s", status, body)
	}

	status, _ = env.do(t, "GET", "/api/v1/monitors/1/history?from=yesterday", nil)
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", status)
	}

	status, body = env.do(t, "GET", "/api/v1/monitors/1/recent?limit=5", nil)
	if status != fiber.StatusOK || !strings.Contains(string(body), `"total":1`) {
		t.Fatalf("unexpected recent response %d: %s", status, body)
	}

	status, body = env.do(t, "GET", "/api/v1/monitors/1/uptime?window=1h", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var uptime struct {
		Percent float64 `json:"uptime_percent"`
		Samples int     `json:"samples"`
		Window  string  `json:"window"`
	}
	decode(t, body, &uptime)
	if uptime.Percent != 100 || uptime.Samples != 1 || uptime.Window != "1h0m0s" {
		t.Fatalf("unexpected uptime %+v", uptime)
	}

	status, body = env.do(t, "GET", "/api/v1/monitors/1", nil)
	var view MonitorView
	decode(t, body, &view)
	if status != fiber.StatusOK || view.Status != models.StatusUp {
		t.Fatalf("expected monitor status up after trigger, got %d %+v", status, view)
	}
}

func TestSchedulerHandler(t *testing.T) {
	env := createTestServer(t)
	env.createMonitor(t, "api")
	env.createMonitor(t, "web")

	status, body := env.do(t, "GET", "/api/v1/scheduler", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	var resp struct {
		Stats scheduler.Stats     `json:"stats"`
		Jobs  []scheduler.JobInfo `json:"jobs"`
	}
	decode(t, body, &resp)
	if resp.Stats.Jobs != 2 || len(resp.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %+v", resp)
	}
	if resp.Jobs[0].MonitorID != 1 || resp.Jobs[1].MonitorID != 2 {
		t.Fatalf("expected jobs ordered by id, got %+v", resp.Jobs)
	}
}

func TestGetConfigHandlerRedactsSecrets(t *testing.T) {
	env := createTestServer(t)

	status, body := env.do(t, "GET", "/api/v1/config", nil)
	if status != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	text := string(body)
	if strings.Contains(text, "hunter2") {
		t.Fatalf("expected password to be masked, got %s", text)
	}
	if !strings.Contains(text, "smtp.example.com") {
		t.Fatalf("expected config content, got %s", text)
	}
}
