package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rcourtman/pulse-hoststat/internal/gpu"
	"github.com/rcourtman/pulse-hoststat/internal/hardware"
	"github.com/rcourtman/pulse-hoststat/internal/metrics"
	"github.com/rcourtman/pulse-hoststat/internal/telemetry"
	"github.com/rcourtman/pulse-hoststat/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Unix(1_700_000_000, 0)

type staticHardware struct {
	info  hardware.Info
	calls int
}

func (s *staticHardware) Get(context.Context) hardware.Info {
	s.calls++
	return s.info
}

type fixedGPU gpu.State

func (f fixedGPU) State() gpu.State { return gpu.State(f) }

type routerFixture struct {
	router  *Router
	store   *telemetry.Store
	hw      *staticHardware
	metrics *metrics.Metrics
	reg     *prometheus.Registry
	dir     string
}

func newFixture(t *testing.T) *routerFixture {
	t.Helper()
	dir := t.TempDir()
	reg := prometheus.NewRegistry()
	f := &routerFixture{
		store:   telemetry.NewStore(telemetry.DefaultRetention),
		hw:      &staticHardware{},
		metrics: metrics.New(reg),
		reg:     reg,
		dir:     dir,
	}
	f.hw.info.CPU.Model = "Test CPU"
	f.hw.info.CPU.Cores = 8
	f.hw.info.Disks = []hardware.Disk{{Device: "/dev/sda1", Mountpoint: "/", Fstype: "ext4", Total: 100, Used: 25, UsagePercent: 25}}

	f.router = NewRouter(Deps{
		Store:        f.store,
		Hardware:     f.hw,
		SnapshotPath: filepath.Join(dir, "tmp.json"),
		GPU:          fixedGPU(gpu.StateAvailable),
		Metrics:      f.metrics,
		Gatherer:     reg,
		Now:          func() time.Time { return epoch.Add(5 * time.Second) },
	})
	return f
}

func (f *routerFixture) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHardwareInfo(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/hardware-info")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var info hardware.Info
	decodeBody(t, rec, &info)
	assert.Equal(t, "Test CPU", info.CPU.Model)
	assert.Equal(t, 8, info.CPU.Cores)
}

func TestRealTimeDataReturnsWindow(t *testing.T) {
	f := newFixture(t)
	f.store.Apply(epoch, func(tx *telemetry.Tx) {
		tx.Append(telemetry.CPUUsage, 12.5)
		tx.SetCPUCores([]float64{10, 15})
		tx.SetBootTime(1_699_990_000)
	})

	rec := f.do(http.MethodGet, "/api/real-time-data")
	require.Equal(t, http.StatusOK, rec.Code)

	var view telemetry.View
	decodeBody(t, rec, &view)
	require.Len(t, view.CPUUsage, 1)
	assert.Equal(t, telemetry.Pair{1_700_000_000, 12.5}, view.CPUUsage[0])
	assert.Equal(t, []float64{10, 15}, view.CPUCoreUsage)
	assert.Equal(t, 1_699_990_000.0, view.BootTime)
	assert.Equal(t, 1_700_000_005.0, view.Timestamp)
	assert.Contains(t, rec.Body.String(), `"battery_info":{}`)
}

func TestDiskUsage(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/disk-usage")
	require.Equal(t, http.StatusOK, rec.Code)

	var disks []hardware.Disk
	decodeBody(t, rec, &disks)
	require.Len(t, disks, 1)
	assert.Equal(t, "/", disks[0].Mountpoint)
}

func TestDiskUsageEmptyIsArray(t *testing.T) {
	f := newFixture(t)
	f.hw.info.Disks = nil
	rec := f.do(http.MethodGet, "/api/disk-usage")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestCacheMissingSnapshot(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/cache")

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "snapshot not available", body["error"])
}

func TestCacheCorruptSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "tmp.json"), []byte("{not json"), 0o644))

	rec := f.do(http.MethodGet, "/api/cache")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheServesSnapshotVerbatim(t *testing.T) {
	f := newFixture(t)
	doc := `{"hardware_info":{},"real_time_data":{"cpu_usage":3.5},"disk_usage":[]}`
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "tmp.json"), []byte(doc), 0o644))

	rec := f.do(http.MethodGet, "/api/cache")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, doc, rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.store.Apply(epoch, func(tx *telemetry.Tx) {})
	f.store.Apply(epoch.Add(time.Second), func(tx *telemetry.Tx) {})

	rec := f.do(http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "available", resp.GPU)
	assert.Equal(t, uint64(2), resp.Ticks)
	assert.Equal(t, 1_700_000_001.0, resp.LastTick)
}

func TestHealthWithoutGPUReportsDisabled(t *testing.T) {
	f := newFixture(t)
	f.router = NewRouter(Deps{Store: f.store, Hardware: f.hw})

	rec := f.do(http.MethodGet, "/api/health")
	var resp healthResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "disabled", resp.GPU)
	assert.Zero(t, resp.Ticks)
}

func TestNonGetMethodsRejected(t *testing.T) {
	f := newFixture(t)
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		rec := f.do(method, "/api/real-time-data")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Allow"), http.MethodGet)
	}
}

func TestPreflight(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodOptions, "/api/hardware-info")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodGet)
	assert.Zero(t, f.hw.calls)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("GET", "unmatched", "404")))
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRequestsAreCounted(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/api/health")
	f.do(http.MethodGet, "/api/health")
	f.do(http.MethodPost, "/api/health")

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("GET", "/api/health", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HTTPRequests.WithLabelValues("POST", "/api/health", "405")))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.metrics.SetGPUState(int(gpu.StateAvailable))
	f.do(http.MethodGet, "/api/health")

	rec := f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "pulse_hoststat_gpu_state 1")
	assert.Contains(t, body, `pulse_http_requests_total{method="GET",route="/api/health",status="200"} 1`)
}

func TestPanicRecovered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := withRequestContext("/boom", m, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/boom", "500")))
}

func TestWebSocketUpgradeThroughMiddleware(t *testing.T) {
	f := newFixture(t)
	hub := websocket.NewHub(func() interface{} { return f.store.View(epoch) })
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(stopped)
	}()

	router := NewRouter(Deps{
		Store:     f.store,
		Hardware:  f.hw,
		WebSocket: http.HandlerFunc(hub.HandleWebSocket),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-stopped
	})

	conn, _, err := gws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg websocket.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, websocket.TypeWelcome, msg.Type)
}
