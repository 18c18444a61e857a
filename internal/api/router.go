// Package api serves the read-only HTTP surface of the agent.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	hserrors "github.com/rcourtman/pulse-hoststat/internal/errors"
	"github.com/rcourtman/pulse-hoststat/internal/gpu"
	"github.com/rcourtman/pulse-hoststat/internal/hardware"
	"github.com/rcourtman/pulse-hoststat/internal/metrics"
	"github.com/rcourtman/pulse-hoststat/internal/snapshot"
	"github.com/rcourtman/pulse-hoststat/internal/telemetry"
	"github.com/rcourtman/pulse-hoststat/internal/utils"
	"github.com/rs/zerolog/log"
)

// HardwareProvider returns the cached hardware description.
type HardwareProvider interface {
	Get(ctx context.Context) hardware.Info
}

type GPUStateProvider interface {
	State() gpu.State
}

// Deps are the collaborators the router reads from. WebSocket, GPU, Metrics
// and Gatherer are optional.
type Deps struct {
	Store        *telemetry.Store
	Hardware     HardwareProvider
	SnapshotPath string
	WebSocket    http.Handler
	GPU          GPUStateProvider
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Now          func() time.Time
}

// Router serves every API route.
type Router struct {
	deps Deps
	mux  *http.ServeMux
}

// NewRouter registers the API routes.
func NewRouter(deps Deps) *Router {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &Router{deps: deps, mux: http.NewServeMux()}

	r.handle("/api/hardware-info", http.HandlerFunc(r.handleHardwareInfo))
	r.handle("/api/real-time-data", http.HandlerFunc(r.handleRealTimeData))
	r.handle("/api/disk-usage", http.HandlerFunc(r.handleDiskUsage))
	r.handle("/api/cache", http.HandlerFunc(r.handleCache))
	r.handle("/api/health", http.HandlerFunc(r.handleHealth))
	if deps.WebSocket != nil {
		r.handle("/api/ws", deps.WebSocket)
	}
	if deps.Gatherer != nil {
		r.handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	r.mux.Handle("/", withRequestContext("unmatched", deps.Metrics, http.HandlerFunc(handleNotFound)))
	return r
}

func (r *Router) handle(route string, h http.Handler) {
	r.mux.Handle(route, withRequestContext(route, r.deps.Metrics, readOnly(h)))
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	_ = utils.WriteJSONError(w, http.StatusNotFound, "not found")
}

func (r *Router) handleHardwareInfo(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.deps.Hardware.Get(req.Context()))
}

func (r *Router) handleRealTimeData(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.deps.Store.View(r.deps.Now()))
}

func (r *Router) handleDiskUsage(w http.ResponseWriter, req *http.Request) {
	disks := r.deps.Hardware.Get(req.Context()).Disks
	if disks == nil {
		disks = []hardware.Disk{}
	}
	writeJSON(w, http.StatusOK, disks)
}

// handleCache returns the last persisted snapshot verbatim.
func (r *Router) handleCache(w http.ResponseWriter, _ *http.Request) {
	raw, err := snapshot.Load(r.deps.SnapshotPath)
	if err != nil {
		log.Debug().Err(err).Str("path", r.deps.SnapshotPath).Msg("Snapshot not available")
		_ = utils.WriteJSONError(w, http.StatusNotFound, hserrors.ErrSnapshotUnavailable.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

type healthResponse struct {
	Status   string  `json:"status"`
	GPU      string  `json:"gpu"`
	Ticks    uint64  `json:"ticks"`
	LastTick float64 `json:"last_tick,omitempty"`
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ticks, last := r.deps.Store.Ticks()
	resp := healthResponse{Status: "ok", GPU: gpu.StateDisabled.String(), Ticks: ticks}
	if r.deps.GPU != nil {
		resp.GPU = r.deps.GPU.State().String()
	}
	if !last.IsZero() {
		resp.LastTick = telemetry.UnixSeconds(last)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	if err := utils.WriteJSONResponse(w, status, data); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}
