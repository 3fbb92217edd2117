// debug.go mounts the metrics endpoint and the live sync-progress
// websocket feed on a separate port from the main API, keeping admin
// telemetry off the public quote/purchase routes.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/nexnum/provider-core/internal/sync"
)

// NewDebugServer returns the debug-port mux serving /metrics,
// /progress and /healthz.
func NewDebugServer(progress *sync.ProgressFeed) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/progress", progress.ServeHTTP)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}
