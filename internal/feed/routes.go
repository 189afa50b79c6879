package feed

import (
	"encoding/json"
	"net/http"

	"github.com/voice-coach-lab/internal/call"
	"github.com/voice-coach-lab/internal/metrics"
)

// Routes mounts the feed, status, health and metrics endpoints. extra is
// mounted as-is, for the MCP control socket.
func Routes(mgr *call.Manager, hub *Hub, extra map[string]http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snap, _ := mgr.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", metrics.Handler())
	for path, h := range extra {
		mux.Handle(path, h)
	}
	return mux
}
