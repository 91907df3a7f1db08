// Package agent implements the host-side HTTP surface of fleetrm: a
// heartbeat, the purge endpoint backed by the local executor, and a metrics
// dump. The same code also backs the binary's one-shot purge mode.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/3cpo-dev/fleetrm/internal/purge"
	"github.com/3cpo-dev/fleetrm/internal/telemetry"
	"github.com/3cpo-dev/fleetrm/pkg/api"
)

type Server struct {
	Version string
	srv     *http.Server
}

// Routes for the server
func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/v0/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		_ = r.Body.Close()

		telemetry.CounterGlobal("fleetrm_agent_heartbeats", 1, map[string]string{
			"component": "agent",
			"endpoint":  "heartbeat",
		})

		host, _ := os.Hostname()
		h := api.HeartbeatResponse{Time: time.Now(), Host: host, Version: s.Version}
		_ = json.NewEncoder(w).Encode(h)

		telemetry.TimerGlobal("fleetrm_agent_request_duration", time.Since(start), map[string]string{
			"component": "agent",
			"endpoint":  "heartbeat",
			"status":    "200",
		})
	})
	mux.HandleFunc("/v0/purge", func(w http.ResponseWriter, r *http.Request) {
		// Optional token-based auth via env var
		if tok := os.Getenv("FLEETRM_AGENT_TOKEN"); tok != "" {
			auth := r.Header.Get("Authorization")
			x := r.Header.Get("X-Auth-Token")
			if auth != "Bearer "+tok && x != tok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		requestStart := time.Now()
		defer r.Body.Close()

		var req api.PurgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			telemetry.CounterGlobal("fleetrm_agent_purge_errors", 1, map[string]string{
				"component": "agent",
				"endpoint":  "purge",
				"error":     "decode_request",
			})
			http.Error(w, err.Error(), 400)
			return
		}

		telemetry.CounterGlobal("fleetrm_agent_purge_requests", 1, map[string]string{
			"component": "agent",
			"endpoint":  "purge",
		})

		// The executor is exception-free: per-path failures come back as
		// data and the HTTP status stays 200.
		results := purge.NewExecutor(req.Host).Run(req.Paths)

		failed := 0
		for _, res := range results {
			if res.Error != "" && res.Error != api.ErrPathNotFound {
				failed++
			}
		}

		labels := map[string]string{
			"component": "agent",
			"endpoint":  "purge",
		}
		telemetry.HistogramGlobal("fleetrm_agent_purge_paths", float64(len(req.Paths)), labels)
		telemetry.CounterGlobal("fleetrm_agent_purge_path_failures", float64(failed), labels)
		telemetry.TimerGlobal("fleetrm_agent_request_duration", time.Since(requestStart), labels)

		_ = json.NewEncoder(w).Encode(api.PurgeResponse{Results: results})
	})
	mux.HandleFunc("/v0/metrics", func(w http.ResponseWriter, r *http.Request) {
		_ = r.Body.Close()
		w.Header().Set("Content-Type", "text/plain")
		telemetry.GetGlobal().WritePrometheus(w)
	})
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.routes(mux)
	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s.srv.ListenAndServe()
}

// Shutdown the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("server not running")
	}
	return s.srv.Shutdown(ctx)
}
