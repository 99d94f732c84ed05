// Package statusapi exposes a small read-only JSON surface for
// operators: process health, session counts, the bridge registry, and
// the external video source table. It carries no admin controls.
package statusapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	types "github.com/relaysfu/core/api/types/v1"
	"github.com/relaysfu/core/internal/sfu/bridge"
	"github.com/relaysfu/core/internal/sfu/mcsgw"
	"github.com/relaysfu/core/internal/sfu/sourcetrack"
)

// SessionCounter is satisfied by manager.Manager.
type SessionCounter interface {
	Len() int
}

// Server is the status/introspection HTTP API.
type Server struct {
	addr       string
	httpServer *http.Server
	startTime  time.Time

	audio   SessionCounter
	video   SessionCounter
	bridges *bridge.Registry
	sources *sourcetrack.Table
	gateway mcsgw.Gateway
}

// New builds a Server bound to its collaborators. Any of bridges/sources
// may be nil if that feature is not wired up in this deployment.
func New(addr string, audio, video SessionCounter, bridges *bridge.Registry, sources *sourcetrack.Table, gateway mcsgw.Gateway) *Server {
	s := &Server{
		addr:      addr,
		startTime: time.Now(),
		audio:     audio,
		video:     video,
		bridges:   bridges,
		sources:   sources,
		gateway:   gateway,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/sources", s.handleSources)
	mux.HandleFunc("/api/v1/bridges", s.handleBridges)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start begins listening in the background.
func (s *Server) Start() {
	slog.Info("[StatusAPI] listening", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[StatusAPI] server error", "error", err)
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.HealthResponse{
		Status: "ok",
		Uptime: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	connected := true
	if s.gateway != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		connected = s.gateway.WaitForConnection(ctx)
		cancel()
	}

	resp := types.StatsResponse{MCSConnected: connected}
	if s.audio != nil {
		resp.AudioSessions = s.audio.Len()
	}
	if s.video != nil {
		resp.VideoSessions = s.video.Len()
	}
	if s.bridges != nil {
		resp.ActiveBridges = s.bridges.Len()
	}
	writeJSON(w, resp)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeJSON(w, types.SourcesResponse{})
		return
	}
	all := s.sources.All()
	resp := types.SourcesResponse{Total: len(all), Sources: make([]types.ExternalSource, 0, len(all))}
	for _, src := range all {
		resp.Sources = append(resp.Sources, types.ExternalSource{StreamName: src.StreamName, UserID: src.UserID})
	}
	writeJSON(w, resp)
}

func (s *Server) handleBridges(w http.ResponseWriter, r *http.Request) {
	if s.bridges == nil {
		writeJSON(w, types.BridgesResponse{})
		return
	}
	all := s.bridges.All()
	resp := types.BridgesResponse{Total: len(all), Bridges: make([]types.Bridge, 0, len(all))}
	for _, b := range all {
		resp.Bridges = append(resp.Bridges, types.Bridge{
			MeetingID:   b.MeetingID,
			VoiceBridge: b.VoiceBridge,
			MediaID:     b.MediaID,
			State:       b.State.String(),
		})
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[StatusAPI] failed to encode JSON", "error", err)
	}
}
