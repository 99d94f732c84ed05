// Package wsgw is the client-facing signaling transport: one websocket
// per browser client, carrying the JSON messages the audio and video
// Managers dispatch on. It knows nothing about SFU semantics beyond
// which Manager a message's "kind" field routes to.
package wsgw

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/relaysfu/core/internal/sfu/manager"
)

// Dispatcher is satisfied by manager.Manager.
type Dispatcher interface {
	OnMessage(msg manager.Message)
}

// inboundMessage wraps manager.Message with the routing field that picks
// audio vs. video; it is never part of the wire schema the Managers
// themselves use.
type inboundMessage struct {
	Kind string `json:"kind"`
	manager.Message
}

// Server accepts websocket connections and routes each frame to the
// audio or video Manager by its "kind" field.
type Server struct {
	addr  string
	audio Dispatcher
	video Dispatcher

	mu    sync.RWMutex
	conns map[string]*conn
}

type conn struct {
	id string
	nc net.Conn
	mu sync.Mutex
}

// New builds a Server that routes to audio and video. Either may be nil
// and set later via SetDispatchers, to break the construction cycle
// between a Server and the Managers that need it as their Sender.
func New(addr string, audio, video Dispatcher) *Server {
	return &Server{addr: addr, audio: audio, video: video, conns: make(map[string]*conn)}
}

// SetDispatchers assigns the Managers this Server routes to. Must be
// called before Start if New was given nil dispatchers.
func (s *Server) SetDispatchers(audio, video Dispatcher) {
	s.audio = audio
	s.video = video
}

// Start begins listening for websocket upgrades at addr.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/signaling", s.handleUpgrade)

	srv := &http.Server{Addr: s.addr, Handler: mux}
	slog.Info("[WSGateway] listening", "addr", s.addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("[WSGateway] server error", "error", err)
		}
	}()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Warn("[WSGateway] upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	c := &conn{id: id, nc: netConn}

	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()

	go s.readLoop(id, netConn)
}

func (s *Server) readLoop(connID string, netConn net.Conn) {
	defer s.dropConnection(connID)

	for {
		data, op, err := wsutil.ReadClientData(netConn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("[WSGateway] dropped malformed message", "conn_id", connID, "error", err)
			continue
		}
		msg.ConnectionID = connID

		switch msg.Kind {
		case "video":
			s.video.OnMessage(msg.Message)
		default:
			s.audio.OnMessage(msg.Message)
		}
	}
}

func (s *Server) dropConnection(connID string) {
	s.mu.Lock()
	c, ok := s.conns[connID]
	delete(s.conns, connID)
	s.mu.Unlock()
	if ok {
		_ = c.nc.Close()
	}

	s.audio.OnMessage(manager.Message{Type: manager.MessageClose, ConnectionID: connID})
	s.video.OnMessage(manager.Message{Type: manager.MessageClose, ConnectionID: connID})
}

// Send implements manager.Sender, writing msg as a text frame to connID.
func (s *Server) Send(connID string, msg manager.OutboundMessage) {
	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("[WSGateway] failed to marshal outbound message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wsutil.WriteServerMessage(c.nc, ws.OpText, data); err != nil {
		slog.Warn("[WSGateway] write failed, dropping connection", "conn_id", connID, "error", err)
		_ = c.nc.Close()
	}
}

// Stop closes every live connection.
func (s *Server) Stop() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[string]*conn)
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.nc.Close()
	}
}
