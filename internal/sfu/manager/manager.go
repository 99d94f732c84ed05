// Package manager owns the session table for one media kind (audio or
// video) and dispatches every inbound client message to the right
// Session, serialized per session key so a slow negotiation on one
// connection never blocks another.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/relaysfu/core/internal/sfu/bridge"
	"github.com/relaysfu/core/internal/sfu/busgw"
	"github.com/relaysfu/core/internal/sfu/endpoint"
	"github.com/relaysfu/core/internal/sfu/mcsgw"
	"github.com/relaysfu/core/internal/sfu/permission"
	"github.com/relaysfu/core/internal/sfu/session"
	"github.com/relaysfu/core/internal/sfu/sfuerr"
	"github.com/relaysfu/core/internal/sfu/sourcetrack"
)

// Sender delivers an outbound message back to the client that owns
// connectionID. Implemented by the websocket/signaling layer; the
// Manager never knows about transport framing.
type Sender interface {
	Send(connectionID string, msg OutboundMessage)
}

// OutboundMessage mirrors Message's shape for replies: an answer, a
// trickled candidate, a success notice, or an error the client should
// surface.
type OutboundMessage struct {
	Type      string `json:"type"`
	Role      string `json:"role"`
	SDPAnswer string `json:"sdpAnswer,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Tones     string `json:"tones,omitempty"`
	Success   string `json:"success,omitempty"`
	ErrorCode int    `json:"errorCode,omitempty"`
	ErrorMsg  string `json:"errorMessage,omitempty"`
}

// Config wires a Manager to its collaborators.
type Config struct {
	Kind           string // "audio" or "video"
	Gateway        mcsgw.Gateway
	Bus            busgw.Gateway
	Oracle         *permission.Oracle
	Bridges        *bridge.Registry
	Metrics        *Metrics
	Sender         Sender
	Watchdog       endpoint.WatchdogConfig
	BaselineCodecs []string

	// Sources is consulted by the video Manager's consumer path to
	// resolve a camera's media source when no local bridge has been
	// published for it yet (an externally-ingested webcam). Left nil for
	// the audio Manager.
	Sources *sourcetrack.Table

	// EjectOnUserLeft and FullAudioEnabled mirror the config.Config
	// toggles of the same name; StrictHeaderParsing gates whether a
	// malformed user-info header is rejected outright.
	EjectOnUserLeft     bool
	FullAudioEnabled    bool
	StrictHeaderParsing bool
}

// Manager is the top-level session table for one media kind.
type Manager struct {
	cfg   Config
	queue *lifecycleQueue

	mu           sync.Mutex
	sessions     map[string]*session.Session
	connSessions map[string]map[string]struct{}

	// pendingICE buffers candidates that arrive before their session's
	// start message has produced a Session to forward them to.
	// pendingICEConn tracks the owning connectionID for cleanup when a
	// connection vanishes before ever sending start.
	pendingICE     map[string][]string
	pendingICEConn map[string]string
}

// New builds a Manager from cfg.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:            cfg,
		queue:          newLifecycleQueue(),
		sessions:       make(map[string]*session.Session),
		connSessions:   make(map[string]map[string]struct{}),
		pendingICE:     make(map[string][]string),
		pendingICEConn: make(map[string]string),
	}
}

// OnMessage dispatches msg. Lifecycle operations (start/stop/close) run
// on the per-key FIFO queue; ICE candidates bypass it for latency and
// rely on the endpoint's own ordered buffer once a session exists, or on
// the Manager's own pending-ICE queue before one does.
func (m *Manager) OnMessage(msg Message) {
	m.cfg.Metrics.Request(string(msg.Type))

	if _, err := msg.ParseUserInfo(); err != nil && m.cfg.StrictHeaderParsing {
		m.handleError(msg.ConnectionID, msg.Role, string(msg.Type), sfuerr.InvalidRequest("malformed user-info header"))
		return
	}

	key := session.Key{UserID: msg.UserID, ResourceID: msg.ResourceOrMeetingID(), Role: msg.Role}

	switch msg.Type {
	case MessageOnIceCandidate:
		m.mu.Lock()
		sess, ok := m.sessions[key.String()]
		if !ok {
			m.pendingICE[key.String()] = append(m.pendingICE[key.String()], msg.Candidate)
			m.pendingICEConn[key.String()] = msg.ConnectionID
		}
		m.mu.Unlock()
		if ok {
			sess.OnIceCandidate(context.Background(), msg.Candidate)
		}
	case MessageSubscriberAnswer:
		// A no-op if no session exists for this key: the client may have
		// already been torn down by a bus event racing with its answer.
		m.queue.Submit(key.String(), func() {
			m.withSession(key.String(), func(s *session.Session) {
				if err := s.ProcessAnswer(context.Background(), msg.SDPAnswer); err != nil {
					m.handleError(msg.ConnectionID, msg.Role, "subscriberAnswer", err)
				}
			})
		})
	default:
		m.queue.Submit(key.String(), func() {
			m.dispatchLifecycle(key, msg)
		})
	}
}

func (m *Manager) dispatchLifecycle(key session.Key, msg Message) {
	switch msg.Type {
	case MessageStart:
		m.handleStart(key, msg)
	case MessageStop:
		m.handleStop(key, msg.ConnectionID)
	case MessageDtmf:
		m.withSession(key.String(), func(s *session.Session) {
			tones, err := s.Dtmf(context.Background(), msg.Tones)
			if err != nil {
				m.handleError(msg.ConnectionID, msg.Role, "dtmf", err)
				return
			}
			m.cfg.Sender.Send(msg.ConnectionID, OutboundMessage{Type: "dtmf", Role: msg.Role, Tones: tones})
		})
	case MessageRestartIce:
		m.withSession(key.String(), func(s *session.Session) {
			if err := s.RestartIce(context.Background()); err != nil {
				m.handleError(msg.ConnectionID, msg.Role, "restartIce", err)
			}
		})
	case MessageClose:
		m.killConnectionSessions(msg.ConnectionID)
	default:
		m.handleError(msg.ConnectionID, msg.Role, string(msg.Type), sfuerr.InvalidRequest("unknown message type: "+string(msg.Type)))
	}
}

func (m *Manager) handleStart(key session.Key, msg Message) {
	started := time.Now()

	role := permission.Role(msg.Role)
	if role == permission.RoleSendRecv && !m.cfg.FullAudioEnabled {
		m.handleError(msg.ConnectionID, msg.Role, "start", sfuerr.InvalidRequest("full audio is not enabled"))
		return
	}

	if err := m.cfg.Oracle.Authorize(context.Background(), msg.MeetingID, msg.UserID, role); err != nil {
		m.handleError(msg.ConnectionID, msg.Role, "start", err)
		return
	}

	m.mu.Lock()
	if existing, ok := m.sessions[key.String()]; ok {
		// Stale session replacement: the client is starting over (reload,
		// reconnect) without ever sending stop for the old one.
		delete(m.sessions, key.String())
		m.mu.Unlock()
		existing.Stop()
		m.cfg.Metrics.SessionStopped()
	} else {
		m.mu.Unlock()
	}

	// sess is assigned below, but buildEndpoint needs a failure callback
	// that reaches it; the endpoint's watchdog can only fire after Start
	// returns, by which point sess is always set.
	var sess *session.Session
	ep := m.buildEndpoint(key, msg, role, func(err error) {
		if sess != nil {
			sess.Fail(err)
		}
	})
	sess = session.New(session.Config{
		Key:             key,
		MeetingID:       msg.MeetingID,
		Endpoint:        ep,
		Bus:             m.cfg.Bus,
		Gateway:         m.cfg.Gateway,
		EjectOnUserLeft: m.cfg.EjectOnUserLeft,
		OnFailed: func(err error) {
			m.onSessionFailed(key, msg.ConnectionID, msg.Role, err)
		},
	})

	answer, err := sess.Start(context.Background(), msg.SDPOffer)
	if err != nil {
		m.handleError(msg.ConnectionID, msg.Role, "start", err)
		return
	}

	m.mu.Lock()
	m.sessions[key.String()] = sess
	if m.connSessions[msg.ConnectionID] == nil {
		m.connSessions[msg.ConnectionID] = make(map[string]struct{})
	}
	m.connSessions[msg.ConnectionID][key.String()] = struct{}{}
	pending := m.pendingICE[key.String()]
	delete(m.pendingICE, key.String())
	delete(m.pendingICEConn, key.String())
	m.mu.Unlock()

	for _, candidate := range pending {
		sess.OnIceCandidate(context.Background(), candidate)
	}

	m.cfg.Metrics.SessionStarted()
	m.cfg.Metrics.ObserveStartDuration(time.Since(started).Seconds())

	m.cfg.Sender.Send(msg.ConnectionID, OutboundMessage{Type: "started", Role: msg.Role, SDPAnswer: answer})
}

func (m *Manager) buildEndpoint(key session.Key, msg Message, role permission.Role, onFailed func(err error)) endpoint.Endpoint {
	agentID := msg.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	kind := mcsgw.MediaKindWebRTC
	if m.cfg.Kind == "audio" {
		kind = mcsgw.MediaKindAudio
	}

	onFlowing := func() {
		m.cfg.Sender.Send(msg.ConnectionID, OutboundMessage{Type: "webRTCAudioSuccess", Role: msg.Role, Success: "MEDIA_FLOWING"})
	}

	if permission.IsPublisherRole(role) {
		return endpoint.NewPublisher(endpoint.PublisherConfig{
			Gateway:        m.cfg.Gateway,
			Bridges:        m.cfg.Bridges,
			MeetingID:      msg.MeetingID,
			VoiceBridge:    msg.ResourceOrMeetingID(),
			AgentID:        agentID,
			Kind:           kind,
			Watchdog:       m.cfg.Watchdog,
			BaselineCodecs: m.cfg.BaselineCodecs,
			OnMediaFlowing: onFlowing,
			OnFailed:       onFailed,
		})
	}

	sourceMediaID := ""
	if b, _ := m.cfg.Bridges.Get(msg.MeetingID); b != nil {
		sourceMediaID = b.MediaID
	} else if m.cfg.Sources != nil {
		if src, ok := m.cfg.Sources.Get(msg.ResourceOrMeetingID()); ok {
			sourceMediaID = src.StreamName
		}
	}
	return endpoint.NewConsumer(endpoint.ConsumerConfig{
		Gateway:        m.cfg.Gateway,
		SourceMediaID:  sourceMediaID,
		AgentID:        agentID,
		VoiceBridge:    msg.ResourceOrMeetingID(),
		Watchdog:       m.cfg.Watchdog,
		BaselineCodecs: m.cfg.BaselineCodecs,
		OnMediaFlowing: onFlowing,
		OnFailed:       onFailed,
	})
}

func (m *Manager) handleStop(key session.Key, connectionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[key.String()]
	if ok {
		delete(m.sessions, key.String())
		if set, has := m.connSessions[connectionID]; has {
			delete(set, key.String())
		}
	}
	delete(m.pendingICE, key.String())
	delete(m.pendingICEConn, key.String())
	m.mu.Unlock()

	if !ok {
		return
	}
	sess.Stop()
	m.queue.Remove(key.String())
	m.cfg.Metrics.SessionStopped()
}

// killConnectionSessions tears down every session owned by connectionID.
// Used on transport close, where the client can no longer be asked
// individually to stop each of its sessions.
func (m *Manager) killConnectionSessions(connectionID string) {
	m.mu.Lock()
	keys := m.connSessions[connectionID]
	delete(m.connSessions, connectionID)
	sessions := make([]*session.Session, 0, len(keys))
	keyStrs := make([]string, 0, len(keys))
	for k := range keys {
		if sess, ok := m.sessions[k]; ok {
			sessions = append(sessions, sess)
			keyStrs = append(keyStrs, k)
			delete(m.sessions, k)
		}
	}
	for k, owner := range m.pendingICEConn {
		if owner == connectionID {
			delete(m.pendingICE, k)
			delete(m.pendingICEConn, k)
		}
	}
	m.mu.Unlock()

	// A client that vanishes mid-conference can own dozens of consumer
	// sessions; stop them with bounded concurrency rather than one at a
	// time so a single slow unpublish doesn't hold up the rest.
	var g errgroup.Group
	g.SetLimit(8)
	for i, sess := range sessions {
		sess, key := sess, keyStrs[i]
		g.Go(func() error {
			sess.Stop()
			m.queue.Remove(key)
			m.cfg.Metrics.SessionStopped()
			return nil
		})
	}
	g.Wait()
}

// onSessionFailed is the Session's OnFailed callback: it removes the
// session from the table and notifies the client. A *sfuerr.Error (an
// MCS outage, a media watchdog timeout) is surfaced as an error frame
// and counted against errors_total; a plain reason (user left, meeting
// ended) is a server-initiated close notice, not a counted failure.
func (m *Manager) onSessionFailed(key session.Key, connectionID, role string, err error) {
	m.mu.Lock()
	delete(m.sessions, key.String())
	m.mu.Unlock()

	m.cfg.Metrics.SessionStopped()

	if code := sfuerr.Code(err); code != 0 {
		m.cfg.Metrics.Error("event", code)
		m.cfg.Sender.Send(connectionID, OutboundMessage{
			Type:      "error",
			Role:      role,
			ErrorCode: code,
			ErrorMsg:  err.Error(),
		})
		return
	}

	m.cfg.Sender.Send(connectionID, OutboundMessage{Type: "close", Role: role, ErrorMsg: err.Error()})
}

// handleError logs and reports err to the client for method, and counts
// it against errors_total under method. Failures raised asynchronously
// by a live session are counted by onSessionFailed under "event".
func (m *Manager) handleError(connectionID, role, method string, err error) {
	code := sfuerr.Code(err)
	slog.Warn("[Manager] "+m.cfg.Kind+" request failed", "error", err, "role", role, "method", method)
	m.cfg.Metrics.Error(method, code)
	m.cfg.Sender.Send(connectionID, OutboundMessage{
		Type:      "error",
		Role:      role,
		ErrorCode: code,
		ErrorMsg:  err.Error(),
	})
}

func (m *Manager) withSession(key string, fn func(s *session.Session)) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if ok {
		fn(sess)
	}
}

// Len reports the number of live sessions. Used by the status API.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll stops every live session. Called on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*session.Session)
	m.connSessions = make(map[string]map[string]struct{})
	m.pendingICE = make(map[string][]string)
	m.pendingICEConn = make(map[string]string)
	m.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(8)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			s.Stop()
			return nil
		})
	}
	g.Wait()
}
