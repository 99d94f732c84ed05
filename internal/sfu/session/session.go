// Package session implements the per-client orchestrator that owns
// exactly one Endpoint and reacts to the events that should end it
// early: the user leaving the meeting, the meeting itself ending, or
// the MCS connection going down entirely.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/relaysfu/core/internal/sfu/busgw"
	"github.com/relaysfu/core/internal/sfu/endpoint"
	"github.com/relaysfu/core/internal/sfu/mcsgw"
	"github.com/relaysfu/core/internal/sfu/sfuerr"
)

// Key is the composite identity a Session is addressed by.
type Key struct {
	UserID     string
	ResourceID string
	Role       string
}

// String renders the key the way it appears in logs and in the inbound
// message schema: "<userId>-<resourceId>-<role>".
func (k Key) String() string {
	return k.UserID + "-" + k.ResourceID + "-" + k.Role
}

// Config wires a Session to its collaborators.
type Config struct {
	Key       Key
	MeetingID string

	Endpoint endpoint.Endpoint
	Bus      busgw.Gateway
	Gateway  mcsgw.Gateway

	// EjectOnUserLeft subscribes the session to its owning user's
	// UserLeftMeeting event. Deployments that let the client's own stop
	// message be authoritative can disable this.
	EjectOnUserLeft bool

	// OnFailed is invoked at most once if the session is torn down by
	// something other than an explicit client stop: a bus event, or the
	// MCS connection going offline. err is a plain reason (user left,
	// meeting ended) for a close notice, or a *sfuerr.Error for a true
	// client-visible failure.
	OnFailed func(err error)
}

// Session wraps one Endpoint and the bus/MCS subscriptions that can end
// it without an explicit stop message from the client.
type Session struct {
	Key       Key
	MeetingID string

	endpoint endpoint.Endpoint
	bus      busgw.Gateway
	gw       mcsgw.Gateway

	ejectOnUserLeft bool
	onFailed        func(err error)

	mu                sync.Mutex
	stopped           bool
	started           bool
	failed            bool
	userLeft          *busgw.Subscription
	ended             *busgw.Subscription
	unsubDisconnected func()
}

// New builds a Session from cfg.
func New(cfg Config) *Session {
	return &Session{
		Key:             cfg.Key,
		MeetingID:       cfg.MeetingID,
		endpoint:        cfg.Endpoint,
		bus:             cfg.Bus,
		gw:              cfg.Gateway,
		ejectOnUserLeft: cfg.EjectOnUserLeft,
		onFailed:        cfg.OnFailed,
	}
}

// Start negotiates the endpoint's media and subscribes to the bus/MCS
// events that can end the session early. Safe to call only once.
func (s *Session) Start(ctx context.Context, offer string) (string, error) {
	answer, err := s.endpoint.Start(ctx, offer)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	if s.ejectOnUserLeft {
		s.userLeft = s.bus.Subscribe(s.MeetingID, busgw.EventUserLeftMeeting)
	}
	s.ended = s.bus.Subscribe(s.MeetingID, busgw.EventMeetingEnded)
	if s.gw != nil {
		s.unsubDisconnected = s.gw.OnDisconnected(func() {
			slog.Warn("[Session] MCS disconnected, failing session", "key", s.Key.String())
			s.Fail(sfuerr.MediaServerOffline())
		})
	}
	go s.watchBus()

	return answer, nil
}

func (s *Session) watchBus() {
	var userLeftCh <-chan busgw.Event
	if s.userLeft != nil {
		userLeftCh = s.userLeft.Events()
	}

	for {
		select {
		case evt, ok := <-userLeftCh:
			if !ok {
				return
			}
			var payload busgw.UserLeftMeetingPayload
			if decodeErr := decode(evt.Payload, &payload); decodeErr == nil && payload.UserID == s.Key.UserID {
				slog.Info("[Session] user left meeting, stopping", "key", s.Key.String())
				s.Fail(errors.New("user left meeting"))
				return
			}
		case evt, ok := <-s.ended.Events():
			if !ok {
				return
			}
			_ = evt
			slog.Info("[Session] meeting ended, stopping", "key", s.Key.String())
			s.Fail(errors.New("meeting ended"))
			return
		}
	}
}

// Fail stops the session and reports err to the owning Manager exactly
// once, whatever the source: a bus event, an MCS-level disconnect, or
// the endpoint's own media watchdog.
func (s *Session) Fail(err error) {
	s.Stop()

	s.mu.Lock()
	alreadyFailed := s.failed
	s.failed = true
	s.mu.Unlock()

	if !alreadyFailed && s.onFailed != nil {
		s.onFailed(err)
	}
}

// OnIceCandidate forwards a trickled candidate to the endpoint.
func (s *Session) OnIceCandidate(ctx context.Context, candidate string) {
	s.endpoint.OnIceCandidate(ctx, candidate)
}

// ProcessAnswer forwards a renegotiation answer to the endpoint.
func (s *Session) ProcessAnswer(ctx context.Context, answer string) error {
	return s.endpoint.ProcessAnswer(ctx, answer)
}

// Dtmf forwards a DTMF request to the endpoint.
func (s *Session) Dtmf(ctx context.Context, tones string) (string, error) {
	return s.endpoint.Dtmf(ctx, tones)
}

// RestartIce forwards an ICE restart request to the endpoint.
func (s *Session) RestartIce(ctx context.Context) error {
	return s.endpoint.RestartIce(ctx)
}

// Stop releases the endpoint and detaches bus/MCS listeners. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.endpoint.Stop()
	if s.userLeft != nil {
		s.userLeft.Cancel()
	}
	if s.ended != nil {
		s.ended.Cancel()
	}
	if s.unsubDisconnected != nil {
		s.unsubDisconnected()
	}
}

// Stopped reports whether Stop has already run.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
