// Package endpoint implements the two concrete media endpoints a Session
// can own: a Publisher (share role, broadcasts into a meeting's bridge)
// and a Consumer (viewer role, subscribes to a publisher's media). Both
// satisfy the same narrow Endpoint contract so Session never needs to
// know which one it's driving.
package endpoint

import (
	"context"
	"sync"
	"time"

	"github.com/relaysfu/core/internal/sfu/mcsgw"
	"github.com/relaysfu/core/internal/sfu/sfuerr"
)

// Endpoint is the capability set Session drives. Not every endpoint
// implements every optional method meaningfully; Consumer's Dtmf is a
// no-op that returns an empty string, matching a viewer having no media
// of its own to inject DTMF into.
type Endpoint interface {
	// Start negotiates the endpoint's media and returns the SDP answer.
	Start(ctx context.Context, offer string) (answer string, err error)

	// OnIceCandidate forwards a single trickled ICE candidate. Candidates
	// arriving before Start completes are buffered and flushed in order
	// once the endpoint has a mediaID to attach them to.
	OnIceCandidate(ctx context.Context, candidate string)

	// ProcessAnswer accepts a renegotiation answer. Most endpoints never
	// renegotiate after Start and treat this as a no-op.
	ProcessAnswer(ctx context.Context, answer string) error

	// Dtmf sends a DTMF tone if this endpoint's media supports it.
	// Returns "" when the endpoint has nothing to inject into.
	Dtmf(ctx context.Context, tones string) (string, error)

	// RestartIce requests a fresh ICE negotiation.
	RestartIce(ctx context.Context) error

	// Stop releases all MCS-side resources. Idempotent.
	Stop()
}

// WatchdogConfig configures the two independent timers every endpoint
// arms once its media element exists: one for the initial ICE/DTLS
// handshake completing (media state), one for RTP actually flowing after
// that (media flow).
type WatchdogConfig struct {
	MediaStateTimeout time.Duration
	MediaFlowTimeout  time.Duration
}

// watchdog arms/clears its two timers independently and idempotently;
// arming an already-armed timer or clearing an already-clear one is a
// no-op rather than an error, since both endpoints and the MCS event
// stream can race to do either.
type watchdog struct {
	cfg WatchdogConfig
	mu  sync.Mutex

	stateTimer *time.Timer
	flowTimer  *time.Timer

	onStateTimeout func()
	onFlowTimeout  func()
}

func newWatchdog(cfg WatchdogConfig, onStateTimeout, onFlowTimeout func()) *watchdog {
	return &watchdog{cfg: cfg, onStateTimeout: onStateTimeout, onFlowTimeout: onFlowTimeout}
}

func (w *watchdog) armState() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stateTimer != nil || w.cfg.MediaStateTimeout <= 0 {
		return
	}
	w.stateTimer = time.AfterFunc(w.cfg.MediaStateTimeout, w.onStateTimeout)
}

func (w *watchdog) clearState() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stateTimer == nil {
		return
	}
	w.stateTimer.Stop()
	w.stateTimer = nil
}

func (w *watchdog) armFlow() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flowTimer != nil || w.cfg.MediaFlowTimeout <= 0 {
		return
	}
	w.flowTimer = time.AfterFunc(w.cfg.MediaFlowTimeout, w.onFlowTimeout)
}

func (w *watchdog) clearFlow() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flowTimer == nil {
		return
	}
	w.flowTimer.Stop()
	w.flowTimer = nil
}

func (w *watchdog) stop() {
	w.clearState()
	w.clearFlow()
}

// pendingICE buffers trickled candidates that arrive before the endpoint
// has a mediaID to forward them to, and flushes them in arrival order.
type pendingICE struct {
	mu        sync.Mutex
	queue     []string
	mediaID   string
	hasMediaID bool
}

func (p *pendingICE) push(candidate string) (mediaID string, ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasMediaID {
		return p.mediaID, true
	}
	p.queue = append(p.queue, candidate)
	return "", false
}

// ready marks the endpoint as having a mediaID and drains the buffered
// queue, returning it for the caller to forward in order.
func (p *pendingICE) ready(mediaID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mediaID = mediaID
	p.hasMediaID = true
	drained := p.queue
	p.queue = nil
	return drained
}

// consumeEvents drives wd off the MCS media-state stream and reports a
// recovered flow via onFlowing. DISCONNECTED arms the state timeout
// rather than stopping outright, giving the MCS a chance to reconnect
// the element before the endpoint gives up; NOT_FLOWING re-arms the flow
// timeout the same way after an initial FLOWING cleared it.
func consumeEvents(ctx context.Context, sub *mcsgw.Subscription, wd *watchdog, onFlowing func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			switch evt.Name {
			case mcsgw.EventMediaStateChanged:
				switch evt.Detail {
				case mcsgw.DetailConnected:
					wd.clearState()
				case mcsgw.DetailDisconnected:
					wd.armState()
				}
			case mcsgw.EventMediaFlowInStateChange, mcsgw.EventMediaFlowOutStateChange:
				switch evt.Detail {
				case mcsgw.DetailFlowing:
					wd.clearFlow()
					if onFlowing != nil {
						onFlowing()
					}
				case mcsgw.DetailNotFlowing:
					wd.armFlow()
				}
			}
		}
	}
}

func negotiationFailed(err error) error {
	if err == nil {
		return nil
	}
	return sfuerr.NegotiationFailed(err)
}
