package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaysfu/core/internal/sfu/bridge"
	"github.com/relaysfu/core/internal/sfu/mcsgw"
	"github.com/relaysfu/core/internal/sfu/sdputil"
	"github.com/relaysfu/core/internal/sfu/sfuerr"
)

// PublisherConfig is the static context a Publisher needs to negotiate
// and bridge its media.
type PublisherConfig struct {
	Gateway        mcsgw.Gateway
	Bridges        *bridge.Registry
	MeetingID      string
	VoiceBridge    string
	AgentID        string
	Kind           mcsgw.MediaKind
	Watchdog       WatchdogConfig
	BaselineCodecs []string

	// OnMediaFlowing is called each time the media element transitions
	// into FLOWING, so the owning Session/Manager can surface a
	// webRTCAudioSuccess frame to the client.
	OnMediaFlowing func()

	// OnFailed is called once if a watchdog timeout stops the publisher
	// on its own, so the owning Session can notify the client instead of
	// the endpoint silently going quiet.
	OnFailed func(err error)
}

// Publisher is the share-role endpoint: it joins the MCS, publishes its
// own media, then consumes/connects into the meeting's shared bridge so
// every viewer's Consumer can subscribe from one place.
type Publisher struct {
	cfg PublisherConfig

	mu        sync.Mutex
	mcsUserID string
	mediaID   string
	started   bool
	stopped   bool

	pending  pendingICE
	wd       *watchdog
	sub      *mcsgw.Subscription
	cancel   context.CancelFunc
}

// NewPublisher builds a Publisher bound to cfg. Start must be called
// before any other method.
func NewPublisher(cfg PublisherConfig) *Publisher {
	return &Publisher{cfg: cfg}
}

func (p *Publisher) Start(ctx context.Context, offer string) (string, error) {
	gw := p.cfg.Gateway

	if !sdputil.MatchesBaseline(offer, p.cfg.BaselineCodecs) {
		slog.Warn("[Publisher] offer codecs drift from conference baseline",
			"offered", sdputil.OfferedCodecs(offer), "baseline", p.cfg.BaselineCodecs)
	}

	mcsUserID, err := gw.Join(ctx, p.cfg.VoiceBridge, p.cfg.AgentID, mcsgw.JoinOptions{})
	if err != nil {
		return "", negotiationFailed(fmt.Errorf("join: %w", err))
	}

	mediaID, answer, err := gw.Publish(ctx, mcsUserID, p.cfg.VoiceBridge, p.cfg.Kind, mcsgw.PublishOptions{SDPOffer: offer})
	if err != nil {
		return "", negotiationFailed(fmt.Errorf("publish: %w", err))
	}

	b, err := p.cfg.Bridges.Acquire(ctx, p.cfg.MeetingID, p.cfg.VoiceBridge)
	if err != nil {
		return "", negotiationFailed(fmt.Errorf("acquire bridge: %w", err))
	}

	if err := gw.Connect(ctx, mediaID, b.MediaID, p.cfg.Kind); err != nil {
		p.cfg.Bridges.Release(p.cfg.MeetingID)
		return "", negotiationFailed(fmt.Errorf("connect to bridge: %w", err))
	}

	p.mu.Lock()
	p.mcsUserID = mcsUserID
	p.mediaID = mediaID
	p.started = true
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wd = newWatchdog(p.cfg.Watchdog, p.onStateTimeout, p.onFlowTimeout)
	p.wd.armState()
	p.wd.armFlow()

	p.sub = gw.SubscribeEvents(mediaID)
	go consumeEvents(ctx, p.sub, p.wd, p.onMediaFlowing)

	for _, candidate := range p.pending.ready(mediaID) {
		if err := gw.AddIceCandidate(context.Background(), mediaID, candidate); err != nil {
			slog.Warn("[Publisher] failed to flush buffered ICE candidate", "error", err)
		}
	}

	return answer, nil
}

func (p *Publisher) OnIceCandidate(ctx context.Context, candidate string) {
	if mediaID, ready := p.pending.push(candidate); ready {
		if err := p.cfg.Gateway.AddIceCandidate(ctx, mediaID, candidate); err != nil {
			slog.Warn("[Publisher] failed to forward ICE candidate", "error", err)
		}
	}
}

func (p *Publisher) ProcessAnswer(ctx context.Context, answer string) error {
	return nil
}

func (p *Publisher) Dtmf(ctx context.Context, tones string) (string, error) {
	return "", nil
}

func (p *Publisher) RestartIce(ctx context.Context) error {
	p.mu.Lock()
	mediaID := p.mediaID
	p.mu.Unlock()
	if mediaID == "" {
		return nil
	}
	return p.cfg.Gateway.RestartIce(ctx, mediaID)
}

func (p *Publisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	mcsUserID, mediaID, started := p.mcsUserID, p.mediaID, p.started
	p.mu.Unlock()

	if p.wd != nil {
		p.wd.stop()
	}
	if p.sub != nil {
		p.sub.Cancel()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if started {
		p.cfg.Bridges.Release(p.cfg.MeetingID)
		if err := p.cfg.Gateway.Unpublish(context.Background(), mcsUserID, mediaID); err != nil {
			slog.Warn("[Publisher] unpublish failed", "error", err)
		}
	}
}

func (p *Publisher) onStateTimeout() {
	slog.Warn("[Publisher] media state timeout, stopping", "media_id", p.mediaID)
	p.Stop()
	if p.cfg.OnFailed != nil {
		p.cfg.OnFailed(sfuerr.MediaTimeout())
	}
}

func (p *Publisher) onFlowTimeout() {
	slog.Warn("[Publisher] media flow timeout, stopping", "media_id", p.mediaID)
	p.Stop()
	if p.cfg.OnFailed != nil {
		p.cfg.OnFailed(sfuerr.MediaTimeout())
	}
}

func (p *Publisher) onMediaFlowing() {
	if p.cfg.OnMediaFlowing != nil {
		p.cfg.OnMediaFlowing()
	}
}
