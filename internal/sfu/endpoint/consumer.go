package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaysfu/core/internal/sfu/mcsgw"
	"github.com/relaysfu/core/internal/sfu/sdputil"
	"github.com/relaysfu/core/internal/sfu/sfuerr"
)

// ConsumerConfig is the static context a Consumer needs to subscribe to
// an already-published source.
type ConsumerConfig struct {
	Gateway        mcsgw.Gateway
	SourceMediaID  string
	AgentID        string
	VoiceBridge    string
	Watchdog       WatchdogConfig
	BaselineCodecs []string

	// OnMediaFlowing is called each time the media element transitions
	// into FLOWING, so the owning Session/Manager can surface a
	// webRTCAudioSuccess frame to the client.
	OnMediaFlowing func()

	// OnFailed is called once if a watchdog timeout stops the consumer
	// on its own, so the owning Session can notify the client.
	OnFailed func(err error)
}

// Consumer is the viewer-role endpoint: it subscribes directly to a
// publisher's (or bridge's) media, never publishing anything of its own.
type Consumer struct {
	cfg ConsumerConfig

	mu        sync.Mutex
	mcsUserID string
	mediaID   string
	started   bool
	stopped   bool

	pending pendingICE
	wd      *watchdog
	sub     *mcsgw.Subscription
	cancel  context.CancelFunc
}

// NewConsumer builds a Consumer bound to cfg.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	return &Consumer{cfg: cfg}
}

func (c *Consumer) Start(ctx context.Context, offer string) (string, error) {
	gw := c.cfg.Gateway

	if !sdputil.MatchesBaseline(offer, c.cfg.BaselineCodecs) {
		slog.Warn("[Consumer] offer codecs drift from conference baseline",
			"offered", sdputil.OfferedCodecs(offer), "baseline", c.cfg.BaselineCodecs)
	}

	mcsUserID, err := gw.Join(ctx, c.cfg.VoiceBridge, c.cfg.AgentID, mcsgw.JoinOptions{})
	if err != nil {
		return "", negotiationFailed(fmt.Errorf("join: %w", err))
	}

	mediaID, answer, err := gw.Subscribe(ctx, mcsUserID, c.cfg.SourceMediaID, mcsgw.PublishOptions{SDPOffer: offer})
	if err != nil {
		return "", negotiationFailed(fmt.Errorf("subscribe: %w", err))
	}

	c.mu.Lock()
	c.mcsUserID = mcsUserID
	c.mediaID = mediaID
	c.started = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wd = newWatchdog(c.cfg.Watchdog, c.onStateTimeout, c.onFlowTimeout)
	c.wd.armState()
	c.wd.armFlow()

	c.sub = gw.SubscribeEvents(mediaID)
	go consumeEvents(ctx, c.sub, c.wd, c.onMediaFlowing)

	for _, candidate := range c.pending.ready(mediaID) {
		if err := gw.AddIceCandidate(context.Background(), mediaID, candidate); err != nil {
			slog.Warn("[Consumer] failed to flush buffered ICE candidate", "error", err)
		}
	}

	return answer, nil
}

func (c *Consumer) OnIceCandidate(ctx context.Context, candidate string) {
	if mediaID, ready := c.pending.push(candidate); ready {
		if err := c.cfg.Gateway.AddIceCandidate(ctx, mediaID, candidate); err != nil {
			slog.Warn("[Consumer] failed to forward ICE candidate", "error", err)
		}
	}
}

func (c *Consumer) ProcessAnswer(ctx context.Context, answer string) error {
	return nil
}

// Dtmf is a no-op for a viewer: there is no local media to inject a tone
// into, so the call always succeeds with an empty result.
func (c *Consumer) Dtmf(ctx context.Context, tones string) (string, error) {
	return "", nil
}

func (c *Consumer) RestartIce(ctx context.Context) error {
	c.mu.Lock()
	mediaID := c.mediaID
	c.mu.Unlock()
	if mediaID == "" {
		return nil
	}
	return c.cfg.Gateway.RestartIce(ctx, mediaID)
}

func (c *Consumer) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	mcsUserID, mediaID, started := c.mcsUserID, c.mediaID, c.started
	c.mu.Unlock()

	if c.wd != nil {
		c.wd.stop()
	}
	if c.sub != nil {
		c.sub.Cancel()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if started {
		if err := c.cfg.Gateway.Unpublish(context.Background(), mcsUserID, mediaID); err != nil {
			slog.Warn("[Consumer] unpublish failed", "error", err)
		}
	}
}

func (c *Consumer) onStateTimeout() {
	slog.Warn("[Consumer] media state timeout, stopping", "media_id", c.mediaID)
	c.Stop()
	if c.cfg.OnFailed != nil {
		c.cfg.OnFailed(sfuerr.MediaTimeout())
	}
}

func (c *Consumer) onFlowTimeout() {
	slog.Warn("[Consumer] media flow timeout, stopping", "media_id", c.mediaID)
	c.Stop()
	if c.cfg.OnFailed != nil {
		c.cfg.OnFailed(sfuerr.MediaTimeout())
	}
}

func (c *Consumer) onMediaFlowing() {
	if c.cfg.OnMediaFlowing != nil {
		c.cfg.OnMediaFlowing()
	}
}
