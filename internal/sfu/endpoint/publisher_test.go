package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/relaysfu/core/internal/sfu/bridge"
	"github.com/relaysfu/core/internal/sfu/mcsgw"
)

func newTestRegistry(gw mcsgw.Gateway) *bridge.Registry {
	return bridge.NewRegistry(
		func(ctx context.Context, meetingID, voiceBridge string) (string, string, error) {
			mcsUserID, err := gw.Join(ctx, voiceBridge, "bridge-"+meetingID, mcsgw.JoinOptions{})
			if err != nil {
				return "", "", err
			}
			mediaID, _, err := gw.Publish(ctx, mcsUserID, voiceBridge, mcsgw.MediaKindAudio, mcsgw.PublishOptions{})
			return mcsUserID, mediaID, err
		},
		func(meetingID, mcsUserID, mediaID string) {
			gw.Unpublish(context.Background(), mcsUserID, mediaID)
		},
	)
}

func TestPublisherStartConnectsIntoBridge(t *testing.T) {
	gw := mcsgw.NewFakeGateway()
	reg := newTestRegistry(gw)

	pub := NewPublisher(PublisherConfig{
		Gateway: gw, Bridges: reg, MeetingID: "meeting-1", VoiceBridge: "vb-1",
		AgentID: "agent-1", Kind: mcsgw.MediaKindAudio,
	})

	answer, err := pub.Start(context.Background(), "offer-sdp")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if answer == "" {
		t.Fatal("Start() returned empty answer")
	}
	if reg.Len() != 1 {
		t.Fatalf("bridge registry Len() = %d, want 1", reg.Len())
	}

	pub.Stop()
	if reg.Len() != 0 {
		t.Fatalf("bridge registry Len() = %d after Stop, want 0", reg.Len())
	}
}

func TestPublisherBuffersICEBeforeStart(t *testing.T) {
	gw := mcsgw.NewFakeGateway()
	reg := newTestRegistry(gw)

	pub := NewPublisher(PublisherConfig{
		Gateway: gw, Bridges: reg, MeetingID: "meeting-1", VoiceBridge: "vb-1",
		AgentID: "agent-1", Kind: mcsgw.MediaKindAudio,
	})

	// Candidates arriving before Start must be buffered, not dropped, and
	// flushed in the order they arrived once a mediaID exists.
	pub.OnIceCandidate(context.Background(), "candidate-1")
	pub.OnIceCandidate(context.Background(), "candidate-2")

	if _, err := pub.Start(context.Background(), "offer-sdp"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pub.Stop()
}

func TestPublisherStopIsIdempotent(t *testing.T) {
	gw := mcsgw.NewFakeGateway()
	reg := newTestRegistry(gw)

	pub := NewPublisher(PublisherConfig{
		Gateway: gw, Bridges: reg, MeetingID: "meeting-1", VoiceBridge: "vb-1",
		AgentID: "agent-1", Kind: mcsgw.MediaKindAudio,
	})
	if _, err := pub.Start(context.Background(), "offer-sdp"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pub.Stop()
	pub.Stop()

	if reg.Len() != 0 {
		t.Fatalf("bridge registry Len() = %d after double Stop, want 0", reg.Len())
	}
}

func TestPublisherMediaStateTimeoutStopsEndpoint(t *testing.T) {
	gw := mcsgw.NewFakeGateway()
	reg := newTestRegistry(gw)

	var failed error
	failedCh := make(chan struct{}, 1)
	pub := NewPublisher(PublisherConfig{
		Gateway: gw, Bridges: reg, MeetingID: "meeting-1", VoiceBridge: "vb-1",
		AgentID: "agent-1", Kind: mcsgw.MediaKindAudio,
		Watchdog: WatchdogConfig{MediaStateTimeout: 10 * time.Millisecond},
		OnFailed: func(err error) { failed = err; failedCh <- struct{}{} },
	})

	if _, err := pub.Start(context.Background(), "offer-sdp"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for reg.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for media state watchdog to stop the publisher")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case <-failedCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnFailed after media state timeout")
	}
	if failed == nil {
		t.Fatal("OnFailed err = nil, want a MEDIA_TIMEOUT error")
	}
}

func TestPublisherFlowingNotifiesOnMediaFlowing(t *testing.T) {
	gw := mcsgw.NewFakeGateway()
	reg := newTestRegistry(gw)

	flowing := make(chan struct{}, 1)
	pub := NewPublisher(PublisherConfig{
		Gateway: gw, Bridges: reg, MeetingID: "meeting-1", VoiceBridge: "vb-1",
		AgentID: "agent-1", Kind: mcsgw.MediaKindAudio,
		OnMediaFlowing: func() { flowing <- struct{}{} },
	})
	if _, err := pub.Start(context.Background(), "offer-sdp"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pub.Stop()

	gw.Emit(mcsgw.MediaEvent{MediaID: "media-2", Name: mcsgw.EventMediaFlowInStateChange, Detail: mcsgw.DetailFlowing})

	select {
	case <-flowing:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnMediaFlowing after a FLOWING event")
	}
}

func TestPublisherNotFlowingRearmsFlowTimeout(t *testing.T) {
	gw := mcsgw.NewFakeGateway()
	reg := newTestRegistry(gw)

	failedCh := make(chan struct{}, 1)
	pub := NewPublisher(PublisherConfig{
		Gateway: gw, Bridges: reg, MeetingID: "meeting-1", VoiceBridge: "vb-1",
		AgentID: "agent-1", Kind: mcsgw.MediaKindAudio,
		Watchdog: WatchdogConfig{MediaFlowTimeout: 500 * time.Millisecond},
		OnFailed: func(err error) { failedCh <- struct{}{} },
	})
	if _, err := pub.Start(context.Background(), "offer-sdp"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer pub.Stop()

	// FLOWING clears the initial flow timer; NOT_FLOWING must re-arm it so
	// a publisher that stops flowing again still eventually times out.
	gw.Emit(mcsgw.MediaEvent{MediaID: "media-2", Name: mcsgw.EventMediaFlowInStateChange, Detail: mcsgw.DetailFlowing})
	time.Sleep(20 * time.Millisecond)
	gw.Emit(mcsgw.MediaEvent{MediaID: "media-2", Name: mcsgw.EventMediaFlowInStateChange, Detail: mcsgw.DetailNotFlowing})

	select {
	case <-failedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flow watchdog to re-fire after NOT_FLOWING")
	}
}
