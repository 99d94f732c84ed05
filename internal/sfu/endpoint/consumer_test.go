package endpoint

import (
	"context"
	"testing"
	"time"

	"github.com/relaysfu/core/internal/sfu/mcsgw"
)

func TestConsumerStartSubscribesToSource(t *testing.T) {
	gw := mcsgw.NewFakeGateway()

	c := NewConsumer(ConsumerConfig{
		Gateway: gw, SourceMediaID: "media-source", AgentID: "agent-1", VoiceBridge: "vb-1",
	})

	answer, err := c.Start(context.Background(), "offer-sdp")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if answer == "" {
		t.Fatal("Start() returned empty answer")
	}
	c.Stop()
}

func TestConsumerDtmfIsAlwaysEmpty(t *testing.T) {
	gw := mcsgw.NewFakeGateway()
	c := NewConsumer(ConsumerConfig{Gateway: gw, SourceMediaID: "media-source"})

	tones, err := c.Dtmf(context.Background(), "123")
	if err != nil {
		t.Fatalf("Dtmf() error = %v", err)
	}
	if tones != "" {
		t.Fatalf("Dtmf() tones = %q, want empty", tones)
	}
}

func TestConsumerStopWithoutStartIsSafe(t *testing.T) {
	gw := mcsgw.NewFakeGateway()
	c := NewConsumer(ConsumerConfig{Gateway: gw, SourceMediaID: "media-source"})
	c.Stop()
	c.Stop()
}

func TestConsumerFlowingNotifiesOnMediaFlowing(t *testing.T) {
	gw := mcsgw.NewFakeGateway()

	flowing := make(chan struct{}, 1)
	c := NewConsumer(ConsumerConfig{
		Gateway: gw, SourceMediaID: "media-source", AgentID: "agent-1", VoiceBridge: "vb-1",
		OnMediaFlowing: func() { flowing <- struct{}{} },
	})
	if _, err := c.Start(context.Background(), "offer-sdp"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	gw.Emit(mcsgw.MediaEvent{MediaID: "media-2", Name: mcsgw.EventMediaFlowInStateChange, Detail: mcsgw.DetailFlowing})

	select {
	case <-flowing:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnMediaFlowing after a FLOWING event")
	}
}

func TestConsumerMediaStateTimeoutReportsOnFailed(t *testing.T) {
	gw := mcsgw.NewFakeGateway()

	var failed error
	failedCh := make(chan struct{}, 1)
	c := NewConsumer(ConsumerConfig{
		Gateway: gw, SourceMediaID: "media-source", AgentID: "agent-1", VoiceBridge: "vb-1",
		Watchdog: WatchdogConfig{MediaStateTimeout: 10 * time.Millisecond},
		OnFailed: func(err error) { failed = err; failedCh <- struct{}{} },
	})
	if _, err := c.Start(context.Background(), "offer-sdp"); err != nil {
		t.Fatalf("Start() error = %v", err)
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

func TestConsumerDisconnectedArmsStateTimeoutInsteadOfStoppingImmediately(t *testing.T) {
	gw := mcsgw.NewFakeGateway()

	failedCh := make(chan struct{}, 1)
	c := NewConsumer(ConsumerConfig{
		Gateway: gw, SourceMediaID: "media-source", AgentID: "agent-1", VoiceBridge: "vb-1",
		Watchdog: WatchdogConfig{MediaStateTimeout: 20 * time.Millisecond},
		OnFailed: func(err error) { failedCh <- struct{}{} },
	})
	if _, err := c.Start(context.Background(), "offer-sdp"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// CONNECTED clears the watchdog's own initial arm; DISCONNECTED must
	// re-arm it rather than stopping the endpoint on the spot, giving a
	// brief ICE restart/reconnect window before it actually times out.
	gw.Emit(mcsgw.MediaEvent{MediaID: "media-2", Name: mcsgw.EventMediaStateChanged, Detail: mcsgw.DetailConnected})
	gw.Emit(mcsgw.MediaEvent{MediaID: "media-2", Name: mcsgw.EventMediaStateChanged, Detail: mcsgw.DetailDisconnected})
	time.Sleep(5 * time.Millisecond)
	if c.stopped {
		t.Fatal("Consumer stopped immediately on DISCONNECTED, want it armed instead")
	}

	select {
	case <-failedCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the re-armed state watchdog to fire")
	}
}
