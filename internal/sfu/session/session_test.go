package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/relaysfu/core/internal/sfu/busgw"
	"github.com/relaysfu/core/internal/sfu/mcsgw"
)

type fakeEndpoint struct {
	stopped bool
	stopCh  chan struct{}
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{stopCh: make(chan struct{}, 1)}
}

func (f *fakeEndpoint) Start(ctx context.Context, offer string) (string, error) { return "answer", nil }
func (f *fakeEndpoint) OnIceCandidate(ctx context.Context, candidate string)    {}
func (f *fakeEndpoint) ProcessAnswer(ctx context.Context, answer string) error { return nil }
func (f *fakeEndpoint) Dtmf(ctx context.Context, tones string) (string, error) { return tones, nil }
func (f *fakeEndpoint) RestartIce(ctx context.Context) error                   { return nil }
func (f *fakeEndpoint) Stop() {
	if !f.stopped {
		f.stopped = true
		f.stopCh <- struct{}{}
	}
}

func TestSessionUserLeftMeetingStopsSession(t *testing.T) {
	bus := busgw.NewFakeGateway()
	ep := newFakeEndpoint()

	var failedReason string
	failed := make(chan struct{}, 1)
	key := Key{UserID: "user-1", ResourceID: "res-1", Role: "viewer"}
	sess := New(Config{
		Key: key, MeetingID: "meeting-1", Endpoint: ep, Bus: bus, EjectOnUserLeft: true,
		OnFailed: func(err error) {
			failedReason = err.Error()
			failed <- struct{}{}
		},
	})

	if _, err := sess.Start(context.Background(), "offer"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	payload, _ := json.Marshal(busgw.UserLeftMeetingPayload{UserID: "user-1"})
	bus.Emit(busgw.Event{Type: busgw.EventUserLeftMeeting, MeetingID: "meeting-1", Payload: payload})

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onFailed")
	}

	if failedReason != "user left meeting" {
		t.Fatalf("failedReason = %q, want %q", failedReason, "user left meeting")
	}
	if !sess.Stopped() {
		t.Fatal("Stopped() = false after user-left event")
	}
}

func TestSessionIgnoresOtherUsersLeaving(t *testing.T) {
	bus := busgw.NewFakeGateway()
	ep := newFakeEndpoint()

	key := Key{UserID: "user-1", ResourceID: "res-1", Role: "viewer"}
	sess := New(Config{
		Key: key, MeetingID: "meeting-1", Endpoint: ep, Bus: bus, EjectOnUserLeft: true,
		OnFailed: func(err error) {
			t.Fatal("onFailed called for a different user's departure")
		},
	})
	if _, err := sess.Start(context.Background(), "offer"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()

	payload, _ := json.Marshal(busgw.UserLeftMeetingPayload{UserID: "someone-else"})
	bus.Emit(busgw.Event{Type: busgw.EventUserLeftMeeting, MeetingID: "meeting-1", Payload: payload})

	time.Sleep(20 * time.Millisecond)
	if sess.Stopped() {
		t.Fatal("Stopped() = true after an unrelated user's departure")
	}
}

func TestSessionEjectOnUserLeftDisabledIgnoresUserLeft(t *testing.T) {
	bus := busgw.NewFakeGateway()
	ep := newFakeEndpoint()

	key := Key{UserID: "user-1", ResourceID: "res-1", Role: "viewer"}
	sess := New(Config{
		Key: key, MeetingID: "meeting-1", Endpoint: ep, Bus: bus, EjectOnUserLeft: false,
		OnFailed: func(err error) {
			t.Fatal("onFailed called although EjectOnUserLeft is disabled")
		},
	})
	if _, err := sess.Start(context.Background(), "offer"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer sess.Stop()

	payload, _ := json.Marshal(busgw.UserLeftMeetingPayload{UserID: "user-1"})
	bus.Emit(busgw.Event{Type: busgw.EventUserLeftMeeting, MeetingID: "meeting-1", Payload: payload})

	time.Sleep(20 * time.Millisecond)
	if sess.Stopped() {
		t.Fatal("Stopped() = true although EjectOnUserLeft is disabled")
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	bus := busgw.NewFakeGateway()
	ep := newFakeEndpoint()
	key := Key{UserID: "user-1", ResourceID: "res-1", Role: "share"}
	sess := New(Config{Key: key, MeetingID: "meeting-1", Endpoint: ep, Bus: bus})

	if _, err := sess.Start(context.Background(), "offer"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	sess.Stop()
	sess.Stop()

	if !ep.stopped {
		t.Fatal("underlying endpoint was never stopped")
	}
}

func TestSessionMCSDisconnectFailsSession(t *testing.T) {
	bus := busgw.NewFakeGateway()
	gw := mcsgw.NewFakeGateway()
	ep := newFakeEndpoint()

	var failErr error
	failed := make(chan struct{}, 1)
	key := Key{UserID: "user-1", ResourceID: "res-1", Role: "share"}
	sess := New(Config{
		Key: key, MeetingID: "meeting-1", Endpoint: ep, Bus: bus, Gateway: gw,
		OnFailed: func(err error) {
			failErr = err
			failed <- struct{}{}
		},
	})

	if _, err := sess.Start(context.Background(), "offer"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	gw.SetDisconnected()

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onFailed after MCS disconnect")
	}

	if failErr == nil {
		t.Fatal("onFailed err = nil, want a MEDIA_SERVER_OFFLINE error")
	}
	if !sess.Stopped() {
		t.Fatal("Stopped() = false after MCS disconnect")
	}
}

func TestKeyString(t *testing.T) {
	k := Key{UserID: "u1", ResourceID: "r1", Role: "share"}
	if got, want := k.String(), "u1-r1-share"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
