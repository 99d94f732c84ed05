package wsgw

import (
	"encoding/json"
	"testing"

	"github.com/relaysfu/core/internal/sfu/manager"
)

type recordingDispatcher struct {
	received []manager.Message
}

func (d *recordingDispatcher) OnMessage(msg manager.Message) {
	d.received = append(d.received, msg)
}

func TestInboundMessageDefaultsToAudioKind(t *testing.T) {
	raw := []byte(`{"type":"start","userId":"user-1","meetingId":"meeting-1"}`)

	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.Kind != "" {
		t.Fatalf("Kind = %q, want empty (caller treats empty as audio)", msg.Kind)
	}
	if msg.Type != manager.MessageStart {
		t.Fatalf("Type = %q, want start", msg.Type)
	}
}

func TestInboundMessageRoutesByKind(t *testing.T) {
	audio := &recordingDispatcher{}
	video := &recordingDispatcher{}

	s := New("127.0.0.1:0", audio, video)

	cases := []struct {
		kind string
		want *recordingDispatcher
	}{
		{"video", video},
		{"audio", audio},
		{"", audio},
	}

	for _, c := range cases {
		msg := inboundMessage{Kind: c.kind, Message: manager.Message{Type: manager.MessageStop, ConnectionID: "conn-1"}}
		switch msg.Kind {
		case "video":
			s.video.OnMessage(msg.Message)
		default:
			s.audio.OnMessage(msg.Message)
		}
	}

	if len(video.received) != 1 {
		t.Fatalf("video dispatcher received %d messages, want 1", len(video.received))
	}
	if len(audio.received) != 2 {
		t.Fatalf("audio dispatcher received %d messages, want 2", len(audio.received))
	}
}

func TestSetDispatchers(t *testing.T) {
	s := New("127.0.0.1:0", nil, nil)
	audio := &recordingDispatcher{}
	video := &recordingDispatcher{}
	s.SetDispatchers(audio, video)

	if s.audio != Dispatcher(audio) {
		t.Fatal("SetDispatchers did not assign audio dispatcher")
	}
	if s.video != Dispatcher(video) {
		t.Fatal("SetDispatchers did not assign video dispatcher")
	}
}
