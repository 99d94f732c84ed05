package busgw

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// FakeGateway is an in-memory Gateway double for tests.
type FakeGateway struct {
	mu   sync.Mutex
	subs map[string][]*fakeSub

	Published []Event
}

type fakeSub struct {
	meetingID string
	pattern   EventType
	ch        chan Event
}

// NewFakeGateway returns an empty in-memory bus.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{subs: make(map[string][]*fakeSub)}
}

func (f *FakeGateway) Publish(ctx context.Context, meetingID string, evtType EventType, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	evt := Event{Type: evtType, MeetingID: meetingID, Time: time.Now(), Payload: raw}

	f.mu.Lock()
	f.Published = append(f.Published, evt)
	subs := append([]*fakeSub(nil), f.subs[meetingID]...)
	subs = append(subs, f.subs["*"]...)
	f.mu.Unlock()

	for _, s := range subs {
		if s.pattern != "" && s.pattern != evtType {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
	return nil
}

func (f *FakeGateway) Subscribe(meetingID string, pattern EventType) *Subscription {
	ch := make(chan Event, 64)
	s := &fakeSub{meetingID: meetingID, pattern: pattern, ch: ch}

	f.mu.Lock()
	f.subs[meetingID] = append(f.subs[meetingID], s)
	f.mu.Unlock()

	return &Subscription{
		events: ch,
		cancel: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			list := f.subs[meetingID]
			for i, c := range list {
				if c == s {
					f.subs[meetingID] = append(list[:i], list[i+1:]...)
					break
				}
			}
			close(ch)
		},
	}
}

// Emit delivers evt directly to subscribers, bypassing Publish. Test helper
// for simulating inbound platform events (UserLeftMeeting, MeetingEnded).
func (f *FakeGateway) Emit(evt Event) {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs[evt.MeetingID]...)
	subs = append(subs, f.subs["*"]...)
	f.mu.Unlock()

	for _, s := range subs {
		if s.pattern != "" && s.pattern != evt.Type {
			continue
		}
		s.ch <- evt
	}
}

func (f *FakeGateway) Close() error { return nil }
