// Package busgw is the typed facade over the message bus that links this
// core to the rest of the conferencing platform: meeting lifecycle events
// flow in (a user left, a meeting ended), and session/source state flows
// out for other services (recording, analytics, the room UI) to consume.
package busgw

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names a message on the bus.
type EventType string

const (
	// Inbound - meeting platform to this core.
	EventUserLeftMeeting  EventType = "UserLeftMeeting"
	EventMeetingEnded     EventType = "MeetingEnded"
	EventUserJoinedMeeting EventType = "UserJoinedMeeting"

	// Outbound - this core to the rest of the platform.
	EventSessionStarted      EventType = "SFUSessionStarted"
	EventSessionStopped      EventType = "SFUSessionStopped"
	EventSessionFailed       EventType = "SFUSessionFailed"
	EventExternalSourceAdded EventType = "ExternalVideoSourceAdded"
	EventExternalSourceGone  EventType = "ExternalVideoSourceRemoved"
)

// Event is the envelope carried on every subject. Payload is left as raw
// JSON so subscribers only decode the fields they recognize.
type Event struct {
	Type      EventType       `json:"type"`
	MeetingID string          `json:"meetingId"`
	Time      time.Time       `json:"time"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Subject returns the routing subject this event publishes on: one token
// per meeting so a subscriber can scope a wildcard subscription to a
// single conference without filtering client-side.
func (e Event) Subject() string {
	return "sfu.meetings." + e.MeetingID + "." + string(e.Type)
}

// UserLeftMeetingPayload decodes the payload of an EventUserLeftMeeting message.
type UserLeftMeetingPayload struct {
	UserID string `json:"userId"`
}

// MeetingEndedPayload decodes the payload of an EventMeetingEnded message.
type MeetingEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// SessionLifecyclePayload is attached to SFUSessionStarted/Stopped/Failed events.
type SessionLifecyclePayload struct {
	UserID     string `json:"userId"`
	Role       string `json:"role"`
	ResourceID string `json:"resourceId"`
	Reason     string `json:"reason,omitempty"`
}

// ExternalSourcePayload is attached to external video source events.
type ExternalSourcePayload struct {
	StreamName string `json:"streamName"`
	UserID     string `json:"userId"`
}

// Subscription is a live inbound subscription handle.
type Subscription struct {
	events chan Event
	cancel func()
}

// Events returns the channel this subscription delivers on. Closed on Cancel.
func (s *Subscription) Events() <-chan Event { return s.events }

// Cancel detaches the subscription. Idempotent.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		cancel := s.cancel
		s.cancel = nil
		cancel()
	}
}

// Gateway is the typed facade consumed by Session and Manager. Publish
// failures are logged by the caller, never fatal to session state.
type Gateway interface {
	// Publish encodes payload to JSON and sends it under evtType for meetingID.
	Publish(ctx context.Context, meetingID string, evtType EventType, payload interface{}) error

	// Subscribe delivers every event published for meetingID. pattern may be
	// a single EventType or "" to receive all event types for the meeting.
	Subscribe(meetingID string, pattern EventType) *Subscription

	// Close releases gateway resources.
	Close() error
}
