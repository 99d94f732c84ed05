package manager

import "encoding/json"

// MessageType identifies the kind of inbound message the Manager dispatches.
type MessageType string

const (
	MessageStart            MessageType = "start"
	MessageSubscriberAnswer MessageType = "subscriberAnswer"
	MessageStop             MessageType = "stop"
	MessageOnIceCandidate   MessageType = "onIceCandidate"
	MessageDtmf             MessageType = "dtmf"
	MessageRestartIce       MessageType = "restartIce"
	MessageClose            MessageType = "close"
)

// UserInfo is the optional strict header block some deployments require
// on start messages, echoing what the signaling edge authenticated.
type UserInfo struct {
	UserName string `json:"userName,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

// Message is the inbound schema the Manager dispatches on. Not every
// field applies to every MessageType; ConnectionID always identifies the
// client-side socket a message arrived on, independent of which session
// key it addresses.
type Message struct {
	Type         MessageType `json:"type"`
	ConnectionID string      `json:"connectionId"`

	Role       string `json:"role"`
	UserID     string `json:"userId"`
	MeetingID  string `json:"meetingId"`
	ResourceID string `json:"internalMeetingId,omitempty"`

	SDPOffer  string `json:"sdpOffer,omitempty"`
	SDPAnswer string `json:"sdpAnswer,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Tones     string `json:"tones,omitempty"`

	AgentID string `json:"agentId,omitempty"`

	// UserInfo carries the raw user-info header as the signaling edge
	// forwarded it, unparsed: a JSON object when present, empty when the
	// edge never attached one. The Manager parses it itself (see
	// ParseUserInfo) rather than relying on the transport's automatic
	// struct decode, so a malformed header can be observed and rejected
	// under strict parsing instead of silently vanishing the whole
	// message before it ever reaches OnMessage.
	UserInfo json.RawMessage `json:"userInfo,omitempty"`
}

// ResourceOrMeetingID returns the identifier a session's voice bridge
// should be keyed on: ResourceID when present, falling back to MeetingID
// for deployments that never distinguish the two.
func (m Message) ResourceOrMeetingID() string {
	if m.ResourceID != "" {
		return m.ResourceID
	}
	return m.MeetingID
}

// ParseUserInfo decodes the raw user-info header, if present. A message
// with no header at all parses to a zero UserInfo and a nil error; only
// a present-but-malformed header is an error.
func (m Message) ParseUserInfo() (UserInfo, error) {
	var info UserInfo
	if len(m.UserInfo) == 0 {
		return info, nil
	}
	err := json.Unmarshal(m.UserInfo, &info)
	return info, err
}
