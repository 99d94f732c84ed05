// Package bridge tracks the shared media element each meeting's
// publishers funnel into, so N transceivers in the same voiceBridge share
// one MCS-side bridge instead of each negotiating its own.
package bridge

// State is the lifecycle state of a Bridge.
type State int

const (
	StateStarting State = iota
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Bridge is the shared media sink for one meeting's voice bridge. MediaID
// is empty until the first acquire finishes starting it.
type Bridge struct {
	MeetingID   string
	VoiceBridge string
	MCSUserID   string
	MediaID     string
	State       State
	refCount    int
}
