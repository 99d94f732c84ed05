// Package mcsgw is the typed facade over the Media Control Server RPC
// surface: join/publish/consume/connect/addIceCandidate/unpublish/restartIce,
// plus the MEDIA_STATE / MEDIA_STATE_ICE event stream and the process-level
// MCS_DISCONNECTED notification. Everything about how the MCS actually
// negotiates SDP or bridges to the softswitch is outside this package's
// contract: offers and answers cross it as opaque strings.
package mcsgw

import "context"

// PublishOptions carries the adapter-specific knobs the spec requires the
// publish RPC to pass through.
type PublishOptions struct {
	SDPOffer              string
	AdapterName           string
	RTPHeaderExtensions    []string
	OverrideRouterCodecs   bool
	DedicatedRouter        bool
}

// JoinOptions mirrors the options object passed to mcs.join.
type JoinOptions struct {
	ExternalUserID string
	AutoLeave      bool
}

// MediaKind distinguishes AUDIO from WEBRTC media elements for the consume RPC.
type MediaKind string

const (
	MediaKindAudio  MediaKind = "AUDIO"
	MediaKindWebRTC MediaKind = "WEBRTC"
)

// EventName is the event.name field of an MCS media-state notification.
type EventName string

const (
	EventMediaStateChanged      EventName = "MediaStateChanged"
	EventMediaFlowInStateChange  EventName = "MediaFlowInStateChange"
	EventMediaFlowOutStateChange EventName = "MediaFlowOutStateChange"
)

// EventDetail is the event.details field.
type EventDetail string

const (
	DetailConnected    EventDetail = "CONNECTED"
	DetailDisconnected EventDetail = "DISCONNECTED"
	DetailFlowing      EventDetail = "FLOWING"
	DetailNotFlowing   EventDetail = "NOT_FLOWING"
)

// MediaEvent is a single MEDIA_STATE or MEDIA_STATE_ICE notification,
// already filtered to one mediaId by the Gateway.
type MediaEvent struct {
	MediaID string
	Name    EventName
	Detail  EventDetail
	// Candidate is set only for MEDIA_STATE_ICE trickle-out notifications.
	Candidate string
}

// Subscription is a live event-subscription handle. Cancel detaches it.
// Returned instead of relying on an emitter pattern so callers (Endpoint)
// can store the handle and release it deterministically on stop.
type Subscription struct {
	events chan MediaEvent
	cancel func()
}

// Events returns the channel this subscription delivers on. Closed on Cancel.
func (s *Subscription) Events() <-chan MediaEvent { return s.events }

// Cancel detaches the subscription. Idempotent.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		cancel := s.cancel
		s.cancel = nil
		cancel()
	}
}

// Gateway is the typed facade consumed by Endpoint. Any failure not
// explicitly MEDIA_SERVER_OFFLINE bubbles up as a plain error for the
// caller to wrap as NEGOTIATION_FAILED.
type Gateway interface {
	// WaitForConnection reports whether the MCS is currently reachable.
	WaitForConnection(ctx context.Context) bool

	// Join creates an MCS user in room/voiceBridge, returning the MCS user id.
	Join(ctx context.Context, room, agentID string, opts JoinOptions) (mcsUserID string, err error)

	// Publish negotiates a new bidirectional media element, returning its
	// media id and (for non-audio adapters) the SDP answer.
	Publish(ctx context.Context, mcsUserID, room string, kind MediaKind, opts PublishOptions) (mediaID, sdpAnswer string, err error)

	// Consume attaches sourceMediaID as the source of a new receive-only
	// element bridged from targetMediaID, returning the SDP answer.
	Consume(ctx context.Context, sourceMediaID, targetMediaID string, kind MediaKind) (sdpAnswer string, err error)

	// Subscribe is the consumer-variant equivalent of publish+consume: it
	// attaches a new receive-only media element directly to sourceMediaID.
	Subscribe(ctx context.Context, mcsUserID, sourceMediaID string, opts PublishOptions) (mediaID, sdpAnswer string, err error)

	// Connect wires two media elements together for the given media kind.
	Connect(ctx context.Context, sourceMediaID, sinkMediaID string, kind MediaKind) error

	// AddIceCandidate forwards a single trickled ICE candidate.
	AddIceCandidate(ctx context.Context, mediaID, candidate string) error

	// Unpublish tears down a previously published media element. Best-effort;
	// callers log failures rather than propagate them.
	Unpublish(ctx context.Context, mcsUserID, mediaID string) error

	// RestartIce requests a fresh ICE negotiation for mediaID.
	RestartIce(ctx context.Context, mediaID string) error

	// SubscribeEvents returns a handle delivering MEDIA_STATE/MEDIA_STATE_ICE
	// notifications filtered to mediaID.
	SubscribeEvents(mediaID string) *Subscription

	// OnDisconnected registers fn to run once whenever the gateway observes
	// (or infers) an MCS_DISCONNECTED condition. Returns an unsubscribe func.
	OnDisconnected(fn func()) (unsubscribe func())

	// Close releases gateway resources.
	Close() error
}
