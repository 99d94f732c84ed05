package mcsgw

// Wire request/response shapes for the json-codec gRPC calls. These mirror
// the RPC surface named in the spec one to one; field names match the MCS
// convention of camelCase-over-the-wire seen on the rest of this bus.

type joinRequest struct {
	Room           string `json:"room"`
	AgentID        string `json:"agentId"`
	ExternalUserID string `json:"externalUserId"`
	AutoLeave      bool   `json:"autoLeave"`
}

type joinResponse struct {
	MCSUserID string `json:"mcsUserId"`
}

type publishRequest struct {
	MCSUserID            string   `json:"mcsUserId"`
	Room                 string   `json:"room"`
	Kind                 string   `json:"kind"`
	SDPOffer             string   `json:"sdpOffer"`
	AdapterName          string   `json:"adapterName"`
	RTPHeaderExtensions  []string `json:"rtpHeaderExtensions,omitempty"`
	OverrideRouterCodecs bool     `json:"overrideRouterCodecs"`
	DedicatedRouter      bool     `json:"dedicatedRouter"`
}

type publishResponse struct {
	MediaID   string `json:"mediaId"`
	SDPAnswer string `json:"sdpAnswer"`
}

type consumeRequest struct {
	SourceMediaID string `json:"sourceMediaId"`
	TargetMediaID string `json:"targetMediaId"`
	Kind          string `json:"kind"`
}

type consumeResponse struct {
	SDPAnswer string `json:"sdpAnswer"`
}

type connectRequest struct {
	SourceMediaID string `json:"sourceMediaId"`
	SinkMediaID   string `json:"sinkMediaId"`
	Kind          string `json:"kind"`
}

type iceCandidateRequest struct {
	MediaID   string `json:"mediaId"`
	Candidate string `json:"candidate"`
}

type unpublishRequest struct {
	MCSUserID string `json:"mcsUserId"`
	MediaID   string `json:"mediaId"`
}

type restartIceRequest struct {
	MediaID string `json:"mediaId"`
}

type healthRequest struct{}

type healthResponse struct {
	Healthy bool `json:"healthy"`
}

// eventEnvelope is the shape of a single message on the shared server-stream
// events subscription; the gateway demultiplexes by MediaID locally.
type eventEnvelope struct {
	MediaID   string `json:"mediaId"`
	Name      string `json:"name"`
	Detail    string `json:"details"`
	Candidate string `json:"candidate,omitempty"`
}

type emptyRequest struct{}
