// Package permission answers the single question every Endpoint needs
// before it is allowed to touch the media plane: can this user, in this
// role, do what they are asking to do.
package permission

import (
	"context"

	"github.com/relaysfu/core/internal/sfu/sfuerr"
)

// Role is the role a client is acting under, as handed down by the
// meeting platform. It is opaque here beyond the four roles this core acts
// on; any other value is rejected at the door.
type Role string

const (
	RoleShare    Role = "share"
	RoleViewer   Role = "viewer"
	RoleSendRecv Role = "sendrecv"
	RoleRecvOnly Role = "recvonly"
)

// Capability is a media operation gated by the oracle.
type Capability int

const (
	CapabilityBroadcast Capability = iota
	CapabilitySubscribe
	CapabilitySpeak
)

// Checker decides whether a (user, meeting, role) tuple may exercise a
// capability. The production implementation calls out to the meeting
// platform's authorization service; tests use Allow/Deny fakes.
type Checker interface {
	Check(ctx context.Context, meetingID, userID string, role Role, cap Capability) (bool, int, error)
}

// Oracle is the facade the Manager calls before a session starts. It resolves a role to
// the capability it implies and normalizes every rejection into
// sfuerr.ErrPermissionDenied.
type Oracle struct {
	checker Checker
}

// New builds an Oracle backed by checker.
func New(checker Checker) *Oracle {
	return &Oracle{checker: checker}
}

// capabilityForRole maps a role to the single capability it is allowed to
// request. Any role outside this table is rejected before the checker is
// even consulted: it is a malformed request, not a permission question.
func capabilityForRole(role Role) (Capability, bool) {
	switch role {
	case RoleShare, RoleSendRecv:
		return CapabilityBroadcast, true
	case RoleViewer, RoleRecvOnly:
		return CapabilitySubscribe, true
	default:
		return 0, false
	}
}

// IsPublisherRole reports whether role drives a publishing (broadcast)
// endpoint rather than a consuming one. share/sendrecv publish;
// viewer/recvonly consume.
func IsPublisherRole(role Role) bool {
	return role == RoleShare || role == RoleSendRecv
}

// Authorize checks whether role may act in meetingID on behalf of userID.
// Returns a typed sfuerr on rejection; callers can pass the error straight
// to their caller without further wrapping.
func (o *Oracle) Authorize(ctx context.Context, meetingID, userID string, role Role) error {
	cap, ok := capabilityForRole(role)
	if !ok {
		return sfuerr.InvalidRequest("unsupported role: " + string(role))
	}

	allowed, code, err := o.checker.Check(ctx, meetingID, userID, role, cap)
	if err != nil {
		return sfuerr.NegotiationFailed(err)
	}
	if !allowed {
		return sfuerr.PermissionDenied(code, "oracle rejected "+string(role)+" for user "+userID)
	}
	return nil
}

// AuthorizeSpeak is the narrower check used when a viewer requests
// promotion to speak (e.g. a DTMF-driven unmute) rather than at session
// start. It is independent of the role-implied capability above.
func (o *Oracle) AuthorizeSpeak(ctx context.Context, meetingID, userID string) error {
	allowed, code, err := o.checker.Check(ctx, meetingID, userID, RoleViewer, CapabilitySpeak)
	if err != nil {
		return sfuerr.NegotiationFailed(err)
	}
	if !allowed {
		return sfuerr.PermissionDenied(code, "oracle rejected speak request for user "+userID)
	}
	return nil
}

// AllowAllChecker approves every request. Useful for local/dev deployments
// with no external authorization service configured.
type AllowAllChecker struct{}

func (AllowAllChecker) Check(ctx context.Context, meetingID, userID string, role Role, cap Capability) (bool, int, error) {
	return true, 0, nil
}
