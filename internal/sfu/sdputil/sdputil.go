// Package sdputil does the one thing this core is allowed to know about
// an SDP body: read its codec list. Everything else about negotiating
// the offer belongs to the MCS; this package never builds or rewrites
// SDP, only inspects it well enough to log a drift from the deployment's
// baseline codec set.
package sdputil

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// OfferedCodecs returns the codec names declared across every media
// description's rtpmap attributes. A malformed offer yields an empty
// slice rather than an error: the MCS is the actual SDP negotiator, and a
// parse failure here must never block a publish or subscribe.
func OfferedCodecs(offer string) []string {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(offer)); err != nil {
		return nil
	}

	var codecs []string
	for _, media := range desc.MediaDescriptions {
		for _, attr := range media.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			fields := strings.Fields(attr.Value)
			if len(fields) < 2 {
				continue
			}
			name := strings.Split(fields[1], "/")[0]
			codecs = append(codecs, name)
		}
	}
	return codecs
}

// MatchesBaseline reports whether offer declares at least one codec from
// baseline (case-insensitive). An offer with no parseable rtpmap
// attributes, or a deployment with no configured baseline, always
// matches: this is a drift signal, not a gate.
func MatchesBaseline(offer string, baseline []string) bool {
	offered := OfferedCodecs(offer)
	if len(offered) == 0 || len(baseline) == 0 {
		return true
	}
	for _, o := range offered {
		for _, b := range baseline {
			if strings.EqualFold(o, b) {
				return true
			}
		}
	}
	return false
}
