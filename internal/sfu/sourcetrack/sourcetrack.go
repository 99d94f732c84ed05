// Package sourcetrack maintains the lookup table of externally-ingested
// webcam streams (video only) so viewers can discover and subscribe to a
// source that did not arrive through this core's own publish path.
//
// Entries are TTL-backed rather than held forever: an ExternalVideoSourceAdded
// event is a heartbeat as much as an announcement, and if the matching
// ExternalVideoSourceRemoved event is ever lost (bus hiccup, platform crash
// mid-teardown) the table self-heals instead of showing a viewer a source
// that no longer exists.
package sourcetrack

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaysfu/core/internal/sfu/busgw"
	"github.com/relaysfu/core/internal/sfu/store"
)

const (
	sipSuffix = "|SIP"

	// reservedUserPrefix is the userId prefix §4.6 requires before a
	// broadcast announcement is allowed to register a source: only video
	// ("v_") ingest accounts may externally publish a camera this way.
	reservedUserPrefix = "v_"

	// defaultTTL bounds how long a source survives without a refreshing
	// Add before the cleanup loop evicts it.
	defaultTTL = 6 * time.Hour

	cleanupInterval = 30 * time.Second
)

// Source describes one externally tracked video stream.
type Source struct {
	StreamName string
	UserID     string
}

// Table is a purely advisory registry: nothing here gates or blocks a
// session, it only makes external sources discoverable. Entries are
// keyed by both the normalized stream name and the owning userId, so a
// consumer can resolve a source either way.
type Table struct {
	byName *store.TTLStore[string, Source]

	mu     sync.Mutex
	byUser map[string]map[string]struct{} // userID -> set of normalized stream names
}

// New returns an empty Table whose entries expire after defaultTTL unless refreshed.
func New() *Table {
	return &Table{
		byName: store.NewTTLStore[string, Source](cleanupInterval),
		byUser: make(map[string]map[string]struct{}),
	}
}

// normalize strips the "|SIP" suffix some upstream sources append to the
// stream name so lookups are stable regardless of origin.
func normalize(streamName string) string {
	return strings.TrimSuffix(streamName, sipSuffix)
}

// Add records that streamName belongs to userID, overwriting and refreshing
// the TTL of any prior entry for the same (normalized) stream name.
// Rejected silently if userID does not carry the reserved video-ingest
// prefix: only those announcements describe a real external source.
func (t *Table) Add(streamName, userID string) {
	if !strings.HasPrefix(userID, reservedUserPrefix) {
		slog.Warn("[SourceTrack] ignoring source announcement from non-reserved userId", "user_id", userID, "stream_name", streamName)
		return
	}

	name := normalize(streamName)
	t.byName.Set(name, Source{StreamName: name, UserID: userID}, defaultTTL)

	t.mu.Lock()
	if t.byUser[userID] == nil {
		t.byUser[userID] = make(map[string]struct{})
	}
	t.byUser[userID][name] = struct{}{}
	t.mu.Unlock()
}

// Remove drops a previously tracked source. No-op if absent.
func (t *Table) Remove(streamName string) {
	name := normalize(streamName)
	src, ok := t.byName.Get(name)
	t.byName.Delete(name)
	if !ok {
		return
	}

	t.mu.Lock()
	if names := t.byUser[src.UserID]; names != nil {
		delete(names, name)
		if len(names) == 0 {
			delete(t.byUser, src.UserID)
		}
	}
	t.mu.Unlock()
}

// Get returns the source tracked under streamName, if any.
func (t *Table) Get(streamName string) (Source, bool) {
	return t.byName.Get(normalize(streamName))
}

// ForUser returns every source currently tracked for userID, resolved
// through the userId index rather than a full-table scan.
func (t *Table) ForUser(userID string) []Source {
	t.mu.Lock()
	names := make([]string, 0, len(t.byUser[userID]))
	for name := range t.byUser[userID] {
		names = append(names, name)
	}
	t.mu.Unlock()

	out := make([]Source, 0, len(names))
	for _, name := range names {
		if src, ok := t.byName.Get(name); ok {
			out = append(out, src)
		}
	}
	return out
}

// All returns a snapshot of every tracked source.
func (t *Table) All() []Source {
	all := t.byName.All()
	out := make([]Source, 0, len(all))
	for _, s := range all {
		out = append(out, s)
	}
	return out
}

// Close stops the table's cleanup goroutine.
func (t *Table) Close() {
	t.byName.Close()
}

// Watch subscribes to every meeting's external-source events on bus and
// keeps t in sync until ctx is canceled. Run as a single long-lived
// goroutine for the whole process; the table is shared across meetings
// so one subscription covers all of them.
func Watch(ctx context.Context, bus busgw.Gateway, t *Table) {
	sub := bus.Subscribe("*", "")
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			switch evt.Type {
			case busgw.EventExternalSourceAdded:
				var p busgw.ExternalSourcePayload
				if json.Unmarshal(evt.Payload, &p) == nil {
					t.Add(p.StreamName, p.UserID)
				}
			case busgw.EventExternalSourceGone:
				var p busgw.ExternalSourcePayload
				if json.Unmarshal(evt.Payload, &p) == nil {
					t.Remove(p.StreamName)
				}
			}
		}
	}
}
