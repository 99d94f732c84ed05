package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// StartFunc brings a bridge's shared media element up and returns its
// MCS user id and media id. Called at most once per meeting concurrently
// regardless of how many publishers race to acquire it.
type StartFunc func(ctx context.Context, meetingID, voiceBridge string) (mcsUserID, mediaID string, err error)

// StopFunc tears the shared media element back down once the last
// publisher releases it.
type StopFunc func(meetingID, mcsUserID, mediaID string)

type startResult struct {
	mcsUserID string
	mediaID   string
}

// Registry holds at most one live Bridge per meeting and single-flights
// concurrent start attempts so the second and later publisher to join a
// meeting attach to the first one's bridge instead of racing to create
// their own.
type Registry struct {
	mu       sync.Mutex
	bridges  map[string]*Bridge
	group    singleflight.Group
	start    StartFunc
	stop     StopFunc
}

// NewRegistry builds a Registry that uses start/stop to manage the
// lifecycle of each meeting's shared bridge.
func NewRegistry(start StartFunc, stop StopFunc) *Registry {
	return &Registry{
		bridges: make(map[string]*Bridge),
		start:   start,
		stop:    stop,
	}
}

// Acquire returns the meeting's bridge, starting it if this is the first
// acquire, and bumps its reference count. Concurrent acquires for the
// same meeting block on the same in-flight start rather than each
// attempting to create the bridge.
func (r *Registry) Acquire(ctx context.Context, meetingID, voiceBridge string) (*Bridge, error) {
	r.mu.Lock()
	if b, ok := r.bridges[meetingID]; ok && b.State != StateFailed && b.State != StateClosed {
		b.refCount++
		r.mu.Unlock()
		if b.State == StateStarting {
			// Wait (polling the entry's state) for the in-flight start to
			// finish so the caller doesn't observe a bridge with no MediaID yet.
			var result Bridge
			for {
				r.mu.Lock()
				result = *b
				r.mu.Unlock()
				if result.State != StateStarting {
					break
				}
				time.Sleep(time.Millisecond)
			}
			if result.State == StateFailed {
				r.Release(meetingID)
				return nil, fmt.Errorf("bridge: meeting %s failed to start", meetingID)
			}
			return &result, nil
		}
		return b, nil
	}

	b := &Bridge{MeetingID: meetingID, VoiceBridge: voiceBridge, State: StateStarting, refCount: 1}
	r.bridges[meetingID] = b
	r.mu.Unlock()

	res, err, _ := r.group.Do(meetingID, func() (interface{}, error) {
		mcsUserID, mediaID, startErr := r.start(ctx, meetingID, voiceBridge)
		return startResult{mcsUserID: mcsUserID, mediaID: mediaID}, startErr
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		b.State = StateFailed
		return nil, fmt.Errorf("bridge: start meeting %s: %w", meetingID, err)
	}
	result := res.(startResult)
	b.MCSUserID = result.mcsUserID
	b.MediaID = result.mediaID
	b.State = StateReady
	return b, nil
}

// Release decrements the meeting's reference count and, once it reaches
// zero, stops the bridge and removes it from the registry.
func (r *Registry) Release(meetingID string) {
	r.mu.Lock()
	b, ok := r.bridges[meetingID]
	if !ok {
		r.mu.Unlock()
		return
	}
	b.refCount--
	if b.refCount > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.bridges, meetingID)
	state := b.State
	mcsUserID, mediaID := b.MCSUserID, b.MediaID
	r.mu.Unlock()

	if state == StateReady && r.stop != nil {
		r.stop(meetingID, mcsUserID, mediaID)
	}
}

// Get returns the current bridge for meetingID, if any, without
// affecting its reference count.
func (r *Registry) Get(meetingID string) (*Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[meetingID]
	if !ok {
		return nil, false
	}
	cp := *b
	return &cp, true
}

// Len reports how many meetings currently have a live bridge entry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}

// All returns a snapshot of every live bridge.
func (r *Registry) All() []Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, *b)
	}
	return out
}
