package mcsgw

import (
	"context"
	"fmt"
	"sync"
)

// FakeGateway is an in-memory Gateway double for tests that never needs a
// real MCS process. It accepts every call and fabricates deterministic
// answers; tests that need specific failures set the corresponding On*
// fields before exercising the code under test.
type FakeGateway struct {
	mu sync.Mutex

	connected bool
	nextID    int

	hooksMu sync.Mutex
	hooks   []func()

	subsMu sync.Mutex
	subs   map[string][]chan MediaEvent

	// OnJoin, when set, replaces the default join behavior.
	OnJoin func(room, agentID string, opts JoinOptions) (string, error)
	// OnPublish, when set, replaces the default publish behavior.
	OnPublish func(mcsUserID, room string, kind MediaKind, opts PublishOptions) (string, string, error)
}

// NewFakeGateway returns a connected FakeGateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		connected: true,
		subs:      make(map[string][]chan MediaEvent),
	}
}

func (f *FakeGateway) id(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *FakeGateway) WaitForConnection(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeGateway) Join(ctx context.Context, room, agentID string, opts JoinOptions) (string, error) {
	if f.OnJoin != nil {
		return f.OnJoin(room, agentID, opts)
	}
	return f.id("mcsuser"), nil
}

func (f *FakeGateway) Publish(ctx context.Context, mcsUserID, room string, kind MediaKind, opts PublishOptions) (string, string, error) {
	if f.OnPublish != nil {
		return f.OnPublish(mcsUserID, room, kind, opts)
	}
	return f.id("media"), "v=0\r\no=fake-answer\r\n", nil
}

func (f *FakeGateway) Consume(ctx context.Context, sourceMediaID, targetMediaID string, kind MediaKind) (string, error) {
	return "v=0\r\no=fake-answer\r\n", nil
}

func (f *FakeGateway) Subscribe(ctx context.Context, mcsUserID, sourceMediaID string, opts PublishOptions) (string, string, error) {
	return f.id("media"), "v=0\r\no=fake-answer\r\n", nil
}

func (f *FakeGateway) Connect(ctx context.Context, sourceMediaID, sinkMediaID string, kind MediaKind) error {
	return nil
}

func (f *FakeGateway) AddIceCandidate(ctx context.Context, mediaID, candidate string) error {
	return nil
}

func (f *FakeGateway) Unpublish(ctx context.Context, mcsUserID, mediaID string) error {
	return nil
}

func (f *FakeGateway) RestartIce(ctx context.Context, mediaID string) error {
	return nil
}

func (f *FakeGateway) SubscribeEvents(mediaID string) *Subscription {
	ch := make(chan MediaEvent, 16)
	f.subsMu.Lock()
	f.subs[mediaID] = append(f.subs[mediaID], ch)
	f.subsMu.Unlock()
	return &Subscription{
		events: ch,
		cancel: func() {
			f.subsMu.Lock()
			defer f.subsMu.Unlock()
			subs := f.subs[mediaID]
			for i, c := range subs {
				if c == ch {
					f.subs[mediaID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(ch)
		},
	}
}

// Emit delivers evt to every subscriber of evt.MediaID. Test helper.
func (f *FakeGateway) Emit(evt MediaEvent) {
	f.subsMu.Lock()
	subs := append([]chan MediaEvent(nil), f.subs[evt.MediaID]...)
	f.subsMu.Unlock()
	for _, ch := range subs {
		ch <- evt
	}
}

func (f *FakeGateway) OnDisconnected(fn func()) func() {
	f.hooksMu.Lock()
	f.hooks = append(f.hooks, fn)
	idx := len(f.hooks) - 1
	f.hooksMu.Unlock()
	return func() {
		f.hooksMu.Lock()
		defer f.hooksMu.Unlock()
		if idx < len(f.hooks) {
			f.hooks[idx] = nil
		}
	}
}

// SetDisconnected flips connectivity state and, on a connected->disconnected
// transition, fires every registered hook. Test helper standing in for the
// health-check inference the real gateway performs.
func (f *FakeGateway) SetDisconnected() {
	f.mu.Lock()
	wasConnected := f.connected
	f.connected = false
	f.mu.Unlock()

	if !wasConnected {
		return
	}
	f.hooksMu.Lock()
	hooks := append([]func(){}, f.hooks...)
	f.hooksMu.Unlock()
	for _, h := range hooks {
		if h != nil {
			h()
		}
	}
}

func (f *FakeGateway) Close() error { return nil }
