package mcsgw

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// GRPCConfig configures the connection to the Media Control Server.
type GRPCConfig struct {
	Address             string
	ConnectTimeout      time.Duration
	KeepaliveInterval    time.Duration
	KeepaliveTimeout    time.Duration
	HealthCheckInterval time.Duration
	UnhealthyThreshold  int
}

// DefaultGRPCConfig returns sensible defaults.
func DefaultGRPCConfig() GRPCConfig {
	return GRPCConfig{
		ConnectTimeout:      10 * time.Second,
		KeepaliveInterval:    30 * time.Second,
		KeepaliveTimeout:    10 * time.Second,
		HealthCheckInterval: 5 * time.Second,
		UnhealthyThreshold:  3,
	}
}

const serviceName = "mcs.v1.MCSService"

// grpcGateway implements Gateway against a real Media Control Server over
// gRPC, using the json codec registered in codec.go in place of a
// protoc-generated stub.
type grpcGateway struct {
	conn *grpc.ClientConn
	cfg  GRPCConfig

	mu              sync.RWMutex
	healthy         bool
	failCount       int
	disconnectHooks map[int]func()
	nextHookID      int

	subMu         sync.Mutex
	subscriptions map[string][]chan MediaEvent // mediaID -> subscriber channels

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewGRPCGateway dials the MCS and starts the background event stream and
// health checker.
func NewGRPCGateway(cfg GRPCConfig) (Gateway, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveInterval,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("mcsgw: dial %s: %w", cfg.Address, err)
	}

	g := &grpcGateway{
		conn:            conn,
		cfg:             cfg,
		healthy:         true,
		disconnectHooks: make(map[int]func()),
		subscriptions:   make(map[string][]chan MediaEvent),
		stopCh:          make(chan struct{}),
	}

	g.wg.Add(2)
	go g.runEventStream()
	go g.runHealthChecker()

	slog.Info("[MCSGateway] connected", "address", cfg.Address)
	return g, nil
}

func method(name string) string {
	return "/" + serviceName + "/" + name
}

func (g *grpcGateway) invoke(ctx context.Context, name string, req, resp interface{}) error {
	if err := g.conn.Invoke(ctx, method(name), req, resp); err != nil {
		g.recordFailure()
		return err
	}
	g.recordSuccess()
	return nil
}

func (g *grpcGateway) WaitForConnection(ctx context.Context) bool {
	var resp healthResponse
	err := g.invoke(ctx, "Health", &healthRequest{}, &resp)
	return err == nil && resp.Healthy
}

func (g *grpcGateway) Join(ctx context.Context, room, agentID string, opts JoinOptions) (string, error) {
	req := &joinRequest{Room: room, AgentID: agentID, ExternalUserID: opts.ExternalUserID, AutoLeave: opts.AutoLeave}
	var resp joinResponse
	if err := g.invoke(ctx, "Join", req, &resp); err != nil {
		return "", fmt.Errorf("mcsgw: join: %w", err)
	}
	return resp.MCSUserID, nil
}

func (g *grpcGateway) Publish(ctx context.Context, mcsUserID, room string, kind MediaKind, opts PublishOptions) (string, string, error) {
	req := &publishRequest{
		MCSUserID:            mcsUserID,
		Room:                 room,
		Kind:                 string(kind),
		SDPOffer:             opts.SDPOffer,
		AdapterName:          opts.AdapterName,
		RTPHeaderExtensions:  opts.RTPHeaderExtensions,
		OverrideRouterCodecs: opts.OverrideRouterCodecs,
		DedicatedRouter:      opts.DedicatedRouter,
	}
	var resp publishResponse
	if err := g.invoke(ctx, "Publish", req, &resp); err != nil {
		return "", "", fmt.Errorf("mcsgw: publish: %w", err)
	}
	return resp.MediaID, resp.SDPAnswer, nil
}

func (g *grpcGateway) Consume(ctx context.Context, sourceMediaID, targetMediaID string, kind MediaKind) (string, error) {
	req := &consumeRequest{SourceMediaID: sourceMediaID, TargetMediaID: targetMediaID, Kind: string(kind)}
	var resp consumeResponse
	if err := g.invoke(ctx, "Consume", req, &resp); err != nil {
		return "", fmt.Errorf("mcsgw: consume: %w", err)
	}
	return resp.SDPAnswer, nil
}

func (g *grpcGateway) Subscribe(ctx context.Context, mcsUserID, sourceMediaID string, opts PublishOptions) (string, string, error) {
	req := &publishRequest{
		MCSUserID:           mcsUserID,
		Room:                sourceMediaID,
		Kind:                string(MediaKindWebRTC),
		SDPOffer:            opts.SDPOffer,
		AdapterName:         opts.AdapterName,
		RTPHeaderExtensions: opts.RTPHeaderExtensions,
	}
	var resp publishResponse
	if err := g.invoke(ctx, "Subscribe", req, &resp); err != nil {
		return "", "", fmt.Errorf("mcsgw: subscribe: %w", err)
	}
	return resp.MediaID, resp.SDPAnswer, nil
}

func (g *grpcGateway) Connect(ctx context.Context, sourceMediaID, sinkMediaID string, kind MediaKind) error {
	req := &connectRequest{SourceMediaID: sourceMediaID, SinkMediaID: sinkMediaID, Kind: string(kind)}
	if err := g.invoke(ctx, "Connect", req, &struct{}{}); err != nil {
		return fmt.Errorf("mcsgw: connect: %w", err)
	}
	return nil
}

func (g *grpcGateway) AddIceCandidate(ctx context.Context, mediaID, candidate string) error {
	req := &iceCandidateRequest{MediaID: mediaID, Candidate: candidate}
	if err := g.invoke(ctx, "AddIceCandidate", req, &struct{}{}); err != nil {
		return fmt.Errorf("mcsgw: addIceCandidate: %w", err)
	}
	return nil
}

func (g *grpcGateway) Unpublish(ctx context.Context, mcsUserID, mediaID string) error {
	req := &unpublishRequest{MCSUserID: mcsUserID, MediaID: mediaID}
	if err := g.invoke(ctx, "Unpublish", req, &struct{}{}); err != nil {
		return fmt.Errorf("mcsgw: unpublish: %w", err)
	}
	return nil
}

func (g *grpcGateway) RestartIce(ctx context.Context, mediaID string) error {
	req := &restartIceRequest{MediaID: mediaID}
	if err := g.invoke(ctx, "RestartIce", req, &struct{}{}); err != nil {
		return fmt.Errorf("mcsgw: restartIce: %w", err)
	}
	return nil
}

func (g *grpcGateway) SubscribeEvents(mediaID string) *Subscription {
	ch := make(chan MediaEvent, 16)

	g.subMu.Lock()
	g.subscriptions[mediaID] = append(g.subscriptions[mediaID], ch)
	g.subMu.Unlock()

	return &Subscription{
		events: ch,
		cancel: func() {
			g.subMu.Lock()
			defer g.subMu.Unlock()
			subs := g.subscriptions[mediaID]
			for i, c := range subs {
				if c == ch {
					g.subscriptions[mediaID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(g.subscriptions[mediaID]) == 0 {
				delete(g.subscriptions, mediaID)
			}
			close(ch)
		},
	}
}

func (g *grpcGateway) OnDisconnected(fn func()) func() {
	g.mu.Lock()
	id := g.nextHookID
	g.nextHookID++
	g.disconnectHooks[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.disconnectHooks, id)
		g.mu.Unlock()
	}
}

func (g *grpcGateway) Close() error {
	close(g.stopCh)
	g.wg.Wait()
	return g.conn.Close()
}

// runEventStream maintains the shared server-streaming RPC carrying every
// MEDIA_STATE / MEDIA_STATE_ICE notification and demultiplexes it to
// per-mediaId subscriber channels.
func (g *grpcGateway) runEventStream() {
	defer g.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-g.stopCh:
			return
		default:
		}

		if err := g.consumeEventStream(); err != nil {
			slog.Warn("[MCSGateway] event stream interrupted", "error", err)
		}

		select {
		case <-g.stopCh:
			return
		case <-time.After(backoff):
		}
	}
}

func (g *grpcGateway) consumeEventStream() error {
	streamDesc := &grpc.StreamDesc{StreamName: "SubscribeEvents", ServerStreams: true}
	stream, err := g.conn.NewStream(context.Background(), streamDesc, method("SubscribeEvents"), grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(&emptyRequest{}); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		var env eventEnvelope
		if err := stream.RecvMsg(&env); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		g.dispatch(env)
	}
}

func (g *grpcGateway) dispatch(env eventEnvelope) {
	g.subMu.Lock()
	subs := append([]chan MediaEvent(nil), g.subscriptions[env.MediaID]...)
	g.subMu.Unlock()

	evt := MediaEvent{
		MediaID:   env.MediaID,
		Name:      EventName(env.Name),
		Detail:    EventDetail(env.Detail),
		Candidate: env.Candidate,
	}
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			slog.Warn("[MCSGateway] dropped event, subscriber not draining", "media_id", env.MediaID)
		}
	}
}

// runHealthChecker infers MCS_DISCONNECTED from consecutive RPC failures:
// the real MCS process does not reliably push a disconnect notice over a
// transport that is itself dead, so the gateway treats UnhealthyThreshold
// consecutive failures as the process-level disconnection event.
func (g *grpcGateway) runHealthChecker() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			var resp healthResponse
			err := g.conn.Invoke(ctx, method("Health"), &healthRequest{}, &resp)
			cancel()
			if err != nil || !resp.Healthy {
				g.recordFailure()
			} else {
				g.recordSuccess()
			}
		}
	}
}

func (g *grpcGateway) recordFailure() {
	g.mu.Lock()
	wasHealthy := g.healthy
	g.failCount++
	fire := wasHealthy && g.failCount >= g.cfg.UnhealthyThreshold
	if fire {
		g.healthy = false
	}
	hooks := make([]func(), 0, len(g.disconnectHooks))
	if fire {
		for _, fn := range g.disconnectHooks {
			hooks = append(hooks, fn)
		}
	}
	g.mu.Unlock()

	if fire {
		slog.Warn("[MCSGateway] marking offline after repeated failures", "fail_count", g.failCount)
		for _, fn := range hooks {
			fn()
		}
	}
}

func (g *grpcGateway) recordSuccess() {
	g.mu.Lock()
	g.failCount = 0
	recovered := !g.healthy
	g.healthy = true
	g.mu.Unlock()
	if recovered {
		slog.Info("[MCSGateway] connection recovered")
	}
}
