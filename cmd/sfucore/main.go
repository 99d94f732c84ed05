package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaysfu/core/internal/banner"
	"github.com/relaysfu/core/internal/sfu/bridge"
	"github.com/relaysfu/core/internal/sfu/busgw"
	"github.com/relaysfu/core/internal/sfu/config"
	"github.com/relaysfu/core/internal/sfu/endpoint"
	"github.com/relaysfu/core/internal/sfu/manager"
	"github.com/relaysfu/core/internal/sfu/mcsgw"
	"github.com/relaysfu/core/internal/sfu/permission"
	"github.com/relaysfu/core/internal/sfu/sourcetrack"
	"github.com/relaysfu/core/internal/sfu/statusapi"
	"github.com/relaysfu/core/internal/sfu/wsgw"
	"github.com/relaysfu/core/internal/logger"
)

func main() {
	cfg := config.Load()
	logger.Init(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	banner.Print("SFU Core", []banner.ConfigLine{
		{Label: "Bind", Value: cfg.BindAddr},
		{Label: "MCS", Value: cfg.MCSAddr},
		{Label: "Bus", Value: cfg.BusURL},
		{Label: "Metrics", Value: cfg.MetricsAddr},
		{Label: "Status", Value: cfg.StatusAddr},
	})

	gw, err := mcsgw.NewGRPCGateway(mcsgw.GRPCConfig{
		Address:             cfg.MCSAddr,
		ConnectTimeout:      cfg.MCSConnectTimeout,
		KeepaliveInterval:   cfg.MCSKeepaliveInterval,
		KeepaliveTimeout:    cfg.MCSKeepaliveTimeout,
		HealthCheckInterval: 5 * time.Second,
		UnhealthyThreshold:  3,
	})
	if err != nil {
		slog.Error("failed to connect to MCS", "error", err)
		os.Exit(1)
	}
	defer gw.Close()

	bus, err := busgw.NewNATSGateway(busgw.Config{
		URL:             cfg.BusURL,
		ConnectTimeout:  5 * time.Second,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectJitter: 500 * time.Millisecond,
	}, slog.Default())
	if err != nil {
		slog.Error("failed to connect to bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	oracle := permission.New(permission.AllowAllChecker{})
	sources := sourcetrack.New()
	defer sources.Close()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go sourcetrack.Watch(watchCtx, bus, sources)

	registry := bridge.NewRegistry(
		func(ctx context.Context, meetingID, voiceBridge string) (string, string, error) {
			mcsUserID, err := gw.Join(ctx, voiceBridge, "bridge-"+meetingID, mcsgw.JoinOptions{})
			if err != nil {
				return "", "", err
			}
			mediaID, _, err := gw.Publish(ctx, mcsUserID, voiceBridge, mcsgw.MediaKindAudio, mcsgw.PublishOptions{})
			return mcsUserID, mediaID, err
		},
		func(meetingID, mcsUserID, mediaID string) {
			if err := gw.Unpublish(context.Background(), mcsUserID, mediaID); err != nil {
				slog.Warn("failed to tear down bridge", "meeting_id", meetingID, "error", err)
			}
		},
	)

	watchdog := endpoint.WatchdogConfig{
		MediaStateTimeout: cfg.MediaStateTimeout,
		MediaFlowTimeout:  cfg.MediaFlowTimeout,
	}

	metricsReg := prometheus.NewRegistry()
	audioMetrics := manager.NewMetrics(metricsReg, "audio")
	videoMetrics := manager.NewMetrics(metricsReg, "video")

	signalingServer := wsgw.New(cfg.BindAddr, nil, nil)

	audioMgr := manager.New(manager.Config{
		Kind: "audio", Gateway: gw, Bus: bus, Oracle: oracle, Bridges: registry,
		Metrics: audioMetrics, Sender: signalingServer, Watchdog: watchdog,
		BaselineCodecs:      cfg.ConferenceMediaSpecs.Codecs,
		EjectOnUserLeft:     cfg.EjectOnUserLeft,
		FullAudioEnabled:    cfg.FullAudioEnabled,
		StrictHeaderParsing: cfg.WSStrictHeaderParsing,
	})
	videoMgr := manager.New(manager.Config{
		Kind: "video", Gateway: gw, Bus: bus, Oracle: oracle, Bridges: registry,
		Metrics: videoMetrics, Sender: signalingServer, Watchdog: watchdog,
		BaselineCodecs:      cfg.ConferenceMediaSpecs.Codecs,
		Sources:             sources,
		EjectOnUserLeft:     cfg.EjectOnUserLeft,
		StrictHeaderParsing: cfg.WSStrictHeaderParsing,
	})

	signalingServer.SetDispatchers(audioMgr, videoMgr)
	signalingServer.Start()
	defer signalingServer.Stop()

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()
	defer metricsServer.Close()

	status := statusapi.New(cfg.StatusAddr, audioMgr, videoMgr, registry, sources, gw)
	status.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := status.Stop(shutdownCtx); err != nil {
		slog.Warn("status API shutdown error", "error", err)
	}

	audioMgr.CloseAll()
	videoMgr.CloseAll()
}
