// Package config loads SFU core configuration from flags and environment
// variables, following the same load-then-override shape as the rest of
// this codebase's services.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every option enumerated in the external-interfaces contract:
// adapter defaults, header-parsing strictness, the two watchdog durations,
// and the feature toggles that change request acceptance.
type Config struct {
	// BindAddr/MetricsAddr/StatusAddr are this process's listen addresses.
	BindAddr    string
	MetricsAddr string
	StatusAddr  string
	LogLevel    string

	// MCS connection.
	MCSAddr            string
	MCSConnectTimeout  time.Duration
	MCSKeepaliveInterval time.Duration
	MCSKeepaliveTimeout  time.Duration

	// Bus connection.
	BusURL string

	// VideoMediaServer is the adapter name read from -video-media-server.
	// It is loaded here only; it is not passed to the Managers, and video
	// publishes are sent without an adapter name.
	VideoMediaServer string

	// ConferenceMediaSpecs is the baseline codec/bitrate descriptor. Only
	// its Codecs list is used, to warn at startup about codec drift; the
	// bitrates are not applied to publishes.
	ConferenceMediaSpecs MediaSpec

	// WSStrictHeaderParsing rejects messages whose user-info header fails to parse.
	WSStrictHeaderParsing bool

	// MediaFlowTimeout/MediaStateTimeout are the two watchdog durations.
	MediaFlowTimeout  time.Duration
	MediaStateTimeout time.Duration

	// EjectOnUserLeft stops a user's sessions when they leave the meeting.
	EjectOnUserLeft bool

	// FullAudioEnabled allows the sendrecv audio role.
	FullAudioEnabled bool
}

// MediaSpec is the negotiated bandwidth/codec descriptor baseline.
type MediaSpec struct {
	AudioBitrateKbps int
	VideoBitrateKbps int
	Codecs           []string
}

// DefaultMediaSpec mirrors the conservative defaults a conferencing
// deployment ships with out of the box.
func DefaultMediaSpec() MediaSpec {
	return MediaSpec{
		AudioBitrateKbps: 64,
		VideoBitrateKbps: 1200,
		Codecs:           []string{"opus", "VP8", "H264"},
	}
}

// Load reads configuration from flags, then applies environment overrides,
// matching the precedence used throughout this codebase.
func Load() *Config {
	cfg := &Config{
		MCSConnectTimeout:    10 * time.Second,
		MCSKeepaliveInterval: 30 * time.Second,
		MCSKeepaliveTimeout:  10 * time.Second,
		ConferenceMediaSpecs: DefaultMediaSpec(),
		MediaFlowTimeout:     10 * time.Second,
		MediaStateTimeout:    10 * time.Second,
		EjectOnUserLeft:      true,
	}

	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0:7443", "websocket signaling listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "0.0.0.0:9091", "Prometheus metrics listen address")
	flag.StringVar(&cfg.StatusAddr, "status-addr", "0.0.0.0:8090", "status/introspection API listen address")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.MCSAddr, "mcs-addr", "localhost:8088", "Media Control Server gRPC address")
	flag.StringVar(&cfg.BusURL, "bus-url", "nats://localhost:4222", "message bus URL")
	flag.StringVar(&cfg.VideoMediaServer, "video-media-server", "Kurento", "default adapter name for video publishes")
	flag.BoolVar(&cfg.WSStrictHeaderParsing, "strict-header-parsing", false, "reject messages with malformed user-info header")
	flag.DurationVar(&cfg.MediaFlowTimeout, "media-flow-timeout", cfg.MediaFlowTimeout, "time a session may stay NOT_FLOWING before a client error is raised")
	flag.DurationVar(&cfg.MediaStateTimeout, "media-state-timeout", cfg.MediaStateTimeout, "time a session may stay DISCONNECTED before a client error is raised")
	flag.BoolVar(&cfg.EjectOnUserLeft, "eject-on-user-left", cfg.EjectOnUserLeft, "stop sessions when their owning user leaves the meeting")
	flag.BoolVar(&cfg.FullAudioEnabled, "full-audio-enabled", false, "allow the sendrecv audio role")
	flag.Parse()

	applyEnvOverrides(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SFU_MCS_ADDR"); v != "" {
		cfg.MCSAddr = v
	}
	if v := os.Getenv("SFU_BUS_URL"); v != "" {
		cfg.BusURL = v
	}
	if v := os.Getenv("SFU_LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SFU_VIDEO_MEDIA_SERVER"); v != "" {
		cfg.VideoMediaServer = v
	}
	if v := os.Getenv("SFU_STRICT_HEADER_PARSING"); v != "" {
		cfg.WSStrictHeaderParsing = parseBool(v, cfg.WSStrictHeaderParsing)
	}
	if v := os.Getenv("SFU_EJECT_ON_USER_LEFT"); v != "" {
		cfg.EjectOnUserLeft = parseBool(v, cfg.EjectOnUserLeft)
	}
	if v := os.Getenv("SFU_FULL_AUDIO_ENABLED"); v != "" {
		cfg.FullAudioEnabled = parseBool(v, cfg.FullAudioEnabled)
	}
	if v := os.Getenv("SFU_MEDIA_FLOW_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.MediaFlowTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SFU_MEDIA_STATE_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.MediaStateTimeout = time.Duration(ms) * time.Millisecond
		}
	}
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
