package config

import (
	"fmt"
	"time"
)

// Default client values, matching the public deployment.
const (
	DefaultServerURL         = "ws://localhost:8080/ws/signal"
	DefaultAPIURL            = "http://localhost:8080"
	DefaultSTUN              = "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302"
	DefaultTURN              = "turn:openrelay.metered.ca:80,turn:openrelay.metered.ca:443"
	DefaultTURNUser          = "openrelayproject"
	DefaultTURNPass          = "openrelayproject"
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 3 * time.Second
	DefaultSpeakerInterval   = 200 * time.Millisecond
	DefaultSpeakerThreshold  = 30
	DefaultMuteTimeout       = 1500 * time.Millisecond
)

// ClientConfig configures the consult client.
type ClientConfig struct {
	ServerURL string
	APIURL    string

	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string

	ReconnectAttempts int
	ReconnectDelay    time.Duration

	SpeakerInterval  time.Duration
	SpeakerThreshold int
	MuteTimeout      time.Duration
}

// ClientOptions carries CLI flag overrides. Zero values fall through to env.
type ClientOptions struct {
	ServerURL         string
	APIURL            string
	STUNServers       string
	TURNServers       string
	TURNUser          string
	TURNPass          string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	SpeakerInterval   time.Duration
	// SpeakerThreshold is nil when the flag was not given.
	SpeakerThreshold *int
}

// LoadClient resolves client configuration with the following priority:
// CLI flags, then environment variables, then defaults.
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	cfg := &ClientConfig{
		ServerURL:         pick(opts.ServerURL, getEnv("CONSULT_SERVER_URL", DefaultServerURL)),
		APIURL:            pick(opts.APIURL, getEnv("CONSULT_API_URL", DefaultAPIURL)),
		STUNServers:       splitList(pick(opts.STUNServers, getEnv("STUN_SERVERS", DefaultSTUN))),
		TURNServers:       splitList(pick(opts.TURNServers, getEnv("TURN_SERVERS", DefaultTURN))),
		TURNUser:          pick(opts.TURNUser, getEnv("TURN_USERNAME", DefaultTURNUser)),
		TURNPass:          pick(opts.TURNPass, getEnv("TURN_PASSWORD", DefaultTURNPass)),
		ReconnectAttempts: getEnvInt("RECONNECT_ATTEMPTS", DefaultReconnectAttempts),
		ReconnectDelay:    getEnvDuration("RECONNECT_DELAY", DefaultReconnectDelay),
		SpeakerInterval:   getEnvDuration("SPEAKER_INTERVAL", DefaultSpeakerInterval),
		SpeakerThreshold:  getEnvInt("SPEAKER_THRESHOLD", DefaultSpeakerThreshold),
		MuteTimeout:       getEnvDuration("MUTE_TIMEOUT", DefaultMuteTimeout),
	}

	if opts.ReconnectAttempts > 0 {
		cfg.ReconnectAttempts = opts.ReconnectAttempts
	}
	if opts.ReconnectDelay > 0 {
		cfg.ReconnectDelay = opts.ReconnectDelay
	}
	if opts.SpeakerInterval > 0 {
		cfg.SpeakerInterval = opts.SpeakerInterval
	}
	if opts.SpeakerThreshold != nil {
		cfg.SpeakerThreshold = *opts.SpeakerThreshold
	}

	if cfg.SpeakerThreshold < 0 || cfg.SpeakerThreshold > 255 {
		return nil, fmt.Errorf("speaker threshold %d out of range 0-255", cfg.SpeakerThreshold)
	}
	if cfg.ReconnectAttempts < 0 {
		return nil, fmt.Errorf("reconnect attempts must not be negative")
	}

	return cfg, nil
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}
