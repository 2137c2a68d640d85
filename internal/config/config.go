package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string

	// HeartbeatInterval is the liveness probe period. A client that fails
	// to show life for one full interval is treated as disconnected.
	HeartbeatInterval time.Duration

	// MaxMessageBytes bounds a single inbound signaling message. SDP offers
	// top out well under 64 KB.
	MaxMessageBytes int64

	// SendQueueDepth is the per-client outbound buffer. A full queue means
	// the peer is not draining and is treated as unreachable.
	SendQueueDepth int

	AllowedOrigins []string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func Load() *Config {
	return &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		HeartbeatInterval: time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SEC", 30)) * time.Second,
		MaxMessageBytes:   int64(getEnvInt("MAX_MESSAGE_BYTES", 64*1024)),
		SendQueueDepth:    getEnvInt("SEND_QUEUE_DEPTH", 256),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "*")),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
