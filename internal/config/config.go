// Package config loads and hot-reloads portal.yaml (spec.md §6), following
// internal/config/wing.go's ICEServer struct and YAML-on-disk convention.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ICEServer is a STUN/TURN server configuration for WebRTC peer connections
// (spec.md §6 "ICE servers").
type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// DefaultICEServers are the four public STUN URLs spec.md §6 specifies as
// the default.
func DefaultICEServers() []ICEServer {
	return []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
		{URLs: []string{"stun:stun2.l.google.com:19302"}},
		{URLs: []string{"stun:stun3.l.google.com:19302"}},
	}
}

// Reconnect tunes the signalling client's reconnect backoff.
type Reconnect struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// OutboundRate tunes the per-peer outbound rate limiter.
type OutboundRate struct {
	BytesPerSec int `yaml:"bytes_per_sec"` // 0 = unlimited
	Burst       int `yaml:"burst"`
}

// Config is the parsed contents of portal.yaml.
type Config struct {
	SignalingURL string       `yaml:"signaling_url"`
	ICEServers   []ICEServer  `yaml:"ice_servers,omitempty"`
	Reconnect    Reconnect    `yaml:"reconnect"`
	OutboundRate OutboundRate `yaml:"outbound_rate"`
}

// Default returns the configuration used when no portal.yaml is found.
func Default() Config {
	return Config{
		SignalingURL: "ws://127.0.0.1:9090",
		ICEServers:   DefaultICEServers(),
		Reconnect:    Reconnect{Base: time.Second, Max: 10 * time.Second},
		OutboundRate: OutboundRate{BytesPerSec: 0, Burst: 65536},
	}
}

// Load reads and parses portal.yaml at path. A missing file is not an
// error; it yields Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Store holds the current Config behind a mutex, so hot-reload (see
// watch.go) can swap it out while readers hold a stable snapshot via
// Current.
type Store struct {
	mu  sync.RWMutex
	cfg Config
}

// NewStore creates a Store seeded with cfg.
func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Current returns the currently-active configuration.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the active configuration.
func (s *Store) Set(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}
