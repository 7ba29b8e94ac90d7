// SPDX-License-Identifier: MIT

// Package config loads PMOMusic's runtime configuration: the YAML
// shape PMOMusic's own daemon needs (listen addresses, cache roots,
// source credentials, renderer discovery toggles), a .env overlay for
// secrets that shouldn't live in the YAML file, and a hot-reloadable
// holder watching the config file for atomic-replace writes.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk YAML shape.
type FileConfig struct {
	DataDir string `yaml:"dataDir,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty"`

	HTTP      HTTPConfig      `yaml:"http"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Caches    CachesConfig    `yaml:"caches"`
	Sources   SourcesConfig   `yaml:"sources"`
	Bus       BusConfig       `yaml:"bus,omitempty"`
	Audio     AudioConfig     `yaml:"audio,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// TelemetryConfig configures OTLP trace export. With Enabled false the
// instrumentation installs noop providers.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty"`
	Exporter     string  `yaml:"exporter,omitempty"` // "grpc" or "http"
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty"`
}

// HTTPConfig configures the control-surface listener.
type HTTPConfig struct {
	ListenAddr string `yaml:"listenAddr,omitempty"`
	JWTSecret  string `yaml:"jwtSecret,omitempty"` // usually supplied via .env instead
}

// DiscoveryConfig toggles SSDP renderer/device discovery.
type DiscoveryConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	Interface  string `yaml:"interface,omitempty"`
	MaxAgeSecs int    `yaml:"maxAgeSecs,omitempty"`
}

// CachesConfig names each content-addressed cache root PMOMusic opens
// (e.g. "covers", "audio-prebuffer").
type CachesConfig struct {
	Root  string                 `yaml:"root,omitempty"`
	Named map[string]CacheConfig `yaml:"named,omitempty"`
}

// CacheConfig is one named cache's own settings.
type CacheConfig struct {
	MaxEntries int    `yaml:"maxEntries,omitempty"` // unpinned-entry LRU limit; 0 selects the cache default (10000)
	DefaultTTL string `yaml:"defaultTTL,omitempty"` // e.g. "24h"
	RedisAddr  string `yaml:"redisAddr,omitempty"`  // optional distributed-lock backend
}

// SourcesConfig carries per-source credentials, passed through to each
// MusicSource's own client construction rather than interpreted here.
type SourcesConfig struct {
	Qobuz       QobuzConfig       `yaml:"qobuz,omitempty"`
	RadioFrance RadioFranceConfig `yaml:"radioFrance,omitempty"`
	LocalFiles  LocalFilesConfig  `yaml:"localFiles,omitempty"`
}

type QobuzConfig struct {
	AppID    string `yaml:"appId,omitempty"`
	AppSecret string `yaml:"appSecret,omitempty"` // usually supplied via .env instead
	UserAuthToken string `yaml:"userAuthToken,omitempty"`
}

type RadioFranceConfig struct {
	Stations []string `yaml:"stations,omitempty"`
}

type LocalFilesConfig struct {
	Root string `yaml:"root,omitempty"`
}

// BusConfig optionally mirrors the in-process event bus onto NATS for
// multi-process deployments.
type BusConfig struct {
	NATSURL string `yaml:"natsUrl,omitempty"`
	NodeID  string `yaml:"nodeId,omitempty"`
}

// AudioConfig configures the local pipeline sinks.
type AudioConfig struct {
	FramesPerChunk int    `yaml:"framesPerChunk,omitempty"`
	DiskSinkDir    string `yaml:"diskSinkDir,omitempty"`
	MPDAddr        string `yaml:"mpdAddr,omitempty"`
}

// Load reads path as YAML into a FileConfig. A missing file is not an
// error: defaults apply and env/dotenv overlay still runs.
func Load(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fc, nil
		}
		return fc, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return fc, nil
}

// ApplyDefaults fills zero-value fields with PMOMusic's own defaults.
func ApplyDefaults(fc FileConfig) FileConfig {
	if fc.DataDir == "" {
		fc.DataDir = "./data"
	}
	if fc.LogLevel == "" {
		fc.LogLevel = "info"
	}
	if fc.HTTP.ListenAddr == "" {
		fc.HTTP.ListenAddr = ":8096"
	}
	if fc.Discovery.Enabled == nil {
		enabled := true
		fc.Discovery.Enabled = &enabled
	}
	if fc.Discovery.MaxAgeSecs == 0 {
		fc.Discovery.MaxAgeSecs = 1800
	}
	if fc.Caches.Root == "" {
		fc.Caches.Root = fc.DataDir + "/cache"
	}
	if fc.Audio.FramesPerChunk == 0 {
		fc.Audio.FramesPerChunk = 4096
	}
	return fc
}
