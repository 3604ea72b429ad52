package agentbus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeeves-cluster-organization/cbp-bus/cbp"
	"github.com/jeeves-cluster-organization/cbp-bus/semreg"
)

// FileConfig is the on-disk/environment-overridable shape of §2.1's
// layered configuration: registry capacity, compression threshold,
// dedup/compression toggles, history size, breaker
// thresholds, retry defaults, and the dedup-cache TTL. It is the
// serializable twin of Config/BreakerConfig/RetryConfig/cbp.Options —
// Resolve() turns it into the live values those constructors expect.
//
// Adapted from the AMP Relay Server's layered file+env Config (YAML or
// JSON file, then AGENTBUS_-prefixed environment overrides).
type FileConfig struct {
	Registry RegistryFileConfig `yaml:"registry" json:"registry"`
	Codec    CodecFileConfig    `yaml:"codec" json:"codec"`
	Bus      BusFileConfig      `yaml:"bus" json:"bus"`
	Breaker  BreakerFileConfig  `yaml:"breaker" json:"breaker"`
	Retry    RetryFileConfig    `yaml:"retry" json:"retry"`
	Dedup    DedupFileConfig    `yaml:"dedup" json:"dedup"`
}

// RegistryFileConfig tunes the Semantic Registry (C2).
type RegistryFileConfig struct {
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

// CodecFileConfig tunes the CBP codec (C3).
type CodecFileConfig struct {
	UseDedup                  bool `yaml:"use_dedup" json:"use_dedup"`
	UseCompression            bool `yaml:"use_compression" json:"use_compression"`
	CompressionThresholdBytes int  `yaml:"compression_threshold_bytes" json:"compression_threshold_bytes"`
}

// BusFileConfig tunes the Agent Message Bus itself.
type BusFileConfig struct {
	HistoryLimit int `yaml:"history_limit" json:"history_limit"`
}

// BreakerFileConfig mirrors BreakerConfig with serializable duration strings.
type BreakerFileConfig struct {
	FailureThreshold int    `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     string `yaml:"reset_timeout" json:"reset_timeout"`
	HalfOpenProbes   int    `yaml:"half_open_probes" json:"half_open_probes"`
}

// RetryFileConfig mirrors RetryConfig with serializable duration strings.
type RetryFileConfig struct {
	MaxRetries   int     `yaml:"max_retries" json:"max_retries"`
	InitialDelay string  `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay" json:"max_delay"`
	Base         float64 `yaml:"base" json:"base"`
	Jitter       bool    `yaml:"jitter" json:"jitter"`
}

// DedupFileConfig mirrors the ResilientSendAndWait dedup-cache TTL.
type DedupFileConfig struct {
	TTL string `yaml:"ttl" json:"ttl"`
}

// DefaultFileConfig returns every subsystem's stated default (§4.5.6,
// §4.5.7, §4.5.9, cbp.DefaultOptions, semreg.DefaultMaxEntries) collected
// into one loadable document.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Registry: RegistryFileConfig{MaxEntries: semreg.DefaultMaxEntries},
		Codec: CodecFileConfig{
			UseDedup:                  true,
			UseCompression:            true,
			CompressionThresholdBytes: cbp.DefaultCompressionThreshold,
		},
		Bus: BusFileConfig{HistoryLimit: DefaultHistoryLimit},
		Breaker: BreakerFileConfig{
			FailureThreshold: 5,
			ResetTimeout:     "30s",
			HalfOpenProbes:   1,
		},
		Retry: RetryFileConfig{
			MaxRetries:   3,
			InitialDelay: "1s",
			MaxDelay:     "30s",
			Base:         2.0,
			Jitter:       true,
		},
		Dedup: DedupFileConfig{TTL: DefaultDedupTTL.String()},
	}
}

// LoadFileConfig loads a FileConfig from an optional YAML or JSON file,
// then applies AGENTBUS_-prefixed environment overrides on top, matching
// §2.1's "loadable from YAML ... and overridable via environment
// variables" requirement. Defaults fill every zero-valued field first, so
// a caller can pass an empty configPath and get a fully-populated config
// back.
func LoadFileConfig(configPath string) (*FileConfig, error) {
	cfg := DefaultFileConfig()

	if configPath != "" {
		if err := loadConfigFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("agentbus: load config file: %w", err)
		}
	}

	applyConfigEnv(cfg)

	return cfg, nil
}

func loadConfigFile(cfg *FileConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

// applyConfigEnv overrides fields whose corresponding AGENTBUS_* variable
// is set, leaving everything else untouched.
func applyConfigEnv(cfg *FileConfig) {
	if v := os.Getenv("AGENTBUS_REGISTRY_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Registry.MaxEntries = n
		}
	}
	if v := os.Getenv("AGENTBUS_CODEC_USE_DEDUP"); v != "" {
		cfg.Codec.UseDedup = parseConfigBool(v)
	}
	if v := os.Getenv("AGENTBUS_CODEC_USE_COMPRESSION"); v != "" {
		cfg.Codec.UseCompression = parseConfigBool(v)
	}
	if v := os.Getenv("AGENTBUS_CODEC_COMPRESSION_THRESHOLD_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Codec.CompressionThresholdBytes = n
		}
	}
	if v := os.Getenv("AGENTBUS_BUS_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bus.HistoryLimit = n
		}
	}
	if v := os.Getenv("AGENTBUS_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Breaker.FailureThreshold = n
		}
	}
	if v := os.Getenv("AGENTBUS_BREAKER_RESET_TIMEOUT"); v != "" {
		cfg.Breaker.ResetTimeout = v
	}
	if v := os.Getenv("AGENTBUS_RETRY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("AGENTBUS_DEDUP_TTL"); v != "" {
		cfg.Dedup.TTL = v
	}
}

func parseConfigBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// Resolve turns the file config into the live values the bus, codec, and
// registry constructors expect. Malformed duration strings fall back to
// the corresponding compiled-in default rather than failing the whole
// resolve, since a typo in one knob should not prevent startup.
func (c *FileConfig) Resolve() (cbp.Options, BreakerConfig, RetryConfig, time.Duration, int) {
	registry := semreg.New(c.Registry.MaxEntries)

	codecOpts := cbp.Options{
		Registry:                  registry,
		UseDedup:                  c.Codec.UseDedup,
		UseCompression:            c.Codec.UseCompression,
		CompressionThresholdBytes: c.Codec.CompressionThresholdBytes,
	}

	breaker := BreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		ResetTimeout:     parseDurationOrDefault(c.Breaker.ResetTimeout, 30*time.Second),
		HalfOpenProbes:   c.Breaker.HalfOpenProbes,
	}

	retry := RetryConfig{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: parseDurationOrDefault(c.Retry.InitialDelay, time.Second),
		MaxDelay:     parseDurationOrDefault(c.Retry.MaxDelay, 30*time.Second),
		Base:         c.Retry.Base,
		Jitter:       c.Retry.Jitter,
	}

	dedupTTL := parseDurationOrDefault(c.Dedup.TTL, DefaultDedupTTL)

	return codecOpts, breaker, retry, dedupTTL, c.Bus.HistoryLimit
}

func parseDurationOrDefault(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
