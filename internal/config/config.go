// Package config loads the service configuration from YAML and defines the
// per-auction and per-season settings blobs stored alongside their rows.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
	Engine         EngineConfig         `yaml:"engine"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// EngineConfig holds engine-wide tuning knobs.
type EngineConfig struct {
	// SubscriberBuffer is the bounded per-subscriber channel size.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
	// Auction holds the defaults applied to auctions without stored settings.
	Auction AuctionSettings `yaml:"auction"`
	// Season holds the defaults applied when creating seasons.
	Season SeasonSettings `yaml:"season"`
}

// AuctionSettings is the JSON-serializable per-auction settings blob.
// Durations are milliseconds on the wire.
type AuctionSettings struct {
	LotDurationMS        int64 `json:"lot_duration_ms" yaml:"lot_duration_ms"`
	SoftCloseThresholdMS int64 `json:"soft_close_threshold_ms" yaml:"soft_close_threshold_ms"`
	SoftCloseExtensionMS int64 `json:"soft_close_extension_ms" yaml:"soft_close_extension_ms"`
	MaxExtensions        int   `json:"max_extensions" yaml:"max_extensions"`
	InterLotGapMS        int64 `json:"inter_lot_gap_ms" yaml:"inter_lot_gap_ms"`
	// IncrementBands are [min, max, step] triples in money units; a max of 0
	// marks the open-ended top band. Empty means the banded defaults.
	IncrementBands [][3]int64 `json:"increment_bands,omitempty" yaml:"increment_bands,omitempty"`
	// ConstantIncrement, when positive, opts the auction into a flat
	// minimum increment instead of the banded schedule.
	ConstantIncrement int64 `json:"constant_increment,omitempty" yaml:"constant_increment,omitempty"`
}

// DefaultAuctionSettings returns the normative auction defaults.
func DefaultAuctionSettings() AuctionSettings {
	return AuctionSettings{
		LotDurationMS:        30_000,
		SoftCloseThresholdMS: 5_000,
		SoftCloseExtensionMS: 10_000,
		MaxExtensions:        3,
		InterLotGapMS:        3_000,
	}
}

// LotDuration returns the initial per-lot timer duration.
func (s AuctionSettings) LotDuration() time.Duration {
	return time.Duration(s.LotDurationMS) * time.Millisecond
}

// SoftCloseThreshold returns the remaining-time threshold for extension.
func (s AuctionSettings) SoftCloseThreshold() time.Duration {
	return time.Duration(s.SoftCloseThresholdMS) * time.Millisecond
}

// SoftCloseExtension returns the duration added on extension.
func (s AuctionSettings) SoftCloseExtension() time.Duration {
	return time.Duration(s.SoftCloseExtensionMS) * time.Millisecond
}

// InterLotGap returns the pause between lot finalization and the next lot.
func (s AuctionSettings) InterLotGap() time.Duration {
	return time.Duration(s.InterLotGapMS) * time.Millisecond
}

// DecodeAuctionSettings parses a stored settings blob, falling back to the
// defaults for a nil or empty blob. Unknown keys are ignored.
func DecodeAuctionSettings(blob []byte) (AuctionSettings, error) {
	s := DefaultAuctionSettings()
	if len(blob) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(blob, &s); err != nil {
		return s, fmt.Errorf("parsing auction settings: %w", err)
	}
	return s, nil
}

// SeasonSettings holds roster-cap defaults applied at season creation.
type SeasonSettings struct {
	MaxSquadSize     int `json:"max_squad_size" yaml:"max_squad_size"`
	MaxOverseas      int `json:"max_overseas" yaml:"max_overseas"`
	MinWicketKeepers int `json:"min_wicket_keepers" yaml:"min_wicket_keepers"`
}

// DefaultSeasonSettings returns the normative season defaults.
func DefaultSeasonSettings() SeasonSettings {
	return SeasonSettings{
		MaxSquadSize:     20,
		MaxOverseas:      4,
		MinWicketKeepers: 1,
	}
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctiond",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctiond-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Engine: EngineConfig{
			SubscriberBuffer: 64,
			Auction:          DefaultAuctionSettings(),
			Season:           DefaultSeasonSettings(),
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Engine.SubscriberBuffer <= 0 {
		return fmt.Errorf("engine.subscriber_buffer must be positive, got %d", c.Engine.SubscriberBuffer)
	}
	a := c.Engine.Auction
	if a.LotDurationMS <= 0 || a.SoftCloseExtensionMS < 0 || a.SoftCloseThresholdMS < 0 {
		return fmt.Errorf("engine.auction durations must be non-negative with a positive lot_duration_ms")
	}
	if a.MaxExtensions < 0 {
		return fmt.Errorf("engine.auction.max_extensions must be non-negative, got %d", a.MaxExtensions)
	}
	return nil
}
