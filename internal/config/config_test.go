package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/arjunsheth/auctioncore/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("got server port %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("got driver %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Engine.SubscriberBuffer != 64 {
		t.Errorf("got subscriber buffer %d, want 64", cfg.Engine.SubscriberBuffer)
	}
	a := cfg.Engine.Auction
	if a.LotDuration() != 30*time.Second || a.SoftCloseThreshold() != 5*time.Second ||
		a.SoftCloseExtension() != 10*time.Second || a.MaxExtensions != 3 ||
		a.InterLotGap() != 3*time.Second {
		t.Errorf("unexpected auction defaults: %+v", a)
	}
	s := cfg.Engine.Season
	if s.MaxSquadSize != 20 || s.MaxOverseas != 4 || s.MinWicketKeepers != 1 {
		t.Errorf("unexpected season defaults: %+v", s)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
server:
  port: 9090
database:
  driver: memory
engine:
  subscriber_buffer: 16
  auction:
    lot_duration_ms: 60000
    constant_increment: 100000
leader_election:
  enabled: true
  lease_name: my-lease
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("got server port %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("got driver %q, want memory", cfg.Database.Driver)
	}
	if cfg.Engine.SubscriberBuffer != 16 {
		t.Errorf("got subscriber buffer %d, want 16", cfg.Engine.SubscriberBuffer)
	}
	if cfg.Engine.Auction.LotDuration() != time.Minute {
		t.Errorf("got lot duration %v, want 1m", cfg.Engine.Auction.LotDuration())
	}
	if cfg.Engine.Auction.ConstantIncrement != 100_000 {
		t.Errorf("got constant increment %d, want 100000", cfg.Engine.Auction.ConstantIncrement)
	}
	if !cfg.LeaderElection.Enabled || cfg.LeaderElection.LeaseName != "my-lease" {
		t.Errorf("unexpected leader election config: %+v", cfg.LeaderElection)
	}
	// Untouched fields keep their defaults.
	if cfg.LeaderElection.LeaseDuration != 15*time.Second {
		t.Errorf("got lease duration %v, want 15s", cfg.LeaderElection.LeaseDuration)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "database:\n  driver: sqlite\n"},
		{"non-positive buffer", "engine:\n  subscriber_buffer: 0\n"},
		{"zero lot duration", "engine:\n  auction:\n    lot_duration_ms: 0\n"},
		{"negative extensions", "engine:\n  auction:\n    max_extensions: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.Load(writeConfig(t, tt.yaml)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDecodeAuctionSettings(t *testing.T) {
	s, err := config.DecodeAuctionSettings(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s, config.DefaultAuctionSettings()) {
		t.Errorf("nil blob: got %+v, want defaults", s)
	}

	s, err = config.DecodeAuctionSettings([]byte(`{"lot_duration_ms": 45000, "max_extensions": 5}`))
	if err != nil {
		t.Fatal(err)
	}
	if s.LotDuration() != 45*time.Second || s.MaxExtensions != 5 {
		t.Errorf("partial blob: got %+v", s)
	}
	// Unspecified keys fall back to defaults.
	if s.SoftCloseThreshold() != 5*time.Second {
		t.Errorf("got threshold %v, want 5s", s.SoftCloseThreshold())
	}

	if _, err := config.DecodeAuctionSettings([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed blob")
	}
}
