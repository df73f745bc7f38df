// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"os"
	"time"

	"github.com/dssb/beacon/internal/logger"
	"github.com/dssb/beacon/internal/vars"
	"github.com/jessevdk/go-flags"
)

// Config represents the complete application flags configuration.
type Config struct {
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"BEACON_DB"`
	Sync      Sync          `group:"Sync Options" namespace:"sync" env-namespace:"BEACON_SYNC"`
	Heartbeat Heartbeat     `group:"Heartbeat Options" namespace:"heartbeat" env-namespace:"BEACON_HEARTBEAT"`
	Theme     Theme         `group:"Theme Options" namespace:"theme" env-namespace:"BEACON_THEME"`
	Listing   Listing       `group:"Listing Options" namespace:"listing" env-namespace:"BEACON_LISTING"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"BEACON_GEOIP"`
	API       API           `group:"API Options" namespace:"api" env-namespace:"BEACON_API"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"BEACON_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Storage holds database configuration.
type Storage struct {
	Path string `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"beacon.db"`
}

// Sync holds refresh round scheduling configuration.
type Sync struct {
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Time between refresh rounds" default:"60s"`
	Workers  int           `long:"workers" env:"WORKERS" description:"Max simultaneous outbound requests" default:"8"`
	Rate     float64       `long:"rate" env:"RATE" description:"Outbound requests per second across all workers" default:"32"`
}

// Heartbeat holds per-server liveness query configuration.
type Heartbeat struct {
	Timeout    time.Duration `long:"timeout" env:"TIMEOUT" description:"Query timeout" default:"3s"`
	BufferSize uint16        `long:"buffer-size" env:"BUFFER_SIZE" description:"A2S response buffer size" default:"1400"`
}

// Theme holds website theme fetching configuration.
type Theme struct {
	Timeout   time.Duration `long:"timeout" env:"TIMEOUT" description:"Website fetch timeout" default:"3s"`
	TTL       time.Duration `long:"ttl" env:"TTL" description:"Cache lifetime of a fetched theme" default:"10m"`
	CacheSize int           `long:"cache-size" env:"CACHE_SIZE" description:"Theme cache size in KiB" default:"512"`
}

// Listing holds community master-list import configuration.
type Listing struct {
	URL      string        `long:"url" env:"URL" description:"Master server list URL (empty disables import)" default:""`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Master list refresh interval" default:"30m"`
	Workers  int           `long:"workers" env:"WORKERS" description:"Max concurrent validations during import" default:"10"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file" default:"beacon.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
	Disabled bool          `long:"disabled" env:"DISABLED" description:"Disable country resolution entirely"`
}

// API holds the launcher-facing HTTP API configuration.
type API struct {
	Address   string `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"API listen address" default:"127.0.0.1:7231"`
	AuthToken string `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Token required for mutating endpoints (empty disables auth)"`
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	cfg.normalize()

	return &cfg
}

// normalize clamps values that would stall the engine: a worker pool needs
// at least one worker, and a non-positive outbound rate would park every
// worker in the limiter forever.
func (c *Config) normalize() {
	if c.Sync.Workers < 1 {
		c.Sync.Workers = 1
	}
	if c.Sync.Rate <= 0 {
		c.Sync.Rate = 1
	}
	if c.Listing.Workers < 1 {
		c.Listing.Workers = 1
	}
}
