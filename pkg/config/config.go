// Package config loads settings from an optional YAML file, then applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/kass/go-geo-incidents/pkg/models"
	"github.com/kass/go-geo-incidents/pkg/overlay"
	"github.com/kass/go-geo-incidents/pkg/validate"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config structure for YAML configuration
type Config struct {
	Store struct {
		Backend string `yaml:"backend" env:"BACKEND"`
		Path    string `yaml:"path" env:"PATH"`
		SQLite  struct {
			File         string        `yaml:"file" env:"FILE"`
			PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
		} `yaml:"sqlite" envPrefix:"SQLITE_"`
		Postgres struct {
			Host           string `yaml:"host" env:"HOST"`
			Port           int    `yaml:"port" env:"PORT"`
			User           string `yaml:"user" env:"USER"`
			Password       string `yaml:"password" env:"PASSWORD"`
			Database       string `yaml:"database" env:"DATABASE"`
			SSLMode        string `yaml:"sslmode" env:"SSLMODE"`
			MaxConnections int    `yaml:"max_connections" env:"MAX_CONNECTIONS"`
		} `yaml:"postgres" envPrefix:"POSTGRES_"`
	} `yaml:"store" envPrefix:"STORE_"`
	Map struct {
		Center      models.Viewport `yaml:"center"`
		CenterLng   *float64        `yaml:"-" env:"CENTER_LNG"`
		CenterLat   *float64        `yaml:"-" env:"CENTER_LAT"`
		Radius      float64         `yaml:"radius" env:"RADIUS"`
		FillColor   string          `yaml:"fill_color" env:"FILL_COLOR"`
		FillOpacity float64         `yaml:"fill_opacity" env:"FILL_OPACITY"`
	} `yaml:"map" envPrefix:"MAP_"`
}

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "INCIDENTS_"

// Default returns the built-in settings
func Default() Config {
	var cfg Config
	cfg.Store.Backend = BackendSQLite
	cfg.Store.Path = "crimes"
	cfg.Store.SQLite.File = "incidents.db"
	cfg.Store.SQLite.PollInterval = time.Second
	cfg.Store.Postgres.Host = "localhost"
	cfg.Store.Postgres.Port = 5432
	cfg.Store.Postgres.User = "postgres"
	cfg.Store.Postgres.Database = "incidents"
	cfg.Store.Postgres.SSLMode = "disable"
	cfg.Store.Postgres.MaxConnections = 10
	cfg.Map.Center = models.DefaultViewport
	cfg.Map.Radius = overlay.DefaultRadius
	cfg.Map.FillColor = overlay.DefaultStyle.FillColor
	cfg.Map.FillOpacity = overlay.DefaultStyle.FillOpacity
	return cfg
}

// Load reads path (if not empty) over the defaults, then applies
// INCIDENTS_* environment variables
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Map.CenterLng != nil {
		cfg.Map.Center.Lng = *cfg.Map.CenterLng
	}
	if cfg.Map.CenterLat != nil {
		cfg.Map.Center.Lat = *cfg.Map.CenterLat
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the store and map cannot run with
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory, BackendSQLite, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, fmt.Errorf("store path is required"))
	}
	if c.Store.Backend == BackendSQLite && strings.TrimSpace(c.Store.SQLite.File) == "" {
		errs = append(errs, fmt.Errorf("sqlite file is required"))
	}
	if err := validate.Coordinates(c.Map.Center.Lng, c.Map.Center.Lat); err != nil {
		errs = append(errs, fmt.Errorf("map center: %w", err))
	}
	if c.Map.Radius <= 0 {
		errs = append(errs, fmt.Errorf("map radius must be positive"))
	}
	return errors.Join(errs...)
}

// Persistent reports whether the backend keeps data after the process exits
func (c Config) Persistent() bool {
	return c.Store.Backend != BackendMemory
}

// PostgresDSN builds a lib/pq connection string
func (c Config) PostgresDSN() string {
	pg := c.Store.Postgres
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.User, pg.Password, pg.Database, pg.SSLMode)
}

// OverlayOptions converts the map settings
func (c Config) OverlayOptions() []overlay.Option {
	style := overlay.DefaultStyle
	style.FillColor = c.Map.FillColor
	style.FillOpacity = c.Map.FillOpacity
	return []overlay.Option{
		overlay.WithRadius(c.Map.Radius),
		overlay.WithStyle(style),
		overlay.WithViewport(c.Map.Center),
	}
}
