package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production"`

	Server struct {
		Addr            string        `yaml:"addr" default:":8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Postgres struct {
		DSN           string        `yaml:"dsn" validate:"required"`
		BatchSize     int           `yaml:"batch_size" default:"100" validate:"gte=1"`
		FlushTimeout  time.Duration `yaml:"flush_timeout" default:"200ms"`
		MigrationsDir string        `yaml:"migrations_dir" default:"migrations"`
	} `yaml:"postgres"`

	NATS struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		URL     string `yaml:"url" default:"nats://127.0.0.1:4222"`
	} `yaml:"nats"`

	// Policy holds the timing constants of the settlement protocol. The
	// source values (1h windows, 10% creation grace) are deliberate risk
	// trade-offs, not inherent laws, so they are tunable per deployment.
	Policy struct {
		MinResolveGap        int64 `yaml:"min_resolve_gap" default:"3600" validate:"gt=0"`
		CreationGraceDivisor int64 `yaml:"creation_grace_divisor" default:"10" validate:"gt=0"`
		SetWindow            int64 `yaml:"set_window" default:"3600" validate:"gt=0"`
		ChallengeWindow      int64 `yaml:"challenge_window" default:"3600" validate:"gt=0"`
	} `yaml:"policy"`

	Engine struct {
		Treasury        string   `yaml:"treasury" validate:"required,uuid4"`
		ProtocolFeeRate uint64   `yaml:"protocol_fee_rate" default:"500000000000000000"` // Wad-scaled share of the total fee
		BondAmount      uint64   `yaml:"bond_amount" default:"100" validate:"gt=0"`
		AllowedAssets   []string `yaml:"allowed_assets"`
		CreatorQuota    int      `yaml:"creator_quota" default:"16" validate:"gte=1"`
		PersistBuffer   int      `yaml:"persist_buffer" default:"1024" validate:"gte=1"`
		PublishBuffer   int      `yaml:"publish_buffer" default:"1024" validate:"gte=1"`
	} `yaml:"engine"`
}

// Load reads a YAML configuration file, fills defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides selected fields from
// the environment. Secrets and per-host endpoints belong in the
// environment, not in the checked-in file.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FORECAST_POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("FORECAST_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("FORECAST_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FORECAST_ALLOWED_ASSETS"); v != "" {
		c.Engine.AllowedAssets = strings.Split(v, ",")
	}
	return c, nil
}
