// Package config loads and validates doggo configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	collyfetcher "github.com/doggo-watch/doggo/internal/fetcher/colly"
	iduuid "github.com/doggo-watch/doggo/internal/id/uuid"
	"github.com/doggo-watch/doggo/internal/watchdog"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig  `mapstructure:"logging"`
	Store     StoreConfig    `mapstructure:"store"`
	Schedule  ScheduleConfig `mapstructure:"schedule"`
	Fetch     FetchConfig    `mapstructure:"fetch"`
	Mail      MailConfig     `mapstructure:"mail"`
	Server    ServerConfig   `mapstructure:"server"`
	Watchdogs []SeedConfig   `mapstructure:"watchdogs"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StoreConfig locates the state file.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// ScheduleConfig drives the scheduler loop.
type ScheduleConfig struct {
	DefaultInterval time.Duration `mapstructure:"default_interval"`
	MinSleep        time.Duration `mapstructure:"min_sleep"`
}

// FetchConfig configures the listing fetcher.
type FetchConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	HostRPS       float64       `mapstructure:"host_rps"`
	HostBurst     int           `mapstructure:"host_burst"`
	AdSelector    string        `mapstructure:"ad_selector"`
	TitleSelector string        `mapstructure:"title_selector"`
	IDPattern     string        `mapstructure:"id_pattern"`
}

// MailConfig describes the sender identity and delivery.
type MailConfig struct {
	FromDomain   string        `mapstructure:"from_domain"`
	FromLocal    string        `mapstructure:"from_local"`
	Subject      string        `mapstructure:"subject"`
	Port         int           `mapstructure:"port"`
	Helo         string        `mapstructure:"helo"`
	Timeout      time.Duration `mapstructure:"timeout"`
	DKIMSelector string        `mapstructure:"dkim_selector"`
	DKIMKeyPath  string        `mapstructure:"dkim_key_path"`
}

// ServerConfig controls the health and metrics HTTP server.
type ServerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Port       int           `mapstructure:"port"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// SeedConfig declares a watchdog that is inserted on startup unless a
// watchdog with the same id is already stored.
type SeedConfig struct {
	ID         string        `mapstructure:"id"`
	Name       string        `mapstructure:"name"`
	OwnerEmail string        `mapstructure:"owner_email"`
	SearchURL  string        `mapstructure:"search_url"`
	Interval   time.Duration `mapstructure:"interval"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOGGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := v.BindEnv("store.path", "DOGGO_STORE_PATH", "KENNEL_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind store path env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Mail.Helo == "" {
		cfg.Mail.Helo = cfg.Mail.FromDomain
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("store.path", "data/kennel.json")
	v.SetDefault("schedule.default_interval", time.Hour)
	v.SetDefault("schedule.min_sleep", time.Second)
	v.SetDefault("fetch.user_agent", "doggo/0.1 (+https://github.com/doggo-watch/doggo)")
	v.SetDefault("fetch.timeout", 20*time.Second)
	v.SetDefault("fetch.host_rps", 0.2)
	v.SetDefault("fetch.host_burst", 1)
	v.SetDefault("fetch.ad_selector", collyfetcher.DefaultAdSelector)
	v.SetDefault("fetch.title_selector", collyfetcher.DefaultTitleSelector)
	v.SetDefault("fetch.id_pattern", collyfetcher.DefaultIDPattern)
	v.SetDefault("mail.from_domain", "doggo.jentak.co")
	v.SetDefault("mail.from_local", "doggo")
	v.SetDefault("mail.subject", "Vyčmuchal jsem nové inzeráty!")
	v.SetDefault("mail.port", 25)
	v.SetDefault("mail.helo", "")
	v.SetDefault("mail.timeout", 30*time.Second)
	v.SetDefault("mail.dkim_selector", "doggo")
	v.SetDefault("mail.dkim_key_path", "dkim_private.pem")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.stale_after", time.Duration(0))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Store.Path == "" {
		return errors.New("store.path must be set")
	}
	if c.Schedule.DefaultInterval <= 0 {
		return errors.New("schedule.default_interval must be > 0")
	}
	if c.Schedule.MinSleep <= 0 {
		return errors.New("schedule.min_sleep must be > 0")
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be > 0")
	}
	if c.Fetch.HostRPS < 0 {
		return errors.New("fetch.host_rps must be >= 0")
	}
	if c.Mail.FromDomain == "" {
		return errors.New("mail.from_domain must be set")
	}
	if c.Mail.Port <= 0 || c.Mail.Port > 65535 {
		return errors.New("mail.port must be between 1 and 65535")
	}
	if c.Mail.DKIMSelector == "" {
		return errors.New("mail.dkim_selector must be set")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return errors.New("server.port must be between 1 and 65535 when the server is enabled")
	}
	if c.Server.StaleAfter < 0 {
		return errors.New("server.stale_after must be >= 0")
	}
	seen := make(map[string]struct{}, len(c.Watchdogs))
	for i, seed := range c.Watchdogs {
		if _, err := c.buildSeed(seed); err != nil {
			return fmt.Errorf("watchdogs[%d]: %w", i, err)
		}
		key := strings.ToLower(seed.ID)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("watchdogs[%d]: id %s must be unique", i, seed.ID)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Seeds converts the configured watchdog declarations, falling back to
// schedule.default_interval when a seed has no interval.
func (c Config) Seeds() ([]*watchdog.Watchdog, error) {
	out := make([]*watchdog.Watchdog, 0, len(c.Watchdogs))
	for i, seed := range c.Watchdogs {
		w, err := c.buildSeed(seed)
		if err != nil {
			return nil, fmt.Errorf("watchdogs[%d]: %w", i, err)
		}
		out = append(out, w)
	}
	return out, nil
}

func (c Config) buildSeed(seed SeedConfig) (*watchdog.Watchdog, error) {
	id, err := iduuid.Parse(seed.ID)
	if err != nil {
		return nil, fmt.Errorf("id must be a UUID: %w", err)
	}
	interval := seed.Interval
	if interval == 0 {
		interval = c.Schedule.DefaultInterval
	}
	w, err := watchdog.New(watchdog.Params{
		ID:         id,
		Name:       seed.Name,
		OwnerEmail: seed.OwnerEmail,
		SearchURL:  seed.SearchURL,
		Interval:   interval,
	})
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", seed.ID, err)
	}
	return w, nil
}
