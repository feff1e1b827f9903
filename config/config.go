package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"agrocast/forecast"
	"agrocast/params"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AGROCAST_API_BASE.
const EnvPrefix = "agrocast"

type Config struct {
	APIBase    string   `mapstructure:"api_base"`
	Route      string   `mapstructure:"route" validate:"required,startswith=/"`
	TimeoutSec int      `mapstructure:"timeout_seconds" validate:"gte=0"`
	Policy     string   `mapstructure:"policy"`
	History    History  `mapstructure:"history"`
	Breaker    Breaker  `mapstructure:"breaker"`
	Log        Log      `mapstructure:"log"`
	Defaults   Defaults `mapstructure:"defaults"`
}

// History selects the climatology window sent with each request.
type History struct {
	Strategy string `mapstructure:"strategy"`
	Years    int    `mapstructure:"years" validate:"gte=0"`
}

type Breaker struct {
	Enabled     bool   `mapstructure:"enabled"`
	MaxFailures uint32 `mapstructure:"max_failures" validate:"required_if=Enabled true"`
	CooldownSec int    `mapstructure:"cooldown_seconds" validate:"gte=0"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	File   string `mapstructure:"file"`
}

// Defaults prefill the form.
type Defaults struct {
	Lat           float64 `mapstructure:"lat"`
	Lon           float64 `mapstructure:"lon"`
	Kc            float64 `mapstructure:"kc"`
	SoilBufferMM  float64 `mapstructure:"soil_buffer_mm"`
	EffRainFactor float64 `mapstructure:"eff_rain_factor"`
	LeadDays      int     `mapstructure:"lead_days"`
}

// Path returns the config file location. AGROCAST_CONFIG overrides the
// default of ~/.config/agrocast/config.yaml.
func Path() (string, error) {
	if p := os.Getenv("AGROCAST_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agrocast", "config.yaml"), nil
}

func ConfigExists() bool {
	p, err := Path()
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Load reads the config file at Path, if any, then the environment.
func Load() (*Config, error) {
	p, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(p)
}

// LoadFrom is Load with an explicit file. A missing file is not an error;
// defaults and the environment still apply.
func LoadFrom(path string) (*Config, error) {
	// A .env file in the working directory is optional.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("api_base", "AGROCAST_API_BASE", "API_BASE")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.APIBase = strings.TrimSpace(cfg.APIBase)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_base", "")
	v.SetDefault("route", "/api/forecast-advice")
	v.SetDefault("timeout_seconds", 0)
	v.SetDefault("policy", "supersede")
	v.SetDefault("history.strategy", string(params.HistoryFixed))
	v.SetDefault("history.years", params.DefaultHistoryYears)
	v.SetDefault("breaker.enabled", false)
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.cooldown_seconds", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("defaults.lat", params.DefaultLat)
	v.SetDefault("defaults.lon", params.DefaultLon)
	v.SetDefault("defaults.kc", params.DefaultKc)
	v.SetDefault("defaults.soil_buffer_mm", params.DefaultSoilBufferMM)
	v.SetDefault("defaults.eff_rain_factor", params.DefaultEffRainFactor)
	v.SetDefault("defaults.lead_days", params.DefaultLeadDays)
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.As(err, &nf) || errors.Is(err, os.ErrNotExist)
}

// Validate checks field values. Strategy and policy names go through the
// same parsers the client uses, so every accepted alias loads.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := params.ParseHistoryStrategy(c.History.Strategy); err != nil {
		return fmt.Errorf("invalid config: history.strategy: %w", err)
	}
	if _, err := forecast.ParsePolicy(c.Policy); err != nil {
		return fmt.Errorf("invalid config: policy: %w", err)
	}
	return nil
}

// Timeout is zero when requests are unbounded.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.Breaker.CooldownSec) * time.Second
}

// DefaultParams builds the initial form values.
func (c *Config) DefaultParams(now time.Time) params.Set {
	lead := c.Defaults.LeadDays
	if lead <= 0 {
		lead = params.DefaultLeadDays
	}
	return params.Set{
		Lat:           c.Defaults.Lat,
		Lon:           c.Defaults.Lon,
		TargetDate:    now.AddDate(0, 0, lead).Format(params.DateLayout),
		Kc:            c.Defaults.Kc,
		SoilBufferMM:  c.Defaults.SoilBufferMM,
		EffRainFactor: c.Defaults.EffRainFactor,
	}
}

// Save writes cfg to path, creating the directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.Set("api_base", cfg.APIBase)
	v.Set("route", cfg.Route)
	v.Set("timeout_seconds", cfg.TimeoutSec)
	v.Set("policy", cfg.Policy)
	v.Set("history", map[string]interface{}{
		"strategy": cfg.History.Strategy,
		"years":    cfg.History.Years,
	})
	v.Set("breaker", map[string]interface{}{
		"enabled":          cfg.Breaker.Enabled,
		"max_failures":     cfg.Breaker.MaxFailures,
		"cooldown_seconds": cfg.Breaker.CooldownSec,
	})
	v.Set("log", map[string]interface{}{
		"level":  cfg.Log.Level,
		"format": cfg.Log.Format,
		"file":   cfg.Log.File,
	})
	v.Set("defaults", map[string]interface{}{
		"lat":             cfg.Defaults.Lat,
		"lon":             cfg.Defaults.Lon,
		"kc":              cfg.Defaults.Kc,
		"soil_buffer_mm":  cfg.Defaults.SoilBufferMM,
		"eff_rain_factor": cfg.Defaults.EffRainFactor,
		"lead_days":       cfg.Defaults.LeadDays,
	})

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
