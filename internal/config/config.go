package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/isdelr/tts-broker-be/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. TTSB_SERVER_PORT.
const EnvPrefix = "TTSB"

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Credits   CreditsConfig   `mapstructure:"credits"`
	Voices    []Voice         `mapstructure:"voices"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// EngineConfig points at the external speech synthesis service.
type EngineConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type JobsConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// ArtifactsConfig controls where generated audio lives and how long it is kept.
type ArtifactsConfig struct {
	Dir           string        `mapstructure:"dir"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	MinFreeBytes  uint64        `mapstructure:"min_free_bytes"`
}

// CreditsConfig is the promotional and refill policy.
type CreditsConfig struct {
	Initial      int          `mapstructure:"initial"`
	DailyDefault int          `mapstructure:"daily_default"`
	InstantBonus int          `mapstructure:"instant_bonus"`
	SpecialKeys  []SpecialKey `mapstructure:"special_keys"`
}

// SpecialKey is a one-time promo code and the daily refill it unlocks.
type SpecialKey struct {
	Code  string `mapstructure:"code"`
	Daily int    `mapstructure:"daily"`
}

// Voice maps a human label to the engine's voice code.
type Voice struct {
	Label string `mapstructure:"label"`
	Code  string `mapstructure:"code"`
}

// DefaultVoices is the catalog used when no voices are configured.
var DefaultVoices = []Voice{
	{Label: "Natasha (AU)", Code: "en-AU-NatashaNeural"},
	{Label: "William (AU)", Code: "en-AU-WilliamNeural"},
	{Label: "Clara (CA)", Code: "en-CA-ClaraNeural"},
	{Label: "Liam (CA)", Code: "en-CA-LiamNeural"},
	{Label: "Libby (UK)", Code: "en-GB-LibbyNeural"},
	{Label: "Maisie (UK)", Code: "en-GB-MaisieNeural"},
	{Label: "Jenny (US)", Code: "en-US-JennyNeural"},
	{Label: "Guy (US)", Code: "en-US-GuyNeural"},
	{Label: "Aria (US)", Code: "en-US-AriaNeural"},
	{Label: "Davis (US)", Code: "en-US-DavisNeural"},
}

// DefaultSpecialKeys are the promo codes shipped with the service.
var DefaultSpecialKeys = []SpecialKey{
	{Code: "SPONSOR100", Daily: 30},
	{Code: "YTBOOST20", Daily: 20},
}

// Load reads configuration from defaults, an optional TOML file and TTSB_* environment variables.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Voices) == 0 {
		cfg.Voices = append([]Voice(nil), DefaultVoices...)
	}
	if cfg.Credits.SpecialKeys == nil {
		cfg.Credits.SpecialKeys = append([]SpecialKey(nil), DefaultSpecialKeys...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("database.path", "./ttsapp.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.secure_cookie", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("engine.base_url", "http://127.0.0.1:5002")
	v.SetDefault("engine.timeout", 60*time.Second)
	v.SetDefault("jobs.max_concurrent", 4)
	v.SetDefault("artifacts.dir", "./generated_audio")
	v.SetDefault("artifacts.retention", time.Hour)
	v.SetDefault("artifacts.sweep_schedule", "@every 10m")
	v.SetDefault("artifacts.min_free_bytes", 64<<20)
	v.SetDefault("credits.initial", 5)
	v.SetDefault("credits.daily_default", 5)
	v.SetDefault("credits.instant_bonus", 10)
}

// Validate checks the invariants the services rely on.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Engine.Timeout <= 0 {
		errs = append(errs, errors.New("engine.timeout must be positive"))
	}
	if c.Jobs.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("jobs.max_concurrent must be positive"))
	}
	if c.Artifacts.Dir == "" {
		errs = append(errs, errors.New("artifacts.dir is required"))
	}
	if c.Artifacts.Retention <= 0 {
		errs = append(errs, errors.New("artifacts.retention must be positive"))
	}
	if _, err := cron.ParseStandard(c.Artifacts.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("artifacts.sweep_schedule: %w", err))
	}
	if c.Credits.Initial < 0 || c.Credits.DailyDefault < 0 || c.Credits.InstantBonus < 0 {
		errs = append(errs, errors.New("credit amounts must not be negative"))
	}
	seenKeys := make(map[string]bool)
	for _, k := range c.Credits.SpecialKeys {
		if k.Code == "" || k.Daily < 0 {
			errs = append(errs, fmt.Errorf("invalid special key %q", k.Code))
		}
		if seenKeys[k.Code] {
			errs = append(errs, fmt.Errorf("duplicate special key %q", k.Code))
		}
		seenKeys[k.Code] = true
	}
	if len(c.Voices) == 0 {
		errs = append(errs, errors.New("voice catalog is empty"))
	}
	seenVoices := make(map[string]bool)
	for _, v := range c.Voices {
		if v.Label == "" || v.Code == "" {
			errs = append(errs, fmt.Errorf("voice entry needs label and code: %+v", v))
		}
		if seenVoices[v.Label] {
			errs = append(errs, fmt.Errorf("duplicate voice label %q", v.Label))
		}
		seenVoices[v.Label] = true
	}
	return errors.Join(errs...)
}

// SpecialKeyBonuses returns the code -> daily refill table.
func (c *Config) SpecialKeyBonuses() map[string]int {
	out := make(map[string]int, len(c.Credits.SpecialKeys))
	for _, k := range c.Credits.SpecialKeys {
		out[k.Code] = k.Daily
	}
	return out
}

// CatalogVoices returns the voice catalog in configured order.
func (c *Config) CatalogVoices() []models.Voice {
	voices := make([]models.Voice, 0, len(c.Voices))
	for _, v := range c.Voices {
		voices = append(voices, models.Voice{Label: v.Label, Code: v.Code})
	}
	return voices
}
