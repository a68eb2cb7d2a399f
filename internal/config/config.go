// Package config provides configuration loading and management for pilotsim.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = ".pilotsim/config.json"

// Collaborator backends.
const (
	BackendCanned = "canned"
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `json:"server"        mapstructure:"server"`
	Database      DatabaseConfig      `json:"database"      mapstructure:"database"`
	Collaborators CollaboratorsConfig `json:"collaborators" mapstructure:"collaborators"`
	Sessions      SessionsConfig      `json:"sessions"      mapstructure:"sessions"`
	Voice         VoiceConfig         `json:"voice"         mapstructure:"voice"`
	Retention     RetentionPolicy     `json:"retention"     mapstructure:"retention"`
	Log           LogConfig           `json:"log"           mapstructure:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// DatabaseConfig configures the session store.
type DatabaseConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// CollaboratorsConfig selects the scorer, controller and traffic backend.
type CollaboratorsConfig struct {
	Backend   string        `json:"backend"               mapstructure:"backend"`
	Model     string        `json:"model,omitempty"       mapstructure:"model"`
	BaseURL   string        `json:"base_url,omitempty"    mapstructure:"base_url"`
	APIKey    string        `json:"api_key,omitempty"     mapstructure:"api_key"`
	APIKeyEnv string        `json:"api_key_env,omitempty" mapstructure:"api_key_env"`
	Timeout   time.Duration `json:"timeout"               mapstructure:"timeout"`
}

// SessionsConfig bounds live sessions.
type SessionsConfig struct {
	MaxOpen         int           `json:"max_open"                   mapstructure:"max_open"`
	AmbientInterval time.Duration `json:"ambient_interval,omitempty" mapstructure:"ambient_interval"`
}

// VoiceConfig configures speech synthesis.
type VoiceConfig struct {
	Enabled bool   `json:"enabled"            mapstructure:"enabled"`
	Region  string `json:"region,omitempty"   mapstructure:"region"`
	VoiceID string `json:"voice_id,omitempty" mapstructure:"voice_id"`
	Engine  string `json:"engine,omitempty"   mapstructure:"engine"`
}

// RetentionPolicy defines how many recorded sessions to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// LogConfig configures the optional log file.
type LogConfig struct {
	File string `json:"file,omitempty" mapstructure:"file"`
}

// Default returns the configuration used for unset keys.
func Default() Config {
	return Config{
		Server:        ServerConfig{Addr: ":8080"},
		Database:      DatabaseConfig{Path: ".pilotsim/pilotsim.db"},
		Collaborators: CollaboratorsConfig{Backend: BackendCanned, Timeout: 20 * time.Second},
		Sessions:      SessionsConfig{MaxOpen: 256},
		Voice:         VoiceConfig{Region: "us-east-1", VoiceID: "Matthew", Engine: "neural"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("collaborators.backend", d.Collaborators.Backend)
	v.SetDefault("collaborators.model", "")
	v.SetDefault("collaborators.base_url", "")
	v.SetDefault("collaborators.api_key", "")
	v.SetDefault("collaborators.api_key_env", "")
	v.SetDefault("collaborators.timeout", d.Collaborators.Timeout.String())
	v.SetDefault("sessions.max_open", d.Sessions.MaxOpen)
	v.SetDefault("sessions.ambient_interval", "0s")
	v.SetDefault("voice.enabled", d.Voice.Enabled)
	v.SetDefault("voice.region", d.Voice.Region)
	v.SetDefault("voice.voice_id", d.Voice.VoiceID)
	v.SetDefault("voice.engine", d.Voice.Engine)
	v.SetDefault("retention.keep_last", 0)
	v.SetDefault("retention.keep_days", 0)
	v.SetDefault("log.file", "")
}

// Load reads the JSON config at path over the defaults. A missing file is
// not an error when path is the default location. The file is validated
// against the embedded schema before decoding. PILOTSIM_* environment
// variables override file values, e.g. PILOTSIM_SERVER_ADDR.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("pilotsim")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath
	}
	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("json")
	if err := file.ReadInConfig(); err != nil {
		if path != DefaultPath || !isNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if err := ValidateSettings(file.AllSettings()); err != nil {
		return Config{}, err
	}
	if err := v.MergeConfigMap(file.AllSettings()); err != nil {
		return Config{}, fmt.Errorf("merge config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Collaborators.Backend = strings.ToLower(strings.TrimSpace(cfg.Collaborators.Backend))
	switch cfg.Collaborators.Backend {
	case BackendCanned:
	case BackendOpenAI, BackendGemini:
		if cfg.Collaborators.Model == "" {
			return Config{}, fmt.Errorf("collaborators.model is required for backend %q", cfg.Collaborators.Backend)
		}
	default:
		return Config{}, fmt.Errorf("unknown collaborators.backend %q", cfg.Collaborators.Backend)
	}
	if cfg.Sessions.MaxOpen <= 0 {
		return Config{}, fmt.Errorf("sessions.max_open must be > 0")
	}
	return cfg, nil
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
