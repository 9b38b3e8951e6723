package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Store         struct {
		BaseURL        string `json:"base_url"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"store"`
	Channel struct {
		URL       string `json:"url"`
		Reconnect struct {
			MaxAttempts    int     `json:"max_attempts"`
			InitialDelayMS int     `json:"initial_delay_ms"`
			Multiplier     float64 `json:"multiplier"`
			MaxDelayMS     int     `json:"max_delay_ms"`
		} `json:"reconnect"`
	} `json:"channel"`
	Timeline struct {
		DedupeWindowMS int `json:"dedupe_window_ms"`
	} `json:"timeline"`
	Sync struct {
		FallbackReply  string `json:"fallback_reply"`
		ResyncSchedule string `json:"resync_schedule"`
	} `json:"sync"`
	Auth struct {
		BaseURL  string `json:"base_url"`
		Username string `json:"username"`
		Token    string `json:"token"`
	} `json:"auth"`
	Serve struct {
		Listen         string `json:"listen"`
		ReplyDelayMS   int    `json:"reply_delay_ms"`
		WelcomeMessage string `json:"welcome_message"`
	} `json:"serve"`
}

// envOverrides are applied after the file, so the environment always wins.
type envOverrides struct {
	StoreURL   string `env:"MIRRORCHAT_STORE_URL"`
	ChannelURL string `env:"MIRRORCHAT_CHANNEL_URL"`
	AuthURL    string `env:"MIRRORCHAT_AUTH_URL"`
	Username   string `env:"MIRRORCHAT_USERNAME"`
	Token      string `env:"MIRRORCHAT_TOKEN"`
	LogLevel   string `env:"MIRRORCHAT_LOG_LEVEL"`
	DataDir    string `env:"MIRRORCHAT_DATA_DIR"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".mirrorchat"),
		LogLevel:      "info",
		MaxConcurrent: 4,
	}
	cfg.Store.BaseURL = "http://localhost:1337"
	cfg.Channel.URL = "ws://localhost:1337/ws"
	cfg.Channel.Reconnect.MaxAttempts = 0
	cfg.Channel.Reconnect.InitialDelayMS = 1000
	cfg.Channel.Reconnect.Multiplier = 2.0
	cfg.Channel.Reconnect.MaxDelayMS = 30000
	cfg.Timeline.DedupeWindowMS = 5000
	cfg.Sync.FallbackReply = "Sorry, I have no reply right now."
	cfg.Sync.ResyncSchedule = "@every 1m"
	cfg.Auth.BaseURL = "http://localhost:1337"
	cfg.Serve.Listen = ":1337"
	cfg.Serve.WelcomeMessage = "Welcome to MirrorBot!"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads each .env file that exists. Variables already present in
// the process environment are not overwritten.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if o.StoreURL != "" {
		cfg.Store.BaseURL = o.StoreURL
	}
	if o.ChannelURL != "" {
		cfg.Channel.URL = o.ChannelURL
	}
	if o.AuthURL != "" {
		cfg.Auth.BaseURL = o.AuthURL
	}
	if o.Username != "" {
		cfg.Auth.Username = o.Username
	}
	if o.Token != "" {
		cfg.Auth.Token = o.Token
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	return nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// StoreTimeout is zero when the transport default applies.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}

func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.Timeline.DedupeWindowMS) * time.Millisecond
}

func (c *Config) ReplyDelay() time.Duration {
	return time.Duration(c.Serve.ReplyDelayMS) * time.Millisecond
}

// CredentialsPath is where a successful login is remembered.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.DataDir, "credentials.json")
}

// ToMap converts the config into a nested map via its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns the flattened config, with secrets masked when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ToMap(Default())
		}
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// GetValue reads a single dot-separated key from the config file.
func GetValue(path, key string) (any, error) {
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue updates a single dot-separated key in the config file. The raw
// string is coerced to the type of the existing value, or inferred for new keys.
func SetValue(path, key, raw string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)

	v, err := coerce(flat[key], raw)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	flat[key] = v

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	// Reject values that no longer fit the Config shape.
	var check Config
	if err := json.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return writeFile(path, append(data, '\n'))
}

func coerce(existing any, raw string) (any, error) {
	switch existing.(type) {
	case string:
		return raw, nil
	case float64:
		return strconv.ParseFloat(raw, 64)
	case bool:
		return strconv.ParseBool(raw)
	case nil:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("cannot set a non-scalar value")
	}
}
