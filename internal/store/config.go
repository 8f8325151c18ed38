package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"bos-cli/internal/position"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Config is the user config file ($BOS_CONFIG_DIR/config.jsonc). Comments and trailing commas
// are accepted on read.
type Config struct {
	Positioning position.Config `json:"positioning"`

	// Database is the SQLite path. Empty means <config dir>/bos.sqlite.
	Database string `json:"database,omitempty"`
	// RedisURL enables the Redis change feed (redis://host:port/db).
	RedisURL string `json:"redisUrl,omitempty"`
	// Format is the default output format (json, edn, yaml, text).
	Format string `json:"format,omitempty"`
	// Offline starts the CLI in offline mode: new tasks take provisional positions.
	Offline bool `json:"offline,omitempty"`
	// Origin is this machine's replica id, used to drop our own echoes from the feed.
	Origin string `json:"origin,omitempty"`
}

func ConfigDir() (string, error) {
	// Test/advanced override (keeps unit tests from touching ~/.bos).
	if v := strings.TrimSpace(os.Getenv("BOS_CONFIG_DIR")); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".bos"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.jsonc"), nil
}

func DefaultDatabasePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bos.sqlite"), nil
}

// LoadConfig reads the config file. A missing file yields an empty Config.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}
	cfg, err := ParseConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func ParseConfig(b []byte) (*Config, error) {
	var cfg Config
	if len(bytes.TrimSpace(b)) == 0 {
		return &cfg, nil
	}
	std, err := hujson.Standardize(b)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC: %w", err)
	}
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := cfg.Positioning.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes cfg as plain indented JSON; comments in the previous file are not kept.
// The previous file is copied to config.jsonc.bak first.
func SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if prev, err := os.ReadFile(path); err == nil && len(prev) > 0 {
		_ = atomic.WriteFile(path+".bak", bytes.NewReader(prev))
	}
	if err := atomic.WriteFile(path, bytes.NewReader(b)); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// WithEnv overlays BOS_DB, BOS_REDIS_URL, BOS_FORMAT and BOS_OFFLINE.
func (c Config) WithEnv(getenv func(string) string) Config {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv("BOS_DB")); v != "" {
		c.Database = v
	}
	if v := strings.TrimSpace(getenv("BOS_REDIS_URL")); v != "" {
		c.RedisURL = v
	}
	if v := strings.TrimSpace(getenv("BOS_FORMAT")); v != "" {
		c.Format = v
	}
	if v := strings.TrimSpace(getenv("BOS_OFFLINE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Offline = b
		}
	}
	return c
}

// ConfigKeys lists the keys accepted by Set.
func ConfigKeys() []string {
	keys := make([]string, 0, len(configSetters))
	for k := range configSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var configSetters = map[string]func(c *Config, v string) error{
	"database": func(c *Config, v string) error { c.Database = v; return nil },
	"redisUrl": func(c *Config, v string) error { c.RedisURL = v; return nil },
	"format":   func(c *Config, v string) error { c.Format = v; return nil },
	"origin":   func(c *Config, v string) error { c.Origin = v; return nil },
	"offline": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.Offline = b
		return err
	},
	"positioning.defaultSpacing": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		c.Positioning.DefaultSpacing = f
		return err
	},
	"positioning.initialPosition": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		c.Positioning.InitialPosition = f
		return err
	},
	"positioning.randomRangePercent": func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		c.Positioning.RandomRangePercent = f
		return err
	},
	"positioning.disableRandomization": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.Positioning.DisableRandomization = b
		return err
	},
	"positioning.allowManualPositioning": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.Positioning.AllowManualPositioning = b
		return err
	},
	"positioning.positionField": func(c *Config, v string) error { c.Positioning.PositionField = v; return nil },
	"positioning.scopeFields": func(c *Config, v string) error {
		c.Positioning.ScopeFields = nil
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				c.Positioning.ScopeFields = append(c.Positioning.ScopeFields, f)
			}
		}
		return nil
	},
}

// Set assigns one dotted key (see ConfigKeys) from its string form.
func (c *Config) Set(key, value string) error {
	set, ok := configSetters[strings.TrimSpace(key)]
	if !ok {
		return fmt.Errorf("unknown config key %q (want one of: %s)", key, strings.Join(ConfigKeys(), ", "))
	}
	next := *c
	if err := set(&next, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := next.Positioning.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}
