package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all configurable tripsync settings.
type Config struct {
	APIBaseURL string `json:"api_base_url"`
	// TokenPath defaults to <config dir>/token. UserID overrides the id
	// carried by the token.
	TokenPath string `json:"token_path"`
	UserID    string `json:"user_id"`
	// StorageBackend is "file", "sqlite" or "redis".
	StorageBackend string   `json:"storage_backend"`
	StoragePath    string   `json:"storage_path"`
	RedisAddr      string   `json:"redis_addr"`
	SyncDebounce   Duration `json:"sync_debounce"`
	// ProbeURL defaults to APIBaseURL.
	ProbeURL      string   `json:"probe_url"`
	ProbeInterval Duration `json:"probe_interval"`
	DaemonAddr    string   `json:"daemon_addr"`
	LogLevel      string   `json:"log_level"`
	// Env "production" switches to JSON logs.
	Env               string   `json:"env"`
	RequestsPerSecond float64  `json:"requests_per_second"`
	DefaultActivity   string   `json:"default_activity"`
	HTTPTimeout       Duration `json:"http_timeout"`
}

// Duration accepts "3s"-style strings or a number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(v * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		APIBaseURL:        "http://localhost:8080",
		StorageBackend:    "file",
		SyncDebounce:      Duration(3 * time.Second),
		ProbeInterval:     Duration(15 * time.Second),
		DaemonAddr:        "127.0.0.1:7787",
		LogLevel:          "info",
		Env:               "development",
		RequestsPerSecond: 5,
		DefaultActivity:   "running",
		HTTPTimeout:       Duration(30 * time.Second),
	}
}

// Dir returns ~/.config/tripsync.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "tripsync"), nil
}

// DataDir returns $XDG_DATA_HOME/tripsync or ~/.local/share/tripsync.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "tripsync"), nil
}

// LoadGlobal reads ~/.config/tripsync/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return loadFile(filepath.Join(dir, "config.json"), true)
}

// LoadProject reads .tripsyncconfig in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(".tripsyncconfig", false)
}

// Load merges the global and project files.
func Load() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, err
	}
	project, err := LoadProject()
	if err != nil {
		return Config{}, err
	}
	return Merge(global, project), nil
}

// loadFile reads and parses a JSON config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	return MergeLayers(global, project)
}

// MergeLayers applies layers over the defaults in order; later layers win.
// Nil layers are skipped.
func MergeLayers(layers ...*Config) Config {
	result := Defaults()
	for _, l := range layers {
		overlay(&result, l)
	}
	return result
}

// overlay copies every set field of src onto dst.
func overlay(dst, src *Config) {
	if src == nil {
		return
	}
	str := func(d *string, v string) {
		if v != "" {
			*d = v
		}
	}
	dur := func(d *Duration, v Duration) {
		if v > 0 {
			*d = v
		}
	}
	str(&dst.APIBaseURL, src.APIBaseURL)
	str(&dst.TokenPath, src.TokenPath)
	str(&dst.UserID, src.UserID)
	str(&dst.StorageBackend, src.StorageBackend)
	str(&dst.StoragePath, src.StoragePath)
	str(&dst.RedisAddr, src.RedisAddr)
	str(&dst.ProbeURL, src.ProbeURL)
	str(&dst.DaemonAddr, src.DaemonAddr)
	str(&dst.LogLevel, src.LogLevel)
	str(&dst.Env, src.Env)
	str(&dst.DefaultActivity, src.DefaultActivity)
	dur(&dst.SyncDebounce, src.SyncDebounce)
	dur(&dst.ProbeInterval, src.ProbeInterval)
	dur(&dst.HTTPTimeout, src.HTTPTimeout)
	if src.RequestsPerSecond > 0 {
		dst.RequestsPerSecond = src.RequestsPerSecond
	}
}

// ResolvedProbeURL is the connectivity probe target.
func (c Config) ResolvedProbeURL() string {
	if c.ProbeURL != "" {
		return c.ProbeURL
	}
	return c.APIBaseURL
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
