package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Serial identifies one tracked show.
type Serial struct {
	Name      string `toml:"name"`
	ID        string `toml:"id"`
	Thumbnail string `toml:"thumbnail"`
}

// Scraper contains configuration for the episode listing scraper.
type Scraper struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Renderer contains configuration for review video rendering.
type Renderer struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	RenderTimeout int    `toml:"render_timeout"`
}

// YouTube contains configuration for the publishing API.
type YouTube struct {
	TokenURL      string `toml:"token_url"`
	UploadURL     string `toml:"upload_url"`
	ClientID      string `toml:"client_id"`
	ClientSecret  string `toml:"client_secret"`
	UploadTimeout int    `toml:"upload_timeout"`
	PrivacyStatus string `toml:"privacy_status"`
}

// Pipeline contains the retry and concurrency policy for episode processing.
type Pipeline struct {
	MaxAttempts              int `toml:"max_attempts"`
	BackoffBaseSeconds       int `toml:"backoff_base_seconds"`
	BackoffCapSeconds        int `toml:"backoff_cap_seconds"`
	QuotaCooldownSeconds     int `toml:"quota_cooldown_seconds"`
	WorkerCount              int `toml:"worker_count"`
	TokenSafetyMarginSeconds int `toml:"token_safety_margin_seconds"`
}

// Scheduler contains timing for the per-serial loop and retention sweeps.
type Scheduler struct {
	SerialIntervalSeconds int `toml:"serial_interval_seconds"`
	SweepIntervalSeconds  int `toml:"sweep_interval_seconds"`
	RetentionDays         int `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for serialreel.
type Config struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`

	Serials       []Serial      `toml:"serial"`
	Scraper       Scraper       `toml:"scraper"`
	Renderer      Renderer      `toml:"renderer"`
	YouTube       YouTube       `toml:"youtube"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Scheduler     Scheduler     `toml:"scheduler"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/serialreel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a file existed at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("serialreel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.DataDir, err = expandPath(c.DataDir); err != nil {
		return err
	}
	if c.LogDir, err = expandPath(c.LogDir); err != nil {
		return err
	}
	for i := range c.Serials {
		c.Serials[i].Name = strings.TrimSpace(c.Serials[i].Name)
		c.Serials[i].ID = strings.TrimSpace(c.Serials[i].ID)
		thumb := strings.TrimSpace(c.Serials[i].Thumbnail)
		if thumb != "" {
			if thumb, err = expandPath(thumb); err != nil {
				return err
			}
		}
		c.Serials[i].Thumbnail = thumb
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.VideoDir(), c.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// VideoDir returns the directory holding rendered video artifacts.
func (c *Config) VideoDir() string {
	return filepath.Join(c.DataDir, "video")
}

// DatabasePath returns the catalog database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "catalog.db")
}

// CredentialsPath returns the persisted credential state location.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.DataDir, "credentials.json")
}

// SerialByID looks up a configured serial by its external id.
func (c *Config) SerialByID(id string) (Serial, bool) {
	for _, serial := range c.Serials {
		if serial.ID == id {
			return serial, true
		}
	}
	return Serial{}, false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
