package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so intervals read naturally in YAML ("30s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config models eventreservoir.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Kiosk struct {
		ServerURL      string   `yaml:"server_url"`
		PullInterval   Duration `yaml:"pull_interval"`
		PushInterval   Duration `yaml:"push_interval"`
		BackupInterval Duration `yaml:"backup_interval"`
		ProbeTimeout   Duration `yaml:"probe_timeout"`
		OnlineDebounce Duration `yaml:"online_debounce"`
		// QueueCheckin queues check-in scans offline like distributions.
		// Off by default: check-in stations are assumed to sit at the
		// entrance with wired connectivity.
		QueueCheckin bool `yaml:"queue_checkin"`
		Backup       struct {
			Dir  string `yaml:"dir"`
			Keep int    `yaml:"keep"`
		} `yaml:"backup"`
	} `yaml:"kiosk"`
	Mailer struct {
		Interval    Duration `yaml:"interval"`
		MaxAttempts int      `yaml:"max_attempts"`
	} `yaml:"mailer"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`
}

// Default returns the config used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":5000"
	cfg.Server.BasePath = "/api"
	cfg.Kiosk.ServerURL = "http://localhost:5000/api"
	cfg.Kiosk.PullInterval = Duration(5 * time.Minute)
	cfg.Kiosk.PushInterval = Duration(30 * time.Second)
	cfg.Kiosk.BackupInterval = Duration(10 * time.Minute)
	cfg.Kiosk.ProbeTimeout = Duration(2 * time.Second)
	cfg.Kiosk.OnlineDebounce = Duration(2 * time.Second)
	cfg.Kiosk.Backup.Keep = 10
	cfg.Mailer.Interval = Duration(15 * time.Second)
	cfg.Mailer.MaxAttempts = 5
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return &cfg
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Unset fields
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Kiosk.ServerURL == "" {
		return fmt.Errorf("config.kiosk.server_url is required")
	}
	if c.Kiosk.PullInterval <= 0 || c.Kiosk.PushInterval <= 0 || c.Kiosk.BackupInterval <= 0 {
		return fmt.Errorf("config.kiosk intervals must be positive")
	}
	if c.Kiosk.ProbeTimeout <= 0 {
		return fmt.Errorf("config.kiosk.probe_timeout must be positive")
	}
	if c.Kiosk.Backup.Keep <= 0 {
		return fmt.Errorf("config.kiosk.backup.keep must be positive")
	}
	if c.Mailer.MaxAttempts <= 0 {
		return fmt.Errorf("config.mailer.max_attempts must be positive")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config.log.format must be console or json")
	}
	return nil
}

// BackupDir resolves the backup directory for a workspace.
func (c *Config) BackupDir(workspace string) string {
	if c.Kiosk.Backup.Dir != "" {
		return c.Kiosk.Backup.Dir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".eventreservoir", "backups")
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "eventreservoir.yml")
}
