package bypass

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// DefaultCheckInterval is the update polling period in seconds.
const DefaultCheckInterval = 10

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "BYPASS_CONFIG"

// Config holds all configuration options.
type Config struct {
	MountPoint    string          `json:"mount_point"`
	Module        string          `json:"module,omitempty"`         // initial module image
	ModuleVersion string          `json:"module_version,omitempty"` // version of the initial image
	Package       string          `json:"package,omitempty"`        // package path of object modules
	CheckInterval int             `json:"check_interval"`           // seconds between update checks
	LogLevel      string          `json:"log_level,omitempty"`
	LogFormat     string          `json:"log_format,omitempty"` // text or json
	Client        json.RawMessage `json:"client,omitempty"`     // opaque payload handed to module start
	Repo          RepoConfig      `json:"repo"`

	// Source is the file the config was read from, empty for defaults.
	Source string `json:"-"`
}

// RepoConfig locates the repository polled for newer modules.
type RepoConfig struct {
	Kind      string `json:"kind,omitempty"` // dir, minio or s3; empty disables polling
	Name      string `json:"name,omitempty"` // artifact name prefix
	Dir       string `json:"dir,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty"`
	CacheDir  string `json:"cache_dir,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Package:       "main",
		CheckInterval: DefaultCheckInterval,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Interval is the update polling period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.CheckInterval) * time.Second
}

// ParseConfig decodes a JSON-with-comments document over the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	std, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if err = json.Unmarshal(std, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if err = cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Source = path
	return cfg, nil
}

// LoadConfigFromEnv loads the file named by BYPASS_CONFIG, or the defaults when unset.
func LoadConfigFromEnv() (Config, error) {
	p := os.Getenv(EnvConfig)
	if p == "" {
		return DefaultConfig(), nil
	}
	return LoadConfig(p)
}

func (c Config) validate() error {
	var errs []error
	if c.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("check_interval must be positive, got %d", c.CheckInterval))
	}
	if c.MountPoint != "" && !filepath.IsAbs(c.MountPoint) {
		errs = append(errs, fmt.Errorf("mount_point must be absolute, got %q", c.MountPoint))
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	switch c.Repo.Kind {
	case "":
	case "dir":
		if c.Repo.Dir == "" {
			errs = append(errs, errors.New("repo.dir is required for kind dir"))
		}
	case "minio", "s3":
		if c.Repo.Bucket == "" {
			errs = append(errs, fmt.Errorf("repo.bucket is required for kind %s", c.Repo.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown repo.kind %q", c.Repo.Kind))
	}
	return errors.Join(errs...)
}
