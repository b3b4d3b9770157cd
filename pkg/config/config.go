// Package config loads the daemon configuration from
// <base>/config/sherpa.toml with SHERPA_* environment overrides.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// Config is the daemon configuration. Zero values are filled with defaults
// by Load; the TOML file and environment both override them.
type Config struct {
	// Listen is the HTTP/WebSocket bind address.
	Listen string `toml:"listen"`
	// BaseDir is the root under which config/, images/, labs/, and log/
	// live.
	BaseDir string `toml:"base_dir"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	LibvirtURI  string `toml:"libvirt_uri"`
	DockerHost  string `toml:"docker_host"`
	StoragePool string `toml:"storage_pool"`

	// ManagementPrefix is the IPv4 CIDR the per-lab /24 management
	// networks are carved from.
	ManagementPrefix string `toml:"management_prefix"`

	// JWTSecret signs session tokens. Generated and persisted on first
	// start when absent.
	JWTSecret string `toml:"jwt_secret"`

	// ReadinessTimeout bounds the management-settlement phase; the poll
	// backoff is ReadinessSleep.
	ReadinessTimeout util.Duration `toml:"readiness_timeout"`
	ReadinessSleep   util.Duration `toml:"readiness_sleep"`

	// UDPPortBase is the first port used for p2p_udp tunnel endpoints.
	UDPPortBase int `toml:"udp_port_base"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default returns the built-in configuration rooted at base.
func Default(base string) *Config {
	return &Config{
		Listen:           ":8419",
		BaseDir:          base,
		RedisAddr:        "127.0.0.1:6379",
		RedisDB:          0,
		LibvirtURI:       "qemu:///system",
		DockerHost:       "unix:///var/run/docker.sock",
		StoragePool:      "sherpa",
		ManagementPrefix: "172.20.0.0/16",
		ReadinessTimeout: util.Duration(5 * time.Minute),
		ReadinessSleep:   util.Duration(5 * time.Second),
		UDPPortBase:      20000,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// DefaultBaseDir returns the base directory, honoring SHERPA_BASE_DIR.
func DefaultBaseDir() string {
	if dir := os.Getenv("SHERPA_BASE_DIR"); dir != "" {
		return dir
	}
	return "/var/lib/sherpa"
}

// Path returns the canonical config file location under base.
func Path(base string) string {
	return filepath.Join(base, "config", "sherpa.toml")
}

// Load reads the config file under base (if present), applies environment
// overrides, and persists a generated JWT secret when none is configured.
func Load(base string) (*Config, error) {
	cfg := Default(base)

	path := Path(base)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	cfg.BaseDir = base

	applyEnv(cfg)

	if !util.IsValidIPv4CIDR(cfg.ManagementPrefix) {
		return nil, fmt.Errorf("management_prefix %q is not an IPv4 CIDR: %w",
			cfg.ManagementPrefix, util.ErrValidationFailed)
	}

	if cfg.JWTSecret == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, err
		}
		cfg.JWTSecret = secret
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("persist generated jwt secret: %w", err)
		}
		util.Infof("config: generated new JWT secret, saved to %s", path)
	}

	return cfg, nil
}

// Save writes the config back to its canonical location with tight
// permissions; the file carries the JWT secret.
func (c *Config) Save() error {
	path := Path(c.BaseDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

func applyEnv(cfg *Config) {
	setStr := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setStr("SHERPA_LISTEN", &cfg.Listen)
	setStr("SHERPA_REDIS_ADDR", &cfg.RedisAddr)
	setStr("SHERPA_REDIS_PASSWORD", &cfg.RedisPassword)
	setStr("SHERPA_LIBVIRT_URI", &cfg.LibvirtURI)
	setStr("SHERPA_DOCKER_HOST", &cfg.DockerHost)
	setStr("SHERPA_STORAGE_POOL", &cfg.StoragePool)
	setStr("SHERPA_MANAGEMENT_PREFIX", &cfg.ManagementPrefix)
	setStr("SHERPA_JWT_SECRET", &cfg.JWTSecret)
	setStr("SHERPA_LOG", &cfg.LogLevel)
	setStr("SHERPA_LOG_FORMAT", &cfg.LogFormat)

	if v := os.Getenv("SHERPA_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = n
		}
	}
	if v := os.Getenv("SHERPA_UDP_PORT_BASE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UDPPortBase = n
		}
	}
	if v := os.Getenv("SHERPA_READINESS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReadinessTimeout = util.Duration(d)
		}
	}
	if v := os.Getenv("SHERPA_READINESS_SLEEP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ReadinessSleep = util.Duration(d)
		}
	}
}

// Directory helpers. Everything sherpa writes lives under BaseDir.

// ImagesDir returns <base>/images.
func (c *Config) ImagesDir() string { return filepath.Join(c.BaseDir, "images") }

// LabsDir returns <base>/labs.
func (c *Config) LabsDir() string { return filepath.Join(c.BaseDir, "labs") }

// LabDir returns the working directory of one lab.
func (c *Config) LabDir(labID string) string { return filepath.Join(c.LabsDir(), labID) }

// LogDir returns <base>/log.
func (c *Config) LogDir() string { return filepath.Join(c.BaseDir, "log") }

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
