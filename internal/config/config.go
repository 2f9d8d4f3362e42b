// Package config builds the immutable configuration snapshot shared by every
// component. Precedence: command line > config file > MYMPD_* environment >
// MPD_HOST/MPD_PORT > defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultWorkdir  = "/var/lib/mympd"
	defaultHTTPHost = "0.0.0.0"
	defaultHTTPPort = 80
	defaultMPDHost  = "localhost"
	defaultMPDPort  = 6600
	defaultLogLevel = 5
	defaultACL      = "+127.0.0.0/8,+::1/128"

	// StateDBName is the state database file inside the workdir. Its absence
	// marks the first startup.
	StateDBName = "state.db"
)

// Config is the process wide configuration. It is read-only after Load.
type Config struct {
	Workdir  string            `mapstructure:"workdir"`
	HTTPHost string            `mapstructure:"http_host"`
	HTTPPort int               `mapstructure:"http_port"`
	ACL      string            `mapstructure:"acl"`
	Log      LogConfig         `mapstructure:"log"`
	Worker   WorkerConfig      `mapstructure:"worker"`
	Parts    []PartitionConfig `mapstructure:"partitions"`

	FirstStartup bool      `mapstructure:"-"`
	StartupTime  time.Time `mapstructure:"-"`

	protected []netip.Prefix
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  int    `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// WorkerConfig controls partition workers and the dispatcher.
type WorkerConfig struct {
	QueueSize         int           `mapstructure:"queue_size"`
	QueueTimeout      time.Duration `mapstructure:"queue_timeout"`
	ResponseTTL       time.Duration `mapstructure:"response_ttl"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	ReconnectInitial  time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_max"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
}

// PartitionConfig describes one backend partition and how to reach it.
type PartitionConfig struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Socket   string `mapstructure:"socket"`
	Password string `mapstructure:"password"`
}

// Network returns "unix" when a socket is configured, "tcp" otherwise.
func (p PartitionConfig) Network() string {
	if p.Socket != "" {
		return "unix"
	}
	return "tcp"
}

// Addr returns the dial address for Network.
func (p PartitionConfig) Addr() string {
	if p.Socket != "" {
		return p.Socket
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Workdir:  defaultWorkdir,
		HTTPHost: defaultHTTPHost,
		HTTPPort: defaultHTTPPort,
		ACL:      defaultACL,
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: "console",
		},
		Worker: WorkerConfig{
			QueueSize:         64,
			QueueTimeout:      100 * time.Millisecond,
			ResponseTTL:       30 * time.Second,
			HandshakeTimeout:  5 * time.Second,
			CommandTimeout:    10 * time.Second,
			ReconnectInitial:  500 * time.Millisecond,
			ReconnectMax:      30 * time.Second,
			KeepaliveInterval: 30 * time.Second,
		},
	}
}

// Flags registers the command line flags understood by Load on fs.
func Flags(fs *flag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to config file (yaml)")
	fs.String("workdir", d.Workdir, "working directory for state files")
	fs.String("http-host", d.HTTPHost, "http listen address")
	fs.Int("http-port", d.HTTPPort, "http listen port")
	fs.String("log", "", "write logs to file instead of stderr")
	fs.Int("loglevel", d.Log.Level, "log level 0-7")
	fs.String("mpdhost", "", "MPD host <address> for the default partition")
	fs.Int("mpdport", 0, "MPD host <port> for the default partition")
	fs.String("mpdsocket", "", "MPD unix socket <path> for the default partition")
	fs.String("mpdpass", "", "MPD server password")
}

var flagKeys = map[string]string{
	"workdir":   "workdir",
	"http-host": "http_host",
	"http-port": "http_port",
	"log":       "log.file",
	"loglevel":  "log.level",
}

// Load builds the snapshot. fs must have been populated by Flags and parsed.
// environ is consulted instead of the process environment when non-nil.
func Load(fs *flag.FlagSet, environ map[string]string, logger logr.Logger) (*Config, error) {
	cfg := Default()
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("workdir", cfg.Workdir)
	v.SetDefault("http_host", cfg.HTTPHost)
	v.SetDefault("http_port", cfg.HTTPPort)
	v.SetDefault("acl", cfg.ACL)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("worker.queue_size", cfg.Worker.QueueSize)
	v.SetDefault("worker.queue_timeout", cfg.Worker.QueueTimeout)
	v.SetDefault("worker.response_ttl", cfg.Worker.ResponseTTL)
	v.SetDefault("worker.handshake_timeout", cfg.Worker.HandshakeTimeout)
	v.SetDefault("worker.command_timeout", cfg.Worker.CommandTimeout)
	v.SetDefault("worker.reconnect_initial", cfg.Worker.ReconnectInitial)
	v.SetDefault("worker.reconnect_max", cfg.Worker.ReconnectMax)
	v.SetDefault("worker.keepalive_interval", cfg.Worker.KeepaliveInterval)

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	workdir := v.GetString("workdir")
	_, err := os.Stat(filepath.Join(workdir, StateDBName))
	cfg.FirstStartup = errors.Is(err, os.ErrNotExist)
	cfg.StartupTime = time.Now()

	// environment overrides sit below the config file
	overrides, err := readEnv(environ, cfg.FirstStartup, logger)
	if err != nil {
		return nil, err
	}
	overrides.apply(v)

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		logger.V(1).Info("Config file loaded", "path", path)
	}

	// log level from the environment can always be overridden
	if overrides.LogLevel != nil && !fs.Changed("loglevel") {
		v.Set("log.level", *overrides.LogLevel)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Parts) == 0 {
		cfg.Parts = []PartitionConfig{defaultPartition(fs, environ, logger)}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultPartition builds the default partition from flags, falling back to
// MPD_HOST/MPD_PORT and finally localhost:6600.
func defaultPartition(fs *flag.FlagSet, environ map[string]string, logger logr.Logger) PartitionConfig {
	p := PartitionConfig{Name: "default"}
	mpdEnv := ParseMPDEnv(lookupFunc(environ), logger)

	p.Socket, _ = fs.GetString("mpdsocket")
	if p.Socket == "" {
		p.Socket = mpdEnv.Socket
	}
	p.Host, _ = fs.GetString("mpdhost")
	if p.Host == "" {
		p.Host = mpdEnv.Host
	}
	if p.Host == "" {
		p.Host = defaultMPDHost
	}
	p.Port, _ = fs.GetInt("mpdport")
	if p.Port == 0 {
		p.Port = mpdEnv.Port
	}
	if p.Port == 0 {
		p.Port = defaultMPDPort
	}
	p.Password, _ = fs.GetString("mpdpass")
	if p.Password == "" {
		p.Password = mpdEnv.Password
	}
	return p
}

func (c *Config) validate() error {
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker.queue_size must be positive, got %d", c.Worker.QueueSize)
	}
	if c.Worker.ReconnectMax < c.Worker.ReconnectInitial {
		return fmt.Errorf("worker.reconnect_max %s is below reconnect_initial %s", c.Worker.ReconnectMax, c.Worker.ReconnectInitial)
	}
	seen := make(map[string]bool, len(c.Parts))
	for _, p := range c.Parts {
		if p.Name == "" {
			return errors.New("partition without name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate partition %q", p.Name)
		}
		seen[p.Name] = true
	}
	nets, err := ParseACL(c.ACL)
	if err != nil {
		return err
	}
	c.protected = nets
	return nil
}

// Partitions returns a copy of the configured partitions.
func (c *Config) Partitions() []PartitionConfig {
	out := make([]PartitionConfig, len(c.Parts))
	copy(out, c.Parts)
	return out
}

// Privileged reports whether a caller at addr may invoke protected commands.
func (c *Config) Privileged(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range c.protected {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// StateDBPath is the location of the state database.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Workdir, StateDBName)
}

// ListenAddr is the http listen address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.HTTPHost, strconv.Itoa(c.HTTPPort))
}

// ParseACL parses a comma separated list of CIDRs. A leading '+' is accepted
// for compatibility; entries starting with '-' are skipped.
func ParseACL(acl string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range strings.Split(acl, ",") {
		part = strings.TrimSpace(part)
		if part == "" || strings.HasPrefix(part, "-") {
			continue
		}
		part = strings.TrimPrefix(part, "+")
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("acl entry %q: %w", part, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}
