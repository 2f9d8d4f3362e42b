package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-logr/logr"
	"github.com/spf13/viper"
)

// maxEnvLen is the longest value accepted from a MYMPD_* variable.
const maxEnvLen = 100

// rawEnv holds the MYMPD_* variables as found. A nil field is unset.
type rawEnv struct {
	HTTPHost *string `env:"MYMPD_HTTP_HOST"`
	HTTPPort *string `env:"MYMPD_HTTP_PORT"`
	ACL      *string `env:"MYMPD_ACL"`
	LogLevel *string `env:"MYMPD_LOGLEVEL"`
}

// envOverrides are the validated values taken from the environment.
type envOverrides struct {
	HTTPHost *string
	HTTPPort *int
	ACL      *string
	LogLevel *int
}

// readEnv reads MYMPD_* variables. Everything but MYMPD_LOGLEVEL is only
// honored on first startup.
func readEnv(environ map[string]string, firstStartup bool, logger logr.Logger) (envOverrides, error) {
	var raw rawEnv
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&raw, opts); err != nil {
		return envOverrides{}, fmt.Errorf("parse env: %w", err)
	}

	var out envOverrides
	out.HTTPHost = envString("MYMPD_HTTP_HOST", raw.HTTPHost, firstStartup, logger)
	out.HTTPPort = envInt("MYMPD_HTTP_PORT", raw.HTTPPort, firstStartup, logger)
	out.ACL = envString("MYMPD_ACL", raw.ACL, firstStartup, logger)
	out.LogLevel = envInt("MYMPD_LOGLEVEL", raw.LogLevel, true, logger)
	return out, nil
}

func (o envOverrides) apply(v *viper.Viper) {
	if o.HTTPHost != nil {
		v.SetDefault("http_host", *o.HTTPHost)
	}
	if o.HTTPPort != nil {
		v.SetDefault("http_port", *o.HTTPPort)
	}
	if o.ACL != nil {
		v.SetDefault("acl", *o.ACL)
	}
	if o.LogLevel != nil {
		v.SetDefault("log.level", *o.LogLevel)
	}
}

func envValue(key string, value *string, honor bool, logger logr.Logger) (string, bool) {
	if value == nil {
		return "", false
	}
	if len(*value) > maxEnvLen {
		logger.Info("Environment variable is too long, ignoring", "key", key, "length", len(*value))
		return "", false
	}
	if !honor {
		logger.Info("Ignoring environment variable, not the first startup", "key", key, "value", *value)
		return "", false
	}
	logger.Info("Using environment variable", "key", key, "value", *value)
	return *value, true
}

func envString(key string, value *string, honor bool, logger logr.Logger) *string {
	s, ok := envValue(key, value, honor, logger)
	if !ok {
		return nil
	}
	return &s
}

// envInt converts the value of the variable, falling back to unset when it is
// not a number.
func envInt(key string, value *string, honor bool, logger logr.Logger) *int {
	s, ok := envValue(key, value, honor, logger)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		logger.Info("Failed to parse environment variable as int, using default value", "key", key, "rawValue", s, "error", err)
		return nil
	}
	return &n
}

// lookupFunc returns a lookup over environ, or the process environment when
// environ is nil.
func lookupFunc(environ map[string]string) func(string) (string, bool) {
	if environ == nil {
		return os.LookupEnv
	}
	return func(k string) (string, bool) {
		v, ok := environ[k]
		return v, ok
	}
}
