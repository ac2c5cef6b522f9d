package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luca-patrignani/byzantine-generals/consensus"
)

const envPrefix = "GENERALS"

// Command-line flags that Load binds onto config keys. A flag that was set
// takes precedence over the environment and the config file.
const (
	FlagLogLevel   = "log-level"
	FlagStatusAddr = "status-addr"
)

// Config represents the application configuration
type Config struct {
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Protocol ProtocolConfig `mapstructure:"protocol"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Status   StatusConfig   `mapstructure:"status"`
}

// ClusterConfig places the generals on the network.
type ClusterConfig struct {
	Host      string `mapstructure:"host"`
	StartPort int    `mapstructure:"start_port"`
}

// ProtocolConfig holds the round and channel timings.
type ProtocolConfig struct {
	GetOrderDelay              time.Duration `mapstructure:"get_order_delay"`
	VoteTimeout                time.Duration `mapstructure:"vote_timeout"`
	ReadTimeout                time.Duration `mapstructure:"read_timeout"`
	IdleSleep                  time.Duration `mapstructure:"idle_sleep"`
	HandshakeTimeout           time.Duration `mapstructure:"handshake_timeout"`
	FaultyPrimaryDeliversVotes bool          `mapstructure:"faulty_primary_delivers_votes"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// StatusConfig controls the optional HTTP status server.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Options converts the protocol section for consensus.General.
func (p ProtocolConfig) Options() consensus.Options {
	return consensus.Options{
		GetOrderDelay:              p.GetOrderDelay,
		VoteTimeout:                p.VoteTimeout,
		ReadTimeout:                p.ReadTimeout,
		IdleSleep:                  p.IdleSleep,
		HandshakeTimeout:           p.HandshakeTimeout,
		FaultyPrimaryDeliversVotes: p.FaultyPrimaryDeliversVotes,
	}
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Load reads configuration from configPath (or generals.yaml in the usual
// places) and GENERALS_* environment variables on top of the defaults.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigName("generals")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/generals")
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindFlags wires the known flags present in flags. Setting --status-addr
// also enables the status server.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if f := flags.Lookup(FlagLogLevel); f != nil {
		if err := v.BindPFlag("logging.level", f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", FlagLogLevel, err)
		}
	}
	if f := flags.Lookup(FlagStatusAddr); f != nil {
		if err := v.BindPFlag("status.addr", f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", FlagStatusAddr, err)
		}
		if f.Changed {
			v.Set("status.enabled", true)
		}
	}
	return nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	_ = validateConfig(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cluster.host", "127.0.0.1")
	v.SetDefault("cluster.start_port", 6394)

	v.SetDefault("protocol.get_order_delay", "100ms")
	v.SetDefault("protocol.vote_timeout", "0s")
	v.SetDefault("protocol.read_timeout", "100ms")
	v.SetDefault("protocol.idle_sleep", "10ms")
	v.SetDefault("protocol.handshake_timeout", "5s")
	v.SetDefault("protocol.faulty_primary_delivers_votes", false)

	v.SetDefault("logging.level", "info")

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.addr", "127.0.0.1:8080")
}

const defaultStatusPort = 8080

func validateConfig(cfg *Config) error {
	if cfg.Cluster.StartPort < 0 || cfg.Cluster.StartPort > 65535 {
		return fmt.Errorf("cluster.start_port must be between 0 and 65535")
	}
	if cfg.Protocol.GetOrderDelay < 0 || cfg.Protocol.VoteTimeout < 0 ||
		cfg.Protocol.ReadTimeout < 0 || cfg.Protocol.IdleSleep < 0 || cfg.Protocol.HandshakeTimeout < 0 {
		return fmt.Errorf("protocol timings must not be negative")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	if cfg.Status.Enabled {
		host, port, err := splitHostPort(cfg.Status.Addr, defaultStatusPort)
		if err != nil {
			return fmt.Errorf("status.addr: %w", err)
		}
		cfg.Status.Addr = net.JoinHostPort(host, port)
	}
	return nil
}

// splitHostPort splits an address into host and port, using defaultPort if no port is specified.
func splitHostPort(addr string, defaultPort int) (string, string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		addr = addr + ":" + strconv.Itoa(defaultPort)
		host, port, err = net.SplitHostPort(addr)
		if err != nil {
			return "", "", err
		}
	}
	return host, port, nil
}
