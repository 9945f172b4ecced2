// Package config provides Viper-based configuration loading for the chat server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Version is advertised to clients in the READY frame.
	Version string `mapstructure:"version" yaml:"version"`
}

// ControlConfig holds settings for the command/control listener.
type ControlConfig struct {
	// Host is the bind address for the control listener.
	Host string `mapstructure:"host" yaml:"host"`
	// Port is the TCP port for the control listener.
	Port int `mapstructure:"port" yaml:"port"`
	// ReadTimeout is the per-read timeout; zero leaves liveness to the heartbeat.
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout is the per-write timeout for control connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	// OutboxSize is the number of frames buffered per connection before sends are dropped.
	OutboxSize int `mapstructure:"outbox_size" yaml:"outbox_size"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (c ControlConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TransferConfig holds file-transfer settings for both the control protocol
// and the data-channel listener.
type TransferConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// HandshakeTimeout bounds how long a data connection may take to send its token.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	// RequestTimeout is how long a receiver has to accept or reject a request.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// BufferSize is the relay copy buffer size in bytes.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// Addr returns the "host:port" listen address of the data channel.
func (t TransferConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// HeartbeatConfig holds PING/PONG liveness settings.
type HeartbeatConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	PongTimeout time.Duration `mapstructure:"pong_timeout" yaml:"pong_timeout"`
}

// GameConfig holds rock/paper/scissors settings.
type GameConfig struct {
	// ChoiceTimeout is how long both players have to submit a choice.
	ChoiceTimeout time.Duration `mapstructure:"choice_timeout" yaml:"choice_timeout"`
}

// AdminConfig holds the gRPC admin endpoint settings.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" yaml:"host"`
	Port    int    `mapstructure:"port" yaml:"port"`
}

// Addr returns the "host:port" gRPC address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// DatabaseConfig holds PostgreSQL connection settings for the audit store.
type DatabaseConfig struct {
	// Enabled turns on the PostgreSQL audit recorder.
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"-"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level" yaml:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format" yaml:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Control   ControlConfig   `mapstructure:"control" yaml:"control"`
	Transfer  TransferConfig  `mapstructure:"transfer" yaml:"transfer"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" yaml:"heartbeat"`
	Game      GameConfig      `mapstructure:"game" yaml:"game"`
	Admin     AdminConfig     `mapstructure:"admin" yaml:"admin"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	validators := []func() error{
		func() error { return validateServer(c.Server) },
		func() error { return validateControl(c.Control) },
		func() error { return validateTransfer(c.Transfer) },
		func() error { return validateHeartbeat(c.Heartbeat) },
		func() error { return validateGame(c.Game) },
		func() error { return validateAdmin(c.Admin) },
		func() error { return validateDatabase(c.Database) },
		func() error { return validateLogging(c.Logging) },
	}
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// YAML renders the configuration as a YAML document. The database password is omitted.
func (c Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshalling config: %w", err)
	}
	return string(out), nil
}

func validPort(p int) bool { return p >= 1 && p <= 65535 }

func joinErrs(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Version == "" {
		return errors.New("server.version must not be empty")
	}
	return nil
}

func validateControl(c ControlConfig) error {
	var errs []string
	if !validPort(c.Port) {
		errs = append(errs, fmt.Sprintf("control.port must be 1-65535, got %d", c.Port))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, "control.read_timeout must not be negative")
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, "control.write_timeout must not be negative")
	}
	if c.OutboxSize < 1 {
		errs = append(errs, fmt.Sprintf("control.outbox_size must be >= 1, got %d", c.OutboxSize))
	}
	return joinErrs(errs)
}

func validateTransfer(t TransferConfig) error {
	var errs []string
	if !validPort(t.Port) {
		errs = append(errs, fmt.Sprintf("transfer.port must be 1-65535, got %d", t.Port))
	}
	if t.HandshakeTimeout < 0 {
		errs = append(errs, "transfer.handshake_timeout must not be negative")
	}
	if t.RequestTimeout <= 0 {
		errs = append(errs, "transfer.request_timeout must be positive")
	}
	if t.BufferSize < 512 {
		errs = append(errs, fmt.Sprintf("transfer.buffer_size must be >= 512, got %d", t.BufferSize))
	}
	return joinErrs(errs)
}

func validateHeartbeat(h HeartbeatConfig) error {
	if !h.Enabled {
		return nil
	}
	var errs []string
	if h.Interval <= 0 {
		errs = append(errs, "heartbeat.interval must be positive")
	}
	if h.PongTimeout <= 0 {
		errs = append(errs, "heartbeat.pong_timeout must be positive")
	}
	return joinErrs(errs)
}

func validateGame(g GameConfig) error {
	if g.ChoiceTimeout <= 0 {
		return errors.New("game.choice_timeout must be positive")
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	if !a.Enabled {
		return nil
	}
	var errs []string
	if a.Host == "" {
		errs = append(errs, "admin.host must not be empty")
	}
	if !validPort(a.Port) {
		errs = append(errs, fmt.Sprintf("admin.port must be 1-65535, got %d", a.Port))
	}
	return joinErrs(errs)
}

func validateDatabase(d DatabaseConfig) error {
	if !d.Enabled {
		return nil
	}
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if !validPort(d.Port) {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	return joinErrs(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with CHAT_ prefix
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance holding only the built-in defaults.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.version", "1.6")

	v.SetDefault("control.host", "0.0.0.0")
	v.SetDefault("control.port", 1337)
	v.SetDefault("control.read_timeout", "0s")
	v.SetDefault("control.write_timeout", "10s")
	v.SetDefault("control.outbox_size", 64)

	v.SetDefault("transfer.host", "0.0.0.0")
	v.SetDefault("transfer.port", 8080)
	v.SetDefault("transfer.handshake_timeout", "10s")
	v.SetDefault("transfer.request_timeout", "10s")
	v.SetDefault("transfer.buffer_size", 32*1024)

	v.SetDefault("heartbeat.enabled", true)
	v.SetDefault("heartbeat.interval", "10s")
	v.SetDefault("heartbeat.pong_timeout", "3s")

	v.SetDefault("game.choice_timeout", "10s")

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 50052)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "chat")
	v.SetDefault("database.password", "chat")
	v.SetDefault("database.name", "chat")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
