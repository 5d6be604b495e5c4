// Package config loads the configuration of an agency from a YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment variable the configuration reads.
// AGENCY_BUS_ADDR sets bus.addr, AGENCY_BROKER_SOCKET_PATH sets
// broker.socket_path.
const EnvPrefix = "AGENCY_"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config is the whole configuration of an agency process.
type Config struct {
	Agency    AgencyConfig    `mapstructure:"agency" yaml:"agency"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Bus       BusConfig       `mapstructure:"bus" yaml:"bus"`
	Tunnel    TunnelConfig    `mapstructure:"tunnel" yaml:"tunnel"`
	Broker    BrokerConfig    `mapstructure:"broker" yaml:"broker"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording"`
}

// AgencyConfig names the agency.
type AgencyConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
}

// LogConfig sets up logging.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// BusConfig sets up the Redis pub/sub backend.
type BusConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	Addr         string  `mapstructure:"addr" yaml:"addr"`
	Password     string  `mapstructure:"password" yaml:"password"`
	DB           int     `mapstructure:"db" yaml:"db"`
	Prefix       string  `mapstructure:"prefix" yaml:"prefix"`
	PingInterval float64 `mapstructure:"ping_interval" yaml:"ping_interval"`
}

// TunnelConfig sets up the HTTP tunnel backend.
type TunnelConfig struct {
	Enabled  bool    `mapstructure:"enabled" yaml:"enabled"`
	Host     string  `mapstructure:"host" yaml:"host"`
	PortLow  int     `mapstructure:"port_low" yaml:"port_low"`
	PortHigh int     `mapstructure:"port_high" yaml:"port_high"`
	Version  int     `mapstructure:"version" yaml:"version"`
	MaxDelay float64 `mapstructure:"max_delay" yaml:"max_delay"`
}

// BrokerConfig sets up the broker shared by the processes of a host.
type BrokerConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
	Workers    int    `mapstructure:"workers" yaml:"workers"`
}

// MonitorConfig sets up the HTTP monitor.
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
	Open    bool `mapstructure:"open" yaml:"open"`
}

// RecordingConfig sets up the topology recorder.
type RecordingConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Agency: AgencyConfig{Name: "agency"},
		Log:    LogConfig{Level: "info"},
		Bus: BusConfig{
			Addr:         "localhost:6379",
			Prefix:       "agency",
			PingInterval: 5,
		},
		Tunnel: TunnelConfig{
			Enabled:  true,
			Host:     "localhost",
			PortLow:  5400,
			PortHigh: 5500,
			Version:  2,
			MaxDelay: 600,
		},
		Broker: BrokerConfig{
			SocketPath: "/tmp/agency-broker.sock",
		},
	}
}

// Load builds the configuration from the defaults, the YAML file at path
// (skipped when path is empty), and the environment. The environment is
// first completed with envFiles, or with .env when no file is given; missing
// env files are ignored.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}

		if err := Decode(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return cfg, err
	}

	if err := ApplyEnv(&cfg, os.Environ()); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Decode overlays the YAML document raw onto cfg. Unknown keys are errors.
func Decode(raw []byte, cfg *Config) error {
	var loose map[string]any
	if err := yaml.Unmarshal(raw, &loose); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	return decodeMap(loose, cfg)
}

// ApplyEnv overlays the AGENCY_* variables of environ onto cfg.
func ApplyEnv(cfg *Config, environ []string) error {
	loose := make(map[string]any)

	for _, kv := range environ {
		name, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}

		section, field, found := strings.Cut(
			strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "_")
		if !found {
			continue
		}

		fields, ok := loose[section].(map[string]any)
		if !ok {
			fields = make(map[string]any)
			loose[section] = fields
		}

		fields[field] = value
	}

	if err := decodeMap(loose, cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	return nil
}

func decodeMap(loose map[string]any, cfg *Config) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}

	return dec.Decode(loose)
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	return nil
}

// Validate reports settings no agency can run with.
func (c Config) Validate() error {
	var errs []error

	if c.Agency.Name == "" {
		errs = append(errs, errors.New("agency.name is empty"))
	}

	if c.Tunnel.Enabled {
		if c.Tunnel.PortLow < 0 || c.Tunnel.PortHigh < c.Tunnel.PortLow {
			errs = append(errs, fmt.Errorf("tunnel ports %d-%d",
				c.Tunnel.PortLow, c.Tunnel.PortHigh))
		}

		if c.Tunnel.Version < 1 {
			errs = append(errs, fmt.Errorf("tunnel.version %d",
				c.Tunnel.Version))
		}
	}

	if c.Bus.Enabled && c.Bus.Addr == "" {
		errs = append(errs, errors.New("bus.addr is empty"))
	}

	if c.Broker.Enabled && c.Broker.SocketPath == "" {
		errs = append(errs, errors.New("broker.socket_path is empty"))
	}

	if c.Broker.Workers < 0 {
		errs = append(errs, fmt.Errorf("broker.workers %d", c.Broker.Workers))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return nil
}
