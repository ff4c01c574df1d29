// Package config loads the command-line settings: a YAML file overridden by
// EV3LINK_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/device"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/ssh/knownhosts"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EV3LINK"

// Device is a device entry in the settings file.
type Device struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port,omitempty"`
	User string `yaml:"user,omitempty"`
	Home string `yaml:"home,omitempty"`
}

// Endpoint converts d. The user defaults to robot.
func (d Device) Endpoint() ev3link.Endpoint {
	ep := ev3link.Endpoint{
		Name: d.Name,
		Host: d.Host,
		Port: d.Port,
		User: d.User,
		Home: d.Home,
	}

	if ep.User == "" {
		ep.User = ev3link.DefaultUser
	}

	if ep.Port == 0 {
		ep.Port = ev3link.DefaultPort
	}

	ep.ID = ep.Address()

	return ep
}

type Settings struct {
	Password      string            `yaml:"password" envconfig:"PASSWORD"`
	Timeout       time.Duration     `yaml:"timeout" envconfig:"TIMEOUT"`
	ProbeInterval time.Duration     `yaml:"probe_interval" envconfig:"PROBE_INTERVAL"`
	Insecure      bool              `yaml:"insecure" envconfig:"INSECURE"`
	KnownHosts    string            `yaml:"known_hosts" envconfig:"KNOWN_HOSTS"`
	SSHConfig     string            `yaml:"ssh_config" envconfig:"SSH_CONFIG"`
	Env           map[string]string `yaml:"env" envconfig:"ENV"`

	Devices []Device `yaml:"devices" ignored:"true"`
}

// Default returns the settings used when no file exists.
func Default() Settings {
	return Settings{
		Password:      device.DefaultPassword,
		Timeout:       10 * time.Second,
		ProbeInterval: 5 * time.Second,
	}
}

// DefaultPath is ~/.config/ev3link/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "ev3link", "config.yaml")
}

// Load reads path (DefaultPath when empty) and applies environment overrides.
// A missing default file is not an error; a missing explicit file is.
func Load(path string) (Settings, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)

		switch {
		case err == nil:
			if err := s.decode(data); err != nil {
				return Settings{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Settings{}, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

func (s *Settings) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// Validate checks the device list.
func (s Settings) Validate() error {
	seen := make(map[string]bool, len(s.Devices))

	for i, d := range s.Devices {
		if d.Host == "" {
			return fmt.Errorf("device %d: host cannot be empty", i+1)
		}

		if d.Name == "" {
			continue
		}

		if seen[d.Name] {
			return fmt.Errorf("device %q is configured twice", d.Name)
		}

		seen[d.Name] = true
	}

	if s.Timeout < 0 || s.ProbeInterval < 0 {
		return errors.New("timeouts cannot be negative")
	}

	return nil
}

// Lookup finds a configured device by name or host.
func (s Settings) Lookup(name string) (ev3link.Endpoint, bool) {
	for _, d := range s.Devices {
		if d.Name == name || d.Host == name {
			return d.Endpoint(), true
		}
	}

	return ev3link.Endpoint{}, false
}

// Endpoints returns every configured device.
func (s Settings) Endpoints() []ev3link.Endpoint {
	eps := make([]ev3link.Endpoint, 0, len(s.Devices))
	for _, d := range s.Devices {
		eps = append(eps, d.Endpoint())
	}

	return eps
}

// DeviceConfig builds the session configuration for ep.
func (s Settings) DeviceConfig(ep ev3link.Endpoint) (device.Config, error) {
	cfg := device.NewConfig(ep)
	cfg.Password = s.Password
	cfg.Env = s.Env

	if s.Timeout > 0 {
		cfg.Timeout = s.Timeout
	}

	if s.Insecure {
		cfg.InsecureSkipVerify = true

		return cfg, nil
	}

	var err error
	if s.KnownHosts != "" {
		cfg.HostKeyCheck, err = knownhosts.New(s.KnownHosts)
	} else {
		cfg.HostKeyCheck, err = device.DefaultKnownHosts()
	}

	if err != nil {
		return device.Config{}, fmt.Errorf("failed to load known hosts: %w", err)
	}

	return cfg, nil
}
