package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/kevinburke/ssh_config"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultPassword is the factory password of the ev3dev "robot" user.
const DefaultPassword = "maker"

// DefaultTermType is the TERM requested for remote shells.
const DefaultTermType = "xterm"

// Config holds everything a Session needs. It is fixed at construction.
type Config struct {
	// Device to connect to
	Endpoint ev3link.Endpoint

	// Authentication (password first, then keyboard-interactive)
	Password    string                     // Tried first when non-empty
	Credentials ev3link.CredentialProvider // Answers keyboard-interactive prompts; nil disables that method

	// Environment applied to commands (export prefix) and shells (env requests)
	Env map[string]string

	// Connection settings
	Timeout            time.Duration       // dial, handshake and teardown timeout (default 10s)
	HostKeyCheck       ssh.HostKeyCallback // Callback to verify host key. You normally generate this from known_hosts.
	InsecureSkipVerify bool                // If true, disables strict host key checking.
	TermType           string              // TERM for shells (default "xterm")

	Logger logrus.FieldLogger // Default logrus.StandardLogger()
}

// NewConfig creates a Config for ep with safe defaults.
// Note: It does NOT set a default HostKeyCheck. You must provide one or set InsecureSkipVerify=true.
func NewConfig(ep ev3link.Endpoint) Config {
	if ep.Port == 0 {
		ep.Port = ev3link.DefaultPort
	}

	return Config{
		Endpoint: ep,
		Password: DefaultPassword,
		Timeout:  10 * time.Second,
		TermType: DefaultTermType,
	}
}

// WithDefaults sets default values for zero-valued fields.
func (c Config) WithDefaults() Config {
	if c.Endpoint.Port == 0 {
		c.Endpoint.Port = ev3link.DefaultPort
	}

	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}

	if c.TermType == "" {
		c.TermType = DefaultTermType
	}

	// If insecure is requested and no callback provided, use insecure ignore.
	if c.InsecureSkipVerify && c.HostKeyCheck == nil {
		c.HostKeyCheck = ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in
	}

	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}

	return c
}

// Validate ensures all required fields are present.
func (c Config) Validate() error {
	if c.Endpoint.Host == "" {
		return errors.New("configuration error: host address cannot be empty")
	}

	if c.Endpoint.User == "" {
		return errors.New("configuration error: user cannot be empty")
	}

	if c.HostKeyCheck == nil {
		return errors.New("configuration error: HostKeyCheck is missing; you must provide a callback (e.g. valid 'known_hosts') or set InsecureSkipVerify=true")
	}

	if c.Password == "" && c.Credentials == nil {
		return errors.New("configuration error: no authentication method; set a password or a credential provider")
	}

	return nil
}

// clientConfig builds the ssh.ClientConfig: password first, then keyboard-interactive
// answered through auth.
func (c Config) clientConfig(auth *authenticator) *ssh.ClientConfig {
	config := &ssh.ClientConfig{
		User:            c.Endpoint.User,
		Auth:            []ssh.AuthMethod{},
		HostKeyCallback: c.HostKeyCheck,
		Timeout:         c.Timeout,
	}

	if c.Password != "" {
		config.Auth = append(config.Auth, ssh.PasswordCallback(auth.password(c.Password)))
	}

	if c.Credentials != nil {
		config.Auth = append(config.Auth, ssh.KeyboardInteractive(auth.challenge))
	}

	return config
}

// DefaultKnownHosts returns a HostKeyCallback that verifies the host key against
// strict entries in the user's ~/.ssh/known_hosts file.
func DefaultKnownHosts() (ssh.HostKeyCallback, error) {
	path := filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts")

	return knownhosts.New(path)
}

// EndpointFromSSHConfig resolves alias through an OpenSSH config file
// (default ~/.ssh/config).
func EndpointFromSSHConfig(alias, path string) (ev3link.Endpoint, error) {
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".ssh", "config")
	}

	f, err := os.Open(path)
	if err != nil {
		return ev3link.Endpoint{}, fmt.Errorf("failed to open ssh config: %w", err)
	}

	defer func() { _ = f.Close() }()

	return EndpointFromSSHConfigReader(alias, f)
}

// EndpointFromSSHConfigReader resolves alias to its HostName, User and Port.
// An unknown alias resolves to itself on port 22 as the current user.
func EndpointFromSSHConfigReader(alias string, r io.Reader) (ev3link.Endpoint, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return ev3link.Endpoint{}, fmt.Errorf("failed to parse ssh config: %w", err)
	}

	hostName, err := cfg.Get(alias, "HostName")
	if err != nil || hostName == "" {
		hostName = alias // Fallback if no HostName defined
	}

	username, _ := cfg.Get(alias, "User")
	if username == "" {
		// Use current system user if not specified in config
		u, _ := user.Current()
		if u != nil {
			username = u.Username
		}
	}

	port := ev3link.DefaultPort

	if portStr, _ := cfg.Get(alias, "Port"); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return ev3link.Endpoint{}, fmt.Errorf("invalid port %q for %s: %w", portStr, alias, err)
		}
	}

	return ev3link.Endpoint{
		ID:   "ssh_config:" + alias,
		Name: alias,
		Host: hostName,
		Port: port,
		User: username,
	}, nil
}
