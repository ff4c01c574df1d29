package device

import (
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/sirupsen/logrus"
)

// Option defines a functional option for a Session.
type Option func(*Config)

// WithEndpoint sets the device to connect to.
func WithEndpoint(ep ev3link.Endpoint) Option {
	return func(c *Config) {
		c.Endpoint = ep
	}
}

// WithPassword sets the SSH password.
func WithPassword(password string) Option {
	return func(c *Config) {
		c.Password = password
	}
}

// WithCredentials sets the provider used for keyboard-interactive prompts.
func WithCredentials(p ev3link.CredentialProvider) Option {
	return func(c *Config) {
		c.Credentials = p
	}
}

// WithEnv sets the environment for commands and shells.
func WithEnv(env map[string]string) Option {
	return func(c *Config) {
		c.Env = env
	}
}

// WithTimeout sets the dial, handshake and teardown timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithInsecureSkipVerify enables/disables strict host key checking.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Config) {
		c.InsecureSkipVerify = skip
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
