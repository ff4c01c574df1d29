package ev3link

import (
	"os"
	"time"
)

// ExecConfig holds configuration derived from options.
type ExecConfig struct {
	RetryAttempts int
	RetryDelay    time.Duration
}

// ExecOption defines a functional option for execution.
type ExecOption func(*ExecConfig)

// WithRetry enables retry logic for the command execution using linear backoff.
// attempts: Total number of attempts (including the initial one). Must be >= 1.
// delay: Duration to wait between attempts.
func WithRetry(attempts int, delay time.Duration) ExecOption {
	return func(c *ExecConfig) {
		if attempts < 1 {
			attempts = 1
		}

		c.RetryAttempts = attempts
		c.RetryDelay = delay
	}
}

// PutConfig holds configuration for a single upload.
type PutConfig struct {
	Permissions os.FileMode // Applied after the upload; 0 leaves the server default
	Progress    ProgressFunc
}

// PutOption defines a functional option for Put.
type PutOption func(*PutConfig)

// NewPutConfig applies opts over the defaults.
func NewPutConfig(opts ...PutOption) PutConfig {
	var cfg PutConfig
	for _, o := range opts {
		o(&cfg)
	}

	return cfg
}

// WithPermissions chmods the remote file once the upload completes.
func WithPermissions(mode os.FileMode) PutOption {
	return func(c *PutConfig) {
		c.Permissions = mode
	}
}

// ProgressFunc is a callback for tracking file transfer progress.
type ProgressFunc func(current, total int64)

// WithProgress calls fn with progress updates.
func WithProgress(fn ProgressFunc) PutOption {
	return func(c *PutConfig) {
		c.Progress = fn
	}
}
