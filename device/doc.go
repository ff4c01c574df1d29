// Package device manages the SSH session to one ev3dev device.
//
// A Session authenticates (password first, then keyboard-interactive prompts
// forwarded to an ev3link.CredentialProvider), opens SFTP, reads the home
// directory and starts a loopback shell gateway. While connected it offers:
//   - Remote file operations over SFTP (Stat, List, MkdirAll, Put, ...)
//   - Non-interactive commands with the configured environment
//   - Interactive PTY shells, directly or through the gateway port
//
// Usage:
//
//	cfg := device.NewConfig(ev3link.Endpoint{Host: "ev3dev.local", User: "robot"})
//	cfg.InsecureSkipVerify = true
//	s, err := device.New(cfg)
//	if err != nil { ... }
//	defer s.Close()
//	err = s.Connect(ctx)
package device
