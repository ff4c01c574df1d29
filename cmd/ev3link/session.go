package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/device"
	"github.com/ev3dev/ev3link/discovery"
	"github.com/ev3dev/ev3link/prompt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	dialAttempts = 3
	dialDelay    = time.Second
)

// resolveEndpoint picks the device named by --device, or asks the user to
// choose among the configured devices that answer.
func resolveEndpoint(ctx context.Context) (ev3link.Endpoint, error) {
	if deviceName != "" {
		if ep, ok := settings.Lookup(deviceName); ok {
			return ep, nil
		}

		ep, err := device.EndpointFromSSHConfig(deviceName, settings.SSHConfig)
		if err != nil {
			logrus.WithError(err).Debug("ssh config unavailable, using device name as host")

			return ev3link.Endpoint{
				ID:   deviceName,
				Name: deviceName,
				Host: deviceName,
				Port: ev3link.DefaultPort,
				User: ev3link.DefaultUser,
			}, nil
		}

		return ep, nil
	}

	eps := settings.Endpoints()
	if len(eps) == 0 {
		return ev3link.Endpoint{}, errors.New("no devices configured; pass --device or add devices to the settings file")
	}

	feed := discovery.NewProbeFeed(eps,
		discovery.WithInterval(settings.ProbeInterval),
		discovery.WithLogger(logrus.StandardLogger()),
	)

	ep, ok, err := discovery.Select(ctx, feed, prompt.NewListPicker("Select an ev3dev device"))
	if err != nil {
		return ev3link.Endpoint{}, err
	}

	if !ok {
		return ev3link.Endpoint{}, errors.New("no device selected")
	}

	return ep, nil
}

// openSession connects to the resolved device. Extra prompts from the device
// are answered on the terminal.
func openSession(ctx context.Context) (*device.Session, error) {
	ep, err := resolveEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := settings.DeviceConfig(ep)
	if err != nil {
		return nil, err
	}

	cfg.Credentials = prompt.NewTerminal(os.Stdin, os.Stderr)
	cfg.Logger = logrus.StandardLogger()

	s, err := device.Dial(ctx, cfg, dialAttempts, dialDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", ep, err)
	}

	return s, nil
}

// withSession runs fn against a connected session and closes it afterwards.
func withSession(fn func(ctx context.Context, s *device.Session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openSession(ctx)
		if err != nil {
			return err
		}

		defer func() { _ = s.Close() }()

		return fn(ctx, s, args)
	}
}
