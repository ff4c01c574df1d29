// Package main is the ev3link command-line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ev3dev/ev3link/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

// Global flags
var (
	configPath string
	deviceName string
	debug      bool
)

// settings is loaded before any subcommand runs.
var settings config.Settings

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ev3link",
	Short: "Work with ev3dev devices over SSH",
	Long: `ev3link connects to LEGO MINDSTORMS EV3 bricks running ev3dev.

It opens interactive shells, moves files, runs programs and relays
debugger requests to a connected device.

Devices are taken from --device, the settings file or an interactive
picker listing the configured devices that answer on the network.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logrus.SetOutput(os.Stderr)

		if debug {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.WarnLevel)
		}

		s, err := config.Load(configPath)
		if err != nil {
			return err
		}

		settings = s

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default ~/.config/ev3link/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&deviceName, "device", "D", "", "Device name from the settings file or an ssh_config alias")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	rootCmd.AddCommand(devicesCmd, connectCmd, shellCmd, sysinfoCmd, execCmd, runCmd, relayCmd)
	rootCmd.AddCommand(lsCmd, statCmd, mkdirCmd, putCmd, rmCmd, chmodCmd)
}
