package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/device"
	"github.com/ev3dev/ev3link/gateway"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect and serve the shell gateway until interrupted",
	Long: `Connect to a device and keep the session open. The loopback shell gateway
port is printed so that other tools can open terminals on the device.`,
	Args: cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, s *device.Session, _ []string) error {
		port, ok := s.GatewayPort()
		if !ok {
			return ev3link.ErrNotConnected
		}

		lost := make(chan error, 1)

		unsubscribe := s.Subscribe(func(ev ev3link.Event) {
			if ev.Type == ev3link.EventDisconnected {
				lost <- ev.Err
			}
		})
		defer unsubscribe()

		fmt.Println(titleStyle.Render("Connected to " + s.Name()))
		fmt.Println(infoStyle.Render("home:    " + s.HomeDir()))
		fmt.Println(infoStyle.Render("gateway: " + gatewayAddr(port)))

		select {
		case <-ctx.Done():
			return nil
		case err := <-lost:
			if err == nil {
				err = errors.New("connection closed")
			}

			return fmt.Errorf("device disconnected: %w", err)
		}
	}),
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive shell on the device",
	Args:  cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, s *device.Session, _ []string) error {
		port, ok := s.GatewayPort()
		if !ok {
			return ev3link.ErrNotConnected
		}

		fd := int(os.Stdin.Fd())
		win := ev3link.DefaultWindow

		if term.IsTerminal(fd) {
			if w, h, err := term.GetSize(fd); err == nil {
				win = ev3link.Window{Rows: h, Cols: w}
			}

			state, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("failed to set raw mode: %w", err)
			}

			defer func() { _ = term.Restore(fd, state) }()
		}

		conn, err := gateway.Dial(ctx, gatewayAddr(port), win, os.Stdout, os.Stderr)
		if err != nil {
			return err
		}

		defer func() { _ = conn.Close() }()

		stopResize := watchResize(fd, conn)
		defer stopResize()

		go func() {
			if _, err := io.Copy(conn, os.Stdin); err != nil {
				logrus.WithError(err).Debug("stdin copy ended")
			}
		}()

		select {
		case <-conn.Done():
		case <-ctx.Done():
			return nil
		}

		status, err := conn.Wait()
		if err != nil {
			return err
		}

		if status.Code != 0 {
			return &ev3link.ExitError{ExitCode: status.Code}
		}

		return nil
	}),
}

func gatewayAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}
