//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/ev3dev/ev3link"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

type resizer interface {
	Resize(w ev3link.Window) error
}

// watchResize forwards terminal size changes until the returned func is called.
func watchResize(fd int, r resizer) func() {
	if !term.IsTerminal(fd) {
		return func() {}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)

	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-sig:
				w, h, err := term.GetSize(fd)
				if err != nil {
					continue
				}

				if err := r.Resize(ev3link.Window{Rows: h, Cols: w}); err != nil {
					logrus.WithError(err).Debug("resize not delivered")
				}
			}
		}
	}()

	return func() {
		signal.Stop(sig)
		close(done)
	}
}
