//go:build windows

package main

import "github.com/ev3dev/ev3link"

type resizer interface {
	Resize(w ev3link.Window) error
}

// watchResize is a no-op: Windows consoles have no SIGWINCH.
func watchResize(int, resizer) func() {
	return func() {}
}
