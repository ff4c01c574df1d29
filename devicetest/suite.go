// Package devicetest provides a contract test suite for ev3link.FileSystem
// implementations.
package devicetest

import (
	"context"
	"fmt"
	"path"
	"strings"
	"testing"

	"github.com/ev3dev/ev3link"
)

// Standard categories for grouping tests.
const (
	CategoryFiles  = "files"
	CategoryErrors = "errors"
)

// T is the minimal interface required for testify/assert and require.
type T interface {
	Errorf(format string, args ...any)
	FailNow()
	Skipf(format string, args ...any)
	Context() context.Context
	TempDir() string
	Name() string
}

// Target is the filesystem under test.
type Target struct {
	FS ev3link.FileSystem

	// Base is an existing, writable directory. Each contract works below its
	// own subdirectory of Base.
	Base string

	// Modes reports whether Stat reflects Chmod. In-memory servers often
	// ignore permission changes.
	Modes bool
}

// TestCase defines a single behavioral contract requirement.
type TestCase struct {
	Category    string
	Name        string
	Description string
	Prereq      func(t T, target Target) (ok bool, reason string)
	Run         func(t T, target Target)
}

// ID returns the stable, globally unique contract identifier.
func (tc TestCase) ID() string {
	return fmt.Sprintf("%s/%s", tc.Category, tc.Name)
}

// AllContracts returns every contract in the suite.
func AllContracts() []TestCase {
	contracts := make([]TestCase, 0, 16)

	contracts = append(contracts, fileContracts()...)
	contracts = append(contracts, errorContracts()...)

	return contracts
}

// Verify is the standard Go test entry point for FileSystem implementations.
func Verify(t *testing.T, target Target) {
	t.Helper()

	for _, tc := range AllContracts() {
		t.Run(tc.ID(), func(t *testing.T) {
			if tc.Prereq != nil {
				ok, reason := tc.Prereq(t, target)
				if !ok {
					t.Skipf("prereq unmet: %s", reason)
				}
			}

			tc.Run(t, target)
		})
	}
}

// workDir is the per-contract directory below the target base. It is not
// created.
func workDir(t T, target Target) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())

	return path.Join(target.Base, "contract-"+name)
}
