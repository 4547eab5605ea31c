//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals stop a running command: SIGINT and SIGTERM.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
