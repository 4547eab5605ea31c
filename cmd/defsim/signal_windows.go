//go:build windows

package main

import "os"

// shutdownSignals stop a running command. Windows has no SIGTERM.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
