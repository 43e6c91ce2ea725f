//go:build unix

package discovery

import "golang.org/x/sys/unix"

// processAlive reports whether pid still exists, via a 0-signal probe.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
