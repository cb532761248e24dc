//go:build unix

package daemon

import "syscall"

// processExists sends signal 0 to pid.
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
