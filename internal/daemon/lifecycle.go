package daemon

import (
	"fmt"
	"path/filepath"
)

// LifecycleManager owns the single-instance lock and pid file kept next to
// the socket.
type LifecycleManager struct {
	lockFile  *LockFile
	pidFile   *PIDFile
	connector *SocketConnector
}

func NewLifecycleManager(baseDir, socketPath string) *LifecycleManager {
	return &LifecycleManager{
		lockFile:  NewLockFile(filepath.Join(baseDir, "daemon.lock")),
		pidFile:   NewPIDFile(filepath.Join(baseDir, "daemon.pid")),
		connector: NewSocketConnector(socketPath),
	}
}

// Acquire takes the instance lock and records this process's pid.
func (lm *LifecycleManager) Acquire() error {
	if err := lm.lockFile.Acquire(); err != nil {
		if lm.connector.Responsive() {
			if pid, perr := lm.pidFile.Read(); perr == nil && pid > 0 {
				return fmt.Errorf("%w: pid %d", err, pid)
			}
		}
		return fmt.Errorf("failed to acquire instance lock: %w", err)
	}

	if err := lm.pidFile.Write(); err != nil {
		lm.lockFile.Release()
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

func (lm *LifecycleManager) Cleanup() {
	lm.pidFile.Remove()
	lm.lockFile.Release()
}

// Running reports whether a daemon appears to be alive.
func (lm *LifecycleManager) Running() bool {
	return lm.pidFile.IsProcessAlive() && lm.connector.Responsive()
}
