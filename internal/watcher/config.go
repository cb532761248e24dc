package watcher

import "time"

type WatcherConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
}

func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		DebounceWindow: 100 * time.Millisecond,
	}
}
