// Package module finds handler modules on disk and turns them into command
// descriptors.
package module

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/alucardeht/hotcmd/internal/logger"
)

var log = logger.ForComponent("module")

type DiscoverConfig struct {
	Include     []string `yaml:"include"`
	Exclude     []string `yaml:"exclude"`
	WatchHidden bool     `yaml:"watch_hidden"`
}

func DefaultDiscoverConfig() DiscoverConfig {
	return DiscoverConfig{
		Include: []string{"**/*.go", "**/*.lua"},
		Exclude: []string{
			"**/*_test.go",
			"**/testdata/**",
			"**/vendor/**",
			"**/node_modules/**",
		},
	}
}

// Matcher decides whether a path under root is a handler module. The
// watcher uses the same matcher so discovery and reload agree.
type Matcher struct {
	root   string
	config DiscoverConfig
}

func NewMatcher(root string, config DiscoverConfig) *Matcher {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}
	if len(config.Include) == 0 {
		config.Include = DefaultDiscoverConfig().Include
	}
	return &Matcher{root: abs, config: config}
}

func (m *Matcher) Root() string {
	return m.root
}

func (m *Matcher) rel(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(m.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// Excluded reports whether path (file or directory) is skipped entirely.
func (m *Matcher) Excluded(path string) bool {
	rel, ok := m.rel(path)
	if !ok {
		return true
	}
	if rel == "." {
		return false
	}

	if !m.config.WatchHidden {
		for _, part := range strings.Split(rel, "/") {
			if strings.HasPrefix(part, ".") {
				return true
			}
		}
	}

	for _, pattern := range m.config.Exclude {
		if match, _ := doublestar.Match(pattern, rel); match {
			return true
		}
		if filepath.IsAbs(pattern) {
			if abs, err := filepath.Abs(path); err == nil && filepath.Clean(pattern) == abs {
				return true
			}
		}
	}
	return false
}

// IsModule reports whether a file path follows the module convention.
func (m *Matcher) IsModule(path string) bool {
	if m.Excluded(path) {
		return false
	}
	rel, _ := m.rel(path)
	for _, pattern := range m.config.Include {
		if match, _ := doublestar.Match(pattern, rel); match {
			return true
		}
	}
	return false
}

// Discover walks root and returns the absolute paths of every module file,
// sorted. Unreadable subdirectories are logged and skipped.
func Discover(root string, config DiscoverConfig) ([]string, error) {
	m := NewMatcher(root, config)
	return m.Discover()
}

func (m *Matcher) Discover() ([]string, error) {
	info, err := os.Stat(m.root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "discover", Path: m.root, Err: fs.ErrInvalid}
	}

	var paths []string
	err = filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == m.root {
				return err
			}
			log.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != m.root && m.Excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}

		if m.IsModule(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	log.Debug("discovered modules", "root", m.root, "count", len(paths))
	return paths, nil
}
