// Package config loads and saves the workspace-root configuration file
// that lists the packages eligible for split/sync and their remotes.
//
// This is the external collaborator named in spec.md §6: the core
// subsystems never read this file themselves, they are handed a
// resolved Split value. Shaped and persisted the way the teacher's
// internal/manifest package handles .workspaces: YAML via
// gopkg.in/yaml.v3, tolerant of a missing file, re-serialized with a
// blank line between entries for reviewability in diffs.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yejune/git-rail/internal/railerr"
)

// FileName is the configuration file's name at the workspace root.
const FileName = ".git-rail.yml"

// marshalFunc is overridable in tests.
var marshalFunc = yaml.Marshal

// Split is one package's split/sync configuration, matching spec.md
// §3 Split.
type Split struct {
	Name    string   `yaml:"name"`
	Remote  string   `yaml:"remote"`
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// WorkspaceSection carries workspace-level defaults.
type WorkspaceSection struct {
	Root string `yaml:"root,omitempty"`
}

// Config is the top-level document.
type Config struct {
	Workspace WorkspaceSection `yaml:"workspace"`
	Splits    []Split          `yaml:"splits,omitempty"`
}

// Load reads the config file from dir. A missing file is not an
// error: it returns an empty, otherwise-valid Config so `init` can
// populate it from scratch.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Splits: []Split{}}, nil
		}
		return nil, &railerr.IoFailure{Path: path, Reason: err}
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &railerr.ConfigInvalid{Reason: err.Error()}
	}
	if c.Splits == nil {
		c.Splits = []Split{}
	}
	return &c, nil
}

// Save writes the config file to dir, inserting a blank line before
// each split entry after the first so the file stays readable and
// diffs cleanly.
func Save(dir string, c *Config) error {
	path := filepath.Join(dir, FileName)
	data, err := marshalFunc(c)
	if err != nil {
		return &railerr.IoFailure{Path: path, Reason: err}
	}

	buf := bytes.NewBuffer(nil)
	inSplits := false
	firstEntry := true
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "splits:") {
			inSplits = true
			firstEntry = true
		}
		if inSplits && strings.HasPrefix(strings.TrimLeft(line, " "), "- name:") {
			if !firstEntry {
				buf.WriteString("\n")
			}
			firstEntry = false
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return &railerr.IoFailure{Path: path, Reason: err}
	}
	return nil
}

// Find returns the Split with the given name, or nil.
func (c *Config) Find(name string) *Split {
	for i := range c.Splits {
		if c.Splits[i].Name == name {
			return &c.Splits[i]
		}
	}
	return nil
}

// Exists reports whether a split with the given name is configured.
func (c *Config) Exists(name string) bool {
	return c.Find(name) != nil
}

// Add registers a new split, replacing any existing entry of the same
// name.
func (c *Config) Add(s Split) {
	for i := range c.Splits {
		if c.Splits[i].Name == s.Name {
			c.Splits[i] = s
			return
		}
	}
	c.Splits = append(c.Splits, s)
}

// Remove deletes the split with the given name, reporting whether one
// was found.
func (c *Config) Remove(name string) bool {
	for i, s := range c.Splits {
		if s.Name == name {
			c.Splits = append(c.Splits[:i], c.Splits[i+1:]...)
			return true
		}
	}
	return false
}

// IncludePaths returns the split's include patterns, defaulting to
// the package's own path as spec.md §3 requires, applied by the
// caller once the package path is known (Split itself doesn't know
// the workspace).
func (s *Split) IncludePaths(packagePath string) []string {
	if len(s.Include) > 0 {
		return s.Include
	}
	return []string{packagePath}
}
