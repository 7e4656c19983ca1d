// Package source loads update definitions from their backing store and
// persists newly authored updates back to it.
//
// Four stores share the Source contract:
//
//   - ModeDir: a directory holding one "<id>.sql" file per update
//   - ModeJSON: a single JSON document {config_version, updates}
//   - ModeYAML: the same document encoded as YAML
//   - ModeGo: a generated Go source file with a sentinel marker line
//
// Directory sources are returned sorted by ID; document sources keep the
// authored order.
package source

import (
	"fmt"
	"strings"

	"github.com/example/dbupdater/internal/updates"
)

// Source is a backing store of updates.
type Source interface {
	// Load returns every stored update in execution order.
	Load() ([]updates.Update, error)

	// Append persists u after the stored updates. It fails with
	// updates.ErrDuplicateID when the store already holds u's ID.
	Append(u updates.Update) error
}

// Mode selects a Source implementation.
type Mode string

const (
	ModeDir  Mode = "dir"
	ModeJSON Mode = "json"
	ModeYAML Mode = "yaml"
	ModeGo   Mode = "go"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "dir", "directory", "":
		return ModeDir, nil
	case "json":
		return ModeJSON, nil
	case "yaml", "yml":
		return ModeYAML, nil
	case "go", "config":
		return ModeGo, nil
	}
	return "", fmt.Errorf("%w: unknown source mode %q", updates.ErrInvalidConfig, value)
}

type options struct {
	createDir bool
	extension string
}

// Option configures Open.
type Option func(*options)

// WithCreateDir controls whether a missing updates directory is created on
// load. It defaults to true and only affects ModeDir.
func WithCreateDir(create bool) Option {
	return func(o *options) {
		o.createDir = create
	}
}

// WithExtension sets the file extension used for new directory updates.
func WithExtension(ext string) Option {
	return func(o *options) {
		o.extension = strings.TrimPrefix(ext, ".")
	}
}

// Open returns the Source for mode backed by path.
func Open(mode Mode, path string, opts ...Option) (Source, error) {
	o := options{createDir: true, extension: "sql"}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: source path cannot be empty", updates.ErrConfigRead)
	}

	switch mode {
	case ModeDir:
		return NewDirectory(path, o.extension, o.createDir), nil
	case ModeJSON:
		return NewJSON(path), nil
	case ModeYAML:
		return NewYAML(path), nil
	case ModeGo:
		return NewGoConfig(path), nil
	}
	return nil, fmt.Errorf("%w: unknown source mode %q", updates.ErrInvalidConfig, mode)
}
