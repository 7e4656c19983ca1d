package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/example/dbupdater/internal/updates"
)

// document is the logical shape shared by the JSON and YAML stores.
type document struct {
	ConfigVersion string        `json:"config_version" yaml:"config_version"`
	Updates       []updates.Row `json:"updates" yaml:"updates"`
}

// versionHeader is decoded leniently so that a newer format is reported as
// outdated rather than malformed.
type versionHeader struct {
	ConfigVersion string `json:"config_version" yaml:"config_version"`
}

type codec interface {
	format() string
	decode(data []byte, v any, strict bool) error
	encode(v any) ([]byte, error)
}

// Document is a Source kept in a single structured file. Appends rewrite the
// whole file.
type Document struct {
	path  string
	codec codec
}

// NewJSON returns a Source backed by a JSON document.
func NewJSON(path string) *Document {
	return &Document{path: path, codec: jsonCodec{}}
}

// NewYAML returns a Source backed by a YAML document.
func NewYAML(path string) *Document {
	return &Document{path: path, codec: yamlCodec{}}
}

// Load reads the document, creating an empty one when the file is missing.
func (d *Document) Load() ([]updates.Update, error) {
	doc, err := d.read()
	if err != nil {
		return nil, err
	}

	loaded := make([]updates.Update, 0, len(doc.Updates))
	for i, row := range doc.Updates {
		u, err := updates.FromRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s: update #%d: %w", d.path, i+1, err)
		}
		loaded = append(loaded, u)
	}
	return loaded, nil
}

// Append adds u to the end of the document's update list.
func (d *Document) Append(u updates.Update) error {
	doc, err := d.read()
	if err != nil {
		return err
	}

	for _, row := range doc.Updates {
		if row.ID == u.ID() {
			return fmt.Errorf("%w: %s already contains update %s", updates.ErrDuplicateID, d.path, u.ID())
		}
	}

	doc.Updates = append(doc.Updates, updates.ToRow(u))
	return d.write(doc)
}

func (d *Document) read() (document, error) {
	data, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		doc := document{ConfigVersion: ConfigVersion, Updates: []updates.Row{}}
		if err := d.write(doc); err != nil {
			return document{}, fmt.Errorf("no config file found and couldn't create new file: %w", err)
		}
		return doc, nil
	}
	if err != nil {
		return document{}, fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(d.path, "read file", err))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return document{}, fmt.Errorf("%w: %s is empty", updates.ErrConfigRead, d.path)
	}

	var header versionHeader
	if err := d.codec.decode(data, &header, false); err != nil {
		return document{}, fmt.Errorf("%w: invalid %s format in %s: %v", updates.ErrInvalidConfig, d.codec.format(), d.path, err)
	}
	if err := checkVersion(header.ConfigVersion); err != nil {
		return document{}, fmt.Errorf("%s: %w", d.path, err)
	}

	var doc document
	if err := d.codec.decode(data, &doc, true); err != nil {
		return document{}, fmt.Errorf("%w: invalid %s format in %s: %v", updates.ErrInvalidConfig, d.codec.format(), d.path, err)
	}
	return doc, nil
}

func (d *Document) write(doc document) error {
	if doc.Updates == nil {
		doc.Updates = []updates.Row{}
	}
	data, err := d.codec.encode(doc)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", updates.ErrInvalidConfig, d.codec.format(), err)
	}
	return writeFileAtomic(d.path, data)
}

type jsonCodec struct{}

func (jsonCodec) format() string { return "JSON" }

func (jsonCodec) decode(data []byte, v any, strict bool) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	return dec.Decode(v)
}

func (jsonCodec) encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type yamlCodec struct{}

func (yamlCodec) format() string { return "YAML" }

func (yamlCodec) decode(data []byte, v any, strict bool) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(strict)
	return dec.Decode(v)
}

func (yamlCodec) encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFileAtomic replaces path with data via a temporary file in the same
// directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(dir, "create directory", err))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(path, "create temporary file", err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(path, "write file", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(path, "close file", err))
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(path, "chmod file", err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(path, "replace file", err))
	}
	return nil
}
