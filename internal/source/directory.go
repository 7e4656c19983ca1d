package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/dbupdater/internal/updates"
)

// statementDelimiter separates statements inside an update file.
const statementDelimiter = ";"

// Directory stores each update as "<id>.<ext>" inside one directory.
type Directory struct {
	dir       string
	extension string
	createDir bool
}

// NewDirectory returns a directory-backed Source.
func NewDirectory(dir, extension string, createDir bool) *Directory {
	if extension == "" {
		extension = "sql"
	}
	return &Directory{
		dir:       dir,
		extension: extension,
		createDir: createDir,
	}
}

// Load reads every update file in the directory and sorts them by ID.
func (d *Directory) Load() ([]updates.Update, error) {
	entries, err := d.readDir()
	if err != nil {
		return nil, err
	}

	var loaded []updates.Update
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		u, err := d.parseFile(entry.Name())
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, u)
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].ID() < loaded[j].ID()
	})
	return loaded, nil
}

// Append writes u as a new file. Any existing file with the same ID,
// whatever its extension, is reported as updates.ErrDuplicateID.
func (d *Directory) Append(u updates.Update) error {
	if err := checkStorable(u); err != nil {
		return err
	}

	entries, err := d.readDir()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && idFromFileName(entry.Name()) == u.ID() {
			return fmt.Errorf("%w: file %s already holds update %s", updates.ErrDuplicateID, entry.Name(), u.ID())
		}
	}

	path := filepath.Join(d.dir, u.ID()+"."+d.extension)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", updates.ErrDuplicateID, path)
		}
		return fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(path, "create file", err))
	}

	if _, err := file.WriteString(formatStatements(u.Statements())); err != nil {
		file.Close()
		return fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(path, "write file", err))
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(path, "close file", err))
	}
	return nil
}

// checkStorable rejects updates that would not load back unchanged from a
// "<id>.<ext>" file: the ID must be a plain file name without dots and each
// statement must stay a single statement after splitting.
func checkStorable(u updates.Update) error {
	id := u.ID()
	if strings.ContainsAny(id, `./\`) || id != strings.TrimSpace(id) {
		return fmt.Errorf("%w: update ID %q cannot be used as a file name; dots, slashes and surrounding spaces are not allowed", updates.ErrInvalidConfig, id)
	}

	for i, stmt := range u.Statements() {
		body := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stmt), statementDelimiter))
		if body == "" {
			return fmt.Errorf("%w: update %s: query %d is empty", updates.ErrInvalidConfig, id, i+1)
		}
		if strings.Contains(body, statementDelimiter) {
			return fmt.Errorf("%w: update %s: query %d contains %q, which splits it into several queries in directory mode", updates.ErrInvalidConfig, id, i+1, statementDelimiter)
		}
	}
	return nil
}

func (d *Directory) readDir() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(d.dir)
	if err == nil {
		return entries, nil
	}

	if errors.Is(err, fs.ErrNotExist) && d.createDir {
		if mkErr := os.MkdirAll(d.dir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(d.dir, "create directory", mkErr))
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(d.dir, "read directory", err))
}

func (d *Directory) parseFile(name string) (updates.Update, error) {
	path := filepath.Join(d.dir, name)
	content, err := os.ReadFile(path)
	if err != nil {
		return updates.Update{}, fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(path, "read file", err))
	}

	u, err := updates.New(idFromFileName(name), SplitStatements(string(content)))
	if err != nil {
		return updates.Update{}, fmt.Errorf("%s: %w", path, err)
	}
	return u, nil
}

// idFromFileName returns the part of name before the first dot.
func idFromFileName(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// SplitStatements splits content on the statement delimiter, trimming each
// fragment and dropping empty ones.
func SplitStatements(content string) []string {
	var statements []string
	for _, fragment := range strings.Split(content, statementDelimiter) {
		if stmt := strings.TrimSpace(fragment); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

func formatStatements(statements []string) string {
	lines := make([]string, 0, len(statements))
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if !strings.HasSuffix(stmt, statementDelimiter) {
			stmt += statementDelimiter
		}
		lines = append(lines, stmt)
	}
	return strings.Join(lines, "\n") + "\n"
}
