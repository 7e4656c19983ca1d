package source

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/example/dbupdater/internal/updates"
)

// Sentinel is the marker line new updates are inserted above.
const Sentinel = "// add updates above and keep this line"

//go:embed goconfig.go.tmpl
var goConfigTemplate string

// GoConfig stores updates in a generated Go source file declaring
// ConfigVersion and an Updates slice literal. Appends are textual
// insertions before the Sentinel line.
type GoConfig struct {
	path string
}

// NewGoConfig returns a Source backed by a generated Go file.
func NewGoConfig(path string) *GoConfig {
	return &GoConfig{path: path}
}

// Template returns the content used to seed a missing config file.
func Template() string {
	return strings.Replace(goConfigTemplate, "{{CONFIG_VERSION}}", ConfigVersion, 1)
}

// Load parses the config file, seeding it from Template when missing.
func (g *GoConfig) Load() ([]updates.Update, error) {
	src, err := g.readOrSeed()
	if err != nil {
		return nil, err
	}

	rows, err := g.parse(src)
	if err != nil {
		return nil, err
	}

	loaded := make([]updates.Update, 0, len(rows))
	for i, row := range rows {
		u, err := updates.FromRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s: update #%d: %w", g.path, i+1, err)
		}
		loaded = append(loaded, u)
	}
	return loaded, nil
}

// Append inserts u immediately before the Sentinel line. The file is only
// replaced when the edited source still parses to the previous updates
// followed by u.
func (g *GoConfig) Append(u updates.Update) error {
	src, err := g.readOrSeed()
	if err != nil {
		return err
	}

	rows, err := g.parse(src)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.ID == u.ID() {
			return fmt.Errorf("%w: %s already contains update %s", updates.ErrDuplicateID, g.path, u.ID())
		}
	}

	idx := bytes.Index(src, []byte(Sentinel))
	lineStart := bytes.LastIndexByte(src[:idx], '\n') + 1
	indent := string(src[lineStart:idx])
	if strings.TrimSpace(indent) != "" {
		return fmt.Errorf("%w: %s: marker line %q must be on its own line", updates.ErrInvalidConfig, g.path, Sentinel)
	}

	var edited bytes.Buffer
	edited.Write(src[:lineStart])
	edited.WriteString(renderEntry(u, indent))
	edited.Write(src[lineStart:])

	formatted, err := format.Source(edited.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %s: inserting update %s produced invalid Go: %v", updates.ErrInvalidConfig, g.path, u.ID(), err)
	}

	after, err := g.parse(formatted)
	if err != nil {
		return err
	}
	if len(after) != len(rows)+1 || after[len(after)-1].ID != u.ID() {
		return fmt.Errorf("%w: %s: marker line is not the last line of the Updates list", updates.ErrInvalidConfig, g.path)
	}

	return writeFileAtomic(g.path, formatted)
}

func (g *GoConfig) readOrSeed() ([]byte, error) {
	src, err := os.ReadFile(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		seed := []byte(Template())
		if err := writeFileAtomic(g.path, seed); err != nil {
			return nil, fmt.Errorf("no config file found and couldn't create new file: %w", err)
		}
		return seed, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", updates.ErrConfigRead, updates.NewFileSystemError(g.path, "read file", err))
	}
	return src, nil
}

// parse extracts the update rows after validating the marker line and the
// config version.
func (g *GoConfig) parse(src []byte) ([]updates.Row, error) {
	if !bytes.Contains(src, []byte(Sentinel)) {
		return nil, fmt.Errorf("%w: %s: marker line %q is missing", updates.ErrInvalidConfig, g.path, Sentinel)
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, g.path, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", updates.ErrInvalidConfig, err)
	}

	version, list := findDecls(file)
	if version == nil {
		return nil, fmt.Errorf("%w: %s: const ConfigVersion is missing", updates.ErrInvalidConfig, g.path)
	}
	stored, err := stringValue(version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: ConfigVersion: %v", updates.ErrInvalidConfig, g.path, err)
	}
	if err := checkVersion(stored); err != nil {
		return nil, fmt.Errorf("%s: %w", g.path, err)
	}

	if list == nil {
		return nil, fmt.Errorf("%w: %s: var Updates is missing or is not a slice literal", updates.ErrInvalidConfig, g.path)
	}

	rows := make([]updates.Row, 0, len(list.Elts))
	for _, elt := range list.Elts {
		row, err := parseEntry(elt)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%s: %v", updates.ErrInvalidConfig, g.path, fset.Position(elt.Pos()), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// findDecls returns the ConfigVersion value and the Updates literal.
func findDecls(file *ast.File) (ast.Expr, *ast.CompositeLit) {
	var version ast.Expr
	var list *ast.CompositeLit

	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || (gen.Tok != token.CONST && gen.Tok != token.VAR) {
			continue
		}
		for _, spec := range gen.Specs {
			vs, ok := spec.(*ast.ValueSpec)
			if !ok {
				continue
			}
			for i, name := range vs.Names {
				if i >= len(vs.Values) {
					break
				}
				switch name.Name {
				case "ConfigVersion":
					version = vs.Values[i]
				case "Updates":
					if lit, ok := vs.Values[i].(*ast.CompositeLit); ok {
						list = lit
					}
				}
			}
		}
	}
	return version, list
}

func parseEntry(expr ast.Expr) (updates.Row, error) {
	lit, ok := expr.(*ast.CompositeLit)
	if !ok {
		return updates.Row{}, fmt.Errorf("update entry must be a struct literal")
	}

	var row updates.Row
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			return updates.Row{}, fmt.Errorf("update fields must be keyed")
		}
		key, ok := kv.Key.(*ast.Ident)
		if !ok {
			return updates.Row{}, fmt.Errorf("unexpected field key")
		}

		switch key.Name {
		case "ID":
			id, err := stringValue(kv.Value)
			if err != nil {
				return updates.Row{}, fmt.Errorf("ID: %v", err)
			}
			row.ID = id
		case "Queries", "Statements":
			queries, err := stringList(kv.Value)
			if err != nil {
				return updates.Row{}, fmt.Errorf("%s: %v", key.Name, err)
			}
			if key.Name == "Queries" {
				row.Queries = queries
			} else {
				row.Statements = queries
			}
		default:
			return updates.Row{}, fmt.Errorf("unknown field %s", key.Name)
		}
	}
	return row, nil
}

func stringList(expr ast.Expr) ([]string, error) {
	lit, ok := expr.(*ast.CompositeLit)
	if !ok {
		return nil, fmt.Errorf("expected a []string literal")
	}
	out := make([]string, 0, len(lit.Elts))
	for _, elt := range lit.Elts {
		s, err := stringValue(elt)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// stringValue evaluates a string literal or a concatenation of literals.
func stringValue(expr ast.Expr) (string, error) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if e.Kind != token.STRING {
			return "", fmt.Errorf("expected a string literal, got %s", e.Kind)
		}
		return strconv.Unquote(e.Value)
	case *ast.BinaryExpr:
		if e.Op != token.ADD {
			return "", fmt.Errorf("unsupported operator %s", e.Op)
		}
		left, err := stringValue(e.X)
		if err != nil {
			return "", err
		}
		right, err := stringValue(e.Y)
		if err != nil {
			return "", err
		}
		return left + right, nil
	case *ast.ParenExpr:
		return stringValue(e.X)
	}
	return "", fmt.Errorf("expected a string literal")
}

func renderEntry(u updates.Update, indent string) string {
	var b strings.Builder
	b.WriteString(indent + "{\n")
	b.WriteString(indent + "\tID: " + strconv.Quote(u.ID()) + ",\n")
	b.WriteString(indent + "\tQueries: []string{\n")
	for _, stmt := range u.Statements() {
		b.WriteString(indent + "\t\t" + strconv.Quote(stmt) + ",\n")
	}
	b.WriteString(indent + "\t},\n")
	b.WriteString(indent + "},\n")
	return b.String()
}
