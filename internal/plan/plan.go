// Package plan loads ordered lists of SQL steps.
//
// A plan is a directory of numbered scripts named like "0002_add_columns.sql"
// plus an optional plan.yaml manifest. Steps run in version order; each
// script is one step, and a step may hold several statements.
package plan

import (
	"bufio"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed plans seeds
var builtin embed.FS

// DefaultPlan is what `schemactl run` executes when no plan is named.
const DefaultPlan = "schema"

const manifestFile = "plan.yaml"

// Step is a single unit of work: one script, executed as one call.
type Step struct {
	Seq         int
	Name        string
	Description string
	SQL         string
}

// Expectation names columns a table must have once the plan has run.
type Expectation struct {
	Table   string   `yaml:"table"`
	Columns []string `yaml:"columns"`
}

// Plan is an ordered list of steps.
type Plan struct {
	Name        string
	Description string
	DefaultMode string
	Verify      *Expectation
	Steps       []Step
}

type manifest struct {
	Description string      `yaml:"description"`
	Mode        string      `yaml:"mode"`
	Verify      *Expectation `yaml:"verify"`
}

// Names returns the built-in plan names, sorted.
func Names() ([]string, error) {
	entries, err := fs.ReadDir(builtin, "plans")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Builtin loads one of the plans shipped with the binary.
func Builtin(name string) (*Plan, error) {
	root := path.Join("plans", name)
	if _, err := fs.Stat(builtin, root); err != nil {
		return nil, fmt.Errorf("unknown plan %q", name)
	}
	sub, err := fs.Sub(builtin, root)
	if err != nil {
		return nil, err
	}
	return Load(sub, name)
}

// LoadDir loads a plan from a directory on disk. The plan is named after the directory.
func LoadDir(dir string) (*Plan, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("plan directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("plan path is not a directory: %s", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return Load(os.DirFS(dir), filepath.Base(abs))
}

// Load reads a plan rooted at fsys.
func Load(fsys fs.FS, name string) (*Plan, error) {
	p := &Plan{Name: name}

	raw, err := fs.ReadFile(fsys, manifestFile)
	switch {
	case err == nil:
		var m manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", manifestFile, err)
		}
		p.Description = m.Description
		p.DefaultMode = m.Mode
		p.Verify = m.Verify
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", manifestFile, err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", name, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("plan %s has no .sql steps", name)
	}

	seen := make(map[int]string, len(files))
	for _, f := range files {
		v, err := scriptVersion(f)
		if err != nil {
			return nil, fmt.Errorf("plan %s: bad step name %q: %w", name, f, err)
		}
		if prev, ok := seen[v]; ok {
			return nil, fmt.Errorf("plan %s: %s and %s share version %d", name, prev, f, v)
		}
		seen[v] = f

		content, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("read step %s: %w", f, err)
		}
		stem := strings.TrimSuffix(f, ".sql")
		p.Steps = append(p.Steps, Step{
			Seq:         v,
			Name:        stem,
			Description: describe(string(content), stem),
			SQL:         strings.TrimSpace(ExtractUp(string(content))),
		})
	}
	sort.Slice(p.Steps, func(i, j int) bool { return p.Steps[i].Seq < p.Steps[j].Seq })

	return p, nil
}

// extract the version number as an integer from a file named like "0002_migration_name.sql"
func scriptVersion(filename string) (int, error) {
	vString, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, errors.New("expected NNNN_name.sql")
	}
	return strconv.Atoi(vString)
}

// ExtractUp returns the SQL in the "-- +migrate Up" section, or the whole
// script when it has no sections.
func ExtractUp(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, up)
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx+len(up):]
	if downIdx := strings.Index(rest, down); downIdx != -1 {
		return rest[:downIdx]
	}
	return rest
}

func describe(content, stem string) string {
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		body := strings.TrimSpace(strings.TrimPrefix(line, "--"))
		if d, ok := strings.CutPrefix(body, "description:"); ok {
			return strings.TrimSpace(d)
		}
	}
	_, words, _ := strings.Cut(stem, "_")
	return strings.ReplaceAll(words, "_", " ")
}
