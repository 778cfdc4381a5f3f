package toolkit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// PreviewLen bounds the preview text returned when saving an artifact.
const PreviewLen = 400

// Artifacts is a flat directory of named text files written by tools.
type Artifacts struct {
	dir string
}

// NewArtifacts creates the artifacts store, creating dir if needed.
func NewArtifacts(dir string) (*Artifacts, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &Artifacts{dir: abs}, nil
}

// Dir returns the artifacts directory.
func (a *Artifacts) Dir() string { return a.dir }

// safeName strips any directory component and replaces characters outside
// [A-Za-z0-9._-] with underscores. Empty names become "artifact.txt".
func safeName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(os.PathSeparator) || base == "" {
		return "artifact.txt"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r > unicode.MaxASCII:
			b.WriteByte('_')
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || strings.Trim(out, ".") == "" {
		return "artifact.txt"
	}
	return out
}

// SaveText writes text under a sanitized name. When overwrite is false and
// the file exists, a numeric suffix is appended before the extension.
func (a *Artifacts) SaveText(name, text string, overwrite bool) (string, error) {
	base := safeName(name)
	path := filepath.Join(a.dir, base)
	if !overwrite {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		for i := 1; ; i++ {
			if _, err := os.Stat(path); os.IsNotExist(err) {
				break
			}
			path = filepath.Join(a.dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		}
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}
	return path, nil
}

// ReadText reads a stored artifact back by name.
func (a *Artifacts) ReadText(name string) (string, error) {
	path := filepath.Join(a.dir, safeName(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return string(data), nil
}

// List returns artifact file names sorted by most recently modified first.
func (a *Artifacts) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	type stamped struct {
		name string
		mod  int64
	}
	var files []stamped
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, stamped{e.Name(), info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod != files[j].mod {
			return files[i].mod > files[j].mod
		}
		return files[i].name < files[j].name
	})
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// Preview returns the first PreviewLen characters of text.
func Preview(text string) string {
	if len(text) <= PreviewLen {
		return text
	}
	return text[:PreviewLen]
}
