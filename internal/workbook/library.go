package workbook

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNoScenario is returned when a library has no workbook with that name.
var ErrNoScenario = errors.New("scenario not found")

var libraryExts = []string{".yaml", ".yml", ".toml", ".json"}

// Library loads named scenarios from a directory of workbook files. Loaded
// workbooks are resolved and cached by name.
type Library struct {
	dir  string
	mu   sync.Mutex
	byID map[string]*Workbook
}

// NewLibrary returns a library rooted at dir.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir, byID: make(map[string]*Workbook)}
}

// Get returns the resolved workbook stored as <name>.yaml, .yml, .toml or
// .json. The scenario id defaults to name and generated weather is seeded
// from it.
func (l *Library) Get(name string) (*Workbook, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("scenario %q: %w", name, ErrNoScenario)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if wb, ok := l.byID[name]; ok {
		return wb, nil
	}

	for _, ext := range libraryExts {
		path := filepath.Join(l.dir, name+ext)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat scenario: %w", err)
		}
		wb, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load scenario %s: %w", name, err)
		}
		wb = Resolve(wb, ResolveOptions{ScenarioID: name, Seed: seedOf(name)})
		l.byID[name] = wb
		return wb, nil
	}
	return nil, fmt.Errorf("scenario %q: %w", name, ErrNoScenario)
}

// Names lists the scenarios available in the directory.
func (l *Library) Names() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		for _, known := range libraryExts {
			if ext == known {
				out = append(out, strings.TrimSuffix(e.Name(), ext))
				break
			}
		}
	}
	return out, nil
}

func seedOf(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
