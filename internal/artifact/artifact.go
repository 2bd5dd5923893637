package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrDirectoryUnavailable is returned when the artifact directory is missing
// or unreadable.
var ErrDirectoryUnavailable = errors.New("artifact directory unavailable")

type Artifact struct {
	Name string
	Path string
}

// Enumerate lists regular files in dir whose name ends in ext. An empty ext
// keeps every regular file. Results are sorted by name.
func Enumerate(dir, ext string) ([]Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDirectoryUnavailable, dir, err)
	}
	var artifacts []Artifact
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ext != "" && !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		artifacts = append(artifacts, Artifact{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name < artifacts[j].Name
	})
	return artifacts, nil
}

// EnsureDir creates dir if absent.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

// Find returns the artifact with the given name, accepting the name with or
// without ext.
func Find(artifacts []Artifact, name, ext string) (Artifact, bool) {
	for _, a := range artifacts {
		if a.Name == name || (ext != "" && a.Name == name+ext) {
			return a, true
		}
	}
	return Artifact{}, false
}
