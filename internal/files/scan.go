// Package files discovers python package definitions on disk.
package files

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// definitionMarkers identify a .nix file as a python package definition.
// Files without any marker are not update candidates.
var definitionMarkers = []string{
	"buildPythonPackage",
	"buildPythonApplication",
}

// FindDefinitions walks dir and returns every default.nix that defines a
// python package, sorted for stable batch ordering.
func FindDefinitions(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "default.nix" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if isDefinition(string(data)) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func isDefinition(text string) bool {
	for _, marker := range definitionMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
