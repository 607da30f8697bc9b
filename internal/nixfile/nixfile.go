// Package nixfile reads and surgically patches .nix package definitions.
// All mutation goes through exact-count assignment replacement so that a
// rewrite never disturbs bytes outside the targeted line.
package nixfile

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Fetcher identifies how a definition obtains its source artifact.
type Fetcher string

const (
	FetchFromGitHub Fetcher = "fetchFromGitHub"
	FetchPypi       Fetcher = "fetchPypi"
	FetchURL        Fetcher = "fetchurl"
)

// fetchers lists the recognized fetch-call markers in detection order.
var fetchers = []Fetcher{FetchFromGitHub, FetchPypi, FetchURL}

var (
	ErrNoFetcher         = errors.New("no fetcher found")
	ErrAmbiguousFetcher  = errors.New("multiple fetchers found")
	ErrUnsupportedFormat = errors.New("unsupported source format")
)

// defaultExtension is assumed for setuptools-style source distributions.
const defaultExtension = "tar.gz"

// formatExtensions maps a declared build format to the archive extension
// published for it on the package index.
var formatExtensions = map[string]string{
	"setuptools": defaultExtension,
	"wheel":      "whl",
	"pyproject":  "tar.gz",
	"flit":       "tar.gz",
}

// DetermineFetcher scans text for fetch-call markers. Exactly one
// occurrence must be present; a definition with several sources, even of
// the same kind, cannot be updated mechanically.
func DetermineFetcher(text string) (Fetcher, error) {
	var (
		found Fetcher
		total int
	)
	for _, f := range fetchers {
		n := strings.Count(text, fmt.Sprintf("src = %s", f))
		if n > 0 {
			found = f
			total += n
		}
	}
	switch total {
	case 0:
		return "", ErrNoFetcher
	case 1:
		return found, nil
	}
	return "", ErrAmbiguousFetcher
}

// DetermineExtension works out which archive extension the definition
// expects:
//
//   - fetchPypi honors explicit extension and format attributes, falling
//     back to the setuptools default;
//   - fetchurl infers the extension from the declared url, which must point
//     at the package index;
//   - fetchFromGitHub always downloads a tar.gz archive.
func DetermineExtension(text string, fetcher Fetcher) (string, error) {
	switch fetcher {
	case FetchPypi:
		if ext, err := UniqueValue("extension", text); err == nil {
			return ext, nil
		}
		format, err := UniqueValue("format", text)
		if err != nil {
			format = "setuptools"
		}
		if format == "other" {
			return "", fmt.Errorf("%w: format=other", ErrUnsupportedFormat)
		}
		ext, ok := formatExtensions[format]
		if !ok {
			return "", fmt.Errorf("%w: format=%s", ErrUnsupportedFormat, format)
		}
		return ext, nil

	case FetchURL:
		url, err := UniqueValue("url", text)
		if err != nil {
			return "", err
		}
		if !strings.Contains(url, "pypi") {
			return "", fmt.Errorf("%w: url does not point at the package index", ErrUnsupportedFormat)
		}
		return strings.TrimPrefix(filepath.Ext(url), "."), nil

	case FetchFromGitHub:
		return defaultExtension, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoFetcher, fetcher)
}
