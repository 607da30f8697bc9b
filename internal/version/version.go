// Package version implements semantic-version ceiling resolution for
// package updates. Given the currently packaged version and a target bump
// level, it picks the highest upstream candidate that stays below the
// exclusive ceiling derived from the target.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// ErrNoVersionFound is returned when no candidate survives filtering.
var ErrNoVersionFound = errors.New("no version found")

// BumpLevel selects which version component is allowed to increase.
type BumpLevel int

const (
	Major BumpLevel = iota
	Minor
	Patch
)

// ParseBumpLevel parses a bump level from its flag spelling.
func ParseBumpLevel(s string) (BumpLevel, error) {
	switch s {
	case "major":
		return Major, nil
	case "minor":
		return Minor, nil
	case "patch":
		return Patch, nil
	}
	return 0, fmt.Errorf("invalid bump level %q", s)
}

func (b BumpLevel) String() string {
	switch b {
	case Major:
		return "major"
	case Minor:
		return "minor"
	case Patch:
		return "patch"
	}
	return strconv.Itoa(int(b))
}

// index is the number of leading components held fixed by the bump level.
func (b BumpLevel) index() int {
	return int(b)
}

// ceiling derives the exclusive upper bound for candidates. A major target
// has no ceiling. For minor and patch the leading components of current are
// kept and the last kept component is incremented, so e.g. current 1.9.9
// with target patch yields ceiling 1.10.
func ceiling(current *goversion.Version, target BumpLevel) *goversion.Version {
	idx := target.index()
	if idx == 0 {
		return nil
	}
	segments := current.Segments()
	if idx > len(segments) {
		idx = len(segments)
	}
	kept := make([]string, idx)
	for i := 0; i < idx-1; i++ {
		kept[i] = strconv.Itoa(segments[i])
	}
	kept[idx-1] = strconv.Itoa(segments[idx-1] + 1)
	return goversion.Must(goversion.NewVersion(strings.Join(kept, ".")))
}

// Resolve returns the highest candidate allowed by target, dropping
// candidates that do not parse, prereleases (unless allowed), and anything
// at or above the ceiling. The raw candidate string is preserved through
// the returned version's Original().
func Resolve(current *goversion.Version, target BumpLevel, candidates []string, allowPrerelease bool) (*goversion.Version, error) {
	upper := ceiling(current, target)

	var best *goversion.Version
	for _, c := range candidates {
		v, err := goversion.NewVersion(c)
		if err != nil {
			continue
		}
		if !allowPrerelease && v.Prerelease() != "" {
			continue
		}
		if upper != nil && v.Compare(upper) >= 0 {
			continue
		}
		if best == nil || v.Compare(best) > 0 {
			best = v
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w for target %s (current %s)", ErrNoVersionFound, target, current)
	}
	return best, nil
}
