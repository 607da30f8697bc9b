// Package fetcher discovers the newest allowed upstream release of a
// package and the checksum of its source artifact. Two provenances are
// supported: packages published on the PyPI index and packages released
// through GitHub.
package fetcher

import (
	"context"
	"errors"

	goversion "github.com/hashicorp/go-version"

	"github.com/nixtools/pybump/internal/version"
)

var (
	// ErrVersionNotListed reports an index inconsistency: the resolved
	// version disappeared between listing and lookup.
	ErrVersionNotListed = errors.New("resolved version not listed by index")
	ErrNoHomepage       = errors.New("unable to determine homepage")
	ErrUnsupportedHost  = errors.New("homepage is not a supported code host")
	ErrNoStableRelease  = errors.New("no stable release found")
	ErrChecksumFetch    = errors.New("fetching source checksum failed")
	ErrNetwork          = errors.New("network request failed")
)

// Result is the outcome of one successful upstream lookup. Checksum holds
// the raw digest as published or computed; it is empty when the resolved
// release carries no artifact matching the requested extension.
type Result struct {
	Version   *goversion.Version
	Checksum  string
	Algorithm string
	TagPrefix string
}

// Fetcher finds the newest candidate release for one package.
type Fetcher interface {
	Name() string
	FindLatest(ctx context.Context, attrPath, pname, extension string, current *goversion.Version, target version.BumpLevel) (*Result, error)
}

// Evaluator reads attribute values from the enclosing package collection.
// Value returns nil for absent attributes.
type Evaluator interface {
	Value(ctx context.Context, attrPath string) any
	Raw(ctx context.Context, attrPath string) (string, error)
}

// Prefetcher computes content digests for a URL or an exact VCS ref.
type Prefetcher interface {
	URL(ctx context.Context, url string) (string, error)
	Git(ctx context.Context, url, rev string, submodules, lfs, leaveDotGit bool) (string, error)
}
