package updater

import (
	"errors"
	"fmt"

	"github.com/nixtools/pybump/internal/checksum"
	"github.com/nixtools/pybump/internal/fetcher"
	"github.com/nixtools/pybump/internal/nixfile"
	"github.com/nixtools/pybump/internal/version"
)

// Reason names why an update attempt was skipped or failed. Every reason
// is non-fatal to the batch: it aborts only the package it belongs to.
type Reason string

const (
	ReadError                  Reason = "ReadError"
	NoFetcherMarker            Reason = "NoFetcherMarker"
	AmbiguousFetcherMarker     Reason = "AmbiguousFetcherMarker"
	UnsupportedFormat          Reason = "UnsupportedFormat"
	NoVersionFound             Reason = "NoVersionFound"
	NoMatchingIdentifier       Reason = "NoMatchingIdentifier"
	BulkSkip                   Reason = "BulkSkip"
	UnsupportedBuildDependency Reason = "UnsupportedBuildDependency"
	Downgrade                  Reason = "Downgrade"
	NoArtifact                 Reason = "NoArtifact"
	AttributeNotFound          Reason = "AttributeNotFound"
	AmbiguousAttribute         Reason = "AmbiguousAttribute"
	NoOldHash                  Reason = "NoOldHash"
	NoRevAssignment            Reason = "NoRevAssignment"
	NoHomepage                 Reason = "NoHomepage"
	UnsupportedHost            Reason = "UnsupportedHost"
	NoStableRelease            Reason = "NoStableRelease"
	ChecksumFetchFailed        Reason = "ChecksumFetchFailed"
	UnsupportedAlgorithm       Reason = "UnsupportedAlgorithm"
	NetworkError               Reason = "NetworkError"
)

// Error is the per-package failure record surfaced to the batch.
type Error struct {
	Reason Reason
	Path   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// fail wraps err into an Error with an explicit reason.
func fail(reason Reason, path string, err error) *Error {
	return &Error{Reason: reason, Path: path, Err: err}
}

// classify maps the sentinel errors of the leaf packages onto reasons.
func classify(path string, err error) *Error {
	switch {
	case errors.Is(err, nixfile.ErrNoFetcher):
		return fail(NoFetcherMarker, path, err)
	case errors.Is(err, nixfile.ErrAmbiguousFetcher):
		return fail(AmbiguousFetcherMarker, path, err)
	case errors.Is(err, nixfile.ErrUnsupportedFormat):
		return fail(UnsupportedFormat, path, err)
	case errors.Is(err, nixfile.ErrAttributeNotFound):
		return fail(AttributeNotFound, path, err)
	case errors.Is(err, nixfile.ErrAmbiguousAttribute):
		return fail(AmbiguousAttribute, path, err)
	case errors.Is(err, nixfile.ErrNoRevAssignment):
		return fail(NoRevAssignment, path, err)
	case errors.Is(err, version.ErrNoVersionFound):
		return fail(NoVersionFound, path, err)
	case errors.Is(err, fetcher.ErrNoHomepage):
		return fail(NoHomepage, path, err)
	case errors.Is(err, fetcher.ErrUnsupportedHost):
		return fail(UnsupportedHost, path, err)
	case errors.Is(err, fetcher.ErrNoStableRelease):
		return fail(NoStableRelease, path, err)
	case errors.Is(err, fetcher.ErrChecksumFetch):
		return fail(ChecksumFetchFailed, path, err)
	case errors.Is(err, fetcher.ErrNetwork):
		return fail(NetworkError, path, err)
	case errors.Is(err, fetcher.ErrVersionNotListed):
		return fail(NoVersionFound, path, err)
	case errors.Is(err, checksum.ErrUnsupportedAlgorithm):
		return fail(UnsupportedAlgorithm, path, err)
	}
	return fail(ReadError, path, err)
}
