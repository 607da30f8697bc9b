// Package updater drives one package definition through a full update
// attempt: read, resolve, fetch, patch, write. Every attempt is
// independent; the file is only written after all substitutions succeed.
package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/nixtools/pybump/internal/checksum"
	"github.com/nixtools/pybump/internal/fetcher"
	"github.com/nixtools/pybump/internal/nixfile"
	"github.com/nixtools/pybump/internal/version"
)

// AttrPathEnv overrides the attribute path of the package being updated.
// It is set when the updater runs as a package's updateScript, where the
// package may live outside the python module set.
const AttrPathEnv = "UPDATE_NIX_ATTR_PATH"

// defaultAttrPrefix locates python packages in the collection.
const defaultAttrPrefix = "python3Packages."

// Options is the immutable per-run configuration threaded through every
// update attempt.
type Options struct {
	Target version.BumpLevel
	// BulkUpdate is enabled when several packages are updated in one
	// run; packages can opt out of bulk runs through skipBulkUpdate.
	BulkUpdate bool
	// AttrPathOverride replaces the derived attribute path, normally
	// sourced from AttrPathEnv.
	AttrPathOverride string
}

// Outcome reports a finished update attempt. Updated is false for a
// package already at its resolved latest version, in which case the file
// was left byte-identical.
type Outcome struct {
	Path       string
	Pname      string
	AttrPath   string
	Target     version.BumpLevel
	OldVersion string
	NewVersion string
	Updated    bool
}

// Updater applies single-package updates.
type Updater struct {
	eval     fetcher.Evaluator
	fetchers map[nixfile.Fetcher]fetcher.Fetcher
	opts     Options
}

// New assembles an updater from its collaborators. The fetchers map binds
// each recognized fetch-call marker to the fetcher handling it.
func New(eval fetcher.Evaluator, fetchers map[nixfile.Fetcher]fetcher.Fetcher, opts Options) *Updater {
	return &Updater{eval: eval, fetchers: fetchers, opts: opts}
}

// Update runs the full state machine for one definition file. A directory
// argument refers to the default.nix inside it. On failure the file is
// untouched and the returned error carries a skip reason.
func (u *Updater) Update(ctx context.Context, path string) (*Outcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fail(ReadError, path, err)
	}
	if info.IsDir() {
		path = filepath.Join(path, "default.nix")
		if info, err = os.Stat(path); err != nil {
			return nil, fail(ReadError, path, err)
		}
	}
	if !strings.HasSuffix(path, ".nix") {
		return nil, fail(ReadError, path, fmt.Errorf("not a nix expression"))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fail(ReadError, path, err)
	}
	text := string(raw)

	// Many definitions declare more than one pname, e.g. a package
	// distributed both as backports-zoneinfo and backports.zoneinfo.
	pnames := nixfile.Values("pname", text)

	current, err := nixfile.UniqueValue("version", text)
	if err != nil {
		return nil, classify(path, err)
	}
	currentVersion, err := goversion.NewVersion(current)
	if err != nil {
		return nil, fail(ReadError, path, fmt.Errorf("declared version %q: %w", current, err))
	}

	kind, err := nixfile.DetermineFetcher(text)
	if err != nil {
		return nil, classify(path, err)
	}
	extension, err := nixfile.DetermineExtension(text, kind)
	if err != nil {
		return nil, classify(path, err)
	}
	f, ok := u.fetchers[kind]
	if !ok {
		return nil, fail(NoFetcherMarker, path, fmt.Errorf("no fetcher registered for %s", kind))
	}

	result, pname, attrPath, err := u.fetchAny(ctx, f, pnames, extension, currentVersion)
	if err != nil {
		if ue, ok := err.(*Error); ok {
			ue.Path = path
			return nil, ue
		}
		// With a single declared pname the underlying failure is the
		// whole story; with several, all that is known is that none
		// of them matched.
		if len(pnames) == 1 {
			if ce := classify(path, err); ce.Reason != ReadError {
				return nil, ce
			}
		}
		return nil, fail(NoMatchingIdentifier, path, err)
	}

	outcome := &Outcome{
		Path:       path,
		Pname:      pname,
		AttrPath:   attrPath,
		Target:     u.opts.Target,
		OldVersion: current,
		NewVersion: result.Version.Original(),
	}
	if outcome.NewVersion == current {
		return outcome, nil
	}
	if result.Version.Compare(currentVersion) <= 0 {
		return nil, fail(Downgrade, path, fmt.Errorf("%s would go from %s to %s", pname, current, outcome.NewVersion))
	}
	if result.Checksum == "" {
		return nil, fail(NoArtifact, path, fmt.Errorf("no file available for %s %s", pname, outcome.NewVersion))
	}

	text, err = nixfile.ReplaceAssignment("version", outcome.NewVersion, text, "")
	if err != nil {
		return nil, classify(path, err)
	}

	// Index digests are hex encoded and prefetched digests base32
	// encoded; both normalize to the SRI form stored in definitions.
	sri, err := checksum.ToSRI(result.Algorithm, result.Checksum)
	if err != nil {
		return nil, classify(path, err)
	}

	// The previously recorded hash comes from the resolved build
	// metadata, not from the text, so the right one of several
	// co-located hash assignments is replaced.
	oldHash, ok := u.eval.Value(ctx, attrPath+".src.outputHash").(string)
	if !ok || oldHash == "" {
		return nil, fail(NoOldHash, path, fmt.Errorf("unable to retrieve old hash for %s", pname))
	}
	patched, err := nixfile.ReplaceAssignment("hash", sri, text, oldHash)
	if err != nil {
		if patched, err = nixfile.ReplaceAssignment("sha256", sri, text, oldHash); err != nil {
			return nil, classify(path, err)
		}
	}
	text = patched

	if kind == nixfile.FetchFromGitHub {
		if text, err = nixfile.RewriteRevision(text, result.TagPrefix); err != nil {
			return nil, classify(path, err)
		}
		text = nixfile.RewriteChangelog(text)
	}

	if err := os.WriteFile(path, []byte(text), info.Mode().Perm()); err != nil {
		return nil, fail(ReadError, path, err)
	}
	outcome.Updated = true
	return outcome, nil
}

// fetchAny attempts the fetch once per declared pname, in declaration
// order, keeping the first success. Bulk opt-outs and unsupported build
// dependencies abort the package outright instead of moving on.
func (u *Updater) fetchAny(ctx context.Context, f fetcher.Fetcher, pnames []string, extension string, current *goversion.Version) (*fetcher.Result, string, string, error) {
	var lastErr error
	for _, pname := range pnames {
		attrPath := u.opts.AttrPathOverride
		if attrPath == "" {
			attrPath = defaultAttrPrefix + pname
		}
		if u.opts.BulkUpdate && boolValue(u.eval.Value(ctx, attrPath+".skipBulkUpdate")) {
			return nil, "", "", fail(BulkSkip, "", fmt.Errorf("bulk update skipped for %s", pname))
		}
		if u.eval.Value(ctx, attrPath+".cargoDeps") != nil {
			return nil, "", "", fail(UnsupportedBuildDependency, "", fmt.Errorf("cargo dependencies are unsupported, skipping %s", pname))
		}
		result, err := f.FindLatest(ctx, attrPath, pname, extension, current, u.opts.Target)
		if err != nil {
			lastErr = err
			continue
		}
		return result, pname, attrPath, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no pname declared")
	}
	return nil, "", "", lastErr
}

func boolValue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
