package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goversion "github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixtools/pybump/internal/fetcher"
	"github.com/nixtools/pybump/internal/nixfile"
	"github.com/nixtools/pybump/internal/version"
)

const (
	oldSRI = "sha256-lLXmcGPbJXLY0lkIX0xM7TrM9f4meLtJ3mXadx2/YRM="
	newHex = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	newSRI = "sha256-uU0nuZNNPgilLlLX2n2r+sSE7+N6U4DukIj3rOLvzek="
)

const pypiDefinition = `{ lib
, buildPythonPackage
, fetchPypi
}:

buildPythonPackage rec {
  pname = "requests";
  version = "2.31.0";
  format = "setuptools";

  src = fetchPypi {
    inherit pname version;
    hash = "` + oldSRI + `";
  };
}
`

const githubDefinition = `{ lib
, buildPythonPackage
, fetchFromGitHub
}:

buildPythonPackage rec {
  pname = "example";
  version = "1.0.0";
  format = "pyproject";

  src = fetchFromGitHub {
    owner = "acme";
    repo = "example";
    rev = "refs/tags/v${version}";
    hash = "` + oldSRI + `";
  };

  meta = {
    changelog = "https://github.com/acme/example/releases/tag/v${version}";
  };
}
`

type fakeEval struct {
	values map[string]any
}

func (f *fakeEval) Value(ctx context.Context, attrPath string) any {
	return f.values[attrPath]
}

func (f *fakeEval) Raw(ctx context.Context, attrPath string) (string, error) {
	v, ok := f.values[attrPath].(string)
	if !ok {
		return "", errors.New("attribute missing")
	}
	return v, nil
}

// fakeFetcher serves one canned result or error per pname and records the
// attribute paths it was queried with.
type fakeFetcher struct {
	results   map[string]*fetcher.Result
	errs      map[string]error
	attrPaths []string
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) FindLatest(ctx context.Context, attrPath, pname, extension string, current *goversion.Version, target version.BumpLevel) (*fetcher.Result, error) {
	f.attrPaths = append(f.attrPaths, attrPath)
	if err, ok := f.errs[pname]; ok {
		return nil, err
	}
	if r, ok := f.results[pname]; ok {
		return r, nil
	}
	return nil, errors.New("unknown pname")
}

func result(ver, hexDigest string) *fetcher.Result {
	return &fetcher.Result{
		Version:   goversion.Must(goversion.NewVersion(ver)),
		Checksum:  hexDigest,
		Algorithm: "sha256",
	}
}

func writeDefinition(t *testing.T, text string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "default.nix")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func newUpdater(f fetcher.Fetcher, eval fetcher.Evaluator, opts Options) *Updater {
	return New(eval, map[nixfile.Fetcher]fetcher.Fetcher{
		nixfile.FetchPypi:       f,
		nixfile.FetchURL:        f,
		nixfile.FetchFromGitHub: f,
	}, opts)
}

func TestUpdatePypi(t *testing.T) {
	path := writeDefinition(t, pypiDefinition)
	eval := &fakeEval{values: map[string]any{
		"python3Packages.requests.src.outputHash": oldSRI,
	}}
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		"requests": result("2.32.1", newHex),
	}}
	u := newUpdater(f, eval, Options{Target: version.Major})

	// A directory argument refers to the default.nix inside it.
	outcome, err := u.Update(context.Background(), filepath.Dir(path))
	require.NoError(t, err)

	assert.True(t, outcome.Updated)
	assert.Equal(t, path, outcome.Path)
	assert.Equal(t, "requests", outcome.Pname)
	assert.Equal(t, "python3Packages.requests", outcome.AttrPath)
	assert.Equal(t, "2.31.0", outcome.OldVersion)
	assert.Equal(t, "2.32.1", outcome.NewVersion)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(got), `version = "2.32.1";`)
	assert.Contains(t, string(got), `hash = "`+newSRI+`";`)
	assert.NotContains(t, string(got), oldSRI)
}

func TestUpdateNoOp(t *testing.T) {
	path := writeDefinition(t, pypiDefinition)
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		"requests": result("2.31.0", newHex),
	}}
	u := newUpdater(f, &fakeEval{}, Options{Target: version.Major})

	outcome, err := u.Update(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, outcome.Updated)
	assert.Equal(t, outcome.OldVersion, outcome.NewVersion)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pypiDefinition, string(got))
}

func TestUpdateDowngrade(t *testing.T) {
	path := writeDefinition(t, pypiDefinition)
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		"requests": result("2.30.0", newHex),
	}}
	u := newUpdater(f, &fakeEval{}, Options{Target: version.Major})

	_, err := u.Update(context.Background(), path)
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, Downgrade, ue.Reason)
	assert.Equal(t, path, ue.Path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pypiDefinition, string(got))
}

func TestUpdateNoArtifact(t *testing.T) {
	path := writeDefinition(t, pypiDefinition)
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		"requests": result("2.32.1", ""),
	}}
	u := newUpdater(f, &fakeEval{}, Options{Target: version.Major})

	_, err := u.Update(context.Background(), path)
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, NoArtifact, ue.Reason)
}

func TestUpdateNoOldHash(t *testing.T) {
	path := writeDefinition(t, pypiDefinition)
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		"requests": result("2.32.1", newHex),
	}}
	u := newUpdater(f, &fakeEval{}, Options{Target: version.Major})

	_, err := u.Update(context.Background(), path)
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, NoOldHash, ue.Reason)
}

func TestUpdateSha256Fallback(t *testing.T) {
	text := strings.Replace(pypiDefinition,
		`hash = "`+oldSRI+`";`, `sha256 = "`+oldSRI+`";`, 1)
	path := writeDefinition(t, text)
	eval := &fakeEval{values: map[string]any{
		"python3Packages.requests.src.outputHash": oldSRI,
	}}
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		"requests": result("2.32.1", newHex),
	}}
	u := newUpdater(f, eval, Options{Target: version.Major})

	_, err := u.Update(context.Background(), path)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(got), `sha256 = "`+newSRI+`";`)
}

func TestUpdateGitHubRewritesRevAndChangelog(t *testing.T) {
	path := writeDefinition(t, githubDefinition)
	eval := &fakeEval{values: map[string]any{
		"python3Packages.example.src.outputHash": oldSRI,
	}}
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		"example": {
			Version:   goversion.Must(goversion.NewVersion("1.2.0")),
			Checksum:  newHex,
			Algorithm: "sha256",
			TagPrefix: "v",
		},
	}}
	u := newUpdater(f, eval, Options{Target: version.Major})

	outcome, err := u.Update(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, outcome.Updated)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(got)
	assert.Contains(t, text, `version = "1.2.0";`)
	assert.Contains(t, text, `tag = "v${version}";`)
	assert.NotContains(t, text, "rev =")
	assert.Contains(t, text, `changelog = "https://github.com/acme/example/releases/tag/${src.tag}";`)
}

func TestUpdateBulkSkip(t *testing.T) {
	path := writeDefinition(t, pypiDefinition)
	eval := &fakeEval{values: map[string]any{
		"python3Packages.requests.skipBulkUpdate": true,
	}}
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		"requests": result("2.32.1", newHex),
	}}
	u := newUpdater(f, eval, Options{Target: version.Major, BulkUpdate: true})

	_, err := u.Update(context.Background(), path)
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, BulkSkip, ue.Reason)
	assert.Equal(t, path, ue.Path)

	// Outside bulk mode the opt-out is ignored.
	u = newUpdater(f, eval, Options{Target: version.Major})
	_, err = u.Update(context.Background(), path)
	var ue2 *Error
	if errors.As(err, &ue2) {
		assert.NotEqual(t, BulkSkip, ue2.Reason)
	}
}

func TestUpdateCargoDependencies(t *testing.T) {
	path := writeDefinition(t, pypiDefinition)
	eval := &fakeEval{values: map[string]any{
		"python3Packages.requests.cargoDeps": "/nix/store/abc-cargo-deps",
	}}
	f := &fakeFetcher{}
	u := newUpdater(f, eval, Options{Target: version.Major})

	_, err := u.Update(context.Background(), path)
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, UnsupportedBuildDependency, ue.Reason)
}

func TestUpdateTriesEveryPname(t *testing.T) {
	text := strings.Replace(pypiDefinition, `pname = "requests";`,
		"pname = \"backports-zoneinfo\";\n  pname = \"backports.zoneinfo\";", 1)
	path := writeDefinition(t, text)
	eval := &fakeEval{values: map[string]any{
		"python3Packages.backports.zoneinfo.src.outputHash": oldSRI,
	}}
	f := &fakeFetcher{
		errs: map[string]error{"backports-zoneinfo": fetcher.ErrNetwork},
		results: map[string]*fetcher.Result{
			"backports.zoneinfo": result("2.32.1", newHex),
		},
	}
	u := newUpdater(f, eval, Options{Target: version.Major})

	outcome, err := u.Update(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "backports.zoneinfo", outcome.Pname)
	assert.Equal(t, []string{
		"python3Packages.backports-zoneinfo",
		"python3Packages.backports.zoneinfo",
	}, f.attrPaths)
}

func TestUpdateSinglePnameSurfacesFetchReason(t *testing.T) {
	path := writeDefinition(t, pypiDefinition)
	f := &fakeFetcher{errs: map[string]error{"requests": version.ErrNoVersionFound}}
	u := newUpdater(f, &fakeEval{}, Options{Target: version.Major})

	_, err := u.Update(context.Background(), path)
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, NoVersionFound, ue.Reason)
}

func TestUpdateAttrPathOverride(t *testing.T) {
	path := writeDefinition(t, pypiDefinition)
	eval := &fakeEval{values: map[string]any{
		"pkgs.requests.src.outputHash": oldSRI,
	}}
	f := &fakeFetcher{results: map[string]*fetcher.Result{
		"requests": result("2.32.1", newHex),
	}}
	u := newUpdater(f, eval, Options{Target: version.Major, AttrPathOverride: "pkgs.requests"})

	outcome, err := u.Update(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "pkgs.requests", outcome.AttrPath)
	assert.Equal(t, []string{"pkgs.requests"}, f.attrPaths)
}

func TestUpdateRejectsNonNixFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	u := newUpdater(&fakeFetcher{}, &fakeEval{}, Options{Target: version.Major})
	_, err := u.Update(context.Background(), path)
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ReadError, ue.Reason)
}
