package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	goversion "github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixtools/pybump/internal/api"
	"github.com/nixtools/pybump/internal/fetcher"
	"github.com/nixtools/pybump/internal/nixfile"
	"github.com/nixtools/pybump/internal/updater"
	"github.com/nixtools/pybump/internal/version"
)

const (
	oldSRI = "sha256-lLXmcGPbJXLY0lkIX0xM7TrM9f4meLtJ3mXadx2/YRM="
	newHex = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
)

const definitionTemplate = `{ lib, buildPythonPackage, fetchPypi }:

buildPythonPackage rec {
  pname = "PNAME";
  version = "1.0.0";
  format = "setuptools";

  src = fetchPypi {
    inherit pname version;
    hash = "` + oldSRI + `";
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
	return "", errors.New("not implemented")
}

type fakeFetcher struct {
	results map[string]*fetcher.Result
	errs    map[string]error
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) FindLatest(ctx context.Context, attrPath, pname, extension string, current *goversion.Version, target version.BumpLevel) (*fetcher.Result, error) {
	if err, ok := f.errs[pname]; ok {
		return nil, err
	}
	if r, ok := f.results[pname]; ok {
		return r, nil
	}
	return nil, errors.New("unknown pname")
}

func writePackage(t *testing.T, pname string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "default.nix")
	text := strings.Replace(definitionTemplate, "PNAME", pname, 1)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func newBatch(f fetcher.Fetcher, eval fetcher.Evaluator, workers int) *Batch {
	u := updater.New(eval, map[nixfile.Fetcher]fetcher.Fetcher{
		nixfile.FetchPypi: f,
	}, updater.Options{Target: version.Major, BulkUpdate: true})
	return &Batch{
		Updater: u,
		Eval:    eval,
		Logger:  log.New(io.Discard),
		Workers: workers,
		Target:  version.Major,
	}
}

func TestBatchRun(t *testing.T) {
	good := writePackage(t, "alpha")
	upToDate := writePackage(t, "beta")
	failing := writePackage(t, "gamma")

	eval := &fakeEval{values: map[string]any{
		"python3Packages.alpha.src.outputHash": oldSRI,
	}}
	f := &fakeFetcher{
		results: map[string]*fetcher.Result{
			"alpha": {Version: goversion.Must(goversion.NewVersion("2.0.0")), Checksum: newHex, Algorithm: "sha256"},
			"beta":  {Version: goversion.Must(goversion.NewVersion("1.0.0")), Checksum: newHex, Algorithm: "sha256"},
		},
		errs: map[string]error{"gamma": fetcher.ErrNetwork},
	}

	batch := newBatch(f, eval, 4)
	results := batch.Run(context.Background(), []string{good, upToDate, failing})
	require.Len(t, results, 3)

	// Results arrive in input order regardless of worker scheduling.
	assert.Equal(t, good, results[0].Path)
	assert.True(t, results[0].Updated)
	assert.Equal(t, "alpha", results[0].Pname)
	assert.Equal(t, "1.0.0", results[0].OldVersion)
	assert.Equal(t, "2.0.0", results[0].NewVersion)

	assert.False(t, results[1].Updated)
	assert.Empty(t, results[1].Reason)
	assert.Contains(t, results[1].Message, "no update available")

	// One failing package never aborts the batch.
	assert.False(t, results[2].Updated)
	assert.Equal(t, string(updater.NetworkError), results[2].Reason)

	got, err := os.ReadFile(good)
	require.NoError(t, err)
	assert.Contains(t, string(got), `version = "2.0.0";`)
}

func TestBatchRunPublishesEvents(t *testing.T) {
	good := writePackage(t, "alpha")
	failing := writePackage(t, "gamma")

	eval := &fakeEval{values: map[string]any{
		"python3Packages.alpha.src.outputHash": oldSRI,
	}}
	f := &fakeFetcher{
		results: map[string]*fetcher.Result{
			"alpha": {Version: goversion.Must(goversion.NewVersion("2.0.0")), Checksum: newHex, Algorithm: "sha256"},
		},
		errs: map[string]error{"gamma": fetcher.ErrNetwork},
	}

	hub := api.NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	batch := newBatch(f, eval, 1)
	batch.Hub = hub
	batch.Run(context.Background(), []string{good, failing})

	byStatus := map[string]api.Event{}
	for range 2 {
		e := <-events
		byStatus[e.Status] = e
	}
	assert.Equal(t, "alpha", byStatus[api.StatusUpdated].Pname)
	assert.Equal(t, "2.0.0", byStatus[api.StatusUpdated].NewVersion)
	assert.Equal(t, string(updater.NetworkError), byStatus[api.StatusSkipped].Reason)
}

func TestCommitMessage(t *testing.T) {
	eval := &fakeEval{values: map[string]any{
		"python3Packages.alpha.meta.changelog": "https://example.com/changelog",
	}}
	batch := &Batch{Eval: eval, Logger: log.New(io.Discard)}
	result := &Result{
		Pname:      "alpha",
		OldVersion: "1.0.0",
		NewVersion: "2.0.0",
		attrPath:   "python3Packages.alpha",
	}

	msg := batch.commitMessage(context.Background(), result)
	assert.Equal(t,
		"python: alpha: 1.0.0 -> 2.0.0\n\nhttps://example.com/changelog\n\n"+commitTrailer,
		msg)

	// A custom prefix replaces the default one.
	batch.Prefix = "python3Packages."
	msg = batch.commitMessage(context.Background(), result)
	assert.True(t, strings.HasPrefix(msg, "python3Packages.alpha: 1.0.0 -> 2.0.0"))

	// No changelog available, no changelog paragraph.
	batch.Eval = &fakeEval{values: map[string]any{}}
	batch.Prefix = ""
	msg = batch.commitMessage(context.Background(), result)
	assert.Equal(t, "python: alpha: 1.0.0 -> 2.0.0\n\n"+commitTrailer, msg)
}

func TestReadSnapshot(t *testing.T) {
	path := writePackage(t, "alpha")
	require.NoError(t, os.Chmod(path, 0o600))

	// A directory argument resolves to its default.nix, matching the
	// updater's path handling.
	snap, mode := readSnapshot(filepath.Dir(path))
	assert.Contains(t, string(snap), `pname = "alpha";`)
	assert.Equal(t, os.FileMode(0o600), mode)

	snap, _ = readSnapshot(filepath.Join(t.TempDir(), "missing.nix"))
	assert.Nil(t, snap)
}

func TestCommitFailureRestoresFileMode(t *testing.T) {
	path := writePackage(t, "alpha")
	require.NoError(t, os.Chmod(path, 0o600))
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	snapshot, mode := readSnapshot(path)
	results := []Result{{
		Path:         path,
		Pname:        "alpha",
		Updated:      true,
		snapshot:     snapshot,
		snapshotMode: mode,
	}}

	// The file may be gone by the time the commit fails; restoration
	// recreates it with the captured mode.
	batch := &Batch{Logger: log.New(io.Discard)}
	require.NoError(t, os.Remove(path))
	batch.restoreFailed(&results[0], errors.New("commit failed"))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, got)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.False(t, results[0].Updated)
}
