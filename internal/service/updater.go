// Package service runs update batches: a bounded worker pool processes
// packages in parallel, then an optional strictly sequential commit phase
// records one commit per updated package.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/nixtools/pybump/internal/api"
	"github.com/nixtools/pybump/internal/fetcher"
	"github.com/nixtools/pybump/internal/git"
	"github.com/nixtools/pybump/internal/updater"
	"github.com/nixtools/pybump/internal/version"
)

// DefaultPrefix is the commit message prefix for python packages.
const DefaultPrefix = "python: "

// commitTrailer closes every generated commit message.
const commitTrailer = "This commit was automatically generated using pybump."

// Result is the reported outcome of one package in a batch.
type Result struct {
	Path       string `json:"path"`
	Pname      string `json:"pname,omitempty"`
	Target     string `json:"target"`
	OldVersion string `json:"old_version,omitempty"`
	NewVersion string `json:"new_version,omitempty"`
	Updated    bool   `json:"updated"`
	CommitHash string `json:"commit_hash,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`

	// snapshot holds the pre-update file content and mode so a failed
	// commit can restore the file.
	snapshot     []byte
	snapshotMode os.FileMode
	// attrPath locates the package in the collection for changelog lookup.
	attrPath string
}

// Batch wires an updater into a concurrent run over many packages.
// Committer and Hub are optional; a nil Committer disables the commit
// phase and a nil Hub disables progress events.
type Batch struct {
	Updater   *updater.Updater
	Eval      fetcher.Evaluator
	Committer *git.Committer
	Hub       *api.Hub
	Logger    *log.Logger
	Workers   int
	Target    version.BumpLevel
	// Prefix is prepended to commit messages, e.g. "python: " or
	// "python3Packages.".
	Prefix string
}

// Run processes every path on the worker pool and returns one result per
// path, in input order. Failures are per-package skips; the batch always
// runs to completion.
func (b *Batch) Run(ctx context.Context, paths []string) []Result {
	logger := b.logger()
	workers := b.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, len(paths))
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			results[i] = b.updateOne(ctx, path)
			return nil
		})
	}
	// Workers never return errors; every failure lands in its result.
	_ = g.Wait()

	if b.Committer != nil {
		b.commitAll(ctx, results)
	}

	updated := 0
	for _, r := range results {
		if r.Updated {
			updated++
		}
	}
	logger.Info("finished updating packages", "updated", updated, "total", len(paths))
	return results
}

func (b *Batch) updateOne(ctx context.Context, path string) Result {
	logger := b.logger()
	result := Result{Path: path, Target: b.Target.String()}
	snapshot, snapshotMode := readSnapshot(path)

	outcome, err := b.Updater.Update(ctx, path)
	if err != nil {
		var ue *updater.Error
		if errors.As(err, &ue) {
			result.Path = ue.Path
			result.Reason = string(ue.Reason)
		}
		result.Message = err.Error()
		logger.Warn("skipping package", "path", result.Path, "reason", result.Reason, "err", err)
		b.publish(api.Event{Path: result.Path, Status: api.StatusSkipped, Reason: result.Reason})
		return result
	}

	result.Path = outcome.Path
	result.Pname = outcome.Pname
	result.OldVersion = outcome.OldVersion
	result.NewVersion = outcome.NewVersion

	if !outcome.Updated {
		result.Message = fmt.Sprintf("no update available for %s", outcome.Pname)
		logger.Info("no update available", "path", outcome.Path, "pname", outcome.Pname, "version", outcome.OldVersion)
		b.publish(api.Event{Path: outcome.Path, Pname: outcome.Pname, Status: api.StatusUpToDate, OldVersion: outcome.OldVersion})
		return result
	}

	result.Updated = true
	result.snapshot = snapshot
	result.snapshotMode = snapshotMode
	result.attrPath = outcome.AttrPath
	logger.Info("updated package", "path", outcome.Path, "pname", outcome.Pname, "from", outcome.OldVersion, "to", outcome.NewVersion)
	b.publish(api.Event{
		Path:       outcome.Path,
		Pname:      outcome.Pname,
		Status:     api.StatusUpdated,
		OldVersion: outcome.OldVersion,
		NewVersion: outcome.NewVersion,
	})
	return result
}

// commitAll creates one commit per updated package. Commits share the
// working tree, so this phase is intentionally single-threaded. A failed
// commit restores the file from its snapshot and the batch moves on.
func (b *Batch) commitAll(ctx context.Context, results []Result) {
	logger := b.logger()
	for i := range results {
		r := &results[i]
		if !r.Updated {
			continue
		}
		hash, err := b.Committer.Commit(r.Path, b.commitMessage(ctx, r))
		if err != nil {
			b.restoreFailed(r, err)
			continue
		}
		r.CommitHash = hash
		logger.Info("committed update", "path", r.Path, "commit", hash)
		b.publish(api.Event{Path: r.Path, Pname: r.Pname, Status: api.StatusCommitted, NewVersion: r.NewVersion})
	}
}

// restoreFailed rolls a package whose commit failed back to its snapshot,
// keeping the captured file mode, and downgrades the result to a skip.
func (b *Batch) restoreFailed(r *Result, err error) {
	logger := b.logger()
	logger.Error("commit failed, restoring file", "path", r.Path, "err", err)
	if r.snapshot != nil {
		if werr := os.WriteFile(r.Path, r.snapshot, r.snapshotMode); werr != nil {
			logger.Error("restoring file failed", "path", r.Path, "err", werr)
		}
	}
	r.Updated = false
	r.Message = fmt.Sprintf("commit failed: %v", err)
}

// commitMessage renders `<prefix><pname>: <old> -> <new>`, appending the
// package changelog when the evaluator can produce one.
func (b *Batch) commitMessage(ctx context.Context, r *Result) string {
	prefix := b.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	msg := fmt.Sprintf("%s%s: %s -> %s", prefix, r.Pname, r.OldVersion, r.NewVersion)
	if b.Eval != nil && r.attrPath != "" {
		if changelog, ok := b.Eval.Value(ctx, r.attrPath+".meta.changelog").(string); ok && changelog != "" {
			msg += "\n\n" + changelog
		}
	}
	return msg + "\n\n" + commitTrailer
}

func (b *Batch) publish(e api.Event) {
	if b.Hub != nil {
		b.Hub.Publish(e)
	}
}

func (b *Batch) logger() *log.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return log.Default()
}

// readSnapshot captures the current content and mode of the definition a
// path refers to, resolving directory arguments the same way the updater
// does.
func readSnapshot(path string) ([]byte, os.FileMode) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "default.nix")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0
	}
	return data, info.Mode().Perm()
}
