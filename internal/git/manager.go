// Package git creates the per-package commits that follow a batch run.
// Committing is strictly sequential: all commits target the same working
// tree, so interleaving them from workers would corrupt the index.
package git

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Committer stages and commits updated definition files in a nixpkgs
// working tree.
type Committer struct {
	root  string
	repo  *git.Repository
	name  string
	email string
}

// Open attaches to the repository at root. Author identity is taken from
// the run configuration, not from the repository config, so automated
// commits are attributable to the updater.
func Open(root, name, email string) (*Committer, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", root, err)
	}
	return &Committer{root: root, repo: repo, name: name, email: email}, nil
}

// Commit stages the single file at path and commits it with message,
// returning the commit hash.
func (c *Committer) Commit(path, message string) (string, error) {
	workTree, err := c.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}

	relPath, err := filepath.Rel(c.root, path)
	if err != nil {
		return "", fmt.Errorf("resolving %s against %s: %w", path, c.root, err)
	}
	if _, err := workTree.Add(relPath); err != nil {
		return "", fmt.Errorf("staging %s: %w", relPath, err)
	}

	commit, err := workTree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  c.name,
			Email: c.email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing %s: %w", relPath, err)
	}
	return commit.String(), nil
}
