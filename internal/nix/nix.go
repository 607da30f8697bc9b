// Package nix wraps the external nix tooling the updater depends on: the
// attribute evaluator and the prefetch helpers that compute source hashes.
package nix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Root locates the top of the nixpkgs working tree.
func Root(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", fmt.Errorf("locating nixpkgs root: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Evaluator reads attribute values from the package collection without
// re-parsing definition text.
type Evaluator struct {
	// Root is the nixpkgs checkout containing default.nix.
	Root string
}

// Value evaluates attrPath to its JSON value. Attributes that are absent
// or fail to evaluate yield nil without an error, mirroring how callers
// treat missing flags as unset.
func (e *Evaluator) Value(ctx context.Context, attrPath string) any {
	out, err := exec.CommandContext(ctx, "nix",
		"--extra-experimental-features", "nix-command",
		"eval", "-f", e.Root+"/default.nix", "--json", attrPath,
	).Output()
	if err != nil {
		return nil
	}
	var value any
	if err := json.Unmarshal(out, &value); err != nil {
		return nil
	}
	return value
}

// Raw evaluates attrPath as a raw string.
func (e *Evaluator) Raw(ctx context.Context, attrPath string) (string, error) {
	out, err := exec.CommandContext(ctx, "nix",
		"--extra-experimental-features", "nix-command",
		"eval", "-f", e.Root+"/default.nix", "--raw", attrPath,
	).Output()
	if err != nil {
		return "", fmt.Errorf("evaluating %s: %w", attrPath, err)
	}
	return string(out), nil
}

// Prefetcher computes content hashes by downloading sources through the
// nix prefetch helpers.
type Prefetcher struct{}

// URL fetches url with nix-prefetch-url --unpack and returns the base32
// sha256 digest it prints.
func (Prefetcher) URL(ctx context.Context, url string) (string, error) {
	cmd := exec.CommandContext(ctx, "nix-prefetch-url", "--type", "sha256", "--unpack", url)
	cmd.Stderr = nil
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("nix-prefetch-url %s: %w", url, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Git fetches the exact rev of a repository with nix-prefetch-git and
// returns the hex sha256 digest from its JSON report.
func (Prefetcher) Git(ctx context.Context, url, rev string, submodules, lfs, leaveDotGit bool) (string, error) {
	args := []string{url, "--hash", "sha256", "--rev", rev}
	if submodules {
		args = append(args, "--fetch-submodules")
	}
	if lfs {
		args = append(args, "--fetch-lfs")
	}
	if leaveDotGit {
		args = append(args, "--leave-dotGit")
	}
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, "nix-prefetch-git", args...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("nix-prefetch-git %s at %s: %w", url, rev, err)
	}
	var report struct {
		SHA256 string `json:"sha256"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return "", fmt.Errorf("parsing nix-prefetch-git output: %w", err)
	}
	return report.SHA256, nil
}
