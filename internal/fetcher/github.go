package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/go-github/v81/github"
	goversion "github.com/hashicorp/go-version"

	"github.com/nixtools/pybump/internal/version"
)

const githubPrefix = "https://github.com/"

// tagPrefixPattern captures the leading non-numeric part of a release tag,
// e.g. "v" in "v2.0.0" or "release-" in "release-1.4".
var tagPrefixPattern = regexp.MustCompile(`^[^0-9]*`)

// ReleaseLister lists the published releases of a repository.
type ReleaseLister interface {
	ListReleases(ctx context.Context, owner, repo string) ([]*github.RepositoryRelease, error)
}

type githubAPI struct {
	client *github.Client
}

// NewReleaseLister wraps the GitHub API. The http client should carry
// bearer authentication when a token is configured, since unauthenticated
// requests are rate limited aggressively.
func NewReleaseLister(httpClient *http.Client) ReleaseLister {
	return &githubAPI{client: github.NewClient(httpClient)}
}

func (a *githubAPI) ListReleases(ctx context.Context, owner, repo string) ([]*github.RepositoryRelease, error) {
	releases, _, err := a.client.Repositories.ListReleases(ctx, owner, repo, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("%w: listing releases of %s/%s: %v", ErrNetwork, owner, repo, err)
	}
	return releases, nil
}

// GitHub resolves packages hosted on GitHub through their release list.
// The checksum of the chosen release is computed by a prefetch helper,
// either over the release tarball or, for definitions that clone the
// repository, over the exact tag ref.
type GitHub struct {
	releases        ReleaseLister
	eval            Evaluator
	prefetch        Prefetcher
	allowPrerelease bool
}

// NewGitHub creates a release fetcher from its collaborators.
func NewGitHub(releases ReleaseLister, eval Evaluator, prefetch Prefetcher, allowPrerelease bool) *GitHub {
	return &GitHub{
		releases:        releases,
		eval:            eval,
		prefetch:        prefetch,
		allowPrerelease: allowPrerelease,
	}
}

// Name returns the name of this fetcher.
func (g *GitHub) Name() string {
	return "github"
}

// FindLatest resolves the package homepage to an owner/repo pair, picks
// the newest allowed stable release and computes the checksum of its
// source archive. Non-numeric tag prefixes are stripped before version
// parsing and reported back through the result for tag reconstruction.
func (g *GitHub) FindLatest(ctx context.Context, attrPath, pname, extension string, current *goversion.Version, target version.BumpLevel) (*Result, error) {
	homepage, err := g.eval.Raw(ctx, attrPath+".src.meta.homepage")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoHomepage, err)
	}
	owner, repo, err := splitHomepage(homepage)
	if err != nil {
		return nil, err
	}

	all, err := g.releases.ListReleases(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	var stable []*github.RepositoryRelease
	for _, r := range all {
		if !r.GetPrerelease() {
			stable = append(stable, r)
		}
	}
	if len(stable) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoStableRelease, homepage)
	}

	candidates := make([]string, 0, len(stable))
	for _, r := range stable {
		candidates = append(candidates, stripTagPrefix(r.GetTagName()))
	}
	resolved, err := version.Resolve(current, target, candidates, g.allowPrerelease)
	if err != nil {
		return nil, err
	}

	var release *github.RepositoryRelease
	for _, r := range stable {
		if stripTagPrefix(r.GetTagName()) == resolved.Original() {
			release = r
			break
		}
	}
	if release == nil {
		return nil, fmt.Errorf("%w: %s/%s tag for %s", ErrVersionNotListed, owner, repo, resolved.Original())
	}
	prefix := tagPrefixPattern.FindString(release.GetTagName())

	digest, err := g.fetchChecksum(ctx, attrPath, owner, repo, release)
	if err != nil {
		return nil, err
	}
	return &Result{
		Version:   resolved,
		Checksum:  digest,
		Algorithm: "sha256",
		TagPrefix: prefix,
	}, nil
}

// fetchChecksum picks the checksum strategy declared by the definition.
// Definitions flagged with a git fetcher need a full clone of the tag so
// that submodule, LFS and dotfile retention flags are honored; everything
// else downloads the release tarball.
func (g *GitHub) fetchChecksum(ctx context.Context, attrPath, owner, repo string, release *github.RepositoryRelease) (string, error) {
	if kind, ok := g.eval.Value(ctx, attrPath+".src.fetcher").(string); ok && strings.HasSuffix(kind, "nix-prefetch-git") {
		digest, err := g.prefetch.Git(ctx,
			fmt.Sprintf("https://github.com/%s/%s.git", owner, repo),
			"refs/tags/"+release.GetTagName(),
			boolAttr(g.eval.Value(ctx, attrPath+".src.fetchSubmodules")),
			boolAttr(g.eval.Value(ctx, attrPath+".src.fetchLFS")),
			boolAttr(g.eval.Value(ctx, attrPath+".src.leaveDotGit")),
		)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrChecksumFetch, err)
		}
		return digest, nil
	}

	tarball := release.GetTarballURL()
	digest, err := g.prefetch.URL(ctx, tarball)
	if err == nil {
		return digest, nil
	}
	// An archive fetch fails when a branch and a tag share the release
	// name; retry once against the unambiguous refs/tags form.
	tagURL := strings.Replace(tarball, "tarball", "tarball/refs/tags", 1)
	digest, err = g.prefetch.URL(ctx, tagURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrChecksumFetch, err)
	}
	return digest, nil
}

func splitHomepage(homepage string) (owner, repo string, err error) {
	if !strings.HasPrefix(homepage, githubPrefix) {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedHost, homepage)
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(homepage, githubPrefix), "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedHost, homepage)
	}
	return parts[0], parts[1], nil
}

func stripTagPrefix(tag string) string {
	return tagPrefixPattern.ReplaceAllString(tag, "")
}

func boolAttr(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
