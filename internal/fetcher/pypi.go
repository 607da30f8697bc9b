package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/nixtools/pybump/internal/version"
)

// DefaultIndex is the release-metadata endpoint of PyPI.
const DefaultIndex = "https://pypi.io/pypi"

// PyPI resolves packages against the package index's JSON release
// metadata. Checksums come straight from the published digests, so no
// artifact download is needed.
type PyPI struct {
	baseURL         string
	client          *http.Client
	allowPrerelease bool
}

// NewPyPI creates a fetcher against the given index base URL.
func NewPyPI(baseURL string, allowPrerelease bool) *PyPI {
	return &PyPI{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		allowPrerelease: allowPrerelease,
	}
}

// Name returns the name of this fetcher.
func (p *PyPI) Name() string {
	return "pypi"
}

type pypiFile struct {
	Filename string `json:"filename"`
	Yanked   bool   `json:"yanked"`
	Digests  struct {
		SHA256 string `json:"sha256"`
	} `json:"digests"`
}

type pypiProject struct {
	Releases map[string][]pypiFile `json:"releases"`
}

// FindLatest queries the index for pname and resolves the highest version
// allowed by target. Releases whose every file is yanked are not
// candidates. The returned checksum is empty when no file of the resolved
// release matches extension.
func (p *PyPI) FindLatest(ctx context.Context, attrPath, pname, extension string, current *goversion.Version, target version.BumpLevel) (*Result, error) {
	url := fmt.Sprintf("%s/%s/json", p.baseURL, pname)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrNetwork, url, resp.StatusCode)
	}

	var project pypiProject
	if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
		return nil, fmt.Errorf("parsing index response for %s: %w", pname, err)
	}

	var candidates []string
	for v, files := range project.Releases {
		for _, f := range files {
			if !f.Yanked {
				candidates = append(candidates, v)
				break
			}
		}
	}

	resolved, err := version.Resolve(current, target, candidates, p.allowPrerelease)
	if err != nil {
		return nil, err
	}

	files, ok := project.Releases[resolved.Original()]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrVersionNotListed, pname, resolved.Original())
	}

	result := &Result{Version: resolved, Algorithm: "sha256"}
	for _, f := range files {
		if matchesExtension(f.Filename, extension) {
			result.Checksum = f.Digests.SHA256
			break
		}
	}
	return result, nil
}

// matchesExtension reports whether a published filename carries the
// expected archive extension.
func matchesExtension(filename, extension string) bool {
	return extension != "" && strings.HasSuffix(filename, extension)
}
