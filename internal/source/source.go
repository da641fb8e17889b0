// Package source resolves package descriptors to concrete download URLs.
//
// A source is either a literal URL template or a GitHub release lookup.
// Both support {os}, {arch}, and {version} placeholders, substituted
// from the detected platform and the resolved release version.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KelceyDrummond/forage/internal/platform"
)

const (
	// DefaultAPIBase is the GitHub REST API endpoint used for release lookups
	DefaultAPIBase = "https://api.github.com"
	// apiTimeout bounds a single release metadata request
	apiTimeout = 30 * time.Second
)

// Resolved is the outcome of resolving a source: a concrete URL plus the
// version it refers to (empty when the source carries no version).
type Resolved struct {
	URL     string
	Version string
}

// Source resolves to a downloadable URL for the given platform.
type Source interface {
	Resolve(ctx context.Context, info *platform.Info) (Resolved, error)
	// Describe returns a short human-readable identifier for log lines.
	Describe() string
}

// Literal is a fixed URL, optionally containing {os} and {arch}
// placeholders. It carries no version information.
type Literal struct {
	URL string
}

// Resolve expands platform placeholders in the URL.
func (l Literal) Resolve(_ context.Context, info *platform.Info) (Resolved, error) {
	if l.URL == "" {
		return Resolved{}, fmt.Errorf("literal source has empty URL")
	}
	url := expand(l.URL, info, "")
	if strings.Contains(url, "{version}") {
		return Resolved{}, fmt.Errorf("literal source %q uses {version} but has no release to resolve it from", l.URL)
	}
	return Resolved{URL: url}, nil
}

// Describe implements Source.
func (l Literal) Describe() string {
	return l.URL
}

// GitHubRelease locates an asset in the latest release of a repository.
// Asset is matched by name after placeholder expansion.
type GitHubRelease struct {
	Repo  string // "owner/name"
	Asset string // asset name, may contain {os}, {arch}, {version}

	// APIBase overrides the GitHub API endpoint. Empty means DefaultAPIBase.
	APIBase string
	// Client overrides the HTTP client. Nil means a default client.
	Client *http.Client
}

// release mirrors the subset of the GitHub release payload we consume
type release struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name string `json:"name"`
		URL  string `json:"browser_download_url"`
	} `json:"assets"`
}

// Resolve queries the latest release and matches the asset name.
func (g GitHubRelease) Resolve(ctx context.Context, info *platform.Info) (Resolved, error) {
	if g.Repo == "" || g.Asset == "" {
		return Resolved{}, fmt.Errorf("github source requires both repo and asset")
	}

	rel, err := g.latestRelease(ctx)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve %s: %w", g.Repo, err)
	}

	version := strings.TrimPrefix(rel.TagName, "v")
	want := expand(g.Asset, info, version)

	for _, asset := range rel.Assets {
		if asset.Name == want {
			return Resolved{URL: asset.URL, Version: version}, nil
		}
	}

	return Resolved{}, fmt.Errorf("release %s of %s has no asset %q", rel.TagName, g.Repo, want)
}

// Describe implements Source.
func (g GitHubRelease) Describe() string {
	return fmt.Sprintf("github:%s (%s)", g.Repo, g.Asset)
}

func (g GitHubRelease) latestRelease(ctx context.Context) (*release, error) {
	base := g.APIBase
	if base == "" {
		base = DefaultAPIBase
	}
	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimSuffix(base, "/"), g.Repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	client := g.Client
	if client == nil {
		client = &http.Client{Timeout: apiTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	if rel.TagName == "" {
		return nil, fmt.Errorf("release response missing tag_name")
	}

	return &rel, nil
}

// expand substitutes {os}, {arch}, and {version} placeholders.
func expand(s string, info *platform.Info, version string) string {
	r := strings.NewReplacer(
		"{os}", info.OS,
		"{arch}", info.Arch,
		"{version}", version,
	)
	return r.Replace(s)
}
