package manifest

import (
	"fmt"
	"strings"
)

// Staging modes accepted in a package entry.
const (
	ModeSelective = "selective"
	ModeSubtree   = "subtree"
)

// Manifest is the parsed forage.lua configuration.
type Manifest struct {
	// StageDir is the root directory staged files are placed under.
	StageDir string
	// WorkspaceDir holds per-run scratch directories. Empty means the
	// system temp directory.
	WorkspaceDir string
	// Packages lists the archives to fetch and stage, in order.
	Packages []Package
}

// Package describes one archive to fetch and stage.
type Package struct {
	Name string

	// Exactly one of URL or Repo+Asset is set.
	URL   string // literal download URL
	Repo  string // GitHub "owner/name" for release lookup
	Asset string // release asset name pattern

	Mode    string // "selective" (default) or "subtree"
	Prefix  string // selective mode: top-level component to keep
	Subtree string // subtree mode: extracted directory to move
	Strip   int    // leading path components to strip
	Skip    int64  // bytes to skip before the gzip stream

	ChecksumURL  string // optional SHA256 checksum sidecar
	SignatureURL string // optional GPG detached signature sidecar
	Keyring      string // keyring path, required with SignatureURL

	MaxRetries int // 0 means the fetcher default
}

// Validate checks structural constraints on the parsed manifest.
func (m *Manifest) Validate() error {
	if m.StageDir == "" {
		return fmt.Errorf("stage_dir is required")
	}
	if len(m.Packages) == 0 {
		return fmt.Errorf("at least one package is required")
	}

	seen := make(map[string]bool, len(m.Packages))
	for i := range m.Packages {
		pkg := &m.Packages[i]
		if err := pkg.validate(); err != nil {
			return fmt.Errorf("package %d (%s): %w", i+1, pkg.describe(), err)
		}
		if seen[pkg.Name] {
			return fmt.Errorf("duplicate package name: %s", pkg.Name)
		}
		seen[pkg.Name] = true
	}

	return nil
}

func (p *Package) validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(p.Name, "/\\") {
		return fmt.Errorf("name must not contain path separators")
	}

	hasURL := p.URL != ""
	hasRelease := p.Repo != "" || p.Asset != ""
	switch {
	case hasURL && hasRelease:
		return fmt.Errorf("url and repo/asset are mutually exclusive")
	case !hasURL && !hasRelease:
		return fmt.Errorf("either url or repo+asset is required")
	case hasRelease && (p.Repo == "" || p.Asset == ""):
		return fmt.Errorf("repo and asset must be set together")
	}

	switch p.Mode {
	case ModeSelective:
		if p.Prefix == "" {
			return fmt.Errorf("selective mode requires prefix")
		}
	case ModeSubtree:
		if p.Subtree == "" {
			return fmt.Errorf("subtree mode requires subtree")
		}
	default:
		return fmt.Errorf("unknown mode %q", p.Mode)
	}

	if p.Strip < 0 {
		return fmt.Errorf("strip must not be negative")
	}
	if p.Skip < 0 {
		return fmt.Errorf("skip must not be negative")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}

	if p.SignatureURL != "" && p.Keyring == "" {
		return fmt.Errorf("signature_url requires keyring")
	}
	if p.Keyring != "" && p.SignatureURL == "" {
		return fmt.Errorf("keyring requires signature_url")
	}

	return nil
}

func (p *Package) describe() string {
	if p.Name != "" {
		return p.Name
	}
	return "unnamed"
}
