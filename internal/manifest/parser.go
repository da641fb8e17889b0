// Package manifest parses the forage.lua configuration file.
//
// Manifests are Lua programs evaluated in a sandboxed VM with a
// read-only platform table injected, so entries can be conditional on
// OS and architecture. The program must leave a global "forage" table
// describing the stage directory and the packages to fetch.
package manifest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/KelceyDrummond/forage/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// Parser evaluates Lua manifests with platform detection.
type Parser struct {
	detector platform.Detector
}

// NewParser creates a parser using the given platform detector.
// A nil detector skips platform table injection (useful in tests).
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector}
}

// ParseFile reads and parses a manifest from disk.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return p.ParseString(ctx, string(data))
}

// ParseString parses a manifest from a string.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Manifest, error) {
	L := newSandboxedVM()
	defer L.Close()

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		return nil, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	return extractManifest(L)
}

// ParseError is a manifest parsing error with a friendly message.
type ParseError struct {
	Message string // user-facing message
	Detail  string // raw Lua error or validation detail
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// FormatError formats a manifest error for user display. In verbose
// mode the raw Lua error is shown; otherwise the traceback is trimmed.
func FormatError(err error, verbose bool) string {
	if parseErr, ok := err.(*ParseError); ok {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}

// extractManifest pulls the global "forage" table out of the Lua state.
func extractManifest(L *lua.LState) (*Manifest, error) {
	forageVal := L.GetGlobal("forage")
	if forageVal.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: "missing or invalid 'forage' table",
			Detail:  fmt.Sprintf("expected table, got %s", forageVal.Type()),
		}
	}
	table := forageVal.(*lua.LTable)

	m := &Manifest{
		StageDir:     getString(table, "stage_dir"),
		WorkspaceDir: getString(table, "workspace_dir"),
	}

	if pkgsVal := table.RawGetString("packages"); pkgsVal.Type() == lua.LTTable {
		m.Packages = extractPackages(pkgsVal.(*lua.LTable))
	}

	if err := m.Validate(); err != nil {
		return nil, &ParseError{
			Message: "manifest validation failed",
			Detail:  err.Error(),
		}
	}

	return m, nil
}

// extractPackages walks the packages array. Nil entries from platform
// conditionals (platform.is_linux and {...} or nil) are skipped.
func extractPackages(table *lua.LTable) []Package {
	var pkgs []Package

	table.ForEach(func(_, value lua.LValue) {
		if value.Type() != lua.LTTable {
			return
		}
		pkgs = append(pkgs, extractPackage(value.(*lua.LTable)))
	})

	return pkgs
}

func extractPackage(t *lua.LTable) Package {
	pkg := Package{
		Name:         getString(t, "name"),
		URL:          getString(t, "url"),
		Repo:         getString(t, "repo"),
		Asset:        getString(t, "asset"),
		Mode:         getString(t, "mode"),
		Prefix:       getString(t, "prefix"),
		Subtree:      getString(t, "subtree"),
		Strip:        getInt(t, "strip"),
		Skip:         int64(getInt(t, "skip")),
		ChecksumURL:  getString(t, "checksum_url"),
		SignatureURL: getString(t, "signature_url"),
		Keyring:      getString(t, "keyring"),
		MaxRetries:   getInt(t, "max_retries"),
	}

	if pkg.Mode == "" {
		pkg.Mode = ModeSelective
	}

	return pkg
}

func getString(t *lua.LTable, key string) string {
	if v := t.RawGetString(key); v.Type() == lua.LTString {
		return v.String()
	}
	return ""
}

func getInt(t *lua.LTable, key string) int {
	if v := t.RawGetString(key); v.Type() == lua.LTNumber {
		return int(lua.LVAsNumber(v))
	}
	return 0
}
