package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KelceyDrummond/forage/internal/manifest"
)

// runPlan handles the `forage plan` subcommand. It parses the manifest
// against the current platform and prints what fetch would do.
func runPlan(args []string) error {
	opts, err := parseCLIOptions(args)
	if err != nil {
		return err
	}
	if opts.showHelp {
		printUsage()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, info, err := loadManifest(ctx, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Platform:  %s/%s\n", info.OS, info.Arch)
	fmt.Printf("Stage dir: %s\n", m.StageDir)
	if m.WorkspaceDir != "" {
		fmt.Printf("Workspace: %s\n", m.WorkspaceDir)
	}
	fmt.Println()

	for _, pkg := range m.Packages {
		fmt.Printf("%s\n", pkg.Name)
		if pkg.URL != "" {
			fmt.Printf("  source:  %s\n", pkg.URL)
		} else {
			fmt.Printf("  source:  github:%s (%s)\n", pkg.Repo, pkg.Asset)
		}
		switch pkg.Mode {
		case manifest.ModeSubtree:
			fmt.Printf("  mode:    subtree %s\n", pkg.Subtree)
		default:
			fmt.Printf("  mode:    selective %s (strip %d)\n", pkg.Prefix, pkg.Strip)
		}
		if pkg.Skip > 0 {
			fmt.Printf("  skip:    %d bytes\n", pkg.Skip)
		}
		if pkg.SignatureURL != "" {
			fmt.Printf("  verify:  GPG (%s)\n", pkg.Keyring)
		}
		if pkg.ChecksumURL != "" {
			fmt.Printf("  verify:  SHA256\n")
		}
	}

	return nil
}
