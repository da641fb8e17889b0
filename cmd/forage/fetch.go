package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KelceyDrummond/forage/internal/manifest"
	"github.com/KelceyDrummond/forage/internal/pipeline"
	"github.com/KelceyDrummond/forage/internal/platform"
	"github.com/KelceyDrummond/forage/internal/source"
)

// cliOptions are the flags shared by fetch and plan.
type cliOptions struct {
	manifestPath string
	quiet        bool
	verbose      bool
	showHelp     bool
}

func parseCLIOptions(args []string) (cliOptions, error) {
	opts := cliOptions{manifestPath: "forage.lua"}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--help", "-h":
			opts.showHelp = true
		case "--quiet", "-q":
			opts.quiet = true
		case "--verbose", "-v":
			opts.verbose = true
		case "--config", "-c":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("%s requires a path", args[i])
			}
			i++
			opts.manifestPath = args[i]
		default:
			return opts, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return opts, nil
}

// runFetch handles the `forage fetch` subcommand
func runFetch(args []string) error {
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

	p := pipeline.New(pipeline.Options{
		Platform:     info,
		WorkspaceDir: m.WorkspaceDir,
		Out:          os.Stderr,
		Quiet:        opts.quiet,
	})

	start := time.Now()
	if err := p.Run(ctx, buildTasks(m)); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "[forage] %d package(s) staged in %s\n",
		len(m.Packages), time.Since(start).Round(time.Millisecond))
	return nil
}

// loadManifest parses the manifest and detects the platform it was
// evaluated against.
func loadManifest(ctx context.Context, opts cliOptions) (*manifest.Manifest, *platform.Info, error) {
	detector := platform.NewDetector()

	info, err := detector.Detect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("detect platform: %w", err)
	}

	parser := manifest.NewParser(&platform.StaticDetector{Info: info})
	m, err := parser.ParseFile(ctx, opts.manifestPath)
	if err != nil {
		return nil, nil, fmt.Errorf("%s", manifest.FormatError(err, opts.verbose))
	}

	return m, info, nil
}

// buildTasks converts manifest packages into pipeline tasks.
func buildTasks(m *manifest.Manifest) []pipeline.Task {
	tasks := make([]pipeline.Task, 0, len(m.Packages))

	for _, pkg := range m.Packages {
		var src source.Source
		if pkg.URL != "" {
			src = source.Literal{URL: pkg.URL}
		} else {
			src = source.GitHubRelease{Repo: pkg.Repo, Asset: pkg.Asset}
		}

		tasks = append(tasks, pipeline.Task{
			Label:        pkg.Name,
			Source:       src,
			DestRoot:     m.StageDir,
			Mode:         pkg.Mode,
			Prefix:       pkg.Prefix,
			Subtree:      pkg.Subtree,
			Strip:        pkg.Strip,
			Skip:         pkg.Skip,
			ChecksumURL:  pkg.ChecksumURL,
			SignatureURL: pkg.SignatureURL,
			Keyring:      pkg.Keyring,
			MaxRetries:   pkg.MaxRetries,
		})
	}

	return tasks
}
