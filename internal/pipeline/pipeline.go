// Package pipeline orchestrates fetch, verify, and stage for a set of
// packages. Tasks run sequentially in manifest order; the first failure
// stops the run and is reported with its task label.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/KelceyDrummond/forage/internal/fetch"
	"github.com/KelceyDrummond/forage/internal/platform"
	"github.com/KelceyDrummond/forage/internal/progress"
	"github.com/KelceyDrummond/forage/internal/source"
	"github.com/KelceyDrummond/forage/internal/stage"
	"github.com/KelceyDrummond/forage/internal/tarstream"
	"github.com/KelceyDrummond/forage/internal/verify"
	"github.com/KelceyDrummond/forage/internal/workspace"
)

// Task modes, mirroring the manifest values.
const (
	ModeSelective = "selective"
	ModeSubtree   = "subtree"
)

// Task is one fetch-and-stage unit of work.
type Task struct {
	Label  string
	Source source.Source

	// DestRoot is the stage root files land under.
	DestRoot string

	Mode    string // ModeSelective or ModeSubtree
	Prefix  string // selective: top-level component to keep
	Subtree string // subtree: extracted directory to move
	Strip   int    // leading components to strip before staging
	Skip    int64  // bytes before the gzip stream begins

	ChecksumURL  string
	SignatureURL string
	Keyring      string

	MaxRetries int
	Timeout    time.Duration
}

// verificationRequested reports whether the task needs the artifact on
// disk before it can be unpacked.
func (t *Task) verificationRequested() bool {
	return t.ChecksumURL != "" || t.SignatureURL != ""
}

// Options configures a pipeline.
type Options struct {
	Fetcher      *fetch.Fetcher
	Platform     *platform.Info
	WorkspaceDir string // empty means the system temp dir
	Out          io.Writer
	Quiet        bool // suppress progress rendering, keep result lines
}

// Pipeline runs tasks against a fixed platform and fetcher.
type Pipeline struct {
	fetcher  *fetch.Fetcher
	platform *platform.Info
	workDir  string
	out      io.Writer
	quiet    bool
}

// New creates a pipeline. A nil fetcher gets the default one.
func New(opts Options) *Pipeline {
	f := opts.Fetcher
	if f == nil {
		f = fetch.NewFetcher()
	}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	return &Pipeline{
		fetcher:  f,
		platform: opts.Platform,
		workDir:  opts.WorkspaceDir,
		out:      out,
		quiet:    opts.Quiet,
	}
}

// Run executes tasks in order. Later tasks are not attempted after a
// failure.
func (p *Pipeline) Run(ctx context.Context, tasks []Task) error {
	for i := range tasks {
		t := &tasks[i]
		start := time.Now()
		fmt.Fprintf(p.out, "==> %s\n", t.Label)

		if err := p.runTask(ctx, t); err != nil {
			return fmt.Errorf("%s: %w", t.Label, err)
		}

		fmt.Fprintf(p.out, "==> %s done in %s\n", t.Label, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

func (p *Pipeline) runTask(ctx context.Context, t *Task) error {
	resolved, err := t.Source.Resolve(ctx, p.platform)
	if err != nil {
		return fmt.Errorf("resolve source: %w", err)
	}

	ws, err := workspace.New(p.workDir, t.Label)
	if err != nil {
		return err
	}
	defer ws.Close() //nolint:errcheck

	var archive io.Reader
	if t.verificationRequested() {
		artifactPath, err := p.fetchVerified(ctx, t, ws, resolved.URL)
		if err != nil {
			return err
		}
		f, err := os.Open(artifactPath)
		if err != nil {
			return fmt.Errorf("reopen artifact: %w", err)
		}
		defer f.Close() //nolint:errcheck
		archive = f
	} else {
		stream, reporter, err := p.openStream(ctx, t, resolved.URL)
		if err != nil {
			return err
		}
		defer func() {
			stream.Close() //nolint:errcheck
			reporter.Wait()
		}()
		archive = stream
	}

	return p.unpack(t, ws, archive)
}

// openStream starts the download and attaches a reporter goroutine to
// drain its event channel. The reporter must be waited on after the
// stream is consumed.
func (p *Pipeline) openStream(ctx context.Context, t *Task, rawURL string) (*fetch.Stream, *progress.Reporter, error) {
	stream, err := p.fetcher.Fetch(ctx, fetch.Request{
		URL:        rawURL,
		MaxRetries: t.MaxRetries,
		Timeout:    t.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	out := p.out
	if p.quiet {
		out = io.Discard
	}
	reporter := progress.NewReporter(t.Label, filenameFromURL(rawURL), stream.Size(), out)
	go reporter.Run(stream.Events())

	return stream, reporter, nil
}

// fetchVerified downloads the artifact and its sidecars into the
// workspace, verifies, and returns the artifact path.
func (p *Pipeline) fetchVerified(ctx context.Context, t *Task, ws *workspace.Workspace, rawURL string) (string, error) {
	artifactPath := ws.Join(filenameFromURL(rawURL))
	if err := p.downloadToFile(ctx, t, rawURL, artifactPath); err != nil {
		return "", err
	}

	if t.SignatureURL != "" {
		sigPath := ws.Join("artifact.sig")
		if err := p.downloadSidecar(ctx, t, t.SignatureURL, sigPath); err != nil {
			return "", fmt.Errorf("fetch signature: %w", err)
		}
		if err := verify.GPG(artifactPath, sigPath, t.Keyring); err != nil {
			return "", fmt.Errorf("gpg verification: %w", err)
		}
		fmt.Fprintf(p.out, "[forage] %s: GPG signature verified\n", t.Label)
	}

	if t.ChecksumURL != "" {
		sumPath := ws.Join("checksums.txt")
		if err := p.downloadSidecar(ctx, t, t.ChecksumURL, sumPath); err != nil {
			return "", fmt.Errorf("fetch checksum: %w", err)
		}
		if err := verify.SHA256(artifactPath, sumPath); err != nil {
			return "", fmt.Errorf("checksum verification: %w", err)
		}
		fmt.Fprintf(p.out, "[forage] %s: SHA256 checksum verified\n", t.Label)
	}

	return artifactPath, nil
}

func (p *Pipeline) downloadToFile(ctx context.Context, t *Task, rawURL, destPath string) error {
	stream, reporter, err := p.openStream(ctx, t, rawURL)
	if err != nil {
		return err
	}
	defer func() {
		stream.Close() //nolint:errcheck
		reporter.Wait()
	}()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}

	if _, err := io.Copy(f, stream); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("download %s: %w", rawURL, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close artifact file: %w", err)
	}
	return nil
}

// downloadSidecar fetches a small auxiliary file without progress
// rendering. The event channel still has to be drained.
func (p *Pipeline) downloadSidecar(ctx context.Context, t *Task, rawURL, destPath string) error {
	stream, err := p.fetcher.Fetch(ctx, fetch.Request{
		URL:        rawURL,
		MaxRetries: t.MaxRetries,
		Timeout:    t.Timeout,
	})
	if err != nil {
		return err
	}
	defer stream.Close() //nolint:errcheck

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range stream.Events() {
		}
	}()
	defer func() { <-drained }()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create sidecar file: %w", err)
	}
	if _, err := io.Copy(f, stream); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}

// unpack runs the archive through the staging mode of the task.
func (p *Pipeline) unpack(t *Task, ws *workspace.Workspace, archive io.Reader) error {
	reader, err := tarstream.NewReader(archive, t.Skip)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	switch t.Mode {
	case ModeSubtree:
		extractDir := ws.Join("extract")
		if err := os.MkdirAll(extractDir, 0755); err != nil {
			return fmt.Errorf("create extract dir: %w", err)
		}
		if err := reader.ExtractAll(extractDir); err != nil {
			return fmt.Errorf("extract archive: %w", err)
		}
		if err := stage.MoveSubtree(extractDir, t.Subtree, t.DestRoot); err != nil {
			return fmt.Errorf("move subtree: %w", err)
		}
		fmt.Fprintf(p.out, "[forage] %s: staged subtree %s\n", t.Label, t.Subtree)
	case ModeSelective, "":
		n, err := stage.Stage(reader, t.DestRoot, t.Prefix, t.Strip)
		if err != nil {
			return fmt.Errorf("stage files: %w", err)
		}
		fmt.Fprintf(p.out, "[forage] %s: staged %d file(s)\n", t.Label, n)
	default:
		return fmt.Errorf("unknown mode %q", t.Mode)
	}

	return nil
}

// filenameFromURL extracts a display name from a download URL.
func filenameFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return "download"
}
