// Package stage materializes selected archive entries under a stage
// root. Entries are matched after stripping the archive's own wrapper
// directory components; everything else is drained so the shared
// archive stream stays seekable to the next entry.
package stage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/KelceyDrummond/forage/internal/tarstream"
)

// Stage consumes the remaining entries of r and writes every file whose
// path, after stripping strip leading components, starts with prefix.
// Files land at destRoot/<stripped path>; intermediate directories are
// created on demand and pre-existing ones are not an error. Returns the
// number of files written.
//
// Directory entries are never materialized directly, and non-matching
// file entries are drained without being written.
func Stage(r *tarstream.Reader, destRoot, prefix string, strip int) (int, error) {
	cleanRoot := filepath.Clean(destRoot)
	count := 0

	for {
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}

		if entry.Type != tarstream.TypeFile {
			continue
		}

		rel, ok := stripComponents(entry.Path, strip)
		if !ok || firstComponent(rel) != prefix {
			if err := entry.Drain(); err != nil {
				return count, err
			}
			continue
		}

		target := filepath.Join(destRoot, filepath.FromSlash(rel))

		// Security check: prevent path traversal
		if !strings.HasPrefix(target, cleanRoot+string(os.PathSeparator)) {
			return count, fmt.Errorf("illegal file path: %s", entry.Path)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return count, fmt.Errorf("create parent dir for %s: %w", target, err)
		}

		outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return count, fmt.Errorf("create file %s: %w", target, err)
		}
		if _, err := io.Copy(outFile, entry.Content()); err != nil {
			outFile.Close()
			return count, fmt.Errorf("write file %s: %w", target, err)
		}
		if err := outFile.Close(); err != nil {
			return count, fmt.Errorf("close file %s: %w", target, err)
		}

		count++
	}
}

// stripComponents removes the given number of leading path components.
// It reports false when the path has nothing left after stripping.
func stripComponents(name string, strip int) (string, bool) {
	clean := path.Clean(strings.TrimPrefix(name, "/"))
	if clean == "." {
		return "", false
	}
	parts := strings.Split(clean, "/")
	if len(parts) <= strip {
		return "", false
	}
	return strings.Join(parts[strip:], "/"), true
}

func firstComponent(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}
