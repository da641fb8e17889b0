package stage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// MoveSubtree relocates one top-level directory from a scratch
// extraction into the stage root, replacing any previous version. The
// move is a rename where the filesystem allows it, with a copy-and-
// remove fallback across devices.
func MoveSubtree(scratchRoot, name, destRoot string) error {
	src := filepath.Join(scratchRoot, name)
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("locate subtree %s: %w", name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("subtree %s is not a directory", name)
	}

	if err := os.MkdirAll(destRoot, 0755); err != nil {
		return fmt.Errorf("create stage root: %w", err)
	}

	dest := filepath.Join(destRoot, name)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clear previous subtree: %w", err)
	}

	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	// Rename fails across filesystems; fall back to a recursive copy
	if err := copyTree(src, dest); err != nil {
		return fmt.Errorf("copy subtree %s: %w", name, err)
	}
	return os.RemoveAll(src)
}

// copyTree recursively copies a directory, preserving file modes and
// symlinks.
func copyTree(src, dest string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())

		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)

		default:
			return copyFile(p, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
