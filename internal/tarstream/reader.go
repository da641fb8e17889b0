package tarstream

import (
	"archive/tar"
	"compress/flate"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// EntryType discriminates archive entries.
type EntryType int

const (
	// TypeDir is a directory marker carrying no content
	TypeDir EntryType = iota
	// TypeFile is a regular file with a content stream
	TypeFile
	// TypeSymlink is a symbolic link
	TypeSymlink
)

// Entry is one logical item in the archive's linear stream. File
// entries carry a single-pass content stream that is only valid while
// the entry is the reader's current one.
type Entry struct {
	Path     string
	Type     EntryType
	Mode     int64
	Size     int64
	Linkname string

	reader *Reader
	seq    int
}

// Content returns the entry's content stream. Directory and symlink
// entries yield an empty stream. The handle fails with ErrStaleEntry
// once the reader has moved past this entry.
func (e *Entry) Content() io.Reader {
	return &entryContent{entry: e}
}

// Drain consumes and discards the entry's remaining content, keeping
// the shared underlying stream well-formed for the next entry.
func (e *Entry) Drain() error {
	_, err := io.Copy(io.Discard, e.Content())
	return err
}

type entryContent struct {
	entry *Entry
}

func (c *entryContent) Read(p []byte) (int, error) {
	e := c.entry
	if e.seq != e.reader.seq {
		return 0, ErrStaleEntry
	}
	n, err := e.reader.tr.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, e.reader.classify(err)
	}
	return n, err
}

// Reader demultiplexes a byte stream into archive entries,
// decompressing transparently. It is single-pass and not restartable.
type Reader struct {
	gz  *gzip.Reader
	tr  *tar.Reader
	cur *Entry
	seq int
}

// NewReader prepares an archive reader over r, discarding skip leading
// bytes before the gzip container is expected. A missing or malformed
// container is reported as a *FormatError.
func NewReader(r io.Reader, skip int64) (*Reader, error) {
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, &FormatError{Err: fmt.Errorf("skip %d leading bytes: %w", skip, err)}
		}
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, &FormatError{Err: fmt.Errorf("open gzip container: %w", err)}
	}

	return &Reader{
		gz: gz,
		tr: tar.NewReader(gz),
	}, nil
}

// Next advances to the next entry, draining whatever remains of the
// current one first. It returns io.EOF at the end of the archive.
// Unsupported entry kinds (devices, FIFOs) are skipped.
func (r *Reader) Next() (*Entry, error) {
	if r.cur != nil {
		if _, err := io.Copy(io.Discard, r.tr); err != nil {
			return nil, r.classify(err)
		}
		r.cur = nil
	}
	r.seq++

	for {
		hdr, err := r.tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, r.classify(err)
		}

		var typ EntryType
		switch hdr.Typeflag {
		case tar.TypeDir:
			typ = TypeDir
		case tar.TypeReg:
			typ = TypeFile
		case tar.TypeSymlink:
			typ = TypeSymlink
		default:
			continue
		}

		entry := &Entry{
			Path:     hdr.Name,
			Type:     typ,
			Mode:     hdr.Mode,
			Size:     hdr.Size,
			Linkname: hdr.Linkname,
			reader:   r,
			seq:      r.seq,
		}
		r.cur = entry
		return entry, nil
	}
}

// ExtractAll writes every remaining entry under destDir, preserving
// relative paths and directory structure.
func (r *Reader) ExtractAll(destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}
	cleanRoot := filepath.Clean(destDir)

	for {
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.FromSlash(entry.Path))

		// Security check: prevent path traversal
		if !strings.HasPrefix(target, cleanRoot+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path: %s", entry.Path)
		}

		switch entry.Type {
		case TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}

		case TypeFile:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("create parent dir for %s: %w", target, err)
			}

			outFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(entry.Mode))
			if err != nil {
				return fmt.Errorf("create file %s: %w", target, err)
			}

			if _, err := io.Copy(outFile, entry.Content()); err != nil {
				outFile.Close()
				return fmt.Errorf("write file %s: %w", target, err)
			}

			outFile.Close()

		case TypeSymlink:
			if err := os.Symlink(entry.Linkname, target); err != nil {
				return fmt.Errorf("create symlink %s: %w", target, err)
			}
		}
	}
}

// classify separates inflate failures from structural tar failures.
func (r *Reader) classify(err error) error {
	var corrupt flate.CorruptInputError
	if errors.As(err, &corrupt) || errors.Is(err, gzip.ErrChecksum) || errors.Is(err, gzip.ErrHeader) {
		return &DecompressionError{Err: err}
	}
	return &FormatError{Err: err}
}
