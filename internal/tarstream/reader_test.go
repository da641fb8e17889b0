package tarstream

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

type testEntry struct {
	name     string
	typeflag byte
	content  string
	linkname string
}

// buildTarGz builds an in-memory tar.gz archive with entries in the
// given order.
func buildTarGz(t *testing.T, entries []testEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Mode:     0644,
			Linkname: e.linkname,
		}
		if e.typeflag == tar.TypeDir {
			hdr.Mode = 0755
		}
		if e.typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.content))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header for %s: %v", e.name, err)
		}
		if e.typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.content)); err != nil {
				t.Fatalf("failed to write content for %s: %v", e.name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}
	return buf.Bytes()
}

// collectEntries reads the whole archive and returns path -> content
// for file entries, with paths in order of appearance.
func collectEntries(t *testing.T, r *Reader) ([]string, map[string]string) {
	t.Helper()

	var order []string
	contents := make(map[string]string)
	for {
		entry, err := r.Next()
		if errors.Is(err, io.EOF) {
			return order, contents
		}
		if err != nil {
			t.Fatalf("iteration failed: %v", err)
		}
		order = append(order, entry.Path)
		if entry.Type == TypeFile {
			data, err := io.ReadAll(entry.Content())
			if err != nil {
				t.Fatalf("read content of %s: %v", entry.Path, err)
			}
			contents[entry.Path] = string(data)
		}
	}
}

func TestReaderIteratesEntries(t *testing.T) {
	archive := buildTarGz(t, []testEntry{
		{name: "top/", typeflag: tar.TypeDir},
		{name: "top/a.txt", typeflag: tar.TypeReg, content: "alpha"},
		{name: "top/sub/", typeflag: tar.TypeDir},
		{name: "top/sub/b.txt", typeflag: tar.TypeReg, content: "beta"},
	})

	r, err := NewReader(bytes.NewReader(archive), 0)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}

	order, contents := collectEntries(t, r)

	wantOrder := []string{"top/", "top/a.txt", "top/sub/", "top/sub/b.txt"}
	if len(order) != len(wantOrder) {
		t.Fatalf("entry count = %d, want %d", len(order), len(wantOrder))
	}
	for i, want := range wantOrder {
		if order[i] != want {
			t.Errorf("entry[%d] = %q, want %q", i, order[i], want)
		}
	}
	if contents["top/a.txt"] != "alpha" || contents["top/sub/b.txt"] != "beta" {
		t.Errorf("unexpected contents: %v", contents)
	}
}

func TestReaderOffsetSkip(t *testing.T) {
	archive := buildTarGz(t, []testEntry{
		{name: "pkg/", typeflag: tar.TypeDir},
		{name: "pkg/mod.py", typeflag: tar.TypeReg, content: "x=1"},
	})
	header := []byte("XHDRXHDRXX") // 10 bytes of non-archive prefix
	combined := append(append([]byte{}, header...), archive...)

	t.Run("skip_yields_identical_entries", func(t *testing.T) {
		plain, err := NewReader(bytes.NewReader(archive), 0)
		if err != nil {
			t.Fatalf("open plain archive: %v", err)
		}
		plainOrder, plainContents := collectEntries(t, plain)

		skipped, err := NewReader(bytes.NewReader(combined), int64(len(header)))
		if err != nil {
			t.Fatalf("open with skip: %v", err)
		}
		skipOrder, skipContents := collectEntries(t, skipped)

		if len(plainOrder) != len(skipOrder) {
			t.Fatalf("entry counts differ: %d vs %d", len(plainOrder), len(skipOrder))
		}
		for i := range plainOrder {
			if plainOrder[i] != skipOrder[i] {
				t.Errorf("entry[%d]: %q vs %q", i, plainOrder[i], skipOrder[i])
			}
		}
		for path, want := range plainContents {
			if skipContents[path] != want {
				t.Errorf("content of %s: %q vs %q", path, skipContents[path], want)
			}
		}
	})

	t.Run("no_skip_on_combined_fails", func(t *testing.T) {
		_, err := NewReader(bytes.NewReader(combined), 0)
		var formatErr *FormatError
		if !errors.As(err, &formatErr) {
			t.Fatalf("expected FormatError, got %v", err)
		}
	})

	t.Run("skip_past_end_fails", func(t *testing.T) {
		_, err := NewReader(bytes.NewReader(header), 1000)
		var formatErr *FormatError
		if !errors.As(err, &formatErr) {
			t.Fatalf("expected FormatError, got %v", err)
		}
	})
}

func TestReaderGarbage(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("this is not an archive at all")), 0)
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestReaderCorruptDeflateStream(t *testing.T) {
	// Valid gzip member header followed by a reserved deflate block type
	corrupt := []byte{0x1f, 0x8b, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0xde, 0xad, 0xbe, 0xef}

	r, err := NewReader(bytes.NewReader(corrupt), 0)
	if err != nil {
		t.Fatalf("gzip header should be accepted: %v", err)
	}

	_, err = r.Next()
	var decompErr *DecompressionError
	if !errors.As(err, &decompErr) {
		t.Fatalf("expected DecompressionError, got %v", err)
	}
}

func TestNextDrainsCurrentEntry(t *testing.T) {
	archive := buildTarGz(t, []testEntry{
		{name: "big.bin", typeflag: tar.TypeReg, content: string(bytes.Repeat([]byte("z"), 4096))},
		{name: "after.txt", typeflag: tar.TypeReg, content: "intact"},
	})

	r, err := NewReader(bytes.NewReader(archive), 0)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}

	// Advance without touching the first entry's content
	if _, err := r.Next(); err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	second, err := r.Next()
	if err != nil {
		t.Fatalf("second Next failed: %v", err)
	}

	if second.Path != "after.txt" {
		t.Fatalf("second entry = %q, want after.txt", second.Path)
	}
	data, err := io.ReadAll(second.Content())
	if err != nil {
		t.Fatalf("read second entry: %v", err)
	}
	if string(data) != "intact" {
		t.Errorf("second entry content = %q, want %q", string(data), "intact")
	}
}

func TestStaleEntryHandleFails(t *testing.T) {
	archive := buildTarGz(t, []testEntry{
		{name: "first.txt", typeflag: tar.TypeReg, content: "first"},
		{name: "second.txt", typeflag: tar.TypeReg, content: "second"},
	})

	r, err := NewReader(bytes.NewReader(archive), 0)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}

	first, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	stale := first.Content()

	if _, err := r.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}

	// The old handle must fail instead of reading the second entry
	if _, err := io.ReadAll(stale); !errors.Is(err, ErrStaleEntry) {
		t.Fatalf("expected ErrStaleEntry, got %v", err)
	}
}

func TestReaderSkipsUnsupportedTypes(t *testing.T) {
	archive := buildTarGz(t, []testEntry{
		{name: "dev", typeflag: tar.TypeFifo},
		{name: "kept.txt", typeflag: tar.TypeReg, content: "kept"},
	})

	r, err := NewReader(bytes.NewReader(archive), 0)
	if err != nil {
		t.Fatalf("failed to open archive: %v", err)
	}

	entry, err := r.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if entry.Path != "kept.txt" {
		t.Errorf("entry = %q, want kept.txt (fifo skipped)", entry.Path)
	}
}

func TestExtractAll(t *testing.T) {
	tests := []struct {
		name    string
		entries []testEntry
		files   map[string]string
		wantErr bool
	}{
		{
			name: "nested_structure",
			entries: []testEntry{
				{name: "dir1/", typeflag: tar.TypeDir},
				{name: "dir1/file1.txt", typeflag: tar.TypeReg, content: "content1"},
				{name: "dir1/dir2/file2.txt", typeflag: tar.TypeReg, content: "content2"},
			},
			files: map[string]string{
				"dir1/file1.txt":      "content1",
				"dir1/dir2/file2.txt": "content2",
			},
		},
		{
			name: "symlink",
			entries: []testEntry{
				{name: "real.txt", typeflag: tar.TypeReg, content: "real"},
				{name: "link.txt", typeflag: tar.TypeSymlink, linkname: "real.txt"},
			},
			files: map[string]string{"real.txt": "real"},
		},
		{
			name: "path_traversal_rejected",
			entries: []testEntry{
				{name: "../evil.txt", typeflag: tar.TypeReg, content: "evil"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := buildTarGz(t, tt.entries)
			r, err := NewReader(bytes.NewReader(archive), 0)
			if err != nil {
				t.Fatalf("failed to open archive: %v", err)
			}

			destDir := t.TempDir()
			err = r.ExtractAll(destDir)

			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("extraction failed: %v", err)
			}

			for name, want := range tt.files {
				data, err := os.ReadFile(filepath.Join(destDir, name))
				if err != nil {
					t.Errorf("read %s: %v", name, err)
					continue
				}
				if string(data) != want {
					t.Errorf("content of %s = %q, want %q", name, string(data), want)
				}
			}
		})
	}
}
