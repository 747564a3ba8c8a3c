package cpioarc

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// newcHeader builds a single newc-format CPIO header+name+padding block.
func newcHeader(t *testing.T, mode, filesize uint32, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("070701")
	// field order: ino, mode, uid, gid, nlink, mtime, filesize, devmajor,
	// devminor, rdevmajor, rdevminor, namesize, check.
	fields := []uint32{0, mode, 0, 0, 0, 0, filesize, 0, 0, 0, 0, uint32(len(name) + 1), 0}
	for _, f := range fields {
		fmt.Fprintf(&buf, "%08X", f)
	}
	buf.WriteString(name)
	buf.WriteByte(0)
	total := 110 + len(name) + 1
	if pad := (4 - total%4) % 4; pad > 0 {
		buf.Write(make([]byte, pad))
	}
	return buf.Bytes()
}

func appendPadded(buf *bytes.Buffer, body []byte, align int) {
	buf.Write(body)
	if align <= 1 {
		return
	}
	for buf.Len()%align != 0 {
		buf.WriteByte(0)
	}
}

func buildNewcArchive(t *testing.T, entries []struct {
	mode     uint32
	name     string
	body     []byte
}) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, e := range entries {
		buf.Write(newcHeader(t, e.mode, uint32(len(e.body)), e.name))
		appendPadded(&buf, e.body, 4)
	}
	buf.Write(newcHeader(t, 0, 0, trailerName))
	return buf.Bytes()
}

func TestExtractNewcRoundtrip(t *testing.T) {
	entries := []struct {
		mode uint32
		name string
		body []byte
	}{
		{mode: 0040755, name: "d", body: nil},
		{mode: 0100644, name: "d/f", body: []byte("hi")},
		{mode: 0120000, name: "d/l", body: []byte("f")},
	}
	archive := buildNewcArchive(t, entries)

	dst := t.TempDir()
	var traced []string
	if err := Extract(bytes.NewReader(archive), dst, func(name string) { traced = append(traced, name) }); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	info, err := os.Stat(filepath.Join(dst, "d"))
	if err != nil || !info.IsDir() {
		t.Fatalf("dst/d is not a directory: %v", err)
	}

	body, err := os.ReadFile(filepath.Join(dst, "d", "f"))
	if err != nil {
		t.Fatalf("reading dst/d/f: %v", err)
	}
	if string(body) != "hi" {
		t.Errorf("dst/d/f = %q, want %q", body, "hi")
	}
	fi, err := os.Stat(filepath.Join(dst, "d", "f"))
	if err != nil {
		t.Fatalf("stat dst/d/f: %v", err)
	}
	if fi.Mode().Perm() != 0644 {
		t.Errorf("dst/d/f mode = %o, want %o", fi.Mode().Perm(), 0644)
	}

	linkDst := filepath.Join(dst, "d", "l")
	if target, err := os.Readlink(linkDst); err == nil {
		if target != "f" {
			t.Errorf("dst/d/l target = %q, want %q", target, "f")
		}
	} else {
		// symlink-less host: best-effort copy of the pointed-to file.
		body, err := os.ReadFile(linkDst)
		if err != nil {
			t.Fatalf("dst/d/l neither symlink nor copied file: %v", err)
		}
		if string(body) != "hi" {
			t.Errorf("dst/d/l fallback copy = %q, want %q", body, "hi")
		}
	}

	if len(traced) != 3 {
		t.Errorf("traced %d entries, want 3: %v", len(traced), traced)
	}
}

func TestExtractZeroLengthFile(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(newcHeader(t, 0100644, 0, "empty"))
	buf.Write(newcHeader(t, 0, 0, trailerName))

	dst := t.TempDir()
	if err := Extract(bytes.NewReader(buf.Bytes()), dst, nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	body, err := os.ReadFile(filepath.Join(dst, "empty"))
	if err != nil {
		t.Fatalf("reading empty file: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("empty file has %d bytes, want 0", len(body))
	}
}

func TestExtractTrailerWithNonzeroFilesizeStopsWithoutReadingBody(t *testing.T) {
	var buf bytes.Buffer
	hdr := newcHeader(t, 0100644, 999, trailerName)
	buf.Write(hdr)
	// deliberately do not append 999 bytes of body; if Extract tried to
	// read the trailer's filesize it would get io.ErrUnexpectedEOF here.

	dst := t.TempDir()
	if err := Extract(bytes.NewReader(buf.Bytes()), dst, nil); err != nil {
		t.Fatalf("Extract should stop cleanly at TRAILER!!!: %v", err)
	}
}

func TestExtractNameLengths255And256(t *testing.T) {
	for _, n := range []int{255, 256} {
		n := n
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			// The name is split into directory components of at most 99
			// bytes, since a single path component is limited to 255
			// bytes on the host filesystem.
			name := ""
			for len(name) < n {
				if len(name)%100 == 99 {
					name += "/"
				} else {
					name += "a"
				}
			}
			name = name[:n]

			var buf bytes.Buffer
			buf.Write(newcHeader(t, 0100644, 1, name))
			appendPadded(&buf, []byte("x"), 4)
			buf.Write(newcHeader(t, 0, 0, trailerName))

			dst := t.TempDir()
			if err := Extract(bytes.NewReader(buf.Bytes()), dst, nil); err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if _, err := os.Stat(filepath.Join(dst, name)); err != nil {
				t.Errorf("missing extracted file for name length %d: %v", n, err)
			}
		})
	}
}

func TestExtractRejectsPathEscape(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(newcHeader(t, 0100644, 1, "../escape"))
	appendPadded(&buf, []byte("x"), 4)
	buf.Write(newcHeader(t, 0, 0, trailerName))

	dst := t.TempDir()
	if err := Extract(bytes.NewReader(buf.Bytes()), dst, nil); err == nil {
		t.Fatal("expected an error for a path-escaping entry, got nil")
	}
}

func TestExtractOdcHeader(t *testing.T) {
	name := "odcfile"
	body := []byte("ab")

	var buf bytes.Buffer
	buf.WriteString("070707")
	fmt.Fprintf(&buf, "%06o", 0) // dev
	fmt.Fprintf(&buf, "%06o", 0) // ino
	fmt.Fprintf(&buf, "%06o", 0100644)
	fmt.Fprintf(&buf, "%06o", 0) // uid
	fmt.Fprintf(&buf, "%06o", 0) // gid
	fmt.Fprintf(&buf, "%06o", 1) // nlink
	fmt.Fprintf(&buf, "%06o", 0) // rdev
	fmt.Fprintf(&buf, "%011o", 0) // mtime
	fmt.Fprintf(&buf, "%06o", len(name)+1)
	fmt.Fprintf(&buf, "%011o", len(body))
	buf.WriteString(name)
	buf.WriteByte(0)
	buf.Write(body)

	buf.WriteString("070707")
	fmt.Fprintf(&buf, "%06o", 0)
	fmt.Fprintf(&buf, "%06o", 0)
	fmt.Fprintf(&buf, "%06o", 0)
	fmt.Fprintf(&buf, "%06o", 0)
	fmt.Fprintf(&buf, "%06o", 0)
	fmt.Fprintf(&buf, "%06o", 1)
	fmt.Fprintf(&buf, "%06o", 0)
	fmt.Fprintf(&buf, "%011o", 0)
	fmt.Fprintf(&buf, "%06o", len(trailerName)+1)
	fmt.Fprintf(&buf, "%011o", 0)
	buf.WriteString(trailerName)
	buf.WriteByte(0)

	dst := t.TempDir()
	if err := Extract(bytes.NewReader(buf.Bytes()), dst, nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dst, name))
	if err != nil {
		t.Fatalf("reading odc file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("odc file content = %q, want %q", got, body)
	}
}

func TestExtractTruncatedStreamErrors(t *testing.T) {
	dst := t.TempDir()
	if err := Extract(bytes.NewReader([]byte("not a cpio stream")), dst, nil); err == nil {
		t.Fatal("expected an error for a stream that never reaches TRAILER!!!")
	}
}
