// Package archdump renders human-readable dumps of the archive formats
// this project's pipeline touches, for the standalone inspection tool.
// Unlike the production decoders in internal/xarfmt, internal/pbzx and
// internal/cpioarc (which must tolerate Apple's nonstandard framing),
// this package is diagnostic-only and happily leans on off-the-shelf
// archive libraries for the formats they actually support.
package archdump

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blakesmith/ar"
	cpio "github.com/surma/gocpio"
	"github.com/ulikunitz/xz"

	"github.com/c3lang/macsdkfetch/internal/pbzx"
	"github.com/c3lang/macsdkfetch/internal/xarfmt"
)

// Indent prefixes every line of dump with four spaces, for nested
// archive-within-archive dumps.
func Indent(dump string) string {
	dump = strings.TrimSuffix(dump, "\n")
	const indent = "    "
	return indent + strings.Replace(dump, "\n", "\n"+indent, -1) + "\n"
}

// RecognizeAndDump sniffs data's format by magic bytes and renders a
// nested, human-readable description, recursing into compressed or
// archived payloads.
func RecognizeAndDump(data []byte) (string, error) {
	if len(data) == 0 {
		return "empty file\n", nil
	}

	var (
		result string
		err    error
	)
	switch {
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b, 0x08}):
		result, err = dumpGZ(data)
	case bytes.HasPrefix(data, []byte{0x42, 0x5a, 0x68}):
		result, err = dumpBZ2(data)
	case bytes.HasPrefix(data, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}):
		result, err = dumpXZ(data)
	case len(data) >= 512 && bytes.Equal(data[257:262], []byte("ustar")):
		result, err = DumpTar(data)
	case bytes.HasPrefix(data, []byte("!<arch>\n")):
		result, err = DumpAr(data)
	case bytes.HasPrefix(data, []byte("070701")), bytes.HasPrefix(data, []byte("070707")):
		result, err = DumpCpio(data)
	case bytes.HasPrefix(data, []byte("xar!")):
		result, err = DumpXar(data)
	case bytes.HasPrefix(data, []byte("pbzx")):
		result, err = DumpPbzx(data)
	default:
		result = "data as shown below\n" + Indent(string(data))
	}

	sum := sha256.Sum256(data)
	return fmt.Sprintf("(sha256:%s) %s", hex.EncodeToString(sum[:]), result), err
}

func dumpGZ(data []byte) (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	inner, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	dump, err := RecognizeAndDump(inner)
	return "GZip-compressed " + dump, err
}

func dumpBZ2(data []byte) (string, error) {
	inner, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(data)))
	if err != nil {
		return "", err
	}
	dump, err := RecognizeAndDump(inner)
	return "BZip2-compressed " + dump, err
}

func dumpXZ(data []byte) (string, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	inner, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	dump, err := RecognizeAndDump(inner)
	return "XZ-compressed " + dump, err
}

// DumpTar dumps a POSIX tar archive using the standard library's reader.
func DumpTar(data []byte) (string, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	var header *tar.Header
	var err error

	return dumpArchiveGeneric("POSIX tar archive", tr,
		func() (string, error) {
			header, err = tr.Next()
			if err != nil {
				return "", err
			}
			return header.Name, nil
		},
		func() (string, bool, bool, error) {
			info := header.FileInfo()
			str, isRegular := "", false
			switch info.Mode() & os.ModeType {
			case os.ModeDir:
				str = "directory"
			case os.ModeSymlink:
				str = fmt.Sprintf("symlink to %s", header.Linkname)
			case 0:
				str = fmt.Sprintf("regular file (mode: %o, owner: %d, group: %d)",
					info.Mode()&os.ModePerm, header.Uid, header.Gid)
				isRegular = true
			default:
				return "", false, false, fmt.Errorf("tar entry %s has unrecognized mode %o", header.Name, info.Mode())
			}
			return str, isRegular, false, nil
		},
	)
}

// DumpAr dumps a Unix ar archive, via blakesmith/ar.
func DumpAr(data []byte) (string, error) {
	rd := ar.NewReader(bytes.NewReader(data))
	var header *ar.Header
	var err error

	idx := -1
	return dumpArchiveGeneric("ar archive", rd,
		func() (string, error) {
			idx++
			header, err = rd.Next()
			if err != nil {
				return "", err
			}
			return header.Name, nil
		},
		func() (string, bool, bool, error) {
			str := fmt.Sprintf("regular file (mode: %o, owner: %d, group: %d, position %d)",
				header.Mode, header.Uid, header.Gid, idx)
			return str, true, false, nil
		},
	)
}

// DumpCpio dumps a newc-magic CPIO archive via surma/gocpio. This is the
// diagnostic tool's reader; the production pipeline in internal/cpioarc
// hand-rolls its own decoder because gocpio lacks the header-resync
// tolerance Apple's PBZX payloads require.
func DumpCpio(data []byte) (string, error) {
	cr := cpio.NewReader(bytes.NewReader(data))
	var header *cpio.Header
	var err error

	return dumpArchiveGeneric("cpio archive", cr,
		func() (string, error) {
			header, err = cr.Next()
			if err != nil {
				return "", err
			}
			if header.IsTrailer() {
				return "", io.EOF
			}
			return header.Name, nil
		},
		func() (string, bool, bool, error) {
			str, isRegular, isSymlink := "", false, false
			switch header.Type {
			case cpio.TYPE_SOCK:
				str = "socket"
			case cpio.TYPE_SYMLINK:
				str, isSymlink = "symlink", true
			case cpio.TYPE_REG:
				str, isRegular = "regular file", true
			case cpio.TYPE_BLK:
				str = "block special device"
			case cpio.TYPE_DIR:
				str = "directory"
			case cpio.TYPE_CHAR:
				str = "character special device"
			case cpio.TYPE_FIFO:
				str = "named pipe (FIFO)"
			}
			if !isSymlink {
				str += fmt.Sprintf(" (mode: %o, owner: %d, group: %d)", header.Mode, header.Uid, header.Gid)
			}
			return str, isRegular, isSymlink, nil
		},
	)
}

// DumpXar extracts a XAR archive with internal/xarfmt into a scratch
// temp directory and walks the result, since that package's Extract
// contract works against paths rather than in-memory buffers.
func DumpXar(data []byte) (string, error) {
	tmpFile, err := os.CreateTemp("", "archdump-xar-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpFile.Name())
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "", err
	}
	if err := tmpFile.Close(); err != nil {
		return "", err
	}

	dstDir, err := os.MkdirTemp("", "archdump-xar-out-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dstDir)

	if err := xarfmt.Extract(tmpFile.Name(), dstDir, nil); err != nil {
		return "", err
	}

	var names []string
	err = filepath.Walk(dstDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dstDir, path)
		if err != nil {
			return err
		}
		if rel != "." {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		full := filepath.Join(dstDir, name)
		info, err := os.Lstat(full)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			fmt.Fprintf(&sb, ">> %s is a directory\n", name)
			continue
		}
		body, err := os.ReadFile(full)
		if err != nil {
			return "", err
		}
		dump, err := RecognizeAndDump(body)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, ">> %s is a regular file, content is %s", name, dump)
	}

	return "xar archive\n" + Indent(sb.String()), nil
}

// DumpPbzx decodes a PBZX stream with internal/pbzx and recurses into
// the resulting logical byte stream (typically a CPIO archive).
func DumpPbzx(data []byte) (string, error) {
	demux, err := pbzx.NewDemuxer(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	inner, err := io.ReadAll(demux)
	if err != nil {
		return "", err
	}
	dump, err := RecognizeAndDump(inner)
	return "pbzx stream\n" + Indent(dump), err
}

// dumpArchiveGeneric walks an archive reader entry by entry, calling
// gotoNextEntry to advance and describeEntry to render each entry's
// metadata line; gotoNextEntry must return io.EOF to end the walk.
func dumpArchiveGeneric(typeString string, reader io.Reader, gotoNextEntry func() (string, error), describeEntry func() (string, bool, bool, error)) (string, error) {
	dumps := make(map[string]string)
	var names []string

	for {
		name, err := gotoNextEntry()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		data, err := io.ReadAll(reader)
		if err != nil {
			return "", err
		}

		description, isRegular, isSymlink, err := describeEntry()
		if err != nil {
			return "", err
		}
		str := fmt.Sprintf(">> %s is %s", name, description)

		switch {
		case isRegular:
			dump, err := RecognizeAndDump(data)
			if err != nil {
				return "", err
			}
			str += ", content is " + dump
		case isSymlink:
			str += " to " + string(data) + "\n"
		default:
			str += "\n"
		}

		names = append(names, name)
		dumps[name] = str
	}

	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(dumps[name])
	}
	return typeString + "\n" + Indent(sb.String()), nil
}
