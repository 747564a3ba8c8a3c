// Package xarfmt reads XAR archives: the fixed 28-byte header, the
// zlib-deflated XML table of contents, and the heap of file payloads it
// indexes. PKG installer files are XAR archives, so this is the second
// stage of the macOS SDK extraction pipeline (spec.md §4.1).
package xarfmt

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/c3lang/macsdkfetch/internal/fsutil"
	"github.com/c3lang/macsdkfetch/internal/pipeline"
)

const (
	xarMagic   uint32 = 0x78617221 // "xar!"
	maxTOCSize        = 100 * 1024 * 1024 // spec.md §3 invariant
)

// header is the binary layout of a XAR file's fixed 28-byte prefix, big
// endian throughout.
type header struct {
	Magic            uint32
	HeaderSize       uint16
	Version          uint16
	TOCCompressed    uint64
	TOCUncompressed  uint64
	ChecksumAlgo     uint32
}

func readHeader(r io.Reader) (header, error) {
	var h header
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return header{}, err
	}
	return h, nil
}

// ProgressFunc is called with (bytesDone, bytesTotal) as heap data is
// copied out, the same interpolation fetch_macossdk.c does against
// ftell(f)/total_size while walking the TOC.
type ProgressFunc func(done, total int64)

// Extract reads the XAR archive at srcPath and materializes every <file>
// named in its table of contents as a directory or regular file under
// dstDir.
func Extract(srcPath, dstDir string, onProgress ProgressFunc) error {
	const op = "xarfmt.Extract"

	f, err := os.Open(srcPath)
	if err != nil {
		return pipeline.Wrap(pipeline.KindInputMissing, op, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return pipeline.Wrap(pipeline.KindInputMissing, op, err)
	}
	totalSize := info.Size()

	hdr, err := readHeader(f)
	if err != nil {
		return pipeline.Wrap(pipeline.KindXarFormat, op, err)
	}
	if hdr.Magic != xarMagic {
		return pipeline.Newf(pipeline.KindXarFormat, op, "bad magic %#x", hdr.Magic)
	}
	if hdr.TOCCompressed == 0 || hdr.TOCCompressed > maxTOCSize {
		return pipeline.Newf(pipeline.KindXarFormat, op, "invalid XAR TOC size (%d bytes)", hdr.TOCCompressed)
	}

	if _, err := f.Seek(int64(hdr.HeaderSize), io.SeekStart); err != nil {
		return pipeline.Wrap(pipeline.KindXarFormat, op, err)
	}
	tocComp := make([]byte, hdr.TOCCompressed)
	if _, err := io.ReadFull(f, tocComp); err != nil {
		return pipeline.Wrap(pipeline.KindXarFormat, op, err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(tocComp))
	if err != nil {
		return pipeline.Wrap(pipeline.KindXarFormat, op, err)
	}
	toc := make([]byte, 0, hdr.TOCUncompressed+1)
	buf := bytes.NewBuffer(toc)
	if _, err := io.Copy(buf, zr); err != nil {
		zr.Close()
		return pipeline.Wrap(pipeline.KindXarFormat, op, err)
	}
	zr.Close()
	tocBytes := append(buf.Bytes(), 0) // trailing NUL, matching the C scanner's sentinel

	heapStart := int64(hdr.HeaderSize) + int64(hdr.TOCCompressed)

	var stack []string
	walkErr := walkTOC(tocBytes, func(ev tocEvent) error {
		if !ev.open {
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			return nil
		}
		stack = append(stack, ev.name)
		rel := path.Join(stack...)
		dst, err := fsutil.SafeJoin(dstDir, rel)
		if err != nil {
			return pipeline.Wrap(pipeline.KindXarFormat, op, err)
		}

		if onProgress != nil {
			pos, _ := f.Seek(0, io.SeekCurrent)
			onProgress(pos, totalSize)
		}

		if ev.data != nil {
			return extractHeapFile(f, heapStart, *ev.data, dst)
		}
		if err := fsutil.MkdirAll(dst); err != nil {
			return pipeline.Wrap(pipeline.KindIoWrite, op, err)
		}
		return nil
	})
	if walkErr != nil {
		if _, ok := walkErr.(*pipeline.Error); ok {
			return walkErr
		}
		return pipeline.Wrap(pipeline.KindXarFormat, op, walkErr)
	}

	if onProgress != nil {
		onProgress(totalSize, totalSize)
	}
	return nil
}

func extractHeapFile(f *os.File, heapStart int64, d dataRef, dst string) error {
	const op = "xarfmt.extractHeapFile"

	if err := fsutil.MkdirAll(path.Dir(dst)); err != nil {
		return pipeline.Wrap(pipeline.KindIoWrite, op, err)
	}
	if _, err := f.Seek(heapStart+d.offset, io.SeekStart); err != nil {
		return pipeline.Wrap(pipeline.KindXarFormat, op, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return pipeline.Wrap(pipeline.KindIoWrite, op, err)
	}
	defer out.Close()

	if _, err := io.CopyN(out, f, d.size); err != nil {
		return pipeline.Wrap(pipeline.KindXarFormat, op, fmt.Errorf("short heap read for %q: %w", dst, err))
	}
	return nil
}
