// Package pbzx implements a pull-based reader for Apple's PBZX framing
// format: a chunked stream whose payloads are either raw or XZ-
// compressed CPIO bytes (spec.md §4.2). It is exposed as a plain
// io.Reader so any consumer — including the CPIO reader in
// internal/cpioarc, or a test feeding it an in-memory buffer — can pull
// bytes from it without knowing about chunk or XZ framing, per the
// byte-source abstraction spec.md §9's design notes call for.
package pbzx

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

const (
	continuationBit uint64 = 0x01000000
	magicLen               = 4
)

var (
	pbzxMagic = []byte("pbzx")
	xzMagic   = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}
)

// FormatError reports a malformed PBZX header or chunk.
type FormatError struct{ Msg string }

func (e *FormatError) Error() string { return "pbzx: " + e.Msg }

// StallError reports that the XZ decoder consumed no input and produced
// no output, the forward-progress guard spec.md §4.2 requires.
type StallError struct{}

func (e *StallError) Error() string { return "pbzx: decoder made no forward progress" }

// Demuxer pulls the logical, decompressed byte stream out of a PBZX
// container. It holds exactly one XZ decoder instance at a time, per
// spec.md §5's resource model.
type Demuxer struct {
	r         *bufio.Reader
	mainFlags uint64
	chunk     *io.LimitedReader // raw remaining bytes of the current chunk
	cur       io.Reader         // decompressed view of the current chunk
	done      bool
}

// NewDemuxer validates the "pbzx" magic and main_flags header, returning
// a Demuxer ready to be Read from.
func NewDemuxer(r io.Reader) (*Demuxer, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	magic := make([]byte, magicLen)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, &FormatError{Msg: fmt.Sprintf("short read of magic: %v", err)}
	}
	if !bytes.Equal(magic, pbzxMagic) {
		return nil, &FormatError{Msg: fmt.Sprintf("bad magic %q", magic)}
	}

	var mainFlags uint64
	if err := binary.Read(br, binary.BigEndian, &mainFlags); err != nil {
		return nil, &FormatError{Msg: fmt.Sprintf("short read of main_flags: %v", err)}
	}

	return &Demuxer{r: br, mainFlags: mainFlags}, nil
}

// Read implements io.Reader over the concatenation of every chunk's
// decompressed payload.
func (d *Demuxer) Read(p []byte) (int, error) {
	for {
		if d.done {
			return 0, io.EOF
		}
		if d.cur == nil {
			if err := d.nextChunk(); err != nil {
				return 0, err
			}
			continue
		}

		n, err := d.cur.Read(p)
		if n > 0 {
			return n, nil
		}
		switch err {
		case io.EOF:
			if err := d.drainChunk(); err != nil {
				return 0, err
			}
			d.cur = nil
			continue
		case nil:
			// A conforming io.Reader never returns (0, nil); Demuxer is
			// the only caller of the XZ decoder, so treat this as proof
			// the decoder stalled rather than spin forever.
			return 0, &StallError{}
		default:
			return 0, &FormatError{Msg: err.Error()}
		}
	}
}

// nextChunk reads the next chunk header and installs a decompressed
// reader for it, or marks the stream done per spec.md §4.2 step 2.
func (d *Demuxer) nextChunk() error {
	if d.mainFlags&continuationBit == 0 {
		d.done = true
		return io.EOF
	}

	var chunkFlags, chunkSize uint64
	if err := binary.Read(d.r, binary.BigEndian, &chunkFlags); err != nil {
		return &FormatError{Msg: fmt.Sprintf("short read of chunk_flags: %v", err)}
	}
	if err := binary.Read(d.r, binary.BigEndian, &chunkSize); err != nil {
		return &FormatError{Msg: fmt.Sprintf("short read of chunk_size: %v", err)}
	}
	if chunkFlags == 0 && chunkSize == 0 {
		d.done = true
		return io.EOF
	}

	d.mainFlags = chunkFlags
	d.chunk = &io.LimitedReader{R: d.r, N: int64(chunkSize)}

	isXZ := false
	if chunkSize >= uint64(len(xzMagic)) {
		if peek, err := d.r.Peek(len(xzMagic)); err == nil && bytes.Equal(peek, xzMagic) {
			isXZ = true
		}
	}

	if isXZ {
		xr, err := xz.NewReader(d.chunk)
		if err != nil {
			return &FormatError{Msg: fmt.Sprintf("xz init: %v", err)}
		}
		d.cur = xr
	} else {
		d.cur = d.chunk
	}
	return nil
}

// drainChunk discards any bytes of the current chunk the decompressor
// didn't consume (trailing XZ stream padding up to chunk_size) so the
// next chunk header lines up correctly.
func (d *Demuxer) drainChunk() error {
	if d.chunk == nil || d.chunk.N == 0 {
		return nil
	}
	if _, err := io.Copy(io.Discard, d.chunk); err != nil {
		return &FormatError{Msg: fmt.Sprintf("draining chunk remainder: %v", err)}
	}
	return nil
}
