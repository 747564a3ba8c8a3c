package driver

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/c3lang/macsdkfetch/internal/pipeline"
)

func TestFindPayloads(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "a", "b"), 0755)
	os.WriteFile(filepath.Join(root, "a", "Payload"), nil, 0644)
	os.WriteFile(filepath.Join(root, "a", "b", "Payload"), nil, 0644)
	os.WriteFile(filepath.Join(root, "a", "NotPayload"), nil, 0644)

	got, err := findPayloads(root)
	if err != nil {
		t.Fatalf("findPayloads: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("findPayloads found %d entries, want 2: %v", len(got), got)
	}
}

func TestFindPayloadsNoneFound(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "something-else"), nil, 0644)

	got, err := findPayloads(root)
	if err != nil {
		t.Fatalf("findPayloads: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("findPayloads found %d entries, want 0", len(got))
	}
}

func TestCountingReaderReportsCumulativeBytes(t *testing.T) {
	data := []byte("0123456789")
	var calls [][2]int64
	cr := &countingReader{
		r:     bytes.NewReader(data),
		total: int64(len(data)),
		onProgress: func(done, total int64) {
			calls = append(calls, [2]int64{done, total})
		},
	}

	buf := make([]byte, 4)
	for {
		n, err := cr.Read(buf)
		_ = n
		if err != nil {
			break
		}
	}

	if len(calls) == 0 {
		t.Fatal("onProgress was never called")
	}
	last := calls[len(calls)-1]
	if last[0] != int64(len(data)) {
		t.Errorf("final done = %d, want %d", last[0], len(data))
	}
	if last[1] != int64(len(data)) {
		t.Errorf("total = %d, want %d", last[1], len(data))
	}
}

// minimalNewcHeader writes a newc CPIO header block; it mirrors the
// byte layout internal/cpioarc's reader expects without importing that
// package's unexported test fixtures.
func minimalNewcHeader(mode, filesize uint32, name string) []byte {
	var buf bytes.Buffer
	buf.WriteString("070701")
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

func appendPadded(buf *bytes.Buffer, body []byte) {
	buf.Write(body)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func buildPbzxOfCpio(t *testing.T, cpioBytes []byte) []byte {
	t.Helper()
	const continuationBit uint64 = 0x01000000
	var out bytes.Buffer
	out.WriteString("pbzx")
	binary.Write(&out, binary.BigEndian, continuationBit) // main_flags: one chunk follows
	binary.Write(&out, binary.BigEndian, uint64(0))        // chunk_flags: no further chunk
	binary.Write(&out, binary.BigEndian, uint64(len(cpioBytes)))
	out.Write(cpioBytes)
	return out.Bytes()
}

func TestExtractPayloadEndToEnd(t *testing.T) {
	var cpio bytes.Buffer
	cpio.Write(minimalNewcHeader(0100644, 5, "hello.txt"))
	appendPadded(&cpio, []byte("howdy"))
	cpio.Write(minimalNewcHeader(0, 0, "TRAILER!!!"))

	payload := buildPbzxOfCpio(t, cpio.Bytes())
	payloadPath := filepath.Join(t.TempDir(), "Payload")
	if err := os.WriteFile(payloadPath, payload, 0644); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	log := pipeline.NewLogger(2)
	if err := extractPayload(payloadPath, dst, log, nil); err != nil {
		t.Fatalf("extractPayload: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "hello.txt"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(got) != "howdy" {
		t.Errorf("extracted content = %q, want %q", got, "howdy")
	}
}
