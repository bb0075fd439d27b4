package logs

import (
	"encoding/binary"
	"strings"
	"testing"
)

func frame(stream byte, payload string) []byte {
	header := make([]byte, headerLen)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestDecodeBuffer(t *testing.T) {
	var buf []byte
	buf = append(buf, frame(1, "hello ")...)
	buf = append(buf, frame(2, "stderr ")...)
	buf = append(buf, frame(1, "world")...)

	if got := DecodeBuffer(buf); got != "hello stderr world" {
		t.Fatalf("unexpected decode: %q", got)
	}
}

func TestDecodeBufferDropsTrailingPartialFrame(t *testing.T) {
	buf := frame(1, "complete")
	partial := frame(1, "partial")
	buf = append(buf, partial[:len(partial)-3]...)

	if got := DecodeBuffer(buf); got != "complete" {
		t.Fatalf("expected trailing partial frame dropped, got %q", got)
	}
}

func TestDecodeBufferEmptyAndHeaderOnly(t *testing.T) {
	if got := DecodeBuffer(nil); got != "" {
		t.Fatalf("expected empty decode, got %q", got)
	}
	if got := DecodeBuffer([]byte{1, 0, 0}); got != "" {
		t.Fatalf("expected empty decode for short buffer, got %q", got)
	}
}

// Feeding a buffer through the incremental decoder in any chunking must
// reproduce DecodeBuffer's output for the complete frames.
func TestDecoderChunkSplitAssociativity(t *testing.T) {
	var buf []byte
	buf = append(buf, frame(1, "alpha\n")...)
	buf = append(buf, frame(2, "beta\n")...)
	buf = append(buf, frame(1, "gamma\n")...)
	want := DecodeBuffer(buf)

	for split := 1; split < len(buf); split++ {
		dec := NewDecoder()
		got := dec.Decode(buf[:split]) + dec.Decode(buf[split:])
		if got != want {
			t.Fatalf("split at %d produced %q, want %q", split, got, want)
		}
	}

	// One byte at a time.
	dec := NewDecoder()
	var got strings.Builder
	for i := range buf {
		got.WriteString(dec.Decode(buf[i : i+1]))
	}
	if got.String() != want {
		t.Fatalf("byte-wise feed produced %q, want %q", got.String(), want)
	}
}

func TestDecoderCarriesPartialFrameAcrossCalls(t *testing.T) {
	full := frame(1, "carried payload")
	dec := NewDecoder()

	// Header split across two reads.
	if got := dec.Decode(full[:5]); got != "" {
		t.Fatalf("incomplete header must decode nothing, got %q", got)
	}
	if got := dec.Decode(full[5:]); got != "carried payload" {
		t.Fatalf("expected reassembled payload, got %q", got)
	}
	if len(dec.carry) != 0 {
		t.Fatalf("carry should be empty after complete frame, have %d bytes", len(dec.carry))
	}
}

func TestDecoderNeverDuplicatesBytes(t *testing.T) {
	a := frame(1, "one")
	b := frame(1, "two")
	dec := NewDecoder()

	chunk := append(append([]byte{}, a...), b[:4]...)
	if got := dec.Decode(chunk); got != "one" {
		t.Fatalf("expected first frame only, got %q", got)
	}
	if got := dec.Decode(b[4:]); got != "two" {
		t.Fatalf("expected second frame exactly once, got %q", got)
	}
}

func TestDecodeReplacesInvalidUTF8(t *testing.T) {
	payload := string([]byte{0xff, 0xfe}) + "ok"
	got := DecodeBuffer(frame(1, payload))
	if !strings.Contains(got, "ok") {
		t.Fatalf("valid bytes must survive, got %q", got)
	}
	if strings.Contains(got, "\xff") {
		t.Fatalf("invalid bytes must be replaced, got %q", got)
	}
	if !strings.Contains(got, "�") {
		t.Fatalf("expected replacement rune, got %q", got)
	}
}
