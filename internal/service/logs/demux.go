package logs

import (
	"encoding/binary"
	"strings"
)

// The daemon multiplexes stdout and stderr into one byte stream of repeated
// frames: a 1-byte stream type, 3 padding bytes, a 4-byte big-endian payload
// length, then that many payload bytes.
const headerLen = 8

// DecodeBuffer decodes a complete multiplexed log buffer into plain text.
// A trailing incomplete frame is dropped, which is acceptable for a one-shot
// tail fetch.
func DecodeBuffer(data []byte) string {
	var out strings.Builder
	for len(data) >= headerLen {
		size := binary.BigEndian.Uint32(data[4:headerLen])
		if uint64(len(data)) < headerLen+uint64(size) {
			break
		}
		end := headerLen + int(size)
		out.Write(data[headerLen:end])
		data = data[end:]
	}
	return strings.ToValidUTF8(out.String(), "�")
}

// Decoder decodes a multiplexed log stream chunk by chunk. The incomplete
// tail of the last frame is carried between calls so a header split across
// two network reads reassembles without dropping or duplicating bytes.
type Decoder struct {
	carry []byte
}

// NewDecoder returns a Decoder with an empty carry.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode extracts every complete frame from carry+chunk and returns the
// decoded text, retaining the remaining incomplete tail for the next call.
func (d *Decoder) Decode(chunk []byte) string {
	data := make([]byte, 0, len(d.carry)+len(chunk))
	data = append(data, d.carry...)
	data = append(data, chunk...)

	var out strings.Builder
	for len(data) >= headerLen {
		size := binary.BigEndian.Uint32(data[4:headerLen])
		if uint64(len(data)) < headerLen+uint64(size) {
			break
		}
		end := headerLen + int(size)
		out.Write(data[headerLen:end])
		data = data[end:]
	}
	d.carry = append(d.carry[:0], data...)
	return strings.ToValidUTF8(out.String(), "�")
}
