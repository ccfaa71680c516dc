package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Blob files are a self-describing envelope:
//
//	magic "MRCE" | uint16 version | uint8 len(format) | format | uint64 len(payload) | payload
//
// All integers are big endian. Readers reject unknown versions so a format
// change is detected instead of misloaded.
const (
	envelopeMagic   = "MRCE"
	envelopeVersion = uint16(1)
	maxFormatLen    = 255
)

var errCorrupt = errors.New("cache: corrupt envelope")

func encodeEnvelope(format string, payload []byte) ([]byte, error) {
	if len(format) > maxFormatLen {
		return nil, fmt.Errorf("cache: format tag too long (%d bytes)", len(format))
	}
	var buf bytes.Buffer
	buf.Grow(len(envelopeMagic) + 2 + 1 + len(format) + 8 + len(payload))
	buf.WriteString(envelopeMagic)
	_ = binary.Write(&buf, binary.BigEndian, envelopeVersion)
	buf.WriteByte(byte(len(format)))
	buf.WriteString(format)
	_ = binary.Write(&buf, binary.BigEndian, uint64(len(payload)))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// decodeEnvelope returns the format tag and payload. The payload aliases b.
func decodeEnvelope(b []byte) (string, []byte, error) {
	if len(b) < len(envelopeMagic)+2+1 || string(b[:4]) != envelopeMagic {
		return "", nil, errCorrupt
	}
	off := len(envelopeMagic)
	if v := binary.BigEndian.Uint16(b[off:]); v != envelopeVersion {
		return "", nil, fmt.Errorf("%w: unsupported version %d", errCorrupt, v)
	}
	off += 2
	flen := int(b[off])
	off++
	if len(b) < off+flen+8 {
		return "", nil, errCorrupt
	}
	format := string(b[off : off+flen])
	off += flen
	plen := binary.BigEndian.Uint64(b[off:])
	off += 8
	if uint64(len(b)-off) != plen {
		return "", nil, fmt.Errorf("%w: payload length %d, have %d", errCorrupt, plen, len(b)-off)
	}
	return format, b[off:], nil
}
