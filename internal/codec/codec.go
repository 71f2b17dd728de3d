// Package codec implements LogCodec, the single binary, length-self-delimiting
// container used for every on-disk and on-wire record: the database header,
// Set/Delete data records, index records, and client/server protocol
// messages. It is grounded on the teacher repo's internal/format.Record
// encode/decode (fixed-offset fields plus a CRC32 trailer for integrity),
// generalized into a length-and-type-prefixed envelope so one function
// serves every record kind instead of one bespoke layout per kind.
//
// Wire layout of one frame:
//
//	[0:4]  total length of everything after this field (uint32 BigEndian)
//	[4:8]  CRC32 (IEEE) of bytes [8:4+total_length]
//	[8]    type tag identifying the payload that follows
//	[9:]   payload bytes
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/aether-kv/kvs/internal/kvserrors"
)

var enc = binary.BigEndian

const (
	lengthWidth = 4
	crcWidth    = 4
	tagWidth    = 1
	// frameOverhead is the smallest valid value of the length field: the
	// CRC and tag bytes that follow it even for an empty payload.
	frameOverhead = crcWidth + tagWidth
	// MaxFrameSize bounds a single decoded frame, guarding readers (in
	// particular the server, which must never let one connection exhaust
	// memory) against a corrupt or hostile length field.
	MaxFrameSize = 64 * 1024 * 1024
)

// Encode serializes a (tag, payload) pair into one self-delimiting frame.
func Encode(tag uint8, payload []byte) []byte {
	body := make([]byte, tagWidth+len(payload))
	body[0] = tag
	copy(body[1:], payload)

	crc := crc32.ChecksumIEEE(body)

	buf := make([]byte, lengthWidth+crcWidth+len(body))
	enc.PutUint32(buf[0:4], uint32(crcWidth+len(body)))
	enc.PutUint32(buf[4:8], crc)
	copy(buf[8:], body)
	return buf
}

// Decode reads exactly one frame from r. It returns io.EOF, unwrapped, when
// r is exhausted exactly at a frame boundary — that is not an error. Any
// other short read, or a length/CRC mismatch, returns ErrCorruptFrame.
func Decode(r io.Reader) (tag uint8, payload []byte, err error) {
	var lenBuf [lengthWidth]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("%w: reading frame length: %v", kvserrors.ErrCorruptFrame, err)
	}

	bodyLen := enc.Uint32(lenBuf[:])
	if bodyLen < frameOverhead || bodyLen > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: implausible frame length %d", kvserrors.ErrCorruptFrame, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("%w: reading frame body: %v", kvserrors.ErrCorruptFrame, err)
	}

	wantCRC := enc.Uint32(body[0:4])
	gotCRC := crc32.ChecksumIEEE(body[4:])
	if gotCRC != wantCRC {
		return 0, nil, fmt.Errorf("%w: crc mismatch", kvserrors.ErrCorruptFrame)
	}

	return body[4], body[5:], nil
}

// NewReader wraps r for repeated Decode calls with buffering, matching the
// bufio.Reader idiom the teacher's recovery scan already uses.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReader(r)
}
