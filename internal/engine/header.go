package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/aether-kv/kvs/internal/codec"
	"github.com/aether-kv/kvs/internal/kvserrors"
)

// BuildNumber is the on-disk format version. Open refuses any data file
// whose header carries a different value.
const BuildNumber uint64 = 1

// MinCompactionThreshold is the smallest next_compaction_size the engine
// will ever install, per §4.2's compaction procedure (step 6).
const MinCompactionThreshold uint64 = 32 * 1024

// sessionDirty is bit 0 of header.Flags: set on open, cleared on clean
// close. Left set at the next open means the previous session crashed.
const sessionDirty uint64 = 0x1

// tagHeader identifies a header frame in the LogCodec envelope.
const tagHeader uint8 = 1

// header mirrors §3's fixed header fields.
type header struct {
	BuildNumber        uint64
	LastOpen           uint64
	NextCompactionSize uint64
	Flags              uint64
}

func (h *header) dirty() bool {
	return h.Flags&sessionDirty != 0
}

func (h *header) setDirty(v bool) {
	if v {
		h.Flags |= sessionDirty
	} else {
		h.Flags &^= sessionDirty
	}
}

// encode serializes the header into one fixed-size LogCodec frame.
func (h *header) encode() []byte {
	payload := make([]byte, 32)
	binary.BigEndian.PutUint64(payload[0:8], h.BuildNumber)
	binary.BigEndian.PutUint64(payload[8:16], h.LastOpen)
	binary.BigEndian.PutUint64(payload[16:24], h.NextCompactionSize)
	binary.BigEndian.PutUint64(payload[24:32], h.Flags)
	return codec.Encode(tagHeader, payload)
}

// headerSize is the fixed number of bytes a header frame occupies on disk;
// every data record begins at this offset.
var headerSize = int64(len((&header{}).encode()))

func decodeHeader(data []byte) (*header, error) {
	tag, payload, err := codec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kvserrors.ErrInvalidDatabaseFormat, err)
	}
	if tag != tagHeader || len(payload) != 32 {
		return nil, kvserrors.ErrInvalidDatabaseFormat
	}
	return &header{
		BuildNumber:        binary.BigEndian.Uint64(payload[0:8]),
		LastOpen:           binary.BigEndian.Uint64(payload[8:16]),
		NextCompactionSize: binary.BigEndian.Uint64(payload[16:24]),
		Flags:              binary.BigEndian.Uint64(payload[24:32]),
	}, nil
}

// readHeader reads and parses the header at offset 0 of the data file.
func readHeader(f *os.File) (*header, error) {
	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", kvserrors.ErrInvalidDatabaseFormat, err)
	}
	return decodeHeader(buf)
}

// writeHeader persists h at offset 0 of the data file.
func writeHeader(f *os.File, h *header) error {
	_, err := f.WriteAt(h.encode(), 0)
	return err
}
