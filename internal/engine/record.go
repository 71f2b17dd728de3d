package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/aether-kv/kvs/internal/codec"
	"github.com/aether-kv/kvs/internal/kvserrors"
)

// Record tags, carried in the LogCodec envelope's type byte.
const (
	tagSet    uint8 = 2
	tagDelete uint8 = 3
	tagIndex  uint8 = 4
)

// record is the decoded form of one data-file entry: a logical upsert
// (Set, with a value) or tombstone (Delete, value left empty). This is the
// teacher's format.Record (internal/format/codec.go), trimmed to the tag,
// key and value the engine actually needs once CRC/length live in the
// envelope.
type record struct {
	tag   uint8
	key   string
	value string // unused when tag == tagDelete
}

func (r *record) isSet() bool {
	return r.tag == tagSet
}

// encodeSet builds the wire frame for a Set(key, value) entry.
func encodeSet(key, value string) []byte {
	payload := make([]byte, 4+len(key)+len(value))
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(key)))
	copy(payload[4:4+len(key)], key)
	copy(payload[4+len(key):], value)
	return codec.Encode(tagSet, payload)
}

// encodeDelete builds the wire frame for a Delete(key) tombstone.
func encodeDelete(key string) []byte {
	payload := make([]byte, 4+len(key))
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(key)))
	copy(payload[4:], key)
	return codec.Encode(tagDelete, payload)
}

// decodeRecordPayload turns a LogCodec (tag, payload) pair into a record.
func decodeRecordPayload(tag uint8, payload []byte) (*record, error) {
	switch tag {
	case tagSet:
		if len(payload) < 4 {
			return nil, kvserrors.ErrInvalidDataEntry
		}
		keyLen := binary.BigEndian.Uint32(payload[0:4])
		if uint32(len(payload)) < 4+keyLen {
			return nil, kvserrors.ErrInvalidDataEntry
		}
		key := string(payload[4 : 4+keyLen])
		value := string(payload[4+keyLen:])
		return &record{tag: tagSet, key: key, value: value}, nil
	case tagDelete:
		if len(payload) < 4 {
			return nil, kvserrors.ErrInvalidDataEntry
		}
		keyLen := binary.BigEndian.Uint32(payload[0:4])
		if uint32(len(payload)) < 4+keyLen {
			return nil, kvserrors.ErrInvalidDataEntry
		}
		key := string(payload[4 : 4+keyLen])
		return &record{tag: tagDelete, key: key}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected record tag %d", kvserrors.ErrInvalidDataEntry, tag)
	}
}

// indexEntry is one {key, offset} pair from the on-disk index file.
type indexEntry struct {
	key    string
	offset int64
}

func encodeIndexEntry(key string, offset int64) []byte {
	payload := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(payload[0:8], uint64(offset))
	copy(payload[8:], key)
	return codec.Encode(tagIndex, payload)
}

func decodeIndexEntryPayload(tag uint8, payload []byte) (*indexEntry, error) {
	if tag != tagIndex || len(payload) < 8 {
		return nil, kvserrors.ErrInvalidDataEntry
	}
	offset := int64(binary.BigEndian.Uint64(payload[0:8]))
	key := string(payload[8:])
	return &indexEntry{key: key, offset: offset}, nil
}
