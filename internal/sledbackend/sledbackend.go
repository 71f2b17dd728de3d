// Package sledbackend implements the opaque alternative backend described
// in SPEC_FULL.md §4.3: a single-file, always-synchronous-flush store whose
// only behavioral difference from the log-structured engine is that every
// mutation is durable before it returns. Grounded on the original source's
// SledKvsEngine, which wraps the `sled` embedded tree; here re-expressed
// natively as an in-memory map rewritten to disk, through one LogCodec
// envelope, after every Set or Remove.
package sledbackend

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aether-kv/kvs/internal/codec"
	"github.com/aether-kv/kvs/internal/kvserrors"
)

const tagSnapshot uint8 = 10

// Backend is a single-file map-backed store. Every Set/Remove rewrites the
// whole file and fsyncs before returning, trading append-only throughput
// for the simplest possible durability story.
type Backend struct {
	mu   sync.RWMutex
	path string
	data map[string]string
}

// Open reads (or creates) the sled-alternative database file at path, which
// follows the same directory/file convention as the engine backend: a
// directory gets sled.db inside it, any other path is used directly.
func Open(path string) (*Backend, error) {
	filePath, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	b := &Backend{path: filePath, data: make(map[string]string)}

	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open sled-alternative database: %v", kvserrors.ErrIO, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat sled-alternative database: %v", kvserrors.ErrIO, err)
	}
	if info.Size() == 0 {
		slog.Info("sledbackend: initialized empty database", "path", filePath)
		return b, nil
	}

	tag, payload, err := codec.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode sled-alternative database: %v", kvserrors.ErrInvalidDatabaseFormat, err)
	}
	if tag != tagSnapshot {
		return nil, kvserrors.ErrInvalidDatabaseFormat
	}

	data, err := decodeSnapshot(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kvserrors.ErrInvalidDatabaseFormat, err)
	}
	b.data = data

	slog.Info("sledbackend: database opened", "path", filePath, "keys", len(b.data))
	return b, nil
}

func resolvePath(path string) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, "sled.db"), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}
	return path, nil
}

// Set installs key=value and flushes the whole map to disk before
// returning.
func (b *Backend) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return b.flushLocked()
}

// Get returns the current value for key, if present.
func (b *Backend) Get(key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok, nil
}

// Remove deletes key, flushing the updated map to disk. Returns
// ErrKeyNotExist if key was not present.
func (b *Backend) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; !ok {
		return &kvserrors.ErrKeyNotExist{Key: key}
	}
	delete(b.data, key)
	return b.flushLocked()
}

// Close is a no-op beyond returning nil: every mutation is already durable
// by the time it returns, so there is nothing left to flush.
func (b *Backend) Close() error {
	return nil
}

// flushLocked rewrites the entire database file from the in-memory map and
// fsyncs it. Caller must hold mu for writing.
func (b *Backend) flushLocked() error {
	payload := encodeSnapshot(b.data)
	frame := codec.Encode(tagSnapshot, payload)

	f, err := os.OpenFile(b.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: open sled-alternative database for write: %v", kvserrors.ErrIO, err)
	}
	defer f.Close()

	if _, err := f.Write(frame); err != nil {
		return fmt.Errorf("%w: write sled-alternative database: %v", kvserrors.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync sled-alternative database: %v", kvserrors.ErrIO, err)
	}
	return nil
}

// encodeSnapshot serializes the map as a count followed by
// length-prefixed key/value pairs.
func encodeSnapshot(data map[string]string) []byte {
	size := 4
	for k, v := range data {
		size += 4 + len(k) + 4 + len(v)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(data)))
	offset := 4
	for k, v := range data {
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(k)))
		offset += 4
		copy(buf[offset:], k)
		offset += len(k)
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(v)))
		offset += 4
		copy(buf[offset:], v)
		offset += len(v)
	}
	return buf
}

func decodeSnapshot(payload []byte) (map[string]string, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("snapshot too short for count field")
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	offset := 4

	data := make(map[string]string, count)
	for i := uint32(0); i < count; i++ {
		if len(payload)-offset < 4 {
			return nil, fmt.Errorf("snapshot truncated reading key length")
		}
		keyLen := int(binary.BigEndian.Uint32(payload[offset : offset+4]))
		offset += 4
		if len(payload)-offset < keyLen {
			return nil, fmt.Errorf("snapshot truncated reading key")
		}
		key := string(payload[offset : offset+keyLen])
		offset += keyLen

		if len(payload)-offset < 4 {
			return nil, fmt.Errorf("snapshot truncated reading value length")
		}
		valLen := int(binary.BigEndian.Uint32(payload[offset : offset+4]))
		offset += 4
		if len(payload)-offset < valLen {
			return nil, fmt.Errorf("snapshot truncated reading value")
		}
		value := string(payload[offset : offset+valLen])
		offset += valLen

		data[key] = value
	}
	return data, nil
}
