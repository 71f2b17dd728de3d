// Package engine implements the log-structured key-value storage engine:
// an append-only data file paired with a persisted index, an in-memory hash
// index, compaction, crash recovery, and the concurrency discipline that
// lets readers and writers proceed in parallel. It is grounded on the
// teacher repo's internal/engine.KVEngine, generalized per SPEC_FULL.md
// §4.2 around a single self-delimiting binary frame format, atomic offset
// reservation, and open-per-operation file handles instead of one shared
// cursor.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aether-kv/kvs/internal/codec"
	"github.com/aether-kv/kvs/internal/kvserrors"
)

// shared is the state every Clone of an Engine points at. It outlives any
// single handle; only the last Close actually flushes and releases it.
type shared struct {
	dataPath  string
	indexPath string

	kd *keyDir

	dbOffset atomic.Int64

	// compactionGuard is read-locked by every ordinary operation for its
	// duration and write-locked by compaction. §5's lock order is
	// compaction guard first, keyDir's own lock second; Set/Get/Remove
	// take keyDir's lock only while already holding the guard, so that
	// order is never inverted.
	compactionGuard sync.RWMutex

	hdrMu sync.Mutex
	hdr   *header

	modified atomic.Bool
	closed   atomic.Bool

	refMu    sync.Mutex
	refCount int
}

// Engine is a cheap, duplicable handle onto a shared log-structured store.
// Clone returns another handle to the same underlying state; Close releases
// one handle, and only the last release flushes the index and clears the
// session-dirty bit.
type Engine struct {
	s *shared
}

// Open resolves path to a data file (kvs.db) and index file (kvs.dir) per
// the path conventions in §6, creates them if absent, validates or
// initializes the header, and recovers the in-memory index. New databases
// are created with the package default compaction threshold; use
// OpenWithThreshold to override it (only meaningful for a database being
// created for the first time — an existing one keeps its persisted value).
func Open(path string) (*Engine, error) {
	return OpenWithThreshold(path, MinCompactionThreshold)
}

// OpenWithThreshold is Open, but a newly created database's initial
// NextCompactionSize is set to initialThreshold instead of
// MinCompactionThreshold (a value below MinCompactionThreshold is raised to
// it). Grounded on SPEC_FULL.md §2's config component, which lets the
// compaction threshold be driven from config.yml instead of always starting
// at the package default.
func OpenWithThreshold(path string, initialThreshold uint64) (*Engine, error) {
	dataPath, indexPath, err := resolvePaths(path)
	if err != nil {
		return nil, err
	}

	slog.Info("engine: opening database", "data_path", dataPath, "index_path", indexPath)

	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer dataFile.Close()

	info, err := dataFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat data file: %w", err)
	}

	var hdr *header
	var wasDirty bool

	if info.Size() == 0 {
		if initialThreshold < MinCompactionThreshold {
			initialThreshold = MinCompactionThreshold
		}
		hdr = &header{
			BuildNumber:        BuildNumber,
			NextCompactionSize: initialThreshold,
		}
		wasDirty = false
		if err := writeHeader(dataFile, hdr); err != nil {
			return nil, fmt.Errorf("initialize header: %w", err)
		}
	} else {
		hdr, err = readHeader(dataFile)
		if err != nil {
			return nil, err
		}
		if hdr.BuildNumber != BuildNumber {
			return nil, &kvserrors.IncompatibleDatabaseVersionError{Found: hdr.BuildNumber, Expected: BuildNumber}
		}
		wasDirty = hdr.dirty()
	}

	index, dbOffset, err := recoverIndex(dataFile, indexPath, wasDirty, info.Size())
	if err != nil {
		return nil, err
	}
	if dbOffset < headerSize {
		dbOffset = headerSize
	}

	hdr.LastOpen = uint64(time.Now().UnixMilli())
	hdr.setDirty(true)
	if err := writeHeader(dataFile, hdr); err != nil {
		return nil, fmt.Errorf("persist header: %w", err)
	}

	s := &shared{
		dataPath:  dataPath,
		indexPath: indexPath,
		kd:        newKeyDir(),
		hdr:       hdr,
		refCount:  1,
	}
	s.kd.replace(index)
	s.dbOffset.Store(dbOffset)

	slog.Info("engine: database opened", "keys", s.kd.size(), "db_offset", dbOffset, "recovered_from_crash", wasDirty)

	return &Engine{s: s}, nil
}

// recoverIndex implements §4.2's Recovery step: a clean-close shortcut
// (read the persisted index) or a full rescan, used whenever the shortcut
// is unavailable or untrustworthy.
func recoverIndex(dataFile *os.File, indexPath string, wasDirty bool, dataSize int64) (map[string]int64, int64, error) {
	if !wasDirty {
		if idxFile, err := os.Open(indexPath); err == nil {
			defer idxFile.Close()
			if idxInfo, statErr := idxFile.Stat(); statErr == nil && idxInfo.Size() > 0 {
				if index, err := loadIndexFile(idxFile); err == nil {
					return index, dataSize, nil
				}
				slog.Warn("engine: index file unreadable, falling back to full rescan")
			}
		}
	}

	index, endOffset, err := scanDataFile(dataFile, headerSize)
	if err != nil {
		return nil, 0, fmt.Errorf("rescan data file: %w", err)
	}
	if err := writeIndexFile(indexPath, index); err != nil {
		return nil, 0, fmt.Errorf("rewrite index file: %w", err)
	}
	return index, endOffset, nil
}

// resolvePaths implements the path conventions of §6: a directory gets
// kvs.db/kvs.dir inside it; any other path is the data file, and the index
// file shares its stem with the .dir extension.
func resolvePaths(path string) (dataPath, indexPath string, err error) {
	isDir := strings.HasSuffix(path, string(os.PathSeparator))
	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		isDir = true
	}

	if isDir {
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", "", fmt.Errorf("create database directory: %w", err)
		}
		return filepath.Join(path, "kvs.db"), filepath.Join(path, "kvs.dir"), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", "", fmt.Errorf("create database directory: %w", err)
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	return path, stem + ".dir", nil
}

// Clone returns another handle sharing the same underlying log and index.
// Cloning a handle whose last reference has already been closed is a bug in
// the caller; Clone does not guard against it since refCount has already
// reached zero and there is nothing left to share safely.
func (e *Engine) Clone() *Engine {
	e.s.refMu.Lock()
	defer e.s.refMu.Unlock()
	e.s.refCount++
	return &Engine{s: e.s}
}

// Set appends a Set(key, value) record and installs it in the in-memory
// index, then triggers compaction if the data file has reached the header's
// next_compaction_size.
func (e *Engine) Set(key, value string) error {
	s := e.s
	if s.closed.Load() {
		return kvserrors.ErrClosed
	}
	s.compactionGuard.RLock()
	defer s.compactionGuard.RUnlock()

	frame := encodeSet(key, value)
	offset := s.dbOffset.Add(int64(len(frame))) - int64(len(frame))

	if err := writeFrameAt(s.dataPath, frame, offset); err != nil {
		return fmt.Errorf("append set record: %w", err)
	}

	s.kd.setMonotonic(key, offset)
	s.modified.Store(true)

	slog.Debug("engine: set", "key", key, "offset", offset, "size", len(frame))

	return e.maybeCompact()
}

// Get looks up key in the in-memory index and, if present, reads and
// validates the record at the stored offset.
func (e *Engine) Get(key string) (string, bool, error) {
	s := e.s
	if s.closed.Load() {
		return "", false, kvserrors.ErrClosed
	}
	s.compactionGuard.RLock()
	defer s.compactionGuard.RUnlock()

	offset, ok := s.kd.get(key)
	if !ok {
		return "", false, nil
	}

	rec, err := readFrameAt(s.dataPath, offset)
	if err != nil {
		return "", false, fmt.Errorf("read record at offset %d: %w", offset, err)
	}
	if !rec.isSet() || rec.key != key {
		return "", false, kvserrors.ErrInvalidDataEntry
	}

	slog.Debug("engine: get", "key", key, "offset", offset)
	return rec.value, true, nil
}

// Remove appends a Delete(key) tombstone and clears the in-memory index
// entry. Fails with ErrKeyNotExist if key is not currently present.
func (e *Engine) Remove(key string) error {
	s := e.s
	if s.closed.Load() {
		return kvserrors.ErrClosed
	}
	s.compactionGuard.RLock()
	defer s.compactionGuard.RUnlock()

	if _, ok := s.kd.get(key); !ok {
		return &kvserrors.ErrKeyNotExist{Key: key}
	}

	frame := encodeDelete(key)
	offset := s.dbOffset.Add(int64(len(frame))) - int64(len(frame))

	if err := writeFrameAt(s.dataPath, frame, offset); err != nil {
		return fmt.Errorf("append delete record: %w", err)
	}

	s.kd.removeMonotonic(key, offset)
	s.modified.Store(true)

	slog.Debug("engine: remove", "key", key, "offset", offset)

	return e.maybeCompact()
}

// Size returns the number of live keys in the in-memory index.
func (e *Engine) Size() int {
	return e.s.kd.size()
}

// Close releases this handle. Only the last outstanding handle actually
// flushes the index file and clears the session-dirty bit (§4.2 "Clean
// shutdown").
func (e *Engine) Close() error {
	s := e.s
	s.refMu.Lock()
	s.refCount--
	last := s.refCount == 0
	s.refMu.Unlock()

	if !last {
		return nil
	}

	if s.modified.Load() {
		if err := writeIndexFile(s.indexPath, s.kd.snapshot()); err != nil {
			slog.Error("engine: failed to persist index file on close", "error", err)
			return fmt.Errorf("persist index on close: %w", err)
		}
	}

	s.hdrMu.Lock()
	defer s.hdrMu.Unlock()

	dataFile, err := os.OpenFile(s.dataPath, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open data file to clear dirty bit: %w", err)
	}
	defer dataFile.Close()

	s.hdr.setDirty(false)
	if err := writeHeader(dataFile, s.hdr); err != nil {
		return fmt.Errorf("clear session-dirty bit: %w", err)
	}

	s.closed.Store(true)

	slog.Info("engine: database closed cleanly", "data_path", s.dataPath)
	return nil
}

// writeFrameAt writes an already-encoded frame at the given byte offset
// using a dedicated handle, per §5's "each operation opens its own
// OS-level handle" rule — no cursor is ever shared between goroutines.
func writeFrameAt(path string, frame []byte, offset int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", kvserrors.ErrIO, path, err)
	}
	defer f.Close()
	if _, err := f.WriteAt(frame, offset); err != nil {
		return fmt.Errorf("%w: write %s at %d: %v", kvserrors.ErrIO, path, offset, err)
	}
	return nil
}

// readFrameAt opens its own handle, decodes exactly one LogCodec frame
// starting at offset, and parses it as a record.
func readFrameAt(path string, offset int64) (*record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", kvserrors.ErrIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", kvserrors.ErrIO, path, err)
	}

	section := io.NewSectionReader(f, offset, info.Size()-offset)
	tag, payload, err := codec.Decode(section)
	if err != nil {
		return nil, err
	}
	return decodeRecordPayload(tag, payload)
}
