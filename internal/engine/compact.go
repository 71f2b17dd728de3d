package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aether-kv/kvs/internal/codec"
	"github.com/aether-kv/kvs/internal/kvserrors"
)

// compactionSlack is the factor nextCompactionThreshold multiplies the
// post-compaction file size by, so the log may grow to that multiple of its
// compacted size before the next pass, avoiding needless compaction passes
// in a freshly-compacted database.
const compactionSlack = 2

// maybeCompact runs compaction when the data file has grown past the
// header's next_compaction_size threshold (§4.2, compaction procedure).
// Called with compactionGuard already read-locked by the caller's Set or
// Remove; it upgrades to a write lock only if compaction is actually due.
func (e *Engine) maybeCompact() error {
	s := e.s
	offset := s.dbOffset.Load()

	s.hdrMu.Lock()
	threshold := int64(s.hdr.NextCompactionSize)
	s.hdrMu.Unlock()

	if offset < threshold {
		return nil
	}

	// Release the read lock Set/Remove are holding and reacquire as a
	// writer: compaction must run with no concurrent reader or writer in
	// flight, per §5's lock-ordering rule (compaction guard before the
	// keyDir lock, exclusive here).
	s.compactionGuard.RUnlock()
	defer s.compactionGuard.RLock()

	s.compactionGuard.Lock()
	defer s.compactionGuard.Unlock()

	// Re-check now that we hold the lock exclusively: another writer may
	// have already compacted while we were upgrading from reader to
	// writer, making this call spurious (§4.2 step 1).
	s.hdrMu.Lock()
	threshold = int64(s.hdr.NextCompactionSize)
	s.hdrMu.Unlock()
	if s.dbOffset.Load() < threshold {
		return nil
	}

	return e.compact()
}

// compact rewrites the data file to contain only the live value of every
// key currently in the index, discarding tombstones and superseded values.
// It builds the replacement under a temporary name, fsyncs it, and renames
// it over the live file — so a crash mid-compaction leaves the original
// file untouched (§7's compaction crash-safety requirement), unlike an
// in-place truncate-and-rewrite.
func (e *Engine) compact() error {
	s := e.s
	snapshot := s.kd.snapshot()

	slog.Info("engine: compaction starting", "keys", len(snapshot), "data_path", s.dataPath)

	tmpPath := s.dataPath + ".compact"
	tmpFile, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: create compaction temp file: %v", kvserrors.ErrIO, err)
	}
	defer tmpFile.Close()
	defer os.Remove(tmpPath) // no-op once the rename below has succeeded

	s.hdrMu.Lock()
	hdr := *s.hdr
	s.hdrMu.Unlock()

	if err := writeHeader(tmpFile, &hdr); err != nil {
		return fmt.Errorf("write compacted header: %w", err)
	}

	srcFile, err := os.Open(s.dataPath)
	if err != nil {
		return fmt.Errorf("%w: open source data file: %v", kvserrors.ErrIO, err)
	}
	defer srcFile.Close()

	newIndex := make(map[string]int64, len(snapshot))
	writeOffset := headerSize

	for key, offset := range snapshot {
		rec, err := readFrameAtFile(srcFile, offset)
		if err != nil {
			return fmt.Errorf("read live record for key %q during compaction: %w", key, err)
		}
		if !rec.isSet() || rec.key != key {
			return fmt.Errorf("%w: compaction index mismatch for key %q at offset %d", kvserrors.ErrInvalidDataEntry, key, offset)
		}

		frame := encodeSet(rec.key, rec.value)
		if _, err := tmpFile.WriteAt(frame, writeOffset); err != nil {
			return fmt.Errorf("%w: write compacted record for key %q: %v", kvserrors.ErrIO, key, err)
		}
		newIndex[key] = writeOffset
		writeOffset += int64(len(frame))
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("%w: fsync compacted data file: %v", kvserrors.ErrIO, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("%w: close compacted data file: %v", kvserrors.ErrIO, err)
	}

	if err := os.Rename(tmpPath, s.dataPath); err != nil {
		return fmt.Errorf("%w: install compacted data file: %v", kvserrors.ErrIO, err)
	}

	s.kd.replace(newIndex)
	s.dbOffset.Store(writeOffset)

	s.hdrMu.Lock()
	s.hdr.NextCompactionSize = nextCompactionThreshold(writeOffset)
	hdrAfter := *s.hdr
	s.hdrMu.Unlock()

	if err := persistHeader(s.dataPath, &hdrAfter); err != nil {
		return fmt.Errorf("persist header after compaction: %w", err)
	}

	if err := writeIndexFile(s.indexPath, newIndex); err != nil {
		return fmt.Errorf("persist index after compaction: %w", err)
	}
	s.modified.Store(false)

	slog.Info("engine: compaction finished", "keys", len(newIndex), "new_size", writeOffset)

	return nil
}

// nextCompactionThreshold computes when the next compaction pass should
// fire: some multiple of the post-compaction size, never below the floor
// set in header.go, so a tiny database doesn't compact on every write.
func nextCompactionThreshold(postCompactionSize int64) uint64 {
	next := uint64(postCompactionSize) * compactionSlack
	if next < MinCompactionThreshold {
		return MinCompactionThreshold
	}
	return next
}

// persistHeader reopens the live data file to write hdr at offset 0, so the
// new compaction threshold survives a crash before the next clean Close
// (§4.2 step 6: "rewrite the header").
func persistHeader(dataPath string, hdr *header) error {
	f, err := os.OpenFile(dataPath, os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", kvserrors.ErrIO, dataPath, err)
	}
	defer f.Close()
	if err := writeHeader(f, hdr); err != nil {
		return fmt.Errorf("%w: write header to %s: %v", kvserrors.ErrIO, dataPath, err)
	}
	return nil
}

// readFrameAtFile is readFrameAt's body reused against an already-open
// handle, so compaction doesn't open one handle per live key.
func readFrameAtFile(f *os.File, offset int64) (*record, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	section := io.NewSectionReader(f, offset, info.Size()-offset)
	tag, payload, err := codec.Decode(section)
	if err != nil {
		return nil, err
	}
	return decodeRecordPayload(tag, payload)
}
