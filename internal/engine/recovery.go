package engine

import (
	"io"
	"os"

	"github.com/aether-kv/kvs/internal/codec"
)

// countingReader wraps an io.Reader and tracks the number of bytes it has
// yielded, so a sequential scan can recover the exact byte offset of each
// frame boundary without the codec needing to expose frame lengths.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// scanDataFile replays every Set/Delete frame in f starting at offset
// start, applying each to a fresh map in order (Set inserts/overwrites,
// Delete removes). It stops cleanly at EOF, and also stops — discarding
// whatever trailing bytes remain unparsed — on a corrupt or truncated
// frame, per §7's "recovery scan discards any trailing unparseable bytes."
// It returns the rebuilt mapping and the offset of the first byte after the
// last successfully parsed record.
func scanDataFile(f *os.File, start int64) (map[string]int64, int64, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}

	section := io.NewSectionReader(f, start, info.Size()-start)
	counting := &countingReader{r: section}

	result := make(map[string]int64)
	offset := start

scan:
	for {
		frameStart := offset
		tag, payload, err := codec.Decode(counting)
		if err != nil {
			// Clean EOF or a corrupt/truncated trailing frame both end the
			// scan here; in the corrupt case the bytes never fully reached
			// disk, so discarding them is correct per §7.
			break
		}

		rec, derr := decodeRecordPayload(tag, payload)
		if derr != nil {
			break scan
		}

		switch rec.tag {
		case tagSet:
			result[rec.key] = frameStart
		case tagDelete:
			delete(result, rec.key)
		}

		offset = start + counting.n
	}

	return result, offset, nil
}

// loadIndexFile reads the persisted {key, offset} index file as a shortcut
// over a full data-file rescan, used only when the previous session closed
// cleanly (§4.2 Recovery).
func loadIndexFile(f *os.File) (map[string]int64, error) {
	reader := codec.NewReader(f)
	result := make(map[string]int64)

	for {
		tag, payload, err := codec.Decode(reader)
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			// A corrupt index file is only ever a shortcut; callers fall
			// back to a full rescan when this happens.
			return nil, err
		}
		entry, derr := decodeIndexEntryPayload(tag, payload)
		if derr != nil {
			return nil, derr
		}
		result[entry.key] = entry.offset
	}
}

// writeIndexFile truncates the index file and rewrites it from m. This is
// the "truncate-then-write" persistence §4.2's clean shutdown describes: a
// partial write left by a crash mid-write is harmless because the
// session-dirty bit forces a rescan on the next open anyway.
func writeIndexFile(path string, m map[string]int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	for key, offset := range m {
		if _, err := f.Write(encodeIndexEntry(key, offset)); err != nil {
			return err
		}
	}
	return f.Sync()
}
