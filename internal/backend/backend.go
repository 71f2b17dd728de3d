// Package backend defines the narrow storage contract the server uses and
// the sticky per-directory selection between the two implementations that
// satisfy it: the log-structured engine and the sled-alternative backend.
// Grounded on the original source's KvsEngine trait (set/get/remove shared
// by KvStore and SledKvsEngine) and the teacher repo's Engine interface
// (internal/engine/engine.go), narrowed to the four operations the server
// needs.
package backend

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aether-kv/kvs/internal/engine"
	"github.com/aether-kv/kvs/internal/kvserrors"
	"github.com/aether-kv/kvs/internal/sledbackend"
)

// Store is the contract cmd/kvs-server opens and hands to the server. Both
// the log-structured Engine and the sled-alternative backend satisfy it.
type Store interface {
	Set(key, value string) error
	Get(key string) (string, bool, error)
	Remove(key string) error
	Close() error
}

// Name identifies which backend a directory belongs to.
type Name string

const (
	KVS  Name = "kvs"
	Sled Name = "sled"
)

// markerFile names, one per backend, used to detect and refuse opening a
// directory with the wrong backend (§6 "Engine selection is sticky per
// directory").
const (
	kvsMarker  = "kvs.db"
	sledMarker = "sled.db"
)

// Open resolves name against path, refusing if the directory already
// belongs to the other backend. New kvs databases get the engine package's
// default compaction threshold; use OpenWithThreshold to drive it from
// config instead.
func Open(name Name, path string) (Store, error) {
	return OpenWithThreshold(name, path, engine.MinCompactionThreshold)
}

// OpenWithThreshold is Open, but a newly created kvs database's initial
// compaction threshold is set to compactionThreshold (ignored by the
// sled-alternative backend, which has no compaction). Lets
// cmd/kvs-server feed config.yml's compaction setting through to new
// databases without every other Open caller needing to know about it.
func OpenWithThreshold(name Name, path string, compactionThreshold uint64) (Store, error) {
	if err := checkStickyBackend(name, path); err != nil {
		return nil, err
	}

	switch name {
	case KVS:
		return engine.OpenWithThreshold(path, compactionThreshold)
	case Sled:
		return sledbackend.Open(path)
	default:
		return nil, fmt.Errorf("%w: %q", kvserrors.ErrUnsupportedEngine, name)
	}
}

// checkStickyBackend refuses Open when path already contains the other
// backend's marker file, per §6's sticky-per-directory rule.
func checkStickyBackend(name Name, path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		// A bare file path (not a directory) predates any marker
		// convention and is left to each backend's own Open to validate.
		return nil
	}

	otherMarker := sledMarker
	if name == Sled {
		otherMarker = kvsMarker
	}

	if _, err := os.Stat(filepath.Join(path, otherMarker)); err == nil {
		return fmt.Errorf("%w: %q already holds a %s database", kvserrors.ErrEngineMismatch, path, otherName(name))
	}
	return nil
}

func otherName(name Name) Name {
	if name == Sled {
		return KVS
	}
	return Sled
}
