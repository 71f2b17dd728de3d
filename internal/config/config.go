// Package config provides configuration management for the key-value store.
// It loads settings from a YAML file and environment variables, with
// thread-safe singleton access, exactly as the teacher repo does: optional
// .env overlay via godotenv, then os.ExpandEnv across the YAML body before
// unmarshaling.
package config

import (
	"log/slog"
	"os"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config holds all application configuration values: the embedded engine's
// tuning knobs plus the network layer's listen address, selected backend,
// and base directory (§2's [EXPANSION] Config component). cmd/kvs-server
// loads this once at startup; an explicitly-set CLI flag always overrides
// the matching field.
type Config struct {
	// HEADER_SIZE and SYNC_INTERVAL are carried over from the teacher's
	// config surface but have no runtime effect in this engine: the header
	// frame's size is fixed by LogCodec (not tunable per-database), and
	// the engine has no periodic flush timer to schedule: it does not fsync
	// per mutation at all, and the sled-alternative backend fsyncs every
	// mutation synchronously.
	HEADER_SIZE   uint32 `yaml:"HEADER_SIZE"`
	SYNC_INTERVAL uint32 `yaml:"SYNC_INTERVAL"`

	DATA_DIR             string `yaml:"DATA_DIR"`             // fallback for BASEDIR when unset
	COMPACTION_THRESHOLD uint64 `yaml:"COMPACTION_THRESHOLD"` // bytes; new databases' initial next_compaction_size
	BATCH_SIZE           uint32 `yaml:"BATCH_SIZE"`            // worker pool queue capacity

	ADDR    string `yaml:"ADDR"`    // host:port the server listens on
	ENGINE  string `yaml:"ENGINE"`  // backend.Name: "kvs" or "sled"
	BASEDIR string `yaml:"BASEDIR"` // directory the selected backend opens
}

// defaults are used for any field config.yml doesn't set and the file
// itself is not required to exist: cmd/kvs-server runs unconfigured on
// these values, and an explicitly-set flag overrides ADDR, ENGINE or
// BASEDIR either way.
func defaults() Config {
	return Config{
		DATA_DIR:             ".",
		HEADER_SIZE:          32,
		BATCH_SIZE:           64,
		SYNC_INTERVAL:        5,
		COMPACTION_THRESHOLD: 32 * 1024, // mirrors engine.MinCompactionThreshold
		ADDR:                 "127.0.0.1:4000",
		ENGINE:               "kvs",
		BASEDIR:              ".",
	}
}

var (
	appConfig *Config
	once      sync.Once
	initErr   error
)

// configPath is the location LoadConfig reads from; a package var (rather
// than a parameter) keeps the teacher's GetConfig() singleton ergonomics
// for callers that never need a non-default path.
var configPath = "internal/config/config.yml"

// LoadConfig reads configuration values from config.yml and optionally from
// a .env file. It uses a sync.Once so configuration is loaded only once,
// even under concurrent calls. Environment variables in the YAML file are
// expanded using os.ExpandEnv. A missing config.yml is not an error: the
// defaults above are used instead, so the CLI front ends run unconfigured.
func LoadConfig() (*Config, error) {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("config: no .env file found or error loading it", "error", err)
		} else {
			slog.Debug("config: .env file loaded")
		}

		cfg := defaults()

		file, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				initErr = err
				return
			}
			slog.Debug("config: no config.yml found, using defaults", "path", configPath)
		} else if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(file))), &cfg); err != nil {
			initErr = err
			return
		}

		appConfig = &cfg
	})
	if initErr != nil {
		return nil, initErr
	}
	return appConfig, nil
}

// GetConfig returns the singleton configuration instance.
// Panics if configuration has not been loaded yet. This function should
// only be called after LoadConfig has been successfully called.
func GetConfig() *Config {
	if appConfig == nil {
		panic("config not loaded - call LoadConfig() first")
	}
	return appConfig
}
