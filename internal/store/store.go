// Package store persists the automator's records (queue, settings, picked
// elements, pipeline state and activity log) as JSON documents keyed by name.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Key names one stored record.
type Key string

const (
	KeyPromptQueue    Key = "promptQueue"
	KeySettings       Key = "settings"
	KeyPickedElements Key = "pickedElements"
	KeyVideoSpecs     Key = "videoSpecs"
	KeyDownloadFolder Key = "downloadFolder"
	KeyPipelineState  Key = "pipelineState"
	KeyLogs           Key = "logs"
)

// ErrIndexOutOfRange is returned when a queue index does not exist.
var ErrIndexOutOfRange = errors.New("queue index out of range")

// Backend stores opaque values by key.
type Backend interface {
	// Get returns the stored value; ok is false when the key was never set.
	Get(ctx context.Context, key Key) (value []byte, ok bool, err error)
	Put(ctx context.Context, key Key, value []byte) error
	Close() error
}

// Store provides typed access to the records. Read-modify-write operations
// are serialized within the process.
type Store struct {
	backend Backend
	log     *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

// New wraps backend.
func New(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, log: logger.Named("store"), now: time.Now}
}

// Open creates the backend selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Store, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Driver {
	case "memory":
		backend = NewMemoryBackend()
	case "postgres":
		if cfg.URL == "" {
			return nil, fmt.Errorf("store.url is required for the postgres driver")
		}
		pool, perr := pgxpool.New(ctx, cfg.URL)
		if perr != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", perr)
		}
		backend, err = NewPostgresBackend(ctx, pool)
		if err != nil {
			pool.Close()
		}
	case "sqlite", "":
		path, perr := homedir.Expand(cfg.Path)
		if perr != nil {
			return nil, fmt.Errorf("invalid store path %q: %w", cfg.Path, perr)
		}
		if dir := filepath.Dir(path); dir != "" {
			if perr := os.MkdirAll(dir, 0o755); perr != nil {
				return nil, fmt.Errorf("failed to create store directory: %w", perr)
			}
		}
		backend, err = NewSQLiteBackend(ctx, path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("Store opened.", zap.String("driver", cfg.Driver))
	return New(backend, logger), nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// load decodes key into v, leaving v untouched when the key is unset.
// Stored fields overlay whatever v already holds, so defaults survive.
func (s *Store) load(ctx context.Context, key Key, v interface{}) error {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.log.Warn("Discarding unreadable record.", zap.String("key", string(key)), zap.Error(err))
		return nil
	}
	return nil
}

func (s *Store) save(ctx context.Context, key Key, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.backend.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// overlay applies patch (any JSON-encodable value, including
// json.RawMessage) onto dst field by field.
func overlay(dst interface{}, patch interface{}) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("invalid patch: %w", err)
	}
	if string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid patch: %w", err)
	}
	return nil
}
