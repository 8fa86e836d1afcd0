// Package badger persists the engine's records in an embedded BadgerDB
// key-value store. Each record is a JSON value under a prefixed key.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"pmp/internal/domain"
)

const (
	prefixApp        = "app\x00"
	prefixRG         = "rg\x00"
	prefixPreset     = "preset\x00"
	prefixAnnotation = "ca\x00"
)

// Config configures the database.
type Config struct {
	// Path is the database directory; ignored when InMemory is set.
	Path     string
	InMemory bool
	// Logger receives badger's internal logs; nil silences them.
	Logger *slog.Logger
}

// Store implements domain.Store on BadgerDB. Lists come back in key order,
// matching the sqlite store.
type Store struct {
	db *badger.DB
}

var _ domain.Store = (*Store)(nil)

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (or creates) the database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func creatorKey(creator string) string {
	if creator == "" {
		return domain.UserCreator
	}
	return creator
}

func presetPrefix(creator string) []byte {
	return []byte(prefixPreset + creatorKey(creator) + "\x00")
}

func presetKey(key domain.PresetKey) []byte {
	return append(presetPrefix(key.Creator), key.Identifier...)
}

func put(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	return txn.Set(key, data)
}

// scan decodes every value under prefix in key order.
func scan[T any](ctx context.Context, db *badger.DB, prefix string) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			var v T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(fn)
}

func (s *Store) Apps(ctx context.Context) ([]domain.AppRecord, error) {
	return scan[domain.AppRecord](ctx, s.db, prefixApp)
}

func (s *Store) SaveApp(ctx context.Context, rec domain.AppRecord) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return put(txn, []byte(prefixApp+rec.Package), rec)
	})
}

func (s *Store) DeleteApp(ctx context.Context, pkg string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixApp + pkg))
	})
}

func (s *Store) ResourceGroups(ctx context.Context) ([]domain.ResourceGroupRecord, error) {
	return scan[domain.ResourceGroupRecord](ctx, s.db, prefixRG)
}

func (s *Store) SaveResourceGroup(ctx context.Context, rec domain.ResourceGroupRecord) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return put(txn, []byte(prefixRG+rec.Package), rec)
	})
}

func (s *Store) DeleteResourceGroup(ctx context.Context, pkg string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixRG + pkg))
	})
}

func (s *Store) Presets(ctx context.Context) ([]domain.PresetRecord, error) {
	return scan[domain.PresetRecord](ctx, s.db, prefixPreset)
}

func (s *Store) Preset(ctx context.Context, key domain.PresetKey) (domain.PresetRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.PresetRecord{}, err
	}
	var rec domain.PresetRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(presetKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.PresetRecord{}, domain.NewSubSystemError("store", "Store.Preset", domain.ErrNotFound, key.String())
	}
	return rec, err
}

func (s *Store) PresetIdentifiers(ctx context.Context, creator string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := presetPrefix(creator)
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			out = append(out, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return out, err
}

// SavePreset stores rec with its grants and apps sorted the way the sqlite
// store returns them.
func (s *Store) SavePreset(ctx context.Context, rec domain.PresetRecord) error {
	rec.Grants = slices.Clone(rec.Grants)
	slices.SortFunc(rec.Grants, func(a, b domain.GrantRecord) int {
		if c := strings.Compare(a.ResourceGroup, b.ResourceGroup); c != 0 {
			return c
		}
		return strings.Compare(a.PrivacySetting, b.PrivacySetting)
	})
	rec.Apps = slices.Sorted(slices.Values(rec.Apps))
	if len(rec.Grants) == 0 {
		rec.Grants = nil
	}
	if len(rec.Apps) == 0 {
		rec.Apps = nil
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return put(txn, presetKey(rec.Key()), rec)
	})
}

// DeletePreset removes the preset and every annotation it owns in one
// transaction.
func (s *Store) DeletePreset(ctx context.Context, key domain.PresetKey) error {
	annotations, err := s.ContextAnnotations(ctx)
	if err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(presetKey(key)); err != nil {
			return err
		}
		for _, a := range annotations {
			if a.PresetKey() == key {
				if err := txn.Delete([]byte(prefixAnnotation + a.ID)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) ContextAnnotations(ctx context.Context) ([]domain.ContextAnnotationRecord, error) {
	return scan[domain.ContextAnnotationRecord](ctx, s.db, prefixAnnotation)
}

func (s *Store) SaveContextAnnotation(ctx context.Context, rec domain.ContextAnnotationRecord) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return put(txn, []byte(prefixAnnotation+rec.ID), rec)
	})
}

func (s *Store) DeleteContextAnnotation(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixAnnotation + id))
	})
}

func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropAll()
}
