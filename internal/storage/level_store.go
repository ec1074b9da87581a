// Package storage хранит авторские конфигурации уровней в BadgerDB.
// Записи - YAML, сжатый zstd; ключ - имя уровня.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/HypocriteSnow/UandUTDD/internal/level"
	"github.com/HypocriteSnow/UandUTDD/internal/logging"
	"github.com/dgraph-io/badger/v3"
)

const levelPrefix = "level:"

var (
	// ErrNotFound - уровня с таким именем нет
	ErrNotFound = errors.New("storage: level not found")
	// ErrClosed - хранилище закрыто
	ErrClosed = errors.New("storage: closed")
	// ErrInvalidName - пустое имя или имя с недопустимыми символами
	ErrInvalidName = errors.New("storage: invalid level name")
)

// LevelInfo - краткое описание сохранённого уровня
type LevelInfo struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`    // Размер сжатой записи
	Version uint64 `json:"version"` // Версия записи BadgerDB; растёт с каждой записью
}

// LevelStore - хранилище уровней поверх BadgerDB
type LevelStore struct {
	db      *badger.DB
	dbPath  string
	codec   codec
	mutex   sync.RWMutex
	isReady bool
}

// Options настраивает LevelStore
type Options struct {
	InMemory bool // Без записи на диск (тесты)
}

// NewLevelStore открывает хранилище в каталоге dataPath/levels
func NewLevelStore(dataPath string, opts Options) (*LevelStore, error) {
	dbPath := filepath.Join(dataPath, "levels")
	bopts := badger.DefaultOptions(dbPath)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
		dbPath = ""
	}
	bopts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	logging.Info("[Storage] хранилище уровней открыто: %s", dbPath)
	return &LevelStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных
func (s *LevelStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}

	s.isReady = false
	s.codec.close()
	return s.db.Close()
}

func levelKey(name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, ":/\\") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return []byte(levelPrefix + name), nil
}

// SaveLevel сохраняет конфигурацию под именем name. Невалидные
// конфигурации не сохраняются.
func (s *LevelStore) SaveLevel(name string, cfg *level.Config) error {
	key, err := levelKey(name)
	if err != nil {
		return err
	}
	if report := level.Validate(cfg); !report.OK() {
		return fmt.Errorf("storage: уровень %q не прошёл проверку: %s", name, report.String())
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return ErrClosed
	}

	stored := cfg.Clone()
	stored.Name = name
	data, err := level.Marshal(stored)
	if err != nil {
		return fmt.Errorf("ошибка сериализации уровня: %w", err)
	}
	packed, err := s.codec.compress(data)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, packed)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	logging.Debug("[Storage] уровень %q сохранён (%d → %d байт)", name, len(data), len(packed))
	return nil
}

// LoadLevel загружает уровень по имени. Реализует level.Source.
func (s *LevelStore) LoadLevel(name string) (*level.Config, error) {
	key, err := levelKey(name)
	if err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return nil, ErrClosed
	}

	var packed []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		packed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	data, err := s.codec.decompress(packed)
	if err != nil {
		return nil, err
	}
	cfg, err := level.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора уровня %q: %w", name, err)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return cfg, nil
}

// DeleteLevel удаляет уровень; отсутствие уровня не ошибка
func (s *LevelStore) DeleteLevel(name string) error {
	key, err := levelKey(name)
	if err != nil {
		return err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return ErrClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// ListLevels возвращает сохранённые уровни, отсортированные по имени
func (s *LevelStore) ListLevels() ([]LevelInfo, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return nil, ErrClosed
	}

	var out []LevelInfo
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(levelPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			out = append(out, LevelInfo{
				Name:    strings.TrimPrefix(string(item.Key()), levelPrefix),
				Size:    item.EstimatedSize(),
				Version: item.Version(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода BadgerDB: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
