package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

const (
	badgerRecPrefix = "rec:"
	badgerSumPrefix = "sum:"
)

// BadgerStore хранит записи в BadgerDB: "rec:<id>" блоб, "sum:<id>" сводка в JSON
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore открывает (или создаёт) базу в каталоге path.
// Пустой path открывает базу в памяти.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithInMemory(path == "")
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Save(_ context.Context, r *Recording) error {
	blob, err := EncodeRecording(r)
	if err != nil {
		return err
	}
	sum, err := json.Marshal(r.Summary())
	if err != nil {
		return fmt.Errorf("ошибка сериализации сводки: %w", err)
	}
	id := r.ID.String()
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(badgerRecPrefix+id), blob); err != nil {
			return err
		}
		return txn.Set([]byte(badgerSumPrefix+id), sum)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

func (s *BadgerStore) Load(_ context.Context, id uuid.UUID) (*Recording, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerRecPrefix + id.String()))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrRecordingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return DecodeRecording(blob)
}

func (s *BadgerStore) List(_ context.Context) ([]Summary, error) {
	var out []Summary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerSumPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sum Summary
				if err := json.Unmarshal(val, &sum); err != nil {
					return err
				}
				out = append(out, sum)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка записей: %w", err)
	}
	sortSummaries(out)
	return out, nil
}

func (s *BadgerStore) Delete(_ context.Context, id uuid.UUID) error {
	key := id.String()
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(badgerRecPrefix + key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrRecordingNotFound
			}
			return err
		}
		if err := txn.Delete([]byte(badgerRecPrefix + key)); err != nil {
			return err
		}
		return txn.Delete([]byte(badgerSumPrefix + key))
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
