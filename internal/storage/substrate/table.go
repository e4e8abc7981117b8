package substrate

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v3"
)

// table implements Delegate over a key prefix of the manager's database.
type table struct {
	m        *Manager
	name     string
	prefix   []byte
	opts     Options
	dispatch *dispatcher
	dropped  atomic.Bool
}

func newTable(m *Manager, name string, opts Options) *table {
	return &table{
		m:        m,
		name:     name,
		prefix:   tablePrefix(name),
		opts:     opts,
		dispatch: newDispatcher(m.logger.With("table", name)),
	}
}

func (t *table) Name() string { return t.name }

// update runs fn in a write transaction unless the table has been
// dropped. DeleteKvStore drops under the manager's write lock, so the
// check inside the transaction cannot interleave with it.
func (t *table) update(fn func(txn *badger.Txn) error) error {
	return t.m.update(func(txn *badger.Txn) error {
		if err := t.check(); err != nil {
			return err
		}
		return fn(txn)
	})
}

func (t *table) key(k []byte) []byte {
	b := make([]byte, 0, len(t.prefix)+len(k))
	b = append(b, t.prefix...)
	return append(b, k...)
}

func (t *table) drop() {
	t.dropped.Store(true)
	t.dispatch.close()
}

func (t *table) check() error {
	if t.dropped.Load() {
		return fmt.Errorf("%w: %s", ErrTableNotFound, t.name)
	}
	return nil
}

func (t *table) Put(key, value []byte) error {
	return t.PutBatch([]Entry{{Key: key, Value: value}})
}

func (t *table) Get(key []byte) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	var value []byte
	err := t.m.view(func(txn *badger.Txn) error {
		item, err := txn.Get(t.key(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		_, value, err = decodeValue(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (t *table) GetEntries(prefix []byte) ([]Entry, error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := t.m.view(func(txn *badger.Txn) error {
		var err error
		entries, err = scan(txn, t.prefix, prefix)
		return err
	})
	return entries, err
}

func (t *table) PutBatch(entries []Entry) error {
	if err := t.check(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return ErrEmptyBatch
	}
	for _, e := range entries {
		if len(e.Key) == 0 {
			return ErrEmptyKey
		}
	}

	stamp := t.m.now().UnixNano()
	var batch ChangeBatch
	err := t.update(func(txn *badger.Txn) error {
		batch = ChangeBatch{}
		for _, e := range entries {
			k := t.key(e.Key)
			_, err := txn.Get(k)
			exists := err == nil
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(k, encodeValue(stamp, e.Value)); err != nil {
				return err
			}

			changed := Entry{Key: bytes.Clone(e.Key), Value: bytes.Clone(e.Value), Stamp: stamp}
			if exists {
				batch.Updated = append(batch.Updated, changed)
			} else {
				batch.Inserted = append(batch.Inserted, changed)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.dispatch.publish(batch)
	return nil
}

// Delete removes key. Deleting a missing key succeeds without a change
// notification.
func (t *table) Delete(key []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}

	var batch ChangeBatch
	err := t.update(func(txn *badger.Txn) error {
		k := t.key(key)
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		stamp, value, err := decodeValue(raw)
		if err != nil {
			return err
		}
		if err := txn.Delete(k); err != nil {
			return err
		}
		batch.Deleted = []Entry{{Key: bytes.Clone(key), Value: value, Stamp: stamp}}
		return nil
	})
	if err != nil {
		return err
	}

	t.dispatch.publish(batch)
	return nil
}

func (t *table) RegisterObserver(o Observer) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.dispatch.add(o)
}

func (t *table) UnRegisterObserver(o Observer) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.dispatch.remove(o)
}
