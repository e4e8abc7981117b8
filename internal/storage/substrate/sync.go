package substrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

// Sync pulls the table from each device concurrently. It validates its
// arguments synchronously and reports per-device results through
// onComplete, which may be nil.
func (t *table) Sync(ctx context.Context, deviceIDs []string, mode SyncMode, onComplete func(map[string]error)) error {
	if err := t.check(); err != nil {
		return err
	}
	if mode != PullOnly {
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	if len(deviceIDs) == 0 {
		return ErrNoDevices
	}
	tr := t.m.cfg.Transport
	if tr == nil {
		return ErrNoTransport
	}

	devices := append([]string(nil), deviceIDs...)
	go func() {
		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			results = make(map[string]error, len(devices))
		)
		for _, device := range devices {
			wg.Add(1)
			go func(device string) {
				defer wg.Done()
				err := t.pullFrom(ctx, tr, device)
				mu.Lock()
				results[device] = err
				mu.Unlock()
			}(device)
		}
		wg.Wait()

		if onComplete != nil {
			onComplete(results)
		}
	}()
	return nil
}

func (t *table) pullFrom(ctx context.Context, tr Transport, device string) error {
	if err := t.m.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, t.m.cfg.PullTimeout)
	defer cancel()

	entries, err := tr.Pull(ctx, device, t.m.App(), t.name)
	if err != nil {
		return fmt.Errorf("pull from %s: %w", device, err)
	}
	applied, err := t.merge(device, entries)
	if err != nil {
		return fmt.Errorf("merge from %s: %w", device, err)
	}

	t.m.logger.Debug("table pulled",
		"table", t.name,
		"device_id", device,
		"received", len(entries),
		"applied", applied)
	return nil
}

// merge applies remote entries in one transaction. Missing keys are
// inserted; existing keys are overwritten only by a strictly newer stamp
// carrying a different value.
func (t *table) merge(origin string, entries []Entry) (int, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var batch ChangeBatch
	err := t.update(func(txn *badger.Txn) error {
		batch = ChangeBatch{Origin: origin}
		for _, e := range entries {
			if len(e.Key) == 0 {
				continue
			}
			k := t.key(e.Key)

			exists := false
			item, err := txn.Get(k)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				raw, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				stamp, value, err := decodeValue(raw)
				if err != nil {
					return err
				}
				if e.Stamp <= stamp || bytes.Equal(value, e.Value) {
					continue
				}
				exists = true
			}

			if err := txn.Set(k, encodeValue(e.Stamp, e.Value)); err != nil {
				return err
			}
			changed := Entry{Key: bytes.Clone(e.Key), Value: bytes.Clone(e.Value), Stamp: e.Stamp}
			if exists {
				batch.Updated = append(batch.Updated, changed)
			} else {
				batch.Inserted = append(batch.Inserted, changed)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	t.dispatch.publish(batch)
	return len(batch.Inserted) + len(batch.Updated), nil
}
