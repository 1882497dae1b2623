// Package pebblestore is an embedded message.Backend on cockroachdb/pebble.
//
// Key layout:
//
//	msg:<id>                            message JSON
//	msgid:<scope>\x00<msgid>            id of the first message with that MSGID
//	status:<status>:<imported ns>:<id>  id, outbound queue index
//	area:<domain>:<TAG>                 echo area JSON
package pebblestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/stlalpha/v3ftn/internal/logging"
	"github.com/stlalpha/v3ftn/internal/message"
)

// Store is a pebble-backed message store. Pebble holds an exclusive lock
// on the directory, so one process owns a store at a time.
type Store struct {
	db *pebble.DB
	// mu makes read-modify-write sequences atomic.
	mu sync.Mutex
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	logging.Debug("opening pebble store at %s", path)
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebblestore: open %s: %w", path, err)
	}
	logging.Info("pebble message store opened at %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func msgKey(id string) []byte { return []byte("msg:" + id) }

func msgidKey(scope, msgid string) []byte {
	return []byte("msgid:" + scope + "\x00" + msgid)
}

func statusPrefix(status string) []byte { return []byte("status:" + status + ":") }

func statusKey(m *message.StoredMessage) []byte {
	return []byte(fmt.Sprintf("status:%s:%020d:%s", m.Status, m.ImportedAt.UnixNano(), m.ID))
}

func areaKey(domain, tag string) []byte {
	return []byte("area:" + strings.ToLower(domain) + ":" + strings.ToUpper(tag))
}

// get returns a copy of the value at key, or message.ErrNotFound.
func (s *Store) get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, message.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (s *Store) InsertMessage(_ context.Context, m *message.StoredMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("pebblestore: marshal message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(m.ID), data, nil); err != nil {
		return err
	}
	if err := b.Set(statusKey(m), []byte(m.ID), nil); err != nil {
		return err
	}
	if m.MessageID != "" {
		k := msgidKey(m.Scope(), m.MessageID)
		if _, err := s.get(k); errors.Is(err, message.ErrNotFound) {
			if err := b.Set(k, []byte(m.ID), nil); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) GetMessage(_ context.Context, id string) (*message.StoredMessage, error) {
	v, err := s.get(msgKey(id))
	if err != nil {
		return nil, err
	}
	var m message.StoredMessage
	if err := json.Unmarshal(v, &m); err != nil {
		return nil, fmt.Errorf("pebblestore: decode message %s: %w", id, err)
	}
	return &m, nil
}

func (s *Store) FindByMSGID(_ context.Context, scope, msgid string) (string, bool, error) {
	v, err := s.get(msgidKey(scope, msgid))
	if errors.Is(err, message.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	oldKey := statusKey(m)
	m.Status = status
	if status == message.StatusSent {
		m.SentAt = at
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(oldKey, nil); err != nil {
		return err
	}
	if err := b.Set(statusKey(m), []byte(m.ID), nil); err != nil {
		return err
	}
	if err := b.Set(msgKey(m.ID), data, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// scan calls fn for every key/value under prefix, in key order.
func (s *Store) scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) ListByStatus(ctx context.Context, status string) ([]*message.StoredMessage, error) {
	var ids []string
	err := s.scan(statusPrefix(status), func(_, v []byte) error {
		ids = append(ids, string(v))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]*message.StoredMessage, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) GetArea(_ context.Context, domain, tag string) (*message.EchoArea, error) {
	v, err := s.get(areaKey(domain, tag))
	if err != nil {
		return nil, err
	}
	var a message.EchoArea
	if err := json.Unmarshal(v, &a); err != nil {
		return nil, fmt.Errorf("pebblestore: decode area %s: %w", tag, err)
	}
	return &a, nil
}

func (s *Store) PutArea(_ context.Context, a *message.EchoArea) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.db.Set(areaKey(a.Domain, a.Tag), data, pebble.Sync)
}

func (s *Store) IncrementAreaCount(ctx context.Context, domain, tag string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.GetArea(ctx, domain, tag)
	if err != nil {
		return err
	}
	a.MessageCount += delta
	return s.PutArea(ctx, a)
}

func (s *Store) ListAreas(_ context.Context) ([]message.EchoArea, error) {
	var out []message.EchoArea
	err := s.scan([]byte("area:"), func(k, v []byte) error {
		var a message.EchoArea
		if err := json.Unmarshal(v, &a); err != nil {
			return fmt.Errorf("pebblestore: decode %s: %w", k, err)
		}
		out = append(out, a)
		return nil
	})
	return out, err
}
