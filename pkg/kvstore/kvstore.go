package kvstore

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Store is a small KV wrapper over Badger with millisecond-precision leases.
//
// Badger's own TTL has one-second granularity, so every value carries its own
// expiry header; Badger's TTL is only used to garbage-collect expired entries.
// Encryption at rest is provided by Badger options, not by this wrapper.
type Store struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	InMemory      bool
	EncryptionKey []byte // 32 bytes; nil opens the DB without encryption
	ReadOnly      bool
}

const (
	headerLen       = 8
	maxUpdateRetry  = 16
	gcGraceDuration = time.Second
)

var errNotOpened = errors.New("kvstore: not opened")

func Open(opts OpenOptions) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("kvstore: path is required")
	}
	path := opts.Path
	if opts.InMemory {
		path = ""
	}
	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithInMemory(opts.InMemory).
		WithReadOnly(opts.ReadOnly)
	if len(opts.EncryptionKey) > 0 {
		// Badger requires an index cache for encrypted workloads.
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the store is open and readable.
func (s *Store) Ping() error {
	if s == nil || s.db == nil || s.db.IsClosed() {
		return errNotOpened
	}
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

// Txn is a read-write transaction that understands lease headers.
type Txn struct {
	txn *badger.Txn
	now time.Time
}

// Get returns the live value for key; expired values are reported as absent.
func (t *Txn) Get(key string) ([]byte, bool, error) {
	item, err := t.txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	val, live := decode(raw, t.now)
	if !live {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores val under key. A ttl of zero means no expiry.
func (t *Txn) Set(key string, val []byte, ttl time.Duration) error {
	e := badger.NewEntry([]byte(key), encode(val, ttl, t.now))
	if ttl > 0 {
		e = e.WithTTL(ttl + gcGraceDuration)
	}
	return t.txn.SetEntry(e)
}

func (t *Txn) Delete(key string) error {
	return t.txn.Delete([]byte(key))
}

// Update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) Update(fn func(tx *Txn) error) error {
	if s == nil || s.db == nil {
		return errNotOpened
	}
	var err error
	for i := 0; i < maxUpdateRetry; i++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return fn(&Txn{txn: txn, now: time.Now()})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("kvstore: update retries exhausted: %w", err)
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Txn) error) error {
	if s == nil || s.db == nil {
		return errNotOpened
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn, now: time.Now()})
	})
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	var (
		out   []byte
		found bool
	)
	err := s.View(func(tx *Txn) error {
		var err error
		out, found, err = tx.Get(key)
		return err
	})
	return out, found, err
}

func (s *Store) GetString(key string) (string, bool, error) {
	v, ok, err := s.Get(key)
	return string(v), ok, err
}

func (s *Store) Set(key string, val []byte, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("kvstore: key is empty")
	}
	return s.Update(func(tx *Txn) error {
		return tx.Set(key, val, ttl)
	})
}

func (s *Store) SetString(key, val string) error {
	return s.Set(key, []byte(val), 0)
}

// SetNX stores val only when key holds no live value. It reports whether the write happened.
func (s *Store) SetNX(key string, val []byte, ttl time.Duration) (bool, error) {
	var stored bool
	err := s.Update(func(tx *Txn) error {
		stored = false
		_, found, err := tx.Get(key)
		if err != nil || found {
			return err
		}
		stored = true
		return tx.Set(key, val, ttl)
	})
	return stored, err
}

func (s *Store) Delete(keys ...string) error {
	return s.Update(func(tx *Txn) error {
		for _, k := range keys {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Keys lists live keys with the given prefix.
func (s *Store) Keys(prefix string) ([]string, error) {
	var out []string
	err := s.View(func(tx *Txn) error {
		it := tx.txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if _, live := decode(raw, tx.now); live {
				out = append(out, string(item.KeyCopy(nil)))
			}
		}
		return nil
	})
	return out, err
}

func encode(val []byte, ttl time.Duration, now time.Time) []byte {
	out := make([]byte, headerLen+len(val))
	if ttl > 0 {
		binary.BigEndian.PutUint64(out[:headerLen], uint64(now.Add(ttl).UnixMilli()))
	}
	copy(out[headerLen:], val)
	return out
}

func decode(raw []byte, now time.Time) ([]byte, bool) {
	if len(raw) < headerLen {
		return nil, false
	}
	exp := binary.BigEndian.Uint64(raw[:headerLen])
	if exp != 0 && now.UnixMilli() >= int64(exp) {
		return nil, false
	}
	return raw[headerLen:], true
}

// ParseKey expects 32 bytes (hex or base64). Returns nil if input is empty.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	rawHex := strings.TrimPrefix(raw, "0x")
	if b, err := hex.DecodeString(rawHex); err == nil {
		if len(b) == 32 {
			return b, nil
		}
		return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
