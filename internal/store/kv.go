package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// KV is a string key/value store with per-key TTL. Incr is atomic.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// KV returns the SQLite-backed key/value store.
func (s *Store) KV() *SQLKV { return &SQLKV{db: s.db, now: func() time.Time { return s.now() }} }

// SQLKV implements KV on the kv table.
type SQLKV struct {
	db  *sql.DB
	now func() time.Time
}

func (k *SQLKV) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return k.now().Add(ttl).UnixMilli()
}

// Get returns the value for key. Expired entries are misses.
func (k *SQLKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := k.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get: %w", err)
	}
	if expiresAt > 0 && expiresAt <= k.now().UnixMilli() {
		_, _ = k.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ? AND expires_at = ?`, key, expiresAt)
		return "", false, nil
	}
	return value, true, nil
}

// Set upserts key. A non-positive ttl never expires.
func (k *SQLKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := k.db.ExecContext(ctx, `INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, k.expiry(ttl))
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

// Delete removes key.
func (k *SQLKV) Delete(ctx context.Context, key string) error {
	if _, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix and returns the count.
func (k *SQLKV) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	res, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return 0, fmt.Errorf("kv delete prefix: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Incr atomically increments the counter at key and returns the new value.
// A missing or expired counter restarts at 1 with the given ttl.
func (k *SQLKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	now := k.now().UnixMilli()
	var n int64
	err := k.db.QueryRowContext(ctx, `INSERT INTO kv (key, value, expires_at) VALUES (?, '1', ?)
		ON CONFLICT(key) DO UPDATE SET
			value = CASE WHEN kv.expires_at > 0 AND kv.expires_at <= ? THEN '1'
				ELSE CAST(CAST(kv.value AS INTEGER) + 1 AS TEXT) END,
			expires_at = CASE WHEN kv.expires_at > 0 AND kv.expires_at <= ? THEN excluded.expires_at
				ELSE kv.expires_at END
		RETURNING CAST(value AS INTEGER)`,
		key, k.expiry(ttl), now, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("kv incr: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes expired keys and returns the count.
func (k *SQLKV) PurgeExpired(ctx context.Context) (int, error) {
	res, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at > 0 AND expires_at <= ?`, k.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("kv purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MemoryKV is an in-process KV for tests and single-shot CLI commands.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	value   string
	expires time.Time
}

// NewMemoryKV creates an empty MemoryKV. A nil clock uses time.Now.
func NewMemoryKV(now func() time.Time) *MemoryKV {
	if now == nil {
		now = time.Now
	}
	return &MemoryKV{entries: map[string]memEntry{}, now: now}
}

func (m *MemoryKV) live(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	return e.value, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryKV) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryKV) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		e = memEntry{value: "0"}
		if ttl > 0 {
			e.expires = m.now().Add(ttl)
		}
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kv incr %s: %w", key, err)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	m.entries[key] = e
	return n, nil
}
