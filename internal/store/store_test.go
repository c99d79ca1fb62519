package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "siteagent.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "siteagent.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = st.Close()
	st, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer st.Close()
	if err := st.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func testKV(t *testing.T, kv KV, advance func(time.Duration)) {
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if err := kv.Set(ctx, "a:1", "one", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Set(ctx, "a:2", "two", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Set(ctx, "b:1", "other", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := kv.Get(ctx, "a:1"); !ok || v != "one" {
		t.Fatalf("expected one, got %q ok=%v", v, ok)
	}

	advance(2 * time.Minute)
	if _, ok, _ := kv.Get(ctx, "a:1"); ok {
		t.Fatal("expected expired entry to miss")
	}
	if v, ok, _ := kv.Get(ctx, "a:2"); !ok || v != "two" {
		t.Fatalf("expected non-expiring entry, got %q ok=%v", v, ok)
	}

	n, err := kv.DeletePrefix(ctx, "a:")
	if err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
	if _, ok, _ := kv.Get(ctx, "b:1"); !ok {
		t.Fatal("delete prefix removed an unrelated key")
	}
	if err := kv.Delete(ctx, "b:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "b:1"); ok {
		t.Fatal("expected deleted key to miss")
	}

	for i := int64(1); i <= 3; i++ {
		got, err := kv.Incr(ctx, "ctr", time.Minute)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if got != i {
			t.Fatalf("incr %d: got %d", i, got)
		}
	}
	advance(2 * time.Minute)
	if got, _ := kv.Incr(ctx, "ctr", time.Minute); got != 1 {
		t.Fatalf("expected expired counter to restart at 1, got %d", got)
	}
}

func TestSQLKV(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	st.SetClock(func() time.Time { return now })
	testKV(t, st.KV(), func(d time.Duration) { now = now.Add(d) })
}

func TestMemoryKV(t *testing.T) {
	now := time.Now()
	kv := NewMemoryKV(func() time.Time { return now })
	testKV(t, kv, func(d time.Duration) { now = now.Add(d) })
}

func TestSQLKVIncrConcurrent(t *testing.T) {
	st := newTestStore(t)
	kv := st.KV()
	ctx := context.Background()

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := kv.Incr(ctx, "rate", time.Minute); err != nil {
					t.Errorf("incr: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, ok, err := kv.Get(ctx, "rate")
	if err != nil || !ok {
		t.Fatalf("get counter: ok=%v err=%v", ok, err)
	}
	if v != "80" {
		t.Fatalf("expected 80 increments, got %s", v)
	}
}

func TestSQLKVPurgeExpired(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()
	st.SetClock(func() time.Time { return now })
	kv := st.KV()
	ctx := context.Background()

	_ = kv.Set(ctx, "short", "x", time.Second)
	_ = kv.Set(ctx, "forever", "y", 0)
	now = now.Add(time.Minute)

	n, err := kv.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
}
