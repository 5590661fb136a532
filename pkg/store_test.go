package bwtreekv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestStorePutGet(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, []byte("foo"), 1, []byte("bar")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := s.Get(ctx, []byte("foo"), 1)
	if err != nil || !ok || string(v) != "bar" {
		t.Fatalf("Get(foo) = (%q, %v, %v), want (bar, true, nil)", v, ok, err)
	}
}

func TestStoreDelete(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, []byte("k"), 1, []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, []byte("k"), 2); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := s.Get(ctx, []byte("k"), 2); err != nil || ok {
		t.Fatalf("Get(k) after delete = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestStoreInvalidArgument(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, nil, 1, []byte("v")); err == nil {
		t.Fatal("Put with empty key: want error, got nil")
	}
}

func TestStoreIter(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	const n = 50
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k-%03d", i))
		if err := s.Put(ctx, key, uint64(i+1), []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	it, err := s.Iter(ctx, uint64(n+1))
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	count := 0
	for {
		_, _, ok, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != n {
		t.Fatalf("Iter visited %d keys, want %d", count, n)
	}
}

func TestStoreStatsReflectsActivity(t *testing.T) {
	s, err := New(WithDataNodeSize(128), WithDataDeltaLength(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("stat-%04d", i))
		if err := s.Put(ctx, key, uint64(i+1), []byte("value")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	st := s.Stats()
	if st.NumConsolidations == 0 {
		t.Fatalf("Stats().NumConsolidations = 0, want > 0")
	}
}

func TestStoreConcurrentPutFromTwoWriters(t *testing.T) {
	s, err := New(WithDataNodeSize(128), WithDataDeltaLength(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	const (
		numWriters = 2
		numKeys    = 1024
	)

	var nextLSN atomic.Uint64
	var wg sync.WaitGroup
	for w := 0; w < numWriters; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < numKeys; i++ {
				lsn := nextLSN.Add(1)
				key := make([]byte, 16)
				copy(key, fmt.Sprintf("w%02d-key-%06d", w, i))
				val := []byte(fmt.Sprintf("v%02d-%06d", w, i))
				if err := s.Put(ctx, key, lsn, val); err != nil {
					t.Errorf("writer %d Put(%s): %v", w, key, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	maxLSN := nextLSN.Load()
	for w := 0; w < numWriters; w++ {
		for i := 0; i < numKeys; i++ {
			key := make([]byte, 16)
			copy(key, fmt.Sprintf("w%02d-key-%06d", w, i))
			v, ok, err := s.Get(ctx, key, maxLSN)
			if err != nil {
				t.Fatalf("Get(%s): %v", key, err)
			}
			if !ok {
				t.Fatalf("Get(%s) at lsn=%d = not found, want a value", key, maxLSN)
			}
			if want := fmt.Sprintf("v%02d-%06d", w, i); string(v) != want {
				t.Fatalf("Get(%s) = %q, want %q", key, v, want)
			}
		}
	}

	st := s.Stats()
	if st.NumDataSplits == 0 {
		t.Fatalf("Stats().NumDataSplits = 0, want > 0 after %d concurrent inserts", numWriters*numKeys)
	}
}

func TestStoreWithMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := New(WithMetrics(reg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, []byte("k"), 1, []byte("v")); err != nil {
		t.Fatal(err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("Gather() returned no metric families, want bwtreekv_* collectors registered")
	}
}

func TestErrorsReexported(t *testing.T) {
	if ErrAgain == nil || ErrInvalidArgument == nil || ErrCorrupted == nil {
		t.Fatal("pkg error sentinels must be non-nil")
	}
}
