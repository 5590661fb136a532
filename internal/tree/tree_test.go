package tree

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func smallOptions() Options {
	return Options{
		CacheSize:        1 << 20,
		DataNodeSize:     256,
		DataDeltaLength:  3,
		IndexNodeSize:    256,
		IndexDeltaLength: 3,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	tr := New(smallOptions(), nil, nil)
	ctx := context.Background()

	if err := tr.Put(ctx, []byte("foo"), 1, []byte("bar")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok, err := tr.Get(ctx, []byte("foo"), 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(v) != "bar" {
		t.Fatalf("Get(foo) = (%q, %v), want (bar, true)", v, ok)
	}
}

func TestGetMissingKey(t *testing.T) {
	tr := New(smallOptions(), nil, nil)
	ctx := context.Background()

	if _, ok, err := tr.Get(ctx, []byte("nope"), 1); err != nil || ok {
		t.Fatalf("Get(nope) = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestMVCCVisibility(t *testing.T) {
	tr := New(smallOptions(), nil, nil)
	ctx := context.Background()

	if err := tr.Put(ctx, []byte("k"), 1, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Put(ctx, []byte("k"), 5, []byte("v5")); err != nil {
		t.Fatal(err)
	}

	v, ok, err := tr.Get(ctx, []byte("k"), 3)
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get(k, lsn=3) = (%q, %v, %v), want (v1, true, nil)", v, ok, err)
	}

	v, ok, err = tr.Get(ctx, []byte("k"), 5)
	if err != nil || !ok || string(v) != "v5" {
		t.Fatalf("Get(k, lsn=5) = (%q, %v, %v), want (v5, true, nil)", v, ok, err)
	}

	v, ok, err = tr.Get(ctx, []byte("k"), 100)
	if err != nil || !ok || string(v) != "v5" {
		t.Fatalf("Get(k, lsn=100) = (%q, %v, %v), want (v5, true, nil)", v, ok, err)
	}
}

func TestDeleteTombstone(t *testing.T) {
	tr := New(smallOptions(), nil, nil)
	ctx := context.Background()

	if err := tr.Put(ctx, []byte("k"), 1, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Delete(ctx, []byte("k"), 2); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := tr.Get(ctx, []byte("k"), 2); err != nil || ok {
		t.Fatalf("Get(k, lsn=2) after delete = (_, %v, %v), want (_, false, nil)", ok, err)
	}
	v, ok, err := tr.Get(ctx, []byte("k"), 1)
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get(k, lsn=1) before delete = (%q, %v, %v), want (v1, true, nil)", v, ok, err)
	}
}

func TestPutTriggersConsolidationAndSplit(t *testing.T) {
	tr := New(smallOptions(), nil, nil)
	ctx := context.Background()

	const n = 500
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("value-%05d", i))
		if err := tr.Put(ctx, key, uint64(i+1), val); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		want := fmt.Sprintf("value-%05d", i)
		v, ok, err := tr.Get(ctx, key, uint64(n+1))
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if !ok || string(v) != want {
			t.Fatalf("Get(%s) = (%q, %v), want (%s, true)", key, v, ok, want)
		}
	}

	st := tr.Stats()
	if st.NumConsolidations == 0 {
		t.Fatalf("Stats().NumConsolidations = 0, want > 0 after %d inserts", n)
	}
	if st.NumDataSplits == 0 {
		t.Fatalf("Stats().NumDataSplits = 0, want > 0 after %d inserts", n)
	}
}

func TestConcurrentPutFromTwoWriters(t *testing.T) {
	tr := New(smallOptions(), nil, nil)
	ctx := context.Background()

	const (
		numWriters = 2
		numKeys    = 1024
		keyLen     = 16
	)

	var nextLSN atomic.Uint64
	type written struct {
		key []byte
		lsn uint64
	}
	results := make([][]written, numWriters)

	var wg sync.WaitGroup
	for w := 0; w < numWriters; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]written, 0, numKeys)
			for i := 0; i < numKeys; i++ {
				lsn := nextLSN.Add(1)
				key := make([]byte, keyLen)
				copy(key, fmt.Sprintf("w%02d-key-%06d", w, i))
				val := []byte(fmt.Sprintf("v%02d-%06d", w, i))
				if err := tr.Put(ctx, key, lsn, val); err != nil {
					t.Errorf("writer %d Put(%s): %v", w, key, err)
					return
				}
				local = append(local, written{key: key, lsn: lsn})
			}
			results[w] = local
		}()
	}
	wg.Wait()

	maxLSN := nextLSN.Load()
	for w, writes := range results {
		for _, rec := range writes {
			_, ok, err := tr.Get(ctx, rec.key, maxLSN)
			if err != nil {
				t.Fatalf("writer %d Get(%s): %v", w, rec.key, err)
			}
			if !ok {
				t.Fatalf("writer %d Get(%s) at lsn=%d = not found, want a value", w, rec.key, maxLSN)
			}
		}
	}

	st := tr.Stats()
	if st.NumDataSplits == 0 {
		t.Fatalf("Stats().NumDataSplits = 0, want > 0 after %d concurrent inserts", numWriters*numKeys)
	}
}

func TestInvalidArgumentRejected(t *testing.T) {
	tr := New(smallOptions(), nil, nil)
	ctx := context.Background()

	if err := tr.Put(ctx, nil, 1, []byte("v")); err == nil {
		t.Fatal("Put with empty key: want error, got nil")
	}
	if err := tr.Put(ctx, []byte("k"), 0, []byte("v")); err == nil {
		t.Fatal("Put with zero lsn: want error, got nil")
	}
	if _, _, err := tr.Get(ctx, nil, 1); err == nil {
		t.Fatal("Get with empty key: want error, got nil")
	}
}

func TestIteratorOrderedForwardScan(t *testing.T) {
	tr := New(smallOptions(), nil, nil)
	ctx := context.Background()

	const n = 300
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("it-%05d", i))
		val := []byte(fmt.Sprintf("val-%05d", i))
		if err := tr.Put(ctx, key, uint64(i+1), val); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}

	it, err := tr.NewIterator(ctx, uint64(n+1))
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}

	seen := 0
	var prevKey string
	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if seen > 0 && string(e.Key) <= prevKey {
			t.Fatalf("iterator out of order: %q after %q", e.Key, prevKey)
		}
		prevKey = string(e.Key)
		seen++
	}
	if seen != n {
		t.Fatalf("iterator visited %d entries, want %d", seen, n)
	}
}

func TestIteratorSkipsTombstones(t *testing.T) {
	tr := New(smallOptions(), nil, nil)
	ctx := context.Background()

	if err := tr.Put(ctx, []byte("a"), 1, []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Put(ctx, []byte("b"), 2, []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Delete(ctx, []byte("b"), 3); err != nil {
		t.Fatal(err)
	}
	if err := tr.Put(ctx, []byte("c"), 4, []byte("3")); err != nil {
		t.Fatal(err)
	}

	it, err := tr.NewIterator(ctx, 4)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	var got []string
	for {
		e, ok, err := it.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(e.Key))
	}
	want := []string{"a", "c"}
	if len(got) != len(want) {
		t.Fatalf("iterator keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("iterator keys = %v, want %v", got, want)
		}
	}
}
