// Package bench provides reproducible micro-benchmarks for bwtreekv.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// The benchmarks intentionally use a single key/value shape so results
// are comparable across versions:
//   - Key   – 8-byte big-endian encoding of a uint64 (keeps raw-key
//     comparison meaningful while still being cheap to generate)
//   - Value – 64-byte payload
//
// We measure:
//  1. Put         – write-only workload
//  2. Get         – read-only workload (after warm-up)
//  3. GetParallel – highly concurrent reads (b.RunParallel)
//  4. Iter        – full forward scan
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live elsewhere; this file is only for performance.
//
// © 2025 bwtreekv authors. MIT License.
package bench

import (
	"context"
	"encoding/binary"
	"math/rand"
	"runtime"
	"sync/atomic"
	"testing"

	bwtreekv "github.com/Voskan/bwtreekv/pkg"
)

const keys = 1 << 16 // 64k keys for dataset

var val64 = make([]byte, 64)

func keyBytes(i int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ds[i])
	return b
}

func newTestStore() *bwtreekv.Store {
	s, err := bwtreekv.New()
	if err != nil {
		panic(err)
	}
	return s
}

// global dataset reused across benches to avoid reallocating large slices.
var ds = func() []uint64 {
	arr := make([]uint64, keys)
	for i := range arr {
		arr[i] = rand.Uint64()
	}
	return arr
}()

func BenchmarkPut(b *testing.B) {
	s := newTestStore()
	var lsn atomic.Uint64
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := keyBytes(i & (keys - 1))
		_ = s.Put(context.Background(), key, lsn.Add(1), val64)
	}
}

func BenchmarkGet(b *testing.B) {
	s := newTestStore()
	var lsn atomic.Uint64
	for i := range ds {
		_ = s.Put(context.Background(), keyBytes(i), lsn.Add(1), val64)
	}
	readLSN := lsn.Load()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = s.Get(context.Background(), keyBytes(i&(keys-1)), readLSN)
	}
}

func BenchmarkGetParallel(b *testing.B) {
	s := newTestStore()
	var lsn atomic.Uint64
	for i := range ds {
		_ = s.Put(context.Background(), keyBytes(i), lsn.Add(1), val64)
	}
	readLSN := lsn.Load()
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			_, _, _ = s.Get(context.Background(), keyBytes(idx), readLSN)
		}
	})
}

func BenchmarkIter(b *testing.B) {
	s := newTestStore()
	var lsn atomic.Uint64
	for i := range ds {
		_ = s.Put(context.Background(), keyBytes(i), lsn.Add(1), val64)
	}
	readLSN := lsn.Load()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it, err := s.Iter(context.Background(), readLSN)
		if err != nil {
			b.Fatal(err)
		}
		n := 0
		for {
			_, _, ok, err := it.Next(context.Background())
			if err != nil {
				b.Fatal(err)
			}
			if !ok {
				break
			}
			n++
		}
	}
}

func init() {
	runtime.GOMAXPROCS(runtime.NumCPU())
}
