package openhash

import (
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
	"github.com/witchel/openhash/hashes"
)

func BenchmarkMapIter(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapIter))
	b.Run("impl=openhash", benchSizes(benchmarkTableIter))
}

func BenchmarkMapGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetHit))
	b.Run("impl=openhash/hash=xxh3", benchSizes(benchmarkTableGetHit(hashes.XXH3)))
	b.Run("impl=openhash/hash=mult", benchSizes(benchmarkTableGetHit(hashes.Mult)))
}

func BenchmarkMapGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetMiss))
	b.Run("impl=openhash", benchSizes(benchmarkTableGetMiss))
}

func BenchmarkMapPutGrow(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapPutGrow))
	b.Run("impl=openhash", benchSizes(benchmarkTablePutGrow))
}

func BenchmarkMapPutPreAllocate(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapPutPreAllocate))
	b.Run("impl=openhash", benchSizes(benchmarkTablePutPreAllocate))
}

func benchSizes(f func(b *testing.B, n int)) func(*testing.B) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n) })
		}
	}
}

// genKeys returns the nonzero keys [start, end), offset past the reserved key.
func genKeys(start, end int) []uint64 {
	keys := make([]uint64, end-start)
	for i := range keys {
		keys[i] = uint64(start+i) + 1<<32
	}
	return keys
}

func newBenchTable(b *testing.B, n int, hash HashFunc) *Table {
	m, err := New(b.Name(), uint64(n), hash)
	if err != nil {
		b.Fatal(err)
	}
	return m
}

func benchmarkRuntimeMapIter(b *testing.B, n int) {
	m := make(map[uint64]uint64, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	b.ResetTimer()
	cs := perfbench.Open(b)
	var tmp uint64
	for i := 0; i < b.N; i++ {
		for k, v := range m {
			tmp += k + v
		}
	}
	cs.Stop()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkTableIter(b *testing.B, n int) {
	m := newBenchTable(b, n, hashes.XXH3)
	for _, k := range genKeys(0, n) {
		if err := m.Put(k, k); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	cs := perfbench.Open(b)
	var tmp uint64
	for i := 0; i < b.N; i++ {
		m.All(func(_ Ref, s *Slot) bool {
			tmp += s.Key() + s.Value
			return true
		})
	}
	cs.Stop()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkRuntimeMapGetHit(b *testing.B, n int) {
	m := make(map[uint64]uint64, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[k] = k
	}
	b.ResetTimer()
	cs := perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		_ = m[keys[i%n]]
	}
	cs.Stop()
}

func benchmarkTableGetHit(hash HashFunc) func(b *testing.B, n int) {
	return func(b *testing.B, n int) {
		m := newBenchTable(b, n, hash)
		keys := genKeys(0, n)
		for _, k := range keys {
			if err := m.Put(k, k); err != nil {
				b.Fatal(err)
			}
		}
		b.ResetTimer()
		cs := perfbench.Open(b)
		var ok bool
		for i := 0; i < b.N; i++ {
			_, ok = m.Get(keys[i%n])
		}
		cs.Stop()
		b.StopTimer()
		fmt.Fprint(io.Discard, ok)
		b.ReportMetric(m.Stats().ProbesPerCall(), "probes/op")
	}
}

func benchmarkRuntimeMapGetMiss(b *testing.B, n int) {
	m := make(map[uint64]uint64, n)
	for _, k := range genKeys(0, n) {
		m[k] = k
	}
	miss := genKeys(n, 2*n)
	b.ResetTimer()
	cs := perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		_ = m[miss[i%n]]
	}
	cs.Stop()
}

func benchmarkTableGetMiss(b *testing.B, n int) {
	m := newBenchTable(b, n, hashes.XXH3)
	for _, k := range genKeys(0, n) {
		if err := m.Put(k, k); err != nil {
			b.Fatal(err)
		}
	}
	miss := genKeys(n, 2*n)
	b.ResetTimer()
	cs := perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m.Get(miss[i%n])
	}
	cs.Stop()
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapPutGrow(b *testing.B, n int) {
	keys := genKeys(0, n)
	b.ResetTimer()
	cs := perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := make(map[uint64]uint64)
		for _, k := range keys {
			m[k] = k
		}
	}
	cs.Stop()
}

func benchmarkTablePutGrow(b *testing.B, n int) {
	keys := genKeys(0, n)
	b.ResetTimer()
	cs := perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := newBenchTable(b, 0, hashes.XXH3)
		for _, k := range keys {
			if err := m.Put(k, k); err != nil {
				b.Fatal(err)
			}
		}
	}
	cs.Stop()
}

func benchmarkRuntimeMapPutPreAllocate(b *testing.B, n int) {
	keys := genKeys(0, n)
	b.ResetTimer()
	cs := perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := make(map[uint64]uint64, n)
		for _, k := range keys {
			m[k] = k
		}
	}
	cs.Stop()
}

func benchmarkTablePutPreAllocate(b *testing.B, n int) {
	keys := genKeys(0, n)
	b.ResetTimer()
	cs := perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := newBenchTable(b, n, hashes.XXH3)
		for _, k := range keys {
			if err := m.Put(k, k); err != nil {
				b.Fatal(err)
			}
		}
	}
	cs.Stop()
}
