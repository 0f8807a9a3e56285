package parallel

import (
	"sync/atomic"
	"testing"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestFor2D(t *testing.T) {
	cfg := DefaultConfig()

	rows, cols := 40, 8
	results := make([][]bool, rows)
	for r := range results {
		results[r] = make([]bool, cols)
	}

	For2D(rows, cols, func(r, c int) {
		results[r][c] = true
	}, cfg)

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if !results[r][c] {
				t.Errorf("Missing result at [%d][%d]", r, c)
			}
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var counter int64
	For(100, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != 100 {
		t.Errorf("Expected 100, got %d", counter)
	}
}

func TestForRange_CoversDisjointChunks(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}
	n := 1001
	hits := make([]int32, n)

	ForRange(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	}, cfg)

	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d visited %d times", i, h)
		}
	}
}

func TestForRange_Empty(t *testing.T) {
	called := false
	ForRange(0, func(_, _ int) { called = true }, DefaultConfig())
	if called {
		t.Error("ForRange(0) should not call f")
	}
}

func TestForRange_PropagatesPanic(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}
	defer func() {
		if r := recover(); r != "boom" {
			t.Errorf("recovered %v, want boom", r)
		}
	}()
	ForRange(100, func(lo, _ int) {
		if lo == 0 {
			panic("boom")
		}
	}, cfg)
	t.Error("ForRange should re-panic")
}

func TestChunks(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 64}
	if got := cfg.Chunks(100); got != 0 {
		t.Errorf("Chunks(100) = %d, want 0 (sequential)", got)
	}
	if got := cfg.Chunks(1000); got != 250 {
		t.Errorf("Chunks(1000) = %d, want 250", got)
	}
	if got := Sequential().Chunks(1 << 20); got != 0 {
		t.Errorf("Sequential().Chunks = %d, want 0", got)
	}
}

func BenchmarkForRange(b *testing.B) {
	cfg := DefaultConfig()
	data := make([]float32, 1<<16)
	for i := 0; i < b.N; i++ {
		ForRange(len(data), func(lo, hi int) {
			for j := lo; j < hi; j++ {
				data[j] += 1
			}
		}, cfg)
	}
}
