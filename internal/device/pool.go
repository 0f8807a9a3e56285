package device

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"
)

// BufferSize represents the size categories of the scratch pool.
type BufferSize int

const (
	// SmallBuffer for scratch < 4KB.
	SmallBuffer BufferSize = iota
	// MediumBuffer for scratch 4KB-1MB.
	MediumBuffer
	// LargeBuffer for scratch > 1MB.
	LargeBuffer
)

const (
	smallThreshold  = 4 * 1024
	mediumThreshold = 1024 * 1024
	maxPoolSize     = 32 // Max buffers per category
)

// Scalar is the set of element types scratch buffers can be viewed as.
type Scalar interface {
	int64 | float32 | float64
}

// Pool recycles host scratch buffers used for kernel intermediates.
// Buffers are word backed so every element type is naturally aligned.
type Pool struct {
	small  [][]uint64
	medium [][]uint64
	large  [][]uint64

	mu      sync.Mutex
	metrics *Metrics

	totalAllocated uint64
	totalReleased  uint64
	poolHits       uint64
	poolMisses     uint64
	pooledBytes    uint64
}

// NewPool creates an empty scratch pool.
func NewPool(m *Metrics) *Pool {
	return &Pool{metrics: m}
}

// Scratch returns a zeroed slice of n elements from the pool.
// Return it with Recycle once the launch that used it has finished.
func Scratch[T Scalar](p *Pool, n int) []T {
	if n == 0 {
		return nil
	}
	var zero T
	elem := int(unsafe.Sizeof(zero))
	words := p.acquire(uint64(n * elem))
	//nolint:gosec // reinterpretation of a word slice owned by the pool
	s := unsafe.Slice((*T)(unsafe.Pointer(&words[0])), len(words)*8/elem)[:n]
	clear(s)
	return s
}

// Recycle returns a slice obtained from Scratch to the pool.
func Recycle[T Scalar](p *Pool, s []T) {
	if cap(s) == 0 {
		return
	}
	var zero T
	s = s[:cap(s)]
	//nolint:gosec // inverse of the reinterpretation in Scratch
	words := unsafe.Slice((*uint64)(unsafe.Pointer(&s[0])), cap(s)*int(unsafe.Sizeof(zero))/8)
	p.release(words)
}

func (p *Pool) acquire(size uint64) []uint64 {
	nwords := int((size + 7) / 8)

	p.mu.Lock()
	defer p.mu.Unlock()

	category := categorize(size)
	pool := p.getPool(category)
	for i, buf := range pool {
		if len(buf) >= nwords {
			p.removeFromPool(category, i)
			p.poolHits++
			p.pooledBytes -= uint64(len(buf) * 8)
			p.observe(true)
			return buf
		}
	}

	p.poolMisses++
	p.totalAllocated++
	p.observe(false)
	return make([]uint64, nwords)
}

func (p *Pool) release(buf []uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalReleased++
	size := uint64(len(buf) * 8)
	category := categorize(size)
	if len(p.getPool(category)) >= maxPoolSize {
		return
	}
	p.addToPool(category, buf)
	p.pooledBytes += size
	if p.metrics != nil {
		p.metrics.PoolBytes.Set(float64(p.pooledBytes))
	}
}

func (p *Pool) observe(hit bool) {
	if p.metrics == nil {
		return
	}
	if hit {
		p.metrics.PoolHits.Inc()
	} else {
		p.metrics.PoolMisses.Inc()
	}
	p.metrics.PoolBytes.Set(float64(p.pooledBytes))
}

// Clear drops all pooled buffers.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.small, p.medium, p.large = nil, nil, nil
	p.pooledBytes = 0
	if p.metrics != nil {
		p.metrics.PoolBytes.Set(0)
	}
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Allocated   uint64
	Released    uint64
	Hits        uint64
	Misses      uint64
	Pooled      int
	PooledBytes uint64
}

func (s PoolStats) String() string {
	return fmt.Sprintf("allocated=%d released=%d hits=%d misses=%d pooled=%d (%s)",
		s.Allocated, s.Released, s.Hits, s.Misses, s.Pooled, humanize.IBytes(s.PooledBytes))
}

// Stats returns statistics about pool usage.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Allocated:   p.totalAllocated,
		Released:    p.totalReleased,
		Hits:        p.poolHits,
		Misses:      p.poolMisses,
		Pooled:      len(p.small) + len(p.medium) + len(p.large),
		PooledBytes: p.pooledBytes,
	}
}

func categorize(size uint64) BufferSize {
	if size < smallThreshold {
		return SmallBuffer
	}
	if size < mediumThreshold {
		return MediumBuffer
	}
	return LargeBuffer
}

func (p *Pool) getPool(category BufferSize) [][]uint64 {
	switch category {
	case SmallBuffer:
		return p.small
	case MediumBuffer:
		return p.medium
	default:
		return p.large
	}
}

func (p *Pool) addToPool(category BufferSize, buf []uint64) {
	switch category {
	case SmallBuffer:
		p.small = append(p.small, buf)
	case MediumBuffer:
		p.medium = append(p.medium, buf)
	default:
		p.large = append(p.large, buf)
	}
}

func (p *Pool) removeFromPool(category BufferSize, i int) {
	switch category {
	case SmallBuffer:
		p.small = append(p.small[:i], p.small[i+1:]...)
	case MediumBuffer:
		p.medium = append(p.medium[:i], p.medium[i+1:]...)
	default:
		p.large = append(p.large[:i], p.large[i+1:]...)
	}
}
