// Package pool provides type-safe object pooling for BRICK2's hot paths.
// The data access layer borrows row scan buffers from here and the HTTP
// layer borrows byte buffers for JSON encoding, which keeps per-request
// allocations flat under load.
//
// Example usage:
//
//	vals := pool.GetValues(len(columns))
//	defer pool.PutValues(vals)
//	err := rows.Scan(*vals)
//
//	myPool := pool.New(
//	    func() *MyType { return &MyType{} },
//	    func(obj *MyType) { obj.Reset() },
//	)
//	obj := myPool.Get()
//	defer myPool.Put(obj)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and an optional reset
// function. The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The reset function is called before an object goes back into the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object from the pool, allocating when it is empty
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.gets, 1)
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool for reuse
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Drop releases obj without returning it to the pool
func (p *Pool[T]) Drop(obj T) {
	atomic.AddInt64(&p.stats.inUse, -1)
}

// Stats describes pool efficiency
type Stats struct {
	Allocated int64   `json:"allocated"`
	InUse     int64   `json:"in_use"`
	Gets      int64   `json:"gets"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns current pool statistics. Hits are gets served without a
// fresh allocation.
func (p *Pool[T]) Stats() Stats {
	s := Stats{
		Allocated: atomic.LoadInt64(&p.stats.allocated),
		InUse:     atomic.LoadInt64(&p.stats.inUse),
		Gets:      atomic.LoadInt64(&p.stats.gets),
	}
	if s.Gets > 0 {
		hits := s.Gets - s.Allocated
		if hits < 0 {
			hits = 0
		}
		s.HitRate = float64(hits) / float64(s.Gets)
	}
	return s
}

const maxPooledValues = 256

var valuesPool = New(
	func() *[]interface{} {
		vals := make([]interface{}, 0, 32)
		return &vals
	},
	func(vals *[]interface{}) {
		clear(*vals)
		*vals = (*vals)[:0]
	},
)

// GetValues returns a pooled buffer holding n nil values for row scanning
func GetValues(n int) *[]interface{} {
	vals := valuesPool.Get()
	if cap(*vals) < n {
		*vals = make([]interface{}, n)
	}
	*vals = (*vals)[:n]
	return vals
}

// PutValues returns a scan buffer obtained from GetValues
func PutValues(vals *[]interface{}) {
	if vals == nil {
		return
	}
	if cap(*vals) > maxPooledValues {
		valuesPool.Drop(vals)
		return
	}
	valuesPool.Put(vals)
}

// ValuesStats reports scan buffer pool efficiency
func ValuesStats() Stats { return valuesPool.Stats() }

const maxPooledBuffer = 1 << 20

var bufferPool = New(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 4096)) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer returns an empty pooled bytes.Buffer
func GetBuffer() *bytes.Buffer { return bufferPool.Get() }

// PutBuffer returns a buffer to the pool; very large buffers are dropped
func PutBuffer(b *bytes.Buffer) {
	if b == nil {
		return
	}
	if b.Cap() > maxPooledBuffer {
		bufferPool.Drop(b)
		return
	}
	bufferPool.Put(b)
}
