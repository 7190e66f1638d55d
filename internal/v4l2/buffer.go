package v4l2

import (
	"context"
	"runtime"
	"sync"
)

// BufferKind tags which memory backend a Buffer uses, the "dynamic
// dispatch across memory backends" design note's tagged union.
type BufferKind int

const (
	KindMmap BufferKind = iota
	KindDMA
)

// MmapPlane is one plane of an mmap-mode buffer: a byte region mapped
// from the kernel's buffer memory.
type MmapPlane struct {
	Data      []byte
	BytesUsed uint32
}

// DMAPlane is one plane of a DMA-imported buffer: an externally-owned
// file descriptor plus its size and offset within that descriptor.
type DMAPlane struct {
	FD        int32
	Length    uint32
	Offset    uint32
	BytesUsed uint32
}

// Buffer is a tagged union over the two memory backends the spec names.
// Each Buffer has a stable Index within its Pool; the common plane
// operations are provided per-variant so Pool and the queues are generic
// over which backend is in use.
type Buffer struct {
	Index      int
	Kind       BufferKind
	MmapPlanes []MmapPlane
	DMAPlanes  []DMAPlane
}

// NumPlanes returns the plane count for either variant.
func (b *Buffer) NumPlanes() int {
	if b.Kind == KindMmap {
		return len(b.MmapPlanes)
	}
	return len(b.DMAPlanes)
}

// PlaneView returns a read/write byte view of plane i, valid only while
// the buffer is in the pool's free/submitted rotation and the queue has
// not been torn down. For a DMA-imported buffer with no local mapping
// this returns nil — the caller must consume the buffer via its fd.
func (b *Buffer) PlaneView(i int) []byte {
	if b.Kind != KindMmap {
		return nil
	}
	return b.MmapPlanes[i].Data
}

// PlaneLength returns the capacity in bytes of plane i.
func (b *Buffer) PlaneLength(i int) int {
	if b.Kind == KindMmap {
		return len(b.MmapPlanes[i].Data)
	}
	return int(b.DMAPlanes[i].Length)
}

// SetBytesUsed records how many bytes of plane i actually hold valid
// data (H.264 slice bytes for output, decoded plane size for capture).
func (b *Buffer) SetBytesUsed(i int, n uint32) {
	if b.Kind == KindMmap {
		b.MmapPlanes[i].BytesUsed = n
		return
	}
	b.DMAPlanes[i].BytesUsed = n
}

// BytesUsed returns the recorded bytes_used for plane i.
func (b *Buffer) BytesUsed(i int) uint32 {
	if b.Kind == KindMmap {
		return b.MmapPlanes[i].BytesUsed
	}
	return b.DMAPlanes[i].BytesUsed
}

// Pool is a fixed-capacity ordered sequence of buffers plus a FIFO
// free-list of buffer indices. It is the container abstraction §4.E
// describes: it knows nothing about the device queue.
type Pool struct {
	mu      sync.Mutex
	buffers []*Buffer
	free    []int
}

// NewPool returns a Pool over buffers, with every buffer initially free.
func NewPool(buffers []*Buffer) *Pool {
	free := make([]int, len(buffers))
	for i := range buffers {
		free[i] = i
	}
	return &Pool{buffers: buffers, free: free}
}

// At returns the buffer at index, for callers that already know which
// slot the kernel dequeued.
func (p *Pool) At(index int) *Buffer {
	return p.buffers[index]
}

// Len returns the pool's fixed capacity.
func (p *Pool) Len() int { return len(p.buffers) }

// FreeCount returns the number of buffers currently on the free-list,
// for tests verifying the acquire/release conservation property.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Acquire removes and returns the head of the free-list. If the
// free-list is empty it calls drain (typically the output queue's
// reclaim_processed) and retries, yielding between attempts, until a
// buffer frees up or ctx is cancelled. drain may be nil.
func (p *Pool) Acquire(ctx context.Context, drain func() error) (*Buffer, error) {
	for {
		p.mu.Lock()
		if len(p.free) > 0 {
			idx := p.free[0]
			p.free = p.free[1:]
			p.mu.Unlock()
			return p.buffers[idx], nil
		}
		p.mu.Unlock()

		if ctx.Err() != nil {
			return nil, Cancelled
		}
		if drain != nil {
			if err := drain(); err != nil {
				return nil, err
			}
		}
		runtime.Gosched()
	}
}

// Release pushes index back onto the tail of the free-list.
func (p *Pool) Release(index int) {
	p.mu.Lock()
	p.free = append(p.free, index)
	p.mu.Unlock()
}
