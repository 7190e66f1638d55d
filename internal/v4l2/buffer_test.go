package v4l2

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testBuffers(n, numPlanes int) []*Buffer {
	bufs := make([]*Buffer, n)
	for i := 0; i < n; i++ {
		planes := make([]MmapPlane, numPlanes)
		for p := range planes {
			planes[p] = MmapPlane{Data: make([]byte, 4096)}
		}
		bufs[i] = &Buffer{Index: i, Kind: KindMmap, MmapPlanes: planes}
	}
	return bufs
}

func TestPoolAcquireReleaseConservation(t *testing.T) {
	pool := NewPool(testBuffers(4, 2))
	if pool.FreeCount() != 4 {
		t.Fatalf("FreeCount = %d, want 4", pool.FreeCount())
	}

	ctx := context.Background()
	var acquired []*Buffer
	for i := 0; i < 4; i++ {
		b, err := pool.Acquire(ctx, nil)
		if err != nil {
			t.Fatalf("Acquire #%d: %v", i, err)
		}
		acquired = append(acquired, b)
	}
	if pool.FreeCount() != 0 {
		t.Fatalf("FreeCount after draining pool = %d, want 0", pool.FreeCount())
	}

	seen := make(map[int]bool)
	for _, b := range acquired {
		if seen[b.Index] {
			t.Fatalf("buffer index %d acquired twice", b.Index)
		}
		seen[b.Index] = true
	}

	for _, b := range acquired {
		pool.Release(b.Index)
	}
	if pool.FreeCount() != 4 {
		t.Fatalf("FreeCount after releasing all = %d, want 4", pool.FreeCount())
	}
}

func TestPoolAcquireBlocksUntilDrainFrees(t *testing.T) {
	pool := NewPool(testBuffers(1, 1))

	first, err := pool.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		pool.Release(first.Index)
		close(released)
	}()

	var mu sync.Mutex
	drainCalls := 0
	drain := func() error {
		mu.Lock()
		drainCalls++
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := pool.Acquire(ctx, drain)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if second.Index != first.Index {
		t.Fatalf("Acquire returned index %d, want the one just released (%d)", second.Index, first.Index)
	}

	<-released
	mu.Lock()
	calls := drainCalls
	mu.Unlock()
	if calls == 0 {
		t.Fatal("drain was never called while waiting for a free buffer")
	}
}

func TestPoolAcquireCancelledContext(t *testing.T) {
	pool := NewPool(testBuffers(1, 1))
	if _, err := pool.Acquire(context.Background(), nil); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pool.Acquire(ctx, nil)
	if err != Cancelled {
		t.Fatalf("Acquire on cancelled ctx returned %v, want Cancelled", err)
	}
}

func TestBufferPlaneAccessorsMmap(t *testing.T) {
	buf := testBuffers(1, 2)[0]
	if buf.NumPlanes() != 2 {
		t.Fatalf("NumPlanes = %d, want 2", buf.NumPlanes())
	}
	buf.SetBytesUsed(0, 1234)
	if got := buf.BytesUsed(0); got != 1234 {
		t.Fatalf("BytesUsed(0) = %d, want 1234", got)
	}
	if buf.PlaneLength(0) != 4096 {
		t.Fatalf("PlaneLength(0) = %d, want 4096", buf.PlaneLength(0))
	}
	if buf.PlaneView(0) == nil {
		t.Fatal("PlaneView(0) returned nil for an mmap buffer")
	}
}

func TestBufferPlaneAccessorsDMA(t *testing.T) {
	buf := &Buffer{Index: 0, Kind: KindDMA, DMAPlanes: []DMAPlane{{FD: 7, Length: 2048}}}
	if buf.NumPlanes() != 1 {
		t.Fatalf("NumPlanes = %d, want 1", buf.NumPlanes())
	}
	if buf.PlaneView(0) != nil {
		t.Fatal("PlaneView on a DMA buffer with no local mapping should be nil")
	}
	if buf.PlaneLength(0) != 2048 {
		t.Fatalf("PlaneLength(0) = %d, want 2048", buf.PlaneLength(0))
	}
}
