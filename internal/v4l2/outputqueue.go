package v4l2

import "context"

// noRequest is the association-table sentinel meaning "no media request
// is bound to this buffer slot".
const noRequest int32 = -1

// OutputQueue is the compressed-bitstream submission queue (§4.F): it
// owns an mmap (or DMA) buffer pool and a request association table
// recording which request, if any, was bound to each in-flight buffer.
// It is single-threaded in this core — only the decoder coordinator's
// goroutine touches it.
type OutputQueue struct {
	dev       *Device
	memory    uint32
	numPlanes int

	pool  *Pool
	assoc map[int]int32 // buffer index -> bound request fd, or noRequest

	reqPool    RequestSource
	blockOnReq bool
}

// NewOutputQueue constructs an (uninitialized) OutputQueue bound to dev.
func NewOutputQueue(dev *Device) *OutputQueue {
	return &OutputQueue{dev: dev, assoc: make(map[int]int32)}
}

// Initialize allocates count buffers of the given memory mode for the
// output-mplane queue, using the device's currently-negotiated format to
// determine plane count, and mmap's every plane when memory == MemoryMMAP.
func (q *OutputQueue) Initialize(memory uint32, count uint32, numPlanes int) error {
	q.memory = memory
	q.numPlanes = numPlanes

	allocated, err := q.dev.RequestBuffers(BufTypeVideoOutputMplane, memory, count)
	if err != nil {
		return err
	}

	buffers := make([]*Buffer, allocated)
	for i := uint32(0); i < allocated; i++ {
		planes, err := q.dev.QueryBuf(BufTypeVideoOutputMplane, memory, i, numPlanes)
		if err != nil {
			return err
		}
		buf := &Buffer{Index: int(i), Kind: KindMmap}
		if memory == MemoryMMAP {
			buf.MmapPlanes = make([]MmapPlane, numPlanes)
			for p := 0; p < numPlanes; p++ {
				mapped, err := q.dev.MmapPlane(int64(planes[p].memOffset()), int(planes[p].Length))
				if err != nil {
					return err
				}
				buf.MmapPlanes[p] = MmapPlane{Data: mapped}
			}
		} else {
			buf.Kind = KindDMA
			buf.DMAPlanes = make([]DMAPlane, numPlanes)
			for p := 0; p < numPlanes; p++ {
				buf.DMAPlanes[p] = DMAPlane{Length: planes[p].Length}
			}
		}
		buffers[i] = buf
		q.assoc[int(i)] = noRequest
	}
	q.pool = NewPool(buffers)
	return nil
}

// AssociateMediaRequests installs the request pool subsequent enqueues
// may tag frames with, and whether AcquireMediaRequest blocks when the
// pool is exhausted.
func (q *OutputQueue) AssociateMediaRequests(reqPool RequestSource, blockWhenExhausted bool) {
	q.reqPool = reqPool
	q.blockOnReq = blockWhenExhausted
}

// AcquireMediaRequest returns a free request from the associated pool.
// When configured to block (the default the coordinator uses) it spins
// the same way Pool.Acquire does, reclaiming processed buffers between
// attempts so completions free up requests.
func (q *OutputQueue) AcquireMediaRequest(ctx context.Context) (int32, error) {
	if !q.blockOnReq {
		return q.reqPool.Acquire()
	}
	for {
		fd, err := q.reqPool.Acquire()
		if err == nil {
			return fd, nil
		}
		if ctx.Err() != nil {
			return -1, Cancelled
		}
		if _, err := q.ReclaimProcessed(); err != nil {
			return -1, err
		}
	}
}

// WriteAndEnqueue acquires a free output buffer, copies bytes into its
// plane 0, sets bytes_used, and submits it to the device. reqFD, when
// >= 0, binds the request to the buffer in both the kernel QBUF call and
// this queue's association table.
func (q *OutputQueue) WriteAndEnqueue(ctx context.Context, bytes []byte, reqFD int32) error {
	buf, err := q.pool.Acquire(ctx, func() error { _, err := q.ReclaimProcessed(); return err })
	if err != nil {
		return err
	}

	if len(bytes) > buf.PlaneLength(0) {
		q.pool.Release(buf.Index)
		return &BufferTooSmall{Have: buf.PlaneLength(0), Want: len(bytes)}
	}

	if buf.Kind == KindMmap {
		copy(buf.MmapPlanes[0].Data, bytes)
	}
	buf.SetBytesUsed(0, uint32(len(bytes)))

	planes := make([]plane, q.numPlanes)
	planes[0].BytesUsed = uint32(len(bytes))
	planes[0].Length = uint32(buf.PlaneLength(0))

	if err := q.dev.QueueBuf(BufTypeVideoOutputMplane, q.memory, uint32(buf.Index), planes, reqFD); err != nil {
		q.pool.Release(buf.Index)
		return err
	}
	q.assoc[buf.Index] = reqFD
	return nil
}

// ReclaimProcessed non-blockingly dequeues every completed submission,
// releasing its buffer back to the pool and, if one was bound, its
// request back to the request pool. It returns the number of buffers
// reclaimed.
func (q *OutputQueue) ReclaimProcessed() (int, error) {
	n := 0
	for {
		dq, err := q.dev.DequeueBuf(BufTypeVideoOutputMplane, q.memory, q.numPlanes)
		if err != nil {
			return n, err
		}
		if dq == nil {
			return n, nil
		}

		reqFD, ok := q.assoc[int(dq.Index)]
		if !ok {
			return n, &InvariantViolated{Detail: "dequeued output buffer with no association entry"}
		}
		q.assoc[int(dq.Index)] = noRequest

		q.pool.Release(int(dq.Index))
		if reqFD != noRequest && q.reqPool != nil {
			if err := q.reqPool.Release(reqFD); err != nil {
				return n, err
			}
		}
		n++
	}
}

// StreamOn/StreamOff delegate to the device for this queue's buf type.
func (q *OutputQueue) StreamOn() error  { return q.dev.StreamOn(BufTypeVideoOutputMplane) }
func (q *OutputQueue) StreamOff() error { return q.dev.StreamOff(BufTypeVideoOutputMplane) }

// Unmap releases every mmap'd plane, called at teardown.
func (q *OutputQueue) Unmap() error {
	if q.pool == nil {
		return nil
	}
	var first error
	for i := 0; i < q.pool.Len(); i++ {
		buf := q.pool.At(i)
		if buf.Kind != KindMmap {
			continue
		}
		for _, p := range buf.MmapPlanes {
			if p.Data == nil {
				continue
			}
			if err := MunmapPlane(p.Data); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
