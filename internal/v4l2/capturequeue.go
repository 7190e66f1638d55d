package v4l2

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CapturePollTimeout is the poll wait per iteration of the capture
// worker loop (§5: "the capture worker blocks inside poll up to 1
// second per iteration").
const CapturePollTimeout = 1000 * time.Millisecond

// CaptureJoinGrace is how long Stop waits for the capture worker to exit
// before logging a warning (§4.G / §5).
const CaptureJoinGrace = 2 * time.Second

// DeliverFunc receives read-only views of every plane of a decoded frame
// for the duration of the call; the views are invalid once it returns.
type DeliverFunc func(planes [][]byte, sequence uint32)

// CaptureQueue is the decoded-frame reception queue (§4.G): it owns an
// mmap pool and a dedicated worker goroutine that polls for ready
// buffers and delivers them to a consumer callback.
type CaptureQueue struct {
	dev       *Device
	memory    uint32
	numPlanes int

	pool *Pool
	log  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCaptureQueue constructs an (uninitialized) CaptureQueue bound to dev.
func NewCaptureQueue(dev *Device, log *slog.Logger) *CaptureQueue {
	if log == nil {
		log = slog.Default()
	}
	return &CaptureQueue{dev: dev, log: log.With("component", "capture_queue")}
}

// Initialize allocates count buffers for the capture-mplane queue and
// mmap's every plane when memory == MemoryMMAP.
func (q *CaptureQueue) Initialize(memory uint32, count uint32, numPlanes int) error {
	q.memory = memory
	q.numPlanes = numPlanes

	allocated, err := q.dev.RequestBuffers(BufTypeVideoCaptureMplane, memory, count)
	if err != nil {
		return err
	}

	buffers := make([]*Buffer, allocated)
	for i := uint32(0); i < allocated; i++ {
		planes, err := q.dev.QueryBuf(BufTypeVideoCaptureMplane, memory, i, numPlanes)
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
	}
	q.pool = NewPool(buffers)
	return nil
}

// EnqueueAll marks every buffer ready for hardware fill; called once
// before StreamOn.
func (q *CaptureQueue) EnqueueAll() error {
	for i := 0; i < q.pool.Len(); i++ {
		if err := q.enqueueIndex(i); err != nil {
			return err
		}
	}
	return nil
}

func (q *CaptureQueue) enqueueIndex(index int) error {
	buf := q.pool.At(index)
	planes := make([]plane, q.numPlanes)
	for p := 0; p < q.numPlanes; p++ {
		planes[p].Length = uint32(buf.PlaneLength(p))
	}
	return q.dev.QueueBuf(BufTypeVideoCaptureMplane, q.memory, uint32(index), planes, -1)
}

// Reuse zeroes bytes_used and re-enqueues the buffer at index.
func (q *CaptureQueue) Reuse(index int) error {
	buf := q.pool.At(index)
	for p := 0; p < buf.NumPlanes(); p++ {
		buf.SetBytesUsed(p, 0)
	}
	return q.enqueueIndex(index)
}

// WaitForReady polls for a READ_READY buffer up to timeout, returning
// nil (not an error) on timeout.
func (q *CaptureQueue) WaitForReady(timeout time.Duration) (*DequeuedBuffer, error) {
	ready, err := q.dev.Poll(int(timeout.Milliseconds()))
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}
	return q.dev.DequeueBuf(BufTypeVideoCaptureMplane, q.memory, q.numPlanes)
}

func (q *CaptureQueue) StreamOn() error  { return q.dev.StreamOn(BufTypeVideoCaptureMplane) }
func (q *CaptureQueue) StreamOff() error { return q.dev.StreamOff(BufTypeVideoCaptureMplane) }

// Start launches the capture worker goroutine: it loops waiting for
// ready buffers, delivers their plane views to deliver, then re-enqueues
// them, until ctx is cancelled.
func (q *CaptureQueue) Start(ctx context.Context, deliver DeliverFunc) {
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})

	go func() {
		defer close(q.done)
		for {
			if workerCtx.Err() != nil {
				return
			}
			dq, err := q.WaitForReady(CapturePollTimeout)
			if err != nil {
				q.log.Error("capture worker: fatal, exiting", "error", err)
				return
			}
			if dq == nil {
				continue
			}

			buf := q.pool.At(int(dq.Index))
			views := make([][]byte, buf.NumPlanes())
			for p := 0; p < buf.NumPlanes(); p++ {
				view := buf.PlaneView(p)
				if int(dq.BytesUsed[p]) <= len(view) {
					view = view[:dq.BytesUsed[p]]
				}
				views[p] = view
			}
			deliver(views, dq.Sequence)

			if err := q.Reuse(int(dq.Index)); err != nil {
				q.log.Error("capture worker: reuse failed, exiting", "error", err)
				return
			}
		}
	}()
}

// Stop cancels the capture worker and waits up to CaptureJoinGrace for
// it to exit, logging a warning if it doesn't.
func (q *CaptureQueue) Stop() {
	if q.cancel == nil {
		return
	}
	q.cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	timer := time.NewTimer(CaptureJoinGrace)
	defer timer.Stop()
	go func() { <-q.done; wg.Done() }()

	joined := make(chan struct{})
	go func() { wg.Wait(); close(joined) }()

	select {
	case <-joined:
	case <-timer.C:
		q.log.Warn("capture worker did not exit within join grace period")
	}
}

// Unmap releases every mmap'd plane, called at teardown.
func (q *CaptureQueue) Unmap() error {
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
