package v4l2

import "sync"

// RequestSource is what OutputQueue needs from a request pool: acquire a
// free request, release one back. *RequestPool satisfies it; tests may
// substitute a fake that does not touch real media-request file
// descriptors.
type RequestSource interface {
	Acquire() (int32, error)
	Release(fd int32) error
}

// RequestPool is a fixed-capacity set of media-request file descriptors,
// each alternating FREE <-> IN_USE. Unlike Pool.Acquire, RequestPool's
// own Acquire never blocks — it is OutputQueue that layers blocking
// behavior on top, per §4.F's "blocks if none; fails exhausted only if
// configured not to block".
type RequestPool struct {
	mu   sync.Mutex
	free []int32
	all  []int32
}

// NewRequestPool allocates size media requests from dev and returns the
// pool, all initially FREE.
func NewRequestPool(dev *Device, size int) (*RequestPool, error) {
	p := &RequestPool{}
	for i := 0; i < size; i++ {
		fd, err := dev.MediaRequestAlloc()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.all = append(p.all, fd)
		p.free = append(p.free, fd)
	}
	return p, nil
}

// Acquire returns one FREE request's fd, or Exhausted if none are free.
func (p *RequestPool) Acquire() (int32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return -1, &Exhausted{Resource: "request"}
	}
	fd := p.free[0]
	p.free = p.free[1:]
	return fd, nil
}

// Release reinitializes fd (discarding its prior controls/buffer
// association) and returns it to the FREE FIFO.
func (p *RequestPool) Release(fd int32) error {
	if err := MediaRequestReinit(fd); err != nil {
		return err
	}
	p.mu.Lock()
	p.free = append(p.free, fd)
	p.mu.Unlock()
	return nil
}

// FreeCount reports how many requests are currently FREE, for the
// request-pool conservation property.
func (p *RequestPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Close closes every request handle, FREE or not; called at teardown.
func (p *RequestPool) Close() error {
	var first error
	for _, fd := range p.all {
		if err := MediaRequestClose(fd); err != nil && first == nil {
			first = err
		}
	}
	p.all = nil
	p.free = nil
	return first
}
