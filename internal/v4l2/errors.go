package v4l2

import (
	"errors"
	"fmt"
)

// Cancelled is returned by blocking calls (Pool.Acquire,
// OutputQueue.AcquireMediaRequest) when
// their context is cancelled; the coordinator treats it as normal
// termination rather than a fault, per §7's error taxonomy.
var Cancelled = errors.New("v4l2: cancelled")

// BufferTooSmall is returned by OutputQueue.WriteAndEnqueue when the
// slice bytes handed in exceed the acquired buffer's plane length. It is
// fatal: the stream is incompatible with the configured buffer sizes.
type BufferTooSmall struct {
	Have int // plane.length
	Want int // len(bytes)
}

func (e *BufferTooSmall) Error() string {
	return fmt.Sprintf("v4l2: buffer too small: plane holds %d bytes, slice needs %d", e.Have, e.Want)
}

// InvariantViolated indicates pool misuse or state-machine skew (a
// release without a matching acquire, a dequeue for an unassociated
// buffer, and similar). It always indicates a bug in this core, never
// the input stream.
type InvariantViolated struct {
	Detail string
}

func (e *InvariantViolated) Error() string {
	return "v4l2: invariant violated: " + e.Detail
}

// Exhausted is returned by pool/request acquisition configured not to
// block when nothing is available.
type Exhausted struct {
	Resource string
}

func (e *Exhausted) Error() string {
	return "v4l2: " + e.Resource + " pool exhausted"
}

// DeviceError wraps a failed ioctl, naming the operation and the errno.
// DQBUF's EAGAIN ("try again") is not wrapped in this type by callers —
// it is the expected non-blocking-dequeue-empty signal and is checked
// for directly with errors.Is(err, unix.EAGAIN) before an error reaches
// this type.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("v4l2: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func deviceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DeviceError{Op: op, Err: err}
}
