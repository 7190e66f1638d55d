package v4l2

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device wraps an open V4L2 M2M character-device file descriptor. It
// exposes the minimum operation set §6 names: format get/set, buffer
// request/query/queue/dequeue, stream on/off, extended-controls set,
// media-request allocation, and poll.
type Device struct {
	fd int
}

// Open opens a V4L2 device node (e.g. "/dev/video0") for read/write,
// non-blocking so DequeueBuf's EAGAIN path is reachable without a poll.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, deviceErr("open", err)
	}
	return &Device{fd: fd}, nil
}

// Close closes the device file descriptor.
func (d *Device) Close() error {
	return deviceErr("close", unix.Close(d.fd))
}

// Fd returns the raw file descriptor, for mmap and poll callers.
func (d *Device) Fd() int { return d.fd }

// SetFormat negotiates width/height/pixel-format for one of the two
// multi-planar queue types, returning the number of planes and each
// plane's size_image the device settled on.
func (d *Device) SetFormat(bufType uint32, width, height, pixelFormat uint32) (numPlanes int, planeSizes []uint32, err error) {
	var f format
	f.Type = bufType
	pm := f.pixMplane()
	pm.Width = width
	pm.Height = height
	pm.PixelFormat = pixelFormat
	pm.Field = FieldNone
	pm.NumPlanes = 1

	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return 0, nil, deviceErr("VIDIOC_S_FMT", err)
	}

	pm = f.pixMplane()
	n := int(pm.NumPlanes)
	sizes := make([]uint32, n)
	for i := 0; i < n; i++ {
		sizes[i] = pm.Planes[i].SizeImage
	}
	return n, sizes, nil
}

// SetExtControl writes a single compound extended control, keyed by a
// media request when reqFD >= 0 (the per-frame write path); reqFD == -1
// writes immediately outside any request (used during initialization for
// decode-mode/start-code).
func (d *Device) SetExtControl(reqFD int32, id, size uint32, payload unsafe.Pointer) error {
	ctrl := extControl{ID: id, Size: size, ptr: payload}
	ctrls := extControls{
		CtrlClass: ctrlClassCodecStateless,
		Count:     1,
		RequestFD: -1,
		controls:  unsafe.Pointer(&ctrl),
	}
	if reqFD >= 0 {
		ctrls.RequestFD = reqFD
		ctrls.Count = 1
	}
	if err := ioctl(d.fd, vidiocSExtCtrls, unsafe.Pointer(&ctrls)); err != nil {
		return deviceErr("VIDIOC_S_EXT_CTRLS", err)
	}
	return nil
}

// TryExtControl probes whether the device advertises a control id,
// without writing through a request — used to detect optional-control
// support such as the slice-params control.
func (d *Device) TryExtControl(id, size uint32, payload unsafe.Pointer) bool {
	ctrl := extControl{ID: id, Size: size, ptr: payload}
	ctrls := extControls{
		CtrlClass: ctrlClassCodecStateless,
		Count:     1,
		RequestFD: -1,
		controls:  unsafe.Pointer(&ctrl),
	}
	return ioctl(d.fd, vidiocTryExtCtrls, unsafe.Pointer(&ctrls)) == nil
}

// RequestBuffers allocates count buffers of the given type/memory mode,
// returning the number the driver actually allocated.
func (d *Device) RequestBuffers(bufType, memory, count uint32) (uint32, error) {
	rb := requestBuffers{Type: bufType, Memory: memory, Count: count}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&rb)); err != nil {
		return 0, deviceErr("VIDIOC_REQBUFS", err)
	}
	return rb.Count, nil
}

// QueryBuf retrieves the kernel-assigned plane offsets/lengths for an
// mmap-mode buffer at index, used to mmap it into this process.
func (d *Device) QueryBuf(bufType, memory uint32, index uint32, numPlanes int) ([]plane, error) {
	planes := make([]plane, numPlanes)
	buf := bufferMplane{
		Type:      bufType,
		Memory:    memory,
		Index:     index,
		Length:    uint32(numPlanes),
		planesPtr: uintptr(unsafe.Pointer(&planes[0])),
	}
	if err := ioctl(d.fd, vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
		return nil, deviceErr("VIDIOC_QUERYBUF", err)
	}
	return planes, nil
}

// QueueBuf submits buffer index to the kernel. planes carries the
// per-plane bytes_used (output queue) or is zeroed (capture queue).
// reqFD, when >= 0, binds the per-frame controls written under that
// request to this buffer atomically.
func (d *Device) QueueBuf(bufType, memory uint32, index uint32, planes []plane, reqFD int32) error {
	buf := bufferMplane{
		Type:      bufType,
		Memory:    memory,
		Index:     index,
		Length:    uint32(len(planes)),
		planesPtr: uintptr(unsafe.Pointer(&planes[0])),
		RequestFD: reqFD,
	}
	if reqFD >= 0 {
		buf.Flags |= bufFlagRequestFD
	}
	if err := ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return deviceErr("VIDIOC_QBUF", err)
	}
	return nil
}

// bufFlagRequestFD is V4L2_BUF_FLAG_REQUEST_FD, set on QBUF to indicate
// RequestFD carries a valid media-request file descriptor.
const bufFlagRequestFD uint32 = 1 << 11

// DequeuedBuffer describes a completed buffer returned by DequeueBuf.
type DequeuedBuffer struct {
	Index      uint32
	BytesUsed  []uint32
	Sequence   uint32
}

// DequeueBuf performs a non-blocking DQBUF. It returns (nil, nil) when
// the kernel signals EAGAIN (nothing ready yet) rather than treating it
// as an error, per §7's "try-again" handling.
func (d *Device) DequeueBuf(bufType, memory uint32, numPlanes int) (*DequeuedBuffer, error) {
	planes := make([]plane, numPlanes)
	buf := bufferMplane{
		Type:      bufType,
		Memory:    memory,
		Length:    uint32(numPlanes),
		planesPtr: uintptr(unsafe.Pointer(&planes[0])),
	}
	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil, nil
		}
		return nil, deviceErr("VIDIOC_DQBUF", err)
	}
	used := make([]uint32, numPlanes)
	for i := range planes {
		used[i] = planes[i].BytesUsed
	}
	return &DequeuedBuffer{Index: buf.Index, BytesUsed: used, Sequence: buf.Sequence}, nil
}

// StreamOn starts streaming for bufType.
func (d *Device) StreamOn(bufType uint32) error {
	t := bufType
	if err := ioctl(d.fd, vidiocStreamOn, unsafe.Pointer(&t)); err != nil {
		return deviceErr("VIDIOC_STREAMON", err)
	}
	return nil
}

// StreamOff stops streaming for bufType, releasing any queued buffers.
func (d *Device) StreamOff(bufType uint32) error {
	t := bufType
	if err := ioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&t)); err != nil {
		return deviceErr("VIDIOC_STREAMOFF", err)
	}
	return nil
}

// Poll waits up to timeoutMs for the device fd to become readable
// (capture queue has a completed buffer). Returns false on timeout.
func (d *Device) Poll(timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, deviceErr("poll", err)
	}
	return n > 0, nil
}

// MediaRequestAlloc allocates a new media-request file descriptor bound
// to this device's media controller. The returned descriptor is the
// request handle used by SetExtControl/QueueBuf and by
// MediaRequestQueue/MediaRequestReinit.
func (d *Device) MediaRequestAlloc() (int32, error) {
	var reqFD int32
	if err := ioctl(d.fd, mediaIocRequestAlloc, unsafe.Pointer(&reqFD)); err != nil {
		return -1, deviceErr("MEDIA_IOC_REQUEST_ALLOC", err)
	}
	return reqFD, nil
}

// MediaRequestQueue submits a request (with its bound controls and
// buffer) to the kernel for processing.
func MediaRequestQueue(reqFD int32) error {
	if err := ioctl(int(reqFD), mediaRequestIocQueue, nil); err != nil {
		return deviceErr("MEDIA_REQUEST_IOC_QUEUE", err)
	}
	return nil
}

// MediaRequestReinit resets a completed request so it can be reused for
// a future frame.
func MediaRequestReinit(reqFD int32) error {
	if err := ioctl(int(reqFD), mediaRequestIocReinit, nil); err != nil {
		return deviceErr("MEDIA_REQUEST_IOC_REINIT", err)
	}
	return nil
}

// MediaRequestClose releases a request file descriptor at teardown.
func MediaRequestClose(reqFD int32) error {
	return deviceErr("close(request)", unix.Close(int(reqFD)))
}

// MmapPlane maps one plane of an mmap-mode buffer at the given kernel
// offset/length into this process's address space.
func (d *Device) MmapPlane(offset int64, length int) ([]byte, error) {
	b, err := unix.Mmap(d.fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, deviceErr("mmap", err)
	}
	return b, nil
}

// MunmapPlane unmaps a previously mapped plane.
func MunmapPlane(b []byte) error {
	return deviceErr("munmap", unix.Munmap(b))
}
