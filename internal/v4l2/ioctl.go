// Package v4l2 drives a Linux V4L2 M2M stateless-decode device: format
// negotiation, multi-planar buffer pools, extended controls, and the
// media-request ioctls that bind per-frame state to a submission. It
// talks to the kernel through raw ioctl/mmap syscalls rather than cgo,
// the way other_examples' manual V4L2 client does.
package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request-code encoding, mirroring include/uapi/asm-generic/ioctl.h.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNumberBits = 8
	iocTypeBits   = 8
	iocSizeBits   = 14

	numberShift = 0
	typeShift   = numberShift + iocNumberBits
	sizeShift   = typeShift + iocTypeBits
	dirShift    = sizeShift + iocSizeBits
)

func ioEnc(dir, ioType, number, size uintptr) uintptr {
	return (dir << dirShift) | (ioType << typeShift) | (number << numberShift) | (size << sizeShift)
}

func ioR(ioType, number, size uintptr) uintptr  { return ioEnc(iocRead, ioType, number, size) }
func ioW(ioType, number, size uintptr) uintptr  { return ioEnc(iocWrite, ioType, number, size) }
func ioRW(ioType, number, size uintptr) uintptr { return ioEnc(iocRead|iocWrite, ioType, number, size) }
func io0(ioType, number uintptr) uintptr        { return ioEnc(iocNone, ioType, number, 0) }

// VIDIOC_* request codes this core issues, sized against the raw structs
// in types.go.
var (
	vidiocGFmt       = ioRW('V', 4, unsafe.Sizeof(format{}))
	vidiocSFmt       = ioRW('V', 5, unsafe.Sizeof(format{}))
	vidiocReqbufs    = ioRW('V', 8, unsafe.Sizeof(requestBuffers{}))
	vidiocQueryBuf   = ioRW('V', 9, unsafe.Sizeof(bufferMplane{}))
	vidiocQbuf       = ioRW('V', 15, unsafe.Sizeof(bufferMplane{}))
	vidiocDqbuf      = ioRW('V', 17, unsafe.Sizeof(bufferMplane{}))
	vidiocStreamOn   = ioW('V', 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff  = ioW('V', 19, unsafe.Sizeof(int32(0)))
	vidiocSExtCtrls  = ioRW('V', 72, unsafe.Sizeof(extControls{}))
	vidiocTryExtCtrls = ioRW('V', 73, unsafe.Sizeof(extControls{}))
)

// Media-request ioctls (include/uapi/linux/media.h); the request magic is
// '|' (0x7c).
var (
	mediaIocRequestAlloc = ioRW('|', 0x01, unsafe.Sizeof(int32(0)))
	mediaRequestIocQueue = io0('|', 0x80)
	mediaRequestIocReinit = io0('|', 0x81)
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// fourCC packs four ASCII bytes into a V4L2 pixel-format code.
func fourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// PixFmtNV12 is V4L2_PIX_FMT_NV12, the spec's default preferred capture format.
var PixFmtNV12 = fourCC('N', 'V', '1', '2')

// PixFmtH264Slice is V4L2_PIX_FMT_H264_SLICE, the stateless-decode output format.
var PixFmtH264Slice = fourCC('S', '2', '6', '4')
