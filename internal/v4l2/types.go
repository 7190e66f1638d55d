package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Buffer types (v4l2_buf_type), multi-planar variants only — this core
// never uses the single-planar queue types.
const (
	BufTypeVideoOutputMplane  uint32 = 9
	BufTypeVideoCaptureMplane uint32 = 10
)

// Memory modes (v4l2_memory).
const (
	MemoryMMAP   uint32 = 1
	MemoryDMABuf uint32 = 4
)

// Field order (v4l2_field); this core always requests progressive frames.
const FieldNone uint32 = 1

// VideoMaxPlanes bounds the per-buffer plane array (VIDEO_MAX_PLANES).
const VideoMaxPlanes = 8

// planePixFormat mirrors struct v4l2_plane_pix_format.
type planePixFormat struct {
	SizeImage    uint32
	BytesPerLine uint32
	Reserved     [6]uint16
}

// pixFormatMplane mirrors struct v4l2_pix_format_mplane.
type pixFormatMplane struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	Colorspace   uint32
	Planes       [VideoMaxPlanes]planePixFormat
	NumPlanes    uint8
	Flags        uint8
	YcbcrEnc     uint8
	Quantization uint8
	XferFunc     uint8
	Reserved     [7]uint8
}

const pixFormatMplaneUnionSize = 200

// format mirrors struct v4l2_format: a type tag followed by a union whose
// largest member (v4l2_pix_format_mplane here) this core overlays via
// unsafe.Pointer, the same union-by-byte-array technique
// other_examples' manual V4L2 client uses for the single-planar case.
type format struct {
	Type uint32
	raw  [pixFormatMplaneUnionSize]byte
}

func (f *format) pixMplane() *pixFormatMplane {
	return (*pixFormatMplane)(unsafe.Pointer(&f.raw[0]))
}

// requestBuffers mirrors struct v4l2_requestbuffers.
type requestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Flags        uint8
	Reserved     [3]uint8
}

// plane mirrors struct v4l2_plane; the 8-byte m union holds either a
// mem_offset (mmap mode) or an fd (DMA-imported mode).
type plane struct {
	BytesUsed  uint32
	Length     uint32
	m          [8]byte
	DataOffset uint32
	Reserved   [11]uint32
}

func (p *plane) memOffset() uint32     { return *(*uint32)(unsafe.Pointer(&p.m[0])) }
func (p *plane) setMemOffset(v uint32) { *(*uint32)(unsafe.Pointer(&p.m[0])) = v }
func (p *plane) fd() int32             { return *(*int32)(unsafe.Pointer(&p.m[0])) }
func (p *plane) setFD(v int32)         { *(*int32)(unsafe.Pointer(&p.m[0])) = v }

// timecode mirrors struct v4l2_timecode, embedded (unused) in v4l2_buffer.
type timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

// bufferMplane mirrors struct v4l2_buffer as used for multi-planar queues:
// the m union holds a pointer to a []plane array of Length entries
// instead of a single offset.
type bufferMplane struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Timestamp unix.Timeval
	Timecode  timecode
	Sequence  uint32
	Memory    uint32
	planesPtr uintptr // union m: __u64 planes
	Length    uint32  // number of planes for mplane types
	Reserved2 uint32
	RequestFD int32
}

// extControl mirrors struct v4l2_ext_control for compound (pointer-based)
// controls: ID/Size describe the payload the kernel reads from/writes to
// the memory Ptr references.
type extControl struct {
	ID       uint32
	Size     uint32
	reserved uint32
	ptr      unsafe.Pointer
}

// extControls mirrors struct v4l2_ext_controls.
type extControls struct {
	CtrlClass uint32
	Count     uint32
	ErrorIdx  uint32
	RequestFD int32
	reserved  [1]uint32
	controls  unsafe.Pointer // *extControl array
}

// Extended-control class and IDs for the stateless H.264 codec controls
// (include/uapi/linux/v4l2-controls.h V4L2_CID_STATELESS_H264_*).
const (
	ctrlClassCodecStateless uint32 = 0x00a30000
	ctrlCodecStatelessBase  uint32 = ctrlClassCodecStateless | 0x900

	CIDStatelessH264SPS           = ctrlCodecStatelessBase + 0
	CIDStatelessH264PPS           = ctrlCodecStatelessBase + 1
	CIDStatelessH264ScalingMatrix = ctrlCodecStatelessBase + 2
	CIDStatelessH264DecodeMode    = ctrlCodecStatelessBase + 3
	CIDStatelessH264SliceParams   = ctrlCodecStatelessBase + 4
	CIDStatelessH264StartCode     = ctrlCodecStatelessBase + 5
	CIDStatelessH264DecodeParams  = ctrlCodecStatelessBase + 6
)

// Decode-mode and start-code control values.
const (
	H264DecodeModeFrameBased = 1
	H264StartCodeAnnexB      = 1
)
