package decoder

import "github.com/zsiec/h264dec/internal/v4l2"

// Config holds the decoder coordinator's construction-time parameters
// (§6 "Configuration"). Every field has a documented default; the zero
// value of Config is not a usable configuration — use DefaultConfig and
// override only the fields that matter to the caller.
type Config struct {
	InitialWidth         uint32
	InitialHeight        uint32
	PreferredPixelFormat uint32
	OutputBufferCount    uint32
	CaptureBufferCount   uint32
	RequestPoolSize      int
}

// DefaultConfig returns the spec's documented defaults: 1920x1080,
// NV12, 16 output buffers, 16 capture buffers, a 32-request pool.
func DefaultConfig() Config {
	return Config{
		InitialWidth:         1920,
		InitialHeight:        1080,
		PreferredPixelFormat: v4l2.PixFmtNV12,
		OutputBufferCount:    16,
		CaptureBufferCount:   16,
		RequestPoolSize:      32,
	}
}
