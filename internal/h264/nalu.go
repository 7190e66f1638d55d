// Package h264 parses an Annex-B H.264 elementary stream: NAL unit framing,
// and the SPS/PPS/slice-header parameter sets the V4L2 stateless decoder
// control payloads are built from.
package h264

import (
	"context"
	"errors"
	"io"
)

// NAL unit types named in the H.264 Annex-B syntax that this core
// recognizes; everything else is passed through with its raw type value
// and ignored by the coordinator.
const (
	NALTypeSlice = 1
	NALTypeIDR   = 5
	NALTypeSEI   = 6
	NALTypeSPS   = 7
	NALTypePPS   = 8
	NALTypeAUD   = 9
)

// NAL is a value object holding one NAL unit's raw bytes (header byte plus
// RBSP payload, with emulation-prevention bytes still present and any
// Annex-B start code stripped).
type NAL struct {
	Type    byte   // 5-bit nal_unit_type
	RefIDC  byte   // 2-bit nal_ref_idc
	Payload []byte // includes the header byte at Payload[0]
}

// RBSP returns the payload with the leading header byte removed and
// emulation-prevention bytes unescaped, i.e. the raw bits a parameter-set or
// slice-header parser reads from. The encoder inserts an 0x03 byte after
// every 00 00 pair that would otherwise collide with a start code; any real
// bitstream can contain such a run before the field a parser is after, so it
// must be undone before any bit-level read, not just at NAL-splitting time.
func (n NAL) RBSP() []byte {
	if len(n.Payload) == 0 {
		return nil
	}
	return removeEmulationPrevention(n.Payload[1:])
}

// removeEmulationPrevention strips 0x03 emulation-prevention bytes from an
// escaped RBSP, collapsing 00 00 03 -> 00 00 wherever the byte following the
// 03 is itself 0x00-0x03 (the only sequences the escaper ever inserts one
// for).
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}

// IsReference reports whether nal_ref_idc marks this NAL as a reference
// picture's slice (non-zero).
func (n NAL) IsReference() bool {
	return n.RefIDC > 0
}

// DefaultChunkSize is the read buffer size used by Splitter when pulling
// from its upstream io.Reader, per §6's "64 KiB is a reasonable default".
const DefaultChunkSize = 64 * 1024

// DefaultQueueDepth bounds the splitter's internal NAL unit channel,
// providing backpressure against a producer that outruns the consumer.
const DefaultQueueDepth = 32

// Splitter scans an Annex-B byte stream for start codes (0x000001 and
// 0x00000001) and emits NAL units as a finite, lazily-produced sequence.
// A NAL unit is the byte range between consecutive start codes (or between
// a start code and end of stream); because the last byte of a NAL unit is
// only known once the next marker (or stream close) is seen, a NAL is
// emitted one marker "behind" the scan position.
type Splitter struct {
	src   io.Reader
	chunk int
	out   chan NAL
	errCh chan error
}

// NewSplitter creates a Splitter reading Annex-B bytes from src. chunkSize
// of 0 uses DefaultChunkSize, and queueDepth of 0 uses DefaultQueueDepth.
func NewSplitter(src io.Reader, chunkSize, queueDepth int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Splitter{
		src:   src,
		chunk: chunkSize,
		out:   make(chan NAL, queueDepth),
		errCh: make(chan error, 1),
	}
}

// NALUs returns the channel NAL units are delivered on. It is closed when
// Run returns, after every trailing NAL unit has been emitted.
func (s *Splitter) NALUs() <-chan NAL {
	return s.out
}

// Run reads from src until io.EOF or ctx cancellation, emitting NAL units
// to the NALUs() channel as soon as each one's end is known. It is meant
// to run on its own goroutine (the "producer thread" of §5); the decoder
// thread drains NALUs() as the consumer.
func (s *Splitter) Run(ctx context.Context) error {
	defer close(s.out)

	var buf []byte
	readBuf := make([]byte, s.chunk)

	emit := func(b []byte) bool {
		if len(b) == 0 {
			return true
		}
		nal := NAL{
			Type:    b[0] & 0x1F,
			RefIDC:  (b[0] >> 5) & 0x3,
			Payload: append([]byte(nil), b...),
		}
		select {
		case s.out <- nal:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := s.src.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)

			var rem []byte
			buf, rem = splitComplete(buf, emit)
			if rem != nil {
				// emit returned false: context was cancelled mid-scan.
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Drain the residual buffer as the final NAL unit, if any.
				if start, ok := findStartCode(buf, 0); ok {
					emit(buf[start:])
				}
				return nil
			}
			return err
		}
	}
}

// splitComplete scans buf for NAL units whose end has become known (i.e.
// everything up to the last start code found), emitting each and
// returning the unconsumed remainder (from the last start code onward) as
// the new buf. If emit signals cancellation it returns a non-nil rem
// sentinel in the second position purely to short-circuit the caller.
func splitComplete(buf []byte, emit func([]byte) bool) (newBuf []byte, cancelled []byte) {
	positions := startCodePositions(buf)
	if len(positions) < 2 {
		return buf, nil
	}

	for i := 0; i < len(positions)-1; i++ {
		nalStart := positions[i].dataStart
		nalEnd := positions[i+1].scStart
		if nalStart < nalEnd {
			if !emit(buf[nalStart:nalEnd]) {
				return nil, []byte{0}
			}
		}
	}

	last := positions[len(positions)-1]
	return buf[last.scStart:], nil
}

type scPos struct {
	scStart   int
	dataStart int
}

// startCodePositions returns every 3- or 4-byte start code found in buf,
// in order.
func startCodePositions(buf []byte) []scPos {
	var positions []scPos
	n := len(buf)
	i := 0
	for i+2 < n {
		if buf[i] == 0 && buf[i+1] == 0 {
			if i+3 < n && buf[i+2] == 0 && buf[i+3] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 4})
				i += 4
				continue
			}
			if buf[i+2] == 1 {
				positions = append(positions, scPos{scStart: i, dataStart: i + 3})
				i += 3
				continue
			}
		}
		i++
	}
	return positions
}

// findStartCode locates the first start code at or after from, returning
// the offset of the byte immediately following it.
func findStartCode(buf []byte, from int) (int, bool) {
	positions := startCodePositions(buf)
	for _, p := range positions {
		if p.scStart >= from {
			return p.dataStart, true
		}
	}
	return 0, false
}
