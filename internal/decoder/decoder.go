// Package decoder implements the stateless H.264 decoder coordinator
// (§4.I): it owns the device, the output and capture queues, the stream
// parameter state, and the DPB, and drives a byte stream through to
// decoded frames delivered on the caller's callback.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
	"unsafe"

	"github.com/zsiec/h264dec/internal/dpb"
	"github.com/zsiec/h264dec/internal/h264"
	"github.com/zsiec/h264dec/internal/v4l2"
	"github.com/zsiec/h264dec/internal/v4l2uapi"
)

// DrainSleep is the pause between zero-progress reclaim attempts during
// drain (§5 "Timeouts").
const DrainSleep = 10 * time.Millisecond

// DrainMaxIdleAttempts bounds how many consecutive zero-progress drain
// iterations are tolerated before giving up (≈2s wall-clock at
// DrainSleep's cadence).
const DrainMaxIdleAttempts = 200

// device is the subset of *v4l2.Device the coordinator needs. Defined as
// an interface so tests can substitute a fake that never touches a real
// character device.
type device interface {
	SetFormat(bufType, width, height, pixelFormat uint32) (numPlanes int, planeSizes []uint32, err error)
	SetExtControl(reqFD int32, id, size uint32, payload unsafe.Pointer) error
	TryExtControl(id, size uint32, payload unsafe.Pointer) bool
	Close() error
}

// outputQueue is the subset of *v4l2.OutputQueue the coordinator needs.
type outputQueue interface {
	Initialize(memory uint32, count uint32, numPlanes int) error
	AssociateMediaRequests(reqPool v4l2.RequestSource, blockWhenExhausted bool)
	AcquireMediaRequest(ctx context.Context) (int32, error)
	WriteAndEnqueue(ctx context.Context, bytes []byte, reqFD int32) error
	ReclaimProcessed() (int, error)
	StreamOn() error
	StreamOff() error
	Unmap() error
}

// captureQueue is the subset of *v4l2.CaptureQueue the coordinator needs.
type captureQueue interface {
	Initialize(memory uint32, count uint32, numPlanes int) error
	EnqueueAll() error
	StreamOn() error
	StreamOff() error
	Start(ctx context.Context, deliver v4l2.DeliverFunc)
	Stop()
	Unmap() error
}

// requestPool is the subset of *v4l2.RequestPool the coordinator needs.
type requestPool interface {
	v4l2.RequestSource
	FreeCount() int
	Close() error
}

// DeliverFunc receives a decoded frame's plane views, synchronously, on
// the capture worker's goroutine (§6 "Output produced"). The view is
// valid only for the duration of the call.
type DeliverFunc func(planes [][]byte, sequence uint32)

// Stats is a snapshot of the coordinator's progress counters, useful for
// tests and for logging at teardown.
type Stats struct {
	FramesDelivered uint64
	Warnings        uint64
}

// Decoder is the stateless H.264 decoder coordinator (§4.I). It is not
// safe for concurrent use by more than one caller of Run.
type Decoder struct {
	dev      device
	output   outputQueue
	capture  captureQueue
	requests requestPool

	cfg Config
	log *slog.Logger

	stream *h264.StreamState
	dpb    *dpb.DPB

	deliver DeliverFunc

	framesDelivered uint64
	warnings        uint64
}

// New constructs a Decoder over already-open device/queue/request-pool
// handles. Production callers use Open (below); tests construct a
// Decoder directly with fakes satisfying the device/outputQueue/
// captureQueue/requestPool interfaces.
func New(dev device, output outputQueue, capture captureQueue, requests requestPool, cfg Config, log *slog.Logger, deliver DeliverFunc) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{
		dev:      dev,
		output:   output,
		capture:  capture,
		requests: requests,
		cfg:      cfg,
		log:      log.With("component", "decoder"),
		stream:   h264.NewStreamState(),
		dpb:      dpb.New(0),
		deliver:  deliver,
	}
}

// Open opens a V4L2 M2M device node and wires up a production Decoder:
// real Device, OutputQueue, CaptureQueue, and RequestPool.
func Open(devicePath string, cfg Config, log *slog.Logger, deliver DeliverFunc) (*Decoder, error) {
	dev, err := v4l2.Open(devicePath)
	if err != nil {
		return nil, err
	}

	output := v4l2.NewOutputQueue(dev)
	capture := v4l2.NewCaptureQueue(dev, log)
	requests, err := v4l2.NewRequestPool(dev, cfg.RequestPoolSize)
	if err != nil {
		dev.Close()
		return nil, err
	}

	return New(dev, output, capture, requests, cfg, log, deliver), nil
}

// Initialize performs §4.I.1: format negotiation, decode-mode and
// start-code controls, buffer/request allocation, and stream-on for both
// queues plus the capture worker.
func (d *Decoder) Initialize(ctx context.Context) error {
	outPlanes, _, err := d.dev.SetFormat(v4l2.BufTypeVideoOutputMplane, d.cfg.InitialWidth, d.cfg.InitialHeight, v4l2.PixFmtH264Slice)
	if err != nil {
		return fmt.Errorf("set output format: %w", err)
	}
	capPlanes, _, err := d.dev.SetFormat(v4l2.BufTypeVideoCaptureMplane, d.cfg.InitialWidth, d.cfg.InitialHeight, d.cfg.PreferredPixelFormat)
	if err != nil {
		return fmt.Errorf("set capture format: %w", err)
	}

	decodeMode := uint32(v4l2.H264DecodeModeFrameBased)
	if err := d.dev.SetExtControl(-1, v4l2.CIDStatelessH264DecodeMode, uint32(unsafe.Sizeof(decodeMode)), unsafe.Pointer(&decodeMode)); err != nil {
		return fmt.Errorf("set decode mode frame-based (required): %w", err)
	}
	startCode := uint32(v4l2.H264StartCodeAnnexB)
	if err := d.dev.SetExtControl(-1, v4l2.CIDStatelessH264StartCode, uint32(unsafe.Sizeof(startCode)), unsafe.Pointer(&startCode)); err != nil {
		return fmt.Errorf("set start code annex-b: %w", err)
	}

	if err := d.output.Initialize(v4l2.MemoryMMAP, d.cfg.OutputBufferCount, outPlanes); err != nil {
		return fmt.Errorf("initialize output queue: %w", err)
	}
	d.output.AssociateMediaRequests(d.requests, true)

	if err := d.capture.Initialize(v4l2.MemoryMMAP, d.cfg.CaptureBufferCount, capPlanes); err != nil {
		return fmt.Errorf("initialize capture queue: %w", err)
	}
	if err := d.capture.EnqueueAll(); err != nil {
		return fmt.Errorf("enqueue capture buffers: %w", err)
	}

	if err := d.output.StreamOn(); err != nil {
		return fmt.Errorf("stream on output: %w", err)
	}
	if err := d.capture.StreamOn(); err != nil {
		return fmt.Errorf("stream on capture: %w", err)
	}

	d.capture.Start(ctx, func(planes [][]byte, sequence uint32) {
		d.framesDelivered++
		d.deliver(planes, sequence)
	})

	return nil
}

// Run drives bytes from src through the NALU splitter and into per-NALU
// dispatch until src is exhausted, then drains and tears down. This is
// the top-level decode call §6/§7 describe: cancellation via ctx
// surfaces as a nil error, not a propagated Cancelled.
func (d *Decoder) Run(ctx context.Context, src io.Reader) error {
	if err := d.Initialize(ctx); err != nil {
		d.teardown()
		return err
	}

	splitter := h264.NewSplitter(src, 0, 0)
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- splitter.Run(ctx) }()

	for nal := range splitter.NALUs() {
		d.dispatch(ctx, nal)
		if ctx.Err() != nil {
			break
		}
	}

	if err := <-runErrCh; err != nil && !errors.Is(err, context.Canceled) {
		d.teardown()
		return err
	}

	if ctx.Err() == nil {
		d.drain(ctx)
	}
	d.teardown()
	return nil
}

// dispatch implements §4.I.2: SPS/PPS NALs are parsed and stored; slice
// NALs with first_mb_in_slice != 0 are dropped; everything else reaches
// submitFrame.
func (d *Decoder) dispatch(ctx context.Context, nal h264.NAL) {
	switch nal.Type {
	case h264.NALTypeSPS:
		sps, err := h264.ParseSPS(nal.RBSP())
		if err != nil {
			d.warn("malformed SPS", err)
			return
		}
		d.stream.PutSPS(sps)

	case h264.NALTypePPS:
		rbsp := nal.RBSP()
		chromaFormatIDC := uint32(1) // 4:2:0 default when no SPS is linked yet
		if _, spsID, err := h264.PeekPPSIDs(rbsp); err == nil {
			if sps, err := d.stream.SPS(spsID); err == nil {
				chromaFormatIDC = sps.ChromaFormatIDC
			}
		}

		pps, err := h264.ParsePPS(rbsp, chromaFormatIDC)
		if err != nil {
			d.warn("malformed PPS", err)
			return
		}
		d.stream.PutPPS(pps)

	case h264.NALTypeSlice, h264.NALTypeIDR:
		firstMb, ppsID, err := h264.PeekSliceHeaderIDs(nal.RBSP(), nal)
		if err != nil {
			d.warn("malformed slice header", err)
			return
		}
		if firstMb != 0 {
			// Non-initial slice of a picture: frame-based mode expects one
			// slice per access unit.
			return
		}

		sps, pps, err := d.stream.SPSForPPS(ppsID)
		if err != nil {
			d.warn("slice references unknown parameter set", err)
			return
		}

		header, err := h264.ParseSliceHeader(nal.RBSP(), nal, sps, pps)
		if err != nil {
			d.warn("malformed slice", err)
			return
		}

		if err := d.submitFrame(ctx, nal, sps, pps, header); err != nil {
			if errors.Is(err, v4l2.Cancelled) {
				return
			}
			d.warn("submit-frame failed", err)
		}
	}
}

// submitFrame implements §4.I.3 steps a-g.
func (d *Decoder) submitFrame(ctx context.Context, nal h264.NAL, sps h264.SPS, pps h264.PPS, header h264.SliceHeader) error {
	if _, err := d.output.ReclaimProcessed(); err != nil {
		return err
	}

	d.dpb.SetMaxSize(sps.MaxNumRefFrames)

	reqFD, err := d.output.AcquireMediaRequest(ctx)
	if err != nil {
		return err
	}

	ppsPayload := v4l2uapi.MapPPS(pps)
	if err := d.dev.SetExtControl(reqFD, v4l2.CIDStatelessH264PPS, uint32(unsafe.Sizeof(ppsPayload)), unsafe.Pointer(&ppsPayload)); err != nil {
		return err
	}

	spsPayload := v4l2uapi.MapSPS(sps)
	if err := d.dev.SetExtControl(reqFD, v4l2.CIDStatelessH264SPS, uint32(unsafe.Sizeof(spsPayload)), unsafe.Pointer(&spsPayload)); err != nil {
		return err
	}

	slicePayload := v4l2uapi.MapSliceParams(header, uint32(len(nal.Payload))*8)
	if d.dev.TryExtControl(v4l2.CIDStatelessH264SliceParams, uint32(unsafe.Sizeof(slicePayload)), unsafe.Pointer(&slicePayload)) {
		if err := d.dev.SetExtControl(reqFD, v4l2.CIDStatelessH264SliceParams, uint32(unsafe.Sizeof(slicePayload)), unsafe.Pointer(&slicePayload)); err != nil {
			return err
		}
	}

	decodePayload := v4l2uapi.MapDecodeParams(header, nal.RefIDC, header.IsIDR, d.dpb.Entries())
	if err := d.dev.SetExtControl(reqFD, v4l2.CIDStatelessH264DecodeParams, uint32(unsafe.Sizeof(decodePayload)), unsafe.Pointer(&decodePayload)); err != nil {
		return err
	}

	if err := d.output.WriteAndEnqueue(ctx, nal.Payload, reqFD); err != nil {
		return err
	}

	if err := v4l2.MediaRequestQueue(reqFD); err != nil {
		return err
	}

	if header.IsIDR {
		d.dpb.Clear()
	}
	if nal.RefIDC > 0 {
		d.dpb.Append(dpb.Entry{
			FrameNum:    header.FrameNum,
			PicOrderCnt: header.PicOrderCntLsb,
			IsReference: true,
		})
	}

	return nil
}

// drain implements §4.I.4: poll for completions with a fixed idle sleep,
// resetting the idle counter on any progress, giving up after
// DrainMaxIdleAttempts consecutive zero-progress iterations.
func (d *Decoder) drain(ctx context.Context) {
	start := time.Now()
	idle := 0
	for idle < DrainMaxIdleAttempts {
		if ctx.Err() != nil {
			return
		}
		n, err := d.output.ReclaimProcessed()
		if err != nil {
			d.warn("drain reclaim failed", err)
			return
		}
		if n > 0 {
			idle = 0
		} else {
			idle++
		}
		time.Sleep(DrainSleep)
	}
	d.log.Info("drain complete", "elapsed", time.Since(start), "frames", d.framesDelivered)
}

// teardown implements §4.I.5.
func (d *Decoder) teardown() {
	d.capture.Stop()
	if err := d.output.StreamOff(); err != nil {
		d.log.Warn("stream off output failed", "error", err)
	}
	if err := d.capture.StreamOff(); err != nil {
		d.log.Warn("stream off capture failed", "error", err)
	}
	if err := d.output.Unmap(); err != nil {
		d.log.Warn("unmap output failed", "error", err)
	}
	if err := d.capture.Unmap(); err != nil {
		d.log.Warn("unmap capture failed", "error", err)
	}
	if err := d.requests.Close(); err != nil {
		d.log.Warn("close request pool failed", "error", err)
	}
	if err := d.dev.Close(); err != nil {
		d.log.Warn("close device failed", "error", err)
	}
}

// warn logs a recoverable per-NAL error at WARN and counts it, per §7's
// "recoverable errors are confined to per-NAL handling and logged at
// WARN".
func (d *Decoder) warn(msg string, err error) {
	d.warnings++
	d.log.Warn(msg, "error", err)
}

// Stats returns a snapshot of the coordinator's progress counters.
func (d *Decoder) Stats() Stats {
	return Stats{FramesDelivered: d.framesDelivered, Warnings: d.warnings}
}
