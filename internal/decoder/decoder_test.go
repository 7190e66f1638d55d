package decoder

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/zsiec/h264dec/internal/bitio"
	"github.com/zsiec/h264dec/internal/h264"
	"github.com/zsiec/h264dec/internal/v4l2"
)

// fakeRig is a single in-process stand-in for the device, output queue,
// capture queue, and request pool: enough to exercise the coordinator's
// dispatch/submit/drain/teardown logic without any real ioctl/mmap calls.
// Hardware completion is modeled as instantaneous: WriteAndEnqueue hands
// each frame to the capture worker's delivery channel in submission order,
// and every enqueued buffer is immediately eligible for reclaim.
type fakeRig struct {
	mu sync.Mutex

	outputBufferCount int
	outputInFlight    int

	requestPoolSize int
	freeRequests    int
	nextReqFD       int32

	sliceParamsSupported bool

	delivered []deliveredFrame
	readyCh   chan frameSubmission

	workerCancel context.CancelFunc
	workerDone   chan struct{}

	closed bool
}

type frameSubmission struct {
	isIDR    bool
	sequence uint32
}

type deliveredFrame struct {
	isIDR    bool
	sequence uint32
}

func newFakeRig(outputBufferCount, requestPoolSize int) *fakeRig {
	return &fakeRig{
		outputBufferCount: outputBufferCount,
		requestPoolSize:   requestPoolSize,
		freeRequests:      requestPoolSize,
		readyCh:           make(chan frameSubmission, 4096),
	}
}

// device interface.

func (r *fakeRig) SetFormat(bufType, width, height, pixelFormat uint32) (int, []uint32, error) {
	return 2, []uint32{width * height, width * height / 2}, nil
}

func (r *fakeRig) SetExtControl(reqFD int32, id, size uint32, payload unsafe.Pointer) error {
	return nil
}

func (r *fakeRig) TryExtControl(id, size uint32, payload unsafe.Pointer) bool {
	return r.sliceParamsSupported
}

func (r *fakeRig) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// outputQueue interface.

func (r *fakeRig) Initialize(memory uint32, count uint32, numPlanes int) error { return nil }

func (r *fakeRig) AssociateMediaRequests(reqPool v4l2.RequestSource, blockWhenExhausted bool) {}

func (r *fakeRig) AcquireMediaRequest(ctx context.Context) (int32, error) {
	for {
		r.mu.Lock()
		if r.freeRequests > 0 {
			r.freeRequests--
			fd := r.nextReqFD
			r.nextReqFD++
			r.mu.Unlock()
			return fd, nil
		}
		r.mu.Unlock()
		if ctx.Err() != nil {
			return -1, v4l2.Cancelled
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *fakeRig) WriteAndEnqueue(ctx context.Context, payload []byte, reqFD int32) error {
	for {
		r.mu.Lock()
		if r.outputInFlight < r.outputBufferCount {
			r.outputInFlight++
			isIDR := len(payload) > 0 && (payload[0]&0x1F) == h264.NALTypeIDR
			seq := uint32(len(r.delivered) + r.outputInFlight)
			r.readyCh <- frameSubmission{isIDR: isIDR, sequence: seq}
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()
		if ctx.Err() != nil {
			return v4l2.Cancelled
		}
		time.Sleep(time.Millisecond)
	}
}

func (r *fakeRig) ReclaimProcessed() (int, error) {
	r.mu.Lock()
	n := r.outputInFlight
	r.outputInFlight = 0
	r.freeRequests += n
	r.mu.Unlock()
	return n, nil
}

func (r *fakeRig) StreamOn() error  { return nil }
func (r *fakeRig) StreamOff() error { return nil }
func (r *fakeRig) Unmap() error     { return nil }

// captureQueue interface.

func (r *fakeRig) EnqueueAll() error { return nil }

func (r *fakeRig) Start(ctx context.Context, deliver v4l2.DeliverFunc) {
	workerCtx, cancel := context.WithCancel(ctx)
	r.workerCancel = cancel
	r.workerDone = make(chan struct{})
	record := func(f frameSubmission) {
		deliver([][]byte{[]byte("frame")}, f.sequence)
		r.mu.Lock()
		r.delivered = append(r.delivered, deliveredFrame{isIDR: f.isIDR, sequence: f.sequence})
		r.mu.Unlock()
	}

	go func() {
		defer close(r.workerDone)
		for {
			select {
			case f := <-r.readyCh:
				record(f)
				continue
			default:
			}
			select {
			case <-workerCtx.Done():
				// Flush whatever is already buffered before exiting, the
				// same way a real capture worker delivers frames already
				// dequeued before stream_off tears down the queue.
				for {
					select {
					case f := <-r.readyCh:
						record(f)
					default:
						return
					}
				}
			case f := <-r.readyCh:
				record(f)
			}
		}
	}()
}

func (r *fakeRig) Stop() {
	if r.workerCancel == nil {
		return
	}
	r.workerCancel()
	select {
	case <-r.workerDone:
	case <-time.After(2 * time.Second):
	}
}

// requestPool interface.

func (r *fakeRig) Acquire() (int32, error) { return r.AcquireMediaRequest(context.Background()) }
func (r *fakeRig) Release(fd int32) error {
	r.mu.Lock()
	r.freeRequests++
	r.mu.Unlock()
	return nil
}
func (r *fakeRig) FreeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freeRequests
}
func (r *fakeRig) deliveredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}

// --- bitstream fixtures ---

func annexBNAL(header byte, rbsp []byte) []byte {
	out := []byte{0, 0, 0, 1, header}
	return append(out, rbsp...)
}

func buildTestSPS() []byte {
	w := bitio.NewWriter(32)
	w.WriteBits(66, 8) // profile_idc: baseline
	w.WriteBits(0, 8)  // constraint_set_flags
	w.WriteBits(30, 8) // level_idc
	w.WriteUE(0)       // seq_parameter_set_id
	w.WriteUE(0)       // log2_max_frame_num_minus4
	w.WriteUE(0)       // pic_order_cnt_type
	w.WriteUE(5)       // log2_max_pic_order_cnt_lsb_minus4
	w.WriteUE(4)       // max_num_ref_frames
	w.WriteBit(0)      // gaps_in_frame_num_value_allowed_flag
	w.WriteUE(79)       // pic_width_in_mbs_minus1 (1280/16 - 1)
	w.WriteUE(44)       // pic_height_in_map_units_minus1 (720/16 - 1)
	w.WriteBit(1)      // frame_mbs_only_flag
	w.WriteBit(0)      // direct_8x8_inference_flag
	w.WriteBit(0)      // frame_cropping_flag
	w.ByteAlign()
	return w.Bytes()
}

func buildTestPPS(ppsID, spsID uint32) []byte {
	w := bitio.NewWriter(16)
	w.WriteUE(ppsID)
	w.WriteUE(spsID)
	w.WriteBit(0) // entropy_coding_mode_flag
	w.WriteBit(0) // bottom_field_pic_order_in_frame_present_flag
	w.WriteUE(0)  // num_slice_groups_minus1
	w.WriteUE(0)  // num_ref_idx_l0_default_active_minus1
	w.WriteUE(0)  // num_ref_idx_l1_default_active_minus1
	w.WriteBit(0) // weighted_pred_flag
	w.WriteBits(0, 2) // weighted_bipred_idc
	w.WriteSE(0)  // pic_init_qp_minus26
	w.WriteSE(0)  // pic_init_qs_minus26
	w.WriteSE(0)  // chroma_qp_index_offset
	w.WriteBit(0) // deblocking_filter_control_present_flag
	w.WriteBit(0) // constrained_intra_pred_flag
	w.WriteBit(0) // redundant_pic_cnt_present_flag
	w.ByteAlign()
	return w.Bytes()
}

func buildSliceRBSP(ppsID uint32, frameNum uint32, isIDR bool) []byte {
	w := bitio.NewWriter(16)
	w.WriteUE(0)     // first_mb_in_slice
	w.WriteUE(2)     // slice_type: I
	w.WriteUE(ppsID) // pic_parameter_set_id
	w.WriteBits(frameNum, 4) // frame_num (log2_max_frame_num_minus4+4 == 4)
	if isIDR {
		w.WriteUE(0) // idr_pic_id
	}
	w.WriteBits(1, 9) // pic_order_cnt_lsb (log2_max_pic_order_cnt_lsb_minus4+4 == 9)
	if isIDR {
		w.WriteBit(0) // no_output_of_prior_pics_flag
		w.WriteBit(0) // long_term_reference_flag
	} else {
		w.WriteBit(0) // adaptive_ref_pic_marking_mode_flag (ref_idc != 0 in all fixtures)
	}
	w.WriteSE(0) // slice_qp_delta
	w.ByteAlign()
	return w.Bytes()
}

func buildStream(nIDR, nP int, spsID, ppsID uint32) []byte {
	var buf bytes.Buffer
	buf.Write(annexBNAL(0x67, buildTestSPS()))
	buf.Write(annexBNAL(0x68, buildTestPPS(ppsID, spsID)))
	for i := 0; i < nIDR; i++ {
		rbsp := buildSliceRBSP(ppsID, uint32(i), true)
		buf.Write(annexBNAL(0x65, rbsp))
	}
	for i := 0; i < nP; i++ {
		rbsp := buildSliceRBSP(ppsID, uint32(nIDR+i), false)
		buf.Write(annexBNAL(0x41, rbsp))
	}
	return buf.Bytes()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestDecoder(rig *fakeRig, deliver DeliverFunc) *Decoder {
	cfg := DefaultConfig()
	cfg.OutputBufferCount = uint32(rig.outputBufferCount)
	cfg.RequestPoolSize = rig.requestPoolSize
	return New(rig, rig, rig, rig, cfg, discardLogger(), deliver)
}

func TestDecoderIDROnlyClipDeliversAllFrames(t *testing.T) {
	rig := newFakeRig(8, 32)
	stream := buildStream(30, 0, 0, 0)
	d := newTestDecoder(rig, func(planes [][]byte, seq uint32) {})

	if err := d.Run(context.Background(), bytes.NewReader(stream)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := d.Stats()
	if stats.Warnings != 0 {
		t.Fatalf("unexpected warnings: %d", stats.Warnings)
	}
	if stats.FramesDelivered != 30 {
		t.Fatalf("FramesDelivered = %d, want 30", stats.FramesDelivered)
	}
	if rig.deliveredCount() != 30 {
		t.Fatalf("rig delivered %d frames, want 30", rig.deliveredCount())
	}
}

func TestDecoderDPBProgressionGOP15(t *testing.T) {
	rig := newFakeRig(8, 32)
	d := newTestDecoder(rig, func(planes [][]byte, seq uint32) {})

	stream := buildStream(1, 14, 0, 0)
	if err := d.Run(context.Background(), bytes.NewReader(stream)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := d.Stats().FramesDelivered; got != 15 {
		t.Fatalf("FramesDelivered = %d, want 15", got)
	}
	if got := d.dpb.Size(); got != 4 {
		t.Fatalf("DPB size after 15 reference frames = %d, want max_num_ref_frames = 4", got)
	}
}

func TestDecoderUnknownPPSWarnsAndDropsSlice(t *testing.T) {
	rig := newFakeRig(8, 32)
	d := newTestDecoder(rig, func(planes [][]byte, seq uint32) {})

	var buf bytes.Buffer
	// Slice referencing PPS 9, which is never sent.
	buf.Write(annexBNAL(0x65, buildSliceRBSP(9, 0, true)))
	buf.Write(annexBNAL(0x67, buildTestSPS()))
	buf.Write(annexBNAL(0x68, buildTestPPS(0, 0)))
	buf.Write(annexBNAL(0x65, buildSliceRBSP(0, 1, true)))

	if err := d.Run(context.Background(), bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := d.Stats()
	if stats.Warnings != 1 {
		t.Fatalf("Warnings = %d, want 1", stats.Warnings)
	}
	if stats.FramesDelivered != 1 {
		t.Fatalf("FramesDelivered = %d, want 1", stats.FramesDelivered)
	}
}

func TestDecoderBufferStarvationNeverErrors(t *testing.T) {
	rig := newFakeRig(2, 32)
	d := newTestDecoder(rig, func(planes [][]byte, seq uint32) {})

	stream := buildStream(100, 0, 0, 0)
	if err := d.Run(context.Background(), bytes.NewReader(stream)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := d.Stats().FramesDelivered; got != 100 {
		t.Fatalf("FramesDelivered = %d, want 100", got)
	}
}

func TestDecoderMidStreamCancellationReturnsPromptly(t *testing.T) {
	rig := newFakeRig(8, 32)
	d := newTestDecoder(rig, func(planes [][]byte, seq uint32) {})

	stream := buildStream(1000, 0, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, bytes.NewReader(stream)) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel: %v", err)
		}
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("Run did not return within 2.5s of cancellation")
	}
}

func TestDecoderTruncatedSliceWarnsAndLeavesStateUnchanged(t *testing.T) {
	rig := newFakeRig(8, 32)
	d := newTestDecoder(rig, func(planes [][]byte, seq uint32) {})

	var buf bytes.Buffer
	buf.Write(annexBNAL(0x67, buildTestSPS()))
	buf.Write(annexBNAL(0x68, buildTestPPS(0, 0)))
	buf.Write(annexBNAL(0x65, []byte{0x01})) // truncated slice: far too few bits

	if err := d.Run(context.Background(), bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := d.Stats()
	if stats.Warnings != 1 {
		t.Fatalf("Warnings = %d, want 1", stats.Warnings)
	}
	if stats.FramesDelivered != 0 {
		t.Fatalf("FramesDelivered = %d, want 0", stats.FramesDelivered)
	}
	if d.dpb.Size() != 0 {
		t.Fatalf("DPB size = %d, want 0 (state must be unchanged)", d.dpb.Size())
	}
}
