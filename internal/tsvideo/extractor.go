package tsvideo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
)

const streamTypeH264 = 0x1B

// ErrNoVideoPID describes a stream whose PMT (if one ever arrived) named
// no H.264 elementary stream. Run does not return it: in that case Run
// logs a warning at end of input and returns nil.
var ErrNoVideoPID = errors.New("tsvideo: no H.264 elementary stream found in PMT")

// Extractor reads a raw MPEG-TS byte stream and republishes only the
// H.264 elementary stream's payload bytes on Reader, discarding every
// other PID: audio, captions, SCTE-35, other video tracks, other
// programs. It implements just enough MPEG-TS demuxing to follow one
// path through the multiplex — PAT PID 0 -> PMT -> first stream_type
// 0x1B entry -> that PID's PES payloads — not the general N-PID,
// N-program, N-track demuxer a distribution-side system would need.
type Extractor struct {
	log *slog.Logger
	src io.Reader
	pr  *io.PipeReader
	pw  *io.PipeWriter

	pmtPID   uint16 // 0 until learned from the PAT
	videoPID uint16 // 0 until learned from the PMT
	accs     map[uint16]*accumulator
}

// NewExtractor constructs an Extractor reading src. If log is nil,
// slog.Default() is used.
func NewExtractor(src io.Reader, log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	pr, pw := io.Pipe()
	return &Extractor{
		log:  log.With("component", "tsvideo"),
		src:  src,
		pr:   pr,
		pw:   pw,
		accs: make(map[uint16]*accumulator),
	}
}

// Reader returns the byte stream Run populates.
func (e *Extractor) Reader() io.Reader {
	return e.pr
}

// Run demuxes src until it is exhausted or ctx is cancelled, writing
// extracted H.264 bytes to Reader as they're found. It closes the pipe
// writer on return, which unblocks any pending Read on Reader.
func (e *Extractor) Run(ctx context.Context) error {
	err := e.run(ctx)
	if err != nil {
		e.pw.CloseWithError(err)
		return err
	}
	e.pw.Close()
	return nil
}

func (e *Extractor) run(ctx context.Context) error {
	buf := make([]byte, packetSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		if _, err := io.ReadFull(e.src, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if derr := e.drain(); derr != nil {
					return derr
				}
				if e.videoPID == 0 {
					e.log.Warn("transport stream ended with no H.264 PID found")
				}
				return nil
			}
			return err
		}

		pkt, err := parseTSPacket(buf)
		if err != nil {
			continue // skip corrupt packets
		}
		if err := e.handlePacket(pkt); err != nil {
			return err
		}
	}
}

// handlePacket routes a packet to its PID's accumulator, then acts on
// whatever section or PES payload that accumulator flushes.
func (e *Extractor) handlePacket(pkt *tsPacket) error {
	pid := pkt.header.pid
	if !e.interestedIn(pid) {
		return nil
	}

	acc, ok := e.accs[pid]
	if !ok {
		acc = newAccumulator(e.isPSIPID(pid))
		e.accs[pid] = acc
	}

	flushed := acc.add(pkt)
	if flushed == nil {
		return nil
	}

	var payload []byte
	for _, p := range flushed {
		payload = append(payload, p.payload...)
	}
	if len(payload) == 0 {
		return nil
	}

	switch {
	case pid == pidPAT:
		return e.handlePAT(payload)
	case e.pmtPID != 0 && pid == e.pmtPID:
		return e.handlePMT(payload)
	default: // must be the video PID; interestedIn gates everything else out
		return e.handleVideoPES(payload)
	}
}

// drain flushes every accumulator's leftover buffered packets once the
// input is exhausted: the final segment on any PID (most importantly
// the last video PES) has no following payload_unit_start_indicator to
// trigger its normal flush.
func (e *Extractor) drain() error {
	pids := make([]int, 0, len(e.accs))
	for pid := range e.accs {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)

	for _, p := range pids {
		pid := uint16(p)
		flushed := e.accs[pid].flush()
		if len(flushed) == 0 {
			continue
		}

		var payload []byte
		for _, pkt := range flushed {
			payload = append(payload, pkt.payload...)
		}
		if len(payload) == 0 {
			continue
		}

		var err error
		switch {
		case pid == pidPAT:
			err = e.handlePAT(payload)
		case e.pmtPID != 0 && pid == e.pmtPID:
			err = e.handlePMT(payload)
		default:
			err = e.handleVideoPES(payload)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// interestedIn reports whether pid is one of the (at most three) PIDs
// this extractor ever needs: PAT, the PMT once its PID is known (until
// the video PID is found), or the video PID once known.
func (e *Extractor) interestedIn(pid uint16) bool {
	if pid == pidPAT {
		return true
	}
	if e.videoPID != 0 {
		return pid == e.videoPID
	}
	return e.pmtPID != 0 && pid == e.pmtPID
}

func (e *Extractor) isPSIPID(pid uint16) bool {
	return pid == pidPAT || pid == e.pmtPID
}

func (e *Extractor) handlePAT(payload []byte) error {
	sections, err := splitPSISections(payload)
	if err != nil {
		return fmt.Errorf("tsvideo: %w", err)
	}
	for _, sec := range sections {
		if sec.tableID != tableIDPAT || e.pmtPID != 0 {
			continue
		}
		pmtPID, err := parsePATSection(sec.data)
		if err != nil {
			return fmt.Errorf("tsvideo: %w", err)
		}
		e.pmtPID = pmtPID
	}
	return nil
}

func (e *Extractor) handlePMT(payload []byte) error {
	sections, err := splitPSISections(payload)
	if err != nil {
		return fmt.Errorf("tsvideo: %w", err)
	}
	for _, sec := range sections {
		if sec.tableID != tableIDPMT || e.videoPID != 0 {
			continue
		}
		videoPID, found, err := parsePMTSection(sec.data)
		if err != nil {
			return fmt.Errorf("tsvideo: %w", err)
		}
		if found {
			e.videoPID = videoPID
			e.log.Info("found H.264 video PID", "pid", videoPID)
		}
	}
	return nil
}

func (e *Extractor) handleVideoPES(payload []byte) error {
	if !isPESPayload(payload) {
		return nil
	}
	data, err := extractPESPayload(payload)
	if err != nil {
		return nil // malformed PES, drop rather than fail the whole stream
	}
	if len(data) == 0 {
		return nil
	}
	_, err = e.pw.Write(data)
	return err
}
