package srtsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// readBufferSize is the per-Read buffer: ten standard SRT payloads of
// 1316 bytes (7 MPEG-TS packets each), used even though this source's
// payload may be either bare Annex-B or TS-wrapped.
const readBufferSize = 1316 * 10

// latencyNs is the SRT receive latency in nanoseconds (120ms).
const latencyNs = 120_000_000

// dialTimeout bounds how long Dial waits for the remote sender.
const dialTimeout = 10 * time.Second

// Source dials one remote SRT sender and streams its bytes onto a
// plain io.Reader. It is single-use: construct, Dial, Run once.
type Source struct {
	log      *slog.Logger
	addr     string
	streamID string

	conn *srtgo.Conn
	pr   *io.PipeReader
	pw   *io.PipeWriter
}

// NewSource constructs a Source that will dial addr with the given SRT
// stream ID (empty is valid — the remote decides a default). If log is
// nil, slog.Default() is used.
func NewSource(addr, streamID string, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	pr, pw := io.Pipe()
	return &Source{
		log:      log.With("component", "srtsource"),
		addr:     addr,
		streamID: streamID,
		pr:       pr,
		pw:       pw,
	}
}

// Reader returns the byte stream Run populates. Valid to read from only
// after Dial has succeeded.
func (s *Source) Reader() io.Reader {
	return s.pr
}

// Dial connects to the remote SRT sender, bounded by dialTimeout and
// ctx. It must succeed before Run is called.
func (s *Source) Dial(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	cfg.StreamID = s.streamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(s.addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("SRT dial %s: %w", s.addr, res.err)
		}
		s.conn = res.conn
		s.log.Info("connected", "address", s.addr)
		return nil
	case <-timer.C:
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return fmt.Errorf("SRT dial %s: timed out after %s", s.addr, dialTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return ctx.Err()
	}
}

// Run copies bytes from the dialed connection to Reader until the
// connection errors, ctx is cancelled, or EOF. It closes the pipe
// writer on return, which unblocks any pending Read on Reader.
func (s *Source) Run(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("srtsource: Run called before a successful Dial")
	}
	defer s.conn.Close()

	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, readBufferSize)
	var runErr error
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if _, werr := s.pw.Write(buf[:n]); werr != nil {
				runErr = werr
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				runErr = err
			}
			break
		}
	}

	if ctx.Err() != nil {
		runErr = nil
	}
	if runErr != nil {
		s.pw.CloseWithError(runErr)
		return runErr
	}
	s.pw.Close()
	return nil
}
