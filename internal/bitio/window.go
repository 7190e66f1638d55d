package bitio

import "io"

// Window is a producer/consumer byte stream with append-and-close
// semantics: a producer goroutine calls Append repeatedly and Close once,
// while a single consumer goroutine calls Read (or reads via the
// io.Reader returned by Reader) monotonically — it never rewinds or
// restarts. It is the data model the NAL unit splitter (package h264)
// consumes.
//
// Window is implemented the way the teacher's internal/ingest.Stream
// couples an SRT receiver to a demuxer: an io.Pipe gives the producer a
// blocking Write and the consumer a blocking Read, with Close tearing
// down both ends so a reader blocked in Read observes io.EOF.
type Window struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

// NewWindow creates an empty Window.
func NewWindow() *Window {
	pr, pw := io.Pipe()
	return &Window{pr: pr, pw: pw}
}

// Append writes b to the window, blocking until a consumer has read it (or
// the window has been closed). It is safe to call only from the producer
// goroutine.
func (w *Window) Append(b []byte) (int, error) {
	return w.pw.Write(b)
}

// Close signals that no more bytes will be appended. Pending and future
// reads drain any buffered data and then return io.EOF.
func (w *Window) Close() error {
	return w.pw.Close()
}

// CloseWithError signals producer failure; the consumer's next Read
// observes err instead of io.EOF.
func (w *Window) CloseWithError(err error) error {
	return w.pw.CloseWithError(err)
}

// Reader returns the io.Reader side of the window, to be read by exactly
// one consumer goroutine.
func (w *Window) Reader() io.Reader {
	return w.pr
}
