// Package srtsource dials a remote SRT sender and republishes its byte
// stream as a plain io.Reader, so the decoder's byte-stream input (§6)
// can be driven by a live network source the same way it is driven by a
// local file. The sender is expected to carry either a bare H.264
// Annex-B elementary stream or an MPEG-TS-wrapped one — in the latter
// case the caller chains internal/tsvideo.Extractor in front of the
// decoder.
package srtsource
