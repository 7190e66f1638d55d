// Package tsvideo extracts an H.264 Annex-B elementary stream from an
// MPEG-TS transport stream, discarding every other elementary stream
// (audio, captions, SCTE-35). It exists so the decoder's byte-stream
// input (§6 "External Interfaces") can be fed a network-delivered TS
// file or SRT payload the same way it is fed a bare .264 file.
package tsvideo
