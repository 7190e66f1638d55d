package h264

import "fmt"

// UnknownParameterSetError is returned when a slice or PPS references a
// parameter set ID that has not been (successfully) parsed yet.
type UnknownParameterSetError struct {
	Kind string // "SPS" or "PPS"
	ID   uint32
}

func (e *UnknownParameterSetError) Error() string {
	return fmt.Sprintf("h264: unknown %s id %d", e.Kind, e.ID)
}

// StreamState holds the SPS/PPS parameter sets accumulated from a single
// elementary stream, keyed by their id fields. It is the only piece of
// parse state that outlives a single NAL unit: a later parameter set with
// the same id silently overwrites the previous one, matching how an
// encoder may legally redefine a parameter set mid-stream (H.264 does not
// require ids to be unique for the life of a stream, only to be
// unambiguous at the point each slice references one).
type StreamState struct {
	sps map[uint32]SPS
	pps map[uint32]PPS
}

// NewStreamState returns an empty StreamState.
func NewStreamState() *StreamState {
	return &StreamState{
		sps: make(map[uint32]SPS),
		pps: make(map[uint32]PPS),
	}
}

// PutSPS inserts or overwrites the SPS at its own seq_parameter_set_id.
func (s *StreamState) PutSPS(sps SPS) {
	s.sps[sps.SeqParameterSetID] = sps
}

// PutPPS inserts or overwrites the PPS at its own pic_parameter_set_id.
func (s *StreamState) PutPPS(pps PPS) {
	s.pps[pps.PicParameterSetID] = pps
}

// SPS looks up a previously parsed SPS by id.
func (s *StreamState) SPS(id uint32) (SPS, error) {
	sps, ok := s.sps[id]
	if !ok {
		return SPS{}, &UnknownParameterSetError{Kind: "SPS", ID: id}
	}
	return sps, nil
}

// PPS looks up a previously parsed PPS by id.
func (s *StreamState) PPS(id uint32) (PPS, error) {
	pps, ok := s.pps[id]
	if !ok {
		return PPS{}, &UnknownParameterSetError{Kind: "PPS", ID: id}
	}
	return pps, nil
}

// SPSForPPS resolves the SPS that a given PPS id's seq_parameter_set_id
// points at, the lookup a slice header's pic_parameter_set_id ultimately
// needs to parse.
func (s *StreamState) SPSForPPS(ppsID uint32) (SPS, PPS, error) {
	pps, err := s.PPS(ppsID)
	if err != nil {
		return SPS{}, PPS{}, err
	}
	sps, err := s.SPS(pps.SeqParameterSetID)
	if err != nil {
		return SPS{}, PPS{}, err
	}
	return sps, pps, nil
}

// Reset clears all accumulated parameter sets, used when the coordinator
// tears down and reinitializes a decode session.
func (s *StreamState) Reset() {
	s.sps = make(map[uint32]SPS)
	s.pps = make(map[uint32]PPS)
}
