package tsvideo

// accumulator buffers packets for a single PID of interest until a
// flush trigger: either payload_unit_start_indicator on a later packet,
// or (for PSI PIDs) a complete section. The extractor only ever
// instantiates one of these per PID it cares about — PAT, the PMT once
// its PID is known, and the H.264 elementary stream once its PID is
// known — never one per PID in the transport stream.
type accumulator struct {
	isPSI   bool
	packets []*tsPacket
}

func newAccumulator(isPSI bool) *accumulator {
	return &accumulator{isPSI: isPSI}
}

func (a *accumulator) add(p *tsPacket) []*tsPacket {
	if p.header.transportErrorIndicator {
		a.packets = nil
		return nil
	}
	if !p.header.hasPayload {
		return nil
	}

	if len(a.packets) > 0 && !p.header.discontinuityIndicator {
		prev := a.packets[len(a.packets)-1].header.continuityCounter
		expected := (prev + 1) & 0x0F
		if p.header.continuityCounter != expected {
			if p.header.continuityCounter == prev {
				return nil // duplicate packet, drop
			}
			a.packets = nil // unsignaled discontinuity, discard buffered packets
		}
	}

	var flushed []*tsPacket
	if p.header.payloadUnitStartIndicator && len(a.packets) > 0 {
		flushed = a.packets
		a.packets = nil
	}

	a.packets = append(a.packets, p)

	if flushed == nil && a.isPSI && isPSIComplete(a.packets) {
		flushed = a.packets
		a.packets = nil
	}

	return flushed
}

// flush returns and clears whatever is still buffered, for use when the
// input ends mid-accumulation: the final segment of a PID would
// otherwise never see a following payload_unit_start_indicator to
// trigger its flush.
func (a *accumulator) flush() []*tsPacket {
	if len(a.packets) == 0 {
		return nil
	}
	flushed := a.packets
	a.packets = nil
	return flushed
}

// isPSIComplete reports whether the accumulated payloads contain a
// complete PSI section, so the accumulator doesn't need to wait for a
// second payload_unit_start_indicator that may never come if the
// stream ends mid-section.
func isPSIComplete(packets []*tsPacket) bool {
	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.payload...)
	}
	if len(payload) < 1 {
		return false
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return false
	}

	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true // stuffing bytes, section is complete
		}
		if offset+3 > len(payload) {
			return false
		}
		if payload[offset+1]&0x80 == 0 {
			return true // not a valid section header, treat as padding
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		needed := 3 + sectionLength
		if offset+needed > len(payload) {
			return false
		}
		offset += needed
	}
	return true
}
