// Package dpb implements the decoded-picture-buffer model the decoder
// coordinator maintains in user space: an ordered, oldest-first sequence
// of reference-picture bookkeeping entries published to the kernel on
// every frame submission.
package dpb

// Entry is one decoded-picture-buffer record, per the spec's DPB entry
// data model: { frame_num, pic_order_cnt, is_reference, is_long_term }.
type Entry struct {
	FrameNum     uint32
	PicOrderCnt  uint32
	IsReference  bool
	IsLongTerm   bool
}

// DPB is an ordered, oldest-first sequence of Entry values with a fixed
// capacity bound supplied at construction (sps.max_num_ref_frames). It is
// owned exclusively by the decoder coordinator's thread; nothing in this
// package is safe for concurrent use without external synchronization,
// matching §5's "only this thread mutates the stream state, the DPB".
type DPB struct {
	entries  []Entry
	maxSize  uint32
}

// New returns an empty DPB bounded by maxSize (sps.max_num_ref_frames).
func New(maxSize uint32) *DPB {
	return &DPB{maxSize: maxSize}
}

// Clear empties the DPB, used when an IDR is submitted.
func (d *DPB) Clear() {
	d.entries = d.entries[:0]
}

// Append adds a new entry at the newest (tail) position, then drops the
// oldest entries until the size invariant |DPB| <= max_num_ref_frames
// holds again. A bound of 0 applies no limit.
func (d *DPB) Append(e Entry) {
	d.entries = append(d.entries, e)
	for uint32(len(d.entries)) > d.maxSize && d.maxSize > 0 {
		d.DropOldest()
	}
}

// DropOldest removes the entry at the head (oldest) position, if any.
func (d *DPB) DropOldest() {
	if len(d.entries) == 0 {
		return
	}
	d.entries = d.entries[1:]
}

// Size returns the current entry count.
func (d *DPB) Size() int {
	return len(d.entries)
}

// Entries returns the current entries, oldest first. The returned slice
// must not be mutated by the caller; it aliases internal storage.
func (d *DPB) Entries() []Entry {
	return d.entries
}

// SetMaxSize updates the capacity bound (used when a new SPS changes
// max_num_ref_frames), trimming from the oldest end if the DPB is
// currently larger than the new bound.
func (d *DPB) SetMaxSize(maxSize uint32) {
	d.maxSize = maxSize
	for uint32(len(d.entries)) > d.maxSize && d.maxSize > 0 {
		d.DropOldest()
	}
}
