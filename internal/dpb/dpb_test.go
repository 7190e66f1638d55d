package dpb

import "testing"

func TestAppendEnforcesMaxSize(t *testing.T) {
	t.Parallel()
	d := New(4)
	for i := uint32(0); i < 10; i++ {
		d.Append(Entry{FrameNum: i, PicOrderCnt: i * 2, IsReference: true})
		if d.Size() > 4 {
			t.Fatalf("after append %d, size = %d, want <= 4", i, d.Size())
		}
	}
	if d.Size() != 4 {
		t.Fatalf("final size = %d, want 4", d.Size())
	}
	// oldest-first: the last 4 appended (6,7,8,9) should remain.
	got := d.Entries()
	for i, e := range got {
		want := uint32(6 + i)
		if e.FrameNum != want {
			t.Fatalf("entry %d FrameNum = %d, want %d", i, e.FrameNum, want)
		}
	}
}

func TestClearEmptiesDPB(t *testing.T) {
	t.Parallel()
	d := New(4)
	d.Append(Entry{FrameNum: 1, IsReference: true})
	d.Append(Entry{FrameNum: 2, IsReference: true})
	d.Clear()
	if d.Size() != 0 {
		t.Fatalf("size after Clear = %d, want 0", d.Size())
	}
}

func TestIDRSequenceMatchesS2Progression(t *testing.T) {
	t.Parallel()
	// Mirrors scenario S2: max_num_ref_frames=4, GOP of 1 IDR + 14 P
	// frames, DPB size after the Nth frame == min(N, 4).
	d := New(4)
	d.Clear() // IDR clears before its own entry is added
	d.Append(Entry{FrameNum: 0, IsReference: true})

	wantSizes := []int{1, 2, 3, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4}
	for i, want := range wantSizes[1:] {
		d.Append(Entry{FrameNum: uint32(i + 1), IsReference: true})
		if d.Size() != want {
			t.Fatalf("frame %d: size = %d, want %d", i+1, d.Size(), want)
		}
	}
}

func TestDropOldestOnEmptyIsNoop(t *testing.T) {
	t.Parallel()
	d := New(4)
	d.DropOldest() // must not panic
	if d.Size() != 0 {
		t.Fatalf("size = %d, want 0", d.Size())
	}
}
