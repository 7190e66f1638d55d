package bitio

import (
	"math/rand"
	"testing"
)

func TestExpGolombRoundTripUnsigned(t *testing.T) {
	t.Parallel()

	values := []uint32{0, 1, 2, 3, 7, 8, 255, 256, 1 << 20, 1<<31 - 1}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		values = append(values, rng.Uint32()&(1<<31-1))
	}

	for _, v := range values {
		w := NewWriter(8)
		w.WriteUE(v)
		w.ByteAlign()

		r := NewReader(w.Bytes())
		got, err := r.ReadUE()
		if err != nil {
			t.Fatalf("ReadUE(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("ReadUE round-trip: wrote %d, got %d", v, got)
		}
	}
}

func TestExpGolombRoundTripSigned(t *testing.T) {
	t.Parallel()

	const lo, hi = -(1 << 30), 1 << 30
	values := []int32{0, 1, -1, 2, -2, lo, hi}
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		values = append(values, int32(rng.Intn(hi-lo+1)+lo))
	}

	for _, v := range values {
		w := NewWriter(8)
		w.WriteSE(v)
		w.ByteAlign()

		r := NewReader(w.Bytes())
		got, err := r.ReadSE()
		if err != nil {
			t.Fatalf("ReadSE(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("ReadSE round-trip: wrote %d, got %d", v, got)
		}
	}
}

func TestReadBitEndOfStream(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0xFF})
	for i := 0; i < 8; i++ {
		if _, err := r.ReadBit(); err != nil {
			t.Fatalf("unexpected error at bit %d: %v", i, err)
		}
	}
	if _, err := r.ReadBit(); err != ErrEndOfStream {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

func TestReadUEMalformedLeadingZeros(t *testing.T) {
	t.Parallel()
	// 40 zero bits with no terminating 1 bit, followed by nothing: the
	// leading-zero-run-exceeds-32 guard must fire before end-of-stream.
	data := make([]byte, 5)
	r := NewReader(data)
	if _, err := r.ReadUE(); err == nil {
		t.Fatal("expected malformed ue(v) error")
	}
}

func TestReadByteRequiresAlignment(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0xAB, 0xCD})
	if _, err := r.ReadBit(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadByte(); err == nil {
		t.Fatal("expected error reading byte while not aligned")
	}

	r2 := NewReader([]byte{0xAB, 0xCD})
	b, err := r2.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if b != 0xAB {
		t.Fatalf("got %x, want %x", b, 0xAB)
	}
}

func TestHasMoreDataAndPosition(t *testing.T) {
	t.Parallel()
	r := NewReader([]byte{0x00, 0x00})
	if !r.HasMoreData() {
		t.Fatal("expected more data")
	}
	if _, err := r.ReadBits(16); err != nil {
		t.Fatal(err)
	}
	if r.HasMoreData() {
		t.Fatal("expected no more data")
	}
	if r.PositionInBits() != 16 {
		t.Fatalf("got position %d, want 16", r.PositionInBits())
	}
}
