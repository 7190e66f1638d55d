package h264

import "testing"

func TestStreamStateInsertOverwriteLookup(t *testing.T) {
	t.Parallel()
	st := NewStreamState()

	sps1, err := ParseSPS(buildBaselineSPS(640, 480, 0))
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	st.PutSPS(sps1)

	got, err := st.SPS(0)
	if err != nil {
		t.Fatalf("SPS(0): %v", err)
	}
	if got.PicWidthSamples() != 640 {
		t.Fatalf("width = %d, want 640", got.PicWidthSamples())
	}

	sps2, err := ParseSPS(buildBaselineSPS(1280, 720, 0))
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	st.PutSPS(sps2) // same id (0): must overwrite

	got2, err := st.SPS(0)
	if err != nil {
		t.Fatalf("SPS(0) after overwrite: %v", err)
	}
	if got2.PicWidthSamples() != 1280 {
		t.Fatalf("width after overwrite = %d, want 1280", got2.PicWidthSamples())
	}
}

func TestStreamStateUnknownIDs(t *testing.T) {
	t.Parallel()
	st := NewStreamState()

	if _, err := st.SPS(5); err == nil {
		t.Fatal("expected error for unknown SPS id")
	} else if upe, ok := err.(*UnknownParameterSetError); !ok || upe.Kind != "SPS" {
		t.Fatalf("expected UnknownParameterSetError{Kind: SPS}, got %v", err)
	}

	if _, err := st.PPS(1); err == nil {
		t.Fatal("expected error for unknown PPS id")
	}
}

func TestStreamStateSPSForPPSResolution(t *testing.T) {
	t.Parallel()
	st := NewStreamState()

	sps, err := ParseSPS(buildBaselineSPS(640, 480, 0))
	if err != nil {
		t.Fatalf("ParseSPS: %v", err)
	}
	st.PutSPS(sps)

	pps, err := ParsePPS(buildBasicPPS(0, 0), 1)
	if err != nil {
		t.Fatalf("ParsePPS: %v", err)
	}
	st.PutPPS(pps)

	gotSPS, gotPPS, err := st.SPSForPPS(0)
	if err != nil {
		t.Fatalf("SPSForPPS: %v", err)
	}
	if gotSPS.PicWidthSamples() != 640 {
		t.Fatalf("width = %d, want 640", gotSPS.PicWidthSamples())
	}
	if gotPPS.PicParameterSetID != 0 {
		t.Fatalf("PicParameterSetID = %d, want 0", gotPPS.PicParameterSetID)
	}

	if _, _, err := st.SPSForPPS(9); err == nil {
		t.Fatal("expected error for unknown PPS id")
	}
}
