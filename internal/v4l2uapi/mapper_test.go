package v4l2uapi

import (
	"testing"

	"github.com/zsiec/h264dec/internal/dpb"
	"github.com/zsiec/h264dec/internal/h264"
)

func TestMapSPSPacksFlagsAndClamps(t *testing.T) {
	t.Parallel()
	sps := h264.SPS{
		ProfileIDC:             100,
		MaxNumRefFrames:        4,
		FrameMbsOnlyFlag:       true,
		Direct8x8InferenceFlag: true,
		PicWidthInMbsMinus1:    300000, // exceeds uint16, must clamp
	}
	out := MapSPS(sps)
	if out.Flags&SPSFlagFrameMbsOnly == 0 {
		t.Fatal("expected SPSFlagFrameMbsOnly set")
	}
	if out.Flags&SPSFlagDirect8x8Inference == 0 {
		t.Fatal("expected SPSFlagDirect8x8Inference set")
	}
	if out.Flags&SPSFlagMbAdaptiveFrameField != 0 {
		t.Fatal("did not expect SPSFlagMbAdaptiveFrameField")
	}
	if out.PicWidthInMbsMinus1 != 0xFFFF {
		t.Fatalf("PicWidthInMbsMinus1 = %d, want clamp to 0xFFFF", out.PicWidthInMbsMinus1)
	}
}

func TestMapPPSPacksFlags(t *testing.T) {
	t.Parallel()
	pps := h264.PPS{
		EntropyCodingModeFlag:      true,
		ConstrainedIntraPredFlag:   true,
		ChromaQpIndexOffset:        -200, // exceeds int8 range, must clamp
	}
	out := MapPPS(pps)
	if out.Flags&PPSFlagEntropyCodingMode == 0 {
		t.Fatal("expected PPSFlagEntropyCodingMode set")
	}
	if out.Flags&PPSFlagConstrainedIntraPred == 0 {
		t.Fatal("expected PPSFlagConstrainedIntraPred set")
	}
	if out.ChromaQpIndexOffset != -128 {
		t.Fatalf("ChromaQpIndexOffset = %d, want clamp to -128", out.ChromaQpIndexOffset)
	}
	if out.Flags&PPSFlagScalingMatrixPresent != 0 {
		t.Fatal("did not expect PPSFlagScalingMatrixPresent")
	}
}

func TestMapPPSSetsScalingMatrixPresentFlag(t *testing.T) {
	t.Parallel()
	pps := h264.PPS{PicScalingMatrixPresentFlag: true}
	out := MapPPS(pps)
	if out.Flags&PPSFlagScalingMatrixPresent == 0 {
		t.Fatal("expected PPSFlagScalingMatrixPresent set")
	}
}

func TestMapDecodeParamsIDRFlagAndDPB(t *testing.T) {
	t.Parallel()
	entries := []dpb.Entry{
		{FrameNum: 0, PicOrderCnt: 0, IsReference: true},
		{FrameNum: 1, PicOrderCnt: 2, IsReference: true, IsLongTerm: true},
	}
	sh := h264.SliceHeader{SliceType: h264.SliceTypeI, FrameNum: 2, PicOrderCntLsb: 4}
	out := MapDecodeParams(sh, 2, true, entries)

	if out.Flags&DecodeParamFlagIDR == 0 {
		t.Fatal("expected DecodeParamFlagIDR set")
	}
	if out.DPB[0].Flags&DPBEntryFlagValid == 0 {
		t.Fatal("expected first DPB entry VALID")
	}
	if out.DPB[1].Flags&DPBEntryFlagLongTerm == 0 {
		t.Fatal("expected second DPB entry LONG_TERM")
	}
	if out.DPB[2].Flags != 0 {
		t.Fatalf("expected zero-filled entry beyond input, got flags %#x", out.DPB[2].Flags)
	}
}

func TestMapDecodeParamsSliceTypeFlags(t *testing.T) {
	t.Parallel()
	pFrame := h264.SliceHeader{SliceType: h264.SliceTypeP}
	out := MapDecodeParams(pFrame, 1, false, nil)
	if out.Flags&DecodeParamFlagPFrame == 0 {
		t.Fatal("expected DecodeParamFlagPFrame set")
	}

	bFrame := h264.SliceHeader{SliceType: h264.SliceTypeB}
	out = MapDecodeParams(bFrame, 1, false, nil)
	if out.Flags&DecodeParamFlagBFrame == 0 {
		t.Fatal("expected DecodeParamFlagBFrame set")
	}
}
