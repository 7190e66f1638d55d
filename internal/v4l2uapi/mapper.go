package v4l2uapi

import (
	"github.com/zsiec/h264dec/internal/dpb"
	"github.com/zsiec/h264dec/internal/h264"
)

func clampU8(v uint32) uint8 {
	if v > 0xFF {
		return 0xFF
	}
	return uint8(v)
}

func clampU16(v uint32) uint16 {
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

func clampI8(v int32) int8 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return int8(v)
}

// MapSPS converts a parsed h264.SPS into the kernel's stateless-H264-SPS
// control payload, clamping every field to its advertised range and
// packing the boolean fields into Flags.
func MapSPS(sps h264.SPS) SPS {
	out := SPS{
		ProfileIDC:                  clampU8(sps.ProfileIDC),
		ConstraintSetFlags:          clampU8(sps.ConstraintSetFlags),
		LevelIDC:                    clampU8(sps.LevelIDC),
		SeqParameterSetID:           clampU8(sps.SeqParameterSetID),
		ChromaFormatIDC:             clampU8(sps.ChromaFormatIDC),
		BitDepthLumaMinus8:          clampU8(sps.BitDepthLumaMinus8),
		BitDepthChromaMinus8:        clampU8(sps.BitDepthChromaMinus8),
		Log2MaxFrameNumMinus4:       clampU8(sps.Log2MaxFrameNumMinus4),
		PicOrderCntType:             clampU8(sps.PicOrderCntType),
		Log2MaxPicOrderCntLsbMinus4: clampU8(sps.Log2MaxPicOrderCntLsbMinus4),
		MaxNumRefFrames:             clampU8(sps.MaxNumRefFrames),
		OffsetForNonRefPic:          sps.OffsetForNonRefPic,
		OffsetForTopToBottomField:   sps.OffsetForTopToBottomField,
		PicWidthInMbsMinus1:         clampU16(sps.PicWidthInMbsMinus1),
		PicHeightInMapUnitsMinus1:   clampU16(sps.PicHeightInMapUnitsMinus1),
	}

	n := len(sps.OffsetForRefFrame)
	if n > 255 {
		n = 255
	}
	out.NumRefFramesInPicOrderCntCycle = clampU8(sps.NumRefFramesInPicOrderCntCycle)
	for i := 0; i < n; i++ {
		out.OffsetForRefFrame[i] = sps.OffsetForRefFrame[i]
	}

	if sps.SeparateColourPlane {
		out.Flags |= SPSFlagSeparateColourPlane
	}
	if sps.DeltaPicOrderAlwaysZeroFlag {
		out.Flags |= SPSFlagDeltaPicOrderAlwaysZero
	}
	if sps.GapsInFrameNumValueAllowedFlag {
		out.Flags |= SPSFlagGapsInFrameNumValueAllowed
	}
	if sps.FrameMbsOnlyFlag {
		out.Flags |= SPSFlagFrameMbsOnly
	}
	if sps.MbAdaptiveFrameFieldFlag {
		out.Flags |= SPSFlagMbAdaptiveFrameField
	}
	if sps.Direct8x8InferenceFlag {
		out.Flags |= SPSFlagDirect8x8Inference
	}

	return out
}

// MapPPS converts a parsed h264.PPS into the kernel's stateless-H264-PPS
// control payload.
func MapPPS(pps h264.PPS) PPS {
	out := PPS{
		PicParameterSetID:             clampU8(pps.PicParameterSetID),
		SeqParameterSetID:             clampU8(pps.SeqParameterSetID),
		NumSliceGroupsMinus1:          clampU8(pps.NumSliceGroupsMinus1),
		NumRefIdxL0DefaultActiveMinus1: clampU8(pps.NumRefIdxL0DefaultActiveMinus1),
		NumRefIdxL1DefaultActiveMinus1: clampU8(pps.NumRefIdxL1DefaultActiveMinus1),
		WeightedBipredIdc:              clampU8(pps.WeightedBipredIdc),
		PicInitQpMinus26:               clampI8(pps.PicInitQpMinus26),
		PicInitQsMinus26:               clampI8(pps.PicInitQsMinus26),
		ChromaQpIndexOffset:            clampI8(pps.ChromaQpIndexOffset),
		SecondChromaQpIndexOffset:      clampI8(pps.SecondChromaQpIndexOffset),
	}

	if pps.EntropyCodingModeFlag {
		out.Flags |= PPSFlagEntropyCodingMode
	}
	if pps.BottomFieldPicOrderInFramePresentFlag {
		out.Flags |= PPSFlagBottomFieldPicOrderInFramePresent
	}
	if pps.WeightedPredFlag {
		out.Flags |= PPSFlagWeightedPred
	}
	if pps.Transform8x8ModeFlag {
		out.Flags |= PPSFlagTransform8x8Mode
	}
	if pps.PicScalingMatrixPresentFlag {
		out.Flags |= PPSFlagScalingMatrixPresent
	}
	if pps.ConstrainedIntraPredFlag {
		out.Flags |= PPSFlagConstrainedIntraPred
	}
	if pps.RedundantPicCntPresentFlag {
		out.Flags |= PPSFlagRedundantPicCntPresent
	}
	if pps.DeblockingFilterControlPresentFlag {
		out.Flags |= PPSFlagDeblockingFilterControlPresent
	}

	return out
}

// MapSliceParams converts a parsed h264.SliceHeader into the optional
// stateless-H264-slice-params control, built only when the device
// advertises it. headerBitSize is the bit length of the parsed slice
// header, which the kernel needs to locate slice_data() within the
// buffer handed to hardware.
func MapSliceParams(sh h264.SliceHeader, headerBitSize uint32) SliceParams {
	out := SliceParams{
		HeaderBitSize:           headerBitSize,
		FirstMbInSlice:          sh.FirstMbInSlice,
		SliceType:               clampU8(sh.SliceType),
		RedundantPicCnt:         clampU8(sh.RedundantPicCnt),
		CabacInitIdc:            clampU8(sh.CabacInitIdc),
		SliceQpDelta:            clampI8(sh.SliceQpDelta),
		NumRefIdxL0ActiveMinus1: clampU8(sh.NumRefIdxL0ActiveMinus1),
		NumRefIdxL1ActiveMinus1: clampU8(sh.NumRefIdxL1ActiveMinus1),
	}
	if sh.DirectSpatialMvPredFlag {
		out.Flags |= SliceFlagDirectSpatialMvPred
	}
	return out
}

// MapDecodeParams builds the decode-params control from the current DPB,
// the slice header of the frame being submitted, and whether the NAL is
// IDR. Up to NumDPBEntries entries are copied in order (oldest first);
// remaining array slots are left zero-filled, which is not VALID per the
// absence of DPBEntryFlagValid.
func MapDecodeParams(sh h264.SliceHeader, nalRefIdc uint8, isIDR bool, entries []dpb.Entry) DecodeParams {
	out := DecodeParams{
		NalRefIdc:              uint16(nalRefIdc),
		FrameNum:                clampU16(sh.FrameNum),
		IdrPicID:                clampU16(sh.IDRPicID),
		PicOrderCntLsb:          clampU16(sh.PicOrderCntLsb),
		DeltaPicOrderCntBottom:  sh.DeltaPicOrderCntBottom,
		DeltaPicOrderCnt0:       sh.DeltaPicOrderCnt[0],
		DeltaPicOrderCnt1:       sh.DeltaPicOrderCnt[1],
	}

	n := len(entries)
	if n > NumDPBEntries {
		n = NumDPBEntries
	}
	for i := 0; i < n; i++ {
		e := entries[i]
		flags := DPBEntryFlagValid
		if e.IsReference {
			flags |= DPBEntryFlagActive
		}
		if e.IsLongTerm {
			flags |= DPBEntryFlagLongTerm
		}
		out.DPB[i] = DPBEntry{
			FrameNum:            clampU16(e.FrameNum),
			PicNum:              clampU16(e.FrameNum),
			TopFieldOrderCnt:    int32(e.PicOrderCnt),
			BottomFieldOrderCnt: int32(e.PicOrderCnt),
			Flags:               flags,
		}
	}

	if isIDR {
		out.Flags |= DecodeParamFlagIDR
	}
	if sh.FieldPicFlag {
		out.Flags |= DecodeParamFlagFieldPic
	}
	if sh.BottomFieldFlag {
		out.Flags |= DecodeParamFlagBottomField
	}
	switch sh.SliceType {
	case h264.SliceTypeP, h264.SliceTypeSP:
		out.Flags |= DecodeParamFlagPFrame
	case h264.SliceTypeB:
		out.Flags |= DecodeParamFlagBFrame
	}

	return out
}
