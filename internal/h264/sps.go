package h264

import "github.com/zsiec/h264dec/internal/bitio"

// profilesWithChromaInfo lists profile_idc values whose SPS carries the
// chroma-format/bit-depth/scaling-matrix fields (H.264 spec 7.3.2.1.1).
var profilesWithChromaInfo = map[uint32]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// SPS holds the fields of a Sequence Parameter Set this core needs to
// build the kernel's stateless-H264-SPS control and to drive DPB sizing.
type SPS struct {
	ProfileIDC          uint32
	ConstraintSetFlags  uint32
	LevelIDC            uint32
	SeqParameterSetID   uint32
	ChromaFormatIDC     uint32 // defaults to 1 (4:2:0) when absent
	SeparateColourPlane bool
	BitDepthLumaMinus8  uint32
	BitDepthChromaMinus8 uint32

	Log2MaxFrameNumMinus4 uint32
	PicOrderCntType       uint32

	// pic_order_cnt_type == 0
	Log2MaxPicOrderCntLsbMinus4 uint32

	// pic_order_cnt_type == 1
	DeltaPicOrderAlwaysZeroFlag   bool
	OffsetForNonRefPic            int32
	OffsetForTopToBottomField     int32
	NumRefFramesInPicOrderCntCycle uint32
	OffsetForRefFrame              []int32

	MaxNumRefFrames                uint32
	GapsInFrameNumValueAllowedFlag bool
	PicWidthInMbsMinus1            uint32
	PicHeightInMapUnitsMinus1      uint32
	FrameMbsOnlyFlag               bool
	MbAdaptiveFrameFieldFlag       bool
	Direct8x8InferenceFlag         bool

	FrameCroppingFlag       bool
	FrameCropLeftOffset     uint32
	FrameCropRightOffset    uint32
	FrameCropTopOffset      uint32
	FrameCropBottomOffset   uint32
}

// ParseSPS parses a Sequence Parameter Set RBSP: NAL payload with the
// header byte stripped and emulation-prevention bytes already removed, as
// returned by NAL.RBSP(). Any field failing to parse returns a *ParseError
// naming the field.
func ParseSPS(rbsp []byte) (SPS, error) {
	r := bitio.NewReader(rbsp)
	var sps SPS
	sps.ChromaFormatIDC = 1

	profileIdc, err := r.ReadBits(8)
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "profile_idc", err)
	}
	sps.ProfileIDC = profileIdc

	constraintFlags, err := r.ReadBits(8)
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "constraint_set_flags", err)
	}
	sps.ConstraintSetFlags = constraintFlags

	levelIdc, err := r.ReadBits(8)
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "level_idc", err)
	}
	sps.LevelIDC = levelIdc

	spsID, err := r.ReadUE()
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "seq_parameter_set_id", err)
	}
	sps.SeqParameterSetID = spsID

	if profilesWithChromaInfo[profileIdc] {
		chroma, err := r.ReadUE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "chroma_format_idc", err)
		}
		sps.ChromaFormatIDC = chroma

		if chroma == 3 {
			sep, err := r.ReadBits(1)
			if err != nil {
				return SPS{}, parseErr(NALTypeSPS, "separate_colour_plane_flag", err)
			}
			sps.SeparateColourPlane = sep == 1
		}

		bdLuma, err := r.ReadUE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "bit_depth_luma_minus8", err)
		}
		sps.BitDepthLumaMinus8 = bdLuma

		bdChroma, err := r.ReadUE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "bit_depth_chroma_minus8", err)
		}
		sps.BitDepthChromaMinus8 = bdChroma

		if err := r.SkipBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return SPS{}, parseErr(NALTypeSPS, "qpprime_y_zero_transform_bypass_flag", err)
		}

		scalingPresent, err := r.ReadBits(1)
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "seq_scaling_matrix_present_flag", err)
		}
		if scalingPresent == 1 {
			limit := 8
			if chroma == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				present, err := r.ReadBits(1)
				if err != nil {
					return SPS{}, parseErr(NALTypeSPS, "seq_scaling_list_present_flag", err)
				}
				if present == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := skipScalingList(r, size); err != nil {
						return SPS{}, parseErr(NALTypeSPS, "scaling_list", err)
					}
				}
			}
		}
	}

	log2MaxFrameNum, err := r.ReadUE()
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "log2_max_frame_num_minus4", err)
	}
	sps.Log2MaxFrameNumMinus4 = log2MaxFrameNum

	pocType, err := r.ReadUE()
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "pic_order_cnt_type", err)
	}
	sps.PicOrderCntType = pocType

	switch pocType {
	case 0:
		v, err := r.ReadUE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "log2_max_pic_order_cnt_lsb_minus4", err)
		}
		sps.Log2MaxPicOrderCntLsbMinus4 = v
	case 1:
		flag, err := r.ReadBits(1)
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "delta_pic_order_always_zero_flag", err)
		}
		sps.DeltaPicOrderAlwaysZeroFlag = flag == 1

		offNonRef, err := r.ReadSE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "offset_for_non_ref_pic", err)
		}
		sps.OffsetForNonRefPic = offNonRef

		offTopBottom, err := r.ReadSE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "offset_for_top_to_bottom_field", err)
		}
		sps.OffsetForTopToBottomField = offTopBottom

		numCycle, err := r.ReadUE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "num_ref_frames_in_pic_order_cnt_cycle", err)
		}
		sps.NumRefFramesInPicOrderCntCycle = numCycle

		n := numCycle
		if n > 255 {
			n = 255
		}
		sps.OffsetForRefFrame = make([]int32, 0, n)
		for i := uint32(0); i < numCycle; i++ {
			v, err := r.ReadSE()
			if err != nil {
				return SPS{}, parseErr(NALTypeSPS, "offset_for_ref_frame", err)
			}
			if i < 255 {
				sps.OffsetForRefFrame = append(sps.OffsetForRefFrame, v)
			}
		}
	}

	maxRef, err := r.ReadUE()
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "max_num_ref_frames", err)
	}
	sps.MaxNumRefFrames = maxRef

	gaps, err := r.ReadBits(1)
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "gaps_in_frame_num_value_allowed_flag", err)
	}
	sps.GapsInFrameNumValueAllowedFlag = gaps == 1

	picWidth, err := r.ReadUE()
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "pic_width_in_mbs_minus1", err)
	}
	sps.PicWidthInMbsMinus1 = picWidth

	picHeight, err := r.ReadUE()
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "pic_height_in_map_units_minus1", err)
	}
	sps.PicHeightInMapUnitsMinus1 = picHeight

	frameMbsOnly, err := r.ReadBits(1)
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "frame_mbs_only_flag", err)
	}
	sps.FrameMbsOnlyFlag = frameMbsOnly == 1

	if !sps.FrameMbsOnlyFlag {
		mbAdaptive, err := r.ReadBits(1)
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "mb_adaptive_frame_field_flag", err)
		}
		sps.MbAdaptiveFrameFieldFlag = mbAdaptive == 1
	}

	direct8x8, err := r.ReadBits(1)
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "direct_8x8_inference_flag", err)
	}
	sps.Direct8x8InferenceFlag = direct8x8 == 1

	cropFlag, err := r.ReadBits(1)
	if err != nil {
		return SPS{}, parseErr(NALTypeSPS, "frame_cropping_flag", err)
	}
	sps.FrameCroppingFlag = cropFlag == 1
	if sps.FrameCroppingFlag {
		left, err := r.ReadUE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "frame_crop_left_offset", err)
		}
		sps.FrameCropLeftOffset = left

		right, err := r.ReadUE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "frame_crop_right_offset", err)
		}
		sps.FrameCropRightOffset = right

		top, err := r.ReadUE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "frame_crop_top_offset", err)
		}
		sps.FrameCropTopOffset = top

		bottom, err := r.ReadUE()
		if err != nil {
			return SPS{}, parseErr(NALTypeSPS, "frame_crop_bottom_offset", err)
		}
		sps.FrameCropBottomOffset = bottom
	}

	return sps, nil
}

// skipScalingList skips one scaling_list(size) as per H.264 7.3.2.1.1.1,
// consuming se(v) delta_scale values without retaining their values.
func skipScalingList(r *bitio.Reader, size int) error {
	lastScale, nextScale := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := r.ReadSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// PicWidthSamples returns the decoded picture width in luma samples.
func (s SPS) PicWidthSamples() int {
	return int(s.PicWidthInMbsMinus1+1) * 16
}

// PicHeightSamples returns the decoded picture height in luma samples,
// accounting for frame_mbs_only_flag per the H.264 spec's map-unit scaling.
func (s SPS) PicHeightSamples() int {
	mul := 1
	if !s.FrameMbsOnlyFlag {
		mul = 2
	}
	return int(s.PicHeightInMapUnitsMinus1+1) * 16 * mul
}
