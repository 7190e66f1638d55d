package h264

import "github.com/zsiec/h264dec/internal/bitio"

// PPS holds the fields of a Picture Parameter Set needed to build the
// kernel's stateless-H264-PPS control and to interpret slice headers that
// reference it.
type PPS struct {
	PicParameterSetID uint32
	SeqParameterSetID uint32

	EntropyCodingModeFlag                    bool
	BottomFieldPicOrderInFramePresentFlag     bool
	NumSliceGroupsMinus1                      uint32

	NumRefIdxL0DefaultActiveMinus1 uint32
	NumRefIdxL1DefaultActiveMinus1 uint32
	WeightedPredFlag               bool
	WeightedBipredIdc              uint32

	PicInitQpMinus26      int32
	PicInitQsMinus26      int32
	ChromaQpIndexOffset   int32

	DeblockingFilterControlPresentFlag bool
	ConstrainedIntraPredFlag           bool
	RedundantPicCntPresentFlag         bool

	// present only when more_rbsp_data() held and the encoder wrote the
	// High-profile PPS extension.
	Transform8x8ModeFlag        bool
	PicScalingMatrixPresentFlag bool
	SecondChromaQpIndexOffset   int32
	HasTransformExtension       bool
}

// PeekPPSIDs reads only pic_parameter_set_id and seq_parameter_set_id, the
// first two PPS fields, so the coordinator can resolve the referenced SPS's
// chroma_format_idc before calling ParsePPS with the rest of the header.
func PeekPPSIDs(rbsp []byte) (picParameterSetID, seqParameterSetID uint32, err error) {
	r := bitio.NewReader(rbsp)

	ppsID, err := r.ReadUE()
	if err != nil {
		return 0, 0, parseErr(NALTypePPS, "pic_parameter_set_id", err)
	}
	spsID, err := r.ReadUE()
	if err != nil {
		return 0, 0, parseErr(NALTypePPS, "seq_parameter_set_id", err)
	}
	return ppsID, spsID, nil
}

// ParsePPS parses a Picture Parameter Set RBSP. chromaFormatIDC selects the
// scaling-list count the PPS extension's scaling-matrix override reads (6
// lists; 6+2 when transform_8x8_mode_flag is set, or 6+6 when it is set and
// chroma_format_idc == 3); pass the linked SPS's
// ChromaFormatIDC when one is already known, or 1 (4:2:0) when this PPS
// arrives before any SPS.
func ParsePPS(rbsp []byte, chromaFormatIDC uint32) (PPS, error) {
	r := bitio.NewReader(rbsp)
	var pps PPS

	ppsID, err := r.ReadUE()
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "pic_parameter_set_id", err)
	}
	pps.PicParameterSetID = ppsID

	spsID, err := r.ReadUE()
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "seq_parameter_set_id", err)
	}
	pps.SeqParameterSetID = spsID

	entropy, err := r.ReadBits(1)
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "entropy_coding_mode_flag", err)
	}
	pps.EntropyCodingModeFlag = entropy == 1

	bottomField, err := r.ReadBits(1)
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "bottom_field_pic_order_in_frame_present_flag", err)
	}
	pps.BottomFieldPicOrderInFramePresentFlag = bottomField == 1

	numSliceGroups, err := r.ReadUE()
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "num_slice_groups_minus1", err)
	}
	pps.NumSliceGroupsMinus1 = numSliceGroups
	if numSliceGroups > 0 {
		// Slice-group mapping syntax (FMO) is not produced by any
		// conformant stateless-decode encoder this core targets; a
		// stream that sets this fails the parse rather than silently
		// mis-parsing the remaining fields.
		return PPS{}, parseErr(NALTypePPS, "num_slice_groups_minus1", ErrUnsupportedSliceGroups)
	}

	refL0, err := r.ReadUE()
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "num_ref_idx_l0_default_active_minus1", err)
	}
	pps.NumRefIdxL0DefaultActiveMinus1 = refL0

	refL1, err := r.ReadUE()
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "num_ref_idx_l1_default_active_minus1", err)
	}
	pps.NumRefIdxL1DefaultActiveMinus1 = refL1

	weightedPred, err := r.ReadBits(1)
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "weighted_pred_flag", err)
	}
	pps.WeightedPredFlag = weightedPred == 1

	weightedBipred, err := r.ReadBits(2)
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "weighted_bipred_idc", err)
	}
	pps.WeightedBipredIdc = weightedBipred

	initQp, err := r.ReadSE()
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "pic_init_qp_minus26", err)
	}
	pps.PicInitQpMinus26 = initQp

	initQs, err := r.ReadSE()
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "pic_init_qs_minus26", err)
	}
	pps.PicInitQsMinus26 = initQs

	chromaQpOffset, err := r.ReadSE()
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "chroma_qp_index_offset", err)
	}
	pps.ChromaQpIndexOffset = chromaQpOffset

	deblock, err := r.ReadBits(1)
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "deblocking_filter_control_present_flag", err)
	}
	pps.DeblockingFilterControlPresentFlag = deblock == 1

	constrainedIntra, err := r.ReadBits(1)
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "constrained_intra_pred_flag", err)
	}
	pps.ConstrainedIntraPredFlag = constrainedIntra == 1

	redundant, err := r.ReadBits(1)
	if err != nil {
		return PPS{}, parseErr(NALTypePPS, "redundant_pic_cnt_present_flag", err)
	}
	pps.RedundantPicCntPresentFlag = redundant == 1

	// more_rbsp_data(): the extension is present only if the reader is
	// still before the RBSP's last 1 bit (its rbsp_stop_one_bit).
	lastOne := -1
	for i := len(rbsp)*8 - 1; i >= 0; i-- {
		if rbsp[i/8]>>(7-uint(i%8))&1 == 1 {
			lastOne = i
			break
		}
	}
	if r.PositionInBits() < lastOne {
		transform8x8, err := r.ReadBits(1)
		if err != nil {
			return PPS{}, parseErr(NALTypePPS, "transform_8x8_mode_flag", err)
		}
		pps.Transform8x8ModeFlag = transform8x8 == 1
		pps.HasTransformExtension = true

		picScalingPresent, err := r.ReadBits(1)
		if err != nil {
			return PPS{}, parseErr(NALTypePPS, "pic_scaling_matrix_present_flag", err)
		}
		pps.PicScalingMatrixPresentFlag = picScalingPresent == 1
		if pps.PicScalingMatrixPresentFlag {
			// Scaling-list override in the PPS extension; skipped the
			// same way SPS scaling lists are. With transform_8x8_mode_flag
			// set, 4:4:4 (chroma_format_idc == 3) carries 6 8x8 scaling
			// lists instead of 2, per 7.3.2.2.
			limit := 6
			if pps.Transform8x8ModeFlag {
				if chromaFormatIDC == 3 {
					limit += 6
				} else {
					limit += 2
				}
			}
			for i := 0; i < limit; i++ {
				present, err := r.ReadBits(1)
				if err != nil {
					return PPS{}, parseErr(NALTypePPS, "pic_scaling_list_present_flag", err)
				}
				if present == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := skipScalingList(r, size); err != nil {
						return PPS{}, parseErr(NALTypePPS, "pic_scaling_list", err)
					}
				}
			}
		}

		secondChromaOffset, err := r.ReadSE()
		if err != nil {
			return PPS{}, parseErr(NALTypePPS, "second_chroma_qp_index_offset", err)
		}
		pps.SecondChromaQpIndexOffset = secondChromaOffset
	} else {
		pps.SecondChromaQpIndexOffset = pps.ChromaQpIndexOffset
	}

	return pps, nil
}
