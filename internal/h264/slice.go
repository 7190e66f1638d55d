package h264

import "github.com/zsiec/h264dec/internal/bitio"

// Slice type values as normalized by slice_type % 5 (H.264 Table 7-6).
const (
	SliceTypeP  = 0
	SliceTypeB  = 1
	SliceTypeI  = 2
	SliceTypeSP = 3
	SliceTypeSI = 4
)

// SliceHeader holds the slice_header() fields this core needs to build the
// kernel's stateless-H264-slice-params and decode-params controls. Only the
// first slice of a picture is parsed in full; non-initial slices of the
// same picture are dropped per this core's single-slice-per-picture
// decision (see the "non-initial slices" handling in the coordinator).
type SliceHeader struct {
	FirstMbInSlice    uint32
	SliceType         uint32
	PicParameterSetID uint32
	FrameNum          uint32
	FieldPicFlag      bool
	BottomFieldFlag   bool
	IDRPicID          uint32

	PicOrderCntLsb         uint32
	DeltaPicOrderCntBottom int32
	DeltaPicOrderCnt       [2]int32

	RedundantPicCnt uint32

	DirectSpatialMvPredFlag     bool
	NumRefIdxActiveOverrideFlag bool
	NumRefIdxL0ActiveMinus1     uint32
	NumRefIdxL1ActiveMinus1     uint32

	CabacInitIdc uint32
	SliceQpDelta int32

	NoOutputOfPriorPicsFlag      bool
	LongTermReferenceFlag        bool
	AdaptiveRefPicMarkingModeFlag bool

	IsIDR bool
}

// ParseSliceHeader parses slice_header() from a slice NAL unit's RBSP. sps
// and pps must be the parameter sets the slice's pic_parameter_set_id and
// seq_parameter_set_id resolve to, as looked up through a StreamState.
func ParseSliceHeader(rbsp []byte, nal NAL, sps SPS, pps PPS) (SliceHeader, error) {
	r := bitio.NewReader(rbsp)
	var sh SliceHeader
	sh.IsIDR = nal.Type == NALTypeIDR

	firstMb, err := r.ReadUE()
	if err != nil {
		return SliceHeader{}, parseErr(nal.Type, "first_mb_in_slice", err)
	}
	sh.FirstMbInSlice = firstMb

	sliceTypeRaw, err := r.ReadUE()
	if err != nil {
		return SliceHeader{}, parseErr(nal.Type, "slice_type", err)
	}
	sh.SliceType = sliceTypeRaw % 5

	ppsID, err := r.ReadUE()
	if err != nil {
		return SliceHeader{}, parseErr(nal.Type, "pic_parameter_set_id", err)
	}
	sh.PicParameterSetID = ppsID

	if sps.SeparateColourPlane {
		if err := r.SkipBits(2); err != nil { // colour_plane_id
			return SliceHeader{}, parseErr(nal.Type, "colour_plane_id", err)
		}
	}

	frameNum, err := r.ReadBits(int(sps.Log2MaxFrameNumMinus4 + 4))
	if err != nil {
		return SliceHeader{}, parseErr(nal.Type, "frame_num", err)
	}
	sh.FrameNum = frameNum

	if !sps.FrameMbsOnlyFlag {
		fieldPic, err := r.ReadBits(1)
		if err != nil {
			return SliceHeader{}, parseErr(nal.Type, "field_pic_flag", err)
		}
		sh.FieldPicFlag = fieldPic == 1
		if sh.FieldPicFlag {
			bottomField, err := r.ReadBits(1)
			if err != nil {
				return SliceHeader{}, parseErr(nal.Type, "bottom_field_flag", err)
			}
			sh.BottomFieldFlag = bottomField == 1
		}
	}

	if sh.IsIDR {
		idrPicID, err := r.ReadUE()
		if err != nil {
			return SliceHeader{}, parseErr(nal.Type, "idr_pic_id", err)
		}
		sh.IDRPicID = idrPicID
	}

	if sps.PicOrderCntType == 0 {
		pocLsb, err := r.ReadBits(int(sps.Log2MaxPicOrderCntLsbMinus4 + 4))
		if err != nil {
			return SliceHeader{}, parseErr(nal.Type, "pic_order_cnt_lsb", err)
		}
		sh.PicOrderCntLsb = pocLsb

		if pps.BottomFieldPicOrderInFramePresentFlag && !sh.FieldPicFlag {
			deltaBottom, err := r.ReadSE()
			if err != nil {
				return SliceHeader{}, parseErr(nal.Type, "delta_pic_order_cnt_bottom", err)
			}
			sh.DeltaPicOrderCntBottom = deltaBottom
		}
	}

	if sps.PicOrderCntType == 1 && !sps.DeltaPicOrderAlwaysZeroFlag {
		d0, err := r.ReadSE()
		if err != nil {
			return SliceHeader{}, parseErr(nal.Type, "delta_pic_order_cnt[0]", err)
		}
		sh.DeltaPicOrderCnt[0] = d0

		if pps.BottomFieldPicOrderInFramePresentFlag && !sh.FieldPicFlag {
			d1, err := r.ReadSE()
			if err != nil {
				return SliceHeader{}, parseErr(nal.Type, "delta_pic_order_cnt[1]", err)
			}
			sh.DeltaPicOrderCnt[1] = d1
		}
	}

	if pps.RedundantPicCntPresentFlag {
		redundant, err := r.ReadUE()
		if err != nil {
			return SliceHeader{}, parseErr(nal.Type, "redundant_pic_cnt", err)
		}
		sh.RedundantPicCnt = redundant
	}

	if sh.SliceType == SliceTypeB {
		directSpatial, err := r.ReadBits(1)
		if err != nil {
			return SliceHeader{}, parseErr(nal.Type, "direct_spatial_mv_pred_flag", err)
		}
		sh.DirectSpatialMvPredFlag = directSpatial == 1
	}

	sh.NumRefIdxL0ActiveMinus1 = pps.NumRefIdxL0DefaultActiveMinus1
	sh.NumRefIdxL1ActiveMinus1 = pps.NumRefIdxL1DefaultActiveMinus1
	if sh.SliceType == SliceTypeP || sh.SliceType == SliceTypeSP || sh.SliceType == SliceTypeB {
		override, err := r.ReadBits(1)
		if err != nil {
			return SliceHeader{}, parseErr(nal.Type, "num_ref_idx_active_override_flag", err)
		}
		sh.NumRefIdxActiveOverrideFlag = override == 1
		if sh.NumRefIdxActiveOverrideFlag {
			l0, err := r.ReadUE()
			if err != nil {
				return SliceHeader{}, parseErr(nal.Type, "num_ref_idx_l0_active_minus1", err)
			}
			sh.NumRefIdxL0ActiveMinus1 = l0
			if sh.SliceType == SliceTypeB {
				l1, err := r.ReadUE()
				if err != nil {
					return SliceHeader{}, parseErr(nal.Type, "num_ref_idx_l1_active_minus1", err)
				}
				sh.NumRefIdxL1ActiveMinus1 = l1
			}
		}
	}

	if sh.SliceType != SliceTypeI && sh.SliceType != SliceTypeSI {
		if err := skipRefPicListModification(r); err != nil {
			return SliceHeader{}, parseErr(nal.Type, "ref_pic_list_modification_l0", err)
		}
	}
	if sh.SliceType == SliceTypeB {
		if err := skipRefPicListModification(r); err != nil {
			return SliceHeader{}, parseErr(nal.Type, "ref_pic_list_modification_l1", err)
		}
	}

	usesWeightedPred := (pps.WeightedPredFlag && (sh.SliceType == SliceTypeP || sh.SliceType == SliceTypeSP)) ||
		(pps.WeightedBipredIdc == 1 && sh.SliceType == SliceTypeB)
	if usesWeightedPred {
		chromaArrayType := sps.ChromaFormatIDC
		if sps.SeparateColourPlane {
			chromaArrayType = 0
		}
		if err := skipPredWeightTable(r, chromaArrayType, sh.NumRefIdxL0ActiveMinus1+1, sh.SliceType == SliceTypeB, sh.NumRefIdxL1ActiveMinus1+1); err != nil {
			return SliceHeader{}, parseErr(nal.Type, "pred_weight_table", err)
		}
	}

	if nal.RefIDC != 0 {
		if sh.IsIDR {
			noOutput, err := r.ReadBits(1)
			if err != nil {
				return SliceHeader{}, parseErr(nal.Type, "no_output_of_prior_pics_flag", err)
			}
			sh.NoOutputOfPriorPicsFlag = noOutput == 1

			longTerm, err := r.ReadBits(1)
			if err != nil {
				return SliceHeader{}, parseErr(nal.Type, "long_term_reference_flag", err)
			}
			sh.LongTermReferenceFlag = longTerm == 1
		} else {
			adaptive, err := r.ReadBits(1)
			if err != nil {
				return SliceHeader{}, parseErr(nal.Type, "adaptive_ref_pic_marking_mode_flag", err)
			}
			sh.AdaptiveRefPicMarkingModeFlag = adaptive == 1
			if sh.AdaptiveRefPicMarkingModeFlag {
				if err := skipDecRefPicMarkingMMCO(r); err != nil {
					return SliceHeader{}, parseErr(nal.Type, "dec_ref_pic_marking", err)
				}
			}
		}
	}

	if pps.EntropyCodingModeFlag && sh.SliceType != SliceTypeI && sh.SliceType != SliceTypeSI {
		cabacInitIdc, err := r.ReadUE()
		if err != nil {
			return SliceHeader{}, parseErr(nal.Type, "cabac_init_idc", err)
		}
		sh.CabacInitIdc = cabacInitIdc
	}

	qpDelta, err := r.ReadSE()
	if err != nil {
		return SliceHeader{}, parseErr(nal.Type, "slice_qp_delta", err)
	}
	sh.SliceQpDelta = qpDelta

	return sh, nil
}

// PeekSliceHeaderIDs reads only the first three slice_header() fields —
// first_mb_in_slice and pic_parameter_set_id, skipping slice_type in
// between — so the coordinator can resolve which PPS/SPS to parse the
// rest of the header against before calling ParseSliceHeader. It does not
// require an SPS or PPS and never mutates caller state.
func PeekSliceHeaderIDs(rbsp []byte, nal NAL) (firstMbInSlice uint32, picParameterSetID uint32, err error) {
	r := bitio.NewReader(rbsp)

	firstMb, err := r.ReadUE()
	if err != nil {
		return 0, 0, parseErr(nal.Type, "first_mb_in_slice", err)
	}

	if _, err := r.ReadUE(); err != nil { // slice_type
		return 0, 0, parseErr(nal.Type, "slice_type", err)
	}

	ppsID, err := r.ReadUE()
	if err != nil {
		return 0, 0, parseErr(nal.Type, "pic_parameter_set_id", err)
	}

	return firstMb, ppsID, nil
}

// skipRefPicListModification skips ref_pic_list_modification() for one
// list: a ref_pic_list_modification_flag_lX bit, followed (if set) by a
// sequence of (modification_of_pic_nums_idc, operand) pairs terminated by
// idc == 3.
func skipRefPicListModification(r *bitio.Reader) error {
	flag, err := r.ReadBits(1)
	if err != nil {
		return err
	}
	if flag != 1 {
		return nil
	}
	for {
		idc, err := r.ReadUE()
		if err != nil {
			return err
		}
		if idc == 3 {
			return nil
		}
		if idc == 0 || idc == 1 {
			if err := r.SkipUE(); err != nil { // abs_diff_pic_num_minus1
				return err
			}
		} else if idc == 2 {
			if err := r.SkipUE(); err != nil { // long_term_pic_num
				return err
			}
		}
	}
}

// skipPredWeightTable skips pred_weight_table() without retaining the
// per-reference weights, which the stateless decode path does not use
// directly (they are carried in the slice bytes fed to hardware).
func skipPredWeightTable(r *bitio.Reader, chromaArrayType uint32, numL0 uint32, hasL1 bool, numL1 uint32) error {
	if err := r.SkipUE(); err != nil { // luma_log2_weight_denom
		return err
	}
	if chromaArrayType != 0 {
		if err := r.SkipUE(); err != nil { // chroma_log2_weight_denom
			return err
		}
	}
	skipOneList := func(n uint32) error {
		for i := uint32(0); i < n; i++ {
			lumaFlag, err := r.ReadBits(1)
			if err != nil {
				return err
			}
			if lumaFlag == 1 {
				if err := r.SkipSE(); err != nil {
					return err
				}
				if err := r.SkipSE(); err != nil {
					return err
				}
			}
			if chromaArrayType != 0 {
				chromaFlag, err := r.ReadBits(1)
				if err != nil {
					return err
				}
				if chromaFlag == 1 {
					for c := 0; c < 2; c++ {
						if err := r.SkipSE(); err != nil {
							return err
						}
						if err := r.SkipSE(); err != nil {
							return err
						}
					}
				}
			}
		}
		return nil
	}
	if err := skipOneList(numL0); err != nil {
		return err
	}
	if hasL1 {
		if err := skipOneList(numL1); err != nil {
			return err
		}
	}
	return nil
}

// skipDecRefPicMarkingMMCO skips the adaptive memory_management_control_operation
// loop, terminated by an operation value of 0.
func skipDecRefPicMarkingMMCO(r *bitio.Reader) error {
	for {
		op, err := r.ReadUE()
		if err != nil {
			return err
		}
		if op == 0 {
			return nil
		}
		switch op {
		case 1, 3:
			if err := r.SkipUE(); err != nil { // difference_of_pic_nums_minus1
				return err
			}
			if op == 3 {
				if err := r.SkipUE(); err != nil { // long_term_frame_idx
					return err
				}
			}
		case 2:
			if err := r.SkipUE(); err != nil { // long_term_pic_num
				return err
			}
		case 4:
			if err := r.SkipUE(); err != nil { // max_long_term_frame_idx_plus1
				return err
			}
		case 6:
			if err := r.SkipUE(); err != nil { // long_term_frame_idx
				return err
			}
		}
	}
}
