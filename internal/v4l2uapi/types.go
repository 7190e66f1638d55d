// Package v4l2uapi defines the fixed-layout control payloads the kernel's
// stateless H.264 V4L2 M2M codec expects (the V4L2_CID_STATELESS_H264_*
// extended controls), and pure mapping functions from the parsed
// internal/h264 state into those payloads.
package v4l2uapi

// Flag bits for SPS.Flags, matching V4L2_H264_SPS_FLAG_*.
const (
	SPSFlagSeparateColourPlane            uint32 = 1 << 0
	SPSFlagQpprimeYZeroTransformBypass     uint32 = 1 << 1
	SPSFlagDeltaPicOrderAlwaysZero         uint32 = 1 << 2
	SPSFlagGapsInFrameNumValueAllowed      uint32 = 1 << 3
	SPSFlagFrameMbsOnly                    uint32 = 1 << 4
	SPSFlagMbAdaptiveFrameField            uint32 = 1 << 5
	SPSFlagDirect8x8Inference              uint32 = 1 << 6
)

// SPS mirrors struct v4l2_ctrl_h264_sps.
type SPS struct {
	ProfileIDC                     uint8
	ConstraintSetFlags             uint8
	LevelIDC                       uint8
	SeqParameterSetID              uint8
	ChromaFormatIDC                uint8
	BitDepthLumaMinus8             uint8
	BitDepthChromaMinus8           uint8
	Log2MaxFrameNumMinus4          uint8
	PicOrderCntType                uint8
	Log2MaxPicOrderCntLsbMinus4    uint8
	MaxNumRefFrames                uint8
	NumRefFramesInPicOrderCntCycle uint8
	OffsetForRefFrame              [255]int32
	OffsetForNonRefPic             int32
	OffsetForTopToBottomField      int32
	PicWidthInMbsMinus1            uint16
	PicHeightInMapUnitsMinus1      uint16
	Flags                          uint32
}

// Flag bits for PPS.Flags, matching V4L2_H264_PPS_FLAG_*.
const (
	PPSFlagEntropyCodingMode                     uint16 = 1 << 0
	PPSFlagBottomFieldPicOrderInFramePresent      uint16 = 1 << 1
	PPSFlagWeightedPred                           uint16 = 1 << 2
	PPSFlagTransform8x8Mode                       uint16 = 1 << 3
	PPSFlagConstrainedIntraPred                   uint16 = 1 << 4
	PPSFlagRedundantPicCntPresent                 uint16 = 1 << 5
	PPSFlagDeblockingFilterControlPresent         uint16 = 1 << 6
	PPSFlagScalingMatrixPresent                   uint16 = 1 << 7
)

// PPS mirrors struct v4l2_ctrl_h264_pps.
type PPS struct {
	PicParameterSetID              uint8
	SeqParameterSetID               uint8
	NumSliceGroupsMinus1            uint8
	NumRefIdxL0DefaultActiveMinus1  uint8
	NumRefIdxL1DefaultActiveMinus1  uint8
	WeightedBipredIdc               uint8
	PicInitQpMinus26                int8
	PicInitQsMinus26                int8
	ChromaQpIndexOffset              int8
	SecondChromaQpIndexOffset        int8
	Flags                            uint16
}

// DPBEntryFlag bits for DPBEntry.Flags, matching V4L2_H264_DPB_ENTRY_FLAG_*.
const (
	DPBEntryFlagActive   uint32 = 1 << 0
	DPBEntryFlagValid    uint32 = 1 << 1
	DPBEntryFlagLongTerm uint32 = 1 << 2
	DPBEntryFlagField    uint32 = 1 << 3
)

// NumDPBEntries is the fixed array length of the kernel's DPB field
// (V4L2_H264_NUM_DPB_ENTRIES).
const NumDPBEntries = 16

// DPBEntry mirrors struct v4l2_h264_dpb_entry.
type DPBEntry struct {
	FrameNum            uint16
	PicNum              uint16
	TopFieldOrderCnt    int32
	BottomFieldOrderCnt int32
	Flags               uint32
}

// Flag bits for DecodeParams.Flags, matching V4L2_H264_DECODE_PARAM_FLAG_*.
const (
	DecodeParamFlagIDR        uint32 = 1 << 0
	DecodeParamFlagFieldPic   uint32 = 1 << 1
	DecodeParamFlagBottomField uint32 = 1 << 2
	DecodeParamFlagPFrame     uint32 = 1 << 3
	DecodeParamFlagBFrame     uint32 = 1 << 4
)

// DecodeParams mirrors struct v4l2_ctrl_h264_decode_params.
type DecodeParams struct {
	DPB                    [NumDPBEntries]DPBEntry
	NalRefIdc              uint16
	FrameNum               uint16
	IdrPicID                uint16
	PicOrderCntLsb          uint16
	DeltaPicOrderCntBottom  int32
	DeltaPicOrderCnt0       int32
	DeltaPicOrderCnt1       int32
	Flags                   uint32
}

// Flag bits for SliceParams.Flags, matching V4L2_H264_SLICE_FLAG_*.
const (
	SliceFlagDirectSpatialMvPred uint32 = 1 << 0
)

// SliceParams mirrors struct v4l2_ctrl_h264_slice_params, the optional
// control the mapper only builds when the device advertises it.
type SliceParams struct {
	HeaderBitSize               uint32
	FirstMbInSlice               uint32
	SliceType                    uint8
	ColourPlaneID                uint8
	RedundantPicCnt              uint8
	CabacInitIdc                 uint8
	SliceQpDelta                 int8
	NumRefIdxL0ActiveMinus1      uint8
	NumRefIdxL1ActiveMinus1      uint8
	Flags                        uint32
}
