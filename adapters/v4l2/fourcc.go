package v4l2

// fourCC packs four ASCII bytes into a V4L2 FourCC code the way
// <linux/videodev2.h>'s v4l2_fourcc macro does.
func fourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// PixFmtNV12 is V4L2_PIX_FMT_NV12, the semi-planar 4:2:0 format the
// converter adapter produces and the encoder's OUTPUT queue expects.
// go4vl's bundled FourCC constants (format.go) don't include it, so it
// is defined locally the same way the upstream package defines its own.
var PixFmtNV12 = fourCC('N', 'V', '1', '2')

// PixFmtH264 is V4L2_PIX_FMT_H264, the encoder's CAPTURE-side bitstream
// format.
var PixFmtH264 = fourCC('H', '2', '6', '4')
