package texture

import (
	"encoding/binary"
	"image"
	"image/color"
)

// decodeDXT expands S3TC block-compressed data. Blocks that extend past the
// image edge are decoded and clipped.
func decodeDXT(data []byte, w, h int, f Format) *image.NRGBA {
	bw, bh := blocks(w), blocks(h)
	blockSize := 16
	if f == FormatDXT1 || f == FormatDXT1OneBitAlpha {
		blockSize = 8
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	var px [16]color.NRGBA
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			blk := data[(by*bw+bx)*blockSize:]
			switch f {
			case FormatDXT1, FormatDXT1OneBitAlpha:
				decodeColorBlock(blk[:8], &px, true)
			case FormatDXT3:
				decodeColorBlock(blk[8:16], &px, false)
				explicitAlpha(blk[:8], &px)
			case FormatDXT5:
				decodeColorBlock(blk[8:16], &px, false)
				interpolatedAlpha(blk[:8], &px)
			}
			for i, c := range px {
				x, y := bx*4+i%4, by*4+i/4
				if x < w && y < h {
					img.SetNRGBA(x, y, c)
				}
			}
		}
	}
	return img
}

func expand565(c uint16) color.NRGBA {
	r := uint8(c>>11) & 0x1f
	g := uint8(c>>5) & 0x3f
	b := uint8(c) & 0x1f
	return color.NRGBA{r<<3 | r>>2, g<<2 | g>>4, b<<3 | b>>2, 255}
}

func lerp(a, b color.NRGBA, wa, wb, div int) color.NRGBA {
	mix := func(x, y uint8) uint8 { return uint8((int(x)*wa + int(y)*wb) / div) }
	return color.NRGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 255}
}

// decodeColorBlock fills px from an 8-byte colour block. When punchThrough
// is set and c0 <= c1 the block uses three colours plus transparent black.
func decodeColorBlock(b []byte, px *[16]color.NRGBA, punchThrough bool) {
	c0 := binary.LittleEndian.Uint16(b[0:])
	c1 := binary.LittleEndian.Uint16(b[2:])
	var pal [4]color.NRGBA
	pal[0], pal[1] = expand565(c0), expand565(c1)
	if c0 > c1 || !punchThrough {
		pal[2] = lerp(pal[0], pal[1], 2, 1, 3)
		pal[3] = lerp(pal[0], pal[1], 1, 2, 3)
	} else {
		pal[2] = lerp(pal[0], pal[1], 1, 1, 2)
		pal[3] = color.NRGBA{}
	}
	idx := binary.LittleEndian.Uint32(b[4:])
	for i := range px {
		px[i] = pal[(idx>>(2*uint(i)))&3]
	}
}

func explicitAlpha(b []byte, px *[16]color.NRGBA) {
	bits := binary.LittleEndian.Uint64(b)
	for i := range px {
		px[i].A = uint8((bits>>(4*uint(i)))&0xf) * 17
	}
}

func interpolatedAlpha(b []byte, px *[16]color.NRGBA) {
	a0, a1 := int(b[0]), int(b[1])
	var table [8]uint8
	table[0], table[1] = uint8(a0), uint8(a1)
	if a0 > a1 {
		for i := 1; i <= 6; i++ {
			table[i+1] = uint8(((7-i)*a0 + i*a1) / 7)
		}
	} else {
		for i := 1; i <= 4; i++ {
			table[i+1] = uint8(((5-i)*a0 + i*a1) / 5)
		}
		table[6], table[7] = 0, 255
	}
	var bits uint64
	for i := 0; i < 6; i++ {
		bits |= uint64(b[2+i]) << (8 * uint(i))
	}
	for i := range px {
		px[i].A = table[(bits>>(3*uint(i)))&7]
	}
}
