package texture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
)

const (
	bmpFileHeaderSize = 14
	bmpInfoHeaderSize = 40
	bmpPaletteEntries = 256
	bmpPixelOffset    = bmpFileHeaderSize + bmpInfoHeaderSize + bmpPaletteEntries*4
)

// ErrTooManyColors is returned when a paletted image exceeds 256 entries.
var ErrTooManyColors = errors.New("palette exceeds 256 colors")

// EncodeBMP writes img as an uncompressed 8-bit indexed BMP. Non-paletted
// images are quantized first.
func EncodeBMP(w io.Writer, img image.Image) error {
	p, ok := img.(*image.Paletted)
	if !ok {
		p = Quantize(img, bmpPaletteEntries)
	}
	if len(p.Palette) > bmpPaletteEntries {
		return ErrTooManyColors
	}

	b := p.Bounds()
	width, height := b.Dx(), b.Dy()
	stride := (width + 3) &^ 3
	imageSize := stride * height

	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	var fh [bmpFileHeaderSize]byte
	fh[0], fh[1] = 'B', 'M'
	le.PutUint32(fh[2:], uint32(bmpPixelOffset+imageSize))
	le.PutUint32(fh[10:], bmpPixelOffset)
	bw.Write(fh[:])

	var ih [bmpInfoHeaderSize]byte
	le.PutUint32(ih[0:], bmpInfoHeaderSize)
	le.PutUint32(ih[4:], uint32(width))
	le.PutUint32(ih[8:], uint32(height))
	le.PutUint16(ih[12:], 1) // planes
	le.PutUint16(ih[14:], 8) // bits per pixel
	le.PutUint32(ih[20:], uint32(imageSize))
	le.PutUint32(ih[24:], 2835) // 72 DPI
	le.PutUint32(ih[28:], 2835)
	le.PutUint32(ih[32:], bmpPaletteEntries)
	bw.Write(ih[:])

	var pal [bmpPaletteEntries * 4]byte
	for i, c := range p.Palette {
		r, g, bl, _ := c.RGBA()
		pal[i*4+0] = uint8(bl >> 8)
		pal[i*4+1] = uint8(g >> 8)
		pal[i*4+2] = uint8(r >> 8)
	}
	bw.Write(pal[:])

	row := make([]byte, stride)
	for y := b.Max.Y - 1; y >= b.Min.Y; y-- {
		off := p.PixOffset(b.Min.X, y)
		copy(row, p.Pix[off:off+width])
		if _, err := bw.Write(row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ConvertPNGToBMP reads a PNG, fits it to GoldSrc texture dimensions and
// writes an 8-bit BMP to dst. It returns the output dimensions.
func ConvertPNGToBMP(src, dst string) (image.Point, error) {
	in, err := os.Open(src)
	if err != nil {
		return image.Point{}, err
	}
	img, err := png.Decode(in)
	in.Close()
	if err != nil {
		return image.Point{}, fmt.Errorf("decode %s: %w", src, err)
	}

	img = FitGoldSrc(img)
	out, err := os.Create(dst)
	if err != nil {
		return image.Point{}, err
	}
	if err := EncodeBMP(out, img); err != nil {
		out.Close()
		return image.Point{}, err
	}
	return img.Bounds().Size(), out.Close()
}
