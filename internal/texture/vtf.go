// Package texture converts Source VTF textures to PNG and PNG images to the
// 8-bit paletted BMP files the GoldSrc compiler reads.
package texture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
)

// Format is a VTF image format identifier.
type Format int32

const (
	FormatNone             Format = -1
	FormatRGBA8888         Format = 0
	FormatABGR8888         Format = 1
	FormatRGB888           Format = 2
	FormatBGR888           Format = 3
	FormatI8               Format = 5
	FormatIA88             Format = 6
	FormatA8               Format = 8
	FormatRGB888Bluescreen Format = 9
	FormatBGR888Bluescreen Format = 10
	FormatARGB8888         Format = 11
	FormatBGRA8888         Format = 12
	FormatDXT1             Format = 13
	FormatDXT3             Format = 14
	FormatDXT5             Format = 15
	FormatBGRX8888         Format = 16
	FormatDXT1OneBitAlpha  Format = 20
)

var formatNames = map[Format]string{
	FormatRGBA8888:         "RGBA8888",
	FormatABGR8888:         "ABGR8888",
	FormatRGB888:           "RGB888",
	FormatBGR888:           "BGR888",
	FormatI8:               "I8",
	FormatIA88:             "IA88",
	FormatA8:               "A8",
	FormatRGB888Bluescreen: "RGB888_BLUESCREEN",
	FormatBGR888Bluescreen: "BGR888_BLUESCREEN",
	FormatARGB8888:         "ARGB8888",
	FormatBGRA8888:         "BGRA8888",
	FormatDXT1:             "DXT1",
	FormatDXT3:             "DXT3",
	FormatDXT5:             "DXT5",
	FormatBGRX8888:         "BGRX8888",
	FormatDXT1OneBitAlpha:  "DXT1_ONEBITALPHA",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int32(f))
}

// bytesPerPixel for the uncompressed formats we decode.
var bytesPerPixel = map[Format]int{
	FormatRGBA8888:         4,
	FormatABGR8888:         4,
	FormatRGB888:           3,
	FormatBGR888:           3,
	FormatI8:               1,
	FormatIA88:             2,
	FormatA8:               1,
	FormatRGB888Bluescreen: 3,
	FormatBGR888Bluescreen: 3,
	FormatARGB8888:         4,
	FormatBGRA8888:         4,
	FormatBGRX8888:         4,
}

var (
	ErrNotVTF            = errors.New("not a VTF file")
	ErrUnsupportedFormat = errors.New("unsupported VTF image format")
	ErrTruncated         = errors.New("VTF data truncated")
)

const (
	flagEnvmap          = 0x4000
	resourceHighResData = 0x30
)

// vtfHeader is the fixed 7.0/7.1 header prefix (63 bytes, packed).
type vtfHeader struct {
	Signature     [4]byte
	Version       [2]uint32
	HeaderSize    uint32
	Width         uint16
	Height        uint16
	Flags         uint32
	Frames        uint16
	FirstFrame    uint16
	_             [4]byte
	Reflectivity  [3]float32
	_             [4]byte
	BumpmapScale  float32
	HighResFormat Format
	MipmapCount   uint8
	LowResFormat  Format
	LowResWidth   uint8
	LowResHeight  uint8
}

// VTFInfo describes a decoded texture.
type VTFInfo struct {
	Version [2]uint32
	Width   int
	Height  int
	Format  Format
	Mipmaps int
	Frames  int
}

// DecodeVTF decodes the first frame, face and slice of the largest mipmap.
func DecodeVTF(data []byte) (image.Image, VTFInfo, error) {
	r := bytes.NewReader(data)
	var h vtfHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, VTFInfo{}, ErrNotVTF
	}
	if string(h.Signature[:]) != "VTF\x00" {
		return nil, VTFInfo{}, ErrNotVTF
	}

	info := VTFInfo{
		Version: h.Version,
		Width:   int(h.Width),
		Height:  int(h.Height),
		Format:  h.HighResFormat,
		Mipmaps: int(h.MipmapCount),
		Frames:  int(h.Frames),
	}
	if info.Width == 0 || info.Height == 0 {
		return nil, info, fmt.Errorf("%w: zero dimensions", ErrNotVTF)
	}
	if info.Mipmaps < 1 {
		info.Mipmaps = 1
	}
	if info.Frames < 1 {
		info.Frames = 1
	}

	depth := 1
	minor := h.Version[1]
	if minor >= 2 {
		var d uint16
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return nil, info, ErrTruncated
		}
		if d > 1 {
			depth = int(d)
		}
	}

	offset, err := highResOffset(r, h, minor)
	if err != nil {
		return nil, info, err
	}

	faces := 1
	if h.Flags&flagEnvmap != 0 {
		faces = 6
	}

	// Mipmaps are stored smallest first; skip down to mip 0.
	for m := info.Mipmaps - 1; m >= 1; m-- {
		mw, mh := mipDim(info.Width, m), mipDim(info.Height, m)
		size, err := imageSize(info.Format, mw, mh)
		if err != nil {
			return nil, info, err
		}
		offset += info.Frames * faces * mipDim(depth, m) * size
	}

	size, err := imageSize(info.Format, info.Width, info.Height)
	if err != nil {
		return nil, info, err
	}
	if offset < 0 || offset+size > len(data) {
		return nil, info, ErrTruncated
	}

	img, err := decodeImage(data[offset:offset+size], info.Width, info.Height, info.Format)
	return img, info, err
}

// highResOffset locates the high-resolution image data. Before 7.3 it
// follows the header and the low-res thumbnail; from 7.3 on it is listed in
// the resource directory.
func highResOffset(r *bytes.Reader, h vtfHeader, minor uint32) (int, error) {
	if minor < 3 {
		offset := int(h.HeaderSize)
		if h.LowResFormat != FormatNone && h.LowResWidth > 0 && h.LowResHeight > 0 {
			size, err := imageSize(h.LowResFormat, int(h.LowResWidth), int(h.LowResHeight))
			if err != nil {
				return 0, err
			}
			offset += size
		}
		return offset, nil
	}

	var ext struct {
		_            [3]byte
		NumResources uint32
		_            [8]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &ext); err != nil {
		return 0, ErrTruncated
	}
	for i := uint32(0); i < ext.NumResources; i++ {
		var entry struct {
			Tag   [3]byte
			Flags uint8
			Data  uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &entry); err != nil {
			return 0, ErrTruncated
		}
		if entry.Tag == [3]byte{resourceHighResData, 0, 0} {
			return int(entry.Data), nil
		}
	}
	return 0, fmt.Errorf("%w: no high-res image resource", ErrTruncated)
}

func mipDim(n, level int) int {
	n >>= level
	if n < 1 {
		return 1
	}
	return n
}

func imageSize(f Format, w, h int) (int, error) {
	switch f {
	case FormatDXT1, FormatDXT1OneBitAlpha:
		return blocks(w) * blocks(h) * 8, nil
	case FormatDXT3, FormatDXT5:
		return blocks(w) * blocks(h) * 16, nil
	}
	bpp, ok := bytesPerPixel[f]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	return w * h * bpp, nil
}

func blocks(n int) int {
	b := (n + 3) / 4
	if b < 1 {
		return 1
	}
	return b
}

func decodeImage(data []byte, w, h int, f Format) (*image.NRGBA, error) {
	switch f {
	case FormatDXT1, FormatDXT1OneBitAlpha, FormatDXT3, FormatDXT5:
		return decodeDXT(data, w, h, f), nil
	}

	bpp := bytesPerPixel[f]
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		p := data[i*bpp : i*bpp+bpp]
		var c color.NRGBA
		switch f {
		case FormatRGBA8888:
			c = color.NRGBA{p[0], p[1], p[2], p[3]}
		case FormatABGR8888:
			c = color.NRGBA{p[3], p[2], p[1], p[0]}
		case FormatRGB888:
			c = color.NRGBA{p[0], p[1], p[2], 255}
		case FormatBGR888:
			c = color.NRGBA{p[2], p[1], p[0], 255}
		case FormatRGB888Bluescreen:
			c = bluescreen(p[0], p[1], p[2])
		case FormatBGR888Bluescreen:
			c = bluescreen(p[2], p[1], p[0])
		case FormatARGB8888:
			c = color.NRGBA{p[1], p[2], p[3], p[0]}
		case FormatBGRA8888:
			c = color.NRGBA{p[2], p[1], p[0], p[3]}
		case FormatBGRX8888:
			c = color.NRGBA{p[2], p[1], p[0], 255}
		case FormatI8:
			c = color.NRGBA{p[0], p[0], p[0], 255}
		case FormatIA88:
			c = color.NRGBA{p[0], p[0], p[0], p[1]}
		case FormatA8:
			c = color.NRGBA{0, 0, 0, p[0]}
		}
		img.Pix[i*4+0] = c.R
		img.Pix[i*4+1] = c.G
		img.Pix[i*4+2] = c.B
		img.Pix[i*4+3] = c.A
	}
	return img, nil
}

// bluescreen treats pure blue as the transparent key colour.
func bluescreen(r, g, b uint8) color.NRGBA {
	if r == 0 && g == 0 && b == 255 {
		return color.NRGBA{}
	}
	return color.NRGBA{r, g, b, 255}
}

// ConvertVTFToPNG decodes src and writes dst as PNG.
func ConvertVTFToPNG(src, dst string) (VTFInfo, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return VTFInfo{}, err
	}
	img, info, err := DecodeVTF(data)
	if err != nil {
		return info, err
	}
	f, err := os.Create(dst)
	if err != nil {
		return info, err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return info, err
	}
	return info, f.Close()
}
