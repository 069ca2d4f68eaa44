package texture

import (
	"cmp"
	"image"
	"image/color"
	"image/draw"
	"slices"
)

// GoldSrc texture sides must be multiples of this.
const dimAlign = 16

// FitGoldSrc rounds each side down to a multiple of 16 (minimum 16) using
// nearest-neighbour sampling. Aligned images are returned unchanged.
func FitGoldSrc(img image.Image) image.Image {
	b := img.Bounds()
	w, h := alignDim(b.Dx()), alignDim(b.Dy())
	if w == b.Dx() && h == b.Dy() {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := b.Min.Y + y*b.Dy()/h
		for x := 0; x < w; x++ {
			sx := b.Min.X + x*b.Dx()/w
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	return dst
}

func alignDim(n int) int {
	n = n / dimAlign * dimAlign
	if n < dimAlign {
		return dimAlign
	}
	return n
}

type rgb [3]uint8

type bucket struct {
	c rgb
	n int
}

// Quantize reduces img to at most maxColors opaque colours. Images that
// already fit get an exact palette; larger ones use median cut with
// Floyd-Steinberg dithering. Alpha is discarded.
func Quantize(img image.Image, maxColors int) *image.Paletted {
	b := img.Bounds()
	flat := image.NewNRGBA(b)
	hist := make(map[rgb]int)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 255
			flat.SetNRGBA(x, y, c)
			hist[rgb{c.R, c.G, c.B}]++
		}
	}

	colors := make([]bucket, 0, len(hist))
	for c, n := range hist {
		colors = append(colors, bucket{c, n})
	}
	slices.SortFunc(colors, func(a, b bucket) int {
		return cmp.Or(cmp.Compare(a.c[0], b.c[0]), cmp.Compare(a.c[1], b.c[1]), cmp.Compare(a.c[2], b.c[2]))
	})

	dst := image.NewPaletted(b, nil)
	if len(colors) <= maxColors {
		dst.Palette = make(color.Palette, len(colors))
		for i, bk := range colors {
			dst.Palette[i] = color.NRGBA{bk.c[0], bk.c[1], bk.c[2], 255}
		}
		draw.Draw(dst, b, flat, b.Min, draw.Src)
		return dst
	}

	dst.Palette = medianCut(colors, maxColors)
	draw.FloydSteinberg.Draw(dst, b, flat, b.Min)
	return dst
}

func medianCut(colors []bucket, maxColors int) color.Palette {
	boxes := [][]bucket{colors}
	for len(boxes) < maxColors {
		i, ch := widestBox(boxes)
		if i < 0 {
			break
		}
		box := boxes[i]
		slices.SortStableFunc(box, func(a, b bucket) int { return cmp.Compare(a.c[ch], b.c[ch]) })

		total := 0
		for _, bk := range box {
			total += bk.n
		}
		split, acc := 1, 0
		for j, bk := range box[:len(box)-1] {
			acc += bk.n
			if acc*2 >= total {
				split = j + 1
				break
			}
		}
		boxes[i] = box[:split]
		boxes = append(boxes, box[split:])
	}

	pal := make(color.Palette, len(boxes))
	for i, box := range boxes {
		var sum [3]int
		n := 0
		for _, bk := range box {
			for k := range sum {
				sum[k] += int(bk.c[k]) * bk.n
			}
			n += bk.n
		}
		pal[i] = color.NRGBA{uint8(sum[0] / n), uint8(sum[1] / n), uint8(sum[2] / n), 255}
	}
	return pal
}

// widestBox returns the splittable box with the largest channel range and
// that channel, or -1 when every box holds a single colour.
func widestBox(boxes [][]bucket) (int, int) {
	best, bestCh, bestRange := -1, 0, -1
	for i, box := range boxes {
		if len(box) < 2 {
			continue
		}
		for ch := 0; ch < 3; ch++ {
			lo, hi := uint8(255), uint8(0)
			for _, bk := range box {
				lo = min(lo, bk.c[ch])
				hi = max(hi, bk.c[ch])
			}
			if r := int(hi) - int(lo); r > bestRange {
				best, bestCh, bestRange = i, ch, r
			}
		}
	}
	return best, bestCh
}
