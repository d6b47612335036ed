package exportmodule

import (
	"image"

	"github.com/mantonx/exportra/internal/timeline"
)

// applyEffects runs an element's filter chain over the already-composited
// region of the frame, in chain order. Pixel loops are deliberately plain:
// the region is bounded by the canvas and the chain is short, so clarity
// wins over SIMD tricks here.
func applyEffects(frame *image.RGBA, region image.Rectangle, effects []timeline.Effect) {
	region = region.Intersect(frame.Bounds())
	if region.Empty() {
		return
	}

	for _, effect := range effects {
		switch effect.Kind {
		case timeline.EffectBrightness:
			applyLinear(frame, region, effect.Amount, 0)
		case timeline.EffectContrast:
			// scale around mid-gray
			applyLinear(frame, region, effect.Amount, 128*(1-effect.Amount))
		case timeline.EffectSaturation:
			applySaturation(frame, region, effect.Amount)
		case timeline.EffectGrayscale:
			applySaturation(frame, region, 0)
		case timeline.EffectBlur:
			applyBoxBlur(frame, region, int(effect.Amount))
		}
	}
}

// applyLinear maps every channel through v*scale+offset.
func applyLinear(frame *image.RGBA, region image.Rectangle, scale, offset float64) {
	for y := region.Min.Y; y < region.Max.Y; y++ {
		row := frame.Pix[frame.PixOffset(region.Min.X, y):frame.PixOffset(region.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			row[i] = clampByte(float64(row[i])*scale + offset)
			row[i+1] = clampByte(float64(row[i+1])*scale + offset)
			row[i+2] = clampByte(float64(row[i+2])*scale + offset)
		}
	}
}

// applySaturation interpolates each pixel between its luma and itself.
// amount 0 is grayscale, 1 is identity, >1 oversaturates.
func applySaturation(frame *image.RGBA, region image.Rectangle, amount float64) {
	for y := region.Min.Y; y < region.Max.Y; y++ {
		row := frame.Pix[frame.PixOffset(region.Min.X, y):frame.PixOffset(region.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			r, g, b := float64(row[i]), float64(row[i+1]), float64(row[i+2])
			luma := 0.299*r + 0.587*g + 0.114*b
			row[i] = clampByte(luma + (r-luma)*amount)
			row[i+1] = clampByte(luma + (g-luma)*amount)
			row[i+2] = clampByte(luma + (b-luma)*amount)
		}
	}
}

// applyBoxBlur runs a two-pass box blur over the region. Radius is in
// pixels; pixels outside the region contribute via edge clamping.
func applyBoxBlur(frame *image.RGBA, region image.Rectangle, radius int) {
	if radius < 1 {
		return
	}
	w, h := region.Dx(), region.Dy()
	tmp := make([]uint8, w*h*4)

	// horizontal pass: frame -> tmp
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sumR, sumG, sumB, sumA, n int
			for k := -radius; k <= radius; k++ {
				sx := clampInt(x+k, 0, w-1)
				off := frame.PixOffset(region.Min.X+sx, region.Min.Y+y)
				sumR += int(frame.Pix[off])
				sumG += int(frame.Pix[off+1])
				sumB += int(frame.Pix[off+2])
				sumA += int(frame.Pix[off+3])
				n++
			}
			off := (y*w + x) * 4
			tmp[off] = uint8(sumR / n)
			tmp[off+1] = uint8(sumG / n)
			tmp[off+2] = uint8(sumB / n)
			tmp[off+3] = uint8(sumA / n)
		}
	}

	// vertical pass: tmp -> frame
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sumR, sumG, sumB, sumA, n int
			for k := -radius; k <= radius; k++ {
				sy := clampInt(y+k, 0, h-1)
				off := (sy*w + x) * 4
				sumR += int(tmp[off])
				sumG += int(tmp[off+1])
				sumB += int(tmp[off+2])
				sumA += int(tmp[off+3])
				n++
			}
			off := frame.PixOffset(region.Min.X+x, region.Min.Y+y)
			frame.Pix[off] = uint8(sumR / n)
			frame.Pix[off+1] = uint8(sumG / n)
			frame.Pix[off+2] = uint8(sumB / n)
			frame.Pix[off+3] = uint8(sumA / n)
		}
	}
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
