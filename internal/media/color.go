package media

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// RGB is an 8-bit sRGB color.
type RGB struct {
	R, G, B uint8
}

var (
	black = RGB{0, 0, 0}
	white = RGB{255, 255, 255}
)

// Lab is a CIE L*a*b* color.
type Lab struct {
	L, A, B float64
}

// D65 reference white scaled to 0..255 input.
const (
	refX = 244.66128
	refY = 255.0
	refZ = 277.63227
)

func labF(v float64) float64 {
	if v > 0.008856 {
		return math.Cbrt(v)
	}
	return (841.0/108.0)*v + 4.0/29.0
}

// ToLab converts c to L*a*b* via XYZ (sRGB working space, D65 white).
// Channels are used linearly, without gamma expansion.
func (c RGB) ToLab() Lab {
	r, g, b := float64(c.R), float64(c.G), float64(c.B)

	x := 0.412453*r + 0.357580*g + 0.189423*b
	y := 0.212671*r + 0.715160*g + 0.072169*b
	z := 0.019334*r + 0.119193*g + 0.950227*b

	fy := labF(y / refY)
	return Lab{
		L: 116*fy - 16,
		A: 500 * (labF(x/refX) - fy),
		B: 200 * (fy - labF(z/refZ)),
	}
}

// DeltaESquared is the squared CIE76 distance between two colors.
func DeltaESquared(c1, c2 RGB) float64 {
	l1, l2 := c1.ToLab(), c2.ToLab()
	dL := l1.L - l2.L
	da := l1.A - l2.A
	db := l1.B - l2.B
	return dL*dL + da*da + db*db
}

// DeltaE is the CIE76 distance between two colors.
func DeltaE(c1, c2 RGB) float64 {
	return math.Sqrt(DeltaESquared(c1, c2))
}

// FrameScore rates how far the dominant color is from both black and white.
// Frames that are mostly black (fades) or white (flashes, title cards)
// score low.
func FrameScore(dominant RGB) float64 {
	return DeltaESquared(black, dominant) * DeltaESquared(white, dominant)
}

const (
	histogramLevels = 16
	histogramWidth  = 256 / histogramLevels
	dominantSample  = 128
)

// DominantColor buckets pixels into a 16x16x16 histogram and returns the
// centre of the most populated bin. Large images are downscaled first.
func DominantColor(img image.Image) RGB {
	b := img.Bounds()
	if b.Dx() > dominantSample || b.Dy() > dominantSample {
		img = imaging.Fit(img, dominantSample, dominantSample, imaging.Box)
		b = img.Bounds()
	}

	var bins [histogramLevels * histogramLevels * histogramLevels]int
	best, bestCount := 0, -1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			idx := (int(c.R)/histogramWidth)*histogramLevels*histogramLevels +
				(int(c.G)/histogramWidth)*histogramLevels +
				int(c.B)/histogramWidth
			bins[idx]++
			if bins[idx] > bestCount {
				best, bestCount = idx, bins[idx]
			}
		}
	}
	if bestCount < 0 {
		return black
	}

	centre := func(level int) uint8 { return uint8(level*histogramWidth + histogramWidth/2) }
	return RGB{
		R: centre(best / (histogramLevels * histogramLevels)),
		G: centre(best / histogramLevels % histogramLevels),
		B: centre(best % histogramLevels),
	}
}
