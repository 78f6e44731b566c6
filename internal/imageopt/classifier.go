package imageopt

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Importance is the three-way bucket the classifier assigns an image to
// (spec.md §4.2).
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

const classifierSide = 32

// Features holds the three normalized 0-100 signals the classifier
// combines into an importance score.
type Features struct {
	Contrast   float64
	Complexity float64
	EdgeDensity float64
}

// Score is the weighted sum spec.md §4.2 defines: 0.4*contrast +
// 0.3*complexity + 0.3*edges.
func (f Features) Score() float64 {
	return 0.4*f.Contrast + 0.3*f.Complexity + 0.3*f.EdgeDensity
}

// Classify downsamples img to 32x32 luminance, computes Features, and maps
// the weighted score to an Importance bucket at thresholds 60 and 30.
func Classify(img image.Image) (Importance, Features) {
	small := imaging.Resize(img, classifierSide, classifierSide, imaging.Lanczos)
	lum := lumGrid(small)

	f := Features{
		Contrast:    contrastOf(lum),
		Complexity:  complexityOf(lum),
		EdgeDensity: edgeDensityOf(lum),
	}

	score := f.Score()
	switch {
	case score >= 60:
		return ImportanceHigh, f
	case score >= 30:
		return ImportanceMedium, f
	default:
		return ImportanceLow, f
	}
}

func lumGrid(img image.Image) [classifierSide][classifierSide]float64 {
	var grid [classifierSide][classifierSide]float64
	b := img.Bounds()
	for y := 0; y < classifierSide; y++ {
		for x := 0; x < classifierSide; x++ {
			grid[y][x] = luminance(img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return grid
}

// contrastOf is the standard deviation of luminance, normalized to 0-100
// (16-bit luminance values range 0-65535, so the largest possible standard
// deviation is 32767.5, which maps to 100).
func contrastOf(lum [classifierSide][classifierSide]float64) float64 {
	n := float64(classifierSide * classifierSide)
	var mean float64
	for _, row := range lum {
		for _, v := range row {
			mean += v
		}
	}
	mean /= n

	var variance float64
	for _, row := range lum {
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
	}
	variance /= n
	stddev := math.Sqrt(variance)
	return clamp0to100(stddev / 327.675) // 32767.5 * 1% = normalize into 0-100
}

// complexityOf is the mean absolute first-difference across rows and
// columns, normalized to 0-100.
func complexityOf(lum [classifierSide][classifierSide]float64) float64 {
	var sum float64
	var count int
	for y := 0; y < classifierSide; y++ {
		for x := 1; x < classifierSide; x++ {
			sum += math.Abs(lum[y][x] - lum[y][x-1])
			count++
		}
	}
	for x := 0; x < classifierSide; x++ {
		for y := 1; y < classifierSide; y++ {
			sum += math.Abs(lum[y][x] - lum[y-1][x])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	mean := sum / float64(count)
	return clamp0to100(mean / 655.35)
}

// edgeDensityOf approximates a Sobel-style edge filter with a simple
// 4-neighbor gradient magnitude and reports the fraction of pixels whose
// magnitude exceeds a fixed threshold, normalized to 0-100.
func edgeDensityOf(lum [classifierSide][classifierSide]float64) float64 {
	const threshold = 50.0 * 257 // rescale the spec's 8-bit "> 50" threshold to 16-bit luminance
	var edgeCount int
	var total int
	for y := 1; y < classifierSide-1; y++ {
		for x := 1; x < classifierSide-1; x++ {
			gx := lum[y][x+1] - lum[y][x-1]
			gy := lum[y+1][x] - lum[y-1][x]
			mag := math.Sqrt(gx*gx + gy*gy)
			if mag > threshold {
				edgeCount++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return clamp0to100(100 * float64(edgeCount) / float64(total))
}

func clamp0to100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
