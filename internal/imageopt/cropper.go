package imageopt

import (
	"image"

	"github.com/disintegration/imaging"
)

// CropResult is either a cropped region (Cropped true) or the abandoned
// full frame (Cropped false), per spec.md §4.2's abandonment rules.
type CropResult struct {
	Image   image.Image
	Cropped bool
	Box     image.Rectangle
}

const (
	meanDiffThreshold = 10.0 // per-channel mean difference considered "changed"
	minBoxSide        = 100 // abandon if either box dimension is under this
	maxBoxAreaFrac    = 0.8 // abandon if box covers more than this fraction of the frame
)

// Crop compares current against previous using a per-pixel RGB mean
// difference and returns the bounding box of changed pixels, expanded by
// margin on each side and clamped to current's bounds. If the computed box
// covers more than 80% of the frame or is smaller than 100px on either
// side, the crop is abandoned and current is returned unchanged
// (spec.md §4.2).
func Crop(current, previous image.Image, margin int) CropResult {
	if previous == nil {
		return CropResult{Image: current, Cropped: false}
	}

	bounds := current.Bounds()
	box, changed := changedBounds(current, previous)
	if !changed {
		return CropResult{Image: current, Cropped: false}
	}

	box = expandAndClamp(box, margin, bounds)

	area := float64(box.Dx() * box.Dy())
	frameArea := float64(bounds.Dx() * bounds.Dy())
	if frameArea == 0 || area/frameArea > maxBoxAreaFrac || box.Dx() < minBoxSide || box.Dy() < minBoxSide {
		return CropResult{Image: current, Cropped: false}
	}

	cropped := imaging.Crop(current, box)
	return CropResult{Image: cropped, Cropped: true, Box: box}
}

func changedBounds(current, previous image.Image) (image.Rectangle, bool) {
	bounds := current.Bounds()
	prevBounds := previous.Bounds()
	if bounds.Dx() != prevBounds.Dx() || bounds.Dy() != prevBounds.Dy() {
		// Dimension mismatch: treat the whole frame as changed.
		return bounds, true
	}

	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X, bounds.Min.Y
	found := false

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cr, cg, cb, _ := current.At(x, y).RGBA()
			pr, pg, pb, _ := previous.At(x-bounds.Min.X+prevBounds.Min.X, y-bounds.Min.Y+prevBounds.Min.Y).RGBA()
			meanDiff := (absDiff16(cr, pr) + absDiff16(cg, pg) + absDiff16(cb, pb)) / 3
			if meanDiff > meanDiffThreshold*257 { // rescale 8-bit threshold to 16-bit channel range
				found = true
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if !found {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

func absDiff16(a, b uint32) float64 {
	if a > b {
		return float64(a - b)
	}
	return float64(b - a)
}

func expandAndClamp(box image.Rectangle, margin int, clampTo image.Rectangle) image.Rectangle {
	box.Min.X -= margin
	box.Min.Y -= margin
	box.Max.X += margin
	box.Max.Y += margin
	return box.Intersect(clampTo)
}
