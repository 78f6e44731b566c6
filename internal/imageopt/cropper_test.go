package imageopt

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCropReturnsFullFrameWhenNoPrevious(t *testing.T) {
	current := solidImage(200, 200, color.RGBA{10, 10, 10, 255})
	result := Crop(current, nil, 10)
	assert.False(t, result.Cropped)
	assert.Equal(t, current, result.Image)
}

func TestCropFindsSmallChangedRegion(t *testing.T) {
	previous := solidImage(400, 400, color.RGBA{0, 0, 0, 255})
	current := image.NewRGBA(previous.Bounds())
	for y := 0; y < 400; y++ {
		for x := 0; x < 400; x++ {
			current.Set(x, y, color.RGBA{0, 0, 0, 255})
		}
	}
	// Paint a 150x150 changed block, large enough to clear minBoxSide
	// after margin expansion but well under the 80% abandonment threshold.
	for y := 100; y < 250; y++ {
		for x := 100; x < 250; x++ {
			current.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}

	result := Crop(current, previous, 5)
	assert.True(t, result.Cropped)
	assert.Less(t, result.Box.Dx(), 400)
	assert.Less(t, result.Box.Dy(), 400)
}

func TestCropAbandonsWhenChangeCoversMostOfFrame(t *testing.T) {
	previous := solidImage(200, 200, color.RGBA{0, 0, 0, 255})
	current := solidImage(200, 200, color.RGBA{255, 255, 255, 255})

	result := Crop(current, previous, 5)
	assert.False(t, result.Cropped)
}
