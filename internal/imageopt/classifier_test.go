package imageopt

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func noisyImage(w, h int, seed int64) image.Image {
	r := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255})
		}
	}
	return img
}

func TestClassifySolidImageIsLowImportance(t *testing.T) {
	img := solidImage(64, 64, color.RGBA{128, 128, 128, 255})
	importance, features := Classify(img)
	assert.Equal(t, ImportanceLow, importance)
	assert.Zero(t, features.Contrast)
}

func TestClassifyNoisyImageIsHighImportance(t *testing.T) {
	img := noisyImage(64, 64, 42)
	importance, _ := Classify(img)
	assert.Equal(t, ImportanceHigh, importance)
}
