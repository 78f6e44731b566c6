package imageopt

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPerceptualHashIdenticalImagesMatch(t *testing.T) {
	img1 := solidImage(64, 64, color.RGBA{100, 150, 200, 255})
	img2 := solidImage(64, 64, color.RGBA{100, 150, 200, 255})

	h1 := HashString(PerceptualHash(img1))
	h2 := HashString(PerceptualHash(img2))

	dist, ok := Distance(h1, h2)
	assert.True(t, ok)
	assert.Equal(t, 0, dist)
}

func checkerboard(w, h, cell int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
			} else {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	return img
}

func TestPerceptualHashDifferentImagesDiverge(t *testing.T) {
	boardA := checkerboard(64, 64, 8)
	boardB := checkerboard(64, 64, 4)

	h1 := HashString(PerceptualHash(boardA))
	h2 := HashString(PerceptualHash(boardB))

	dist, ok := Distance(h1, h2)
	assert.True(t, ok)
	assert.Greater(t, dist, 0)
}

func TestDistanceRejectsMalformedHashes(t *testing.T) {
	_, ok := Distance("not-a-hash", "alsobad")
	assert.False(t, ok)
}
