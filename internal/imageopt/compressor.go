package imageopt

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// CompressionLevel selects a row of the spec.md §4.2 4x3 table.
type CompressionLevel string

const (
	LevelUltra      CompressionLevel = "ultra"
	LevelAggressive CompressionLevel = "aggressive"
	LevelBalanced   CompressionLevel = "balanced"
	LevelQuality    CompressionLevel = "quality"
)

type tableEntry struct {
	qualityLow, qualityHigh int
	maxWidth, maxHeight     int
}

// compressionTable is the 4x3 (level x importance) lookup from spec.md
// §4.2. Within a level's quality range, importance picks the high end for
// ImportanceHigh and the low end for ImportanceLow, scaling linearly for
// ImportanceMedium.
var compressionTable = map[CompressionLevel]tableEntry{
	LevelUltra:      {30, 50, 600, 400},
	LevelAggressive: {40, 60, 800, 600},
	LevelBalanced:   {55, 75, 1280, 720},
	LevelQuality:    {75, 85, 1920, 1080},
}

func qualityFor(level CompressionLevel, importance Importance) int {
	entry, ok := compressionTable[level]
	if !ok {
		entry = compressionTable[LevelAggressive]
	}
	switch importance {
	case ImportanceHigh:
		return entry.qualityHigh
	case ImportanceLow:
		return entry.qualityLow
	default:
		return (entry.qualityLow + entry.qualityHigh) / 2
	}
}

// Compress resizes img (preserving aspect ratio via Lanczos, never
// upscaling) to fit within the level's max dimensions, then encodes as
// JPEG at a quality picked by importance, with EXIF stripped (a decoded
// image.Image carries no EXIF, and jpeg.Encode writes none).
//
// Failure policy (spec.md §4.2): on any error the caller should fall back
// to the original bytes; Compress itself only returns an error, it never
// panics or silently corrupts output.
func Compress(img image.Image, level CompressionLevel, importance Importance) ([]byte, error) {
	entry, ok := compressionTable[level]
	if !ok {
		entry = compressionTable[LevelAggressive]
	}

	resized := imaging.Fit(img, entry.maxWidth, entry.maxHeight, imaging.Lanczos)

	quality := qualityFor(level, importance)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// CompressWithFallback runs Compress and returns the original bytes
// unchanged if either classification or compression fails, per spec.md
// §4.2's "the pipeline never aborts a tick because one frame failed to
// optimize".
func CompressWithFallback(original []byte, level CompressionLevel) []byte {
	img, _, err := image.Decode(bytes.NewReader(original))
	if err != nil {
		return original
	}

	importance, recovered := safeClassify(img)
	if recovered {
		return original
	}
	out, err := Compress(img, level, importance)
	if err != nil {
		return original
	}
	return out
}

func safeClassify(img image.Image) (importance Importance, recovered bool) {
	defer func() {
		if r := recover(); r != nil {
			importance = ImportanceMedium
			recovered = true
		}
	}()
	importance, _ = Classify(img)
	return importance, false
}
