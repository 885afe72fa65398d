// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ocr

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPreprocess_Threshold(t *testing.T) {
	tests := []struct {
		name string
		in   uint8
		want uint8
	}{
		{"bright becomes white", 200, 255},
		{"at threshold becomes black", 150, 0},
		{"dark stays black", 40, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solid(5, 5, color.Gray{Y: tt.in})
			out := Preprocess(img, 150, 3)
			// A uniform image is unchanged by median and sharpen.
			assert.Equal(t, tt.want, out.NRGBAAt(2, 2).R)
		})
	}
}

func TestMedianFilter_RemovesSpeck(t *testing.T) {
	img := solid(5, 5, color.White)
	img.Set(2, 2, color.Black)

	out := medianFilter(img, 3)
	assert.Equal(t, uint8(255), out.NRGBAAt(2, 2).R)
	assert.Equal(t, image.Rect(0, 0, 5, 5), out.Bounds())

	kept := medianFilter(img, 1)
	assert.Equal(t, uint8(0), kept.NRGBAAt(2, 2).R, "window 1 is the identity")
}

func TestMedianFilter_KeepsEdges(t *testing.T) {
	img := solid(6, 6, color.White)
	for y := 0; y < 6; y++ {
		for x := 0; x < 3; x++ {
			img.Set(x, y, color.Black)
		}
	}
	out := medianFilter(img, 3)
	assert.Equal(t, uint8(0), out.NRGBAAt(2, 3).R)
	assert.Equal(t, uint8(255), out.NRGBAAt(3, 3).R)
	assert.Equal(t, uint8(0), out.NRGBAAt(0, 0).R, "border pixels clamp")
}

func TestPreprocessPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(8, 4, color.RGBA{R: 250, G: 250, B: 250, A: 255})))

	out, err := PreprocessPNG(buf.Bytes(), 150, 3)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())

	_, err = PreprocessPNG([]byte("not an image"), 150, 3)
	assert.Error(t, err)
}

func TestInsertionSort(t *testing.T) {
	a := []uint8{9, 3, 7, 1, 255, 0, 3}
	insertionSort(a)
	assert.Equal(t, []uint8{0, 1, 3, 3, 7, 9, 255}, a)
}
