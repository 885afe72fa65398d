// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// sharpenKernel is the classic 3x3 SHARPEN filter; normalization divides
// by its sum (16).
var sharpenKernel = [9]float64{
	-2, -2, -2,
	-2, 32, -2,
	-2, -2, -2,
}

// Preprocess prepares a screenshot for OCR: grayscale, binarize at
// threshold (brighter than threshold becomes white, the rest black),
// median denoise with an odd window, then sharpen.
func Preprocess(img image.Image, threshold uint8, medianSize int) *image.NRGBA {
	gray := imaging.Grayscale(img)
	bw := imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		v := uint8(0)
		if c.R > threshold {
			v = 255
		}
		return color.NRGBA{R: v, G: v, B: v, A: 255}
	})
	denoised := medianFilter(bw, medianSize)
	return imaging.Convolve3x3(denoised, sharpenKernel, &imaging.ConvolveOptions{Normalize: true})
}

// PreprocessPNG decodes data, runs Preprocess, and re-encodes as PNG.
func PreprocessPNG(data []byte, threshold uint8, medianSize int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, Preprocess(img, threshold, medianSize), imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}

// medianFilter replaces each pixel with the median of its size×size
// neighborhood, clamping at the borders. The input is grayscale so only
// the red channel is ranked. size <= 1 returns a copy.
func medianFilter(src *image.NRGBA, size int) *image.NRGBA {
	if size <= 1 {
		return imaging.Clone(src)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	r := size / 2
	window := make([]uint8, 0, size*size)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			window = window[:0]
			for dy := -r; dy <= r; dy++ {
				yy := clamp(y+dy, 0, h-1)
				for dx := -r; dx <= r; dx++ {
					xx := clamp(x+dx, 0, w-1)
					window = append(window, src.Pix[src.PixOffset(b.Min.X+xx, b.Min.Y+yy)])
				}
			}
			insertionSort(window)
			v := window[len(window)/2]
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = v
			dst.Pix[i+1] = v
			dst.Pix[i+2] = v
			dst.Pix[i+3] = 255
		}
	}
	return dst
}

// insertionSort is fast for the tiny windows the filter ranks.
func insertionSort(a []uint8) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
