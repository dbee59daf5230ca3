// Package embed turns raw image bytes into feature vectors.
package embed

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder

	"github.com/patrikhermansson/cbir/core"
)

// Embedder extracts a fixed-dimensionality vector from an encoded image.
type Embedder interface {
	Embed(ctx context.Context, data []byte) ([]float32, error)
	Dimension() int
}

// lbpPoints is the neighbourhood size of the texture descriptor. Uniform
// patterns map to 0..lbpPoints, everything else to lbpPoints+1.
const lbpPoints = 8

// lbpBins is the length of the texture histogram.
const lbpBins = lbpPoints + 2

// Histogram is a colour and texture descriptor: a normalized 3D RGB
// histogram followed by a normalized uniform LBP histogram, each scaled by
// its weight.
type Histogram struct {
	Bins          int     // bins per colour channel
	ColorWeight   float64 // scale of the colour histogram
	TextureWeight float64 // scale of the texture histogram
}

// NewHistogram returns the descriptor with 8 bins per channel and a 0.2/0.8
// colour/texture weighting.
func NewHistogram() *Histogram {
	return &Histogram{Bins: 8, ColorWeight: 0.2, TextureWeight: 0.8}
}

// Dimension returns Bins³ colour cells plus the texture bins.
func (h *Histogram) Dimension() int {
	return h.Bins*h.Bins*h.Bins + lbpBins
}

// Embed decodes a PNG, JPEG or GIF image and computes its descriptor.
func (h *Histogram) Embed(ctx context.Context, data []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.Bins < 1 || h.Bins > 256 {
		return nil, fmt.Errorf("%w: bins per channel must be in [1, 256], got %d", core.ErrEmbedding, h.Bins)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", core.ErrEmbedding, err)
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty %s image", core.ErrEmbedding, format)
	}

	width, height := b.Dx(), b.Dy()
	gray := make([]float64, width*height)
	color := make([]float64, h.Bins*h.Bins*h.Bins)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			r8, g8, b8 := int(r>>8), int(g>>8), int(bl>>8)
			ri, gi, bi := r8*h.Bins/256, g8*h.Bins/256, b8*h.Bins/256
			color[(ri*h.Bins+gi)*h.Bins+bi]++
			gray[y*width+x] = 0.299*float64(r8) + 0.587*float64(g8) + 0.114*float64(b8)
		}
	}
	texture := lbpHistogram(gray, width, height)

	out := make([]float32, 0, h.Dimension())
	out = appendScaled(out, color, h.ColorWeight)
	out = appendScaled(out, texture, h.TextureWeight)
	return out, nil
}

// neighbours are the 8 pixels at radius 1, in circular order.
var neighbours = [lbpPoints][2]int{
	{1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}, {0, 1}, {1, 1},
}

// lbpHistogram counts uniform local binary patterns over interior pixels.
func lbpHistogram(gray []float64, width, height int) []float64 {
	hist := make([]float64, lbpBins)
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			center := gray[y*width+x]
			var bits [lbpPoints]bool
			ones := 0
			for i, d := range neighbours {
				if gray[(y+d[1])*width+x+d[0]] >= center {
					bits[i] = true
					ones++
				}
			}
			transitions := 0
			for i := range bits {
				if bits[i] != bits[(i+1)%lbpPoints] {
					transitions++
				}
			}
			if transitions <= 2 {
				hist[ones]++
			} else {
				hist[lbpPoints+1]++
			}
		}
	}
	return hist
}

// appendScaled normalizes counts to sum 1, scales them by weight and appends
// them to out. An all-zero histogram stays zero.
func appendScaled(out []float32, counts []float64, weight float64) []float32 {
	var total float64
	for _, c := range counts {
		total += c
	}
	for _, c := range counts {
		v := 0.0
		if total > 0 {
			v = c / total * weight
		}
		out = append(out, float32(v))
	}
	return out
}

var _ Embedder = (*Histogram)(nil)
