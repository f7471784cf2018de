// Package stats summarizes the pixel intensities of a slice.
package stats

import (
	"image"
	"image/color"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds intensity statistics on the 16-bit gray scale
type Summary struct {
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"stdDev"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
	Pixels int     `yaml:"pixels"`
}

// Intensities returns the gray value of every pixel of img in row-major order.
func Intensities(img image.Image) []float64 {
	bounds := img.Bounds()
	values := make([]float64, 0, bounds.Dx()*bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			values = append(values, float64(g.Y))
		}
	}
	return values
}

// Describe computes the intensity summary of img. An empty image yields a
// zero Summary.
func Describe(img image.Image) Summary {
	values := Intensities(img)
	if len(values) == 0 {
		return Summary{}
	}

	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return Summary{
		Mean:   mean,
		StdDev: std,
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Pixels: len(values),
	}
}
