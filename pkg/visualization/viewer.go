package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/draw"

	"dicomunpack/pkg/stats"
)

// Options controls how slices are exported as raster images
type Options struct {
	// Format is "jpg", "jpeg" or "png"
	Format string

	// Quality is the JPEG quality, 1-100
	Quality int

	// MaxSize bounds the longer image edge in pixels; 0 keeps the frame size
	MaxSize int
}

// Viewer renders DICOM frames as contrast-stretched grayscale images
type Viewer struct {
	opts Options
}

// NewViewer creates a viewer for the given export options
func NewViewer(opts Options) (*Viewer, error) {
	opts.Format = strings.ToLower(strings.TrimPrefix(opts.Format, "."))
	switch opts.Format {
	case "jpg", "jpeg", "png":
	default:
		return nil, fmt.Errorf("unsupported image format: %s (must be jpg or png)", opts.Format)
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = 90
	}
	if opts.MaxSize < 0 {
		return nil, fmt.Errorf("max size must be non-negative")
	}
	return &Viewer{opts: opts}, nil
}

// Format returns the file extension of exported images
func (v *Viewer) Format() string {
	return v.opts.Format
}

// FrameImages decodes every frame of ds into an image, in frame order.
func FrameImages(ds *dicom.Dataset) ([]image.Image, error) {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, err
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("pixel data has unexpected type %T", elem.Value.GetValue())
	}

	images := make([]image.Image, 0, len(info.Frames))
	for i := range info.Frames {
		img, err := info.Frames[i].GetImage()
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// Normalize stretches the intensities of img between summary.Min and
// summary.Max to the full 16-bit range.
func (v *Viewer) Normalize(img image.Image, summary stats.Summary) *image.Gray16 {
	bounds := img.Bounds()
	out := image.NewGray16(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	span := summary.Max - summary.Min

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			value := 0.0
			if span > 0 {
				value = (float64(g.Y) - summary.Min) / span
			}
			out.SetGray16(x-bounds.Min.X, y-bounds.Min.Y, color.Gray16{
				Y: uint16(math.Max(0, math.Min(65535, value*65535))),
			})
		}
	}
	return out
}

// Scale shrinks img so its longer edge is at most MaxSize, keeping the
// aspect ratio. Smaller images are returned unchanged.
func (v *Viewer) Scale(img image.Image) image.Image {
	bounds := img.Bounds()
	longest := bounds.Dx()
	if bounds.Dy() > longest {
		longest = bounds.Dy()
	}
	if v.opts.MaxSize == 0 || longest <= v.opts.MaxSize {
		return img
	}

	ratio := float64(v.opts.MaxSize) / float64(longest)
	w := int(math.Max(1, math.Round(float64(bounds.Dx())*ratio)))
	h := int(math.Max(1, math.Round(float64(bounds.Dy())*ratio)))
	dst := image.NewGray16(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// SaveSlice saves an image in the configured format
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	if v.opts.Format == "png" {
		err = png.Encode(file, img)
	} else {
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: v.opts.Quality})
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Export normalizes, scales and saves one frame
func (v *Viewer) Export(img image.Image, summary stats.Summary, filename string) error {
	return v.SaveSlice(v.Scale(v.Normalize(img, summary)), filename)
}

// PreviewPath returns the raster file written next to a slice file.
func (v *Viewer) PreviewPath(slicePath string) string {
	return strings.TrimSuffix(slicePath, ".dcm") + "." + v.opts.Format
}
