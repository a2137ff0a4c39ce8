// Package imageio decodes image files into raw pixel buffers
package imageio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/Basilakis/kai-sub003/pkg/types"
)

// Load reads and decodes the image at path into an RGB buffer
func Load(path string) (*types.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	img.Path = path
	return img, nil
}

// Decode reads any registered image format and converts it to 8-bit RGB.
// Grayscale sources keep a single channel.
func Decode(r io.Reader) (*types.Image, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	return FromImage(src)
}

// FromImage converts a decoded image.Image into a types.Image
func FromImage(src image.Image) (*types.Image, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, types.ErrEmptyImage
	}

	switch g := src.(type) {
	case *image.Gray:
		pix := make([]uint8, w*h)
		for y := 0; y < h; y++ {
			copy(pix[y*w:(y+1)*w], g.Pix[y*g.Stride:y*g.Stride+w])
		}
		return &types.Image{Width: w, Height: h, Channels: 1, Pix: pix}, nil
	}

	pix := make([]uint8, w*h*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			pix[i], pix[i+1], pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return &types.Image{Width: w, Height: h, Channels: 3, Pix: pix}, nil
}

// Downsample halves the image resolution by averaging 2x2 blocks
func Downsample(img *types.Image) *types.Image {
	w, h := img.Width/2, img.Height/2
	if w == 0 || h == 0 {
		return img
	}
	ch := img.Channels
	out := &types.Image{Width: w, Height: h, Channels: ch, Pix: make([]uint8, w*h*ch), Path: img.Path}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < ch; c++ {
				sum := int(img.Pix[((2*y)*img.Width+2*x)*ch+c]) +
					int(img.Pix[((2*y)*img.Width+2*x+1)*ch+c]) +
					int(img.Pix[((2*y+1)*img.Width+2*x)*ch+c]) +
					int(img.Pix[((2*y+1)*img.Width+2*x+1)*ch+c])
				out.Pix[(y*w+x)*ch+c] = uint8(sum / 4)
			}
		}
	}
	return out
}
