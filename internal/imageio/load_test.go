package imageio

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Basilakis/kai-sub003/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestLoad_RGB(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})
	src.Set(2, 1, color.NRGBA{G: 10, B: 20, A: 255})

	img, err := Load(writePNG(t, src))
	require.NoError(t, err)

	assert.Equal(t, 3, img.Width)
	assert.Equal(t, 2, img.Height)
	assert.Equal(t, 3, img.Channels)
	assert.True(t, img.Valid())
	assert.Contains(t, img.Path, "sample.png")

	r, g, b := img.At(0, 0)
	assert.Equal(t, [3]uint8{255, 0, 0}, [3]uint8{r, g, b})
	r, g, b = img.At(2, 1)
	assert.Equal(t, [3]uint8{0, 10, 20}, [3]uint8{r, g, b})
}

func TestLoad_Gray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	src.SetGray(1, 1, color.Gray{Y: 200})

	img, err := Load(writePNG(t, src))
	require.NoError(t, err)
	assert.Equal(t, 1, img.Channels)

	r, g, b := img.At(1, 1)
	assert.Equal(t, [3]uint8{200, 200, 200}, [3]uint8{r, g, b})
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestDownsample(t *testing.T) {
	img := &types.Image{Width: 2, Height: 2, Channels: 1, Pix: []uint8{0, 100, 200, 100}}
	half := Downsample(img)
	assert.Equal(t, 1, half.Width)
	assert.Equal(t, []uint8{100}, half.Pix)

	tiny := &types.Image{Width: 1, Height: 1, Channels: 1, Pix: []uint8{7}}
	assert.Same(t, tiny, Downsample(tiny))
}
