package cmd

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThumbnailPath(t *testing.T) {
	require.Equal(t, "/out/poster.thumb.jpg", thumbnailPath("/out", "poster.png", "thumb", "jpeg"))
	require.Equal(t, "/out/poster.thumb.png", thumbnailPath("/out", "poster.jpeg", "thumb", "png"))
}

func TestHasThumbSuffix(t *testing.T) {
	require.True(t, hasThumbSuffix("poster.thumb.jpg", "thumb"))
	require.True(t, hasThumbSuffix("Poster.THUMB.png", "thumb"))
	require.False(t, hasThumbSuffix("poster.jpg", "thumb"))
	require.False(t, hasThumbSuffix("thumbnail-guide.jpg", "thumb"))
}

func TestWriteThumbnailShrinksImage(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "poster.png")
	outPath := filepath.Join(dir, "poster.thumb.jpg")

	img := image.NewRGBA(image.Rect(0, 0, 1000, 1500))
	f, err := os.Create(inPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	require.NoError(t, writeThumbnail(inPath, outPath, 200, "jpeg", 80))

	outInfo, err := os.Stat(outPath)
	require.NoError(t, err)
	require.Greater(t, outInfo.Size(), int64(0))
}
