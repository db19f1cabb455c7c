package service

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQRRenderer(t *testing.T) {
	renderer := NewQRRenderer(256)

	t.Run("renders a square png of the configured size", func(t *testing.T) {
		data, err := renderer.PNG("2@Xk3v9,abc,def,ghi")
		require.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 256, img.Bounds().Dx())
		assert.Equal(t, 256, img.Bounds().Dy())
	})

	t.Run("data url wraps base64 png", func(t *testing.T) {
		url, err := renderer.DataURL("2@Xk3v9,abc,def,ghi")
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(url, pngDataURLPrefix))

		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, pngDataURLPrefix))
		require.NoError(t, err)
		_, err = png.Decode(bytes.NewReader(raw))
		assert.NoError(t, err)
	})

	t.Run("rejects a size smaller than the code", func(t *testing.T) {
		_, err := NewQRRenderer(5).PNG("2@Xk3v9,abc,def,ghi")
		assert.Error(t, err)
	})
}
