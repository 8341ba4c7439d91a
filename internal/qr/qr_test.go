package qr

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPNG(t *testing.T) {
	raw, err := PNG("sess-1|tok|1709539200", 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
}

func TestPNGRejectsEmpty(t *testing.T) {
	_, err := PNG("", 100)
	assert.Error(t, err)
}

func TestDataURL(t *testing.T) {
	u, err := DataURL("sess-1|tok|1709539200", 128)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "data:image/png;base64,"))
}
