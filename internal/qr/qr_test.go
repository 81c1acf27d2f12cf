package qr

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampWidth(t *testing.T) {
	assert.Equal(t, DefaultWidth, ClampWidth(""))
	assert.Equal(t, DefaultWidth, ClampWidth("wide"))
	assert.Equal(t, MinWidth, ClampWidth("10"))
	assert.Equal(t, MaxWidth, ClampWidth("5000"))
	assert.Equal(t, 400, ClampWidth("400"))
	assert.Equal(t, 400, ClampWidth("400.7"))
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, PNG, ParseFormat("PNG", SVG))
	assert.Equal(t, SVG, ParseFormat("svg", PNG))
	assert.Equal(t, PNG, ParseFormat("gif", PNG))
	assert.Equal(t, SVG, ParseFormat("", SVG))
}

func TestRenderPNG(t *testing.T) {
	img, err := Render("http://localhost:3000/join/abc?t=token", PNG, 256)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.True(t, bytes.HasPrefix(img.Body, []byte("\x89PNG")))
}

func TestRenderSVG(t *testing.T) {
	img, err := Render("http://localhost:3000/challenge/xyz", SVG, 300)
	require.NoError(t, err)
	assert.Equal(t, "image/svg+xml; charset=utf-8", img.ContentType)
	body := string(img.Body)
	assert.True(t, strings.HasPrefix(body, "<svg"))
	assert.Contains(t, body, `width="300"`)
	assert.True(t, strings.HasSuffix(body, "</svg>"))
}

func TestRenderEmpty(t *testing.T) {
	_, err := Render("", SVG, 300)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestRenderSVGMergesRuns(t *testing.T) {
	svg := renderSVG([][]bool{{true, true, false, true}}, 128)
	assert.Contains(t, svg, "M0 0.5h2")
	assert.Contains(t, svg, "M3 0.5h1")
}
