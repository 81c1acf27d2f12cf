// Package qr renders join and challenge URLs as QR images.
package qr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	MinWidth     = 128
	MaxWidth     = 900
	DefaultWidth = 320
)

// Format is an output image format.
type Format string

const (
	PNG Format = "png"
	SVG Format = "svg"
)

var ErrEmptyContent = errors.New("qr content is empty")

// ParseFormat maps a query value onto a format, using fallback for anything
// unrecognised.
func ParseFormat(raw string, fallback Format) Format {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case PNG:
		return PNG
	case SVG:
		return SVG
	default:
		return fallback
	}
}

// ClampWidth parses a width query value and clamps it to [MinWidth, MaxWidth].
func ClampWidth(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		f, ferr := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if ferr != nil {
			return DefaultWidth
		}
		n = int(f)
	}
	return min(MaxWidth, max(MinWidth, n))
}

// Image is a rendered QR code.
type Image struct {
	ContentType string
	Body        []byte
}

// Render encodes content at medium error correction.
func Render(content string, format Format, width int) (*Image, error) {
	if content == "" {
		return nil, ErrEmptyContent
	}
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encoding qr: %w", err)
	}

	if format == PNG {
		body, err := code.PNG(width)
		if err != nil {
			return nil, fmt.Errorf("rendering png: %w", err)
		}
		return &Image{ContentType: "image/png", Body: body}, nil
	}
	return &Image{
		ContentType: "image/svg+xml; charset=utf-8",
		Body:        []byte(renderSVG(code.Bitmap(), width)),
	}, nil
}

// renderSVG draws one path segment per dark module in a viewBox measured in
// modules, scaled to width pixels.
func renderSVG(bitmap [][]bool, width int) string {
	size := len(bitmap)
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`,
		width, width, size, size)
	fmt.Fprintf(&b, `<path fill="#ffffff" d="M0 0h%dv%dH0z"/>`, size, size)
	b.WriteString(`<path stroke="#000000" d="`)
	for y, row := range bitmap {
		for x := 0; x < len(row); x++ {
			if !row[x] {
				continue
			}
			run := 1
			for x+run < len(row) && row[x+run] {
				run++
			}
			fmt.Fprintf(&b, "M%d %d.5h%d", x, y, run)
			x += run - 1
		}
	}
	b.WriteString(`"/></svg>`)
	return b.String()
}
