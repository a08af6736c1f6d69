//go:build linux

package capture

import (
	"fmt"

	"github.com/smazurov/linuxav/pkg/linuxav/v4l2"
)

// Eight vertical bars, 75% intensity, in the usual order.
var barsRGB = [8][3]uint8{
	{191, 191, 191}, // white
	{191, 191, 0},   // yellow
	{0, 191, 191},   // cyan
	{0, 191, 0},     // green
	{191, 0, 191},   // magenta
	{191, 0, 0},     // red
	{0, 0, 191},     // blue
	{0, 0, 0},       // black
}

// PatternFill returns a FillFunc drawing color bars that scroll one bar
// width every len(barsRGB) frames. Only packed YUYV and RGB32 are supported.
func PatternFill(f v4l2.PixFormat) (FillFunc, error) {
	if f.Width == 0 || f.Height == 0 {
		return nil, fmt.Errorf("invalid pattern size %dx%d", f.Width, f.Height)
	}

	var bpp int
	switch f.PixelFormat {
	case v4l2.PixFmtYUYV:
		bpp = 2
	case v4l2.PixFmtRGB32:
		bpp = 4
	default:
		return nil, fmt.Errorf("unsupported pattern format %s", v4l2.FormatFourCC(f.PixelFormat))
	}

	width, height := int(f.Width), int(f.Height)
	stride := int(f.BytesPerLine)
	if stride < width*bpp {
		stride = width * bpp
	}
	size := stride * height

	return func(buf []byte, n int) (int, error) {
		if len(buf) < size {
			return 0, fmt.Errorf("buffer holds %d bytes, frame needs %d", len(buf), size)
		}
		barWidth := max(width/len(barsRGB), 1)
		shift := (n % len(barsRGB)) * barWidth

		for y := range height {
			row := buf[y*stride : y*stride+width*bpp]
			if f.PixelFormat == v4l2.PixFmtYUYV {
				fillYUYVRow(row, width, barWidth, shift)
			} else {
				fillRGB32Row(row, width, barWidth, shift)
			}
		}
		return size, nil
	}, nil
}

func barAt(x, width, barWidth, shift int) [3]uint8 {
	i := ((x + shift) % width) / barWidth
	if i >= len(barsRGB) {
		i = len(barsRGB) - 1
	}
	return barsRGB[i]
}

func fillRGB32Row(row []byte, width, barWidth, shift int) {
	for x := range width {
		c := barAt(x, width, barWidth, shift)
		// V4L2_PIX_FMT_RGB32 is stored as B, G, R, A.
		row[x*4+0] = c[2]
		row[x*4+1] = c[1]
		row[x*4+2] = c[0]
		row[x*4+3] = 0xff
	}
}

func fillYUYVRow(row []byte, width, barWidth, shift int) {
	for x := 0; x+1 < width; x += 2 {
		y0, u, v := rgbToYUV(barAt(x, width, barWidth, shift))
		y1, _, _ := rgbToYUV(barAt(x+1, width, barWidth, shift))
		row[x*2+0] = y0
		row[x*2+1] = u
		row[x*2+2] = y1
		row[x*2+3] = v
	}
}

// rgbToYUV converts to BT.601 limited range.
func rgbToYUV(c [3]uint8) (y, u, v uint8) {
	r, g, b := int(c[0]), int(c[1]), int(c[2])
	y = uint8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
	u = uint8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
	v = uint8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
	return y, u, v
}
