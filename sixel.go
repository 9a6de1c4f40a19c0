package zarrpeek

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"

	"github.com/ericpauley/go-quantize/quantize"
)

// DECSIXEL framing. The stream is: DCS q, raster attributes, one palette
// definition per color, then bands of six pixel rows where each used color
// makes one pass over the band ('$' rewinds within the band, '-' advances
// to the next band), terminated by ST. Pixel columns are encoded as
// characters '?'..'~' carrying six vertical bits, with '!' introducing
// run-length repeats.
const (
	sixelDCS = "\x1bP0;0;8q"
	sixelST  = "\x1b\\"
)

const sixelMaxColors = 256

// encodeSixel quantizes the image to at most 256 colors and writes the
// complete DECSIXEL frame.
func encodeSixel(w io.Writer, img image.Image) error {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return &TerminalError{Reason: "nothing to render"}
	}

	quantizer := quantize.MedianCutQuantizer{}
	palette := quantizer.Quantize(make(color.Palette, 0, sixelMaxColors), img)
	paletted := image.NewPaletted(bounds, palette)
	draw.FloydSteinberg.Draw(paletted, bounds, img, bounds.Min)

	out := bufio.NewWriter(w)
	out.WriteString(sixelDCS)
	fmt.Fprintf(out, "\"1;1;%d;%d", width, height)

	for i, c := range palette {
		r, g, b, _ := c.RGBA()
		fmt.Fprintf(out, "#%d;2;%d;%d;%d", i, sixelPercent(r), sixelPercent(g), sixelPercent(b))
	}

	for bandTop := 0; bandTop < height; bandTop += 6 {
		wrotePass := false
		for ci := range palette {
			if !bandUsesColor(paletted, bandTop, uint8(ci)) {
				continue
			}
			if wrotePass {
				out.WriteByte('$')
			}
			fmt.Fprintf(out, "#%d", ci)
			writeBandPass(out, paletted, bandTop, uint8(ci))
			wrotePass = true
		}
		out.WriteByte('-')
	}

	out.WriteString(sixelST)
	return out.Flush()
}

// sixelPercent scales a 16-bit color channel to the protocol's 0..100 range.
func sixelPercent(v uint32) int {
	return int((v*100 + 0x7fff) / 0xffff)
}

func bandUsesColor(img *image.Paletted, bandTop int, ci uint8) bool {
	bottom := minInt(bandTop+6, img.Bounds().Dy())
	for y := bandTop; y < bottom; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+img.Bounds().Dx()]
		for _, p := range row {
			if p == ci {
				return true
			}
		}
	}
	return false
}

// writeBandPass emits one color's pixels for one six-row band, run-length
// encoding repeated columns.
func writeBandPass(out *bufio.Writer, img *image.Paletted, bandTop int, ci uint8) {
	width := img.Bounds().Dx()
	bottom := minInt(bandTop+6, img.Bounds().Dy())

	runChar := byte(0)
	runLen := 0
	flush := func() {
		if runLen == 0 {
			return
		}
		if runLen > 3 {
			fmt.Fprintf(out, "!%d", runLen)
			out.WriteByte(runChar)
		} else {
			for i := 0; i < runLen; i++ {
				out.WriteByte(runChar)
			}
		}
		runLen = 0
	}

	for x := 0; x < width; x++ {
		bits := byte(0)
		for y := bandTop; y < bottom; y++ {
			if img.Pix[y*img.Stride+x] == ci {
				bits |= 1 << (y - bandTop)
			}
		}
		ch := '?' + bits
		if runLen > 0 && ch == runChar {
			runLen++
			continue
		}
		flush()
		runChar = ch
		runLen = 1
	}
	flush()
}
