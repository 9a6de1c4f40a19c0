package zarrpeek

import (
	"bufio"
	"fmt"
	"image"
	"io"
)

// encodeCells renders the image at character-cell resolution: each cell
// shows two vertically stacked pixels through the upper-half-block glyph,
// top pixel as foreground and bottom pixel as background, using 24-bit SGR
// color escapes. Works on any truecolor-capable terminal.
func encodeCells(w io.Writer, img *image.NRGBA) error {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return &TerminalError{Reason: "nothing to render"}
	}

	out := bufio.NewWriter(w)
	for y := 0; y < height; y += 2 {
		if y > 0 {
			out.WriteString("\x1b[0m\n")
		}
		for x := 0; x < width; x++ {
			top := img.NRGBAAt(bounds.Min.X+x, bounds.Min.Y+y)
			if y+1 >= height {
				// odd final row has no bottom pixel
				fmt.Fprintf(out, "\x1b[38;2;%d;%d;%dm\x1b[49m▀", top.R, top.G, top.B)
				continue
			}
			bottom := img.NRGBAAt(bounds.Min.X+x, bounds.Min.Y+y+1)
			fmt.Fprintf(out, "\x1b[38;2;%d;%d;%dm\x1b[48;2;%d;%d;%dm▀",
				top.R, top.G, top.B, bottom.R, bottom.G, bottom.B)
		}
	}
	out.WriteString("\x1b[0m\n")
	return out.Flush()
}
