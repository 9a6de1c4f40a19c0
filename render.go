package zarrpeek

import (
	"image"
	"io"
	"log"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/term"
)

// Protocol is the terminal graphics capability the renderer drives.
type Protocol uint8

const (
	// ProtocolAuto probes the terminal and picks the best protocol.
	ProtocolAuto Protocol = iota
	// ProtocolSixel emits a DECSIXEL bitmap.
	ProtocolSixel
	// ProtocolCells emits half-block cells with 24-bit ANSI colors.
	ProtocolCells
	// ProtocolUnsupported means no usable graphics capability.
	ProtocolUnsupported
)

func (p Protocol) String() string {
	switch p {
	case ProtocolAuto:
		return "auto"
	case ProtocolSixel:
		return "sixel"
	case ProtocolCells:
		return "cells"
	default:
		return "unsupported"
	}
}

// ParseProtocol maps a user-facing protocol name onto the enumeration.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "", "auto":
		return ProtocolAuto, nil
	case "sixel":
		return ProtocolSixel, nil
	case "cells", "blocks":
		return ProtocolCells, nil
	default:
		return ProtocolUnsupported, &TerminalError{Reason: "unknown protocol " + s + " (want auto, sixel or cells)"}
	}
}

// sixelTerms are TERM values of emulators known to speak sixel.
var sixelTerms = map[string]bool{
	"mlterm":         true,
	"yaft":           true,
	"yaft-256color":  true,
	"foot":           true,
	"foot-extra":     true,
	"xterm-sixel":    true,
	"contour":        true,
	"contour-latest": true,
}

// sixelPrograms are TERM_PROGRAM values of emulators known to speak sixel.
var sixelPrograms = map[string]bool{
	"WezTerm":   true,
	"mintty":    true,
	"iTerm.app": true,
}

// DetectProtocol is a pure capability probe over the environment: sixel
// when the emulator is known to support it, half-block cells when color
// output is plausible, unsupported otherwise. getenv is injectable for
// tests; pass os.Getenv.
func DetectProtocol(getenv func(string) string) Protocol {
	termName := getenv("TERM")
	if termName == "" || termName == "dumb" {
		return ProtocolUnsupported
	}
	if sixelTerms[termName] || strings.Contains(termName, "sixel") || sixelPrograms[getenv("TERM_PROGRAM")] {
		return ProtocolSixel
	}
	return ProtocolCells
}

// Cell pixel geometry assumed when the terminal cannot be asked. These
// match the common 8x16 raster of modern emulators.
const (
	cellPixelWidth  = 8
	cellPixelHeight = 16
)

// Renderer serializes an RGB plane into terminal protocol bytes. It is a
// one-way encoder: nothing in user data is interpreted, only packed.
type Renderer struct {
	Out      io.Writer
	Protocol Protocol
	// Cols and Rows bound the output in terminal cells; zero values are
	// filled from the controlling terminal, falling back to 80x24.
	Cols int
	Rows int
	Log  *log.Logger

	getenv func(string) string
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{Out: out, Protocol: ProtocolAuto, Log: log.New(io.Discard, "", 0)}
}

// Render downsamples the plane to fit the terminal and writes the protocol
// byte stream. The plane is consumed; callers must not touch it after.
func (r *Renderer) Render(rgb *RGBPlane) error {
	if r.Out == nil {
		return &TerminalError{Reason: "no output writer"}
	}
	if r.Log == nil {
		r.Log = log.New(io.Discard, "", 0)
	}
	getenv := r.getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	proto := r.Protocol
	if proto == ProtocolAuto {
		proto = DetectProtocol(getenv)
	}
	if proto == ProtocolUnsupported {
		return &TerminalError{Reason: "no usable terminal graphics capability detected; set TERM to a sixel or color-capable terminal, or force --protocol"}
	}

	cols, rows := r.Cols, r.Rows
	if cols <= 0 || rows <= 0 {
		cols, rows = terminalSize()
	}

	img := rgbToImage(rgb)
	switch proto {
	case ProtocolSixel:
		// keep one cell row free so the prompt does not scroll the image
		fitted := fitDown(img, cols*cellPixelWidth, (rows-1)*cellPixelHeight)
		r.Log.Printf("rendering %dx%d sixel bitmap", fitted.Bounds().Dx(), fitted.Bounds().Dy())
		return encodeSixel(r.Out, fitted)
	default:
		fitted := fitDown(img, cols, (rows-1)*2)
		r.Log.Printf("rendering %dx%d half-block cells", fitted.Bounds().Dx(), (fitted.Bounds().Dy()+1)/2)
		return encodeCells(r.Out, fitted)
	}
}

func terminalSize() (cols, rows int) {
	cols, rows = 80, 24
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && h > 0 {
		cols, rows = w, h
	}
	return cols, rows
}

func rgbToImage(p *RGBPlane) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, p.Width, p.Height))
	for y := 0; y < p.Height; y++ {
		src := p.Pix[3*y*p.Width : 3*(y+1)*p.Width]
		dst := img.Pix[y*img.Stride : y*img.Stride+4*p.Width]
		for x := 0; x < p.Width; x++ {
			dst[4*x] = src[3*x]
			dst[4*x+1] = src[3*x+1]
			dst[4*x+2] = src[3*x+2]
			dst[4*x+3] = 0xff
		}
	}
	return img
}

func fitDown(img *image.NRGBA, maxW, maxH int) *image.NRGBA {
	if maxW < 1 {
		maxW = 1
	}
	if maxH < 1 {
		maxH = 1
	}
	if img.Bounds().Dx() <= maxW && img.Bounds().Dy() <= maxH {
		return img
	}
	return imaging.Fit(img, maxW, maxH, imaging.Lanczos)
}
