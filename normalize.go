package zarrpeek

import (
	"math"
	"sort"
)

// Default quantile cutoffs for autocontrast: near the extremes, but
// excluding outlier tails.
const (
	DefaultLowQuantile  = 0.001
	DefaultHighQuantile = 0.999
)

// DisplayRange is the sample interval mapped onto full display intensity
// for one channel. Computed once per render, immutable after.
type DisplayRange struct {
	Low  float32
	High float32
}

func (r DisplayRange) degenerate() bool {
	return !(r.High > r.Low) // also true when either bound is NaN
}

// AutoRange picks a display range from the plane's value distribution by
// nearest-rank quantiles. Non-finite samples are skipped. A constant or
// empty plane yields a degenerate range, which Composite maps to flat
// mid-gray.
func AutoRange(p *Plane, lowQ, highQ float64) DisplayRange {
	finite := make([]float32, 0, len(p.Pix))
	for _, v := range p.Pix {
		if f64 := float64(v); !math.IsNaN(f64) && !math.IsInf(f64, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return DisplayRange{}
	}
	sort.Slice(finite, func(i, j int) bool { return finite[i] < finite[j] })
	return DisplayRange{
		Low:  finite[nearestRank(lowQ, len(finite))],
		High: finite[nearestRank(highQ, len(finite))],
	}
}

func nearestRank(q float64, n int) int {
	idx := int(math.Round(q * float64(n-1)))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// RGB is one display color of the compositing palette.
type RGB struct {
	R, G, B uint8
}

// DefaultPalette returns the display colors assigned to n channels: a
// single channel renders grayscale, multiple channels cycle through an
// additive-friendly palette.
func DefaultPalette(n int) []RGB {
	if n <= 1 {
		return []RGB{{255, 255, 255}}
	}
	cycle := []RGB{
		{255, 0, 0},
		{0, 255, 0},
		{0, 128, 255},
		{255, 0, 255},
		{255, 255, 0},
		{0, 255, 255},
	}
	out := make([]RGB, n)
	for i := range out {
		out[i] = cycle[i%len(cycle)]
	}
	return out
}

// Composite maps each channel plane to display intensity and blends them
// additively into one RGB plane, clamping each output channel. ranges may
// be nil (autocontrast everything) or hold one entry per plane where a
// degenerate entry means "compute automatically". colors may be nil for the
// default palette.
//
// A channel whose own range is degenerate (a constant plane) contributes a
// flat mid-gray intensity instead of failing; only structurally unusable
// input (no planes, zero-size planes, mismatched sizes) is an error.
func Composite(planes []*Plane, ranges []DisplayRange, colors []RGB, lowQ, highQ float64) (*RGBPlane, error) {
	if len(planes) == 0 {
		return nil, &NormalizationError{Reason: "no channel planes"}
	}
	w, h := planes[0].Width, planes[0].Height
	if w <= 0 || h <= 0 {
		return nil, &NormalizationError{Reason: "zero-size plane"}
	}
	for _, p := range planes[1:] {
		if p.Width != w || p.Height != h {
			return nil, &NormalizationError{Reason: "channel planes disagree in size"}
		}
	}
	if colors == nil {
		colors = DefaultPalette(len(planes))
	}
	if lowQ == 0 && highQ == 0 {
		lowQ, highQ = DefaultLowQuantile, DefaultHighQuantile
	}

	out := NewRGBPlane(w, h)
	acc := make([]float32, 3*w*h)
	for ci, p := range planes {
		r := DisplayRange{}
		if ci < len(ranges) {
			r = ranges[ci]
		}
		if r.degenerate() {
			r = AutoRange(p, lowQ, highQ)
		}
		color := colors[ci%len(colors)]
		for i, v := range p.Pix {
			t := intensity(v, r)
			acc[3*i] += t * float32(color.R)
			acc[3*i+1] += t * float32(color.G)
			acc[3*i+2] += t * float32(color.B)
		}
	}
	for i, v := range acc {
		if v > 255 {
			v = 255
		}
		if v < 0 || v != v { // negative or NaN
			v = 0
		}
		out.Pix[i] = uint8(v)
	}
	return out, nil
}

// intensity maps one sample into [0, 1] against the display range. A
// degenerate range (constant plane) maps everything to mid-gray rather than
// dividing by zero.
func intensity(v float32, r DisplayRange) float32 {
	if r.degenerate() {
		return 0.5
	}
	if v != v { // NaN renders black
		return 0
	}
	if v < r.Low {
		v = r.Low
	}
	if v > r.High {
		v = r.High
	}
	return (v - r.Low) / (r.High - r.Low)
}
