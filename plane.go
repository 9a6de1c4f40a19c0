package zarrpeek

// Plane is a dense row-major 2-D buffer of float32 display samples, the
// product of the fetch engine for one channel. Ownership moves through the
// pipeline; no two stages hold a live mutable reference at once.
type Plane struct {
	Width  int
	Height int
	Pix    []float32
}

func NewPlane(width, height int) *Plane {
	return &Plane{Width: width, Height: height, Pix: make([]float32, width*height)}
}

func (p *Plane) At(y, x int) float32 { return p.Pix[y*p.Width+x] }

func (p *Plane) Set(y, x int, v float32) { p.Pix[y*p.Width+x] = v }

func (p *Plane) Fill(v float32) {
	for i := range p.Pix {
		p.Pix[i] = v
	}
}

// RGBPlane is a dense row-major 2-D buffer of 8-bit RGB triples, the product
// of normalization and compositing.
type RGBPlane struct {
	Width  int
	Height int
	Pix    []uint8 // 3 bytes per pixel
}

func NewRGBPlane(width, height int) *RGBPlane {
	return &RGBPlane{Width: width, Height: height, Pix: make([]uint8, 3*width*height)}
}

func (p *RGBPlane) At(y, x int) (r, g, b uint8) {
	i := 3 * (y*p.Width + x)
	return p.Pix[i], p.Pix[i+1], p.Pix[i+2]
}

func (p *RGBPlane) Set(y, x int, r, g, b uint8) {
	i := 3 * (y*p.Width + x)
	p.Pix[i], p.Pix[i+1], p.Pix[i+2] = r, g, b
}
