// Package zarrpeek renders a 2-D slice of a chunked, multi-resolution
// OME-Zarr array as an image in the terminal. One invocation resolves the
// multiscale metadata, plans a slice from axis selectors, fetches exactly
// the chunks overlapping that slice, normalizes the samples to display
// intensity, and writes either a sixel bitmap or ANSI half-block cells.
package zarrpeek

import (
	"context"
	"io"
	"log"
)

// Options configures one render. Zero values mean: lowest resolution level,
// center index on every non-spatial axis, full spatial extent (center
// cropped to CropSize), autocontrast, auto-detected protocol.
type Options struct {
	// Location is a local directory or an http(s) base URL of the zarr
	// hierarchy. Ignored when Store is set.
	Location string
	Store    Store

	// LevelPath selects a resolution level by its declared path ("0",
	// "/2", ...). Empty selects the lowest resolution.
	LevelPath string
	// Selectors pin axes by name; Positional pins leading axes in order.
	Selectors  AxisSelector
	Positional []int
	// Channels lists channel indices to composite. Empty renders the
	// single slice the selectors describe.
	Channels []int
	// ChannelAxis names the axis Channels index into. Default "c".
	ChannelAxis string

	// Range forces an explicit display range on every channel instead of
	// autocontrast.
	Range *DisplayRange
	// LowQuantile and HighQuantile set the autocontrast cutoffs.
	// Zero values mean the defaults (0.001, 0.999).
	LowQuantile  float64
	HighQuantile float64
	// Palette overrides the per-channel display colors.
	Palette []RGB

	// CropSize bounds each spatial axis (center crop) unless an explicit
	// range was selected. Zero means DefaultCropSize.
	CropSize int
	// Workers caps concurrent chunk fetches. Zero means DefaultWorkers.
	Workers int

	// Protocol forces a terminal protocol; ProtocolAuto probes.
	Protocol Protocol
	// Cols and Rows bound the output size in cells; zero probes the tty.
	Cols int
	Rows int

	// Out receives the protocol bytes; nil is an error. Log receives
	// verbose progress; nil discards.
	Out io.Writer
	Log *log.Logger
}

// DefaultCropSize bounds how much of a huge level one render will pull when
// the user gives no explicit spatial range.
const DefaultCropSize = 720

// View runs the whole pipeline once: resolve, plan, fetch, normalize,
// render. It returns the first error of whichever stage fails; no partial
// image is ever written.
func View(ctx context.Context, opts Options) error {
	logger := opts.Log
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = OpenStore(opts.Location)
		if err != nil {
			return err
		}
	}

	ms, err := Resolve(ctx, store)
	if err != nil {
		return err
	}
	logger.Printf("resolved %d resolution level(s): %v", len(ms.Levels), ms.Paths())

	planes, err := fetchPlanes(ctx, store, ms, opts, logger)
	if err != nil {
		return err
	}

	var ranges []DisplayRange
	if opts.Range != nil {
		ranges = make([]DisplayRange, len(planes))
		for i := range ranges {
			ranges[i] = *opts.Range
		}
	}
	rgb, err := Composite(planes, ranges, opts.Palette, opts.LowQuantile, opts.HighQuantile)
	if err != nil {
		return err
	}

	r := &Renderer{
		Out:      opts.Out,
		Protocol: opts.Protocol,
		Cols:     opts.Cols,
		Rows:     opts.Rows,
		Log:      logger,
	}
	return r.Render(rgb)
}

func fetchPlanes(ctx context.Context, store Store, ms *MultiscaleDescriptor, opts Options, logger *log.Logger) ([]*Plane, error) {
	cropSize := opts.CropSize
	if cropSize <= 0 {
		cropSize = DefaultCropSize
	}
	selectors := opts.Selectors
	if selectors == nil {
		selectors = AxisSelector{}
	}

	req := PlanRequest{
		LevelPath:  opts.LevelPath,
		Selectors:  selectors,
		Positional: opts.Positional,
		MaxExtent:  cropSize,
		Log:        logger,
	}

	fetcher := &Fetcher{Store: store, Workers: opts.Workers, Log: logger}

	if len(opts.Channels) == 0 {
		slice, err := PlanSlice(ms, req)
		if err != nil {
			return nil, err
		}
		plane, err := fetcher.FetchRegion(ctx, slice.Level.Array, slice.Window, slice.RowAxis, slice.ColAxis)
		if err != nil {
			return nil, err
		}
		return []*Plane{plane}, nil
	}

	channelAxis := opts.ChannelAxis
	if channelAxis == "" {
		channelAxis = "c"
	}

	// one resolved slice per requested channel; the planner validates each
	planes := make([]*Plane, 0, len(opts.Channels))
	for _, ch := range opts.Channels {
		chReq := req
		chReq.Selectors = selectors.WithIndex(channelAxis, ch)
		slice, err := PlanSlice(ms, chReq)
		if err != nil {
			return nil, err
		}
		plane, err := fetcher.FetchRegion(ctx, slice.Level.Array, slice.Window, slice.RowAxis, slice.ColAxis)
		if err != nil {
			return nil, err
		}
		planes = append(planes, plane)
	}
	return planes, nil
}
