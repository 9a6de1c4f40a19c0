package zarrpeek

import (
	"context"
	"errors"
	"io"
	"log"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers caps the number of chunk fetches in flight at once, enough
// to keep a remote store busy without flooding it.
const DefaultWorkers = 8

// Fetcher retrieves rectangular regions of an array as dense planes. Chunk
// fetch and decode run concurrently under a bounded group; each chunk task
// owns a disjoint destination sub-rectangle, so completion order does not
// matter and no locking is needed.
type Fetcher struct {
	Store   Store
	Workers int
	Log     *log.Logger
}

func NewFetcher(store Store) *Fetcher {
	return &Fetcher{Store: store, Workers: DefaultWorkers, Log: log.New(io.Discard, "", 0)}
}

// FetchRegion assembles the window of desc selected by win into a dense
// plane whose rows follow rowAxis and columns follow colAxis. Chunks absent
// from the store keep the array's fill value; any transport or decode
// failure aborts the whole fetch with the first error encountered.
func (f *Fetcher) FetchRegion(ctx context.Context, desc *ArrayDescriptor, win Window, rowAxis, colAxis int) (*Plane, error) {
	plane := NewPlane(win.Extent(colAxis), win.Extent(rowAxis))
	if desc.FillValue != 0 {
		plane.Fill(desc.FillValue)
	}

	comp, err := desc.Compressor.Compressor()
	if err != nil {
		return nil, err
	}

	workers := f.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	f.Log.Printf("fetching %d chunks for window %v", win.ChunkCount(desc.ChunkShape), win)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for coord := range win.Chunks(desc.ChunkShape) {
		chunk := make([]int, len(coord))
		copy(chunk, coord)
		g.Go(func() error {
			return f.fetchChunk(gctx, desc, comp, chunk, win, rowAxis, colAxis, plane)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return plane, nil
}

func (f *Fetcher) fetchChunk(ctx context.Context, desc *ArrayDescriptor, comp Compressor, coord []int, win Window, rowAxis, colAxis int, plane *Plane) error {
	key := desc.ChunkKey(coord)

	payload, err := f.Store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		// sparse chunk, fill value already in place
		f.Log.Printf("chunk %v absent, keeping fill value", coord)
		return nil
	}
	if err != nil {
		var ferr *FetchError
		if errors.As(err, &ferr) && ferr.Chunk == nil {
			ferr.Chunk = coord
		}
		return err
	}

	sampleSize := desc.DataType.Size()
	chunkSamples := 1
	for _, c := range desc.ChunkShape {
		chunkSamples *= c
	}
	raw, err := comp.Decode(payload, chunkSamples*sampleSize)
	if err != nil {
		return &DecodeError{Key: key, Reason: "corrupt " + comp.Name() + " payload", Err: err}
	}

	f.copyIntersection(desc, raw, coord, win, rowAxis, colAxis, plane)
	return nil
}

// copyIntersection copies the part of a decoded chunk that overlaps the
// window into the destination plane. Edge chunks are clamped to the declared
// array shape so padding samples never reach the plane.
func (f *Fetcher) copyIntersection(desc *ArrayDescriptor, raw []byte, coord []int, win Window, rowAxis, colAxis int, plane *Plane) {
	ndim := desc.NDim()
	strides := chunkStrides(desc.ChunkShape, desc.Order)
	sampleSize := desc.DataType.Size()

	base := 0
	copyLo := make([]int, ndim)
	copyHi := make([]int, ndim)
	for i := 0; i < ndim; i++ {
		origin := coord[i] * desc.ChunkShape[i]
		copyLo[i] = maxInt(win.Lo[i], origin)
		copyHi[i] = minInt(minInt(win.Hi[i], origin+desc.ChunkShape[i]), desc.Shape[i])
		if copyHi[i] <= copyLo[i] {
			return
		}
		if i != rowAxis && i != colAxis {
			base += (copyLo[i] - origin) * strides[i]
		}
	}

	rowOrigin := coord[rowAxis] * desc.ChunkShape[rowAxis]
	colOrigin := coord[colAxis] * desc.ChunkShape[colAxis]
	for y := copyLo[rowAxis]; y < copyHi[rowAxis]; y++ {
		idx := base + (y-rowOrigin)*strides[rowAxis] + (copyLo[colAxis]-colOrigin)*strides[colAxis]
		py := y - win.Lo[rowAxis]
		px := copyLo[colAxis] - win.Lo[colAxis]
		for x := copyLo[colAxis]; x < copyHi[colAxis]; x++ {
			plane.Set(py, px, desc.DataType.Sample(raw[idx*sampleSize:], desc.ByteOrder))
			idx += strides[colAxis]
			px++
		}
	}
}
