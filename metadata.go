package zarrpeek

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ArrayDescriptor is the typed, validated form of one array's metadata. All
// downstream stages work from this; loosely-typed JSON never leaves the
// resolver.
type ArrayDescriptor struct {
	Path       string // store key prefix of this array, "" for the root
	Shape      []int
	ChunkShape []int
	DataType   DataType
	ByteOrder  binary.ByteOrder
	Order      byte // sample layout within a chunk: 'C' or 'F'
	Axes       []string
	FillValue  float32
	Compressor CompressorConfig

	dimSeparator string
	format       int // 2 or 3
}

// NDim returns the number of axes.
func (d *ArrayDescriptor) NDim() int { return len(d.Shape) }

// AxisIndex finds a named axis, or -1.
func (d *ArrayDescriptor) AxisIndex(name string) int {
	for i, a := range d.Axes {
		if a == name {
			return i
		}
	}
	return -1
}

// ChunkKey builds the store key of the chunk at the given chunk-grid
// coordinate, honoring the format's key encoding and the declared
// dimension separator.
func (d *ArrayDescriptor) ChunkKey(coord []int) string {
	parts := make([]string, len(coord))
	for i, c := range coord {
		parts[i] = fmt.Sprintf("%d", c)
	}
	var key string
	if d.format == 3 {
		key = "c" + d.dimSeparator + strings.Join(parts, d.dimSeparator)
	} else {
		key = strings.Join(parts, d.dimSeparator)
	}
	if d.Path != "" {
		key = d.Path + "/" + key
	}
	return key
}

func (d *ArrayDescriptor) validate(key string) error {
	if len(d.Shape) == 0 {
		return metadataErrf(key, "array has no dimensions")
	}
	if len(d.ChunkShape) != len(d.Shape) {
		return metadataErrf(key, "shape has %d axes but chunk shape has %d", len(d.Shape), len(d.ChunkShape))
	}
	if len(d.Axes) != len(d.Shape) {
		return metadataErrf(key, "shape has %d axes but %d axis names", len(d.Shape), len(d.Axes))
	}
	for i := range d.Shape {
		if d.Shape[i] <= 0 {
			return metadataErrf(key, "axis %d has non-positive extent %d", i, d.Shape[i])
		}
		if d.ChunkShape[i] <= 0 {
			return metadataErrf(key, "axis %d has non-positive chunk extent %d", i, d.ChunkShape[i])
		}
		if d.ChunkShape[i] > d.Shape[i] {
			return metadataErrf(key, "axis %d chunk extent %d exceeds shape %d", i, d.ChunkShape[i], d.Shape[i])
		}
	}
	if d.Order != 'C' && d.Order != 'F' {
		return metadataErrf(key, "unsupported order %q", string(d.Order))
	}
	if _, err := d.Compressor.Compressor(); err != nil {
		var merr *MetadataError
		if errors.As(err, &merr) {
			merr.Key = key
		}
		return err
	}
	return nil
}

// Level is one resolution level of a multiscale image. Scale holds the
// level's per-axis scale transform factors when the metadata declares one,
// nil otherwise.
type Level struct {
	Path  string
	Array *ArrayDescriptor
	Scale []float64
}

// MultiscaleDescriptor holds the resolution levels of one image, ordered
// highest to lowest resolution as declared by the metadata.
type MultiscaleDescriptor struct {
	Name   string
	Levels []Level
}

// Lowest returns the lowest-resolution (last-declared) level.
func (m *MultiscaleDescriptor) Lowest() *Level {
	return &m.Levels[len(m.Levels)-1]
}

// LevelByPath finds a level by its declared path. Leading slashes are
// ignored so "/0" and "0" are equivalent.
func (m *MultiscaleDescriptor) LevelByPath(path string) *Level {
	want := strings.TrimPrefix(path, "/")
	for i := range m.Levels {
		if strings.TrimPrefix(m.Levels[i].Path, "/") == want {
			return &m.Levels[i]
		}
	}
	return nil
}

// Paths lists the declared level paths in order.
func (m *MultiscaleDescriptor) Paths() []string {
	paths := make([]string, len(m.Levels))
	for i := range m.Levels {
		paths[i] = m.Levels[i].Path
	}
	return paths
}

// Resolve reads array and multiscale metadata from the root of a store and
// normalizes it into a MultiscaleDescriptor. Supported layouts: a bare zarr
// v2 array, a zarr v2 group with OME multiscales attributes, a bare zarr v3
// array, and a zarr v3 group with OME multiscales attributes. A bare array
// becomes a single-level descriptor.
func Resolve(ctx context.Context, store Store) (*MultiscaleDescriptor, error) {
	raw, err := store.Get(ctx, ".zarray")
	switch {
	case err == nil:
		desc, err := parseV2Array(raw, "", nil)
		if err != nil {
			return nil, err
		}
		return singleLevel(desc), nil
	case !errors.Is(err, ErrKeyNotFound):
		return nil, err
	}

	raw, err = store.Get(ctx, ".zattrs")
	switch {
	case err == nil:
		return resolveV2Group(ctx, store, raw)
	case !errors.Is(err, ErrKeyNotFound):
		return nil, err
	}

	raw, err = store.Get(ctx, "zarr.json")
	switch {
	case err == nil:
		return resolveV3(ctx, store, raw)
	case !errors.Is(err, ErrKeyNotFound):
		return nil, err
	}

	return nil, metadataErrf("", "no zarr metadata found (.zarray, .zattrs or zarr.json)")
}

func singleLevel(desc *ArrayDescriptor) *MultiscaleDescriptor {
	return &MultiscaleDescriptor{Levels: []Level{{Path: desc.Path, Array: desc}}}
}

// zarr v2 array metadata. The schema is closed: any unknown field is
// rejected rather than carried along untyped.
type zarrayV2 struct {
	ZarrFormat         int               `json:"zarr_format"`
	Shape              []int             `json:"shape"`
	Chunks             []int             `json:"chunks"`
	Dtype              string            `json:"dtype"`
	Compressor         *CompressorConfig `json:"compressor"`
	FillValue          json.RawMessage   `json:"fill_value"`
	Order              string            `json:"order"`
	Filters            []json.RawMessage `json:"filters"`
	DimensionSeparator string            `json:"dimension_separator"`
}

func parseV2Array(raw []byte, path string, axes []string) (*ArrayDescriptor, error) {
	key := metaKey(path, ".zarray")

	var meta zarrayV2
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&meta); err != nil {
		return nil, &MetadataError{Key: key, Reason: "malformed JSON", Err: err}
	}
	if meta.ZarrFormat != 2 {
		return nil, metadataErrf(key, "unsupported zarr_format %d", meta.ZarrFormat)
	}
	if len(meta.Filters) > 0 {
		return nil, metadataErrf(key, "filters are not supported")
	}

	dt, order, err := ParseTypestr(meta.Dtype)
	if err != nil {
		err.(*MetadataError).Key = key
		return nil, err
	}

	fill, err := parseFillValue(meta.FillValue)
	if err != nil {
		return nil, &MetadataError{Key: key, Reason: "bad fill_value", Err: err}
	}

	layout := byte('C')
	if meta.Order != "" {
		layout = meta.Order[0]
	}
	sep := meta.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	var comp CompressorConfig
	if meta.Compressor != nil {
		comp = *meta.Compressor
	}

	desc := &ArrayDescriptor{
		Path:         path,
		Shape:        meta.Shape,
		ChunkShape:   meta.Chunks,
		DataType:     dt,
		ByteOrder:    order,
		Order:        layout,
		Axes:         axisNames(axes, len(meta.Shape)),
		FillValue:    fill,
		Compressor:   comp,
		dimSeparator: sep,
		format:       2,
	}
	if err := desc.validate(key); err != nil {
		return nil, err
	}
	return desc, nil
}

// OME-NGFF multiscales attributes. Only the fields the pipeline needs are
// modeled; the surrounding attributes document is userland metadata and may
// contain anything.
type omeMultiscale struct {
	Version  string            `json:"version"`
	Name     string            `json:"name"`
	Axes     []json.RawMessage `json:"axes"`
	Datasets []omeDataset      `json:"datasets"`
}

type omeDataset struct {
	Path                      string         `json:"path"`
	CoordinateTransformations []omeTransform `json:"coordinateTransformations"`
}

type omeTransform struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale"`
}

type omeAxis struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit"`
}

func resolveV2Group(ctx context.Context, store Store, attrs []byte) (*MultiscaleDescriptor, error) {
	var doc struct {
		Multiscales []omeMultiscale `json:"multiscales"`
	}
	if err := json.Unmarshal(attrs, &doc); err != nil {
		return nil, &MetadataError{Key: ".zattrs", Reason: "malformed JSON", Err: err}
	}
	if len(doc.Multiscales) == 0 {
		return nil, metadataErrf(".zattrs", "no multiscales declared and no .zarray present")
	}
	ms := doc.Multiscales[0]

	axes, err := parseOmeAxes(ms.Axes)
	if err != nil {
		return nil, err
	}

	return resolveLevels(ms, axes, func(path string) (*ArrayDescriptor, error) {
		raw, err := store.Get(ctx, metaKey(path, ".zarray"))
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				return nil, metadataErrf(metaKey(path, ".zarray"), "declared level is missing")
			}
			return nil, err
		}
		return parseV2Array(raw, path, axes)
	})
}

func resolveLevels(ms omeMultiscale, axes []string, load func(path string) (*ArrayDescriptor, error)) (*MultiscaleDescriptor, error) {
	if len(ms.Datasets) == 0 {
		return nil, metadataErrf("", "multiscale %q declares no datasets", ms.Name)
	}

	out := &MultiscaleDescriptor{Name: ms.Name}
	for _, ds := range ms.Datasets {
		path := strings.TrimPrefix(ds.Path, "/")
		desc, err := load(path)
		if err != nil {
			return nil, err
		}
		if axes != nil && len(axes) != desc.NDim() {
			return nil, metadataErrf(metaKey(path, ""), "multiscale declares %d axes but level has %d", len(axes), desc.NDim())
		}
		scale, err := datasetScale(ds, desc.NDim(), path)
		if err != nil {
			return nil, err
		}
		out.Levels = append(out.Levels, Level{Path: path, Array: desc, Scale: scale})
	}

	// declared order must run highest to lowest resolution
	for i := 1; i < len(out.Levels); i++ {
		prev, cur := out.Levels[i-1].Array, out.Levels[i].Array
		if cur.NDim() != prev.NDim() {
			return nil, metadataErrf("", "levels %q and %q disagree on dimensionality", out.Levels[i-1].Path, out.Levels[i].Path)
		}
		for _, ax := range []int{cur.NDim() - 2, cur.NDim() - 1} {
			if ax < 0 {
				continue
			}
			if cur.Shape[ax] > prev.Shape[ax] {
				return nil, metadataErrf("",
					"level %q is larger than preceding level %q along axis %d; levels must be declared highest resolution first",
					out.Levels[i].Path, out.Levels[i-1].Path, ax)
			}
		}
	}
	return out, nil
}

// datasetScale extracts a dataset's scale transform, if declared.
func datasetScale(ds omeDataset, ndim int, path string) ([]float64, error) {
	for _, tr := range ds.CoordinateTransformations {
		if tr.Type != "scale" {
			continue
		}
		if len(tr.Scale) != ndim {
			return nil, metadataErrf(path, "scale transform has %d factors but level has %d axes", len(tr.Scale), ndim)
		}
		return tr.Scale, nil
	}
	return nil, nil
}

func parseOmeAxes(raw []json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	names := make([]string, len(raw))
	for i, r := range raw {
		// v0.3 declared axes as bare strings, v0.4+ as objects
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			names[i] = s
			continue
		}
		var ax omeAxis
		if err := json.Unmarshal(r, &ax); err != nil {
			return nil, &MetadataError{Key: ".zattrs", Reason: "malformed multiscale axis", Err: err}
		}
		names[i] = ax.Name
	}
	return names, nil
}

// zarr v3 metadata document, covering both arrays and groups.
type zarrV3 struct {
	ZarrFormat int    `json:"zarr_format"`
	NodeType   string `json:"node_type"`

	// array fields
	Shape     []int  `json:"shape,omitempty"`
	DataType  string `json:"data_type,omitempty"`
	ChunkGrid *struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid,omitempty"`
	ChunkKeyEncoding *struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding,omitempty"`
	FillValue      json.RawMessage `json:"fill_value,omitempty"`
	Codecs         []codecV3       `json:"codecs,omitempty"`
	DimensionNames []string        `json:"dimension_names,omitempty"`

	Attributes json.RawMessage `json:"attributes,omitempty"`
}

type codecV3 struct {
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration"`
}

func resolveV3(ctx context.Context, store Store, raw []byte) (*MultiscaleDescriptor, error) {
	var meta zarrV3
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, &MetadataError{Key: "zarr.json", Reason: "malformed JSON", Err: err}
	}
	if meta.ZarrFormat != 3 {
		return nil, metadataErrf("zarr.json", "unsupported zarr_format %d", meta.ZarrFormat)
	}

	switch meta.NodeType {
	case "array":
		desc, err := parseV3Array(&meta, "")
		if err != nil {
			return nil, err
		}
		return singleLevel(desc), nil
	case "group":
		var attrs struct {
			Ome struct {
				Multiscales []omeMultiscale `json:"multiscales"`
			} `json:"ome"`
			Multiscales []omeMultiscale `json:"multiscales"`
		}
		if len(meta.Attributes) > 0 {
			if err := json.Unmarshal(meta.Attributes, &attrs); err != nil {
				return nil, &MetadataError{Key: "zarr.json", Reason: "malformed attributes", Err: err}
			}
		}
		multiscales := attrs.Ome.Multiscales
		if len(multiscales) == 0 {
			multiscales = attrs.Multiscales
		}
		if len(multiscales) == 0 {
			return nil, metadataErrf("zarr.json", "group declares no multiscales")
		}
		ms := multiscales[0]
		axes, err := parseOmeAxes(ms.Axes)
		if err != nil {
			return nil, err
		}
		return resolveLevels(ms, axes, func(path string) (*ArrayDescriptor, error) {
			raw, err := store.Get(ctx, metaKey(path, "zarr.json"))
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					return nil, metadataErrf(metaKey(path, "zarr.json"), "declared level is missing")
				}
				return nil, err
			}
			var lm zarrV3
			if err := json.Unmarshal(raw, &lm); err != nil {
				return nil, &MetadataError{Key: metaKey(path, "zarr.json"), Reason: "malformed JSON", Err: err}
			}
			desc, err := parseV3Array(&lm, path)
			if err != nil {
				return nil, err
			}
			if axes != nil {
				desc.Axes = axisNames(axes, desc.NDim())
			}
			return desc, nil
		})
	default:
		return nil, metadataErrf("zarr.json", "unsupported node_type %q", meta.NodeType)
	}
}

func parseV3Array(meta *zarrV3, path string) (*ArrayDescriptor, error) {
	key := metaKey(path, "zarr.json")
	if meta.NodeType != "array" {
		return nil, metadataErrf(key, "expected an array node, got %q", meta.NodeType)
	}
	if meta.ChunkGrid == nil || meta.ChunkGrid.Name != "regular" {
		return nil, metadataErrf(key, "only regular chunk grids are supported")
	}

	dt, order, err := ParseDataTypeName(meta.DataType)
	if err != nil {
		err.(*MetadataError).Key = key
		return nil, err
	}

	sep := "/"
	keyEncoding := "default"
	if meta.ChunkKeyEncoding != nil {
		keyEncoding = meta.ChunkKeyEncoding.Name
		if meta.ChunkKeyEncoding.Configuration.Separator != "" {
			sep = meta.ChunkKeyEncoding.Configuration.Separator
		}
	}
	if keyEncoding != "default" {
		return nil, metadataErrf(key, "unsupported chunk_key_encoding %q", keyEncoding)
	}

	comp, layoutOrder, err := parseV3Codecs(key, meta.Codecs, order)
	if err != nil {
		return nil, err
	}

	fill, err := parseFillValue(meta.FillValue)
	if err != nil {
		return nil, &MetadataError{Key: key, Reason: "bad fill_value", Err: err}
	}

	desc := &ArrayDescriptor{
		Path:         path,
		Shape:        meta.Shape,
		ChunkShape:   meta.ChunkGrid.Configuration.ChunkShape,
		DataType:     dt,
		ByteOrder:    layoutOrder,
		Order:        'C',
		Axes:         axisNames(meta.DimensionNames, len(meta.Shape)),
		FillValue:    fill,
		Compressor:   comp,
		dimSeparator: sep,
		format:       3,
	}
	if err := desc.validate(key); err != nil {
		return nil, err
	}
	return desc, nil
}

// parseV3Codecs reduces a v3 codec chain to this viewer's model: an optional
// "bytes" codec fixing the endianness plus at most one recognized
// compression codec. Anything else (sharding, transpose, filters) is out of
// schema.
func parseV3Codecs(key string, codecs []codecV3, order binary.ByteOrder) (CompressorConfig, binary.ByteOrder, error) {
	var comp CompressorConfig
	for _, c := range codecs {
		switch c.Name {
		case "bytes", "endian":
			var cfg struct {
				Endian string `json:"endian"`
			}
			if len(c.Configuration) > 0 {
				if err := json.Unmarshal(c.Configuration, &cfg); err != nil {
					return comp, order, &MetadataError{Key: key, Reason: "bad bytes codec", Err: err}
				}
			}
			if cfg.Endian == "big" {
				order = binary.BigEndian
			}
		case "gzip", "zstd", "blosc", "zlib":
			if comp.ID != "" {
				return comp, order, metadataErrf(key, "multiple compression codecs declared")
			}
			comp.ID = c.Name
			if len(c.Configuration) > 0 {
				var cfg struct {
					Cname string `json:"cname"`
					Level int    `json:"level"`
				}
				if err := json.Unmarshal(c.Configuration, &cfg); err != nil {
					return comp, order, &MetadataError{Key: key, Reason: "bad " + c.Name + " codec", Err: err}
				}
				comp.Cname = cfg.Cname
				comp.Level = cfg.Level
			}
		default:
			return comp, order, metadataErrf(key, "unsupported codec %q", c.Name)
		}
	}
	return comp, order, nil
}

func parseFillValue(raw json.RawMessage) (float32, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return float32(num), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "NaN":
			return float32(math.NaN()), nil
		case "Infinity":
			return float32(math.Inf(1)), nil
		case "-Infinity":
			return float32(math.Inf(-1)), nil
		}
		return 0, fmt.Errorf("unrecognized fill value %q", s)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("unrecognized fill value %s", string(raw))
}

func axisNames(declared []string, ndim int) []string {
	if len(declared) == ndim {
		return declared
	}
	names := make([]string, ndim)
	for i := range names {
		names[i] = fmt.Sprintf("dim_%d", i)
	}
	return names
}

func metaKey(path, name string) string {
	if path == "" {
		return name
	}
	if name == "" {
		return path
	}
	return path + "/" + name
}
