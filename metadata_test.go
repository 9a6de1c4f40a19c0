package zarrpeek

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

const bareZarray = `{
	"zarr_format": 2,
	"shape": [100, 80],
	"chunks": [50, 40],
	"dtype": "<u2",
	"compressor": null,
	"fill_value": 0,
	"order": "C",
	"filters": null
}`

func TestResolveBareV2Array(t *testing.T) {
	store := MapStore{".zarray": []byte(bareZarray)}
	ms, err := Resolve(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms.Levels) != 1 {
		t.Fatalf("got %d levels, want 1", len(ms.Levels))
	}
	desc := ms.Lowest().Array
	if !reflect.DeepEqual(desc.Shape, []int{100, 80}) {
		t.Errorf("shape = %v", desc.Shape)
	}
	if desc.DataType != DataTypeUint16 {
		t.Errorf("dtype = %v, want uint16", desc.DataType)
	}
	if !reflect.DeepEqual(desc.Axes, []string{"dim_0", "dim_1"}) {
		t.Errorf("axes = %v", desc.Axes)
	}
	if got := desc.ChunkKey([]int{1, 0}); got != "1.0" {
		t.Errorf("ChunkKey = %q, want \"1.0\"", got)
	}
}

func multiscaleV2Store() MapStore {
	return MapStore{
		".zattrs": []byte(`{
			"multiscales": [{
				"version": "0.4",
				"name": "embryo",
				"axes": [
					{"name": "t", "type": "time"},
					{"name": "c", "type": "channel"},
					{"name": "z", "type": "space"},
					{"name": "y", "type": "space"},
					{"name": "x", "type": "space"}
				],
				"datasets": [
					{
						"path": "0",
						"coordinateTransformations": [
							{"type": "scale", "scale": [1.0, 1.0, 0.5, 0.32, 0.32]}
						]
					},
					{
						"path": "1",
						"coordinateTransformations": [
							{"type": "scale", "scale": [1.0, 1.0, 0.5, 0.64, 0.64]}
						]
					}
				]
			}]
		}`),
		"0/.zarray": []byte(`{
			"zarr_format": 2,
			"shape": [1, 2, 10, 512, 512],
			"chunks": [1, 1, 1, 256, 256],
			"dtype": "<u2",
			"compressor": null,
			"fill_value": 0,
			"order": "C"
		}`),
		"1/.zarray": []byte(`{
			"zarr_format": 2,
			"shape": [1, 2, 10, 256, 256],
			"chunks": [1, 1, 1, 256, 256],
			"dtype": "<u2",
			"compressor": null,
			"fill_value": 0,
			"order": "C"
		}`),
	}
}

func TestResolveV2Multiscale(t *testing.T) {
	ms, err := Resolve(context.Background(), multiscaleV2Store())
	if err != nil {
		t.Fatal(err)
	}
	if ms.Name != "embryo" {
		t.Errorf("name = %q", ms.Name)
	}
	if !reflect.DeepEqual(ms.Paths(), []string{"0", "1"}) {
		t.Errorf("paths = %v", ms.Paths())
	}
	if ms.Lowest().Path != "1" {
		t.Errorf("lowest = %q, want \"1\"", ms.Lowest().Path)
	}
	if lvl := ms.LevelByPath("/0"); lvl == nil || lvl.Path != "0" {
		t.Error("LevelByPath should ignore a leading slash")
	}
	if ms.LevelByPath("2") != nil {
		t.Error("LevelByPath found a level that does not exist")
	}

	desc := ms.Levels[0].Array
	if !reflect.DeepEqual(desc.Axes, []string{"t", "c", "z", "y", "x"}) {
		t.Errorf("axes = %v", desc.Axes)
	}
	if got := desc.ChunkKey([]int{0, 0, 0, 1, 1}); got != "0/0.0.0.1.1" {
		t.Errorf("ChunkKey = %q", got)
	}
	if !reflect.DeepEqual(ms.Levels[1].Scale, []float64{1.0, 1.0, 0.5, 0.64, 0.64}) {
		t.Errorf("level 1 scale = %v", ms.Levels[1].Scale)
	}
}

func TestResolveScaleArityMismatch(t *testing.T) {
	store := multiscaleV2Store()
	store[".zattrs"] = []byte(`{
		"multiscales": [{
			"axes": [
				{"name": "t"}, {"name": "c"}, {"name": "z"},
				{"name": "y"}, {"name": "x"}
			],
			"datasets": [{
				"path": "0",
				"coordinateTransformations": [{"type": "scale", "scale": [1.0, 1.0]}]
			}]
		}]
	}`)
	_, err := Resolve(context.Background(), store)
	var merr *MetadataError
	if !errors.As(err, &merr) {
		t.Fatalf("error = %v, want *MetadataError", err)
	}
	if !strings.Contains(err.Error(), "scale") {
		t.Errorf("error %q does not mention the scale transform", err)
	}
}

func TestResolveOmitsUndeclaredScale(t *testing.T) {
	store := multiscaleV2Store()
	store[".zattrs"] = []byte(`{
		"multiscales": [{
			"axes": ["t", "c", "z", "y", "x"],
			"datasets": [{"path": "0"}, {"path": "1"}]
		}]
	}`)
	ms, err := Resolve(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if ms.Levels[0].Scale != nil {
		t.Errorf("undeclared scale = %v, want nil", ms.Levels[0].Scale)
	}
}

func TestResolveV2StringAxes(t *testing.T) {
	store := multiscaleV2Store()
	store[".zattrs"] = []byte(`{
		"multiscales": [{
			"version": "0.3",
			"axes": ["t", "c", "z", "y", "x"],
			"datasets": [{"path": "0"}, {"path": "1"}]
		}]
	}`)
	ms, err := Resolve(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ms.Levels[0].Array.Axes, []string{"t", "c", "z", "y", "x"}) {
		t.Errorf("axes = %v", ms.Levels[0].Array.Axes)
	}
}

func TestResolveErrors(t *testing.T) {
	cases := []struct {
		name   string
		store  MapStore
		reason string
	}{
		{
			"empty store",
			MapStore{},
			"no zarr metadata",
		},
		{
			"chunk arity mismatch",
			MapStore{".zarray": []byte(`{"zarr_format":2,"shape":[100,80],"chunks":[50],"dtype":"<u2","compressor":null,"fill_value":0,"order":"C"}`)},
			"chunk shape",
		},
		{
			"unknown dtype",
			MapStore{".zarray": []byte(`{"zarr_format":2,"shape":[100],"chunks":[50],"dtype":"<u3","compressor":null,"fill_value":0,"order":"C"}`)},
			"dtype",
		},
		{
			"unknown compressor",
			MapStore{".zarray": []byte(`{"zarr_format":2,"shape":[100],"chunks":[50],"dtype":"<u2","compressor":{"id":"lzma"},"fill_value":0,"order":"C"}`)},
			"compressor",
		},
		{
			"unknown metadata field",
			MapStore{".zarray": []byte(`{"zarr_format":2,"shape":[100],"chunks":[50],"dtype":"<u2","compressor":null,"fill_value":0,"order":"C","zarr_fmt":9}`)},
			"malformed JSON",
		},
		{
			"filters present",
			MapStore{".zarray": []byte(`{"zarr_format":2,"shape":[100],"chunks":[50],"dtype":"<u2","compressor":null,"fill_value":0,"order":"C","filters":[{"id":"delta"}]}`)},
			"filters",
		},
		{
			"chunk larger than shape",
			MapStore{".zarray": []byte(`{"zarr_format":2,"shape":[100],"chunks":[128],"dtype":"<u2","compressor":null,"fill_value":0,"order":"C"}`)},
			"exceeds",
		},
	}
	for _, c := range cases {
		_, err := Resolve(context.Background(), c.store)
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		var merr *MetadataError
		if !errors.As(err, &merr) {
			t.Errorf("%s: error type %T, want *MetadataError", c.name, err)
			continue
		}
		if !strings.Contains(err.Error(), c.reason) {
			t.Errorf("%s: error %q does not mention %q", c.name, err, c.reason)
		}
	}
}

func TestResolveMissingDeclaredLevel(t *testing.T) {
	store := multiscaleV2Store()
	delete(store, "1/.zarray")
	_, err := Resolve(context.Background(), store)
	var merr *MetadataError
	if !errors.As(err, &merr) {
		t.Fatalf("error = %v, want *MetadataError", err)
	}
	if merr.Key != "1/.zarray" {
		t.Errorf("error key = %q, want \"1/.zarray\"", merr.Key)
	}
}

func TestResolveRejectsMisorderedLevels(t *testing.T) {
	// level 1 declared after level 0 but higher resolution
	store := multiscaleV2Store()
	store["1/.zarray"] = []byte(`{
		"zarr_format": 2,
		"shape": [1, 2, 10, 1024, 1024],
		"chunks": [1, 1, 1, 256, 256],
		"dtype": "<u2",
		"compressor": null,
		"fill_value": 0,
		"order": "C"
	}`)
	_, err := Resolve(context.Background(), store)
	var merr *MetadataError
	if !errors.As(err, &merr) {
		t.Fatalf("error = %v, want *MetadataError", err)
	}
	if !strings.Contains(err.Error(), "highest resolution first") {
		t.Errorf("error %q does not explain the ordering rule", err)
	}
}

func TestResolveV3Array(t *testing.T) {
	store := MapStore{"zarr.json": []byte(`{
		"zarr_format": 3,
		"node_type": "array",
		"shape": [64, 64],
		"data_type": "uint16",
		"chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [32, 32]}},
		"chunk_key_encoding": {"name": "default", "configuration": {"separator": "/"}},
		"fill_value": 0,
		"codecs": [
			{"name": "bytes", "configuration": {"endian": "big"}},
			{"name": "gzip", "configuration": {"level": 5}}
		],
		"dimension_names": ["y", "x"]
	}`)}
	ms, err := Resolve(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	desc := ms.Lowest().Array
	if desc.DataType != DataTypeUint16 {
		t.Errorf("dtype = %v", desc.DataType)
	}
	if desc.ByteOrder != binary.BigEndian {
		t.Errorf("byte order = %v, want big-endian", desc.ByteOrder)
	}
	if desc.Compressor.ID != "gzip" {
		t.Errorf("compressor = %q", desc.Compressor.ID)
	}
	if !reflect.DeepEqual(desc.Axes, []string{"y", "x"}) {
		t.Errorf("axes = %v", desc.Axes)
	}
	if got := desc.ChunkKey([]int{1, 0}); got != "c/1/0" {
		t.Errorf("ChunkKey = %q, want \"c/1/0\"", got)
	}
}

func TestResolveV3Group(t *testing.T) {
	level := []byte(`{
		"zarr_format": 3,
		"node_type": "array",
		"shape": [2, 64, 64],
		"data_type": "uint8",
		"chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [1, 32, 32]}},
		"fill_value": 0,
		"codecs": [{"name": "bytes", "configuration": {"endian": "little"}}]
	}`)
	store := MapStore{
		"zarr.json": []byte(`{
			"zarr_format": 3,
			"node_type": "group",
			"attributes": {
				"ome": {
					"multiscales": [{
						"axes": [{"name": "c"}, {"name": "y"}, {"name": "x"}],
						"datasets": [{"path": "0"}]
					}]
				}
			}
		}`),
		"0/zarr.json": level,
	}
	ms, err := Resolve(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms.Levels) != 1 {
		t.Fatalf("got %d levels, want 1", len(ms.Levels))
	}
	desc := ms.Lowest().Array
	if !reflect.DeepEqual(desc.Axes, []string{"c", "y", "x"}) {
		t.Errorf("axes = %v", desc.Axes)
	}
	if got := desc.ChunkKey([]int{1, 0, 1}); got != "0/c/1/0/1" {
		t.Errorf("ChunkKey = %q", got)
	}
}

func TestResolveV3RejectsShardingCodec(t *testing.T) {
	store := MapStore{"zarr.json": []byte(`{
		"zarr_format": 3,
		"node_type": "array",
		"shape": [64, 64],
		"data_type": "uint16",
		"chunk_grid": {"name": "regular", "configuration": {"chunk_shape": [32, 32]}},
		"fill_value": 0,
		"codecs": [{"name": "sharding_indexed", "configuration": {}}]
	}`)}
	_, err := Resolve(context.Background(), store)
	var merr *MetadataError
	if !errors.As(err, &merr) {
		t.Fatalf("error = %v, want *MetadataError", err)
	}
}

func TestParseFillValue(t *testing.T) {
	cases := []struct {
		raw  string
		want float32
	}{
		{"0", 0},
		{"255", 255},
		{"-1.5", -1.5},
		{"null", 0},
		{"true", 1},
		{"false", 0},
	}
	for _, c := range cases {
		got, err := parseFillValue([]byte(c.raw))
		if err != nil {
			t.Errorf("parseFillValue(%s): %v", c.raw, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseFillValue(%s) = %v, want %v", c.raw, got, c.want)
		}
	}

	nan, err := parseFillValue([]byte(`"NaN"`))
	if err != nil || !math.IsNaN(float64(nan)) {
		t.Errorf("parseFillValue(NaN) = %v, %v", nan, err)
	}
	inf, err := parseFillValue([]byte(`"Infinity"`))
	if err != nil || !math.IsInf(float64(inf), 1) {
		t.Errorf("parseFillValue(Infinity) = %v, %v", inf, err)
	}
	if _, err := parseFillValue([]byte(`"whatever"`)); err == nil {
		t.Error("expected error for unknown string fill value")
	}
}

func TestAxisIndex(t *testing.T) {
	desc := &ArrayDescriptor{Axes: []string{"t", "c", "z", "y", "x"}}
	if desc.AxisIndex("z") != 2 {
		t.Error("z should resolve to axis 2")
	}
	if desc.AxisIndex("q") != -1 {
		t.Error("unknown axis should resolve to -1")
	}
}
