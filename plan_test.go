package zarrpeek

import (
	"encoding/binary"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func planFixture() *MultiscaleDescriptor {
	level := func(path string, side int) Level {
		return Level{Path: path, Array: &ArrayDescriptor{
			Path:         path,
			Shape:        []int{5, 3, 10, side, side},
			ChunkShape:   []int{1, 1, 1, 256, 256},
			DataType:     DataTypeUint16,
			ByteOrder:    binary.LittleEndian,
			Order:        'C',
			Axes:         []string{"t", "c", "z", "y", "x"},
			dimSeparator: ".",
			format:       2,
		}}
	}
	return &MultiscaleDescriptor{Levels: []Level{level("0", 2048), level("1", 1024)}}
}

func TestPlanSliceDefaults(t *testing.T) {
	ms := planFixture()
	slice, err := PlanSlice(ms, PlanRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if slice.Level.Path != "1" {
		t.Errorf("level = %q, want the lowest resolution \"1\"", slice.Level.Path)
	}
	if slice.RowAxis != 3 || slice.ColAxis != 4 {
		t.Errorf("render axes = %d,%d, want 3,4", slice.RowAxis, slice.ColAxis)
	}
	// non-spatial axes default to their center index
	want := Window{Lo: []int{2, 1, 4, 0, 0}, Hi: []int{3, 2, 5, 1024, 1024}}
	if !reflect.DeepEqual(slice.Window, want) {
		t.Errorf("window = %v, want %v", slice.Window, want)
	}
}

func TestPlanSliceCenterCrop(t *testing.T) {
	ms := planFixture()
	slice, err := PlanSlice(ms, PlanRequest{MaxExtent: 720})
	if err != nil {
		t.Fatal(err)
	}
	if slice.Window.Lo[3] != 152 || slice.Window.Hi[3] != 872 {
		t.Errorf("y window = %d:%d, want 152:872", slice.Window.Lo[3], slice.Window.Hi[3])
	}
	if slice.Window.Lo[4] != 152 || slice.Window.Hi[4] != 872 {
		t.Errorf("x window = %d:%d, want 152:872", slice.Window.Lo[4], slice.Window.Hi[4])
	}
}

func TestPlanSliceExplicitRangeSkipsCrop(t *testing.T) {
	ms := planFixture()
	slice, err := PlanSlice(ms, PlanRequest{
		MaxExtent: 720,
		Selectors: AxisSelector{"y": {Kind: SelectRange, Lo: 0, Hi: 1024}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if slice.Window.Lo[3] != 0 || slice.Window.Hi[3] != 1024 {
		t.Errorf("y window = %d:%d, want the explicit 0:1024", slice.Window.Lo[3], slice.Window.Hi[3])
	}
}

func TestPlanSliceNamedSelectors(t *testing.T) {
	ms := planFixture()
	slice, err := PlanSlice(ms, PlanRequest{
		LevelPath: "0",
		Selectors: AxisSelector{
			"z": {Kind: SelectIndex, Index: 3},
			"y": {Kind: SelectRange, Lo: 100, Hi: 400},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if slice.Level.Path != "0" {
		t.Errorf("level = %q, want \"0\"", slice.Level.Path)
	}
	if slice.Window.Lo[2] != 3 || slice.Window.Hi[2] != 4 {
		t.Errorf("z window = %d:%d, want 3:4", slice.Window.Lo[2], slice.Window.Hi[2])
	}
	if slice.Window.Lo[3] != 100 || slice.Window.Hi[3] != 400 {
		t.Errorf("y window = %d:%d, want 100:400", slice.Window.Lo[3], slice.Window.Hi[3])
	}
}

func TestPlanSlicePositional(t *testing.T) {
	ms := planFixture()
	slice, err := PlanSlice(ms, PlanRequest{Positional: []int{1, 2, 7}})
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, 7}
	for axis, idx := range want {
		if slice.Window.Lo[axis] != idx || slice.Window.Hi[axis] != idx+1 {
			t.Errorf("axis %d window = %d:%d, want %d:%d",
				axis, slice.Window.Lo[axis], slice.Window.Hi[axis], idx, idx+1)
		}
	}
}

func TestPlanSliceMissingLevel(t *testing.T) {
	ms := planFixture()
	_, err := PlanSlice(ms, PlanRequest{LevelPath: "2"})
	var serr *SelectorError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want *SelectorError", err)
	}
	if serr.Axis != "level" {
		t.Errorf("error axis = %q, want \"level\"", serr.Axis)
	}
	// the message must name what does exist
	if !strings.Contains(err.Error(), "0") || !strings.Contains(err.Error(), "1") {
		t.Errorf("error %q does not list the available levels", err)
	}
}

func TestPlanSliceErrors(t *testing.T) {
	ms := planFixture()
	cases := []struct {
		name string
		req  PlanRequest
	}{
		{"unknown axis", PlanRequest{Selectors: AxisSelector{"q": {Kind: SelectIndex, Index: 0}}}},
		{"index out of range", PlanRequest{Selectors: AxisSelector{"z": {Kind: SelectIndex, Index: 10}}}},
		{"negative index", PlanRequest{Selectors: AxisSelector{"z": {Kind: SelectIndex, Index: -1}}}},
		{"range on sliced axis", PlanRequest{Selectors: AxisSelector{"z": {Kind: SelectRange, Lo: 0, Hi: 5}}}},
		{"index on render axis", PlanRequest{Selectors: AxisSelector{"y": {Kind: SelectIndex, Index: 5}}}},
		{"inverted range", PlanRequest{Selectors: AxisSelector{"y": {Kind: SelectRange, Lo: 400, Hi: 100}}}},
		{"empty range", PlanRequest{Selectors: AxisSelector{"y": {Kind: SelectRange, Lo: 100, Hi: 100}}}},
		{"range out of bounds", PlanRequest{Selectors: AxisSelector{"y": {Kind: SelectRange, Lo: 0, Hi: 4096}}}},
		{"too many positional", PlanRequest{Positional: []int{0, 0, 0, 0}}},
		{"positional and named overlap", PlanRequest{
			Positional: []int{0},
			Selectors:  AxisSelector{"t": {Kind: SelectIndex, Index: 1}},
		}},
	}
	for _, c := range cases {
		_, err := PlanSlice(ms, c.req)
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		var serr *SelectorError
		if !errors.As(err, &serr) {
			t.Errorf("%s: error type %T, want *SelectorError", c.name, err)
		}
	}
}

func TestPlanSliceRejectsOneDimensional(t *testing.T) {
	ms := &MultiscaleDescriptor{Levels: []Level{{Array: &ArrayDescriptor{
		Shape:      []int{100},
		ChunkShape: []int{10},
		Axes:       []string{"x"},
		Order:      'C',
	}}}}
	if _, err := PlanSlice(ms, PlanRequest{}); err == nil {
		t.Error("expected error for a 1-D array")
	}
}

func TestParseSelectors(t *testing.T) {
	sel, err := ParseSelectors("z=12,t=3,y=100:400,x=:")
	if err != nil {
		t.Fatal(err)
	}
	want := AxisSelector{
		"z": {Kind: SelectIndex, Index: 12},
		"t": {Kind: SelectIndex, Index: 3},
		"y": {Kind: SelectRange, Lo: 100, Hi: 400},
		"x": {Kind: SelectAll},
	}
	if !reflect.DeepEqual(sel, want) {
		t.Errorf("selectors = %v, want %v", sel, want)
	}

	sel, err = ParseSelectors("")
	if err != nil || len(sel) != 0 {
		t.Errorf("empty selector string = %v, %v", sel, err)
	}

	if _, err := ParseSelectors("x=*"); err != nil {
		t.Errorf("star selector: %v", err)
	}
}

func TestParseSelectorsRejects(t *testing.T) {
	bad := []string{"z", "z=", "=5", "z=abc", "y=1:b", "z=1,z=2"}
	for _, in := range bad {
		if _, err := ParseSelectors(in); err == nil {
			t.Errorf("ParseSelectors(%q) succeeded, want error", in)
		}
	}
}

func TestWithIndexCopies(t *testing.T) {
	orig := AxisSelector{"z": {Kind: SelectIndex, Index: 4}}
	pinned := orig.WithIndex("c", 2)
	if _, ok := orig["c"]; ok {
		t.Error("WithIndex mutated the original selector")
	}
	if pinned["c"] != (Selection{Kind: SelectIndex, Index: 2}) {
		t.Errorf("pinned selector = %v", pinned["c"])
	}
	if pinned["z"].Index != 4 {
		t.Error("WithIndex dropped an existing selection")
	}
}

func TestSelectionString(t *testing.T) {
	cases := []struct {
		sel  Selection
		want string
	}{
		{Selection{Kind: SelectIndex, Index: 7}, "7"},
		{Selection{Kind: SelectRange, Lo: 10, Hi: 20}, "10:20"},
		{Selection{Kind: SelectAll}, ":"},
	}
	for _, c := range cases {
		if got := c.sel.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}
