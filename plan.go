package zarrpeek

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
)

// SelectionKind says how a selector pins an axis.
type SelectionKind uint8

const (
	// SelectIndex pins the axis to one concrete index.
	SelectIndex SelectionKind = iota
	// SelectRange restricts a render axis to a sub-range (half-open).
	SelectRange
	// SelectAll leaves a render axis at its full extent.
	SelectAll
)

// Selection is one axis selector value.
type Selection struct {
	Kind  SelectionKind
	Index int
	Lo    int
	Hi    int
}

// AxisSelector maps axis names to selections.
type AxisSelector map[string]Selection

// ParseSelectors parses a selector string like "z=12,t=3,y=100:400". A bare
// value pins an index, "lo:hi" restricts a range, and ":" or "*" leaves the
// axis at full extent.
func ParseSelectors(s string) (AxisSelector, error) {
	out := AxisSelector{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		name, value, found := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, selectorErrf(strings.TrimSpace(part), "selector must look like axis=index or axis=lo:hi")
		}
		sel, err := parseSelection(name, strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		if _, dup := out[name]; dup {
			return nil, selectorErrf(name, "axis selected twice")
		}
		out[name] = sel
	}
	return out, nil
}

func parseSelection(axis, value string) (Selection, error) {
	if value == ":" || value == "*" {
		return Selection{Kind: SelectAll}, nil
	}
	if lo, hi, isRange := strings.Cut(value, ":"); isRange {
		loN, err := strconv.Atoi(lo)
		if err != nil {
			return Selection{}, selectorErrf(axis, "bad range start %q", lo)
		}
		hiN, err := strconv.Atoi(hi)
		if err != nil {
			return Selection{}, selectorErrf(axis, "bad range end %q", hi)
		}
		return Selection{Kind: SelectRange, Lo: loN, Hi: hiN}, nil
	}
	idx, err := strconv.Atoi(value)
	if err != nil {
		return Selection{}, selectorErrf(axis, "bad index %q", value)
	}
	return Selection{Kind: SelectIndex, Index: idx}, nil
}

// ResolvedSlice is a fully planned render: one resolution level, a concrete
// window, and the two axes that form the output plane in (row, column)
// order.
type ResolvedSlice struct {
	Level   *Level
	Window  Window
	RowAxis int
	ColAxis int
}

// PlanRequest carries the user's selection plus planning policy.
type PlanRequest struct {
	// LevelPath picks a resolution level; empty means the lowest
	// resolution (last declared) level.
	LevelPath string
	// Selectors pin axes by name.
	Selectors AxisSelector
	// Positional pins the leading non-spatial axes in order, matching
	// the axis order of the array. Named selectors take precedence and
	// may not overlap.
	Positional []int
	// MaxExtent center-crops a render axis that would exceed it and has
	// no explicit range. Zero means unlimited.
	MaxExtent int

	Log *log.Logger
}

// PlanSlice maps the request onto a concrete window of one resolution
// level. The two trailing axes render as (row, column); every other axis
// resolves to a single index, defaulting to its center.
func PlanSlice(ms *MultiscaleDescriptor, req PlanRequest) (*ResolvedSlice, error) {
	logger := req.Log
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	level := ms.Lowest()
	if req.LevelPath != "" {
		level = ms.LevelByPath(req.LevelPath)
		if level == nil {
			return nil, selectorErrf("level", "resolution level %q does not exist, have %v", req.LevelPath, ms.Paths())
		}
	}
	desc := level.Array
	ndim := desc.NDim()
	if ndim < 2 {
		return nil, selectorErrf("shape", "array must have at least 2 dimensions, got %d", ndim)
	}
	rowAxis, colAxis := ndim-2, ndim-1

	for name := range req.Selectors {
		if desc.AxisIndex(name) < 0 {
			return nil, selectorErrf(name, "axis does not exist, have %v", desc.Axes)
		}
	}
	if len(req.Positional) > ndim-2 {
		return nil, selectorErrf("slice", "too many slice indices: expected at most %d, got %d", ndim-2, len(req.Positional))
	}

	selected := make(map[int]Selection, ndim)
	for i, idx := range req.Positional {
		selected[i] = Selection{Kind: SelectIndex, Index: idx}
	}
	for name, sel := range req.Selectors {
		axis := desc.AxisIndex(name)
		if _, dup := selected[axis]; dup {
			return nil, selectorErrf(name, "axis selected both positionally and by name")
		}
		selected[axis] = sel
	}

	win := NewWindow(ndim)
	for axis := 0; axis < ndim; axis++ {
		extent := desc.Shape[axis]
		name := desc.Axes[axis]
		sel, explicit := selected[axis]
		spatial := axis == rowAxis || axis == colAxis

		if !spatial {
			if !explicit {
				sel = Selection{Kind: SelectIndex, Index: (extent - 1) / 2}
				logger.Printf("slicing axis %s at center index %d", name, sel.Index)
			}
			if sel.Kind != SelectIndex {
				return nil, selectorErrf(name, "only the two trailing render axes may span a range")
			}
			if sel.Index < 0 || sel.Index >= extent {
				return nil, selectorErrf(name, "index %d out of range [0, %d)", sel.Index, extent)
			}
			win.Lo[axis], win.Hi[axis] = sel.Index, sel.Index+1
			continue
		}

		if !explicit {
			sel = Selection{Kind: SelectAll}
		}
		switch sel.Kind {
		case SelectAll:
			win.Lo[axis], win.Hi[axis] = 0, extent
			if req.MaxExtent > 0 && extent > req.MaxExtent {
				lo := (extent - req.MaxExtent) / 2
				win.Lo[axis], win.Hi[axis] = lo, lo+req.MaxExtent
				logger.Printf("cropping axis %s to %d of %d", name, req.MaxExtent, extent)
			}
		case SelectRange:
			if sel.Lo < 0 || sel.Hi > extent {
				return nil, selectorErrf(name, "range %d:%d out of bounds [0, %d]", sel.Lo, sel.Hi, extent)
			}
			if sel.Hi <= sel.Lo {
				return nil, selectorErrf(name, "range %d:%d is empty or inverted", sel.Lo, sel.Hi)
			}
			win.Lo[axis], win.Hi[axis] = sel.Lo, sel.Hi
		default:
			return nil, selectorErrf(name, "render axis needs a range, not a single index; fewer than two axes would remain to render")
		}
	}

	logger.Printf("planned level %s window %v render axes (%s, %s)",
		levelName(level), win, desc.Axes[rowAxis], desc.Axes[colAxis])

	return &ResolvedSlice{Level: level, Window: win, RowAxis: rowAxis, ColAxis: colAxis}, nil
}

func levelName(l *Level) string {
	if l.Path == "" {
		return "(root)"
	}
	return l.Path
}

// WithIndex returns a copy of the selector with one axis pinned to an
// index. The planner uses it to issue one resolved slice per channel.
func (s AxisSelector) WithIndex(axis string, index int) AxisSelector {
	out := make(AxisSelector, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[axis] = Selection{Kind: SelectIndex, Index: index}
	return out
}

func (s Selection) String() string {
	switch s.Kind {
	case SelectAll:
		return ":"
	case SelectRange:
		return fmt.Sprintf("%d:%d", s.Lo, s.Hi)
	default:
		return strconv.Itoa(s.Index)
	}
}
