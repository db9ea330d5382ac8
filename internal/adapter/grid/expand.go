package grid

import (
	"iter"

	"github.com/Global-Water-Security-Center/data-exploration/internal/adapter/dataset"
	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

// ExpansionAxes returns the axes of v that produce separate tiles: every
// dimension of v except the two spatial axes and the optional band axis, in
// the variable's dimension order.
func ExpansionAxes(src Source, v dataset.Variable, res *Resolution, band string) []dataset.Axis {
	var out []dataset.Axis
	for _, dim := range v.Dims {
		if dim == res.X.Name || dim == res.Y.Name || (band != "" && dim == band) {
			continue
		}
		if a, ok := src.Axis(dim); ok {
			out = append(out, a)
		}
	}
	return out
}

// Count returns the number of selectors Expand yields for axes.
func Count(axes []dataset.Axis) int {
	n := 1
	for _, a := range axes {
		n *= a.Len()
	}
	return n
}

// Expand lazily yields the Cartesian product of the axes' values, with the
// last axis varying fastest. With no axes it yields a single empty selector.
// Any empty axis makes the product empty.
func Expand(axes []dataset.Axis) iter.Seq[domain.Selector] {
	return func(yield func(domain.Selector) bool) {
		for _, a := range axes {
			if a.Len() == 0 {
				return
			}
		}

		idx := make([]int, len(axes))
		for {
			sel := make(domain.Selector, len(axes))
			for i, a := range axes {
				sel[i] = domain.AxisValue{
					Axis:  a.Name,
					Index: idx[i],
					Value: a.Values[idx[i]],
					Label: a.Label(idx[i]),
				}
			}
			if !yield(sel) {
				return
			}

			// Advance the odometer.
			i := len(axes) - 1
			for ; i >= 0; i-- {
				idx[i]++
				if idx[i] < axes[i].Len() {
					break
				}
				idx[i] = 0
			}
			if i < 0 {
				return
			}
		}
	}
}
