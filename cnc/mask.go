package cnc

import "math/bits"

// Fixed upper bounds. Per-build configuration may use fewer.
const (
	MaxAxes  = 6
	MaxGangs = 2
)

// axisLetters maps axis index to its conventional name.
const axisLetters = "XYZABC"

// AxisLetter returns the name of axis i, or '?' when out of range.
func AxisLetter(i int) byte {
	if i < 0 || i >= MaxAxes {
		return '?'
	}
	return axisLetters[i]
}

// AxisIndex returns the index for an axis letter (either case), or -1.
func AxisIndex(c byte) int {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	for i := 0; i < MaxAxes; i++ {
		if axisLetters[i] == c {
			return i
		}
	}
	return -1
}

// AxisMask is a bitset over axes; bit i set means axis i is included.
type AxisMask uint8

// MaskOf builds a mask from axis indices. Out-of-range indices are ignored.
func MaskOf(axes ...int) AxisMask {
	var m AxisMask
	for _, a := range axes {
		m = m.With(a)
	}
	return m
}

// AllAxes returns a mask with the first n axes set.
func AllAxes(n int) AxisMask {
	if n <= 0 {
		return 0
	}
	if n >= MaxAxes {
		n = MaxAxes
	}
	return AxisMask(1<<uint(n) - 1)
}

// ParseMask parses axis letters ("XZ", "xyz") limited to the first n axes.
// ok is false if any letter is unknown or beyond n.
func ParseMask(s string, n int) (m AxisMask, ok bool) {
	for i := 0; i < len(s); i++ {
		a := AxisIndex(s[i])
		if a < 0 || a >= n {
			return 0, false
		}
		m = m.With(a)
	}
	return m, true
}

func (m AxisMask) Has(axis int) bool {
	return axis >= 0 && axis < MaxAxes && m&(1<<uint(axis)) != 0
}

func (m AxisMask) With(axis int) AxisMask {
	if axis < 0 || axis >= MaxAxes {
		return m
	}
	return m | 1<<uint(axis)
}

func (m AxisMask) Without(axis int) AxisMask {
	if axis < 0 || axis >= MaxAxes {
		return m
	}
	return m &^ (1 << uint(axis))
}

func (m AxisMask) Union(o AxisMask) AxisMask     { return m | o }
func (m AxisMask) Intersect(o AxisMask) AxisMask { return m & o }
func (m AxisMask) Minus(o AxisMask) AxisMask     { return m &^ o }
func (m AxisMask) Empty() bool                   { return m == 0 }
func (m AxisMask) Count() int                    { return bits.OnesCount8(uint8(m)) }

// Limit clears every bit at or above n.
func (m AxisMask) Limit(n int) AxisMask { return m & AllAxes(n) }

// Axes lists set axis indices in ascending order.
func (m AxisMask) Axes() []int {
	out := make([]int, 0, m.Count())
	for i := 0; i < MaxAxes; i++ {
		if m.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// String renders the mask as axis letters, e.g. "XZ". Empty is "-".
func (m AxisMask) String() string {
	if m.Limit(MaxAxes) == 0 {
		return "-"
	}
	var buf [MaxAxes]byte
	n := 0
	for i := 0; i < MaxAxes; i++ {
		if m.Has(i) {
			buf[n] = axisLetters[i]
			n++
		}
	}
	return string(buf[:n])
}
