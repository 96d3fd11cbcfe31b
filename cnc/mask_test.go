package cnc

import "testing"

func TestMask_Basics(t *testing.T) {
	m := MaskOf(0, 2)
	if !m.Has(0) || m.Has(1) || !m.Has(2) {
		t.Fatalf("MaskOf(0,2) = %08b", m)
	}
	if got := m.String(); got != "XZ" {
		t.Fatalf("String() = %q, want XZ", got)
	}
	if got := m.Count(); got != 2 {
		t.Fatalf("Count() = %d", got)
	}
	if got := m.With(1).Without(0); got != MaskOf(1, 2) {
		t.Fatalf("With/Without = %v", got)
	}
	if got := m.Minus(MaskOf(2)); got != MaskOf(0) {
		t.Fatalf("Minus = %v", got)
	}
	if !AxisMask(0).Empty() || AxisMask(0).String() != "-" {
		t.Fatal("empty mask")
	}
	if m.With(MaxAxes) != m || m.Has(-1) {
		t.Fatal("out-of-range axis must be ignored")
	}
}

func TestMask_Limit(t *testing.T) {
	m := AxisMask(0xFF)
	if got := m.Limit(3); got != MaskOf(0, 1, 2) {
		t.Fatalf("Limit(3) = %08b", got)
	}
	if got := AllAxes(10); got != AllAxes(MaxAxes) {
		t.Fatalf("AllAxes clamps, got %08b", got)
	}
	if AllAxes(0) != 0 {
		t.Fatal("AllAxes(0) != 0")
	}
}

func TestParseMask(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want AxisMask
		ok   bool
	}{
		{"XZ", 3, MaskOf(0, 2), true},
		{"yx", 3, MaskOf(0, 1), true},
		{"", 3, 0, true},
		{"A", 3, 0, false},
		{"Q", 6, 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseMask(tc.in, tc.n)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseMask(%q,%d) = %v,%v want %v,%v", tc.in, tc.n, got, ok, tc.want, tc.ok)
		}
	}
}

func TestMask_Axes(t *testing.T) {
	got := MaskOf(4, 1).Axes()
	if len(got) != 2 || got[0] != 1 || got[1] != 4 {
		t.Fatalf("Axes() = %v", got)
	}
}
