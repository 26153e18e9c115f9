package pipeline

import "testing"

func TestRangeResolve(t *testing.T) {
	cases := []struct {
		name      string
		r         Range
		size      int64
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{"first 500 bytes", Range{Start: 0, End: 499}, 1000, 0, 499, false},
		{"open-ended from 900", Range{Start: 900, End: -1}, 1000, 900, 999, false},
		{"suffix last 100 bytes", Range{Start: -100, End: -1}, 1000, 900, 999, false},
		{"suffix larger than size clamps to 0", Range{Start: -5000, End: -1}, 1000, 0, 999, false},
		{"end beyond size clamps", Range{Start: 0, End: 5000}, 1000, 0, 999, false},
		{"start beyond size is unsatisfiable", Range{Start: 1000, End: -1}, 1000, 0, 0, true},
		{"end before start is unsatisfiable", Range{Start: 500, End: 100}, 1000, 0, 0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			start, end, err := c.r.resolve(c.size)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if start != c.wantStart || end != c.wantEnd {
				t.Fatalf("got (%d,%d), want (%d,%d)", start, end, c.wantStart, c.wantEnd)
			}
		})
	}
}
