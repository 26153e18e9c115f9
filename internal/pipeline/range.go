package pipeline

import "github.com/objectmail/objectmail/internal/errvalues"

// Range is a parsed single-range HTTP Range request — only a single
// byte-range is in scope; multi-range
// responses are a Non-goal).
type Range struct {
	// Start and End follow RFC 7233 byte-range-spec conventions: End is
	// inclusive, and either bound may be absent (represented here by a
	// negative value) to mean "from Start to EOF" or "the last -Start
	// bytes".
	Start, End int64
}

func (r *Range) resolve(size int64) (start, end int64, err error) {
	switch {
	case r.Start < 0:
		// suffix range: last -Start bytes
		start = size + r.Start
		if start < 0 {
			start = 0
		}
		end = size - 1
	case r.End < 0:
		start = r.Start
		end = size - 1
	default:
		start = r.Start
		end = r.End
	}
	if start < 0 || start >= size || end < start {
		return 0, 0, errvalues.ErrInvalidRange
	}
	if end > size-1 {
		end = size - 1
	}
	return start, end, nil
}
