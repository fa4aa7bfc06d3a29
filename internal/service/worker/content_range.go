package worker

import (
	"fmt"
	"strconv"
	"strings"
)

// contentRange is a parsed "bytes start-end/total" header.
// Total is -1 when the server sent "*".
type contentRange struct {
	Start int64
	End   int64
	Total int64
}

func parseContentRange(v string) (contentRange, error) {
	cr := contentRange{Start: -1, End: -1, Total: -1}

	unit, spec, ok := strings.Cut(strings.TrimSpace(v), " ")
	if !ok || !strings.EqualFold(unit, "bytes") {
		return cr, fmt.Errorf("malformed Content-Range %q", v)
	}
	rng, total, ok := strings.Cut(strings.TrimSpace(spec), "/")
	if !ok {
		return cr, fmt.Errorf("malformed Content-Range %q", v)
	}

	if total != "*" {
		n, err := strconv.ParseInt(total, 10, 64)
		if err != nil || n < 0 {
			return cr, fmt.Errorf("malformed Content-Range total %q", v)
		}
		cr.Total = n
	}

	// unsatisfied-range form: bytes */total
	if rng == "*" {
		return cr, nil
	}

	first, last, ok := strings.Cut(rng, "-")
	if !ok {
		return cr, fmt.Errorf("malformed Content-Range %q", v)
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return cr, fmt.Errorf("malformed Content-Range start %q", v)
	}
	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < start {
		return cr, fmt.Errorf("malformed Content-Range end %q", v)
	}
	cr.Start, cr.End = start, end
	return cr, nil
}
