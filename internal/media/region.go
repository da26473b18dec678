package media

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/babelcloud/gbox/packages/caster/internal/errdefs"
)

// Region is a capture rectangle in source screen coordinates. The zero value
// is reserved for "full screen" so the engine command stays uniform.
type Region struct {
	X0 uint32 `json:"x0"`
	Y0 uint32 `json:"y0"`
	X1 uint32 `json:"x1"`
	Y1 uint32 `json:"y1"`
}

// FullScreen is the reserved zero region.
var FullScreen = Region{}

// IsFullScreen reports whether r is the reserved full screen region.
func (r Region) IsFullScreen() bool {
	return r == FullScreen
}

func (r Region) Width() uint32 {
	return r.X1 - r.X0
}

func (r Region) Height() uint32 {
	return r.Y1 - r.Y0
}

// Validate accepts the full screen region or any rectangle with x0<x1 and
// y0<y1.
func (r Region) Validate() error {
	if r.IsFullScreen() {
		return nil
	}
	if r.X0 >= r.X1 {
		return errdefs.Validation("region", r.String(), "x0 must be less than x1")
	}
	if r.Y0 >= r.Y1 {
		return errdefs.Validation("region", r.String(), "y0 must be less than y1")
	}
	return nil
}

func (r Region) String() string {
	if r.IsFullScreen() {
		return "full"
	}
	return fmt.Sprintf("%d,%d,%d,%d", r.X0, r.Y0, r.X1, r.Y1)
}

// ParseRegion parses "full" or "x0,y0,x1,y1" and validates the result.
func ParseRegion(s string) (Region, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "full") {
		return FullScreen, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, errdefs.Validation("region", s, "expected full or x0,y0,x1,y1")
	}

	var coords [4]uint32
	for i, part := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return Region{}, errdefs.Validation("region", s, "coordinates must be non-negative integers")
		}
		coords[i] = uint32(n)
	}

	r := Region{X0: coords[0], Y0: coords[1], X1: coords[2], Y1: coords[3]}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}
