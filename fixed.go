package hwc

import "golang.org/x/image/math/fixed"

// Fixed returns n in the 52.12 fixed-point format pipe scalers are
// programmed in.
func Fixed(n int) fixed.Int52_12 {
	return fixed.Int52_12(n) << 12
}
