package dref

import "github.com/rockowitz/go-ddcutil/edid"

// SameIdentity reports whether two EDID identities refer to the same
// physical monitor. Comparison uses the identifier fields (mfg,
// model, product code, both serial encodings), never raw EDID bytes:
// some panels emit a byte-level differing EDID on a phantom connector
// (observed: byte 24 toggling between RGB 4:4:4 and RGB 4:4:4 +
// YCbCr 4:2:2 within the same session) while the identity fields stay
// constant.
func SameIdentity(a, b edid.Identity) bool {
	return a == b
}
