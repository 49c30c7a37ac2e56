package ddcio

import "context"

// Transport is the boundary between DDC packet I/O and the underlying
// bus. i2cbus implements it over periph.io/x/conn/v3/i2c; a USB-HID
// implementation is a peer at this same boundary and out of scope for
// this module (see spec.md non-goals).
//
// Implementations must classify failures as *TransportError and never
// let a raw errno escape as a bare error, so the retry layer can tell
// a bus failure from a DDC-layer protocol failure.
type Transport interface {
	// Write sends b in a single transaction.
	Write(ctx context.Context, b []byte) error
	// Read receives up to n bytes in a single transaction.
	Read(ctx context.Context, n int) ([]byte, error)
	// WriteThenRead performs a combined write/read transaction where
	// the underlying bus supports it, or a write followed by a read
	// separated by an implementation-chosen inter-call delay.
	WriteThenRead(ctx context.Context, req []byte, respMax int) ([]byte, error)
}
