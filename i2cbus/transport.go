package i2cbus

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/i2c"

	"github.com/rockowitz/go-ddcutil/ddcio"
	"github.com/rockowitz/go-ddcutil/edid"
)

// Transport implements ddcio.Transport over a periph.io/x/conn/v3/i2c.Bus,
// bound to one slave address (conventionally 0x37 for DDC/CI).
type Transport struct {
	bus  i2c.Bus
	addr uint16

	// eioSeen tracks whether this transport has already seen an EIO,
	// per spec §4.D's "EIO on first occurrence" retry rule. A Transport
	// is bound to one display's exclusive Handle (dref.Open), so this
	// field is never touched concurrently.
	eioSeen bool
}

// NewTransport wraps an already-opened periph i2c.Bus.
func NewTransport(bus i2c.Bus, addr uint16) *Transport {
	return &Transport{bus: bus, addr: addr}
}

func (t *Transport) Write(ctx context.Context, b []byte) error {
	if err := checkCancelled(ctx); err != nil {
		return err
	}
	if err := t.bus.Tx(t.addr, b, nil); err != nil {
		return t.classify("write", err)
	}
	return nil
}

func (t *Transport) Read(ctx context.Context, n int) ([]byte, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := t.bus.Tx(t.addr, nil, buf); err != nil {
		return nil, t.classify("read", err)
	}
	return buf, nil
}

// WriteThenRead issues a single combined I²C transaction (write
// followed immediately by a repeated-start read), which is what the
// Linux i2c-dev ioctl (and therefore periph's sysfs.I2C.Tx) performs
// natively — so no separate inter-call delay is needed here; that
// delay is the tuned-sleep layer's concern between logical retries,
// not within one transaction.
func (t *Transport) WriteThenRead(ctx context.Context, req []byte, respMax int) ([]byte, error) {
	if err := checkCancelled(ctx); err != nil {
		return nil, err
	}
	buf := make([]byte, respMax)
	if err := t.bus.Tx(t.addr, req, buf); err != nil {
		return nil, t.classify("write-then-read", err)
	}
	return buf, nil
}

// Close releases the underlying bus if it supports it.
func (t *Transport) Close() error {
	if c, ok := t.bus.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("i2cbus: %w", ctx.Err())
	default:
		return nil
	}
}

// classify wraps a raw transport failure as a *ddcio.TransportError,
// so the DDC-layer retry loop never conflates it with a protocol
// error. Transient errno values are EBUSY, EAGAIN, and EIO but only on
// its first occurrence for this transport (spec §4.D); a repeat EIO
// and ENXIO/ENODEV are fatal.
func (t *Transport) classify(op string, err error) *ddcio.TransportError {
	te := &ddcio.TransportError{Op: op, Errno: err}
	switch {
	case errors.Is(err, unix.EBUSY), errors.Is(err, unix.EAGAIN):
		te.Transient = true
	case errors.Is(err, unix.EIO):
		if !t.eioSeen {
			t.eioSeen = true
			te.Transient = true
		} else {
			te.Fatal = true
		}
	case errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
		te.Fatal = true
	default:
		// An unclassified errno is treated as fatal: spec §4.D only
		// names EBUSY/EAGAIN/first-occurrence-EIO as retryable, and
		// retrying an unknown failure indefinitely would violate the
		// "not retried: ... explicit fatal errno" rule by omission.
		te.Fatal = true
	}
	return te
}

// readEDIDViaI2C reads the 128-byte EDID block directly at slave
// 0x50, the second avenue tried after sysfs (spec §4.E).
func readEDIDViaI2C(f *os.File) (*edid.EDID, error) {
	fd := int(f.Fd())
	if err := unix.IoctlSetInt(fd, ioctlSlave, 0x50); err != nil {
		return nil, err
	}
	buf := make([]byte, edid.Size)
	n, err := unix.Read(fd, buf)
	if err != nil {
		return nil, err
	}
	if n != edid.Size {
		return nil, fmt.Errorf("i2cbus: short EDID read: %d bytes", n)
	}
	return edid.Parse(buf)
}
