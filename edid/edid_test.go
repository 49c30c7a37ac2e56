package edid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// S1 from spec.md §8: manufacturer bytes 0x10 0xAC, product code bytes
// 0x27 0xA0, serial descriptor at offset 54.
func TestParse_S1(t *testing.T) {
	var b [Size]byte
	b[8], b[9] = 0x10, 0xAC
	b[10], b[11] = 0x27, 0xA0

	// Serial descriptor at offset 54: 00 00 00 FF 00 'ABC123' 0A ' '*6
	d := b[54 : 54+18]
	d[3] = 0xff
	copy(d[5:], []byte("ABC123"))
	d[5+6] = 0x0a

	// Model descriptor at offset 72, required for a successful parse.
	d2 := b[72 : 72+18]
	d2[3] = 0xfc
	copy(d2[5:], []byte("TestModel"))
	d2[5+9] = 0x0a

	sum := Checksum(&b)
	b[127] -= sum

	e, err := Parse(b[:])
	require.NoError(t, err)
	assert.Equal(t, "DEL", e.MfgID)
	assert.Equal(t, uint16(0xA027), e.ProductCode)
	assert.Equal(t, "ABC123", e.SerialASCII)
	assert.Equal(t, "TestModel", e.ModelName)
	assert.True(t, e.ChecksumOK)
}

func TestParse_NoIdentity(t *testing.T) {
	var b [Size]byte
	_, err := Parse(b[:])
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestParse_BadChecksumStillParses(t *testing.T) {
	var b [Size]byte
	d := b[54 : 54+18]
	d[3] = 0xff
	copy(d[5:], []byte("SN1"))
	d[5+3] = 0x0a
	d2 := b[72 : 72+18]
	d2[3] = 0xfc
	copy(d2[5:], []byte("M"))
	d2[5+1] = 0x0a
	// Deliberately do not fix up the checksum byte.
	b[127] = 0x01

	e, err := Parse(b[:])
	require.NoError(t, err)
	assert.False(t, e.ChecksumOK)
}

// Invariant 1: checksum(b) == 0 iff sum(b) mod 256 == 0, for all inputs.
func TestChecksumTotality(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var b [Size]byte
		bs := rapid.SliceOfN(rapid.Byte(), Size, Size).Draw(t, "bytes")
		copy(b[:], bs)

		var want byte
		for _, v := range b {
			want += v
		}
		assert.Equal(t, want == 0, Checksum(&b) == 0)
	})
}

// Invariant 2: for all three-ASCII strings in [A-Z]^3, encode then decode
// is the identity.
func TestMfgIDRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		letters := make([]byte, 3)
		for i := range letters {
			letters[i] = byte(rapid.IntRange(0, 25).Draw(t, "letter")) + 'A'
		}
		s := string(letters)

		b0, b1 := EncodeMfgID(s)
		got := DecodeMfgID(b0, b1)
		assert.Equal(t, s, got)
	})
}
