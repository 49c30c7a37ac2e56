package ddcio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A 7-byte VCP reply payload is well-framed (DecodeReply accepts it)
// but one byte short of decodeVCPReply's current-value field (payload[6:8]).
// It must return a framing error, never panic.
func TestDecodeVCPReply_SevenByteFramedPayloadIsRejected(t *testing.T) {
	payload := []byte{byte(OpVCPReply), 0x00, 0x10, 0x00, 0x00, 0x64, 0x00}
	frame := encodeReplyForTest(monitorAddr, payload)

	pkt, err := DecodeReply(frame)
	require.NoError(t, err)

	_, err = decodeVCPReply(pkt.Payload)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindProtocolFraming, derr.Kind)
}

func TestDecodeVCPReply_EightByteMinimumAccepted(t *testing.T) {
	payload := []byte{byte(OpVCPReply), 0x00, 0x10, 0x00, 0x00, 0x64, 0x00, 0x32}
	reply, err := decodeVCPReply(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), reply.Max)
	assert.Equal(t, uint16(50), reply.Current)
}
