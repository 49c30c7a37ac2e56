package ddcio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rockowitz/go-ddcutil/tunedsleep"
)

// scriptedTransport replies with a fixed sequence of raw frames (or
// errors) on successive WriteThenRead calls, for exercising the retry
// loop deterministically.
type scriptedTransport struct {
	replies [][]byte
	errs    []error
	calls   int
}

func (s *scriptedTransport) Write(ctx context.Context, b []byte) error { return nil }
func (s *scriptedTransport) Read(ctx context.Context, n int) ([]byte, error) {
	return nil, nil
}
func (s *scriptedTransport) WriteThenRead(ctx context.Context, req []byte, respMax int) ([]byte, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.replies[i], nil
}

// S3 from spec.md §8: with max-tries=3, first reply is a null reply,
// second has a checksum mismatch, third is valid.
func TestRetry_S3(t *testing.T) {
	goodPayload := []byte{byte(OpVCPReply), 0x00, 0x10, 0x00, 0x00, 0x64, 0x00, 0x32}
	goodFrame := encodeReplyForTest(monitorAddr, goodPayload)
	badChecksumFrame := encodeReplyForTest(monitorAddr, goodPayload)
	badChecksumFrame[len(badChecksumFrame)-1] ^= 0xFF

	tr := &scriptedTransport{
		replies: [][]byte{
			{monitorAddr, 0x80, 0x00}, // null reply
			badChecksumFrame,
			goodFrame,
		},
	}

	settings := DefaultSettings()
	settings.MaxTries[ClassWriteRead] = 3
	client := NewClient(tr, settings, tunedsleep.NewTable(), tunedsleep.Key{MfgID: "DEL"})

	reply, err := client.GetVCP(context.Background(), 0x10)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), reply.Max)
	assert.Equal(t, uint16(50), reply.Current)

	stats := client.StatsByClass[ClassWriteRead]
	assert.Equal(t, 1, stats.successesByTry[3])
	assert.Equal(t, 1, stats.nullReplies)
	assert.Equal(t, 1, stats.checksumMismatches)
}

func TestRetry_ExhaustedAfterMaxTries(t *testing.T) {
	tr := &scriptedTransport{
		replies: [][]byte{
			{monitorAddr, 0x80, 0x00},
			{monitorAddr, 0x80, 0x00},
			{monitorAddr, 0x80, 0x00},
		},
	}
	settings := DefaultSettings()
	settings.MaxTries[ClassWriteRead] = 3
	client := NewClient(tr, settings, tunedsleep.NewTable(), tunedsleep.Key{})

	_, err := client.GetVCP(context.Background(), 0x10)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, KindRetryExhausted, derr.Kind)
	assert.Equal(t, 1, client.StatsByClass[ClassWriteRead].failuresMaxExceeded)
}

func TestRetry_NonRetryableFailsImmediately(t *testing.T) {
	tr := &scriptedTransport{
		errs: []error{&TransportError{Op: "write", Errno: assert.AnError, Fatal: true}},
	}
	settings := DefaultSettings()
	client := NewClient(tr, settings, tunedsleep.NewTable(), tunedsleep.Key{})

	_, err := client.GetVCP(context.Background(), 0x10)
	require.Error(t, err)
	assert.Equal(t, 1, tr.calls)
}

// Invariant 4: for any operation that eventually succeeds on try k,
// exactly k-1 retryable errors are recorded and exactly one success.
func TestRetryMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, MaxMaxTries).Draw(t, "k")

		goodPayload := []byte{byte(OpVCPReply), 0x00, 0x10, 0x00, 0x00, 0x64, 0x00, 0x32}
		goodFrame := encodeReplyForTest(monitorAddr, goodPayload)

		replies := make([][]byte, 0, k)
		for i := 0; i < k-1; i++ {
			replies = append(replies, []byte{monitorAddr, 0x80, 0x00})
		}
		replies = append(replies, goodFrame)

		tr := &scriptedTransport{replies: replies}
		settings := DefaultSettings()
		settings.MaxTries[ClassWriteRead] = MaxMaxTries
		client := NewClient(tr, settings, tunedsleep.NewTable(), tunedsleep.Key{})

		_, err := client.GetVCP(context.Background(), 0x10)
		require.NoError(t, err)

		stats := client.StatsByClass[ClassWriteRead]
		assert.Equal(t, 1, stats.successesByTry[k])
		assert.Equal(t, k-1, stats.nullReplies)
	})
}
