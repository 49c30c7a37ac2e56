package ddcio

import (
	"context"
	"encoding/binary"

	"github.com/rockowitz/go-ddcutil/tunedsleep"
)

// Client drives MCCS requests over a Transport, applying the retry
// discipline and tuned-sleep adaptation of spec §4.D/§4.C. Apart from
// its per-class retry statistics (StatsByClass), which it accumulates
// itself, every field here is either immutable configuration or
// owned-elsewhere shared state.
type Client struct {
	Transport Transport
	Settings  Settings
	Sleeps    *tunedsleep.Table
	Key       tunedsleep.Key

	StatsByClass [classCount]*Stats
}

// NewClient returns a Client with per-class Stats initialized from
// settings.
func NewClient(t Transport, settings Settings, sleeps *tunedsleep.Table, key tunedsleep.Key) *Client {
	c := &Client{Transport: t, Settings: settings, Sleeps: sleeps, Key: key}
	for class := OperationClass(0); class < classCount; class++ {
		c.StatsByClass[class] = NewStats(class, settings.MaxTries[class])
	}
	return c
}

// VCPReply is the decoded payload of a VCP Reply message (opcode
// 0x02).
type VCPReply struct {
	Supported bool
	Feature   byte
	Type      byte
	Max       uint16
	Current   uint16
}

// GetVCP issues a VCP Request for feature and returns the decoded
// reply, retrying per the write-read operation class.
func (c *Client) GetVCP(ctx context.Context, feature byte) (VCPReply, error) {
	req := []byte{byte(OpVCPRequest), feature}
	frame, err := EncodeRequest(req)
	if err != nil {
		return VCPReply{}, err
	}

	return Do(ctx, ClassWriteRead, c.Settings, c.Sleeps, c.Key, c.StatsByClass[ClassWriteRead],
		func(ctx context.Context) (VCPReply, error) {
			reply, err := c.Transport.WriteThenRead(ctx, frame, 3+MaxReplyPayload)
			if err != nil {
				return VCPReply{}, err
			}
			pkt, err := DecodeReply(reply)
			if err != nil {
				return VCPReply{}, err
			}
			if pkt.Opcode() != OpVCPReply {
				return VCPReply{}, newError(KindProtocolSemantics, "unexpected opcode in VCP reply", ErrUnsupportedOp)
			}
			return decodeVCPReply(pkt.Payload)
		})
}

func decodeVCPReply(payload []byte) (VCPReply, error) {
	if len(payload) < 8 {
		return VCPReply{}, newError(KindProtocolFraming, "VCP reply too short", nil)
	}
	result := payload[1]
	r := VCPReply{
		Supported: result == 0,
		Feature:   payload[2],
		Type:      payload[3],
		Max:       binary.BigEndian.Uint16(payload[4:6]),
		Current:   binary.BigEndian.Uint16(payload[6:8]),
	}
	return r, nil
}

// SetVCP issues a VCP Set for feature with value, retrying per the
// write-only operation class (no reply is expected).
func (c *Client) SetVCP(ctx context.Context, feature byte, value uint16) error {
	req := []byte{byte(OpVCPSet), feature, byte(value >> 8), byte(value)}
	frame, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	_, err = Do(ctx, ClassWriteOnly, c.Settings, c.Sleeps, c.Key, c.StatsByClass[ClassWriteOnly],
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.Transport.Write(ctx, frame)
		})
	return err
}

// Reset issues a VCP Reset (factory defaults), write-only.
func (c *Client) Reset(ctx context.Context) error {
	frame, err := EncodeRequest([]byte{byte(OpVCPReset)})
	if err != nil {
		return err
	}
	_, err = Do(ctx, ClassWriteOnly, c.Settings, c.Sleeps, c.Key, c.StatsByClass[ClassWriteOnly],
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.Transport.Write(ctx, frame)
		})
	return err
}

// SaveSettings issues a Save Settings request, write-only.
func (c *Client) SaveSettings(ctx context.Context) error {
	frame, err := EncodeRequest([]byte{byte(OpSaveSettings)})
	if err != nil {
		return err
	}
	_, err = Do(ctx, ClassWriteOnly, c.Settings, c.Sleeps, c.Key, c.StatsByClass[ClassWriteOnly],
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.Transport.Write(ctx, frame)
		})
	return err
}

// multiPartReader drives a capabilities- or table-style read: an
// outer loop issuing requests with a 16-bit offset, concatenating
// fragments, and terminating on a zero-length fragment. Offsets must
// advance monotonically or the whole read fails.
func (c *Client) multiPartReader(
	ctx context.Context,
	requestOpcode, replyOpcode Opcode,
) ([]byte, error) {
	var out []byte
	var lastOffset uint16 = 0
	first := true

	for {
		offset := lastOffset
		req := []byte{byte(requestOpcode), byte(offset >> 8), byte(offset)}
		frame, err := EncodeRequest(req)
		if err != nil {
			return nil, err
		}

		fragment, err := Do(ctx, ClassMultiPart, c.Settings, c.Sleeps, c.Key, c.StatsByClass[ClassMultiPart],
			func(ctx context.Context) ([]byte, error) {
				reply, err := c.Transport.WriteThenRead(ctx, frame, 3+MaxReplyPayload)
				if err != nil {
					return nil, err
				}
				pkt, err := DecodeReply(reply)
				if err != nil {
					return nil, err
				}
				if pkt.Opcode() != replyOpcode {
					return nil, newError(KindProtocolSemantics, "unexpected opcode in multi-part reply", ErrUnsupportedOp)
				}
				if len(pkt.Payload) < 3 {
					return nil, newError(KindProtocolFraming, "multi-part fragment too short", nil)
				}
				gotOffset := binary.BigEndian.Uint16(pkt.Payload[1:3])
				if !first && gotOffset != lastOffset {
					return nil, newError(KindProtocolFraming, "multi-part fragment out of order", nil)
				}
				return pkt.Payload[3:], nil
			})
		if err != nil {
			return nil, err
		}

		if len(fragment) == 0 {
			break
		}
		out = append(out, fragment...)
		lastOffset += uint16(len(fragment))
		first = false
	}
	return out, nil
}

// Capabilities fetches and concatenates the capabilities string via
// the Capabilities Request/Reply opcode pair.
func (c *Client) Capabilities(ctx context.Context) (string, error) {
	b, err := c.multiPartReader(ctx, OpCapabilitiesReq, OpCapabilitiesReply)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// TableRead fetches a table-type feature's contents via the Table
// Read Request/Reply opcode pair.
func (c *Client) TableRead(ctx context.Context) ([]byte, error) {
	return c.multiPartReader(ctx, OpTableReadRequest, OpTableReadReply)
}
