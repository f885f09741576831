// Package wire encodes outbound payloads as CBOR and frames them onto libp2p
// streams.
package wire

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"cybermesh/node/pkg/p2p/outbound"
	"cybermesh/node/pkg/utils"
)

// DefaultMaxFrameSize bounds a single encoded message.
const DefaultMaxFrameSize = 4 << 20 // 4 MiB

// envelope tags a CBOR body with its payload kind.
type envelope struct {
	Kind uint8           `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

// Codec converts payloads to and from their wire form. It is safe for
// concurrent use.
type Codec struct {
	encMode      cbor.EncMode
	decMode      cbor.DecMode
	maxFrameSize int
}

// NewCodec builds a codec rejecting frames above maxFrameSize; zero selects
// DefaultMaxFrameSize.
func NewCodec(maxFrameSize int) (*Codec, error) {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	encMode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	decMode, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		IntDec:           cbor.IntDecConvertNone,
		MaxArrayElements: 10000,
		MaxMapPairs:      1000,
		MaxNestedLevels:  16,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create CBOR decoder: %w", err)
	}

	return &Codec{encMode: encMode, decMode: decMode, maxFrameSize: maxFrameSize}, nil
}

func (c *Codec) MaxFrameSize() int { return c.maxFrameSize }

// Marshal encodes p into a self-describing frame body.
func (c *Codec) Marshal(p outbound.Payload) ([]byte, error) {
	if p == nil {
		return nil, utils.NewError(utils.CodeInvalidInput, "nil payload")
	}
	if !p.Kind().Valid() {
		return nil, utils.NewErrorf(utils.CodeInvalidInput, "unknown payload kind %d", uint8(p.Kind()))
	}

	body, err := c.encMode.Marshal(p)
	if err != nil {
		return nil, utils.WrapErrorf(err, utils.CodeInternal, "encode %s", p.Kind())
	}

	var buf bytes.Buffer
	if err := c.encMode.NewEncoder(&buf).Encode(envelope{Kind: uint8(p.Kind()), Body: body}); err != nil {
		return nil, utils.WrapErrorf(err, utils.CodeInternal, "encode %s envelope", p.Kind())
	}
	if buf.Len() > c.maxFrameSize {
		return nil, utils.NewErrorf(utils.CodeFrameTooLarge,
			"%s frame of %d bytes exceeds limit %d", p.Kind(), buf.Len(), c.maxFrameSize)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a frame body produced by Marshal.
func (c *Codec) Unmarshal(data []byte) (outbound.Payload, error) {
	if len(data) > c.maxFrameSize {
		return nil, utils.NewErrorf(utils.CodeFrameTooLarge,
			"frame of %d bytes exceeds limit %d", len(data), c.maxFrameSize)
	}

	var env envelope
	if err := c.decMode.Unmarshal(data, &env); err != nil {
		return nil, utils.WrapError(err, utils.CodeDecodeFailure, "decode envelope")
	}

	switch outbound.Kind(env.Kind) {
	case outbound.KindBlock:
		return decodeAs[outbound.Block](c, env)
	case outbound.KindGetBlocks:
		return decodeAs[outbound.GetBlocks](c, env)
	case outbound.KindGetMemoryPool:
		return decodeAs[outbound.GetMemoryPool](c, env)
	case outbound.KindMemoryPool:
		return decodeAs[outbound.MemoryPool](c, env)
	case outbound.KindGetPeers:
		return decodeAs[outbound.GetPeers](c, env)
	case outbound.KindPeers:
		return decodeAs[outbound.Peers](c, env)
	case outbound.KindPing:
		return decodeAs[outbound.Ping](c, env)
	case outbound.KindPong:
		return decodeAs[outbound.Pong](c, env)
	case outbound.KindGetSync:
		return decodeAs[outbound.GetSync](c, env)
	case outbound.KindSync:
		return decodeAs[outbound.Sync](c, env)
	case outbound.KindSyncBlock:
		return decodeAs[outbound.SyncBlock](c, env)
	case outbound.KindTransaction:
		return decodeAs[outbound.Transaction](c, env)
	default:
		return nil, utils.NewErrorf(utils.CodeDecodeFailure, "unknown payload kind %d", env.Kind)
	}
}

func decodeAs[T outbound.Payload](c *Codec, env envelope) (outbound.Payload, error) {
	var p T
	if err := c.decMode.Unmarshal(env.Body, &p); err != nil {
		return nil, utils.WrapErrorf(err, utils.CodeDecodeFailure, "decode %s", outbound.Kind(env.Kind))
	}
	return p, nil
}
