package websocket

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

// deflateTail is the 4-octet tail RFC 7692 Section 7.2.1 says the sender
// must strip after compressing (and the receiver must re-append before
// inflating): a 0-length, non-final, stored DEFLATE block.
var deflateTail = [4]byte{0x00, 0x00, 0xFF, 0xFF}

// DeflateCodec compresses and decompresses message payloads under a
// negotiated permessage-deflate extension (RFC 7692).
//
// This implementation never negotiates context takeover away from its
// default "no context takeover" per spec.md's Non-goals, so every
// message is compressed and decompressed against a fresh DEFLATE
// stream: Compress/Decompress each open and close their own
// flate.Writer/Reader rather than reusing one across calls. The
// negotiated parameters do not change the DEFLATE window, which stays at
// compress/flate's fixed 32 KiB; client_max_window_bits is consulted only
// by ShouldSkipCompression.
type DeflateCodec struct {
	params pmdeflateParams
}

// NewDeflateCodec returns a DeflateCodec configured with the negotiated
// parameters from the opening handshake.
func NewDeflateCodec(params pmdeflateParams) *DeflateCodec {
	return &DeflateCodec{params: params}
}

// Compress deflates payload and strips the trailing empty stored block
// (RFC 7692 Section 7.2.1), returning data suitable for an RSV1 frame.
func (c *DeflateCodec) Compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, newErr(KindCompression, 0, fmt.Errorf("create deflate writer: %w", err))
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, newErr(KindCompression, 0, fmt.Errorf("deflate write: %w", err))
	}
	if err := fw.Flush(); err != nil {
		return nil, newErr(KindCompression, 0, fmt.Errorf("deflate flush: %w", err))
	}

	out := buf.Bytes()
	if bytes.HasSuffix(out, deflateTail[:]) {
		out = out[:len(out)-len(deflateTail)]
	}
	return out, nil
}

// Decompress re-appends the stripped tail and inflates payload back
// into the original message bytes (RFC 7692 Section 7.2.2).
func (c *DeflateCodec) Decompress(payload []byte) ([]byte, error) {
	withTail := make([]byte, 0, len(payload)+len(deflateTail))
	withTail = append(withTail, payload...)
	withTail = append(withTail, deflateTail[:]...)

	fr := flate.NewReader(bytes.NewReader(withTail))
	defer fr.Close()

	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, newErr(KindCompression, CloseInvalidFramePayloadData, fmt.Errorf("%w: %v", ErrInvalidDeflateStream, err))
	}
	return out, nil
}

// ShouldSkipCompression implements the compression-skip rule (spec.md
// Section 4.2): when the negotiated client window is smaller than the
// maximum (15 bits) and payloadLen exceeds that window, the message
// must be sent uncompressed, since compress/flate cannot be constrained
// to a smaller LZ77 window than its fixed 32 KiB.
func (c *DeflateCodec) ShouldSkipCompression(payloadLen int) bool {
	if c.params.ClientMaxWindowBits >= defaultMaxWindowBits {
		return false
	}
	return payloadLen > c.params.ClientWindowSize()
}

// ShouldCompress reports whether an outgoing message opcode is eligible
// for permessage-deflate (spec.md Section 4.3): only the opcode that
// opens a data message (Text/Binary) is ever compressed, so RSV1 lands
// on that first frame alone. A Continuation frame belongs to a message
// whose compression decision was already made when its opening frame
// was sent, and control frames are never compressed (RFC 7692 Section
// 5) — both must report false here or the writer would compress each
// caller-supplied fragment as its own independent DEFLATE stream.
func ShouldCompress(opcode Opcode) bool {
	return opcode == OpcodeText || opcode == OpcodeBinary
}
