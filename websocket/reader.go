package websocket

import (
	"bufio"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// pendingMessage accumulates the payloads of a fragmented data message
// (spec.md Section 3, "Message assembly buffer").
type pendingMessage struct {
	opcode Opcode
	rsv1   bool // RSV1 of the FIRST frame; only it determines inflation
	parts  [][]byte
}

// Reader is the long-running task draining decoded frames, reassembling
// messages, and driving incoming control-frame logic (spec.md Section
// 4.6). It is adapted from the teacher's Conn.Read fragment-buffer
// handling (conn.go), generalized to run inside its own goroutine and
// dispatch to a Listener instead of returning synchronously.
type Reader struct {
	br       *bufio.Reader
	codec    FrameCodec
	extended bool
	rsvOwn   rsvOwnership
	deflate  *DeflateCodec // nil unless permessage-deflate was negotiated

	queue    *SendQueue
	listener Listener
	logger   zerolog.Logger
	session  *Session

	missingCloseFrameAllowed bool
	pending                  *pendingMessage
}

// run is the Reader's loop body: read one frame, deliver onFrame,
// dispatch by opcode, repeat until a CLOSE frame, a protocol violation,
// or the stream ends.
func (r *Reader) run() {
	defer r.session.readerDone()

	for {
		f, err := r.codec.Decode(r.br, r.extended, r.rsvOwn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.handleStreamEnd()
				return
			}
			r.handleReadError(err)
			return
		}

		logFrameReceived(r.logger, f)
		dispatchSafely(r.listener, func() { r.listener.OnFrame(f) })

		if stop := r.dispatch(f); stop {
			return
		}
	}
}

// dispatch handles one decoded frame and reports whether the Reader
// should stop (a CLOSE frame was processed, or a protocol violation
// occurred).
func (r *Reader) dispatch(f *Frame) (stop bool) {
	switch {
	case f.Opcode == OpcodeText || f.Opcode == OpcodeBinary:
		return r.dispatchData(f)
	case f.Opcode == OpcodeContinuation:
		return r.dispatchContinuation(f)
	case f.Opcode == OpcodePing:
		dispatchSafely(r.listener, func() { r.listener.OnPingFrame(f.Payload) })
		pong, err := NewPongFrame(f.Payload)
		if err == nil {
			_ = r.queue.EnqueueControl(pong)
		}
		return false
	case f.Opcode == OpcodePong:
		dispatchSafely(r.listener, func() { r.listener.OnPongFrame(f.Payload) })
		return false
	case f.Opcode == OpcodeClose:
		return r.dispatchClose(f)
	default:
		return false
	}
}

func (r *Reader) dispatchData(f *Frame) (stop bool) {
	if r.pending != nil {
		return r.protocolViolation(newErr(KindProtocol, CloseProtocolError, ErrUnexpectedFrame))
	}
	if f.Fin {
		r.finalizeMessage(f.Opcode, f.RSV1, f.Payload)
		return false
	}
	r.pending = &pendingMessage{opcode: f.Opcode, rsv1: f.RSV1, parts: [][]byte{f.Payload}}
	return false
}

func (r *Reader) dispatchContinuation(f *Frame) (stop bool) {
	if r.pending == nil {
		return r.protocolViolation(newErr(KindProtocol, CloseProtocolError, ErrUnexpectedFrame))
	}
	r.pending.parts = append(r.pending.parts, f.Payload)
	if !f.Fin {
		return false
	}
	total := 0
	for _, p := range r.pending.parts {
		total += len(p)
	}
	payload := make([]byte, 0, total)
	for _, p := range r.pending.parts {
		payload = append(payload, p...)
	}
	opcode, rsv1 := r.pending.opcode, r.pending.rsv1
	r.pending = nil
	r.finalizeMessage(opcode, rsv1, payload)
	return false
}

// finalizeMessage inflates (if RSV1 was set on the message's first
// frame and permessage-deflate is active), validates, and dispatches a
// completed text or binary message (spec.md Section 4.6).
func (r *Reader) finalizeMessage(opcode Opcode, rsv1 bool, payload []byte) {
	if rsv1 && r.deflate != nil {
		decompressed, err := r.deflate.Decompress(payload)
		if err != nil {
			logProtocolError(r.logger, err)
			dispatchSafely(r.listener, func() { r.listener.OnMessageDecompressionError(err) })
			return
		}
		payload = decompressed
	}

	switch opcode {
	case OpcodeText:
		if err := validateText(payload); err != nil {
			dispatchSafely(r.listener, func() { r.listener.OnTextMessageError(err) })
			return
		}
		dispatchSafely(r.listener, func() { r.listener.OnTextMessage(string(payload)) })
	case OpcodeBinary:
		dispatchSafely(r.listener, func() { r.listener.OnBinaryMessage(payload) })
	}
}

// dispatchClose implements spec.md Section 4.6's CLOSE handling: record
// code/reason, mirror a CLOSE if the client has not already sent one,
// mark server_close_received, and stop the Reader.
func (r *Reader) dispatchClose(f *Frame) (stop bool) {
	code, reason := ParseCloseFrame(f.Payload)
	if len(f.Payload) >= 2 && isReservedOnWire(code) {
		return r.protocolViolation(newErr(KindProtocol, CloseProtocolError, ErrProtocolError))
	}

	dispatchSafely(r.listener, func() { r.listener.OnCloseFrame(code, reason) })

	mirror := r.session.noteServerCloseReceived(code, reason)
	if mirror {
		if cf, err := NewCloseFrame(code, reason); err == nil {
			_ = r.queue.EnqueueControl(cf)
		}
	}
	return true
}

// handleStreamEnd applies the missing-close-frame policy (spec.md
// Section 4.6): a clean EOF at a frame boundary with no CLOSE frame
// raises ErrNoMoreFrame unless MissingCloseFrameAllowed is set.
func (r *Reader) handleStreamEnd() {
	if r.session.serverCloseReceived() || r.missingCloseFrameAllowed {
		return
	}
	err := newErr(KindIO, 0, ErrNoMoreFrame)
	logProtocolError(r.logger, err)
	dispatchSafely(r.listener, func() { r.listener.OnError(err) })
	dispatchSafely(r.listener, func() { r.listener.OnFrameError(err) })
}

// handleReadError reports a frame-level read failure and, for protocol
// violations, enqueues a best-effort CLOSE carrying the error's close
// code (1002 for most violations, 1009 for an oversized frame) before
// the Reader stops (spec.md Section 4.6, Section 7).
func (r *Reader) handleReadError(err error) {
	logProtocolError(r.logger, err)
	dispatchSafely(r.listener, func() { r.listener.OnError(err) })
	dispatchSafely(r.listener, func() { r.listener.OnFrameError(err) })

	var wsErr *WebSocketError
	if errors.As(err, &wsErr) && wsErr.Kind == KindProtocol {
		r.enqueueCloseForViolation(wsErr.Code)
	}
}

// protocolViolation is dispatch's shared path for violations detected
// above the codec layer (UNEXPECTED_FRAME): report, enqueue CLOSE(1002),
// and signal the run loop to stop.
func (r *Reader) protocolViolation(err *WebSocketError) bool {
	logProtocolError(r.logger, err)
	dispatchSafely(r.listener, func() { r.listener.OnError(err) })
	dispatchSafely(r.listener, func() { r.listener.OnFrameError(err) })
	r.enqueueCloseForViolation(err.Code)
	return true
}

func (r *Reader) enqueueCloseForViolation(code CloseCode) {
	if code == 0 {
		code = CloseProtocolError
	}
	if cf, err := NewCloseFrame(code, ""); err == nil {
		_ = r.queue.EnqueueControl(cf)
	}
}
