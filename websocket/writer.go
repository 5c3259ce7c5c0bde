package websocket

import (
	"io"

	"github.com/rs/zerolog"
)

// Writer is the long-running task consuming the SendQueue, splitting
// and compressing data payloads, and writing encoded frames to the
// socket (spec.md Section 4.7).
type Writer struct {
	w              io.Writer
	codec          FrameCodec
	deflate        *DeflateCodec // nil unless permessage-deflate was negotiated
	maxPayloadSize int           // 0 = unlimited

	queue    *SendQueue
	listener Listener
	logger   zerolog.Logger
	session  *Session
}

// run dequeues frames until the queue closes or a socket write fails.
func (wr *Writer) run() {
	defer wr.session.writerDone()
	defer wr.queue.MarkWriterStopped()

	for {
		f, ok := wr.queue.Dequeue()
		if !ok {
			return
		}

		if err := wr.writeFrame(f); err != nil {
			wr.handleWriteError(f, err)
			return
		}

		if f.Opcode == OpcodeClose {
			if wr.session.noteClientCloseSent() {
				return
			}
		}
	}
}

// writeFrame applies compression and splitting to a data frame, or
// writes a control frame directly (spec.md Section 4.7).
func (wr *Writer) writeFrame(f *Frame) error {
	if f.Opcode.IsControl() {
		return wr.encodeAndWrite(f)
	}

	payload := f.Payload
	rsv1 := false
	if ShouldCompress(f.Opcode) && wr.deflate != nil && !wr.deflate.ShouldSkipCompression(len(payload)) {
		compressed, err := wr.deflate.Compress(payload)
		if err == nil {
			payload = compressed
			rsv1 = true
		}
	}

	return wr.writeDataPayload(f.Opcode, f.Fin, rsv1, payload)
}

// writeDataPayload splits payload into one data frame followed by
// continuation frames when it exceeds maxPayloadSize (spec.md Section
// 4.7). RSV1 is only ever set on the first physical frame.
func (wr *Writer) writeDataPayload(opcode Opcode, fin, rsv1 bool, payload []byte) error {
	if wr.maxPayloadSize <= 0 || len(payload) <= wr.maxPayloadSize {
		return wr.encodeAndWrite(&Frame{Fin: fin, RSV1: rsv1, Opcode: opcode, Payload: payload})
	}

	offset := 0
	first := true
	for offset < len(payload) || (first && len(payload) == 0) {
		end := offset + wr.maxPayloadSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]
		last := end == len(payload)

		chunkOpcode := OpcodeContinuation
		if first {
			chunkOpcode = opcode
		}
		frame := &Frame{
			Fin:     last && fin,
			RSV1:    first && rsv1,
			Opcode:  chunkOpcode,
			Payload: chunk,
		}
		if err := wr.encodeAndWrite(frame); err != nil {
			return err
		}
		offset = end
		first = false
	}
	return nil
}

// encodeAndWrite writes one physical frame and reports onFrameSent.
func (wr *Writer) encodeAndWrite(f *Frame) error {
	if err := wr.codec.Encode(wr.w, f); err != nil {
		return err
	}
	dispatchSafely(wr.listener, func() { wr.listener.OnFrameSent(f) })
	logFrameSent(wr.logger, f)
	return nil
}

// handleWriteError reports onSendError/onFrameUnsent for the failed
// frame and every frame still queued, then lets the Writer terminate
// (spec.md Section 4.7).
func (wr *Writer) handleWriteError(failed *Frame, err error) {
	sendErr := newErr(KindIO, 0, err)
	logFatalError(wr.logger, sendErr)
	dispatchSafely(wr.listener, func() { wr.listener.OnError(sendErr) })
	dispatchSafely(wr.listener, func() { wr.listener.OnSendError(sendErr) })
	dispatchSafely(wr.listener, func() { wr.listener.OnFrameUnsent(failed, sendErr) })

	for _, queued := range wr.queue.Drain() {
		dispatchSafely(wr.listener, func() { wr.listener.OnFrameUnsent(queued, sendErr) })
	}
}
