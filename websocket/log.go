package websocket

import "github.com/rs/zerolog"

// logStateChange records a Session state transition at debug level
// (SPEC_FULL.md Section 4.12): logging is strictly additional to
// listener dispatch and never changes control flow.
func logStateChange(logger zerolog.Logger, old, new State) {
	logger.Debug().Str("from", old.String()).Str("to", new.String()).Msg("session state change")
}

func logFrameSent(logger zerolog.Logger, f *Frame) {
	logger.Debug().Str("opcode", f.Opcode.String()).Int("bytes", len(f.Payload)).Bool("fin", f.Fin).Msg("frame sent")
}

func logFrameReceived(logger zerolog.Logger, f *Frame) {
	logger.Debug().Str("opcode", f.Opcode.String()).Int("bytes", len(f.Payload)).Bool("fin", f.Fin).Msg("frame received")
}

// logProtocolError records a recoverable protocol-level error at warn
// level; connection-fatal internal errors use logFatalError instead.
func logProtocolError(logger zerolog.Logger, err error) {
	logger.Warn().Err(err).Msg("protocol error")
}

func logFatalError(logger zerolog.Logger, err error) {
	logger.Error().Err(err).Msg("fatal error")
}

// logDisconnected logs at Warn when the disconnect was driven by a
// fatal (non-close) error, Info for an ordinary clean close, and tags a
// fatal error as temporary so an operator can spot a retryable blip
// versus a permanent failure at a glance.
func logDisconnected(logger zerolog.Logger, ctx CloseContext) {
	event := logger.Info()
	if ctx.Err != nil && !IsCloseError(ctx.Err) {
		event = logger.Warn().Bool("temporary", IsTemporaryError(ctx.Err))
	}
	event.
		Int("code", int(ctx.Code)).
		Str("reason", ctx.Reason).
		Bool("closed_by_server", ctx.ClosedByServer).
		Err(ctx.Err).
		Msg("disconnected")
}
