package websocket

import (
	"fmt"
	"net/http"
)

// ThreadKind identifies one of the Session's logical workers, for the
// onThreadCreated/onThreadStarted/onThreadStopping event family
// (spec.md Section 6).
type ThreadKind int

const (
	ReadingThread ThreadKind = iota
	WritingThread
	ConnectThread
	FinishThread
)

// String returns a human-readable name for the thread kind.
func (t ThreadKind) String() string {
	switch t {
	case ReadingThread:
		return "reading"
	case WritingThread:
		return "writing"
	case ConnectThread:
		return "connect"
	case FinishThread:
		return "finish"
	default:
		return "unknown"
	}
}

// CloseContext is the close-context snapshot delivered to onDisconnected
// (spec.md Section 3, Section 4.9).
type CloseContext struct {
	Code           CloseCode
	Reason         string
	ClosedByServer bool
	Err            error // non-nil if the disconnect was driven by a fatal error
}

// Listener receives every event the Session emits (spec.md Section 6).
// Every onXxx call is made synchronously on the worker goroutine that
// observed the event; a Listener must not block, and any panic raised
// from a method is recovered and delivered to OnCallbackError instead of
// propagating into the worker loop.
//
// Embed NopListener and override only the events you need, the same
// "default empty methods" idiom used throughout this package's worker
// design.
type Listener interface {
	OnStateChange(old, new State)
	OnSendingHandshake(header http.Header)
	OnConnected(resp *http.Response, header http.Header)
	OnConnectError(err error)

	OnFrame(f *Frame)
	OnFrameSent(f *Frame)
	OnFrameUnsent(f *Frame, err error)
	OnSendError(err error)
	OnFrameError(err error)

	OnTextMessage(text string)
	OnBinaryMessage(data []byte)
	OnTextMessageError(err error)
	OnMessageDecompressionError(err error)

	OnPingFrame(payload []byte)
	OnPongFrame(payload []byte)
	OnCloseFrame(code CloseCode, reason string)

	OnDisconnected(ctx CloseContext)

	OnError(err error)
	OnUnexpectedError(err error)
	OnCallbackError(err error)

	OnThreadCreated(kind ThreadKind)
	OnThreadStarted(kind ThreadKind)
	OnThreadStopping(kind ThreadKind)
}

// NopListener implements Listener with no-op methods. Embed it in a
// caller-defined type to pick up default behavior for events that type
// does not override.
type NopListener struct{}

func (NopListener) OnStateChange(old, new State)                     {}
func (NopListener) OnSendingHandshake(header http.Header)            {}
func (NopListener) OnConnected(resp *http.Response, header http.Header) {}
func (NopListener) OnConnectError(err error)                         {}

func (NopListener) OnFrame(f *Frame)                {}
func (NopListener) OnFrameSent(f *Frame)             {}
func (NopListener) OnFrameUnsent(f *Frame, err error) {}
func (NopListener) OnSendError(err error)            {}
func (NopListener) OnFrameError(err error)           {}

func (NopListener) OnTextMessage(text string)            {}
func (NopListener) OnBinaryMessage(data []byte)          {}
func (NopListener) OnTextMessageError(err error)         {}
func (NopListener) OnMessageDecompressionError(err error) {}

func (NopListener) OnPingFrame(payload []byte)           {}
func (NopListener) OnPongFrame(payload []byte)           {}
func (NopListener) OnCloseFrame(code CloseCode, reason string) {}

func (NopListener) OnDisconnected(ctx CloseContext) {}

func (NopListener) OnError(err error)            {}
func (NopListener) OnUnexpectedError(err error)  {}
func (NopListener) OnCallbackError(err error)    {}

func (NopListener) OnThreadCreated(kind ThreadKind)  {}
func (NopListener) OnThreadStarted(kind ThreadKind)  {}
func (NopListener) OnThreadStopping(kind ThreadKind) {}

var _ Listener = NopListener{}

// dispatchSafely invokes fn and recovers any panic, delivering it to
// listener.OnCallbackError instead of letting it unwind into the worker
// goroutine (spec.md Section 5: "Any exception thrown from a listener
// is caught ... must not propagate into the worker loop").
func dispatchSafely(listener Listener, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			listener.OnCallbackError(newErr(KindInternal, 0, fmt.Errorf("%w: %v", ErrCallbackError, r)))
		}
	}()
	fn()
}
