package websocket

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is one of CREATED, CONNECTING, OPEN, CLOSING, CLOSED
// (spec.md Section 3). Transitions are monotonic: no state may be
// re-entered or skipped backward.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// closeContext is the Session's close bookkeeping (spec.md Section 3).
type closeContext struct {
	clientCloseSent      bool
	serverCloseReceived  bool
	code                 CloseCode
	reason               string
	closedByServer       bool
	err                  error
}

// Session is the coordinator owning the state machine, the socket, the
// two codec contexts, the SendQueue, and the worker goroutines
// (spec.md Section 4.9). It exclusively owns everything a Reader or
// Writer touches; workers hold references to it for close coordination
// but never mutate state outside the accessor methods below.
type Session struct {
	id       string
	url      *url.URL
	listener Listener
	cfg      *Config
	logger   zerolog.Logger

	mu           sync.Mutex
	state        State
	connectedOK  bool
	closingOnce  sync.Once
	connectOnce  sync.Once
	closeCtx     closeContext
	closeTimer   *time.Timer

	conn    net.Conn
	br      *bufio.Reader
	queue   *SendQueue
	deflate *DeflateCodec
	extended bool
	rsvOwn   rsvOwnership

	subprotocol       string
	handshakeResponse *http.Response

	wg       sync.WaitGroup
	periodic *PeriodicSender
}

// NewSession builds a Session for rawURL. listener defaults to
// NopListener{} and cfg defaults to NewConfig() when nil.
func NewSession(rawURL string, listener Listener, cfg *Config) (*Session, error) {
	u, err := parseTargetURL(rawURL)
	if err != nil {
		return nil, err
	}
	if listener == nil {
		listener = NopListener{}
	}
	if cfg == nil {
		cfg = NewConfig()
	}
	id := uuid.NewString()
	return &Session{
		id:       id,
		url:      u,
		listener: listener,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("session_id", id).Logger(),
		state:    StateCreated,
	}, nil
}

// ID returns the Session's unique identifier, used to correlate log
// lines from a single connection's Reader, Writer, and Finish workers.
func (s *Session) ID() string { return s.id }

// State reports the Session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) transitionState(next State) {
	s.mu.Lock()
	old := s.state
	s.state = next
	s.mu.Unlock()
	logStateChange(s.logger, old, next)
	dispatchSafely(s.listener, func() { s.listener.OnStateChange(old, next) })
}

// Connect performs the opening handshake synchronously: DNS, TCP,
// optional TLS, optional HTTP proxy, then the WebSocket upgrade
// (spec.md Section 4.9). It may be called at most once per Session.
func (s *Session) Connect() error {
	started := false
	s.connectOnce.Do(func() { started = true })
	if !started {
		return newErr(KindInternal, 0, ErrAlreadyConnected)
	}

	s.transitionState(StateConnecting)

	dialer := s.cfg.Dialer
	if dialer == nil {
		dialer = NewDefaultDialer(s.cfg)
	}

	ctx := context.Background()
	if s.cfg.ConnectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
		defer cancel()
	}

	rawConn, err := dialer.DialContext(ctx, "tcp", s.url.Host)
	if err != nil {
		return s.failConnect(err)
	}

	conn := rawConn
	if isTLSScheme(s.url.Scheme) {
		conn, err = upgradeTLS(ctx, rawConn, s.url.Hostname(), s.cfg.TLSConfig, s.cfg.VerifyHostname)
		if err != nil {
			_ = rawConn.Close()
			return s.failConnect(err)
		}
	}

	extHdr := ""
	if containsString(s.cfg.Extensions, "permessage-deflate") {
		extHdr = offerPermessageDeflate()
	}

	raw, key, err := buildRequest(handshakeRequest{
		URL:          s.url,
		Header:       s.cfg.Header,
		Subprotocols: s.cfg.Subprotocols,
		ExtensionHdr: extHdr,
	})
	if err != nil {
		_ = conn.Close()
		return s.failConnect(err)
	}

	dispatchSafely(s.listener, func() { s.listener.OnSendingHandshake(s.cfg.Header) })

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := conn.Write(raw); err != nil {
		_ = conn.Close()
		return s.failConnect(newErr(KindConnectionSetup, 0, err))
	}

	br := bufio.NewReader(conn)
	resp, err := readHandshakeResponse(br, http.MethodGet)
	if err != nil {
		_ = conn.Close()
		return s.failConnect(err)
	}

	subprotocol, err := verifyHandshakeResponse(resp, key, s.cfg.Subprotocols)
	if err != nil {
		_ = conn.Close()
		return s.failConnect(err)
	}

	var pmParams *pmdeflateParams
	if extHdr != "" {
		pmParams, err = selectNegotiatedExtensions(resp.Header.Get("Sec-WebSocket-Extensions"), true)
		if err != nil {
			_ = conn.Close()
			return s.failConnect(err)
		}
	}

	_ = conn.SetDeadline(time.Time{})

	s.conn = conn
	s.br = br
	s.subprotocol = subprotocol
	s.handshakeResponse = resp
	s.extended = s.cfg.Extended
	if pmParams != nil {
		s.deflate = NewDeflateCodec(*pmParams)
		s.rsvOwn = rsvOwnership{rsv1: true}
	}
	s.queue = NewSendQueue(s.cfg.FrameQueueSize)

	s.transitionState(StateOpen)
	dispatchSafely(s.listener, func() { s.listener.OnConnected(resp, resp.Header) })

	s.startWorkers()
	return nil
}

func (s *Session) failConnect(err error) error {
	s.transitionState(StateClosed)
	return err
}

// ConnectAsync schedules Connect on an internal worker and dispatches
// OnConnectError on failure. This is the only path that triggers
// OnConnectError (spec.md Section 4.9).
func (s *Session) ConnectAsync() {
	dispatchSafely(s.listener, func() { s.listener.OnThreadCreated(ConnectThread) })
	go func() {
		dispatchSafely(s.listener, func() { s.listener.OnThreadStarted(ConnectThread) })
		defer dispatchSafely(s.listener, func() { s.listener.OnThreadStopping(ConnectThread) })
		if err := s.Connect(); err != nil {
			dispatchSafely(s.listener, func() { s.listener.OnConnectError(err) })
		}
	}()
}

// startWorkers launches the Reader, the Writer, the optional
// PeriodicSender, and the Finish worker (spec.md Section 5).
func (s *Session) startWorkers() {
	reader := &Reader{
		br:                       s.br,
		codec:                    FrameCodec{},
		extended:                 s.extended,
		rsvOwn:                   s.rsvOwn,
		deflate:                  s.deflate,
		queue:                    s.queue,
		listener:                 s.listener,
		logger:                   s.logger,
		session:                  s,
		missingCloseFrameAllowed: s.cfg.MissingCloseFrameAllowed,
	}
	writer := &Writer{
		w:              s.conn,
		codec:          FrameCodec{},
		deflate:        s.deflate,
		maxPayloadSize: s.cfg.MaxPayloadSize,
		queue:          s.queue,
		listener:       s.listener,
		logger:         s.logger,
		session:        s,
	}

	s.wg.Add(2)
	dispatchSafely(s.listener, func() {
		s.listener.OnThreadCreated(ReadingThread)
		s.listener.OnThreadCreated(WritingThread)
	})
	go func() {
		dispatchSafely(s.listener, func() { s.listener.OnThreadStarted(ReadingThread) })
		defer dispatchSafely(s.listener, func() { s.listener.OnThreadStopping(ReadingThread) })
		reader.run()
	}()
	go func() {
		dispatchSafely(s.listener, func() { s.listener.OnThreadStarted(WritingThread) })
		defer dispatchSafely(s.listener, func() { s.listener.OnThreadStopping(WritingThread) })
		writer.run()
	}()

	if s.cfg.PingInterval > 0 || s.cfg.PongInterval > 0 {
		s.periodic = NewPeriodicSender(s.queue, s.logger, s.cfg.PingInterval, s.cfg.PongInterval, nil, nil)
		go s.periodic.run()
	}

	dispatchSafely(s.listener, func() { s.listener.OnThreadCreated(FinishThread) })
	go func() {
		dispatchSafely(s.listener, func() { s.listener.OnThreadStarted(FinishThread) })
		defer dispatchSafely(s.listener, func() { s.listener.OnThreadStopping(FinishThread) })
		s.wg.Wait()
		s.finish()
	}()
}

func (s *Session) readerDone() { s.wg.Done() }
func (s *Session) writerDone() { s.wg.Done() }

// beginClosing performs the OPEN->CLOSING transition at most once
// (spec.md Section 5).
func (s *Session) beginClosing() {
	s.closingOnce.Do(func() { s.transitionState(StateClosing) })
}

// noteServerCloseReceived records an inbound CLOSE frame and reports
// whether the Reader must mirror one back (spec.md Section 4.6).
func (s *Session) noteServerCloseReceived(code CloseCode, reason string) (mirror bool) {
	s.mu.Lock()
	s.closeCtx.serverCloseReceived = true
	s.closeCtx.code = code
	s.closeCtx.reason = reason
	s.closeCtx.closedByServer = true
	mirror = !s.closeCtx.clientCloseSent
	bothClosed := s.closeCtx.clientCloseSent
	s.mu.Unlock()
	s.beginClosing()
	if bothClosed {
		// The client already sent its own CLOSE before the server's
		// arrived: the Writer's one-shot check in noteClientCloseSent
		// ran too early to see this, so it is left blocked in
		// Dequeue. Complete the handshake from here instead.
		s.completeClosingHandshake()
	}
	return mirror
}

// completeClosingHandshake closes the socket and the SendQueue once
// both directions of the closing handshake have completed. Whichever
// of noteClientCloseSent/noteServerCloseReceived observes the second
// half arrive calls this, so a Writer blocked in Dequeue waiting on a
// frame that will never come is woken up either way (spec.md Section
// 4.9).
func (s *Session) completeClosingHandshake() {
	s.closeSocket()
	s.queue.Close()
}

func (s *Session) serverCloseReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCtx.serverCloseReceived
}

// noteClientCloseSent records that the Writer wrote a CLOSE frame and
// reports whether both directions have now closed (spec.md Section
// 4.7).
func (s *Session) noteClientCloseSent() (bothClosed bool) {
	s.mu.Lock()
	s.closeCtx.clientCloseSent = true
	bothClosed = s.closeCtx.serverCloseReceived
	s.mu.Unlock()
	s.beginClosing()
	if bothClosed {
		s.completeClosingHandshake()
	}
	return bothClosed
}

func (s *Session) closeSocket() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// finish runs once both the Reader and Writer have terminated: stop the
// PeriodicSender, close the SendQueue and socket, emit OnDisconnected,
// and transition to CLOSED (spec.md Section 4.9).
func (s *Session) finish() {
	if s.periodic != nil {
		s.periodic.stop()
	}
	s.queue.Close()
	s.mu.Lock()
	if s.closeTimer != nil {
		s.closeTimer.Stop()
	}
	ctx := CloseContext{
		Code:           s.closeCtx.code,
		Reason:         s.closeCtx.reason,
		ClosedByServer: s.closeCtx.closedByServer,
		Err:            s.closeCtx.err,
	}
	s.mu.Unlock()
	s.closeSocket()

	s.transitionState(StateClosed)
	logDisconnected(s.logger, ctx)
	dispatchSafely(s.listener, func() { s.listener.OnDisconnected(ctx) })
}

// Disconnect enqueues a CLOSE with the supplied code/reason if the
// client has not already sent one, and arms a timer that force-closes
// the socket after timeout if it is positive, guarding against peers
// that never echo CLOSE (spec.md Section 4.9).
func (s *Session) Disconnect(code CloseCode, reason string, timeout time.Duration) error {
	state := s.State()
	if state != StateOpen && state != StateClosing {
		return ErrClosed
	}

	s.mu.Lock()
	alreadySent := s.closeCtx.clientCloseSent
	s.mu.Unlock()

	if !alreadySent {
		cf, err := NewCloseFrame(code, reason)
		if err != nil {
			return err
		}
		if err := s.queue.EnqueueControl(cf); err != nil {
			return err
		}
	}

	s.beginClosing()

	if timeout > 0 {
		s.mu.Lock()
		s.closeTimer = time.AfterFunc(timeout, func() { s.closeSocket() })
		s.mu.Unlock()
	}
	return nil
}

// Recreate produces a new Session cloning the URL, listener, and
// configuration, but not the underlying socket (spec.md Section 4.9).
func (s *Session) Recreate() (*Session, error) {
	return NewSession(s.url.String(), s.listener, s.cfg)
}

// Flush returns immediately; this implementation already flushes every
// frame as it is written (spec.md Section 5, Section 6: auto_flush).
func (s *Session) Flush() {}

// SendFrame enqueues f, honoring SendQueue's control-priority and
// data-frame backpressure rules (spec.md Section 4.5).
func (s *Session) SendFrame(f *Frame) error {
	if s.State() != StateOpen {
		return ErrClosed
	}
	if f.Opcode.IsControl() {
		return s.queue.EnqueueControl(f)
	}
	return s.queue.EnqueueData(f)
}

// SendText enqueues a text data frame. fin=false starts or continues a
// fragmented message.
func (s *Session) SendText(text string, fin bool) error {
	return s.SendFrame(NewTextFrame([]byte(text), fin))
}

// SendBinary enqueues a binary data frame.
func (s *Session) SendBinary(data []byte, fin bool) error {
	return s.SendFrame(NewBinaryFrame(data, fin))
}

// SendContinuation enqueues a continuation frame for an in-progress
// fragmented message.
func (s *Session) SendContinuation(data []byte, fin bool) error {
	return s.SendFrame(NewContinuationFrame(data, fin))
}

// SendPing enqueues an unsolicited PING control frame.
func (s *Session) SendPing(payload []byte) error {
	f, err := NewPingFrame(payload)
	if err != nil {
		return err
	}
	return s.SendFrame(f)
}

// SendPong enqueues an unsolicited PONG control frame.
func (s *Session) SendPong(payload []byte) error {
	f, err := NewPongFrame(payload)
	if err != nil {
		return err
	}
	return s.SendFrame(f)
}

// Subprotocol returns the negotiated subprotocol, or "" if none was
// selected.
func (s *Session) Subprotocol() string { return s.subprotocol }

// HandshakeResponse returns the server's opening-handshake response.
func (s *Session) HandshakeResponse() *http.Response { return s.handshakeResponse }

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
