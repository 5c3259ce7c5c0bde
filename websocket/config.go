package websocket

import (
	"crypto/tls"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the immutable snapshot of connection and behavior options a
// Session is constructed with (spec.md Section 6, SPEC_FULL.md Section
// 4.11). Build one with NewConfig and a chain of Options, or seed it
// from a YAML file with LoadConfigFile.
type Config struct {
	ConnectionTimeout time.Duration
	FrameQueueSize    int // 0 = unbounded
	MaxPayloadSize    int // 0 = unlimited
	PingInterval      time.Duration
	PongInterval      time.Duration
	AutoFlush         bool
	Extended          bool
	MissingCloseFrameAllowed bool
	VerifyHostname    bool

	Header       http.Header
	Subprotocols []string
	Extensions   []string // e.g. "permessage-deflate"

	ProxyURL  string
	TLSConfig *tls.Config

	Dialer Dialer
	Logger zerolog.Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// NewConfig builds a Config from the teacher-style "sane defaults, then
// apply options" pattern: MissingCloseFrameAllowed defaults true, the
// logger defaults to zerolog.Nop(), and every interval defaults to
// disabled (0).
func NewConfig(opts ...Option) *Config {
	c := &Config{
		ConnectionTimeout:        30 * time.Second,
		MissingCloseFrameAllowed: true,
		AutoFlush:                true,
		VerifyHostname:           true,
		Header:                   http.Header{},
		Logger:                   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithConnectionTimeout sets the combined DNS+TCP+TLS+handshake deadline
// (spec.md Section 6: connection_timeout_ms). The default Dialer's proxy
// CONNECT exchange is not bounded by it; only its TCP dial is.
func WithConnectionTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectionTimeout = d }
}

// WithFrameQueueSize sets the SendQueue's data-frame backpressure
// threshold. 0 means unbounded (spec.md Section 6: frame_queue_size).
func WithFrameQueueSize(n int) Option {
	return func(c *Config) { c.FrameQueueSize = n }
}

// WithMaxPayloadSize sets the outgoing data-frame split threshold. 0
// means unlimited (spec.md Section 6: max_payload_size).
func WithMaxPayloadSize(n int) Option {
	return func(c *Config) { c.MaxPayloadSize = n }
}

// WithPingInterval sets the PeriodicSender's PING schedule. 0 disables
// it (spec.md Section 6: ping_interval_ms).
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) { c.PingInterval = d }
}

// WithPongInterval sets the PeriodicSender's unsolicited-PONG schedule.
// 0 disables it (spec.md Section 6: pong_interval_ms).
func WithPongInterval(d time.Duration) Option {
	return func(c *Config) { c.PongInterval = d }
}

// WithAutoFlush is advisory in this implementation: every frame already
// flushes to the socket as it is written (spec.md Section 6).
func WithAutoFlush(enabled bool) Option {
	return func(c *Config) { c.AutoFlush = enabled }
}

// WithExtendedMode disables the strict opcode/RSV validity checks on
// decode (spec.md Section 6: extended).
func WithExtendedMode(enabled bool) Option {
	return func(c *Config) { c.Extended = enabled }
}

// WithMissingCloseFrameAllowed controls whether a peer stream ending
// without a CLOSE frame is treated as a clean end (true, default) or
// raises ErrNoMoreFrame (false).
func WithMissingCloseFrameAllowed(allowed bool) Option {
	return func(c *Config) { c.MissingCloseFrameAllowed = allowed }
}

// WithVerifyHostname toggles TLS certificate and hostname verification
// for wss/https connections (spec.md Section 6: verify_hostname). The
// Session applies it in its own TLS handshake, whichever Dialer is used.
func WithVerifyHostname(enabled bool) Option {
	return func(c *Config) { c.VerifyHostname = enabled }
}

// WithHeader adds an extra header sent with the opening handshake
// request.
func WithHeader(key, value string) Option {
	return func(c *Config) {
		if c.Header == nil {
			c.Header = http.Header{}
		}
		c.Header.Add(key, value)
	}
}

// WithSubprotocols sets the Sec-WebSocket-Protocol candidates offered.
func WithSubprotocols(protocols ...string) Option {
	return func(c *Config) { c.Subprotocols = protocols }
}

// WithPermessageDeflate advertises the permessage-deflate extension in
// the opening handshake.
func WithPermessageDeflate() Option {
	return func(c *Config) { c.Extensions = append(c.Extensions, "permessage-deflate") }
}

// WithProxyURL overrides proxy discovery (environment variables) with
// an explicit HTTP CONNECT proxy URL.
func WithProxyURL(proxyURL string) Option {
	return func(c *Config) { c.ProxyURL = proxyURL }
}

// WithTLSConfig overrides the default *tls.Config used for wss/https
// connections.
func WithTLSConfig(tlsConfig *tls.Config) Option {
	return func(c *Config) { c.TLSConfig = tlsConfig }
}

// WithDialer overrides the default Dialer (spec.md Section 1 names the
// socket/TLS/proxy stack an external collaborator; this is the seam).
func WithDialer(d Dialer) Option {
	return func(c *Config) { c.Dialer = d }
}

// WithLogger attaches a zerolog.Logger. Logging is additional to
// listener dispatch; it never changes control flow (SPEC_FULL.md
// Section 4.12).
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// fileConfig mirrors Config's field names as YAML keys (spec.md Section
// 6), for LoadConfigFile.
type fileConfig struct {
	ConnectionTimeoutMS      *int64   `yaml:"connection_timeout_ms"`
	FrameQueueSize           *int     `yaml:"frame_queue_size"`
	MaxPayloadSize           *int     `yaml:"max_payload_size"`
	PingIntervalMS           *int64   `yaml:"ping_interval_ms"`
	PongIntervalMS           *int64   `yaml:"pong_interval_ms"`
	AutoFlush                *bool    `yaml:"auto_flush"`
	Extended                 *bool    `yaml:"extended"`
	MissingCloseFrameAllowed *bool    `yaml:"missing_close_frame_allowed"`
	VerifyHostname           *bool    `yaml:"verify_hostname"`
	Subprotocols             []string `yaml:"subprotocols"`
	Extensions               []string `yaml:"extensions"`
	ProxyURL                 *string  `yaml:"proxy_url"`
}

// LoadConfigFile reads a YAML document at path and returns it as a
// slice of Options the caller merges with code-level ones (SPEC_FULL.md
// Section 4.11), e.g.:
//
//	fileOpts, err := LoadConfigFile("wsclient.yaml")
//	cfg := NewConfig(append(fileOpts, WithLogger(logger))...)
func LoadConfigFile(path string) ([]Option, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr(KindInternal, 0, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, newErr(KindInternal, 0, err)
	}

	var opts []Option
	if fc.ConnectionTimeoutMS != nil {
		opts = append(opts, WithConnectionTimeout(time.Duration(*fc.ConnectionTimeoutMS)*time.Millisecond))
	}
	if fc.FrameQueueSize != nil {
		opts = append(opts, WithFrameQueueSize(*fc.FrameQueueSize))
	}
	if fc.MaxPayloadSize != nil {
		opts = append(opts, WithMaxPayloadSize(*fc.MaxPayloadSize))
	}
	if fc.PingIntervalMS != nil {
		opts = append(opts, WithPingInterval(time.Duration(*fc.PingIntervalMS)*time.Millisecond))
	}
	if fc.PongIntervalMS != nil {
		opts = append(opts, WithPongInterval(time.Duration(*fc.PongIntervalMS)*time.Millisecond))
	}
	if fc.AutoFlush != nil {
		opts = append(opts, WithAutoFlush(*fc.AutoFlush))
	}
	if fc.Extended != nil {
		opts = append(opts, WithExtendedMode(*fc.Extended))
	}
	if fc.MissingCloseFrameAllowed != nil {
		opts = append(opts, WithMissingCloseFrameAllowed(*fc.MissingCloseFrameAllowed))
	}
	if fc.VerifyHostname != nil {
		opts = append(opts, WithVerifyHostname(*fc.VerifyHostname))
	}
	if len(fc.Subprotocols) > 0 {
		opts = append(opts, WithSubprotocols(fc.Subprotocols...))
	}
	for _, ext := range fc.Extensions {
		if ext == "permessage-deflate" {
			opts = append(opts, WithPermessageDeflate())
		}
	}
	if fc.ProxyURL != nil {
		opts = append(opts, WithProxyURL(*fc.ProxyURL))
	}

	return opts, nil
}
