package websocket

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultDialer_DialContext_PlainTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	cfg := NewConfig(WithConnectionTimeout(2 * time.Second))
	dialer := NewDefaultDialer(cfg)

	conn, err := dialer.DialContext(context.Background(), "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

func TestDefaultDialer_DialContext_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // nothing listening now

	dialer := NewDefaultDialer(NewConfig())
	_, err = dialer.DialContext(context.Background(), "tcp", addr)
	require.Error(t, err)
	wsErr, ok := err.(*WebSocketError)
	require.True(t, ok)
	require.Equal(t, KindConnectionSetup, wsErr.Kind)
}

func TestConnectTunnel_SuccessfulCONNECT(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil || req.Method != http.MethodConnect {
			return
		}
		conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	proxyURL, err := url.Parse("http://proxy.invalid")
	require.NoError(t, err)

	_, err = connectTunnel(conn, "example.com:443", proxyURL)
	require.NoError(t, err)
}

func TestConnectTunnel_ProxyRefuses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = http.ReadRequest(bufio.NewReader(conn))
		conn.Write([]byte("HTTP/1.1 403 Forbidden\r\n\r\n"))
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	proxyURL, err := url.Parse("http://proxy.invalid")
	require.NoError(t, err)

	_, err = connectTunnel(conn, "example.com:443", proxyURL)
	require.Error(t, err)
}

func TestUpgradeTLS_HandshakeFailsOverPlainConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			// Not a TLS server: the client's handshake bytes are
			// simply discarded until the client gives up.
			buf := make([]byte, 4096)
			_, _ = conn.Read(buf)
			conn.Close()
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = upgradeTLS(ctx, conn, "example.com", nil, true)
	require.Error(t, err)
}
