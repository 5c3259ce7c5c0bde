package websocket

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1" //#nosec G505 - SHA-1 required by RFC 6455 Section 1.3
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// websocketGUID is the magic GUID from RFC 6455 Section 1.3, used to
// compute Sec-WebSocket-Accept.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const websocketVersion = "13"

// handshakeRequest holds everything the HandshakeEngine needs to build
// the client's opening handshake request (RFC 6455 Section 4.1, 4.2.1).
type handshakeRequest struct {
	URL          *url.URL
	Header       http.Header // extra caller-supplied headers, merged in
	Subprotocols []string
	ExtensionHdr string // pre-rendered Sec-WebSocket-Extensions value, or ""
}

// handshakeResult is everything the Session needs once the opening
// handshake has been verified.
type handshakeResult struct {
	Response    *http.Response
	Subprotocol string
	PMDeflate   *pmdeflateParams // nil if permessage-deflate was not negotiated
}

// buildRequest renders the HTTP/1.1 request line and headers for the
// opening handshake (RFC 6455 Section 4.1) and returns the raw bytes
// plus the base64 client key used later to verify Sec-WebSocket-Accept.
func buildRequest(req handshakeRequest) (raw []byte, key string, err error) {
	keyBytes := make([]byte, 16)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, "", newErr(KindConnectionSetup, 0, fmt.Errorf("generate Sec-WebSocket-Key: %w", err))
	}
	key = base64.StdEncoding.EncodeToString(keyBytes)

	path := req.URL.RequestURI()
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", hostHeader(req.URL))
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&b, "Sec-WebSocket-Key: %s\r\n", key)
	fmt.Fprintf(&b, "Sec-WebSocket-Version: %s\r\n", websocketVersion)

	if len(req.Subprotocols) > 0 {
		fmt.Fprintf(&b, "Sec-WebSocket-Protocol: %s\r\n", strings.Join(req.Subprotocols, ", "))
	}
	if req.ExtensionHdr != "" {
		fmt.Fprintf(&b, "Sec-WebSocket-Extensions: %s\r\n", req.ExtensionHdr)
	}
	if req.URL.User != nil {
		user := req.URL.User.Username()
		pass, _ := req.URL.User.Password()
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n", token)
	}
	for name, values := range req.Header {
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}
	b.WriteString("\r\n")

	return []byte(b.String()), key, nil
}

// hostHeader renders the Host header value, omitting the port when it
// matches the scheme's default port (spec.md Section 4.4).
func hostHeader(u *url.URL) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		return host
	}
	if (isTLSScheme(u.Scheme) && port == "443") || (!isTLSScheme(u.Scheme) && port == "80") {
		return host
	}
	return host + ":" + port
}

// readHandshakeResponse reads the HTTP response line and headers off r
// using the standard library's HTTP/1.1 response parser, so header
// folding/continuation is handled the same way any other Go HTTP client
// would handle it.
func readHandshakeResponse(r *bufio.Reader, method string) (*http.Response, error) {
	resp, err := http.ReadResponse(r, &http.Request{Method: method})
	if err != nil {
		return nil, newErr(KindOpeningHandshake, 0, fmt.Errorf("read handshake response: %w", err))
	}
	return resp, nil
}

// verifyHandshakeResponse implements RFC 6455 Section 4.1's client-side
// checks: status code, Upgrade, Connection, Sec-WebSocket-Accept, and
// subprotocol selection (spec.md Section 4.4).
func verifyHandshakeResponse(resp *http.Response, key string, offeredSubprotocols []string) (subprotocol string, err error) {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return "", &HandshakeError{Reason: ErrNotSwitchingProtocols.Error(), Response: resp}
	}

	if !httpguts.HeaderValuesContainsToken(resp.Header["Upgrade"], "websocket") {
		return "", &HandshakeError{Reason: ErrMissingUpgrade.Error(), Response: resp}
	}
	if !httpguts.HeaderValuesContainsToken(resp.Header["Connection"], "Upgrade") {
		return "", &HandshakeError{Reason: ErrMissingConnection.Error(), Response: resp}
	}

	accept := resp.Header.Get("Sec-WebSocket-Accept")
	if accept == "" || accept != computeAcceptKey(key) {
		return "", &HandshakeError{Reason: ErrMissingAccept.Error(), Response: resp}
	}

	subprotocol = resp.Header.Get("Sec-WebSocket-Protocol")
	if subprotocol != "" {
		ok := false
		for _, s := range offeredSubprotocols {
			if s == subprotocol {
				ok = true
				break
			}
		}
		if !ok {
			return "", &HandshakeError{Reason: ErrSubprotocolNotOffered.Error(), Response: resp}
		}
	}

	return subprotocol, nil
}

// computeAcceptKey computes Sec-WebSocket-Accept from the client key
// (RFC 6455 Section 1.3):
//
//	Sec-WebSocket-Accept = base64(SHA-1(key + GUID))
func computeAcceptKey(key string) string {
	//#nosec G401 - SHA-1 required by RFC 6455 Section 1.3, not for cryptographic security.
	h := sha1.New()
	io.WriteString(h, key)
	io.WriteString(h, websocketGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
