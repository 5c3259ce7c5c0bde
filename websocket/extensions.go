package websocket

import (
	"fmt"
	"strconv"
	"strings"
)

// extensionOffer is one "name; param[=value]; ..." tuple parsed out of a
// Sec-WebSocket-Extensions header (RFC 6455 Section 9.1).
type extensionOffer struct {
	Name   string
	Params map[string]string // value == "" for a flag parameter
}

// pmdeflateParams holds the negotiated permessage-deflate parameters
// (RFC 7692 Section 7.1).
type pmdeflateParams struct {
	ServerNoContextTakeover bool
	ClientNoContextTakeover bool
	ServerMaxWindowBits     int
	ClientMaxWindowBits     int
}

const defaultMaxWindowBits = 15

// ServerWindowSize returns the inflate/deflate window size in bytes for
// the server->client direction.
func (p pmdeflateParams) ServerWindowSize() int { return 1 << p.ServerMaxWindowBits }

// ClientWindowSize returns the inflate/deflate window size in bytes for
// the client->server direction.
func (p pmdeflateParams) ClientWindowSize() int { return 1 << p.ClientMaxWindowBits }

// offerPermessageDeflate renders the Sec-WebSocket-Extensions header
// value this client advertises for permessage-deflate (spec.md Section
// 4.4). The client never requests a non-default window or context
// takeover on its own side; it only ever reacts to what the server asks
// for in its response.
func offerPermessageDeflate() string {
	return "permessage-deflate"
}

// parseExtensionsHeader parses a Sec-WebSocket-Extensions header value
// into its offers, unquoting RFC 7230 quoted-string parameter values.
func parseExtensionsHeader(value string) ([]extensionOffer, error) {
	var offers []extensionOffer
	for _, part := range splitTopLevel(value, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := splitTopLevel(part, ';')
		name := strings.TrimSpace(fields[0])
		if name == "" {
			return nil, newErr(KindOpeningHandshake, 0, fmt.Errorf("empty extension name"))
		}
		offer := extensionOffer{Name: strings.ToLower(name), Params: map[string]string{}}
		for _, p := range fields[1:] {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			k, v, err := parseExtensionParam(p)
			if err != nil {
				return nil, err
			}
			offer.Params[strings.ToLower(k)] = v
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// parseExtensionParam parses one "name" or "name=value" or
// 'name="quoted value"' token, applying RFC 7230 Section 3.2.6
// quoted-string unescaping.
func parseExtensionParam(tok string) (name, value string, err error) {
	eq := strings.IndexByte(tok, '=')
	if eq < 0 {
		return tok, "", nil
	}
	name = strings.TrimSpace(tok[:eq])
	raw := strings.TrimSpace(tok[eq+1:])
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw, err = unquoteRFC7230(raw)
		if err != nil {
			return "", "", newErr(KindOpeningHandshake, 0, fmt.Errorf("invalid quoted extension parameter: %w", err))
		}
	}
	return name, raw, nil
}

// unquoteRFC7230 removes the surrounding DQUOTEs from an RFC 7230
// quoted-string and resolves backslash escapes.
func unquoteRFC7230(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("not a quoted-string: %q", s)
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) {
			i++
		}
		b.WriteByte(inner[i])
	}
	return b.String(), nil
}

// splitTopLevel splits s on sep, ignoring separators inside a
// "quoted-string" (RFC 7230 Section 3.2.6).
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case '\\':
			if inQuotes {
				i++
			}
		default:
			if !inQuotes && s[i] == sep {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// negotiatedPermessageDeflateParams validates the server's
// permessage-deflate response offer (spec.md Section 4.3): parameters
// must be a subset of the four RFC 7692 parameters, and any
// *_max_window_bits value must be in [8, 15].
func negotiatedPermessageDeflateParams(offer extensionOffer) (*pmdeflateParams, error) {
	p := &pmdeflateParams{
		ServerMaxWindowBits: defaultMaxWindowBits,
		ClientMaxWindowBits: defaultMaxWindowBits,
	}
	for name, value := range offer.Params {
		switch name {
		case "server_no_context_takeover":
			p.ServerNoContextTakeover = true
		case "client_no_context_takeover":
			p.ClientNoContextTakeover = true
		case "server_max_window_bits":
			bits, err := parseWindowBits(value)
			if err != nil {
				return nil, err
			}
			p.ServerMaxWindowBits = bits
		case "client_max_window_bits":
			bits, err := parseWindowBits(value)
			if err != nil {
				return nil, err
			}
			p.ClientMaxWindowBits = bits
		default:
			return nil, newErr(KindCompression, CloseProtocolError, fmt.Errorf("%w: %s", ErrUnsupportedParameter, name))
		}
	}
	return p, nil
}

func parseWindowBits(value string) (int, error) {
	bits, err := strconv.Atoi(value)
	if err != nil || bits < 8 || bits > 15 {
		return 0, newErr(KindCompression, CloseProtocolError, ErrInvalidMaxWindowBits)
	}
	return bits, nil
}

// selectNegotiatedExtensions walks the server's Sec-WebSocket-Extensions
// response. Only permessage-deflate is understood; any other extension
// name the server echoes back is ignored the way an unsupported
// extension silently declines itself on the client. Two accepted
// extensions claiming the same RSV bit fail with ErrExtensionsConflict
// (only RSV1 is ever claimed by this implementation, so in practice
// this fires only if the server names permessage-deflate twice).
func selectNegotiatedExtensions(headerValue string, offered bool) (*pmdeflateParams, error) {
	if headerValue == "" {
		return nil, nil
	}
	if !offered {
		return nil, nil
	}
	offers, err := parseExtensionsHeader(headerValue)
	if err != nil {
		return nil, err
	}

	var params *pmdeflateParams
	rsv1Claimed := false
	for _, o := range offers {
		if o.Name != "permessage-deflate" {
			continue
		}
		if rsv1Claimed {
			return nil, newErr(KindCompression, CloseProtocolError, ErrExtensionsConflict)
		}
		p, err := negotiatedPermessageDeflateParams(o)
		if err != nil {
			return nil, err
		}
		params = p
		rsv1Claimed = true
	}
	return params, nil
}
