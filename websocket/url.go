package websocket

import (
	"fmt"
	"net/url"
	"strings"
)

// parseTargetURL validates and normalizes a WebSocket endpoint (spec.md
// Section 6): the scheme must be one of ws/wss/http/https
// (case-insensitive); ws/http default to port 80 and wss/https default
// to port 443 when the URL has none.
func parseTargetURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, newErr(KindConnectionSetup, 0, fmt.Errorf("parse url: %w", err))
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "ws", "http", "wss", "https":
	default:
		return nil, newErr(KindConnectionSetup, 0, fmt.Errorf("unsupported websocket scheme %q", u.Scheme))
	}
	u.Scheme = scheme

	if u.Port() == "" {
		port := "80"
		if isTLSScheme(scheme) {
			port = "443"
		}
		u.Host = u.Hostname() + ":" + port
	}

	return u, nil
}

// isTLSScheme reports whether scheme requires a TLS connection. scheme
// must already be lowercased.
func isTLSScheme(scheme string) bool {
	return scheme == "wss" || scheme == "https"
}
