package websocket

import "testing"

func TestParseExtensionsHeader_Simple(t *testing.T) {
	offers, err := parseExtensionsHeader("permessage-deflate")
	if err != nil {
		t.Fatalf("parseExtensionsHeader: %v", err)
	}
	if len(offers) != 1 || offers[0].Name != "permessage-deflate" {
		t.Fatalf("offers = %+v, want a single permessage-deflate offer", offers)
	}
}

func TestParseExtensionsHeader_WithParams(t *testing.T) {
	offers, err := parseExtensionsHeader("permessage-deflate; client_max_window_bits=10; server_no_context_takeover")
	if err != nil {
		t.Fatalf("parseExtensionsHeader: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("len(offers) = %d, want 1", len(offers))
	}
	o := offers[0]
	if o.Params["client_max_window_bits"] != "10" {
		t.Errorf("client_max_window_bits = %q, want %q", o.Params["client_max_window_bits"], "10")
	}
	if _, ok := o.Params["server_no_context_takeover"]; !ok {
		t.Error("server_no_context_takeover not parsed as a flag parameter")
	}
}

func TestParseExtensionsHeader_MultipleOffersCommaSeparated(t *testing.T) {
	offers, err := parseExtensionsHeader("permessage-deflate, x-custom-ext; foo=bar")
	if err != nil {
		t.Fatalf("parseExtensionsHeader: %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("len(offers) = %d, want 2", len(offers))
	}
	if offers[1].Name != "x-custom-ext" || offers[1].Params["foo"] != "bar" {
		t.Errorf("second offer = %+v, want x-custom-ext with foo=bar", offers[1])
	}
}

func TestParseExtensionsHeader_QuotedParamValue(t *testing.T) {
	offers, err := parseExtensionsHeader(`permessage-deflate; client_max_window_bits="12"`)
	if err != nil {
		t.Fatalf("parseExtensionsHeader: %v", err)
	}
	if offers[0].Params["client_max_window_bits"] != "12" {
		t.Errorf("client_max_window_bits = %q, want %q (unquoted)", offers[0].Params["client_max_window_bits"], "12")
	}
}

func TestSplitTopLevel_IgnoresSeparatorInsideQuotes(t *testing.T) {
	parts := splitTopLevel(`a="b,c"; d=e`, ';')
	if len(parts) != 2 {
		t.Fatalf("splitTopLevel = %v, want 2 parts", parts)
	}
}

func TestNegotiatedPermessageDeflateParams_Defaults(t *testing.T) {
	p, err := negotiatedPermessageDeflateParams(extensionOffer{Name: "permessage-deflate", Params: map[string]string{}})
	if err != nil {
		t.Fatalf("negotiatedPermessageDeflateParams: %v", err)
	}
	if p.ServerMaxWindowBits != defaultMaxWindowBits || p.ClientMaxWindowBits != defaultMaxWindowBits {
		t.Errorf("window bits = %d/%d, want default %d", p.ServerMaxWindowBits, p.ClientMaxWindowBits, defaultMaxWindowBits)
	}
	if p.ServerNoContextTakeover || p.ClientNoContextTakeover {
		t.Error("context-takeover flags should default to false")
	}
}

func TestNegotiatedPermessageDeflateParams_WindowBitsOutOfRange(t *testing.T) {
	_, err := negotiatedPermessageDeflateParams(extensionOffer{
		Name:   "permessage-deflate",
		Params: map[string]string{"client_max_window_bits": "20"},
	})
	if err == nil {
		t.Fatal("negotiatedPermessageDeflateParams: expected ErrInvalidMaxWindowBits, got nil")
	}
}

func TestNegotiatedPermessageDeflateParams_UnsupportedParameter(t *testing.T) {
	_, err := negotiatedPermessageDeflateParams(extensionOffer{
		Name:   "permessage-deflate",
		Params: map[string]string{"some_unknown_param": "1"},
	})
	if err == nil {
		t.Fatal("negotiatedPermessageDeflateParams: expected ErrUnsupportedParameter, got nil")
	}
}

func TestSelectNegotiatedExtensions_NotOffered(t *testing.T) {
	params, err := selectNegotiatedExtensions("permessage-deflate", false)
	if err != nil {
		t.Fatalf("selectNegotiatedExtensions: %v", err)
	}
	if params != nil {
		t.Error("params should be nil when the client never offered the extension")
	}
}

func TestSelectNegotiatedExtensions_Accepted(t *testing.T) {
	params, err := selectNegotiatedExtensions("permessage-deflate; client_max_window_bits=10", true)
	if err != nil {
		t.Fatalf("selectNegotiatedExtensions: %v", err)
	}
	if params == nil {
		t.Fatal("params = nil, want non-nil")
	}
	if params.ClientMaxWindowBits != 10 {
		t.Errorf("ClientMaxWindowBits = %d, want 10", params.ClientMaxWindowBits)
	}
}

func TestSelectNegotiatedExtensions_DoubleClaimConflict(t *testing.T) {
	_, err := selectNegotiatedExtensions("permessage-deflate, permessage-deflate", true)
	if err == nil {
		t.Fatal("selectNegotiatedExtensions: expected ErrExtensionsConflict, got nil")
	}
}

func TestSelectNegotiatedExtensions_NoHeader(t *testing.T) {
	params, err := selectNegotiatedExtensions("", true)
	if err != nil || params != nil {
		t.Fatalf("selectNegotiatedExtensions = (%v, %v), want (nil, nil)", params, err)
	}
}

func TestPmdeflateParams_WindowSize(t *testing.T) {
	p := pmdeflateParams{ServerMaxWindowBits: 10, ClientMaxWindowBits: 12}
	if p.ServerWindowSize() != 1024 {
		t.Errorf("ServerWindowSize() = %d, want 1024", p.ServerWindowSize())
	}
	if p.ClientWindowSize() != 4096 {
		t.Errorf("ClientWindowSize() = %d, want 4096", p.ClientWindowSize())
	}
}
