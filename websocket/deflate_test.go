package websocket

import (
	"bytes"
	"testing"
)

func TestDeflateCodec_CompressDecompressRoundTrip(t *testing.T) {
	codec := NewDeflateCodec(pmdeflateParams{ServerMaxWindowBits: 15, ClientMaxWindowBits: 15})

	payloads := [][]byte{
		[]byte("the quick brown fox jumps over the lazy dog"),
		bytes.Repeat([]byte("compress me "), 500),
		{},
	}
	for _, payload := range payloads {
		compressed, err := codec.Compress(payload)
		if err != nil {
			t.Fatalf("Compress: %v", err)
		}
		got, err := codec.Decompress(compressed)
		if err != nil {
			t.Fatalf("Decompress: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(payload))
		}
	}
}

func TestDeflateCodec_Compress_StripsTail(t *testing.T) {
	codec := NewDeflateCodec(pmdeflateParams{ServerMaxWindowBits: 15, ClientMaxWindowBits: 15})
	compressed, err := codec.Compress([]byte("hello world"))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if bytes.HasSuffix(compressed, deflateTail[:]) {
		t.Error("Compress output still carries the 00 00 FF FF tail")
	}
}

func TestDeflateCodec_Decompress_InvalidStream(t *testing.T) {
	codec := NewDeflateCodec(pmdeflateParams{ServerMaxWindowBits: 15, ClientMaxWindowBits: 15})
	_, err := codec.Decompress([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if err == nil {
		t.Fatal("Decompress: expected ErrInvalidDeflateStream, got nil")
	}
}

func TestDeflateCodec_ShouldSkipCompression(t *testing.T) {
	tests := []struct {
		name       string
		bits       int
		payloadLen int
		want       bool
	}{
		{"default window never skips", defaultMaxWindowBits, 1 << 20, false},
		{"small window, small payload", 10, 100, false},
		{"small window, oversized payload", 10, 1 << 11, true},
	}
	for _, tt := range tests {
		codec := NewDeflateCodec(pmdeflateParams{ClientMaxWindowBits: tt.bits})
		if got := codec.ShouldSkipCompression(tt.payloadLen); got != tt.want {
			t.Errorf("%s: ShouldSkipCompression(%d) = %v, want %v", tt.name, tt.payloadLen, got, tt.want)
		}
	}
}

func TestShouldCompress(t *testing.T) {
	tests := []struct {
		op   Opcode
		want bool
	}{
		{OpcodeText, true},
		{OpcodeBinary, true},
		{OpcodeContinuation, false},
		{OpcodePing, false},
		{OpcodePong, false},
		{OpcodeClose, false},
	}
	for _, tt := range tests {
		if got := ShouldCompress(tt.op); got != tt.want {
			t.Errorf("ShouldCompress(%v) = %v, want %v", tt.op, got, tt.want)
		}
	}
}
