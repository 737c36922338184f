package proto

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	frame := BuildPacket(42, 0xdeadbeef, []byte("hello"))

	hdr, err := ExtractHeader(frame)
	if err != nil {
		t.Fatalf("ExtractHeader: %v", err)
	}
	if hdr.Type != 42 || hdr.ID != 0xdeadbeef {
		t.Fatalf("got header %+v", hdr)
	}
	if got := Payload(frame); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("Payload = %q, want %q", got, "hello")
	}
}

func TestExtractHeaderTooShort(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		if _, err := ExtractHeader(make([]byte, n)); err != ErrTooShort {
			t.Fatalf("len=%d: got err=%v, want ErrTooShort", n, err)
		}
	}
}

func TestExtractLastString(t *testing.T) {
	payload := append([]byte{0, 0}, []byte("agent a")...)
	if got := ExtractLastString(payload, 2); !bytes.Equal(got, []byte("agent a")) {
		t.Fatalf("got %q", got)
	}
	if got := ExtractLastString(payload, len(payload)); got != nil {
		t.Fatalf("expected nil tail, got %q", got)
	}
}

func TestTwoLengthPrefixedStringsRoundTrip(t *testing.T) {
	want := EncodeTwoLengthPrefixedStrings([]byte("agent b"), []byte("password"))

	a, b, err := TwoLengthPrefixedStrings(want)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(a) != "agent b" || string(b) != "password" {
		t.Fatalf("got a=%q b=%q", a, b)
	}
}

func TestTwoLengthPrefixedStringsRejectsMismatchedLength(t *testing.T) {
	payload := EncodeTwoLengthPrefixedStrings([]byte("a"), []byte("b"))
	payload = append(payload, 0xff) // trailing garbage byte
	if _, _, err := TwoLengthPrefixedStrings(payload); err == nil {
		t.Fatal("expected error for mismatched declared length")
	}
}

func TestOkAndStringRoundTrip(t *testing.T) {
	for _, ok := range []bool{true, false} {
		payload := EncodeOkAndString(ok, []byte("room.42"))
		gotOk, gotStr, err := DecodeOkAndString(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if gotOk != ok || string(gotStr) != "room.42" {
			t.Fatalf("ok=%v: got ok=%v str=%q", ok, gotOk, gotStr)
		}
	}
}

func TestSecretIsOpaqueBytesNotCString(t *testing.T) {
	// §9 open question: secrets must be compared as opaque byte blobs using
	// the length carried in the header, never by NUL-termination.
	secretWithEmbeddedNUL := []byte("pass\x00word")
	payload := EncodeTwoLengthPrefixedStrings([]byte("agent a"), secretWithEmbeddedNUL)

	_, secret, err := TwoLengthPrefixedStrings(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(secret, secretWithEmbeddedNUL) {
		t.Fatalf("secret truncated at NUL: got %q, want %q", secret, secretWithEmbeddedNUL)
	}
}
