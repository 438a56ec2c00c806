package krypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testKeys(t *testing.T) (valKey, decKey []byte) {
	t.Helper()
	valKey = make([]byte, 64)
	decKey = make([]byte, 24)
	if _, err := rand.Read(valKey); err != nil {
		t.Fatalf("generate validation key: %v", err)
	}
	if _, err := rand.Read(decKey); err != nil {
		t.Fatalf("generate decryption key: %v", err)
	}
	return valKey, decKey
}

func TestProtectUnprotectRoundTrip(t *testing.T) {
	valKey, decKey := testKeys(t)

	plaintexts := [][]byte{
		{},
		[]byte("x"),
		[]byte("hello"),
		bytes.Repeat([]byte{0xEE}, 16), // exactly one block
		bytes.Repeat([]byte{0x00}, 100),
		bytes.Repeat([]byte("ticket"), 512),
	}

	for _, pt := range plaintexts {
		blob, err := Protect(pt, valKey, decKey, "Auth", "cookie")
		if err != nil {
			t.Fatalf("Protect(%d bytes) failed: %v", len(pt), err)
		}

		got, err := Unprotect(blob, valKey, decKey, "Auth", "cookie")
		if err != nil {
			t.Fatalf("Unprotect(%d bytes) failed: %v", len(pt), err)
		}
		if !bytes.Equal(pt, got) {
			t.Errorf("round trip of %d bytes: got %x, want %x", len(pt), got, pt)
		}
	}
}

// The concrete interop scenario: all-zero 16-byte master keys, purpose "Test",
// plaintext "hello". IVs must differ per call, plaintext must come back intact.
func TestProtectZeroKeyScenario(t *testing.T) {
	master := make([]byte, 16)

	blob1, err := Protect([]byte("hello"), master, master, "Test")
	if err != nil {
		t.Fatalf("Protect failed: %v", err)
	}
	blob2, err := Protect([]byte("hello"), master, master, "Test")
	if err != nil {
		t.Fatalf("Protect failed: %v", err)
	}

	if bytes.Equal(blob1[:ivSize], blob2[:ivSize]) {
		t.Error("two Protect calls produced the same IV")
	}

	for _, blob := range [][]byte{blob1, blob2} {
		got, err := Unprotect(blob, master, master, "Test")
		if err != nil {
			t.Fatalf("Unprotect failed: %v", err)
		}
		if string(got) != "hello" {
			t.Errorf("Unprotect = %q, want %q", got, "hello")
		}
	}
}

func TestUnprotectRejectsTampering(t *testing.T) {
	valKey, decKey := testKeys(t)

	blob, err := Protect([]byte("authentication ticket payload"), valKey, decKey, "Auth")
	if err != nil {
		t.Fatalf("Protect failed: %v", err)
	}

	// Flip a single bit at every byte position: IV, ciphertext, and
	// signature regions must all be covered.
	for i := range blob {
		tampered := make([]byte, len(blob))
		copy(tampered, blob)
		tampered[i] ^= 0x40

		if _, err := Unprotect(tampered, valKey, decKey, "Auth"); err != ErrUnprotect {
			t.Fatalf("Unprotect accepted blob tampered at byte %d (err=%v)", i, err)
		}
	}
}

func TestUnprotectRejectsWrongKeysAndPurpose(t *testing.T) {
	valKey, decKey := testKeys(t)

	blob, err := Protect([]byte("payload"), valKey, decKey, "Auth", "cookie")
	if err != nil {
		t.Fatalf("Protect failed: %v", err)
	}

	otherVal, otherDec := testKeys(t)

	cases := []struct {
		name string
		fn   func() ([]byte, error)
	}{
		{"wrong validation key", func() ([]byte, error) { return Unprotect(blob, otherVal, decKey, "Auth", "cookie") }},
		{"wrong decryption key", func() ([]byte, error) { return Unprotect(blob, valKey, otherDec, "Auth", "cookie") }},
		{"wrong primary purpose", func() ([]byte, error) { return Unprotect(blob, valKey, decKey, "Other", "cookie") }},
		{"missing specific purpose", func() ([]byte, error) { return Unprotect(blob, valKey, decKey, "Auth") }},
		{"extra specific purpose", func() ([]byte, error) { return Unprotect(blob, valKey, decKey, "Auth", "cookie", "v2") }},
	}
	for _, tc := range cases {
		if _, err := tc.fn(); err != ErrUnprotect {
			t.Errorf("%s: err = %v, want ErrUnprotect", tc.name, err)
		}
	}
}

func TestUnprotectShortInput(t *testing.T) {
	valKey, decKey := testKeys(t)

	// Everything up to and including ivSize+sigSize has no ciphertext region.
	for _, n := range []int{0, 1, ivSize, sigSize, ivSize + sigSize} {
		blob := make([]byte, n)
		if _, err := Unprotect(blob, valKey, decKey, "Auth"); err != ErrUnprotect {
			t.Errorf("Unprotect(%d bytes) err = %v, want ErrUnprotect", n, err)
		}
	}
}

func TestUnprotectPropagatesDerivationErrors(t *testing.T) {
	valKey, decKey := testKeys(t)
	blob := make([]byte, ivSize+2*sigSize)

	if _, err := Unprotect(blob, valKey, nil, "Auth"); err != ErrMasterKeyRequired {
		t.Errorf("empty decryption key: err = %v, want ErrMasterKeyRequired", err)
	}
	if _, err := Unprotect(blob, nil, decKey, "Auth"); err != ErrMasterKeyRequired {
		t.Errorf("empty validation key: err = %v, want ErrMasterKeyRequired", err)
	}
}

func TestPKCS7Unpad(t *testing.T) {
	cases := []struct {
		in   []byte
		want []byte
		ok   bool
	}{
		{append(bytes.Repeat([]byte{0xAA}, 12), 4, 4, 4, 4), bytes.Repeat([]byte{0xAA}, 12), true},
		{append(bytes.Repeat([]byte{0xAA}, 14), 5, 4), nil, false}, // inconsistent padding run
		{bytes.Repeat([]byte{16}, 16), []byte{}, true},
		{[]byte{}, nil, false},
		{append(bytes.Repeat([]byte{0xAA}, 15), 0), nil, false},  // zero padding length
		{append(bytes.Repeat([]byte{0xAA}, 15), 17), nil, false}, // longer than a block
		{[]byte{5, 5, 5, 5}, nil, false},                         // longer than the input
	}
	for i, tc := range cases {
		got, ok := pkcs7Unpad(tc.in)
		if ok != tc.ok {
			t.Errorf("case %d: ok = %v, want %v", i, ok, tc.ok)
			continue
		}
		if ok && !bytes.Equal(got, tc.want) {
			t.Errorf("case %d: got %x, want %x", i, got, tc.want)
		}
	}
}
