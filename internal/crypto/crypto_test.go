package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newTestCipher(t *testing.T) (*Cipher, []byte) {
	t.Helper()

	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	return c, key
}

func TestNewCipher_KeySize(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr bool
	}{
		{"valid 32 bytes", 32, false},
		{"too short", 16, true},
		{"too long", 64, true},
		{"empty", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCipher(make([]byte, tt.keyLen))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCipher() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCipher_RoundTrip(t *testing.T) {
	c, _ := newTestCipher(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"token", "ya29.a0AbC-deFgHiJkLmNoP"},
		{"json secret", `{"access_token":"a","refresh_token":"r"}`},
		{"empty", ""},
		{"unicode", "mật khẩu 🔐"},
		{"long", strings.Repeat("x", 8192)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := c.Encrypt([]byte(tt.plaintext))
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if encoded == tt.plaintext && tt.plaintext != "" {
				t.Error("Encrypt() returned plaintext unchanged")
			}

			got, err := c.Decrypt(encoded)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if string(got) != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestCipher_NonceUniqueness(t *testing.T) {
	c, _ := newTestCipher(t)

	a, err := c.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	b, err := c.Encrypt([]byte("same plaintext"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestCipher_TamperedCiphertext(t *testing.T) {
	c, _ := newTestCipher(t)

	encoded, err := c.Encrypt([]byte("secret material"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decoding ciphertext: %v", err)
	}

	// Flip one bit in every byte position; all must fail authentication.
	for i := range sealed {
		mutated := make([]byte, len(sealed))
		copy(mutated, sealed)
		mutated[i] ^= 0x01

		_, err := c.Decrypt(base64.StdEncoding.EncodeToString(mutated))
		if !errors.Is(err, ErrDecryption) {
			t.Fatalf("Decrypt() with bit %d flipped: error = %v, want ErrDecryption", i, err)
		}
	}
}

func TestCipher_WrongKey(t *testing.T) {
	c1, _ := newTestCipher(t)
	c2, _ := newTestCipher(t)

	encoded, err := c1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := c2.Decrypt(encoded); !errors.Is(err, ErrDecryption) {
		t.Errorf("Decrypt() with wrong key: error = %v, want ErrDecryption", err)
	}
}

func TestCipher_MalformedInput(t *testing.T) {
	c, _ := newTestCipher(t)

	tests := []struct {
		name    string
		encoded string
	}{
		{"not base64", "!!! not base64 !!!"},
		{"too short", base64.StdEncoding.EncodeToString([]byte("abc"))},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decrypt(tt.encoded); !errors.Is(err, ErrDecryption) {
				t.Errorf("Decrypt(%q) error = %v, want ErrDecryption", tt.encoded, err)
			}
		})
	}
}

func TestKeyBase64RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}

	decoded, err := KeyFromBase64(KeyToBase64(key))
	if err != nil {
		t.Fatalf("KeyFromBase64() error = %v", err)
	}
	if string(decoded) != string(key) {
		t.Error("key changed across base64 round trip")
	}

	if _, err := KeyFromBase64("dG9vc2hvcnQ="); err == nil {
		t.Error("KeyFromBase64() accepted a short key")
	}
	if _, err := KeyFromBase64("not base64"); err == nil {
		t.Error("KeyFromBase64() accepted invalid base64")
	}
}
