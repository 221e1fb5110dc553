package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

// TestSealerRoundTrip проверяет шифрование и расшифровку токена
func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey())
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}

	for _, token := range []string{"a1-AbCdEfGh123", "", strings.Repeat("x", 512)} {
		sealed, err := s.Seal(token)
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		if token != "" && strings.Contains(sealed, token) {
			t.Error("sealed value must not contain plaintext")
		}

		opened, err := s.Open(sealed)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if opened != token {
			t.Errorf("Open() = %q, want %q", opened, token)
		}
	}
}

// TestSealerNonceIsRandom - два шифрования одного токена различаются
func TestSealerNonceIsRandom(t *testing.T) {
	s, _ := NewSealer(testKey())
	a, _ := s.Seal("token")
	b, _ := s.Seal("token")
	if a == b {
		t.Error("sealed values should differ because of random nonce")
	}
}

func TestNewSealer_InvalidKey(t *testing.T) {
	if _, err := NewSealer([]byte("short")); !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("err = %v, want ErrInvalidKeyLength", err)
	}
}

func TestSealerOpen_Errors(t *testing.T) {
	s, _ := NewSealer(testKey())
	other, _ := NewSealer(bytes.Repeat([]byte{0x01}, KeySize))
	sealed, _ := s.Seal("token")

	tests := []struct {
		name    string
		sealer  *Sealer
		input   string
		wantErr error
	}{
		{"not base64", s, "%%%", ErrInvalidCiphertext},
		{"too short", s, "AAAA", ErrCiphertextTooShort},
		{"wrong key", other, sealed, ErrDecryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.sealer.Open(tt.input); !errors.Is(err, tt.wantErr) {
				t.Errorf("Open() err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPasswordHashVerify(t *testing.T) {
	hash, err := HashPassword("s3cret", 4)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if err := VerifyPassword("s3cret", hash); err != nil {
		t.Errorf("VerifyPassword(correct) = %v", err)
	}
	if err := VerifyPassword("wrong", hash); !errors.Is(err, ErrPasswordMismatch) {
		t.Errorf("VerifyPassword(wrong) = %v, want ErrPasswordMismatch", err)
	}
	if err := VerifyPassword("s3cret", "not-a-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("VerifyPassword(bad hash) = %v, want ErrInvalidHash", err)
	}
	if _, err := HashPassword("", 4); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("HashPassword(empty) = %v, want ErrEmptyPassword", err)
	}
}
