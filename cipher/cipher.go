package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed buffer layout: IV | TAG | CIPHERTEXT
//                       12 |  16 | -
const (
	IVSize   = 12
	TagSize  = 16
	Overhead = IVSize + TagSize
	KeySize  = 32
)

const (
	AlgorithmAESGCM           = "aes-256-gcm"
	AlgorithmChaCha20Poly1305 = "chacha20-poly1305"
)

// DefaultFingerprint seeds the default key shared by every ntun build.
const DefaultFingerprint = "github.com/go-zoox/ntun"

var (
	ErrDecrypt = errors.New("failed to decrypt buffer")
	ErrKeySize = errors.New("cipher key must be 32 bytes")
)

// Cipher seals and opens whole buffers.
type Cipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(sealed []byte) ([]byte, error)
}

type aead struct {
	aead gocipher.AEAD
	rand io.Reader
}

// DeriveKey turns a fingerprint or passphrase into a 32-byte key.
func DeriveKey(fingerprint string) []byte {
	sum := sha256.Sum256([]byte(fingerprint))
	return sum[:]
}

func NewAESGCM(key []byte) (Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create aes block: %w", err)
	}

	gcm, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	return &aead{aead: gcm, rand: rand.Reader}, nil
}

func NewChaCha20Poly1305(key []byte) (Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	c, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create chacha20-poly1305: %w", err)
	}

	return &aead{aead: c, rand: rand.Reader}, nil
}

// New builds the named algorithm; an empty name selects AES-256-GCM.
func New(algorithm string, key []byte) (Cipher, error) {
	switch strings.ToLower(algorithm) {
	case "", AlgorithmAESGCM:
		return NewAESGCM(key)
	case AlgorithmChaCha20Poly1305:
		return NewChaCha20Poly1305(key)
	default:
		return nil, fmt.Errorf("unsupported cipher algorithm: %s", algorithm)
	}
}

// Default is AES-256-GCM keyed with DefaultFingerprint.
func Default() Cipher {
	c, err := NewAESGCM(DeriveKey(DefaultFingerprint))
	if err != nil {
		panic(err)
	}
	return c
}

func (a *aead) Encrypt(plain []byte) ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(a.rand, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	// Seal returns CIPHERTEXT | TAG
	sealed := a.aead.Seal(nil, iv, plain, nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, Overhead+len(ct))
	out = append(out, iv...)
	out = append(out, tag...)
	out = append(out, ct...)
	return out, nil
}

func (a *aead) Decrypt(sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead {
		return nil, fmt.Errorf("%w: buffer too short (%d bytes)", ErrDecrypt, len(sealed))
	}

	iv := sealed[:IVSize]
	tag := sealed[IVSize:Overhead]
	ct := sealed[Overhead:]

	joined := make([]byte, 0, len(ct)+TagSize)
	joined = append(joined, ct...)
	joined = append(joined, tag...)

	plain, err := a.aead.Open(nil, iv, joined, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}

// EncryptToString seals plain and encodes it as standard base64.
func EncryptToString(c Cipher, plain []byte) (string, error) {
	sealed, err := c.Encrypt(plain)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptToString.
func DecryptString(c Cipher, s string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return c.Decrypt(sealed)
}
