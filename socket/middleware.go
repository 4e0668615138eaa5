package socket

import (
	"github.com/go-zoox/ntun/cipher"
)

// Middleware transforms whole payloads: PerformOutBuffer before framing,
// PerformInBuffer after reassembly. Inbound runs the chain in reverse.
type Middleware interface {
	PerformOutBuffer(buf []byte) ([]byte, error)
	PerformInBuffer(buf []byte) ([]byte, error)
}

// CipherMiddleware seals every outgoing payload and opens every incoming one.
type CipherMiddleware struct {
	Cipher cipher.Cipher
}

func NewCipherMiddleware(c cipher.Cipher) *CipherMiddleware {
	return &CipherMiddleware{Cipher: c}
}

func (m *CipherMiddleware) PerformOutBuffer(buf []byte) ([]byte, error) {
	return m.Cipher.Encrypt(buf)
}

func (m *CipherMiddleware) PerformInBuffer(buf []byte) ([]byte, error) {
	return m.Cipher.Decrypt(buf)
}
