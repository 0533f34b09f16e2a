package cryptosess

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the length of the shared symmetric secret in octets.
const KeySize = 16

// TagSize is the AEAD authentication tag length.
const TagSize = 16

// MinDatagramSize is the smallest possible encrypted datagram: wire nonce
// plus an empty ciphertext plus the tag.
const MinDatagramSize = WireNonceSize + TagSize

// ErrTooShort is returned by Decrypt when the datagram is shorter than
// MinDatagramSize.
var ErrTooShort = errors.New("cryptosess: datagram too short")

// ErrIntegrity is returned by Decrypt when the authentication tag does not
// verify. Callers MUST treat this as "drop silently" at the transport layer;
// it is surfaced here only for internal bookkeeping.
var ErrIntegrity = errors.New("cryptosess: integrity check failed")

// ErrWrongDirection is returned by Decrypt when the nonce's direction bit
// does not match this session's configured direction. Without this check a
// datagram reflected back at its own sender would authenticate under the
// shared key and be accepted as if it came from the peer.
var ErrWrongDirection = errors.New("cryptosess: nonce direction does not match session")

// Key is the 16-octet symmetric secret.
type Key [KeySize]byte

// ParseKey decodes the 22-character textual form of a key (base64, no
// padding, as transmitted by the bootstrap tunnel) into 16 octets.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != 22 {
		return k, fmt.Errorf("cryptosess: key must be 22 characters, got %d", len(s))
	}
	raw, err := base64.StdEncoding.DecodeString(s + "==")
	if err != nil {
		return k, fmt.Errorf("cryptosess: invalid key encoding: %w", err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("cryptosess: decoded key must be %d octets, got %d", KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// String renders the key back to its 22-character textual form.
func (k Key) String() string {
	s := base64.StdEncoding.EncodeToString(k[:])
	return s[:len(s)-2] // strip the deterministic "==" padding
}

// Session is an AEAD-backed cryptographic session bound to one direction.
// The cipher is AES-128-GCM: see DESIGN.md for why this substitutes for the
// OCB-family cipher spec.md names, while preserving the 16-octet-key/
// 12-octet-nonce/16-octet-tag contract.
type Session struct {
	aead      cipher.AEAD
	direction Direction
	nextSeq   uint64
}

// NewSession constructs a session for the given key and this endpoint's
// direction.
func NewSession(key Key, dir Direction) (*Session, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptosess: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptosess: %w", err)
	}
	if aead.NonceSize() != NonceSize || aead.Overhead() != TagSize {
		return nil, fmt.Errorf("cryptosess: unexpected AEAD shape (nonce=%d overhead=%d)", aead.NonceSize(), aead.Overhead())
	}
	return &Session{aead: aead, direction: dir}, nil
}

// Encrypt seals plaintext under the next sequence number for this session's
// direction, returning the wire datagram: 8-byte wire nonce || ciphertext ||
// 16-byte tag. The internal sequence counter strictly increases; callers
// must never call Encrypt after it has emitted 2^63-1 datagrams.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	seq := s.nextSeq
	if seq >= 1<<63 {
		return nil, errors.New("cryptosess: sequence number space exhausted")
	}
	s.nextSeq++

	nonce := MakeNonce(s.direction, seq)
	wire := NonceToWire(nonce)

	out := make([]byte, 0, WireNonceSize+len(plaintext)+TagSize)
	out = append(out, wire[:]...)
	out = s.aead.Seal(out, nonce[:], plaintext, nil)
	return out, nil
}

// Decrypt opens a wire datagram produced by the peer's Encrypt, returning the
// reconstructed full nonce and the plaintext. Datagrams shorter than
// MinDatagramSize fail with ErrTooShort; a nonce whose direction bit does not
// match this session's configured direction fails with ErrWrongDirection
// before the tag is even checked, rejecting a reflected copy of one of our
// own outgoing datagrams; tag mismatch fails with ErrIntegrity.
func (s *Session) Decrypt(datagram []byte) ([NonceSize]byte, []byte, error) {
	var nonce [NonceSize]byte
	if len(datagram) < MinDatagramSize {
		return nonce, nil, ErrTooShort
	}
	var wire [WireNonceSize]byte
	copy(wire[:], datagram[:WireNonceSize])
	nonce = WireToNonce(wire)

	if dir, _ := ParseNonce(nonce); dir != s.direction {
		return nonce, nil, ErrWrongDirection
	}

	plaintext, err := s.aead.Open(nil, nonce[:], datagram[WireNonceSize:], nil)
	if err != nil {
		return nonce, nil, ErrIntegrity
	}
	return nonce, plaintext, nil
}

// NextSeq reports the sequence number that will be used for the next
// Encrypt call. Exposed for tests.
func (s *Session) NextSeq() uint64 { return s.nextSeq }
