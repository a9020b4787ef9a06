// Package keyexchange implements the session handshake key agreement:
// ephemeral ECDH on P-384 followed by HKDF-SHA256.
package keyexchange

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of the derived shared key.
const KeySize = 32

// hkdfInfo is the HKDF "info" parameter. Changing it changes every derived
// key, so peers running different versions will not agree.
var hkdfInfo = []byte("subbots.session.handshake.v1")

// ErrNoSharedKey is returned when the shared key is read before a
// successful exchange.
var ErrNoSharedKey = errors.New("shared key not established")

// KeyExchangeError reports a peer public key that could not be used.
type KeyExchangeError struct {
	Op  string
	Err error
}

func (e *KeyExchangeError) Error() string {
	return fmt.Sprintf("key exchange: %s: %v", e.Op, e.Err)
}

func (e *KeyExchangeError) Unwrap() error { return e.Err }

// Curve returns the curve every participant uses.
func Curve() ecdh.Curve { return ecdh.P384() }

// GenerateKeyPair creates an ephemeral keypair.
func GenerateKeyPair() (*ecdh.PrivateKey, error) {
	priv, err := Curve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate P-384 key: %w", err)
	}
	return priv, nil
}

// ParsePublicKey decodes an uncompressed P-384 point.
func ParsePublicKey(raw []byte) (*ecdh.PublicKey, error) {
	if len(raw) == 0 {
		return nil, &KeyExchangeError{Op: "parse peer key", Err: errors.New("empty public key")}
	}
	pub, err := Curve().NewPublicKey(raw)
	if err != nil {
		return nil, &KeyExchangeError{Op: "parse peer key", Err: err}
	}
	return pub, nil
}

// DeriveSharedKey runs ECDH between priv and the encoded peer key, then
// stretches the raw secret through HKDF-SHA256 into a KeySize-byte key.
func DeriveSharedKey(priv *ecdh.PrivateKey, peerPublic []byte) ([]byte, error) {
	if priv == nil {
		return nil, &KeyExchangeError{Op: "derive", Err: errors.New("no private key")}
	}
	pub, err := ParsePublicKey(peerPublic)
	if err != nil {
		return nil, err
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return nil, &KeyExchangeError{Op: "ecdh", Err: err}
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfo), key); err != nil {
		return nil, &KeyExchangeError{Op: "hkdf", Err: err}
	}
	return key, nil
}
