package keyexchange

import (
	"bytes"
	"crypto/ecdh"
)

// SessionKeys holds one participant's side of a handshake: its ephemeral
// keypair, the peer key once accepted, and the derived shared key.
type SessionKeys struct {
	private *ecdh.PrivateKey
	peer    []byte
	shared  []byte
}

// NewSessionKeys generates a fresh keypair.
func NewSessionKeys() (*SessionKeys, error) {
	priv, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &SessionKeys{private: priv}, nil
}

// PublicBytes returns the encoded public half offered to peers.
func (k *SessionKeys) PublicBytes() []byte { return k.private.PublicKey().Bytes() }

// Exchange derives the shared key from a peer's encoded public key. On
// failure the receiver is left exactly as it was, so a corrected key can
// be tried again.
func (k *SessionKeys) Exchange(peerPublic []byte) error {
	shared, err := DeriveSharedKey(k.private, peerPublic)
	if err != nil {
		return err
	}
	k.peer = bytes.Clone(peerPublic)
	k.shared = shared
	return nil
}

// Established reports whether a shared key has been derived.
func (k *SessionKeys) Established() bool { return k.shared != nil }

// PeerPublic returns the accepted peer key, or nil.
func (k *SessionKeys) PeerPublic() []byte { return bytes.Clone(k.peer) }

// SharedKey returns a copy of the derived key.
func (k *SessionKeys) SharedKey() ([]byte, error) {
	if k.shared == nil {
		return nil, ErrNoSharedKey
	}
	return bytes.Clone(k.shared), nil
}
