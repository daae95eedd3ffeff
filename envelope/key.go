package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const keySize = 32

// Key is a symmetric envelope key. It deliberately has no JSON
// representation and its Stringer is redacted, so it cannot end up in a
// persisted envelope, a ledger record, or a log line by accident. The
// only way to get the raw material out is the explicit Export call.
type Key struct {
	k []byte
}

func NewKey() (*Key, error) {
	k := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return nil, err
	}
	return &Key{k: k}, nil
}

// ParseKey reads a key previously handed out by Export.
func ParseKey(encoded string) (*Key, error) {
	k, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("malformed envelope key: %w", err)
	}
	if len(k) != keySize {
		return nil, fmt.Errorf("envelope key must be %d bytes", keySize)
	}
	return &Key{k: k}, nil
}

// Export returns the out-of-band form of the key. Callers own what
// happens to it from here.
func (k *Key) Export() string {
	return base64.StdEncoding.EncodeToString(k.k)
}

func (k *Key) String() string {
	return "envelope-key(redacted)"
}

func (k *Key) MarshalJSON() ([]byte, error) {
	return nil, errors.New("envelope key must never be serialized")
}

// seal encrypts one field's content with a nonce freshly drawn for this
// call; a key is never paired with a repeated nonce.
func seal(key *Key, plaintext []byte) (Payload, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return Payload{}, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Payload{}, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return Payload{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

func open(key *Key, p Payload) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(p.Nonce)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errors.New("bad nonce length")
	}

	return gcm.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key *Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.k)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
