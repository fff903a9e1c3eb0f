package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// Envelope is a self-describing encrypted payload. Every binary field is hex.
type Envelope struct {
	Data       string `json:"data"`
	IV         string `json:"iv"`
	Salt       string `json:"salt"`
	Algorithm  string `json:"algorithm"`
	KDF        string `json:"kdf,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
}

// Params returns the derivation parameters the envelope was sealed with.
func (e *Envelope) Params() Params {
	return Params{KDF: e.KDF, Iterations: e.Iterations}.normalized()
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext with AES-256-GCM under a fresh random 12-byte IV.
func Encrypt(plaintext []byte, k *KeyInfo) (*Envelope, error) {
	if k == nil || len(k.Key) != KeyLength {
		return nil, ErrInvalidKey
	}

	iv := make([]byte, IVLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	aesgcm, err := newGCM(k.Key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	p := k.Params.normalized()
	return &Envelope{
		Data:       hex.EncodeToString(aesgcm.Seal(nil, iv, plaintext, nil)),
		IV:         hex.EncodeToString(iv),
		Salt:       k.Salt,
		Algorithm:  Algorithm,
		KDF:        p.KDF,
		Iterations: p.Iterations,
	}, nil
}

// Decrypt re-derives the key from passphrase and the envelope's salt, then
// opens the envelope. Any failure is reported as ErrDecryption.
func Decrypt(env *Envelope, passphrase []byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrDecryption)
	}
	k, err := DeriveKeyHex(passphrase, env.Salt, env.Params())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	defer k.Wipe()

	return DecryptWithKey(env, k)
}

// DecryptWithKey opens env with an already derived key. The key's salt must
// match the envelope's salt.
func DecryptWithKey(env *Envelope, k *KeyInfo) ([]byte, error) {
	if env == nil || k == nil {
		return nil, fmt.Errorf("%w: missing envelope or key", ErrDecryption)
	}
	if env.Algorithm != Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrDecryption, env.Algorithm)
	}
	if env.Salt != k.Salt {
		return nil, fmt.Errorf("%w: salt mismatch", ErrDecryption)
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != IVLength {
		return nil, fmt.Errorf("%w: malformed iv", ErrDecryption)
	}
	data, err := hex.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed ciphertext", ErrDecryption)
	}

	aesgcm, err := newGCM(k.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}

	plaintext, err := aesgcm.Open(nil, iv, data, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// EncryptJSON marshals v and seals it.
func EncryptJSON(v any, k *KeyInfo) (*Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return Encrypt(plaintext, k)
}

// DecryptJSON opens env with k and unmarshals the plaintext into v.
func DecryptJSON(env *Envelope, k *KeyInfo, v any) error {
	plaintext, err := DecryptWithKey(env, k)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: payload is not valid json: %w", ErrDecryption, err)
	}
	return nil
}
