package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/focussync/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	Algorithm  = "AES-GCM"
	KeyLength  = 32
	IVLength   = 12
	SaltLength = 16

	// Iterations is the PBKDF2 work factor used when none is configured.
	Iterations = 100_000

	KDFPBKDF2   = "pbkdf2-sha256"
	KDFArgon2id = "argon2id"
)

var (
	ErrKeyDerivation = errors.New("key derivation failed")
	ErrDecryption    = errors.New("failed to decrypt data - check passphrase")
	ErrInvalidKey    = errors.New("invalid key material")
)

// Params selects the key derivation function. For argon2id Iterations is the
// time cost; memory and parallelism are fixed.
type Params struct {
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
}

// DefaultParams returns PBKDF2-HMAC-SHA256 with 100,000 iterations.
func DefaultParams() Params {
	return Params{KDF: KDFPBKDF2, Iterations: Iterations}
}

func (p Params) normalized() Params {
	if p.KDF == "" {
		p.KDF = KDFPBKDF2
	}
	if p.Iterations <= 0 {
		if p.KDF == KDFArgon2id {
			p.Iterations = 1
		} else {
			p.Iterations = Iterations
		}
	}
	return p
}

// KeyInfo is a derived symmetric key together with the salt it was derived
// with. Salt is hex encoded.
type KeyInfo struct {
	Key    []byte
	Salt   string
	Params Params
}

// Wipe zeroes the key bytes.
func (k *KeyInfo) Wipe() {
	if k != nil {
		common.WipeByteArray(k.Key)
	}
}

// DeriveKey stretches passphrase into a 256-bit AES key with the default
// parameters. A nil salt means a fresh 16-byte random salt.
func DeriveKey(passphrase []byte, salt []byte) (*KeyInfo, error) {
	return DeriveKeyWithParams(passphrase, salt, DefaultParams())
}

// DeriveKeyWithParams is DeriveKey with an explicit KDF choice.
func DeriveKeyWithParams(passphrase []byte, salt []byte, p Params) (*KeyInfo, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrKeyDerivation)
	}

	if salt == nil {
		var err error
		if salt, err = common.RandomBytes(SaltLength); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyDerivation, err)
		}
	}
	if len(salt) != SaltLength {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrKeyDerivation, SaltLength, len(salt))
	}

	p = p.normalized()

	var key []byte
	switch p.KDF {
	case KDFPBKDF2:
		key = pbkdf2.Key(passphrase, salt, p.Iterations, KeyLength, sha256.New)
	case KDFArgon2id:
		key = argon2.IDKey(passphrase, salt, uint32(p.Iterations), 64*1024, 4, KeyLength)
	default:
		return nil, fmt.Errorf("%w: unknown kdf %q", ErrKeyDerivation, p.KDF)
	}

	return &KeyInfo{Key: key, Salt: hex.EncodeToString(salt), Params: p}, nil
}

// DeriveKeyHex is DeriveKeyWithParams for a hex encoded salt, as found in
// envelopes and exported keys.
func DeriveKeyHex(passphrase []byte, saltHex string, p Params) (*KeyInfo, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("%w: bad salt: %w", ErrKeyDerivation, err)
	}
	return DeriveKeyWithParams(passphrase, salt, p)
}

// ExportedKey is the persisted form of a KeyInfo. All binary values are hex.
type ExportedKey struct {
	KeyData    string `json:"keyData"`
	Salt       string `json:"salt"`
	Algorithm  string `json:"algorithm"`
	Iterations int    `json:"iterations"`
	KDF        string `json:"kdf,omitempty"`
}

func ExportKey(k *KeyInfo) ExportedKey {
	p := k.Params.normalized()
	return ExportedKey{
		KeyData:    hex.EncodeToString(k.Key),
		Salt:       k.Salt,
		Algorithm:  Algorithm,
		Iterations: p.Iterations,
		KDF:        p.KDF,
	}
}

func ImportKey(e ExportedKey) (*KeyInfo, error) {
	if e.Algorithm != "" && e.Algorithm != Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidKey, e.Algorithm)
	}
	key, err := hex.DecodeString(e.KeyData)
	if err != nil || len(key) != KeyLength {
		return nil, fmt.Errorf("%w: key must be %d hex encoded bytes", ErrInvalidKey, KeyLength)
	}
	salt, err := hex.DecodeString(e.Salt)
	if err != nil || len(salt) != SaltLength {
		return nil, fmt.Errorf("%w: salt must be %d hex encoded bytes", ErrInvalidKey, SaltLength)
	}

	p := Params{KDF: e.KDF, Iterations: e.Iterations}.normalized()
	return &KeyInfo{Key: key, Salt: e.Salt, Params: p}, nil
}

// CompareKeys reports whether a and b hold the same key material and salt.
func CompareKeys(a, b *KeyInfo) bool {
	if a == nil || b == nil {
		return false
	}
	sameKey := subtle.ConstantTimeCompare(a.Key, b.Key) == 1
	return sameKey && a.Salt == b.Salt
}

// SubKey derives a purpose-bound secret from k, so the sync key itself never
// signs anything directly.
func SubKey(k *KeyInfo, label string) []byte {
	m := hmac.New(sha256.New, k.Key)
	m.Write([]byte(label))
	return m.Sum(nil)
}
