package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Hash returns the hex encoded SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether data hashes to expected.
func VerifyHash(data []byte, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(Hash(data)), []byte(expected)) == 1
}

// EncryptionInfo describes the active primitives, for display.
type EncryptionInfo struct {
	Algorithm  string `json:"algorithm"`
	KeyLength  int    `json:"keyLength"`
	Iterations int    `json:"iterations"`
	KDF        string `json:"kdf"`
	Available  bool   `json:"available"`
}

func Info(p Params) EncryptionInfo {
	p = p.normalized()
	return EncryptionInfo{
		Algorithm:  Algorithm,
		KeyLength:  KeyLength * 8,
		Iterations: p.Iterations,
		KDF:        p.KDF,
		Available:  true,
	}
}
