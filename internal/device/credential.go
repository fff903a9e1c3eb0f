package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/focussync/internal/common"
	"github.com/dmitrijs2005/focussync/internal/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

const (
	credentialType  = "focussync_pairing"
	credentialLabel = "focussync/device-credential"
)

// CredentialTTL bounds how long a published credential stays valid.
const CredentialTTL = 24 * time.Hour

// Claims identify the device (subject) and the salt its sync key was derived
// with, so a verifier holding the passphrase can rebuild the signing key.
type Claims struct {
	jwt.RegisteredClaims
	Type       string `json:"typ"`
	Salt       string `json:"salt"`
	KDF        string `json:"kdf,omitempty"`
	Iterations int    `json:"iter,omitempty"`
}

// KeyLookup runs check with the sync key derived from the shared passphrase
// with salt. cryptox.Keyring.WithKey satisfies it.
type KeyLookup func(saltHex string, p cryptox.Params, check func(k *cryptox.KeyInfo) error) error

// IssueCredential signs a pairing credential for deviceID with a subkey of k.
func IssueCredential(k *cryptox.KeyInfo, deviceID string, now time.Time, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:       credentialType,
		Salt:       k.Salt,
		KDF:        k.Params.KDF,
		Iterations: k.Params.Iterations,
	})

	signed, err := token.SignedString(cryptox.SubKey(k, credentialLabel))
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// VerifyCredential checks that token was signed by a holder of the shared
// passphrase for deviceID. The salt and parameters named in the token are
// only read to pick the key; lookup refuses parameters it does not use.
func VerifyCredential(token, deviceID string, lookup KeyLookup, now time.Time) error {
	if token == "" {
		return fmt.Errorf("%w: missing", common.ErrInvalidCredential)
	}

	unverified := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, unverified); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidCredential, err)
	}
	if unverified.Type != credentialType || unverified.Subject != deviceID {
		return fmt.Errorf("%w: not a credential for %s", common.ErrInvalidCredential, deviceID)
	}

	p := cryptox.Params{KDF: unverified.KDF, Iterations: unverified.Iterations}
	err := lookup(unverified.Salt, p, func(k *cryptox.KeyInfo) error {
		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return cryptox.SubKey(k, credentialLabel), nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithSubject(deviceID),
			jwt.WithTimeFunc(func() time.Time { return now }),
		)
		if err != nil {
			return err
		}
		if !parsed.Valid || claims.Type != credentialType || claims.Salt != k.Salt {
			return errors.New("claims do not match the signing key")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidCredential, err)
	}
	return nil
}
