package cryptox

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/focussync/internal/common"
)

// maxForeignKeys bounds how many peer salts are cached besides the active one.
const maxForeignKeys = 32

var errWiped = fmt.Errorf("%w: keyring wiped", ErrInvalidKey)

// Keyring opens envelopes sealed by peers that share the passphrase but
// enabled sync with their own salt. Peer keys are derived with the local
// parameters only, and cached once they have opened something.
//
// Key bytes are only touched under the ring's lock, so Wipe can zero them
// while exchanges are still in flight.
//
// A keyring built without a passphrase (after a restart from exported key
// material) can only open envelopes carrying the active key's salt.
type Keyring struct {
	mu         sync.Mutex
	passphrase []byte
	active     *KeyInfo
	params     Params
	bySalt     map[string]*KeyInfo
	foreign    []string // oldest first
	wiped      bool
}

// NewKeyring copies passphrase; the caller may wipe its own slice.
func NewKeyring(active *KeyInfo, passphrase []byte) *Keyring {
	kr := &Keyring{
		active: active,
		params: active.Params.normalized(),
		bySalt: map[string]*KeyInfo{active.Salt: active},
	}
	if len(passphrase) > 0 {
		kr.passphrase = bytes.Clone(passphrase)
	}
	return kr
}

// Salt returns the active key's salt.
func (kr *Keyring) Salt() string {
	return kr.active.Salt
}

// Params returns the derivation parameters every key in the ring uses.
func (kr *Keyring) Params() Params {
	return kr.params
}

// HasPassphrase reports whether foreign salts can be derived.
func (kr *Keyring) HasPassphrase() bool {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	return kr.passphrase != nil
}

// SetPassphrase lets a ring restored from exported key material derive peer
// keys. It does nothing once a passphrase is held or the ring is wiped.
func (kr *Keyring) SetPassphrase(passphrase []byte) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if kr.wiped || kr.passphrase != nil || len(passphrase) == 0 {
		return
	}
	kr.passphrase = bytes.Clone(passphrase)
}

// Matches derives a key from passphrase with the active key's salt and
// compares it with the active key. A wiped ring matches nothing.
func (kr *Keyring) Matches(passphrase []byte) (bool, error) {
	candidate, err := DeriveKeyHex(passphrase, kr.active.Salt, kr.params)
	if err != nil {
		return false, err
	}
	defer candidate.Wipe()

	kr.mu.Lock()
	defer kr.mu.Unlock()
	if kr.wiped {
		return false, nil
	}
	return CompareKeys(kr.active, candidate), nil
}

// WithActive runs fn with the active key under the ring's lock.
func (kr *Keyring) WithActive(fn func(k *KeyInfo) error) error {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if kr.wiped {
		return errWiped
	}
	return fn(kr.active)
}

// SealJSON marshals v and seals it with the active key.
func (kr *Keyring) SealJSON(v any) (*Envelope, error) {
	var env *Envelope
	err := kr.WithActive(func(k *KeyInfo) error {
		var err error
		env, err = EncryptJSON(v, k)
		return err
	})
	return env, err
}

// WithKey runs fn with the key for saltHex. Parameters other than the ring's
// are refused before anything is derived. A freshly derived key is cached
// only when fn succeeds, so unverified salts never fill the cache.
func (kr *Keyring) WithKey(saltHex string, p Params, fn func(k *KeyInfo) error) error {
	if got := p.normalized(); got != kr.params {
		return fmt.Errorf("%w: unexpected key parameters %s/%d", ErrDecryption, got.KDF, got.Iterations)
	}

	kr.mu.Lock()
	if kr.wiped {
		kr.mu.Unlock()
		return errWiped
	}
	if k, ok := kr.bySalt[saltHex]; ok {
		defer kr.mu.Unlock()
		return fn(k)
	}
	if kr.passphrase == nil {
		kr.mu.Unlock()
		return fmt.Errorf("%w: no key for salt %s", ErrDecryption, saltHex)
	}
	pass := bytes.Clone(kr.passphrase)
	kr.mu.Unlock()

	k, err := DeriveKeyHex(pass, saltHex, kr.params)
	common.WipeByteArray(pass)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	if err := fn(k); err != nil {
		k.Wipe()
		return err
	}

	kr.mu.Lock()
	defer kr.mu.Unlock()
	if _, ok := kr.bySalt[saltHex]; ok || kr.wiped {
		k.Wipe()
		return nil
	}
	kr.bySalt[saltHex] = k
	kr.foreign = append(kr.foreign, saltHex)
	if len(kr.foreign) > maxForeignKeys {
		oldest := kr.foreign[0]
		kr.foreign = kr.foreign[1:]
		kr.bySalt[oldest].Wipe()
		delete(kr.bySalt, oldest)
	}
	return nil
}

// Open decrypts env with the matching key.
func (kr *Keyring) Open(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrDecryption)
	}
	var plain []byte
	err := kr.WithKey(env.Salt, env.Params(), func(k *KeyInfo) error {
		var err error
		plain, err = DecryptWithKey(env, k)
		return err
	})
	return plain, err
}

func (kr *Keyring) cached() int {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	return len(kr.bySalt)
}

// Wipe zeroes the passphrase and every cached key, including the active one.
// Later calls fail with ErrInvalidKey.
func (kr *Keyring) Wipe() {
	kr.mu.Lock()
	defer kr.mu.Unlock()

	common.WipeByteArray(kr.passphrase)
	kr.passphrase = nil
	for salt, k := range kr.bySalt {
		k.Wipe()
		delete(kr.bySalt, salt)
	}
	kr.foreign = nil
	kr.wiped = true
}
