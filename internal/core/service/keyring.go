package service

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// MinSigningKeyLen is the shortest accepted HMAC secret, in bytes.
const MinSigningKeyLen = 32

var errUnknownKey = errors.New("unknown signing key")

// Keyring holds the HMAC secrets that are currently valid for verification.
// New tokens are always signed with the active key; its id goes into the
// "kid" header.
type Keyring struct {
	activeKID string
	keys      map[string][]byte
}

// NewKeyring validates keys and selects activeKID for signing.
func NewKeyring(activeKID string, keys map[string]string) (*Keyring, error) {
	if activeKID == "" {
		return nil, errors.New("keyring: active key id is required")
	}
	if len(keys) == 0 {
		return nil, errors.New("keyring: at least one signing key is required")
	}

	k := &Keyring{activeKID: activeKID, keys: make(map[string][]byte, len(keys))}
	for kid, secret := range keys {
		if kid == "" {
			return nil, errors.New("keyring: empty key id")
		}
		if len(secret) < MinSigningKeyLen {
			return nil, fmt.Errorf("keyring: key %q must be at least %d bytes", kid, MinSigningKeyLen)
		}
		k.keys[kid] = []byte(secret)
	}
	if _, ok := k.keys[activeKID]; !ok {
		return nil, fmt.Errorf("keyring: active key %q is not in the key set", activeKID)
	}
	return k, nil
}

// ActiveKeyID returns the id of the signing key.
func (k *Keyring) ActiveKeyID() string {
	return k.activeKID
}

func (k *Keyring) sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = k.activeKID
	return t.SignedString(k.keys[k.activeKID])
}

func (k *Keyring) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	key, ok := k.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownKey, kid)
	}
	return key, nil
}
