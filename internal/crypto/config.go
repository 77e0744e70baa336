package crypto

import (
	"fmt"

	"github.com/DYLCKH/key-hub/internal/model"
)

// EncryptKey returns a copy of k with its secret Key field encrypted. If
// secret is nil (no encryption configured) or Key is empty, the record is
// returned unchanged.
func EncryptKey(k model.ApiKey, secret []byte) (model.ApiKey, error) {
	if secret == nil || k.Key == "" {
		return k, nil
	}

	enc, err := Encrypt(k.Key, secret)
	if err != nil {
		return k, fmt.Errorf("encrypt key: %w", err)
	}
	k.Key = enc

	return k, nil
}

// DecryptKey decrypts an ApiKey's Key field in-place. Values without the
// "enc:" prefix are left as-is (plaintext passthrough).
func DecryptKey(k model.ApiKey, secret []byte) (model.ApiKey, error) {
	if secret == nil || k.Key == "" {
		return k, nil
	}

	dec, err := Decrypt(k.Key, secret)
	if err != nil {
		return k, fmt.Errorf("decrypt key: %w", err)
	}
	k.Key = dec

	return k, nil
}

// EncryptProxy encrypts a Proxy's Password field in-place.
func EncryptProxy(p model.Proxy, secret []byte) (model.Proxy, error) {
	if secret == nil || p.Password == "" {
		return p, nil
	}

	enc, err := Encrypt(p.Password, secret)
	if err != nil {
		return p, fmt.Errorf("encrypt password: %w", err)
	}
	p.Password = enc

	return p, nil
}

// DecryptProxy decrypts a Proxy's Password field in-place.
func DecryptProxy(p model.Proxy, secret []byte) (model.Proxy, error) {
	if secret == nil || p.Password == "" {
		return p, nil
	}

	dec, err := Decrypt(p.Password, secret)
	if err != nil {
		return p, fmt.Errorf("decrypt password: %w", err)
	}
	p.Password = dec

	return p, nil
}
