package store

import (
	"context"
	"sync"

	"github.com/DYLCKH/key-hub/internal/crypto"
	"github.com/DYLCKH/key-hub/internal/model"
)

// Encrypted wraps a Store and transparently encrypts ApiKey.Key and
// Proxy.Password at the persistence boundary: plaintext in, "enc:"-prefixed
// ciphertext to the wrapped Store, and back to plaintext on every read.
// The secret is held behind a mutex so RotateEncryptionKey can swap it
// while requests are in flight.
type Encrypted struct {
	inner Store

	mu     sync.RWMutex
	secret []byte // nil means no encryption
}

// NewEncrypted wraps inner. secret may be nil to start unencrypted.
func NewEncrypted(inner Store, secret []byte) *Encrypted {
	return &Encrypted{inner: inner, secret: secret}
}

func (e *Encrypted) currentSecret() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.secret
}

// RotateEncryptionKey re-encrypts every ApiKey.Key and Proxy.Password under
// newKey (nil disables encryption, storing plaintext going forward). It
// reads every row, decrypts under the old key, re-encrypts under the new
// one, and writes it back — all while holding the rotation lock, so
// concurrent requests see either the fully-old or fully-new key, never a
// mix.
func (e *Encrypted) RotateEncryptionKey(ctx context.Context, newKey []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	oldKey := e.secret

	keys, err := e.inner.ListKeys(ctx, "")
	if err != nil {
		return err
	}
	for _, k := range keys {
		plain, err := crypto.DecryptKey(k, oldKey)
		if err != nil {
			return err
		}
		reenc, err := crypto.EncryptKey(plain, newKey)
		if err != nil {
			return err
		}
		if _, err := e.inner.UpdateKey(ctx, k.ID, KeyPatch{Key: &reenc.Key}); err != nil {
			return err
		}
	}

	proxies, err := e.inner.ListProxies(ctx)
	if err != nil {
		return err
	}
	for _, p := range proxies {
		plain, err := crypto.DecryptProxy(p, oldKey)
		if err != nil {
			return err
		}
		reenc, err := crypto.EncryptProxy(plain, newKey)
		if err != nil {
			return err
		}
		if _, err := e.inner.UpdateProxy(ctx, p.ID, ProxyPatch{Password: &reenc.Password}); err != nil {
			return err
		}
	}

	e.secret = newKey

	return nil
}

// ─── Channels (pass-through; nothing to encrypt) ───

func (e *Encrypted) ListChannels(ctx context.Context) ([]model.Channel, error) {
	return e.inner.ListChannels(ctx)
}

func (e *Encrypted) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	return e.inner.GetChannel(ctx, id)
}

func (e *Encrypted) CreateChannel(ctx context.Context, ch model.Channel) (*model.Channel, error) {
	return e.inner.CreateChannel(ctx, ch)
}

func (e *Encrypted) UpdateChannel(ctx context.Context, id string, patch ChannelPatch) (*model.Channel, error) {
	return e.inner.UpdateChannel(ctx, id, patch)
}

func (e *Encrypted) DeleteChannel(ctx context.Context, id string) error {
	return e.inner.DeleteChannel(ctx, id)
}

// ─── Keys ───

func (e *Encrypted) decryptKeys(ks []model.ApiKey) ([]model.ApiKey, error) {
	secret := e.currentSecret()
	out := make([]model.ApiKey, len(ks))
	for i, k := range ks {
		d, err := crypto.DecryptKey(k, secret)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func (e *Encrypted) ListKeys(ctx context.Context, channelID string) ([]model.ApiKey, error) {
	ks, err := e.inner.ListKeys(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return e.decryptKeys(ks)
}

func (e *Encrypted) GetKey(ctx context.Context, id string) (*model.ApiKey, error) {
	k, err := e.inner.GetKey(ctx, id)
	if err != nil || k == nil {
		return k, err
	}
	d, err := crypto.DecryptKey(*k, e.currentSecret())
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *Encrypted) ActiveKeysFor(ctx context.Context, channelID string) ([]model.ApiKey, error) {
	ks, err := e.inner.ActiveKeysFor(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return e.decryptKeys(ks)
}

func (e *Encrypted) CreateKey(ctx context.Context, k model.ApiKey) (*model.ApiKey, error) {
	enc, err := crypto.EncryptKey(k, e.currentSecret())
	if err != nil {
		return nil, err
	}
	created, err := e.inner.CreateKey(ctx, enc)
	if err != nil || created == nil {
		return created, err
	}
	d, err := crypto.DecryptKey(*created, e.currentSecret())
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *Encrypted) CreateKeys(ctx context.Context, ks []model.ApiKey) ([]model.ApiKey, error) {
	secret := e.currentSecret()
	enc := make([]model.ApiKey, len(ks))
	for i, k := range ks {
		v, err := crypto.EncryptKey(k, secret)
		if err != nil {
			return nil, err
		}
		enc[i] = v
	}
	created, err := e.inner.CreateKeys(ctx, enc)
	if err != nil {
		return nil, err
	}
	return e.decryptKeys(created)
}

func (e *Encrypted) UpdateKey(ctx context.Context, id string, patch KeyPatch) (*model.ApiKey, error) {
	if patch.Key != nil {
		secret := e.currentSecret()
		enc := *patch.Key
		if secret != nil {
			v, err := crypto.Encrypt(enc, secret)
			if err != nil {
				return nil, err
			}
			enc = v
		}
		patch.Key = &enc
	}
	updated, err := e.inner.UpdateKey(ctx, id, patch)
	if err != nil || updated == nil {
		return updated, err
	}
	d, err := crypto.DecryptKey(*updated, e.currentSecret())
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *Encrypted) DeleteKey(ctx context.Context, id string) error {
	return e.inner.DeleteKey(ctx, id)
}

// ─── Proxies ───

func (e *Encrypted) ListProxies(ctx context.Context) ([]model.Proxy, error) {
	ps, err := e.inner.ListProxies(ctx)
	if err != nil {
		return nil, err
	}
	secret := e.currentSecret()
	out := make([]model.Proxy, len(ps))
	for i, p := range ps {
		d, err := crypto.DecryptProxy(p, secret)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func (e *Encrypted) GetProxy(ctx context.Context, id string) (*model.Proxy, error) {
	p, err := e.inner.GetProxy(ctx, id)
	if err != nil || p == nil {
		return p, err
	}
	d, err := crypto.DecryptProxy(*p, e.currentSecret())
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *Encrypted) CreateProxy(ctx context.Context, p model.Proxy) (*model.Proxy, error) {
	enc, err := crypto.EncryptProxy(p, e.currentSecret())
	if err != nil {
		return nil, err
	}
	created, err := e.inner.CreateProxy(ctx, enc)
	if err != nil || created == nil {
		return created, err
	}
	d, err := crypto.DecryptProxy(*created, e.currentSecret())
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *Encrypted) UpdateProxy(ctx context.Context, id string, patch ProxyPatch) (*model.Proxy, error) {
	if patch.Password != nil {
		secret := e.currentSecret()
		var enc string
		if secret == nil {
			enc = *patch.Password
		} else {
			v, err := crypto.Encrypt(*patch.Password, secret)
			if err != nil {
				return nil, err
			}
			enc = v
		}
		patch.Password = &enc
	}
	updated, err := e.inner.UpdateProxy(ctx, id, patch)
	if err != nil || updated == nil {
		return updated, err
	}
	d, err := crypto.DecryptProxy(*updated, e.currentSecret())
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (e *Encrypted) DeleteProxy(ctx context.Context, id string) error {
	return e.inner.DeleteProxy(ctx, id)
}

// ─── Tokens, Logs, Settings (pass-through) ───

func (e *Encrypted) ListTokens(ctx context.Context) ([]model.Token, error) {
	return e.inner.ListTokens(ctx)
}

func (e *Encrypted) GetToken(ctx context.Context, id string) (*model.Token, error) {
	return e.inner.GetToken(ctx, id)
}

func (e *Encrypted) TokenByValue(ctx context.Context, value string) (*model.Token, error) {
	return e.inner.TokenByValue(ctx, value)
}

func (e *Encrypted) CreateToken(ctx context.Context, t model.Token) (*model.Token, error) {
	return e.inner.CreateToken(ctx, t)
}

func (e *Encrypted) UpdateToken(ctx context.Context, id string, patch TokenPatch) (*model.Token, error) {
	return e.inner.UpdateToken(ctx, id, patch)
}

func (e *Encrypted) DeleteToken(ctx context.Context, id string) error {
	return e.inner.DeleteToken(ctx, id)
}

func (e *Encrypted) AppendLog(ctx context.Context, l model.RequestLog) error {
	return e.inner.AppendLog(ctx, l)
}

func (e *Encrypted) QueryLogs(ctx context.Context, f model.LogFilter) ([]model.RequestLog, int, error) {
	return e.inner.QueryLogs(ctx, f)
}

func (e *Encrypted) LogsSince(ctx context.Context, ts int64) ([]model.RequestLog, error) {
	return e.inner.LogsSince(ctx, ts)
}

func (e *Encrypted) GetSettings(ctx context.Context) (model.Settings, error) {
	return e.inner.GetSettings(ctx)
}

func (e *Encrypted) UpdateSettings(ctx context.Context, patch SettingsPatch) (model.Settings, error) {
	return e.inner.UpdateSettings(ctx, patch)
}

func (e *Encrypted) Close() {
	e.inner.Close()
}

var _ Store = (*Encrypted)(nil)
