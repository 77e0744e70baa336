package store_test

import (
	"context"
	"testing"

	"github.com/DYLCKH/key-hub/internal/crypto"
	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/store"
	"github.com/DYLCKH/key-hub/internal/store/memory"
)

func TestEncryptedKeyRoundTripThroughInnerStore(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	secret, err := crypto.DeriveKey("test-secret")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}

	enc := store.NewEncrypted(inner, secret)

	created, err := enc.CreateKey(ctx, model.ApiKey{ChannelID: "chan-1", Key: "sk-plaintext-value"})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if created.Key != "sk-plaintext-value" {
		t.Fatalf("caller-facing key should be plaintext, got %q", created.Key)
	}

	// The inner store must hold only the encrypted form.
	raw, err := inner.GetKey(ctx, created.ID)
	if err != nil {
		t.Fatalf("inner GetKey: %v", err)
	}
	if !crypto.IsEncrypted(raw.Key) {
		t.Fatalf("expected inner store to hold an encrypted key, got %q", raw.Key)
	}

	got, err := enc.GetKey(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.Key != "sk-plaintext-value" {
		t.Fatalf("decrypted key = %q, want sk-plaintext-value", got.Key)
	}
}

func TestEncryptedNilSecretIsPassthrough(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	enc := store.NewEncrypted(inner, nil)

	created, err := enc.CreateKey(ctx, model.ApiKey{ChannelID: "chan-1", Key: "sk-plain"})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	raw, err := inner.GetKey(ctx, created.ID)
	if err != nil {
		t.Fatalf("inner GetKey: %v", err)
	}
	if raw.Key != "sk-plain" {
		t.Fatalf("with nil secret the inner store should hold plaintext, got %q", raw.Key)
	}
}

func TestRotateEncryptionKeyReencryptsExistingRows(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	oldSecret, _ := crypto.DeriveKey("old-secret")
	newSecret, _ := crypto.DeriveKey("new-secret")

	enc := store.NewEncrypted(inner, oldSecret)

	key, err := enc.CreateKey(ctx, model.ApiKey{ChannelID: "chan-1", Key: "sk-rotate-me"})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	proxy, err := enc.CreateProxy(ctx, model.Proxy{Name: "p1", Host: "h", Port: 1, Password: "proxy-pass"})
	if err != nil {
		t.Fatalf("CreateProxy: %v", err)
	}

	if err := enc.RotateEncryptionKey(ctx, newSecret); err != nil {
		t.Fatalf("RotateEncryptionKey: %v", err)
	}

	// Under the new secret, callers still see plaintext.
	gotKey, err := enc.GetKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetKey after rotation: %v", err)
	}
	if gotKey.Key != "sk-rotate-me" {
		t.Fatalf("key after rotation = %q, want sk-rotate-me", gotKey.Key)
	}

	gotProxy, err := enc.GetProxy(ctx, proxy.ID)
	if err != nil {
		t.Fatalf("GetProxy after rotation: %v", err)
	}
	if gotProxy.Password != "proxy-pass" {
		t.Fatalf("proxy password after rotation = %q, want proxy-pass", gotProxy.Password)
	}

	// The inner row must no longer decrypt under the old secret.
	raw, err := inner.GetKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("inner GetKey: %v", err)
	}
	if _, err := crypto.Decrypt(raw.Key, oldSecret); err == nil {
		t.Fatal("expected the re-encrypted row to no longer decrypt under the old secret")
	}
}
