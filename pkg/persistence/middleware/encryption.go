package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
)

// EnvelopeSlot is the slot name under which the ciphertext is stored.
const EnvelopeSlot = "__encrypted__"

// ErrInvalidKey is returned when a key is not 32 bytes long.
var ErrInvalidKey = errors.New("encryption key must be 32 bytes (AES-256)")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot decrypt.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.TrackerStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that stores every conversation
// as a single opaque event holding the AES-GCM encrypted event log.
// It panics if the active key is not 32 bytes; use NewEncryption to get an error instead.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	mw, err := NewEncryption(config)
	if err != nil {
		panic(err)
	}
	return mw
}

// NewEncryption is NewEncryptionMiddleware with key validation reported as an error.
func NewEncryption(config EncryptionConfig) (Middleware, error) {
	if len(config.ActiveKey) != 32 {
		return nil, ErrInvalidKey
	}
	for _, k := range config.FallbackKeys {
		if len(k) != 32 {
			return nil, fmt.Errorf("fallback key: %w", ErrInvalidKey)
		}
	}
	return func(next ports.TrackerStore) ports.TrackerStore {
		return &encryptionMiddleware{next: next, config: config}
	}, nil
}

func (m *encryptionMiddleware) Save(ctx context.Context, dlg *domain.Dialogue) error {
	plainText, err := json.Marshal(dlg.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt events: %w", err)
	}

	// the sender id stays in clear so the store can still key and list it
	envelope := &domain.Dialogue{
		SenderID: dlg.SenderID,
		Events: domain.Events{&domain.SlotSet{
			Key:   EnvelopeSlot,
			Value: base64.StdEncoding.EncodeToString(ciphertext),
		}},
	}
	return m.next.Save(ctx, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, senderID string) (*domain.Dialogue, error) {
	envelope, err := m.next.Load(ctx, senderID)
	if err != nil {
		return nil, err
	}

	encoded, ok := envelopeOf(envelope)
	if !ok {
		// fail secure: plain conversations are not silently accepted
		return nil, errors.New("conversation is missing encrypted data envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt events: %w", err)
	}

	var events domain.Events
	if err := json.Unmarshal(plainText, &events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted events: %w", err)
	}
	return &domain.Dialogue{SenderID: senderID, Events: events}, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, senderID string) error {
	return m.next.Delete(ctx, senderID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func envelopeOf(dlg *domain.Dialogue) (string, bool) {
	if len(dlg.Events) != 1 {
		return "", false
	}
	slot, ok := dlg.Events[0].(*domain.SlotSet)
	if !ok || slot.Key != EnvelopeSlot {
		return "", false
	}
	s, ok := slot.Value.(string)
	return s, ok
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	for _, key := range append([][]byte{activeKey}, fallbackKeys...) {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
