package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrKeyNotFound is returned when a token names a key id that is not loaded.
var ErrKeyNotFound = errors.New("signing key not found")

// DefaultKeyID is the id the fallback secret is installed under.
const DefaultKeyID = "default"

// StaticKeyStore holds the HMAC keys used to sign operator tokens. Keys are
// loaded once at startup. Rotation: add a new key under a fresh id and make
// it the default; tokens signed with older keys keep verifying by their key
// id until they expire.
type StaticKeyStore struct {
	keys         map[string][]byte
	defaultKeyID string
}

// New builds a keystore from "keyId:hex" pairs. With no pairs the fallback
// secret is installed under DefaultKeyID. defaultKeyID selects the signing
// key; empty means the single loaded key (or the fallback).
func New(pairs []string, defaultKeyID string, fallback []byte) (*StaticKeyStore, error) {
	keys := make(map[string][]byte)
	for _, p := range pairs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid signing key entry %q, want keyId:hex", p)
		}
		raw, err := hex.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("decode signing key %q: %w", parts[0], err)
		}
		keys[parts[0]] = raw
	}

	if len(keys) == 0 {
		if len(fallback) == 0 {
			return nil, errors.New("no signing keys configured")
		}
		keys[DefaultKeyID] = fallback
		defaultKeyID = DefaultKeyID
	}

	if defaultKeyID == "" {
		if len(keys) > 1 {
			return nil, errors.New("default key id required with multiple signing keys")
		}
		for id := range keys {
			defaultKeyID = id
		}
	}
	if _, ok := keys[defaultKeyID]; !ok {
		return nil, fmt.Errorf("default key id %q not among loaded keys", defaultKeyID)
	}

	return &StaticKeyStore{keys: keys, defaultKeyID: defaultKeyID}, nil
}

// SigningKey returns the current default key and its id.
func (s *StaticKeyStore) SigningKey() (string, []byte, error) {
	key, ok := s.keys[s.defaultKeyID]
	if !ok {
		return "", nil, ErrKeyNotFound
	}
	return s.defaultKeyID, key, nil
}

// KeyByID returns the key a previously issued token was signed with.
func (s *StaticKeyStore) KeyByID(keyID string) ([]byte, error) {
	key, ok := s.keys[keyID]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}
