package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Entry is the identity bound to one configured API key.
type Entry struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// KeyStore is an immutable API-key table loaded once at startup. It exposes
// no mutation: key management happens in configuration, not at runtime.
type KeyStore struct {
	keys map[string]Entry
}

// NewKeyStore builds a store from already-decoded entries.
func NewKeyStore(keys map[string]Entry) *KeyStore {
	if keys == nil {
		keys = map[string]Entry{}
	}
	return &KeyStore{keys: keys}
}

// ParseKeys decodes a base64-encoded JSON object mapping API keys to entries
// and builds a KeyStore. Duplicate keys in the encoded object are a fatal
// configuration error; they are detected at the JSON token level because
// encoding/json silently keeps the last duplicate. An empty blob yields an
// empty store.
func ParseKeys(blob string) (*KeyStore, error) {
	if blob == "" {
		return NewKeyStore(nil), nil
	}

	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode api_keys: %w", err)
	}

	keys, err := decodeKeyObject(data)
	if err != nil {
		return nil, fmt.Errorf("parse api_keys: %w", err)
	}
	return NewKeyStore(keys), nil
}

func decodeKeyObject(data []byte) (map[string]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	keys := make(map[string]Entry)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		if _, exists := keys[key]; exists {
			return nil, fmt.Errorf("duplicate API key %q", redactKey(key))
		}

		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, err
		}
		if e.Username == "" {
			return nil, fmt.Errorf("API key entry for %q has no username", redactKey(key))
		}
		keys[key] = e
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return keys, nil
}

// redactKey keeps error messages useful without reproducing a full credential.
func redactKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

// Lookup returns the entry bound to key, if any.
func (s *KeyStore) Lookup(key string) (Entry, bool) {
	e, ok := s.keys[key]
	return e, ok
}

// Len returns the number of configured keys.
func (s *KeyStore) Len() int {
	return len(s.keys)
}
