package mfa

import (
	"encoding/json"
	"fmt"

	"collab-auth/internal/hashing"
)

// Backup code hashes are stored as serialized HashResult values so the pepper
// version travels with each code.

func EncodeStoredHash(hr *hashing.HashResult) (string, error) {
	raw, err := json.Marshal(hr)
	if err != nil {
		return "", fmt.Errorf("failed to encode hash: %w", err)
	}
	return string(raw), nil
}

func decodeStoredHash(s string) (*hashing.HashResult, error) {
	hr := &hashing.HashResult{}
	if err := json.Unmarshal([]byte(s), hr); err != nil {
		return nil, fmt.Errorf("failed to decode stored hash: %w", err)
	}
	return hr, nil
}
