package webutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateHash creates a SHA-256 hash of the input string and returns it
// as a hexadecimal string.
func GenerateHash(data string) (string, error) {
	hasher := sha256.New()
	_, err := hasher.Write([]byte(data))
	if err != nil {
		return "", fmt.Errorf("failed to write data to hasher: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// GenerateAppSecretToken returns a fresh random token: the 32 hex digits of a
// version 4 UUID.
func GenerateAppSecretToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}
