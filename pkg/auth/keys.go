package auth

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// apiKeyIDLength is the length of the public key identifier in hex chars.
const apiKeyIDLength = 12

// GenerateAPIKey produces a new API key credential pair: a short opaque
// id used for lookup, an independently generated secret shown to the
// owner exactly once, and the digest of the secret for persistence.
func GenerateAPIKey() (id, secret, digest string, err error) {
	idUUID, err := uuid.NewRandom()
	if err != nil {
		return "", "", "", fmt.Errorf("generating key id: %w", err)
	}

	secretUUID, err := uuid.NewRandom()
	if err != nil {
		return "", "", "", fmt.Errorf("generating key secret: %w", err)
	}

	id = hex.EncodeToString(idUUID[:])[:apiKeyIDLength]
	secret = hex.EncodeToString(secretUUID[:])

	digest, err = HashSecret(secret)
	if err != nil {
		return "", "", "", err
	}

	return id, secret, digest, nil
}
