package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// HashSecret derives a one-way digest of secret with a per-call random
// salt. Used for both user passwords and API key secrets. Empty input is
// accepted; callers enforce minimum strength.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(
		[]byte(secret), bcrypt.DefaultCost,
	)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}

	return string(hash), nil
}

// VerifySecret reports whether secret hashes to digest under the salt and
// cost parameters embedded in the digest. Comparison time does not depend
// on where a mismatch occurs. Malformed digests verify as false, never
// panic.
func VerifySecret(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword(
		[]byte(digest), []byte(secret),
	) == nil
}
