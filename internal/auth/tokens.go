package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// randomBytesLength is the entropy (bytes) behind tokens and keys.
const randomBytesLength = 16

// NewToken generates a QR session token: 128 bits of entropy,
// base64url without padding.
func NewToken() (string, error) {
	b := make([]byte, randomBytesLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewAuthKey generates a user auth key: 128 bits, hex encoded.
func NewAuthKey() (string, error) {
	b := make([]byte, randomBytesLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating auth key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewAPIKey generates a relying-service API key: 128 bits, hex encoded.
func NewAPIKey() (string, error) {
	b := make([]byte, randomBytesLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewPIN generates a zero-padded decimal PIN of the given length,
// uniform over [0, 10^length). Drawing a single integer below the
// bound avoids the modulo bias of reducing raw bytes.
func NewPIN(length int) (string, error) {
	if length < 1 || length > 18 {
		return "", fmt.Errorf("pin length %d out of range", length)
	}

	bound := big.NewInt(10)
	bound.Exp(bound, big.NewInt(int64(length)), nil)

	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("generating pin: %w", err)
	}

	return fmt.Sprintf("%0*d", length, n), nil
}
