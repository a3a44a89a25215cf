package heroku

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const secretKeyChars = "abcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*(-_=+)"

// RandomSecretKey returns a 50 character Django SECRET_KEY.
func RandomSecretKey() (string, error) {
	limit := big.NewInt(int64(len(secretKeyChars)))
	key := make([]byte, 50)
	for i := range key {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate secret key: %w", err)
		}
		key[i] = secretKeyChars[n.Int64()]
	}
	return string(key), nil
}
