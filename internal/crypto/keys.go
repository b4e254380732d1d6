package crypto

import (
	"crypto/rand"
	"crypto/rsa"
)

const rsaKeyBits = 2048

// GenerateRSAKey generates a fresh RSA signing key for the issuer.
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, rsaKeyBits)
}
