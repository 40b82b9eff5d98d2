package util

import (
	"math/rand/v2"
)

const (
	HashLength    = 7
	hashAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	alphabetCount = len(hashAlphabet)
)

// GenHash returns a random alphanumeric paste handle of HashLength
// characters. The source is not cryptographic and generation cannot fail.
// Callers that care about collisions check the store themselves.
func GenHash() string {
	r := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	b := make([]byte, HashLength)
	for i := range b {
		b[i] = hashAlphabet[r.IntN(alphabetCount)]
	}
	return string(b)
}

func IsHashChar(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
