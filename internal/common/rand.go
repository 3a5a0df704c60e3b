package common

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

// MakeRandHexString generates a random hexadecimal string of the given size.
// The size parameter specifies the number of random bytes to generate before
// encoding, so the final string length is twice the size.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	_, err := rand.Read(b)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RandInt64 returns a uniformly distributed random value in [min, max].
func RandInt64(min, max int64) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(max-min+1))
	if err != nil {
		// crypto/rand only fails when the platform RNG is broken;
		// fall back to the lower bound rather than crash a purchase flow.
		return min
	}
	return min + n.Int64()
}

// RandOrderID returns a random 9-digit order id. Uniqueness within the
// active order set is the caller's responsibility.
func RandOrderID() int64 {
	return RandInt64(100000000, 999999999)
}

// RandAmountOffset returns the small pseudo-random offset subtracted from an
// order's payable amount so that concurrent orders of the same plan remain
// distinguishable by amount.
func RandAmountOffset() int64 {
	return RandInt64(0, 999)
}
