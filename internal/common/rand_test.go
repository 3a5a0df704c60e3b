package common

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeRandHexString_LengthAndHex(t *testing.T) {
	const n = 16
	s, err := MakeRandHexString(n)
	require.NoError(t, err)
	require.Len(t, s, n*2)
	_, err = hex.DecodeString(s)
	require.NoError(t, err)
}

func TestRandOrderID_NineDigits(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := RandOrderID()
		require.GreaterOrEqual(t, id, int64(100000000))
		require.LessOrEqual(t, id, int64(999999999))
	}
}

func TestRandAmountOffset_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		off := RandAmountOffset()
		require.GreaterOrEqual(t, off, int64(0))
		require.LessOrEqual(t, off, int64(999))
	}
}
