package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCooldown_HitWithinPeriod(t *testing.T) {
	now := time.Unix(1000, 0)
	cd := NewCooldown(time.Second, func() time.Time { return now })

	require.False(t, cd.Hit(7))
	require.True(t, cd.Hit(7))

	// another user is unaffected
	require.False(t, cd.Hit(8))

	now = now.Add(1001 * time.Millisecond)
	require.False(t, cd.Hit(7))
}

func TestCooldown_Evict(t *testing.T) {
	now := time.Unix(1000, 0)
	cd := NewCooldown(time.Second, func() time.Time { return now })

	cd.Hit(1)
	cd.Hit(2)
	require.Equal(t, 0, cd.Evict())

	now = now.Add(2 * time.Second)
	require.Equal(t, 2, cd.Evict())
	require.Equal(t, 0, cd.Evict())
}
