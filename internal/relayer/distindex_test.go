package relayer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDistCursor_DefaultsKeyWhenEmpty(t *testing.T) {
	c := NewDistCursor(nil, "")
	assert.Equal(t, "vrf:relayer:rr_cursor", c.key)
}

func TestNewDistCursor_KeepsProvidedKey(t *testing.T) {
	c := NewDistCursor(nil, "custom:key")
	assert.Equal(t, "custom:key", c.key)
}

func TestNewBalanceCache_DefaultsTTLWhenNonPositive(t *testing.T) {
	c := NewBalanceCache(nil, 0)
	assert.Equal(t, 5*time.Second, c.ttl)
}

func TestNewBalanceCache_KeepsProvidedTTL(t *testing.T) {
	c := NewBalanceCache(nil, 30*time.Second)
	assert.Equal(t, 30*time.Second, c.ttl)
}

func TestBalanceCache_KeyNamespacesByAccount(t *testing.T) {
	c := NewBalanceCache(nil, time.Second)
	assert.Equal(t, "vrf:relayer:balance:0xabc", c.key("0xabc"))
}
