package redisclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockIOTimeout(t *testing.T) {
	// Unset TTLs fall back, short TTLs halve, long TTLs are capped.
	cases := map[time.Duration]time.Duration{
		0:                2 * time.Second,
		time.Second:      500 * time.Millisecond,
		5 * time.Second:  2 * time.Second,
		30 * time.Second: 2 * time.Second,
	}

	for ttl, expected := range cases {
		assert.Equal(t, expected, lockIOTimeout(ttl), "ttl %s", ttl)
	}
}
