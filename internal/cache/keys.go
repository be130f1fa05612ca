package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

func formatBucket(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

const maxMemcacheKeyLen = 250

// memcacheSafe maps an arbitrary key onto memcached's key alphabet (no
// spaces or control characters, at most 250 bytes).
func memcacheSafe(key string) string {
	safe := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, key)
	if len(safe) <= maxMemcacheKeyLen-16 {
		return safe
	}
	sum := sha256.Sum256([]byte(key))
	return "h:" + hex.EncodeToString(sum[:])
}
