package dirstate

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// GenerateFileID returns a new file-id: an opaque byte string that stays
// attached to a versioned entity across renames. It is built from a
// sanitized human-readable stem plus a timestamp and random suffix, so
// collisions within a tree are out of the question while the id remains
// recognizable in a row dump.
func GenerateFileID(stem string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(stem) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
		if b.Len() >= 20 {
			break
		}
	}
	if b.Len() == 0 {
		b.WriteString("id")
	}

	suffix := make([]byte, 4)
	rand.Read(suffix) // nolint: errcheck

	return b.String() + "-" + time.Now().UTC().Format("20060102150405") + "-" + hex.EncodeToString(suffix)
}
