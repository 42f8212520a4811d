package file

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DeriveKey produces the storage key for an upload:
//
//	category/year/zero-padded-month/unixMillis-8byteRandomHex-sanitizedName
//
// Uniqueness rests on the millisecond timestamp combined with 64 bits of
// per-request entropy; collisions are treated as negligible and are not
// re-checked against the store before write.
func DeriveKey(category Category, originalName string, now time.Time) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	return fmt.Sprintf("%s/%d/%02d/%d-%s-%s",
		category,
		now.Year(),
		int(now.Month()),
		now.UnixMilli(),
		hex.EncodeToString(buf),
		SanitizeName(originalName),
	), nil
}

// SanitizeName replaces every character outside [A-Za-z0-9.-] with an
// underscore, making the original name safe as a path component.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ThumbnailKey derives the thumbnail key for a primary key by substituting the
// final path segment with thumbnails/thumb_<segment>. Thumbnail keys are never
// generated independently.
func ThumbnailKey(key string) string {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return "thumbnails/thumb_" + key
	}
	return key[:i+1] + "thumbnails/thumb_" + key[i+1:]
}
