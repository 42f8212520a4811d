package file

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	now := time.Date(2025, time.March, 7, 12, 30, 0, 0, time.UTC)

	key, err := DeriveKey(CategoryImage, "my photo (1).png", now)
	require.NoError(t, err)

	// category/year/zero-padded-month/unixMillis-randomHex-sanitizedName
	assert.Regexp(t, regexp.MustCompile(`^image/2025/03/\d{13}-[0-9a-f]{16}-my_photo__1_\.png$`), key)
}

func TestDeriveKeyZeroPadsMonth(t *testing.T) {
	now := time.Date(2025, time.November, 1, 0, 0, 0, 0, time.UTC)
	key, err := DeriveKey(CategoryDocument, "report.pdf", now)
	require.NoError(t, err)
	assert.Contains(t, key, "document/2025/11/")
}

func TestDeriveKeyIsUniquePerCall(t *testing.T) {
	now := time.Now()
	a, err := DeriveKey(CategoryGeneral, "same.txt", now)
	require.NoError(t, err)
	b, err := DeriveKey(CategoryGeneral, "same.txt", now)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain.txt", "plain.txt"},
		{"has space.txt", "has_space.txt"},
		{"Ünïcode.pdf", "_n_code.pdf"},
		{"a/b\\c.png", "a_b_c.png"},
		{"keep-dots.and-dashes.ok", "keep-dots.and-dashes.ok"},
		{"emoji🙂.png", "emoji_.png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeName(tt.in), "input %q", tt.in)
	}
}

func TestThumbnailKey(t *testing.T) {
	assert.Equal(t,
		"image/2025/03/thumbnails/thumb_123-abcd-pic.png",
		ThumbnailKey("image/2025/03/123-abcd-pic.png"))

	// Keys without a directory component still get the thumbnails prefix.
	assert.Equal(t, "thumbnails/thumb_lone.png", ThumbnailKey("lone.png"))
}
