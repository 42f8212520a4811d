package file

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationRule(t *testing.T, err error) string {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Rule
}

func TestValidateUpload(t *testing.T) {
	ok := Candidate{Category: CategoryImage, OriginalName: "photo.png", Size: 1024}
	assert.NoError(t, ValidateUpload(ok))

	tests := []struct {
		name string
		c    Candidate
		rule string
	}{
		{
			name: "extension not in category allow-list",
			c:    Candidate{Category: CategoryImage, OriginalName: "movie.mp4", Size: 10},
			rule: "extension_allowed",
		},
		{
			name: "executable fails the allow-list first",
			c:    Candidate{Category: CategoryGeneral, OriginalName: "installer.exe", Size: 10},
			rule: "extension_allowed",
		},
		{
			name: "script fails the allow-list first",
			c:    Candidate{Category: CategoryGeneral, OriginalName: "run.sh", Size: 10},
			rule: "extension_allowed",
		},
		{
			name: "empty file",
			c:    Candidate{Category: CategoryImage, OriginalName: "photo.png", Size: 0},
			rule: "size_empty",
		},
		{
			name: "over the general ceiling",
			c:    Candidate{Category: CategoryImage, OriginalName: "photo.png", Size: MaxUploadSize + 1},
			rule: "size_exceeded",
		},
		{
			name: "over a stricter endpoint ceiling",
			c:    Candidate{Category: CategoryAvatar, OriginalName: "me.png", Size: MaxAvatarSize + 1, SizeLimit: MaxAvatarSize},
			rule: "size_exceeded",
		},
		{
			name: "name too long",
			c:    Candidate{Category: CategoryImage, OriginalName: strings.Repeat("a", 252) + ".png", Size: 10},
			rule: "name_length",
		},
		{
			name: "path traversal",
			c:    Candidate{Category: CategoryImage, OriginalName: "bad..name.png", Size: 10},
			rule: "name_unsafe",
		},
		{
			name: "illegal filesystem characters",
			c:    Candidate{Category: CategoryImage, OriginalName: "we<ird.png", Size: 10},
			rule: "name_unsafe",
		},
		{
			name: "reserved device name",
			c:    Candidate{Category: CategoryImage, OriginalName: "con.png", Size: 10},
			rule: "name_unsafe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.c)
			assert.Equal(t, tt.rule, validationRule(t, err))
		})
	}
}

func TestDenyListBacksAllowList(t *testing.T) {
	// No allow-list currently contains a denied extension, so the deny check
	// backs the allow-list rather than preceding it.
	for _, name := range []string{"installer.exe", "run.sh", "applet.jar"} {
		verr := checkExtensionDenied(Candidate{Category: CategoryGeneral, OriginalName: name, Size: 10})
		if assert.NotNil(t, verr, "input %q", name) {
			assert.Equal(t, "extension_denied", verr.Rule)
		}
	}
	assert.Nil(t, checkExtensionDenied(Candidate{Category: CategoryImage, OriginalName: "photo.png", Size: 10}))
}

func TestValidateUploadAllowsAtTheCeiling(t *testing.T) {
	c := Candidate{Category: CategoryImage, OriginalName: "photo.png", Size: MaxUploadSize}
	assert.NoError(t, ValidateUpload(c))
}

func TestValidateUploadUnknownCategoryUsesGeneralList(t *testing.T) {
	c := Candidate{Category: Category("mystery"), OriginalName: "doc.pdf", Size: 10}
	assert.NoError(t, ValidateUpload(c))

	c.OriginalName = "song.flac" // in audio's list but not general's
	assert.Equal(t, "extension_allowed", validationRule(t, ValidateUpload(c)))
}

func TestValidateTags(t *testing.T) {
	assert.NoError(t, ValidateTags(nil))
	assert.NoError(t, ValidateTags([]string{"a", "b"}))

	too := make([]string, MaxTags+1)
	for i := range too {
		too[i] = "t"
	}
	assert.Equal(t, "tags_count", validationRule(t, ValidateTags(too)))

	long := []string{strings.Repeat("x", MaxTagLength+1)}
	assert.Equal(t, "tag_length", validationRule(t, ValidateTags(long)))
}

func TestValidateRoles(t *testing.T) {
	assert.NoError(t, ValidateRoles(nil))
	assert.NoError(t, ValidateRoles([]string{RoleAdmin, RoleVeterinarian}))
	assert.Equal(t, "unknown_role", validationRule(t, ValidateRoles([]string{"superuser"})))
}
