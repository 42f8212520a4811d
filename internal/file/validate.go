package file

import (
	"fmt"
	"strings"
)

// Size ceilings in bytes. The binding ceiling for an endpoint is the most
// restrictive one in effect there.
const (
	MaxUploadSize    = 50 << 20 // general uploads
	MaxAvatarSize    = 5 << 20  // avatar uploads
	MaxAncillarySize = 10 << 20 // generic type-check ceiling on ancillary endpoints
)

// MaxFilenameLength bounds the uploader-supplied original name.
const MaxFilenameLength = 255

// Tag constraints on a record.
const (
	MaxTags      = 10
	MaxTagLength = 50
)

// MaxFilesPerBatch caps a multi-file upload request.
const MaxFilesPerBatch = 5

// allowedExtensions maps each category to its extension allow-list.
var allowedExtensions = map[Category][]string{
	CategoryImage:    {".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".svg"},
	CategoryDocument: {".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt"},
	CategoryVideo:    {".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm"},
	CategoryAudio:    {".mp3", ".wav", ".ogg", ".aac", ".flac", ".wma"},
	CategoryGeneral:  {".jpg", ".jpeg", ".png", ".gif", ".pdf", ".doc", ".docx", ".txt", ".mp4", ".mp3"},
	CategoryAvatar:   {".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".svg"},
}

// deniedExtensions are executable/script types rejected even if a category
// allow-list were ever to include one.
var deniedExtensions = []string{
	".exe", ".bat", ".cmd", ".com", ".scr", ".pif", ".vbs", ".js", ".jar", ".sh",
}

// reservedNames are device names that are illegal as filenames on common
// filesystems, checked against the base name without extension.
var reservedNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// ValidationError is a typed rejection naming the violated rule and the
// offending value. It never reaches the object store.
type ValidationError struct {
	Rule    string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Candidate describes an upload before any bytes are written.
type Candidate struct {
	Category     Category
	OriginalName string
	Size         int64
	// SizeLimit is the effective ceiling for the endpoint handling the upload.
	SizeLimit int64
}

// check is one rule in the validation pipeline.
type check func(Candidate) *ValidationError

// uploadChecks is the ordered pipeline; the first failure wins.
var uploadChecks = []check{
	checkExtensionAllowed,
	checkExtensionDenied,
	checkSize,
	checkNameLength,
	checkNameSafety,
}

// ValidateUpload runs the ordered validation pipeline over a candidate and
// returns the first violation, or nil when the candidate passes.
func ValidateUpload(c Candidate) error {
	if c.SizeLimit <= 0 {
		c.SizeLimit = MaxUploadSize
	}
	for _, chk := range uploadChecks {
		if verr := chk(c); verr != nil {
			return verr
		}
	}
	return nil
}

func checkExtensionAllowed(c Candidate) *ValidationError {
	ext := ExtensionOf(c.OriginalName)
	allowed, ok := allowedExtensions[c.Category]
	if !ok {
		allowed = allowedExtensions[CategoryGeneral]
	}
	for _, a := range allowed {
		if ext == a {
			return nil
		}
	}
	return &ValidationError{
		Rule:  "extension_allowed",
		Value: ext,
		Message: fmt.Sprintf("file type %s not allowed for category %s (allowed: %s)",
			ext, c.Category, strings.Join(allowed, ", ")),
	}
}

func checkExtensionDenied(c Candidate) *ValidationError {
	ext := ExtensionOf(c.OriginalName)
	for _, d := range deniedExtensions {
		if ext == d {
			return &ValidationError{
				Rule:    "extension_denied",
				Value:   ext,
				Message: fmt.Sprintf("file type %s is not allowed for security reasons", ext),
			}
		}
	}
	return nil
}

func checkSize(c Candidate) *ValidationError {
	if c.Size <= 0 {
		return &ValidationError{
			Rule:    "size_empty",
			Value:   fmt.Sprintf("%d", c.Size),
			Message: "file is empty",
		}
	}
	if c.Size > c.SizeLimit {
		return &ValidationError{
			Rule:    "size_exceeded",
			Value:   fmt.Sprintf("%d", c.Size),
			Message: fmt.Sprintf("file too large: %s exceeds the %s limit", FormatSize(c.Size), FormatSize(c.SizeLimit)),
		}
	}
	return nil
}

func checkNameLength(c Candidate) *ValidationError {
	if len(c.OriginalName) > MaxFilenameLength {
		return &ValidationError{
			Rule:    "name_length",
			Value:   c.OriginalName,
			Message: fmt.Sprintf("filename cannot exceed %d characters", MaxFilenameLength),
		}
	}
	return nil
}

func checkNameSafety(c Candidate) *ValidationError {
	name := c.OriginalName
	if name == "" {
		return &ValidationError{Rule: "name_unsafe", Value: name, Message: "filename is required"}
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return &ValidationError{
			Rule:    "name_unsafe",
			Value:   name,
			Message: "filename must not contain path separators or traversal sequences",
		}
	}
	if strings.ContainsAny(name, "<>:\"|?*\x00") {
		return &ValidationError{
			Rule:    "name_unsafe",
			Value:   name,
			Message: "filename contains characters illegal on common filesystems",
		}
	}
	for _, r := range name {
		if r < 0x20 {
			return &ValidationError{
				Rule:    "name_unsafe",
				Value:   name,
				Message: "filename contains control characters",
			}
		}
	}
	base := strings.ToLower(name)
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	if _, reserved := reservedNames[base]; reserved {
		return &ValidationError{
			Rule:    "name_unsafe",
			Value:   name,
			Message: fmt.Sprintf("%q is a reserved device name", name),
		}
	}
	return nil
}

// ValidateTags enforces the tag count and length limits.
func ValidateTags(tags []string) error {
	if len(tags) > MaxTags {
		return &ValidationError{
			Rule:    "tags_count",
			Value:   fmt.Sprintf("%d", len(tags)),
			Message: fmt.Sprintf("cannot have more than %d tags", MaxTags),
		}
	}
	for _, t := range tags {
		if len(t) > MaxTagLength {
			return &ValidationError{
				Rule:    "tag_length",
				Value:   t,
				Message: fmt.Sprintf("each tag cannot exceed %d characters", MaxTagLength),
			}
		}
	}
	return nil
}

// ValidateRoles checks that every role is drawn from the closed set of known roles.
func ValidateRoles(roles []string) error {
	for _, r := range roles {
		if _, ok := KnownRoles[r]; !ok {
			return &ValidationError{
				Rule:    "unknown_role",
				Value:   r,
				Message: fmt.Sprintf("unknown role %q", r),
			}
		}
	}
	return nil
}
