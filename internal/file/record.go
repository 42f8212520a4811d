// Package file implements the object storage gateway core: the upload
// pipeline, the metadata and access-control model, and signed-URL retrieval.
package file

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies an uploaded object.
type Category string

// Known upload categories. Anything else is treated as general.
const (
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryGeneral  Category = "general"
	CategoryAvatar   Category = "avatar"
)

// Status is the lifecycle state of a file record.
type Status string

// Record lifecycle states.
const (
	StatusUploading   Status = "uploading"
	StatusProcessing  Status = "processing"
	StatusActive      Status = "active"
	StatusDeleted     Status = "deleted"
	StatusQuarantined Status = "quarantined"
)

// Known principal roles. allowedRoles values are drawn from this closed set.
const (
	RoleUser         = "user"
	RoleVeterinarian = "veterinarian"
	RoleAdmin        = "admin"
	RoleStaff        = "staff"
)

// KnownRoles is the closed set of role names accepted in access policies.
var KnownRoles = map[string]struct{}{
	RoleUser:         {},
	RoleVeterinarian: {},
	RoleAdmin:        {},
	RoleStaff:        {},
}

// Record is the durable metadata for one uploaded object.
type Record struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	// Filename is the generated, globally unique name, never user-controlled.
	Filename       string `json:"filename"`
	StoreKey       string `json:"storeKey"`
	StoreContainer string `json:"storeContainer"`
	// CloudURL is the direct, non-signed object reference. Informational only:
	// the container is private, so it is never used for access.
	CloudURL          *string   `json:"cloudUrl,omitempty"`
	ThumbnailStoreKey *string   `json:"thumbnailStoreKey,omitempty"`
	Mimetype          string    `json:"mimetype"`
	Size              int64     `json:"size"`
	Category          Category  `json:"category"`
	Description       string    `json:"description"`
	Tags              []string  `json:"tags"`
	Hash              string    `json:"-"`
	UploadedBy        string    `json:"uploadedBy"`
	UploadDate        time.Time `json:"uploadDate"`
	LastAccessed      time.Time `json:"lastAccessed"`
	AccessCount       int64     `json:"accessCount"`
	IsPublic          bool      `json:"isPublic"`
	AllowedRoles      []string  `json:"allowedRoles"`
	AllowedUsers      []string  `json:"allowedUsers"`
	Status            Status    `json:"status"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

// NormalizeCategory maps unknown categories to general.
func NormalizeCategory(c string) Category {
	switch Category(c) {
	case CategoryImage, CategoryDocument, CategoryVideo, CategoryAudio, CategoryGeneral, CategoryAvatar:
		return Category(c)
	default:
		return CategoryGeneral
	}
}

// IsImage reports whether the record's mimetype indicates an image.
func IsImage(mimetype string) bool {
	return strings.HasPrefix(mimetype, "image/")
}

// IsVideo reports whether the record's mimetype indicates a video.
func IsVideo(mimetype string) bool {
	return strings.HasPrefix(mimetype, "video/")
}

// ExtensionOf returns the lowercase extension of a filename, including the dot.
func ExtensionOf(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i:])
}

// FormatSize renders a byte count as a human-readable string.
func FormatSize(size int64) string {
	if size == 0 {
		return "0 Bytes"
	}
	units := []string{"Bytes", "KB", "MB", "GB", "TB"}
	f := float64(size)
	i := 0
	for f >= 1024 && i < len(units)-1 {
		f /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", f, units[i])
}
