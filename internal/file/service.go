package file

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/filegate/service/internal/storage"
)

// ErrForbidden is returned when the principal lacks rights to an existing record.
var ErrForbidden = errors.New("not authorized to access this file")

// ErrNotInStore is returned when metadata exists but the backing object is
// gone from the store (drift).
var ErrNotInStore = errors.New("file not found in storage")

// ErrNoThumbnail is returned when a record has no thumbnail key.
var ErrNoThumbnail = errors.New("thumbnail not found")

// RecordStore is the metadata persistence capability the service depends on.
// Implemented by Repository.
type RecordStore interface {
	Create(ctx context.Context, rec *Record) error
	GetByID(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	IncrementAccess(ctx context.Context, id string) error
	List(ctx context.Context, f ListFilter) ([]Record, int64, error)
	Update(ctx context.Context, id string, p UpdateParams) (*Record, error)
	Stats(ctx context.Context) (*Stats, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
}

// AvatarUpdater points a user profile at a newly uploaded avatar object.
// Implemented by the user service.
type AvatarUpdater interface {
	SetAvatar(ctx context.Context, userID, storeKey string) error
}

// Service orchestrates uploads, retrieval, listing, deletion and the
// maintenance sweep. It is stateless; all state lives in the record store and
// the object store.
type Service struct {
	records RecordStore
	store   storage.ObjectStore
	signer  *Signer
	avatars AvatarUpdater
}

// NewService creates a file Service. All collaborators are constructed by the
// caller and injected here.
func NewService(records RecordStore, store storage.ObjectStore, signer *Signer, avatars AvatarUpdater) *Service {
	return &Service{records: records, store: store, signer: signer, avatars: avatars}
}

// UploadInput describes one candidate upload.
type UploadInput struct {
	OriginalName  string
	Category      string
	Description   string
	Tags          []string
	IsPublic      bool
	ExpiresInDays int
	Size          int64
	ContentType   string
	// SizeLimit is the effective ceiling for the endpoint; zero means the
	// general 50 MiB ceiling.
	SizeLimit int64
}

// UploadResult is a stored record plus the signed URL issued for immediate
// upload confirmation.
type UploadResult struct {
	Record    *Record
	SignedURL string
}

// Upload runs the full pipeline: validate, write to the store under a derived
// key, persist metadata, and issue a confirmation URL. Metadata is written
// only after the store write fully completes, so a cancelled upload leaves no
// partial record. On metadata failure the just-written object is deleted
// best-effort before the error returns.
func (s *Service) Upload(ctx context.Context, p Principal, in UploadInput, data io.Reader) (*UploadResult, error) {
	category := NormalizeCategory(in.Category)

	if err := ValidateUpload(Candidate{
		Category:     category,
		OriginalName: in.OriginalName,
		Size:         in.Size,
		SizeLimit:    in.SizeLimit,
	}); err != nil {
		return nil, err
	}
	if err := ValidateTags(in.Tags); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	key, err := DeriveKey(category, in.OriginalName, now)
	if err != nil {
		return nil, err
	}

	contentType := strings.ToLower(in.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.store.Put(ctx, key, data, in.Size, storage.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"original-name": in.OriginalName,
			"uploaded-by":   p.ID,
			"category":      string(category),
			"uploaded-at":   now.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:             uuid.NewString(),
		OriginalName:   in.OriginalName,
		Filename:       path.Base(key),
		StoreKey:       key,
		StoreContainer: s.store.Bucket(),
		Mimetype:       contentType,
		Size:           in.Size,
		Category:       category,
		Description:    in.Description,
		Tags:           in.Tags,
		Hash:           contentHash(info.ETag),
		UploadedBy:     p.ID,
		UploadDate:     now,
		LastAccessed:   now,
		IsPublic:       in.IsPublic,
		AllowedRoles:   []string{},
		AllowedUsers:   []string{},
		Status:         StatusActive,
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	cloudURL := s.store.URL(key)
	rec.CloudURL = &cloudURL
	if IsImage(contentType) {
		// Placeholder key; a later stage populates the thumbnail object.
		thumbKey := ThumbnailKey(key)
		rec.ThumbnailStoreKey = &thumbKey
	}
	if in.ExpiresInDays > 0 {
		exp := now.Add(time.Duration(in.ExpiresInDays) * 24 * time.Hour)
		rec.ExpiresAt = &exp
	}

	if err := s.records.Create(ctx, rec); err != nil {
		// Compensating action: don't leave an unreferenced object behind.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			log.Error().Err(delErr).Str("key", key).Msg("failed to clean up store object after metadata failure")
		}
		return nil, err
	}

	signedURL, err := s.signer.Issue(ctx, key, PurposeConfirm)
	if err != nil {
		return nil, err
	}

	log.Info().Str("id", rec.ID).Str("key", key).Str("uploaded_by", p.ID).Msg("file uploaded")
	return &UploadResult{Record: rec, SignedURL: signedURL}, nil
}

// UploadItem pairs an input with its byte stream for batch uploads.
type UploadItem struct {
	Input  UploadInput
	Reader io.Reader
}

// FailedUpload records one item of a batch that failed, with its reason.
type FailedUpload struct {
	OriginalName string `json:"originalName"`
	Error        string `json:"error"`
}

// BatchSummary counts the outcomes of a batch upload.
type BatchSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BatchResult partitions a multi-file upload into successes and failures.
type BatchResult struct {
	Uploaded []*UploadResult
	Failed   []FailedUpload
}

// Summary derives the counts for a batch result.
func (b *BatchResult) Summary() BatchSummary {
	return BatchSummary{
		Total:      len(b.Uploaded) + len(b.Failed),
		Successful: len(b.Uploaded),
		Failed:     len(b.Failed),
	}
}

// UploadMany processes each file independently: one failure never aborts the
// others, and failed items have already had any partial store write rolled
// back by the single-file pipeline.
func (s *Service) UploadMany(ctx context.Context, p Principal, items []UploadItem) *BatchResult {
	res := &BatchResult{Failed: []FailedUpload{}}
	for _, item := range items {
		out, err := s.Upload(ctx, p, item.Input, item.Reader)
		if err != nil {
			log.Warn().Err(err).Str("name", item.Input.OriginalName).Msg("batch item failed")
			res.Failed = append(res.Failed, FailedUpload{
				OriginalName: item.Input.OriginalName,
				Error:        err.Error(),
			})
			continue
		}
		res.Uploaded = append(res.Uploaded, out)
	}
	return res
}

// UploadAvatar uploads an image as the caller's avatar and points their
// profile at it. If the profile update fails, both the store object and the
// just-created record are rolled back.
func (s *Service) UploadAvatar(ctx context.Context, p Principal, in UploadInput, data io.Reader) (*UploadResult, error) {
	if !IsImage(strings.ToLower(in.ContentType)) {
		return nil, &ValidationError{
			Rule:    "avatar_not_image",
			Value:   in.ContentType,
			Message: "avatar must be an image file",
		}
	}

	in.Category = string(CategoryAvatar)
	in.SizeLimit = MaxAvatarSize
	if in.Description == "" {
		in.Description = "User avatar image"
	}
	if in.Tags == nil {
		in.Tags = []string{"avatar", "profile"}
	}

	out, err := s.Upload(ctx, p, in, data)
	if err != nil {
		return nil, err
	}

	if err := s.avatars.SetAvatar(ctx, p.ID, out.Record.StoreKey); err != nil {
		if delErr := s.store.Delete(ctx, out.Record.StoreKey); delErr != nil {
			log.Error().Err(delErr).Str("key", out.Record.StoreKey).Msg("failed to clean up avatar object after profile update failure")
		}
		if delErr := s.records.Delete(ctx, out.Record.ID); delErr != nil {
			log.Error().Err(delErr).Str("id", out.Record.ID).Msg("failed to clean up avatar record after profile update failure")
		}
		return nil, fmt.Errorf("update profile avatar: %w", err)
	}

	return out, nil
}

// DownloadGrant is everything a caller needs to fetch the bytes themselves;
// the gateway never proxies object content.
type DownloadGrant struct {
	DownloadURL string `json:"downloadUrl"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Mimetype    string `json:"mimetype"`
	ExpiresIn   int    `json:"expiresIn"`
}

// Download checks permissions and store existence, issues a short-lived
// signed URL, and then bumps the access counter.
func (s *Service) Download(ctx context.Context, p Principal, id string) (*DownloadGrant, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusDeleted {
		return nil, ErrNotFound
	}
	if !CanAccess(p, rec, ActionDownload) {
		return nil, ErrForbidden
	}

	// Detect drift between metadata and the store before signing anything.
	if _, err := s.store.Stat(ctx, rec.StoreKey); err != nil {
		log.Warn().Str("id", rec.ID).Str("key", rec.StoreKey).Msg("metadata references missing store object")
		return nil, ErrNotInStore
	}

	url, err := s.signer.Issue(ctx, rec.StoreKey, PurposeDownload)
	if err != nil {
		return nil, err
	}

	// Counter and lastAccessed move only once the grant is actually issued.
	if err := s.records.IncrementAccess(ctx, rec.ID); err != nil {
		return nil, err
	}

	return &DownloadGrant{
		DownloadURL: url,
		Filename:    rec.OriginalName,
		Size:        rec.Size,
		Mimetype:    rec.Mimetype,
		ExpiresIn:   int(PurposeDownload.Expiry().Seconds()),
	}, nil
}

// Thumbnail issues a signed URL for a record's thumbnail object under the same
// permission model as download. Absence of a thumbnail key is a 404, not an
// error state.
func (s *Service) Thumbnail(ctx context.Context, p Principal, id string) (*DownloadGrant, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusDeleted {
		return nil, ErrNotFound
	}
	if rec.ThumbnailStoreKey == nil {
		return nil, ErrNoThumbnail
	}
	if !CanAccess(p, rec, ActionThumbnail) {
		return nil, ErrForbidden
	}
	if _, err := s.store.Stat(ctx, *rec.ThumbnailStoreKey); err != nil {
		return nil, ErrNotInStore
	}

	url, err := s.signer.Issue(ctx, *rec.ThumbnailStoreKey, PurposeDownload)
	if err != nil {
		return nil, err
	}
	return &DownloadGrant{
		DownloadURL: url,
		Filename:    rec.OriginalName,
		Size:        rec.Size,
		Mimetype:    rec.Mimetype,
		ExpiresIn:   int(PurposeDownload.Expiry().Seconds()),
	}, nil
}

// Delete removes the store objects and then the metadata record. Store-side
// failures are logged but never block metadata cleanup: the record goes last
// so a failed store deletion cannot strand an unreachable metadata row.
func (s *Service) Delete(ctx context.Context, p Principal, id string) error {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !CanAccess(p, rec, ActionDelete) {
		return ErrForbidden
	}

	if err := s.store.Delete(ctx, rec.StoreKey); err != nil {
		log.Error().Err(err).Str("key", rec.StoreKey).Msg("store deletion failed, continuing with metadata cleanup")
	}
	if rec.ThumbnailStoreKey != nil {
		if err := s.store.Delete(ctx, *rec.ThumbnailStoreKey); err != nil {
			log.Error().Err(err).Str("key", *rec.ThumbnailStoreKey).Msg("thumbnail deletion failed, continuing")
		}
	}

	if err := s.records.Delete(ctx, rec.ID); err != nil {
		return err
	}

	log.Info().Str("id", rec.ID).Str("key", rec.StoreKey).Msg("file deleted")
	return nil
}

// ListQuery carries caller-supplied listing parameters before authorization
// narrowing is applied.
type ListQuery struct {
	Page       int
	Limit      int
	Category   string
	Mimetype   string
	UploadedBy string
	DateFrom   *time.Time
	DateTo     *time.Time
	Search     string
	SortBy     string
	SortOrder  string
}

// Pagination describes one page of a listing result.
type Pagination struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalCount  int64 `json:"totalCount"`
	HasNext     bool  `json:"hasNext"`
	HasPrev     bool  `json:"hasPrev"`
}

// MaxPageSize caps the listing page size.
const MaxPageSize = 100

// List returns records visible to the principal. Non-elevated callers are
// constrained to their own uploads; elevated callers may filter by arbitrary
// uploader.
func (s *Service) List(ctx context.Context, p Principal, q ListQuery) ([]Record, *Pagination, error) {
	if q.Limit > MaxPageSize {
		return nil, nil, &ValidationError{
			Rule:    "limit_exceeded",
			Value:   fmt.Sprintf("%d", q.Limit),
			Message: fmt.Sprintf("limit must be between 1 and %d", MaxPageSize),
		}
	}
	if q.DateFrom != nil && q.DateTo != nil && !q.DateFrom.Before(*q.DateTo) {
		return nil, nil, &ValidationError{
			Rule:    "date_range",
			Value:   q.DateFrom.Format(time.RFC3339),
			Message: "dateTo must be after dateFrom",
		}
	}
	if q.SortBy != "" {
		if _, ok := sortColumns[q.SortBy]; !ok {
			return nil, nil, &ValidationError{
				Rule:    "sort_field",
				Value:   q.SortBy,
				Message: "sortBy must be one of: originalName, filename, size, uploadDate, category, mimetype",
			}
		}
	}

	f := ListFilter{
		Category:  Category(q.Category),
		Mimetype:  q.Mimetype,
		DateFrom:  q.DateFrom,
		DateTo:    q.DateTo,
		Search:    q.Search,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
		Page:      q.Page,
		Limit:     q.Limit,
	}
	if p.IsElevated() {
		f.UploadedBy = q.UploadedBy
	} else {
		f.UploadedBy = p.ID
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 10
	}

	records, total, err := s.records.List(ctx, f)
	if err != nil {
		return nil, nil, err
	}

	totalPages := int((total + int64(f.Limit) - 1) / int64(f.Limit))
	return records, &Pagination{
		CurrentPage: f.Page,
		TotalPages:  totalPages,
		TotalCount:  total,
		HasNext:     f.Page < totalPages,
		HasPrev:     f.Page > 1,
	}, nil
}

// UpdateInput carries the caller-editable record fields; nil means unchanged.
type UpdateInput struct {
	Description  *string
	Tags         []string
	Category     *string
	IsPublic     *bool
	AllowedRoles []string
	AllowedUsers []string
}

// UpdateRecord lets the owner or an elevated principal edit a record's
// description, tags, category, and access policy.
func (s *Service) UpdateRecord(ctx context.Context, p Principal, id string, in UpdateInput) (*Record, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusDeleted {
		return nil, ErrNotFound
	}
	if rec.UploadedBy != p.ID && !p.IsElevated() {
		return nil, ErrForbidden
	}

	if err := ValidateTags(in.Tags); err != nil {
		return nil, err
	}
	if err := ValidateRoles(in.AllowedRoles); err != nil {
		return nil, err
	}

	params := UpdateParams{
		Description:  in.Description,
		Tags:         in.Tags,
		IsPublic:     in.IsPublic,
		AllowedRoles: in.AllowedRoles,
		AllowedUsers: in.AllowedUsers,
	}
	if in.Category != nil {
		c := NormalizeCategory(*in.Category)
		params.Category = &c
	}
	return s.records.Update(ctx, id, params)
}

// Stats returns the read-only aggregate over active records.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.records.Stats(ctx)
}

// CleanupExpired soft-deletes records whose expiry has passed. Store objects
// are left in place; only an explicit delete removes them.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.records.MarkExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("expired records soft-deleted")
	}
	return n, nil
}

// contentHash normalizes the store's integrity token, falling back to a
// locally generated random token when the store provides none. The value is
// an integrity-tracking token only; it cannot serve deduplication or tamper
// detection.
func contentHash(etag string) string {
	if h := strings.Trim(etag, `"`); h != "" {
		return h
	}
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
