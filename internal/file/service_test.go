package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegate/service/internal/storage"
)

// fakeStore is an in-memory ObjectStore for exercising the service pipeline.
type fakeStore struct {
	objects map[string][]byte
	etag    string

	failPut     bool
	failPresign bool
	failStat    map[string]bool
	failDelete  map[string]bool

	putCalls int
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:    map[string][]byte{},
		etag:       `"abc123etag"`,
		failStat:   map[string]bool{},
		failDelete: map[string]bool{},
	}
}

func (f *fakeStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	f.putCalls++
	if f.failPut {
		return storage.ObjectInfo{}, &storage.Error{Op: "put", Key: key, Err: errors.New("boom")}
	}
	data, _ := io.ReadAll(r)
	f.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ETag: f.etag}, nil
}

func (f *fakeStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, &storage.Error{Op: "get", Key: key, Err: errors.New("not found")}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	if f.failStat[key] {
		return storage.ObjectInfo{}, &storage.Error{Op: "stat", Key: key, Err: errors.New("not found")}
	}
	if _, ok := f.objects[key]; !ok {
		return storage.ObjectInfo{}, &storage.Error{Op: "stat", Key: key, Err: errors.New("not found")}
	}
	return storage.ObjectInfo{Key: key, ETag: f.etag}, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	if f.failDelete[key] {
		return &storage.Error{Op: "delete", Key: key, Err: errors.New("boom")}
	}
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) Copy(_ context.Context, srcKey, dstKey string) error {
	data, ok := f.objects[srcKey]
	if !ok {
		return &storage.Error{Op: "copy", Key: srcKey, Err: errors.New("not found")}
	}
	f.objects[dstKey] = data
	return nil
}

func (f *fakeStore) List(_ context.Context, prefix string, _ int) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.ObjectInfo{Key: k})
		}
	}
	return out, nil
}

func (f *fakeStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	if f.failPresign {
		return "", &storage.Error{Op: "presign", Key: key, Err: errors.New("boom")}
	}
	return "https://store.test/signed/" + key + "?expires=" + expiry.String(), nil
}

func (f *fakeStore) URL(key string) string { return "https://store.test/test-bucket/" + key }
func (f *fakeStore) Bucket() string        { return "test-bucket" }

// fakeRecords is an in-memory RecordStore.
type fakeRecords struct {
	byID map[string]*Record

	failCreate bool
	lastFilter ListFilter
	listOut    []Record
	listTotal  int64
	expiredN   int64
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{byID: map[string]*Record{}}
}

func (f *fakeRecords) Create(_ context.Context, rec *Record) error {
	if f.failCreate {
		return errors.New("insert failed")
	}
	f.byID[rec.ID] = rec
	return nil
}

func (f *fakeRecords) GetByID(_ context.Context, id string) (*Record, error) {
	rec, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (f *fakeRecords) Delete(_ context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeRecords) IncrementAccess(_ context.Context, id string) error {
	rec, ok := f.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.AccessCount++
	rec.LastAccessed = time.Now()
	return nil
}

func (f *fakeRecords) List(_ context.Context, filter ListFilter) ([]Record, int64, error) {
	f.lastFilter = filter
	return f.listOut, f.listTotal, nil
}

func (f *fakeRecords) Update(_ context.Context, id string, p UpdateParams) (*Record, error) {
	rec, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Description != nil {
		rec.Description = *p.Description
	}
	if p.IsPublic != nil {
		rec.IsPublic = *p.IsPublic
	}
	if p.Tags != nil {
		rec.Tags = p.Tags
	}
	if p.Category != nil {
		rec.Category = *p.Category
	}
	if p.AllowedRoles != nil {
		rec.AllowedRoles = p.AllowedRoles
	}
	if p.AllowedUsers != nil {
		rec.AllowedUsers = p.AllowedUsers
	}
	return rec, nil
}

func (f *fakeRecords) Stats(_ context.Context) (*Stats, error) { return &Stats{}, nil }

func (f *fakeRecords) MarkExpired(_ context.Context, _ time.Time) (int64, error) {
	return f.expiredN, nil
}

// fakeAvatars records profile updates.
type fakeAvatars struct {
	err    error
	gotKey string
}

func (f *fakeAvatars) SetAvatar(_ context.Context, _ string, storeKey string) error {
	if f.err != nil {
		return f.err
	}
	f.gotKey = storeKey
	return nil
}

func newTestService() (*Service, *fakeStore, *fakeRecords, *fakeAvatars) {
	store := newFakeStore()
	records := newFakeRecords()
	avatars := &fakeAvatars{}
	svc := NewService(records, store, NewSigner(store), avatars)
	return svc, store, records, avatars
}

var owner = Principal{ID: "user-1", Role: RoleUser}

func pngUpload() UploadInput {
	return UploadInput{
		OriginalName: "photo.png",
		Category:     "image",
		Size:         4,
		ContentType:  "image/png",
	}
}

func TestUploadStoresObjectThenMetadata(t *testing.T) {
	svc, store, records, _ := newTestService()

	out, err := svc.Upload(context.Background(), owner, pngUpload(), strings.NewReader("data"))
	require.NoError(t, err)

	rec := out.Record
	assert.Regexp(t, regexp.MustCompile(`^image/\d{4}/\d{2}/`), rec.StoreKey)
	assert.Equal(t, "photo.png", rec.OriginalName)
	assert.Equal(t, "test-bucket", rec.StoreContainer)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, "abc123etag", rec.Hash, "hash comes from the store's ETag, quotes stripped")
	assert.Equal(t, owner.ID, rec.UploadedBy)
	assert.NotContains(t, rec.Filename, "/", "filename is the final key segment")
	assert.True(t, strings.HasSuffix(rec.StoreKey, "/"+rec.Filename))
	require.NotNil(t, rec.CloudURL)
	assert.Equal(t, store.URL(rec.StoreKey), *rec.CloudURL)
	assert.Nil(t, rec.ExpiresAt)
	assert.NotEmpty(t, out.SignedURL)

	require.NotNil(t, rec.ThumbnailStoreKey, "image uploads get a thumbnail key")
	assert.Contains(t, *rec.ThumbnailStoreKey, "thumbnails/thumb_")

	assert.Contains(t, store.objects, rec.StoreKey)
	assert.Contains(t, records.byID, rec.ID)
}

func TestUploadRejectsBeforeTouchingStore(t *testing.T) {
	svc, store, _, _ := newTestService()

	in := pngUpload()
	in.OriginalName = "malware.exe"
	_, err := svc.Upload(context.Background(), owner, in, strings.NewReader("data"))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, store.putCalls, "invalid uploads never reach the store")
}

func TestUploadCleansUpObjectWhenMetadataFails(t *testing.T) {
	svc, store, records, _ := newTestService()
	records.failCreate = true

	_, err := svc.Upload(context.Background(), owner, pngUpload(), strings.NewReader("data"))
	require.Error(t, err)

	assert.Empty(t, store.objects, "object removed after metadata failure")
	assert.Len(t, store.deleted, 1)
}

func TestUploadHashFallsBackToRandomToken(t *testing.T) {
	svc, store, _, _ := newTestService()
	store.etag = ""

	out, err := svc.Upload(context.Background(), owner, pngUpload(), strings.NewReader("data"))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), out.Record.Hash)
}

func TestUploadSetsExpiry(t *testing.T) {
	svc, _, _, _ := newTestService()

	in := pngUpload()
	in.ExpiresInDays = 30
	out, err := svc.Upload(context.Background(), owner, in, strings.NewReader("data"))
	require.NoError(t, err)

	require.NotNil(t, out.Record.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *out.Record.ExpiresAt, time.Minute)
}

func TestUploadManyIsolatesFailures(t *testing.T) {
	svc, _, _, _ := newTestService()

	bad := pngUpload()
	bad.OriginalName = "script.sh"
	items := []UploadItem{
		{Input: pngUpload(), Reader: strings.NewReader("a")},
		{Input: bad, Reader: strings.NewReader("b")},
		{Input: pngUpload(), Reader: strings.NewReader("c")},
	}

	res := svc.UploadMany(context.Background(), owner, items)

	assert.Len(t, res.Uploaded, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "script.sh", res.Failed[0].OriginalName)
	assert.NotEmpty(t, res.Failed[0].Error)

	sum := res.Summary()
	assert.Equal(t, BatchSummary{Total: 3, Successful: 2, Failed: 1}, sum)
}

func TestUploadAvatarRequiresImage(t *testing.T) {
	svc, _, _, _ := newTestService()

	in := UploadInput{OriginalName: "resume.pdf", Size: 4, ContentType: "application/pdf"}
	_, err := svc.UploadAvatar(context.Background(), owner, in, strings.NewReader("data"))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "avatar_not_image", verr.Rule)
}

func TestUploadAvatarUpdatesProfile(t *testing.T) {
	svc, _, _, avatars := newTestService()

	in := UploadInput{OriginalName: "me.png", Size: 4, ContentType: "image/png"}
	out, err := svc.UploadAvatar(context.Background(), owner, in, strings.NewReader("data"))
	require.NoError(t, err)

	assert.Equal(t, CategoryAvatar, out.Record.Category)
	assert.Equal(t, out.Record.StoreKey, avatars.gotKey)
	assert.Equal(t, "User avatar image", out.Record.Description)
	assert.Equal(t, []string{"avatar", "profile"}, out.Record.Tags)
}

func TestUploadAvatarRollsBackOnProfileFailure(t *testing.T) {
	svc, store, records, avatars := newTestService()
	avatars.err = errors.New("user gone")

	in := UploadInput{OriginalName: "me.png", Size: 4, ContentType: "image/png"}
	_, err := svc.UploadAvatar(context.Background(), owner, in, strings.NewReader("data"))

	require.Error(t, err)
	assert.Empty(t, store.objects, "avatar object rolled back")
	assert.Empty(t, records.byID, "avatar record rolled back")
}

func seedRecord(records *fakeRecords, store *fakeStore) *Record {
	rec := &Record{
		ID:           "rec-1",
		OriginalName: "photo.png",
		StoreKey:     "image/2025/03/1-aa-photo.png",
		Mimetype:     "image/png",
		Size:         4,
		Category:     CategoryImage,
		UploadedBy:   owner.ID,
		Status:       StatusActive,
	}
	records.byID[rec.ID] = rec
	store.objects[rec.StoreKey] = []byte("data")
	return rec
}

func TestDownloadIssuesGrantAndCountsAccess(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)

	grant, err := svc.Download(context.Background(), owner, rec.ID)
	require.NoError(t, err)

	assert.Contains(t, grant.DownloadURL, "signed")
	assert.Equal(t, "photo.png", grant.Filename)
	assert.Equal(t, int64(4), grant.Size)
	assert.Equal(t, "image/png", grant.Mimetype)
	assert.Equal(t, 900, grant.ExpiresIn)
	assert.Equal(t, int64(1), rec.AccessCount)
}

func TestDownloadDeniesStranger(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)

	_, err := svc.Download(context.Background(), Principal{ID: "other", Role: RoleUser}, rec.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, rec.AccessCount, "denied requests never bump the counter")
}

func TestDownloadUnknownID(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.Download(context.Background(), owner, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadSoftDeletedBehavesAsMissing(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)
	rec.Status = StatusDeleted

	_, err := svc.Download(context.Background(), owner, rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDownloadSigningFailureLeavesCounterUntouched(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)
	store.failPresign = true

	_, err := svc.Download(context.Background(), owner, rec.ID)
	require.Error(t, err)
	assert.Zero(t, rec.AccessCount, "counter moves only on a successful retrieval")
}

func TestDownloadDetectsStoreDrift(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)
	delete(store.objects, rec.StoreKey)

	_, err := svc.Download(context.Background(), owner, rec.ID)
	assert.ErrorIs(t, err, ErrNotInStore)
	assert.Zero(t, rec.AccessCount)
}

func TestThumbnailRequiresKey(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)

	_, err := svc.Thumbnail(context.Background(), owner, rec.ID)
	assert.ErrorIs(t, err, ErrNoThumbnail)
}

func TestThumbnailIssuesGrant(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)
	thumb := ThumbnailKey(rec.StoreKey)
	rec.ThumbnailStoreKey = &thumb
	store.objects[thumb] = []byte("tiny")

	grant, err := svc.Thumbnail(context.Background(), owner, rec.ID)
	require.NoError(t, err)
	assert.Contains(t, grant.DownloadURL, "thumb_")
}

func TestDeleteRemovesObjectsAndRecord(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)
	thumb := ThumbnailKey(rec.StoreKey)
	rec.ThumbnailStoreKey = &thumb
	store.objects[thumb] = []byte("tiny")

	require.NoError(t, svc.Delete(context.Background(), owner, rec.ID))

	assert.Empty(t, store.objects)
	assert.Empty(t, records.byID)
}

func TestDeleteToleratesStoreFailure(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)
	store.failDelete[rec.StoreKey] = true

	require.NoError(t, svc.Delete(context.Background(), owner, rec.ID))
	assert.Empty(t, records.byID, "metadata removed even when the store deletion fails")
}

func TestDeleteDeniesStranger(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)

	err := svc.Delete(context.Background(), Principal{ID: "other", Role: RoleUser}, rec.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Contains(t, records.byID, rec.ID)
}

func TestListNarrowsNonElevatedCallers(t *testing.T) {
	svc, _, records, _ := newTestService()

	_, _, err := svc.List(context.Background(), owner, ListQuery{UploadedBy: "someone-else"})
	require.NoError(t, err)
	assert.Equal(t, owner.ID, records.lastFilter.UploadedBy, "non-elevated callers see only their own uploads")
}

func TestListElevatedCallersFilterFreely(t *testing.T) {
	svc, _, records, _ := newTestService()

	admin := Principal{ID: "a1", Role: RoleAdmin}
	_, _, err := svc.List(context.Background(), admin, ListQuery{UploadedBy: "someone-else"})
	require.NoError(t, err)
	assert.Equal(t, "someone-else", records.lastFilter.UploadedBy)
}

func TestListDefaultsAndPagination(t *testing.T) {
	svc, _, records, _ := newTestService()
	records.listTotal = 25

	_, page, err := svc.List(context.Background(), owner, ListQuery{Page: 2, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, &Pagination{CurrentPage: 2, TotalPages: 3, TotalCount: 25, HasNext: true, HasPrev: true}, page)

	_, _, err = svc.List(context.Background(), owner, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, records.lastFilter.Page)
	assert.Equal(t, 10, records.lastFilter.Limit)
}

func TestListRejectsBadParameters(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, _, err := svc.List(ctx, owner, ListQuery{Limit: MaxPageSize + 1})
	assert.Equal(t, "limit_exceeded", validationRule(t, err))

	from := time.Now()
	to := from.Add(-time.Hour)
	_, _, err = svc.List(ctx, owner, ListQuery{DateFrom: &from, DateTo: &to})
	assert.Equal(t, "date_range", validationRule(t, err))

	_, _, err = svc.List(ctx, owner, ListQuery{SortBy: "hash"})
	assert.Equal(t, "sort_field", validationRule(t, err))
}

func TestUpdateRecordOwnerOnly(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)

	_, err := svc.UpdateRecord(context.Background(), Principal{ID: "other", Role: RoleUser}, rec.ID, UpdateInput{})
	assert.ErrorIs(t, err, ErrForbidden)

	desc := "updated"
	pub := true
	got, err := svc.UpdateRecord(context.Background(), owner, rec.ID, UpdateInput{
		Description:  &desc,
		IsPublic:     &pub,
		AllowedRoles: []string{RoleVeterinarian},
	})
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)
	assert.True(t, got.IsPublic)
}

func TestUpdateRecordRejectsUnknownRole(t *testing.T) {
	svc, store, records, _ := newTestService()
	rec := seedRecord(records, store)

	_, err := svc.UpdateRecord(context.Background(), owner, rec.ID, UpdateInput{
		AllowedRoles: []string{"wizard"},
	})
	assert.Equal(t, "unknown_role", validationRule(t, err))
}

func TestCleanupExpired(t *testing.T) {
	svc, _, records, _ := newTestService()
	records.expiredN = 3

	n, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
