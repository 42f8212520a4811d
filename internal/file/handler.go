package file

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/filegate/service/internal/middleware"
	"github.com/filegate/service/internal/response"
	"github.com/filegate/service/internal/storage"
)

// downloadPathPrefix is the API path a client hits to request a signed URL.
const downloadPathPrefix = "/api/v1/upload/download/"

// thumbnailPathPrefix is the API path for thumbnail retrieval.
const thumbnailPathPrefix = "/api/v1/upload/thumbnail/"

// Handler holds HTTP handlers for the upload endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new file Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// principalFrom extracts the authenticated principal injected by the auth
// middleware.
func principalFrom(r *http.Request) (Principal, bool) {
	id, _ := r.Context().Value(middleware.PrincipalIDKey).(string)
	role, _ := r.Context().Value(middleware.PrincipalRoleKey).(string)
	if id == "" {
		return Principal{}, false
	}
	return Principal{ID: id, Role: role}, true
}

// fileData is the record projection returned to clients, annotated with the
// API paths for retrieval. These are gateway paths, not signed URLs; signing
// happens only at actual download time.
type fileData struct {
	*Record
	DownloadURL  string `json:"downloadUrl"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	SignedURL    string `json:"signedUrl,omitempty"`
}

func projectRecord(rec *Record, signedURL string) fileData {
	d := fileData{
		Record:      rec,
		DownloadURL: downloadPathPrefix + rec.ID,
		SignedURL:   signedURL,
	}
	if rec.ThumbnailStoreKey != nil {
		d.ThumbnailURL = thumbnailPathPrefix + rec.ID
	}
	return d
}

// writeError maps service errors onto the HTTP taxonomy: validation 400,
// authorization 403, absence (metadata, store object, or thumbnail) 404,
// store failures 502, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		response.BadRequest(w, verr.Message)
		return
	}
	switch {
	case errors.Is(err, ErrForbidden):
		response.Forbidden(w, ErrForbidden.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, ErrNotFound.Error())
	case errors.Is(err, ErrNoThumbnail):
		response.NotFound(w, ErrNoThumbnail.Error())
	case errors.Is(err, ErrNotInStore):
		response.NotFound(w, ErrNotInStore.Error())
	default:
		var serr *storage.Error
		if errors.As(err, &serr) {
			log.Error().Err(err).Msg("object store operation failed")
			response.BadGateway(w, "storage operation failed")
			return
		}
		log.Error().Err(err).Msg("request failed")
		response.InternalError(w)
	}
}

// parseUploadForm reads the shared multipart form fields into an UploadInput.
func parseUploadForm(r *http.Request, fh *multipart.FileHeader) (UploadInput, error) {
	in := UploadInput{
		OriginalName: fh.Filename,
		Size:         fh.Size,
		ContentType:  fh.Header.Get("Content-Type"),
		Category:     r.FormValue("category"),
		Description:  r.FormValue("description"),
		IsPublic:     r.FormValue("isPublic") == "true",
	}

	if raw := r.FormValue("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				in.Tags = append(in.Tags, t)
			}
		}
	}

	if raw := r.FormValue("expiresIn"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 || days > 365 {
			return in, &ValidationError{
				Rule:    "expires_in",
				Value:   raw,
				Message: "expiration must be between 1 and 365 days",
			}
		}
		in.ExpiresInDays = days
	}

	return in, nil
}

// UploadSingle godoc
//
//	@Summary		Upload a single file
//	@Description	Validates the file, streams it to the private object store, persists metadata, and returns the record with a one-hour signed confirmation URL.
//	@Tags			upload
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			file		formData	file	true	"File to upload"
//	@Param			category	formData	string	false	"image, document, video, audio or general"
//	@Param			description	formData	string	false	"Free-text description"
//	@Param			tags		formData	string	false	"Comma-separated tags (max 10, each max 50 chars)"
//	@Param			isPublic	formData	boolean	false	"Make the file publicly downloadable"
//	@Param			expiresIn	formData	integer	false	"Expiration in days (1-365)"
//	@Success		201	{object}	response.Envelope{data=fileData}
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		502	{object}	response.Envelope
//	@Router			/upload/single [post]
func (h *Handler) UploadSingle(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	file, fh, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no file provided")
		return
	}
	defer file.Close()

	in, err := parseUploadForm(r, fh)
	if err != nil {
		writeError(w, err)
		return
	}
	in.SizeLimit = MaxUploadSize

	out, err := h.svc.Upload(r.Context(), p, in, file)
	if err != nil {
		writeError(w, err)
		return
	}

	response.Created(w, "file uploaded successfully", projectRecord(out.Record, out.SignedURL))
}

// batchData is the response body of a multi-file upload.
type batchData struct {
	UploadedFiles []fileData     `json:"uploadedFiles"`
	FailedFiles   []FailedUpload `json:"failedFiles"`
	Summary       BatchSummary   `json:"summary"`
}

// UploadMultiple godoc
//
//	@Summary		Upload multiple files (max 5)
//	@Description	Processes files independently; one failure does not abort the rest. Failed items have any partial store writes rolled back.
//	@Tags			upload
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			files		formData	file	true	"Files to upload (repeatable, max 5)"
//	@Param			category	formData	string	false	"Category applied to all files"
//	@Param			description	formData	string	false	"Description applied to all files"
//	@Success		201	{object}	response.Envelope{data=batchData}
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Router			/upload/multiple [post]
func (h *Handler) UploadMultiple(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		response.BadRequest(w, "invalid multipart form")
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		response.BadRequest(w, "no files provided")
		return
	}
	if len(headers) > MaxFilesPerBatch {
		response.BadRequest(w, "too many files: maximum is 5 per request")
		return
	}

	var items []UploadItem
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			response.BadRequest(w, "unreadable file part: "+fh.Filename)
			return
		}
		defer f.Close()

		in, err := parseUploadForm(r, fh)
		if err != nil {
			writeError(w, err)
			return
		}
		in.SizeLimit = MaxUploadSize
		items = append(items, UploadItem{Input: in, Reader: f})
	}

	res := h.svc.UploadMany(r.Context(), p, items)

	data := batchData{
		UploadedFiles: []fileData{},
		FailedFiles:   res.Failed,
		Summary:       res.Summary(),
	}
	for _, out := range res.Uploaded {
		data.UploadedFiles = append(data.UploadedFiles, projectRecord(out.Record, out.SignedURL))
	}

	response.Created(w, strconv.Itoa(len(res.Uploaded))+" files uploaded successfully", data)
}

// UploadAvatar godoc
//
//	@Summary		Upload the caller's avatar
//	@Description	Image-only upload (max 5 MiB) under the avatar category. Updates the caller's profile reference; rolls back the object and record if the profile update fails.
//	@Tags			upload
//	@Accept			multipart/form-data
//	@Produce		json
//	@Security		BearerAuth
//	@Param			file	formData	file	true	"Avatar image"
//	@Success		201	{object}	response.Envelope{data=fileData}
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Router			/upload/avatar [post]
func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	file, fh, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no avatar file provided")
		return
	}
	defer file.Close()

	in, err := parseUploadForm(r, fh)
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.svc.UploadAvatar(r.Context(), p, in, file)
	if err != nil {
		writeError(w, err)
		return
	}

	response.Created(w, "avatar uploaded successfully", projectRecord(out.Record, out.SignedURL))
}

// listData is the response body of a listing request.
type listData struct {
	Count      int        `json:"count"`
	Pagination Pagination `json:"pagination"`
	Files      []fileData `json:"files"`
}

// ListFiles godoc
//
//	@Summary		List files with filtering and pagination
//	@Description	Non-elevated callers see only their own uploads. Admin and staff may filter by arbitrary uploader, category, mimetype substring, date range, and free-text search.
//	@Tags			upload
//	@Produce		json
//	@Security		BearerAuth
//	@Param			page		query	integer	false	"Page number (default 1)"
//	@Param			limit		query	integer	false	"Items per page (max 100, default 10)"
//	@Param			category	query	string	false	"Filter by category"
//	@Param			mimetype	query	string	false	"Filter by MIME type substring"
//	@Param			uploadedBy	query	string	false	"Filter by uploader id (admin/staff only)"
//	@Param			dateFrom	query	string	false	"Upload date lower bound (RFC 3339 or YYYY-MM-DD)"
//	@Param			dateTo		query	string	false	"Upload date upper bound"
//	@Param			search		query	string	false	"Search in name or description"
//	@Param			sortBy		query	string	false	"originalName, filename, size, uploadDate, category or mimetype"
//	@Param			sortOrder	query	string	false	"asc or desc (default desc)"
//	@Success		200	{object}	response.Envelope{data=listData}
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Router			/upload/files [get]
func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	q := ListQuery{
		Category:   r.URL.Query().Get("category"),
		Mimetype:   r.URL.Query().Get("mimetype"),
		UploadedBy: r.URL.Query().Get("uploadedBy"),
		Search:     r.URL.Query().Get("search"),
		SortBy:     r.URL.Query().Get("sortBy"),
		SortOrder:  r.URL.Query().Get("sortOrder"),
	}
	q.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))

	var err error
	if q.DateFrom, err = parseDate(r.URL.Query().Get("dateFrom")); err != nil {
		response.BadRequest(w, "dateFrom must be a valid date")
		return
	}
	if q.DateTo, err = parseDate(r.URL.Query().Get("dateTo")); err != nil {
		response.BadRequest(w, "dateTo must be a valid date")
		return
	}

	records, page, err := h.svc.List(r.Context(), p, q)
	if err != nil {
		writeError(w, err)
		return
	}

	data := listData{Count: len(records), Pagination: *page, Files: []fileData{}}
	for i := range records {
		data.Files = append(data.Files, projectRecord(&records[i], ""))
	}
	response.OK(w, "files retrieved successfully", data)
}

// Download godoc
//
//	@Summary		Request a download URL for a file
//	@Description	Returns a 15-minute signed URL plus the original filename, size and mimetype. The gateway never serves object bytes directly.
//	@Tags			upload
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"File id"
//	@Success		200	{object}	response.Envelope{data=DownloadGrant}
//	@Failure		401	{object}	response.Envelope
//	@Failure		403	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Router			/upload/download/{id} [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	grant, err := h.svc.Download(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, "download URL generated successfully", grant)
}

// Thumbnail godoc
//
//	@Summary		Request a thumbnail URL for a file
//	@Description	Same permission model as download. 404 when the record has no thumbnail key.
//	@Tags			upload
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"File id"
//	@Success		200	{object}	response.Envelope{data=DownloadGrant}
//	@Failure		401	{object}	response.Envelope
//	@Failure		403	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Router			/upload/thumbnail/{id} [get]
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	grant, err := h.svc.Thumbnail(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, "thumbnail URL generated successfully", grant)
}

// Delete godoc
//
//	@Summary		Delete a file
//	@Description	Removes the object and thumbnail from the store (failures logged, not blocking) and hard-deletes the metadata record.
//	@Tags			upload
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id	path	string	true	"File id"
//	@Success		200	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		403	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Router			/upload/{id} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	if err := h.svc.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, "file deleted successfully", nil)
}

type updateRequest struct {
	Description  *string  `json:"description"`
	Tags         []string `json:"tags"`
	Category     *string  `json:"category"`
	IsPublic     *bool    `json:"isPublic"`
	AllowedRoles []string `json:"allowedRoles"`
	AllowedUsers []string `json:"allowedUsers"`
}

// Update godoc
//
//	@Summary		Update a file's metadata and access policy
//	@Description	Owner or admin/staff only. Roles must come from the known role set.
//	@Tags			upload
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			id		path	string			true	"File id"
//	@Param			request	body	updateRequest	true	"Fields to change"
//	@Success		200	{object}	response.Envelope{data=fileData}
//	@Failure		400	{object}	response.Envelope
//	@Failure		401	{object}	response.Envelope
//	@Failure		403	{object}	response.Envelope
//	@Failure		404	{object}	response.Envelope
//	@Router			/upload/{id} [patch]
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFrom(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	rec, err := h.svc.UpdateRecord(r.Context(), p, chi.URLParam(r, "id"), UpdateInput{
		Description:  req.Description,
		Tags:         req.Tags,
		Category:     req.Category,
		IsPublic:     req.IsPublic,
		AllowedRoles: req.AllowedRoles,
		AllowedUsers: req.AllowedUsers,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, "file updated successfully", projectRecord(rec, ""))
}

// StatsHandler godoc
//
//	@Summary		Storage statistics
//	@Description	Aggregate view over active records: totals, size distribution, per-category and top-10 mimetype counts, and a trailing 7-day upload count. Admin/staff only.
//	@Tags			upload
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	response.Envelope{data=Stats}
//	@Failure		401	{object}	response.Envelope
//	@Failure		403	{object}	response.Envelope
//	@Router			/upload/stats [get]
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	response.OK(w, "statistics retrieved successfully", stats)
}

// parseDate accepts RFC 3339 timestamps or bare YYYY-MM-DD dates.
func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
