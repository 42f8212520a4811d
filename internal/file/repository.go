package file

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a file record does not exist.
var ErrNotFound = errors.New("file not found")

// fileColumns is the canonical select list scanned by scanRecord.
const fileColumns = `id, original_name, filename, store_key, store_container, cloud_url,
	thumbnail_store_key, mimetype, size, category, description, tags, hash,
	uploaded_by, upload_date, last_accessed, access_count, is_public,
	allowed_roles, allowed_users, status, expires_at`

// Repository handles all file record database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	err := row.Scan(
		&rec.ID, &rec.OriginalName, &rec.Filename, &rec.StoreKey, &rec.StoreContainer,
		&rec.CloudURL, &rec.ThumbnailStoreKey, &rec.Mimetype, &rec.Size, &rec.Category,
		&rec.Description, &rec.Tags, &rec.Hash, &rec.UploadedBy, &rec.UploadDate,
		&rec.LastAccessed, &rec.AccessCount, &rec.IsPublic, &rec.AllowedRoles,
		&rec.AllowedUsers, &rec.Status, &rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan file record: %w", err)
	}
	return rec, nil
}

// Create inserts a new file record.
func (r *Repository) Create(ctx context.Context, rec *Record) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO files (id, original_name, filename, store_key, store_container,
		   cloud_url, thumbnail_store_key, mimetype, size, category, description,
		   tags, hash, uploaded_by, upload_date, last_accessed, access_count,
		   is_public, allowed_roles, allowed_users, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		   $15, $16, $17, $18, $19, $20, $21, $22)`,
		rec.ID, rec.OriginalName, rec.Filename, rec.StoreKey, rec.StoreContainer,
		rec.CloudURL, rec.ThumbnailStoreKey, rec.Mimetype, rec.Size, rec.Category,
		rec.Description, rec.Tags, rec.Hash, rec.UploadedBy, rec.UploadDate,
		rec.LastAccessed, rec.AccessCount, rec.IsPublic, rec.AllowedRoles,
		rec.AllowedUsers, rec.Status, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("create file record: %w", err)
	}
	return nil
}

// GetByID fetches a record by id regardless of status; callers decide how to
// treat soft-deleted records.
func (r *Repository) GetByID(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	return scanRecord(row)
}

// Delete hard-deletes a record.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementAccess bumps the access counter and touches last_accessed as a
// single mutation, so the pair can never drift apart.
func (r *Repository) IncrementAccess(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE files SET access_count = access_count + 1, last_accessed = NOW()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment access: %w", err)
	}
	return nil
}

// ListFilter narrows and orders a listing query. Soft-deleted records are
// excluded unconditionally.
type ListFilter struct {
	UploadedBy string
	Category   Category
	Mimetype   string // substring match
	DateFrom   *time.Time
	DateTo     *time.Time
	Search     string // matches original name or description
	SortBy     string
	SortOrder  string
	Page       int
	Limit      int
}

// sortColumns whitelists caller-chosen sort fields.
var sortColumns = map[string]string{
	"originalName": "original_name",
	"filename":     "filename",
	"size":         "size",
	"uploadDate":   "upload_date",
	"category":     "category",
	"mimetype":     "mimetype",
}

// List returns one page of records matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Record, int64, error) {
	where := []string{`status <> 'deleted'`}
	args := []interface{}{}

	add := func(clause string, val interface{}) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.UploadedBy != "" {
		add(`uploaded_by = $%d`, f.UploadedBy)
	}
	if f.Category != "" {
		add(`category = $%d`, f.Category)
	}
	if f.Mimetype != "" {
		add(`mimetype ILIKE $%d`, "%"+f.Mimetype+"%")
	}
	if f.DateFrom != nil {
		add(`upload_date >= $%d`, *f.DateFrom)
	}
	if f.DateTo != nil {
		add(`upload_date <= $%d`, *f.DateTo)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf(`(original_name ILIKE $%d OR description ILIKE $%d)`, len(args), len(args)))
	}

	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM files WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	sortCol, ok := sortColumns[f.SortBy]
	if !ok {
		sortCol = "upload_date"
	}
	dir := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		dir = "ASC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)

	query := fmt.Sprintf(`SELECT %s FROM files WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		fileColumns, cond, sortCol, dir, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}
	return out, total, nil
}

// UpdateParams carries the mutable record fields; nil means leave unchanged.
type UpdateParams struct {
	Description  *string
	Tags         []string
	Category     *Category
	IsPublic     *bool
	AllowedRoles []string
	AllowedUsers []string
}

// Update patches the mutable fields of a record and returns the new state.
func (r *Repository) Update(ctx context.Context, id string, p UpdateParams) (*Record, error) {
	set := []string{}
	args := []interface{}{}

	add := func(clause string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf(clause, len(args)))
	}

	if p.Description != nil {
		add(`description = $%d`, *p.Description)
	}
	if p.Tags != nil {
		add(`tags = $%d`, p.Tags)
	}
	if p.Category != nil {
		add(`category = $%d`, *p.Category)
	}
	if p.IsPublic != nil {
		add(`is_public = $%d`, *p.IsPublic)
	}
	if p.AllowedRoles != nil {
		add(`allowed_roles = $%d`, p.AllowedRoles)
	}
	if p.AllowedUsers != nil {
		add(`allowed_users = $%d`, p.AllowedUsers)
	}
	if len(set) == 0 {
		return r.GetByID(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE files SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args), fileColumns)

	return scanRecord(r.db.QueryRow(ctx, query, args...))
}

// Overview aggregates sizes over active records.
type Overview struct {
	TotalFiles      int64   `json:"totalFiles"`
	TotalSize       int64   `json:"totalSize"`
	AverageFileSize float64 `json:"averageFileSize"`
	MinSize         int64   `json:"minSize"`
	MaxSize         int64   `json:"maxSize"`
	RecentUploads   int64   `json:"recentUploads"`
}

// CategoryStat is a per-category aggregate.
type CategoryStat struct {
	Category  Category `json:"category"`
	Count     int64    `json:"count"`
	TotalSize int64    `json:"totalSize"`
}

// MimetypeStat is a per-mimetype aggregate.
type MimetypeStat struct {
	Mimetype string `json:"mimetype"`
	Count    int64  `json:"count"`
}

// Stats is the read-only aggregate view over active records.
type Stats struct {
	Overview   Overview       `json:"overview"`
	Categories []CategoryStat `json:"categories"`
	Mimetypes  []MimetypeStat `json:"mimetypes"`
}

// Stats computes the aggregate view over active records only. The recent
// window trails 7 days; mimetypes are capped to the top 10.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{}

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(size), 0),
		        COALESCE(AVG(size), 0),
		        COALESCE(MIN(size), 0),
		        COALESCE(MAX(size), 0),
		        COUNT(*) FILTER (WHERE upload_date >= NOW() - INTERVAL '7 days')
		 FROM files WHERE status = 'active'`,
	).Scan(&s.Overview.TotalFiles, &s.Overview.TotalSize, &s.Overview.AverageFileSize,
		&s.Overview.MinSize, &s.Overview.MaxSize, &s.Overview.RecentUploads)
	if err != nil {
		return nil, fmt.Errorf("stats overview: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT category, COUNT(*), COALESCE(SUM(size), 0)
		 FROM files WHERE status = 'active'
		 GROUP BY category ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("stats by category: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cs CategoryStat
		if err := rows.Scan(&cs.Category, &cs.Count, &cs.TotalSize); err != nil {
			return nil, fmt.Errorf("stats by category: %w", err)
		}
		s.Categories = append(s.Categories, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats by category: %w", err)
	}

	mrows, err := r.db.Query(ctx,
		`SELECT mimetype, COUNT(*)
		 FROM files WHERE status = 'active'
		 GROUP BY mimetype ORDER BY COUNT(*) DESC LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("stats by mimetype: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var ms MimetypeStat
		if err := mrows.Scan(&ms.Mimetype, &ms.Count); err != nil {
			return nil, fmt.Errorf("stats by mimetype: %w", err)
		}
		s.Mimetypes = append(s.Mimetypes, ms)
	}
	if err := mrows.Err(); err != nil {
		return nil, fmt.Errorf("stats by mimetype: %w", err)
	}

	return s, nil
}

// MarkExpired soft-deletes every record whose expiry has passed and returns
// the number of records transitioned. The underlying store objects are not
// touched.
func (r *Repository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE files SET status = 'deleted'
		 WHERE expires_at IS NOT NULL AND expires_at <= $1 AND status <> 'deleted'`,
		now)
	if err != nil {
		return 0, fmt.Errorf("mark expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
