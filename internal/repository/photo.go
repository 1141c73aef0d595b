package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rivetlabs/rivet/attachment"
)

// ErrNotFound is returned when a photo id has no row.
var ErrNotFound = errors.New("photo not found")

// ImageAttachment is the attachment name used by Photo.
const ImageAttachment = "image"

// Photo is a row in the photos table. It satisfies attachment.Record so an
// image attachment can bind to it; the Image field holds the four persisted
// attachment columns.
type Photo struct {
	attachment.Attachments `json:"-"`

	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Image     attachment.Meta `json:"image"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (p *Photo) RecordID() string    { return p.ID }
func (p *Photo) RecordClass() string { return "Photo" }

func (p *Photo) AttachmentMeta(name string) attachment.Meta {
	if name == ImageAttachment {
		return p.Image
	}
	return attachment.Meta{}
}

func (p *Photo) SetAttachmentMeta(name string, m attachment.Meta) {
	if name == ImageAttachment {
		p.Image = m
	}
}

// PhotoRepository wraps all SQL used by the API and worker.
type PhotoRepository struct {
	pool *pgxpool.Pool
}

// NewPhotoRepository constructs a repository.
func NewPhotoRepository(pool *pgxpool.Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

// Create inserts a photo together with its current attachment columns.
func (r *PhotoRepository) Create(ctx context.Context, p *Photo) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `
		INSERT INTO photos (id, title, image_file_name, image_content_type, image_file_size, image_updated_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, p.ID, p.Title, nullString(p.Image.FileName), nullString(p.Image.ContentType),
		nullInt64(p.Image.FileSize), nullTime(p.Image.UpdatedAt), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}
	return nil
}

// Get returns a photo by id.
func (r *PhotoRepository) Get(ctx context.Context, id string) (*Photo, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, title, image_file_name, image_content_type, image_file_size, image_updated_at, created_at, updated_at
		FROM photos WHERE id=$1
	`, id)
	p, err := scanPhoto(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select photo: %w", err)
	}
	return p, nil
}

// List returns photos newest first.
func (r *PhotoRepository) List(ctx context.Context, limit int) ([]*Photo, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, image_file_name, image_content_type, image_file_size, image_updated_at, created_at, updated_at
		FROM photos ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()
	var out []*Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateMeta persists the attachment columns after an assign or clear.
func (r *PhotoRepository) UpdateMeta(ctx context.Context, p *Photo) error {
	now := time.Now().UTC()
	p.UpdatedAt = now
	tag, err := r.pool.Exec(ctx, `
		UPDATE photos
		SET image_file_name=$1, image_content_type=$2, image_file_size=$3, image_updated_at=$4, updated_at=$5
		WHERE id=$6
	`, nullString(p.Image.FileName), nullString(p.Image.ContentType),
		nullInt64(p.Image.FileSize), nullTime(p.Image.UpdatedAt), now, p.ID)
	if err != nil {
		return fmt.Errorf("update photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row. Attached files must already be destroyed by the
// caller via the attachment's pre-destroy hook.
func (r *PhotoRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM photos WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPhoto(row pgx.Row) (*Photo, error) {
	var (
		p           Photo
		fileName    sql.NullString
		contentType sql.NullString
		fileSize    sql.NullInt64
		updatedAt   sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Title, &fileName, &contentType, &fileSize, &updatedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Image = attachment.Meta{
		FileName:    fileName.String,
		ContentType: contentType.String,
		FileSize:    fileSize.Int64,
		UpdatedAt:   updatedAt.Time,
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
