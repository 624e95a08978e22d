package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the PostgreSQL Log. Entries are ordered by an identity
// column so append order survives equal timestamps.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new history Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Append(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO history_entries (id, user_id, job_id, prompt, style, quality, images, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.JobID, e.Prompt, e.Style, e.Quality, e.Images, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

func (r *Repository) Recent(ctx context.Context, userID string, n int, order Order) ([]Entry, error) {
	query := `SELECT id, user_id, job_id, prompt, style, quality, images, created_at
		 FROM history_entries WHERE user_id = $1 ORDER BY seq DESC`
	args := []any{userID}
	if n > 0 {
		query += " LIMIT $2"
		args = append(args, n)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.JobID, &e.Prompt, &e.Style,
			&e.Quality, &e.Images, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	if order == OldestFirst {
		reverse(entries)
	}
	return entries, nil
}

// FavoriteRepository handles the favorites table.
type FavoriteRepository struct {
	pool *pgxpool.Pool
}

// NewFavoriteRepository creates a new FavoriteRepository.
func NewFavoriteRepository(pool *pgxpool.Pool) *FavoriteRepository {
	return &FavoriteRepository{pool: pool}
}

// Add pins an image. Pinning it twice is a no-op.
func (r *FavoriteRepository) Add(ctx context.Context, f *Favorite) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO favorites (user_id, image_url, prompt, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, image_url) DO NOTHING`,
		f.UserID, f.ImageURL, f.Prompt, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting favorite: %w", err)
	}
	return nil
}

// Remove reports whether a favorite was deleted.
func (r *FavoriteRepository) Remove(ctx context.Context, userID, imageURL string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM favorites WHERE user_id = $1 AND image_url = $2`, userID, imageURL)
	if err != nil {
		return false, fmt.Errorf("deleting favorite: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *FavoriteRepository) List(ctx context.Context, userID string) ([]Favorite, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, image_url, prompt, created_at
		 FROM favorites WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying favorites: %w", err)
	}
	defer rows.Close()

	favs := []Favorite{}
	for rows.Next() {
		var f Favorite
		if err := rows.Scan(&f.UserID, &f.ImageURL, &f.Prompt, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning favorite: %w", err)
		}
		favs = append(favs, f)
	}
	return favs, rows.Err()
}
