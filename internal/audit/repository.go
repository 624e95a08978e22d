package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles job_events PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a single event.
func (r *Repository) Insert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO job_events (id, user_id, event_type, severity, resource_type, resource_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.EventType, e.Severity, e.ResourceType, e.ResourceID, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting job event: %w", err)
	}
	return nil
}

// ListByUser returns paginated events for a user with optional filters.
func (r *Repository) ListByUser(ctx context.Context, userID string, params ListParams) ([]Entry, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	where, args := buildFilter(userID, params)
	argIdx := len(args) + 1

	var totalCount int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM job_events WHERE "+where, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting job events: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT id, user_id, event_type, severity, resource_type, resource_id, details, created_at
		 FROM job_events WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying job events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.Severity,
			&e.ResourceType, &e.ResourceID, &e.Details, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning job event: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating job events: %w", err)
	}

	return entries, totalCount, nil
}

// buildFilter returns the WHERE clause and its positional arguments.
func buildFilter(userID string, params ListParams) (string, []any) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}

	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if params.EventType != "" {
		add("event_type = $%d", params.EventType)
	}
	if params.ResourceType != "" {
		add("resource_type = $%d", params.ResourceType)
	}
	if params.ResourceID != "" {
		add("resource_id = $%d", params.ResourceID)
	}
	if params.From != nil {
		add("created_at >= $%d", *params.From)
	}
	if params.To != nil {
		add("created_at <= $%d", *params.To)
	}

	return strings.Join(conditions, " AND "), args
}
