// Package postgres implements the remote walk document store on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/walks/internal/domain"
)

// Store provides Postgres-backed persistence for walk documents.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const walkColumns = `walk_id, owner_id, title, description, status, started_at, ended_at, route, total_distance_m, total_steps, thumbnail_ref, created_at, updated_at`

// Put upserts the walk document. Writes are last-write-wins by id.
func (s *Store) Put(ctx context.Context, w domain.Walk) error {
	route, err := json.Marshal(w.Route)
	if err != nil {
		return domain.Wrap(domain.KindInvalidData, "encode route", err)
	}

	const stmt = `INSERT INTO walks (walk_id, owner_id, title, description, status, started_at, ended_at, route, total_distance_m, total_steps, thumbnail_ref, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (walk_id) DO UPDATE SET
            title = EXCLUDED.title,
            description = EXCLUDED.description,
            status = EXCLUDED.status,
            started_at = EXCLUDED.started_at,
            ended_at = EXCLUDED.ended_at,
            route = EXCLUDED.route,
            total_distance_m = EXCLUDED.total_distance_m,
            total_steps = EXCLUDED.total_steps,
            thumbnail_ref = EXCLUDED.thumbnail_ref,
            updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, stmt,
		w.ID,
		w.OwnerID,
		w.Title,
		w.Description,
		string(w.Status),
		w.StartedAt,
		w.EndedAt,
		route,
		w.TotalDistanceMeters,
		w.TotalSteps,
		nullIfEmpty(w.ThumbnailRef),
		w.CreatedAt,
		w.UpdatedAt,
	)
	if err != nil {
		return mapError("put", err)
	}
	return nil
}

// Get retrieves one walk document, (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, id string) (*domain.Walk, error) {
	const query = `SELECT ` + walkColumns + ` FROM walks WHERE walk_id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	w, err := scanWalk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError("get", err)
	}
	return w, nil
}

// Query lists an owner's walks, newest-first by creation time.
func (s *Store) Query(ctx context.Context, ownerID string) ([]domain.Walk, error) {
	const query = `SELECT ` + walkColumns + ` FROM walks
        WHERE owner_id = $1
        ORDER BY created_at DESC, walk_id DESC`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, mapError("query", err)
	}
	defer rows.Close()

	out := make([]domain.Walk, 0)
	for rows.Next() {
		w, err := scanWalk(rows)
		if err != nil {
			return nil, mapError("query", err)
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("query", err)
	}
	return out, nil
}

// Delete removes the walk document. Deleting an absent id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM walks WHERE walk_id = $1`, id); err != nil {
		return mapError("delete", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWalk(row rowScanner) (*domain.Walk, error) {
	var (
		w        domain.Walk
		status   string
		route    []byte
		thumbRef *string
	)
	if err := row.Scan(
		&w.ID,
		&w.OwnerID,
		&w.Title,
		&w.Description,
		&status,
		&w.StartedAt,
		&w.EndedAt,
		&route,
		&w.TotalDistanceMeters,
		&w.TotalSteps,
		&thumbRef,
		&w.CreatedAt,
		&w.UpdatedAt,
	); err != nil {
		return nil, err
	}

	w.Status = domain.Status(status)
	if thumbRef != nil {
		w.ThumbnailRef = *thumbRef
	}
	if len(route) > 0 {
		if err := json.Unmarshal(route, &w.Route); err != nil {
			return nil, domain.Wrap(domain.KindInvalidData, "decode route", err)
		}
	}
	return &w, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// mapError folds provider-specific failures into the canonical taxonomy so
// callers can tell "try again" from "will never succeed".
func mapError(op string, err error) error {
	var typed *domain.Error
	if errors.As(err, &typed) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Wrap(domain.KindNetwork, op+" timed out", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "28"), pgErr.Code == "42501":
			return domain.Wrap(domain.KindUnauthorized, op+" denied by store", err)
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
			return domain.Wrap(domain.KindInvalidData, op+" rejected by store", err)
		}
	}

	return domain.Wrap(domain.KindNetwork, op+" failed", err)
}
