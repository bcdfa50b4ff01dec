package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/features/deliveries/domain"
	"handoff-coordinator/internal/features/deliveries/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	pickup_lat       DOUBLE PRECISION NOT NULL,
	pickup_lng       DOUBLE PRECISION NOT NULL,
	pickup_address   TEXT NOT NULL DEFAULT '',
	dropoff_lat      DOUBLE PRECISION NOT NULL,
	dropoff_lng      DOUBLE PRECISION NOT NULL,
	dropoff_address  TEXT NOT NULL DEFAULT '',
	operator_id      TEXT NOT NULL,
	priority         TEXT NOT NULL,
	assigned_at      TIMESTAMPTZ NOT NULL,
	started_at       TIMESTAMPTZ,
	arrived_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	cancelled_at     TIMESTAMPTZ,
	last_lat         DOUBLE PRECISION,
	last_lng         DOUBLE PRECISION,
	last_location_at TIMESTAMPTZ,
	notes            TEXT,
	rating           INTEGER,
	cancel_reason    TEXT,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS deliveries_operator_status_idx ON deliveries (operator_id, status);
`

const columns = `id, status, pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng, dropoff_address,
	operator_id, priority, assigned_at, started_at, arrived_at, completed_at, cancelled_at,
	last_lat, last_lng, last_location_at, notes, rating, cancel_reason`

// PostgresRepository implements ports.Repository on Postgres.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// InitSchema creates the deliveries table if it does not exist.
func (r *PostgresRepository) InitSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init deliveries schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, d *domain.Delivery) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO deliveries (id, status, pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng,
			dropoff_address, operator_id, priority, assigned_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.Status,
		d.Pickup.Coordinate.Lat, d.Pickup.Coordinate.Lng, d.Pickup.Address,
		d.Dropoff.Coordinate.Lat, d.Dropoff.Coordinate.Lng, d.Dropoff.Address,
		d.AssignedOperatorID, d.Priority, d.AssignedAt, d.Notes,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateDelivery
		}
		return fmt.Errorf("insert delivery %s: %w", d.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	row := r.db.QueryRow(ctx, `SELECT `+columns+` FROM deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	return d, nil
}

// Update is a compare-and-set on status; the row is only written when it
// still holds the expected status.
func (r *PostgresRepository) Update(ctx context.Context, id string, expected domain.Status, patch domain.Patch) (*domain.Delivery, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE deliveries SET
			status        = $3,
			started_at    = COALESCE($4, started_at),
			arrived_at    = COALESCE($5, arrived_at),
			completed_at  = COALESCE($6, completed_at),
			cancelled_at  = COALESCE($7, cancelled_at),
			notes         = COALESCE($8, notes),
			rating        = COALESCE($9, rating),
			cancel_reason = COALESCE($10, cancel_reason),
			updated_at    = now()
		WHERE id = $1 AND status = $2
		RETURNING `+columns,
		id, expected, patch.Status,
		patch.StartedAt, patch.ArrivedAt, patch.CompletedAt, patch.CancelledAt,
		patch.Notes, patch.Rating, patch.CancelReason,
	)

	d, err := scanDelivery(row)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update delivery %s: %w", id, err)
	}

	// No row matched: either the delivery is gone or its status moved on.
	var status string
	if err := r.db.QueryRow(ctx, `SELECT status FROM deliveries WHERE id = $1`, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("update delivery %s: %w", id, err)
	}
	return nil, ports.ErrStatusConflict
}

func (r *PostgresRepository) ListByOperator(ctx context.Context, operatorID string, activeOnly bool) ([]*domain.Delivery, error) {
	query := `SELECT ` + columns + ` FROM deliveries WHERE operator_id = $1`
	if activeOnly {
		query += ` AND status NOT IN ('completed', 'cancelled')`
	}
	query += ` ORDER BY assigned_at DESC, id`

	return r.query(ctx, query, operatorID)
}

func (r *PostgresRepository) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Delivery, error) {
	return r.query(ctx, `SELECT `+columns+` FROM deliveries WHERE status = $1 ORDER BY assigned_at DESC, id`, status)
}

// UpdateOperatorLocation only moves the stored location forward in time.
func (r *PostgresRepository) UpdateOperatorLocation(ctx context.Context, operatorID string, c geo.Coordinate, at time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE deliveries
		SET last_lat = $2, last_lng = $3, last_location_at = $4, updated_at = now()
		WHERE operator_id = $1
			AND status = 'in_transit'
			AND (last_location_at IS NULL OR last_location_at < $4)`,
		operatorID, c.Lat, c.Lng, at,
	)
	if err != nil {
		return 0, fmt.Errorf("update operator %s location: %w", operatorID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Delivery, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return out, nil
}

func scanDelivery(row pgx.Row) (*domain.Delivery, error) {
	var (
		d                domain.Delivery
		lastLat, lastLng *float64
	)
	if err := row.Scan(
		&d.ID, &d.Status,
		&d.Pickup.Coordinate.Lat, &d.Pickup.Coordinate.Lng, &d.Pickup.Address,
		&d.Dropoff.Coordinate.Lat, &d.Dropoff.Coordinate.Lng, &d.Dropoff.Address,
		&d.AssignedOperatorID, &d.Priority, &d.AssignedAt,
		&d.StartedAt, &d.ArrivedAt, &d.CompletedAt, &d.CancelledAt,
		&lastLat, &lastLng, &d.LastLocationAt,
		&d.Notes, &d.Rating, &d.CancelReason,
	); err != nil {
		return nil, err
	}
	if lastLat != nil && lastLng != nil {
		d.LastKnownOperatorLocation = &geo.Coordinate{Lat: *lastLat, Lng: *lastLng}
	}
	return &d, nil
}
