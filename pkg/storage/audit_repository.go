// Package storage provides the Postgres-backed persistence layer for the
// conflict audit trail. The audit table is append only; resolution never
// updates a row in place.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/boardmesh/boardmesh/pkg/config"
	"github.com/boardmesh/boardmesh/pkg/models"
	"github.com/boardmesh/boardmesh/pkg/observability"
)

// AuditRepository persists conflict state transitions to Postgres. It
// satisfies the services.AuditStore interface.
type AuditRepository struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewAuditRepository creates a new audit repository instance
func NewAuditRepository(db *sqlx.DB, logger observability.Logger) *AuditRepository {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &AuditRepository{db: db, logger: logger}
}

// EnsureSchema creates the audit table when it does not exist yet
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS conflict_audit (
			id            UUID PRIMARY KEY,
			whiteboard_id TEXT NOT NULL,
			conflict_id   UUID NOT NULL,
			conflict_type TEXT NOT NULL,
			severity      TEXT NOT NULL,
			state         TEXT NOT NULL,
			strategy      TEXT NOT NULL DEFAULT '',
			user_ids      TEXT[] NOT NULL DEFAULT '{}',
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conflict_audit_board_time
			ON conflict_audit (whiteboard_id, created_at)`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}

// AppendAuditRecord inserts one state transition row
func (r *AuditRepository) AppendAuditRecord(ctx context.Context, record *models.AuditRecord) error {
	query := `
		INSERT INTO conflict_audit (
			id, whiteboard_id, conflict_id, conflict_type,
			severity, state, strategy, user_ids, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	result, err := r.db.ExecContext(ctx, query,
		record.ID, record.WhiteboardID, record.ConflictID, record.ConflictType,
		record.Severity, record.State, record.Strategy,
		pq.Array(record.UserIDs), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("no rows inserted")
	}
	return nil
}

// ListAuditRecords retrieves the transitions for a whiteboard inside a time
// range, oldest first. An empty whiteboard id lists across all whiteboards.
func (r *AuditRepository) ListAuditRecords(ctx context.Context, whiteboardID string, since, until time.Time) ([]*models.AuditRecord, error) {
	query := `
		SELECT
			id, whiteboard_id, conflict_id, conflict_type,
			severity, state, strategy, user_ids, created_at
		FROM conflict_audit
		WHERE ($1 = '' OR whiteboard_id = $1)
		  AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC`

	rows, err := r.db.QueryxContext(ctx, query, whiteboardID, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("failed to close audit rows", map[string]interface{}{"error": cerr.Error()})
		}
	}()

	var records []*models.AuditRecord
	for rows.Next() {
		var record models.AuditRecord
		var userIDs pq.StringArray
		err := rows.Scan(
			&record.ID, &record.WhiteboardID, &record.ConflictID, &record.ConflictType,
			&record.Severity, &record.State, &record.Strategy, &userIDs, &record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		record.UserIDs = []string(userIDs)
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

// PruneBefore deletes audit rows older than the cutoff and returns how many
// were removed. Retention is enforced by a periodic job, not on the write
// path.
func (r *AuditRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM conflict_audit WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit records: %w", err)
	}
	return result.RowsAffected()
}

// Ping verifies database connectivity for health checks
func (r *AuditRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Open connects to Postgres and verifies connectivity
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		closeQuiet(db)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func closeQuiet(db *sqlx.DB) {
	_ = db.Close()
}
