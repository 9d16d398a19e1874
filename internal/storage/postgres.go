// Package storage is the registry/audit sink: it persists validation
// verdicts, execution telemetry summaries and violations emitted by the
// engine. The engine runs fine without it; persistence and retention are
// the registry's concern, not the sandbox's.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps a PostgreSQL connection pool for the plugin registry.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogValidation inserts a validation verdict into the registry.
func (db *DB) LogValidation(ctx context.Context, rec *ValidationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO plugin_validations (id, plugin_id, plugin_name, content_hash,
			signature_valid, risk_score, risk_factors, status, quarantine_reason, validated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.PluginID, rec.PluginName, rec.ContentHash,
		rec.SignatureValid, rec.RiskScore, rec.RiskFactors,
		rec.Status, rec.QuarantineReason, rec.ValidatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting validation: %w", err)
	}
	return nil
}

// LogExecution inserts an execution telemetry summary.
func (db *DB) LogExecution(ctx context.Context, rec *ExecutionRecord) error {
	query := `
		INSERT INTO plugin_executions (sandbox_id, plugin_id, status, duration_ms,
			peak_memory_mb, peak_cpu_percent, sample_count, violation_count,
			started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := db.pool.Exec(ctx, query,
		rec.SandboxID, rec.PluginID, rec.Status, rec.DurationMS,
		rec.PeakMemoryMB, rec.PeakCPUPercent, rec.SampleCount,
		rec.ViolationCount, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// LogViolation inserts a violation record.
func (db *DB) LogViolation(ctx context.Context, rec *ViolationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO plugin_violations (id, sandbox_id, plugin_id, type, severity, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.SandboxID, rec.PluginID, rec.Type,
		rec.Severity, rec.Description, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting violation: %w", err)
	}
	return nil
}

// GetValidation retrieves a single validation by ID.
func (db *DB) GetValidation(ctx context.Context, id string) (*ValidationRecord, error) {
	query := `
		SELECT id, plugin_id, plugin_name, content_hash, signature_valid,
			risk_score, risk_factors, status, quarantine_reason, validated_at
		FROM plugin_validations WHERE id = $1`

	var rec ValidationRecord
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.PluginID, &rec.PluginName, &rec.ContentHash,
		&rec.SignatureValid, &rec.RiskScore, &rec.RiskFactors,
		&rec.Status, &rec.QuarantineReason, &rec.ValidatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("querying validation %s: %w", id, err)
	}
	return &rec, nil
}

// ListValidations queries validations with optional filters.
func (db *DB) ListValidations(ctx context.Context, filter ValidationFilter) ([]ValidationRecord, error) {
	query := `
		SELECT id, plugin_id, plugin_name, content_hash, signature_valid,
			risk_score, status, validated_at
		FROM plugin_validations
		WHERE ($1 = '' OR plugin_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY validated_at DESC
		LIMIT $3 OFFSET $4`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query,
		filter.PluginID, filter.Status, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying validations: %w", err)
	}
	defer rows.Close()

	var results []ValidationRecord
	for rows.Next() {
		var rec ValidationRecord
		if err := rows.Scan(
			&rec.ID, &rec.PluginID, &rec.PluginName, &rec.ContentHash,
			&rec.SignatureValid, &rec.RiskScore, &rec.Status, &rec.ValidatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning validation row: %w", err)
		}
		results = append(results, rec)
	}

	return results, rows.Err()
}
