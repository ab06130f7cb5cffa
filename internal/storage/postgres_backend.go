package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"routecodex-go/internal/monitoring"
)

// PostgresBackend implements Backend on PostgreSQL. Payloads are JSONB
// columns; usage counters are one row per (key, field) with upsert
// increments. The schema is owned by cmd/migrate, not by this type.
type PostgresBackend struct {
	dsn string
	db  *sql.DB
}

// NewPostgresBackend creates a PostgreSQL storage backend. The
// connection is established in Initialize.
func NewPostgresBackend(dsn string) *PostgresBackend {
	return &PostgresBackend{dsn: dsn}
}

func (p *PostgresBackend) Initialize(ctx context.Context) error {
	db, err := sql.Open("postgres", p.dsn)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	// Schema presence check so a missed migration fails loud at startup
	// instead of on the first write.
	var reg sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('credential_states')`).Scan(&reg); err != nil {
		db.Close()
		return fmt.Errorf("check postgres schema: %w", err)
	}
	if !reg.Valid {
		db.Close()
		return errors.New("postgres schema missing, run the migrate command first")
	}

	p.db = db
	return nil
}

func (p *PostgresBackend) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresBackend) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Credential state operations

func (p *PostgresBackend) GetCredentialState(ctx context.Context, id string) (json.RawMessage, error) {
	var state []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT state FROM credential_states WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Key: id}
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (p *PostgresBackend) SetCredentialState(ctx context.Context, id string, state json.RawMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO credential_states (id, state, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		id, []byte(state))
	return err
}

func (p *PostgresBackend) DeleteCredentialState(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM credential_states WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Key: id}
	}
	return nil
}

func (p *PostgresBackend) ListCredentialStates(ctx context.Context) (map[string]json.RawMessage, error) {
	return p.listPayloads(ctx, `SELECT id, state FROM credential_states`)
}

// Health entry operations

func (p *PostgresBackend) GetHealthEntry(ctx context.Context, key string) (json.RawMessage, error) {
	var entry []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT entry FROM health_entries WHERE key = $1`, key).Scan(&entry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (p *PostgresBackend) SetHealthEntry(ctx context.Context, key string, entry json.RawMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO health_entries (key, entry, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET entry = EXCLUDED.entry, updated_at = now()`,
		key, []byte(entry))
	return err
}

func (p *PostgresBackend) DeleteHealthEntry(ctx context.Context, key string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM health_entries WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Key: key}
	}
	return nil
}

func (p *PostgresBackend) ListHealthEntries(ctx context.Context) (map[string]json.RawMessage, error) {
	return p.listPayloads(ctx, `SELECT key, entry FROM health_entries`)
}

// Usage operations

func (p *PostgresBackend) IncrementUsage(ctx context.Context, key string, field string, delta int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO usage_counters (key, field, value) VALUES ($1, $2, $3)
		ON CONFLICT (key, field) DO UPDATE SET value = usage_counters.value + EXCLUDED.value`,
		key, field, delta)
	return err
}

func (p *PostgresBackend) GetUsage(ctx context.Context, key string) (map[string]int64, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT field, value FROM usage_counters WHERE key = $1`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var field string
		var value int64
		if err := rows.Scan(&field, &value); err != nil {
			return nil, err
		}
		result[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, &ErrNotFound{Key: key}
	}
	return result, nil
}

func (p *PostgresBackend) ResetUsage(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM usage_counters WHERE key = $1`, key)
	return err
}

func (p *PostgresBackend) ListUsage(ctx context.Context) (map[string]map[string]int64, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT key, field, value FROM usage_counters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]map[string]int64)
	for rows.Next() {
		var key, field string
		var value int64
		if err := rows.Scan(&key, &field, &value); err != nil {
			return nil, err
		}
		if result[key] == nil {
			result[key] = make(map[string]int64)
		}
		result[key][field] = value
	}
	return result, rows.Err()
}

// Config document operations

func (p *PostgresBackend) GetConfigDoc(ctx context.Context, key string) (json.RawMessage, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM config_docs WHERE key = $1`, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *PostgresBackend) SetConfigDoc(ctx context.Context, key string, doc json.RawMessage) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO config_docs (key, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		key, []byte(doc))
	return err
}

func (p *PostgresBackend) DeleteConfigDoc(ctx context.Context, key string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM config_docs WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Key: key}
	}
	return nil
}

func (p *PostgresBackend) ListConfigDocs(ctx context.Context) (map[string]json.RawMessage, error) {
	return p.listPayloads(ctx, `SELECT key, doc FROM config_docs`)
}

// Batch operations

func (p *PostgresBackend) BatchGetCredentialStates(ctx context.Context, ids []string) (map[string]json.RawMessage, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, state FROM credential_states WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]json.RawMessage, len(ids))
	for rows.Next() {
		var id string
		var state []byte
		if err := rows.Scan(&id, &state); err != nil {
			return nil, err
		}
		result[id] = state
	}
	return result, rows.Err()
}

func (p *PostgresBackend) BatchSetCredentialStates(ctx context.Context, states map[string]json.RawMessage) error {
	if len(states) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO credential_states (id, state, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, state := range states {
		if _, err := stmt.ExecContext(ctx, id, []byte(state)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresBackend) BatchDeleteCredentialStates(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM credential_states WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

// PoolStats returns snapshot statistics about the connection pool.
func (p *PostgresBackend) PoolStats(ctx context.Context) (monitoring.StoragePoolStats, error) {
	if p.db == nil {
		return monitoring.StoragePoolStats{}, errors.New("postgres not initialized")
	}
	s := p.db.Stats()
	return monitoring.StoragePoolStats{
		Active: int64(s.InUse),
		Idle:   int64(s.Idle),
	}, nil
}

// ExportData exports all data for backup
func (p *PostgresBackend) ExportData(ctx context.Context) (*Export, error) {
	return exportDataCommon(ctx, "postgres", p)
}

// ImportData imports data from backup
func (p *PostgresBackend) ImportData(ctx context.Context, data *Export) error {
	return importDataCommon(ctx, p, data)
}

// GetStorageStats counts rows natively.
func (p *PostgresBackend) GetStorageStats(ctx context.Context) (StorageStats, error) {
	stats := StorageStats{Backend: "postgres", Healthy: true}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT count(*) FROM credential_states`, &stats.CredentialStateCount},
		{`SELECT count(*) FROM health_entries`, &stats.HealthEntryCount},
		{`SELECT count(DISTINCT key) FROM usage_counters`, &stats.UsageKeyCount},
		{`SELECT count(*) FROM config_docs`, &stats.ConfigDocCount},
	}
	for _, c := range counts {
		if err := p.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			stats.Healthy = false
			return stats, err
		}
	}

	var size sql.NullInt64
	if err := p.db.QueryRowContext(ctx, `
		SELECT pg_total_relation_size('credential_states')
		     + pg_total_relation_size('health_entries')
		     + pg_total_relation_size('usage_counters')
		     + pg_total_relation_size('config_docs')`).Scan(&size); err == nil && size.Valid {
		stats.TotalSize = size.Int64
	}
	return stats, nil
}

func (p *PostgresBackend) listPayloads(ctx context.Context, query string) (map[string]json.RawMessage, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, err
		}
		result[key] = payload
	}
	return result, rows.Err()
}
