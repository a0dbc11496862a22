package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertEventSQL = `INSERT INTO vault_events (
        vault_id,
        kind,
        actor,
        amount,
        proposal_hash
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, vault_id, kind, actor, amount, proposal_hash, created_at;`

	listRecentEventsSQL = `SELECT
        id,
        vault_id,
        kind,
        actor,
        amount,
        proposal_hash,
        created_at
    FROM vault_events
    WHERE vault_id = $1
    ORDER BY created_at DESC
    LIMIT $2;`

	upsertMetricsSampleSQL = `INSERT INTO metrics_samples (
        vault_id,
        bucket_ts,
        tvl,
        daily_volume,
        apy,
        risk_score,
        healthy
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (vault_id, bucket_ts) DO UPDATE
    SET
        tvl          = EXCLUDED.tvl,
        daily_volume = EXCLUDED.daily_volume,
        apy          = EXCLUDED.apy,
        risk_score   = EXCLUDED.risk_score,
        healthy      = EXCLUDED.healthy;`

	listSamplesBetweenSQL = `SELECT
        vault_id,
        bucket_ts,
        tvl,
        daily_volume,
        apy,
        risk_score,
        healthy,
        created_at
    FROM metrics_samples
    WHERE vault_id = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	insertAlertSQL = `INSERT INTO risk_alerts (
        id,
        vault_id,
        severity,
        condition,
        active
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (id) DO NOTHING;`

	resolveAlertSQL = `UPDATE risk_alerts
    SET active = FALSE, resolved_at = $2, resolved_by = $3
    WHERE id = $1;`

	listActiveAlertsSQL = `SELECT
        id,
        vault_id,
        severity,
        condition,
        active,
        created_at,
        resolved_at,
        resolved_by
    FROM risk_alerts
    WHERE active
    ORDER BY created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        vault_id,
        severity,
        condition,
        active,
        created_at,
        resolved_at,
        resolved_by
    FROM risk_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// EventStore defines operations for the vault audit trail.
type EventStore interface {
	InsertEvent(ctx context.Context, event EventRecord) (EventRecord, error)
	ListRecentEvents(ctx context.Context, vaultID string, limit int) ([]EventRecord, error)
}

// MetricsStore defines operations for risk metrics persistence.
type MetricsStore interface {
	UpsertMetricsSample(ctx context.Context, sample MetricsSample) error
	ListSamplesBetween(ctx context.Context, vaultID string, from, to time.Time) ([]MetricsSample, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) error
	MarkAlertResolved(ctx context.Context, id uuid.UUID, resolvedBy string, at time.Time) error
	ListActiveAlerts(ctx context.Context) ([]AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to vault events, metrics samples, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertEvent appends an audit event.
func (s *Store) InsertEvent(ctx context.Context, event EventRecord) (EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return EventRecord{}, err
	}

	amount := strconv.FormatUint(event.Amount, 10)

	var proposal interface{}
	if event.Proposal != nil {
		proposal = *event.Proposal
	}

	row := pool.QueryRow(ctx, insertEventSQL,
		event.VaultID,
		event.Kind,
		event.Actor,
		amount,
		proposal,
	)

	rec, scanErr := scanEvent(row)
	if scanErr != nil {
		return EventRecord{}, fmt.Errorf("insert event: %w", scanErr)
	}
	return rec, nil
}

// ListRecentEvents lists the most recent audit events for a vault.
func (s *Store) ListRecentEvents(ctx context.Context, vaultID string, limit int) ([]EventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, vaultID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]EventRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// UpsertMetricsSample persists or updates a metrics observation.
func (s *Store) UpsertMetricsSample(ctx context.Context, sample MetricsSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertMetricsSampleSQL,
		sample.VaultID,
		sample.Bucket,
		sample.TVL.String(),
		sample.DailyVolume.String(),
		sample.APY.String(),
		sample.RiskScore.String(),
		sample.Healthy,
	)
	if execErr != nil {
		return fmt.Errorf("upsert metrics sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples for a vault within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, vaultID string, from, to time.Time) ([]MetricsSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, vaultID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]MetricsSample, 0)
	for rows.Next() {
		sample, scanErr := scanMetricsSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// InsertAlert persists a raised alert. Replaying an id is a no-op.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, insertAlertSQL,
		alert.ID,
		alert.VaultID,
		alert.Severity,
		alert.Condition,
		alert.Active,
	); execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}

// MarkAlertResolved records an operator acknowledgement.
func (s *Store) MarkAlertResolved(ctx context.Context, id uuid.UUID, resolvedBy string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, resolveAlertSQL, id, at, resolvedBy)
	if execErr != nil {
		return fmt.Errorf("mark alert resolved: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListActiveAlerts lists unresolved alerts, oldest first.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListRecentAlerts lists most recent alerts regardless of state.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

func collectAlerts(rows pgx.Rows) ([]AlertRecord, error) {
	alerts := make([]AlertRecord, 0)
	for rows.Next() {
		var (
			rec        AlertRecord
			resolvedAt sql.NullTime
			resolvedBy sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.VaultID,
			&rec.Severity,
			&rec.Condition,
			&rec.Active,
			&rec.CreatedAt,
			&resolvedAt,
			&resolvedBy,
		); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			value := resolvedAt.Time
			rec.ResolvedAt = &value
		}
		if resolvedBy.Valid {
			value := resolvedBy.String
			rec.ResolvedBy = &value
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanEvent(row pgx.Row) (EventRecord, error) {
	var (
		rec       EventRecord
		amountStr string
		proposal  sql.NullString
	)
	if err := row.Scan(
		&rec.ID,
		&rec.VaultID,
		&rec.Kind,
		&rec.Actor,
		&amountStr,
		&proposal,
		&rec.CreatedAt,
	); err != nil {
		return EventRecord{}, err
	}

	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return EventRecord{}, fmt.Errorf("parse event amount: %w", err)
	}
	rec.Amount = amount

	if proposal.Valid {
		value := proposal.String
		rec.Proposal = &value
	}
	return rec, nil
}

func scanMetricsSample(rows pgx.Rows) (MetricsSample, error) {
	var (
		sample    MetricsSample
		tvlStr    string
		volumeStr string
		apyStr    string
		riskStr   string
	)

	if err := rows.Scan(
		&sample.VaultID,
		&sample.Bucket,
		&tvlStr,
		&volumeStr,
		&apyStr,
		&riskStr,
		&sample.Healthy,
		&sample.CreatedAt,
	); err != nil {
		return MetricsSample{}, err
	}

	var err error
	sample.TVL, err = decimal.NewFromString(tvlStr)
	if err != nil {
		return MetricsSample{}, fmt.Errorf("parse tvl: %w", err)
	}
	sample.DailyVolume, err = decimal.NewFromString(volumeStr)
	if err != nil {
		return MetricsSample{}, fmt.Errorf("parse daily volume: %w", err)
	}
	sample.APY, err = decimal.NewFromString(apyStr)
	if err != nil {
		return MetricsSample{}, fmt.Errorf("parse apy: %w", err)
	}
	sample.RiskScore, err = decimal.NewFromString(riskStr)
	if err != nil {
		return MetricsSample{}, fmt.Errorf("parse risk score: %w", err)
	}

	return sample, nil
}
