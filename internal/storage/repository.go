package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"bullionwatch/internal/scheduler"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertSnapshotSQL = `INSERT INTO rate_snapshots (
        id,
        as_of,
        source,
        gold_rate,
        silver_rate,
        gold_value,
        silver_value,
        gold_baseline,
        silver_baseline,
        gold_delta,
        silver_delta,
        is_estimate
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (as_of, source) DO NOTHING;`

	snapshotColumns = `id,
        as_of,
        source,
        gold_rate,
        silver_rate,
        gold_value::text,
        silver_value::text,
        gold_baseline,
        silver_baseline,
        gold_delta,
        silver_delta,
        is_estimate,
        created_at`

	listSnapshotsBetweenSQL = `SELECT ` + snapshotColumns + `
    FROM rate_snapshots
    WHERE as_of >= $1
      AND as_of < $2
    ORDER BY as_of;`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM rate_snapshots
    ORDER BY as_of DESC
    LIMIT $1;`

	countSnapshotsSQL = `SELECT COUNT(*) FROM rate_snapshots;`

	loadScheduleSQL = `SELECT enabled, last_fired_at, next_deadline FROM schedule_state WHERE id = 1;`

	saveScheduleSQL = `INSERT INTO schedule_state (id, enabled, last_fired_at, next_deadline, updated_at)
    VALUES (1, $1, $2, $3, now())
    ON CONFLICT (id) DO UPDATE
    SET enabled       = EXCLUDED.enabled,
        last_fired_at = EXCLUDED.last_fired_at,
        next_deadline = EXCLUDED.next_deadline,
        updated_at    = now();`

	insertAlertSQL = `INSERT INTO alerts (
        snapshot_id,
        kind,
        metal,
        delta,
        threshold,
        message
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        snapshot_id,
        kind,
        COALESCE(metal, ''),
        delta,
        threshold,
        message,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore defines operations for snapshot history.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, rec SnapshotRecord) (bool, error)
	ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error)
	CountSnapshots(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to snapshots, schedule state and alerts.
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

// InsertSnapshot stores a snapshot. It reports false when a row with the
// same as_of and source already exists.
func (s *Store) InsertSnapshot(ctx context.Context, rec SnapshotRecord) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, insertSnapshotSQL,
		rec.ID,
		rec.AsOf,
		rec.Source,
		rec.GoldRate,
		rec.SilverRate,
		numericArg(rec.GoldValue),
		numericArg(rec.SilverValue),
		rec.GoldBaseline,
		rec.SilverBaseline,
		rec.GoldDelta,
		rec.SilverDelta,
		rec.IsEstimate,
	)
	if execErr != nil {
		return false, fmt.Errorf("insert snapshot: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListSnapshotsBetween lists snapshots within a time window.
func (s *Store) ListSnapshotsBetween(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	return collectSnapshots(rows, 0)
}

// ListRecentSnapshots lists the most recent snapshots, newest first.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	return collectSnapshots(rows, limit)
}

// CountSnapshots counts stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count snapshots: %w", scanErr)
	}
	return count, nil
}

// LoadSchedule implements scheduler.StateStore.
func (s *Store) LoadSchedule(ctx context.Context) (scheduler.State, error) {
	pool, err := s.getPool()
	if err != nil {
		return scheduler.State{}, err
	}

	var st scheduler.State
	scanErr := pool.QueryRow(ctx, loadScheduleSQL).Scan(&st.Enabled, &st.LastFiredAt, &st.NextDeadline)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return scheduler.State{}, scheduler.ErrNoState
	}
	if scanErr != nil {
		return scheduler.State{}, fmt.Errorf("load schedule state: %w", scanErr)
	}
	return st, nil
}

// SaveSchedule implements scheduler.StateStore.
func (s *Store) SaveSchedule(ctx context.Context, st scheduler.State) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, saveScheduleSQL, st.Enabled, st.LastFiredAt, st.NextDeadline); execErr != nil {
		return fmt.Errorf("save schedule state: %w", execErr)
	}
	return nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	var metal any
	if alert.Metal != "" {
		metal = alert.Metal
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.SnapshotID,
		alert.Kind,
		metal,
		alert.Delta,
		alert.Threshold,
		alert.Message,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
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

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.SnapshotID,
			&rec.Kind,
			&rec.Metal,
			&rec.Delta,
			&rec.Threshold,
			&rec.Message,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectSnapshots(rows pgx.Rows, capacity int) ([]SnapshotRecord, error) {
	defer rows.Close()

	records := make([]SnapshotRecord, 0, capacity)
	for rows.Next() {
		rec, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanSnapshot(rows pgx.Rows) (SnapshotRecord, error) {
	var (
		rec                    SnapshotRecord
		goldValue, silverValue *string
	)

	if err := rows.Scan(
		&rec.ID,
		&rec.AsOf,
		&rec.Source,
		&rec.GoldRate,
		&rec.SilverRate,
		&goldValue,
		&silverValue,
		&rec.GoldBaseline,
		&rec.SilverBaseline,
		&rec.GoldDelta,
		&rec.SilverDelta,
		&rec.IsEstimate,
		&rec.CreatedAt,
	); err != nil {
		return SnapshotRecord{}, err
	}

	var err error
	if rec.GoldValue, err = parseNumeric(goldValue); err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse gold value: %w", err)
	}
	if rec.SilverValue, err = parseNumeric(silverValue); err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse silver value: %w", err)
	}
	return rec, nil
}

func numericArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNumeric(v *string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var (
	_ SnapshotStore        = (*Store)(nil)
	_ AlertStore           = (*Store)(nil)
	_ AdvisoryLocker       = (*Store)(nil)
	_ scheduler.StateStore = (*Store)(nil)
)
