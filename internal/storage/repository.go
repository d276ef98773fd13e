package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"lending-rate-alerts/internal/monitor"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	getStateSQL = `SELECT
        status,
        last_rate,
        last_notified_at,
        next_allowed_at,
        pending_notification,
        updated_at
    FROM target_states
    WHERE group_id = $1
      AND symbol = $2
      AND exchange = $3
      AND timeframe = $4;`

	upsertStateSQL = `INSERT INTO target_states (
        group_id,
        symbol,
        exchange,
        timeframe,
        status,
        last_rate,
        last_notified_at,
        next_allowed_at,
        pending_notification,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (group_id, symbol, exchange, timeframe) DO UPDATE
    SET
        status               = EXCLUDED.status,
        last_rate            = EXCLUDED.last_rate,
        last_notified_at     = EXCLUDED.last_notified_at,
        next_allowed_at      = EXCLUDED.next_allowed_at,
        pending_notification = EXCLUDED.pending_notification,
        updated_at           = EXCLUDED.updated_at;`

	listStatesSQL = `SELECT
        group_id,
        symbol,
        exchange,
        timeframe,
        status,
        last_rate,
        last_notified_at,
        next_allowed_at,
        pending_notification,
        updated_at
    FROM target_states
    ORDER BY group_id, symbol, exchange, timeframe;`

	listPendingSQL = `SELECT
        id,
        group_id,
        symbol,
        exchange,
        timeframe,
        kind,
        recipient,
        group_name,
        rate,
        threshold,
        history,
        scheduled_at,
        created_at
    FROM scheduled_notifications
    ORDER BY scheduled_at, created_at;`

	upsertPendingSQL = `INSERT INTO scheduled_notifications (
        id,
        group_id,
        symbol,
        exchange,
        timeframe,
        kind,
        recipient,
        group_name,
        rate,
        threshold,
        history,
        scheduled_at,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    ON CONFLICT (group_id, symbol, exchange, timeframe, kind) DO UPDATE
    SET
        recipient    = EXCLUDED.recipient,
        group_name   = EXCLUDED.group_name,
        rate         = EXCLUDED.rate,
        threshold    = EXCLUDED.threshold,
        history      = EXCLUDED.history,
        scheduled_at = EXCLUDED.scheduled_at;`

	deletePendingSQL = `DELETE FROM scheduled_notifications WHERE id = $1;`

	clearExpiredPendingFlagsSQL = `UPDATE target_states AS ts
    SET pending_notification = FALSE,
        updated_at           = now()
    FROM scheduled_notifications AS sn
    WHERE sn.created_at < $1
      AND ts.group_id = sn.group_id
      AND ts.symbol = sn.symbol
      AND ts.exchange = sn.exchange
      AND ts.timeframe = sn.timeframe;`

	deletePendingBeforeSQL = `DELETE FROM scheduled_notifications WHERE created_at < $1;`

	insertSampleSQL = `INSERT INTO rate_samples (
        group_id,
        symbol,
        exchange,
        timeframe,
        rate,
        threshold,
        status,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listSamplesBetweenSQL = `SELECT
        group_id,
        symbol,
        exchange,
        timeframe,
        rate,
        threshold,
        status,
        observed_at,
        created_at
    FROM rate_samples
    WHERE symbol = $1
      AND exchange = $2
      AND timeframe = $3
      AND observed_at >= $4
      AND observed_at < $5
    ORDER BY observed_at;`

	listRecentSamplesSQL = `SELECT
        group_id,
        symbol,
        exchange,
        timeframe,
        rate,
        threshold,
        status,
        observed_at,
        created_at
    FROM rate_samples
    ORDER BY observed_at DESC
    LIMIT $1;`

	deleteSamplesBeforeSQL = `DELETE FROM rate_samples WHERE observed_at < $1;`

	insertDispatchSQL = `INSERT INTO dispatch_log (
        group_id,
        symbol,
        exchange,
        timeframe,
        kind,
        recipient,
        rate,
        threshold,
        deferred,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	listRecentDispatchesSQL = `SELECT
        id,
        group_id,
        symbol,
        exchange,
        timeframe,
        kind,
        recipient,
        rate,
        threshold,
        deferred,
        error,
        created_at
    FROM dispatch_log
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteDispatchesBeforeSQL = `DELETE FROM dispatch_log WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to target state, the deferred queue, rate samples
// and the dispatch audit log.
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

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// GetState loads the hysteresis state for one key. The second return value
// reports whether a row existed.
func (s *Store) GetState(ctx context.Context, key monitor.StateKey) (monitor.TargetState, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return monitor.TargetState{}, false, err
	}

	row := pool.QueryRow(ctx, getStateSQL, key.GroupID, key.Target.Symbol, key.Target.Exchange, key.Target.Timeframe)

	var (
		status     string
		rateStr    string
		notifiedAt sql.NullTime
		allowedAt  sql.NullTime
		pending    bool
		updatedAt  time.Time
	)
	if scanErr := row.Scan(&status, &rateStr, &notifiedAt, &allowedAt, &pending, &updatedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return monitor.TargetState{}, false, nil
		}
		return monitor.TargetState{}, false, fmt.Errorf("get state: %w", scanErr)
	}

	rate, convErr := decimal.NewFromString(rateStr)
	if convErr != nil {
		return monitor.TargetState{}, false, fmt.Errorf("parse last rate: %w", convErr)
	}

	state := monitor.TargetState{
		Status:              monitor.Status(status),
		LastRate:            rate,
		PendingNotification: pending,
		UpdatedAt:           updatedAt,
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		state.LastNotifiedAt = &t
	}
	if allowedAt.Valid {
		t := allowedAt.Time
		state.NextAllowedAt = &t
	}
	return state, true, nil
}

// SaveState persists the hysteresis state for one key.
func (s *Store) SaveState(ctx context.Context, key monitor.StateKey, state monitor.TargetState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var notifiedAt, allowedAt interface{}
	if state.LastNotifiedAt != nil {
		notifiedAt = *state.LastNotifiedAt
	}
	if state.NextAllowedAt != nil {
		allowedAt = *state.NextAllowedAt
	}

	_, execErr := pool.Exec(ctx, upsertStateSQL,
		key.GroupID,
		key.Target.Symbol,
		key.Target.Exchange,
		key.Target.Timeframe,
		string(state.Status),
		state.LastRate.String(),
		notifiedAt,
		allowedAt,
		state.PendingNotification,
		state.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("save state: %w", execErr)
	}
	return nil
}

// ListStates lists every persisted target state.
func (s *Store) ListStates(ctx context.Context) ([]StateRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listStatesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list states: %w", queryErr)
	}
	defer rows.Close()

	records := make([]StateRecord, 0)
	for rows.Next() {
		var (
			rec        StateRecord
			status     string
			rateStr    string
			notifiedAt sql.NullTime
			allowedAt  sql.NullTime
		)
		if err := rows.Scan(
			&rec.Key.GroupID,
			&rec.Key.Target.Symbol,
			&rec.Key.Target.Exchange,
			&rec.Key.Target.Timeframe,
			&status,
			&rateStr,
			&notifiedAt,
			&allowedAt,
			&rec.State.PendingNotification,
			&rec.State.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rate, convErr := decimal.NewFromString(rateStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse last rate: %w", convErr)
		}
		rec.State.Status = monitor.Status(status)
		rec.State.LastRate = rate
		if notifiedAt.Valid {
			t := notifiedAt.Time
			rec.State.LastNotifiedAt = &t
		}
		if allowedAt.Valid {
			t := allowedAt.Time
			rec.State.NextAllowedAt = &t
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListPending lists the deferred notifications ordered by scheduled time.
func (s *Store) ListPending(ctx context.Context) ([]monitor.PendingNotification, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPendingSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list pending: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]monitor.PendingNotification, 0)
	for rows.Next() {
		entry, scanErr := scanPending(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// SavePending upserts one deferred notification. The unique constraint on
// (key, kind) keeps at most one pending entry per target and direction.
func (s *Store) SavePending(ctx context.Context, entry monitor.PendingNotification) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	history, marshalErr := json.Marshal(entry.History)
	if marshalErr != nil {
		return fmt.Errorf("marshal pending history: %w", marshalErr)
	}

	_, execErr := pool.Exec(ctx, upsertPendingSQL,
		entry.ID,
		entry.Key.GroupID,
		entry.Key.Target.Symbol,
		entry.Key.Target.Exchange,
		entry.Key.Target.Timeframe,
		string(entry.Kind),
		entry.Recipient,
		entry.GroupName,
		entry.Rate.String(),
		entry.Threshold.String(),
		history,
		entry.ScheduledAt,
		entry.CreatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("save pending: %w", execErr)
	}
	return nil
}

// DeletePending removes one deferred notification by id. Deleting an id that
// is already gone is not an error, which makes sweep retries idempotent.
func (s *Store) DeletePending(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deletePendingSQL, id); execErr != nil {
		return fmt.Errorf("delete pending: %w", execErr)
	}
	return nil
}

// DeletePendingBefore drops deferred notifications created before the cutoff
// and clears the pending flag on their target states. The sweep normally
// expires these first; this is the housekeeping backstop.
func (s *Store) DeletePendingBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	if _, execErr := pool.Exec(ctx, clearExpiredPendingFlagsSQL, olderThan); execErr != nil {
		return 0, fmt.Errorf("clear expired pending flags: %w", execErr)
	}

	tag, execErr := pool.Exec(ctx, deletePendingBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete pending before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// RecordSample appends one observed rate to the history table.
func (s *Store) RecordSample(ctx context.Context, key monitor.StateKey, threshold decimal.Decimal, obs monitor.Observation, status monitor.Status) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSampleSQL,
		key.GroupID,
		key.Target.Symbol,
		key.Target.Exchange,
		key.Target.Timeframe,
		obs.Rate.String(),
		threshold.String(),
		string(status),
		obs.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("record sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples for one target key within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, target monitor.TargetKey, from, to time.Time) ([]RateSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, target.Symbol, target.Exchange, target.Timeframe, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]RateSample, 0)
	for rows.Next() {
		sample, scanErr := scanRateSample(rows)
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

// ListRecentSamples lists the most recent samples across all targets.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]RateSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]RateSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanRateSample(rows)
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

// DeleteSamplesBefore prunes historical samples.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete samples before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// InsertDispatch appends one dispatch attempt to the audit log.
func (s *Store) InsertDispatch(ctx context.Context, rec DispatchRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if rec.Error != nil {
		errMsg = *rec.Error
	}

	_, execErr := pool.Exec(ctx, insertDispatchSQL,
		rec.GroupID,
		rec.Target.Symbol,
		rec.Target.Exchange,
		rec.Target.Timeframe,
		string(rec.Kind),
		rec.Recipient,
		rec.Rate.String(),
		rec.Threshold.String(),
		rec.Deferred,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("insert dispatch: %w", execErr)
	}
	return nil
}

// ListRecentDispatches lists most recent dispatch attempts.
func (s *Store) ListRecentDispatches(ctx context.Context, limit int) ([]DispatchRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDispatchesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent dispatches: %w", queryErr)
	}
	defer rows.Close()

	records := make([]DispatchRecord, 0, limit)
	for rows.Next() {
		var (
			rec          DispatchRecord
			kind         string
			rateStr      string
			thresholdStr string
			errMsg       sql.NullString
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.GroupID,
			&rec.Target.Symbol,
			&rec.Target.Exchange,
			&rec.Target.Timeframe,
			&kind,
			&rec.Recipient,
			&rateStr,
			&thresholdStr,
			&rec.Deferred,
			&errMsg,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Kind = monitor.Kind(kind)
		rec.Rate, convErr = decimal.NewFromString(rateStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse dispatch rate: %w", convErr)
		}
		rec.Threshold, convErr = decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse dispatch threshold: %w", convErr)
		}
		if errMsg.Valid {
			msg := errMsg.String
			rec.Error = &msg
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// DeleteDispatchesBefore prunes historical dispatch log entries.
func (s *Store) DeleteDispatchesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteDispatchesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete dispatches before: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

func scanPending(rows pgx.Rows) (monitor.PendingNotification, error) {
	var (
		entry        monitor.PendingNotification
		kind         string
		rateStr      string
		thresholdStr string
		history      json.RawMessage
	)
	if err := rows.Scan(
		&entry.ID,
		&entry.Key.GroupID,
		&entry.Key.Target.Symbol,
		&entry.Key.Target.Exchange,
		&entry.Key.Target.Timeframe,
		&kind,
		&entry.Recipient,
		&entry.GroupName,
		&rateStr,
		&thresholdStr,
		&history,
		&entry.ScheduledAt,
		&entry.CreatedAt,
	); err != nil {
		return monitor.PendingNotification{}, err
	}

	entry.Kind = monitor.Kind(kind)

	var convErr error
	entry.Rate, convErr = decimal.NewFromString(rateStr)
	if convErr != nil {
		return monitor.PendingNotification{}, fmt.Errorf("parse pending rate: %w", convErr)
	}
	entry.Threshold, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return monitor.PendingNotification{}, fmt.Errorf("parse pending threshold: %w", convErr)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &entry.History); err != nil {
			return monitor.PendingNotification{}, fmt.Errorf("parse pending history: %w", err)
		}
	}
	return entry, nil
}

func scanRateSample(rows pgx.Rows) (RateSample, error) {
	var (
		sample       RateSample
		rateStr      string
		thresholdStr string
		status       string
	)
	if err := rows.Scan(
		&sample.Key.GroupID,
		&sample.Key.Target.Symbol,
		&sample.Key.Target.Exchange,
		&sample.Key.Target.Timeframe,
		&rateStr,
		&thresholdStr,
		&status,
		&sample.ObservedAt,
		&sample.CreatedAt,
	); err != nil {
		return RateSample{}, err
	}

	var convErr error
	sample.Rate, convErr = decimal.NewFromString(rateStr)
	if convErr != nil {
		return RateSample{}, fmt.Errorf("parse sample rate: %w", convErr)
	}
	sample.Threshold, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return RateSample{}, fmt.Errorf("parse sample threshold: %w", convErr)
	}
	sample.Status = monitor.Status(status)
	return sample, nil
}

var (
	_ monitor.StateStore     = (*Store)(nil)
	_ monitor.PendingQueue   = (*Store)(nil)
	_ monitor.SampleRecorder = (*Store)(nil)
	_ AdvisoryLocker         = (*Store)(nil)
)
