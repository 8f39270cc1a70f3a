package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"metalwatch/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	appendHistorySQL = `INSERT INTO price_history (
        asset,
        amount,
        recorded_at,
        source
    ) VALUES ($1,$2,$3,$4);`

	closestHistorySQL = `SELECT
        id, asset, amount, recorded_at, source
    FROM price_history
    WHERE asset = $1
      AND recorded_at BETWEEN $2 AND $3
    ORDER BY ABS(EXTRACT(EPOCH FROM (recorded_at - $4)))
    LIMIT 1;`

	historyBetweenSQL = `SELECT
        id, asset, amount, recorded_at, source
    FROM price_history
    WHERE asset = $1
      AND recorded_at >= $2
      AND recorded_at < $3
    ORDER BY recorded_at;`

	recentHistorySQL = `SELECT
        id, asset, amount, recorded_at, source
    FROM price_history
    ORDER BY recorded_at DESC
    LIMIT $1;`

	upsertCalibrationSQL = `INSERT INTO calibration_ratios (
        instrument,
        ratio_date,
        instrument_ratio,
        proxy_price,
        spot_price_used,
        updated_at
    ) VALUES ($1,$2,$3,$4,$5,NOW())
    ON CONFLICT (instrument, ratio_date) DO UPDATE
    SET instrument_ratio = EXCLUDED.instrument_ratio,
        proxy_price      = EXCLUDED.proxy_price,
        spot_price_used  = EXCLUDED.spot_price_used,
        updated_at       = NOW();`

	getCalibrationSQL = `SELECT
        instrument, ratio_date, instrument_ratio, proxy_price, spot_price_used, updated_at
    FROM calibration_ratios
    WHERE instrument = $1 AND ratio_date = $2;`

	latestCalibrationSQL = `SELECT
        instrument, ratio_date, instrument_ratio, proxy_price, spot_price_used, updated_at
    FROM calibration_ratios
    WHERE instrument = $1 AND ratio_date <= $2
    ORDER BY ratio_date DESC
    LIMIT 1;`

	createAlertSQL = `INSERT INTO alerts (
        owner_ref, asset, target_price, direction, enabled
    ) VALUES ($1,$2,$3,$4,TRUE)
    RETURNING id, created_at;`

	deleteAlertSQL = `DELETE FROM alerts WHERE id = $1;`

	listAlertsByOwnerSQL = `SELECT
        id, owner_ref, asset, target_price, direction, enabled, triggered, triggered_at, triggered_price, created_at
    FROM alerts
    WHERE owner_ref = $1
    ORDER BY id;`

	listActiveAlertsSQL = `SELECT
        id, owner_ref, asset, target_price, direction, enabled, triggered, triggered_at, triggered_price, created_at
    FROM alerts
    WHERE enabled = TRUE AND triggered = FALSE
    ORDER BY id;`

	markAlertTriggeredSQL = `UPDATE alerts
    SET triggered = TRUE, triggered_at = $2, triggered_price = $3
    WHERE id = $1 AND triggered = FALSE;`

	registerTokenSQL = `INSERT INTO device_tokens (owner_ref, token)
    VALUES ($1,$2)
    ON CONFLICT (owner_ref, token) DO NOTHING;`

	removeTokenSQL = `DELETE FROM device_tokens WHERE owner_ref = $1 AND token = $2;`

	listTokensSQL = `SELECT token FROM device_tokens WHERE owner_ref = $1 ORDER BY id;`

	appendAuditSQL = `INSERT INTO notification_audit (
        alert_id, destination_token, requested_price, delivered, receipt_id, error_detail
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// HistoryStore defines persistence for resolved price history.
type HistoryStore interface {
	AppendPriceHistory(ctx context.Context, rec PriceHistoryRecord) error
	ClosestPriceRecord(ctx context.Context, asset domain.Asset, target time.Time, tolerance time.Duration) (*PriceHistoryRecord, error)
	ListHistoryBetween(ctx context.Context, asset domain.Asset, from, to time.Time) ([]PriceHistoryRecord, error)
	ListRecentHistory(ctx context.Context, limit int) ([]PriceHistoryRecord, error)
}

// CalibrationStore defines persistence for daily calibration ratios.
type CalibrationStore interface {
	GetCalibrationRatio(ctx context.Context, instrument string, date time.Time) (*CalibrationRatio, error)
	UpsertCalibrationRatio(ctx context.Context, ratio CalibrationRatio) error
	LatestCalibrationOnOrBefore(ctx context.Context, instrument string, date time.Time) (*CalibrationRatio, error)
}

// AlertStore defines alert persistence including the conditional
// triggered transition.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert Alert) (Alert, error)
	DeleteAlert(ctx context.Context, id int64) error
	ListAlertsByOwner(ctx context.Context, ownerRef string) ([]Alert, error)
	ListActiveAlerts(ctx context.Context) ([]Alert, error)
	MarkAlertTriggered(ctx context.Context, id int64, price decimal.Decimal, at time.Time) (bool, error)
}

// DeviceTokenStore manages delivery destinations per owner.
type DeviceTokenStore interface {
	RegisterDeviceToken(ctx context.Context, ownerRef, token string) error
	RemoveDeviceToken(ctx context.Context, ownerRef, token string) error
	ListDeviceTokens(ctx context.Context, ownerRef string) ([]string, error)
}

// AuditStore appends notification audit rows.
type AuditStore interface {
	AppendNotificationRecord(ctx context.Context, rec NotificationRecord) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates all persistence concerns behind one pgx pool.
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

// AppendPriceHistory appends one resolved-price row.
func (s *Store) AppendPriceHistory(ctx context.Context, rec PriceHistoryRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, appendHistorySQL,
		string(rec.Asset),
		rec.Amount.String(),
		rec.RecordedAt,
		rec.Source,
	); execErr != nil {
		return fmt.Errorf("append price history: %w", execErr)
	}
	return nil
}

// ClosestPriceRecord returns the history row nearest to target within
// ±tolerance, or nil when none exists.
func (s *Store) ClosestPriceRecord(ctx context.Context, asset domain.Asset, target time.Time, tolerance time.Duration) (*PriceHistoryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	from := target.Add(-tolerance)
	to := target.Add(tolerance)

	row := pool.QueryRow(ctx, closestHistorySQL, string(asset), from, to, target)
	rec, scanErr := scanHistoryRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("closest price record: %w", scanErr)
	}
	return &rec, nil
}

// ListHistoryBetween lists history rows for one asset within a window.
func (s *Store) ListHistoryBetween(ctx context.Context, asset domain.Asset, from, to time.Time) ([]PriceHistoryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, historyBetweenSQL, string(asset), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list history between: %w", queryErr)
	}
	defer rows.Close()

	return collectHistoryRows(rows)
}

// ListRecentHistory lists the newest rows across all assets.
func (s *Store) ListRecentHistory(ctx context.Context, limit int) ([]PriceHistoryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, recentHistorySQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent history: %w", queryErr)
	}
	defer rows.Close()

	return collectHistoryRows(rows)
}

// UpsertCalibrationRatio inserts or overwrites the ratio for a day.
func (s *Store) UpsertCalibrationRatio(ctx context.Context, ratio CalibrationRatio) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, upsertCalibrationSQL,
		ratio.Instrument,
		ratio.RatioDate,
		ratio.InstrumentRatio.String(),
		ratio.ProxyPrice.String(),
		ratio.SpotPriceUsed.String(),
	); execErr != nil {
		return fmt.Errorf("upsert calibration ratio: %w", execErr)
	}
	return nil
}

// GetCalibrationRatio fetches the ratio for an exact date, nil when absent.
func (s *Store) GetCalibrationRatio(ctx context.Context, instrument string, date time.Time) (*CalibrationRatio, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, getCalibrationSQL, instrument, date)
	ratio, scanErr := scanCalibrationRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get calibration ratio: %w", scanErr)
	}
	return &ratio, nil
}

// LatestCalibrationOnOrBefore returns the newest ratio dated <= date.
func (s *Store) LatestCalibrationOnOrBefore(ctx context.Context, instrument string, date time.Time) (*CalibrationRatio, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, latestCalibrationSQL, instrument, date)
	ratio, scanErr := scanCalibrationRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest calibration: %w", scanErr)
	}
	return &ratio, nil
}

// CreateAlert inserts a new enabled alert.
func (s *Store) CreateAlert(ctx context.Context, alert Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	row := pool.QueryRow(ctx, createAlertSQL,
		alert.OwnerRef,
		string(alert.Asset),
		alert.TargetPrice.String(),
		alert.Direction,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return Alert{}, fmt.Errorf("create alert: %w", scanErr)
	}
	alert.Enabled = true
	return alert, nil
}

// DeleteAlert removes an alert.
func (s *Store) DeleteAlert(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertSQL, id); execErr != nil {
		return fmt.Errorf("delete alert: %w", execErr)
	}
	return nil
}

// ListAlertsByOwner lists every alert belonging to an owner.
func (s *Store) ListAlertsByOwner(ctx context.Context, ownerRef string) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsByOwnerSQL, ownerRef)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts by owner: %w", queryErr)
	}
	defer rows.Close()

	return collectAlertRows(rows)
}

// ListActiveAlerts lists alerts with enabled=true and triggered=false.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlertRows(rows)
}

// MarkAlertTriggered performs the conditional triggered transition. The
// boolean result reports whether this caller won the write; false means
// the alert was already triggered (or deleted) elsewhere.
func (s *Store) MarkAlertTriggered(ctx context.Context, id int64, price decimal.Decimal, at time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, markAlertTriggeredSQL, id, at, price.String())
	if execErr != nil {
		return false, fmt.Errorf("mark alert triggered: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// RegisterDeviceToken records a delivery destination; duplicates are ignored.
func (s *Store) RegisterDeviceToken(ctx context.Context, ownerRef, token string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, registerTokenSQL, ownerRef, token); execErr != nil {
		return fmt.Errorf("register device token: %w", execErr)
	}
	return nil
}

// RemoveDeviceToken deletes a delivery destination.
func (s *Store) RemoveDeviceToken(ctx context.Context, ownerRef, token string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, removeTokenSQL, ownerRef, token); execErr != nil {
		return fmt.Errorf("remove device token: %w", execErr)
	}
	return nil
}

// ListDeviceTokens lists tokens registered for an owner.
func (s *Store) ListDeviceTokens(ctx context.Context, ownerRef string) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTokensSQL, ownerRef)
	if queryErr != nil {
		return nil, fmt.Errorf("list device tokens: %w", queryErr)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tokens, nil
}

// AppendNotificationRecord writes one audit row for a dispatch attempt.
func (s *Store) AppendNotificationRecord(ctx context.Context, rec NotificationRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var receipt interface{}
	if rec.ReceiptID != nil {
		receipt = *rec.ReceiptID
	}
	var errDetail interface{}
	if rec.ErrorDetail != nil {
		errDetail = *rec.ErrorDetail
	}

	if _, execErr := pool.Exec(ctx, appendAuditSQL,
		rec.AlertID,
		rec.DestinationToken,
		rec.RequestedPrice.String(),
		rec.Delivered,
		receipt,
		errDetail,
	); execErr != nil {
		return fmt.Errorf("append notification record: %w", execErr)
	}
	return nil
}

func scanHistoryRow(row pgx.Row) (PriceHistoryRecord, error) {
	var (
		rec       PriceHistoryRecord
		asset     string
		amountStr string
	)
	if err := row.Scan(&rec.ID, &asset, &amountStr, &rec.RecordedAt, &rec.Source); err != nil {
		return PriceHistoryRecord{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return PriceHistoryRecord{}, fmt.Errorf("parse amount: %w", err)
	}
	rec.Asset = domain.Asset(asset)
	rec.Amount = amount
	return rec, nil
}

func collectHistoryRows(rows pgx.Rows) ([]PriceHistoryRecord, error) {
	records := make([]PriceHistoryRecord, 0)
	for rows.Next() {
		rec, err := scanHistoryRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanCalibrationRow(row pgx.Row) (CalibrationRatio, error) {
	var (
		ratio    CalibrationRatio
		ratioStr string
		proxyStr string
		spotStr  string
	)
	if err := row.Scan(
		&ratio.Instrument,
		&ratio.RatioDate,
		&ratioStr,
		&proxyStr,
		&spotStr,
		&ratio.UpdatedAt,
	); err != nil {
		return CalibrationRatio{}, err
	}

	var err error
	ratio.InstrumentRatio, err = decimal.NewFromString(ratioStr)
	if err != nil {
		return CalibrationRatio{}, fmt.Errorf("parse instrument ratio: %w", err)
	}
	ratio.ProxyPrice, err = decimal.NewFromString(proxyStr)
	if err != nil {
		return CalibrationRatio{}, fmt.Errorf("parse proxy price: %w", err)
	}
	ratio.SpotPriceUsed, err = decimal.NewFromString(spotStr)
	if err != nil {
		return CalibrationRatio{}, fmt.Errorf("parse spot price: %w", err)
	}
	return ratio, nil
}

func collectAlertRows(rows pgx.Rows) ([]Alert, error) {
	alerts := make([]Alert, 0)
	for rows.Next() {
		var (
			alert        Alert
			asset        string
			targetStr    string
			triggeredAt  sql.NullTime
			triggeredStr sql.NullString
		)
		if err := rows.Scan(
			&alert.ID,
			&alert.OwnerRef,
			&asset,
			&targetStr,
			&alert.Direction,
			&alert.Enabled,
			&alert.Triggered,
			&triggeredAt,
			&triggeredStr,
			&alert.CreatedAt,
		); err != nil {
			return nil, err
		}

		target, err := decimal.NewFromString(targetStr)
		if err != nil {
			return nil, fmt.Errorf("parse target price: %w", err)
		}
		alert.Asset = domain.Asset(asset)
		alert.TargetPrice = target

		if triggeredAt.Valid {
			at := triggeredAt.Time
			alert.TriggeredAt = &at
		}
		if triggeredStr.Valid {
			price, err := decimal.NewFromString(triggeredStr.String)
			if err != nil {
				return nil, fmt.Errorf("parse triggered price: %w", err)
			}
			alert.TriggeredPrice = &price
		}

		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

var (
	_ HistoryStore     = (*Store)(nil)
	_ CalibrationStore = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ DeviceTokenStore = (*Store)(nil)
	_ AuditStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
