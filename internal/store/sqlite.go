package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Risk thresholds; an empty instrument is a portfolio-wide limit
	CREATE TABLE IF NOT EXISTS thresholds (
		account_id TEXT NOT NULL,
		instrument TEXT NOT NULL DEFAULT '',
		metric TEXT NOT NULL,
		limit_value REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (account_id, instrument, metric)
	);

	-- Per-account settings
	CREATE TABLE IF NOT EXISTS account_settings (
		account_id TEXT PRIMARY KEY,
		default_strategy TEXT NOT NULL DEFAULT '',
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Journal of delivered breaches and recommendations
	CREATE TABLE IF NOT EXISTS deliveries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		instrument TEXT NOT NULL DEFAULT '',
		metric TEXT NOT NULL,
		observed REAL NOT NULL,
		limit_value REAL NOT NULL,
		severity REAL NOT NULL,
		strategy TEXT NOT NULL DEFAULT '',
		estimated_cost TEXT NOT NULL DEFAULT '0',
		urgency TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_account ON deliveries(account_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unavailable(err error, op string) error {
	return errors.Join(errors.ErrStoreUnavailable, fmt.Errorf("failed to %s: %w", op, err))
}

// ============================================================================
// Threshold Methods
// ============================================================================

// GetThresholds returns the thresholds configured for an account.
func (s *SQLiteStore) GetThresholds(ctx context.Context, accountID string) ([]models.RiskThreshold, error) {
	return s.queryThresholds(ctx, `
		SELECT account_id, instrument, metric, limit_value
		FROM thresholds WHERE account_id = ?
		ORDER BY instrument, metric
	`, accountID)
}

// ListThresholds returns every threshold.
func (s *SQLiteStore) ListThresholds(ctx context.Context) ([]models.RiskThreshold, error) {
	return s.queryThresholds(ctx, `
		SELECT account_id, instrument, metric, limit_value
		FROM thresholds ORDER BY account_id, instrument, metric
	`)
}

func (s *SQLiteStore) queryThresholds(ctx context.Context, query string, args ...interface{}) ([]models.RiskThreshold, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "query thresholds")
	}
	defer rows.Close()

	var thresholds []models.RiskThreshold
	for rows.Next() {
		var t models.RiskThreshold
		var metric string
		if err := rows.Scan(&t.AccountID, &t.Instrument, &metric, &t.Limit); err != nil {
			return nil, unavailable(err, "scan threshold")
		}
		t.Metric = models.Metric(metric)
		thresholds = append(thresholds, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "read thresholds")
	}
	return thresholds, nil
}

// SetThreshold adds or replaces a threshold.
func (s *SQLiteStore) SetThreshold(ctx context.Context, t models.RiskThreshold) error {
	t, err := normalizeThreshold(t)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thresholds (account_id, instrument, metric, limit_value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, instrument, metric) DO UPDATE SET
			limit_value = excluded.limit_value,
			updated_at = excluded.updated_at
	`, t.AccountID, t.Instrument, string(t.Metric), t.Limit, time.Now())
	if err != nil {
		return unavailable(err, "save threshold")
	}
	return nil
}

// RemoveThreshold deletes a threshold.
func (s *SQLiteStore) RemoveThreshold(ctx context.Context, accountID, instrument string, metric models.Metric) error {
	instrument = models.NormalizeSymbol(instrument)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM thresholds WHERE account_id = ? AND instrument = ? AND metric = ?
	`, accountID, instrument, string(metric))
	if err != nil {
		return unavailable(err, "remove threshold")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return unavailable(err, "get rows affected")
	}
	if rowsAffected == 0 {
		key := thresholdKey(models.RiskThreshold{AccountID: accountID, Instrument: instrument, Metric: metric})
		return errors.NewLookupError("threshold", key, "not found", errors.ErrInvalidInput)
	}
	return nil
}

// ListAccounts returns every account with a threshold or a setting.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id FROM thresholds
		UNION
		SELECT account_id FROM account_settings
		ORDER BY account_id
	`)
	if err != nil {
		return nil, unavailable(err, "query accounts")
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable(err, "scan account")
		}
		accounts = append(accounts, id)
	}
	return accounts, rows.Err()
}

// ============================================================================
// Account Settings Methods
// ============================================================================

// DefaultStrategy returns the account's configured strategy, or "".
func (s *SQLiteStore) DefaultStrategy(ctx context.Context, accountID string) (string, error) {
	var strategy string
	err := s.db.QueryRowContext(ctx, `
		SELECT default_strategy FROM account_settings WHERE account_id = ?
	`, accountID).Scan(&strategy)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", unavailable(err, "query account settings")
	}
	return strategy, nil
}

// SetDefaultStrategy sets the account's strategy; "" clears it.
func (s *SQLiteStore) SetDefaultStrategy(ctx context.Context, accountID, strategy string) error {
	var err error
	if strategy == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM account_settings WHERE account_id = ?`, accountID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO account_settings (account_id, default_strategy, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(account_id) DO UPDATE SET
				default_strategy = excluded.default_strategy,
				updated_at = excluded.updated_at
		`, accountID, strategy, time.Now())
	}
	if err != nil {
		return unavailable(err, "save account settings")
	}
	return nil
}

// ============================================================================
// Journal Methods
// ============================================================================

// RecordDelivery appends a delivery to the journal. Costs are stored as
// decimal strings rounded to cents.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, d models.Delivery) error {
	e := EntryFor(d)
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cost := decimal.NewFromFloat(e.EstimatedCost).Round(2)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (id, account_id, instrument, metric, observed, limit_value, severity,
			strategy, estimated_cost, urgency, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.AccountID, e.Instrument, string(e.Metric), e.Observed, e.Limit, e.Severity,
		e.Strategy, cost.String(), e.Urgency, e.Reason, e.CreatedAt.UTC())
	if err != nil {
		return unavailable(err, "record delivery")
	}
	return nil
}

// History returns journal entries, newest first.
func (s *SQLiteStore) History(ctx context.Context, filter HistoryFilter) ([]JournalEntry, error) {
	query := `
		SELECT id, account_id, instrument, metric, observed, limit_value, severity,
			strategy, estimated_cost, urgency, reason, created_at
		FROM deliveries WHERE 1=1
	`
	var args []interface{}

	if filter.AccountID != "" {
		query += " AND account_id = ?"
		args = append(args, filter.AccountID)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err, "query deliveries")
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var metric, cost string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Instrument, &metric, &e.Observed, &e.Limit, &e.Severity,
			&e.Strategy, &cost, &e.Urgency, &e.Reason, &e.CreatedAt); err != nil {
			return nil, unavailable(err, "scan delivery")
		}
		e.Metric = models.Metric(metric)
		if d, err := decimal.NewFromString(cost); err == nil {
			e.EstimatedCost = d.InexactFloat64()
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
