package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"tradepipeline/internal/models"
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
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		converged INTEGER NOT NULL,
		risk_iterations INTEGER NOT NULL,
		order_count INTEGER NOT NULL,
		warnings TEXT,
		failure_stage TEXT,
		failure_reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		symbols TEXT,
		action TEXT NOT NULL,
		confidence REAL,
		reasoning TEXT,
		metrics TEXT,
		FOREIGN KEY (cycle_id) REFERENCES cycles(id)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		price REAL,
		time_in_force TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (cycle_id) REFERENCES cycles(id)
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_status ON cycles(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_cycle ON decisions(cycle_id);
	CREATE INDEX IF NOT EXISTS idx_orders_cycle ON orders(cycle_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveCycle persists a cycle report.
func (s *SQLiteStore) SaveCycle(ctx context.Context, report *models.CycleReport) error {
	warnings, err := json.Marshal(report.Warnings)
	if err != nil {
		return fmt.Errorf("marshaling warnings: %w", err)
	}

	converged := 0
	if report.Converged {
		converged = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycles
		(id, started_at, finished_at, status, converged, risk_iterations, order_count, warnings, failure_stage, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.StartedAt, report.FinishedAt, string(report.Status),
		converged, report.RiskIteration, report.OrderCount, string(warnings),
		report.FailureStage, report.FailureReason)
	if err != nil {
		return fmt.Errorf("saving cycle %s: %w", report.ID, err)
	}
	return nil
}

// GetCycles returns cycle reports matching the filter, newest first.
func (s *SQLiteStore) GetCycles(ctx context.Context, filter CycleFilter) ([]models.CycleReport, error) {
	query := `SELECT id, started_at, finished_at, status, converged, risk_iterations, order_count, warnings, failure_stage, failure_reason FROM cycles`
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.Since)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	var reports []models.CycleReport
	for rows.Next() {
		var r models.CycleReport
		var status, warnings string
		var converged int
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &status, &converged,
			&r.RiskIteration, &r.OrderCount, &warnings, &r.FailureStage, &r.FailureReason); err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		r.Status = models.CycleStatus(status)
		r.Converged = converged == 1
		if warnings != "" {
			if err := json.Unmarshal([]byte(warnings), &r.Warnings); err != nil {
				return nil, fmt.Errorf("unmarshaling warnings for %s: %w", r.ID, err)
			}
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// SaveDecision persists one stage decision.
func (s *SQLiteStore) SaveDecision(ctx context.Context, cycleID string, decision *models.Decision) error {
	symbols, err := json.Marshal(decision.Symbols)
	if err != nil {
		return fmt.Errorf("marshaling symbols: %w", err)
	}
	metrics, err := json.Marshal(decision.Metrics)
	if err != nil {
		return fmt.Errorf("marshaling metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (cycle_id, stage, timestamp, symbols, action, confidence, reasoning, metrics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cycleID, decision.Stage, decision.Timestamp, string(symbols),
		decision.Action, decision.Confidence, decision.Reasoning, string(metrics))
	if err != nil {
		return fmt.Errorf("saving decision for cycle %s: %w", cycleID, err)
	}
	return nil
}

// GetDecisions returns the stage decisions recorded for a cycle.
func (s *SQLiteStore) GetDecisions(ctx context.Context, cycleID string) ([]models.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage, timestamp, symbols, action, confidence, reasoning, metrics
		FROM decisions WHERE cycle_id = ? ORDER BY id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		var d models.Decision
		var symbols, metrics string
		if err := rows.Scan(&d.Stage, &d.Timestamp, &symbols, &d.Action, &d.Confidence, &d.Reasoning, &metrics); err != nil {
			return nil, fmt.Errorf("scanning decision: %w", err)
		}
		if symbols != "" {
			if err := json.Unmarshal([]byte(symbols), &d.Symbols); err != nil {
				return nil, fmt.Errorf("unmarshaling symbols: %w", err)
			}
		}
		if metrics != "" {
			if err := json.Unmarshal([]byte(metrics), &d.Metrics); err != nil {
				return nil, fmt.Errorf("unmarshaling metrics: %w", err)
			}
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// SaveOrders persists the orders emitted by a cycle in one transaction.
func (s *SQLiteStore) SaveOrders(ctx context.Context, cycleID string, orders []models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO orders (cycle_id, symbol, quantity, side, order_type, price, time_in_force, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing order insert: %w", err)
	}
	defer stmt.Close()

	for _, order := range orders {
		var price interface{}
		if order.HasPrice {
			price = order.Price
		}
		if _, err := stmt.ExecContext(ctx, cycleID, order.Symbol, order.Quantity,
			string(order.Side), string(order.Type), price, string(order.TimeInForce), order.CreatedAt); err != nil {
			return fmt.Errorf("saving order %s: %w", order.Symbol, err)
		}
	}

	return tx.Commit()
}

// GetOrders returns the orders persisted for a cycle.
func (s *SQLiteStore) GetOrders(ctx context.Context, cycleID string) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, quantity, side, order_type, price, time_in_force, created_at
		FROM orders WHERE cycle_id = ? ORDER BY id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		var side, orderType, tif string
		var price sql.NullFloat64
		if err := rows.Scan(&o.Symbol, &o.Quantity, &side, &orderType, &price, &tif, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		o.Side = models.TradeSide(side)
		o.Type = models.OrderType(orderType)
		o.TimeInForce = models.TimeInForce(tif)
		if price.Valid {
			o.Price = price.Float64
			o.HasPrice = true
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ DataStore = (*SQLiteStore)(nil)
