// Package store persists sandbox state to SQLite so a restart resumes the
// order book, positions, holdings and funds where the last run left off.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"sandbox-trader/internal/models"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the sandbox database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id             TEXT PRIMARY KEY,
		account        TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		exchange       TEXT NOT NULL,
		side           TEXT NOT NULL,
		type           TEXT NOT NULL,
		product        TEXT NOT NULL,
		quantity       INTEGER NOT NULL,
		price          REAL NOT NULL,
		trigger_price  REAL NOT NULL,
		status         TEXT NOT NULL,
		filled_qty     INTEGER NOT NULL,
		average_price  REAL NOT NULL,
		blocked_margin REAL NOT NULL,
		reject_reason  TEXT NOT NULL DEFAULT '',
		tag            TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_account ON orders(account);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

	CREATE TABLE IF NOT EXISTS trades (
		id          TEXT PRIMARY KEY,
		order_id    TEXT NOT NULL,
		account     TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		exchange    TEXT NOT NULL,
		side        TEXT NOT NULL,
		product     TEXT NOT NULL,
		quantity    INTEGER NOT NULL,
		price       REAL NOT NULL,
		executed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account);

	CREATE TABLE IF NOT EXISTS positions (
		account        TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		exchange       TEXT NOT NULL,
		product        TEXT NOT NULL,
		quantity       INTEGER NOT NULL,
		average_price  REAL NOT NULL,
		last_price     REAL NOT NULL,
		blocked_margin REAL NOT NULL,
		opened_at      TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL,
		PRIMARY KEY (account, symbol, exchange, product)
	);

	CREATE TABLE IF NOT EXISTS holdings (
		account       TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		exchange      TEXT NOT NULL,
		quantity      INTEGER NOT NULL,
		average_price REAL NOT NULL,
		last_price    REAL NOT NULL,
		settled_at    TIMESTAMP NOT NULL,
		PRIMARY KEY (account, symbol, exchange)
	);

	CREATE TABLE IF NOT EXISTS funds (
		account          TEXT PRIMARY KEY,
		available_cash   REAL NOT NULL,
		blocked_margin   REAL NOT NULL,
		realized_pnl     REAL NOT NULL,
		unrealized_pnl   REAL NOT NULL,
		collateral_value REAL NOT NULL,
		updated_at       TIMESTAMP NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// RecordOrder upserts an order's current state.
func (s *Store) RecordOrder(o models.Order) error {
	_, err := s.db.Exec(`
		INSERT INTO orders (id, account, symbol, exchange, side, type, product,
			quantity, price, trigger_price, status, filled_qty, average_price,
			blocked_margin, reject_reason, tag, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity = excluded.quantity,
			price = excluded.price,
			trigger_price = excluded.trigger_price,
			status = excluded.status,
			filled_qty = excluded.filled_qty,
			average_price = excluded.average_price,
			blocked_margin = excluded.blocked_margin,
			reject_reason = excluded.reject_reason,
			updated_at = excluded.updated_at`,
		o.ID, o.Account, o.Symbol, string(o.Exchange), string(o.Side), string(o.Type),
		string(o.Product), o.Quantity, o.Price, o.TriggerPrice, string(o.Status),
		o.FilledQty, o.AveragePrice, o.BlockedMargin, o.RejectReason, o.Tag,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("recording order %s: %w", o.ID, err)
	}
	return nil
}

// RecordTrade inserts a fill record. Trades are immutable, so a replayed id
// is ignored rather than updated.
func (s *Store) RecordTrade(t models.Trade) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO trades (id, order_id, account, symbol, exchange,
			side, product, quantity, price, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrderID, t.Account, t.Symbol, string(t.Exchange), string(t.Side),
		string(t.Product), t.Quantity, t.Price, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("recording trade %s: %w", t.ID, err)
	}
	return nil
}

// LoadOrders returns all persisted orders in creation order.
func (s *Store) LoadOrders() ([]models.Order, error) {
	rows, err := s.db.Query(`
		SELECT id, account, symbol, exchange, side, type, product, quantity,
			price, trigger_price, status, filled_qty, average_price,
			blocked_margin, reject_reason, tag, created_at, updated_at
		FROM orders ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("loading orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var o models.Order
		err := rows.Scan(&o.ID, &o.Account, &o.Symbol, &o.Exchange, &o.Side, &o.Type,
			&o.Product, &o.Quantity, &o.Price, &o.TriggerPrice, &o.Status,
			&o.FilledQty, &o.AveragePrice, &o.BlockedMargin, &o.RejectReason,
			&o.Tag, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// LoadTrades returns all persisted trades in execution order.
func (s *Store) LoadTrades() ([]models.Trade, error) {
	rows, err := s.db.Query(`
		SELECT id, order_id, account, symbol, exchange, side, product,
			quantity, price, executed_at
		FROM trades ORDER BY executed_at, id`)
	if err != nil {
		return nil, fmt.Errorf("loading trades: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		var t models.Trade
		err := rows.Scan(&t.ID, &t.OrderID, &t.Account, &t.Symbol, &t.Exchange,
			&t.Side, &t.Product, &t.Quantity, &t.Price, &t.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SavePositions replaces the persisted position snapshot in one transaction.
func (s *Store) SavePositions(positions []models.Position) error {
	return s.replaceAll("positions", func(tx *sql.Tx) error {
		for _, p := range positions {
			_, err := tx.Exec(`
				INSERT INTO positions (account, symbol, exchange, product,
					quantity, average_price, last_price, blocked_margin,
					opened_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				p.Account, p.Symbol, string(p.Exchange), string(p.Product),
				p.Quantity, p.AveragePrice, p.LastPrice, p.BlockedMargin,
				p.OpenedAt, p.UpdatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadPositions returns the persisted position snapshot.
func (s *Store) LoadPositions() ([]models.Position, error) {
	rows, err := s.db.Query(`
		SELECT account, symbol, exchange, product, quantity, average_price,
			last_price, blocked_margin, opened_at, updated_at
		FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var p models.Position
		err := rows.Scan(&p.Account, &p.Symbol, &p.Exchange, &p.Product,
			&p.Quantity, &p.AveragePrice, &p.LastPrice, &p.BlockedMargin,
			&p.OpenedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveHoldings replaces the persisted holdings snapshot.
func (s *Store) SaveHoldings(holdings []models.Holding) error {
	return s.replaceAll("holdings", func(tx *sql.Tx) error {
		for _, h := range holdings {
			_, err := tx.Exec(`
				INSERT INTO holdings (account, symbol, exchange, quantity,
					average_price, last_price, settled_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				h.Account, h.Symbol, string(h.Exchange), h.Quantity,
				h.AveragePrice, h.LastPrice, h.SettledAt)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadHoldings returns the persisted holdings snapshot.
func (s *Store) LoadHoldings() ([]models.Holding, error) {
	rows, err := s.db.Query(`
		SELECT account, symbol, exchange, quantity, average_price, last_price,
			settled_at
		FROM holdings`)
	if err != nil {
		return nil, fmt.Errorf("loading holdings: %w", err)
	}
	defer rows.Close()

	var out []models.Holding
	for rows.Next() {
		var h models.Holding
		err := rows.Scan(&h.Account, &h.Symbol, &h.Exchange, &h.Quantity,
			&h.AveragePrice, &h.LastPrice, &h.SettledAt)
		if err != nil {
			return nil, fmt.Errorf("scanning holding: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// SaveFunds upserts fund snapshots for the given accounts.
func (s *Store) SaveFunds(funds []models.Funds) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving funds: %w", err)
	}
	defer tx.Rollback()

	for _, f := range funds {
		_, err := tx.Exec(`
			INSERT INTO funds (account, available_cash, blocked_margin,
				realized_pnl, unrealized_pnl, collateral_value, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(account) DO UPDATE SET
				available_cash = excluded.available_cash,
				blocked_margin = excluded.blocked_margin,
				realized_pnl = excluded.realized_pnl,
				unrealized_pnl = excluded.unrealized_pnl,
				collateral_value = excluded.collateral_value,
				updated_at = excluded.updated_at`,
			f.Account, f.AvailableCash, f.BlockedMargin, f.RealizedPnL,
			f.UnrealizedPnL, f.CollateralValue, f.UpdatedAt)
		if err != nil {
			return fmt.Errorf("saving funds for %s: %w", f.Account, err)
		}
	}
	return tx.Commit()
}

// LoadFunds returns the persisted fund snapshots.
func (s *Store) LoadFunds() ([]models.Funds, error) {
	rows, err := s.db.Query(`
		SELECT account, available_cash, blocked_margin, realized_pnl,
			unrealized_pnl, collateral_value, updated_at
		FROM funds`)
	if err != nil {
		return nil, fmt.Errorf("loading funds: %w", err)
	}
	defer rows.Close()

	var out []models.Funds
	for rows.Next() {
		var f models.Funds
		err := rows.Scan(&f.Account, &f.AvailableCash, &f.BlockedMargin,
			&f.RealizedPnL, &f.UnrealizedPnL, &f.CollateralValue, &f.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning funds: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) replaceAll(table string, insert func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving %s: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM " + table); err != nil {
		return fmt.Errorf("clearing %s: %w", table, err)
	}
	if err := insert(tx); err != nil {
		return fmt.Errorf("saving %s: %w", table, err)
	}
	return tx.Commit()
}
