package transactions

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the local SQLite ledger.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
	newID func() string
}

var _ Ledger = (*Store)(nil)

// Open creates the database file and schema if needed.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now, newID: uuid.NewString}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    amount TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init transactions schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create validates and inserts a transaction.
func (s *Store) Create(ctx context.Context, in NewTransaction) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	tx := Transaction{
		ID:            s.newID(),
		Amount:        strings.TrimLeft(strings.TrimSpace(in.Amount), "0"),
		PaymentMethod: in.PaymentMethod,
		Status:        in.Status,
		CreatedAt:     s.clock().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions(id, amount, payment_method, status, created_at) VALUES(?, ?, ?, ?, ?)`,
		tx.ID, tx.Amount, tx.PaymentMethod, tx.Status, tx.CreatedAt.Format(timeLayout))
	if err != nil {
		return Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	s.log.Debug("transaction recorded", slog.String("id", tx.ID), slog.String("method", tx.PaymentMethod))
	return tx, nil
}

// List returns every transaction, newest first.
func (s *Store) List(ctx context.Context) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, amount, payment_method, status, created_at FROM transactions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	list := []Transaction{}
	for rows.Next() {
		var tx Transaction
		var created string
		if err := rows.Scan(&tx.ID, &tx.Amount, &tx.PaymentMethod, &tx.Status, &created); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if ts, err := parseTime(created); err == nil {
			tx.CreatedAt = ts
		}
		list = append(list, tx)
	}
	return list, rows.Err()
}

func parseTime(v string) (time.Time, error) {
	if ts, err := time.Parse(timeLayout, v); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
