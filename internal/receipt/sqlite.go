package receipt

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/zombor/expense-tracker/internal/expense"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	client_id  TEXT NOT NULL DEFAULT '',
	date       TEXT,
	type       TEXT NOT NULL,
	category   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_owner_date ON receipts(owner_id, date);
CREATE TABLE IF NOT EXISTS clients (
	id       TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	data     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clients_owner ON clients(owner_id);
CREATE TABLE IF NOT EXISTS budgets (
	id       TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	data     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_budgets_owner ON budgets(owner_id);
`

// SQLiteDB implements the DB interface on SQLite. Filterable columns are
// stored next to the JSON document so queries narrow in SQL first.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (and migrates) the database at path.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertReceipt(e execer, r *expense.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	var date any
	if d, ok := r.Date.Get(); ok {
		date = d.String()
	}
	_, err = e.Exec(`
		INSERT INTO receipts (id, owner_id, client_id, date, type, category, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			client_id = excluded.client_id,
			date = excluded.date,
			type = excluded.type,
			category = excluded.category,
			created_at = excluded.created_at,
			data = excluded.data`,
		r.ID, r.OwnerID, r.ClientID, date, string(r.Type.OrExpense()),
		strings.ToLower(r.Category.OrOther().String()), r.CreatedAt.UTC().Format(timeLayout), string(data))
	if err != nil {
		return fmt.Errorf("saving receipt %s: %w", r.ID, err)
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SaveReceipt saves a receipt to the database
func (s *SQLiteDB) SaveReceipt(receipt *expense.Receipt) error {
	return upsertReceipt(s.db, receipt)
}

// SaveReceipts saves all receipts in one transaction
func (s *SQLiteDB) SaveReceipts(receipts []*expense.Receipt) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	for _, r := range receipts {
		if err := upsertReceipt(tx, r); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing receipts: %w", err)
	}
	return nil
}

// GetReceipt retrieves a receipt by ID
func (s *SQLiteDB) GetReceipt(ownerID, id string) (*expense.Receipt, error) {
	return sqliteGet[*expense.Receipt](s.db, "receipts", "receipt", ownerID, id)
}

// QueryReceipts narrows by owner, dates, client, type and category in SQL
// and applies the remaining filters in memory.
func (s *SQLiteDB) QueryReceipts(q Query) ([]*expense.Receipt, error) {
	where := []string{"owner_id = ?"}
	args := []any{q.OwnerID}
	if from, ok := q.From.Get(); ok {
		where = append(where, "date >= ?")
		args = append(args, from.String())
	}
	if to, ok := q.To.Get(); ok {
		where = append(where, "date <= ?")
		args = append(args, to.String())
	}
	if q.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, q.ClientID)
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(q.Type))
	}
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, strings.ToLower(q.Category))
	}

	rows, err := s.db.Query("SELECT data FROM receipts WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("querying receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*expense.Receipt, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		var r expense.Receipt
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("unmarshaling receipt: %w", err)
		}
		if q.Matches(&r) {
			receipts = append(receipts, &r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receipts: %w", err)
	}
	q.Sort(receipts)
	return receipts, nil
}

// DeleteReceipt removes a receipt from the database
func (s *SQLiteDB) DeleteReceipt(ownerID, id string) error {
	return sqliteDelete(s.db, "receipts", "receipt", ownerID, id)
}

func (s *SQLiteDB) SaveClient(client *expense.Client) error {
	return sqlitePut(s.db, "clients", client.ID, client.OwnerID, client)
}

func (s *SQLiteDB) GetClient(ownerID, id string) (*expense.Client, error) {
	return sqliteGet[*expense.Client](s.db, "clients", "client", ownerID, id)
}

func (s *SQLiteDB) ListClients(ownerID string) ([]*expense.Client, error) {
	return sqliteList[*expense.Client](s.db, "clients", "client", ownerID)
}

func (s *SQLiteDB) DeleteClient(ownerID, id string) error {
	return sqliteDelete(s.db, "clients", "client", ownerID, id)
}

func (s *SQLiteDB) SaveBudget(budget *expense.Budget) error {
	return sqlitePut(s.db, "budgets", budget.ID, budget.OwnerID, budget)
}

func (s *SQLiteDB) GetBudget(ownerID, id string) (*expense.Budget, error) {
	return sqliteGet[*expense.Budget](s.db, "budgets", "budget", ownerID, id)
}

func (s *SQLiteDB) ListBudgets(ownerID string) ([]*expense.Budget, error) {
	return sqliteList[*expense.Budget](s.db, "budgets", "budget", ownerID)
}

func (s *SQLiteDB) DeleteBudget(ownerID, id string) error {
	return sqliteDelete(s.db, "budgets", "budget", ownerID, id)
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// table names below are constants of this file, never user input.

func sqlitePut(db *sql.DB, table, id, ownerID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", table, err)
	}
	_, err = db.Exec(`INSERT INTO `+table+` (id, owner_id, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner_id = excluded.owner_id, data = excluded.data`,
		id, ownerID, string(data))
	if err != nil {
		return fmt.Errorf("saving %s %s: %w", table, id, err)
	}
	return nil
}

func sqliteGet[T owned](db *sql.DB, table, kind, ownerID, id string) (T, error) {
	var data string
	err := db.QueryRow(`SELECT data FROM `+table+` WHERE id = ? AND owner_id = ?`, id, ownerID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", kind, err)
	}
	var out T
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", kind, err)
	}
	return out, nil
}

func sqliteList[T owned](db *sql.DB, table, kind, ownerID string) ([]T, error) {
	rows, err := db.Query(`SELECT data FROM `+table+` WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", kind, err)
		}
		var item T
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, fmt.Errorf("unmarshaling %s: %w", kind, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func sqliteDelete(db *sql.DB, table, kind, ownerID, id string) error {
	res, err := db.Exec(`DELETE FROM `+table+` WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting %s: %w", kind, err)
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}
