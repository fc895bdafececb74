// Package sqlite is the default Store, backed by a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrations is the schema applied by Open.
var Migrations, _ = fs.Sub(embedMigrations, "migrations")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

var _ store.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

// DSN adds the connection options the store relies on to a file path.
// BEGIN IMMEDIATE takes the write lock up front so a read-modify-write
// transaction cannot interleave with another writer.
func DSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL&_foreign_keys=on"
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ledger.Persistence(err)
	}
	if _, err := store.Migrate(ctx, goose.DialectSQLite3, db, Migrations); err != nil {
		db.Close()
		return nil, ledger.Persistence(err)
	}
	return &Store{db: db}, nil
}

// SchemaVersion reports the migration version of the open database.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	return store.SchemaVersion(ctx, goose.DialectSQLite3, s.db, Migrations)
}

func (s *Store) Close() error { return s.db.Close() }

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Persistence(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&tx{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return ledger.Persistence(err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	return getAccount(ctx, s.db, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, ledger.Persistence(err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, ledger.Persistence(err)
	}

	out := make([]ledger.Account, 0, len(ids))
	for _, id := range ids {
		a, err := getAccount(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func getAccount(ctx context.Context, q queryer, id string) (ledger.Account, error) {
	var (
		a                  ledger.Account
		created, updated string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, name, balance, created_at, updated_at FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Balance, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("account %q: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Account{}, ledger.Persistence(err)
	}
	if a.CreatedAt, err = parseTime(created); err != nil {
		return ledger.Account{}, ledger.Persistence(err)
	}
	if a.UpdatedAt, err = parseTime(updated); err != nil {
		return ledger.Account{}, ledger.Persistence(err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT symbol, quantity, average_cost FROM holdings WHERE account_id = ?`, id)
	if err != nil {
		return ledger.Account{}, ledger.Persistence(err)
	}
	defer rows.Close()

	a.Holdings = make(map[string]ledger.Holding)
	for rows.Next() {
		var h ledger.Holding
		if err := rows.Scan(&h.Symbol, &h.Quantity, &h.AverageCost); err != nil {
			return ledger.Account{}, ledger.Persistence(err)
		}
		a.Holdings[h.Symbol] = h
	}
	if err := rows.Err(); err != nil {
		return ledger.Account{}, ledger.Persistence(err)
	}
	return a, nil
}

func (s *Store) GetInstrument(ctx context.Context, symbol string) (market.Instrument, error) {
	in, err := scanInstrument(s.db.QueryRowContext(ctx,
		`SELECT symbol, name, sector, price, last_updated FROM instruments WHERE symbol = ?`, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return market.Instrument{}, fmt.Errorf("instrument %q: %w", symbol, ledger.ErrNotFound)
	}
	if err != nil {
		return market.Instrument{}, ledger.Persistence(err)
	}
	return in, nil
}

func (s *Store) ListInstruments(ctx context.Context) ([]market.Instrument, error) {
	return s.queryInstruments(ctx,
		`SELECT symbol, name, sector, price, last_updated FROM instruments ORDER BY symbol`)
}

func (s *Store) SearchInstruments(ctx context.Context, q string, limit int) ([]market.Instrument, error) {
	pat := store.LikePattern(q)
	return s.queryInstruments(ctx, `
		SELECT symbol, name, sector, price, last_updated FROM instruments
		WHERE lower(symbol) LIKE ? ESCAPE '\' OR lower(name) LIKE ? ESCAPE '\'
		ORDER BY symbol LIMIT ?`, pat, pat, store.Limit(limit))
}

func (s *Store) queryInstruments(ctx context.Context, query string, args ...any) ([]market.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	defer rows.Close()

	var out []market.Instrument
	for rows.Next() {
		in, err := scanInstrument(rows)
		if err != nil {
			return nil, ledger.Persistence(err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Persistence(err)
	}
	return out, nil
}

type scanner interface{ Scan(dest ...any) error }

func scanInstrument(r scanner) (market.Instrument, error) {
	var (
		in market.Instrument
		at string
	)
	if err := r.Scan(&in.Symbol, &in.Name, &in.Sector, &in.Price, &at); err != nil {
		return market.Instrument{}, err
	}
	t, err := parseTime(at)
	if err != nil {
		return market.Instrument{}, err
	}
	in.LastUpdated = t
	return in, nil
}

func (s *Store) PriceHistory(ctx context.Context, symbol string, limit int) ([]market.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, price, recorded_at FROM price_history
		WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, store.Limit(limit))
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	defer rows.Close()

	var out []market.PricePoint
	for rows.Next() {
		var (
			p  market.PricePoint
			at string
		)
		if err := rows.Scan(&p.Symbol, &p.Price, &at); err != nil {
			return nil, ledger.Persistence(err)
		}
		if p.RecordedAt, err = parseTime(at); err != nil {
			return nil, ledger.Persistence(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Persistence(err)
	}
	return out, nil
}

const txColumns = `id, account_id, symbol, side, quantity, price, total_amount, created_at`

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]journal.Transaction, error) {
	limit, offset, err := journal.ClampPage(limit, offset)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, accountID, limit, offset)
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	defer rows.Close()

	out := []journal.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, ledger.Persistence(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Persistence(err)
	}
	return out, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (journal.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return journal.Transaction{}, fmt.Errorf("transaction %q: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return journal.Transaction{}, ledger.Persistence(err)
	}
	return t, nil
}

func scanTransaction(r scanner) (journal.Transaction, error) {
	var (
		t    journal.Transaction
		side string
		at   string
	)
	if err := r.Scan(&t.ID, &t.AccountID, &t.Symbol, &side, &t.Quantity, &t.Price, &t.TotalAmount, &at); err != nil {
		return journal.Transaction{}, err
	}
	t.Side = ledger.Side(side)
	created, err := parseTime(at)
	if err != nil {
		return journal.Transaction{}, err
	}
	t.CreatedAt = created
	return t, nil
}

func (s *Store) Stats(ctx context.Context) (journal.Stats, error) {
	st := journal.Stats{Volume: decimal.Zero}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&st.Accounts); err != nil {
		return journal.Stats{}, ledger.Persistence(err)
	}

	// Amounts are TEXT; summing in SQL would go through REAL.
	rows, err := s.db.QueryContext(ctx, `SELECT total_amount FROM transactions`)
	if err != nil {
		return journal.Stats{}, ledger.Persistence(err)
	}
	defer rows.Close()
	for rows.Next() {
		var amt decimal.Decimal
		if err := rows.Scan(&amt); err != nil {
			return journal.Stats{}, ledger.Persistence(err)
		}
		st.Trades++
		st.Volume = st.Volume.Add(amt)
	}
	if err := rows.Err(); err != nil {
		return journal.Stats{}, ledger.Persistence(err)
	}
	return st, nil
}

type tx struct {
	q queryer
}

func (t *tx) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	return getAccount(ctx, t.q, id)
}

func (t *tx) CreateAccount(ctx context.Context, a ledger.Account) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO accounts (id, name, balance, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Balance.String(), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if isConstraint(err) {
		return fmt.Errorf("account %q: %w", a.ID, ledger.ErrConflict)
	}
	if err != nil {
		return ledger.Persistence(err)
	}
	return t.insertHoldings(ctx, a)
}

func (t *tx) SaveAccount(ctx context.Context, a ledger.Account) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE accounts SET name = ?, balance = ?, updated_at = ? WHERE id = ?`,
		a.Name, a.Balance.String(), formatTime(a.UpdatedAt), a.ID)
	if err != nil {
		return ledger.Persistence(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return ledger.Persistence(err)
	} else if n == 0 {
		return fmt.Errorf("account %q: %w", a.ID, ledger.ErrNotFound)
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM holdings WHERE account_id = ?`, a.ID); err != nil {
		return ledger.Persistence(err)
	}
	return t.insertHoldings(ctx, a)
}

func (t *tx) insertHoldings(ctx context.Context, a ledger.Account) error {
	for _, h := range a.SortedHoldings() {
		if _, err := t.q.ExecContext(ctx,
			`INSERT INTO holdings (account_id, symbol, quantity, average_cost) VALUES (?, ?, ?, ?)`,
			a.ID, h.Symbol, h.Quantity, h.AverageCost.String()); err != nil {
			return ledger.Persistence(err)
		}
	}
	return nil
}

func (t *tx) AppendTransaction(ctx context.Context, tr journal.Transaction) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO transactions (`+txColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.AccountID, tr.Symbol, string(tr.Side), tr.Quantity,
		tr.Price.String(), tr.TotalAmount.String(), formatTime(tr.CreatedAt))
	return ledger.Persistence(err)
}

func (t *tx) CreateInstrument(ctx context.Context, in market.Instrument) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO instruments (symbol, name, sector, price, last_updated) VALUES (?, ?, ?, ?, ?)`,
		in.Symbol, in.Name, in.Sector, in.Price.String(), formatTime(in.LastUpdated))
	if isConstraint(err) {
		return fmt.Errorf("instrument %q: %w", in.Symbol, ledger.ErrConflict)
	}
	return ledger.Persistence(err)
}

func (t *tx) UpsertInstrument(ctx context.Context, in market.Instrument) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO instruments (symbol, name, sector, price, last_updated) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name, sector = excluded.sector,
			price = excluded.price, last_updated = excluded.last_updated`,
		in.Symbol, in.Name, in.Sector, in.Price.String(), formatTime(in.LastUpdated))
	return ledger.Persistence(err)
}

func (t *tx) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE instruments SET price = ?, last_updated = ? WHERE symbol = ?`,
		price.String(), formatTime(at), symbol)
	if err != nil {
		return ledger.Persistence(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return ledger.Persistence(err)
	} else if n == 0 {
		return fmt.Errorf("instrument %q: %w", symbol, ledger.ErrNotFound)
	}
	_, err = t.q.ExecContext(ctx,
		`INSERT INTO price_history (symbol, price, recorded_at) VALUES (?, ?, ?)`,
		symbol, price.String(), formatTime(at))
	return ledger.Persistence(err)
}

func (t *tx) DeleteInstrument(ctx context.Context, symbol string) error {
	var held int
	if err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM holdings WHERE symbol = ?`, symbol).Scan(&held); err != nil {
		return ledger.Persistence(err)
	}
	if held > 0 {
		return fmt.Errorf("instrument %q is held by %d account(s): %w", symbol, held, ledger.ErrConflict)
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM instruments WHERE symbol = ?`, symbol)
	if err != nil {
		return ledger.Persistence(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return ledger.Persistence(err)
	} else if n == 0 {
		return fmt.Errorf("instrument %q: %w", symbol, ledger.ErrNotFound)
	}
	return nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
