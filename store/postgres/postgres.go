// Package postgres is the Store for multi-process deployments. Account rows
// are locked with SELECT ... FOR UPDATE inside a transaction.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/stocksim/journal"
	"github.com/rustyeddy/stocksim/ledger"
	"github.com/rustyeddy/stocksim/market"
	"github.com/rustyeddy/stocksim/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var Migrations, _ = fs.Sub(embedMigrations, "migrations")

const uniqueViolation = "23505"

var _ store.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and migrates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, ledger.Persistence(err)
	}
	s := &Store{pool: pool}
	if _, err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, ledger.Persistence(err)
	}
	return s, nil
}

// Migrate runs goose over a database/sql view of the pool.
func (s *Store) Migrate(ctx context.Context) (int64, error) {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	return store.Migrate(ctx, goose.DialectPostgres, db, Migrations)
}

func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	return store.SchemaVersion(ctx, goose.DialectPostgres, db, Migrations)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	var fnErr error
	err := pgx.BeginFunc(ctx, s.pool, func(ptx pgx.Tx) error {
		fnErr = fn(&tx{q: ptx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return ledger.Persistence(err)
}

func dec(s string) (decimal.Decimal, error) { return decimal.NewFromString(s) }

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	return getAccount(ctx, s.pool, id, false)
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	out := make([]ledger.Account, 0, len(ids))
	for _, id := range ids {
		a, err := getAccount(ctx, s.pool, id, false)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func getAccount(ctx context.Context, q querier, id string, lock bool) (ledger.Account, error) {
	query := `SELECT id, name, balance::text, created_at, updated_at FROM accounts WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		a       ledger.Account
		balance string
	)
	err := q.QueryRow(ctx, query, id).Scan(&a.ID, &a.Name, &balance, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("account %q: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Account{}, ledger.Persistence(err)
	}
	if a.Balance, err = dec(balance); err != nil {
		return ledger.Account{}, ledger.Persistence(err)
	}
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()

	rows, err := q.Query(ctx,
		`SELECT symbol, quantity, average_cost::text FROM holdings WHERE account_id = $1`, id)
	if err != nil {
		return ledger.Account{}, ledger.Persistence(err)
	}
	defer rows.Close()

	a.Holdings = make(map[string]ledger.Holding)
	for rows.Next() {
		var (
			h   ledger.Holding
			avg string
		)
		if err := rows.Scan(&h.Symbol, &h.Quantity, &avg); err != nil {
			return ledger.Account{}, ledger.Persistence(err)
		}
		if h.AverageCost, err = dec(avg); err != nil {
			return ledger.Account{}, ledger.Persistence(err)
		}
		a.Holdings[h.Symbol] = h
	}
	if err := rows.Err(); err != nil {
		return ledger.Account{}, ledger.Persistence(err)
	}
	return a, nil
}

const instrumentColumns = `symbol, name, sector, price::text, last_updated`

func scanInstrument(row pgx.Row) (market.Instrument, error) {
	var (
		in    market.Instrument
		price string
	)
	if err := row.Scan(&in.Symbol, &in.Name, &in.Sector, &price, &in.LastUpdated); err != nil {
		return market.Instrument{}, err
	}
	p, err := dec(price)
	if err != nil {
		return market.Instrument{}, err
	}
	in.Price = p
	in.LastUpdated = in.LastUpdated.UTC()
	return in, nil
}

func (s *Store) GetInstrument(ctx context.Context, symbol string) (market.Instrument, error) {
	in, err := scanInstrument(s.pool.QueryRow(ctx,
		`SELECT `+instrumentColumns+` FROM instruments WHERE symbol = $1`, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Instrument{}, fmt.Errorf("instrument %q: %w", symbol, ledger.ErrNotFound)
	}
	if err != nil {
		return market.Instrument{}, ledger.Persistence(err)
	}
	return in, nil
}

func (s *Store) ListInstruments(ctx context.Context) ([]market.Instrument, error) {
	return s.queryInstruments(ctx, `SELECT `+instrumentColumns+` FROM instruments ORDER BY symbol`)
}

func (s *Store) SearchInstruments(ctx context.Context, q string, limit int) ([]market.Instrument, error) {
	return s.queryInstruments(ctx, `
		SELECT `+instrumentColumns+` FROM instruments
		WHERE symbol ILIKE $1 ESCAPE '\' OR name ILIKE $1 ESCAPE '\'
		ORDER BY symbol LIMIT $2`, store.LikePattern(q), store.Limit(limit))
}

func (s *Store) queryInstruments(ctx context.Context, query string, args ...any) ([]market.Instrument, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (market.Instrument, error) {
		return scanInstrument(r)
	})
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	return out, nil
}

func (s *Store) PriceHistory(ctx context.Context, symbol string, limit int) ([]market.PricePoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, price::text, recorded_at FROM price_history
		WHERE symbol = $1 ORDER BY id DESC LIMIT $2`, symbol, store.Limit(limit))
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (market.PricePoint, error) {
		var (
			p     market.PricePoint
			price string
		)
		if err := r.Scan(&p.Symbol, &price, &p.RecordedAt); err != nil {
			return p, err
		}
		p.RecordedAt = p.RecordedAt.UTC()
		var err error
		p.Price, err = dec(price)
		return p, err
	})
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	return out, nil
}

const txColumns = `id, account_id, symbol, side, quantity, price::text, total_amount::text, created_at`

func scanTransaction(row pgx.Row) (journal.Transaction, error) {
	var (
		t                   journal.Transaction
		side, price, amount string
	)
	if err := row.Scan(&t.ID, &t.AccountID, &t.Symbol, &side, &t.Quantity, &price, &amount, &t.CreatedAt); err != nil {
		return journal.Transaction{}, err
	}
	t.Side = ledger.Side(side)
	t.CreatedAt = t.CreatedAt.UTC()
	var err error
	if t.Price, err = dec(price); err != nil {
		return journal.Transaction{}, err
	}
	if t.TotalAmount, err = dec(amount); err != nil {
		return journal.Transaction{}, err
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]journal.Transaction, error) {
	limit, offset, err := journal.ClampPage(limit, offset)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (journal.Transaction, error) {
		return scanTransaction(r)
	})
	if err != nil {
		return nil, ledger.Persistence(err)
	}
	if out == nil {
		out = []journal.Transaction{}
	}
	return out, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (journal.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return journal.Transaction{}, fmt.Errorf("transaction %q: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return journal.Transaction{}, ledger.Persistence(err)
	}
	return t, nil
}

func (s *Store) Stats(ctx context.Context) (journal.Stats, error) {
	var (
		st     journal.Stats
		volume string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM accounts), COUNT(*), COALESCE(SUM(total_amount), 0)::text
		FROM transactions`).Scan(&st.Accounts, &st.Trades, &volume)
	if err != nil {
		return journal.Stats{}, ledger.Persistence(err)
	}
	if st.Volume, err = dec(volume); err != nil {
		return journal.Stats{}, ledger.Persistence(err)
	}
	return st, nil
}

type tx struct {
	q pgx.Tx
}

func (t *tx) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	return getAccount(ctx, t.q, id, true)
}

func (t *tx) CreateAccount(ctx context.Context, a ledger.Account) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO accounts (id, name, balance, created_at, updated_at)
		VALUES ($1, $2, $3::text::numeric, $4, $5)`,
		a.ID, a.Name, a.Balance.String(), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("account %q: %w", a.ID, ledger.ErrConflict)
	}
	if err != nil {
		return ledger.Persistence(err)
	}
	return t.insertHoldings(ctx, a)
}

func (t *tx) SaveAccount(ctx context.Context, a ledger.Account) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE accounts SET name = $2, balance = $3::text::numeric, updated_at = $4 WHERE id = $1`,
		a.ID, a.Name, a.Balance.String(), a.UpdatedAt.UTC())
	if err != nil {
		return ledger.Persistence(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %q: %w", a.ID, ledger.ErrNotFound)
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM holdings WHERE account_id = $1`, a.ID); err != nil {
		return ledger.Persistence(err)
	}
	return t.insertHoldings(ctx, a)
}

func (t *tx) insertHoldings(ctx context.Context, a ledger.Account) error {
	if len(a.Holdings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, h := range a.SortedHoldings() {
		batch.Queue(`
			INSERT INTO holdings (account_id, symbol, quantity, average_cost)
			VALUES ($1, $2, $3, $4::text::numeric)`,
			a.ID, h.Symbol, h.Quantity, h.AverageCost.String())
	}
	return ledger.Persistence(t.q.SendBatch(ctx, batch).Close())
}

func (t *tx) AppendTransaction(ctx context.Context, tr journal.Transaction) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO transactions (id, account_id, symbol, side, quantity, price, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8)`,
		tr.ID, tr.AccountID, tr.Symbol, string(tr.Side), tr.Quantity,
		tr.Price.String(), tr.TotalAmount.String(), tr.CreatedAt.UTC())
	return ledger.Persistence(err)
}

func (t *tx) CreateInstrument(ctx context.Context, in market.Instrument) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO instruments (symbol, name, sector, price, last_updated)
		VALUES ($1, $2, $3, $4::text::numeric, $5)`,
		in.Symbol, in.Name, in.Sector, in.Price.String(), in.LastUpdated.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("instrument %q: %w", in.Symbol, ledger.ErrConflict)
	}
	return ledger.Persistence(err)
}

func (t *tx) UpsertInstrument(ctx context.Context, in market.Instrument) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO instruments (symbol, name, sector, price, last_updated)
		VALUES ($1, $2, $3, $4::text::numeric, $5)
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name, sector = EXCLUDED.sector,
			price = EXCLUDED.price, last_updated = EXCLUDED.last_updated`,
		in.Symbol, in.Name, in.Sector, in.Price.String(), in.LastUpdated.UTC())
	return ledger.Persistence(err)
}

func (t *tx) UpdatePrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE instruments SET price = $2::text::numeric, last_updated = $3 WHERE symbol = $1`,
		symbol, price.String(), at.UTC())
	if err != nil {
		return ledger.Persistence(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instrument %q: %w", symbol, ledger.ErrNotFound)
	}
	_, err = t.q.Exec(ctx,
		`INSERT INTO price_history (symbol, price, recorded_at) VALUES ($1, $2::text::numeric, $3)`,
		symbol, price.String(), at.UTC())
	return ledger.Persistence(err)
}

func (t *tx) DeleteInstrument(ctx context.Context, symbol string) error {
	var held int
	if err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM holdings WHERE symbol = $1`, symbol).Scan(&held); err != nil {
		return ledger.Persistence(err)
	}
	if held > 0 {
		return fmt.Errorf("instrument %q is held by %d account(s): %w", symbol, held, ledger.ErrConflict)
	}
	tag, err := t.q.Exec(ctx, `DELETE FROM instruments WHERE symbol = $1`, symbol)
	if err != nil {
		return ledger.Persistence(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instrument %q: %w", symbol, ledger.ErrNotFound)
	}
	return nil
}
