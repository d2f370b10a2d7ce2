// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/PuppiestDoggo/Pupero-WalletManagerDB/lib/store"
)

type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// GetOrCreateBalance returns the balance record for userID, inserting a zeroed one if none exists. The insert
// uses ON CONFLICT DO NOTHING so concurrent callers converge on the same row.
func (p *Postgres) GetOrCreateBalance(ctx context.Context, userID int64) (store.Balance, error) {
	var bal store.Balance

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO balances (user_id, fake_xmr, real_xmr, updated_at) VALUES ($1, 0, 0, now())
		 ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return bal, fmt.Errorf("could not create balance for user %d: %w", userID, err)
	}

	err = p.db.QueryRowContext(ctx,
		`SELECT user_id, fake_xmr, real_xmr, updated_at FROM balances WHERE user_id = $1`, userID).
		Scan(&bal.UserID, &bal.FakeXMR, &bal.RealXMR, &bal.UpdatedAt)
	if err != nil {
		return bal, fmt.Errorf("could not read balance for user %d: %w", userID, err)
	}

	return bal, nil
}

// SetBalance overwrites only the denominations supplied. Nil pointers leave fields untouched and a call with no
// fields does not write at all, it just returns the current record.
func (p *Postgres) SetBalance(ctx context.Context, userID int64, fake, real *float64) (store.Balance, error) {
	// make sure the record exists first
	bal, err := p.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return bal, err
	}

	if fake == nil && real == nil {
		return bal, nil
	}

	var nf, nr sql.NullFloat64
	if fake != nil {
		nf = sql.NullFloat64{Float64: *fake, Valid: true}
	}
	if real != nil {
		nr = sql.NullFloat64{Float64: *real, Valid: true}
	}

	err = p.db.QueryRowContext(ctx,
		`UPDATE balances
		 SET fake_xmr = COALESCE($2, fake_xmr), real_xmr = COALESCE($3, real_xmr), updated_at = now()
		 WHERE user_id = $1
		 RETURNING user_id, fake_xmr, real_xmr, updated_at`, userID, nf, nr).
		Scan(&bal.UserID, &bal.FakeXMR, &bal.RealXMR, &bal.UpdatedAt)
	if err != nil {
		return bal, fmt.Errorf("could not set balance for user %d: %w", userID, err)
	}

	return bal, nil
}

// AdjustBalance adds or subtracts amount from the given denomination. A decrease only succeeds if the stored
// value covers the amount; the WHERE clause makes the check and the write one atomic statement.
func (p *Postgres) AdjustBalance(ctx context.Context, userID int64, amount float64, kind string, decrease bool) (store.Balance, error) {
	var bal store.Balance

	if amount <= 0 {
		return bal, store.ErrInvalidAmount
	}

	var incQ, decQ string
	switch kind {
	case store.Fake:
		incQ = `UPDATE balances SET fake_xmr = fake_xmr + $2, updated_at = now() WHERE user_id = $1
			RETURNING user_id, fake_xmr, real_xmr, updated_at`
		decQ = `UPDATE balances SET fake_xmr = fake_xmr - $2, updated_at = now() WHERE user_id = $1 AND fake_xmr >= $2
			RETURNING user_id, fake_xmr, real_xmr, updated_at`
	case store.Real:
		incQ = `UPDATE balances SET real_xmr = real_xmr + $2, updated_at = now() WHERE user_id = $1
			RETURNING user_id, fake_xmr, real_xmr, updated_at`
		decQ = `UPDATE balances SET real_xmr = real_xmr - $2, updated_at = now() WHERE user_id = $1 AND real_xmr >= $2
			RETURNING user_id, fake_xmr, real_xmr, updated_at`
	default:
		return bal, store.ErrInvalidKind
	}

	// make sure the record exists first
	if _, err := p.GetOrCreateBalance(ctx, userID); err != nil {
		return bal, err
	}

	q := incQ
	if decrease {
		q = decQ
	}

	err := p.db.QueryRowContext(ctx, q, userID, amount).
		Scan(&bal.UserID, &bal.FakeXMR, &bal.RealXMR, &bal.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) { // row exists, so the funds condition failed
		if kind == store.Real {
			return bal, store.ErrInsufficientReal
		}

		return bal, store.ErrInsufficientFake
	}

	if err != nil {
		return bal, fmt.Errorf("could not adjust balance for user %d: %w", userID, err)
	}

	return bal, nil
}

// Transfer moves amount of fake balance from one user to the other and records the ledger entry in a single
// database transaction. Rows are locked in user id order to avoid deadlocks between crossing transfers.
func (p *Postgres) Transfer(ctx context.Context, fromUserID, toUserID int64, amount float64) (store.LedgerTx, error) {
	var ltx store.LedgerTx

	if amount <= 0 {
		return ltx, store.ErrInvalidAmount
	}

	// make sure both records exist before opening the transaction
	if _, err := p.GetOrCreateBalance(ctx, fromUserID); err != nil {
		return ltx, err
	}
	if _, err := p.GetOrCreateBalance(ctx, toUserID); err != nil {
		return ltx, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return ltx, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	// lock both rows in a stable order
	first, second := fromUserID, toUserID
	if second < first {
		first, second = second, first
	}
	var fromFake float64
	rows, err := tx.QueryContext(ctx,
		`SELECT user_id, fake_xmr FROM balances WHERE user_id IN ($1, $2) ORDER BY user_id FOR UPDATE`,
		first, second)
	if err != nil {
		return ltx, fmt.Errorf("could not lock balances: %w", err)
	}
	for rows.Next() {
		var id int64
		var fake float64
		if err = rows.Scan(&id, &fake); err != nil {
			rows.Close()
			return ltx, fmt.Errorf("could not read locked balance: %w", err)
		}
		if id == fromUserID {
			fromFake = fake
		}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return ltx, fmt.Errorf("could not lock balances: %w", err)
	}

	if fromFake < amount {
		return ltx, store.ErrInsufficientFake
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE balances SET fake_xmr = fake_xmr - $2, updated_at = now() WHERE user_id = $1`,
		fromUserID, amount); err != nil {
		return ltx, fmt.Errorf("could not debit user %d: %w", fromUserID, err)
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE balances SET fake_xmr = fake_xmr + $2, updated_at = now() WHERE user_id = $1`,
		toUserID, amount); err != nil {
		return ltx, fmt.Errorf("could not credit user %d: %w", toUserID, err)
	}

	ltx = store.LedgerTx{
		ID:         uuid.NewString(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		AmountXMR:  amount,
		Status:     "completed",
		CreatedAt:  time.Now().UTC(),
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO transfers (id, from_user_id, to_user_id, amount_xmr, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ltx.ID, ltx.FromUserID, ltx.ToUserID, ltx.AmountXMR, ltx.Status, ltx.CreatedAt); err != nil {
		return store.LedgerTx{}, fmt.Errorf("could not record transfer: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return store.LedgerTx{}, fmt.Errorf("could not commit transfer: %w", err)
	}

	return ltx, nil
}
