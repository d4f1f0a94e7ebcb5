package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists accounts, log entries and pending transfers in
// PostgreSQL. Every Change commits inside a single transaction; per-account
// serialization relies on the version column compare-and-swap rather than
// long-held row locks.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the schema when it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	const schema = `
        CREATE TABLE IF NOT EXISTS accounts (
            id         TEXT PRIMARY KEY,
            balance    NUMERIC(20, 4) NOT NULL DEFAULT 0,
            held       NUMERIC(20, 4) NOT NULL DEFAULT 0,
            version    BIGINT NOT NULL DEFAULT 1,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            CHECK (balance >= 0),
            CHECK (held >= 0 AND held <= balance)
        );
        CREATE TABLE IF NOT EXISTS entries (
            id              UUID PRIMARY KEY,
            account_id      TEXT NOT NULL,
            counterparty_id TEXT,
            type            TEXT NOT NULL,
            status          TEXT NOT NULL,
            direction       TEXT NOT NULL,
            amount          NUMERIC(20, 4) NOT NULL,
            description     TEXT NOT NULL DEFAULT '',
            related_id      UUID,
            created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
            CHECK (amount > 0)
        );
        CREATE INDEX IF NOT EXISTS entries_account_created_idx
            ON entries (account_id, created_at DESC);
        CREATE TABLE IF NOT EXISTS pending_transfers (
            id            UUID PRIMARY KEY,
            from_account  TEXT NOT NULL,
            to_account    TEXT NOT NULL,
            amount        NUMERIC(20, 4) NOT NULL,
            description   TEXT NOT NULL DEFAULT '',
            state         TEXT NOT NULL,
            hold_entry_id UUID NOT NULL,
            created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
            expires_at    TIMESTAMPTZ NOT NULL,
            CHECK (amount > 0)
        );
        CREATE INDEX IF NOT EXISTS pending_transfers_state_expiry_idx
            ON pending_transfers (state, expires_at);`
	_, err := s.db.Exec(ctx, schema)
	return err
}

const accountColumns = `id, balance::text, held::text, version, created_at, updated_at`

// GetAccount lazily provisions an account row on first reference.
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	_, err := s.db.Exec(ctx, `INSERT INTO accounts (id) VALUES ($1)
        ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return Account{}, err
	}
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// CreateAccount explicitly provisions an account with an initial balance. The
// account row and its opening entries commit in one transaction.
func (s *PostgresStore) CreateAccount(ctx context.Context, id string, initial decimal.Decimal, opening []Entry) (Account, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Account{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	tag, err := tx.Exec(ctx, `INSERT INTO accounts (id, balance) VALUES ($1, $2)
        ON CONFLICT (id) DO NOTHING`, id, initial.String())
	if err != nil {
		return Account{}, err
	}
	if tag.RowsAffected() == 0 {
		return Account{}, ErrAccountExists
	}
	for _, e := range opening {
		if err := insertEntry(ctx, tx, e); err != nil {
			return Account{}, err
		}
	}
	row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acct, err := scanAccount(row)
	if err != nil {
		return Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Apply commits the change in one transaction. Mutations run in ascending
// account-ID order so concurrent multi-account changes cannot deadlock.
func (s *PostgresStore) Apply(ctx context.Context, change Change) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Hold transitions go first: a change against an already-decided hold must
	// surface ErrInvalidState, not a balance failure.
	for _, t := range change.Transitions {
		tag, err := tx.Exec(ctx, `UPDATE pending_transfers SET state = $1
            WHERE id = $2 AND state = $3`, string(t.To), t.ID, string(t.From))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInvalidState
		}
	}

	muts := make([]Mutation, len(change.Mutations))
	copy(muts, change.Mutations)
	sort.Slice(muts, func(i, j int) bool { return muts[i].AccountID < muts[j].AccountID })

	for _, m := range muts {
		var balance, held string
		err := tx.QueryRow(ctx, `UPDATE accounts
            SET balance = balance + $1, held = held + $2,
                version = version + 1, updated_at = now()
            WHERE id = $3 AND version = $4
            RETURNING balance::text, held::text`,
			m.BalanceDelta.String(), m.HeldDelta.String(), m.AccountID, m.ExpectedVersion).Scan(&balance, &held)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return s.mutationFailure(ctx, tx, m.AccountID)
			}
			// Balance constraint violations roll the whole change back.
			if isCheckViolation(err) {
				return ErrInsufficientFunds
			}
			return err
		}
	}

	for _, e := range change.Appends {
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
	}

	for _, f := range change.Finalize {
		tag, err := tx.Exec(ctx, `UPDATE entries SET status = $1
            WHERE id = $2 AND status = $3`, string(f.Status), f.EntryID, string(StatusPending))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInvalidState
		}
	}

	for _, ph := range change.CreateHolds {
		_, err := tx.Exec(ctx, `INSERT INTO pending_transfers
            (id, from_account, to_account, amount, description, state, hold_entry_id, created_at, expires_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			ph.ID, ph.FromAccountID, ph.ToAccountID, ph.Amount.String(), ph.Description,
			string(ph.State), ph.HoldEntryID, ph.CreatedAt, ph.ExpiresAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func insertEntry(ctx context.Context, tx pgx.Tx, e Entry) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `INSERT INTO entries
        (id, account_id, counterparty_id, type, status, direction, amount, description, related_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.AccountID, nullable(e.CounterpartyID), string(e.Type), string(e.Status),
		string(e.Direction), e.Amount.String(), e.Description, nullable(e.RelatedID), createdAt)
	return err
}

// mutationFailure distinguishes a missing account from a lost CAS race.
func (s *PostgresStore) mutationFailure(ctx context.Context, tx pgx.Tx, accountID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// ListEntries returns an account's log newest first, honoring the filter.
func (s *PostgresStore) ListEntries(ctx context.Context, accountID string, filter EntryFilter) ([]Entry, error) {
	query := `SELECT id, account_id, counterparty_id, type, status, direction,
        amount::text, description, related_id, created_at
        FROM entries WHERE account_id = $1`
	args := []any{accountID}

	switch filter.Class {
	case "", FilterAll:
	case FilterIncome:
		query += fmt.Sprintf(" AND direction = $%d AND status = $%d AND NOT type = ANY($%d)",
			len(args)+1, len(args)+2, len(args)+3)
		args = append(args, string(DirectionIn), string(StatusCompleted), heldOnlyTypes())
	case FilterExpenses:
		query += fmt.Sprintf(" AND direction = $%d AND status = $%d AND NOT type = ANY($%d)",
			len(args)+1, len(args)+2, len(args)+3)
		args = append(args, string(DirectionOut), string(StatusCompleted), heldOnlyTypes())
	case FilterTopups:
		query += fmt.Sprintf(" AND type = $%d", len(args)+1)
		args = append(args, string(EntryDeposit))
	case FilterTransfers:
		query += fmt.Sprintf(" AND type = ANY($%d)", len(args)+1)
		args = append(args, []string{
			string(EntryTransfer), string(EntryTransferHold),
			string(EntryTransferCommit), string(EntryTransferRelease),
		})
	default:
		return nil, fmt.Errorf("unknown filter class %q", filter.Class)
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// GetEntry fetches a single log entry.
func (s *PostgresStore) GetEntry(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRow(ctx, `SELECT id, account_id, counterparty_id, type, status,
        direction, amount::text, description, related_id, created_at
        FROM entries WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

const holdColumns = `id, from_account, to_account, amount::text, description,
        state, hold_entry_id, created_at, expires_at`

// GetHold fetches a pending transfer row.
func (s *PostgresStore) GetHold(ctx context.Context, id string) (PendingTransfer, error) {
	row := s.db.QueryRow(ctx, `SELECT `+holdColumns+` FROM pending_transfers WHERE id = $1`, id)
	hold, err := scanHold(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingTransfer{}, ErrNotFound
	}
	return hold, err
}

// ListOpenHolds returns held transfers touching the account.
func (s *PostgresStore) ListOpenHolds(ctx context.Context, accountID string) ([]PendingTransfer, error) {
	rows, err := s.db.Query(ctx, `SELECT `+holdColumns+` FROM pending_transfers
        WHERE state = $1 AND (from_account = $2 OR to_account = $2)
        ORDER BY created_at`, string(HoldHeld), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHolds(rows)
}

// ListExpiredHolds returns held transfers past their deadline.
func (s *PostgresStore) ListExpiredHolds(ctx context.Context, asOf time.Time) ([]PendingTransfer, error) {
	rows, err := s.db.Query(ctx, `SELECT `+holdColumns+` FROM pending_transfers
        WHERE state = $1 AND expires_at < $2
        ORDER BY created_at`, string(HoldHeld), asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHolds(rows)
}

func collectHolds(rows pgx.Rows) ([]PendingTransfer, error) {
	var out []PendingTransfer
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, hold)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	var balance, held string
	if err := row.Scan(&acct.ID, &balance, &held, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return Account{}, err
	}
	var err error
	if acct.Balance, err = decimal.NewFromString(balance); err != nil {
		return Account{}, err
	}
	if acct.Held, err = decimal.NewFromString(held); err != nil {
		return Account{}, err
	}
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return acct, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var counterparty, related *string
	var entryType, status, direction, amount string
	if err := row.Scan(&e.ID, &e.AccountID, &counterparty, &entryType, &status,
		&direction, &amount, &e.Description, &related, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	e.Type = EntryType(entryType)
	e.Status = EntryStatus(status)
	e.Direction = Direction(direction)
	if counterparty != nil {
		e.CounterpartyID = *counterparty
	}
	if related != nil {
		e.RelatedID = *related
	}
	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return Entry{}, err
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func scanHold(row pgx.Row) (PendingTransfer, error) {
	var ph PendingTransfer
	var amount, state string
	if err := row.Scan(&ph.ID, &ph.FromAccountID, &ph.ToAccountID, &amount, &ph.Description,
		&state, &ph.HoldEntryID, &ph.CreatedAt, &ph.ExpiresAt); err != nil {
		return PendingTransfer{}, err
	}
	ph.State = HoldState(state)
	var err error
	if ph.Amount, err = decimal.NewFromString(amount); err != nil {
		return PendingTransfer{}, err
	}
	ph.CreatedAt = ph.CreatedAt.UTC()
	ph.ExpiresAt = ph.ExpiresAt.UTC()
	return ph, nil
}

func heldOnlyTypes() []string {
	return []string{string(EntryTransferHold), string(EntryTransferRelease)}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isCheckViolation matches PostgreSQL check_violation (SQLSTATE 23514).
func isCheckViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23514"
	}
	return false
}
