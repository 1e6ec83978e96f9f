package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/reelreview/ledger/internal/domain"
)

// ─── Ledger Schema ──────────────────────────────────────────────────────────

// LedgerMigrations returns the schema statements, one per string (SQLite
// executes one at a time).
func LedgerMigrations() []string {
	return []string{
		// One row per checkout session: the reconciliation idempotency key.
		`CREATE TABLE IF NOT EXISTS payments (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id         TEXT NOT NULL,
			session_id      TEXT NOT NULL UNIQUE,
			amount_cents    INTEGER NOT NULL CHECK (amount_cents >= 0),
			credits_granted INTEGER NOT NULL DEFAULT 0,
			status          TEXT NOT NULL,
			wallet_credited INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_user ON payments(user_id)`,

		`CREATE TABLE IF NOT EXISTS wallets (
			user_id    TEXT PRIMARY KEY,
			credits    INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS affiliates (
			code       TEXT PRIMARY KEY,
			tier       TEXT NOT NULL DEFAULT 'starter',
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS affiliate_attributions (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			referred_user_id TEXT NOT NULL,
			affiliate_code   TEXT NOT NULL,
			created_at       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attributions_user ON affiliate_attributions(referred_user_id, created_at)`,

		// At most one commission per checkout session.
		`CREATE TABLE IF NOT EXISTS affiliate_commissions (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			affiliate_code   TEXT NOT NULL,
			referred_user_id TEXT NOT NULL,
			amount_cents     INTEGER NOT NULL CHECK (amount_cents >= 0),
			status           TEXT NOT NULL,
			session_id       TEXT NOT NULL UNIQUE,
			created_at       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commissions_code ON affiliate_commissions(affiliate_code)`,

		`CREATE TABLE IF NOT EXISTS reviewer_payout_accounts (
			reviewer_id        TEXT PRIMARY KEY,
			connect_account_id TEXT NOT NULL DEFAULT '',
			onboarding_status  TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payout_accounts_connect ON reviewer_payout_accounts(connect_account_id)`,

		`CREATE TABLE IF NOT EXISTS reviewer_balances (
			reviewer_id     TEXT PRIMARY KEY,
			available_cents INTEGER NOT NULL DEFAULT 0 CHECK (available_cents >= 0),
			paid_cents      INTEGER NOT NULL DEFAULT 0 CHECK (paid_cents >= 0),
			updated_at      TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS payout_requests (
			id           TEXT PRIMARY KEY,
			reviewer_id  TEXT NOT NULL,
			amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
			status       TEXT NOT NULL DEFAULT 'requested',
			transfer_id  TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payout_requests_status ON payout_requests(status, created_at)`,
	}
}

// ─── Payments ───────────────────────────────────────────────────────────────

// GetPaymentBySession returns the payment recorded for a checkout session.
func (db *DB) GetPaymentBySession(ctx context.Context, sessionID string) (*domain.PaymentRecord, error) {
	var (
		p         domain.PaymentRecord
		status    string
		credited  int
		createdAt string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT id, user_id, session_id, amount_cents, credits_granted, status, wallet_credited, created_at
		FROM payments WHERE session_id = ?
	`, sessionID).Scan(&p.ID, &p.UserID, &p.SessionID, &p.AmountCents, &p.CreditsGranted, &status, &credited, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", sessionID, err)
	}
	p.Status = domain.PaymentStatus(status)
	p.WalletCredited = credited == 1
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// InsertPayment records a payment. A second insert for the same session
// returns domain.ErrConflict.
func (db *DB) InsertPayment(ctx context.Context, p domain.PaymentRecord) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO payments (user_id, session_id, amount_cents, credits_granted, status, wallet_credited, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.UserID, p.SessionID, p.AmountCents, p.CreditsGranted, string(p.Status), boolInt(p.WalletCredited), db.timestamp())
	return insertErr("payment", err)
}

// ApplyPaymentCredit adds the payment's credits to its user's wallet and
// flags the payment credited in one transaction. It reports false, writing
// nothing, when the payment was already credited.
func (db *DB) ApplyPaymentCredit(ctx context.Context, sessionID string) (bool, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin credit %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	var (
		userID  string
		credits int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, credits_granted FROM payments WHERE session_id = ?
	`, sessionID).Scan(&userID, &credits)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read payment %s: %w", sessionID, err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE payments SET wallet_credited = 1 WHERE session_id = ? AND wallet_credited = 0
	`, sessionID)
	if err != nil {
		return false, fmt.Errorf("mark payment %s credited: %w", sessionID, err)
	}
	if err := requireOne(res, domain.ErrConflict); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		return false, err
	}

	// Read-then-write increment inside the transaction.
	var existing int64
	err = tx.QueryRowContext(ctx, `SELECT credits FROM wallets WHERE user_id = ?`, userID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO wallets (user_id, credits, updated_at) VALUES (?, ?, ?)
		`, userID, credits, db.timestamp())
	case err == nil:
		_, err = tx.ExecContext(ctx, `
			UPDATE wallets SET credits = ?, updated_at = ? WHERE user_id = ?
		`, existing+credits, db.timestamp(), userID)
	}
	if err != nil {
		return false, fmt.Errorf("credit wallet %s: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit credit %s: %w", sessionID, err)
	}
	return true, nil
}

// ListPaymentsByUser returns a user's payments, newest first.
func (db *DB) ListPaymentsByUser(ctx context.Context, userID string) ([]domain.PaymentRecord, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, amount_cents, credits_granted, status, wallet_credited, created_at
		FROM payments WHERE user_id = ? ORDER BY id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentRecord
	for rows.Next() {
		var (
			p         domain.PaymentRecord
			status    string
			credited  int
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.SessionID, &p.AmountCents, &p.CreditsGranted, &status, &credited, &createdAt); err != nil {
			return nil, err
		}
		p.Status = domain.PaymentStatus(status)
		p.WalletCredited = credited == 1
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ─── Wallets ────────────────────────────────────────────────────────────────

// GetWallet returns a user's wallet.
func (db *DB) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	var (
		w         domain.Wallet
		updatedAt string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT user_id, credits, updated_at FROM wallets WHERE user_id = ?
	`, userID).Scan(&w.UserID, &w.Credits, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", userID, err)
	}
	w.UpdatedAt = parseTime(updatedAt)
	return &w, nil
}

// CreateWallet inserts a wallet. An existing wallet returns domain.ErrConflict.
// Purchases credit wallets through ApplyPaymentCredit; this is for seeding.
func (db *DB) CreateWallet(ctx context.Context, w domain.Wallet) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, credits, updated_at) VALUES (?, ?, ?)
	`, w.UserID, w.Credits, db.timestamp())
	return insertErr("wallet", err)
}

// ─── Affiliates ─────────────────────────────────────────────────────────────

// UpsertAffiliate registers an affiliate code with its tier.
func (db *DB) UpsertAffiliate(ctx context.Context, code string, tier domain.Tier) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO affiliates (code, tier, created_at) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET tier = excluded.tier
	`, code, string(tier), db.timestamp())
	return err
}

// AffiliateTier returns the tier stored for code, or domain.ErrNotFound.
func (db *DB) AffiliateTier(ctx context.Context, code string) (domain.Tier, error) {
	var tier string
	err := db.db.QueryRowContext(ctx, `SELECT tier FROM affiliates WHERE code = ?`, code).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get affiliate %s: %w", code, err)
	}
	return domain.ParseTier(tier), nil
}

// InsertAttribution records that userID was referred by code.
func (db *DB) InsertAttribution(ctx context.Context, a domain.AffiliateAttribution) error {
	createdAt := db.timestamp()
	if !a.CreatedAt.IsZero() {
		createdAt = a.CreatedAt.UTC().Format(timeLayout)
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO affiliate_attributions (referred_user_id, affiliate_code, created_at) VALUES (?, ?, ?)
	`, a.ReferredUserID, a.AffiliateCode, createdAt)
	return insertErr("attribution", err)
}

// LatestAttribution returns the most recent attribution for userID.
func (db *DB) LatestAttribution(ctx context.Context, userID string) (*domain.AffiliateAttribution, error) {
	var (
		a         domain.AffiliateAttribution
		createdAt string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT referred_user_id, affiliate_code, created_at
		FROM affiliate_attributions
		WHERE referred_user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, userID).Scan(&a.ReferredUserID, &a.AffiliateCode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attribution %s: %w", userID, err)
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// GetCommissionBySession returns the commission recorded for a session.
func (db *DB) GetCommissionBySession(ctx context.Context, sessionID string) (*domain.AffiliateCommission, error) {
	var (
		c         domain.AffiliateCommission
		status    string
		createdAt string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT id, affiliate_code, referred_user_id, amount_cents, status, session_id, created_at
		FROM affiliate_commissions WHERE session_id = ?
	`, sessionID).Scan(&c.ID, &c.AffiliateCode, &c.ReferredUserID, &c.AmountCents, &status, &c.SessionID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get commission %s: %w", sessionID, err)
	}
	c.Status = domain.CommissionStatus(status)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

// InsertCommission records a commission. A second insert for the same
// session returns domain.ErrConflict.
func (db *DB) InsertCommission(ctx context.Context, c domain.AffiliateCommission) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO affiliate_commissions (affiliate_code, referred_user_id, amount_cents, status, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.AffiliateCode, c.ReferredUserID, c.AmountCents, string(c.Status), c.SessionID, db.timestamp())
	return insertErr("commission", err)
}

// CountCommissions returns how many commissions exist for a session.
func (db *DB) CountCommissions(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM affiliate_commissions WHERE session_id = ?
	`, sessionID).Scan(&n)
	return n, err
}

// ─── Payout Accounts ────────────────────────────────────────────────────────

// UpsertPayoutAccount stores a reviewer's connected account.
func (db *DB) UpsertPayoutAccount(ctx context.Context, a domain.ReviewerPayoutAccount) error {
	status := a.OnboardingStatus
	if status == "" {
		status = domain.OnboardingPending
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO reviewer_payout_accounts (reviewer_id, connect_account_id, onboarding_status)
		VALUES (?, ?, ?)
		ON CONFLICT(reviewer_id) DO UPDATE SET
			connect_account_id = excluded.connect_account_id,
			onboarding_status  = excluded.onboarding_status
	`, a.ReviewerID, a.ConnectAccountID, string(status))
	return err
}

// GetPayoutAccount returns a reviewer's connected account.
func (db *DB) GetPayoutAccount(ctx context.Context, reviewerID string) (*domain.ReviewerPayoutAccount, error) {
	var (
		a      domain.ReviewerPayoutAccount
		status string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT reviewer_id, connect_account_id, onboarding_status
		FROM reviewer_payout_accounts WHERE reviewer_id = ?
	`, reviewerID).Scan(&a.ReviewerID, &a.ConnectAccountID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payout account %s: %w", reviewerID, err)
	}
	a.OnboardingStatus = domain.OnboardingStatus(status)
	return &a, nil
}

// SetOnboardingStatus updates the account holding connectAccountID.
func (db *DB) SetOnboardingStatus(ctx context.Context, connectAccountID string, status domain.OnboardingStatus) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE reviewer_payout_accounts SET onboarding_status = ? WHERE connect_account_id = ?
	`, string(status), connectAccountID)
	if err != nil {
		return fmt.Errorf("set onboarding %s: %w", connectAccountID, err)
	}
	return requireOne(res, domain.ErrNotFound)
}

// ─── Reviewer Balances ──────────────────────────────────────────────────────

// UpsertReviewerBalance overwrites a reviewer's balance unconditionally.
// Operator seeding only; payouts go through CompareAndSwapBalance.
func (db *DB) UpsertReviewerBalance(ctx context.Context, b domain.ReviewerBalance) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO reviewer_balances (reviewer_id, available_cents, paid_cents, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(reviewer_id) DO UPDATE SET
			available_cents = excluded.available_cents,
			paid_cents      = excluded.paid_cents,
			updated_at      = excluded.updated_at
	`, b.ReviewerID, b.AvailableCents, b.PaidCents, db.timestamp())
	return err
}

// GetReviewerBalance returns a reviewer's balance.
func (db *DB) GetReviewerBalance(ctx context.Context, reviewerID string) (*domain.ReviewerBalance, error) {
	var (
		b         domain.ReviewerBalance
		updatedAt string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT reviewer_id, available_cents, paid_cents, updated_at
		FROM reviewer_balances WHERE reviewer_id = ?
	`, reviewerID).Scan(&b.ReviewerID, &b.AvailableCents, &b.PaidCents, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", reviewerID, err)
	}
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

// CompareAndSwapBalance writes next only if the stored balance still equals
// expected; otherwise it returns domain.ErrConflict.
func (db *DB) CompareAndSwapBalance(ctx context.Context, expected, next domain.ReviewerBalance) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE reviewer_balances
		SET available_cents = ?, paid_cents = ?, updated_at = ?
		WHERE reviewer_id = ? AND available_cents = ? AND paid_cents = ?
	`, next.AvailableCents, next.PaidCents, db.timestamp(),
		expected.ReviewerID, expected.AvailableCents, expected.PaidCents)
	if err != nil {
		return fmt.Errorf("swap balance %s: %w", expected.ReviewerID, err)
	}
	return requireOne(res, domain.ErrConflict)
}

// ─── Payout Requests ────────────────────────────────────────────────────────

// CreatePayoutRequest inserts a payout request in the requested state.
func (db *DB) CreatePayoutRequest(ctx context.Context, p domain.PayoutRequest) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO payout_requests (id, reviewer_id, amount_cents, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.ReviewerID, p.AmountCents, string(domain.PayoutRequested), db.timestamp())
	return insertErr("payout request", err)
}

// GetPayoutRequest returns a payout request by id.
func (db *DB) GetPayoutRequest(ctx context.Context, id string) (*domain.PayoutRequest, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT id, reviewer_id, amount_cents, status, transfer_id, created_at
		FROM payout_requests WHERE id = ?
	`, id)
	p, err := scanPayoutRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payout request %s: %w", id, err)
	}
	return p, nil
}

// ListPayoutRequests returns requests in status, oldest first.
func (db *DB) ListPayoutRequests(ctx context.Context, status domain.PayoutStatus, limit int) ([]domain.PayoutRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, reviewer_id, amount_cents, status, transfer_id, created_at
		FROM payout_requests WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?
	`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PayoutRequest
	for rows.Next() {
		p, err := scanPayoutRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// TransitionPayoutRequest moves a request from → to. It returns
// domain.ErrConflict when the stored status is no longer from.
func (db *DB) TransitionPayoutRequest(ctx context.Context, id string, from, to domain.PayoutStatus) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("transition %s -> %s: %w", from, to, domain.ErrInvalidState)
	}
	res, err := db.db.ExecContext(ctx, `
		UPDATE payout_requests SET status = ? WHERE id = ? AND status = ?
	`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("transition payout request %s: %w", id, err)
	}
	return requireOne(res, domain.ErrConflict)
}

// SetPayoutTransfer records the provider transfer id on a request.
func (db *DB) SetPayoutTransfer(ctx context.Context, id, transferID string) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE payout_requests SET transfer_id = ? WHERE id = ?
	`, transferID, id)
	if err != nil {
		return fmt.Errorf("set payout transfer %s: %w", id, err)
	}
	return requireOne(res, domain.ErrNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayoutRequest(row rowScanner) (*domain.PayoutRequest, error) {
	var (
		p         domain.PayoutRequest
		status    string
		createdAt string
	)
	if err := row.Scan(&p.ID, &p.ReviewerID, &p.AmountCents, &status, &p.TransferID, &createdAt); err != nil {
		return nil, err
	}
	p.Status = domain.PayoutStatus(status)
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

var _ domain.LedgerStore = (*DB)(nil)
