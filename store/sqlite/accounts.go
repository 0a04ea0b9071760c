package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/story-ledger/core"
)

// =============================================================================
// ACCOUNTS (core.AccountStore)
// =============================================================================

func (c *conn) CreateAccount(ctx context.Context, acct core.Account) error {
	if err := acct.Validate(); err != nil {
		return err
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now()
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO accounts (id, display_name, balance, privileged, time_zone, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, acct.ID, acct.DisplayName, acct.Balance, acct.Privileged, acct.TimeZone, formatTime(acct.CreatedAt))
	if err != nil {
		switch {
		case isUniqueConstraintError(err):
			return core.ErrDuplicateAccount
		case isCheckConstraintError(err):
			return &core.InsufficientFundsError{AccountID: acct.ID, Balance: acct.Balance}
		}
		return fmt.Errorf("failed to create account: %w", classify(err))
	}

	for genre, count := range acct.Tokens {
		if _, err := c.q.ExecContext(ctx, `
			INSERT INTO account_tokens (account_id, genre, count) VALUES (?, ?, ?)
		`, acct.ID, genre, count); err != nil {
			return fmt.Errorf("failed to seed %s tokens: %w", genre, classify(err))
		}
	}
	return nil
}

func (c *conn) GetAccount(ctx context.Context, id core.AccountID) (core.Account, error) {
	var (
		acct    core.Account
		created string
	)
	err := c.q.QueryRowContext(ctx, `
		SELECT id, display_name, balance, privileged, time_zone, created_at
		FROM accounts WHERE id = ?
	`, id).Scan(&acct.ID, &acct.DisplayName, &acct.Balance, &acct.Privileged, &acct.TimeZone, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.ErrAccountNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("failed to get account: %w", classify(err))
	}
	acct.CreatedAt = parseTime(created)

	rows, err := c.q.QueryContext(ctx, `SELECT genre, count FROM account_tokens WHERE account_id = ?`, id)
	if err != nil {
		return core.Account{}, fmt.Errorf("failed to load tokens: %w", classify(err))
	}
	defer rows.Close()

	acct.Tokens = make(map[core.Genre]int)
	for rows.Next() {
		var (
			genre string
			count int
		)
		if err := rows.Scan(&genre, &count); err != nil {
			return core.Account{}, err
		}
		acct.Tokens[core.Genre(genre)] = count
	}
	return acct, rows.Err()
}

func (c *conn) AdjustBalance(ctx context.Context, id core.AccountID, delta int64) (int64, error) {
	var balance int64
	err := c.q.QueryRowContext(ctx, `
		UPDATE accounts SET balance = balance + ?
		WHERE id = ? AND balance + ? >= 0
		RETURNING balance
	`, delta, id, delta).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to adjust balance: %w", classify(err))
	}

	// Nothing updated: either the account is missing or it would go negative.
	acct, err := c.GetAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	return acct.Balance, &core.InsufficientFundsError{AccountID: id, Balance: acct.Balance, Required: -delta}
}

func (c *conn) CompareAndSetTokens(ctx context.Context, id core.AccountID, genre core.Genre, expected, next int) error {
	if next < 0 {
		return &core.InsufficientTokensError{AccountID: id, Genre: genre}
	}

	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		// an absent row counts as zero
		res, err = c.q.ExecContext(ctx, `
			INSERT INTO account_tokens (account_id, genre, count) VALUES (?, ?, ?)
			ON CONFLICT (account_id, genre) DO UPDATE SET count = excluded.count
			WHERE account_tokens.count = 0
		`, id, genre, next)
	} else {
		res, err = c.q.ExecContext(ctx, `
			UPDATE account_tokens SET count = ?
			WHERE account_id = ? AND genre = ? AND count = ?
		`, next, id, genre, expected)
	}
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", classify(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := c.GetAccount(ctx, id); err != nil {
			return err
		}
		return core.ErrTokenConflict
	}
	return nil
}
