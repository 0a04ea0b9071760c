package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/story-ledger/core"
)

// =============================================================================
// LEDGER ENTRIES (core.LedgerStore) - append-only
// =============================================================================

func (c *conn) AppendEntry(ctx context.Context, e core.LedgerEntry) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, account_id, direction, amount, descriptor, reference, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.AccountID, e.Direction, e.Amount, e.Descriptor, e.Reference,
		nullString(e.IdempotencyKey), formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append ledger entry: %w", classify(err))
	}
	return nil
}

func (c *conn) EntryExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := c.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?`, key).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", classify(err))
	}
	return n > 0, nil
}

func (c *conn) ListEntries(ctx context.Context, account core.AccountID, f core.EntryFilter) ([]core.LedgerEntry, error) {
	var (
		where = []string{"account_id = ?"}
		args  = []any{account}
	)
	if f.Descriptor != "" {
		where = append(where, "descriptor = ?")
		args = append(args, f.Descriptor)
	}
	if f.Reference != "" {
		where = append(where, "reference = ?")
		args = append(args, f.Reference)
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.From.Time))
	}
	if f.To != nil {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(f.To.AddDays(1).Time))
	}
	query := `
		SELECT id, account_id, direction, amount, descriptor, reference,
		       COALESCE(idempotency_key, ''), created_at
		FROM ledger_entries
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", classify(err))
	}
	defer rows.Close()

	var out []core.LedgerEntry
	for rows.Next() {
		var (
			e       core.LedgerEntry
			created string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Direction, &e.Amount, &e.Descriptor,
			&e.Reference, &e.IdempotencyKey, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// DAILY RECORDS (core.DailyRecordStore)
// =============================================================================

func (c *conn) PutDailyRecord(ctx context.Context, r core.DailyRecord) (bool, error) {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO daily_records (account_id, date, created_at) VALUES (?, ?, ?)
		ON CONFLICT (account_id, date) DO NOTHING
	`, r.AccountID, r.Date.String(), formatTime(r.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to put daily record: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *conn) DeleteDailyRecord(ctx context.Context, account core.AccountID, d core.Date) (bool, error) {
	res, err := c.q.ExecContext(ctx,
		`DELETE FROM daily_records WHERE account_id = ? AND date = ?`, account, d.String())
	if err != nil {
		return false, fmt.Errorf("failed to delete daily record: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *conn) ListDailyRecords(ctx context.Context, account core.AccountID, from, to core.Date) ([]core.DailyRecord, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT date, created_at FROM daily_records
		WHERE account_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, account, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list daily records: %w", classify(err))
	}
	defer rows.Close()

	var out []core.DailyRecord
	for rows.Next() {
		var day, created string
		if err := rows.Scan(&day, &created); err != nil {
			return nil, err
		}
		d, err := core.ParseDate(day)
		if err != nil {
			return nil, err
		}
		out = append(out, core.DailyRecord{AccountID: account, Date: d, CreatedAt: parseTime(created)})
	}
	return out, rows.Err()
}
