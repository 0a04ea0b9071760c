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
// CONTENT (core.ContentStore)
// =============================================================================

const contentColumns = `id, owner_id, year, month, week_index, genre, state, title, cover_ref, body, reader_count, created_at`

func (c *conn) InsertContent(ctx context.Context, item core.ContentItem) error {
	if item.State == "" {
		item.State = core.StateLive
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO content_items (`+contentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, item.OwnerID,
		item.Period.Year, int(item.Period.Month), item.Period.WeekIndex, item.Period.Genre,
		item.State, item.Payload.Title, item.Payload.CoverRef, item.Payload.Body,
		item.ReaderCount, formatTime(item.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrDuplicateContent
		}
		return fmt.Errorf("failed to insert content: %w", classify(err))
	}
	return nil
}

func scanContent(row interface{ Scan(...any) error }) (core.ContentItem, error) {
	var (
		item    core.ContentItem
		month   int
		genre   string
		state   string
		created string
	)
	err := row.Scan(&item.ID, &item.OwnerID,
		&item.Period.Year, &month, &item.Period.WeekIndex, &genre,
		&state, &item.Payload.Title, &item.Payload.CoverRef, &item.Payload.Body,
		&item.ReaderCount, &created)
	if err != nil {
		return core.ContentItem{}, err
	}
	item.Period.Month = time.Month(month)
	item.Period.Genre = core.Genre(genre)
	item.State = core.ContentState(state)
	item.CreatedAt = parseTime(created)
	return item, nil
}

func (c *conn) GetContent(ctx context.Context, id core.ContentID) (core.ContentItem, error) {
	item, err := scanContent(c.q.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM content_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.ContentItem{}, core.ErrContentNotFound
	}
	if err != nil {
		return core.ContentItem{}, fmt.Errorf("failed to get content: %w", classify(err))
	}
	return item, nil
}

func (c *conn) GetContentByPeriod(ctx context.Context, owner core.AccountID, key core.PeriodKey) (core.ContentItem, error) {
	item, err := scanContent(c.q.QueryRowContext(ctx, `
		SELECT `+contentColumns+` FROM content_items
		WHERE owner_id = ? AND year = ? AND month = ? AND week_index = ? AND genre = ?
	`, owner, key.Year, int(key.Month), key.WeekIndex, key.Genre))
	if errors.Is(err, sql.ErrNoRows) {
		return core.ContentItem{}, core.ErrContentNotFound
	}
	if err != nil {
		return core.ContentItem{}, fmt.Errorf("failed to get content: %w", classify(err))
	}
	return item, nil
}

func (c *conn) ListContentByOwner(ctx context.Context, owner core.AccountID) ([]core.ContentItem, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+contentColumns+` FROM content_items
		WHERE owner_id = ? ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", classify(err))
	}
	defer rows.Close()

	var out []core.ContentItem
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (c *conn) SetContentState(ctx context.Context, id core.ContentID, state core.ContentState) error {
	res, err := c.q.ExecContext(ctx, `UPDATE content_items SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("failed to set content state: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrContentNotFound
	}
	return nil
}

func (c *conn) IncrementReaderCount(ctx context.Context, id core.ContentID) (int64, error) {
	var n int64
	err := c.q.QueryRowContext(ctx, `
		UPDATE content_items SET reader_count = reader_count + 1 WHERE id = ?
		RETURNING reader_count
	`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.ErrContentNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment reader count: %w", classify(err))
	}
	return n, nil
}

// =============================================================================
// GRANTS (core.GrantStore)
// =============================================================================

func (c *conn) GetGrant(ctx context.Context, reader core.AccountID, item core.ContentID) (core.Grant, bool, error) {
	var granted string
	err := c.q.QueryRowContext(ctx, `
		SELECT granted_at FROM grants WHERE reader_id = ? AND content_id = ?
	`, reader, item).Scan(&granted)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Grant{}, false, nil
	}
	if err != nil {
		return core.Grant{}, false, fmt.Errorf("failed to get grant: %w", classify(err))
	}
	return core.Grant{ReaderID: reader, ContentID: item, GrantedAt: parseTime(granted)}, true, nil
}

func (c *conn) InsertGrant(ctx context.Context, g core.Grant) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO grants (reader_id, content_id, granted_at) VALUES (?, ?, ?)
	`, g.ReaderID, g.ContentID, formatTime(g.GrantedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrDuplicateGrant
		}
		return fmt.Errorf("failed to insert grant: %w", classify(err))
	}
	return nil
}

func (c *conn) CountGrants(ctx context.Context, item core.ContentID) (int64, error) {
	var n int64
	err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM grants WHERE content_id = ?`, item).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count grants: %w", classify(err))
	}
	return n, nil
}

// =============================================================================
// SNAPSHOTS (core.SnapshotStore)
// =============================================================================

const snapshotColumns = `reader_id, content_id, owner_id, year, month, week_index, genre, title, cover_ref, body, taken_at`

func scanSnapshot(row interface{ Scan(...any) error }) (core.Snapshot, error) {
	var (
		s     core.Snapshot
		month int
		genre string
		taken string
	)
	err := row.Scan(&s.ReaderID, &s.ContentID, &s.OwnerID,
		&s.Period.Year, &month, &s.Period.WeekIndex, &genre,
		&s.Payload.Title, &s.Payload.CoverRef, &s.Payload.Body, &taken)
	if err != nil {
		return core.Snapshot{}, err
	}
	s.Period.Month = time.Month(month)
	s.Period.Genre = core.Genre(genre)
	s.TakenAt = parseTime(taken)
	return s, nil
}

func (c *conn) GetSnapshot(ctx context.Context, reader core.AccountID, item core.ContentID) (core.Snapshot, bool, error) {
	s, err := scanSnapshot(c.q.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots WHERE reader_id = ? AND content_id = ?
	`, reader, item))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, false, nil
	}
	if err != nil {
		return core.Snapshot{}, false, fmt.Errorf("failed to get snapshot: %w", classify(err))
	}
	return s, true, nil
}

func (c *conn) InsertSnapshot(ctx context.Context, s core.Snapshot) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ReaderID, s.ContentID, s.OwnerID,
		s.Period.Year, int(s.Period.Month), s.Period.WeekIndex, s.Period.Genre,
		s.Payload.Title, s.Payload.CoverRef, s.Payload.Body, formatTime(s.TakenAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return core.ErrDuplicateSnapshot
		}
		return fmt.Errorf("failed to insert snapshot: %w", classify(err))
	}
	return nil
}

func (c *conn) ListSnapshots(ctx context.Context, reader core.AccountID) ([]core.Snapshot, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots WHERE reader_id = ? ORDER BY taken_at DESC
	`, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", classify(err))
	}
	defer rows.Close()

	var out []core.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
