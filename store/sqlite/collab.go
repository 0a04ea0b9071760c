package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/story-ledger/core"
)

// =============================================================================
// RELATIONSHIPS (core.Relationships)
// =============================================================================

// Link records a symmetric relationship between a and b.
func (s *Store) Link(ctx context.Context, a, b core.AccountID) error {
	if a == b {
		return fmt.Errorf("%w: cannot link %s to itself", core.ErrInvalidInput, a)
	}
	now := formatTime(time.Now())
	return s.WithTx(ctx, func(tx core.Tx) error {
		c := tx.(*conn)
		for _, pair := range [][2]core.AccountID{{a, b}, {b, a}} {
			if _, err := c.q.ExecContext(ctx, `
				INSERT INTO links (account_a, account_b, created_at) VALUES (?, ?, ?)
				ON CONFLICT (account_a, account_b) DO NOTHING
			`, pair[0], pair[1], now); err != nil {
				return fmt.Errorf("failed to link accounts: %w", classify(err))
			}
		}
		return nil
	})
}

func (s *Store) AreLinked(ctx context.Context, a, b core.AccountID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM links WHERE account_a = ? AND account_b = ?
	`, a, b).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check link: %w", classify(err))
	}
	return n > 0, nil
}

// =============================================================================
// POINT POLICIES (core.PolicySource)
// =============================================================================

// SetPolicy upserts a policy value.
func (s *Store) SetPolicy(ctx context.Context, key string, value int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO point_policies (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set policy %s: %w", key, classify(err))
	}
	return nil
}

func (s *Store) PolicyInt(ctx context.Context, key string, def int64) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM point_policies WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, fmt.Errorf("failed to read policy %s: %w", key, classify(err))
	}
	return v, nil
}

// =============================================================================
// NOTIFICATIONS (core.NotificationStore)
// =============================================================================

func (s *Store) InsertNotification(ctx context.Context, n core.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification payload: %w", err)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, account_id, kind, payload_json, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, n.ID, n.AccountID, n.Kind, string(payload), n.Read, formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", classify(err))
	}
	return nil
}

// ListNotifications returns the account's notifications newest first.
func (s *Store) ListNotifications(ctx context.Context, account core.AccountID, limit int) ([]core.Notification, error) {
	query := `
		SELECT id, kind, payload_json, read, created_at FROM notifications
		WHERE account_id = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{account}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", classify(err))
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var (
			n       = core.Notification{AccountID: account}
			payload string
			created string
		)
		if err := rows.Scan(&n.ID, &n.Kind, &payload, &n.Read, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode notification %s: %w", n.ID, err)
		}
		n.CreatedAt = parseTime(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, account core.AccountID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE WHERE id = ? AND account_id = ?
	`, id, account)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: notification %s", core.ErrNotificationNotFound, id)
	}
	return nil
}

var (
	_ core.Relationships     = (*Store)(nil)
	_ core.PolicySource      = (*Store)(nil)
	_ core.NotificationStore = (*Store)(nil)
)
