// Package store provides an in-memory core.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/story-ledger/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements core.Store, core.Relationships, core.PolicySource and
// core.NotificationStore. Units of work take the write lock for their whole
// duration, so they are trivially serializable and never conflict.
type Memory struct {
	mu sync.RWMutex
	st state
}

type grantKey struct {
	Reader  core.AccountID
	Content core.ContentID
}

type periodKey struct {
	Owner  core.AccountID
	Period core.PeriodKey
}

type dayKey struct {
	Account core.AccountID
	Date    string
}

type linkKey struct {
	A, B core.AccountID
}

type state struct {
	accounts      map[core.AccountID]core.Account
	content       map[core.ContentID]core.ContentItem
	byPeriod      map[periodKey]core.ContentID
	grants        map[grantKey]core.Grant
	snapshots     map[grantKey]core.Snapshot
	entries       []core.LedgerEntry
	idempotency   map[string]bool
	daily         map[dayKey]core.DailyRecord
	links         map[linkKey]bool
	policies      map[string]int64
	notifications []core.Notification
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func newState() state {
	return state{
		accounts:    make(map[core.AccountID]core.Account),
		content:     make(map[core.ContentID]core.ContentItem),
		byPeriod:    make(map[periodKey]core.ContentID),
		grants:      make(map[grantKey]core.Grant),
		snapshots:   make(map[grantKey]core.Snapshot),
		idempotency: make(map[string]bool),
		daily:       make(map[dayKey]core.DailyRecord),
		links:       make(map[linkKey]bool),
		policies:    make(map[string]int64),
	}
}

// clone copies every map so a failed unit of work can be rolled back.
func (s *state) clone() state {
	c := newState()
	for k, v := range s.accounts {
		c.accounts[k] = v.Clone()
	}
	for k, v := range s.content {
		c.content[k] = v
	}
	for k, v := range s.byPeriod {
		c.byPeriod[k] = v
	}
	for k, v := range s.grants {
		c.grants[k] = v
	}
	for k, v := range s.snapshots {
		c.snapshots[k] = v
	}
	c.entries = append([]core.LedgerEntry(nil), s.entries...)
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.daily {
		c.daily[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	c.notifications = append([]core.Notification(nil), s.notifications...)
	return c
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(core.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	if err := fn(&view{st: &m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// view runs leaf-store calls against the locked state.
type view struct {
	st *state
}

// read and write wrap a locked call on the root store.
func (m *Memory) read(fn func(v *view) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&view{st: &m.st})
}

func (m *Memory) write(fn func(v *view) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&view{st: &m.st})
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (v *view) CreateAccount(_ context.Context, acct core.Account) error {
	if err := acct.Validate(); err != nil {
		return err
	}
	if _, ok := v.st.accounts[acct.ID]; ok {
		return core.ErrDuplicateAccount
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	v.st.accounts[acct.ID] = acct.Clone()
	return nil
}

func (v *view) GetAccount(_ context.Context, id core.AccountID) (core.Account, error) {
	acct, ok := v.st.accounts[id]
	if !ok {
		return core.Account{}, core.ErrAccountNotFound
	}
	return acct.Clone(), nil
}

func (v *view) AdjustBalance(_ context.Context, id core.AccountID, delta int64) (int64, error) {
	acct, ok := v.st.accounts[id]
	if !ok {
		return 0, core.ErrAccountNotFound
	}
	if acct.Balance+delta < 0 {
		return acct.Balance, &core.InsufficientFundsError{AccountID: id, Balance: acct.Balance, Required: -delta}
	}
	acct.Balance += delta
	v.st.accounts[id] = acct
	return acct.Balance, nil
}

func (v *view) CompareAndSetTokens(_ context.Context, id core.AccountID, genre core.Genre, expected, next int) error {
	acct, ok := v.st.accounts[id]
	if !ok {
		return core.ErrAccountNotFound
	}
	if acct.TokenCount(genre) != expected {
		return core.ErrTokenConflict
	}
	if next < 0 {
		return &core.InsufficientTokensError{AccountID: id, Genre: genre}
	}
	acct = acct.Clone()
	if acct.Tokens == nil {
		acct.Tokens = make(map[core.Genre]int)
	}
	acct.Tokens[genre] = next
	v.st.accounts[id] = acct
	return nil
}

// =============================================================================
// CONTENT
// =============================================================================

func (v *view) InsertContent(_ context.Context, item core.ContentItem) error {
	pk := periodKey{Owner: item.OwnerID, Period: item.Period}
	if _, ok := v.st.byPeriod[pk]; ok {
		return core.ErrDuplicateContent
	}
	if _, ok := v.st.content[item.ID]; ok {
		return core.ErrDuplicateContent
	}
	v.st.content[item.ID] = item
	v.st.byPeriod[pk] = item.ID
	return nil
}

func (v *view) GetContent(_ context.Context, id core.ContentID) (core.ContentItem, error) {
	item, ok := v.st.content[id]
	if !ok {
		return core.ContentItem{}, core.ErrContentNotFound
	}
	return item, nil
}

func (v *view) GetContentByPeriod(ctx context.Context, owner core.AccountID, key core.PeriodKey) (core.ContentItem, error) {
	id, ok := v.st.byPeriod[periodKey{Owner: owner, Period: key}]
	if !ok {
		return core.ContentItem{}, core.ErrContentNotFound
	}
	return v.GetContent(ctx, id)
}

func (v *view) ListContentByOwner(_ context.Context, owner core.AccountID) ([]core.ContentItem, error) {
	var out []core.ContentItem
	for _, item := range v.st.content {
		if item.OwnerID == owner {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (v *view) SetContentState(_ context.Context, id core.ContentID, st core.ContentState) error {
	item, ok := v.st.content[id]
	if !ok {
		return core.ErrContentNotFound
	}
	item.State = st
	v.st.content[id] = item
	return nil
}

func (v *view) IncrementReaderCount(_ context.Context, id core.ContentID) (int64, error) {
	item, ok := v.st.content[id]
	if !ok {
		return 0, core.ErrContentNotFound
	}
	item.ReaderCount++
	v.st.content[id] = item
	return item.ReaderCount, nil
}

// =============================================================================
// GRANTS & SNAPSHOTS
// =============================================================================

func (v *view) GetGrant(_ context.Context, reader core.AccountID, item core.ContentID) (core.Grant, bool, error) {
	g, ok := v.st.grants[grantKey{Reader: reader, Content: item}]
	return g, ok, nil
}

func (v *view) InsertGrant(_ context.Context, g core.Grant) error {
	k := grantKey{Reader: g.ReaderID, Content: g.ContentID}
	if _, ok := v.st.grants[k]; ok {
		return core.ErrDuplicateGrant
	}
	v.st.grants[k] = g
	return nil
}

func (v *view) CountGrants(_ context.Context, item core.ContentID) (int64, error) {
	var n int64
	for k := range v.st.grants {
		if k.Content == item {
			n++
		}
	}
	return n, nil
}

func (v *view) GetSnapshot(_ context.Context, reader core.AccountID, item core.ContentID) (core.Snapshot, bool, error) {
	s, ok := v.st.snapshots[grantKey{Reader: reader, Content: item}]
	return s, ok, nil
}

func (v *view) InsertSnapshot(_ context.Context, s core.Snapshot) error {
	k := grantKey{Reader: s.ReaderID, Content: s.ContentID}
	if _, ok := v.st.snapshots[k]; ok {
		return core.ErrDuplicateSnapshot
	}
	v.st.snapshots[k] = s
	return nil
}

func (v *view) ListSnapshots(_ context.Context, reader core.AccountID) ([]core.Snapshot, error) {
	var out []core.Snapshot
	for k, s := range v.st.snapshots {
		if k.Reader == reader {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	return out, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (v *view) AppendEntry(_ context.Context, e core.LedgerEntry) error {
	if e.IdempotencyKey != "" {
		if v.st.idempotency[e.IdempotencyKey] {
			return core.ErrDuplicateIdempotencyKey
		}
		v.st.idempotency[e.IdempotencyKey] = true
	}
	v.st.entries = append(v.st.entries, e)
	return nil
}

func (v *view) EntryExists(_ context.Context, key string) (bool, error) {
	return v.st.idempotency[key], nil
}

func (v *view) ListEntries(_ context.Context, account core.AccountID, f core.EntryFilter) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	for i := len(v.st.entries) - 1; i >= 0; i-- {
		e := v.st.entries[i]
		if e.AccountID != account || !matches(e, f) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func matches(e core.LedgerEntry, f core.EntryFilter) bool {
	if f.Descriptor != "" && e.Descriptor != f.Descriptor {
		return false
	}
	if f.Reference != "" && e.Reference != f.Reference {
		return false
	}
	day := core.DateOf(e.CreatedAt, time.UTC)
	if f.From != nil && day.Before(*f.From) {
		return false
	}
	if f.To != nil && day.After(*f.To) {
		return false
	}
	return true
}

// =============================================================================
// DAILY RECORDS
// =============================================================================

func (v *view) PutDailyRecord(_ context.Context, r core.DailyRecord) (bool, error) {
	k := dayKey{Account: r.AccountID, Date: r.Date.String()}
	if _, ok := v.st.daily[k]; ok {
		return false, nil
	}
	v.st.daily[k] = r
	return true, nil
}

func (v *view) DeleteDailyRecord(_ context.Context, account core.AccountID, d core.Date) (bool, error) {
	k := dayKey{Account: account, Date: d.String()}
	if _, ok := v.st.daily[k]; !ok {
		return false, nil
	}
	delete(v.st.daily, k)
	return true, nil
}

func (v *view) ListDailyRecords(_ context.Context, account core.AccountID, from, to core.Date) ([]core.DailyRecord, error) {
	var out []core.DailyRecord
	for d := from; d.BeforeOrEqual(to); d = d.AddDays(1) {
		if r, ok := v.st.daily[dayKey{Account: account, Date: d.String()}]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// ROOT STORE - each call is its own locked unit
// =============================================================================

func (m *Memory) CreateAccount(ctx context.Context, acct core.Account) error {
	return m.write(func(v *view) error { return v.CreateAccount(ctx, acct) })
}

func (m *Memory) GetAccount(ctx context.Context, id core.AccountID) (acct core.Account, err error) {
	err = m.read(func(v *view) error { acct, err = v.GetAccount(ctx, id); return err })
	return acct, err
}

func (m *Memory) AdjustBalance(ctx context.Context, id core.AccountID, delta int64) (bal int64, err error) {
	err = m.write(func(v *view) error { bal, err = v.AdjustBalance(ctx, id, delta); return err })
	return bal, err
}

func (m *Memory) CompareAndSetTokens(ctx context.Context, id core.AccountID, genre core.Genre, expected, next int) error {
	return m.write(func(v *view) error { return v.CompareAndSetTokens(ctx, id, genre, expected, next) })
}

func (m *Memory) InsertContent(ctx context.Context, item core.ContentItem) error {
	return m.write(func(v *view) error { return v.InsertContent(ctx, item) })
}

func (m *Memory) GetContent(ctx context.Context, id core.ContentID) (item core.ContentItem, err error) {
	err = m.read(func(v *view) error { item, err = v.GetContent(ctx, id); return err })
	return item, err
}

func (m *Memory) GetContentByPeriod(ctx context.Context, owner core.AccountID, key core.PeriodKey) (item core.ContentItem, err error) {
	err = m.read(func(v *view) error { item, err = v.GetContentByPeriod(ctx, owner, key); return err })
	return item, err
}

func (m *Memory) ListContentByOwner(ctx context.Context, owner core.AccountID) (items []core.ContentItem, err error) {
	err = m.read(func(v *view) error { items, err = v.ListContentByOwner(ctx, owner); return err })
	return items, err
}

func (m *Memory) SetContentState(ctx context.Context, id core.ContentID, st core.ContentState) error {
	return m.write(func(v *view) error { return v.SetContentState(ctx, id, st) })
}

func (m *Memory) IncrementReaderCount(ctx context.Context, id core.ContentID) (n int64, err error) {
	err = m.write(func(v *view) error { n, err = v.IncrementReaderCount(ctx, id); return err })
	return n, err
}

func (m *Memory) GetGrant(ctx context.Context, reader core.AccountID, item core.ContentID) (g core.Grant, ok bool, err error) {
	err = m.read(func(v *view) error { g, ok, err = v.GetGrant(ctx, reader, item); return err })
	return g, ok, err
}

func (m *Memory) InsertGrant(ctx context.Context, g core.Grant) error {
	return m.write(func(v *view) error { return v.InsertGrant(ctx, g) })
}

func (m *Memory) CountGrants(ctx context.Context, item core.ContentID) (n int64, err error) {
	err = m.read(func(v *view) error { n, err = v.CountGrants(ctx, item); return err })
	return n, err
}

func (m *Memory) GetSnapshot(ctx context.Context, reader core.AccountID, item core.ContentID) (s core.Snapshot, ok bool, err error) {
	err = m.read(func(v *view) error { s, ok, err = v.GetSnapshot(ctx, reader, item); return err })
	return s, ok, err
}

func (m *Memory) InsertSnapshot(ctx context.Context, s core.Snapshot) error {
	return m.write(func(v *view) error { return v.InsertSnapshot(ctx, s) })
}

func (m *Memory) ListSnapshots(ctx context.Context, reader core.AccountID) (out []core.Snapshot, err error) {
	err = m.read(func(v *view) error { out, err = v.ListSnapshots(ctx, reader); return err })
	return out, err
}

func (m *Memory) AppendEntry(ctx context.Context, e core.LedgerEntry) error {
	return m.write(func(v *view) error { return v.AppendEntry(ctx, e) })
}

func (m *Memory) EntryExists(ctx context.Context, key string) (ok bool, err error) {
	err = m.read(func(v *view) error { ok, err = v.EntryExists(ctx, key); return err })
	return ok, err
}

func (m *Memory) ListEntries(ctx context.Context, account core.AccountID, f core.EntryFilter) (out []core.LedgerEntry, err error) {
	err = m.read(func(v *view) error { out, err = v.ListEntries(ctx, account, f); return err })
	return out, err
}

func (m *Memory) PutDailyRecord(ctx context.Context, r core.DailyRecord) (created bool, err error) {
	err = m.write(func(v *view) error { created, err = v.PutDailyRecord(ctx, r); return err })
	return created, err
}

func (m *Memory) DeleteDailyRecord(ctx context.Context, account core.AccountID, d core.Date) (deleted bool, err error) {
	err = m.write(func(v *view) error { deleted, err = v.DeleteDailyRecord(ctx, account, d); return err })
	return deleted, err
}

func (m *Memory) ListDailyRecords(ctx context.Context, account core.AccountID, from, to core.Date) (out []core.DailyRecord, err error) {
	err = m.read(func(v *view) error { out, err = v.ListDailyRecords(ctx, account, from, to); return err })
	return out, err
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Link records a symmetric relationship between a and b.
func (m *Memory) Link(_ context.Context, a, b core.AccountID) error {
	if a == b {
		return fmt.Errorf("%w: cannot link %s to itself", core.ErrInvalidInput, a)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.links[linkKey{A: a, B: b}] = true
	m.st.links[linkKey{A: b, B: a}] = true
	return nil
}

func (m *Memory) AreLinked(_ context.Context, a, b core.AccountID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.links[linkKey{A: a, B: b}], nil
}

func (m *Memory) SetPolicy(_ context.Context, key string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.policies[key] = value
	return nil
}

func (m *Memory) PolicyInt(_ context.Context, key string, def int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.st.policies[key]; ok {
		return v, nil
	}
	return def, nil
}

func (m *Memory) InsertNotification(_ context.Context, n core.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.notifications = append(m.st.notifications, n)
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, account core.AccountID, limit int) ([]core.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Notification
	for i := len(m.st.notifications) - 1; i >= 0; i-- {
		if n := m.st.notifications[i]; n.AccountID == account {
			out = append(out, n)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, account core.AccountID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.st.notifications {
		if n := &m.st.notifications[i]; n.ID == id && n.AccountID == account {
			n.Read = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s", core.ErrNotificationNotFound, id)
}

var (
	_ core.Store             = (*Memory)(nil)
	_ core.Relationships     = (*Memory)(nil)
	_ core.PolicySource      = (*Memory)(nil)
	_ core.NotificationStore = (*Memory)(nil)
)
