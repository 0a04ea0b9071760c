/*
Package core holds the data model and store contracts of the story ledger.

PURPOSE:
  Every other package (settlement, access, streak, rewards, content, journal)
  speaks in the types defined here. Nothing in core talks to a database or
  the network; implementations live in core/store (memory) and store/sqlite.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account:     identity with a point balance and a genre-token inventory
  - ContentItem: a generated story keyed by owner + PeriodKey
  - Grant:       proof a reader has paid for an item (sole authority)
  - Snapshot:    reader-owned copy of an item's payload taken at grant time
  - LedgerEntry: append-only record of a point movement
  - DailyRecord: marker that a journal entry exists for (account, date)

INVARIANTS:
  1. Balances and token counts never go negative.
  2. No balance changes without a matching LedgerEntry in the same unit of work.
  3. At most one Grant per (reader, item), ever. Grants are never deleted.
  4. ContentItems are never erased. Deletion is the terminal Deleted state.
  5. Snapshots are written once and never updated.

SEE ALSO:
  - store.go: persistence contracts
  - errors.go: error taxonomy and denial reasons
  - time.go: calendar dates and weekly windows
*/
package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type ContentID string
type EntryID string

// PlatformAccountID receives the platform-margin ledger line. It has no
// balance row; the entry exists for auditability only.
const PlatformAccountID AccountID = "platform"

// =============================================================================
// GENRE
// =============================================================================

// Genre is both the content genre and the token ("potion") type that must be
// consumed to generate content of that genre.
type Genre string

const (
	GenreRomance    Genre = "romance"
	GenreMystery    Genre = "mystery"
	GenreHistorical Genre = "historical"
	GenreFairytale  Genre = "fairytale"
	GenreFantasy    Genre = "fantasy"
	GenreHorror     Genre = "horror"
)

// Genres lists the closed genre set in display order.
var Genres = []Genre{GenreRomance, GenreMystery, GenreHistorical, GenreFairytale, GenreFantasy, GenreHorror}

func (g Genre) Valid() bool {
	for _, known := range Genres {
		if g == known {
			return true
		}
	}
	return false
}

// ParseGenre accepts the lowercase genre key.
func ParseGenre(s string) (Genre, error) {
	g := Genre(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("%w: unknown genre %q", ErrInvalidInput, s)
	}
	return g, nil
}

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	ID          AccountID
	DisplayName string
	Balance     int64
	Tokens      map[Genre]int
	Privileged  bool   // premium accounts earn a multiplied daily reward
	TimeZone    string // IANA name; empty means the configured default
	CreatedAt   time.Time
}

// TokenCount returns the count for g, zero when absent.
func (a Account) TokenCount(g Genre) int {
	if a.Tokens == nil {
		return 0
	}
	return a.Tokens[g]
}

// Validate checks an account before it is created. The platform id is
// reserved: ledger postings against it never touch a balance.
func (a Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if a.ID == PlatformAccountID {
		return fmt.Errorf("%w: account id %q is reserved", ErrInvalidInput, a.ID)
	}
	if a.Balance < 0 {
		return fmt.Errorf("%w: opening balance must not be negative", ErrInvalidInput)
	}
	for g, n := range a.Tokens {
		if !g.Valid() || n < 0 {
			return fmt.Errorf("%w: token grant %s=%d", ErrInvalidInput, g, n)
		}
	}
	if a.TimeZone != "" {
		if _, err := time.LoadLocation(a.TimeZone); err != nil {
			return fmt.Errorf("%w: time zone %q: %v", ErrInvalidInput, a.TimeZone, err)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias store-held maps.
func (a Account) Clone() Account {
	out := a
	if a.Tokens != nil {
		out.Tokens = make(map[Genre]int, len(a.Tokens))
		for g, n := range a.Tokens {
			out.Tokens[g] = n
		}
	}
	return out
}

// =============================================================================
// CONTENT ITEM
// =============================================================================

// PeriodKey identifies the week a content item was generated for. Together
// with the owner it is unique.
type PeriodKey struct {
	Year      int
	Month     time.Month
	WeekIndex int
	Genre     Genre
}

func (k PeriodKey) Validate() error {
	if k.Year < 1 || k.Month < time.January || k.Month > time.December {
		return fmt.Errorf("%w: period %d-%d out of range", ErrInvalidInput, k.Year, k.Month)
	}
	if k.WeekIndex < 1 || k.WeekIndex > 5 {
		return fmt.Errorf("%w: week index %d out of range", ErrInvalidInput, k.WeekIndex)
	}
	if !k.Genre.Valid() {
		return fmt.Errorf("%w: unknown genre %q", ErrInvalidInput, k.Genre)
	}
	return nil
}

// Window returns the weekly window this period key refers to.
func (k PeriodKey) Window() WindowID {
	return WindowID{Year: k.Year, Month: k.Month, Index: k.WeekIndex}
}

// String renders the key as year-month-week-genre.
func (k PeriodKey) String() string {
	return fmt.Sprintf("%d-%d-%d-%s", k.Year, int(k.Month), k.WeekIndex, k.Genre)
}

// ParsePeriodKey is the inverse of PeriodKey.String.
func ParsePeriodKey(s string) (PeriodKey, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return PeriodKey{}, fmt.Errorf("%w: period key %q", ErrInvalidInput, s)
	}
	nums := make([]int, 3)
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return PeriodKey{}, fmt.Errorf("%w: period key %q", ErrInvalidInput, s)
		}
		nums[i] = n
	}
	genre, err := ParseGenre(parts[3])
	if err != nil {
		return PeriodKey{}, err
	}
	k := PeriodKey{Year: nums[0], Month: time.Month(nums[1]), WeekIndex: nums[2], Genre: genre}
	return k, k.Validate()
}

// ContentState is the closed lifecycle of a content item. Visibility and
// deletion are one tagged state because "private and deleted" has no meaning.
type ContentState string

const (
	StateLive    ContentState = "live"
	StatePrivate ContentState = "private"
	StateDeleted ContentState = "deleted"
)

func (s ContentState) Valid() bool {
	return s == StateLive || s == StatePrivate || s == StateDeleted
}

// CanTransition reports whether an owner may move an item from s to next.
// Deleted is terminal.
func (s ContentState) CanTransition(next ContentState) bool {
	if s == StateDeleted || !next.Valid() {
		return false
	}
	return true
}

// Payload is the story itself. All fields are values, so a struct copy is a
// deep copy.
type Payload struct {
	Title    string
	CoverRef string
	Body     string
}

type ContentItem struct {
	ID          ContentID
	OwnerID     AccountID
	Period      PeriodKey
	State       ContentState
	Payload     Payload
	ReaderCount int64 // grants issued; maintained by settlement
	CreatedAt   time.Time
}

func (c ContentItem) Deleted() bool { return c.State == StateDeleted }
func (c ContentItem) Private() bool { return c.State == StatePrivate }

// =============================================================================
// GRANT & SNAPSHOT
// =============================================================================

type Grant struct {
	ReaderID  AccountID
	ContentID ContentID
	GrantedAt time.Time
}

type Snapshot struct {
	ReaderID  AccountID
	ContentID ContentID
	OwnerID   AccountID
	Period    PeriodKey
	Payload   Payload
	TakenAt   time.Time
}

// SnapshotOf copies the item's payload for reader.
func SnapshotOf(reader AccountID, item ContentItem, at time.Time) Snapshot {
	return Snapshot{
		ReaderID:  reader,
		ContentID: item.ID,
		OwnerID:   item.OwnerID,
		Period:    item.Period,
		Payload:   item.Payload,
		TakenAt:   at,
	}
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

type Direction string

const (
	DirectionEarn  Direction = "earn"
	DirectionSpend Direction = "spend"
)

// Descriptor is the closed set of reasons a point movement can have.
type Descriptor string

const (
	DescDailyActivityReward  Descriptor = "daily-activity-reward"
	DescWeeklyStreakBonus    Descriptor = "weekly-streak-bonus"
	DescContentSaleEarning   Descriptor = "content-sale-earning"
	DescContentPurchaseSpend Descriptor = "content-purchase-spend"
	DescPlatformMargin       Descriptor = "platform-margin"
)

func (d Descriptor) Valid() bool {
	switch d {
	case DescDailyActivityReward, DescWeeklyStreakBonus, DescContentSaleEarning,
		DescContentPurchaseSpend, DescPlatformMargin:
		return true
	}
	return false
}

type LedgerEntry struct {
	ID             EntryID
	AccountID      AccountID
	Direction      Direction
	Amount         int64 // always positive; Direction carries the sign
	Descriptor     Descriptor
	Reference      string // content id or window id, optional
	IdempotencyKey string // unique when set
	CreatedAt      time.Time
}

// Signed returns the amount with the direction applied.
func (e LedgerEntry) Signed() int64 {
	if e.Direction == DirectionSpend {
		return -e.Amount
	}
	return e.Amount
}

func (e LedgerEntry) Validate() error {
	if e.AccountID == "" {
		return fmt.Errorf("%w: ledger entry without account", ErrInvalidInput)
	}
	if e.Amount <= 0 {
		return fmt.Errorf("%w: ledger amount must be positive, got %d", ErrInvalidInput, e.Amount)
	}
	if e.Direction != DirectionEarn && e.Direction != DirectionSpend {
		return fmt.Errorf("%w: ledger direction %q", ErrInvalidInput, e.Direction)
	}
	if !e.Descriptor.Valid() {
		return fmt.Errorf("%w: ledger descriptor %q", ErrInvalidInput, e.Descriptor)
	}
	return nil
}

// =============================================================================
// DAILY RECORD & NOTIFICATION
// =============================================================================

type DailyRecord struct {
	AccountID AccountID
	Date      Date
	CreatedAt time.Time
}

type NotificationKind string

const (
	NotifyContentPurchased NotificationKind = "content-purchased"
	NotifyPointsEarned     NotificationKind = "points-earned"
)

type Notification struct {
	ID        string
	AccountID AccountID
	Kind      NotificationKind
	Payload   map[string]string
	Read      bool
	CreatedAt time.Time
}
