/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP surface, kept apart from the core types so the
  wire names can evolve on their own.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DATES & AMOUNTS:
  Calendar dates are YYYY-MM-DD, timestamps RFC3339 UTC, points integers.
  Completion ratios are decimal strings ("0.5714") so 1 is exactly "1.0000".

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/story-ledger/access"
	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/journal"
	"github.com/warp/story-ledger/rewards"
	"github.com/warp/story-ledger/streak"
)

const ratioPlaces = 4

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name,omitempty"`
	Balance     int64          `json:"balance"`
	Tokens      map[string]int `json:"tokens"`
	Privileged  bool           `json:"privileged"`
	TimeZone    string         `json:"time_zone,omitempty"`
	Today       string         `json:"today"`
	CreatedAt   string         `json:"created_at,omitempty"`
}

// CreateAccountRequest provisions an account at first sign-in. Balance and
// tokens are the opening grant.
type CreateAccountRequest struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Balance     int64          `json:"balance"`
	Tokens      map[string]int `json:"tokens"`
	Privileged  bool           `json:"privileged"`
	TimeZone    string         `json:"time_zone"`
}

type LinkRequest struct {
	AccountID string `json:"account_id"`
}

type PolicyRequest struct {
	Value int64 `json:"value"`
}

// =============================================================================
// LEDGER, PURCHASES, NOTIFICATIONS
// =============================================================================

type LedgerEntryDTO struct {
	ID         string `json:"id"`
	Direction  string `json:"direction"`
	Amount     int64  `json:"amount"`
	Signed     int64  `json:"signed"`
	Descriptor string `json:"descriptor"`
	Reference  string `json:"reference,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type SnapshotDTO struct {
	ContentID string     `json:"content_id"`
	OwnerID   string     `json:"owner_id"`
	Period    string     `json:"period"`
	Payload   PayloadDTO `json:"payload"`
	TakenAt   string     `json:"taken_at"`
}

type NotificationDTO struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Payload   map[string]string `json:"payload"`
	Read      bool              `json:"read"`
	CreatedAt string            `json:"created_at"`
}

// =============================================================================
// CONTENT
// =============================================================================

type PayloadDTO struct {
	Title    string `json:"title"`
	CoverRef string `json:"cover_ref,omitempty"`
	Body     string `json:"body"`
}

type ContentDTO struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Period      string     `json:"period"`
	State       string     `json:"state"`
	Payload     PayloadDTO `json:"payload"`
	ReaderCount int64      `json:"reader_count"`
	CreatedAt   string     `json:"created_at"`
}

// GenerateRequest names the period key, e.g. "2025-3-2-mystery".
type GenerateRequest struct {
	Period string `json:"period"`
}

type VisibilityRequest struct {
	Private bool `json:"private"`
}

// ReadDTO is the access decision for one read.
type ReadDTO struct {
	Decision    string      `json:"decision"`
	ContentID   string      `json:"content_id"`
	OwnerID     string      `json:"owner_id,omitempty"`
	Period      string      `json:"period,omitempty"`
	Source      string      `json:"source,omitempty"`
	Payload     *PayloadDTO `json:"payload,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Message     string      `json:"message,omitempty"`
	ReaderCount *int64      `json:"reader_count,omitempty"`
	Purchased   bool        `json:"purchased,omitempty"`
	Balance     *int64      `json:"balance,omitempty"`
}

// =============================================================================
// JOURNAL & WEEKS
// =============================================================================

type AwardDTO struct {
	Result  string `json:"result"`
	Amount  int64  `json:"amount,omitempty"`
	Balance int64  `json:"balance,omitempty"`
}

type JournalDTO struct {
	Date         string    `json:"date"`
	Created      bool      `json:"created"`
	Window       string    `json:"window,omitempty"`
	Ratio        string    `json:"ratio,omitempty"`
	WeekComplete bool      `json:"week_complete"`
	Daily        *AwardDTO `json:"daily,omitempty"`
	Weekly       *AwardDTO `json:"weekly,omitempty"`
	Warnings     []string  `json:"warnings,omitempty"`
}

type WeekDTO struct {
	Window        string  `json:"window"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	Days          [7]bool `json:"days"`
	Written       int     `json:"written"`
	Ratio         string  `json:"ratio"`
	Complete      bool    `json:"complete"`
	BonusReceived bool    `json:"bonus_received"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Accounts    []string `json:"accounts"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toAccountDTO(a core.Account, today core.Date) AccountDTO {
	tokens := make(map[string]int, len(core.Genres))
	for _, g := range core.Genres {
		tokens[string(g)] = a.TokenCount(g)
	}
	return AccountDTO{
		ID:          string(a.ID),
		DisplayName: a.DisplayName,
		Balance:     a.Balance,
		Tokens:      tokens,
		Privileged:  a.Privileged,
		TimeZone:    a.TimeZone,
		Today:       today.String(),
		CreatedAt:   formatTime(a.CreatedAt),
	}
}

func toPayloadDTO(p core.Payload) PayloadDTO {
	return PayloadDTO{Title: p.Title, CoverRef: p.CoverRef, Body: p.Body}
}

func toContentDTO(c core.ContentItem) ContentDTO {
	return ContentDTO{
		ID:          string(c.ID),
		OwnerID:     string(c.OwnerID),
		Period:      c.Period.String(),
		State:       string(c.State),
		Payload:     toPayloadDTO(c.Payload),
		ReaderCount: c.ReaderCount,
		CreatedAt:   formatTime(c.CreatedAt),
	}
}

func toLedgerEntryDTO(e core.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:         string(e.ID),
		Direction:  string(e.Direction),
		Amount:     e.Amount,
		Signed:     e.Signed(),
		Descriptor: string(e.Descriptor),
		Reference:  e.Reference,
		CreatedAt:  formatTime(e.CreatedAt),
	}
}

func toSnapshotDTO(s core.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		ContentID: string(s.ContentID),
		OwnerID:   string(s.OwnerID),
		Period:    s.Period.String(),
		Payload:   toPayloadDTO(s.Payload),
		TakenAt:   formatTime(s.TakenAt),
	}
}

func toNotificationDTO(n core.Notification) NotificationDTO {
	payload := n.Payload
	if payload == nil {
		payload = map[string]string{}
	}
	return NotificationDTO{
		ID:        n.ID,
		Kind:      string(n.Kind),
		Payload:   payload,
		Read:      n.Read,
		CreatedAt: formatTime(n.CreatedAt),
	}
}

func toReadDTO(d access.Decision) ReadDTO {
	dto := ReadDTO{
		Decision:  string(d.Kind),
		ContentID: string(d.ContentID),
		OwnerID:   string(d.OwnerID),
		Purchased: d.Purchased,
	}
	switch d.Kind {
	case access.KindDenied:
		dto.Reason = string(d.Reason)
		dto.Message = d.Message()
		if d.Reason == core.DenyInsufficientFunds {
			balance := d.Balance
			dto.Balance = &balance
		}
		return dto
	case access.KindOwner:
		count := d.ReaderCount
		dto.ReaderCount = &count
	}
	if d.Purchased {
		balance := d.Balance
		dto.Balance = &balance
	}
	payload := toPayloadDTO(d.Payload)
	dto.Payload = &payload
	dto.Period = d.Period.String()
	dto.Source = string(d.Source)
	return dto
}

func toAwardDTO(a *rewards.Award) *AwardDTO {
	if a == nil {
		return nil
	}
	dto := &AwardDTO{Result: string(a.Result)}
	if a.Result == rewards.ResultAwarded {
		dto.Amount = a.Entry.Amount
		dto.Balance = a.Balance
	}
	return dto
}

func toJournalDTO(date core.Date, out journal.Outcome) JournalDTO {
	dto := JournalDTO{
		Date:     date.String(),
		Created:  out.Created,
		Daily:    toAwardDTO(out.Daily),
		Weekly:   toAwardDTO(out.Weekly),
		Warnings: out.Warnings,
	}
	if out.Signal != nil {
		dto.Window = out.Signal.ID().String()
		dto.Ratio = out.Signal.Ratio.StringFixed(ratioPlaces)
		dto.WeekComplete = out.Signal.Complete()
	}
	return dto
}

func toWeekDTO(s streak.Status) WeekDTO {
	return WeekDTO{
		Window:        s.ID().String(),
		Start:         s.Window.Start.String(),
		End:           s.Window.End().String(),
		Days:          s.Days,
		Written:       s.Written,
		Ratio:         s.Ratio.StringFixed(ratioPlaces),
		Complete:      s.Complete(),
		BonusReceived: s.BonusReceived,
	}
}
