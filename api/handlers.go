/*
handlers.go - HTTP API handlers for the story ledger

PURPOSE:
  Exposes the ledger through a small REST API. Handlers parse the request,
  call one service operation and serialize the outcome.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                              Provision account
    GET    /api/accounts/{id}                         Balance and tokens
    GET    /api/accounts/{id}/ledger                  Ledger history
    GET    /api/accounts/{id}/purchases               Purchased snapshots
    GET    /api/accounts/{id}/notifications           In-app notifications
    POST   /api/accounts/{id}/notifications/{nid}/read
    POST   /api/accounts/{id}/links                   Link two accounts
    PUT    /api/accounts/{id}/journal/{date}          Journal saved
    DELETE /api/accounts/{id}/journal/{date}          Journal deleted
    GET    /api/accounts/{id}/weeks/{date}            Weekly status

  Content:
    POST   /api/content                               Generate (token-gated)
    GET    /api/content                               Owner listing
    POST   /api/content/{id}/read                     Resolve access, may settle
    PUT    /api/content/{id}/visibility               Live <-> Private
    DELETE /api/content/{id}                          Soft delete

  Admin:
    PUT    /api/admin/policies/{key}                  Point policy upsert

IDENTITY:
  The caller is the X-Account-ID header. Account-scoped routes require it
  to match {id}. There is no authentication at this boundary.

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status derived from the core
  error taxonomy (see statusFor). A denied read is not an error: the
  decision is always in the body, the status follows the denial reason.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/story-ledger/access"
	"github.com/warp/story-ledger/content"
	"github.com/warp/story-ledger/core"
	"github.com/warp/story-ledger/journal"
	"github.com/warp/story-ledger/notify"
	"github.com/warp/story-ledger/rewards"
	"github.com/warp/story-ledger/settlement"
	"github.com/warp/story-ledger/streak"
)

// IdentityHeader carries the calling account.
const IdentityHeader = "X-Account-ID"

const defaultNotificationLimit = 50

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is everything the HTTP surface needs from persistence. Both
// store/sqlite.Store and core/store.Memory satisfy it.
type Backend interface {
	core.Store
	core.Relationships
	core.PolicySource
	core.NotificationStore
	Link(ctx context.Context, a, b core.AccountID) error
	SetPolicy(ctx context.Context, key string, value int64) error
}

// Options configures the services behind the handler.
type Options struct {
	Settlement settlement.Config
	Rewards    rewards.Config
	Calendar   core.Calendar
	Generator  content.Generator
	Logger     logrus.FieldLogger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Backend
	Access    *access.Resolver
	Journal   *journal.Service
	Content   *content.Service
	Streaks   *streak.Tracker
	Inventory *settlement.Inventory
	Calendar  core.Calendar
	Logger    logrus.FieldLogger

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler wires every service onto store.
func NewHandler(store Backend, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	cal := opts.Calendar
	notifier := notify.Fanout{
		notify.Inbox{Store: store, Clock: cal.Clock},
		notify.Logger{Log: log},
	}

	engine := settlement.NewEngine(store, opts.Settlement, log)
	if cal.Clock != nil {
		engine.Clock = cal.Clock
	}
	inventory := settlement.NewInventory(store, log)
	tracker := streak.NewTracker(store, cal)
	awarder := &rewards.Awarder{
		Store:    store,
		Policies: store,
		Streaks:  tracker,
		Calendar: cal,
		Config:   opts.Rewards,
		Notifier: notifier,
		Logger:   log,
	}

	return &Handler{
		Store:  store,
		Access: access.NewResolver(store, store, engine, notifier, log),
		Journal: &journal.Service{
			Store:    store,
			Streaks:  tracker,
			Rewards:  awarder,
			Calendar: cal,
			Logger:   log,
		},
		Content: &content.Service{
			Store:     store,
			Gate:      tracker,
			Tokens:    inventory,
			Generator: opts.Generator,
			Clock:     cal.Clock,
			Logger:    log,
		},
		Streaks:   tracker,
		Inventory: inventory,
		Calendar:  cal,
		Logger:    log,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount provisions an account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	if core.AccountID(req.ID) == core.PlatformAccountID {
		writeError(w, http.StatusBadRequest, "id is reserved", nil)
		return
	}
	if req.Balance < 0 {
		writeError(w, http.StatusBadRequest, "balance must not be negative", nil)
		return
	}
	if req.TimeZone != "" {
		if _, err := time.LoadLocation(req.TimeZone); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid time zone", err)
			return
		}
	}

	acct := core.Account{
		ID:          core.AccountID(req.ID),
		DisplayName: req.DisplayName,
		Balance:     req.Balance,
		Privileged:  req.Privileged,
		TimeZone:    req.TimeZone,
		CreatedAt:   h.Calendar.Now().UTC(),
	}
	if len(req.Tokens) > 0 {
		acct.Tokens = make(map[core.Genre]int, len(req.Tokens))
		for name, n := range req.Tokens {
			genre, err := core.ParseGenre(name)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "Invalid token grant", err)
				return
			}
			acct.Tokens[genre] = n
		}
	}

	if err := h.Store.CreateAccount(r.Context(), acct); err != nil {
		writeErr(w, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct, h.Calendar.Today(acct)))
}

// GetAccount returns balance and token counts.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.self(w, r)
	if !ok {
		return
	}
	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		writeErr(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct, h.Calendar.Today(acct)))
}

// GetLedger returns ledger entries newest first.
// Query: descriptor, reference, limit.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := h.self(w, r)
	if !ok {
		return
	}
	filter := core.EntryFilter{
		Descriptor: core.Descriptor(r.URL.Query().Get("descriptor")),
		Reference:  r.URL.Query().Get("reference"),
	}
	if filter.Descriptor != "" && !filter.Descriptor.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown descriptor", nil)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	filter.Limit = limit

	entries, err := h.Store.ListEntries(r.Context(), id, filter)
	if err != nil {
		writeErr(w, "Failed to list ledger", err)
		return
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPurchases returns the reader's snapshots, newest first.
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	id, ok := h.self(w, r)
	if !ok {
		return
	}
	snaps, err := h.Store.ListSnapshots(r.Context(), id)
	if err != nil {
		writeErr(w, "Failed to list purchases", err)
		return
	}
	dtos := make([]SnapshotDTO, len(snaps))
	for i, s := range snaps {
		dtos[i] = toSnapshotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLink links the account to another one, both ways.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	id := core.AccountID(chi.URLParam(r, "id"))
	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	other := core.AccountID(req.AccountID)
	for _, a := range []core.AccountID{id, other} {
		if _, err := h.Store.GetAccount(r.Context(), a); err != nil {
			writeErr(w, "Failed to link accounts", err)
			return
		}
	}
	if err := h.Store.Link(r.Context(), id, other); err != nil {
		writeErr(w, "Failed to link accounts", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// NOTIFICATION HANDLERS
// =============================================================================

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := h.self(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultNotificationLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	list, err := h.Store.ListNotifications(r.Context(), id, limit)
	if err != nil {
		writeErr(w, "Failed to list notifications", err)
		return
	}
	dtos := make([]NotificationDTO, len(list))
	for i, n := range list {
		dtos[i] = toNotificationDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.self(w, r)
	if !ok {
		return
	}
	if err := h.Store.MarkNotificationRead(r.Context(), id, chi.URLParam(r, "nid")); err != nil {
		writeErr(w, "Failed to mark notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// JOURNAL & STREAK HANDLERS
// =============================================================================

// RecordJournal registers a saved journal entry. Reward problems come back
// as warnings with a 200; the save itself succeeded.
func (h *Handler) RecordJournal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.self(w, r)
	if !ok {
		return
	}
	date, err := core.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	out, err := h.Journal.RecordEntry(r.Context(), id, date)
	if err != nil {
		writeErr(w, "Failed to record journal entry", err)
		return
	}
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, toJournalDTO(date, out))
}

func (h *Handler) DeleteJournal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.self(w, r)
	if !ok {
		return
	}
	date, err := core.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	deleted, err := h.Journal.DeleteEntry(r.Context(), id, date)
	if err != nil {
		writeErr(w, "Failed to delete journal entry", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "No journal entry for date", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetWeek returns the Monday-start window containing {date}.
func (h *Handler) GetWeek(w http.ResponseWriter, r *http.Request) {
	id, ok := h.self(w, r)
	if !ok {
		return
	}
	date, err := core.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	if _, err := h.Store.GetAccount(r.Context(), id); err != nil {
		writeErr(w, "Failed to get week", err)
		return
	}
	status, err := h.Streaks.WeekStatus(r.Context(), id, date)
	if err != nil {
		writeErr(w, "Failed to get week", err)
		return
	}
	writeJSON(w, http.StatusOK, toWeekDTO(status))
}

// =============================================================================
// CONTENT HANDLERS
// =============================================================================

// GenerateContent converts a completed week into a story.
func (h *Handler) GenerateContent(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	key, err := core.ParsePeriodKey(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-M-W-genre)", err)
		return
	}
	if h.Content.Generator == nil {
		writeError(w, http.StatusServiceUnavailable, "Generation is not configured", nil)
		return
	}

	item, err := h.Content.Generate(r.Context(), owner, key)
	if err != nil {
		writeErr(w, "Failed to generate content", err)
		return
	}
	writeJSON(w, http.StatusCreated, toContentDTO(item))
}

// ListContent lists the caller's own items.
func (h *Handler) ListContent(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.caller(w, r)
	if !ok {
		return
	}
	items, err := h.Content.List(r.Context(), owner)
	if err != nil {
		writeErr(w, "Failed to list content", err)
		return
	}
	dtos := make([]ContentDTO, len(items))
	for i, item := range items {
		dtos[i] = toContentDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReadContent resolves the caller's access to an item, purchasing it when
// needed.
func (h *Handler) ReadContent(w http.ResponseWriter, r *http.Request) {
	reader, ok := h.caller(w, r)
	if !ok {
		return
	}
	id := core.ContentID(chi.URLParam(r, "id"))

	decision, err := h.Access.Resolve(r.Context(), reader, id)
	status := http.StatusOK
	if !decision.Allowed() {
		status = statusForDenial(decision.Reason, err)
	}
	writeJSON(w, status, toReadDTO(decision))
}

func (h *Handler) SetVisibility(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req VisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	item, err := h.Content.SetVisibility(r.Context(), owner, core.ContentID(chi.URLParam(r, "id")), req.Private)
	if err != nil {
		writeErr(w, "Failed to change visibility", err)
		return
	}
	writeJSON(w, http.StatusOK, toContentDTO(item))
}

func (h *Handler) DeleteContent(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.caller(w, r)
	if !ok {
		return
	}
	item, err := h.Content.Delete(r.Context(), owner, core.ContentID(chi.URLParam(r, "id")))
	if err != nil {
		writeErr(w, "Failed to delete content", err)
		return
	}
	writeJSON(w, http.StatusOK, toContentDTO(item))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

var policyKeys = map[string]bool{
	rewards.PolicyDailyReward: true,
	rewards.PolicyWeeklyBonus: true,
}

// SetPolicy upserts a point policy value.
func (h *Handler) SetPolicy(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !policyKeys[key] {
		writeError(w, http.StatusNotFound, "Unknown policy", nil)
		return
	}
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Value <= 0 {
		writeError(w, http.StatusBadRequest, "value must be positive", nil)
		return
	}
	if err := h.Store.SetPolicy(r.Context(), key, req.Value); err != nil {
		writeErr(w, "Failed to set policy", err)
		return
	}
	h.Logger.WithFields(logrus.Fields{"policy": key, "value": req.Value}).Info("point policy updated")
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": req.Value})
}

// =============================================================================
// HELPERS
// =============================================================================

// caller returns the identity header or writes 401.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (core.AccountID, bool) {
	id := r.Header.Get(IdentityHeader)
	if id == "" {
		writeError(w, http.StatusUnauthorized, IdentityHeader+" header is required", nil)
		return "", false
	}
	return core.AccountID(id), true
}

// self returns {id} when it matches the caller, or writes 401/403.
func (h *Handler) self(w http.ResponseWriter, r *http.Request) (core.AccountID, bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return "", false
	}
	id := core.AccountID(chi.URLParam(r, "id"))
	if id != caller {
		writeError(w, http.StatusForbidden, "Cannot access another account", nil)
		return "", false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// statusFor maps the core error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case core.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotOwner), errors.Is(err, core.ErrContentPrivate):
		return http.StatusForbidden
	case errors.Is(err, core.ErrContentDeleted):
		return http.StatusGone
	case errors.Is(err, core.ErrInsufficientFunds), errors.Is(err, core.ErrInsufficientTokens):
		return http.StatusPaymentRequired
	case errors.Is(err, core.ErrAborted):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, core.ErrSelfPurchase):
		return http.StatusBadRequest
	case core.IsRetryable(err), core.IsClientError(err):
		// duplicates, incomplete week, concurrent token use
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func statusForDenial(reason core.DenyReason, err error) int {
	switch reason {
	case core.DenyNotFound:
		return http.StatusNotFound
	case core.DenyPrivate, core.DenyNotFriend:
		return http.StatusForbidden
	case core.DenyGone:
		return http.StatusGone
	case core.DenyInsufficientFunds:
		return http.StatusPaymentRequired
	}
	if err != nil {
		return statusFor(err)
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeErr(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}
