/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario creates accounts, links and stories and
	then drives the real services (settlement, content lifecycle, journal)
	so the resulting state is exactly what production code would produce.

AVAILABLE SCENARIOS:

	first-purchase:   reader with exactly one fee, friend of the author
	deleted-story:    a story bought by one friend, then deleted
	private-story:    a friend facing a story made private
	full-week:        last week complete and ready to convert, tokens in hand
	privileged-daily: a privileged writer's doubled daily reward

HOW SCENARIOS WORK:
 1. Create the scenario's accounts (ids carry a scenario prefix)
 2. Link friends
 3. Seed stories as if the generation service had produced them
 4. Replay purchases, deletions and journal saves through the services

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "first-purchase"}

NOTE:

	Scenarios never reset the store. Loading one twice fails with 409
	because its accounts already exist.

SEE ALSO:
  - handlers.go: Handlers the scenarios exercise
  - cmd/storyledger: `seed` command
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/story-ledger/core"
)

// ErrUnknownScenario is returned for a scenario id that is not defined.
var ErrUnknownScenario = errors.New("unknown scenario")

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, h *Handler) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "first-purchase",
			Name:        "First Purchase",
			Description: "A reader with exactly one fee reads a friend's story: 30 -> 0, author +15",
			Accounts:    []string{"fp-author", "fp-reader"},
		},
		load: loadFirstPurchaseScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "deleted-story",
			Name:        "Deleted After Purchase",
			Description: "One friend bought the story before it was deleted and keeps a snapshot; the other gets Gone",
			Accounts:    []string{"ds-author", "ds-reader", "ds-latecomer"},
		},
		load: loadDeletedStoryScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "private-story",
			Name:        "Private Story",
			Description: "A linked friend with enough points is denied because the author made the story private",
			Accounts:    []string{"ps-author", "ps-friend"},
		},
		load: loadPrivateStoryScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "full-week",
			Name:        "Full Week",
			Description: "Every day of last week written and one token per genre: ready to generate",
			Accounts:    []string{"fw-writer"},
		},
		load: loadFullWeekScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "privileged-daily",
			Name:        "Privileged Daily Reward",
			Description: "A privileged writer saves today's entry and earns the doubled daily reward",
			Accounts:    []string{"pd-writer"},
		},
		load: loadPrivilegedDailyScenario,
	},
}

// ScenarioIDs lists the defined scenarios in display order.
func ScenarioIDs() []string {
	ids := make([]string, len(scenarios))
	for i, s := range scenarios {
		ids[i] = s.ID
	}
	return ids
}

// ApplyScenario loads scenario id into the handler's store.
func (h *Handler) ApplyScenario(ctx context.Context, id string) error {
	for _, s := range scenarios {
		if s.ID != id {
			continue
		}
		if err := s.load(ctx, h); err != nil {
			return fmt.Errorf("scenario %s: %w", id, err)
		}
		h.scenarioMu.Lock()
		h.currentScenario = id
		h.scenarioMu.Unlock()
		h.Logger.WithField("scenario", id).Info("scenario loaded")
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownScenario, id)
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.ApplyScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, ErrUnknownScenario) {
			writeError(w, http.StatusNotFound, "Unknown scenario", err)
			return
		}
		writeErr(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// =============================================================================
// LOADERS
// =============================================================================

func loadFirstPurchaseScenario(ctx context.Context, h *Handler) error {
	if err := h.createAccounts(ctx,
		core.Account{ID: "fp-author", DisplayName: "Author"},
		core.Account{ID: "fp-reader", DisplayName: "Reader", Balance: 30},
	); err != nil {
		return err
	}
	if err := h.Store.Link(ctx, "fp-author", "fp-reader"); err != nil {
		return err
	}
	_, err := h.seedStory(ctx, "fp-author", core.GenreRomance, "A Week of Letters")
	return err
}

func loadDeletedStoryScenario(ctx context.Context, h *Handler) error {
	if err := h.createAccounts(ctx,
		core.Account{ID: "ds-author", DisplayName: "Author"},
		core.Account{ID: "ds-reader", DisplayName: "Early Reader", Balance: 60},
		core.Account{ID: "ds-latecomer", DisplayName: "Latecomer", Balance: 60},
	); err != nil {
		return err
	}
	for _, friend := range []core.AccountID{"ds-reader", "ds-latecomer"} {
		if err := h.Store.Link(ctx, "ds-author", friend); err != nil {
			return err
		}
	}
	item, err := h.seedStory(ctx, "ds-author", core.GenreMystery, "The Vanishing Diary")
	if err != nil {
		return err
	}

	decision, err := h.Access.Resolve(ctx, "ds-reader", item.ID)
	if err != nil {
		return err
	}
	if !decision.Purchased {
		return fmt.Errorf("expected a purchase, got %s", decision.Kind)
	}
	_, err = h.Content.Delete(ctx, "ds-author", item.ID)
	return err
}

func loadPrivateStoryScenario(ctx context.Context, h *Handler) error {
	if err := h.createAccounts(ctx,
		core.Account{ID: "ps-author", DisplayName: "Author"},
		core.Account{ID: "ps-friend", DisplayName: "Friend", Balance: 30},
	); err != nil {
		return err
	}
	if err := h.Store.Link(ctx, "ps-author", "ps-friend"); err != nil {
		return err
	}
	item, err := h.seedStory(ctx, "ps-author", core.GenreFantasy, "Dragons on Tuesday")
	if err != nil {
		return err
	}
	_, err = h.Content.SetVisibility(ctx, "ps-author", item.ID, true)
	return err
}

func loadFullWeekScenario(ctx context.Context, h *Handler) error {
	tokens := make(map[core.Genre]int, len(core.Genres))
	for _, g := range core.Genres {
		tokens[g] = 1
	}
	writer := core.Account{ID: "fw-writer", DisplayName: "Writer", Tokens: tokens}
	if err := h.createAccounts(ctx, writer); err != nil {
		return err
	}
	last := core.WindowOf(h.Calendar.Today(writer).AddDays(-7))
	for _, d := range last.Dates() {
		if _, err := h.Store.PutDailyRecord(ctx, core.DailyRecord{
			AccountID: writer.ID,
			Date:      d,
			CreatedAt: d.Time.Add(21 * time.Hour),
		}); err != nil {
			return err
		}
	}
	return nil
}

func loadPrivilegedDailyScenario(ctx context.Context, h *Handler) error {
	writer := core.Account{ID: "pd-writer", DisplayName: "Premium Writer", Privileged: true}
	if err := h.createAccounts(ctx, writer); err != nil {
		return err
	}
	out, err := h.Journal.RecordEntry(ctx, writer.ID, h.Calendar.Today(writer))
	if err != nil {
		return err
	}
	if len(out.Warnings) > 0 {
		return fmt.Errorf("daily reward: %s", out.Warnings[0])
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) createAccounts(ctx context.Context, accounts ...core.Account) error {
	now := h.Calendar.Now().UTC()
	for _, a := range accounts {
		a.CreatedAt = now
		if err := h.Store.CreateAccount(ctx, a); err != nil {
			return fmt.Errorf("create %s: %w", a.ID, err)
		}
	}
	return nil
}

// seedStory stores a Live item for last week as the generation service
// would have produced it.
func (h *Handler) seedStory(ctx context.Context, owner core.AccountID, genre core.Genre, title string) (core.ContentItem, error) {
	id := core.WindowOf(h.Calendar.Today(core.Account{}).AddDays(-7)).ID()
	item := core.ContentItem{
		ID:      core.ContentID(string(owner) + "-story"),
		OwnerID: owner,
		Period:  core.PeriodKey{Year: id.Year, Month: id.Month, WeekIndex: id.Index, Genre: genre},
		State:   core.StateLive,
		Payload: core.Payload{
			Title:    title,
			CoverRef: "covers/" + string(genre) + ".png",
			Body:     "Seven days, seven entries, one story.",
		},
		CreatedAt: h.Calendar.Now().UTC(),
	}
	if err := h.Store.InsertContent(ctx, item); err != nil {
		return core.ContentItem{}, err
	}
	return item, nil
}
