// Recommendation workflow state machine.
//
// One Workflow instance owns one conversation. A single mutex guards the
// state, the pending recipe, the error banner, and every log append, so a
// reader can never observe a state whose transcript entry has not landed
// (or the reverse). Remote calls run outside the lock; the transition INTO
// a busy state happens before the lock is released, which is what makes
// the fulfillment call at-most-once even under a double-click.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-pantry-chat/internal/domain"
	"github.com/tbourn/go-pantry-chat/internal/pantry"
)

// State identifies the workflow's position in the recommendation cycle.
// No state is terminal; every path returns to StateIdle.
type State int

const (
	// StateIdle accepts a new prompt submission.
	StateIdle State = iota
	// StateAwaitingRecommendation means a recommend call is in flight.
	StateAwaitingRecommendation
	// StateRecipeProposed holds a proposed recipe awaiting a use request.
	StateRecipeProposed
	// StateConfirmationPending holds a recipe awaiting confirm or cancel.
	StateConfirmationPending
	// StateFulfilling means the fulfillment call is in flight.
	StateFulfilling
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRecommendation:
		return "awaiting_recommendation"
	case StateRecipeProposed:
		return "recipe_proposed"
	case StateConfirmationPending:
		return "confirmation_pending"
	case StateFulfilling:
		return "fulfilling"
	default:
		return "unknown"
	}
}

// User-facing texts appended by the workflow.
const (
	textNoRecipes = "No specific recipes found for that. Try rephrasing or adding more ingredients to your pantry."
	textApology   = "Sorry, something went wrong while getting recommendations. Please try again."
	textCancelled = "Okay, I won't use that recipe. Ask me for another recommendation whenever you're ready."
)

// Recommender is the remote-service contract the workflow depends on.
// *pantry.Client satisfies it; tests substitute fakes.
type Recommender interface {
	// Recommend never returns an error; failures arrive as the Failure tag.
	Recommend(ctx context.Context, prompt string) pantry.Outcome
	// Fulfill mutates remote inventory state and is not idempotent there;
	// the workflow invokes it at most once per confirmation.
	Fulfill(ctx context.Context, recipe domain.Recipe) (*domain.FulfillmentOutcome, error)
}

// Snapshot is an atomic view of a conversation: the transcript together
// with the state and banner it corresponds to.
type Snapshot struct {
	Entries  []domain.TranscriptEntry
	State    State
	Proposed *domain.Recipe
	Banner   string
}

// Workflow orchestrates one conversation's recommendation cycle.
type Workflow struct {
	mu       sync.Mutex
	state    State
	proposed *domain.Recipe
	banner   string
	log      *Log
	client   Recommender
}

// NewWorkflow returns an idle workflow writing to its own empty log.
func NewWorkflow(client Recommender) *Workflow {
	return &Workflow{log: NewLog(), client: client}
}

// Submit runs one Idle → AwaitingRecommendation → {RecipeProposed | Idle}
// cycle. The user's entry is appended synchronously before the network call
// begins, so the utterance is visible ahead of any latency. The returned
// entry is the system reply.
func (w *Workflow) Submit(ctx context.Context, prompt string) (domain.TranscriptEntry, error) {
	tr := otel.Tracer("chat/Workflow")
	ctx, span := tr.Start(ctx, "Submit")
	defer span.End()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.TranscriptEntry{}, ErrEmptyPrompt
	}

	w.mu.Lock()
	switch w.state {
	case StateAwaitingRecommendation, StateFulfilling:
		w.mu.Unlock()
		return domain.TranscriptEntry{}, ErrBusy
	case StateRecipeProposed, StateConfirmationPending:
		w.mu.Unlock()
		return domain.TranscriptEntry{}, ErrProposalPending
	}
	w.log.Append(domain.OriginUser, prompt, nil)
	w.state = StateAwaitingRecommendation
	w.mu.Unlock()

	out := w.callRecommend(ctx, prompt)
	span.SetAttributes(attribute.Int("outcome.kind", int(out.Kind)))

	w.mu.Lock()
	defer w.mu.Unlock()

	switch out.Kind {
	case pantry.OutcomeRecipes:
		if len(out.Recipes) == 0 {
			// An empty candidate list is a valid result, not an error:
			// no banner, just the fallback reply.
			w.state = StateIdle
			return w.log.Append(domain.OriginSystem, textNoRecipes, nil), nil
		}
		// Policy: only the first candidate is ever surfaced; the remaining
		// ones are discarded.
		first := out.Recipes[0]
		w.proposed = &first
		w.state = StateRecipeProposed
		text := fmt.Sprintf("How about %s? %s", first.Name, first.Description)
		return w.log.Append(domain.OriginSystem, strings.TrimSpace(text), &first), nil

	case pantry.OutcomeMessage:
		w.state = StateIdle
		return w.log.Append(domain.OriginSystem, out.Message, nil), nil

	default: // pantry.OutcomeFailure
		w.state = StateIdle
		w.banner = out.Failure
		return w.log.Append(domain.OriginSystem, out.Failure, nil), nil
	}
}

// callRecommend shields the state machine from a panicking client: any
// panic is absorbed into a generic apology failure.
func (w *Workflow) callRecommend(ctx context.Context, prompt string) (out pantry.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recommendation client panicked")
			out = pantry.FailureOutcome(textApology)
		}
	}()
	return w.client.Recommend(ctx, prompt)
}

// RequestUse moves RecipeProposed → ConfirmationPending, appending the
// confirmation question. No network call is made.
func (w *Workflow) RequestUse() (domain.TranscriptEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateAwaitingRecommendation || w.state == StateFulfilling {
		return domain.TranscriptEntry{}, ErrBusy
	}
	if w.state != StateRecipeProposed || w.proposed == nil {
		return domain.TranscriptEntry{}, ErrNoProposal
	}
	w.state = StateConfirmationPending
	text := fmt.Sprintf("Use %s? Your pantry will be updated and any missing ingredients moved to the shopping list.", w.proposed.Name)
	return w.log.Append(domain.OriginSystem, text, nil), nil
}

// Confirm moves ConfirmationPending → Fulfilling and invokes the
// fulfillment call exactly once. The transition happens before the lock is
// released, so a duplicate confirm observes StateFulfilling and is rejected
// without a second remote call. Fulfillment failures are recorded in the
// transcript and banner, then propagated so the transport layer can report
// them; they are never retried here.
func (w *Workflow) Confirm(ctx context.Context) (domain.TranscriptEntry, error) {
	tr := otel.Tracer("chat/Workflow")
	ctx, span := tr.Start(ctx, "Confirm")
	defer span.End()

	w.mu.Lock()
	if w.state == StateAwaitingRecommendation || w.state == StateFulfilling {
		w.mu.Unlock()
		return domain.TranscriptEntry{}, ErrBusy
	}
	if w.state != StateConfirmationPending || w.proposed == nil {
		w.mu.Unlock()
		return domain.TranscriptEntry{}, ErrNoProposal
	}
	recipe := *w.proposed
	w.state = StateFulfilling
	w.mu.Unlock()

	span.SetAttributes(attribute.String("recipe.name", recipe.Name))
	outcome, err := w.client.Fulfill(ctx, recipe)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateIdle
	w.proposed = nil

	if err != nil {
		log.Warn().Err(err).Str("recipe", recipe.Name).Msg("fulfillment failed")
		text := fmt.Sprintf("Sorry, I couldn't update your pantry for %s. Nothing was changed on your lists. Please try again.", recipe.Name)
		w.banner = text
		return w.log.Append(domain.OriginSystem, text, nil), err
	}
	return w.log.Append(domain.OriginSystem, fulfillmentSummary(recipe.Name, outcome), nil), nil
}

// Cancel moves ConfirmationPending → Idle, appending a cancellation entry.
// The pending recipe reference is cleared; a later confirm is rejected.
func (w *Workflow) Cancel() (domain.TranscriptEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateAwaitingRecommendation || w.state == StateFulfilling {
		return domain.TranscriptEntry{}, ErrBusy
	}
	if w.state != StateConfirmationPending {
		return domain.TranscriptEntry{}, ErrNoProposal
	}
	w.state = StateIdle
	w.proposed = nil
	return w.log.Append(domain.OriginSystem, textCancelled, nil), nil
}

// Snapshot returns an atomic view of the transcript, state, pending recipe,
// and banner.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	var proposed *domain.Recipe
	if w.proposed != nil {
		r := *w.proposed
		proposed = &r
	}
	return Snapshot{
		Entries:  w.log.Entries(),
		State:    w.state,
		Proposed: proposed,
		Banner:   w.banner,
	}
}

// ClearBanner dismisses the standing error banner. The corresponding
// transcript entry remains, so the failure stays visible.
func (w *Workflow) ClearBanner() {
	w.mu.Lock()
	w.banner = ""
	w.mu.Unlock()
}

// Log exposes the conversation log for read-side helpers (ETag computation,
// idempotent replay lookups).
func (w *Workflow) Log() *Log { return w.log }

// fulfillmentSummary renders the transcript summary for a successful
// fulfillment, pluralizing the counts and omitting the shopping-list clause
// when nothing was moved.
func fulfillmentSummary(recipeName string, out *domain.FulfillmentOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Done! Pantry updated for %s: %s updated.", recipeName, pluralize(out.ItemsUpdated, "item"))
	if n := len(out.ItemsToBuy); n == 1 {
		b.WriteString(" 1 item has been added to your shopping list.")
	} else if n > 1 {
		fmt.Fprintf(&b, " %d items have been added to your shopping list.", n)
	}
	return b.String()
}

// pluralize renders "1 item" / "3 items".
func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
