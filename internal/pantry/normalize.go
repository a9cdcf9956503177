// Package pantry implements the client for the remote pantry tracker
// service: recipe recommendation, fulfillment, inventory and shopping-list
// CRUD, and receipt ingestion.
//
// This file contains the response normalizer. The recommendation endpoint
// has no single stable schema: it has shipped at least three shapes over
// time (a bare JSON array of recipes, a {"recipes": [...]} wrapper, and a
// {"message": "..."} conversational reply), and its error bodies carry the
// text under either "detail" or "message". The normalizer folds all of them
// into one closed tagged result so the workflow never inspects raw JSON.
package pantry

import (
	"encoding/json"

	"github.com/tbourn/go-pantry-chat/internal/domain"
)

// OutcomeKind tags the populated case of an Outcome.
type OutcomeKind int

const (
	// OutcomeRecipes holds zero or more recipe candidates. An empty list is
	// a valid recommendation result, not a failure and not a message.
	OutcomeRecipes OutcomeKind = iota
	// OutcomeMessage holds a conversational (non-recipe) reply.
	OutcomeMessage
	// OutcomeFailure holds a recoverable error to surface to the user.
	OutcomeFailure
)

// Outcome is the normalized result of a recommendation call. Exactly one
// case is populated, selected by Kind.
type Outcome struct {
	Kind    OutcomeKind
	Recipes []domain.Recipe
	Message string
	Failure string
}

// RecipesOutcome builds an Outcome carrying recipe candidates.
func RecipesOutcome(recipes []domain.Recipe) Outcome {
	return Outcome{Kind: OutcomeRecipes, Recipes: recipes}
}

// MessageOutcome builds an Outcome carrying a conversational reply.
func MessageOutcome(text string) Outcome {
	return Outcome{Kind: OutcomeMessage, Message: text}
}

// FailureOutcome builds an Outcome carrying a user-facing failure.
func FailureOutcome(text string) Outcome {
	return Outcome{Kind: OutcomeFailure, Failure: text}
}

// Fallback texts used when the remote service gives nothing better.
const (
	failUnexpectedShape = "unexpected response from the recommendation service"
	failGeneric         = "failed to get recommendations"
)

// NormalizeRecommendation maps a 2xx recommendation body into an Outcome.
//
// Shape precedence:
//  1. bare JSON array of recipe records        -> Recipes
//  2. object with a "recipes" array            -> Recipes (empty stays empty)
//  3. object with a string "message"           -> Message
//  4. anything else                            -> Failure(unexpected)
func NormalizeRecommendation(raw []byte) Outcome {
	var bare []domain.Recipe
	if err := json.Unmarshal(raw, &bare); err == nil {
		return RecipesOutcome(bare)
	}

	var envelope struct {
		Recipes json.RawMessage `json:"recipes"`
		Message *string         `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return FailureOutcome(failUnexpectedShape)
	}
	if envelope.Recipes != nil {
		var wrapped []domain.Recipe
		if err := json.Unmarshal(envelope.Recipes, &wrapped); err != nil {
			return FailureOutcome(failUnexpectedShape)
		}
		return RecipesOutcome(wrapped)
	}
	if envelope.Message != nil {
		return MessageOutcome(*envelope.Message)
	}
	return FailureOutcome(failUnexpectedShape)
}

// NormalizeRecommendationError maps a failed recommendation call (a non-2xx
// body, or nil when no response was received) into a Failure outcome. The
// remote service reports errors under "detail" (FastAPI convention) or
// "message"; when neither is present a generic failure text is used.
func NormalizeRecommendationError(body []byte) Outcome {
	if msg := serviceErrorMessage(body); msg != "" {
		return FailureOutcome(msg)
	}
	return FailureOutcome(failGeneric)
}

// serviceErrorMessage extracts a human-readable error string from a remote
// error payload, or "" when none can be found.
func serviceErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return payload.Message
}
