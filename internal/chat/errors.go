// Sentinel errors returned by the workflow. Handlers translate these into
// HTTP statuses; the workflow itself never exposes transport concerns.
package chat

import "errors"

var (
	// ErrEmptyPrompt is returned when a submitted prompt is empty or
	// whitespace-only. The submission is a complete no-op: no transcript
	// entry, no network call, no state change.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrBusy is returned when an action arrives while a network call for
	// the same conversation is still in flight. Overlapping actions are
	// rejected, never queued or interleaved.
	ErrBusy = errors.New("conversation is busy")

	// ErrNoProposal is returned when use/confirm/cancel is invoked and the
	// workflow holds no recipe in the required state.
	ErrNoProposal = errors.New("no recipe proposal is pending")

	// ErrProposalPending is returned when a new prompt arrives while a
	// proposed recipe is awaiting a use or confirm/cancel decision. Nothing
	// is in flight; the user has to resolve the proposal first.
	ErrProposalPending = errors.New("a recipe proposal is pending")
)
