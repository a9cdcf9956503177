// Stable error codes returned with every failed request. Generic codes
// mirror the HTTP status; workflow codes let clients distinguish a busy
// conversation from a missing proposal without parsing messages.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Workflow-specific:

	// ErrCodeBusy means a recommendation or fulfillment call is in flight
	// and the conversation cannot accept the request right now.
	ErrCodeBusy = "conversation_busy"
	// ErrCodeProposalPending means a new prompt arrived while a proposed
	// recipe awaits a use or confirm/cancel decision.
	ErrCodeProposalPending = "proposal_pending"
	// ErrCodeNoProposal means use/confirm/cancel arrived with no recipe
	// proposal pending.
	ErrCodeNoProposal = "no_proposal"
	// ErrCodeFulfillment means the remote pantry update failed; the
	// transcript carries the user-facing apology.
	ErrCodeFulfillment = "fulfillment_failed"
	// ErrCodeUpstream covers pantry/shopping-list proxy calls the remote
	// service rejected or failed to answer.
	ErrCodeUpstream = "upstream_error"

	ErrCodeCreateFailed = "create_failed"
	ErrCodeListFailed   = "list_failed"
)
