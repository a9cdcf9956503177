// Package services holds the business logic sitting between the HTTP layer
// and persistence: conversation lifecycle, title rules, and ownership
// checks. Service errors are sentinel values; mapping them to HTTP statuses
// is the handlers' job.
package services

import "errors"

var (
	// ErrConversationNotFound means the conversation does not exist or is
	// not visible to the current user.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrTitleTooLong is returned when a client-supplied title exceeds the
	// configured maximum after normalization.
	ErrTitleTooLong = errors.New("title too long")
)
