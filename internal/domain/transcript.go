package domain

import "time"

// Origin identifies the author of a transcript entry.
type Origin string

const (
	// OriginUser marks entries authored by the user.
	OriginUser Origin = "user"
	// OriginSystem marks entries authored by the gateway.
	OriginSystem Origin = "system"
)

// TranscriptEntry is one turn in a conversation. Entries are immutable once
// appended to a log; the ID is identity only and is never reused. Insertion
// order is display order is causal order.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Origin    Origin    `json:"origin"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`

	// Recipe is present only on system entries that propose a recipe.
	Recipe *Recipe `json:"recipe,omitempty"`
}
