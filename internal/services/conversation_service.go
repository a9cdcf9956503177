package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-pantry-chat/internal/domain"
)

const (
	defaultTitleNew      = "New conversation"
	defaultTitleUntitled = "Untitled"
)

// ConversationRepo is the persistence contract required by
// ConversationService. The repo package's free functions satisfy it through
// a small shim at wiring time.
type ConversationRepo interface {
	CreateConversation(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error)
	CountConversations(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListConversationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error)
	UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error
	DeleteConversation(ctx context.Context, db *gorm.DB, id, userID string) error
}

// ConversationService manages the conversation registry: creation, paging,
// renaming, deletion, and automatic titling from the first prompt. Ownership
// is enforced on every lookup.
type ConversationService struct {
	DB   *gorm.DB
	Repo ConversationRepo

	// TitleMaxLen caps stored titles by rune count.
	TitleMaxLen int
	// TitleLocale selects the casing rules for generated titles.
	TitleLocale language.Tag
}

// NewConversationService constructs the service with default title limits.
func NewConversationService(db *gorm.DB, r ConversationRepo) *ConversationService {
	return &ConversationService{
		DB:          db,
		Repo:        r,
		TitleMaxLen: 60,
		TitleLocale: language.English,
	}
}

// Create registers a new conversation for userID. A blank title gets the
// placeholder; auto-titling replaces it once the first prompt arrives.
func (s *ConversationService) Create(ctx context.Context, userID, title string) (*domain.Conversation, error) {
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleNew
	}
	return s.Repo.CreateConversation(ctx, s.DB, userID, s.clip(title))
}

// Get fetches a conversation owned by userID.
func (s *ConversationService) Get(ctx context.Context, userID, id string) (*domain.Conversation, error) {
	conv, err := s.Repo.GetConversation(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return conv, nil
}

// ListPage returns one page of the user's conversations plus the total
// count. Page numbers start at 1; out-of-range inputs fall back to defaults.
func (s *ConversationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, err := s.Repo.CountConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	items, err := s.Repo.ListConversationsPage(ctx, s.DB, userID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Rename sets a user-chosen title, verifying ownership first. Blank input
// falls back to "Untitled"; input longer than TitleMaxLen runes is rejected
// with ErrTitleTooLong.
func (s *ConversationService) Rename(ctx context.Context, userID, id, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitleUntitled
	}
	// Explicit renames are rejected rather than clipped; silent truncation
	// is reserved for generated titles.
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return ErrTitleTooLong
	}
	if _, err := s.Repo.GetConversation(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return s.Repo.UpdateConversationTitle(ctx, s.DB, id, userID, title)
}

// Delete removes a conversation owned by userID.
func (s *ConversationService) Delete(ctx context.Context, userID, id string) error {
	if err := s.Repo.DeleteConversation(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// AutoTitle derives a title from the first prompt when the stored title is
// still a placeholder. It is best-effort: callers ignore the error since a
// failed rename never blocks the message flow.
func (s *ConversationService) AutoTitle(ctx context.Context, userID, id, prompt string) error {
	conv, err := s.Repo.GetConversation(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	if !isPlaceholderTitle(conv.Title) {
		return nil
	}
	gen := s.titleFromPrompt(prompt)
	if gen == "" {
		return nil
	}
	return s.Repo.UpdateConversationTitle(ctx, s.DB, id, userID, s.clip(gen))
}

// isPlaceholderTitle reports whether the stored title still carries one of
// the defaults (or nothing at all).
func isPlaceholderTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" ||
		t == strings.ToLower(defaultTitleNew) ||
		t == strings.ToLower(defaultTitleUntitled)
}

// titleFromPrompt builds a compact title from the prompt: lowercase
// tokenization, stop-word removal, title casing, at most eight words.
func (s *ConversationService) titleFromPrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	toks := titleWordRE.FindAllString(strings.ToLower(prompt), -1)
	if len(toks) == 0 {
		return ""
	}

	loc := s.TitleLocale
	if loc == language.Und {
		loc = language.English
	}
	caser := cases.Title(loc)

	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	return strings.Join(out, " ")
}

func (s *ConversationService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims and collapses internal whitespace runs.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// Unicode letters with optional trailing digits, so "rice2go" survives.
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Small stop-word set; enough to keep generated titles to the point.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "can": {},
	"i": {}, "me": {}, "my": {}, "some": {}, "make": {}, "using": {}, "want": {},
}
