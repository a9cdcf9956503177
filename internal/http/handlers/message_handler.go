// Transcript HTTP handlers.
//
// Endpoints:
//   - POST   /conversations/{id}/messages  (submit a prompt, get the reply)
//   - GET    /conversations/{id}/messages  (paginated transcript, weak ETag)
//   - DELETE /conversations/{id}/banner    (dismiss the standing error banner)
//
// Idempotency: when a client supplies Idempotency-Key and a previous
// successful result exists for (user, conversation, key), the recorded
// transcript entry is replayed with Idempotency-Replayed: true instead of
// hitting the recommender again.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-pantry-chat/internal/chat"
	"github.com/tbourn/go-pantry-chat/internal/domain"
	"github.com/tbourn/go-pantry-chat/internal/http/middleware"
	"github.com/tbourn/go-pantry-chat/internal/repo"
)

// maxPromptRunes caps submitted prompts at the edge.
const maxPromptRunes = 2000

// idempotencyTTL bounds how long a stored (user, conversation, key) result
// can be replayed.
const idempotencyTTL = 24 * time.Hour

//
// DTOs
//

// PostMessageRequest is the JSON payload for submitting a prompt.
type PostMessageRequest struct {
	// Content is the user's request, e.g. "what can I cook with rice and
	// chicken". Must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"what can I make with chickpeas and spinach?"`
}

// WorkflowReply is the envelope for every workflow mutation: the transcript
// entry the operation appended plus the state the conversation landed in.
type WorkflowReply struct {
	Entry  domain.TranscriptEntry `json:"entry"`
	State  string                 `json:"state"`
	Banner string                 `json:"banner,omitempty"`
}

// ListMessagesResponse contains one transcript page with the live state.
type ListMessagesResponse struct {
	Messages   []domain.TranscriptEntry `json:"messages"`
	Pagination Pagination               `json:"pagination"`
	State      string                   `json:"state"`
	Proposed   *domain.Recipe           `json:"proposed,omitempty"`
	Banner     string                   `json:"banner,omitempty"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, keeping paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes line endings, collapses blank-line runs, and
// trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// replyOf pairs the appended entry with a snapshot of where the workflow
// ended up.
func replyOf(wf *chat.Workflow, entry domain.TranscriptEntry) WorkflowReply {
	snap := wf.Snapshot()
	return WorkflowReply{Entry: entry, State: snap.State.String(), Banner: snap.Banner}
}

// replayStoredEntry serves a previously recorded result for an idempotency
// key, when both the record and the referenced transcript entry still
// exist. Returns true when the response was written.
func (h *Handlers) replayStoredEntry(c *gin.Context, wf *chat.Workflow, uid, convID, key string) bool {
	if h.db == nil || key == "" {
		return false
	}
	rec, err := repo.GetIdempotency(c.Request.Context(), h.db, uid, convID, key, time.Now().UTC())
	if err != nil || rec == nil {
		return false
	}
	entry, found := wf.Log().Get(rec.EntryID)
	if !found {
		return false
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, http.StatusOK, replyOf(wf, entry))
	return true
}

// storeIdempotency records a successful result for later replay. Failures
// are deliberately swallowed: losing a dedup record only costs an extra
// remote call on retry.
func (h *Handlers) storeIdempotency(c *gin.Context, uid, convID, key, entryID string) {
	if h.db == nil || key == "" {
		return
	}
	_, _ = repo.CreateIdempotency(c.Request.Context(), h.db, uid, convID, key, entryID, http.StatusOK, idempotencyTTL)
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Submit a prompt and receive the recommendation reply
// @Description Appends the user entry, calls the recommender, and returns the
// @Description system reply. Safe to retry with Idempotency-Key.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  false "User ID (demo header)"
// @Param       Idempotency-Key  header  string  false "Key for safe retries"
// @Param       id               path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Prompt payload"
// @Success     200  {object}  handlers.WorkflowReply
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Failure     409  {object}  handlers.ErrorResponse "Conversation busy or proposal pending"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	if utf8.RuneCountInString(content) > maxPromptRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxPromptRunes))
		return
	}

	uid := userID(c)
	if _, err := h.convSvc.Get(ctx, uid, convID); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}

	wf := h.flows.Get(convID)

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if h.replayStoredEntry(c, wf, uid, convID, idemKey) {
		return
	}

	entry, err := wf.Submit(ctx, content)
	if err != nil {
		switch err {
		case chat.ErrEmptyPrompt:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		case chat.ErrBusy:
			fail(c, http.StatusConflict, ErrCodeBusy, "a request is already in flight for this conversation")
		case chat.ErrProposalPending:
			fail(c, http.StatusConflict, ErrCodeProposalPending, "a recipe proposal is pending; use or cancel it before asking again")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	// Best effort: derive a title from the first prompt.
	_ = h.convSvc.AutoTitle(ctx, uid, convID, content)

	h.storeIdempotency(c, uid, convID, idemKey, entry.ID)
	ok(c, http.StatusOK, replyOf(wf, entry))
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List the transcript of a conversation
// @Description Returns one page of transcript entries together with the
// @Description current state, pending proposal, and banner. Supports weak
// @Description ETags via If-None-Match.
// @Tags        Messages
// @Produce     json
// @Param       X-User-ID      header  string  false "User ID (demo header)"
// @Param       If-None-Match  header  string  false "Return 304 on ETag match"
// @Param       id             path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page" minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	if _, err := h.convSvc.Get(ctx, userID(c), convID); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}

	snap := h.flows.Get(convID).Snapshot()

	// Weak ETag from transcript length and last entry; both only ever grow.
	lastID := ""
	if n := len(snap.Entries); n > 0 {
		lastID = snap.Entries[n-1].ID
	}
	etag := fmt.Sprintf(`W/"transcript:%s:%d:%s"`, convID, len(snap.Entries), lastID)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	page, pageSize := clampPagination(c)
	total := int64(len(snap.Entries))
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(snap.Entries) {
		start = len(snap.Entries)
	}
	if end > len(snap.Entries) {
		end = len(snap.Entries)
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   snap.Entries[start:end],
		Pagination: Pagination{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages, HasNext: page < totalPages},
		State:      snap.State.String(),
		Proposed:   snap.Proposed,
		Banner:     snap.Banner,
	})
}

// DismissBanner godoc
// @ID          dismissBanner
// @Summary     Dismiss the standing error banner
// @Description Clears the banner only; the transcript entry that produced it
// @Description stays visible.
// @Tags        Messages
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /conversations/{id}/banner [delete]
func (h *Handlers) DismissBanner(c *gin.Context) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}
	if _, err := h.convSvc.Get(c.Request.Context(), userID(c), convID); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}
	h.flows.Get(convID).ClearBanner()
	noContent(c)
}
