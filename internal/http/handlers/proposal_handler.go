// Proposal HTTP handlers.
//
// Endpoints driving the confirmation half of the workflow:
//   - POST /conversations/{id}/proposal/use      (ask to use the proposed recipe)
//   - POST /conversations/{id}/proposal/confirm  (fulfill, at most once)
//   - POST /conversations/{id}/proposal/cancel   (decline)
//
// Confirm is the only endpoint with remote side effects; it honors
// Idempotency-Key so client retries never trigger a second pantry update.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-pantry-chat/internal/chat"
	"github.com/tbourn/go-pantry-chat/internal/http/middleware"
	"github.com/tbourn/go-pantry-chat/internal/pantry"
)

// proposalConversation validates the path ID and ownership, returning the
// workflow when the request may proceed.
func (h *Handlers) proposalConversation(c *gin.Context) (*chat.Workflow, string, bool) {
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return nil, "", false
	}
	if _, err := h.convSvc.Get(c.Request.Context(), userID(c), convID); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return nil, "", false
	}
	return h.flows.Get(convID), convID, true
}

// failWorkflow maps workflow sentinel errors to HTTP responses.
func failWorkflow(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrBusy):
		fail(c, http.StatusConflict, ErrCodeBusy, "a request is already in flight for this conversation")
	case errors.Is(err, chat.ErrNoProposal):
		fail(c, http.StatusConflict, ErrCodeNoProposal, "no recipe proposal is pending")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// UseProposal godoc
// @ID          useProposal
// @Summary     Ask to use the proposed recipe
// @Description Moves the workflow to confirmation-pending and returns the
// @Description confirmation question. No remote call is made.
// @Tags        Proposal
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.WorkflowReply
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     409  {object} handlers.ErrorResponse "Busy or nothing proposed"
// @Router      /conversations/{id}/proposal/use [post]
func (h *Handlers) UseProposal(c *gin.Context) {
	wf, _, proceed := h.proposalConversation(c)
	if !proceed {
		return
	}
	entry, err := wf.RequestUse()
	if err != nil {
		failWorkflow(c, err)
		return
	}
	ok(c, http.StatusOK, replyOf(wf, entry))
}

// ConfirmProposal godoc
// @ID          confirmProposal
// @Summary     Confirm the pending recipe and update the pantry
// @Description Invokes the remote fulfillment exactly once. Retries with the
// @Description same Idempotency-Key replay the recorded result instead of
// @Description updating the pantry again. A failed remote update returns 502
// @Description and leaves an apology entry plus banner in the transcript.
// @Tags        Proposal
// @Produce     json
// @Param       X-User-ID        header  string  false "User ID (demo header)"
// @Param       Idempotency-Key  header  string  false "Key for safe retries"
// @Param       id               path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.WorkflowReply
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     409  {object} handlers.ErrorResponse "Busy or nothing pending"
// @Failure     502  {object} handlers.ErrorResponse "Remote update failed"
// @Router      /conversations/{id}/proposal/confirm [post]
func (h *Handlers) ConfirmProposal(c *gin.Context) {
	wf, convID, proceed := h.proposalConversation(c)
	if !proceed {
		return
	}
	uid := userID(c)

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if h.replayStoredEntry(c, wf, uid, convID, idemKey) {
		return
	}

	entry, err := wf.Confirm(c.Request.Context())
	if err != nil {
		var fe *pantry.FulfillmentError
		if errors.As(err, &fe) {
			fail(c, http.StatusBadGateway, ErrCodeFulfillment, fe.Message)
			return
		}
		if errors.Is(err, chat.ErrBusy) || errors.Is(err, chat.ErrNoProposal) {
			failWorkflow(c, err)
			return
		}
		// Transport-level failure talking to the remote service.
		fail(c, http.StatusBadGateway, ErrCodeFulfillment, "pantry update failed")
		return
	}

	h.storeIdempotency(c, uid, convID, idemKey, entry.ID)
	ok(c, http.StatusOK, replyOf(wf, entry))
}

// CancelProposal godoc
// @ID          cancelProposal
// @Summary     Decline the pending recipe
// @Tags        Proposal
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.WorkflowReply
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     409  {object} handlers.ErrorResponse "Busy or nothing pending"
// @Router      /conversations/{id}/proposal/cancel [post]
func (h *Handlers) CancelProposal(c *gin.Context) {
	wf, _, proceed := h.proposalConversation(c)
	if !proceed {
		return
	}
	entry, err := wf.Cancel()
	if err != nil {
		failWorkflow(c, err)
		return
	}
	ok(c, http.StatusOK, replyOf(wf, entry))
}
