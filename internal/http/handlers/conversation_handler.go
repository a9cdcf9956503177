// Conversation HTTP handlers.
//
// Endpoints:
//   - POST   /conversations            (create)
//   - GET    /conversations            (list, paginated, weak ETag)
//   - GET    /conversations/{id}       (metadata plus live workflow state)
//   - PUT    /conversations/{id}/title (rename)
//   - DELETE /conversations/{id}       (delete registry row and transcript)
//
// Handlers stay transport-thin: validate input, call services, translate
// results to HTTP.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-pantry-chat/internal/chat"
	"github.com/tbourn/go-pantry-chat/internal/domain"
	"github.com/tbourn/go-pantry-chat/internal/pantry"
	"github.com/tbourn/go-pantry-chat/internal/repo"
	"github.com/tbourn/go-pantry-chat/internal/services"
	"github.com/tbourn/go-pantry-chat/internal/utils"
)

// ConversationService is the registry contract consumed by the handlers.
// Implementations must be safe for concurrent use and honor the context.
type ConversationService interface {
	Create(ctx context.Context, userID, title string) (*domain.Conversation, error)
	Get(ctx context.Context, userID, id string) (*domain.Conversation, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error)
	Rename(ctx context.Context, userID, id, title string) error
	Delete(ctx context.Context, userID, id string) error
	AutoTitle(ctx context.Context, userID, id, prompt string) error
}

// PantryClient is the remote-service surface the proxy endpoints need.
// *pantry.Client satisfies it; tests substitute fakes.
type PantryClient interface {
	ListPantry(ctx context.Context) ([]domain.PantryItem, error)
	AddPantryItem(ctx context.Context, item domain.PantryItem) (*domain.PantryItem, error)
	DeletePantryItem(ctx context.Context, id int) error
	ClearPantry(ctx context.Context) error
	ListShopping(ctx context.Context) ([]domain.ShoppingItem, error)
	AddShoppingItem(ctx context.Context, item domain.ShoppingItem) (*domain.ShoppingItem, error)
	DeleteShoppingItem(ctx context.Context, id int) error
	ClearShopping(ctx context.Context) error
	UploadReceipt(ctx context.Context, filename string, content io.Reader) (*pantry.ReceiptResult, error)
}

// Handlers bundles the HTTP endpoints with their dependencies: the
// conversation registry, the per-conversation workflow manager, the remote
// pantry client, and the DB handle used for ETags and idempotency records.
type Handlers struct {
	convSvc ConversationService
	flows   *chat.Manager
	pantry  PantryClient
	db      *gorm.DB
}

// New constructs a Handlers instance bound to the given dependencies.
func New(convSvc ConversationService, flows *chat.Manager, pc PantryClient, db *gorm.DB) *Handlers {
	return &Handlers{convSvc: convSvc, flows: flows, pantry: pc, db: db}
}

// userID extracts the authenticated user from the Gin context (set by
// upstream middleware), falling back to the X-User-ID header and finally to
// a demo identity.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateConversationRequest is the JSON payload for creating a conversation.
type CreateConversationRequest struct {
	// Title optionally names the conversation; auto-titling fills it in
	// from the first prompt otherwise.
	Title string `json:"title" example:"Weeknight dinners"`
}

// RenameConversationRequest is the JSON payload for renaming.
type RenameConversationRequest struct {
	Title string `json:"title" binding:"required,min=1,max=255" example:"Meal prep week 36"`
}

// Pagination carries paging metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse wraps one page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ConversationDetail combines registry metadata with the live workflow view.
type ConversationDetail struct {
	Conversation *domain.Conversation `json:"conversation"`
	State        string               `json:"state"`
	Proposed     *domain.Recipe       `json:"proposed,omitempty"`
	Banner       string               `json:"banner,omitempty"`
}

// clampPagination bounds page/page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// CreateConversation godoc
// @ID          createConversation
// @Summary     Start a new conversation
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       body       body    handlers.CreateConversationRequest  true  "Payload"
// @Success     201  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	conv, err := h.convSvc.Create(c.Request.Context(), userID(c), strings.TrimSpace(req.Title))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, conv)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID      header  string  false "User ID (demo header)"
// @Param       If-None-Match  header  string  false "Return 304 on ETag match"
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page" minimum(1) maximum(100) default(20)
// @Success     200  {object} handlers.ListConversationsResponse
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.db != nil {
		count, maxTS, err := repo.ConversationsStats(ctx, h.db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"convs:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.convSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Fetch a conversation with its live workflow state
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     200  {object} handlers.ConversationDetail
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	conv, err := h.convSvc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}

	snap := h.flows.Get(id).Snapshot()
	ok(c, http.StatusOK, ConversationDetail{
		Conversation: conv,
		State:        snap.State.String(),
		Proposed:     snap.Proposed,
		Banner:       snap.Banner,
	})
}

// RenameConversation godoc
// @ID          renameConversation
// @Summary     Rename a conversation
// @Tags        Conversations
// @Accept      json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       body       body    handlers.RenameConversationRequest  true  "New title"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /conversations/{id}/title [put]
func (h *Handlers) RenameConversation(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req RenameConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1-255 chars)")
		return
	}

	if err := h.convSvc.Rename(c.Request.Context(), userID(c), id, req.Title); err != nil {
		if errors.Is(err, services.ErrTitleTooLong) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title too long")
			return
		}
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}
	noContent(c)
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Delete a conversation and drop its transcript
// @Tags        Conversations
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Router      /conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	if err := h.convSvc.Delete(c.Request.Context(), userID(c), id); err != nil {
		if err == services.ErrConversationNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	// The in-memory transcript goes with the registry row.
	h.flows.Remove(id)
	noContent(c)
}
