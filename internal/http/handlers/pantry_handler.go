// Pantry and shopping-list proxy handlers.
//
// These endpoints forward inventory management to the remote pantry service
// so clients only ever talk to a single API:
//   - GET    /pantry                 - POST   /pantry
//   - DELETE /pantry/{itemID}        - DELETE /pantry?confirm=true
//   - GET    /shopping-list          - POST   /shopping-list
//   - DELETE /shopping-list/{itemID} - DELETE /shopping-list?confirm=true
//   - POST   /receipts               (multipart receipt upload, OCR ingest)
//
// Validation happens here; remote failures surface as 502 with the
// upstream's message, or 404 when the upstream reported a missing item.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pantry-chat/internal/domain"
	"github.com/tbourn/go-pantry-chat/internal/pantry"
)

// failUpstream translates a remote-service error: 404s pass through, other
// upstream statuses and transport failures become 502.
func failUpstream(c *gin.Context, err error) {
	var se *pantry.ServiceError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, se.Message)
			return
		}
		fail(c, http.StatusBadGateway, ErrCodeUpstream, se.Message)
		return
	}
	fail(c, http.StatusBadGateway, ErrCodeUpstream, "pantry service unavailable")
}

// itemIDParam parses the numeric item ID from the path.
func itemIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("itemID"))
	if err != nil || id < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item id must be a positive integer")
		return 0, false
	}
	return id, true
}

// AddItemRequest is the payload for adding a pantry or shopping-list item.
type AddItemRequest struct {
	Name     string  `json:"name" binding:"required,min=1" example:"rice"`
	Quantity float64 `json:"quantity" example:"2"`
	Unit     string  `json:"unit" example:"kg"`
	Category string  `json:"category" example:"grains"`
}

// ListPantry godoc
// @ID          listPantry
// @Summary     List pantry inventory
// @Tags        Pantry
// @Produce     json
// @Success     200  {array}  domain.PantryItem
// @Failure     502  {object} handlers.ErrorResponse
// @Router      /pantry [get]
func (h *Handlers) ListPantry(c *gin.Context) {
	items, err := h.pantry.ListPantry(c.Request.Context())
	if err != nil {
		failUpstream(c, err)
		return
	}
	if items == nil {
		items = []domain.PantryItem{}
	}
	ok(c, http.StatusOK, items)
}

// AddPantryItem godoc
// @ID          addPantryItem
// @Summary     Add an item to the pantry
// @Description The remote service may route low-quantity items straight to
// @Description the shopping list; the response is then 204.
// @Tags        Pantry
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.AddItemRequest  true  "Item payload"
// @Success     201  {object} domain.PantryItem
// @Success     204  {string} string "Routed to shopping list"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     502  {object} handlers.ErrorResponse
// @Router      /pantry [post]
func (h *Handlers) AddPantryItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item name required")
		return
	}
	if req.Quantity < 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "quantity must not be negative")
		return
	}

	item, err := h.pantry.AddPantryItem(c.Request.Context(), domain.PantryItem{
		Name:     strings.TrimSpace(req.Name),
		Quantity: req.Quantity,
		Unit:     req.Unit,
		Category: req.Category,
	})
	if err != nil {
		failUpstream(c, err)
		return
	}
	if item == nil {
		noContent(c)
		return
	}
	ok(c, http.StatusCreated, item)
}

// DeletePantryItem godoc
// @ID          deletePantryItem
// @Summary     Remove one pantry item
// @Tags        Pantry
// @Param       itemID  path  int  true  "Item ID"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     502  {object} handlers.ErrorResponse
// @Router      /pantry/{itemID} [delete]
func (h *Handlers) DeletePantryItem(c *gin.Context) {
	id, parsed := itemIDParam(c)
	if !parsed {
		return
	}
	if err := h.pantry.DeletePantryItem(c.Request.Context(), id); err != nil {
		failUpstream(c, err)
		return
	}
	noContent(c)
}

// ClearPantry godoc
// @ID          clearPantry
// @Summary     Delete the whole pantry inventory
// @Description Destructive; requires the explicit confirm=true query flag.
// @Tags        Pantry
// @Param       confirm  query  bool  true  "Must be true"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     502  {object} handlers.ErrorResponse
// @Router      /pantry [delete]
func (h *Handlers) ClearPantry(c *gin.Context) {
	if c.Query("confirm") != "true" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pass confirm=true to clear the pantry")
		return
	}
	if err := h.pantry.ClearPantry(c.Request.Context()); err != nil {
		failUpstream(c, err)
		return
	}
	noContent(c)
}

// ListShopping godoc
// @ID          listShopping
// @Summary     List shopping-list items
// @Tags        ShoppingList
// @Produce     json
// @Success     200  {array}  domain.ShoppingItem
// @Failure     502  {object} handlers.ErrorResponse
// @Router      /shopping-list [get]
func (h *Handlers) ListShopping(c *gin.Context) {
	items, err := h.pantry.ListShopping(c.Request.Context())
	if err != nil {
		failUpstream(c, err)
		return
	}
	if items == nil {
		items = []domain.ShoppingItem{}
	}
	ok(c, http.StatusOK, items)
}

// AddShoppingItem godoc
// @ID          addShoppingItem
// @Summary     Add an item to the shopping list
// @Tags        ShoppingList
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.AddItemRequest  true  "Item payload"
// @Success     201  {object} domain.ShoppingItem
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     502  {object} handlers.ErrorResponse
// @Router      /shopping-list [post]
func (h *Handlers) AddShoppingItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "item name required")
		return
	}

	item, err := h.pantry.AddShoppingItem(c.Request.Context(), domain.ShoppingItem{
		Name:     strings.TrimSpace(req.Name),
		Quantity: req.Quantity,
		Unit:     req.Unit,
		Category: req.Category,
	})
	if err != nil {
		failUpstream(c, err)
		return
	}
	ok(c, http.StatusCreated, item)
}

// DeleteShoppingItem godoc
// @ID          deleteShoppingItem
// @Summary     Remove one shopping-list item
// @Tags        ShoppingList
// @Param       itemID  path  int  true  "Item ID"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     404  {object} handlers.ErrorResponse
// @Failure     502  {object} handlers.ErrorResponse
// @Router      /shopping-list/{itemID} [delete]
func (h *Handlers) DeleteShoppingItem(c *gin.Context) {
	id, parsed := itemIDParam(c)
	if !parsed {
		return
	}
	if err := h.pantry.DeleteShoppingItem(c.Request.Context(), id); err != nil {
		failUpstream(c, err)
		return
	}
	noContent(c)
}

// ClearShopping godoc
// @ID          clearShopping
// @Summary     Delete the whole shopping list
// @Description Destructive; requires the explicit confirm=true query flag.
// @Tags        ShoppingList
// @Param       confirm  query  bool  true  "Must be true"
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     502  {object} handlers.ErrorResponse
// @Router      /shopping-list [delete]
func (h *Handlers) ClearShopping(c *gin.Context) {
	if c.Query("confirm") != "true" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pass confirm=true to clear the shopping list")
		return
	}
	if err := h.pantry.ClearShopping(c.Request.Context()); err != nil {
		failUpstream(c, err)
		return
	}
	noContent(c)
}

// UploadReceipt godoc
// @ID          uploadReceipt
// @Summary     Upload a receipt image for OCR ingest
// @Description Streams the file to the remote service, which extracts the
// @Description purchased items and stocks the pantry.
// @Tags        Pantry
// @Accept      multipart/form-data
// @Produce     json
// @Param       file  formData  file  true  "Receipt image"
// @Success     200  {object} pantry.ReceiptResult
// @Failure     400  {object} handlers.ErrorResponse
// @Failure     502  {object} handlers.ErrorResponse
// @Router      /receipts [post]
func (h *Handlers) UploadReceipt(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field 'file' required")
		return
	}
	defer file.Close()

	res, err := h.pantry.UploadReceipt(c.Request.Context(), header.Filename, file)
	if err != nil {
		failUpstream(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}
