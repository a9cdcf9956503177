package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pantry-chat/internal/domain"
	"github.com/tbourn/go-pantry-chat/internal/pantry"
)

// newMultipart writes one file field into buf and returns the content type.
func newMultipart(t *testing.T, buf *bytes.Buffer, field, filename, content string) string {
	t.Helper()
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return mw.FormDataContentType()
}

func pantryRig(t *testing.T, pc PantryClient) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := New(newFakeConvSvc(), nil, pc, nil)

	r := gin.New()
	r.GET("/pantry", h.ListPantry)
	r.POST("/pantry", h.AddPantryItem)
	r.DELETE("/pantry", h.ClearPantry)
	r.DELETE("/pantry/:itemID", h.DeletePantryItem)
	r.GET("/shopping-list", h.ListShopping)
	r.POST("/shopping-list", h.AddShoppingItem)
	r.DELETE("/shopping-list", h.ClearShopping)
	r.DELETE("/shopping-list/:itemID", h.DeleteShoppingItem)
	r.POST("/receipts", h.UploadReceipt)
	return r
}

func TestListPantry_EmptyIsArray(t *testing.T) {
	r := pantryRig(t, &fakePantry{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pantry", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Fatalf("body = %q, want []", got)
	}
}

func TestListPantry_UpstreamError(t *testing.T) {
	r := pantryRig(t, &fakePantry{listErr: &pantry.ServiceError{StatusCode: 500, Message: "db down"}})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/pantry", nil))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "db down") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestAddPantryItem(t *testing.T) {
	r := pantryRig(t, &fakePantry{})

	req := httptest.NewRequest(http.MethodPost, "/pantry", strings.NewReader(`{"name":"rice","quantity":2,"unit":"kg"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var item domain.PantryItem
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if item.Name != "rice" || item.ID != 1 {
		t.Fatalf("item = %+v", item)
	}
}

func TestAddPantryItem_Validation(t *testing.T) {
	r := pantryRig(t, &fakePantry{})

	for _, body := range []string{`{}`, `{"name":"  "}`, `{"name":"rice","quantity":-1}`} {
		req := httptest.NewRequest(http.MethodPost, "/pantry", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", body, w.Code)
		}
	}
}

func TestClearPantry_RequiresConfirm(t *testing.T) {
	pc := &fakePantry{}
	r := pantryRig(t, pc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/pantry", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed clear status = %d", w.Code)
	}
	if pc.clearCalls != 0 {
		t.Fatalf("remote clear must not run without confirm")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/pantry?confirm=true", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("confirmed clear status = %d", w.Code)
	}
	if pc.clearCalls != 1 {
		t.Fatalf("clearCalls = %d", pc.clearCalls)
	}
}

func TestDeletePantryItem_BadID(t *testing.T) {
	r := pantryRig(t, &fakePantry{})
	for _, path := range []string{"/pantry/abc", "/pantry/0", "/pantry/-4"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, path, nil))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", path, w.Code)
		}
	}
}

func TestUploadReceipt_MissingFile(t *testing.T) {
	r := pantryRig(t, &fakePantry{})
	req := httptest.NewRequest(http.MethodPost, "/receipts", strings.NewReader("not multipart"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}
