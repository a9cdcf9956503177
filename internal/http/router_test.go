package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-pantry-chat/internal/chat"
	"github.com/tbourn/go-pantry-chat/internal/config"
	"github.com/tbourn/go-pantry-chat/internal/domain"
	"github.com/tbourn/go-pantry-chat/internal/pantry"
	"github.com/tbourn/go-pantry-chat/internal/repo"
)

// stubRecommender keeps router tests independent of the remote service.
type stubRecommender struct{}

func (stubRecommender) Recommend(ctx context.Context, prompt string) pantry.Outcome {
	return pantry.MessageOutcome("try adding more ingredients")
}

func (stubRecommender) Fulfill(ctx context.Context, r domain.Recipe) (*domain.FulfillmentOutcome, error) {
	return &domain.FulfillmentOutcome{Message: "ok"}, nil
}

// stubPantry satisfies handlers.PantryClient without network access.
type stubPantry struct{}

func (stubPantry) ListPantry(ctx context.Context) ([]domain.PantryItem, error) { return nil, nil }
func (stubPantry) AddPantryItem(ctx context.Context, item domain.PantryItem) (*domain.PantryItem, error) {
	return &item, nil
}
func (stubPantry) DeletePantryItem(ctx context.Context, id int) error { return nil }
func (stubPantry) ClearPantry(ctx context.Context) error              { return nil }
func (stubPantry) ListShopping(ctx context.Context) ([]domain.ShoppingItem, error) {
	return nil, nil
}
func (stubPantry) AddShoppingItem(ctx context.Context, item domain.ShoppingItem) (*domain.ShoppingItem, error) {
	return &item, nil
}
func (stubPantry) DeleteShoppingItem(ctx context.Context, id int) error { return nil }
func (stubPantry) ClearShopping(ctx context.Context) error              { return nil }
func (stubPantry) UploadReceipt(ctx context.Context, filename string, content io.Reader) (*pantry.ReceiptResult, error) {
	return &pantry.ReceiptResult{}, nil
}

func newRouterDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestRouter(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newRouterDB(t), chat.NewManager(stubRecommender{}), stubPantry{}, cfg)
	return r
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func TestRegisterRoutes_HealthAndFallbacks(t *testing.T) {
	r := newTestRouter(t, baseConfig())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO = %q, want *", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/definitely-not-a-route", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("no-route status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not_found") {
		t.Fatalf("no-route body = %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("no-method status = %d", w.Code)
	}
}

func TestRegisterRoutes_MetricsEndpoint(t *testing.T) {
	r := newTestRouter(t, baseConfig())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
}

func TestRegisterRoutes_ConversationRoundTrip(t *testing.T) {
	r := newTestRouter(t, baseConfig())

	// Create through the full stack, then talk to the workflow.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader(`{"title":"t"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var conv domain.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", strings.NewReader(`{"content":"dinner?"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("Accept-Encoding", "identity")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("post message status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "try adding more ingredients") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestRegisterRoutes_CORSAllowlist(t *testing.T) {
	cfg := baseConfig()
	cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
	r := newTestRouter(t, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("ACAO = %q", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got == "https://evil.example.com" {
		t.Fatalf("disallowed origin echoed: %q", got)
	}
}

func TestGroupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if g := groupWithPrefix(r, ""); g.BasePath() != "/" {
		t.Fatalf("empty prefix base = %q", g.BasePath())
	}
	if g := groupWithPrefix(r, "/api/v2"); g.BasePath() != "/api/v2" {
		t.Fatalf("prefix base = %q", g.BasePath())
	}
}
