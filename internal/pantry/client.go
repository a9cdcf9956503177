// Remote pantry tracker client.
//
// Recommend is failure-absorbing: every transport, timeout, or decode
// problem resolves into an Outcome with the Failure tag, so callers never
// branch on an error return. Fulfill is the opposite: it mutates remote
// state (inventory decrement + shopping-list enqueue), is NOT idempotent on
// the remote side, and propagates a *FulfillmentError the caller must catch
// and report. The at-most-once guarantee for Fulfill is owned by the
// workflow, not by this client.
package pantry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-pantry-chat/internal/domain"
)

// DefaultRecommendTimeout bounds the recommendation call. The remote
// generation is LLM-backed and routinely takes tens of seconds; anything
// under ~30s cuts off legitimate responses.
const DefaultRecommendTimeout = 60 * time.Second

// DefaultCallTimeout bounds the ordinary CRUD and fulfillment calls.
const DefaultCallTimeout = 15 * time.Second

// FulfillmentError reports a failed fulfillment call. StatusCode is zero
// when no response was received at all.
type FulfillmentError struct {
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FulfillmentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fulfillment failed (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("fulfillment failed: %s", e.Message)
}

// Unwrap exposes the underlying transport error, if any.
func (e *FulfillmentError) Unwrap() error { return e.Err }

// ServiceError reports a failed CRUD or upload call against the remote
// service, carrying the remote message when one was provided.
type ServiceError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("pantry service error (status %d): %s", e.StatusCode, e.Message)
}

// ReceiptResult reports the outcome of a receipt upload: how many inventory
// entries the remote OCR pipeline produced and the entries themselves.
type ReceiptResult struct {
	Message    string              `json:"message"`
	ItemsAdded int                 `json:"items_added"`
	Items      []domain.PantryItem `json:"items"`
}

// Client talks to the remote pantry tracker service over HTTP.
// The zero value is not usable; construct with New.
type Client struct {
	baseURL          string
	httpClient       *http.Client
	recommendTimeout time.Duration
	callTimeout      time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying *http.Client (tests, custom transports).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRecommendTimeout overrides the recommendation deadline.
func WithRecommendTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.recommendTimeout = d
		}
	}
}

// WithCallTimeout overrides the deadline for fulfillment and CRUD calls.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// New constructs a Client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		httpClient:       &http.Client{},
		recommendTimeout: DefaultRecommendTimeout,
		callTimeout:      DefaultCallTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Recommend asks the remote service for recipe candidates matching the
// prompt. It never returns an error: all failure paths collapse into a
// Failure-tagged Outcome.
func (c *Client) Recommend(ctx context.Context, prompt string) Outcome {
	tr := otel.Tracer("pantry/Client")
	ctx, span := tr.Start(ctx, "Recommend",
		trace.WithAttributes(attribute.Int("prompt.len", len(prompt))),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.recommendTimeout)
	defer cancel()

	u := c.baseURL + "/recipes/recommend?user_prompt=" + url.QueryEscape(prompt)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return FailureOutcome(failGeneric)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("recommendation request failed")
		return FailureOutcome(failGeneric)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FailureOutcome(failGeneric)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NormalizeRecommendationError(body)
	}
	return NormalizeRecommendation(body)
}

// Fulfill instructs the remote service to deduct the recipe's ingredients
// from the inventory and enqueue shortfalls onto the shopping list.
//
// Repeated calls double-deduct on the remote side; callers must guarantee
// at most one Fulfill per user confirmation.
func (c *Client) Fulfill(ctx context.Context, recipe domain.Recipe) (*domain.FulfillmentOutcome, error) {
	tr := otel.Tracer("pantry/Client")
	ctx, span := tr.Start(ctx, "Fulfill",
		trace.WithAttributes(attribute.String("recipe.name", recipe.Name)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	payload, err := json.Marshal(recipe)
	if err != nil {
		return nil, &FulfillmentError{Message: "could not encode recipe", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recipes/use/", bytes.NewReader(payload))
	if err != nil {
		return nil, &FulfillmentError{Message: err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FulfillmentError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FulfillmentError{StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serviceErrorMessage(body)
		if msg == "" {
			msg = "remote service rejected the fulfillment"
		}
		return nil, &FulfillmentError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out domain.FulfillmentOutcome
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &FulfillmentError{StatusCode: resp.StatusCode, Message: "could not decode fulfillment response", Err: err}
	}
	return &out, nil
}

//
// Inventory / shopping-list CRUD (collaborator surfaces proxied by the
// gateway; uniform fetch/add/delete, no state machine).
//

// ListPantry returns every inventory item.
func (c *Client) ListPantry(ctx context.Context) ([]domain.PantryItem, error) {
	var out []domain.PantryItem
	if err := c.doJSON(ctx, http.MethodGet, "/pantry/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddPantryItem adds one item to the inventory and returns the stored row.
// The remote service may return an empty body when it routed a low-quantity
// item straight to the shopping list; in that case the result is nil.
func (c *Client) AddPantryItem(ctx context.Context, item domain.PantryItem) (*domain.PantryItem, error) {
	var out domain.PantryItem
	if err := c.doJSON(ctx, http.MethodPost, "/pantry/add/", item, &out); err != nil {
		return nil, err
	}
	if out.Name == "" {
		return nil, nil
	}
	return &out, nil
}

// DeletePantryItem removes one inventory item by id.
func (c *Client) DeletePantryItem(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/pantry/%d", id), nil, nil)
}

// ClearPantry deletes the whole inventory. The remote service requires the
// explicit confirm flag.
func (c *Client) ClearPantry(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/pantry/clear/?confirm=true", nil, nil)
}

// ListShopping returns every shopping-list item.
func (c *Client) ListShopping(ctx context.Context) ([]domain.ShoppingItem, error) {
	var out []domain.ShoppingItem
	if err := c.doJSON(ctx, http.MethodGet, "/to-buy/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddShoppingItem adds one item to the shopping list.
func (c *Client) AddShoppingItem(ctx context.Context, item domain.ShoppingItem) (*domain.ShoppingItem, error) {
	var out domain.ShoppingItem
	if err := c.doJSON(ctx, http.MethodPost, "/to-buy/add/", item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteShoppingItem removes one shopping-list item by id.
func (c *Client) DeleteShoppingItem(ctx context.Context, id int) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/to-buy/%d", id), nil, nil)
}

// ClearShopping deletes the whole shopping list.
func (c *Client) ClearShopping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/to-buy/clear/?confirm=true", nil, nil)
}

// UploadReceipt streams a receipt image to the remote OCR pipeline, which
// answers with the inventory entries it extracted and stored.
func (c *Client) UploadReceipt(ctx context.Context, filename string, content io.Reader) (*ReceiptResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.recommendTimeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-receipt/", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, serviceErr(resp.StatusCode, body)
	}
	var out ReceiptResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// doJSON performs one bounded JSON round trip. A nil out discards the body.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return serviceErr(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 || string(bytes.TrimSpace(body)) == "null" {
		return nil
	}
	return json.Unmarshal(body, out)
}

// serviceErr builds a ServiceError from a non-2xx body.
func serviceErr(status int, body []byte) *ServiceError {
	msg := serviceErrorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ServiceError{StatusCode: status, Message: msg}
}
