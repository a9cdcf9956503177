package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/go-pantry-chat/internal/domain"
	"github.com/tbourn/go-pantry-chat/internal/pantry"
)

// fakeClient implements Recommender with injectable behavior.
type fakeClient struct {
	recommendFn    func(ctx context.Context, prompt string) pantry.Outcome
	fulfillFn      func(ctx context.Context, recipe domain.Recipe) (*domain.FulfillmentOutcome, error)
	recommendCalls int32
	fulfillCalls   int32
}

func (f *fakeClient) Recommend(ctx context.Context, prompt string) pantry.Outcome {
	atomic.AddInt32(&f.recommendCalls, 1)
	if f.recommendFn == nil {
		return pantry.RecipesOutcome(nil)
	}
	return f.recommendFn(ctx, prompt)
}

func (f *fakeClient) Fulfill(ctx context.Context, recipe domain.Recipe) (*domain.FulfillmentOutcome, error) {
	atomic.AddInt32(&f.fulfillCalls, 1)
	if f.fulfillFn == nil {
		return &domain.FulfillmentOutcome{}, nil
	}
	return f.fulfillFn(ctx, recipe)
}

func recipesOf(names ...string) pantry.Outcome {
	rs := make([]domain.Recipe, 0, len(names))
	for _, n := range names {
		rs = append(rs, domain.Recipe{Name: n, Description: "tasty"})
	}
	return pantry.RecipesOutcome(rs)
}

// toConfirmationPending drives a fresh workflow into ConfirmationPending.
func toConfirmationPending(t *testing.T, fc *fakeClient) *Workflow {
	t.Helper()
	if fc.recommendFn == nil {
		fc.recommendFn = func(context.Context, string) pantry.Outcome { return recipesOf("Pasta") }
	}
	w := NewWorkflow(fc)
	if _, err := w.Submit(context.Background(), "dinner ideas"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := w.RequestUse(); err != nil {
		t.Fatalf("request use: %v", err)
	}
	if got := w.Snapshot().State; got != StateConfirmationPending {
		t.Fatalf("setup state = %v", got)
	}
	return w
}

func TestWorkflow_Submit_EmptyPromptIsNoOp(t *testing.T) {
	fc := &fakeClient{}
	w := NewWorkflow(fc)

	for _, prompt := range []string{"", "   ", "\n\t "} {
		if _, err := w.Submit(context.Background(), prompt); !errors.Is(err, ErrEmptyPrompt) {
			t.Fatalf("prompt %q: want ErrEmptyPrompt, got %v", prompt, err)
		}
	}
	snap := w.Snapshot()
	if len(snap.Entries) != 0 || snap.State != StateIdle || atomic.LoadInt32(&fc.recommendCalls) != 0 {
		t.Fatalf("empty submit must change nothing: %+v calls=%d", snap, fc.recommendCalls)
	}
}

func TestWorkflow_Submit_UserEntryVisibleBeforeNetworkCall(t *testing.T) {
	var w *Workflow
	fc := &fakeClient{}
	fc.recommendFn = func(context.Context, string) pantry.Outcome {
		entries := w.Log().Entries()
		if len(entries) != 1 || entries[0].Origin != domain.OriginUser {
			t.Errorf("user entry must be appended before the call, got %+v", entries)
		}
		return recipesOf("Curry")
	}
	w = NewWorkflow(fc)
	if _, err := w.Submit(context.Background(), "something spicy"); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestWorkflow_Submit_FirstCandidateOnly(t *testing.T) {
	fc := &fakeClient{recommendFn: func(context.Context, string) pantry.Outcome {
		return recipesOf("Risotto", "Paella")
	}}
	w := NewWorkflow(fc)
	entry, err := w.Submit(context.Background(), "rice dish")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := w.Snapshot()
	if snap.State != StateRecipeProposed {
		t.Fatalf("want RecipeProposed, got %v", snap.State)
	}
	if snap.Proposed == nil || snap.Proposed.Name != "Risotto" {
		t.Fatalf("first candidate must be selected: %+v", snap.Proposed)
	}
	if entry.Recipe == nil || entry.Recipe.Name != "Risotto" {
		t.Fatalf("system entry must carry the first candidate: %+v", entry.Recipe)
	}
	// exactly one system entry, and the second candidate is nowhere
	system := 0
	for _, e := range snap.Entries {
		if e.Origin == domain.OriginSystem {
			system++
		}
		if strings.Contains(e.Text, "Paella") {
			t.Fatalf("discarded candidate surfaced: %q", e.Text)
		}
	}
	if system != 1 {
		t.Fatalf("want exactly one system entry, got %d", system)
	}
}

func TestWorkflow_Submit_EmptyRecipesFallback(t *testing.T) {
	fc := &fakeClient{recommendFn: func(context.Context, string) pantry.Outcome {
		return pantry.RecipesOutcome([]domain.Recipe{})
	}}
	w := NewWorkflow(fc)
	entry, err := w.Submit(context.Background(), "unicorn steak")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := w.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("want Idle, got %v", snap.State)
	}
	if !strings.Contains(entry.Text, "No specific recipes found") {
		t.Fatalf("fallback text missing: %q", entry.Text)
	}
	if snap.Banner != "" {
		t.Fatalf("empty list is not an error, banner must stay empty: %q", snap.Banner)
	}
}

func TestWorkflow_Submit_MessageOutcome(t *testing.T) {
	fc := &fakeClient{recommendFn: func(context.Context, string) pantry.Outcome {
		return pantry.MessageOutcome("Do you prefer vegetarian?")
	}}
	w := NewWorkflow(fc)
	entry, err := w.Submit(context.Background(), "dinner")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if entry.Text != "Do you prefer vegetarian?" || w.Snapshot().State != StateIdle {
		t.Fatalf("message reply mishandled: %q state=%v", entry.Text, w.Snapshot().State)
	}
}

func TestWorkflow_Submit_FailureIsDualChannel(t *testing.T) {
	fc := &fakeClient{recommendFn: func(context.Context, string) pantry.Outcome {
		return pantry.FailureOutcome("X")
	}}
	w := NewWorkflow(fc)
	entry, err := w.Submit(context.Background(), "dinner")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := w.Snapshot()
	if snap.State != StateIdle {
		t.Fatalf("want Idle, got %v", snap.State)
	}
	if entry.Text != "X" || snap.Banner != "X" {
		t.Fatalf("failure must land in transcript and banner: entry=%q banner=%q", entry.Text, snap.Banner)
	}

	w.ClearBanner()
	after := w.Snapshot()
	if after.Banner != "" {
		t.Fatal("banner must clear")
	}
	if len(after.Entries) != len(snap.Entries) {
		t.Fatal("clearing the banner must not touch the transcript")
	}
}

func TestWorkflow_Submit_ClientPanicRecovers(t *testing.T) {
	fc := &fakeClient{recommendFn: func(context.Context, string) pantry.Outcome {
		panic("normalizer bug")
	}}
	w := NewWorkflow(fc)
	entry, err := w.Submit(context.Background(), "dinner")
	if err != nil {
		t.Fatalf("submit must absorb panics: %v", err)
	}
	snap := w.Snapshot()
	if snap.State != StateIdle || snap.Banner == "" {
		t.Fatalf("panic must resolve to Idle with banner: %+v", snap)
	}
	if !strings.Contains(entry.Text, "Sorry") {
		t.Fatalf("apology entry expected, got %q", entry.Text)
	}
}

func TestWorkflow_Submit_WhileAwaitingIsRejected(t *testing.T) {
	release := make(chan struct{})
	fc := &fakeClient{recommendFn: func(context.Context, string) pantry.Outcome {
		<-release
		return recipesOf("Soup")
	}}
	w := NewWorkflow(fc)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Submit(context.Background(), "first")
	}()

	waitForState(t, w, StateAwaitingRecommendation)
	if _, err := w.Submit(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("overlapping submit must be rejected: %v", err)
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&fc.recommendCalls); got != 1 {
		t.Fatalf("want a single recommend call, got %d", got)
	}
}

func TestWorkflow_RequestUse_AppendsConfirmationQuestion(t *testing.T) {
	fc := &fakeClient{recommendFn: func(context.Context, string) pantry.Outcome {
		return recipesOf("Goulash")
	}}
	w := NewWorkflow(fc)
	if _, err := w.Submit(context.Background(), "stew"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	entry, err := w.RequestUse()
	if err != nil {
		t.Fatalf("request use: %v", err)
	}
	if !strings.Contains(entry.Text, "Goulash") {
		t.Fatalf("confirmation question must reference the recipe: %q", entry.Text)
	}
	if w.Snapshot().State != StateConfirmationPending {
		t.Fatalf("want ConfirmationPending, got %v", w.Snapshot().State)
	}
	if atomic.LoadInt32(&fc.fulfillCalls) != 0 {
		t.Fatal("request-use must not call the network")
	}
}

func TestWorkflow_RequestUse_WithoutProposal(t *testing.T) {
	w := NewWorkflow(&fakeClient{})
	if _, err := w.RequestUse(); !errors.Is(err, ErrNoProposal) {
		t.Fatalf("want ErrNoProposal, got %v", err)
	}
}

func TestWorkflow_Confirm_AtMostOnce(t *testing.T) {
	release := make(chan struct{})
	fc := &fakeClient{fulfillFn: func(context.Context, domain.Recipe) (*domain.FulfillmentOutcome, error) {
		<-release
		return &domain.FulfillmentOutcome{ItemsUpdated: 2}, nil
	}}
	w := toConfirmationPending(t, fc)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Confirm(context.Background())
	}()

	waitForState(t, w, StateFulfilling)
	if _, err := w.Confirm(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("duplicate confirm must be rejected: %v", err)
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&fc.fulfillCalls); got != 1 {
		t.Fatalf("want exactly one fulfill call, got %d", got)
	}
	if w.Snapshot().State != StateIdle {
		t.Fatalf("want Idle after fulfillment, got %v", w.Snapshot().State)
	}
}

func TestWorkflow_Confirm_SummaryPluralization(t *testing.T) {
	cases := []struct {
		updated int
		toBuy   int
		want    []string
		absent  []string
	}{
		{updated: 1, toBuy: 0, want: []string{"1 item updated."}, absent: []string{"shopping list"}},
		{updated: 3, toBuy: 1, want: []string{"3 items updated.", "1 item has been added to your shopping list."}},
		{updated: 0, toBuy: 2, want: []string{"0 items updated.", "2 items have been added to your shopping list."}},
	}
	for _, tc := range cases {
		buy := make([]domain.ShoppingItem, tc.toBuy)
		fc := &fakeClient{fulfillFn: func(context.Context, domain.Recipe) (*domain.FulfillmentOutcome, error) {
			return &domain.FulfillmentOutcome{ItemsUpdated: tc.updated, ItemsToBuy: buy}, nil
		}}
		w := toConfirmationPending(t, fc)
		entry, err := w.Confirm(context.Background())
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		for _, s := range tc.want {
			if !strings.Contains(entry.Text, s) {
				t.Errorf("updated=%d toBuy=%d: summary %q missing %q", tc.updated, tc.toBuy, entry.Text, s)
			}
		}
		for _, s := range tc.absent {
			if strings.Contains(entry.Text, s) {
				t.Errorf("updated=%d toBuy=%d: summary %q must omit %q", tc.updated, tc.toBuy, entry.Text, s)
			}
		}
	}
}

func TestWorkflow_Confirm_FailureReportsAndResets(t *testing.T) {
	fc := &fakeClient{fulfillFn: func(context.Context, domain.Recipe) (*domain.FulfillmentOutcome, error) {
		return nil, &pantry.FulfillmentError{StatusCode: 500, Message: "boom"}
	}}
	w := toConfirmationPending(t, fc)

	entry, err := w.Confirm(context.Background())
	var fe *pantry.FulfillmentError
	if !errors.As(err, &fe) {
		t.Fatalf("fulfillment error must propagate, got %v", err)
	}
	snap := w.Snapshot()
	if snap.State != StateIdle || snap.Proposed != nil {
		t.Fatalf("failure must reset to Idle and clear the recipe: %+v", snap)
	}
	if !strings.Contains(entry.Text, "Sorry") || snap.Banner == "" {
		t.Fatalf("failure must be dual-channel: entry=%q banner=%q", entry.Text, snap.Banner)
	}

	// No silent retry path: a fresh confirm on the cleared reference fails.
	if _, err := w.Confirm(context.Background()); !errors.Is(err, ErrNoProposal) {
		t.Fatalf("want ErrNoProposal after reset, got %v", err)
	}
	if got := atomic.LoadInt32(&fc.fulfillCalls); got != 1 {
		t.Fatalf("failed fulfillment must not be retried: %d calls", got)
	}
}

func TestWorkflow_Cancel(t *testing.T) {
	fc := &fakeClient{}
	w := toConfirmationPending(t, fc)

	entry, err := w.Cancel()
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	snap := w.Snapshot()
	if snap.State != StateIdle || snap.Proposed != nil {
		t.Fatalf("cancel must reset: %+v", snap)
	}
	if !strings.Contains(strings.ToLower(entry.Text), "won't use") {
		t.Fatalf("cancellation entry expected, got %q", entry.Text)
	}
	if atomic.LoadInt32(&fc.fulfillCalls) != 0 {
		t.Fatal("cancel must not call the network")
	}
	if _, err := w.Confirm(context.Background()); !errors.Is(err, ErrNoProposal) {
		t.Fatalf("confirm after cancel must be rejected: %v", err)
	}
}

func TestManager_GetCreatesOnce(t *testing.T) {
	m := NewManager(&fakeClient{})
	a := m.Get("conv-1")
	b := m.Get("conv-1")
	if a != b {
		t.Fatal("same conversation must map to the same workflow")
	}
	if m.Get("conv-2") == a {
		t.Fatal("different conversations must not share a workflow")
	}
	m.Remove("conv-1")
	if m.Get("conv-1") == a {
		t.Fatal("removed conversation must get a fresh workflow")
	}
}

// waitForState polls until the workflow reaches the state or times out.
func waitForState(t *testing.T, w *Workflow, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Snapshot().State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v (now %v)", want, w.Snapshot().State)
}

func TestWorkflow_Submit_WhileProposalPending(t *testing.T) {
	fc := &fakeClient{recommendFn: func(context.Context, string) pantry.Outcome {
		return recipesOf("Ramen")
	}}
	w := NewWorkflow(fc)
	if _, err := w.Submit(context.Background(), "something warm"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := w.Submit(context.Background(), "actually something cold"); !errors.Is(err, ErrProposalPending) {
		t.Fatalf("submit while proposed: want ErrProposalPending, got %v", err)
	}
	if got := w.Snapshot().State; got != StateRecipeProposed {
		t.Fatalf("state = %v, want RecipeProposed", got)
	}

	if _, err := w.RequestUse(); err != nil {
		t.Fatalf("request use: %v", err)
	}
	if _, err := w.Submit(context.Background(), "wait, no"); !errors.Is(err, ErrProposalPending) {
		t.Fatalf("submit while confirming: want ErrProposalPending, got %v", err)
	}

	if got := atomic.LoadInt32(&fc.recommendCalls); got != 1 {
		t.Fatalf("want a single recommend call, got %d", got)
	}
	if _, err := w.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := w.Submit(context.Background(), "okay, something cold"); err != nil {
		t.Fatalf("submit after cancel: %v", err)
	}
}
