package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/budget"
	"github.com/connexus-ai/inkwell-backend/internal/llm"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/retrieval"
)

type queryFixture struct {
	svc      *QueryService
	docs     *fakeDocs
	ledger   *fakeLedger
	embedder *fakeEmbedder
	searcher *fakeSearcher
	answerer *fakeAnswerer
	cache    *fakeCache
	logs     *fakeLogs

	workspaceID uuid.UUID
	documentID  uuid.UUID
	user        model.AuthenticatedUser
}

func newQueryFixture(t *testing.T) *queryFixture {
	t.Helper()
	workspaceID := uuid.New()
	documentID := uuid.New()

	docs := newFakeDocs(model.Document{
		ID:          documentID,
		WorkspaceID: workspaceID,
		Filename:    "contract.pdf",
		Status:      model.StatusReady,
	})
	ledger := &fakeLedger{limit: 100000}
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}, tokens: 7}
	searcher := &fakeSearcher{chunks: []retrieval.RetrievedChunk{
		{ChunkID: uuid.New(), DocumentID: documentID, PageNumber: 2, Score: 0.91, ChunkText: "Either party may terminate with 30 days notice.", TokenCount: 120},
		{ChunkID: uuid.New(), DocumentID: documentID, PageNumber: 5, Score: 0.83, ChunkText: "Termination for cause is immediate.", TokenCount: 80},
	}}
	answerer := &fakeAnswerer{result: llm.Result{
		Answer:       "Either party may terminate with 30 days notice [p2|chunk:x].",
		InputTokens:  300,
		OutputTokens: 50,
		TotalTokens:  350,
	}}
	cache := newFakeCache()
	logs := &fakeLogs{}

	svc := NewQueryService(docs, &fakeChunks{}, logs, ledger, embedder, cache, searcher, answerer, testConfig(), testLogger())
	return &queryFixture{
		svc:         svc,
		docs:        docs,
		ledger:      ledger,
		embedder:    embedder,
		searcher:    searcher,
		answerer:    answerer,
		cache:       cache,
		logs:        logs,
		workspaceID: workspaceID,
		documentID:  documentID,
		user:        model.AuthenticatedUser{UserID: "user-1", Email: "user@example.com"},
	}
}

const testQuestion = "What is the termination clause?"

func TestQuerySettlesReservation(t *testing.T) {
	f := newQueryFixture(t)

	res, err := f.svc.Query(context.Background(), f.workspaceID, f.user, f.documentID, testQuestion)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	estimated := budget.EstimateQueryTotal(testQuestion, []int{120, 80}, 2000)
	actual := int64(7 + 350)

	if f.ledger.used != actual {
		t.Errorf("committed = %d, want %d", f.ledger.used, actual)
	}
	if got := f.ledger.outstanding(); got != 0 {
		t.Errorf("outstanding reservation = %d, want 0", got)
	}
	if len(f.ledger.releases) != 1 || f.ledger.releases[0] != estimated-actual {
		t.Errorf("releases = %v, want [%d]", f.ledger.releases, estimated-actual)
	}
	if res.Answer == "" {
		t.Error("expected non-empty answer")
	}
	if len(res.Citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(res.Citations))
	}
	if res.Citations[0].PageNumber != 2 || res.Citations[1].PageNumber != 5 {
		t.Errorf("citation pages = %d, %d, want 2, 5", res.Citations[0].PageNumber, res.Citations[1].PageNumber)
	}
	if res.Usage.Used != actual {
		t.Errorf("usage.used = %d, want %d", res.Usage.Used, actual)
	}
	if len(f.logs.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(f.logs.entries))
	}
	if f.logs.entries[0].TotalTokensUsed != actual {
		t.Errorf("audit tokens = %d, want %d", f.logs.entries[0].TotalTokensUsed, actual)
	}
}

func TestQueryNoChunksReturnsFallback(t *testing.T) {
	f := newQueryFixture(t)
	f.searcher.chunks = nil
	f.answerer.err = errors.New("llm must not be called without context")

	res, err := f.svc.Query(context.Background(), f.workspaceID, f.user, f.documentID, testQuestion)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if res.Answer != llm.InsufficientContextMessage {
		t.Errorf("answer = %q, want fallback message", res.Answer)
	}
	if len(res.Citations) != 0 {
		t.Errorf("citations = %d, want 0", len(res.Citations))
	}
	// Only the embedding cost is committed.
	if f.ledger.used != 7 {
		t.Errorf("committed = %d, want 7", f.ledger.used)
	}
	if got := f.ledger.outstanding(); got != 0 {
		t.Errorf("outstanding reservation = %d, want 0", got)
	}
}

func TestQueryLLMFailureReleasesReservation(t *testing.T) {
	f := newQueryFixture(t)
	f.answerer.err = errors.New("model unavailable")

	_, err := f.svc.Query(context.Background(), f.workspaceID, f.user, f.documentID, testQuestion)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := apperr.StatusOf(err); got != 500 {
		t.Errorf("status = %d, want 500", got)
	}
	if got := f.ledger.outstanding(); got != 0 {
		t.Errorf("outstanding reservation = %d, want 0", got)
	}
	if f.ledger.used != 0 {
		t.Errorf("committed = %d, want 0", f.ledger.used)
	}
	if len(f.logs.entries) != 1 || f.logs.entries[0].ErrorMessage == nil {
		t.Error("expected one audit entry with an error message")
	}
}

func TestQueryBudgetExceededReturns402(t *testing.T) {
	f := newQueryFixture(t)
	f.ledger.reserveErr = &apperr.BudgetExceededError{Used: 99000, Reserved: 900, Limit: 100000}

	_, err := f.svc.Query(context.Background(), f.workspaceID, f.user, f.documentID, testQuestion)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := apperr.StatusOf(err); got != 402 {
		t.Errorf("status = %d, want 402", got)
	}
	if got := apperr.CodeOf(err); got != apperr.CodeBudgetExceeded {
		t.Errorf("code = %q, want %q", got, apperr.CodeBudgetExceeded)
	}
	ae, _ := apperr.As(err)
	if ae.Details["remaining"].(int64) != 100 {
		t.Errorf("remaining = %v, want 100", ae.Details["remaining"])
	}
}

func TestQueryValidatesQuestion(t *testing.T) {
	f := newQueryFixture(t)

	for _, q := range []string{"", strings.Repeat("a", 501), strings.Repeat("é", 501)} {
		_, err := f.svc.Query(context.Background(), f.workspaceID, f.user, f.documentID, q)
		if got := apperr.StatusOf(err); got != 400 {
			t.Errorf("question %d chars: status = %d, want 400", len(q), got)
		}
	}

	// The limit counts characters, so a 500-rune accented question is
	// fine even though it is over 500 bytes.
	accented := strings.Repeat("é", 500)
	if _, err := f.svc.Query(context.Background(), f.workspaceID, f.user, f.documentID, accented); err != nil {
		t.Errorf("500-rune question rejected: %v", err)
	}
}

func TestQueryBoundsModelCalls(t *testing.T) {
	f := newQueryFixture(t)

	if _, err := f.svc.Query(context.Background(), f.workspaceID, f.user, f.documentID, testQuestion); err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !f.embedder.sawDeadline {
		t.Error("embedding call ran without a deadline")
	}
	if !f.answerer.sawDeadline {
		t.Error("LLM call ran without a deadline")
	}
}

func TestQueryRequiresReadyDocument(t *testing.T) {
	f := newQueryFixture(t)

	_, err := f.svc.Query(context.Background(), f.workspaceID, f.user, uuid.New(), testQuestion)
	if got := apperr.StatusOf(err); got != 404 {
		t.Errorf("unknown document: status = %d, want 404", got)
	}

	doc := f.docs.docs[f.documentID]
	doc.Status = model.StatusIndexing
	f.docs.docs[f.documentID] = doc
	_, err = f.svc.Query(context.Background(), f.workspaceID, f.user, f.documentID, testQuestion)
	if got := apperr.StatusOf(err); got != 409 {
		t.Errorf("indexing document: status = %d, want 409", got)
	}
}

func TestQueryEmbeddingCacheHit(t *testing.T) {
	f := newQueryFixture(t)
	f.cache.Set(f.workspaceID.String(), f.embedder.Model(), testQuestion, []float32{0.4, 0.5, 0.6})

	_, err := f.svc.Query(context.Background(), f.workspaceID, f.user, f.documentID, testQuestion)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if f.embedder.calls != 0 {
		t.Errorf("embedder calls = %d, want 0", f.embedder.calls)
	}
	// Cached embeddings cost nothing; only LLM usage is committed.
	if f.ledger.used != 350 {
		t.Errorf("committed = %d, want 350", f.ledger.used)
	}
}
