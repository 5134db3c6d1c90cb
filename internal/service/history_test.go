package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/model"
)

func TestTrimText(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a longer sentence", 10, "this is..."},
		{"trailing space   here", 17, "trailing space..."},
		{"abcdef", 3, "abc"},
		{"abcdef", 0, "abcdef"},
		{"ééééé", 4, "é..."},
		{"ab\t\ncdef", 7, "ab..."},
	}
	for _, tc := range cases {
		got := trimText(tc.in, tc.max)
		if got != tc.want {
			t.Errorf("trimText(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("trimText(%q, %d) produced invalid UTF-8", tc.in, tc.max)
		}
	}
}

func newHistoryFixture(t *testing.T) (*HistoryService, *fakeLogs, *fakeChunks, *fakePages) {
	t.Helper()
	logs := &fakeLogs{}
	chunks := &fakeChunks{}
	pages := newFakePages()
	return NewHistoryService(logs, chunks, pages, testLogger()), logs, chunks, pages
}

func TestListQueriesBuildsPreviews(t *testing.T) {
	svc, logs, _, _ := newHistoryFixture(t)
	workspaceID := uuid.New()
	answer := strings.Repeat("a", 300)
	failure := "model unavailable"
	logs.entries = []model.QueryLog{
		{ID: uuid.New(), WorkspaceID: workspaceID, QueryText: "q1", AnswerText: &answer},
		{ID: uuid.New(), WorkspaceID: workspaceID, QueryText: "q2", ErrorMessage: &failure},
	}

	summaries, total, err := svc.ListQueries(context.Background(), workspaceID, nil, 20, 0)
	if err != nil {
		t.Fatalf("ListQueries() error = %v", err)
	}
	if total != 2 || len(summaries) != 2 {
		t.Fatalf("total = %d, summaries = %d, want 2", total, len(summaries))
	}
	if len(summaries[0].AnswerPreview) != answerPreviewChars {
		t.Errorf("preview length = %d, want %d", len(summaries[0].AnswerPreview), answerPreviewChars)
	}
	if !strings.HasSuffix(summaries[0].AnswerPreview, "...") {
		t.Error("long answers must be ellipsized")
	}
	if summaries[0].Failed {
		t.Error("answered query marked failed")
	}
	if !summaries[1].Failed || summaries[1].AnswerPreview != failure {
		t.Errorf("failed query summary = %+v", summaries[1])
	}
}

func TestGetQueryRebuildsCitations(t *testing.T) {
	svc, logs, chunks, _ := newHistoryFixture(t)
	workspaceID := uuid.New()
	first := uuid.New()
	second := uuid.New()
	wiped := uuid.New()

	chunks.chunks = []model.Chunk{
		{ID: first, WorkspaceID: workspaceID, PageStart: 3},
		{ID: second, WorkspaceID: workspaceID, PageStart: 7},
	}
	queryID := uuid.New()
	logs.entries = []model.QueryLog{{
		ID:                queryID,
		WorkspaceID:       workspaceID,
		RetrievedChunkIDs: []uuid.UUID{first, wiped, second},
		ChunkScores:       []float64{0.9, 0.8, 0.7},
	}}

	detail, err := svc.GetQuery(context.Background(), workspaceID, queryID)
	if err != nil {
		t.Fatalf("GetQuery() error = %v", err)
	}
	if len(detail.Citations) != 2 {
		t.Fatalf("citations = %d, want 2 (wiped chunk skipped)", len(detail.Citations))
	}
	if detail.Citations[0].ChunkID != first || detail.Citations[0].PageNumber != 3 || detail.Citations[0].Score != 0.9 {
		t.Errorf("first citation = %+v", detail.Citations[0])
	}
	if detail.Citations[1].ChunkID != second || detail.Citations[1].Score != 0.7 {
		t.Errorf("second citation = %+v", detail.Citations[1])
	}
}

func TestGetCitationSource(t *testing.T) {
	svc, _, chunks, pages := newHistoryFixture(t)
	workspaceID := uuid.New()
	documentID := uuid.New()
	chunkID := uuid.New()

	chunks.chunks = []model.Chunk{{
		ID:          chunkID,
		WorkspaceID: workspaceID,
		DocumentID:  documentID,
		PageStart:   4,
		Content:     "The indemnity clause survives termination.",
	}}
	pages.pages[documentID] = []model.DocumentPage{
		{DocumentID: documentID, PageNumber: 4, Content: strings.Repeat("page text ", 1000)},
	}

	src, err := svc.GetCitationSource(context.Background(), workspaceID, chunkID, 0)
	if err != nil {
		t.Fatalf("GetCitationSource() error = %v", err)
	}
	if src.PageNumber != 4 || src.DocumentID != documentID {
		t.Errorf("source = %+v", src)
	}
	if len(src.PageText) != defaultCitationMaxChars {
		t.Errorf("page text length = %d, want %d", len(src.PageText), defaultCitationMaxChars)
	}
	if !src.Truncated {
		t.Error("expected truncation flag")
	}

	if _, err := svc.GetCitationSource(context.Background(), workspaceID, chunkID, maxCitationMaxChars+1); apperr.StatusOf(err) != 400 {
		t.Error("oversized max_chars must be rejected")
	}
	if _, err := svc.GetCitationSource(context.Background(), workspaceID, uuid.New(), 0); apperr.StatusOf(err) != 404 {
		t.Error("unknown chunk must be a 404")
	}
}

func TestGetCitationSourceFallsBackToChunkText(t *testing.T) {
	svc, _, chunks, _ := newHistoryFixture(t)
	workspaceID := uuid.New()
	chunkID := uuid.New()
	chunks.chunks = []model.Chunk{{
		ID:          chunkID,
		WorkspaceID: workspaceID,
		PageStart:   1,
		Content:     "Only the chunk survives.",
	}}

	src, err := svc.GetCitationSource(context.Background(), workspaceID, chunkID, 0)
	if err != nil {
		t.Fatalf("GetCitationSource() error = %v", err)
	}
	if src.PageText != "Only the chunk survives." {
		t.Errorf("page text = %q", src.PageText)
	}
}

func TestObservabilityWindowAndDefaults(t *testing.T) {
	svc, logs, _, _ := newHistoryFixture(t)
	workspaceID := uuid.New()
	logs.stats = model.QueryStats{
		TotalQueries:  42,
		FailedQueries: 3,
		AvgLatencyMS:  120.5,
		P95LatencyMS:  340,
		TotalTokens:   9001,
	}

	stats, err := svc.Observability(context.Background(), workspaceID)
	if err != nil {
		t.Fatalf("Observability() error = %v", err)
	}
	if stats.WindowDays != 7 {
		t.Errorf("window days = %d, want 7", stats.WindowDays)
	}
	if stats.TotalQueries != 42 || stats.FailedQueries != 3 {
		t.Errorf("counts = %d/%d, want 42/3", stats.TotalQueries, stats.FailedQueries)
	}
	if stats.TopDocuments == nil || stats.RecentErrors == nil {
		t.Error("empty aggregates should be non-nil slices")
	}

	age := time.Since(logs.statsSince)
	if age < 7*24*time.Hour-time.Minute || age > 7*24*time.Hour+time.Minute {
		t.Errorf("stats cutoff %v is not seven days back", logs.statsSince)
	}
}
