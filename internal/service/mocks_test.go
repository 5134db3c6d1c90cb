package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/inkwell-backend/internal/apperr"
	"github.com/connexus-ai/inkwell-backend/internal/budget"
	"github.com/connexus-ai/inkwell-backend/internal/config"
	"github.com/connexus-ai/inkwell-backend/internal/embedding"
	"github.com/connexus-ai/inkwell-backend/internal/llm"
	"github.com/connexus-ai/inkwell-backend/internal/model"
	"github.com/connexus-ai/inkwell-backend/internal/pdf"
	"github.com/connexus-ai/inkwell-backend/internal/queue"
	"github.com/connexus-ai/inkwell-backend/internal/retrieval"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		DailyTokenLimit:          100000,
		LLMTimeoutSeconds:        30,
		LLMMaxOutputTokens:       2000,
		TopK:                     5,
		MaxQuestionChars:         500,
		LogEachQuery:             true,
		MaxFileSizeBytes:         20 * 1024 * 1024,
		MaxDocumentsPerWorkspace: 3,
		AllowedContentTypes:      []string{"application/pdf"},
		UploadURLExpiresSeconds:  600,
	}
}

// fakeLedger tracks reservations in memory.
type fakeLedger struct {
	mu         sync.Mutex
	limit      int64
	used       int64
	reserved   int64
	reserveErr error
	commitErr  error
	reserves   []int64
	commits    []int64
	releases   []int64
}

var _ TokenLedger = (*fakeLedger)(nil)

func (f *fakeLedger) Reserve(ctx context.Context, workspaceID uuid.UUID, tokens int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reserved += tokens
	f.reserves = append(f.reserves, tokens)
	return nil
}

func (f *fakeLedger) Commit(ctx context.Context, workspaceID uuid.UUID, tokens int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.reserved -= tokens
	f.used += tokens
	f.commits = append(f.commits, tokens)
	return nil
}

func (f *fakeLedger) Release(ctx context.Context, workspaceID uuid.UUID, tokens int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserved -= tokens
	f.releases = append(f.releases, tokens)
	return nil
}

func (f *fakeLedger) Status(ctx context.Context, workspaceID uuid.UUID) (budget.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return budget.Snapshot{
		WorkspaceID: workspaceID,
		Used:        f.used,
		Reserved:    f.reserved,
		Limit:       f.limit,
		ResetsAt:    time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeLedger) outstanding() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reserved
}

// fakeDocs is an in-memory DocumentStore.
type fakeDocs struct {
	docs      map[uuid.UUID]model.Document
	insertErr error
	failures  []string
}

var _ DocumentStore = (*fakeDocs)(nil)

func newFakeDocs(docs ...model.Document) *fakeDocs {
	m := make(map[uuid.UUID]model.Document, len(docs))
	for _, d := range docs {
		m[d.ID] = d
	}
	return &fakeDocs{docs: m}
}

func (f *fakeDocs) Insert(ctx context.Context, doc model.Document) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocs) Get(ctx context.Context, workspaceID, documentID uuid.UUID) (model.Document, error) {
	d, ok := f.docs[documentID]
	if !ok || d.WorkspaceID != workspaceID {
		return model.Document{}, apperr.NotFound("Document not found")
	}
	return d, nil
}

func (f *fakeDocs) FindByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (model.Document, bool, error) {
	for _, d := range f.docs {
		if d.WorkspaceID == workspaceID && d.IdempotencyKey != nil && *d.IdempotencyKey == key {
			return d, true, nil
		}
	}
	return model.Document{}, false, nil
}

func (f *fakeDocs) List(ctx context.Context, workspaceID uuid.UUID, status string, limit, offset int) ([]model.Document, int, error) {
	var out []model.Document
	for _, d := range f.docs {
		if d.WorkspaceID == workspaceID && (status == "" || d.Status == status) {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

func (f *fakeDocs) Count(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	n := 0
	for _, d := range f.docs {
		if d.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (f *fakeDocs) TransitionStatus(ctx context.Context, workspaceID, documentID uuid.UUID, from []string, to string) (bool, error) {
	d, ok := f.docs[documentID]
	if !ok || d.WorkspaceID != workspaceID {
		return false, nil
	}
	for _, s := range from {
		if d.Status == s {
			d.Status = to
			d.ErrorMessage = nil
			f.docs[documentID] = d
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDocs) SetFailed(ctx context.Context, workspaceID, documentID uuid.UUID, errorMessage string) error {
	d := f.docs[documentID]
	d.Status = model.StatusFailed
	d.ErrorMessage = &errorMessage
	f.docs[documentID] = d
	f.failures = append(f.failures, errorMessage)
	return nil
}

func (f *fakeDocs) SetExtracted(ctx context.Context, workspaceID, documentID uuid.UUID, pageCount int) error {
	d := f.docs[documentID]
	d.PageCount = &pageCount
	d.Status = model.StatusIndexing
	d.ErrorMessage = nil
	f.docs[documentID] = d
	return nil
}

func (f *fakeDocs) Delete(ctx context.Context, workspaceID, documentID uuid.UUID) (string, bool, error) {
	d, ok := f.docs[documentID]
	if !ok || d.WorkspaceID != workspaceID {
		return "", false, nil
	}
	delete(f.docs, documentID)
	return d.StoragePath, true, nil
}

func (f *fakeDocs) Progress(ctx context.Context, workspaceID, documentID uuid.UUID) (model.DocumentProgress, error) {
	return model.DocumentProgress{}, nil
}

// fakePages is an in-memory PageStore keyed by document.
type fakePages struct {
	pages map[uuid.UUID][]model.DocumentPage
}

var _ PageStore = (*fakePages)(nil)

func newFakePages() *fakePages {
	return &fakePages{pages: make(map[uuid.UUID][]model.DocumentPage)}
}

func (f *fakePages) ReplacePages(ctx context.Context, workspaceID, documentID uuid.UUID, pages []model.DocumentPage) error {
	f.pages[documentID] = pages
	return nil
}

func (f *fakePages) GetPage(ctx context.Context, workspaceID, documentID uuid.UUID, pageNumber int) (string, bool, error) {
	for _, p := range f.pages[documentID] {
		if p.PageNumber == pageNumber {
			return p.Content, true, nil
		}
	}
	return "", false, nil
}

func (f *fakePages) ListPages(ctx context.Context, workspaceID, documentID uuid.UUID) ([]model.DocumentPage, error) {
	return f.pages[documentID], nil
}

func (f *fakePages) CountPages(ctx context.Context, workspaceID, documentID uuid.UUID) (int, error) {
	return len(f.pages[documentID]), nil
}

// fakeChunks is an in-memory ChunkStore.
type fakeChunks struct {
	chunks       []model.Chunk
	embeddings   []model.ChunkEmbedding
	wipes        int
	embeddingErr error
}

var _ ChunkStore = (*fakeChunks)(nil)

func (f *fakeChunks) WipeDocument(ctx context.Context, workspaceID, documentID uuid.UUID) error {
	f.wipes++
	f.chunks = nil
	f.embeddings = nil
	return nil
}

func (f *fakeChunks) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeChunks) InsertEmbedding(ctx context.Context, emb model.ChunkEmbedding) error {
	if f.embeddingErr != nil {
		return f.embeddingErr
	}
	f.embeddings = append(f.embeddings, emb)
	return nil
}

func (f *fakeChunks) Get(ctx context.Context, workspaceID, chunkID uuid.UUID) (model.Chunk, error) {
	for _, c := range f.chunks {
		if c.ID == chunkID && c.WorkspaceID == workspaceID {
			return c, nil
		}
	}
	return model.Chunk{}, apperr.NotFound("Citation source not found")
}

func (f *fakeChunks) PagesByChunkIDs(ctx context.Context, workspaceID uuid.UUID, chunkIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	pages := make(map[uuid.UUID]int)
	for _, c := range f.chunks {
		for _, id := range chunkIDs {
			if c.ID == id {
				pages[id] = c.PageStart
			}
		}
	}
	return pages, nil
}

// fakeLogs records audit inserts.
type fakeLogs struct {
	entries    []model.QueryLog
	stats      model.QueryStats
	statsSince time.Time
}

var _ QueryLogStore = (*fakeLogs)(nil)

func (f *fakeLogs) Insert(ctx context.Context, entry model.QueryLog) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLogs) List(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID, limit, offset int) ([]model.QueryLog, int, error) {
	return f.entries, len(f.entries), nil
}

func (f *fakeLogs) Get(ctx context.Context, workspaceID, queryID uuid.UUID) (model.QueryLog, error) {
	for _, e := range f.entries {
		if e.ID == queryID {
			return e, nil
		}
	}
	return model.QueryLog{}, apperr.NotFound("Query log not found")
}

func (f *fakeLogs) Stats(ctx context.Context, workspaceID uuid.UUID, since time.Time) (model.QueryStats, error) {
	f.statsSince = since
	return f.stats, nil
}

// fakeEmbedder returns a fixed vector.
type fakeEmbedder struct {
	vector      []float32
	tokens      int
	err         error
	calls       int
	sawDeadline bool
}

var _ Embedder = (*fakeEmbedder)(nil)

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (embedding.Result, error) {
	f.calls++
	_, f.sawDeadline = ctx.Deadline()
	if f.err != nil {
		return embedding.Result{}, f.err
	}
	return embedding.Result{Vector: f.vector, Tokens: f.tokens}, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embedding-model" }

// fakeSearcher returns fixed chunks.
type fakeSearcher struct {
	chunks []retrieval.RetrievedChunk
	err    error
}

var _ Searcher = (*fakeSearcher)(nil)

func (f *fakeSearcher) TopK(ctx context.Context, workspaceID, documentID uuid.UUID, queryEmbedding []float32, topK int) ([]retrieval.RetrievedChunk, error) {
	return f.chunks, f.err
}

// fakeAnswerer returns a fixed result, streaming it as deltas.
type fakeAnswerer struct {
	result      llm.Result
	deltas      []string
	err         error
	sawDeadline bool
}

var _ Answerer = (*fakeAnswerer)(nil)

func (f *fakeAnswerer) Answer(ctx context.Context, question string, chunks []retrieval.RetrievedChunk) (llm.Result, error) {
	_, f.sawDeadline = ctx.Deadline()
	if f.err != nil {
		return llm.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeAnswerer) StreamAnswer(ctx context.Context, question string, chunks []retrieval.RetrievedChunk, onDelta func(string) error) (llm.Result, error) {
	_, f.sawDeadline = ctx.Deadline()
	if f.err != nil {
		return llm.Result{}, f.err
	}
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return llm.Result{}, err
		}
	}
	return f.result, nil
}

// fakeCache is an in-memory EmbeddingCache.
type fakeCache struct {
	entries     map[string][]float32
	invalidated []string
}

var _ EmbeddingCache = (*fakeCache)(nil)

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]float32)}
}

func cacheKey(workspaceID, model, text string) string {
	return workspaceID + "|" + model + "|" + text
}

func (f *fakeCache) Get(workspaceID, model, text string) ([]float32, bool) {
	v, ok := f.entries[cacheKey(workspaceID, model, text)]
	return v, ok
}

func (f *fakeCache) Set(workspaceID, model, text string, vector []float32) {
	f.entries[cacheKey(workspaceID, model, text)] = vector
}

func (f *fakeCache) InvalidateWorkspace(workspaceID string) {
	f.invalidated = append(f.invalidated, workspaceID)
}

// fakeBlobs is an in-memory BlobStore.
type fakeBlobs struct {
	bucket  string
	objects map[string][]byte
	signErr error
	deleted []string
}

var _ BlobStore = (*fakeBlobs)(nil)

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{bucket: "test-bucket", objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Bucket() string { return f.bucket }

func (f *fakeBlobs) SignedUploadURL(objectPath, contentType string, expires time.Duration) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	return fmt.Sprintf("https://storage.test/%s/%s?sig=abc", f.bucket, objectPath), nil
}

func (f *fakeBlobs) ObjectExists(ctx context.Context, objectPath string) (bool, error) {
	_, ok := f.objects[objectPath]
	return ok, nil
}

func (f *fakeBlobs) Download(ctx context.Context, objectPath string) ([]byte, error) {
	data, ok := f.objects[objectPath]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectPath)
	}
	return data, nil
}

func (f *fakeBlobs) Delete(ctx context.Context, objectPath string) (bool, error) {
	_, ok := f.objects[objectPath]
	delete(f.objects, objectPath)
	f.deleted = append(f.deleted, objectPath)
	return ok, nil
}

// fakeJobs records published jobs.
type fakeJobs struct {
	extracts   []queue.Job
	indexes    []queue.Job
	extractErr error
	indexErr   error
}

var _ JobQueue = (*fakeJobs)(nil)

func (f *fakeJobs) PublishExtract(ctx context.Context, job queue.Job) error {
	if f.extractErr != nil {
		return f.extractErr
	}
	f.extracts = append(f.extracts, job)
	return nil
}

func (f *fakeJobs) PublishIndex(ctx context.Context, job queue.Job) error {
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexes = append(f.indexes, job)
	return nil
}

// fakeExtractor returns fixed pages.
type fakeExtractor struct {
	pages []pdf.Page
	err   error
}

var _ PageExtractor = (*fakeExtractor)(nil)

func (f *fakeExtractor) ExtractPages(ctx context.Context, data []byte) ([]pdf.Page, error) {
	return f.pages, f.err
}

// fakeChats is an in-memory ChatStore.
type fakeChats struct {
	sessions map[uuid.UUID]model.ChatSession
}

var _ ChatStore = (*fakeChats)(nil)

func newFakeChats() *fakeChats {
	return &fakeChats{sessions: make(map[uuid.UUID]model.ChatSession)}
}

func (f *fakeChats) Create(ctx context.Context, session model.ChatSession) (model.ChatSession, error) {
	session.StartedAt = time.Now().UTC()
	session.CreatedAt = session.StartedAt
	session.UpdatedAt = session.StartedAt
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeChats) Get(ctx context.Context, workspaceID, sessionID uuid.UUID) (model.ChatSession, error) {
	s, ok := f.sessions[sessionID]
	if !ok || s.WorkspaceID != workspaceID {
		return model.ChatSession{}, apperr.NotFound("Chat session not found")
	}
	return s, nil
}

func (f *fakeChats) Update(ctx context.Context, session model.ChatSession) (model.ChatSession, error) {
	if _, ok := f.sessions[session.ID]; !ok {
		return model.ChatSession{}, apperr.NotFound("Chat session not found")
	}
	session.UpdatedAt = time.Now().UTC()
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeChats) List(ctx context.Context, workspaceID uuid.UUID, documentID *uuid.UUID, limit, offset int) ([]model.ChatSession, int, error) {
	var out []model.ChatSession
	for _, s := range f.sessions {
		if s.WorkspaceID != workspaceID {
			continue
		}
		if documentID != nil && (s.DocumentID == nil || *s.DocumentID != *documentID) {
			continue
		}
		out = append(out, s)
	}
	return out, len(out), nil
}

// fakeWorkspaces is an in-memory WorkspaceStore.
type fakeWorkspaces struct {
	byOwner map[string]model.Workspace
	counts  map[string]int
}

var _ WorkspaceStore = (*fakeWorkspaces)(nil)

func newFakeWorkspaces() *fakeWorkspaces {
	return &fakeWorkspaces{byOwner: make(map[string]model.Workspace), counts: make(map[string]int)}
}

func (f *fakeWorkspaces) Create(ctx context.Context, name string, ownerID string) (model.Workspace, error) {
	if existing, ok := f.byOwner[ownerID]; ok {
		conflict := apperr.Conflict("User already has a workspace")
		conflict.Details = map[string]any{"workspace_id": existing.ID.String()}
		return model.Workspace{}, conflict
	}
	ws := model.Workspace{ID: uuid.New(), Name: name, OwnerID: ownerID, CreatedAt: time.Now().UTC()}
	f.byOwner[ownerID] = ws
	return ws, nil
}

func (f *fakeWorkspaces) GetByOwner(ctx context.Context, ownerID string) (model.Workspace, error) {
	ws, ok := f.byOwner[ownerID]
	if !ok {
		return model.Workspace{}, apperr.NotFound("Workspace not found")
	}
	return ws, nil
}

func (f *fakeWorkspaces) DocumentStatusCounts(ctx context.Context, workspaceID uuid.UUID) (map[string]int, error) {
	return f.counts, nil
}
