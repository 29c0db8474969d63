// Package memory provides vector-based semantic memory search.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JulianRyder01/resonance/internal/memory/backend"
	"github.com/JulianRyder01/resonance/internal/memory/backend/sqlitevec"
	"github.com/JulianRyder01/resonance/internal/memory/bm25"
	"github.com/JulianRyder01/resonance/internal/memory/embeddings"
	"github.com/JulianRyder01/resonance/internal/memory/embeddings/ollama"
	"github.com/JulianRyder01/resonance/internal/memory/embeddings/openai"
	"github.com/JulianRyder01/resonance/pkg/models"
)

// oversampleFactor controls how many extra candidates are fetched from the
// backend for strategies that re-rank beyond raw vector similarity, matching
// the n_results*3 pattern in the original rag_store implementation.
const oversampleFactor = 3

// Manager coordinates memory storage and retrieval.
type Manager struct {
	backend  backend.Backend
	embedder embeddings.Provider
	config   *Config
	cache    *embeddingCache

	bm25Mu sync.RWMutex
	lexic  *bm25.Index
}

// Config contains configuration for the memory manager.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Backend   string `yaml:"backend"`   // sqlite-vec is the only supported backend
	Dimension int    `yaml:"dimension"` // Must match embedding model

	SQLiteVec SQLiteVecConfig `yaml:"sqlite_vec"`

	// Embedding provider config
	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	// Indexing behavior
	Indexing IndexingConfig `yaml:"indexing"`

	// Search defaults
	Search SearchConfig `yaml:"search"`
}

// SQLiteVecConfig contains sqlite-vec specific configuration.
type SQLiteVecConfig struct {
	Path string `yaml:"path"` // Path to database file
}

// EmbeddingsConfig contains embedding provider configuration.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // openai, ollama
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`

	// Ollama-specific
	OllamaURL string `yaml:"ollama_url"`
}

// IndexingConfig contains configuration for automatic indexing.
type IndexingConfig struct {
	AutoIndexMessages bool `yaml:"auto_index_messages"`
	MinContentLength  int  `yaml:"min_content_length"`
	BatchSize         int  `yaml:"batch_size"`
}

// SearchConfig contains default search parameters.
type SearchConfig struct {
	DefaultLimit     int                   `yaml:"default_limit"`
	DefaultThreshold float32               `yaml:"default_threshold"`
	DefaultScope     string                `yaml:"default_scope"`
	DefaultStrategy  models.SearchStrategy `yaml:"default_strategy"`
}

// NewManager creates a new memory manager with the given configuration.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	// Set defaults
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
	}
	if cfg.Indexing.BatchSize == 0 {
		cfg.Indexing.BatchSize = 100
	}
	if cfg.Indexing.MinContentLength == 0 {
		cfg.Indexing.MinContentLength = 10
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.DefaultThreshold == 0 {
		cfg.Search.DefaultThreshold = 0.7
	}
	if cfg.Search.DefaultScope == "" {
		cfg.Search.DefaultScope = "session"
	}
	if cfg.Search.DefaultStrategy == "" {
		cfg.Search.DefaultStrategy = models.StrategySemantic
	}

	// Initialize backend. sqlite-vec is the only supported backend: this is a
	// single-user local host, and the vector store is treated as an opaque
	// black box rather than a scaled-out service.
	var b backend.Backend
	var err error
	switch cfg.Backend {
	case "sqlite-vec", "sqlite", "":
		b, err = sqlitevec.New(sqlitevec.Config{
			Path:      cfg.SQLiteVec.Path,
			Dimension: cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("unsupported backend: %s (only sqlite-vec is supported)", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backend: %w", err)
	}

	// Initialize embedder
	var emb embeddings.Provider
	switch cfg.Embeddings.Provider {
	case "openai", "":
		emb, err = openai.New(openai.Config{
			APIKey:  cfg.Embeddings.APIKey,
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
	case "ollama":
		emb, err = ollama.New(ollama.Config{
			BaseURL: cfg.Embeddings.OllamaURL,
			Model:   cfg.Embeddings.Model,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embeddings.Provider)
	}
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	// Verify dimension matches
	if emb.Dimension() != cfg.Dimension {
		b.Close()
		return nil, fmt.Errorf("dimension mismatch: config=%d, embedder=%d", cfg.Dimension, emb.Dimension())
	}

	m := &Manager{
		backend:  b,
		embedder: emb,
		config:   cfg,
		cache:    newEmbeddingCache(1000), // Cache up to 1000 query embeddings
		lexic:    bm25.New(),
	}

	// Seed an initial record so a brand new store is never queried empty,
	// matching the Python original's startup behavior.
	if count, err := b.Count(context.Background(), models.ScopeGlobal, ""); err == nil && count == 0 {
		_ = m.Index(context.Background(), []*models.MemoryEntry{{
			Content: "Resonance memory store initialized.",
			Metadata: models.MemoryMetadata{
				Source: "system",
				Tags:   []string{"seed"},
			},
		}})
	}

	return m, nil
}

// Index stores memory entries, generating embeddings as needed.
func (m *Manager) Index(ctx context.Context, entries []*models.MemoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	// Filter entries that need embeddings
	var needsEmbedding []*models.MemoryEntry
	for _, entry := range entries {
		if len(entry.Embedding) == 0 && len(entry.Content) >= m.config.Indexing.MinContentLength {
			needsEmbedding = append(needsEmbedding, entry)
		}
	}

	// Batch embed
	batchSize := m.embedder.MaxBatchSize()
	if m.config.Indexing.BatchSize > 0 && m.config.Indexing.BatchSize < batchSize {
		batchSize = m.config.Indexing.BatchSize
	}

	for i := 0; i < len(needsEmbedding); i += batchSize {
		end := i + batchSize
		if end > len(needsEmbedding) {
			end = len(needsEmbedding)
		}
		batch := needsEmbedding[i:end]

		texts := make([]string, len(batch))
		for j, entry := range batch {
			texts[j] = entry.Content
		}

		embedded, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}

		for j, entry := range batch {
			entry.Embedding = embedded[j]
		}
	}

	// Store in backend
	if err := m.backend.Index(ctx, entries); err != nil {
		return err
	}

	m.rebuildLexicalIndex(ctx)
	return nil
}

// Search finds relevant memories using the request's strategy, defaulting to
// pure semantic similarity. Every returned entry has its access stats bumped
// as a side effect, matching the Python original's _increment_stats call on
// every search hit; a failed stats write is swallowed rather than surfaced.
func (m *Manager) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	if req.Limit == 0 {
		req.Limit = m.config.Search.DefaultLimit
	}
	if req.Threshold == 0 {
		req.Threshold = m.config.Search.DefaultThreshold
	}
	if req.Scope == "" {
		req.Scope = models.MemoryScope(m.config.Search.DefaultScope)
	}
	if req.Strategy == "" {
		req.Strategy = m.config.Search.DefaultStrategy
		if req.Strategy == "" {
			req.Strategy = models.StrategySemantic
		}
	}

	queryEmbed, err := m.embedQuery(ctx, req)
	if err != nil {
		return nil, err
	}

	candidateLimit := req.Limit
	if req.Strategy != models.StrategySemantic {
		candidateLimit = req.Limit * oversampleFactor
	}

	candidates, err := m.backend.Search(ctx, queryEmbed, &backend.SearchOptions{
		Scope:   req.Scope,
		ScopeID: req.ScopeID,
		Limit:   candidateLimit,
		Filters: req.Filters,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var scored []*models.SearchResult
	switch req.Strategy {
	case models.StrategyHybridTime:
		scored = m.scoreHybridTime(candidates)
	case models.StrategyHybridLexical:
		scored = m.scoreHybridLexical(req.Query, candidates)
	default:
		scored = m.scoreSemantic(candidates)
	}

	filtered := scored[:0]
	for _, r := range scored {
		if r.Score >= req.Threshold {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > req.Limit {
		filtered = filtered[:req.Limit]
	}

	m.touchStats(ctx, filtered)

	return &models.SearchResponse{
		Results:    filtered,
		TotalCount: len(filtered),
		QueryTime:  time.Since(start),
	}, nil
}

func (m *Manager) embedQuery(ctx context.Context, req *models.SearchRequest) ([]float32, error) {
	cacheKey := fmt.Sprintf("%s:%s", req.Scope, req.Query)
	if cached, ok := m.cache.get(cacheKey); ok {
		return cached, nil
	}

	embed, err := m.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	m.cache.set(cacheKey, embed)
	return embed, nil
}

// scoreSemantic reinterprets each candidate's backend similarity as a
// distance d and applies the spec's 1/(1+d) convention.
func (m *Manager) scoreSemantic(candidates []*models.SearchResult) []*models.SearchResult {
	out := make([]*models.SearchResult, len(candidates))
	for i, c := range candidates {
		d := distanceFromSimilarity(c.Score)
		out[i] = &models.SearchResult{
			Entry:      c.Entry,
			Score:      float32(1 / (1 + d)),
			Highlights: c.Highlights,
		}
	}
	return out
}

// scoreHybridTime blends semantic score with a recency decay term:
// 0.7*semantic + 0.3*timeDecay, timeDecay = 1/(1+0.1*age_days).
func (m *Manager) scoreHybridTime(candidates []*models.SearchResult) []*models.SearchResult {
	now := time.Now()
	out := make([]*models.SearchResult, len(candidates))
	for i, c := range candidates {
		d := distanceFromSimilarity(c.Score)
		semantic := 1 / (1 + d)

		ageDays := 0.0
		if c.Entry != nil && !c.Entry.CreatedAt.IsZero() {
			ageDays = now.Sub(c.Entry.CreatedAt).Hours() / 24
			if ageDays < 0 {
				ageDays = 0
			}
		}
		timeDecay := 1 / (1 + 0.1*ageDays)

		out[i] = &models.SearchResult{
			Entry:      c.Entry,
			Score:      float32(0.7*semantic + 0.3*timeDecay),
			Highlights: c.Highlights,
		}
	}
	return out
}

// scoreHybridLexical blends min-max normalized semantic and BM25 scores:
// 0.7*semNorm + 0.3*bm25Norm.
func (m *Manager) scoreHybridLexical(query string, candidates []*models.SearchResult) []*models.SearchResult {
	m.bm25Mu.RLock()
	lexicalScores := bm25.NormalizeMinMax(m.lexic.Score(query))
	m.bm25Mu.RUnlock()

	semRaw := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		if c.Entry == nil {
			continue
		}
		d := distanceFromSimilarity(c.Score)
		semRaw[c.Entry.ID] = 1 / (1 + d)
	}
	semNorm := bm25.NormalizeMinMax(semRaw)

	out := make([]*models.SearchResult, len(candidates))
	for i, c := range candidates {
		var id string
		if c.Entry != nil {
			id = c.Entry.ID
		}
		out[i] = &models.SearchResult{
			Entry:      c.Entry,
			Score:      float32(0.7*semNorm[id] + 0.3*lexicalScores[id]),
			Highlights: c.Highlights,
		}
	}
	return out
}

// distanceFromSimilarity converts the backend's cosine-similarity score into
// a cosine-distance value so the spec's literal 1/(1+d) formula applies.
func distanceFromSimilarity(similarity float32) float64 {
	d := 1 - float64(similarity)
	if d < 0 {
		d = 0
	}
	return d
}

// touchStats increments access stats on the final, truncated result set
// only — mirroring the Python original, which updates stats after sorting
// and truncation rather than for every oversampled candidate.
func (m *Manager) touchStats(ctx context.Context, results []*models.SearchResult) {
	if len(results) == 0 {
		return
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.Entry != nil {
			ids = append(ids, r.Entry.ID)
		}
	}
	_ = m.backend.IncrementStats(ctx, ids)
}

// rebuildLexicalIndex refreshes the BM25 index from the full global corpus.
// Failures are logged-worthy only: hybrid_lexical degrades to stale lexical
// scores rather than failing the index operation that triggered it.
func (m *Manager) rebuildLexicalIndex(ctx context.Context) {
	entries, err := m.backend.ListByScope(ctx, models.ScopeGlobal, "")
	if err != nil {
		return
	}

	docs := make([]bm25.Document, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, bm25.Document{ID: e.ID, Content: e.Content})
	}

	m.bm25Mu.Lock()
	m.lexic.Rebuild(docs)
	m.bm25Mu.Unlock()
}

// Delete removes memory entries by ID.
func (m *Manager) Delete(ctx context.Context, ids []string) error {
	if err := m.backend.Delete(ctx, ids); err != nil {
		return err
	}
	m.rebuildLexicalIndex(ctx)
	return nil
}

// Count returns the number of memories in the given scope.
func (m *Manager) Count(ctx context.Context, scope models.MemoryScope, scopeID string) (int64, error) {
	return m.backend.Count(ctx, scope, scopeID)
}

// Compact optimizes the storage backend.
func (m *Manager) Compact(ctx context.Context) error {
	return m.backend.Compact(ctx)
}

// Stats returns statistics about the memory store.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	globalCount, err := m.backend.Count(ctx, models.ScopeGlobal, "")
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalEntries:      globalCount,
		Backend:           m.config.Backend,
		EmbeddingProvider: m.embedder.Name(),
		EmbeddingModel:    m.config.Embeddings.Model,
		Dimension:         m.config.Dimension,
	}, nil
}

// Close releases all resources.
func (m *Manager) Close() error {
	return m.backend.Close()
}

// Stats contains memory store statistics.
type Stats struct {
	TotalEntries      int64  `json:"total_entries"`
	Backend           string `json:"backend"`
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	Dimension         int    `json:"dimension"`
}

// lruNode is a doubly-linked-list node backing embeddingCache.
type lruNode struct {
	key        string
	value      []float32
	prev, next *lruNode
}

// embeddingCache is an LRU cache for query embeddings.
type embeddingCache struct {
	mu       sync.RWMutex
	items    map[string]*lruNode
	head     *lruNode
	tail     *lruNode
	capacity int
}

func newEmbeddingCache(capacity int) *embeddingCache {
	return &embeddingCache{
		items:    make(map[string]*lruNode),
		capacity: capacity,
	}
}

func (c *embeddingCache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(node)
	return node.value, true
}

func (c *embeddingCache) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.value = value
		c.moveToFront(node)
		return
	}

	if c.capacity <= 0 {
		return
	}

	node := &lruNode{key: key, value: value}
	c.items[key] = node
	c.pushFront(node)

	if len(c.items) > c.capacity {
		c.evictOldest()
	}
}

func (c *embeddingCache) pushFront(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *embeddingCache) unlink(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (c *embeddingCache) moveToFront(node *lruNode) {
	if c.head == node {
		return
	}
	c.unlink(node)
	c.pushFront(node)
}

func (c *embeddingCache) evictOldest() {
	if c.tail == nil {
		return
	}
	oldest := c.tail
	c.unlink(oldest)
	delete(c.items, oldest.key)
}
