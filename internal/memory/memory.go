// Package memory keeps report insights across executions of the same
// definition and recalls them by similarity.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/config"
	"github.com/while-basic/celaya-parachain-sub000/internal/sanitize"
)

var tracer = otel.Tracer("github.com/while-basic/celaya-parachain-sub000/internal/memory")

var (
	// ErrEmptyQuery indicates a recall without query text.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrUnknownEmbedding indicates an unsupported embedding backend.
	ErrUnknownEmbedding = errors.New("unknown embedding backend")
)

const collectionPrefix = "cognition_insights"

// indexCollection maps insight collection names back to definition ids,
// since sanitized names are not reversible.
const indexCollection = "cognition_index"

// metadata keys stored with every insight
const (
	metaDefinition = "definition_id"
	metaExecution  = "execution_id"
	metaStoredAt   = "stored_at"
)

// Insight is one remembered finding.
type Insight struct {
	ID           string    `json:"id"`
	DefinitionID string    `json:"definition_id"`
	ExecutionID  string    `json:"execution_id"`
	Content      string    `json:"content"`
	StoredAt     time.Time `json:"stored_at"`
	Similarity   float32   `json:"similarity"`
}

// Store is a chromem-backed insight memory.
type Store struct {
	db     *chromem.DB
	embed  chromem.EmbeddingFunc
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for stored_at and retention.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens the memory described by cfg. An empty path keeps it in process.
func New(cfg config.MemoryConfig, agents config.AgentsConfig, logger *zap.Logger, opts ...Option) (*Store, error) {
	embed, err := EmbeddingFor(cfg, agents)
	if err != nil {
		return nil, err
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, err
		}
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("opening insight memory at %s: %w", path, err)
		}
	}
	return NewWithDB(db, embed, logger, opts...), nil
}

// NewWithDB wraps an existing chromem database.
func NewWithDB(db *chromem.DB, embed chromem.EmbeddingFunc, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, embed: embed, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmbeddingFor returns the embedding function selected by cfg.
func EmbeddingFor(cfg config.MemoryConfig, agents config.AgentsConfig) (chromem.EmbeddingFunc, error) {
	switch cfg.Embedding {
	case "", "hash":
		return HashEmbedding(defaultDimensions), nil
	case "ollama":
		base := strings.TrimSuffix(agents.OllamaURL, "/") + "/api"
		return chromem.NewEmbeddingFuncOllama(cfg.EmbeddingModel, base), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEmbedding, cfg.Embedding)
	}
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

func collectionName(definitionID string) string {
	return sanitize.Collection(collectionPrefix, definitionID)
}

// StoreInsights remembers insights produced by one execution.
func (s *Store) StoreInsights(ctx context.Context, definitionID, executionID string, insights []string) error {
	ctx, span := tracer.Start(ctx, "memory.StoreInsights")
	defer span.End()
	span.SetAttributes(attribute.String("definition.id", definitionID), attribute.Int("insights", len(insights)))

	if len(insights) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.db.GetOrCreateCollection(collectionName(definitionID), nil, s.embed)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("getting/creating collection for %s: %w", definitionID, err)
	}

	storedAt := s.now().UTC().Format(time.RFC3339Nano)
	docs := make([]chromem.Document, 0, len(insights))
	for i, text := range insights {
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:      executionID + "-" + strconv.Itoa(i),
			Content: text,
			Metadata: map[string]string{
				metaDefinition: definitionID,
				metaExecution:  executionID,
				metaStoredAt:   storedAt,
			},
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding insights: %w", err)
	}
	if err := s.indexDefinition(ctx, definitionID); err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Debug("stored insights",
		zap.String("definition_id", definitionID),
		zap.String("execution_id", executionID),
		zap.Int("count", len(docs)))
	return nil
}

// Recall returns up to n insights for definitionID most similar to query.
// Insights older than retention are skipped; zero retention keeps all.
func (s *Store) Recall(ctx context.Context, definitionID, query string, n int, retention time.Duration) ([]Insight, error) {
	ctx, span := tracer.Start(ctx, "memory.Recall")
	defer span.End()
	span.SetAttributes(attribute.String("definition.id", definitionID), attribute.Int("n", n))

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if n <= 0 {
		return []Insight{}, nil
	}

	s.mu.Lock()
	col := s.db.GetCollection(collectionName(definitionID), s.embed)
	s.mu.Unlock()
	if col == nil {
		return []Insight{}, nil
	}
	count := col.Count()
	if count == 0 {
		return []Insight{}, nil
	}

	// chromem requires nResults <= document count; retention filtering
	// happens afterwards so the whole collection is ranked.
	results, err := col.Query(ctx, query, count, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying insights for %s: %w", definitionID, err)
	}

	cutoff := time.Time{}
	if retention > 0 {
		cutoff = s.now().Add(-retention)
	}
	out := make([]Insight, 0, n)
	for _, r := range results {
		storedAt, _ := time.Parse(time.RFC3339Nano, r.Metadata[metaStoredAt])
		if !cutoff.IsZero() && storedAt.Before(cutoff) {
			continue
		}
		out = append(out, Insight{
			ID:           r.ID,
			DefinitionID: r.Metadata[metaDefinition],
			ExecutionID:  r.Metadata[metaExecution],
			Content:      r.Content,
			StoredAt:     storedAt,
			Similarity:   r.Similarity,
		})
		if len(out) == n {
			break
		}
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// Forget drops every insight stored for definitionID.
func (s *Store) Forget(definitionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := collectionName(definitionID)
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("deleting insights for %s: %w", definitionID, err)
	}
	if idx := s.db.GetCollection(indexCollection, s.embed); idx != nil {
		if err := idx.Delete(context.Background(), nil, nil, name); err != nil {
			return fmt.Errorf("unindexing %s: %w", definitionID, err)
		}
	}
	return nil
}

// Definitions lists definition ids that have stored insights.
func (s *Store) Definitions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.db.GetCollection(indexCollection, s.embed)
	if idx == nil {
		return nil
	}
	var out []string
	for name := range s.db.ListCollections() {
		if !strings.HasPrefix(name, collectionPrefix+"_") {
			continue
		}
		doc, err := idx.GetByID(context.Background(), name)
		if err != nil {
			continue
		}
		out = append(out, doc.Metadata[metaDefinition])
	}
	sort.Strings(out)
	return out
}

// indexDefinition records which definition owns its collection. The entry
// carries a fixed unit vector so indexing never calls the embedder.
func (s *Store) indexDefinition(ctx context.Context, definitionID string) error {
	idx, err := s.db.GetOrCreateCollection(indexCollection, nil, s.embed)
	if err != nil {
		return fmt.Errorf("opening insight index: %w", err)
	}
	err = idx.AddDocument(ctx, chromem.Document{
		ID:        collectionName(definitionID),
		Content:   definitionID,
		Metadata:  map[string]string{metaDefinition: definitionID},
		Embedding: []float32{1},
	})
	if err != nil {
		return fmt.Errorf("indexing insights for %s: %w", definitionID, err)
	}
	return nil
}
