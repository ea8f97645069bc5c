// Package local is the in-process DocumentStore backend: documents persist in a
// sqlite file and are scanned exhaustively in memory for similarity queries.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	// sqlite driver
	_ "modernc.org/sqlite"

	"github.com/kailas-cloud/problemdex/internal/domain"
	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
	"github.com/kailas-cloud/problemdex/internal/domain/search/filter"
	"github.com/kailas-cloud/problemdex/internal/domain/search/result"
	"github.com/kailas-cloud/problemdex/internal/metrics"
	"github.com/kailas-cloud/problemdex/internal/vector"
)

const backend = "local"

// MemoryPath opens a database that lives only as long as the Store.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	id         TEXT NOT NULL,
	title      TEXT NOT NULL,
	body       TEXT NOT NULL,
	summary    TEXT NOT NULL,
	category   TEXT NOT NULL,
	source     TEXT NOT NULL,
	vector     BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_seq ON documents(collection, seq);
`

// Config configures the local store.
type Config struct {
	Path       string
	Collection string
	Dimensions int
}

// Store keeps one collection in memory, in insertion order, mirrored to sqlite.
type Store struct {
	db         *sql.DB
	collection string
	dims       int
	logger     *zap.Logger

	mu      sync.RWMutex
	docs    []domdoc.Document
	byID    map[string]int // index into docs
	lastSeq int64
}

// Open opens (or creates) the database at cfg.Path and loads the collection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		return nil, errors.New("local store: collection is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("local store: dimensions must be positive")
	}

	dsn := MemoryPath
	if cfg.Path != "" && cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	s := &Store{db: db, collection: cfg.Collection, dims: cfg.Dimensions, logger: logger, byID: make(map[string]int)}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	metrics.StoreDocuments.WithLabelValues(s.collection).Set(float64(len(s.docs)))

	logger.Info("local store opened",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Int("documents", len(s.docs)),
	)
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, title, body, summary, category, source, vector
		 FROM documents WHERE collection = ? ORDER BY seq`, s.collection)
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var mismatched int
	for rows.Next() {
		var (
			seq                                int64
			id, title, body, summary, category string
			sourceJSON                         string
			blob                               []byte
		)
		if err := rows.Scan(&seq, &id, &title, &body, &summary, &category, &sourceJSON, &blob); err != nil {
			return fmt.Errorf("scan document: %w", err)
		}
		var src domdoc.Source
		if err := json.Unmarshal([]byte(sourceJSON), &src); err != nil {
			return fmt.Errorf("decode source of %s: %w", id, err)
		}
		vec, err := vector.Decode(blob)
		if err != nil {
			return fmt.Errorf("decode vector of %s: %w", id, err)
		}
		if len(vec) != s.dims {
			mismatched++
		}
		s.byID[id] = len(s.docs)
		s.docs = append(s.docs, domdoc.Reconstruct(id, title, body, summary, category, src, vec, seq))
		s.lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate documents: %w", err)
	}
	if mismatched > 0 {
		s.logger.Warn("documents with foreign vector dimensionality will score zero",
			zap.Int("count", mismatched), zap.Int("dimensions", s.dims))
	}
	return nil
}

// Insert persists the batch in one transaction and assigns insertion sequence numbers.
// Either every document is stored or none is.
func (s *Store) Insert(ctx context.Context, docs []domdoc.Document) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(backend, "insert", start, err) }()

	for i := range docs {
		if n := len(docs[i].Vector()); n != s.dims {
			return fmt.Errorf("document %s has %d dimensions, want %d: %w",
				docs[i].ID(), n, s.dims, domain.ErrVectorDimMismatch)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (collection, seq, id, title, body, summary, category, source, vector)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	stored := make([]domdoc.Document, len(docs))
	seq := s.lastSeq
	for i := range docs {
		seq++
		d := docs[i].WithSeq(seq)
		src, err := json.Marshal(d.Source())
		if err != nil {
			return fmt.Errorf("encode source of %s: %w", d.ID(), err)
		}
		if _, err := stmt.ExecContext(ctx,
			s.collection, seq, d.ID(), d.Title(), d.Body(), d.Summary(), d.Category(),
			string(src), vector.Encode(d.Vector()),
		); err != nil {
			return fmt.Errorf("insert %s: %w", d.ID(), err)
		}
		stored[i] = d
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	for i := range stored {
		s.byID[stored[i].ID()] = len(s.docs) + i
	}
	s.docs = append(s.docs, stored...)
	s.lastSeq = seq
	metrics.StoreDocuments.WithLabelValues(s.collection).Set(float64(len(s.docs)))
	return nil
}

type hit struct {
	idx int
	sim float64
}

// Search returns the k documents most similar to vec among those matching f.
// Equal similarities keep insertion order.
func (s *Store) Search(ctx context.Context, vec []float32, k int, f filter.Filter) ([]result.Result, error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(backend, "search", start, nil) }()

	if k <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]hit, 0, len(s.docs))
	for i := range s.docs {
		if !f.Matches(&s.docs[i]) {
			continue
		}
		hits = append(hits, hit{idx: i, sim: vector.Cosine(vec, s.docs[i].Vector())})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].sim > hits[b].sim })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]result.Result, len(hits))
	for i, h := range hits {
		out[i] = result.Scored(&s.docs[h.idx], vector.Score(h.sim))
	}
	return out, nil
}

// Get returns the document with the given id.
func (s *Store) Get(_ context.Context, id string) (domdoc.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return domdoc.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrDocumentNotFound)
	}
	return s.docs[i], nil
}

// List returns documents matching f in insertion order. limit <= 0 means no limit.
func (s *Store) List(_ context.Context, limit int, f filter.Filter) ([]domdoc.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domdoc.Document
	for i := range s.docs {
		if limit > 0 && len(out) >= limit {
			break
		}
		if f.Matches(&s.docs[i]) {
			out = append(out, s.docs[i])
		}
	}
	return out, nil
}

// Categories returns the sorted distinct categories of the first sampleSize documents.
func (s *Store) Categories(_ context.Context, sampleSize int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.docs)
	if sampleSize > 0 && sampleSize < n {
		n = sampleSize
	}
	seen := make(map[string]struct{})
	out := []string{}
	for i := 0; i < n; i++ {
		c := s.docs[i].Category()
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Clear removes every document of the collection. Clearing an empty collection is a no-op.
func (s *Store) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveStoreOp(backend, "clear", start, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, s.collection); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.docs = nil
	s.byID = make(map[string]int)
	metrics.StoreDocuments.WithLabelValues(s.collection).Set(0)
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
