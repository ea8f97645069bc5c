// Package ingest feeds records from the ingestion pipeline into the document store
// in batches the store accepts.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex/internal/domain"
	domdoc "github.com/kailas-cloud/problemdex/internal/domain/document"
)

// maxLineSize bounds a single JSONL record.
const maxLineSize = 1 << 20

// ChunkResult is the outcome of one batch.
type ChunkResult struct {
	Offset int
	Size   int
	Added  int
	Err    error
}

// Report summarizes an ingestion run.
type Report struct {
	Added  int
	Chunks []ChunkResult
}

// Failed returns the chunks that were rejected.
func (r Report) Failed() []ChunkResult {
	var out []ChunkResult
	for _, c := range r.Chunks {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// Indexer splits record streams into store-sized batches.
type Indexer struct {
	store  Store
	logger *zap.Logger
}

// New creates an indexer over store.
func New(store Store, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{store: store, logger: logger}
}

// Index adds records in order, in chunks of at most the store's batch size.
// A chunk rejected for invalid records is reported and skipped; any other
// failure aborts the run and is returned together with the partial report.
func (ix *Indexer) Index(ctx context.Context, records []domdoc.Record) (Report, error) {
	var rep Report
	size := ix.store.MaxBatchSize()
	if size <= 0 {
		size = len(records)
	}

	for off := 0; off < len(records); off += size {
		end := min(off+size, len(records))
		chunk := ChunkResult{Offset: off, Size: end - off}

		n, err := ix.store.Add(ctx, records[off:end])
		chunk.Added = n
		chunk.Err = err
		rep.Chunks = append(rep.Chunks, chunk)
		rep.Added += n

		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrInvalidDocument) {
			ix.logger.Warn("chunk rejected",
				zap.Int("offset", off), zap.Int("size", chunk.Size), zap.Error(err))
			continue
		}
		return rep, fmt.Errorf("chunk at offset %d: %w", off, err)
	}

	ix.logger.Info("ingestion finished",
		zap.Int("records", len(records)),
		zap.Int("added", rep.Added),
		zap.Int("chunks", len(rep.Chunks)),
		zap.Int("failed_chunks", len(rep.Failed())),
	)
	return rep, nil
}

// ReadJSONL decodes one record per non-blank line.
func ReadJSONL(r io.Reader) ([]domdoc.Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var out []domdoc.Record
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec domdoc.Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w: %w", line, domain.ErrInvalidDocument, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return out, nil
}

// DecodeBatch decodes a message payload: a JSON array of records or a single record.
func DecodeBatch(data []byte) ([]domdoc.Record, error) {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] == '{' {
		var rec domdoc.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidDocument, err)
		}
		return []domdoc.Record{rec}, nil
	}
	var recs []domdoc.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidDocument, err)
	}
	return recs, nil
}
