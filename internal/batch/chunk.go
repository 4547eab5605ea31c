// Package batch is the boundary to external schedulers. It splits parameter
// sets into chunks, moves chunks and result rows through files or a Redis
// queue, and runs chunks on workers.
package batch

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nvandessel/defsim/internal/experiment"
)

// DefaultChunkSize is the number of parameter sets per chunk when none is
// configured.
const DefaultChunkSize = 2400

// Chunk is a unit of work for one remote worker.
type Chunk struct {
	BatchID string `json:"batch_id"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`

	Sets []experiment.ParameterSet `json:"sets"`
}

// Key identifies the chunk within all batches.
func (c *Chunk) Key() string {
	return fmt.Sprintf("%s:%d", c.BatchID, c.Index)
}

// ChunkResult carries the rows and failures a worker produced for a chunk.
type ChunkResult struct {
	BatchID string             `json:"batch_id"`
	Index   int                `json:"index"`
	Result  *experiment.Result `json:"result"`
}

// NewBatchID returns a fresh random batch identifier.
func NewBatchID() string {
	return uuid.NewString()
}

// Split cuts sets into chunks of at most size sets under a new batch id.
// size <= 0 uses DefaultChunkSize.
func Split(sets []experiment.ParameterSet, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	batchID := NewBatchID()
	parts := experiment.Chunks(sets, size)
	chunks := make([]Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = Chunk{BatchID: batchID, Index: i, Total: len(parts), Sets: part}
	}
	return chunks
}

// ChunkPath names the file of one chunk inside dir.
func ChunkPath(dir string, c *Chunk) string {
	return filepath.Join(dir, fmt.Sprintf("chunk-%s-%04d.dsb", c.BatchID, c.Index))
}

// InvalidIndex is the rows file index holding the sets of a batch that
// failed before any chunk was cut.
const InvalidIndex = -1

// RowsPath names the result file matching a chunk inside dir.
func RowsPath(dir string, batchID string, index int) string {
	if index == InvalidIndex {
		return filepath.Join(dir, fmt.Sprintf("rows-%s-invalid.dsb", batchID))
	}
	return filepath.Join(dir, fmt.Sprintf("rows-%s-%04d.dsb", batchID, index))
}
