package shelltune

import (
	"errors"
	"fmt"
)

// BatchLoader serves fixed-length tokenized examples as training batches.
// Each row yields a next-token pair: inputs are the first seqLen-1 ids,
// targets the same ids shifted left by one. The loader wraps around when it
// reaches the end, like an infinite epoch stream.
type BatchLoader struct {
	rows       [][]int32
	batchSize  int
	seqLen     int // model sequence length, row length - 1
	pos        int
	inputs     []int32
	targets    []int32
	NumBatches int
}

// NewBatchLoader builds a loader over pre-tokenized rows. All rows must have
// the same length, at least 2.
func NewBatchLoader(rows [][]int32, batchSize int) (*BatchLoader, error) {
	if batchSize <= 0 {
		return nil, errors.New("batch size must be positive")
	}
	if len(rows) < batchSize {
		return nil, fmt.Errorf("dataset has %d rows, need at least one batch of %d", len(rows), batchSize)
	}
	rowLen := len(rows[0])
	if rowLen < 2 {
		return nil, errors.New("rows must hold at least 2 tokens")
	}
	for i, row := range rows {
		if len(row) != rowLen {
			return nil, fmt.Errorf("row %d has length %d, want %d", i, len(row), rowLen)
		}
	}
	seqLen := rowLen - 1
	return &BatchLoader{
		rows:       rows,
		batchSize:  batchSize,
		seqLen:     seqLen,
		inputs:     make([]int32, batchSize*seqLen),
		targets:    make([]int32, batchSize*seqLen),
		NumBatches: len(rows) / batchSize,
	}, nil
}

// SeqLen returns the model sequence length T of the batches.
func (l *BatchLoader) SeqLen() int {
	return l.seqLen
}

// BatchSize returns the batch size B.
func (l *BatchLoader) BatchSize() int {
	return l.batchSize
}

// Reset rewinds the loader to the first row.
func (l *BatchLoader) Reset() {
	l.pos = 0
}

// NextBatch returns the next (inputs, targets) pair of shape (B, T). The
// returned slices are reused between calls.
func (l *BatchLoader) NextBatch() ([]int32, []int32, error) {
	if l.pos+l.batchSize > len(l.rows) {
		l.Reset()
	}
	for i := 0; i < l.batchSize; i++ {
		row := l.rows[l.pos+i]
		copy(l.inputs[i*l.seqLen:(i+1)*l.seqLen], row[:l.seqLen])
		copy(l.targets[i*l.seqLen:(i+1)*l.seqLen], row[1:l.seqLen+1])
	}
	l.pos += l.batchSize
	return l.inputs, l.targets, nil
}
