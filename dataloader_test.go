package shelltune

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchLoader_NextBatch(t *testing.T) {
	type want struct {
		reset  bool
		input  []int32
		target []int32
	}
	tests := []struct {
		name           string
		rows           [][]int32
		batchSize      int
		wantSeqLen     int
		wantNumBatches int
		want           []want
	}{
		{
			name:           "single row batches",
			rows:           [][]int32{{0, 1, 2}, {3, 4, 5}},
			batchSize:      1,
			wantSeqLen:     2,
			wantNumBatches: 2,
			want: []want{
				{input: []int32{0, 1}, target: []int32{1, 2}},
				{input: []int32{3, 4}, target: []int32{4, 5}},
				{input: []int32{0, 1}, target: []int32{1, 2}}, // wrapped
				{reset: true, input: []int32{0, 1}, target: []int32{1, 2}},
			},
		},
		{
			name:           "batch of two",
			rows:           [][]int32{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, {9, 10, 11}},
			batchSize:      2,
			wantSeqLen:     2,
			wantNumBatches: 2,
			want: []want{
				{input: []int32{0, 1, 3, 4}, target: []int32{1, 2, 4, 5}},
				{input: []int32{6, 7, 9, 10}, target: []int32{7, 8, 10, 11}},
			},
		},
		{
			name:           "leftover rows dropped",
			rows:           [][]int32{{0, 1}, {2, 3}, {4, 5}},
			batchSize:      2,
			wantSeqLen:     1,
			wantNumBatches: 1,
			want: []want{
				{input: []int32{0, 2}, target: []int32{1, 3}},
				{input: []int32{0, 2}, target: []int32{1, 3}}, // wrapped before the odd row
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, err := NewBatchLoader(tt.rows, tt.batchSize)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSeqLen, loader.SeqLen())
			assert.Equal(t, tt.batchSize, loader.BatchSize())
			assert.Equal(t, tt.wantNumBatches, loader.NumBatches)
			for _, want := range tt.want {
				if want.reset {
					loader.Reset()
				}
				input, target, err := loader.NextBatch()
				require.NoError(t, err)
				assert.Equal(t, want.input, input)
				assert.Equal(t, want.target, target)
			}
		})
	}
}

func TestNewBatchLoaderErrors(t *testing.T) {
	tests := []struct {
		name      string
		rows      [][]int32
		batchSize int
	}{
		{name: "zero batch size", rows: [][]int32{{0, 1}}, batchSize: 0},
		{name: "fewer rows than a batch", rows: [][]int32{{0, 1}}, batchSize: 2},
		{name: "row too short", rows: [][]int32{{0}}, batchSize: 1},
		{name: "ragged rows", rows: [][]int32{{0, 1, 2}, {3, 4}}, batchSize: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBatchLoader(tt.rows, tt.batchSize)
			assert.Error(t, err)
		})
	}
}
