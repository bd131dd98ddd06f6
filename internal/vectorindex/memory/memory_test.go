package memory

import (
	"context"
	"testing"

	"diagnosify-go/internal/model"
	"diagnosify-go/internal/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(id int, text string) model.DocumentChunk {
	return model.DocumentChunk{Source: "report.pdf", ChunkID: id, Text: text}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New()
	_, err := idx.Search(context.Background(), []float32{1, 0}, 3)
	assert.ErrorIs(t, err, vectorindex.ErrEmptyIndex)
}

func TestUpsertMismatchedLengths(t *testing.T) {
	idx := New()
	err := idx.Upsert(context.Background(), []model.DocumentChunk{chunk(0, "a")}, nil)
	assert.Error(t, err)
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	idx := New()
	err := idx.Upsert(context.Background(),
		[]model.DocumentChunk{chunk(0, "血糖"), chunk(1, "血脂"), chunk(2, "血压")},
		[][]float32{{1, 0}, {0, 1}, {0.9, 0.1}},
	)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Chunk.ChunkID)
	assert.Equal(t, 2, results[1].Chunk.ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchTopKLargerThanIndex(t *testing.T) {
	idx := New()
	err := idx.Upsert(context.Background(),
		[]model.DocumentChunk{chunk(0, "a"), chunk(1, "b")},
		[][]float32{{1, 0}, {0, 1}},
	)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []float32{1, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchTieBreakKeepsInsertionOrder(t *testing.T) {
	idx := New()
	// 三个完全相同的向量，得分并列
	err := idx.Upsert(context.Background(),
		[]model.DocumentChunk{chunk(0, "a"), chunk(1, "b"), chunk(2, "c")},
		[][]float32{{1, 1}, {1, 1}, {1, 1}},
	)
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 0, results[0].Chunk.ChunkID)
	assert.Equal(t, 1, results[1].Chunk.ChunkID)
	assert.Equal(t, 2, results[2].Chunk.ChunkID)
}

func TestSearchReturnsStoredVectors(t *testing.T) {
	idx := New()
	vec := []float32{0.6, 0.8}
	err := idx.Upsert(context.Background(), []model.DocumentChunk{chunk(0, "a")}, [][]float32{vec})
	require.NoError(t, err)

	results, err := idx.Search(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// 候选携带存储向量，MMR 据此计算候选间相似度
	assert.Equal(t, vec, results[0].Vector)
}

func TestSearchDeterministic(t *testing.T) {
	idx := New()
	err := idx.Upsert(context.Background(),
		[]model.DocumentChunk{chunk(0, "a"), chunk(1, "b"), chunk(2, "c"), chunk(3, "d")},
		[][]float32{{1, 0}, {0.8, 0.6}, {0.8, 0.6}, {0, 1}},
	)
	require.NoError(t, err)

	first, err := idx.Search(context.Background(), []float32{1, 0.2}, 4)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := idx.Search(context.Background(), []float32{1, 0.2}, 4)
		require.NoError(t, err)
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].Chunk.ChunkID, again[j].Chunk.ChunkID)
		}
	}
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, vectorindex.CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.InDelta(t, 1.0, vectorindex.CosineSimilarity([]float32{2, 0}, []float32{5, 0}), 1e-9)
}
