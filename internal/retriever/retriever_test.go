package retriever

import (
	"context"
	"testing"

	"diagnosify-go/internal/model"
	"diagnosify-go/internal/vectorindex"
	"diagnosify-go/internal/vectorindex/memory"
	"diagnosify-go/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.InitForTest()
	m.Run()
}

// mapEmbedder 按文本查表返回固定向量。
type mapEmbedder struct {
	vecs map[string][]float32
}

func (m *mapEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	return m.vecs[text], nil
}

func (m *mapEmbedder) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vecs[t]
	}
	return out, nil
}

func buildIndex(t *testing.T, vectors [][]float32) vectorindex.Index {
	t.Helper()
	idx := memory.New()
	chunks := make([]model.DocumentChunk, len(vectors))
	for i := range vectors {
		chunks[i] = model.DocumentChunk{Source: "report.pdf", ChunkID: i, Text: chunkText(i)}
	}
	require.NoError(t, idx.Upsert(context.Background(), chunks, vectors))
	return idx
}

func chunkText(i int) string {
	texts := []string{"血糖结果", "血糖复查建议", "肝功能指标", "尿常规结果", "心电图描述", "血脂指标"}
	return texts[i%len(texts)]
}

func TestNewValidation(t *testing.T) {
	embedder := &mapEmbedder{}

	_, err := New(embedder, 0, 4, 0.5)
	assert.Error(t, err)

	// top_k 大于 fetch_k 属于配置错误，不做静默钳制
	_, err = New(embedder, 5, 4, 0.5)
	assert.Error(t, err)

	_, err = New(embedder, 2, 4, 1.5)
	assert.Error(t, err)

	_, err = New(embedder, 2, 4, -0.1)
	assert.Error(t, err)

	r, err := New(embedder, 2, 4, 0.5)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestRetrieveEmptyIndex(t *testing.T) {
	embedder := &mapEmbedder{vecs: map[string][]float32{"血糖怎么样": {1, 0}}}
	r, err := New(embedder, 2, 4, 0.5)
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), memory.New(), "血糖怎么样")
	assert.ErrorIs(t, err, ErrEmptyIndex)
}

func TestRetrieveReturnsAtMostTopK(t *testing.T) {
	embedder := &mapEmbedder{vecs: map[string][]float32{"血糖怎么样": {1, 0}}}
	idx := buildIndex(t, [][]float32{
		{1, 0}, {0.9, 0.1}, {0.8, 0.2}, {0.7, 0.3}, {0, 1}, {0.1, 0.9},
	})

	r, err := New(embedder, 2, 4, 0.5)
	require.NoError(t, err)

	chunks, err := r.Retrieve(context.Background(), idx, "血糖怎么样")
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestRetrieveFewerCandidatesThanTopK(t *testing.T) {
	embedder := &mapEmbedder{vecs: map[string][]float32{"血糖怎么样": {1, 0}}}
	idx := buildIndex(t, [][]float32{{1, 0}})

	r, err := New(embedder, 2, 4, 0.5)
	require.NoError(t, err)

	chunks, err := r.Retrieve(context.Background(), idx, "血糖怎么样")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestRetrieveNoDuplicates(t *testing.T) {
	embedder := &mapEmbedder{vecs: map[string][]float32{"查询": {1, 0.5}}}
	idx := buildIndex(t, [][]float32{
		{1, 0.5}, {1, 0.5}, {0.5, 1}, {0.9, 0.4},
	})

	r, err := New(embedder, 3, 4, 0.5)
	require.NoError(t, err)

	chunks, err := r.Retrieve(context.Background(), idx, "查询")
	require.NoError(t, err)
	seen := map[int]bool{}
	for _, c := range chunks {
		assert.False(t, seen[c.ChunkID], "分块 %d 重复出现", c.ChunkID)
		seen[c.ChunkID] = true
	}
}

func TestRetrievePureRelevanceWhenLambdaOne(t *testing.T) {
	// λ=1 时退化为纯相关性排序
	embedder := &mapEmbedder{vecs: map[string][]float32{"查询": {1, 0}}}
	idx := buildIndex(t, [][]float32{
		{1, 0}, {0.95, 0.05}, {0, 1}, {0.1, 0.9},
	})

	r, err := New(embedder, 2, 4, 1.0)
	require.NoError(t, err)

	chunks, err := r.Retrieve(context.Background(), idx, "查询")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].ChunkID)
	assert.Equal(t, 1, chunks[1].ChunkID)
}

func TestRetrieveDiversityPreferred(t *testing.T) {
	// 候选 0 和 1 近乎平行；多样性权重下第二个选中的应是方向不同的候选
	embedder := &mapEmbedder{vecs: map[string][]float32{"查询": {1, 0, 0}}}
	idx := buildIndex(t, [][]float32{
		{0.9, 0.435, 0}, {0.89, 0.456, 0}, {0.6, 0, 0.8}, {0.1, 0, 0.995},
	})

	r, err := New(embedder, 2, 4, 0.5)
	require.NoError(t, err)

	chunks, err := r.Retrieve(context.Background(), idx, "查询")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].ChunkID)
	assert.Equal(t, 2, chunks[1].ChunkID, "MMR 应选择与已选结果差异更大的候选")
}

func TestRetrieveDeterministic(t *testing.T) {
	embedder := &mapEmbedder{vecs: map[string][]float32{"查询": {1, 0.3}}}
	idx := buildIndex(t, [][]float32{
		{1, 0.3}, {1, 0.3}, {0.5, 0.8}, {0.9, 0.1}, {0.2, 1}, {0.6, 0.6},
	})

	r, err := New(embedder, 3, 5, 0.5)
	require.NoError(t, err)

	first, err := r.Retrieve(context.Background(), idx, "查询")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(context.Background(), idx, "查询")
		require.NoError(t, err)
		require.Equal(t, len(first), len(again))
		for j := range first {
			assert.Equal(t, first[j].ChunkID, again[j].ChunkID, "第 %d 次检索结果不一致", i)
		}
	}
}
