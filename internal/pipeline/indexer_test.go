package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"diagnosify-go/internal/vectorindex"
	"diagnosify-go/internal/vectorindex/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileContentExtractor 直接把临时文件内容当作提取结果返回。
type fileContentExtractor struct{}

func (fileContentExtractor) ExtractFile(_ context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// failingExtractor 模拟格式不受支持的文档。
type failingExtractor struct{}

func (failingExtractor) ExtractFile(context.Context, string) (string, error) {
	return "", errors.New("不支持的文件格式")
}

// stubEmbedder 产出确定性的向量：维度 2，首分量由文本长度决定。
type stubEmbedder struct {
	calls [][]string
}

func (s *stubEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *stubEmbedder) CreateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	s.calls = append(s.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func newMemoryFactory() IndexFactory {
	return func() (vectorindex.Index, error) {
		return memory.New(), nil
	}
}

func TestBuildIndexFromSources(t *testing.T) {
	tempDir := t.TempDir()
	splitter, err := NewSplitter(50, 10)
	require.NoError(t, err)
	embedder := &stubEmbedder{}
	indexer := NewIndexer(fileContentExtractor{}, embedder, splitter, newMemoryFactory(), tempDir)

	idx, err := indexer.BuildIndex(context.Background(), []Source{
		{Name: "blood.pdf", Reader: strings.NewReader("血红蛋白 150 g/L。白细胞 6.5。")},
		{Name: "liver.pdf", Reader: strings.NewReader("谷丙转氨酶 55 U/L，偏高。")},
	})
	require.NoError(t, err)
	require.NotNil(t, idx)

	memIdx, ok := idx.(*memory.Index)
	require.True(t, ok)
	assert.Greater(t, memIdx.Len(), 0)

	// 全部分块在一次批量调用中完成向量化
	require.Len(t, embedder.calls, 1)
	assert.Equal(t, memIdx.Len(), len(embedder.calls[0]))

	// 临时文件全部清理
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildIndexSkipsFailedSources(t *testing.T) {
	splitter, err := NewSplitter(50, 10)
	require.NoError(t, err)

	// 提取器只认内容以 "ok:" 开头的文档
	extractor := selectiveExtractor{}
	indexer := NewIndexer(extractor, &stubEmbedder{}, splitter, newMemoryFactory(), t.TempDir())

	idx, err := indexer.BuildIndex(context.Background(), []Source{
		{Name: "bad.pdf", Reader: strings.NewReader("corrupted")},
		{Name: "good.pdf", Reader: strings.NewReader("ok:血小板 210。")},
	})
	require.NoError(t, err)

	memIdx := idx.(*memory.Index)
	assert.Greater(t, memIdx.Len(), 0)
}

func TestBuildIndexAllSourcesFail(t *testing.T) {
	splitter, err := NewSplitter(50, 10)
	require.NoError(t, err)
	indexer := NewIndexer(failingExtractor{}, &stubEmbedder{}, splitter, newMemoryFactory(), t.TempDir())

	_, err = indexer.BuildIndex(context.Background(), []Source{
		{Name: "a.pdf", Reader: strings.NewReader("x")},
		{Name: "b.pdf", Reader: strings.NewReader("y")},
	})
	assert.ErrorIs(t, err, ErrNoUsableText)
}

func TestBuildIndexEmptySources(t *testing.T) {
	splitter, err := NewSplitter(50, 10)
	require.NoError(t, err)
	indexer := NewIndexer(fileContentExtractor{}, &stubEmbedder{}, splitter, newMemoryFactory(), t.TempDir())

	_, err = indexer.BuildIndex(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoUsableText)
}

func TestBuildIndexDeterministicChunkIDs(t *testing.T) {
	splitter, err := NewSplitter(20, 0)
	require.NoError(t, err)
	embedder := &stubEmbedder{}
	indexer := NewIndexer(fileContentExtractor{}, embedder, splitter, newMemoryFactory(), t.TempDir())

	text := strings.Repeat("尿酸 420 偏高。", 8)
	idx, err := indexer.BuildIndex(context.Background(), []Source{
		{Name: "urine.pdf", Reader: strings.NewReader(text)},
	})
	require.NoError(t, err)

	// 同一文档的分块按顺序编号，检索结果可以回溯到来源位置
	candidates, err := idx.Search(context.Background(), []float32{10, 1}, 100)
	require.NoError(t, err)
	seen := map[int]bool{}
	for _, c := range candidates {
		assert.Equal(t, "urine.pdf", c.Chunk.Source)
		assert.False(t, seen[c.Chunk.ChunkID], "分块编号重复: %d", c.Chunk.ChunkID)
		seen[c.Chunk.ChunkID] = true
	}
}

// selectiveExtractor 根据文件内容决定成败。
type selectiveExtractor struct{}

func (selectiveExtractor) ExtractFile(_ context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	content := string(data)
	if !strings.HasPrefix(content, "ok:") {
		return "", fmt.Errorf("无法解析的文档内容")
	}
	return strings.TrimPrefix(content, "ok:"), nil
}
