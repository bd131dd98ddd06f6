package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"diagnosify-go/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.InitForTest()
	m.Run()
}

func TestNewSplitterValidation(t *testing.T) {
	// 非法参数立即报错
	_, err := NewSplitter(0, 0)
	assert.Error(t, err)

	_, err = NewSplitter(100, 100)
	assert.Error(t, err)

	_, err = NewSplitter(100, -1)
	assert.Error(t, err)

	s, err := NewSplitter(100, 20)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSplitShortText(t *testing.T) {
	s, err := NewSplitter(100, 20)
	require.NoError(t, err)

	// 不超过分块大小的文本原样返回
	chunks := s.Split("血红蛋白 150 g/L，参考范围 130-175。")
	require.Len(t, chunks, 1)
	assert.Equal(t, "血红蛋白 150 g/L，参考范围 130-175。", chunks[0])
}

func TestSplitEmptyText(t *testing.T) {
	s, err := NewSplitter(100, 20)
	require.NoError(t, err)

	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n  "))
}

func TestSplitRespectsChunkSize(t *testing.T) {
	s, err := NewSplitter(50, 10)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("白细胞计数正常。")
	}
	chunks := s.Split(b.String())
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50, "分块超出上限: %q", c)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	s, err := NewSplitter(30, 0)
	require.NoError(t, err)

	text := "第一段：血常规各项指标均在正常范围。\n\n第二段：肝功能谷丙转氨酶轻度升高。"
	chunks := s.Split(text)
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[0], "第一段")
	assert.Contains(t, chunks[1], "第二段")
}

func TestSplitOverlapSharedBetweenChunks(t *testing.T) {
	s, err := NewSplitter(20, 8)
	require.NoError(t, err)

	// 连续句子迫使多个分块产生
	text := strings.Repeat("甘油三酯偏高。", 10)
	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)

	// 相邻分块共享 chunkOverlap 个字符的尾部重叠
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		require.GreaterOrEqual(t, len(prev), 8)
		tail := string(prev[len(prev)-8:])
		assert.True(t, strings.HasPrefix(chunks[i], tail),
			"分块 %d 未以上一块的尾部开头: prev=%q cur=%q", i, chunks[i-1], chunks[i])
	}
}

func TestSplitHardCutWithoutSeparators(t *testing.T) {
	s, err := NewSplitter(10, 0)
	require.NoError(t, err)

	// 无任何分隔符的长字符串按字符数硬切
	chunks := s.Split(strings.Repeat("a", 35))
	require.Len(t, chunks, 4)
	assert.Equal(t, strings.Repeat("a", 10), chunks[0])
	assert.Equal(t, strings.Repeat("a", 5), chunks[3])
}

func TestSplitNoContentLost(t *testing.T) {
	s, err := NewSplitter(40, 0)
	require.NoError(t, err)

	text := "总胆固醇 6.2 mmol/L。\n低密度脂蛋白 4.1 mmol/L。\n高密度脂蛋白 1.0 mmol/L。"
	chunks := s.Split(text)

	// 无重叠时拼接结果应覆盖原文的全部关键内容
	joined := strings.Join(chunks, "")
	for _, keyword := range []string{"总胆固醇", "低密度脂蛋白", "高密度脂蛋白", "6.2", "4.1", "1.0"} {
		assert.Contains(t, joined, keyword)
	}
}
