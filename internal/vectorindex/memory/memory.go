// Package memory 提供进程内的向量索引实现。
// 与原始会话同生命周期，进程退出即释放，无外部依赖。
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"diagnosify-go/internal/model"
	"diagnosify-go/internal/vectorindex"
)

// Index 是基于暴力余弦相似度的内存向量索引。
type Index struct {
	mu      sync.RWMutex
	chunks  []model.DocumentChunk
	vectors [][]float32
}

// New 创建一个空的内存索引。
func New() *Index {
	return &Index{}
}

// Upsert 追加分块及其向量。
func (idx *Index) Upsert(_ context.Context, chunks []model.DocumentChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("分块与向量数量不一致")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.vectors) > 0 {
		dim := len(idx.vectors[0])
		for _, v := range vectors {
			if len(v) != dim {
				return errors.New("向量维度不一致")
			}
		}
	}
	idx.chunks = append(idx.chunks, chunks...)
	idx.vectors = append(idx.vectors, vectors...)
	return nil
}

// Search 返回与查询向量最相似的至多 topK 个候选。
func (idx *Index) Search(_ context.Context, vector []float32, topK int) ([]vectorindex.Candidate, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.vectors) == 0 {
		return nil, vectorindex.ErrEmptyIndex
	}
	if topK <= 0 {
		return nil, errors.New("topK 必须为正数")
	}

	scores := make([]float64, len(idx.vectors))
	for i := range idx.vectors {
		scores[i] = vectorindex.CosineSimilarity(idx.vectors[i], vector)
	}

	// 按得分降序排序；并列时保持插入顺序以保证确定性
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	if topK > len(order) {
		topK = len(order)
	}
	results := make([]vectorindex.Candidate, 0, topK)
	for _, j := range order[:topK] {
		results = append(results, vectorindex.Candidate{
			Chunk:  idx.chunks[j],
			Vector: idx.vectors[j],
			Score:  scores[j],
		})
	}
	return results, nil
}

// Close 对内存索引是空操作。
func (idx *Index) Close(_ context.Context) error {
	return nil
}

// Len 返回索引中的分块数量，供构建方做完整性检查。
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}
