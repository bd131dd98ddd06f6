// Package vectorindex 定义了向量索引的抽象。
// 一个索引覆盖一个会话的一组文档：构建完成后整体交付，
// 不支持原地重建——文档集变更时由会话构建新索引并原子替换。
package vectorindex

import (
	"context"
	"errors"
	"math"

	"diagnosify-go/internal/model"
)

// ErrEmptyIndex 表示对不含任何分块的索引发起了检索。
// 正常时序下不应出现：索引必须先于检索构建完成。
var ErrEmptyIndex = errors.New("向量索引为空")

// Candidate 是一次相似度检索返回的候选分块。
// Vector 为该分块的嵌入向量，供 MMR 在候选间计算相似度。
type Candidate struct {
	Chunk  model.DocumentChunk
	Vector []float32
	Score  float64
}

// Index 是向量索引后端的统一接口。
type Index interface {
	// Upsert 追加分块及其向量，仅在索引构建期调用。
	Upsert(ctx context.Context, chunks []model.DocumentChunk, vectors [][]float32) error
	// Search 按余弦相似度返回至多 topK 个候选；索引为空时返回 ErrEmptyIndex。
	// 相同向量与 topK 下结果确定：得分并列时先入者优先。
	Search(ctx context.Context, vector []float32, topK int) ([]Candidate, error)
	// Close 释放索引持有的资源（如后端的物理索引）。
	Close(ctx context.Context) error
}

// CosineSimilarity 计算两个向量的余弦相似度，零向量返回 0。
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
