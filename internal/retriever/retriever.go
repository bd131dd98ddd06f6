// Package retriever 实现了基于最大边际相关性（MMR）的分块检索。
package retriever

import (
	"context"
	"errors"
	"fmt"

	"diagnosify-go/internal/model"
	"diagnosify-go/internal/vectorindex"
	"diagnosify-go/pkg/embedding"
	"diagnosify-go/pkg/log"
)

// ErrEmptyIndex 表示检索发生在空索引上，属于时序错误而非正常失败。
var ErrEmptyIndex = errors.New("索引为空，无法检索")

// Retriever 对向量索引执行两阶段检索：
// 先按余弦相似度取 fetchK 个候选，再用 MMR 从中选出 topK 个，
// 在话题相关性与结果多样性之间取得平衡。
type Retriever struct {
	embeddingClient embedding.Client
	topK            int
	fetchK          int
	lambda          float64
}

// New 创建一个 Retriever。参数非法时立即返回配置错误，不做静默钳制。
func New(embeddingClient embedding.Client, topK, fetchK int, lambda float64) (*Retriever, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("无效的检索配置: top_k 必须为正数, 当前 %d", topK)
	}
	if fetchK < topK {
		return nil, fmt.Errorf("无效的检索配置: top_k (%d) 不能大于 fetch_k (%d)", topK, fetchK)
	}
	if lambda < 0 || lambda > 1 {
		return nil, fmt.Errorf("无效的检索配置: mmr_lambda 必须位于 [0,1], 当前 %f", lambda)
	}
	return &Retriever{
		embeddingClient: embeddingClient,
		topK:            topK,
		fetchK:          fetchK,
		lambda:          lambda,
	}, nil
}

// Retrieve 针对查询返回至多 topK 个分块，按 MMR 选择顺序排列。
// 查询向量由与索引构建相同的 embedding 客户端产出。
func (r *Retriever) Retrieve(ctx context.Context, index vectorindex.Index, query string) ([]model.DocumentChunk, error) {
	queryVector, err := r.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}

	candidates, err := index.Search(ctx, queryVector, r.fetchK)
	if err != nil {
		if errors.Is(err, vectorindex.ErrEmptyIndex) {
			return nil, ErrEmptyIndex
		}
		return nil, fmt.Errorf("索引检索失败: %w", err)
	}
	if len(candidates) == 0 {
		return nil, ErrEmptyIndex
	}

	selected := selectMMR(queryVector, candidates, r.topK, r.lambda)
	log.Infof("[Retriever] 检索完成, 候选 %d 个, MMR 选出 %d 个", len(candidates), len(selected))

	chunks := make([]model.DocumentChunk, 0, len(selected))
	for _, c := range selected {
		chunks = append(chunks, c.Chunk)
	}
	return chunks, nil
}

// selectMMR 迭代地选出最大化
// λ·rel(候选, 查询) − (1−λ)·max_sim(候选, 已选) 的候选。
// 得分并列时取先被召回者，保证同一索引上的结果确定。
func selectMMR(queryVector []float32, candidates []vectorindex.Candidate, k int, lambda float64) []vectorindex.Candidate {
	if k > len(candidates) {
		k = len(candidates)
	}

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = vectorindex.CosineSimilarity(c.Vector, queryVector)
	}

	picked := make([]bool, len(candidates))
	var selected []vectorindex.Candidate
	for len(selected) < k {
		best := -1
		bestScore := 0.0
		for i, c := range candidates {
			if picked[i] {
				continue
			}
			maxSim := 0.0
			for j, other := range candidates {
				if !picked[j] {
					continue
				}
				if sim := vectorindex.CosineSimilarity(c.Vector, other.Vector); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*relevance[i] - (1-lambda)*maxSim
			// 严格大于：并列时保留先召回的候选
			if best == -1 || score > bestScore {
				best = i
				bestScore = score
			}
		}
		picked[best] = true
		selected = append(selected, candidates[best])
	}
	return selected
}
