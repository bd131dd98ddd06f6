package model

// EsChunkDocument 定义了 Elasticsearch 索引后端中存储的分块文档结构。
// vector 字段保存分块文本的向量表示，检索时随 _source 一并返回，
// 供 MMR 在候选间计算相似度。
type EsChunkDocument struct {
	Source      string    `json:"source"`
	ChunkID     int       `json:"chunk_id"`
	TextContent string    `json:"text_content"`
	Vector      []float32 `json:"vector"`
}
