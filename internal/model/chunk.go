package model

// DocumentChunk 是索引与检索的最小单位：一段连续的报告文本。
// 创建后不可变，仅在一次分析会话内有效。
type DocumentChunk struct {
	Source  string `json:"source"`  // 原始文件名
	ChunkID int    `json:"chunkId"` // 在该文件内的分块序号
	Text    string `json:"text"`
}

// RetrievedChunk 是一次检索返回的分块及其相关性得分。
type RetrievedChunk struct {
	Chunk DocumentChunk `json:"chunk"`
	Score float64       `json:"score"`
}
