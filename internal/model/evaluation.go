package model

// EvaluationRecord 是一次完整问答交互的评估记录。
// 创建后不可变；retrieved_context 必须是实际提供给合成器的
// 分块文本的原样拼接，不允许事后重建。
type EvaluationRecord struct {
	UserID            string  `json:"user_id" bson:"user_id"`
	Question          string  `json:"question" bson:"question"`
	GeneratedAnswer   string  `json:"generated_answer" bson:"generated_answer"`
	RetrievedContext  string  `json:"retrieved_context" bson:"retrieved_context"`
	FaithfulnessScore float64 `json:"faithfulness_score" bson:"faithfulness_score"` // 始终位于 [0.0, 1.0]
	Timestamp         string  `json:"timestamp" bson:"timestamp"`                   // ISO-8601 (UTC)
}
