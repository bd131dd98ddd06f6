// Package tasks defines the structure for tasks that are sent to the evaluation queue.
package tasks

// EvaluationTask 是一次待评估的问答交互。
// RetrievedContext 必须是实际交给合成器的分块文本的原样拼接。
type EvaluationTask struct {
	UserID           string `json:"user_id"`
	Question         string `json:"question"`
	GeneratedAnswer  string `json:"generated_answer"`
	RetrievedContext string `json:"retrieved_context"`
}
