// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatMessage 代表对话历史中的单条消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
