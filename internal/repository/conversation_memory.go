package repository

import (
	"context"
	"sync"
	"time"

	"diagnosify-go/internal/model"
)

// memoryConversationRepository 是 ConversationRepository 的进程内实现，
// 用于未配置 Redis 的部署与测试。
type memoryConversationRepository struct {
	mu       sync.RWMutex
	messages map[string][]model.ChatMessage
}

// NewMemoryConversationRepository 创建一个进程内的 ConversationRepository。
func NewMemoryConversationRepository() ConversationRepository {
	return &memoryConversationRepository{
		messages: make(map[string][]model.ChatMessage),
	}
}

func (r *memoryConversationRepository) AppendExchange(_ context.Context, userID, question, answer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.messages[userID] = append(r.messages[userID],
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	return nil
}

// History 返回历史的副本，调用方无法借快照篡改记忆。
func (r *memoryConversationRepository) History(_ context.Context, userID string) ([]model.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.messages[userID]
	snapshot := make([]model.ChatMessage, len(history))
	copy(snapshot, history)
	return snapshot, nil
}

func (r *memoryConversationRepository) Clear(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages, userID)
	return nil
}
