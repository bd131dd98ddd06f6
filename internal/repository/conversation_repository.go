// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"diagnosify-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// ConversationRepository 定义了对话记忆的操作接口。
// 记忆是只追加的有序回合日志：一次成功的问答交互追加两条消息，
// 失败的合成不追加任何内容；除显式 Clear 外不删除、不截断。
type ConversationRepository interface {
	// AppendExchange 追加一次完整交互的 user/assistant 两条消息。
	AppendExchange(ctx context.Context, userID, question, answer string) error
	// History 返回按时间顺序排列的全部消息快照。
	History(ctx context.Context, userID string) ([]model.ChatMessage, error)
	// Clear 清空该用户的记忆，仅在会话重置时调用。
	Clear(ctx context.Context, userID string) error
}

const conversationTTL = 7 * 24 * time.Hour

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个基于 Redis 的 ConversationRepository。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(userID string) string {
	return fmt.Sprintf("conversation:%s", userID)
}

// AppendExchange 读取现有历史、追加两条消息后整体写回。
func (r *redisConversationRepository) AppendExchange(ctx context.Context, userID, question, answer string) error {
	history, err := r.History(ctx, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	history = append(history,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)

	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	// 会话存续期间不截断历史；TTL 只回收已结束的会话
	if err := r.redisClient.Set(ctx, conversationKey(userID), jsonData, conversationTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}

// History 从 Redis 获取对话历史记录。
func (r *redisConversationRepository) History(ctx context.Context, userID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(userID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil // 尚无历史
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return messages, nil
}

// Clear 删除该用户的全部对话历史。
func (r *redisConversationRepository) Clear(ctx context.Context, userID string) error {
	if err := r.redisClient.Del(ctx, conversationKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear conversation history: %w", err)
	}
	return nil
}
