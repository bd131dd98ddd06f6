package repository

import (
	"context"
	"sync"

	"diagnosify-go/internal/model"
)

// memoryEvaluationRepository 是 EvaluationRepository 的进程内实现，
// 用于未配置 MongoDB 的部署与测试。
type memoryEvaluationRepository struct {
	mu      sync.RWMutex
	records map[string][]model.EvaluationRecord
}

// NewMemoryEvaluationRepository 创建一个进程内的 EvaluationRepository。
func NewMemoryEvaluationRepository() EvaluationRepository {
	return &memoryEvaluationRepository{
		records: make(map[string][]model.EvaluationRecord),
	}
}

func (r *memoryEvaluationRepository) Insert(_ context.Context, record model.EvaluationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.UserID] = append(r.records[record.UserID], record)
	return nil
}

func (r *memoryEvaluationRepository) FindByUserID(_ context.Context, userID string) ([]model.EvaluationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := r.records[userID]
	out := make([]model.EvaluationRecord, len(records))
	copy(out, records)
	return out, nil
}
