package repository

import (
	"context"
	"testing"

	"diagnosify-go/internal/model"
	"diagnosify-go/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.InitForTest()
	m.Run()
}

func TestConversationAppendAndHistoryOrder(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()

	require.NoError(t, repo.AppendExchange(ctx, "u1", "第一问", "第一答"))
	require.NoError(t, repo.AppendExchange(ctx, "u1", "第二问", "第二答"))

	history, err := repo.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 4)

	// 回合按时间顺序排列，user 在前 assistant 在后
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "第一问", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "第一答", history[1].Content)
	assert.Equal(t, "第二问", history[2].Content)
	assert.Equal(t, "第二答", history[3].Content)
}

func TestConversationHistoryEmptyForUnknownUser(t *testing.T) {
	repo := NewMemoryConversationRepository()
	history, err := repo.History(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestConversationHistorySnapshotIsolation(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()
	require.NoError(t, repo.AppendExchange(ctx, "u1", "问", "答"))

	snapshot, err := repo.History(ctx, "u1")
	require.NoError(t, err)
	// 篡改快照不影响存储的记忆
	snapshot[0].Content = "被篡改"

	fresh, err := repo.History(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "问", fresh[0].Content)
}

func TestConversationClear(t *testing.T) {
	repo := NewMemoryConversationRepository()
	ctx := context.Background()
	require.NoError(t, repo.AppendExchange(ctx, "u1", "问", "答"))
	require.NoError(t, repo.AppendExchange(ctx, "u2", "别人的问", "别人的答"))

	require.NoError(t, repo.Clear(ctx, "u1"))

	h1, err := repo.History(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, h1)

	// 清空只影响指定用户
	h2, err := repo.History(ctx, "u2")
	require.NoError(t, err)
	assert.Len(t, h2, 2)
}

func TestEvaluationInsertAndFindOrder(t *testing.T) {
	repo := NewMemoryEvaluationRepository()
	ctx := context.Background()

	for _, q := range []string{"q1", "q2", "q3"} {
		require.NoError(t, repo.Insert(ctx, model.EvaluationRecord{
			UserID: "u1", Question: q, FaithfulnessScore: 1.0,
		}))
	}

	records, err := repo.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "q1", records[0].Question)
	assert.Equal(t, "q2", records[1].Question)
	assert.Equal(t, "q3", records[2].Question)
}

func TestEvaluationFindUnknownUserReturnsEmptySlice(t *testing.T) {
	repo := NewMemoryEvaluationRepository()

	records, err := repo.FindByUserID(context.Background(), "nobody")
	require.NoError(t, err)
	// 无记录返回空切片而非错误
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestEvaluationRecordsIsolatedByUser(t *testing.T) {
	repo := NewMemoryEvaluationRepository()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, model.EvaluationRecord{UserID: "u1", Question: "u1 的问题"}))
	require.NoError(t, repo.Insert(ctx, model.EvaluationRecord{UserID: "u2", Question: "u2 的问题"}))

	records, err := repo.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "u1 的问题", records[0].Question)
}
