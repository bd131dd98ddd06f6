package session

import (
	"context"
	"sync/atomic"
	"testing"

	"diagnosify-go/internal/model"
	"diagnosify-go/internal/vectorindex"
	"diagnosify-go/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.InitForTest()
	m.Run()
}

// closableIndex 记录 Close 调用次数。
type closableIndex struct {
	closed atomic.Int32
}

func (c *closableIndex) Upsert(context.Context, []model.DocumentChunk, [][]float32) error {
	return nil
}

func (c *closableIndex) Search(context.Context, []float32, int) ([]vectorindex.Candidate, error) {
	return nil, vectorindex.ErrEmptyIndex
}

func (c *closableIndex) Close(context.Context) error {
	c.closed.Add(1)
	return nil
}

func TestCreateAssignsUniqueIDs(t *testing.T) {
	m := NewManager()
	a := m.Create()
	b := m.Create()

	assert.NotEmpty(t, a.ID)
	assert.NotEmpty(t, b.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestGetUnknownSession(t *testing.T) {
	m := NewManager()
	_, err := m.Get("does-not-exist")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestIndexNotReadyBeforeBuild(t *testing.T) {
	sess := NewManager().Create()
	_, err := sess.Index()
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestReplaceIndexClosesOld(t *testing.T) {
	sess := NewManager().Create()

	first := &closableIndex{}
	second := &closableIndex{}

	sess.ReplaceIndex(context.Background(), first)
	got, err := sess.Index()
	require.NoError(t, err)
	assert.Same(t, vectorindex.Index(first), got)

	// 替换后旧索引被释放，新索引生效
	sess.ReplaceIndex(context.Background(), second)
	assert.Equal(t, int32(1), first.closed.Load())
	assert.Equal(t, int32(0), second.closed.Load())

	got, err = sess.Index()
	require.NoError(t, err)
	assert.Same(t, vectorindex.Index(second), got)
}

func TestResetReleasesIndexAndMode(t *testing.T) {
	sess := NewManager().Create()
	idx := &closableIndex{}
	sess.ReplaceIndex(context.Background(), idx)
	sess.SetMode(ModeChat)

	sess.Reset(context.Background())
	assert.Equal(t, int32(1), idx.closed.Load())
	assert.Empty(t, sess.Mode())

	_, err := sess.Index()
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestModeSwitchIsExplicit(t *testing.T) {
	sess := NewManager().Create()
	assert.Empty(t, sess.Mode())

	sess.SetMode(ModeAnalysis)
	assert.Equal(t, ModeAnalysis, sess.Mode())

	// 切换模式不影响索引
	sess.SetMode(ModeChat)
	assert.Equal(t, ModeChat, sess.Mode())
	_, err := sess.Index()
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestDestroyRemovesSessionAndClosesIndex(t *testing.T) {
	m := NewManager()
	sess := m.Create()
	idx := &closableIndex{}
	sess.ReplaceIndex(context.Background(), idx)

	require.NoError(t, m.Destroy(context.Background(), sess.ID))
	assert.Equal(t, int32(1), idx.closed.Load())

	_, err := m.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// 重复销毁报错
	assert.ErrorIs(t, m.Destroy(context.Background(), sess.ID), ErrSessionNotFound)
}

func TestSessionsAreIsolated(t *testing.T) {
	m := NewManager()
	a := m.Create()
	b := m.Create()

	idxA := &closableIndex{}
	a.ReplaceIndex(context.Background(), idxA)

	// a 的索引不影响 b
	_, err := b.Index()
	assert.ErrorIs(t, err, ErrIndexNotReady)

	got, err := a.Index()
	require.NoError(t, err)
	assert.Same(t, vectorindex.Index(idxA), got)
}
