// Package session 管理分析会话的生命周期。
// 一个会话对应一位用户的一次报告分析：会话标识同时作为
// 评估记录中的 user_id，会话持有当前文档集的向量索引。
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"diagnosify-go/internal/vectorindex"
	"diagnosify-go/pkg/log"

	"github.com/google/uuid"
)

// ErrSessionNotFound 表示指定的会话不存在或已被重置。
var ErrSessionNotFound = errors.New("会话不存在")

// ErrIndexNotReady 表示会话尚未完成文档索引，无法回答问题。
var ErrIndexNotReady = errors.New("会话索引尚未构建")

// 会话当前所处的交互模式。
const (
	ModeAnalysis = "analysis"
	ModeChat     = "chat"
)

// Session 表示一次进行中的报告分析会话。
// 索引的替换是原子的：读到的要么是旧索引要么是新索引，
// 绝不会读到构建了一半的状态。
type Session struct {
	ID        string
	CreatedAt time.Time

	mu    sync.RWMutex
	index vectorindex.Index
	mode  string
}

// Mode 返回会话当前的交互模式，未进入任何模式时为空。
func (s *Session) Mode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode 切换会话的交互模式。模式切换是显式操作，不产生其他副作用。
func (s *Session) SetMode(mode string) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// Index 返回会话当前的向量索引，索引未就绪时返回 ErrIndexNotReady。
func (s *Session) Index() (vectorindex.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return nil, ErrIndexNotReady
	}
	return s.index, nil
}

// ReplaceIndex 用新构建的索引替换当前索引并释放旧索引。
// 构建在会话外完成，这里只做指针交换，检索与替换互不阻塞。
func (s *Session) ReplaceIndex(ctx context.Context, index vectorindex.Index) {
	s.mu.Lock()
	old := s.index
	s.index = index
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(ctx); err != nil {
			log.Errorf("释放会话 %s 的旧索引失败: %v", s.ID, err)
		}
	}
}

// Reset 将会话恢复到初始状态：释放索引并退出当前模式。
// 对话记忆的清理由调用方负责，保证记忆与索引一并失效。
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	s.mode = ""
	s.mu.Unlock()
	s.closeIndex(ctx)
}

// closeIndex 释放会话持有的索引，供重置与销毁时调用。
func (s *Session) closeIndex(ctx context.Context) {
	s.mu.Lock()
	old := s.index
	s.index = nil
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(ctx); err != nil {
			log.Errorf("释放会话 %s 的索引失败: %v", s.ID, err)
		}
	}
}

// Manager 维护所有活跃会话。
type Manager struct {
	sessions sync.Map // sessionID -> *Session
}

// NewManager 创建一个会话管理器。
func NewManager() *Manager {
	return &Manager{}
}

// Create 创建一个新会话并分配随机标识。
func (m *Manager) Create() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
	}
	m.sessions.Store(s.ID, s)
	log.Infof("会话已创建: %s", s.ID)
	return s
}

// Get 按标识查找会话。
func (m *Manager) Get(sessionID string) (*Session, error) {
	v, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*Session), nil
}

// Destroy 销毁会话并释放其索引。对话历史由调用方负责清理。
func (m *Manager) Destroy(ctx context.Context, sessionID string) error {
	v, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	v.(*Session).closeIndex(ctx)
	log.Infof("会话已销毁: %s", sessionID)
	return nil
}
