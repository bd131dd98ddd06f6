package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"diagnosify-go/internal/service"
	"diagnosify-go/internal/session"
	"diagnosify-go/pkg/log"
	"diagnosify-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 问答连接。
type ChatHandler struct {
	chatService   service.ChatService
	sessions      *session.Manager
	ticketManager *token.TicketManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, sessions *session.Manager, ticketManager *token.TicketManager) *ChatHandler {
	return &ChatHandler{
		chatService:   chatService,
		sessions:      sessions,
		ticketManager: ticketManager,
	}
}

// wsMessage 是客户端发来的控制消息。
// type 取值 "question" 或 "stop"；纯文本消息按 question 处理。
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// safeConn 串行化 WebSocket 写操作：流式分块与控制消息
// 可能来自不同协程，gorilla/websocket 不允许并发写。
type safeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *safeConn) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *safeConn) writeJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("写入 WebSocket 控制消息失败: %v", err)
	}
}

// Handle 处理一个传入的 WebSocket 连接。
// 连接通过 query 中的票据关联到会话；读循环保持运行，
// 回答在独立协程中流式生成，因此 stop 指令可以随时送达。
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.ticketManager.VerifyTicket(c.Query("ticket"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的连接票据", "data": nil})
		return
	}

	sess, err := h.sessions.Get(claims.SessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}

	rawConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer rawConn.Close()
	conn := &safeConn{conn: rawConn}

	sess.SetMode(session.ModeChat)
	log.Infof("WebSocket 连接已建立, session: %s", sess.ID)

	var (
		stateMu sync.Mutex
		busy    bool
		stopped bool
	)
	shouldStop := func() bool {
		stateMu.Lock()
		defer stateMu.Unlock()
		return stopped
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		_, message, err := rawConn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		msg := wsMessage{Type: "question", Content: string(message)}
		if len(message) > 0 && message[0] == '{' {
			if err := json.Unmarshal(message, &msg); err != nil {
				msg = wsMessage{Type: "question", Content: string(message)}
			}
		}

		switch msg.Type {
		case "stop":
			stateMu.Lock()
			if busy {
				stopped = true
			}
			stateMu.Unlock()
			conn.writeJSON(gin.H{
				"type":      "stop",
				"message":   "响应已停止",
				"timestamp": time.Now().UnixMilli(),
			})

		case "question":
			if msg.Content == "" {
				continue
			}
			stateMu.Lock()
			if busy {
				stateMu.Unlock()
				conn.writeJSON(gin.H{"type": "error", "message": "上一个问题尚未回答完毕"})
				continue
			}
			busy = true
			stopped = false
			stateMu.Unlock()

			go func(question string) {
				defer func() {
					stateMu.Lock()
					busy = false
					stateMu.Unlock()
				}()
				h.answer(ctx, sess, question, conn, shouldStop)
			}(msg.Content)

		default:
			conn.writeJSON(gin.H{"type": "error", "message": "未知的消息类型: " + msg.Type})
		}
	}
}

// answer 执行一次问答并发送完成通知。
func (h *ChatHandler) answer(ctx context.Context, sess *session.Session, question string, conn *safeConn, shouldStop func() bool) {
	err := h.chatService.StreamAnswer(ctx, sess, question, conn, shouldStop)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrStreamStopped):
		// 停止确认已在读循环中发送
	case errors.Is(err, session.ErrIndexNotReady):
		conn.writeJSON(gin.H{"type": "error", "message": h.chatService.NoResultText()})
	default:
		log.Errorf("处理流式响应失败, session: %s, err: %v", sess.ID, err)
		conn.writeJSON(gin.H{"type": "error", "message": "AI服务暂时不可用，请稍后重试"})
	}

	conn.writeJSON(gin.H{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
	})
}
