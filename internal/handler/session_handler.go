// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"diagnosify-go/internal/repository"
	"diagnosify-go/internal/service"
	"diagnosify-go/internal/session"
	"diagnosify-go/pkg/log"
	"diagnosify-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// SessionHandler 负责分析会话的生命周期接口。
type SessionHandler struct {
	sessions      *session.Manager
	docService    service.DocumentService
	convRepo      repository.ConversationRepository
	ticketManager *token.TicketManager
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(
	sessions *session.Manager,
	docService service.DocumentService,
	convRepo repository.ConversationRepository,
	ticketManager *token.TicketManager,
) *SessionHandler {
	return &SessionHandler{
		sessions:      sessions,
		docService:    docService,
		convRepo:      convRepo,
		ticketManager: ticketManager,
	}
}

// Create 创建一个新的分析会话并返回会话标识与连接票据。
func (h *SessionHandler) Create(c *gin.Context) {
	sess := h.sessions.Create()

	ticket, err := h.ticketManager.GenerateTicket(sess.ID)
	if err != nil {
		log.Error("签发连接票据失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建会话失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{
		"sessionId": sess.ID,
		"ticket":    ticket,
	}})
}

// Ticket 为已有会话重新签发连接票据。
func (h *SessionHandler) Ticket(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}

	ticket, err := h.ticketManager.GenerateTicket(sess.ID)
	if err != nil {
		log.Error("签发连接票据失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "签发票据失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"ticket": ticket}})
}

// BuildIndex 用会话已上传的报告同步构建向量索引。
// 本接口成功返回后会话才可以提问。
func (h *SessionHandler) BuildIndex(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}

	if err := h.docService.BuildSessionIndex(c.Request.Context(), sess); err != nil {
		log.Errorf("构建会话索引失败, session: %s, err: %v", sess.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "报告解析失败: " + err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"sessionId": sess.ID, "status": "indexed"}})
}

// Reset 重置会话：清空对话记忆并释放索引，会话回到未索引状态。
func (h *SessionHandler) Reset(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}

	if err := h.convRepo.Clear(c.Request.Context(), sess.ID); err != nil {
		log.Errorf("清空对话记忆失败, session: %s, err: %v", sess.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "重置会话失败", "data": nil})
		return
	}
	sess.Reset(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// Destroy 销毁会话并清理其对话记忆。
func (h *SessionHandler) Destroy(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.convRepo.Clear(c.Request.Context(), sessionID); err != nil {
		log.Errorf("清空对话记忆失败, session: %s, err: %v", sessionID, err)
	}
	if err := h.sessions.Destroy(c.Request.Context(), sessionID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}
