package handler

import (
	"net/http"

	"diagnosify-go/internal/service"
	"diagnosify-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// EvaluationHandler 负责评估记录的查询接口。
type EvaluationHandler struct {
	evalService *service.EvaluationService
}

// NewEvaluationHandler 创建一个新的 EvaluationHandler。
func NewEvaluationHandler(evalService *service.EvaluationService) *EvaluationHandler {
	return &EvaluationHandler{evalService: evalService}
}

// History 按插入顺序返回指定用户的全部评估记录。
// 无记录时返回空数组而非错误。
func (h *EvaluationHandler) History(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 userId 参数", "data": nil})
		return
	}

	records, err := h.evalService.History(c.Request.Context(), userID)
	if err != nil {
		log.Errorf("查询评估记录失败, user_id: %s, err: %v", userID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": http.StatusServiceUnavailable, "message": "评估记录库暂时不可用", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"records": records}})
}
