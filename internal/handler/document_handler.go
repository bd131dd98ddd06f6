package handler

import (
	"net/http"

	"diagnosify-go/internal/service"
	"diagnosify-go/internal/session"
	"diagnosify-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责报告文件的上传、查询与结构化分析接口。
type DocumentHandler struct {
	sessions      *session.Manager
	docService    service.DocumentService
	reportService service.ReportService
}

// NewDocumentHandler 创建一个新的 DocumentHandler。
func NewDocumentHandler(sessions *session.Manager, docService service.DocumentService, reportService service.ReportService) *DocumentHandler {
	return &DocumentHandler{
		sessions:      sessions,
		docService:    docService,
		reportService: reportService,
	}
}

// Upload 接收 multipart 上传的报告文件。表单字段名为 "files"，支持一次多份。
func (h *DocumentHandler) Upload(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的上传请求", "data": nil})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "未选择任何文件", "data": nil})
		return
	}

	uploaded := make([]gin.H, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			log.Errorf("打开上传文件失败: %s, err: %v", fh.Filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败: " + fh.Filename, "data": nil})
			return
		}

		record, err := h.docService.UploadReport(c.Request.Context(), sess.ID, fh.Filename, f)
		f.Close()
		if err != nil {
			log.Errorf("上传报告失败: %s, err: %v", fh.Filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "上传失败: " + fh.Filename, "data": nil})
			return
		}
		uploaded = append(uploaded, gin.H{
			"fileMd5":  record.FileMD5,
			"fileName": record.FileName,
			"fileSize": record.FileSize,
			"status":   record.Status,
		})
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"files": uploaded}})
}

// List 返回该会话已上传的全部报告。
func (h *DocumentHandler) List(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}

	files, err := h.docService.ListReports(sess.ID)
	if err != nil {
		log.Errorf("查询报告列表失败, session: %s, err: %v", sess.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询报告列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"files": files}})
}

// DownloadURL 为指定报告生成临时下载链接。
func (h *DocumentHandler) DownloadURL(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}

	url, err := h.docService.GetDownloadURL(sess.ID, c.Param("md5"))
	if err != nil {
		log.Errorf("生成下载链接失败, session: %s, err: %v", sess.ID, err)
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "报告不存在或链接生成失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"url": url}})
}

// Analyze 对指定报告执行结构化分析链并返回分析产物。
func (h *DocumentHandler) Analyze(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}

	file, err := h.docService.FindReport(sess.ID, c.Param("md5"))
	if err != nil || file == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "报告不存在", "data": nil})
		return
	}
	sess.SetMode(session.ModeAnalysis)

	text, err := h.docService.ExtractReportText(c.Request.Context(), *file)
	if err != nil {
		log.Errorf("提取报告文本失败, session: %s, file: %s, err: %v", sess.ID, file.FileName, err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": http.StatusUnprocessableEntity, "message": "无法从报告中提取文本", "data": nil})
		return
	}

	analysis, err := h.reportService.AnalyzeReport(c.Request.Context(), sess.ID, file.FileMD5, text)
	if err != nil {
		log.Errorf("分析报告失败, session: %s, file: %s, err: %v", sess.ID, file.FileName, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "报告分析失败", "data": nil})
		return
	}

	if err := h.docService.MarkAnalyzed(file.ID); err != nil {
		log.Errorf("更新报告状态失败, id: %d, err: %v", file.ID, err)
	}

	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": analysis})
}

// Analyses 返回该会话已完成的全部分析产物。
func (h *DocumentHandler) Analyses(c *gin.Context) {
	sess, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
		return
	}

	analyses, err := h.reportService.FindAnalysesBySession(sess.ID)
	if err != nil {
		log.Errorf("查询分析产物失败, session: %s, err: %v", sess.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询分析产物失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"analyses": analyses}})
}
