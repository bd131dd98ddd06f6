package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"diagnosify-go/internal/model"
	"diagnosify-go/internal/pipeline"
	"diagnosify-go/internal/repository"
	"diagnosify-go/internal/session"
	"diagnosify-go/pkg/log"
	"diagnosify-go/pkg/storage"
)

// DocumentService 定义了报告文件管理与会话索引构建的操作接口。
type DocumentService interface {
	// UploadReport 上传一份报告：计算 MD5、写入对象存储、登记元数据。
	// 同会话内重复上传（MD5 相同）直接返回已有记录。
	UploadReport(ctx context.Context, sessionID, fileName string, reader io.Reader) (*model.ReportFile, error)
	// ListReports 返回该会话上传的全部报告。
	ListReports(sessionID string) ([]model.ReportFile, error)
	// GetDownloadURL 为报告生成临时下载链接。
	GetDownloadURL(sessionID, fileMD5 string) (string, error)
	// FindReport 按会话与 MD5 查找单份报告，不存在时返回 nil。
	FindReport(sessionID, fileMD5 string) (*model.ReportFile, error)
	// MarkAnalyzed 将报告状态置为已分析。
	MarkAnalyzed(fileID uint) error
	// BuildSessionIndex 用该会话的全部报告构建向量索引并原子替换旧索引。
	BuildSessionIndex(ctx context.Context, sess *session.Session) error
	// ExtractReportText 提取单份报告的纯文本，供结构化分析使用。
	ExtractReportText(ctx context.Context, file model.ReportFile) (string, error)
}

type documentService struct {
	reportRepo repository.ReportRepository
	indexer    *pipeline.Indexer
	extractor  pipeline.TextExtractor
	bucketName string
}

// NewDocumentService 创建一个 DocumentService 实例。
func NewDocumentService(
	reportRepo repository.ReportRepository,
	indexer *pipeline.Indexer,
	extractor pipeline.TextExtractor,
	bucketName string,
) DocumentService {
	return &documentService{
		reportRepo: reportRepo,
		indexer:    indexer,
		extractor:  extractor,
		bucketName: bucketName,
	}
}

// UploadReport 上传报告文件并登记元数据。
func (s *documentService) UploadReport(ctx context.Context, sessionID, fileName string, reader io.Reader) (*model.ReportFile, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("上传文件为空: %s", fileName)
	}

	sum := md5.Sum(data)
	fileMD5 := hex.EncodeToString(sum[:])

	// 同会话内按 MD5 去重
	existing, err := s.reportRepo.FindFileByMD5(sessionID, fileMD5)
	if err != nil {
		return nil, fmt.Errorf("查询报告记录失败: %w", err)
	}
	if existing != nil {
		log.Infof("[DocumentService] 报告已存在, 跳过上传, session: %s, md5: %s", sessionID, fileMD5)
		return existing, nil
	}

	objectName := fmt.Sprintf("reports/%s_%s", fileMD5, fileName)
	if err := storage.PutObject(ctx, s.bucketName, objectName, bytes.NewReader(data), int64(len(data)), "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("写入对象存储失败: %w", err)
	}

	file := &model.ReportFile{
		FileMD5:    fileMD5,
		FileName:   fileName,
		FileSize:   int64(len(data)),
		SessionID:  sessionID,
		ObjectName: objectName,
		Status:     model.ReportStatusUploaded,
	}
	if err := s.reportRepo.CreateFile(file); err != nil {
		return nil, fmt.Errorf("登记报告元数据失败: %w", err)
	}

	log.Infof("[DocumentService] 报告上传成功, session: %s, file: %s, size: %d", sessionID, fileName, file.FileSize)
	return file, nil
}

// ListReports 返回该会话的全部报告。
func (s *documentService) ListReports(sessionID string) ([]model.ReportFile, error) {
	return s.reportRepo.FindFilesBySession(sessionID)
}

// FindReport 按会话与 MD5 查找单份报告。
func (s *documentService) FindReport(sessionID, fileMD5 string) (*model.ReportFile, error) {
	return s.reportRepo.FindFileByMD5(sessionID, fileMD5)
}

// MarkAnalyzed 将报告状态置为已分析。
func (s *documentService) MarkAnalyzed(fileID uint) error {
	return s.reportRepo.UpdateFileStatus(fileID, model.ReportStatusAnalyzed)
}

// GetDownloadURL 生成报告的预签名下载链接，有效期 15 分钟。
func (s *documentService) GetDownloadURL(sessionID, fileMD5 string) (string, error) {
	file, err := s.reportRepo.FindFileByMD5(sessionID, fileMD5)
	if err != nil {
		return "", fmt.Errorf("查询报告记录失败: %w", err)
	}
	if file == nil {
		return "", fmt.Errorf("报告不存在: %s", fileMD5)
	}
	return storage.GetPresignedURL(s.bucketName, file.ObjectName, 15*time.Minute)
}

// BuildSessionIndex 同步构建会话索引。问答必须等待本方法成功返回，
// 不存在"索引构建中就能提问"的中间态。
func (s *documentService) BuildSessionIndex(ctx context.Context, sess *session.Session) error {
	files, err := s.reportRepo.FindFilesBySession(sess.ID)
	if err != nil {
		return fmt.Errorf("查询会话报告失败: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("会话 %s 尚未上传任何报告", sess.ID)
	}

	sources := make([]pipeline.Source, 0, len(files))
	var objects []io.Closer
	defer func() {
		for _, obj := range objects {
			obj.Close()
		}
	}()
	for _, file := range files {
		obj, err := storage.GetObject(ctx, s.bucketName, file.ObjectName)
		if err != nil {
			log.Errorf("[DocumentService] 读取对象失败, 跳过: %s, err: %v", file.ObjectName, err)
			continue
		}
		objects = append(objects, obj)
		sources = append(sources, pipeline.Source{Name: file.FileName, Reader: obj})
	}
	if len(sources) == 0 {
		return fmt.Errorf("会话 %s 的报告均不可读", sess.ID)
	}

	index, err := s.indexer.BuildIndex(ctx, sources)
	if err != nil {
		return err
	}
	sess.ReplaceIndex(ctx, index)

	for _, file := range files {
		if file.Status == model.ReportStatusUploaded {
			if err := s.reportRepo.UpdateFileStatus(file.ID, model.ReportStatusIndexed); err != nil {
				log.Errorf("[DocumentService] 更新报告状态失败, id: %d, err: %v", file.ID, err)
			}
		}
	}

	log.Infof("[DocumentService] 会话索引构建完成, session: %s, 文档数: %d", sess.ID, len(sources))
	return nil
}

// ExtractReportText 从对象存储取回报告并提取纯文本。
func (s *documentService) ExtractReportText(ctx context.Context, file model.ReportFile) (string, error) {
	obj, err := storage.GetObject(ctx, s.bucketName, file.ObjectName)
	if err != nil {
		return "", fmt.Errorf("读取对象失败: %w", err)
	}
	defer obj.Close()

	tmpFile, err := os.CreateTemp("", "analyze-*"+filepath.Ext(file.FileName))
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmpFile, obj); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("关闭临时文件失败: %w", err)
	}

	return s.extractor.ExtractFile(ctx, tmpPath)
}
