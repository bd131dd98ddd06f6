package repository

import (
	"errors"

	"diagnosify-go/internal/model"

	"gorm.io/gorm"
)

// ReportRepository 定义了报告文件元数据与分析产物的数据访问接口。
type ReportRepository interface {
	CreateFile(file *model.ReportFile) error
	FindFilesBySession(sessionID string) ([]model.ReportFile, error)
	FindFileByMD5(sessionID, fileMD5 string) (*model.ReportFile, error)
	UpdateFileStatus(id uint, status string) error
	CreateAnalysis(analysis *model.ReportAnalysis) error
	FindAnalysesBySession(sessionID string) ([]model.ReportAnalysis, error)
}

type reportRepository struct {
	db *gorm.DB
}

// NewReportRepository 创建一个新的 ReportRepository 实例。
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepository{db: db}
}

// CreateFile 插入一条报告文件元数据记录。
func (r *reportRepository) CreateFile(file *model.ReportFile) error {
	return r.db.Create(file).Error
}

// FindFilesBySession 返回该会话上传的全部报告文件，按上传顺序排列。
func (r *reportRepository) FindFilesBySession(sessionID string) ([]model.ReportFile, error) {
	var files []model.ReportFile
	err := r.db.Where("session_id = ?", sessionID).Order("id asc").Find(&files).Error
	return files, err
}

// FindFileByMD5 按会话与 MD5 查找单个报告文件，不存在时返回 nil。
func (r *reportRepository) FindFileByMD5(sessionID, fileMD5 string) (*model.ReportFile, error) {
	var file model.ReportFile
	err := r.db.Where("session_id = ? AND file_md5 = ?", sessionID, fileMD5).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// UpdateFileStatus 更新报告文件的处理状态。
func (r *reportRepository) UpdateFileStatus(id uint, status string) error {
	return r.db.Model(&model.ReportFile{}).Where("id = ?", id).Update("status", status).Error
}

// CreateAnalysis 插入一条报告分析产物记录。
func (r *reportRepository) CreateAnalysis(analysis *model.ReportAnalysis) error {
	return r.db.Create(analysis).Error
}

// FindAnalysesBySession 返回该会话的全部分析产物。
func (r *reportRepository) FindAnalysesBySession(sessionID string) ([]model.ReportAnalysis, error) {
	var analyses []model.ReportAnalysis
	err := r.db.Where("session_id = ?", sessionID).Order("id asc").Find(&analyses).Error
	return analyses, err
}
