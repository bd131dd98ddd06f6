package model

import "time"

// 报告文件处理状态。
const (
	ReportStatusUploaded = "UPLOADED"
	ReportStatusIndexed  = "INDEXED"
	ReportStatusAnalyzed = "ANALYZED"
)

// ReportFile 对应于数据库中的 report_files 表，记录上传的医疗报告元数据。
type ReportFile struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FileMD5    string    `gorm:"type:varchar(32);not null;index;column:file_md5" json:"fileMd5"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	FileSize   int64     `gorm:"not null" json:"fileSize"`
	SessionID  string    `gorm:"type:varchar(64);not null;index" json:"sessionId"`
	ObjectName string    `gorm:"type:varchar(512);not null" json:"objectName"` // MinIO 对象名
	Status     string    `gorm:"type:varchar(20);not null" json:"status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ReportFile) TableName() string {
	return "report_files"
}

// ReportAnalysis 对应于数据库中的 report_analyses 表，
// 保存一次报告分析（结构化、分类、解释、总结）的产物。
type ReportAnalysis struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string    `gorm:"type:varchar(64);not null;index" json:"sessionId"`
	FileMD5      string    `gorm:"type:varchar(32);not null;index;column:file_md5" json:"fileMd5"`
	ResultsJSON  string    `gorm:"type:text;column:results_json" json:"resultsJson"` // TestResult 数组的 JSON
	Explanations string    `gorm:"type:text" json:"explanations"`
	Summary      string    `gorm:"type:text" json:"summary"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (ReportAnalysis) TableName() string {
	return "report_analyses"
}

// TestResult 是面向前端表格展示的单条检验结果。
type TestResult struct {
	TestName    string `json:"test_name"`
	Value       string `json:"value"`
	Unit        string `json:"unit"`
	NormalRange string `json:"normal_range"`
	Status      string `json:"status"` // Critical / Borderline / Normal / Unknown
}
