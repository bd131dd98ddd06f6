package service

import (
	"context"
	"errors"
	"testing"

	"diagnosify-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubReportRepo 是 ReportRepository 的内存桩实现。
type stubReportRepo struct {
	files    []model.ReportFile
	analyses []model.ReportAnalysis
}

func (s *stubReportRepo) CreateFile(file *model.ReportFile) error {
	file.ID = uint(len(s.files) + 1)
	s.files = append(s.files, *file)
	return nil
}

func (s *stubReportRepo) FindFilesBySession(sessionID string) ([]model.ReportFile, error) {
	var out []model.ReportFile
	for _, f := range s.files {
		if f.SessionID == sessionID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *stubReportRepo) FindFileByMD5(sessionID, fileMD5 string) (*model.ReportFile, error) {
	for _, f := range s.files {
		if f.SessionID == sessionID && f.FileMD5 == fileMD5 {
			file := f
			return &file, nil
		}
	}
	return nil, nil
}

func (s *stubReportRepo) UpdateFileStatus(id uint, status string) error {
	for i := range s.files {
		if s.files[i].ID == id {
			s.files[i].Status = status
			return nil
		}
	}
	return errors.New("记录不存在")
}

func (s *stubReportRepo) CreateAnalysis(analysis *model.ReportAnalysis) error {
	analysis.ID = uint(len(s.analyses) + 1)
	s.analyses = append(s.analyses, *analysis)
	return nil
}

func (s *stubReportRepo) FindAnalysesBySession(sessionID string) ([]model.ReportAnalysis, error) {
	var out []model.ReportAnalysis
	for _, a := range s.analyses {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func TestAnalyzeReportFullChain(t *testing.T) {
	client := &queueLLM{replies: []string{
		"血红蛋白 | 150 | g/L | 130-175",
		`[{"test_name": "血红蛋白", "value": "150", "unit": "g/L", "normal_range": "130-175", "status": "Normal"}]`,
		"血红蛋白在正常范围内。",
		"各项指标正常，无需特别处理。",
	}}
	repo := &stubReportRepo{}
	svc := NewReportService(client, repo)

	analysis, err := svc.AnalyzeReport(context.Background(), "sess-1", "abc123", "血红蛋白 150 g/L (130-175)")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", analysis.SessionID)
	assert.Equal(t, "abc123", analysis.FileMD5)
	assert.Contains(t, analysis.ResultsJSON, "血红蛋白")
	assert.Equal(t, "血红蛋白在正常范围内。", analysis.Explanations)
	assert.Equal(t, "各项指标正常，无需特别处理。", analysis.Summary)

	// 产物已持久化
	saved, err := repo.FindAnalysesBySession("sess-1")
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestAnalyzeReportCategorizeFallback(t *testing.T) {
	// 分类输出不是合法 JSON 时沿用模型原始输出，链路不中断
	client := &queueLLM{replies: []string{
		"血红蛋白 | 150 | g/L | 130-175",
		"抱歉，我无法输出 JSON。血红蛋白正常。",
		"解释文本",
		"总结文本",
	}}
	svc := NewReportService(client, &stubReportRepo{})

	analysis, err := svc.AnalyzeReport(context.Background(), "sess-2", "md5", "报告原文")
	require.NoError(t, err)
	assert.Equal(t, "抱歉，我无法输出 JSON。血红蛋白正常。", analysis.ResultsJSON)
	assert.Equal(t, "解释文本", analysis.Explanations)
}

func TestAnalyzeReportStructureFailureAborts(t *testing.T) {
	client := &queueLLM{errs: []error{errors.New("接口超时")}}
	repo := &stubReportRepo{}
	svc := NewReportService(client, repo)

	_, err := svc.AnalyzeReport(context.Background(), "sess-3", "md5", "报告原文")
	require.Error(t, err)
	assert.Empty(t, repo.analyses)
}
