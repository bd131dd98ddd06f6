package service

import (
	"context"
	"encoding/json"
	"fmt"

	"diagnosify-go/internal/model"
	"diagnosify-go/internal/repository"
	"diagnosify-go/pkg/llm"
	"diagnosify-go/pkg/log"
)

// ReportService 定义了报告结构化分析的操作接口。
// 分析是一条多步提示链：原始文本 -> 结构化 -> 指标分类 ->
// 逐项解释 -> 总结，产物持久化供前端展示。
type ReportService interface {
	// AnalyzeReport 对一份报告的提取文本执行完整分析链并持久化产物。
	AnalyzeReport(ctx context.Context, sessionID, fileMD5, reportText string) (*model.ReportAnalysis, error)
	// FindAnalysesBySession 返回该会话已完成的全部分析产物。
	FindAnalysesBySession(sessionID string) ([]model.ReportAnalysis, error)
}

type reportService struct {
	llmClient  llm.Client
	reportRepo repository.ReportRepository
}

// NewReportService 创建一个 ReportService 实例。
func NewReportService(llmClient llm.Client, reportRepo repository.ReportRepository) ReportService {
	return &reportService{llmClient: llmClient, reportRepo: reportRepo}
}

const structurePrompt = "下面是一份医疗检验报告的原始文本，可能包含排版噪声。" +
	"请提取其中所有检验指标，每行一条，格式为：指标名称 | 结果值 | 单位 | 参考范围。" +
	"无法确定的字段留空，不要编造数值。\n\n报告原文：\n"

const categorizePrompt = "下面是整理后的检验指标列表。请将每条指标归类为 Critical（明显异常）、" +
	"Borderline（临界）、Normal（正常）或 Unknown（无法判断）。" +
	"只输出一个 JSON 数组，元素格式为 " +
	`{"test_name": "", "value": "", "unit": "", "normal_range": "", "status": ""}` +
	"，不要输出其他任何内容。\n\n指标列表：\n"

const explainPrompt = "下面是一份检验报告的分类结果。请用通俗语言逐项解释异常（Critical 与 Borderline）指标的含义、" +
	"常见原因以及需要注意的事项。不要给出诊断结论，提醒用户咨询医生。\n\n分类结果：\n"

const summaryPrompt = "请将下面的逐项解释浓缩为一段简短的总体摘要，" +
	"突出最需要关注的异常指标，语气平和，避免引起恐慌。\n\n逐项解释：\n"

// AnalyzeReport 执行完整的报告分析链。
// 分类结果解析失败不中断链路：保留模型原始输出继续解释与总结。
func (s *reportService) AnalyzeReport(ctx context.Context, sessionID, fileMD5, reportText string) (*model.ReportAnalysis, error) {
	log.Infof("[ReportService] 开始分析报告, session: %s, md5: %s", sessionID, fileMD5)

	// 1. 结构化原始文本
	structured, err := s.complete(ctx, structurePrompt+reportText)
	if err != nil {
		return nil, fmt.Errorf("报告结构化失败: %w", err)
	}

	// 2. 指标分类
	results, resultsJSON := s.categorize(ctx, structured)

	// 3. 逐项解释异常指标
	explanations, err := s.complete(ctx, explainPrompt+resultsJSON)
	if err != nil {
		return nil, fmt.Errorf("生成指标解释失败: %w", err)
	}

	// 4. 总结
	summary, err := s.complete(ctx, summaryPrompt+explanations)
	if err != nil {
		return nil, fmt.Errorf("生成报告总结失败: %w", err)
	}

	analysis := &model.ReportAnalysis{
		SessionID:    sessionID,
		FileMD5:      fileMD5,
		ResultsJSON:  resultsJSON,
		Explanations: explanations,
		Summary:      summary,
	}
	if err := s.reportRepo.CreateAnalysis(analysis); err != nil {
		return nil, fmt.Errorf("保存分析产物失败: %w", err)
	}

	log.Infof("[ReportService] 报告分析完成, session: %s, 指标 %d 项", sessionID, len(results))
	return analysis, nil
}

// categorize 对结构化指标做分类。模型输出解析失败时
// 不中断分析链，直接沿用模型原始输出作为后续步骤的输入。
func (s *reportService) categorize(ctx context.Context, structured string) ([]model.TestResult, string) {
	reply, err := s.complete(ctx, categorizePrompt+structured)
	if err != nil {
		log.Errorf("[ReportService] 指标分类失败, 沿用结构化文本: %v", err)
		return nil, structured
	}

	cleaned := stripCodeFence(reply)
	var results []model.TestResult
	if err := json.Unmarshal([]byte(cleaned), &results); err != nil {
		log.Warnf("[ReportService] 分类结果不是有效 JSON, 沿用模型原始输出: %v", err)
		return nil, cleaned
	}
	return results, cleaned
}

func (s *reportService) complete(ctx context.Context, prompt string) (string, error) {
	return s.llmClient.ChatCompletion(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	}, nil)
}

// FindAnalysesBySession 返回该会话的全部分析产物。
func (s *reportService) FindAnalysesBySession(sessionID string) ([]model.ReportAnalysis, error) {
	return s.reportRepo.FindAnalysesBySession(sessionID)
}
