package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"diagnosify-go/internal/model"
	"diagnosify-go/internal/repository"
	"diagnosify-go/pkg/llm"
	"diagnosify-go/pkg/log"
	"diagnosify-go/pkg/tasks"
)

// EvaluationService 对已完成的问答交互计算忠实度分数并持久化记录。
// 评估与回答路径完全解耦：评估的任何失败都不影响已发给用户的回答，
// 失败时分数落在 0.0（宁可误报不忠实，不可漏报幻觉）。
type EvaluationService struct {
	llmClient llm.Client
	repo      repository.EvaluationRepository
}

// NewEvaluationService 创建一个 EvaluationService 实例。
// llmClient 应使用评估专用的凭证与模型。
func NewEvaluationService(llmClient llm.Client, repo repository.EvaluationRepository) *EvaluationService {
	return &EvaluationService{llmClient: llmClient, repo: repo}
}

const statementsPrompt = "请将下面这段回答拆解为若干条独立、自包含的事实陈述。" +
	"每条陈述只包含一个可以被单独验证的断言。" +
	"只输出一个 JSON 字符串数组，不要输出其他任何内容。\n\n回答：\n"

const verdictsPrompt = "你是一名严格的事实核查员。依据给出的参考材料，逐条判断下列陈述能否由材料直接支持。" +
	"能支持记 1，不能支持或材料未提及记 0。" +
	"只输出一个与陈述数量等长的 JSON 数字数组（仅含 0 和 1），不要输出其他任何内容。\n\n"

// Score 计算回答相对检索上下文的忠实度，返回值始终位于 [0.0, 1.0]。
// 任何评估失败（凭证无效、模型输出不可解析等）都返回 0.0，不向上传播错误。
func (s *EvaluationService) Score(ctx context.Context, question, answer, contextText string) float64 {
	statements, err := s.decompose(ctx, answer)
	if err != nil {
		s.logFailure("拆解回答陈述失败", err)
		return 0.0
	}
	if len(statements) == 0 {
		log.Warn("[EvaluationService] 回答未产出任何可验证陈述, 分数记 0.0")
		return 0.0
	}

	verdicts, err := s.judge(ctx, statements, contextText)
	if err != nil {
		s.logFailure("核查陈述失败", err)
		return 0.0
	}
	if len(verdicts) != len(statements) {
		log.Errorf("[EvaluationService] 核查结果数量不匹配: 陈述 %d 条, 裁定 %d 条, 分数记 0.0", len(statements), len(verdicts))
		return 0.0
	}

	supported := 0
	for _, v := range verdicts {
		if v == 1 {
			supported++
		}
	}
	score := float64(supported) / float64(len(statements))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	log.Infof("[EvaluationService] 忠实度评估完成: %d/%d 条陈述有据, 分数 %.4f", supported, len(statements), score)
	return score
}

// decompose 将回答拆解为独立的事实陈述。
func (s *EvaluationService) decompose(ctx context.Context, answer string) ([]string, error) {
	reply, err := s.llmClient.ChatCompletion(ctx, []llm.Message{
		{Role: "user", Content: statementsPrompt + answer},
	}, nil)
	if err != nil {
		return nil, err
	}

	var statements []string
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &statements); err != nil {
		return nil, err
	}
	return statements, nil
}

// judge 对每条陈述给出 0/1 裁定。
func (s *EvaluationService) judge(ctx context.Context, statements []string, contextText string) ([]int, error) {
	var b strings.Builder
	b.WriteString(verdictsPrompt)
	b.WriteString("参考材料：\n")
	b.WriteString(contextText)
	b.WriteString("\n\n陈述：\n")
	for i, st := range statements {
		b.WriteString(strings.TrimSpace(st))
		if i < len(statements)-1 {
			b.WriteString("\n")
		}
	}

	reply, err := s.llmClient.ChatCompletion(ctx, []llm.Message{
		{Role: "user", Content: b.String()},
	}, nil)
	if err != nil {
		return nil, err
	}

	var verdicts []int
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &verdicts); err != nil {
		return nil, err
	}
	return verdicts, nil
}

// logFailure 记录评估失败，凭证问题单独标识以便运维定位。
func (s *EvaluationService) logFailure(stage string, err error) {
	if llm.IsAuthError(err) {
		log.Errorf("[EvaluationService] %s: 评估服务凭证无效, 请检查 evaluation.api_key 配置: %v", stage, err)
		return
	}
	log.Errorf("[EvaluationService] %s: %v, 分数记 0.0", stage, err)
}

// stripCodeFence 去除模型输出中可能包裹的 Markdown 代码围栏。
func stripCodeFence(reply string) string {
	reply = strings.TrimSpace(reply)
	if strings.HasPrefix(reply, "```") {
		reply = strings.TrimPrefix(reply, "```json")
		reply = strings.TrimPrefix(reply, "```")
		reply = strings.TrimSuffix(reply, "```")
	}
	return strings.TrimSpace(reply)
}

// Process 处理一个评估任务：计算分数并写入评估记录。
// 实现 kafka.TaskProcessor。写入失败由调用方记录，不做重试。
func (s *EvaluationService) Process(ctx context.Context, task tasks.EvaluationTask) error {
	score := s.Score(ctx, task.Question, task.GeneratedAnswer, task.RetrievedContext)

	record := model.EvaluationRecord{
		UserID:            task.UserID,
		Question:          task.Question,
		GeneratedAnswer:   task.GeneratedAnswer,
		RetrievedContext:  task.RetrievedContext,
		FaithfulnessScore: score,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}
	return s.repo.Insert(ctx, record)
}

// History 按插入顺序返回该用户的全部评估记录。
func (s *EvaluationService) History(ctx context.Context, userID string) ([]model.EvaluationRecord, error) {
	return s.repo.FindByUserID(ctx, userID)
}

// InProcessPublisher 在未配置 Kafka 时以后台协程直接处理评估任务。
type InProcessPublisher struct {
	processor *EvaluationService
}

// NewInProcessPublisher 创建一个进程内评估任务派发器。
func NewInProcessPublisher(processor *EvaluationService) *InProcessPublisher {
	return &InProcessPublisher{processor: processor}
}

// Publish 异步处理任务，永不阻塞回答路径。
func (p *InProcessPublisher) Publish(task tasks.EvaluationTask) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := p.processor.Process(ctx, task); err != nil {
			log.Errorf("[EvaluationService] 处理评估任务失败, user_id: %s, err: %v", task.UserID, err)
		}
	}()
	return nil
}
